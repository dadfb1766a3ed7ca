package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"cloud.google.com/go/vertexai/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/polisai/polis-docintel/internal/provider"
	"github.com/polisai/polis-docintel/pkg/domain"
)

type fakeBackend struct {
	resp     *genai.GenerateContentResponse
	err      error
	system   string
	cfg      genai.GenerationConfig
	parts    []genai.Part
	probeErr error
}

func (f *fakeBackend) generate(_ context.Context, system string, cfg genai.GenerationConfig, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	f.system, f.cfg, f.parts = system, cfg, parts
	return f.resp, f.err
}

func (f *fakeBackend) countTokens(context.Context, ...genai.Part) error { return f.probeErr }
func (f *fakeBackend) close() error                                     { return nil }

func textResponse(texts ...string) *genai.GenerateContentResponse {
	parts := make([]genai.Part, 0, len(texts))
	for _, t := range texts {
		parts = append(parts, genai.Text(t))
	}
	return &genai.GenerateContentResponse{
		Candidates:    []*genai.Candidate{{Content: &genai.Content{Parts: parts}}},
		UsageMetadata: &genai.UsageMetadata{PromptTokenCount: 7, CandidatesTokenCount: 3},
	}
}

func TestGenerate(t *testing.T) {
	fb := &fakeBackend{resp: textResponse(`{"a":`, `1}`)}
	c := &Client{model: "gemini-test", backend: fb, logger: slog.Default()}

	resp, err := c.Generate(context.Background(), provider.Request{
		System:   "sys",
		Prompt:   "extract",
		JSON:     true,
		Document: &domain.Document{Bytes: []byte{0xff, 0xd8, 0xff}, MediaType: domain.MediaJPEG},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, resp.Text)
	assert.Equal(t, 7, resp.InputTokens)
	assert.Equal(t, "sys", fb.system)
	assert.Equal(t, "application/json", fb.cfg.ResponseMIMEType)
	require.Len(t, fb.parts, 2)
	blob, ok := fb.parts[0].(genai.Blob)
	require.True(t, ok)
	assert.Equal(t, "image/jpeg", blob.MIMEType)
}

func TestGenerateEmptyResponse(t *testing.T) {
	c := &Client{backend: &fakeBackend{resp: &genai.GenerateContentResponse{}}, logger: slog.Default()}
	_, err := c.Generate(context.Background(), provider.Request{Prompt: "x"})
	assert.Equal(t, domain.KindProviderFailure, domain.KindOf(err))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want domain.ErrorKind
	}{
		{status.Error(codes.ResourceExhausted, "quota"), domain.KindQuotaExceeded},
		{status.Error(codes.Unauthenticated, "no creds"), domain.KindCredentialInvalid},
		{status.Error(codes.PermissionDenied, "denied"), domain.KindCredentialInvalid},
		{status.Error(codes.DeadlineExceeded, "slow"), domain.KindProviderTimeout},
		{status.Error(codes.Unavailable, "down"), domain.KindProviderFailure},
		{fmt.Errorf("generate content: %w", status.Error(codes.ResourceExhausted, "quota")), domain.KindQuotaExceeded},
		{context.DeadlineExceeded, domain.KindProviderTimeout},
		{errors.New("boom"), domain.KindProviderFailure},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			pe := Classify(tt.err)
			assert.Equal(t, tt.want, pe.Kind)
			assert.Equal(t, ID, pe.Provider)
		})
	}
}

func TestGenerateClassifiesBackendErrors(t *testing.T) {
	c := &Client{backend: &fakeBackend{err: status.Error(codes.ResourceExhausted, "quota")}, logger: slog.Default()}
	_, err := c.Generate(context.Background(), provider.Request{Prompt: "x"})
	assert.True(t, errors.Is(err, domain.ErrQuotaExceeded))
}

func TestProbe(t *testing.T) {
	c := &Client{backend: &fakeBackend{}, logger: slog.Default()}
	assert.NoError(t, c.Probe(context.Background()))

	c = &Client{backend: &fakeBackend{probeErr: status.Error(codes.PermissionDenied, "no")}, logger: slog.Default()}
	assert.Equal(t, domain.KindCredentialInvalid, domain.KindOf(c.Probe(context.Background())))
}

func TestNewRequiresProject(t *testing.T) {
	_, err := New(context.Background(), Config{}, nil)
	assert.Equal(t, domain.KindCredentialMissing, domain.KindOf(err))
}
