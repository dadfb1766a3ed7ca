// Package gemini implements a Vertex AI Gemini provider.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/polisai/polis-docintel/internal/provider"
	"github.com/polisai/polis-docintel/pkg/domain"
)

// ID is the provider id used in preferences and results.
const ID = "gemini"

const defaultModel = "gemini-1.5-flash"

// Config configures the client.
type Config struct {
	ProjectID string
	Region    string
	Model     string
}

// backend is the subset of the genai model surface the provider uses.
type backend interface {
	generate(ctx context.Context, system string, cfg genai.GenerationConfig, parts ...genai.Part) (*genai.GenerateContentResponse, error)
	countTokens(ctx context.Context, parts ...genai.Part) error
	close() error
}

// Client is a Vertex AI Gemini provider.
type Client struct {
	model   string
	backend backend
	logger  *slog.Logger
}

// New connects to Vertex AI. A missing project is reported as
// CredentialMissing so the registry excludes the provider.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ProjectID == "" || cfg.Region == "" {
		return nil, domain.NewProviderError(ID, domain.KindCredentialMissing, 0, "project and region are required", nil)
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}

	client, err := genai.NewClient(ctx, cfg.ProjectID, cfg.Region)
	if err != nil {
		return nil, domain.NewProviderError(ID, domain.KindCredentialMissing, 0, "genai.NewClient", err)
	}
	return &Client{
		model:   cfg.Model,
		backend: &vertexBackend{client: client, model: cfg.Model},
		logger:  logger,
	}, nil
}

// ID returns the provider id.
func (c *Client) ID() string { return ID }

// SupportsMedia reports whether a document can be attached.
func (c *Client) SupportsMedia(mt domain.MediaType) bool {
	return mt.IsImage() || mt == domain.MediaPDF || mt == domain.MediaText
}

// Generate performs one GenerateContent call.
func (c *Client) Generate(ctx context.Context, req provider.Request) (provider.Response, error) {
	gcfg := genai.GenerationConfig{Temperature: genai.Ptr(req.Temperature)}
	if req.JSON {
		gcfg.ResponseMIMEType = "application/json"
	}
	if req.MaxTokens > 0 {
		gcfg.MaxOutputTokens = genai.Ptr(int32(req.MaxTokens))
	}

	var parts []genai.Part
	if doc := req.Document; doc != nil && len(doc.Bytes) > 0 {
		if doc.MediaType == domain.MediaText {
			parts = append(parts, genai.Text(string(doc.Bytes)))
		} else {
			parts = append(parts, genai.Blob{MIMEType: string(doc.MediaType), Data: doc.Bytes})
		}
	}
	parts = append(parts, genai.Text(req.Prompt))

	resp, err := c.backend.generate(ctx, req.System, gcfg, parts...)
	if err != nil {
		pe := Classify(err)
		c.logger.Debug("gemini generate failed", "provider_id", ID, "error_kind", pe.Kind, "error", err)
		return provider.Response{}, pe
	}

	text := extractText(resp)
	if text == "" {
		return provider.Response{}, domain.NewProviderError(ID, domain.KindProviderFailure, 0, "no text in response", nil)
	}

	out := provider.Response{Text: text, Model: c.model}
	if resp.UsageMetadata != nil {
		out.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

// Probe counts tokens for a one-word prompt, the cheapest authenticated call.
func (c *Client) Probe(ctx context.Context) error {
	if err := c.backend.countTokens(ctx, genai.Text("ping")); err != nil {
		return Classify(err)
	}
	return nil
}

// Close releases the underlying client.
func (c *Client) Close() error {
	return c.backend.close()
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String()
}

// Classify maps a Vertex AI error into the domain taxonomy using its gRPC
// status code.
func Classify(err error) *domain.ProviderError {
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewProviderError(ID, domain.KindProviderTimeout, 0, "", err)
	}

	st, ok := status.FromError(err)
	if !ok {
		return domain.NewProviderError(ID, domain.KindProviderFailure, 0, "", err)
	}

	kind := domain.KindProviderFailure
	switch st.Code() {
	case codes.ResourceExhausted:
		kind = domain.KindQuotaExceeded
	case codes.Unauthenticated, codes.PermissionDenied:
		kind = domain.KindCredentialInvalid
	case codes.DeadlineExceeded:
		kind = domain.KindProviderTimeout
	}
	pe = domain.NewProviderError(ID, kind, 0, st.Message(), err)
	pe.Code = st.Code().String()
	return pe
}

type vertexBackend struct {
	client *genai.Client
	model  string
}

func (b *vertexBackend) generate(ctx context.Context, system string, cfg genai.GenerationConfig, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	model := b.client.GenerativeModel(b.model)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	model.GenerationConfig = cfg
	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	return resp, nil
}

func (b *vertexBackend) countTokens(ctx context.Context, parts ...genai.Part) error {
	_, err := b.client.GenerativeModel(b.model).CountTokens(ctx, parts...)
	return err
}

func (b *vertexBackend) close() error {
	return b.client.Close()
}
