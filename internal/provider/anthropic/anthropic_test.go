package anthropic

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-docintel/internal/provider"
	"github.com/polisai/polis-docintel/internal/provider/providertest"
	"github.com/polisai/polis-docintel/pkg/domain"
)

func TestGenerate(t *testing.T) {
	up := providertest.NewUpstream(providertest.StyleAnthropic, providertest.Reply{Text: `{"isValid":true}`})
	t.Cleanup(up.Close)

	c := New(Config{BaseURL: up.URL, APIKey: "ak"}, up.Client(), nil)
	resp, err := c.Generate(context.Background(), provider.Request{
		System:   "check compliance",
		Prompt:   "data",
		JSON:     true,
		Document: &domain.Document{Bytes: []byte("%PDF-1.7"), MediaType: domain.MediaPDF},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"isValid":true}`, resp.Text)
	assert.Equal(t, 5, resp.OutputTokens)

	h := up.Headers()[0]
	assert.Equal(t, "ak", h.Get("x-api-key"))
	assert.Equal(t, apiVersion, h.Get("anthropic-version"))

	body := up.Requests()[0]
	assert.Contains(t, body["system"], "JSON")
	assert.EqualValues(t, defaultMaxTokens, body["max_tokens"])
	content := body["messages"].([]any)[0].(map[string]any)["content"].([]any)
	require.Len(t, content, 2)
	assert.Equal(t, "document", content[0].(map[string]any)["type"])
	assert.Equal(t, "application/pdf", content[0].(map[string]any)["source"].(map[string]any)["media_type"])
	assert.Equal(t, "data", content[1].(map[string]any)["text"])
}

func TestGenerateClassifiesErrors(t *testing.T) {
	tests := []struct {
		name  string
		reply providertest.Reply
		want  domain.ErrorKind
	}{
		{"rate limit", providertest.Reply{Status: http.StatusTooManyRequests, Body: providertest.AnthropicRateBody}, domain.KindQuotaExceeded},
		{"auth", providertest.Reply{Status: http.StatusUnauthorized, Body: `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`}, domain.KindCredentialInvalid},
		{"overloaded", providertest.Reply{Status: 529, Body: `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`}, domain.KindProviderFailure},
		{"empty content", providertest.Reply{Body: `{"content":[]}`}, domain.KindProviderFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := providertest.NewUpstream(providertest.StyleAnthropic, tt.reply)
			t.Cleanup(up.Close)

			c := New(Config{BaseURL: up.URL, APIKey: "ak"}, up.Client(), nil)
			_, err := c.Generate(context.Background(), provider.Request{Prompt: "x"})
			assert.Equal(t, tt.want, domain.KindOf(err))
		})
	}
}

func TestProbe(t *testing.T) {
	up := providertest.NewUpstream(providertest.StyleAnthropic)
	t.Cleanup(up.Close)

	c := New(Config{BaseURL: up.URL, APIKey: "ak"}, up.Client(), nil)
	require.NoError(t, c.Probe(context.Background()))
	assert.Equal(t, 1, up.Probes())
}
