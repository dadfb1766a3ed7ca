package openai

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
	up := providertest.NewUpstream(providertest.StyleOpenAI, providertest.Reply{Text: `{"invoiceNumber":"INV-1"}`})
	t.Cleanup(up.Close)

	c := New(Config{BaseURL: up.URL, APIKey: "sk-test", Model: "gpt-test"}, up.Client(), nil)
	resp, err := c.Generate(context.Background(), provider.Request{
		Task:     domain.TaskOCR,
		System:   "extract",
		Prompt:   "read this",
		JSON:     true,
		Document: &domain.Document{Bytes: []byte{0x89, 'P', 'N', 'G'}, MediaType: domain.MediaPNG},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"invoiceNumber":"INV-1"}`, resp.Text)
	assert.Equal(t, 10, resp.InputTokens)

	require.Len(t, up.Requests(), 1)
	body := up.Requests()[0]
	assert.Equal(t, "gpt-test", body["model"])
	assert.Equal(t, map[string]any{"type": "json_object"}, body["response_format"])
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	user := msgs[1].(map[string]any)["content"].([]any)
	image := user[1].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	assert.Contains(t, image, "data:image/png;base64,")
	assert.Equal(t, "Bearer sk-test", up.Headers()[0].Get("Authorization"))
}

func TestGenerateTextOnly(t *testing.T) {
	up := providertest.NewUpstream(providertest.StyleOpenAI, providertest.Reply{Text: "ok"})
	t.Cleanup(up.Close)

	c := New(Config{BaseURL: up.URL + "/", APIKey: "k"}, up.Client(), nil)
	_, err := c.Generate(context.Background(), provider.Request{Prompt: "hello"})
	require.NoError(t, err)

	msgs := up.Requests()[0]["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].(map[string]any)["content"])
	assert.Nil(t, up.Requests()[0]["response_format"])
}

func TestGenerateClassifiesErrors(t *testing.T) {
	tests := []struct {
		name  string
		reply providertest.Reply
		want  domain.ErrorKind
	}{
		{"rate limit", providertest.Reply{Status: http.StatusTooManyRequests, Body: providertest.RateLimitBody}, domain.KindQuotaExceeded},
		{"quota", providertest.Reply{Status: http.StatusTooManyRequests, Body: providertest.QuotaBody}, domain.KindQuotaExceeded},
		{"bad key", providertest.Reply{Status: http.StatusUnauthorized, Body: providertest.InvalidKeyBody}, domain.KindCredentialInvalid},
		{"upstream down", providertest.Reply{Status: http.StatusBadGateway}, domain.KindProviderFailure},
		{"no choices", providertest.Reply{Body: `{"choices":[]}`}, domain.KindProviderFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := providertest.NewUpstream(providertest.StyleOpenAI, tt.reply)
			t.Cleanup(up.Close)

			c := New(Config{BaseURL: up.URL, APIKey: "k"}, up.Client(), nil)
			_, err := c.Generate(context.Background(), provider.Request{Prompt: "x"})
			require.Error(t, err)
			assert.Equal(t, tt.want, domain.KindOf(err))
		})
	}
}

func TestProbe(t *testing.T) {
	up := providertest.NewUpstream(providertest.StyleOpenAI)
	t.Cleanup(up.Close)

	c := New(Config{BaseURL: up.URL, APIKey: "k"}, up.Client(), nil)
	require.NoError(t, c.Probe(context.Background()))

	up.FailProbes(http.StatusUnauthorized)
	assert.Equal(t, domain.KindCredentialInvalid, domain.KindOf(c.Probe(context.Background())))
	assert.Equal(t, 2, up.Probes())
	assert.Equal(t, 0, up.Hits())
}

func TestCustomID(t *testing.T) {
	c := New(Config{ID: "openrouter"}, nil, nil)
	assert.Equal(t, "openrouter", c.ID())
	assert.Equal(t, ID, New(Config{}, nil, nil).ID())
}
