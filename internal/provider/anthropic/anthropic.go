// Package anthropic implements the Anthropic Messages API provider.
package anthropic

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/polisai/polis-docintel/internal/provider"
	"github.com/polisai/polis-docintel/pkg/domain"
)

// ID is the provider id used in preferences and results.
const ID = "anthropic"

const (
	defaultBaseURL   = "https://api.anthropic.com"
	defaultModel     = "claude-3-5-haiku-latest"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 2048
)

// Config configures the client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
}

// Client is an Anthropic Messages provider.
type Client struct {
	cfg    Config
	caller *provider.HTTPCaller
}

// New creates a Client. httpClient may be nil.
func New(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	return &Client{cfg: cfg, caller: provider.NewHTTPCaller(ID, httpClient, logger)}
}

// ID returns the provider id.
func (c *Client) ID() string { return ID }

// SupportsMedia reports whether a document can be attached.
func (c *Client) SupportsMedia(mt domain.MediaType) bool {
	return mt.IsImage() || mt == domain.MediaPDF || mt == domain.MediaText
}

type messagesRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float32   `json:"temperature"`
	Messages    []message `json:"messages"`
}

type message struct {
	Role    string  `json:"role"`
	Content []block `json:"content"`
}

type block struct {
	Type   string  `json:"type"`
	Text   string  `json:"text,omitempty"`
	Source *source `json:"source,omitempty"`
}

type source struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type messagesResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *Client) headers() map[string]string {
	return map[string]string{
		"x-api-key":         c.cfg.APIKey,
		"anthropic-version": apiVersion,
	}
}

// Generate performs one Messages call.
func (c *Client) Generate(ctx context.Context, req provider.Request) (provider.Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	system := req.System
	if req.JSON {
		system = strings.TrimSpace(system + "\nRespond with a single JSON value and nothing else.")
	}

	body := messagesRequest{
		Model:       c.cfg.Model,
		System:      system,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Messages:    []message{{Role: "user", Content: contentBlocks(req)}},
	}

	var out messagesResponse
	if err := c.caller.Do(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/messages", c.headers(), body, &out); err != nil {
		return provider.Response{}, err
	}

	var sb strings.Builder
	for _, b := range out.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	if sb.Len() == 0 {
		return provider.Response{}, domain.NewProviderError(ID, domain.KindProviderFailure, http.StatusOK, "no text content in response", nil)
	}

	return provider.Response{
		Text:         sb.String(),
		Model:        out.Model,
		InputTokens:  out.Usage.InputTokens,
		OutputTokens: out.Usage.OutputTokens,
	}, nil
}

func contentBlocks(req provider.Request) []block {
	var blocks []block
	if doc := req.Document; doc != nil && len(doc.Bytes) > 0 {
		switch {
		case doc.MediaType.IsImage():
			blocks = append(blocks, block{Type: "image", Source: base64Source(doc)})
		case doc.MediaType == domain.MediaPDF:
			blocks = append(blocks, block{Type: "document", Source: base64Source(doc)})
		default:
			blocks = append(blocks, block{Type: "text", Text: string(doc.Bytes)})
		}
	}
	return append(blocks, block{Type: "text", Text: req.Prompt})
}

func base64Source(doc *domain.Document) *source {
	return &source{
		Type:      "base64",
		MediaType: string(doc.MediaType),
		Data:      base64.StdEncoding.EncodeToString(doc.Bytes),
	}
}

// Probe lists models, which is authenticated and free.
func (c *Client) Probe(ctx context.Context) error {
	return c.caller.Do(ctx, http.MethodGet, c.cfg.BaseURL+"/v1/models", c.headers(), nil, nil)
}
