// Package openai implements an OpenAI-compatible chat-completions provider.
package openai

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
const ID = "openai"

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
)

// Config configures the client.
type Config struct {
	// ID overrides the provider id, for OpenAI-compatible gateways.
	ID      string
	BaseURL string
	APIKey  string
	Model   string
}

// Client is an OpenAI chat-completions provider.
type Client struct {
	id     string
	cfg    Config
	caller *provider.HTTPCaller
}

// New creates a Client. httpClient may be nil.
func New(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if cfg.ID == "" {
		cfg.ID = ID
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	return &Client{
		id:     cfg.ID,
		cfg:    cfg,
		caller: provider.NewHTTPCaller(cfg.ID, httpClient, logger),
	}
}

// ID returns the provider id.
func (c *Client) ID() string { return c.id }

// SupportsMedia reports whether a document can be attached.
func (c *Client) SupportsMedia(mt domain.MediaType) bool {
	return mt.IsImage() || mt == domain.MediaPDF || mt == domain.MediaText
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float32         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
	File     *filePart `json:"file,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type filePart struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *Client) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
}

// Generate performs one chat completion.
func (c *Client) Generate(ctx context.Context, req provider.Request) (provider.Response, error) {
	var messages []chatMessage
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userContent(req)})

	body := chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.JSON {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	var out chatResponse
	if err := c.caller.Do(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", c.headers(), body, &out); err != nil {
		return provider.Response{}, err
	}
	if len(out.Choices) == 0 {
		return provider.Response{}, domain.NewProviderError(c.id, domain.KindProviderFailure, http.StatusOK, "no choices in response", nil)
	}

	return provider.Response{
		Text:         out.Choices[0].Message.Content,
		Model:        out.Model,
		InputTokens:  out.Usage.PromptTokens,
		OutputTokens: out.Usage.CompletionTokens,
	}, nil
}

func userContent(req provider.Request) any {
	doc := req.Document
	if doc == nil || len(doc.Bytes) == 0 {
		return req.Prompt
	}

	parts := []contentPart{{Type: "text", Text: req.Prompt}}
	encoded := base64.StdEncoding.EncodeToString(doc.Bytes)
	switch {
	case doc.MediaType.IsImage():
		parts = append(parts, contentPart{
			Type:     "image_url",
			ImageURL: &imageURL{URL: "data:" + string(doc.MediaType) + ";base64," + encoded},
		})
	case doc.MediaType == domain.MediaPDF:
		parts = append(parts, contentPart{
			Type: "file",
			File: &filePart{Filename: "document.pdf", FileData: "data:application/pdf;base64," + encoded},
		})
	default:
		parts = append(parts, contentPart{Type: "text", Text: string(doc.Bytes)})
	}
	return parts
}

// Probe lists models, which is authenticated and free.
func (c *Client) Probe(ctx context.Context) error {
	return c.caller.Do(ctx, http.MethodGet, c.cfg.BaseURL+"/models", c.headers(), nil, nil)
}
