package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/polisai/polis-docintel/pkg/domain"
)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 8 << 20

// HTTPCaller performs JSON calls against one provider's HTTP API and
// classifies every failure at the boundary.
type HTTPCaller struct {
	ProviderID string
	Client     *http.Client
	Logger     *slog.Logger
}

// NewHTTPCaller creates an HTTPCaller. A nil client uses http.DefaultClient.
func NewHTTPCaller(providerID string, client *http.Client, logger *slog.Logger) *HTTPCaller {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPCaller{ProviderID: providerID, Client: client, Logger: logger}
}

// Do sends method to url with the JSON-encoded payload (nil for no body)
// and decodes a 2xx response into out (nil to discard it).
func (c *HTTPCaller) Do(ctx context.Context, method, url string, headers map[string]string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", c.ProviderID, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", c.ProviderID, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	reqID := uuid.NewString()
	start := time.Now()
	c.Logger.Debug("provider.http.request",
		"provider", c.ProviderID,
		"req_id", reqID,
		"method", method,
		"url", url,
	)

	resp, err := c.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", ctx.Err(), err)
		}
		return ClassifyTransport(c.ProviderID, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	elapsed := time.Since(start)
	c.Logger.Debug("provider.http.response",
		"provider", c.ProviderID,
		"req_id", reqID,
		"status", resp.StatusCode,
		"elapsed_ms", elapsed.Milliseconds(),
	)
	if err != nil {
		return ClassifyTransport(c.ProviderID, fmt.Errorf("read body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ClassifyHTTP(c.ProviderID, resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return domain.NewProviderError(c.ProviderID, domain.KindProviderFailure, resp.StatusCode, "undecodable response body", err)
	}
	return nil
}
