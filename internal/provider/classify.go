package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/polisai/polis-docintel/pkg/domain"
)

// errorEnvelope covers the error bodies of OpenAI-compatible and Anthropic
// style APIs:
//
//	{"error": {"message": "...", "type": "insufficient_quota", "code": "insufficient_quota"}}
//	{"type": "error", "error": {"type": "rate_limit_error", "message": "..."}}
type errorEnvelope struct {
	Error struct {
		Message string          `json:"message"`
		Type    string          `json:"type"`
		Code    json.RawMessage `json:"code"`
	} `json:"error"`
}

var quotaCodes = map[string]bool{
	"insufficient_quota":   true,
	"rate_limit_exceeded":  true,
	"rate_limit_error":     true,
	"quota_exceeded":       true,
	"tokens_exceeded":      true,
	"billing_hard_limit":   true,
	"requests_limit_error": true,
}

var credentialCodes = map[string]bool{
	"invalid_api_key":      true,
	"authentication_error": true,
	"permission_error":     true,
	"invalid_request_key":  true,
	"account_deactivated":  true,
}

// ClassifyHTTP maps a non-2xx response into a classified provider error,
// using the status code first and the structured error type/code second.
func ClassifyHTTP(providerID string, status int, body []byte) *domain.ProviderError {
	var env errorEnvelope
	_ = json.Unmarshal(body, &env)

	code := ""
	if len(env.Error.Code) > 0 {
		var s string
		if json.Unmarshal(env.Error.Code, &s) == nil {
			code = s
		}
	}

	msg := env.Error.Message
	if msg == "" {
		msg = http.StatusText(status)
	}

	kind := kindForStatus(status)
	if kind == domain.KindProviderFailure {
		switch {
		case quotaCodes[code] || quotaCodes[env.Error.Type]:
			kind = domain.KindQuotaExceeded
		case credentialCodes[code] || credentialCodes[env.Error.Type]:
			kind = domain.KindCredentialInvalid
		}
	}

	pe := domain.NewProviderError(providerID, kind, status, msg, nil)
	pe.Code = code
	if pe.Code == "" {
		pe.Code = env.Error.Type
	}
	return pe
}

func kindForStatus(status int) domain.ErrorKind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.KindCredentialInvalid
	case http.StatusTooManyRequests, http.StatusPaymentRequired:
		return domain.KindQuotaExceeded
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return domain.KindProviderTimeout
	}
	return domain.KindProviderFailure
}

// ClassifyTransport maps a transport-level failure (no HTTP status) into a
// provider error.
func ClassifyTransport(providerID string, err error) *domain.ProviderError {
	kind := domain.KindProviderFailure

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = domain.KindProviderTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = domain.KindProviderTimeout
	}
	return domain.NewProviderError(providerID, kind, 0, "", err)
}
