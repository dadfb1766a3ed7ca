package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind is the fixed taxonomy every provider failure is mapped into.
type ErrorKind string

// Error kinds understood by the registry and the adapters.
const (
	KindNone              ErrorKind = ""
	KindCredentialMissing ErrorKind = "CredentialMissing"
	KindCredentialInvalid ErrorKind = "CredentialInvalid"
	KindQuotaExceeded     ErrorKind = "QuotaExceeded"
	KindProviderTimeout   ErrorKind = "ProviderTimeout"
	KindParseError        ErrorKind = "ParseError"
	KindValidationError   ErrorKind = "ValidationError"
	KindProviderFailure   ErrorKind = "ProviderFailure"
)

// Common domain errors
var (
	ErrCredentialMissing = errors.New("provider credentials not configured")
	ErrCredentialInvalid = errors.New("provider credentials rejected")
	ErrQuotaExceeded     = errors.New("provider quota exceeded")
	ErrProviderTimeout   = errors.New("provider call timed out")
	ErrParse             = errors.New("provider response could not be parsed")
	ErrValidation        = errors.New("invalid input")
	ErrProviderFailure   = errors.New("provider call failed")
	ErrRunNotFound       = errors.New("pipeline run not found")
	ErrConfigInvalid     = errors.New("invalid configuration")
)

var kindSentinels = map[ErrorKind]error{
	KindCredentialMissing: ErrCredentialMissing,
	KindCredentialInvalid: ErrCredentialInvalid,
	KindQuotaExceeded:     ErrQuotaExceeded,
	KindProviderTimeout:   ErrProviderTimeout,
	KindParseError:        ErrParse,
	KindValidationError:   ErrValidation,
	KindProviderFailure:   ErrProviderFailure,
}

// Sentinel returns the sentinel error for the kind, or nil for KindNone.
func (k ErrorKind) Sentinel() error {
	return kindSentinels[k]
}

// ProviderError is a provider failure that has already been classified at the
// client boundary.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	// Status is the upstream HTTP status when one was observed.
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Provider, e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, msg)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel that corresponds to the error kind.
func (e *ProviderError) Is(target error) bool {
	sentinel := e.Kind.Sentinel()
	return sentinel != nil && target == sentinel
}

// NewProviderError builds a classified provider error.
func NewProviderError(provider string, kind ErrorKind, status int, message string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Status: status, Message: message, Err: err}
}

// ValidationError reports malformed caller input. It is the only error kind
// that crosses the pipeline boundary.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// KindOf classifies err into the taxonomy. Unclassified errors are
// ProviderFailure, except context deadlines which are ProviderTimeout.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	var pe *ProviderError
	if errors.As(err, &pe) && pe.Kind != KindNone {
		return pe.Kind
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return KindValidationError
	}

	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindProviderTimeout
	}
	return KindProviderFailure
}

// IsValidationError reports whether err is caller input validation failure.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// ErrorResponse defines the standard JSON error model returned by the HTTP surface.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}
