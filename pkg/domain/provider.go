package domain

import "time"

// FallbackProviderID is reported as the provider of every synthesized result.
const FallbackProviderID = "fallback"

// ProviderStatus is the registry's view of one provider.
//
// Available=false implies RetryAfter is set, or the provider was never
// successfully initialized, or it is waiting for a probe to re-qualify it.
type ProviderStatus struct {
	ProviderID          string     `json:"providerId"`
	Available           bool       `json:"available"`
	Configured          bool       `json:"configured"`
	LastCheckedAt       time.Time  `json:"lastCheckedAt"`
	RetryAfter          *time.Time `json:"retryAfter,omitempty"`
	LastKnownErrorKind  ErrorKind  `json:"lastKnownErrorKind,omitempty"`
	ConsecutiveTimeouts int        `json:"consecutiveTimeouts,omitempty"`
}

// FallbackReason explains why a stage result was synthesized. It separates
// "never configured" from "temporarily exhausted" so the two can be alerted
// on independently.
type FallbackReason string

// Fallback reasons.
const (
	FallbackNone                 FallbackReason = ""
	FallbackNoProviderConfigured FallbackReason = "no_provider_configured"
	FallbackProvidersUnavailable FallbackReason = "providers_unavailable"
	FallbackProviderErrors       FallbackReason = "provider_errors"
)
