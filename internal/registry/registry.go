// Package registry tracks the live availability of every reasoning and
// extraction provider and chooses which one serves a task.
//
// The status map is the only mutable state shared between pipeline runs. It is
// written by the background probe loop and synchronously by adapters that
// observe quota or credential failures; writes are last-writer-wins per
// provider.
package registry

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/polisai/polis-docintel/internal/schedule"
	"github.com/polisai/polis-docintel/pkg/domain"
)

// Config tunes how failures translate into unavailability windows.
type Config struct {
	// QuotaBackoff is how long a quota-exceeded provider is excluded.
	QuotaBackoff time.Duration
	// TimeoutThreshold is the number of consecutive timeouts that mark a
	// provider unavailable.
	TimeoutThreshold int
	// TimeoutCooldown is how long a provider tripped by timeouts is excluded.
	TimeoutCooldown time.Duration
	// ProbeTimeout bounds a single probe call.
	ProbeTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		QuotaBackoff:     time.Hour,
		TimeoutThreshold: 3,
		TimeoutCooldown:  5 * time.Minute,
		ProbeTimeout:     10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.QuotaBackoff <= 0 {
		c.QuotaBackoff = d.QuotaBackoff
	}
	if c.TimeoutThreshold <= 0 {
		c.TimeoutThreshold = d.TimeoutThreshold
	}
	if c.TimeoutCooldown <= 0 {
		c.TimeoutCooldown = d.TimeoutCooldown
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	return c
}

// StatusObserver is notified with a copy of a status after every change.
type StatusObserver func(domain.ProviderStatus)

// Registry holds the status of every known provider.
type Registry struct {
	mu       sync.RWMutex
	statuses map[string]*domain.ProviderStatus
	cfg      Config

	clock    schedule.Clock
	logger   *slog.Logger
	observer StatusObserver
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock injects the time source.
func WithClock(c schedule.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithObserver registers a status change observer.
func WithObserver(o StatusObserver) Option {
	return func(r *Registry) { r.observer = o }
}

// WithConfig overrides the failure policy.
func WithConfig(cfg Config) Option {
	return func(r *Registry) { r.cfg = cfg.withDefaults() }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		statuses: make(map[string]*domain.ProviderStatus),
		cfg:      DefaultConfig(),
		clock:    schedule.SystemClock{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Configure swaps the failure policy. Existing windows are left untouched.
func (r *Registry) Configure(cfg Config) {
	r.mu.Lock()
	r.cfg = cfg.withDefaults()
	r.mu.Unlock()
}

// Config returns the active failure policy.
func (r *Registry) Config() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Register adds or re-registers a provider. A provider without credentials
// stays permanently excluded until it is registered again as configured.
func (r *Registry) Register(id string, configured bool) {
	now := r.clock.Now()

	r.mu.Lock()
	prev, existed := r.statuses[id]
	st := &domain.ProviderStatus{
		ProviderID:    id,
		Configured:    configured,
		Available:     configured,
		LastCheckedAt: now,
	}
	if !configured {
		st.LastKnownErrorKind = domain.KindCredentialMissing
	} else if existed && prev.Configured {
		// Keep the live state of a provider that was already configured.
		st = prev
	}
	r.statuses[id] = st
	snapshot := *st
	r.mu.Unlock()

	if !configured && (!existed || prev.Configured) {
		r.logger.Warn("Provider credentials missing, provider excluded", "provider_id", id)
	}
	r.notify(snapshot)
}

// IsAvailable reports whether a provider may be selected now. A provider
// whose retry window has elapsed is re-opened on read.
func (r *Registry) IsAvailable(id string) bool {
	now := r.clock.Now()

	r.mu.RLock()
	st, ok := r.statuses[id]
	if !ok || !st.Configured {
		r.mu.RUnlock()
		return false
	}
	if st.Available {
		r.mu.RUnlock()
		return true
	}
	expired := st.RetryAfter != nil && !now.Before(*st.RetryAfter)
	r.mu.RUnlock()

	if !expired {
		return false
	}
	return r.reopen(id, now)
}

func (r *Registry) reopen(id string, now time.Time) bool {
	r.mu.Lock()
	st, ok := r.statuses[id]
	if !ok || !st.Configured {
		r.mu.Unlock()
		return false
	}
	if !st.Available {
		if st.RetryAfter == nil || now.Before(*st.RetryAfter) {
			r.mu.Unlock()
			return false
		}
		st.Available = true
		st.RetryAfter = nil
		st.ConsecutiveTimeouts = 0
	}
	snapshot := *st
	r.mu.Unlock()

	r.logger.Info("Provider retry window elapsed", "provider_id", id)
	r.notify(snapshot)
	return true
}

// MarkUnavailable excludes a provider. With a nil retryAfter the provider
// stays excluded until a probe re-qualifies it. Unregistered ids are ignored.
func (r *Registry) MarkUnavailable(id string, retryAfter *time.Time, kind domain.ErrorKind) {
	now := r.clock.Now()

	r.mu.Lock()
	st, ok := r.statuses[id]
	if !ok {
		r.mu.Unlock()
		r.logger.Debug("Ignoring status change for unregistered provider", "provider_id", id)
		return
	}
	st.Available = false
	st.LastCheckedAt = now
	st.LastKnownErrorKind = kind
	st.ConsecutiveTimeouts = 0
	if retryAfter != nil {
		t := *retryAfter
		st.RetryAfter = &t
	} else {
		st.RetryAfter = nil
	}
	snapshot := *st
	r.mu.Unlock()

	attrs := []any{"provider_id", id, "error_kind", kind}
	if retryAfter != nil {
		attrs = append(attrs, "retry_after", retryAfter.UTC().Format(time.RFC3339))
	}
	r.logger.Warn("Provider marked unavailable", attrs...)
	r.notify(snapshot)
}

// MarkAvailable re-qualifies a configured provider. Unregistered and
// unconfigured providers are left excluded, and an open retry window is
// never cut short.
func (r *Registry) MarkAvailable(id string) {
	now := r.clock.Now()

	r.mu.Lock()
	st, ok := r.statuses[id]
	if !ok || !st.Configured {
		r.mu.Unlock()
		return
	}
	if st.RetryAfter != nil && now.Before(*st.RetryAfter) {
		r.mu.Unlock()
		r.logger.Debug("Provider retry window still open", "provider_id", id,
			"retry_after", st.RetryAfter.UTC().Format(time.RFC3339))
		return
	}
	wasAvailable := st.Available
	st.Available = true
	st.RetryAfter = nil
	st.LastKnownErrorKind = domain.KindNone
	st.ConsecutiveTimeouts = 0
	st.LastCheckedAt = now
	snapshot := *st
	r.mu.Unlock()

	if !wasAvailable {
		r.logger.Info("Provider available", "provider_id", id)
	}
	r.notify(snapshot)
}

// RecordSuccess clears the timeout streak after a successful call.
func (r *Registry) RecordSuccess(id string) {
	r.mu.Lock()
	if st, ok := r.statuses[id]; ok {
		st.ConsecutiveTimeouts = 0
		st.LastCheckedAt = r.clock.Now()
	}
	r.mu.Unlock()
}

// RecordTimeout counts a timeout and reports whether the streak reached the
// threshold, in which case the provider is excluded for TimeoutCooldown.
func (r *Registry) RecordTimeout(id string) bool {
	now := r.clock.Now()

	r.mu.Lock()
	st, ok := r.statuses[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	st.ConsecutiveTimeouts++
	st.LastKnownErrorKind = domain.KindProviderTimeout
	st.LastCheckedAt = now
	if st.ConsecutiveTimeouts < r.cfg.TimeoutThreshold {
		r.mu.Unlock()
		return false
	}
	until := now.Add(r.cfg.TimeoutCooldown)
	st.Available = false
	st.RetryAfter = &until
	st.ConsecutiveTimeouts = 0
	snapshot := *st
	r.mu.Unlock()

	r.logger.Warn("Provider excluded after repeated timeouts",
		"provider_id", id,
		"retry_after", until.UTC().Format(time.RFC3339))
	r.notify(snapshot)
	return true
}

// Report applies the failure policy for an error observed on a real call and
// returns its classified kind.
func (r *Registry) Report(id string, err error) domain.ErrorKind {
	kind := domain.KindOf(err)
	switch kind {
	case domain.KindNone:
		r.RecordSuccess(id)
	case domain.KindQuotaExceeded:
		until := r.clock.Now().Add(r.Config().QuotaBackoff)
		r.MarkUnavailable(id, &until, kind)
	case domain.KindCredentialInvalid:
		r.MarkUnavailable(id, nil, kind)
	case domain.KindCredentialMissing:
		r.Register(id, false)
	case domain.KindProviderTimeout:
		r.RecordTimeout(id)
	default:
		r.logger.Debug("Provider call failed", "provider_id", id, "error_kind", kind, "error", err)
	}
	return kind
}

// SelectBestProvider returns the first available provider in preference
// order, or domain.FallbackProviderID when none is usable.
func (r *Registry) SelectBestProvider(task domain.TaskKind, preference []string) string {
	for _, id := range preference {
		if r.IsAvailable(id) {
			return id
		}
	}
	r.logger.Debug("No provider available", "task", task, "preference", preference)
	return domain.FallbackProviderID
}

// FallbackReason explains why none of the preferred providers can serve.
func (r *Registry) FallbackReason(preference []string) domain.FallbackReason {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range preference {
		if st, ok := r.statuses[id]; ok && st.Configured {
			return domain.FallbackProvidersUnavailable
		}
	}
	return domain.FallbackNoProviderConfigured
}

// Status returns a copy of a provider's status.
func (r *Registry) Status(id string) (domain.ProviderStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.statuses[id]
	if !ok {
		return domain.ProviderStatus{}, false
	}
	return copyStatus(st), true
}

// Snapshot returns copies of every status sorted by provider id.
func (r *Registry) Snapshot() []domain.ProviderStatus {
	r.mu.RLock()
	out := make([]domain.ProviderStatus, 0, len(r.statuses))
	for _, st := range r.statuses {
		out = append(out, copyStatus(st))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ProviderID < out[j].ProviderID })
	return out
}

func (r *Registry) notify(st domain.ProviderStatus) {
	if r.observer != nil {
		r.observer(st)
	}
}

func copyStatus(st *domain.ProviderStatus) domain.ProviderStatus {
	out := *st
	if st.RetryAfter != nil {
		t := *st.RetryAfter
		out.RetryAfter = &t
	}
	return out
}
