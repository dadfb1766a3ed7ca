// Package dispatch routes one logical provider call through the availability
// registry: select the best provider, pace and bound the call, classify a
// failure, then re-select from what remains of the preference list.
package dispatch

import (
	"context"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/polisai/polis-docintel/internal/governance"
	"github.com/polisai/polis-docintel/internal/provider"
	"github.com/polisai/polis-docintel/internal/registry"
	"github.com/polisai/polis-docintel/pkg/domain"
)

// Preferences are the ordered provider lists per task kind.
type Preferences struct {
	OCR            []string `yaml:"ocr" toml:"ocr" json:"ocr"`
	Compliance     []string `yaml:"compliance" toml:"compliance" json:"compliance"`
	Classification []string `yaml:"classification" toml:"classification" json:"classification"`
}

// For returns the list for a task kind.
func (p Preferences) For(task domain.TaskKind) []string {
	switch task {
	case domain.TaskOCR:
		return p.OCR
	case domain.TaskCompliance:
		return p.Compliance
	case domain.TaskClassification:
		return p.Classification
	}
	return nil
}

// PreferenceStore holds the current preferences and is swapped atomically on
// configuration reload.
type PreferenceStore struct {
	p atomic.Pointer[Preferences]
}

// NewPreferenceStore creates a store holding p.
func NewPreferenceStore(p Preferences) *PreferenceStore {
	s := &PreferenceStore{}
	s.Store(p)
	return s
}

// Load returns the current preferences.
func (s *PreferenceStore) Load() Preferences {
	if p := s.p.Load(); p != nil {
		return *p
	}
	return Preferences{}
}

// Store replaces the preferences.
func (s *PreferenceStore) Store(p Preferences) {
	cp := Preferences{
		OCR:            slices.Clone(p.OCR),
		Compliance:     slices.Clone(p.Compliance),
		Classification: slices.Clone(p.Classification),
	}
	s.p.Store(&cp)
}

// Call outcomes reported to the observer.
const (
	OutcomeSuccess = "success"
	OutcomeSkipped = "skipped"
)

// CallObserver receives one event per provider attempt. outcome is
// OutcomeSuccess or the ErrorKind of the failure.
type CallObserver interface {
	ObserveProviderCall(providerID, outcome string, elapsed time.Duration)
}

// Outcome is the result of Call.
type Outcome struct {
	// ProviderID is the provider that answered, or "fallback".
	ProviderID string
	Response   provider.Response
	// Attempts counts providers actually called.
	Attempts int
	// Reason is set when no provider answered.
	Reason domain.FallbackReason
	// LastErr is the last provider error when Reason is FallbackProviderErrors.
	LastErr error
}

// OK reports whether a provider answered.
func (o Outcome) OK() bool {
	return o.ProviderID != "" && o.ProviderID != domain.FallbackProviderID
}

// Dispatcher performs provider calls with re-selection.
type Dispatcher struct {
	registry  *registry.Registry
	providers *provider.Set
	pacer     *governance.Pacer
	timeouts  *governance.TimeoutManager
	observer  CallObserver
	logger    *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithPacer sets per-provider pacing.
func WithPacer(p *governance.Pacer) Option { return func(d *Dispatcher) { d.pacer = p } }

// WithTimeouts sets the per-call timeout manager.
func WithTimeouts(t *governance.TimeoutManager) Option { return func(d *Dispatcher) { d.timeouts = t } }

// WithObserver sets the call observer.
func WithObserver(o CallObserver) Option { return func(d *Dispatcher) { d.observer = o } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(d *Dispatcher) { d.logger = l } }

// New creates a Dispatcher.
func New(reg *registry.Registry, providers *provider.Set, opts ...Option) *Dispatcher {
	d := &Dispatcher{registry: reg, providers: providers}
	for _, opt := range opts {
		opt(d)
	}
	if d.pacer == nil {
		d.pacer = governance.NewPacer(nil)
	}
	if d.timeouts == nil {
		d.timeouts = governance.NewTimeoutManager(governance.DefaultTimeoutConfig())
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Registry returns the registry the dispatcher consults.
func (d *Dispatcher) Registry() *registry.Registry { return d.registry }

// Call sends req to the best available provider of preference, moving down
// the list after each failure. Each provider is tried at most once.
func (d *Dispatcher) Call(ctx context.Context, task domain.TaskKind, preference []string, req provider.Request) Outcome {
	remaining := slices.Clone(preference)
	req.Task = task

	var (
		attempts int
		lastErr  error
	)
	for ctx.Err() == nil {
		id := d.registry.SelectBestProvider(task, remaining)
		if id == domain.FallbackProviderID {
			break
		}
		remaining = slices.DeleteFunc(remaining, func(s string) bool { return s == id })

		p, ok := d.providers.Get(id)
		if !ok {
			d.registry.Register(id, false)
			continue
		}
		if req.Document != nil && !p.SupportsMedia(req.Document.MediaType) {
			d.observe(id, OutcomeSkipped, 0)
			continue
		}

		attempts++
		resp, err := d.attempt(ctx, p, req)
		if err == nil {
			return Outcome{ProviderID: id, Response: resp, Attempts: attempts}
		}
		lastErr = err
	}

	out := Outcome{ProviderID: domain.FallbackProviderID, Attempts: attempts, LastErr: lastErr}
	if attempts > 0 {
		out.Reason = domain.FallbackProviderErrors
	} else {
		out.Reason = d.registry.FallbackReason(preference)
	}
	return out
}

func (d *Dispatcher) attempt(ctx context.Context, p provider.Provider, req provider.Request) (provider.Response, error) {
	id := p.ID()
	start := time.Now()

	var (
		resp  provider.Response
		paced bool
	)
	err := d.timeouts.Run(ctx, func(callCtx context.Context) error {
		if err := d.pacer.Wait(callCtx, id); err != nil {
			return err
		}
		paced = true
		var err error
		resp, err = p.Generate(callCtx, req)
		return err
	})
	if err != nil && !paced {
		// The provider was never reached, so the registry is not told.
		d.logger.Debug("Provider pacing interrupted", "provider_id", id, "error", err)
		return provider.Response{}, err
	}
	elapsed := time.Since(start)

	if err == nil {
		d.registry.RecordSuccess(id)
		d.observe(id, OutcomeSuccess, elapsed)
		return resp, nil
	}

	kind := d.registry.Report(id, err)
	d.observe(id, string(kind), elapsed)
	d.logger.Warn("Provider call failed",
		"provider_id", id,
		"task", req.Task,
		"error_kind", kind,
		"elapsed_ms", elapsed.Milliseconds(),
		"error", err,
	)
	return provider.Response{}, err
}

func (d *Dispatcher) observe(id, outcome string, elapsed time.Duration) {
	if d.observer != nil {
		d.observer.ObserveProviderCall(id, outcome, elapsed)
	}
}
