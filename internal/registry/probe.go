package registry

import (
	"context"
	"time"

	"github.com/polisai/polis-docintel/internal/schedule"
	"github.com/polisai/polis-docintel/pkg/domain"
)

// Prober issues a minimal-cost call against a provider.
type Prober interface {
	Probe(ctx context.Context, providerID string) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, providerID string) error

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context, providerID string) error {
	return f(ctx, providerID)
}

// StartProbing schedules ProbeAll on the given interval. The returned handle
// stops the loop.
func (r *Registry) StartProbing(ctx context.Context, s schedule.Scheduler, interval time.Duration, p Prober) schedule.Handle {
	r.logger.Info("Provider probe loop started", "interval", interval.String())
	return s.Every(ctx, interval, func(ctx context.Context) {
		r.ProbeAll(ctx, p)
	})
}

// ProbeAll probes every configured provider whose retry window is not still
// open. Probe failures are recorded as unavailability and never returned.
func (r *Registry) ProbeAll(ctx context.Context, p Prober) {
	for _, id := range r.probeCandidates() {
		if ctx.Err() != nil {
			return
		}
		r.probeOne(ctx, p, id)
	}
}

func (r *Registry) probeCandidates() []string {
	now := r.clock.Now()

	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.statuses))
	for id, st := range r.statuses {
		if !st.Configured {
			continue
		}
		if st.RetryAfter != nil && now.Before(*st.RetryAfter) {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) probeOne(ctx context.Context, p Prober, id string) {
	probeCtx, cancel := context.WithTimeout(ctx, r.Config().ProbeTimeout)
	defer cancel()

	err := p.Probe(probeCtx, id)
	if err == nil {
		r.MarkAvailable(id)
		return
	}
	if ctx.Err() != nil {
		// Shutdown, not a provider failure.
		return
	}

	kind := domain.KindOf(err)
	r.logger.Debug("Provider probe failed", "provider_id", id, "error_kind", kind, "error", err)

	switch kind {
	case domain.KindQuotaExceeded:
		until := r.clock.Now().Add(r.Config().QuotaBackoff)
		r.MarkUnavailable(id, &until, kind)
	case domain.KindCredentialMissing:
		r.Register(id, false)
	default:
		r.MarkUnavailable(id, nil, kind)
	}
}
