package governance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PacerConfig defines the minimum spacing between calls to one provider.
type PacerConfig struct {
	// MinSpacing is the minimum delay between the start of two calls.
	// Zero disables pacing for the provider.
	MinSpacing time.Duration
}

// Pacer serializes calls per provider. Each provider owns its own limiter, so
// waiting on one provider never blocks another.
type Pacer struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	config   map[string]PacerConfig
}

// NewPacer creates a pacer with the provided per-provider configuration.
func NewPacer(config map[string]PacerConfig) *Pacer {
	p := &Pacer{
		limiters: make(map[string]*rate.Limiter),
		config:   make(map[string]PacerConfig),
	}
	p.Configure(config)
	return p
}

// Configure updates per-provider spacing. Existing limiters are retuned in
// place so queued waiters keep their position.
func (p *Pacer) Configure(config map[string]PacerConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.config = make(map[string]PacerConfig, len(config))
	limiters := make(map[string]*rate.Limiter, len(config))
	for id, cfg := range config {
		p.config[id] = cfg
		if cfg.MinSpacing <= 0 {
			continue
		}
		if l, exists := p.limiters[id]; exists {
			l.SetLimit(rate.Every(cfg.MinSpacing))
			limiters[id] = l
			continue
		}
		limiters[id] = rate.NewLimiter(rate.Every(cfg.MinSpacing), 1)
	}
	p.limiters = limiters
}

// Wait blocks until the provider's next call slot or until ctx is done.
// Providers without pacing return immediately.
func (p *Pacer) Wait(ctx context.Context, providerID string) error {
	p.mu.RLock()
	l, ok := p.limiters[providerID]
	p.mu.RUnlock()

	if !ok {
		return ctx.Err()
	}
	if err := l.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("pacing %s: %w", providerID, ctxErr)
		}
		// rate rejects a wait that would overrun the deadline before it happens.
		return fmt.Errorf("pacing %s: %w (%v)", providerID, context.DeadlineExceeded, err)
	}
	return nil
}

// PacerStats exposes the current pacing state of one provider.
type PacerStats struct {
	MinSpacing string  `json:"minSpacing"`
	Tokens     float64 `json:"tokens"`
}

// Stats returns pacing statistics for all paced providers.
func (p *Pacer) Stats() map[string]PacerStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := make(map[string]PacerStats, len(p.limiters))
	for id, l := range p.limiters {
		stats[id] = PacerStats{
			MinSpacing: p.config[id].MinSpacing.String(),
			Tokens:     l.Tokens(),
		}
	}
	return stats
}
