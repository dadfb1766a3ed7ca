package governance

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrCallTimeout is returned when a provider call exceeds its deadline.
var ErrCallTimeout = errors.New("provider call timeout exceeded")

// TimeoutConfig defines timeout behavior for provider calls.
type TimeoutConfig struct {
	// CallTimeout is the maximum duration of one provider call, pacing included.
	CallTimeout time.Duration
}

// DefaultTimeoutConfig returns sensible timeout defaults.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{CallTimeout: 30 * time.Second}
}

// TimeoutManager enforces the call timeout.
type TimeoutManager struct {
	config TimeoutConfig
}

// NewTimeoutManager creates a timeout manager with the given configuration.
func NewTimeoutManager(config TimeoutConfig) *TimeoutManager {
	if config.CallTimeout <= 0 {
		config.CallTimeout = DefaultTimeoutConfig().CallTimeout
	}
	return &TimeoutManager{config: config}
}

// Config returns a copy of the current timeout configuration.
func (tm *TimeoutManager) Config() TimeoutConfig {
	return tm.config
}

// WithCallTimeout derives a context bounded by the call timeout.
func (tm *TimeoutManager) WithCallTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, tm.config.CallTimeout)
}

// Run executes fn under the call timeout. When the deadline fires the returned
// error wraps both ErrCallTimeout and context.DeadlineExceeded, whatever fn
// itself returned.
func (tm *TimeoutManager) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx, cancel := tm.WithCallTimeout(ctx)
	defer cancel()

	err := fn(callCtx)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w after %s: %w", ErrCallTimeout, tm.config.CallTimeout, context.DeadlineExceeded)
	}
	return err
}
