package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"custody/pkg/platform/circuit"
)

const defaultTrialInterval = 30 * time.Second

// Notifier delivers one alert message.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Fallback sends through primary and routes to fallback when primary fails.
// After repeated failures the circuit opens: primary is then only tried once
// per trial interval and every alert also goes to fallback until primary has
// recovered.
type Fallback struct {
	primary       Notifier
	fallback      Notifier
	breaker       *circuit.Breaker
	logger        *slog.Logger
	trialInterval time.Duration
	now           func() time.Time

	mu        sync.Mutex
	lastTrial time.Time
}

type FallbackOption func(*Fallback)

func WithTrialInterval(d time.Duration) FallbackOption {
	return func(f *Fallback) {
		if d > 0 {
			f.trialInterval = d
		}
	}
}

func WithLogger(logger *slog.Logger) FallbackOption {
	return func(f *Fallback) {
		f.logger = logger
	}
}

func NewFallback(primary, fallback Notifier, breaker *circuit.Breaker, opts ...FallbackOption) *Fallback {
	f := &Fallback{
		primary:       primary,
		fallback:      fallback,
		breaker:       breaker,
		logger:        slog.Default(),
		trialInterval: defaultTrialInterval,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fallback) Notify(ctx context.Context, message string) error {
	if f.breaker.IsOpen() && !f.trialDue() {
		return f.fallback.Notify(ctx, message)
	}

	if err := f.primary.Notify(ctx, message); err != nil {
		_, change := f.breaker.RecordFailure()
		if change.Opened {
			f.logger.WarnContext(ctx, "alert notifier circuit opened", "breaker", f.breaker.Name(), "error", err)
		}
		return f.fallback.Notify(ctx, message)
	}

	usePrimary, change := f.breaker.RecordSuccess()
	if change.Closed {
		f.logger.InfoContext(ctx, "alert notifier circuit closed", "breaker", f.breaker.Name())
	}
	if !usePrimary {
		return f.fallback.Notify(ctx, message)
	}
	return nil
}

func (f *Fallback) trialDue() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	if now.Sub(f.lastTrial) < f.trialInterval {
		return false
	}
	f.lastTrial = now
	return true
}
