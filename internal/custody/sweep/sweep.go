// Package sweep finds chain-of-custody forms that are overdue or about to
// lapse and sends one notification per finding. Sweeps only read forms, so
// concurrent or repeated runs are safe; delivery is at-least-once.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"custody/internal/custody/metrics"
	"custody/internal/custody/models"
	"custody/pkg/requestcontext"
)

const defaultConcurrency = 4

// Store lists the forms a sweep considers.
type Store interface {
	ListNonTerminalForms(ctx context.Context) ([]*models.Form, error)
}

// Notifier delivers one alert message. Implementations may block.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Report summarizes one sweep run.
type Report struct {
	Forms     int
	Alerts    int
	Delivered int
	Failed    int
}

type Sweeper struct {
	store       Store
	notifier    Notifier
	logger      *slog.Logger
	metrics     *metrics.Metrics
	concurrency int
}

type Option func(*Sweeper)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

// WithConcurrency bounds parallel notification sends.
func WithConcurrency(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func New(store Store, notifier Notifier, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:       store,
		notifier:    notifier,
		logger:      slog.Default(),
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Alerts classifies the current forms without sending anything.
func (s *Sweeper) Alerts(ctx context.Context) ([]Alert, error) {
	forms, err := s.store.ListNonTerminalForms(ctx)
	if err != nil {
		return nil, fmt.Errorf("list non-terminal forms: %w", err)
	}
	return Evaluate(forms, requestcontext.Now(ctx)), nil
}

// Messages is Alerts rendered as display strings.
func (s *Sweeper) Messages(ctx context.Context) ([]string, error) {
	alerts, err := s.Alerts(ctx)
	if err != nil {
		return nil, err
	}
	messages := make([]string, 0, len(alerts))
	for _, a := range alerts {
		messages = append(messages, a.Message)
	}
	return messages, nil
}

// Sweep classifies every non-terminal form and notifies once per alert.
// Failures are logged and counted, never returned.
func (s *Sweeper) Sweep(ctx context.Context) (report Report) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "coc sweep panicked", "panic", fmt.Sprint(r))
		}
		s.metrics.ObserveSweep(time.Since(start))
	}()

	forms, err := s.store.ListNonTerminalForms(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "coc sweep failed to list forms", "error", err)
		return report
	}
	alerts := Evaluate(forms, requestcontext.Now(ctx))
	report.Forms = len(forms)
	report.Alerts = len(alerts)

	var delivered, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, alert := range alerts {
		s.metrics.IncrementAlert(string(alert.Class))
		g.Go(func() error {
			if err := s.notify(gctx, alert.Message); err != nil {
				failed.Add(1)
				s.metrics.IncrementNotificationFailures()
				s.logger.WarnContext(gctx, "coc alert notification failed",
					"form_id", alert.FormID.String(),
					"class", string(alert.Class),
					"error", err,
				)
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	report.Delivered = int(delivered.Load())
	report.Failed = int(failed.Load())
	s.logger.InfoContext(ctx, "coc sweep finished",
		"forms", report.Forms,
		"alerts", report.Alerts,
		"delivered", report.Delivered,
		"failed", report.Failed,
	)
	return report
}

func (s *Sweeper) notify(ctx context.Context, message string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panicked: %v", r)
		}
	}()
	return s.notifier.Notify(ctx, message)
}
