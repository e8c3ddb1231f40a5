package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custody/pkg/platform/circuit"
)

type countingNotifier struct {
	err      error
	messages []string
}

func (n *countingNotifier) Notify(_ context.Context, message string) error {
	n.messages = append(n.messages, message)
	return n.err
}

func newTestFallback(primary, fallback Notifier, clock *time.Time) *Fallback {
	f := NewFallback(primary, fallback,
		circuit.New("coc-alerts", circuit.WithFailureThreshold(2), circuit.WithSuccessThreshold(1)),
		WithTrialInterval(time.Minute),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	f.now = func() time.Time { return *clock }
	return f
}

func TestFallbackUsesPrimaryWhenHealthy(t *testing.T) {
	clock := time.Date(2026, 10, 7, 12, 0, 0, 0, time.UTC)
	primary, fallback := &countingNotifier{}, &countingNotifier{}
	f := newTestFallback(primary, fallback, &clock)

	require.NoError(t, f.Notify(context.Background(), "a"))
	assert.Equal(t, []string{"a"}, primary.messages)
	assert.Empty(t, fallback.messages)
}

func TestFallbackRoutesAroundFailingPrimary(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 10, 7, 12, 0, 0, 0, time.UTC)
	primary := &countingNotifier{err: errors.New("broker down")}
	fallback := &countingNotifier{}
	f := newTestFallback(primary, fallback, &clock)

	require.NoError(t, f.Notify(ctx, "a"))
	require.NoError(t, f.Notify(ctx, "b"))
	assert.True(t, f.breaker.IsOpen())

	// first trial after opening is due immediately, later ones wait
	require.NoError(t, f.Notify(ctx, "c"))
	require.NoError(t, f.Notify(ctx, "d"))
	assert.Equal(t, []string{"a", "b", "c"}, primary.messages)
	assert.Equal(t, []string{"a", "b", "c", "d"}, fallback.messages)

	primary.err = nil
	clock = clock.Add(2 * time.Minute)
	require.NoError(t, f.Notify(ctx, "e"))
	assert.False(t, f.breaker.IsOpen())
	assert.Equal(t, []string{"a", "b", "c", "e"}, primary.messages)
	assert.Equal(t, []string{"a", "b", "c", "d"}, fallback.messages)
}

func TestFallbackErrorPropagates(t *testing.T) {
	clock := time.Date(2026, 10, 7, 12, 0, 0, 0, time.UTC)
	f := newTestFallback(&countingNotifier{err: errors.New("broker down")}, &countingNotifier{err: errors.New("disk full")}, &clock)

	err := f.Notify(context.Background(), "a")
	assert.EqualError(t, err, "disk full")
}
