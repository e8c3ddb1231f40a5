package sweep

import (
	"context"
	"time"
)

// Worker runs a Sweeper on a fixed interval.
type Worker struct {
	sweeper  *Sweeper
	interval time.Duration
}

func NewWorker(sweeper *Sweeper, interval time.Duration) *Worker {
	return &Worker{sweeper: sweeper, interval: interval}
}

// Run sweeps once immediately and then on every tick until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.sweeper.Sweep(ctx)
	for {
		select {
		case <-ticker.C:
			w.sweeper.Sweep(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
