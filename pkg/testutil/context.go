package testutil

import (
	"context"
	"time"

	"custody/pkg/requestcontext"
)

// FixedContext returns a background context with a pinned clock.
func FixedContext(now time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), now)
}
