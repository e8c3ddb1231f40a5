// Package notify delivers chain-of-custody sweep alerts.
package notify

import (
	"context"
	"log/slog"
)

// Log writes alerts to a logger. It is the notifier used when no broker is
// configured and never fails.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (n *Log) Notify(ctx context.Context, message string) error {
	n.logger.WarnContext(ctx, message, "log_type", "coc_alert")
	return nil
}
