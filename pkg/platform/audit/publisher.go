package audit

import (
	"context"
	"log/slog"

	"custody/pkg/requestcontext"
)

// Publisher appends custody trail events. Writes happen inside the caller's
// unit of work, so a failed append fails the business operation.
type Publisher struct {
	store  Store
	logger *slog.Logger
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger mirrors every appended event to the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(store Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit stamps and appends an event. Category is derived from the action.
func (p *Publisher) Emit(ctx context.Context, action Action, entityType, entityID, detail string) error {
	event := Event{
		Category:   action.Category(),
		Timestamp:  requestcontext.Now(ctx),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     string(action),
		Actor:      requestcontext.Actor(ctx),
		Detail:     detail,
		RequestID:  requestcontext.RequestID(ctx),
	}
	if p.logger != nil {
		p.logger.InfoContext(ctx, event.Action,
			"log_type", "audit",
			"category", event.Category,
			"entity_type", entityType,
			"entity_id", entityID,
			"actor", event.Actor,
			"detail", detail,
			"request_id", event.RequestID,
		)
	}
	return p.store.Append(ctx, event)
}

// Trail returns the recorded events for one entity, oldest first.
func (p *Publisher) Trail(ctx context.Context, entityType, entityID string) ([]Event, error) {
	return p.store.ListByEntity(ctx, entityType, entityID)
}
