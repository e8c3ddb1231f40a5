package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	audit "custody/pkg/platform/audit"
	txcontext "custody/pkg/platform/tx"
)

// Store persists custody trail events in the custody_events table. Appends
// join the caller's transaction when one is bound to the context.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	query := `
		INSERT INTO custody_events (
			id, category, occurred_at, entity_type, entity_id,
			action, actor, detail, request_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, query,
		uuid.New(),
		string(event.Category),
		event.Timestamp,
		event.EntityType,
		event.EntityID,
		event.Action,
		event.Actor,
		event.Detail,
		event.RequestID,
	)
	if err != nil {
		return fmt.Errorf("insert custody event: %w", err)
	}
	return nil
}

func (s *Store) ListByEntity(ctx context.Context, entityType, entityID string) ([]audit.Event, error) {
	query := `
		SELECT category, occurred_at, entity_type, entity_id,
			   action, actor, detail, request_id
		FROM custody_events
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY occurred_at ASC, seq ASC
	`
	rows, err := txcontext.ExecutorFrom(ctx, s.db).QueryContext(ctx, query, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("query custody events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			category string
			event    audit.Event
		)
		if err := rows.Scan(
			&category,
			&event.Timestamp,
			&event.EntityType,
			&event.EntityID,
			&event.Action,
			&event.Actor,
			&event.Detail,
			&event.RequestID,
		); err != nil {
			return nil, fmt.Errorf("scan custody event: %w", err)
		}
		event.Category = audit.EventCategory(category)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate custody events: %w", err)
	}
	return events, nil
}
