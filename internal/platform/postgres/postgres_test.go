package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert asset: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("boom")))
	assert.False(t, IsUniqueViolation(nil))
}

func TestNullTimeRoundTrip(t *testing.T) {
	assert.False(t, NullTime(time.Time{}).Valid)
	assert.True(t, TimeOrZero(sql.NullTime{}).IsZero())

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, now, TimeOrZero(NullTime(now)))
}

func TestSchemaIsEmbedded(t *testing.T) {
	for _, table := range []string{"assets", "kits", "kit_assets", "manifests", "manifest_items", "coc_forms", "coc_signatures", "custody_events"} {
		assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
}
