package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"custody/internal/manifest/models"
	"custody/internal/platform/postgres"
	id "custody/pkg/domain"
	"custody/pkg/platform/sentinel"
	txcontext "custody/pkg/platform/tx"
)

// PostgresStore persists manifests in manifests and manifest_items. Writes
// join the transaction bound to ctx when there is one.
type PostgresStore struct {
	db *sql.DB
	tx *txcontext.Postgres
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, tx: txcontext.NewPostgres(db)}
}

const manifestColumns = `id, manifest_number, status, from_facility_id, to_poll_site_id, election_id,
	kit_id, created_at, updated_at, packed_at, completed_at`

func (s *PostgresStore) Create(ctx context.Context, m *models.Manifest) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		exec := txcontext.ExecutorFrom(ctx, s.db)
		_, err := exec.ExecContext(ctx, `
			INSERT INTO manifests (`+manifestColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, manifestArgs(m)...)
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		if err != nil {
			return fmt.Errorf("insert manifest: %w", err)
		}
		return s.writeItems(ctx, exec, m)
	})
}

func (s *PostgresStore) FindByID(ctx context.Context, manifestID id.ManifestID) (*models.Manifest, error) {
	return s.findOne(ctx, `SELECT `+manifestColumns+` FROM manifests WHERE id = $1`, uuid.UUID(manifestID))
}

// FindByIDForUpdate row-locks the manifest for the rest of the transaction
// bound to ctx.
func (s *PostgresStore) FindByIDForUpdate(ctx context.Context, manifestID id.ManifestID) (*models.Manifest, error) {
	return s.findOne(ctx, `SELECT `+manifestColumns+` FROM manifests WHERE id = $1 FOR UPDATE`, uuid.UUID(manifestID))
}

func (s *PostgresStore) FindByNumber(ctx context.Context, number string) (*models.Manifest, error) {
	return s.findOne(ctx, `SELECT `+manifestColumns+` FROM manifests WHERE manifest_number = $1`, number)
}

func (s *PostgresStore) ListByElection(ctx context.Context, electionID id.ElectionID) ([]*models.Manifest, error) {
	exec := txcontext.ExecutorFrom(ctx, s.db)
	rows, err := exec.QueryContext(ctx, `
		SELECT `+manifestColumns+` FROM manifests WHERE election_id = $1 ORDER BY created_at, manifest_number
	`, uuid.UUID(electionID))
	if err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}
	defer rows.Close()

	var manifests []*models.Manifest
	for rows.Next() {
		m, err := scanManifest(rows)
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate manifests: %w", err)
	}
	for _, m := range manifests {
		if err := s.loadItems(ctx, exec, m); err != nil {
			return nil, err
		}
	}
	return manifests, nil
}

func (s *PostgresStore) Update(ctx context.Context, m *models.Manifest) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		exec := txcontext.ExecutorFrom(ctx, s.db)
		res, err := exec.ExecContext(ctx, `
			UPDATE manifests SET
				status = $2, kit_id = $3, updated_at = $4, packed_at = $5, completed_at = $6
			WHERE id = $1
		`, uuid.UUID(m.ID), string(m.Status), kitParam(m.KitID), m.UpdatedAt,
			postgres.NullTime(m.PackedAt), postgres.NullTime(m.CompletedAt))
		if err != nil {
			return fmt.Errorf("update manifest: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sentinel.ErrNotFound
		}
		if _, err := exec.ExecContext(ctx, `DELETE FROM manifest_items WHERE manifest_id = $1`, uuid.UUID(m.ID)); err != nil {
			return fmt.Errorf("clear manifest items: %w", err)
		}
		return s.writeItems(ctx, exec, m)
	})
}

func manifestArgs(m *models.Manifest) []any {
	return []any{
		uuid.UUID(m.ID), m.Number, string(m.Status),
		uuid.UUID(m.FromFacilityID), uuid.UUID(m.ToPollSiteID), uuid.UUID(m.ElectionID),
		kitParam(m.KitID), m.CreatedAt, m.UpdatedAt,
		postgres.NullTime(m.PackedAt), postgres.NullTime(m.CompletedAt),
	}
}

func kitParam(v id.KitID) uuid.NullUUID {
	return uuid.NullUUID{UUID: uuid.UUID(v), Valid: !v.IsNil()}
}

func (s *PostgresStore) findOne(ctx context.Context, query string, arg any) (*models.Manifest, error) {
	exec := txcontext.ExecutorFrom(ctx, s.db)
	m, err := scanManifest(exec.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, exec, m); err != nil {
		return nil, err
	}
	return m, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanManifest(row rowScanner) (*models.Manifest, error) {
	var (
		manifestID, from, to, election uuid.UUID
		kitID                          uuid.NullUUID
		status                         string
		packedAt, completedAt          sql.NullTime
		m                              models.Manifest
	)
	err := row.Scan(&manifestID, &m.Number, &status, &from, &to, &election,
		&kitID, &m.CreatedAt, &m.UpdatedAt, &packedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan manifest: %w", err)
	}
	m.ID = id.ManifestID(manifestID)
	m.Status = models.Status(status)
	m.FromFacilityID = id.FacilityID(from)
	m.ToPollSiteID = id.PollSiteID(to)
	m.ElectionID = id.ElectionID(election)
	m.KitID = id.KitID(kitID.UUID)
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	m.PackedAt = postgres.TimeOrZero(packedAt)
	m.CompletedAt = postgres.TimeOrZero(completedAt)
	return &m, nil
}

func (s *PostgresStore) loadItems(ctx context.Context, exec txcontext.Executor, m *models.Manifest) error {
	rows, err := exec.QueryContext(ctx, `
		SELECT asset_id, seal_number, is_packed, packed_by, packed_at
		FROM manifest_items WHERE manifest_id = $1 ORDER BY position
	`, uuid.UUID(m.ID))
	if err != nil {
		return fmt.Errorf("query manifest items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			assetID  uuid.UUID
			packedAt sql.NullTime
			it       models.Item
		)
		if err := rows.Scan(&assetID, &it.SealNumber, &it.IsPacked, &it.PackedBy, &packedAt); err != nil {
			return fmt.Errorf("scan manifest item: %w", err)
		}
		it.AssetID = id.AssetID(assetID)
		it.PackedAt = postgres.TimeOrZero(packedAt)
		m.Items = append(m.Items, &it)
	}
	return rows.Err()
}

func (s *PostgresStore) writeItems(ctx context.Context, exec txcontext.Executor, m *models.Manifest) error {
	for pos, it := range m.Items {
		_, err := exec.ExecContext(ctx, `
			INSERT INTO manifest_items (manifest_id, position, asset_id, seal_number, is_packed, packed_by, packed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, uuid.UUID(m.ID), pos, uuid.UUID(it.AssetID), it.SealNumber, it.IsPacked, it.PackedBy,
			postgres.NullTime(it.PackedAt))
		if err != nil {
			return fmt.Errorf("insert manifest item: %w", err)
		}
	}
	return nil
}
