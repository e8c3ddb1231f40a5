package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"custody/internal/kit/models"
	"custody/internal/platform/postgres"
	id "custody/pkg/domain"
	"custody/pkg/platform/sentinel"
	txcontext "custody/pkg/platform/tx"
)

// PostgresStore persists kits in kits and kit_assets. Writes join the
// transaction bound to ctx when there is one.
type PostgresStore struct {
	db *sql.DB
	tx *txcontext.Postgres
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, tx: txcontext.NewPostgres(db)}
}

const kitColumns = `id, name, status, poll_site_id, created_at, updated_at, packed_at`

func (s *PostgresStore) Create(ctx context.Context, kit *models.Kit) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		exec := txcontext.ExecutorFrom(ctx, s.db)
		_, err := exec.ExecContext(ctx, `
			INSERT INTO kits (`+kitColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, uuid.UUID(kit.ID), kit.Name, string(kit.Status), pollSiteParam(kit.PollSiteID),
			kit.CreatedAt, kit.UpdatedAt, postgres.NullTime(kit.PackedAt))
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		if err != nil {
			return fmt.Errorf("insert kit: %w", err)
		}
		return s.writeAssets(ctx, exec, kit)
	})
}

func (s *PostgresStore) FindByID(ctx context.Context, kitID id.KitID) (*models.Kit, error) {
	exec := txcontext.ExecutorFrom(ctx, s.db)
	kit, err := scanKit(exec.QueryRowContext(ctx, `SELECT `+kitColumns+` FROM kits WHERE id = $1`, uuid.UUID(kitID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadAssets(ctx, exec, []*models.Kit{kit}); err != nil {
		return nil, err
	}
	return kit, nil
}

func (s *PostgresStore) Update(ctx context.Context, kit *models.Kit) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		exec := txcontext.ExecutorFrom(ctx, s.db)
		res, err := exec.ExecContext(ctx, `
			UPDATE kits SET name = $2, status = $3, poll_site_id = $4, updated_at = $5, packed_at = $6
			WHERE id = $1
		`, uuid.UUID(kit.ID), kit.Name, string(kit.Status), pollSiteParam(kit.PollSiteID),
			kit.UpdatedAt, postgres.NullTime(kit.PackedAt))
		if err != nil {
			return fmt.Errorf("update kit: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sentinel.ErrNotFound
		}
		if _, err := exec.ExecContext(ctx, `DELETE FROM kit_assets WHERE kit_id = $1`, uuid.UUID(kit.ID)); err != nil {
			return fmt.Errorf("clear kit assets: %w", err)
		}
		return s.writeAssets(ctx, exec, kit)
	})
}

// FindByStatusWithAnyAsset returns kits in status that hold at least one of
// assetIDs, oldest first.
func (s *PostgresStore) FindByStatusWithAnyAsset(ctx context.Context, status models.Status, assetIDs []id.AssetID) ([]*models.Kit, error) {
	if len(assetIDs) == 0 {
		return nil, nil
	}
	raw := make([]string, len(assetIDs))
	for i, assetID := range assetIDs {
		raw[i] = assetID.String()
	}

	exec := txcontext.ExecutorFrom(ctx, s.db)
	rows, err := exec.QueryContext(ctx, `
		SELECT `+kitColumns+` FROM kits k
		WHERE k.status = $1
		  AND EXISTS (
			SELECT 1 FROM kit_assets ka
			WHERE ka.kit_id = k.id AND ka.asset_id = ANY($2::uuid[])
		  )
		ORDER BY k.created_at, k.name
	`, string(status), pq.Array(raw))
	if err != nil {
		return nil, fmt.Errorf("search kits: %w", err)
	}
	defer rows.Close()

	var kits []*models.Kit
	for rows.Next() {
		kit, err := scanKit(rows)
		if err != nil {
			return nil, err
		}
		kits = append(kits, kit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kits: %w", err)
	}
	if err := s.loadAssets(ctx, exec, kits); err != nil {
		return nil, err
	}
	return kits, nil
}

func pollSiteParam(v id.PollSiteID) uuid.NullUUID {
	return uuid.NullUUID{UUID: uuid.UUID(v), Valid: !v.IsNil()}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKit(row rowScanner) (*models.Kit, error) {
	var (
		kitID    uuid.UUID
		status   string
		pollSite uuid.NullUUID
		packedAt sql.NullTime
		kit      models.Kit
	)
	err := row.Scan(&kitID, &kit.Name, &status, &pollSite, &kit.CreatedAt, &kit.UpdatedAt, &packedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan kit: %w", err)
	}
	kit.ID = id.KitID(kitID)
	kit.Status = models.Status(status)
	kit.PollSiteID = id.PollSiteID(pollSite.UUID)
	kit.CreatedAt = kit.CreatedAt.UTC()
	kit.UpdatedAt = kit.UpdatedAt.UTC()
	kit.PackedAt = postgres.TimeOrZero(packedAt)
	return &kit, nil
}

func (s *PostgresStore) loadAssets(ctx context.Context, exec txcontext.Executor, kits []*models.Kit) error {
	if len(kits) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*models.Kit, len(kits))
	ids := make([]string, 0, len(kits))
	for _, kit := range kits {
		byID[uuid.UUID(kit.ID)] = kit
		ids = append(ids, kit.ID.String())
	}
	rows, err := exec.QueryContext(ctx, `
		SELECT kit_id, asset_id, assigned_at, assigned_by FROM kit_assets
		WHERE kit_id = ANY($1::uuid[])
		ORDER BY assigned_at, asset_id
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("query kit assets: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			kitID, assetID uuid.UUID
			link           models.AssetKit
		)
		if err := rows.Scan(&kitID, &assetID, &link.AssignedAt, &link.AssignedBy); err != nil {
			return fmt.Errorf("scan kit asset: %w", err)
		}
		link.AssetID = id.AssetID(assetID)
		link.AssignedAt = link.AssignedAt.UTC()
		if kit, ok := byID[kitID]; ok {
			kit.Assets = append(kit.Assets, link)
		}
	}
	return rows.Err()
}

func (s *PostgresStore) writeAssets(ctx context.Context, exec txcontext.Executor, kit *models.Kit) error {
	for _, link := range kit.Assets {
		_, err := exec.ExecContext(ctx, `
			INSERT INTO kit_assets (kit_id, asset_id, assigned_at, assigned_by) VALUES ($1, $2, $3, $4)
		`, uuid.UUID(kit.ID), uuid.UUID(link.AssetID), link.AssignedAt, link.AssignedBy)
		if err != nil {
			return fmt.Errorf("insert kit asset: %w", err)
		}
	}
	return nil
}
