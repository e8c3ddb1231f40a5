package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"custody/internal/asset/models"
	"custody/internal/platform/postgres"
	id "custody/pkg/domain"
	"custody/pkg/platform/sentinel"
	txcontext "custody/pkg/platform/tx"
)

// PostgresStore persists assets in the assets and asset_maintenance tables.
// Writes join the transaction bound to ctx when there is one.
type PostgresStore struct {
	db *sql.DB
	tx *txcontext.Postgres
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, tx: txcontext.NewPostgres(db)}
}

const assetColumns = `id, serial_number, asset_type, barcode, rfid_tag, status, condition,
	location, facility_id, election_id, kit_id, created_at, updated_at`

func nullUUID[T ~[16]byte](v T) uuid.NullUUID {
	u := uuid.UUID(v)
	return uuid.NullUUID{UUID: u, Valid: u != uuid.Nil}
}

func (s *PostgresStore) CreateIfSerialAvailable(ctx context.Context, asset *models.Asset) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		exec := txcontext.ExecutorFrom(ctx, s.db)
		_, err := exec.ExecContext(ctx, `
			INSERT INTO assets (`+assetColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`,
			uuid.UUID(asset.ID), asset.SerialNumber, string(asset.Type), asset.Barcode, asset.RFIDTag,
			string(asset.Status), string(asset.Condition), asset.Location,
			nullUUID(asset.FacilityID), nullUUID(asset.ElectionID), nullUUID(asset.KitID),
			asset.CreatedAt, asset.UpdatedAt,
		)
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("serial %s: %w", asset.SerialNumber, sentinel.ErrAlreadyUsed)
		}
		if err != nil {
			return fmt.Errorf("insert asset: %w", err)
		}
		return s.replaceMaintenance(ctx, exec, asset)
	})
}

func (s *PostgresStore) FindByID(ctx context.Context, assetID id.AssetID) (*models.Asset, error) {
	return s.findOne(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = $1`, uuid.UUID(assetID))
}

func (s *PostgresStore) FindBySerial(ctx context.Context, serial string) (*models.Asset, error) {
	return s.findOne(ctx, `SELECT `+assetColumns+` FROM assets WHERE upper(serial_number) = upper($1)`, serial)
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status models.Status) ([]*models.Asset, error) {
	exec := txcontext.ExecutorFrom(ctx, s.db)
	rows, err := exec.QueryContext(ctx, `
		SELECT `+assetColumns+` FROM assets WHERE status = $1 ORDER BY created_at, serial_number
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	var assets []*models.Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assets: %w", err)
	}
	for _, asset := range assets {
		if err := s.loadMaintenance(ctx, exec, asset); err != nil {
			return nil, err
		}
	}
	return assets, nil
}

func (s *PostgresStore) update(ctx context.Context, asset *models.Asset) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		exec := txcontext.ExecutorFrom(ctx, s.db)
		res, err := exec.ExecContext(ctx, `
			UPDATE assets SET
				barcode = $2, rfid_tag = $3, status = $4, condition = $5, location = $6,
				facility_id = $7, election_id = $8, kit_id = $9, updated_at = $10
			WHERE id = $1
		`,
			uuid.UUID(asset.ID), asset.Barcode, asset.RFIDTag, string(asset.Status), string(asset.Condition),
			asset.Location, nullUUID(asset.FacilityID), nullUUID(asset.ElectionID), nullUUID(asset.KitID),
			asset.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update asset: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sentinel.ErrNotFound
		}
		return s.replaceMaintenance(ctx, exec, asset)
	})
}

// Execute locks the row with SELECT ... FOR UPDATE, validates, mutates and
// writes back inside one transaction.
func (s *PostgresStore) Execute(ctx context.Context, assetID id.AssetID, validate func(*models.Asset) error, mutate func(*models.Asset)) (*models.Asset, error) {
	var result *models.Asset
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		asset, err := s.findOne(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = $1 FOR UPDATE`, uuid.UUID(assetID))
		if err != nil {
			return err
		}
		if err := validate(asset); err != nil {
			return err
		}
		mutate(asset)
		if err := s.update(ctx, asset); err != nil {
			return err
		}
		result = asset
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresStore) findOne(ctx context.Context, query string, arg any) (*models.Asset, error) {
	exec := txcontext.ExecutorFrom(ctx, s.db)
	asset, err := scanAsset(exec.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadMaintenance(ctx, exec, asset); err != nil {
		return nil, err
	}
	return asset, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAsset(row rowScanner) (*models.Asset, error) {
	var (
		assetID                       uuid.UUID
		assetType, status, condition  string
		facilityID, electionID, kitID uuid.NullUUID
		asset                         models.Asset
	)
	err := row.Scan(
		&assetID, &asset.SerialNumber, &assetType, &asset.Barcode, &asset.RFIDTag, &status, &condition,
		&asset.Location, &facilityID, &electionID, &kitID, &asset.CreatedAt, &asset.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan asset: %w", err)
	}
	asset.ID = id.AssetID(assetID)
	asset.Type = models.Type(assetType)
	asset.Status = models.Status(status)
	asset.Condition = models.Condition(condition)
	asset.FacilityID = id.FacilityID(facilityID.UUID)
	asset.ElectionID = id.ElectionID(electionID.UUID)
	asset.KitID = id.KitID(kitID.UUID)
	asset.CreatedAt = asset.CreatedAt.UTC()
	asset.UpdatedAt = asset.UpdatedAt.UTC()
	return &asset, nil
}

func (s *PostgresStore) loadMaintenance(ctx context.Context, exec txcontext.Executor, asset *models.Asset) error {
	rows, err := exec.QueryContext(ctx, `
		SELECT started_at, description, performed_by, completed_at, resulting_condition
		FROM asset_maintenance WHERE asset_id = $1 ORDER BY seq
	`, uuid.UUID(asset.ID))
	if err != nil {
		return fmt.Errorf("query maintenance: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			rec       models.MaintenanceRecord
			completed sql.NullTime
			condition string
		)
		if err := rows.Scan(&rec.StartedAt, &rec.Description, &rec.PerformedBy, &completed, &condition); err != nil {
			return fmt.Errorf("scan maintenance: %w", err)
		}
		rec.StartedAt = rec.StartedAt.UTC()
		rec.CompletedAt = postgres.TimeOrZero(completed)
		rec.ResultingCondition = models.Condition(condition)
		asset.MaintenanceHistory = append(asset.MaintenanceHistory, rec)
	}
	return rows.Err()
}

// replaceMaintenance rewrites the history rows. History is append-only in
// the aggregate, so this only ever adds rows or closes the last one.
func (s *PostgresStore) replaceMaintenance(ctx context.Context, exec txcontext.Executor, asset *models.Asset) error {
	for seq, rec := range asset.MaintenanceHistory {
		_, err := exec.ExecContext(ctx, `
			INSERT INTO asset_maintenance (asset_id, seq, started_at, description, performed_by, completed_at, resulting_condition)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (asset_id, seq) DO UPDATE SET
				completed_at = EXCLUDED.completed_at,
				resulting_condition = EXCLUDED.resulting_condition
		`, uuid.UUID(asset.ID), seq, rec.StartedAt, rec.Description, rec.PerformedBy,
			postgres.NullTime(rec.CompletedAt), string(rec.ResultingCondition))
		if err != nil {
			return fmt.Errorf("upsert maintenance: %w", err)
		}
	}
	return nil
}
