package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"custody/internal/asset/models"
	id "custody/pkg/domain"
	dErrors "custody/pkg/domain-errors"
	"custody/pkg/platform/audit"
	"custody/pkg/platform/sentinel"
	"custody/pkg/platform/tx"
	"custody/pkg/requestcontext"
)

// Store is the asset persistence contract.
type Store interface {
	CreateIfSerialAvailable(ctx context.Context, asset *models.Asset) error
	FindByID(ctx context.Context, assetID id.AssetID) (*models.Asset, error)
	FindBySerial(ctx context.Context, serial string) (*models.Asset, error)
	ListByStatus(ctx context.Context, status models.Status) ([]*models.Asset, error)
	Execute(ctx context.Context, assetID id.AssetID, validate func(*models.Asset) error, mutate func(*models.Asset)) (*models.Asset, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, action audit.Action, entityType, entityID, detail string) error
}

// Service registers assets and drives their lifecycle outside of packing.
type Service struct {
	store          Store
	tx             tx.Runner
	logger         *slog.Logger
	auditPublisher AuditPublisher
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func New(store Store, runner tx.Runner, opts ...Option) *Service {
	s := &Service{store: store, tx: runner}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterRequest describes a newly received piece of equipment.
type RegisterRequest struct {
	SerialNumber string        `json:"serialNumber"`
	Type         models.Type   `json:"assetType"`
	Barcode      string        `json:"barcode"`
	RFIDTag      string        `json:"rfidTag,omitempty"`
	FacilityID   id.FacilityID `json:"facilityId"`
	ElectionID   id.ElectionID `json:"electionId"`
}

// Register creates the asset and moves it to Available in the warehouse.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*models.Asset, error) {
	now := requestcontext.Now(ctx)
	asset, err := models.NewAsset(id.NewAssetID(), req.SerialNumber, req.Type, now)
	if err != nil {
		return nil, err
	}
	asset.FacilityID = req.FacilityID
	asset.ElectionID = req.ElectionID
	if err := asset.Register(req.Barcode, req.RFIDTag, now); err != nil {
		return nil, err
	}

	err = s.tx.RunInTx(tx.WithShardKey(ctx, asset.ID.String()), func(ctx context.Context) error {
		if err := s.store.CreateIfSerialAvailable(ctx, asset); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return dErrors.New(dErrors.CodeConflict, fmt.Sprintf("serial number already registered: %s", asset.SerialNumber))
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save asset")
		}
		return s.emit(ctx, audit.EventAssetRegistered, asset, asset.SerialNumber)
	})
	if err != nil {
		return nil, err
	}
	s.logInfo(ctx, "asset registered", "asset_id", asset.ID.String(), "serial_number", asset.SerialNumber)
	return asset, nil
}

func (s *Service) Get(ctx context.Context, assetID id.AssetID) (*models.Asset, error) {
	asset, err := s.store.FindByID(ctx, assetID)
	if err != nil {
		return nil, wrapAssetErr(err, assetID, "failed to load asset")
	}
	return asset, nil
}

// GetBySerial resolves a scanned serial number. Matching ignores case.
func (s *Service) GetBySerial(ctx context.Context, serial string) (*models.Asset, error) {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "serial number is required")
	}
	asset, err := s.store.FindBySerial(ctx, serial)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("asset not found: serial %s", serial))
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load asset")
	}
	return asset, nil
}

func (s *Service) ListByStatus(ctx context.Context, status models.Status) ([]*models.Asset, error) {
	if !status.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("invalid asset status: %q", status))
	}
	assets, err := s.store.ListByStatus(ctx, status)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list assets")
	}
	return assets, nil
}

func (s *Service) MarkInTransit(ctx context.Context, assetID id.AssetID) (*models.Asset, error) {
	return s.transition(ctx, assetID, func(a *models.Asset, now time.Time) error {
		return a.MarkInTransit(now)
	})
}

func (s *Service) ConfirmDelivery(ctx context.Context, assetID id.AssetID, location string) (*models.Asset, error) {
	return s.transition(ctx, assetID, func(a *models.Asset, now time.Time) error {
		return a.ConfirmDelivery(location, now)
	})
}

func (s *Service) ReturnToWarehouse(ctx context.Context, assetID id.AssetID) (*models.Asset, error) {
	return s.transition(ctx, assetID, func(a *models.Asset, now time.Time) error {
		a.ReturnToWarehouse(now)
		return nil
	})
}

func (s *Service) StartMaintenance(ctx context.Context, assetID id.AssetID, record models.MaintenanceRecord) (*models.Asset, error) {
	return s.transition(ctx, assetID, func(a *models.Asset, now time.Time) error {
		return a.StartMaintenance(record, now)
	})
}

func (s *Service) CompleteMaintenance(ctx context.Context, assetID id.AssetID, result models.Condition) (*models.Asset, error) {
	return s.transition(ctx, assetID, func(a *models.Asset, now time.Time) error {
		return a.CompleteMaintenance(result, now)
	})
}

func (s *Service) UpdateCondition(ctx context.Context, assetID id.AssetID, condition models.Condition) (*models.Asset, error) {
	return s.transition(ctx, assetID, func(a *models.Asset, now time.Time) error {
		return a.UpdateCondition(condition, now)
	})
}

func (s *Service) Decommission(ctx context.Context, assetID id.AssetID) (*models.Asset, error) {
	return s.transition(ctx, assetID, func(a *models.Asset, now time.Time) error {
		return a.Decommission(now)
	})
}

// transition runs op against a working copy inside Execute. op doubles as
// validation: a failing op leaves the stored asset untouched.
func (s *Service) transition(ctx context.Context, assetID id.AssetID, op func(*models.Asset, time.Time) error) (*models.Asset, error) {
	now := requestcontext.Now(ctx)
	var (
		updated *models.Asset
		from    models.Status
	)
	err := s.tx.RunInTx(tx.WithShardKey(ctx, assetID.String()), func(ctx context.Context) error {
		var err error
		updated, err = s.store.Execute(ctx, assetID,
			func(a *models.Asset) error {
				from = a.Status
				return op(a.Clone(), now)
			},
			func(a *models.Asset) {
				_ = op(a, now)
			},
		)
		if err != nil {
			return wrapAssetErr(err, assetID, "failed to update asset")
		}
		return s.emit(ctx, audit.EventAssetStatusChanged, updated, fmt.Sprintf("%s -> %s", from, updated.Status))
	})
	if err != nil {
		return nil, err
	}
	s.logInfo(ctx, "asset status changed", "asset_id", assetID.String(), "from", string(from), "to", string(updated.Status))
	return updated, nil
}

func (s *Service) emit(ctx context.Context, action audit.Action, asset *models.Asset, detail string) error {
	if s.auditPublisher == nil {
		return nil
	}
	if err := s.auditPublisher.Emit(ctx, action, "asset", asset.ID.String(), detail); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record custody event")
	}
	return nil
}

func (s *Service) logInfo(ctx context.Context, msg string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.InfoContext(ctx, msg, append(args, "request_id", requestcontext.RequestID(ctx))...)
}

// wrapAssetErr translates store sentinels. Coded domain errors pass through.
func wrapAssetErr(err error, assetID id.AssetID, msg string) error {
	var de *dErrors.Error
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("asset not found: %s", assetID))
	case errors.As(err, &de):
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
