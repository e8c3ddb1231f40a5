// Package service orchestrates packing across assets, kits and manifests.
// Every workflow runs as one unit of work, and per-manifest work is
// serialized through a Locker.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	assetModels "custody/internal/asset/models"
	kitModels "custody/internal/kit/models"
	manifestModels "custody/internal/manifest/models"
	"custody/internal/packing/lock"
	"custody/internal/packing/metrics"
	id "custody/pkg/domain"
	dErrors "custody/pkg/domain-errors"
	"custody/pkg/platform/audit"
	"custody/pkg/platform/idgen"
	"custody/pkg/platform/sentinel"
	"custody/pkg/platform/tx"
	"custody/pkg/requestcontext"
)

const (
	tracerName        = "custody/internal/packing"
	defaultLockWait   = 5 * time.Second
	createManifestKey = "packing:create-manifest"
	workflowCreate    = "create_manifest"
	workflowFinish    = "finish_packing"
	entityManifest    = "manifest"
	entityKit         = "kit"
	entityAsset       = "asset"
)

type AssetStore interface {
	FindByID(ctx context.Context, assetID id.AssetID) (*assetModels.Asset, error)
	Execute(ctx context.Context, assetID id.AssetID, validate func(*assetModels.Asset) error, mutate func(*assetModels.Asset)) (*assetModels.Asset, error)
}

type KitStore interface {
	Create(ctx context.Context, kit *kitModels.Kit) error
	FindByID(ctx context.Context, kitID id.KitID) (*kitModels.Kit, error)
	Update(ctx context.Context, kit *kitModels.Kit) error
	FindByStatusWithAnyAsset(ctx context.Context, status kitModels.Status, assetIDs []id.AssetID) ([]*kitModels.Kit, error)
}

type ManifestStore interface {
	Create(ctx context.Context, manifest *manifestModels.Manifest) error
	FindByID(ctx context.Context, manifestID id.ManifestID) (*manifestModels.Manifest, error)
	FindByIDForUpdate(ctx context.Context, manifestID id.ManifestID) (*manifestModels.Manifest, error)
	Update(ctx context.Context, manifest *manifestModels.Manifest) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, action audit.Action, entityType, entityID, detail string) error
}

// Service is the packing orchestrator.
type Service struct {
	assets         AssetStore
	kits           KitStore
	manifests      ManifestStore
	tx             tx.Runner
	locker         lock.Locker
	lockWait       time.Duration
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	tracer         trace.Tracer
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

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLocker replaces the in-process manifest lock, e.g. with lock.Redis
// when several replicas share a database.
func WithLocker(locker lock.Locker, wait time.Duration) Option {
	return func(s *Service) {
		s.locker = locker
		if wait > 0 {
			s.lockWait = wait
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

func New(assets AssetStore, kits KitStore, manifests ManifestStore, runner tx.Runner, opts ...Option) *Service {
	s := &Service{
		assets:    assets,
		kits:      kits,
		manifests: manifests,
		tx:        runner,
		locker:    lock.NewMemory(),
		lockWait:  defaultLockWait,
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateManifestWithAssets validates that every asset is Available, builds a
// kit for the poll site holding them, assigns the assets, and creates a
// ReadyForPacking manifest with one freshly sealed item per asset.
func (s *Service) CreateManifestWithAssets(ctx context.Context, req CreateManifestRequest) (result *CreateManifestResult, err error) {
	ctx, span := s.tracer.Start(ctx, "packing.create_manifest", trace.WithAttributes(
		attribute.String("custody.poll_site_id", req.PollSiteID.String()),
		attribute.Int("custody.asset_count", len(req.AssetIDs)),
	))
	start := time.Now()
	defer func() {
		endSpan(span, err)
		s.metrics.ObserveWorkflow(workflowCreate, time.Since(start))
	}()

	if err := validateAssetList(req.AssetIDs); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	actor := requestcontext.Actor(ctx)

	manifest, err := manifestModels.NewManifest(id.NewManifestID(), idgen.ManifestNumber(now),
		req.FromFacilityID, req.PollSiteID, req.ElectionID, now)
	if err != nil {
		return nil, err
	}
	kit, err := kitModels.NewKit(id.NewKitID(), idgen.KitName(req.PollSiteID.String(), now), now)
	if err != nil {
		return nil, err
	}

	err = s.tx.RunInTx(tx.WithShardKey(ctx, createManifestKey), func(ctx context.Context) error {
		for _, assetID := range req.AssetIDs {
			if err := s.requireAvailable(ctx, assetID); err != nil {
				return err
			}
		}

		for _, assetID := range req.AssetIDs {
			if err := kit.AddAsset(assetID, actor, now); err != nil {
				return err
			}
		}
		if err := kit.AssignToPollSite(req.PollSiteID, now); err != nil {
			return err
		}
		if err := s.kits.Create(ctx, kit); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save kit")
		}
		if err := s.emit(ctx, audit.EventKitCreated, entityKit, kit.ID.String(), kit.Name); err != nil {
			return err
		}

		for _, assetID := range req.AssetIDs {
			if err := s.assignAsset(ctx, assetID, kit, now); err != nil {
				return err
			}
		}

		for _, assetID := range req.AssetIDs {
			if err := manifest.AddItem(assetID, idgen.SealNumber(), now); err != nil {
				return err
			}
		}
		manifest.LinkKit(kit.ID, now)
		if err := manifest.ReadyForPacking(now); err != nil {
			return err
		}
		if err := s.manifests.Create(ctx, manifest); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return dErrors.New(dErrors.CodeConflict, fmt.Sprintf("manifest number already used: %s", manifest.Number))
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save manifest")
		}
		return s.emit(ctx, audit.EventManifestCreated, entityManifest, manifest.ID.String(),
			fmt.Sprintf("%s with %d items, kit %s", manifest.Number, len(manifest.Items), kit.Name))
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncrementManifestsCreated()
	s.logInfo(ctx, "manifest created",
		"manifest_id", manifest.ID.String(),
		"manifest_number", manifest.Number,
		"kit_id", kit.ID.String(),
		"asset_count", len(req.AssetIDs),
	)
	return &CreateManifestResult{Manifest: manifest, Kit: kit}, nil
}

func validateAssetList(assetIDs []id.AssetID) error {
	if len(assetIDs) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one asset is required")
	}
	seen := make(map[id.AssetID]struct{}, len(assetIDs))
	for _, assetID := range assetIDs {
		if assetID.IsNil() {
			return dErrors.New(dErrors.CodeValidation, "asset id is required")
		}
		if _, dup := seen[assetID]; dup {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("asset listed more than once: %s", assetID))
		}
		seen[assetID] = struct{}{}
	}
	return nil
}

func (s *Service) requireAvailable(ctx context.Context, assetID id.AssetID) error {
	asset, err := s.assets.FindByID(ctx, assetID)
	if err != nil {
		return wrapAssetErr(err, assetID)
	}
	if err := asset.CanAssignToKit(); err != nil {
		return dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("asset %s (%s) is not available: status %s", assetID, asset.SerialNumber, asset.Status))
	}
	return nil
}

func (s *Service) assignAsset(ctx context.Context, assetID id.AssetID, kit *kitModels.Kit, now time.Time) error {
	_, err := s.assets.Execute(ctx, assetID,
		func(a *assetModels.Asset) error {
			return a.CanAssignToKit()
		},
		func(a *assetModels.Asset) {
			a.ApplyAssignToKit(kit.ID, now)
		},
	)
	if err != nil {
		return wrapAssetErr(err, assetID)
	}
	return s.emit(ctx, audit.EventAssetAssigned, entityAsset, assetID.String(), kit.Name)
}

// MarkItemPacked packs one manifest item. The manifest's status is derived
// from its items after the change.
func (s *Service) MarkItemPacked(ctx context.Context, manifestID id.ManifestID, assetID id.AssetID) (*manifestModels.Manifest, error) {
	release, err := s.acquire(ctx, manifestID)
	if err != nil {
		return nil, err
	}
	defer s.unlock(ctx, manifestID, release)

	now := requestcontext.Now(ctx)
	actor := requestcontext.Actor(ctx)
	var manifest *manifestModels.Manifest
	err = s.tx.RunInTx(tx.WithShardKey(ctx, manifestID.String()), func(ctx context.Context) error {
		var err error
		manifest, err = s.manifests.FindByIDForUpdate(ctx, manifestID)
		if err != nil {
			return wrapManifestErr(err, manifestID, "failed to load manifest")
		}
		if err := manifest.MarkItemPacked(assetID, actor, now); err != nil {
			return err
		}
		if err := s.manifests.Update(ctx, manifest); err != nil {
			return wrapManifestErr(err, manifestID, "failed to save manifest")
		}
		if err := s.emitItemPacked(ctx, manifest, assetID); err != nil {
			return err
		}
		if manifest.Status == manifestModels.StatusFullyPacked {
			return s.emit(ctx, audit.EventManifestFullyPacked, entityManifest, manifest.ID.String(), manifest.Number)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.AddItemsPacked(1)
	s.logInfo(ctx, "manifest item packed",
		"manifest_id", manifestID.String(),
		"asset_id", assetID.String(),
		"status", string(manifest.Status),
	)
	return manifest, nil
}

// FinishPacking packs every remaining item, reconciles the manifest's kit
// and persists the manifest. Kit reconciliation is advisory: its outcome is
// reported in the result and never fails the call.
func (s *Service) FinishPacking(ctx context.Context, manifestID id.ManifestID) (result *FinishPackingResult, err error) {
	ctx, span := s.tracer.Start(ctx, "packing.finish_packing", trace.WithAttributes(
		attribute.String("custody.manifest_id", manifestID.String()),
	))
	start := time.Now()
	defer func() {
		if result != nil {
			span.SetAttributes(attribute.String("custody.kit_outcome", string(result.Kit.Outcome)))
		}
		endSpan(span, err)
		s.metrics.ObserveWorkflow(workflowFinish, time.Since(start))
	}()

	release, err := s.acquire(ctx, manifestID)
	if err != nil {
		return nil, err
	}
	defer s.unlock(ctx, manifestID, release)

	now := requestcontext.Now(ctx)
	actor := requestcontext.Actor(ctx)
	var packedNow int
	result = &FinishPackingResult{}
	err = s.tx.RunInTx(tx.WithShardKey(ctx, manifestID.String()), func(ctx context.Context) error {
		manifest, err := s.manifests.FindByIDForUpdate(ctx, manifestID)
		if err != nil {
			return wrapManifestErr(err, manifestID, "failed to load manifest")
		}
		if err := manifest.CanFinishPacking(); err != nil {
			return err
		}
		wasFullyPacked := manifest.Status == manifestModels.StatusFullyPacked

		unpacked := manifest.UnpackedAssetIDs()
		for _, assetID := range unpacked {
			if err := manifest.MarkItemPacked(assetID, actor, now); err != nil {
				return err
			}
		}
		packedNow = len(unpacked)

		result.Kit = s.reconcileKit(ctx, manifest, now)

		if err := s.manifests.Update(ctx, manifest); err != nil {
			return wrapManifestErr(err, manifestID, "failed to save manifest")
		}
		for _, assetID := range unpacked {
			if err := s.emitItemPacked(ctx, manifest, assetID); err != nil {
				return err
			}
		}
		if !wasFullyPacked {
			if err := s.emit(ctx, audit.EventManifestFullyPacked, entityManifest, manifest.ID.String(), manifest.Number); err != nil {
				return err
			}
		}
		result.Manifest = manifest
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.AddItemsPacked(packedNow)
	s.metrics.IncrementFinishPacking(string(result.Kit.Outcome))
	s.logInfo(ctx, "packing finished",
		"manifest_id", manifestID.String(),
		"items_packed", packedNow,
		"kit_outcome", string(result.Kit.Outcome),
		"kit_id", kitIDAttr(result.Kit.KitID),
	)
	return result, nil
}

// reconcileKit locates the manifest's kit and packs it. It runs in a nested
// unit of work so a failure here rolls back only the kit changes.
func (s *Service) reconcileKit(ctx context.Context, manifest *manifestModels.Manifest, now time.Time) KitReconciliation {
	var rec KitReconciliation
	err := s.tx.Nested(ctx, func(ctx context.Context) error {
		kit, err := s.findKit(ctx, manifest)
		if err != nil {
			return err
		}
		if kit == nil {
			rec.Outcome = KitNotFound
			rec.Warning = fmt.Sprintf("no kit holds the assets of manifest %s", manifest.Number)
			return nil
		}
		rec.KitID = kit.ID

		switch kit.Status {
		case kitModels.StatusDraft:
			if err := kit.AssignToPollSite(manifest.ToPollSiteID, now); err != nil {
				return err
			}
			rec.Outcome = KitAssignedAndPacked
		case kitModels.StatusAssigned:
			rec.Outcome = KitPacked
		case kitModels.StatusPacked:
			rec.Outcome = KitAlreadyPacked
			rec.KitStatus = kit.Status
			rec.Warning = fmt.Sprintf("kit %s is already Packed", kit.Name)
			return nil
		default:
			rec.Outcome = KitSkippedStatus
			rec.KitStatus = kit.Status
			rec.Warning = fmt.Sprintf("kit %s is %s; left unchanged", kit.Name, kit.Status)
			return nil
		}

		if err := kit.MarkPacked(now); err != nil {
			return err
		}
		if err := s.kits.Update(ctx, kit); err != nil {
			return fmt.Errorf("update kit: %w", err)
		}
		rec.KitStatus = kit.Status
		return s.emit(ctx, audit.EventKitPacked, entityKit, kit.ID.String(), manifest.Number)
	})
	if err != nil {
		s.logWarn(ctx, "kit reconciliation failed",
			"manifest_id", manifest.ID.String(),
			"kit_id", kitIDAttr(rec.KitID),
			"error", err.Error(),
		)
		return KitReconciliation{Outcome: KitFailed, KitID: rec.KitID, Warning: err.Error()}
	}
	if rec.Warning != "" {
		s.logWarn(ctx, "kit not packed",
			"manifest_id", manifest.ID.String(),
			"kit_id", kitIDAttr(rec.KitID),
			"outcome", string(rec.Outcome),
		)
	}
	return rec
}

// findKit returns the kit linked to the manifest. Manifests without a link,
// or whose linked kit is gone, fall back to the first kit, by status in
// SearchOrder, holding any of the manifest's assets.
func (s *Service) findKit(ctx context.Context, manifest *manifestModels.Manifest) (*kitModels.Kit, error) {
	if !manifest.KitID.IsNil() {
		kit, err := s.kits.FindByID(ctx, manifest.KitID)
		if err == nil {
			return kit, nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, fmt.Errorf("load kit %s: %w", manifest.KitID, err)
		}
	}
	assetIDs := manifest.AssetIDs()
	for _, status := range kitModels.SearchOrder {
		kits, err := s.kits.FindByStatusWithAnyAsset(ctx, status, assetIDs)
		if err != nil {
			return nil, fmt.Errorf("search %s kits: %w", status, err)
		}
		if len(kits) > 0 {
			return kits[0], nil
		}
	}
	return nil, nil
}

// CompleteManifest closes a FullyPacked manifest.
func (s *Service) CompleteManifest(ctx context.Context, manifestID id.ManifestID) (*manifestModels.Manifest, error) {
	release, err := s.acquire(ctx, manifestID)
	if err != nil {
		return nil, err
	}
	defer s.unlock(ctx, manifestID, release)

	now := requestcontext.Now(ctx)
	var manifest *manifestModels.Manifest
	err = s.tx.RunInTx(tx.WithShardKey(ctx, manifestID.String()), func(ctx context.Context) error {
		var err error
		manifest, err = s.manifests.FindByIDForUpdate(ctx, manifestID)
		if err != nil {
			return wrapManifestErr(err, manifestID, "failed to load manifest")
		}
		if err := manifest.Complete(now); err != nil {
			return err
		}
		if err := s.manifests.Update(ctx, manifest); err != nil {
			return wrapManifestErr(err, manifestID, "failed to save manifest")
		}
		return s.emit(ctx, audit.EventManifestCompleted, entityManifest, manifest.ID.String(), manifest.Number)
	})
	if err != nil {
		return nil, err
	}
	s.logInfo(ctx, "manifest completed", "manifest_id", manifestID.String())
	return manifest, nil
}

// MarkKitReadyForDispatch moves a Packed kit to ReadyForDispatch.
func (s *Service) MarkKitReadyForDispatch(ctx context.Context, kitID id.KitID) (*kitModels.Kit, error) {
	now := requestcontext.Now(ctx)
	var kit *kitModels.Kit
	err := s.tx.RunInTx(tx.WithShardKey(ctx, kitID.String()), func(ctx context.Context) error {
		var err error
		kit, err = s.kits.FindByID(ctx, kitID)
		if err != nil {
			return wrapKitErr(err, kitID, "failed to load kit")
		}
		if err := kit.MarkReadyForDispatch(now); err != nil {
			return err
		}
		if err := s.kits.Update(ctx, kit); err != nil {
			return wrapKitErr(err, kitID, "failed to save kit")
		}
		return s.emit(ctx, audit.EventKitReady, entityKit, kit.ID.String(), kit.Name)
	})
	if err != nil {
		return nil, err
	}
	s.logInfo(ctx, "kit ready for dispatch", "kit_id", kitID.String(), "kit_name", kit.Name)
	return kit, nil
}

func (s *Service) GetManifest(ctx context.Context, manifestID id.ManifestID) (*manifestModels.Manifest, error) {
	manifest, err := s.manifests.FindByID(ctx, manifestID)
	if err != nil {
		return nil, wrapManifestErr(err, manifestID, "failed to load manifest")
	}
	return manifest, nil
}

func (s *Service) acquire(ctx context.Context, manifestID id.ManifestID) (lock.Release, error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()
	release, err := s.locker.Acquire(lockCtx, manifestID.String())
	switch {
	case err == nil:
		return release, nil
	case errors.Is(err, sentinel.ErrLocked):
		return nil, dErrors.New(dErrors.CodeConflict, fmt.Sprintf("manifest %s is being packed by another request", manifestID))
	default:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to acquire manifest lock")
	}
}

func (s *Service) unlock(ctx context.Context, manifestID id.ManifestID, release lock.Release) {
	if err := release(context.WithoutCancel(ctx)); err != nil {
		s.logWarn(ctx, "failed to release manifest lock", "manifest_id", manifestID.String(), "error", err.Error())
	}
}

func (s *Service) emitItemPacked(ctx context.Context, manifest *manifestModels.Manifest, assetID id.AssetID) error {
	detail := assetID.String()
	for _, it := range manifest.Items {
		if it.AssetID == assetID {
			detail = fmt.Sprintf("asset %s seal %s", assetID, it.SealNumber)
			break
		}
	}
	return s.emit(ctx, audit.EventItemPacked, entityManifest, manifest.ID.String(), detail)
}

func (s *Service) emit(ctx context.Context, action audit.Action, entityType, entityID, detail string) error {
	if s.auditPublisher == nil {
		return nil
	}
	if err := s.auditPublisher.Emit(ctx, action, entityType, entityID, detail); err != nil {
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

func (s *Service) logWarn(ctx context.Context, msg string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.WarnContext(ctx, msg, append(args, "request_id", requestcontext.RequestID(ctx))...)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func kitIDAttr(kitID id.KitID) string {
	if kitID.IsNil() {
		return ""
	}
	return kitID.String()
}

func wrapManifestErr(err error, manifestID id.ManifestID, msg string) error {
	var de *dErrors.Error
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("manifest not found: %s", manifestID))
	case errors.As(err, &de):
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}

func wrapKitErr(err error, kitID id.KitID, msg string) error {
	var de *dErrors.Error
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("kit not found: %s", kitID))
	case errors.As(err, &de):
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}

func wrapAssetErr(err error, assetID id.AssetID) error {
	var de *dErrors.Error
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("asset not found: %s", assetID))
	case errors.As(err, &de):
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update asset")
	}
}
