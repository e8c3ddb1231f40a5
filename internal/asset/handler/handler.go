package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"custody/internal/asset/models"
	"custody/internal/asset/service"
	id "custody/pkg/domain"
	dErrors "custody/pkg/domain-errors"
	"custody/pkg/platform/httputil"
	"custody/pkg/requestcontext"
)

// Service defines the asset operations exposed over HTTP.
type Service interface {
	Register(ctx context.Context, req service.RegisterRequest) (*models.Asset, error)
	Get(ctx context.Context, assetID id.AssetID) (*models.Asset, error)
	GetBySerial(ctx context.Context, serial string) (*models.Asset, error)
	ListByStatus(ctx context.Context, status models.Status) ([]*models.Asset, error)
	MarkInTransit(ctx context.Context, assetID id.AssetID) (*models.Asset, error)
	ConfirmDelivery(ctx context.Context, assetID id.AssetID, location string) (*models.Asset, error)
	ReturnToWarehouse(ctx context.Context, assetID id.AssetID) (*models.Asset, error)
	StartMaintenance(ctx context.Context, assetID id.AssetID, record models.MaintenanceRecord) (*models.Asset, error)
	CompleteMaintenance(ctx context.Context, assetID id.AssetID, result models.Condition) (*models.Asset, error)
	UpdateCondition(ctx context.Context, assetID id.AssetID, condition models.Condition) (*models.Asset, error)
	Decommission(ctx context.Context, assetID id.AssetID) (*models.Asset, error)
}

// Handler serves the asset registry endpoints.
type Handler struct {
	assets Service
	logger *slog.Logger
}

func New(assets Service, logger *slog.Logger) *Handler {
	return &Handler{assets: assets, logger: logger}
}

// Register registers the asset routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/assets", func(r chi.Router) {
		r.Post("/", h.handleRegister)
		r.Get("/", h.handleList)
		r.Get("/serial/{serial}", h.handleGetBySerial)
		r.Route("/{assetId}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Post("/in-transit", h.handleMarkInTransit)
			r.Post("/deliver", h.handleConfirmDelivery)
			r.Post("/return", h.handleReturn)
			r.Post("/maintenance", h.handleStartMaintenance)
			r.Post("/maintenance/complete", h.handleCompleteMaintenance)
			r.Put("/condition", h.handleUpdateCondition)
			r.Post("/decommission", h.handleDecommission)
		})
	})
}

type deliveryRequest struct {
	Location string `json:"location"`
}

type maintenanceRequest struct {
	Description string `json:"description"`
	PerformedBy string `json:"performedBy,omitempty"`
}

type conditionRequest struct {
	Condition models.Condition `json:"condition"`
}

type listResponse struct {
	Assets []*models.Asset `json:"assets"`
	Count  int             `json:"count"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	asset, err := h.assets.Register(r.Context(), req)
	if err != nil {
		h.writeError(r.Context(), w, "failed to register asset", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, asset)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	status := models.Status(r.URL.Query().Get("status"))
	if status == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "status query parameter is required"))
		return
	}
	assets, err := h.assets.ListByStatus(r.Context(), status)
	if err != nil {
		h.writeError(r.Context(), w, "failed to list assets", err)
		return
	}
	if assets == nil {
		assets = []*models.Asset{}
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse{Assets: assets, Count: len(assets)})
}

func (h *Handler) handleGetBySerial(w http.ResponseWriter, r *http.Request) {
	asset, err := h.assets.GetBySerial(r.Context(), chi.URLParam(r, "serial"))
	if err != nil {
		h.writeError(r.Context(), w, "failed to load asset", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, asset)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, "failed to load asset", h.assets.Get)
}

func (h *Handler) handleMarkInTransit(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, "failed to mark asset in transit", h.assets.MarkInTransit)
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, "failed to return asset", h.assets.ReturnToWarehouse)
}

func (h *Handler) handleDecommission(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, "failed to decommission asset", h.assets.Decommission)
}

func (h *Handler) handleConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	var req deliveryRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.apply(w, r, "failed to confirm delivery", func(ctx context.Context, assetID id.AssetID) (*models.Asset, error) {
		return h.assets.ConfirmDelivery(ctx, assetID, req.Location)
	})
}

func (h *Handler) handleStartMaintenance(w http.ResponseWriter, r *http.Request) {
	var req maintenanceRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.apply(w, r, "failed to start maintenance", func(ctx context.Context, assetID id.AssetID) (*models.Asset, error) {
		return h.assets.StartMaintenance(ctx, assetID, models.MaintenanceRecord{
			Description: req.Description,
			PerformedBy: req.PerformedBy,
		})
	})
}

func (h *Handler) handleCompleteMaintenance(w http.ResponseWriter, r *http.Request) {
	var req conditionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.apply(w, r, "failed to complete maintenance", func(ctx context.Context, assetID id.AssetID) (*models.Asset, error) {
		return h.assets.CompleteMaintenance(ctx, assetID, req.Condition)
	})
}

func (h *Handler) handleUpdateCondition(w http.ResponseWriter, r *http.Request) {
	var req conditionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.apply(w, r, "failed to update condition", func(ctx context.Context, assetID id.AssetID) (*models.Asset, error) {
		return h.assets.UpdateCondition(ctx, assetID, req.Condition)
	})
}

// apply parses the asset ID path parameter, runs op and renders the asset.
func (h *Handler) apply(w http.ResponseWriter, r *http.Request, msg string, op func(context.Context, id.AssetID) (*models.Asset, error)) {
	assetID, err := id.ParseAssetID(chi.URLParam(r, "assetId"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	asset, err := op(r.Context(), assetID)
	if err != nil {
		h.writeError(r.Context(), w, msg, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, asset)
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal && h.logger != nil {
		h.logger.ErrorContext(ctx, msg,
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
	}
	httputil.WriteError(w, err)
}
