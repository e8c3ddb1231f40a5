package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	kitModels "custody/internal/kit/models"
	manifestModels "custody/internal/manifest/models"
	"custody/internal/packing/service"
	id "custody/pkg/domain"
	dErrors "custody/pkg/domain-errors"
	"custody/pkg/platform/httputil"
	"custody/pkg/requestcontext"
)

// HeaderPackedBy names the packer for a single-item pack. It overrides the
// request actor.
const HeaderPackedBy = "X-Packed-By"

// Service defines the packing operations exposed over HTTP.
type Service interface {
	CreateManifestWithAssets(ctx context.Context, req service.CreateManifestRequest) (*service.CreateManifestResult, error)
	MarkItemPacked(ctx context.Context, manifestID id.ManifestID, assetID id.AssetID) (*manifestModels.Manifest, error)
	FinishPacking(ctx context.Context, manifestID id.ManifestID) (*service.FinishPackingResult, error)
	CompleteManifest(ctx context.Context, manifestID id.ManifestID) (*manifestModels.Manifest, error)
	GetManifest(ctx context.Context, manifestID id.ManifestID) (*manifestModels.Manifest, error)
	MarkKitReadyForDispatch(ctx context.Context, kitID id.KitID) (*kitModels.Kit, error)
}

// Handler serves the manifest packing endpoints.
type Handler struct {
	packing Service
	logger  *slog.Logger
}

func New(packing Service, logger *slog.Logger) *Handler {
	return &Handler{packing: packing, logger: logger}
}

// Register registers the packing routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/manifests", func(r chi.Router) {
		r.Post("/", h.handleCreateManifest)
		r.Route("/{manifestId}", func(r chi.Router) {
			r.Get("/", h.handleGetManifest)
			r.Post("/items/{assetId}/pack", h.handleMarkItemPacked)
			r.Post("/finish-packing", h.handleFinishPacking)
			r.Post("/complete", h.handleCompleteManifest)
		})
	})
	r.Post("/kits/{kitId}/ready-for-dispatch", h.handleKitReady)
}

type createManifestResponse struct {
	ManifestID     id.ManifestID          `json:"manifestId"`
	ManifestNumber string                 `json:"manifestNumber"`
	KitID          id.KitID               `json:"kitId"`
	KitName        string                 `json:"kitName"`
	Status         manifestModels.Status  `json:"status"`
	Items          []*manifestModels.Item `json:"items"`
}

type finishPackingResponse struct {
	Manifest *manifestModels.Manifest  `json:"manifest"`
	Kit      service.KitReconciliation `json:"kit"`
}

type packItemRequest struct {
	PackedBy string `json:"packedBy"`
}

func (h *Handler) handleCreateManifest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req service.CreateManifestRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.packing.CreateManifestWithAssets(ctx, req)
	if err != nil {
		h.writeError(ctx, w, "failed to create manifest", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, createManifestResponse{
		ManifestID:     result.Manifest.ID,
		ManifestNumber: result.Manifest.Number,
		KitID:          result.Kit.ID,
		KitName:        result.Kit.Name,
		Status:         result.Manifest.Status,
		Items:          result.Manifest.Items,
	})
}

func (h *Handler) handleGetManifest(w http.ResponseWriter, r *http.Request) {
	manifestID, err := id.ParseManifestID(chi.URLParam(r, "manifestId"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	manifest, err := h.packing.GetManifest(r.Context(), manifestID)
	if err != nil {
		h.writeError(r.Context(), w, "failed to load manifest", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, manifest)
}

func (h *Handler) handleMarkItemPacked(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	manifestID, err := id.ParseManifestID(chi.URLParam(r, "manifestId"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	assetID, err := id.ParseAssetID(chi.URLParam(r, "assetId"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	packedBy := strings.TrimSpace(r.Header.Get(HeaderPackedBy))
	if packedBy == "" && r.ContentLength > 0 {
		var req packItemRequest
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
		packedBy = strings.TrimSpace(req.PackedBy)
	}
	if packedBy != "" {
		ctx = requestcontext.WithActor(ctx, packedBy)
	}

	manifest, err := h.packing.MarkItemPacked(ctx, manifestID, assetID)
	if err != nil {
		h.writeError(ctx, w, "failed to mark item packed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, manifest)
}

func (h *Handler) handleFinishPacking(w http.ResponseWriter, r *http.Request) {
	manifestID, err := id.ParseManifestID(chi.URLParam(r, "manifestId"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	result, err := h.packing.FinishPacking(r.Context(), manifestID)
	if err != nil {
		h.writeError(r.Context(), w, "failed to finish packing", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, finishPackingResponse{Manifest: result.Manifest, Kit: result.Kit})
}

func (h *Handler) handleCompleteManifest(w http.ResponseWriter, r *http.Request) {
	manifestID, err := id.ParseManifestID(chi.URLParam(r, "manifestId"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	manifest, err := h.packing.CompleteManifest(r.Context(), manifestID)
	if err != nil {
		h.writeError(r.Context(), w, "failed to complete manifest", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, manifest)
}

func (h *Handler) handleKitReady(w http.ResponseWriter, r *http.Request) {
	kitID, err := id.ParseKitID(chi.URLParam(r, "kitId"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	kit, err := h.packing.MarkKitReadyForDispatch(r.Context(), kitID)
	if err != nil {
		h.writeError(r.Context(), w, "failed to mark kit ready for dispatch", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, kit)
}

// writeError logs internal failures before rendering. Client errors are
// rendered as-is.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal && h.logger != nil {
		h.logger.ErrorContext(ctx, msg,
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
	}
	httputil.WriteError(w, err)
}
