package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"custody/internal/custody/models"
	"custody/internal/custody/service"
	"custody/internal/custody/sweep"
	id "custody/pkg/domain"
	dErrors "custody/pkg/domain-errors"
	"custody/pkg/platform/httputil"
	"custody/pkg/requestcontext"
)

// Service defines the chain-of-custody operations exposed over HTTP.
type Service interface {
	GenerateForm(ctx context.Context, req service.GenerateFormRequest) (*service.GenerateFormResult, error)
	GetFormByPublicID(ctx context.Context, publicID string) (*service.FormView, error)
	SubmitSignature(ctx context.Context, req service.SubmitSignatureRequest) (*service.SignatureResult, error)
	ExtendExpiration(ctx context.Context, formID id.FormID, days int) (*models.Form, error)
	VerifyReceipt(ctx context.Context, token string) (*service.ReceiptCheck, error)
}

// AlertSource recomputes the sweep classification on demand.
type AlertSource interface {
	Alerts(ctx context.Context) ([]sweep.Alert, error)
}

// Handler serves the chain-of-custody form and signature endpoints.
type Handler struct {
	custody Service
	alerts  AlertSource
	logger  *slog.Logger
	public  []func(http.Handler) http.Handler
}

// Option configures the Handler.
type Option func(*Handler)

// WithPublicMiddleware wraps the unauthenticated form and signature routes,
// e.g. with a per-IP rate limit.
func WithPublicMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.public = append(h.public, mw...)
	}
}

func New(custody Service, alerts AlertSource, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{custody: custody, alerts: alerts, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the custody routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/coc", func(r chi.Router) {
		r.Post("/forms", h.handleGenerateForm)
		r.Post("/forms/{formId}/extend", h.handleExtendExpiration)
		r.Get("/alerts", h.handleAlerts)
		r.Group(func(r chi.Router) {
			r.Use(h.public...)
			r.Get("/form/{publicId}", h.handleGetForm)
			r.Post("/signatures", h.handleSubmitSignature)
			r.Post("/receipts/verify", h.handleVerifyReceipt)
		})
	})
}

type generateFormResponse struct {
	FormURL string       `json:"formUrl"`
	Created bool         `json:"created"`
	Form    *models.Form `json:"form"`
}

type verifyReceiptRequest struct {
	Receipt string `json:"receipt"`
}

type extendRequest struct {
	Days int `json:"days"`
}

type alertsResponse struct {
	Alerts []sweep.Alert `json:"alerts"`
	Count  int           `json:"count"`
}

func (h *Handler) handleGenerateForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req service.GenerateFormRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.custody.GenerateForm(ctx, req)
	if err != nil {
		h.writeError(ctx, w, "failed to generate coc form", err)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, generateFormResponse{
		FormURL: result.Form.FormURL,
		Created: result.Created,
		Form:    result.Form,
	})
}

func (h *Handler) handleGetForm(w http.ResponseWriter, r *http.Request) {
	view, err := h.custody.GetFormByPublicID(r.Context(), chi.URLParam(r, "publicId"))
	if err != nil {
		h.writeError(r.Context(), w, "failed to load coc form", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) handleSubmitSignature(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req service.SubmitSignatureRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.custody.SubmitSignature(ctx, req)
	if err != nil {
		h.writeError(ctx, w, "failed to record signature", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, result)
}

func (h *Handler) handleVerifyReceipt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req verifyReceiptRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	check, err := h.custody.VerifyReceipt(ctx, req.Receipt)
	if err != nil {
		h.writeError(ctx, w, "failed to verify receipt", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, check)
}

func (h *Handler) handleExtendExpiration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	formID, err := id.ParseFormID(chi.URLParam(r, "formId"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req extendRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	form, err := h.custody.ExtendExpiration(ctx, formID, req.Days)
	if err != nil {
		h.writeError(ctx, w, "failed to extend coc form", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, form)
}

func (h *Handler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.alerts.Alerts(r.Context())
	if err != nil {
		h.writeError(r.Context(), w, "failed to compute coc alerts", dErrors.Wrap(err, dErrors.CodeInternal, "failed to compute alerts"))
		return
	}
	if alerts == nil {
		alerts = []sweep.Alert{}
	}
	httputil.WriteJSON(w, http.StatusOK, alertsResponse{Alerts: alerts, Count: len(alerts)})
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
