package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"custody/internal/custody/metrics"
	"custody/internal/custody/models"
	"custody/internal/custody/receipt"
	manifestModels "custody/internal/manifest/models"
	id "custody/pkg/domain"
	dErrors "custody/pkg/domain-errors"
	"custody/pkg/platform/audit"
	"custody/pkg/platform/device"
	"custody/pkg/platform/idgen"
	"custody/pkg/platform/sentinel"
	"custody/pkg/platform/tx"
	"custody/pkg/requestcontext"
)

const (
	entityForm          = "coc_form"
	publicIDAttempts    = 3
	defaultRequired     = 2
	defaultExpiryDays   = 30
	defaultFormBasePath = "/coc/form"
)

// Store is the form and signature persistence contract.
type Store interface {
	LockManifest(ctx context.Context, manifestID id.ManifestID) error
	CreateForm(ctx context.Context, form *models.Form) error
	FindFormByID(ctx context.Context, formID id.FormID) (*models.Form, error)
	FindFormByIDForUpdate(ctx context.Context, formID id.FormID) (*models.Form, error)
	FindFormByPublicID(ctx context.Context, publicID string) (*models.Form, error)
	ListFormsByManifest(ctx context.Context, manifestID id.ManifestID) ([]*models.Form, error)
	UpdateForm(ctx context.Context, form *models.Form) error
	CreateSignature(ctx context.Context, sig *models.Signature) error
	ListSignaturesByManifest(ctx context.Context, manifestID id.ManifestID) ([]*models.Signature, error)
}

type ManifestReader interface {
	FindByID(ctx context.Context, manifestID id.ManifestID) (*manifestModels.Manifest, error)
}

type ReceiptIssuer interface {
	Issue(sig *models.Signature, now time.Time) (string, error)
	Verify(token string) (*receipt.Claims, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, action audit.Action, entityType, entityID, detail string) error
}

// Service manages chain-of-custody forms and their signatures.
type Service struct {
	store          Store
	manifests      ManifestReader
	tx             tx.Runner
	defaults       Defaults
	receipts       ReceiptIssuer
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
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

func WithReceiptIssuer(issuer ReceiptIssuer) Option {
	return func(s *Service) {
		s.receipts = issuer
	}
}

// WithDefaults overrides the non-zero fields of the built-in defaults.
func WithDefaults(d Defaults) Option {
	return func(s *Service) {
		if d.BaseURL != "" {
			s.defaults.BaseURL = d.BaseURL
		}
		if d.RequiredSignatures > 0 {
			s.defaults.RequiredSignatures = d.RequiredSignatures
		}
		if d.ExpirationDays > 0 {
			s.defaults.ExpirationDays = d.ExpirationDays
		}
	}
}

func New(store Store, manifests ManifestReader, runner tx.Runner, opts ...Option) *Service {
	s := &Service{
		store:     store,
		manifests: manifests,
		tx:        runner,
		defaults: Defaults{
			BaseURL:            defaultFormBasePath,
			RequiredSignatures: defaultRequired,
			ExpirationDays:     defaultExpiryDays,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateForm returns the manifest's unexpired form when one exists, and
// otherwise creates a new one.
func (s *Service) GenerateForm(ctx context.Context, req GenerateFormRequest) (*GenerateFormResult, error) {
	if req.ManifestID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "manifestId is required")
	}
	if req.RequiredSignatures < 0 {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("required signatures must be positive, got %d", req.RequiredSignatures))
	}
	if req.ExpirationDays < 0 {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("expiration days must be positive, got %d", req.ExpirationDays))
	}
	required := cmp.Or(req.RequiredSignatures, s.defaults.RequiredSignatures)
	days := cmp.Or(req.ExpirationDays, s.defaults.ExpirationDays)
	baseURL := strings.TrimSpace(req.BaseURL)
	if baseURL == "" {
		baseURL = s.defaults.BaseURL
	}
	now := requestcontext.Now(ctx)

	if s.manifests != nil {
		if _, err := s.manifests.FindByID(ctx, req.ManifestID); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("manifest not found: %s", req.ManifestID))
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load manifest")
		}
	}

	result := &GenerateFormResult{}
	err := s.tx.RunInTx(tx.WithShardKey(ctx, req.ManifestID.String()), func(ctx context.Context) error {
		if err := s.store.LockManifest(ctx, req.ManifestID); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to lock manifest forms")
		}
		existing, err := s.store.ListFormsByManifest(ctx, req.ManifestID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load forms")
		}
		for _, form := range existing {
			if !form.IsExpired(now) {
				result.Form = form
				return nil
			}
		}

		for attempt := 0; ; attempt++ {
			form, err := models.NewForm(id.NewFormID(), req.ManifestID, idgen.FormPublicID(), baseURL, required, days, now)
			if err != nil {
				return err
			}
			err = s.store.CreateForm(ctx, form)
			if errors.Is(err, sentinel.ErrAlreadyUsed) && attempt+1 < publicIDAttempts {
				continue
			}
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save form")
			}
			result.Form = form
			result.Created = true
			return s.emit(ctx, audit.EventFormGenerated, form, form.PublicID)
		}
	})
	if err != nil {
		return nil, err
	}

	if result.Created {
		s.metrics.IncrementFormsGenerated()
		s.logInfo(ctx, "coc form generated",
			"form_id", result.Form.ID.String(),
			"public_id", result.Form.PublicID,
			"manifest_id", req.ManifestID.String(),
			"required_signatures", required,
		)
	}
	return result, nil
}

// GetFormByPublicID resolves a form URL identifier, counts the view and
// returns the form with every signature on its manifest.
func (s *Service) GetFormByPublicID(ctx context.Context, publicID string) (*FormView, error) {
	publicID = strings.ToUpper(strings.TrimSpace(publicID))
	if publicID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "form identifier is required")
	}
	found, err := s.store.FindFormByPublicID(ctx, publicID)
	if err != nil {
		return nil, wrapFormErr(err, publicID, "failed to load form")
	}

	now := requestcontext.Now(ctx)
	var form *models.Form
	err = s.tx.RunInTx(tx.WithShardKey(ctx, found.ID.String()), func(ctx context.Context) error {
		var err error
		form, err = s.store.FindFormByIDForUpdate(ctx, found.ID)
		if err != nil {
			return wrapFormErr(err, publicID, "failed to load form")
		}
		form.RecordAccess(now)
		if err := s.store.UpdateForm(ctx, form); err != nil {
			return wrapFormErr(err, publicID, "failed to record form access")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sigs, err := s.store.ListSignaturesByManifest(ctx, form.ManifestID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load signatures")
	}
	return &FormView{
		Form:                form,
		EffectiveStatus:     form.EffectiveStatus(now),
		Expired:             form.IsExpired(now),
		RemainingSignatures: max(form.RequiredSignatures-form.CompletedSignatures, 0),
		Signatures:          sigs,
	}, nil
}

// SubmitSignature records a signature against a form. Expiry is reported on
// the result but not enforced; completed forms still accept additional
// signatures.
func (s *Service) SubmitSignature(ctx context.Context, req SubmitSignatureRequest) (*SignatureResult, error) {
	if req.FormID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "chainOfCustodyEventId is required")
	}
	now := requestcontext.Now(ctx)
	dev := device.Parse(requestcontext.UserAgent(ctx))

	var (
		sig          *models.Signature
		form         *models.Form
		justComplete bool
		expired      bool
	)
	err := s.tx.RunInTx(tx.WithShardKey(ctx, req.FormID.String()), func(ctx context.Context) error {
		var err error
		form, err = s.store.FindFormByIDForUpdate(ctx, req.FormID)
		if err != nil {
			return wrapFormErr(err, req.FormID.String(), "failed to load form")
		}
		expired = form.IsExpired(now)

		sig, err = models.NewSignature(id.NewSignatureID(), form, req.SignedBy, req.SignatureType, req.SignatureImageURL, now)
		if err != nil {
			return err
		}
		sig.Device = dev.DisplayName
		sig.DeviceFingerprint = dev.Fingerprint
		sig.ClientIP = requestcontext.ClientIP(ctx)
		if err := s.store.CreateSignature(ctx, sig); err != nil {
			return wrapFormErr(err, req.FormID.String(), "failed to save signature")
		}

		wasComplete := form.IsComplete()
		form.AddSignature(now)
		justComplete = !wasComplete && form.IsComplete()
		if err := s.store.UpdateForm(ctx, form); err != nil {
			return wrapFormErr(err, req.FormID.String(), "failed to save form")
		}
		if err := s.emit(ctx, audit.EventSignatureRecorded, form, fmt.Sprintf("%s (%s)", sig.SignedBy, sig.Type)); err != nil {
			return err
		}
		if justComplete {
			return s.emit(ctx, audit.EventFormCompleted, form, fmt.Sprintf("%d of %d signatures", form.CompletedSignatures, form.RequiredSignatures))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &SignatureResult{Signature: sig, Form: form, Expired: expired}
	if s.receipts != nil {
		receipt, err := s.receipts.Issue(sig, now)
		if err != nil {
			return nil, err
		}
		result.Receipt = receipt
	}

	s.metrics.IncrementSignatures(string(sig.Type))
	s.logInfo(ctx, "signature recorded",
		"form_id", form.ID.String(),
		"signature_id", sig.ID.String(),
		"signature_type", string(sig.Type),
		"completed_signatures", form.CompletedSignatures,
		"form_completed", justComplete,
		"form_expired", expired,
	)
	return result, nil
}

// VerifyReceipt checks a signer's receipt and confirms the signature it names
// is still on record with the same digest.
func (s *Service) VerifyReceipt(ctx context.Context, token string) (*ReceiptCheck, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "receipt is required")
	}
	if s.receipts == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "receipt verification is not enabled")
	}
	claims, err := s.receipts.Verify(token)
	if err != nil {
		return nil, err
	}
	manifestID, err := id.ParseManifestID(claims.ManifestID)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid receipt claims")
	}

	sigs, err := s.store.ListSignaturesByManifest(ctx, manifestID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load signatures")
	}
	for _, sig := range sigs {
		if sig.ID.String() != claims.SignatureID {
			continue
		}
		if sig.Digest != claims.Digest {
			return nil, dErrors.New(dErrors.CodeConflict, fmt.Sprintf("signature %s does not match its receipt", sig.ID))
		}
		check := &ReceiptCheck{Signature: sig}
		if claims.IssuedAt != nil {
			check.IssuedAt = claims.IssuedAt.Time
		}
		return check, nil
	}
	return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("signature not found: %s", claims.SignatureID))
}

// ExtendExpiration pushes an incomplete form's expiry out by days.
func (s *Service) ExtendExpiration(ctx context.Context, formID id.FormID, days int) (*models.Form, error) {
	now := requestcontext.Now(ctx)
	var form *models.Form
	err := s.tx.RunInTx(tx.WithShardKey(ctx, formID.String()), func(ctx context.Context) error {
		var err error
		form, err = s.store.FindFormByIDForUpdate(ctx, formID)
		if err != nil {
			return wrapFormErr(err, formID.String(), "failed to load form")
		}
		if err := form.ExtendExpiration(days, now); err != nil {
			return err
		}
		if err := s.store.UpdateForm(ctx, form); err != nil {
			return wrapFormErr(err, formID.String(), "failed to save form")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logInfo(ctx, "coc form expiration extended", "form_id", formID.String(), "expires_at", form.ExpiresAt)
	return form, nil
}

func (s *Service) emit(ctx context.Context, action audit.Action, form *models.Form, detail string) error {
	if s.auditPublisher == nil {
		return nil
	}
	if err := s.auditPublisher.Emit(ctx, action, entityForm, form.ID.String(), detail); err != nil {
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

func wrapFormErr(err error, ref, msg string) error {
	var de *dErrors.Error
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("coc form not found: %s", ref))
	case errors.As(err, &de):
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
