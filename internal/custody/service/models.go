package service

import (
	"time"

	"custody/internal/custody/models"
	id "custody/pkg/domain"
)

// Defaults applies when a generate request leaves a field unset.
type Defaults struct {
	BaseURL            string
	RequiredSignatures int
	ExpirationDays     int
}

// GenerateFormRequest asks for the chain-of-custody form of a manifest.
// Zero values take the service defaults.
type GenerateFormRequest struct {
	ManifestID         id.ManifestID `json:"manifestId"`
	BaseURL            string        `json:"baseUrl,omitempty"`
	RequiredSignatures int           `json:"requiredSignatures,omitempty"`
	ExpirationDays     int           `json:"expirationDays,omitempty"`
}

// GenerateFormResult reports whether an existing unexpired form was reused.
type GenerateFormResult struct {
	Form    *models.Form
	Created bool
}

// FormView is what a signer sees at the form URL.
type FormView struct {
	Form                *models.Form        `json:"form"`
	EffectiveStatus     models.Status       `json:"effective_status"`
	Expired             bool                `json:"expired"`
	RemainingSignatures int                 `json:"remaining_signatures"`
	Signatures          []*models.Signature `json:"signatures"`
}

// SubmitSignatureRequest signs the form identified by the chain-of-custody
// event ID, which is the form's record ID.
type SubmitSignatureRequest struct {
	FormID            id.FormID            `json:"chainOfCustodyEventId"`
	SignedBy          string               `json:"signedBy"`
	SignatureType     models.SignatureType `json:"signatureType"`
	SignatureImageURL string               `json:"signatureImageUrl,omitempty"`
}

// SignatureResult carries the recorded signature, the updated form and a
// signed receipt when a receipt issuer is configured. Expired is set when the
// form had lapsed at signing time.
type SignatureResult struct {
	Signature *models.Signature `json:"signature"`
	Form      *models.Form      `json:"form"`
	Expired   bool              `json:"expired"`
	Receipt   string            `json:"receipt,omitempty"`
}

// ReceiptCheck is returned for a receipt whose signature is still on record.
type ReceiptCheck struct {
	Signature *models.Signature `json:"signature"`
	IssuedAt  time.Time         `json:"issued_at"`
}
