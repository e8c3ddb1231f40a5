package models

import (
	"fmt"
	"strings"
	"time"

	id "custody/pkg/domain"
	dErrors "custody/pkg/domain-errors"
)

// Status is the stored chain-of-custody form state. Expired is never
// written by a transition; expiry is detected at query time with IsExpired.
type Status string

const (
	StatusGenerated  Status = "Generated"
	StatusInProgress Status = "InProgress"
	StatusCompleted  Status = "Completed"
	StatusExpired    Status = "Expired"
)

// IsTerminal reports whether the sweep should ignore forms in this status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusExpired
}

// Form collects the signatures that prove a manifest changed hands.
//
// Invariants:
//   - Generated -> InProgress on the first signature
//   - CompletedSignatures >= RequiredSignatures => Completed, stamped once
//   - Signatures past completion are counted but change nothing else
//   - A Completed form never expires; a zero ExpiresAt never expires
type Form struct {
	ID                  id.FormID     `json:"id"`
	PublicID            string        `json:"public_id"`
	ManifestID          id.ManifestID `json:"manifest_id"`
	FormURL             string        `json:"form_url"`
	Status              Status        `json:"status"`
	RequiredSignatures  int           `json:"required_signatures"`
	CompletedSignatures int           `json:"completed_signatures"`
	CreatedAt           time.Time     `json:"created_at"`
	ExpiresAt           time.Time     `json:"expires_at"`
	CompletedAt         time.Time     `json:"completed_at"`
	LastAccessedAt      time.Time     `json:"last_accessed_at"`
	AccessCount         int           `json:"access_count"`
}

// NewForm builds a Generated form reachable at {baseURL}/{publicID}. A
// non-positive expirationDays leaves the form without an expiry.
func NewForm(formID id.FormID, manifestID id.ManifestID, publicID, baseURL string, requiredSignatures, expirationDays int, now time.Time) (*Form, error) {
	if manifestID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "manifest is required")
	}
	if publicID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "form identifier is required")
	}
	if requiredSignatures < 1 {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("required signatures must be at least 1, got %d", requiredSignatures))
	}
	f := &Form{
		ID:                 formID,
		PublicID:           publicID,
		ManifestID:         manifestID,
		FormURL:            strings.TrimRight(baseURL, "/") + "/" + publicID,
		Status:             StatusGenerated,
		RequiredSignatures: requiredSignatures,
		CreatedAt:          now,
	}
	if expirationDays > 0 {
		f.ExpiresAt = now.AddDate(0, 0, expirationDays)
	}
	return f, nil
}

// IsExpired is a pure function of now and ExpiresAt. Completed forms and
// forms without an expiry are never expired.
func (f *Form) IsExpired(now time.Time) bool {
	if f.Status == StatusCompleted || f.ExpiresAt.IsZero() {
		return false
	}
	return now.After(f.ExpiresAt)
}

// EffectiveStatus is Status with query-time expiry applied.
func (f *Form) EffectiveStatus(now time.Time) Status {
	if f.IsExpired(now) {
		return StatusExpired
	}
	return f.Status
}

func (f *Form) IsComplete() bool {
	return f.Status == StatusCompleted
}

// RecordAccess counts a view of the form.
func (f *Form) RecordAccess(now time.Time) {
	f.AccessCount++
	f.LastAccessedAt = now
}

// AddSignature counts one signature and advances the status.
func (f *Form) AddSignature(now time.Time) {
	f.CompletedSignatures++
	if f.Status == StatusCompleted {
		return
	}
	if f.Status == StatusGenerated {
		f.Status = StatusInProgress
	}
	if f.CompletedSignatures >= f.RequiredSignatures {
		f.Status = StatusCompleted
		f.CompletedAt = now
	}
}

// ExtendExpiration pushes the expiry out by days, counted from the current
// expiry or from now when the form has none or has already lapsed.
func (f *Form) ExtendExpiration(days int, now time.Time) error {
	if f.Status == StatusCompleted {
		return dErrors.New(dErrors.CodeInvalidState, fmt.Sprintf("cannot extend expiration: form %s is Completed", f.PublicID))
	}
	if days < 1 {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("extension must be at least 1 day, got %d", days))
	}
	from := f.ExpiresAt
	if from.IsZero() || from.Before(now) {
		from = now
	}
	f.ExpiresAt = from.AddDate(0, 0, days)
	return nil
}

func (f *Form) Clone() *Form {
	cp := *f
	return &cp
}
