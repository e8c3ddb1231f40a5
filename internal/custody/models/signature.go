package models

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	id "custody/pkg/domain"
	dErrors "custody/pkg/domain-errors"
)

type SignatureType string

const (
	SignatureSender     SignatureType = "sender"
	SignatureReceiver   SignatureType = "receiver"
	SignatureWitness    SignatureType = "witness"
	SignaturePollWorker SignatureType = "poll_worker"
)

func (t SignatureType) IsValid() bool {
	switch t {
	case SignatureSender, SignatureReceiver, SignatureWitness, SignaturePollWorker:
		return true
	}
	return false
}

// Signature is one signer's acknowledgement on a form. Digest binds the
// signer, role, image and time to the form and manifest. SignedAt is kept
// at microsecond precision so the digest survives a database round trip.
type Signature struct {
	ID                id.SignatureID `json:"id"`
	FormID            id.FormID      `json:"form_id"`
	ManifestID        id.ManifestID  `json:"manifest_id"`
	SignedBy          string         `json:"signed_by"`
	Type              SignatureType  `json:"signature_type"`
	ImageURL          string         `json:"signature_image_url,omitempty"`
	SignedAt          time.Time      `json:"signed_at"`
	Digest            string         `json:"digest"`
	Device            string         `json:"device,omitempty"`
	DeviceFingerprint string         `json:"-"`
	ClientIP          string         `json:"-"`
}

func NewSignature(sigID id.SignatureID, form *Form, signedBy string, sigType SignatureType, imageURL string, now time.Time) (*Signature, error) {
	signedBy = strings.TrimSpace(signedBy)
	if signedBy == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "signer name is required")
	}
	if !sigType.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("invalid signature type: %q", sigType))
	}
	now = now.UTC().Truncate(time.Microsecond)
	sig := &Signature{
		ID:         sigID,
		FormID:     form.ID,
		ManifestID: form.ManifestID,
		SignedBy:   signedBy,
		Type:       sigType,
		ImageURL:   strings.TrimSpace(imageURL),
		SignedAt:   now,
	}
	sig.Digest = sig.computeDigest()
	return sig, nil
}

func (s *Signature) computeDigest() string {
	payload := strings.Join([]string{
		s.FormID.String(),
		s.ManifestID.String(),
		s.SignedBy,
		string(s.Type),
		s.ImageURL,
		s.SignedAt.UTC().Format(time.RFC3339Nano),
	}, "\x1f")
	sum := blake2b.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// VerifyDigest reports whether the stored digest still matches the fields.
func (s *Signature) VerifyDigest() bool {
	return s.Digest == s.computeDigest()
}
