// Package receipt issues signed receipts for recorded custody signatures.
// A receipt lets a signer prove later which form they signed and when.
package receipt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"custody/internal/custody/models"
	dErrors "custody/pkg/domain-errors"
)

// Claims binds a receipt to one signature. Subject is the signer.
type Claims struct {
	SignatureID   string `json:"sid"`
	FormID        string `json:"fid"`
	ManifestID    string `json:"mid"`
	SignatureType string `json:"typ"`
	Digest        string `json:"dig"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies receipts with an HMAC key.
type Issuer struct {
	signingKey []byte
	issuer     string
}

func NewIssuer(signingKey, issuer string) *Issuer {
	return &Issuer{signingKey: []byte(signingKey), issuer: issuer}
}

// Issue returns an HS256 token for sig. Receipts do not expire.
func (i *Issuer) Issue(sig *models.Signature, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		SignatureID:   sig.ID.String(),
		FormID:        sig.FormID.String(),
		ManifestID:    sig.ManifestID.String(),
		SignatureType: string(sig.Type),
		Digest:        sig.Digest,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  sig.SignedBy,
			IssuedAt: jwt.NewNumericDate(now),
			Issuer:   i.issuer,
			ID:       sig.ID.String(),
		},
	})
	signed, err := token.SignedString(i.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign receipt")
	}
	return signed, nil
}

// Verify checks the token signature and issuer and returns its claims.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return i.signingKey, nil
	}, jwt.WithIssuer(i.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, dErrors.New(dErrors.CodeValidation, "receipt signature is invalid")
		}
		return nil, dErrors.New(dErrors.CodeValidation, "invalid receipt")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid receipt claims")
	}
	return claims, nil
}
