package receipt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custody/internal/custody/models"
	id "custody/pkg/domain"
	dErrors "custody/pkg/domain-errors"
)

func signature(t *testing.T) *models.Signature {
	t.Helper()
	now := time.Date(2026, 10, 9, 12, 0, 0, 0, time.UTC)
	form, err := models.NewForm(id.NewFormID(), id.NewManifestID(), "ABCDEF012345", "", 2, 30, now)
	require.NoError(t, err)
	sig, err := models.NewSignature(id.NewSignatureID(), form, "Dana", models.SignatureReceiver, "", now)
	require.NoError(t, err)
	return sig
}

func TestIssueAndVerify(t *testing.T) {
	issuer := NewIssuer("test-key", "custody")
	sig := signature(t)

	token, err := issuer.Issue(sig, sig.SignedAt)
	require.NoError(t, err)

	claims, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, sig.ID.String(), claims.SignatureID)
	assert.Equal(t, sig.FormID.String(), claims.FormID)
	assert.Equal(t, sig.Digest, claims.Digest)
	assert.Equal(t, "Dana", claims.Subject)
	assert.Equal(t, "receiver", claims.SignatureType)
}

func TestVerifyRejectsForeignTokens(t *testing.T) {
	sig := signature(t)
	token, err := NewIssuer("other-key", "custody").Issue(sig, sig.SignedAt)
	require.NoError(t, err)

	_, err = NewIssuer("test-key", "custody").Verify(token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	token, err = NewIssuer("test-key", "someone-else").Issue(sig, sig.SignedAt)
	require.NoError(t, err)
	_, err = NewIssuer("test-key", "custody").Verify(token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = NewIssuer("test-key", "custody").Verify("not-a-token")
	assert.Error(t, err)
}
