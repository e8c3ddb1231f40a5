package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"custody/internal/custody/models"
	"custody/internal/platform/postgres"
	id "custody/pkg/domain"
	"custody/pkg/platform/sentinel"
	txcontext "custody/pkg/platform/tx"
)

// PostgresStore persists forms in coc_forms and signatures in
// coc_signatures. Statements join the transaction bound to ctx.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const formColumns = `id, public_id, manifest_id, form_url, status, required_signatures, completed_signatures,
	created_at, expires_at, completed_at, last_accessed_at, access_count`

const signatureColumns = `id, form_id, manifest_id, signed_by, signature_type, image_url, signed_at,
	digest, device, device_fingerprint, client_ip`

func (s *PostgresStore) CreateForm(ctx context.Context, form *models.Form) error {
	_, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, `
		INSERT INTO coc_forms (`+formColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		uuid.UUID(form.ID), form.PublicID, uuid.UUID(form.ManifestID), form.FormURL, string(form.Status),
		form.RequiredSignatures, form.CompletedSignatures, form.CreatedAt,
		postgres.NullTime(form.ExpiresAt), postgres.NullTime(form.CompletedAt),
		postgres.NullTime(form.LastAccessedAt), form.AccessCount,
	)
	if postgres.IsUniqueViolation(err) {
		return sentinel.ErrAlreadyUsed
	}
	if err != nil {
		return fmt.Errorf("insert coc form: %w", err)
	}
	return nil
}

// LockManifest takes a transaction-scoped advisory lock on the manifest so
// concurrent form generation for it runs one at a time. It must be called
// inside a unit of work; the lock is released at commit or rollback.
func (s *PostgresStore) LockManifest(ctx context.Context, manifestID id.ManifestID) error {
	_, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, manifestID.String())
	if err != nil {
		return fmt.Errorf("lock manifest forms: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindFormByID(ctx context.Context, formID id.FormID) (*models.Form, error) {
	return s.findForm(ctx, `SELECT `+formColumns+` FROM coc_forms WHERE id = $1`, uuid.UUID(formID))
}

func (s *PostgresStore) FindFormByIDForUpdate(ctx context.Context, formID id.FormID) (*models.Form, error) {
	return s.findForm(ctx, `SELECT `+formColumns+` FROM coc_forms WHERE id = $1 FOR UPDATE`, uuid.UUID(formID))
}

func (s *PostgresStore) FindFormByPublicID(ctx context.Context, publicID string) (*models.Form, error) {
	return s.findForm(ctx, `SELECT `+formColumns+` FROM coc_forms WHERE public_id = $1`, publicID)
}

func (s *PostgresStore) ListFormsByManifest(ctx context.Context, manifestID id.ManifestID) ([]*models.Form, error) {
	return s.listForms(ctx, `
		SELECT `+formColumns+` FROM coc_forms WHERE manifest_id = $1 ORDER BY created_at DESC, public_id
	`, uuid.UUID(manifestID))
}

func (s *PostgresStore) ListNonTerminalForms(ctx context.Context) ([]*models.Form, error) {
	return s.listForms(ctx, `
		SELECT `+formColumns+` FROM coc_forms WHERE status NOT IN ($1, $2) ORDER BY created_at, public_id
	`, string(models.StatusCompleted), string(models.StatusExpired))
}

func (s *PostgresStore) UpdateForm(ctx context.Context, form *models.Form) error {
	res, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, `
		UPDATE coc_forms SET
			status = $2, completed_signatures = $3, expires_at = $4, completed_at = $5,
			last_accessed_at = $6, access_count = $7
		WHERE id = $1
	`,
		uuid.UUID(form.ID), string(form.Status), form.CompletedSignatures,
		postgres.NullTime(form.ExpiresAt), postgres.NullTime(form.CompletedAt),
		postgres.NullTime(form.LastAccessedAt), form.AccessCount,
	)
	if err != nil {
		return fmt.Errorf("update coc form: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateSignature(ctx context.Context, sig *models.Signature) error {
	_, err := txcontext.ExecutorFrom(ctx, s.db).ExecContext(ctx, `
		INSERT INTO coc_signatures (`+signatureColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		uuid.UUID(sig.ID), uuid.UUID(sig.FormID), uuid.UUID(sig.ManifestID), sig.SignedBy,
		string(sig.Type), sig.ImageURL, sig.SignedAt, sig.Digest,
		sig.Device, sig.DeviceFingerprint, sig.ClientIP,
	)
	if err != nil {
		return fmt.Errorf("insert coc signature: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSignaturesByForm(ctx context.Context, formID id.FormID) ([]*models.Signature, error) {
	return s.listSignatures(ctx, `
		SELECT `+signatureColumns+` FROM coc_signatures WHERE form_id = $1 ORDER BY signed_at, id
	`, uuid.UUID(formID))
}

func (s *PostgresStore) ListSignaturesByManifest(ctx context.Context, manifestID id.ManifestID) ([]*models.Signature, error) {
	return s.listSignatures(ctx, `
		SELECT `+signatureColumns+` FROM coc_signatures WHERE manifest_id = $1 ORDER BY signed_at, id
	`, uuid.UUID(manifestID))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) findForm(ctx context.Context, query string, arg any) (*models.Form, error) {
	form, err := scanForm(txcontext.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return form, err
}

func (s *PostgresStore) listForms(ctx context.Context, query string, args ...any) ([]*models.Form, error) {
	rows, err := txcontext.ExecutorFrom(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query coc forms: %w", err)
	}
	defer rows.Close()
	var forms []*models.Form
	for rows.Next() {
		form, err := scanForm(rows)
		if err != nil {
			return nil, err
		}
		forms = append(forms, form)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate coc forms: %w", err)
	}
	return forms, nil
}

func scanForm(row rowScanner) (*models.Form, error) {
	var (
		formID, manifestID               uuid.UUID
		status                           string
		expiresAt, completedAt, accessed sql.NullTime
		f                                models.Form
	)
	err := row.Scan(&formID, &f.PublicID, &manifestID, &f.FormURL, &status,
		&f.RequiredSignatures, &f.CompletedSignatures, &f.CreatedAt,
		&expiresAt, &completedAt, &accessed, &f.AccessCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan coc form: %w", err)
	}
	f.ID = id.FormID(formID)
	f.ManifestID = id.ManifestID(manifestID)
	f.Status = models.Status(status)
	f.CreatedAt = f.CreatedAt.UTC()
	f.ExpiresAt = postgres.TimeOrZero(expiresAt)
	f.CompletedAt = postgres.TimeOrZero(completedAt)
	f.LastAccessedAt = postgres.TimeOrZero(accessed)
	return &f, nil
}

func (s *PostgresStore) listSignatures(ctx context.Context, query string, arg any) ([]*models.Signature, error) {
	rows, err := txcontext.ExecutorFrom(ctx, s.db).QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query coc signatures: %w", err)
	}
	defer rows.Close()
	sigs := []*models.Signature{}
	for rows.Next() {
		var (
			sigID, formID, manifestID uuid.UUID
			sigType                   string
			sig                       models.Signature
		)
		if err := rows.Scan(&sigID, &formID, &manifestID, &sig.SignedBy, &sigType, &sig.ImageURL,
			&sig.SignedAt, &sig.Digest, &sig.Device, &sig.DeviceFingerprint, &sig.ClientIP); err != nil {
			return nil, fmt.Errorf("scan coc signature: %w", err)
		}
		sig.ID = id.SignatureID(sigID)
		sig.FormID = id.FormID(formID)
		sig.ManifestID = id.ManifestID(manifestID)
		sig.Type = models.SignatureType(sigType)
		sig.SignedAt = sig.SignedAt.UTC()
		sigs = append(sigs, &sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate coc signatures: %w", err)
	}
	return sigs, nil
}
