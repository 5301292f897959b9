package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Houmeecl/xpres-sub000/internal/domain"
)

const signatureColumns = `id, document_id, user_id, provider, type, status, verification_code,
	provider_reference_id, details, created_at, updated_at`

func scanSignature(row pgx.Row) (domain.Signature, error) {
	var s domain.Signature
	err := row.Scan(&s.ID, &s.DocumentID, &s.UserID, &s.Provider, &s.Type, &s.Status, &s.VerificationCode,
		&s.ProviderReferenceID, &s.Details, &s.CreatedAt, &s.UpdatedAt)
	return s, notFound(err, domain.ErrSignatureNotFound)
}

func (db *DB) CreateSignature(ctx context.Context, sig domain.Signature) error {
	now := time.Now().UTC()
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = now
	}
	if sig.UpdatedAt.IsZero() {
		sig.UpdatedAt = sig.CreatedAt
	}
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO signatures (id, document_id, user_id, provider, type, status, verification_code,
				provider_reference_id, details, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, sig.ID, sig.DocumentID, sig.UserID, sig.Provider, sig.Type, sig.Status, sig.VerificationCode,
			sig.ProviderReferenceID, sig.Details, sig.CreatedAt, sig.UpdatedAt); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO document_signatures (document_id, signature_id, created_at) VALUES ($1, $2, $3)
		`, sig.DocumentID, sig.ID, sig.CreatedAt)
		return err
	})
	if uniqueViolation(err, "signatures_verification_code_key") {
		return domain.ErrDuplicateCode
	}
	return err
}

func (db *DB) GetSignature(ctx context.Context, id string) (domain.Signature, error) {
	return scanSignature(db.Pool.QueryRow(ctx, `SELECT `+signatureColumns+` FROM signatures WHERE id = $1`, id))
}

func (db *DB) GetSignatureByCode(ctx context.Context, code string) (domain.Signature, error) {
	return scanSignature(db.Pool.QueryRow(ctx,
		`SELECT `+signatureColumns+` FROM signatures WHERE verification_code = $1`, code))
}

// UpdateSignature locks the row so the transition check and the details merge
// see the same version that gets written.
func (db *DB) UpdateSignature(ctx context.Context, id string, status domain.SignatureStatus, details domain.SignatureDetails) (domain.Signature, error) {
	var out domain.Signature
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		cur, err := scanSignature(tx.QueryRow(ctx,
			`SELECT `+signatureColumns+` FROM signatures WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if !cur.Status.CanTransitionTo(status) {
			out = cur
			return domain.ErrInvalidState
		}
		cur.Status = status
		cur.Details = cur.Details.Merge(details)
		cur.UpdatedAt = time.Now().UTC()
		if _, err := tx.Exec(ctx, `
			UPDATE signatures SET status = $2, details = $3, updated_at = $4 WHERE id = $1
		`, id, cur.Status, cur.Details, cur.UpdatedAt); err != nil {
			return err
		}
		out = cur
		return nil
	})
	if err != nil && !errors.Is(err, domain.ErrInvalidState) {
		return domain.Signature{}, err
	}
	return out, err
}
