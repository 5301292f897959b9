package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Houmeecl/xpres-sub000/internal/domain"
)

const codeColumns = `id, document_id, signature_id, user_id, code_type, verification_code,
	status, expires_at, created_at, details`

func scanCode(row pgx.Row) (domain.VerificationCode, error) {
	var c domain.VerificationCode
	err := row.Scan(&c.ID, &c.DocumentID, &c.SignatureID, &c.UserID, &c.CodeType, &c.VerificationCode,
		&c.Status, &c.ExpiresAt, &c.CreatedAt, &c.Details)
	return c, err
}

func (db *DB) CreateCode(ctx context.Context, c domain.VerificationCode) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	details := c.Details
	if details == nil {
		details = map[string]string{}
	}
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO verification_codes (id, document_id, signature_id, user_id, code_type,
			verification_code, status, expires_at, created_at, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, c.ID, c.DocumentID, c.SignatureID, c.UserID, c.CodeType,
		c.VerificationCode, c.Status, c.ExpiresAt, c.CreatedAt, details)
	if uniqueViolation(err, "verification_codes_verification_code_key") {
		return domain.ErrDuplicateCode
	}
	return err
}

func (db *DB) GetCode(ctx context.Context, id string) (domain.VerificationCode, error) {
	c, err := scanCode(db.Pool.QueryRow(ctx, `SELECT `+codeColumns+` FROM verification_codes WHERE id = $1`, id))
	return c, notFound(err, domain.ErrCodeNotFound)
}

func (db *DB) GetCodeByValue(ctx context.Context, value string) (domain.VerificationCode, error) {
	c, err := scanCode(db.Pool.QueryRow(ctx,
		`SELECT `+codeColumns+` FROM verification_codes WHERE verification_code = $1`, value))
	return c, notFound(err, domain.ErrCodeNotFound)
}

func (db *DB) ListCodesByDocument(ctx context.Context, documentID int64) ([]domain.VerificationCode, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+codeColumns+` FROM verification_codes
		WHERE document_id = $1 ORDER BY created_at DESC
	`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.VerificationCode
	for rows.Next() {
		c, err := scanCode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// TransitionCode is a compare-and-set on status; of several concurrent
// callers with the same from, exactly one sees true.
func (db *DB) TransitionCode(ctx context.Context, id string, from, to domain.CodeStatus) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE verification_codes SET status = $3 WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, db.codeExists(ctx, id)
}

func (db *DB) RevokeCode(ctx context.Context, id string) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE verification_codes SET status = 'revoked' WHERE id = $1 AND status <> 'revoked'
	`, id)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, db.codeExists(ctx, id)
}

func (db *DB) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE verification_codes SET status = 'expired' WHERE status = 'active' AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (db *DB) codeExists(ctx context.Context, id string) error {
	var one int
	err := db.Pool.QueryRow(ctx, `SELECT 1 FROM verification_codes WHERE id = $1`, id).Scan(&one)
	return notFound(err, domain.ErrCodeNotFound)
}
