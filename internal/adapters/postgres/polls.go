package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// ClaimDuePolls stamps last_polled_at on the claimed rows inside the same
// transaction that selected them; SKIP LOCKED keeps concurrent pollers from
// claiming the same signature.
func (db *DB) ClaimDuePolls(ctx context.Context, limit int, olderThan time.Time) ([]string, error) {
	var ids []string
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id FROM signatures
			WHERE status IN ('pending', 'in_progress')
			  AND provider IN ('docusign', 'adobe_sign')
			  AND (last_polled_at IS NULL OR last_polled_at < $1)
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		`, olderThan, limit)
		if err != nil {
			return err
		}
		ids, err = pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		_, err = tx.Exec(ctx, `UPDATE signatures SET last_polled_at = now() WHERE id = ANY($1)`, ids)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
