package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Houmeecl/xpres-sub000/internal/domain"
	"github.com/Houmeecl/xpres-sub000/internal/ports"
)

func (db *DB) InsertAuditLog(ctx context.Context, e domain.AuditLogEntry) error {
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO audit_logs (id, action_type, category, severity, user_id, document_id,
			ip_address, user_agent, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10)
	`, e.ID, e.ActionType, e.Category, e.Severity, e.UserID, e.DocumentID,
		e.IPAddress, e.UserAgent, details, e.CreatedAt)
	return err
}

// where accumulates AND-ed predicates with positional arguments.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, len(w.args)))
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func (db *DB) SearchAuditLogs(ctx context.Context, f ports.AuditFilter) ([]domain.AuditLogEntry, error) {
	var w where
	if f.ActionType != "" {
		w.add("action_type = $%d", f.ActionType)
	}
	if f.Category != "" {
		w.add("category = $%d", f.Category)
	}
	if f.Severity != "" {
		w.add("severity = $%d", f.Severity)
	}
	if f.UserID != nil {
		w.add("user_id = $%d", *f.UserID)
	}
	if f.DocumentID != nil {
		w.add("document_id = $%d", *f.DocumentID)
	}
	if f.From != nil {
		w.add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		w.add("created_at <= $%d", *f.To)
	}
	q := `SELECT id, action_type, category, severity, user_id, document_id,
		COALESCE(ip_address, ''), COALESCE(user_agent, ''), details, created_at
		FROM audit_logs` + w.String() + ` ORDER BY created_at DESC, id`
	args := w.args
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.AuditLogEntry
	for rows.Next() {
		var e domain.AuditLogEntry
		if err := rows.Scan(&e.ID, &e.ActionType, &e.Category, &e.Severity, &e.UserID, &e.DocumentID,
			&e.IPAddress, &e.UserAgent, &e.Details, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (db *DB) AuditActivityStats(ctx context.Context, from, to time.Time, topUsers int) (domain.ActivityStats, error) {
	stats := domain.ActivityStats{
		From:       from,
		To:         to,
		ByCategory: map[domain.AuditCategory]int64{},
		BySeverity: map[domain.Severity]int64{},
		ByAction:   map[domain.ActionType]int64{},
		ByDay:      map[string]int64{},
	}
	const rng = `created_at >= $1 AND created_at <= $2`

	if err := db.Pool.QueryRow(ctx, `SELECT count(*) FROM audit_logs WHERE `+rng, from, to).
		Scan(&stats.Total); err != nil {
		return stats, err
	}
	groups := []struct {
		col  string
		into func(key string, n int64)
	}{
		{"category", func(k string, n int64) { stats.ByCategory[domain.AuditCategory(k)] = n }},
		{"severity", func(k string, n int64) { stats.BySeverity[domain.Severity(k)] = n }},
		{"action_type", func(k string, n int64) { stats.ByAction[domain.ActionType(k)] = n }},
		{"to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD')", func(k string, n int64) { stats.ByDay[k] = n }},
	}
	for _, g := range groups {
		if err := db.countBy(ctx, g.col, rng, from, to, g.into); err != nil {
			return stats, err
		}
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT user_id, count(*) AS n FROM audit_logs
		WHERE `+rng+` AND user_id IS NOT NULL
		GROUP BY user_id ORDER BY n DESC, user_id
		LIMIT $3
	`, from, to, topUsers)
	if err != nil {
		return stats, err
	}
	stats.TopUsers, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.UserActivity, error) {
		var u domain.UserActivity
		err := row.Scan(&u.UserID, &u.Count)
		return u, err
	})
	return stats, err
}

func (db *DB) countBy(ctx context.Context, col, rng string, from, to time.Time, into func(string, int64)) error {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+col+`, count(*) FROM audit_logs WHERE `+rng+` GROUP BY 1`, from, to)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key string
			n   int64
		)
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		into(key, n)
	}
	return rows.Err()
}
