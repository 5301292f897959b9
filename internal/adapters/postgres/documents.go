package postgres

import (
	"context"

	"github.com/Houmeecl/xpres-sub000/internal/domain"
)

func (db *DB) GetDocument(ctx context.Context, id int64) (domain.Document, error) {
	var d domain.Document
	err := db.Pool.QueryRow(ctx, `
		SELECT id, title, content, status, created_at FROM documents WHERE id = $1
	`, id).Scan(&d.ID, &d.Title, &d.Content, &d.Status, &d.CreatedAt)
	return d, notFound(err, domain.ErrDocumentNotFound)
}

func (db *DB) GetUser(ctx context.Context, id int64) (domain.User, error) {
	var u domain.User
	err := db.Pool.QueryRow(ctx, `SELECT id, email, full_name FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.FullName)
	return u, notFound(err, domain.ErrUserNotFound)
}
