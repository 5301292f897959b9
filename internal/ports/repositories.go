package ports

import (
	"context"
	"time"

	"github.com/Houmeecl/xpres-sub000/internal/domain"
)

// DocumentRepository reads documents and users owned by other subsystems.
type DocumentRepository interface {
	GetDocument(ctx context.Context, id int64) (domain.Document, error)
	GetUser(ctx context.Context, id int64) (domain.User, error)
}

// SignatureRepository persists signatures and their document links.
type SignatureRepository interface {
	// CreateSignature inserts the signature and its document link in one
	// transaction. A verification code collision returns domain.ErrDuplicateCode.
	CreateSignature(ctx context.Context, sig domain.Signature) error
	GetSignature(ctx context.Context, id string) (domain.Signature, error)
	GetSignatureByCode(ctx context.Context, code string) (domain.Signature, error)
	// UpdateSignature merges details into the stored bag and moves the status
	// when the transition is allowed; a disallowed transition returns
	// domain.ErrInvalidState and leaves the row untouched.
	UpdateSignature(ctx context.Context, id string, status domain.SignatureStatus, details domain.SignatureDetails) (domain.Signature, error)
}

// CodeRepository persists verification codes. All status changes are
// conditional updates so that concurrent redemptions cannot both win.
type CodeRepository interface {
	CreateCode(ctx context.Context, code domain.VerificationCode) error
	GetCode(ctx context.Context, id string) (domain.VerificationCode, error)
	GetCodeByValue(ctx context.Context, value string) (domain.VerificationCode, error)
	ListCodesByDocument(ctx context.Context, documentID int64) ([]domain.VerificationCode, error)
	// TransitionCode sets status=to where status=from and reports whether
	// this call changed the row.
	TransitionCode(ctx context.Context, id string, from, to domain.CodeStatus) (bool, error)
	// RevokeCode sets status=revoked unless it already is.
	RevokeCode(ctx context.Context, id string) (bool, error)
	// ExpireOverdue marks every active code with expires_at <= now as expired.
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}

// AuditFilter narrows SearchAuditLogs. Zero values match everything.
type AuditFilter struct {
	ActionType domain.ActionType
	Category   domain.AuditCategory
	Severity   domain.Severity
	UserID     *int64
	DocumentID *int64
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

// AuditRepository is the durable, append-only audit store.
type AuditRepository interface {
	InsertAuditLog(ctx context.Context, entry domain.AuditLogEntry) error
	SearchAuditLogs(ctx context.Context, filter AuditFilter) ([]domain.AuditLogEntry, error)
	AuditActivityStats(ctx context.Context, from, to time.Time, topUsers int) (domain.ActivityStats, error)
}
