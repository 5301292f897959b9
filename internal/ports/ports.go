package ports

import (
	"context"
	"time"

	"github.com/Houmeecl/xpres-sub000/internal/domain"
)

// RequestContext carries caller metadata recorded in the audit trail.
type RequestContext struct {
	IPAddress string
	UserAgent string
}

type InitiateRequest struct {
	DocumentID int64
	UserID     int64
	Type       domain.SignatureType
	// Provider overrides the default selection policy when set.
	Provider  domain.Provider
	ReturnURL string
	Request   *RequestContext
}

// SignatureResult is returned by initiate and complete. Failures are reported
// through Success, Status and Err rather than a Go error.
type SignatureResult struct {
	Success          bool
	SignatureID      string
	Provider         domain.Provider
	Status           domain.SignatureStatus
	RedirectURL      string
	VerificationCode string
	Details          domain.SignatureDetails
	Err              error
}

type ETokenProof struct {
	Certificate string
	Timestamp   string
	Signature   string
}

type SignatureVerification struct {
	IsValid   bool
	Signature domain.Signature
	Document  domain.Document
	Signer    domain.User
}

// Signatures is the Signature Orchestrator.
type Signatures interface {
	Initiate(ctx context.Context, req InitiateRequest) SignatureResult
	CheckStatus(ctx context.Context, signatureID string) (domain.SignatureStatus, error)
	GetDetails(ctx context.Context, signatureID string) (domain.SignatureDetails, error)
	CompleteEToken(ctx context.Context, signatureID string, proof ETokenProof, rc *RequestContext) SignatureResult
	CompleteSimple(ctx context.Context, signatureID string, imageData string, rc *RequestContext) SignatureResult
	VerifySignature(ctx context.Context, code string) (SignatureVerification, error)
}

type IssueRequest struct {
	Type        domain.CodeType
	DocumentID  int64
	SignatureID string
	UserID      int64
	// TTL and Size fall back to per-type defaults when zero.
	TTL     time.Duration
	Size    int
	Details map[string]string
	Request *RequestContext
}

type IssuedCode struct {
	CodeID    string
	Code      string
	URL       string
	Image     []byte
	ExpiresAt time.Time
	Type      domain.CodeType
}

// Redemption is the outcome of redeeming a code. It never carries a Go error;
// Reason is one of not_found, used, expired, revoked or error.
type Redemption struct {
	IsValid     bool
	CodeType    domain.CodeType
	DocumentID  int64
	SignatureID string
	Document    *domain.Document
	Signature   *SignatureSummary
	Details     map[string]string
	Reason      string
	Error       string
}

type SignatureSummary struct {
	Provider domain.Provider
	Type     domain.SignatureType
	Status   domain.SignatureStatus
}

// Codes is the Verification Code Service.
type Codes interface {
	Issue(ctx context.Context, req IssueRequest) (IssuedCode, error)
	Redeem(ctx context.Context, code string, rc *RequestContext) Redemption
	// RedeemAs is Redeem limited to the given types; other codes read as
	// not_found and are not consumed.
	RedeemAs(ctx context.Context, code string, accept []domain.CodeType, rc *RequestContext) Redemption
	Revoke(ctx context.Context, codeID string, rc *RequestContext) error
	Get(ctx context.Context, codeID string) (domain.VerificationCode, error)
	ListForDocument(ctx context.Context, documentID int64) ([]domain.VerificationCode, error)
}

// AuditTrail is the read side of the Audit Log Service.
type AuditTrail interface {
	SearchLogs(ctx context.Context, filter AuditFilter) []domain.AuditLogEntry
	GetActivityStats(ctx context.Context, from, to time.Time) domain.ActivityStats
}
