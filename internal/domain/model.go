package domain

import "time"

// Core domain models used internally. Documents and users belong to other
// subsystems and are read-only here.

type Document struct {
	ID        int64
	Title     string
	Content   string
	Status    string
	CreatedAt time.Time
}

// HasContent reports whether the document carries anything to sign.
func (d Document) HasContent() bool {
	for _, r := range d.Content {
		if r != ' ' && r != '\n' && r != '\t' && r != '\r' {
			return true
		}
	}
	return false
}

type User struct {
	ID       int64
	Email    string
	FullName string
}

// Provider names the backend that carries out a signature.
type Provider string

const (
	ProviderDocuSign  Provider = "docusign"
	ProviderAdobeSign Provider = "adobe_sign"
	ProviderEToken    Provider = "etoken"
	ProviderSimple    Provider = "simple"
)

// Providers lists every provider in selection order for remote envelopes first.
var Providers = []Provider{ProviderDocuSign, ProviderAdobeSign, ProviderEToken, ProviderSimple}

func (p Provider) Valid() bool {
	switch p {
	case ProviderDocuSign, ProviderAdobeSign, ProviderEToken, ProviderSimple:
		return true
	}
	return false
}

// Remote reports whether the provider keeps envelopes on a remote system.
func (p Provider) Remote() bool {
	return p == ProviderDocuSign || p == ProviderAdobeSign
}

type SignatureType string

const (
	SignatureSimple    SignatureType = "simple"
	SignatureAdvanced  SignatureType = "advanced"
	SignatureQualified SignatureType = "qualified"
)

func (t SignatureType) Valid() bool {
	switch t {
	case SignatureSimple, SignatureAdvanced, SignatureQualified:
		return true
	}
	return false
}

type Signature struct {
	ID                  string
	DocumentID          int64
	UserID              int64
	Provider            Provider
	Type                SignatureType
	Status              SignatureStatus
	VerificationCode    string
	ProviderReferenceID *string
	Details             SignatureDetails
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// DocumentSignatureLink associates a signature with the document it signs.
type DocumentSignatureLink struct {
	DocumentID  int64
	SignatureID string
	CreatedAt   time.Time
}

type CodeType string

const (
	CodeDocumentVerification  CodeType = "document_verification"
	CodeSignatureVerification CodeType = "signature_verification"
	CodeMobileSigning         CodeType = "mobile_signing"
	CodeAccessLink            CodeType = "access_link"
)

func (t CodeType) Valid() bool {
	switch t {
	case CodeDocumentVerification, CodeSignatureVerification, CodeMobileSigning, CodeAccessLink:
		return true
	}
	return false
}

// SingleUse reports whether a successful redemption consumes the code.
func (t CodeType) SingleUse() bool { return t == CodeMobileSigning }

type CodeStatus string

const (
	CodeActive  CodeStatus = "active"
	CodeUsed    CodeStatus = "used"
	CodeExpired CodeStatus = "expired"
	CodeRevoked CodeStatus = "revoked"
)

type VerificationCode struct {
	ID               string
	DocumentID       int64
	SignatureID      *string
	UserID           *int64
	CodeType         CodeType
	VerificationCode string
	Status           CodeStatus
	ExpiresAt        time.Time
	CreatedAt        time.Time
	Details          map[string]string
}

// Expired reports whether the code is past its expiry at now.
func (c VerificationCode) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

type AuditCategory string

const (
	CategoryDocument  AuditCategory = "document"
	CategoryIdentity  AuditCategory = "identity"
	CategorySignature AuditCategory = "signature"
	CategoryUser      AuditCategory = "user"
	CategorySecurity  AuditCategory = "security"
	CategoryAdmin     AuditCategory = "admin"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

type ActionType string

const (
	ActionSignatureInitiated   ActionType = "signature_initiated"
	ActionSignatureCompleted   ActionType = "signature_completed"
	ActionSignatureStatusCheck ActionType = "signature_status_checked"
	ActionSignatureVerified    ActionType = "signature_verified"
	ActionDocumentVerified     ActionType = "document_verified"
	ActionCodeIssued           ActionType = "verification_code_issued"
	ActionCodeRedeemed         ActionType = "verification_code_redeemed"
	ActionCodeRejected         ActionType = "verification_code_rejected"
	ActionCodeRevoked          ActionType = "verification_code_revoked"
	ActionIdentityStarted      ActionType = "identity_verification_started"
	ActionIdentityCompleted    ActionType = "identity_verification_completed"
	ActionIdentityFailed       ActionType = "identity_verification_failed"
	ActionUserLogin            ActionType = "user_login"
)

// AuditLogEntry is an immutable fact. Nothing updates or deletes it.
type AuditLogEntry struct {
	ID         string         `json:"id"`
	ActionType ActionType     `json:"actionType"`
	Category   AuditCategory  `json:"category"`
	Severity   Severity       `json:"severity"`
	UserID     *int64         `json:"userId,omitempty"`
	DocumentID *int64         `json:"documentId,omitempty"`
	IPAddress  string         `json:"ipAddress,omitempty"`
	UserAgent  string         `json:"userAgent,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// ActivityStats aggregates audit entries over a date range.
type ActivityStats struct {
	From       time.Time
	To         time.Time
	Total      int64
	ByCategory map[AuditCategory]int64
	BySeverity map[Severity]int64
	ByAction   map[ActionType]int64
	ByDay      map[string]int64
	TopUsers   []UserActivity
}

type UserActivity struct {
	UserID int64
	Count  int64
}
