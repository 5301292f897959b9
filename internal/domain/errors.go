package domain

import "errors"

// Error is a sentinel domain error. Compare with errors.Is.
type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrNotFound            = Error("not found")
	ErrInvalidState        = Error("invalid state")
	ErrProviderUnavailable = Error("provider unavailable")
	ErrExpired             = Error("expired")
	ErrAlreadyUsed         = Error("already used")
	ErrRevoked             = Error("revoked")
	ErrInvalidCode         = Error("invalid code")
	ErrInvalidInput        = Error("invalid input")
	ErrDuplicateCode       = Error("duplicate verification code")
)

// kindError is a specific error that also matches its broader kind.
type kindError struct {
	msg  string
	kind error
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

func kind(msg string, k error) error { return &kindError{msg: msg, kind: k} }

var (
	ErrDocumentNotFound     = kind("document not found", ErrNotFound)
	ErrUserNotFound         = kind("user not found", ErrNotFound)
	ErrSignatureNotFound    = kind("signature not found", ErrNotFound)
	ErrCodeNotFound         = kind("verification code not found", ErrNotFound)
	ErrProviderMismatch     = kind("provider mismatch", ErrInvalidState)
	ErrNotCompleted         = kind("signature not completed", ErrInvalidState)
	ErrDocumentHasNoContent = kind("document has no content", ErrInvalidInput)
	ErrInvalidProof         = kind("invalid signing proof", ErrInvalidInput)
)

// Reason returns the short machine-readable reason for err, used by callers
// to render a specific message.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDocumentHasNoContent):
		return "document_has_no_content"
	case errors.Is(err, ErrProviderMismatch):
		return "provider_mismatch"
	case errors.Is(err, ErrNotCompleted):
		return "not_completed"
	case errors.Is(err, ErrInvalidProof):
		return "invalid_proof"
	case errors.Is(err, ErrCodeNotFound), errors.Is(err, ErrInvalidCode):
		return "not_found"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyUsed):
		return "used"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrRevoked):
		return "revoked"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	}
	return "error"
}
