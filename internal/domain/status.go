package domain

// SignatureStatus is the local signature state. Remote vocabularies are
// mapped onto it by each provider adapter.
type SignatureStatus string

const (
	StatusPending    SignatureStatus = "pending"
	StatusInProgress SignatureStatus = "in_progress"
	StatusCompleted  SignatureStatus = "completed"
	StatusRejected   SignatureStatus = "rejected"
	StatusExpired    SignatureStatus = "expired"
	StatusError      SignatureStatus = "error"
)

var SignatureStatuses = []SignatureStatus{
	StatusPending, StatusInProgress, StatusCompleted, StatusRejected, StatusExpired, StatusError,
}

func (s SignatureStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusRejected, StatusExpired, StatusError:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed.
func (s SignatureStatus) Terminal() bool {
	return s != StatusPending && s != StatusInProgress
}

func (s SignatureStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusInProgress:
		return 1
	default:
		return 2
	}
}

// CanTransitionTo reports whether moving from s to next keeps the state
// machine monotonic: pending -> in_progress -> terminal, never backwards and
// never out of a terminal state. Staying put is always allowed.
func (s SignatureStatus) CanTransitionTo(next SignatureStatus) bool {
	if s == next {
		return true
	}
	if !next.Valid() || s.Terminal() {
		return false
	}
	return next.rank() >= s.rank()
}
