package ports

import (
	"context"
	"time"
)

// PollRepository hands out remote signatures that are due for a status poll.
type PollRepository interface {
	// ClaimDuePolls returns up to limit non-terminal remote signatures last
	// polled before olderThan and stamps them as polled now, so that other
	// workers skip them.
	ClaimDuePolls(ctx context.Context, limit int, olderThan time.Time) ([]string, error)
}
