package tracking

import (
	"context"
	"time"
)

// SessionStore persists engagement sessions. RecordProgress must apply the
// monotonic rules atomically: scroll only ever ratchets up, dwell only ever
// accrues. MarkSatisfied is first-writer-wins so two concurrent heartbeats
// cannot both claim the satisfaction instant.
type SessionStore interface {
	Create(ctx context.Context, session *Session) error
	Get(ctx context.Context, token string) (*Session, error)
	RecordProgress(ctx context.Context, token string, scrollPct, dwellDelta float64) (*Session, error)
	MarkSatisfied(ctx context.Context, token string, at time.Time) (bool, error)
}
