package audit

import (
	"context"

	id "custodia/pkg/domain"
)

// Store persists chain-of-custody rows. Implementations must be insert-only;
// the interface deliberately has no update or delete path.
type Store interface {
	Append(ctx context.Context, event *Event) error
	ListByNotice(ctx context.Context, noticeID id.NoticeID) ([]*Event, error)
}

// DigestMatch is one hit for a public verification lookup.
type DigestMatch struct {
	Kind      string `json:"kind"`
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
}

// DigestIndex answers anonymous verification queries: given a digest, where
// has the system seen it. Backed by the audit rows' content hashes.
type DigestIndex interface {
	FindByDigest(ctx context.Context, digest string) ([]DigestMatch, error)
}
