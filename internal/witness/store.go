package witness

import (
	"context"

	"custodia/pkg/domain"
)

// Store persists witness declarations. Update is conditional on the caller's
// view of the current state, so the write-once rules survive concurrent
// submissions.
type Store interface {
	Create(ctx context.Context, declaration *Declaration) error
	GetByToken(ctx context.Context, token string) (*Declaration, error)
	ListByNotice(ctx context.Context, noticeID domain.NoticeID) ([]*Declaration, error)
	Update(ctx context.Context, declaration *Declaration, expected State) error
}
