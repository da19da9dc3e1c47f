package notice

import (
	"context"

	"custodia/pkg/domain"
)

// Store persists notices. Update is conditional on the persisted legal
// state and challenge attempt counter matching the caller's view, which is
// what keeps two concurrent read confirmations from double-processing the
// same notice and two concurrent challenge failures from counting as one.
type Store interface {
	Create(ctx context.Context, notice *Notice) error
	Get(ctx context.Context, noticeID domain.NoticeID) (*Notice, error)
	Update(ctx context.Context, notice *Notice, expected State, expectedAttempts int) error
	ListByEmployer(ctx context.Context, employerID domain.EmployerID) ([]*Notice, error)
}
