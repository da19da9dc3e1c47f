package gate

import (
	"context"

	"custodia/pkg/domain"
)

// SessionStore persists gate sessions. Update takes the caller's view of the
// current state and attempt counter and fails with sentinel.ErrConflict when
// the persisted row has moved on, so two concurrent step submissions cannot
// double-apply and two concurrent failures cannot collapse into one counted
// attempt.
type SessionStore interface {
	Create(ctx context.Context, session *Session) error
	GetByToken(ctx context.Context, token string) (*Session, error)
	GetByNotice(ctx context.Context, noticeID domain.NoticeID) (*Session, error)
	Update(ctx context.Context, session *Session, expected State, expectedAttempts int) error
}

// Directory resolves the employee read-model used for identifier matching.
type Directory interface {
	Employee(ctx context.Context, employeeID domain.EmployeeID) (*EmployeeRecord, error)
}
