package evidence

import (
	"context"

	"custodia/pkg/domain"
)

// Store persists evidence items. Create must reject a second principal item
// for the same notice with sentinel.ErrConflict.
type Store interface {
	Create(ctx context.Context, item *Item) error
	ListByNotice(ctx context.Context, noticeID domain.NoticeID) ([]*Item, error)
}
