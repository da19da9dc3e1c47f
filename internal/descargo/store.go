package descargo

import (
	"context"

	"custodia/pkg/domain"
)

// Store persists reply windows, one per notice. Update is conditional on
// the persisted state so a decline racing an exercise loses cleanly.
type Store interface {
	Create(ctx context.Context, d *Descargo) error
	GetByNotice(ctx context.Context, noticeID domain.NoticeID) (*Descargo, error)
	Update(ctx context.Context, d *Descargo, expected State) error
}
