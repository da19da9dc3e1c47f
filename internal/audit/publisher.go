package audit

import (
	"context"
	"log/slog"

	id "custodia/pkg/domain"
	"custodia/pkg/platform/privacy"
	"custodia/pkg/requestcontext"
)

// Publisher captures chain-of-custody events from domain services. It fills
// request-scoped metadata (time, IP, user agent, actor) so call sites only
// name the fact that happened.
type Publisher struct {
	store  Store
	logger *slog.Logger
}

type PublisherOption func(*Publisher)

func WithLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) { p.logger = logger }
}

func NewPublisher(store Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit appends one event, defaulting timestamp and client metadata from the
// request context. The audit row is evidentiary; failures propagate so the
// caller's transaction rolls back rather than losing custody history.
func (p *Publisher) Emit(ctx context.Context, event *Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = requestcontext.Now(ctx)
	}
	if event.IP == "" {
		event.IP = requestcontext.ClientIP(ctx)
	}
	if event.UserAgent == "" {
		event.UserAgent = requestcontext.UserAgent(ctx)
	}
	if event.Actor == "" {
		event.Actor = requestcontext.ActorID(ctx)
	}

	if err := p.store.Append(ctx, event); err != nil {
		return err
	}

	if p.logger != nil {
		p.logger.InfoContext(ctx, string(event.Kind),
			"log_type", "audit",
			"event", string(event.Kind),
			"notice_id", event.NoticeID.String(),
			"ip", privacy.AnonymizeIP(event.IP),
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	return nil
}

// Timeline returns every custody row for a notice in insertion order.
func (p *Publisher) Timeline(ctx context.Context, noticeID id.NoticeID) ([]*Event, error) {
	return p.store.ListByNotice(ctx, noticeID)
}
