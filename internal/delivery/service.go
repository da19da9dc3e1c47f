package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"custodia/internal/audit"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/email"
	pstrings "custodia/pkg/platform/strings"
	"custodia/pkg/requestcontext"
)

var channelEventKinds = map[Channel]audit.EventKind{
	ChannelEmail:    audit.KindDeliveryEmail,
	ChannelSMS:      audit.KindDeliverySMS,
	ChannelWhatsApp: audit.KindDeliveryWhatsApp,
}

// Dispatcher sends a notice link over every requested channel. Channels run
// concurrently and fail independently; the dispatch succeeds as long as at
// least one channel got the link out.
type Dispatcher struct {
	providers map[Channel]Provider
	audit     *audit.Publisher
	logger    *slog.Logger
}

type DispatcherOption func(*Dispatcher)

func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = logger }
}

func NewDispatcher(auditor *audit.Publisher, providers []Provider, opts ...DispatcherOption) *Dispatcher {
	byChannel := make(map[Channel]Provider, len(providers))
	for _, p := range providers {
		byChannel[p.Channel()] = p
	}
	d := &Dispatcher{
		providers: byChannel,
		audit:     auditor,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch sends msg to the recipient over the named channels. Channel names
// are deduplicated case-insensitively; unknown names and channels missing a
// contact point are skipped with a failed attempt rather than an error.
func (d *Dispatcher) Dispatch(ctx context.Context, rcpt Recipient, channels []string, msg Message) ([]Attempt, error) {
	if msg.Greeting == "" && rcpt.Email != "" {
		first, _ := email.DeriveNameFromEmail(rcpt.Email)
		msg.Greeting = first
	}

	var (
		mu       sync.Mutex
		attempts []Attempt
	)
	record := func(a Attempt) {
		mu.Lock()
		attempts = append(attempts, a)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range pstrings.DedupeAndTrimLower(channels) {
		channel, ok := ParseChannel(name)
		if !ok {
			record(Attempt{Channel: Channel(name),
				Err: dErrors.Newf(dErrors.CodeInvalidInput, "unknown channel %q", name)})
			continue
		}

		target := d.targetFor(channel, rcpt)
		if target == "" {
			record(Attempt{Channel: channel,
				Err: dErrors.Newf(dErrors.CodeInvalidInput, "no %s contact registered", channel)})
			continue
		}

		provider, ok := d.providers[channel]
		if !ok {
			record(Attempt{Channel: channel, Target: target,
				Err: dErrors.Newf(dErrors.CodeProviderUnavailable, "no %s provider configured", channel)})
			continue
		}

		g.Go(func() error {
			attempt := Attempt{Channel: channel, Target: target, SentAt: requestcontext.Now(gctx)}
			attempt.Err = provider.Send(gctx, target, msg)
			record(attempt)
			if attempt.Err != nil {
				d.logger.WarnContext(gctx, "channel delivery failed",
					slog.String("channel", string(channel)),
					slog.String("notice_id", msg.NoticeID.String()),
					slog.String("error", attempt.Err.Error()))
				return nil
			}
			return d.audit.Emit(gctx, &audit.Event{
				NoticeID: msg.NoticeID,
				Kind:     channelEventKinds[channel],
				Title:    fmt.Sprintf("Access link sent via %s", channel),
			})
		})
	}

	if err := g.Wait(); err != nil {
		return attempts, err
	}

	for _, a := range attempts {
		if a.Succeeded() {
			return attempts, nil
		}
	}
	return attempts, dErrors.New(dErrors.CodeProviderUnavailable, "no channel accepted the delivery")
}

// RecordBounce marks a previously accepted channel delivery as bounced. The
// gateway reports bounces asynchronously via webhook.
func (d *Dispatcher) RecordBounce(ctx context.Context, msg Message, channel Channel, reason string) error {
	return d.audit.Emit(ctx, &audit.Event{
		NoticeID: msg.NoticeID,
		Kind:     audit.KindDeliveryBounced,
		Title:    fmt.Sprintf("Delivery via %s bounced", channel),
		Detail:   reason,
	})
}

func (d *Dispatcher) targetFor(channel Channel, rcpt Recipient) string {
	switch channel {
	case ChannelEmail:
		return rcpt.Email
	case ChannelSMS, ChannelWhatsApp:
		return rcpt.Phone
	default:
		return ""
	}
}
