package tracking

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"custodia/internal/audit"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/requestcontext"
)

// Policy holds the engagement thresholds. The dwell minimum is derived per
// notice from content length at a configured reading speed, floored at
// MinDwell.
type Policy struct {
	MinScrollPct   float64
	MinDwell       time.Duration
	WordsPerMinute int
}

func DefaultPolicy() Policy {
	return Policy{
		MinScrollPct:   90,
		MinDwell:       20 * time.Second,
		WordsPerMinute: 200,
	}
}

// RequiredDwell computes the per-notice dwell threshold from its word count.
func (p Policy) RequiredDwell(contentWords int) time.Duration {
	reading := time.Duration(float64(contentWords) / float64(p.WordsPerMinute) * float64(time.Minute))
	if reading < p.MinDwell {
		return p.MinDwell
	}
	return reading
}

type Service struct {
	store  SessionStore
	audit  *audit.Publisher
	policy Policy
	logger *slog.Logger
}

type ServiceOption func(*Service)

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

func WithPolicy(policy Policy) ServiceOption {
	return func(s *Service) { s.policy = policy }
}

func NewService(store SessionStore, auditor *audit.Publisher, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		audit:  auditor,
		policy: DefaultPolicy(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the engagement session for a granted disclosure view. Calling
// it again for the same token returns the existing session unchanged.
func (s *Service) Start(ctx context.Context, token string, noticeID domain.NoticeID, contentWords int) (*Session, error) {
	session := &Session{
		Token:          token,
		NoticeID:       noticeID,
		RequiredScroll: s.policy.MinScrollPct,
		RequiredDwell:  s.policy.RequiredDwell(contentWords),
		StartedAt:      requestcontext.Now(ctx),
	}
	err := s.store.Create(ctx, session)
	if errors.Is(err, sentinel.ErrConflict) {
		return s.get(ctx, token)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "start tracking session")
	}
	return session, nil
}

// Record applies one heartbeat and reports the authoritative progress. The
// satisfaction instant is written once, on the first heartbeat where both
// thresholds hold, and lands in the audit timeline.
func (s *Service) Record(ctx context.Context, token string, hb Heartbeat) (*Progress, error) {
	if hb.ScrollPct < 0 || hb.ScrollPct > 100 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "scroll percentage out of range")
	}
	if hb.DwellSeconds < 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "dwell delta cannot be negative")
	}

	dwellDelta := hb.DwellSeconds
	if !hb.Visible {
		dwellDelta = 0
	}

	session, err := s.store.RecordProgress(ctx, token, hb.ScrollPct, dwellDelta)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "no tracking session for token")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "record heartbeat")
	}

	if session.Satisfied() && session.SatisfiedAt == nil {
		now := requestcontext.Now(ctx)
		first, err := s.store.MarkSatisfied(ctx, token, now)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "record threshold satisfaction")
		}
		if first {
			session.SatisfiedAt = &now
			if err := s.audit.Emit(ctx, &audit.Event{
				NoticeID: session.NoticeID,
				Kind:     audit.KindTrackingSatisfied,
				Title:    "Engagement thresholds satisfied",
			}); err != nil {
				return nil, err
			}
		}
	}

	return &Progress{
		MaxScrollPct: session.MaxScrollPct,
		DwellSeconds: session.DwellSeconds,
		ScrollMet:    session.ScrollMet(),
		DwellMet:     session.DwellMet(),
		Satisfied:    session.Satisfied(),
	}, nil
}

// Satisfied reports whether the acknowledgment step may be offered. This is
// advisory evidence; it gates UI affordance, not legal state.
func (s *Service) Satisfied(ctx context.Context, token string) (bool, error) {
	session, err := s.get(ctx, token)
	if err != nil {
		return false, err
	}
	return session.Satisfied(), nil
}

func (s *Service) get(ctx context.Context, token string) (*Session, error) {
	session, err := s.store.Get(ctx, token)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "no tracking session for token")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load tracking session")
	}
	return session, nil
}
