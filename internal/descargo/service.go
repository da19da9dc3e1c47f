package descargo

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"custodia/internal/audit"
	"custodia/internal/gate"
	"custodia/internal/integrity"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/requestcontext"
)

// IdentityChecker resolves the gate session guarding a notice. Filing a
// rebuttal reuses the already-granted gate instead of running the whole
// verification again.
type IdentityChecker interface {
	GetByNotice(ctx context.Context, noticeID domain.NoticeID) (*gate.Session, error)
}

type Service struct {
	store      Store
	identity   IdentityChecker
	audit      *audit.Publisher
	windowDays int
	logger     *slog.Logger
}

type ServiceOption func(*Service)

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

func WithWindowDays(days int) ServiceOption {
	return func(s *Service) { s.windowDays = days }
}

func NewService(store Store, identity IdentityChecker, auditor *audit.Publisher, opts ...ServiceOption) *Service {
	s := &Service{
		store:      store,
		identity:   identity,
		audit:      auditor,
		windowDays: 10,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Spawn opens the reply window for a freshly read notice. Called by the
// read-confirmation flow; spawning twice for the same notice returns the
// existing window.
func (s *Service) Spawn(ctx context.Context, noticeID domain.NoticeID, employeeID domain.EmployeeID, readAt time.Time) (*Descargo, error) {
	d := &Descargo{
		ID:           domain.NewDescargoID(),
		NoticeID:     noticeID,
		EmployeeID:   employeeID,
		State:        StatePending,
		SpawnedAt:    readAt,
		WindowEndsAt: readAt.AddDate(0, 0, s.windowDays),
	}
	if err := s.store.Create(ctx, d); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return s.load(ctx, noticeID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "spawn descargo")
	}

	if err := s.audit.Emit(ctx, &audit.Event{
		NoticeID: noticeID,
		Kind:     audit.KindDescargoSpawned,
		Title:    "Reply window opened",
	}); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "descargo window opened",
		"notice_id", noticeID.String(), "window_ends_at", d.WindowEndsAt)
	return d, nil
}

// Get returns the reply window for a notice, expiring it first when its
// deadline has passed.
func (s *Service) Get(ctx context.Context, noticeID domain.NoticeID) (*Descargo, error) {
	return s.load(ctx, noticeID)
}

type ExerciseInput struct {
	NoticeID       domain.NoticeID
	GateToken      string
	Statement      string
	SwornConfirmed bool
}

// Exercise files the employee's rebuttal. The statement is hash-sealed with
// the filing IP and instant, and the record becomes immutable for the
// employee from here on.
func (s *Service) Exercise(ctx context.Context, in ExerciseInput) (*Descargo, error) {
	if strings.TrimSpace(in.Statement) == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "rebuttal statement cannot be empty")
	}
	if !in.SwornConfirmed {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "sworn declaration must be confirmed")
	}

	d, err := s.load(ctx, in.NoticeID)
	if err != nil {
		return nil, err
	}
	if d.State != StatePending {
		return nil, dErrors.Newf(dErrors.CodeStateConflict, "reply window is %s", d.State)
	}
	if err := s.recheckIdentity(ctx, in); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	ip := requestcontext.ClientIP(ctx)
	d.State = StateExercised
	d.Statement = in.Statement
	d.StatementHash = integrity.Hash([]byte(in.Statement), integrity.Envelope{
		OriginIP:    ip,
		GeneratedAt: now,
	})
	d.SwornAt = &now
	d.ExercisedAt = &now
	d.ExercisedIP = ip
	d.ExercisedUA = requestcontext.UserAgent(ctx)
	if err := s.store.Update(ctx, d, StatePending); err != nil {
		return nil, s.translateUpdateErr(err)
	}

	if err := s.audit.Emit(ctx, &audit.Event{
		NoticeID:    in.NoticeID,
		Kind:        audit.KindDescargoExercised,
		Title:       "Rebuttal filed under sworn declaration",
		ContentHash: d.StatementHash,
	}); err != nil {
		return nil, err
	}
	return d, nil
}

// Decline records an explicit waiver of the right of reply.
func (s *Service) Decline(ctx context.Context, noticeID domain.NoticeID) (*Descargo, error) {
	d, err := s.load(ctx, noticeID)
	if err != nil {
		return nil, err
	}
	if d.State != StatePending {
		return nil, dErrors.Newf(dErrors.CodeStateConflict, "reply window is %s", d.State)
	}

	now := requestcontext.Now(ctx)
	d.State = StateDeclined
	d.DeclinedAt = &now
	if err := s.store.Update(ctx, d, StatePending); err != nil {
		return nil, s.translateUpdateErr(err)
	}

	if err := s.audit.Emit(ctx, &audit.Event{
		NoticeID: noticeID,
		Kind:     audit.KindDescargoDeclined,
		Title:    "Right of reply waived",
	}); err != nil {
		return nil, err
	}
	return d, nil
}

type AnnotationInput struct {
	NoticeID          domain.NoticeID
	AdmissionFlag     bool
	ContradictionFlag bool
	Notes             string
}

// Annotate records the employer's reading of an exercised rebuttal. Unlike
// everything else on the record, annotations may be revised.
func (s *Service) Annotate(ctx context.Context, in AnnotationInput) (*Descargo, error) {
	d, err := s.load(ctx, in.NoticeID)
	if err != nil {
		return nil, err
	}
	if d.State != StateExercised {
		return nil, dErrors.Newf(dErrors.CodeStateConflict,
			"annotations require an exercised rebuttal, reply window is %s", d.State)
	}

	now := requestcontext.Now(ctx)
	d.AdmissionFlag = in.AdmissionFlag
	d.ContradictionFlag = in.ContradictionFlag
	d.AnnotationNotes = in.Notes
	d.AnnotatedAt = &now
	d.AnnotatedBy = requestcontext.ActorID(ctx)
	if err := s.store.Update(ctx, d, StateExercised); err != nil {
		return nil, s.translateUpdateErr(err)
	}
	return d, nil
}

// recheckIdentity is the lightweight re-verification before filing: the gate
// session that admitted the employee must still be granted and must belong
// to the caller's token.
func (s *Service) recheckIdentity(ctx context.Context, in ExerciseInput) error {
	session, err := s.identity.GetByNotice(ctx, in.NoticeID)
	if err != nil {
		return err
	}
	if in.GateToken == "" || session.Token != in.GateToken {
		return dErrors.New(dErrors.CodeForbidden, "identity re-check failed")
	}
	if session.State != gate.StateGranted {
		return dErrors.New(dErrors.CodeForbidden, "identity gate not granted")
	}
	return nil
}

func (s *Service) load(ctx context.Context, noticeID domain.NoticeID) (*Descargo, error) {
	d, err := s.store.GetByNotice(ctx, noticeID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "no reply window for notice")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load descargo")
	}

	now := requestcontext.Now(ctx)
	if d.State == StatePending && d.windowClosed(now) {
		d.State = StateExpired
		d.ExpiredAt = &d.WindowEndsAt
		if err := s.store.Update(ctx, d, StatePending); err != nil && !errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "expire descargo")
		}
		if err := s.audit.Emit(ctx, &audit.Event{
			NoticeID: noticeID,
			Kind:     audit.KindDescargoExpired,
			Title:    "Reply window lapsed without a filing",
		}); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (s *Service) translateUpdateErr(err error) error {
	if errors.Is(err, sentinel.ErrConflict) {
		return dErrors.New(dErrors.CodeStateConflict, "already processed")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "persist descargo")
}
