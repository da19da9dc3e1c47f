package notice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"custodia/internal/audit"
	"custodia/internal/convenio"
	"custodia/internal/delivery"
	"custodia/internal/descargo"
	"custodia/internal/gate"
	"custodia/internal/integrity"
	"custodia/internal/platform/metrics"
	"custodia/internal/tracking"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/requestcontext"
)

// Policy holds the legal windows and challenge limits. All windows count
// calendar days.
type Policy struct {
	StatutoryWindowDays  int
	ApproachingDueDays   int
	UpcomingDays         int
	PhysicalFallbackDays int
	MaxChallengeAttempts int
	ChallengeMaxDistance int
}

func DefaultPolicy() Policy {
	return Policy{
		StatutoryWindowDays:  30,
		ApproachingDueDays:   5,
		UpcomingDays:         15,
		PhysicalFallbackDays: 15,
		MaxChallengeAttempts: 3,
		ChallengeMaxDistance: 2,
	}
}

// Service drives the notice state machine. It owns the only transitions
// that change a notice's legal standing; the gate, tracking and descargo
// services feed it but never mutate a notice themselves.
type Service struct {
	store      Store
	stamper    *integrity.Service
	gates      *gate.Service
	tracker    *tracking.Service
	convenios  *convenio.Service
	dispatcher *delivery.Dispatcher
	descargos  *descargo.Service
	audit      *audit.Publisher
	policy     Policy
	metrics    *metrics.Metrics
	baseURL    string
	logger     *slog.Logger
}

type ServiceOption func(*Service)

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

func WithPolicy(policy Policy) ServiceOption {
	return func(s *Service) { s.policy = policy }
}

func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

func NewService(store Store, stamper *integrity.Service, gates *gate.Service,
	tracker *tracking.Service, convenios *convenio.Service, dispatcher *delivery.Dispatcher,
	descargos *descargo.Service, auditor *audit.Publisher, baseURL string,
	opts ...ServiceOption) *Service {
	s := &Service{
		store:      store,
		stamper:    stamper,
		gates:      gates,
		tracker:    tracker,
		convenios:  convenios,
		dispatcher: dispatcher,
		descargos:  descargos,
		audit:      auditor,
		policy:     DefaultPolicy(),
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Policy() Policy { return s.policy }

type CreateInput struct {
	EmployerID     domain.EmployerID
	EmployeeID     domain.EmployeeID
	Category       Category
	Severity       int
	Facts          string
	IncidentAt     time.Time
	IncidentPlace  string
	SuspensionDays int
	SuspensionFrom *time.Time
	SuspensionTo   *time.Time
}

// Create drafts a notice and seals its content immediately. The digest
// binds the rendered text to the creation IP and instant, so any later
// edit would be a new notice with a new hash.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Notice, error) {
	if _, ok := ParseCategory(string(in.Category)); !ok {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown category %q", in.Category)
	}
	if strings.TrimSpace(in.Facts) == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "facts cannot be empty")
	}
	if in.IncidentAt.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "incident date is required")
	}
	if in.Category == CategorySuspension && in.SuspensionDays < 1 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "suspension requires a day count")
	}

	now := requestcontext.Now(ctx)
	ip := requestcontext.ClientIP(ctx)
	notice := &Notice{
		ID:             domain.NewNoticeID(),
		EmployerID:     in.EmployerID,
		EmployeeID:     in.EmployeeID,
		Category:       in.Category,
		Severity:       in.Severity,
		Facts:          in.Facts,
		IncidentAt:     in.IncidentAt,
		IncidentPlace:  in.IncidentPlace,
		SuspensionDays: in.SuspensionDays,
		SuspensionFrom: in.SuspensionFrom,
		SuspensionTo:   in.SuspensionTo,
		GeneratedAt:    now,
		CreationIP:     ip,
		State:          StateDraft,
		CreatedAt:      now,
	}

	stamp := s.stamper.Stamp(ctx, []byte(notice.Content()), integrity.Envelope{
		OriginIP:    ip,
		GeneratedAt: now,
	})
	notice.ContentHash = stamp.Digest
	notice.Stamp = stamp

	if err := s.store.Create(ctx, notice); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create notice")
	}

	if err := s.audit.Emit(ctx, &audit.Event{
		NoticeID:    notice.ID,
		Kind:        audit.KindNoticeCreated,
		Title:       fmt.Sprintf("Notice created: %s", notice.Category.label()),
		ContentHash: notice.ContentHash,
	}); err != nil {
		return nil, err
	}
	if err := s.emitStampEvents(ctx, notice.ID, stamp); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.NoticesCreated.Inc()
	}
	s.logger.InfoContext(ctx, "notice created",
		"notice_id", notice.ID.String(), "category", string(notice.Category))
	return notice, nil
}

func (s *Service) emitStampEvents(ctx context.Context, noticeID domain.NoticeID, stamp *integrity.Stamp) error {
	if stamp.Degraded {
		if err := s.audit.Emit(ctx, &audit.Event{
			NoticeID:    noticeID,
			Kind:        audit.KindStampDegraded,
			Title:       "Content hashed without time attestation",
			ContentHash: stamp.Digest,
		}); err != nil {
			return err
		}
	} else {
		if err := s.audit.Emit(ctx, &audit.Event{
			NoticeID:    noticeID,
			Kind:        audit.KindNoticeStamped,
			Title:       fmt.Sprintf("Content timestamped by %s", stamp.Attestation.Authority),
			ContentHash: stamp.Digest,
		}); err != nil {
			return err
		}
	}
	if stamp.Anchor != nil {
		if err := s.audit.Emit(ctx, &audit.Event{
			NoticeID:    noticeID,
			Kind:        audit.KindAnchorPending,
			Title:       fmt.Sprintf("Ledger anchor submitted to %s", stamp.Anchor.Provider),
			ContentHash: stamp.Digest,
			Detail:      stamp.Anchor.Reference,
		}); err != nil {
			return err
		}
	}
	return nil
}

// DeliveryResult is what a delivery attempt leaves behind: the notice after
// its transition, the gate guarding it, and the per-channel outcomes.
type DeliveryResult struct {
	Notice   *Notice
	Session  *gate.Session
	Attempts []delivery.Attempt
}

// Deliver sends the access link over the requested channels. The first
// successful delivery moves the notice to sent and fixes the statutory due
// date; resends refresh channel timestamps but never touch the due date.
func (s *Service) Deliver(ctx context.Context, noticeID domain.NoticeID, channels []string) (*DeliveryResult, error) {
	notice, err := s.load(ctx, noticeID)
	if err != nil {
		return nil, err
	}
	if notice.State != StateDraft && notice.State != StateSent {
		return nil, dErrors.Newf(dErrors.CodeStateConflict, "notice is %s", notice.State)
	}
	first := notice.State == StateDraft

	agreement, err := s.convenios.AuthorizesDigitalDelivery(ctx, notice.EmployeeID)
	if err != nil {
		return nil, err
	}
	if first {
		if err := s.audit.Emit(ctx, &audit.Event{
			NoticeID: noticeID,
			Kind:     audit.KindConvenioVerified,
			Title:    "Electronic domicile agreement verified",
			Detail:   string(agreement.State),
		}); err != nil {
			return nil, err
		}
	}

	session, err := s.gates.GetByNotice(ctx, noticeID)
	if dErrors.HasCode(err, dErrors.CodeNotFound) {
		session, err = s.gates.CreateSession(ctx, gate.CreateSessionInput{
			NoticeID:           noticeID,
			EmployeeID:         notice.EmployeeID,
			BiometricMandatory: notice.Category == CategoryPreDismissal,
		})
	}
	if err != nil {
		return nil, err
	}

	attempts, err := s.dispatcher.Dispatch(ctx,
		delivery.Recipient{EmployeeID: notice.EmployeeID, Email: agreement.Email, Phone: agreement.Phone},
		channels,
		delivery.Message{
			NoticeID:   noticeID,
			Subject:    fmt.Sprintf("Notificación laboral: %s", notice.Category.label()),
			AccessLink: fmt.Sprintf("%s/aviso/%s", s.baseURL, session.Token),
		})
	if err != nil {
		return nil, err
	}

	for _, a := range attempts {
		if !a.Succeeded() {
			continue
		}
		sentAt := a.SentAt
		switch a.Channel {
		case delivery.ChannelEmail:
			notice.DeliveredEmailAt = &sentAt
		case delivery.ChannelSMS:
			notice.DeliveredSMSAt = &sentAt
		case delivery.ChannelWhatsApp:
			notice.DeliveredWhatsAppAt = &sentAt
		}
	}

	expected := notice.State
	if first {
		notice.State = StateSent
		due := notice.CreatedAt.AddDate(0, 0, s.policy.StatutoryWindowDays)
		notice.DueDate = &due
	}
	if err := s.store.Update(ctx, notice, expected, notice.ChallengeAttempts); err != nil {
		return nil, s.translateUpdateErr(err)
	}

	if !first {
		if err := s.audit.Emit(ctx, &audit.Event{
			NoticeID: noticeID,
			Kind:     audit.KindNoticeResent,
			Title:    "Notice resent",
		}); err != nil {
			return nil, err
		}
	}
	return &DeliveryResult{Notice: notice, Session: session, Attempts: attempts}, nil
}

// RecordLinkOpen logs the employee following the access link. The first
// open also pins the timestamp on the notice.
func (s *Service) RecordLinkOpen(ctx context.Context, noticeID domain.NoticeID) (*Notice, error) {
	notice, err := s.load(ctx, noticeID)
	if err != nil {
		return nil, err
	}

	if err := s.audit.Emit(ctx, &audit.Event{
		NoticeID: noticeID,
		Kind:     audit.KindLinkOpened,
		Title:    "Access link opened",
	}); err != nil {
		return nil, err
	}

	if notice.LinkOpenedAt == nil {
		now := requestcontext.Now(ctx)
		notice.LinkOpenedAt = &now
		if err := s.store.Update(ctx, notice, notice.State, notice.ChallengeAttempts); err != nil && !errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "record link open")
		}
	}
	return notice, nil
}

// MarkIdentityValidated pins the moment the gate admitted the employee, with
// the masked identifier that matched. Write-once.
func (s *Service) MarkIdentityValidated(ctx context.Context, noticeID domain.NoticeID, maskedIdentifier string) (*Notice, error) {
	notice, err := s.load(ctx, noticeID)
	if err != nil {
		return nil, err
	}
	if notice.IdentityValidatedAt != nil {
		return notice, nil
	}

	now := requestcontext.Now(ctx)
	notice.IdentityValidatedAt = &now
	notice.ValidatedIdentifier = maskedIdentifier
	if err := s.store.Update(ctx, notice, notice.State, notice.ChallengeAttempts); err != nil && !errors.Is(err, sentinel.ErrConflict) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "mark identity validated")
	}
	return notice, nil
}

// Challenge picks the comprehension question for a notice. It is only
// offered once the gate is granted and the engagement thresholds are met.
func (s *Service) Challenge(ctx context.Context, noticeID domain.NoticeID) (ChallengeField, error) {
	notice, err := s.load(ctx, noticeID)
	if err != nil {
		return "", err
	}
	if err := s.confirmationPreconditions(ctx, notice); err != nil {
		return "", err
	}
	return PickChallengeField(notice), nil
}

// ConfirmStatus is the visitor-facing outcome of a confirmation attempt.
type ConfirmStatus string

const (
	ConfirmOK       ConfirmStatus = "ok"
	ConfirmMismatch ConfirmStatus = "mismatch"
	ConfirmFrozen   ConfirmStatus = "frozen"
)

type ConfirmResult struct {
	Notice            *Notice
	Status            ConfirmStatus
	RemainingAttempts int
}

type ConfirmInput struct {
	NoticeID domain.NoticeID
	Field    ChallengeField
	Answer   string
}

// ConfirmRead runs the final acknowledgment: gate granted, engagement
// thresholds met, and the challenge answer close enough to the fact asked
// about. Success is the legally operative read event and opens the reply
// window; the mismatch message never reveals which part was wrong.
func (s *Service) ConfirmRead(ctx context.Context, in ConfirmInput) (*ConfirmResult, error) {
	notice, err := s.load(ctx, in.NoticeID)
	if err != nil {
		return nil, err
	}
	if err := s.confirmationPreconditions(ctx, notice); err != nil {
		return nil, err
	}

	if !matchesChallenge(notice, in.Field, in.Answer, s.policy.ChallengeMaxDistance) {
		return s.recordChallengeFailure(ctx, notice, in.Field)
	}

	now := requestcontext.Now(ctx)
	notice.State = StateRead
	notice.ReadConfirmedAt = &now
	notice.ReadIP = requestcontext.ClientIP(ctx)
	notice.ReadUserAgent = requestcontext.UserAgent(ctx)
	if err := s.store.Update(ctx, notice, StateSent, notice.ChallengeAttempts); err != nil {
		return nil, s.translateUpdateErr(err)
	}

	if err := s.audit.Emit(ctx, &audit.Event{
		NoticeID:    in.NoticeID,
		Kind:        audit.KindReadConfirmed,
		Title:       "Read confirmed by employee",
		ContentHash: notice.ContentHash,
	}); err != nil {
		return nil, err
	}
	if _, err := s.descargos.Spawn(ctx, notice.ID, notice.EmployeeID, now); err != nil {
		return nil, err
	}
	return &ConfirmResult{Notice: notice, Status: ConfirmOK}, nil
}

func (s *Service) confirmationPreconditions(ctx context.Context, notice *Notice) error {
	if notice.State != StateSent {
		return dErrors.Newf(dErrors.CodeStateConflict, "notice is %s", notice.State)
	}
	if notice.ChallengeFrozen {
		return dErrors.New(dErrors.CodeLockedOut, "read confirmation frozen pending employer review")
	}

	session, err := s.gates.GetByNotice(ctx, notice.ID)
	if err != nil {
		return err
	}
	if session.State != gate.StateGranted {
		return dErrors.New(dErrors.CodeForbidden, "identity gate not granted")
	}

	satisfied, err := s.tracker.Satisfied(ctx, session.Token)
	if err != nil && !dErrors.HasCode(err, dErrors.CodeNotFound) {
		return err
	}
	if !satisfied {
		return dErrors.New(dErrors.CodeForbidden, "engagement thresholds not met")
	}
	return nil
}

func (s *Service) recordChallengeFailure(ctx context.Context, notice *Notice, field ChallengeField) (*ConfirmResult, error) {
	prior := notice.ChallengeAttempts
	notice.ChallengeAttempts++
	remaining := s.policy.MaxChallengeAttempts - notice.ChallengeAttempts
	if remaining <= 0 {
		notice.ChallengeFrozen = true
	}
	if err := s.store.Update(ctx, notice, StateSent, prior); err != nil {
		return nil, s.translateUpdateErr(err)
	}

	if err := s.audit.Emit(ctx, &audit.Event{
		NoticeID: notice.ID,
		Kind:     audit.KindChallengeFailed,
		Title:    "Comprehension challenge failed",
		Detail:   fmt.Sprintf("field %s, attempt %d", field, notice.ChallengeAttempts),
	}); err != nil {
		return nil, err
	}
	if !notice.ChallengeFrozen {
		return &ConfirmResult{Notice: notice, Status: ConfirmMismatch, RemainingAttempts: remaining}, nil
	}

	if err := s.audit.Emit(ctx, &audit.Event{
		NoticeID: notice.ID,
		Kind:     audit.KindChallengeFrozen,
		Title:    "Read confirmation frozen after repeated failures",
	}); err != nil {
		return nil, err
	}
	return &ConfirmResult{Notice: notice, Status: ConfirmFrozen}, nil
}

// UnfreezeChallenge is the employer intervention that reopens a frozen
// confirmation with the attempt counter reset.
func (s *Service) UnfreezeChallenge(ctx context.Context, noticeID domain.NoticeID) (*Notice, error) {
	notice, err := s.load(ctx, noticeID)
	if err != nil {
		return nil, err
	}
	if !notice.ChallengeFrozen {
		return notice, nil
	}

	notice.ChallengeFrozen = false
	prior := notice.ChallengeAttempts
	notice.ChallengeAttempts = 0
	if err := s.store.Update(ctx, notice, notice.State, prior); err != nil {
		return nil, s.translateUpdateErr(err)
	}
	s.logger.InfoContext(ctx, "challenge unfrozen", "notice_id", noticeID.String())
	return notice, nil
}

// Dispute records the employee formally objecting. Allowed from sent or
// read while the statutory window is open; a firm notice can no longer be
// disputed.
func (s *Service) Dispute(ctx context.Context, noticeID domain.NoticeID) (*Notice, error) {
	notice, err := s.load(ctx, noticeID)
	if err != nil {
		return nil, err
	}
	switch notice.State {
	case StateSent, StateRead:
	case StateDisputed:
		return nil, dErrors.New(dErrors.CodeStateConflict, "already processed")
	default:
		return nil, dErrors.Newf(dErrors.CodeStateConflict, "notice is %s", notice.State)
	}

	now := requestcontext.Now(ctx)
	if notice.DueDate != nil && now.After(*notice.DueDate) {
		return nil, dErrors.New(dErrors.CodeExpired, "dispute window closed")
	}

	prior := notice.State
	notice.State = StateDisputed
	notice.DisputedAt = &now
	if err := s.store.Update(ctx, notice, prior, notice.ChallengeAttempts); err != nil {
		return nil, s.translateUpdateErr(err)
	}

	if err := s.audit.Emit(ctx, &audit.Event{
		NoticeID: noticeID,
		Kind:     audit.KindNoticeDisputed,
		Title:    "Notice disputed by employee",
	}); err != nil {
		return nil, err
	}
	return notice, nil
}

// MarkPhysicalFallback flags an unread notice for paper service. The
// digital trail keeps running; the marker just records that the employer
// switched to carta documento.
func (s *Service) MarkPhysicalFallback(ctx context.Context, noticeID domain.NoticeID, note string) (*Notice, error) {
	notice, err := s.load(ctx, noticeID)
	if err != nil {
		return nil, err
	}
	if notice.State != StateSent {
		return nil, dErrors.Newf(dErrors.CodeStateConflict, "notice is %s", notice.State)
	}

	now := requestcontext.Now(ctx)
	notice.PhysicalFallbackAt = &now
	notice.PhysicalFallbackNote = note
	if err := s.store.Update(ctx, notice, StateSent, notice.ChallengeAttempts); err != nil {
		return nil, s.translateUpdateErr(err)
	}

	if err := s.audit.Emit(ctx, &audit.Event{
		NoticeID: noticeID,
		Kind:     audit.KindPhysicalFallback,
		Title:    "Physical fallback marked",
		Detail:   note,
	}); err != nil {
		return nil, err
	}
	return notice, nil
}

// RecordBounce marks a previously accepted channel delivery as bounced.
func (s *Service) RecordBounce(ctx context.Context, noticeID domain.NoticeID, channel delivery.Channel, reason string) (*Notice, error) {
	notice, err := s.load(ctx, noticeID)
	if err != nil {
		return nil, err
	}

	notice.DeliveryBounced = true
	if err := s.store.Update(ctx, notice, notice.State, notice.ChallengeAttempts); err != nil && !errors.Is(err, sentinel.ErrConflict) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "record bounce")
	}
	if err := s.dispatcher.RecordBounce(ctx, delivery.Message{NoticeID: noticeID}, channel, reason); err != nil {
		return nil, err
	}
	return notice, nil
}

// RefreshAnchor polls the notary for a pending ledger anchor and records
// confirmation when it lands.
func (s *Service) RefreshAnchor(ctx context.Context, noticeID domain.NoticeID) (*Notice, error) {
	notice, err := s.load(ctx, noticeID)
	if err != nil {
		return nil, err
	}
	if notice.Stamp == nil || notice.Stamp.Anchor == nil ||
		notice.Stamp.Anchor.Status == integrity.AnchorConfirmed {
		return notice, nil
	}

	receipt, err := s.stamper.RefreshAnchor(ctx, *notice.Stamp.Anchor, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if receipt.Status != integrity.AnchorConfirmed {
		return notice, nil
	}

	notice.Stamp.Anchor = &receipt
	if err := s.store.Update(ctx, notice, notice.State, notice.ChallengeAttempts); err != nil {
		return nil, s.translateUpdateErr(err)
	}

	if err := s.audit.Emit(ctx, &audit.Event{
		NoticeID:    noticeID,
		Kind:        audit.KindAnchorConfirmed,
		Title:       fmt.Sprintf("Ledger anchor confirmed by %s", receipt.Provider),
		ContentHash: notice.Stamp.Digest,
		Detail:      receipt.Reference,
	}); err != nil {
		return nil, err
	}
	return notice, nil
}

// Get returns a notice, applying any firmness transition that has become
// due since the last load.
func (s *Service) Get(ctx context.Context, noticeID domain.NoticeID) (*Notice, error) {
	return s.load(ctx, noticeID)
}

// ListByEmployer returns an employer's notices, oldest first, each with
// firmness refreshed.
func (s *Service) ListByEmployer(ctx context.Context, employerID domain.EmployerID) ([]*Notice, error) {
	notices, err := s.store.ListByEmployer(ctx, employerID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list notices")
	}
	for _, notice := range notices {
		if err := s.refreshFirmness(ctx, notice); err != nil {
			return nil, err
		}
	}
	return notices, nil
}

// DisplayState derives the employer dashboard view for a notice at an
// instant. Pure derivation; stored state never changes here.
func (s *Service) DisplayState(notice *Notice, now time.Time) DisplayState {
	switch notice.State {
	case StateDraft:
		return DisplayPending
	case StateDisputed:
		return DisplayDisputed
	case StateFirm:
		return DisplayFirm
	case StateRead:
		if notice.DueDate == nil {
			return DisplayRead
		}
		if now.After(*notice.DueDate) {
			return DisplayFirm
		}
		remaining := notice.DueDate.Sub(now)
		if remaining <= daysAsDuration(s.policy.ApproachingDueDays) {
			return DisplayApproachingDue
		}
		if remaining <= daysAsDuration(s.policy.UpcomingDays) {
			return DisplayUpcoming
		}
		return DisplayRead
	case StateSent:
		if notice.PhysicalFallbackAt != nil {
			return DisplayPhysicalFallback
		}
		if first := notice.FirstDeliveredAt(); first != nil &&
			now.After(first.AddDate(0, 0, s.policy.PhysicalFallbackDays)) {
			return DisplayPhysicalFallback
		}
		if notice.IdentityValidatedAt != nil {
			return DisplayIdentityValidated
		}
		return DisplaySent
	default:
		return DisplayState(notice.State)
	}
}

// load fetches a notice and applies lazy firmness: a read, undisputed
// notice past its due date becomes firm on observation, with the legal
// instant pinned to the due date itself.
func (s *Service) load(ctx context.Context, noticeID domain.NoticeID) (*Notice, error) {
	notice, err := s.store.Get(ctx, noticeID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "unknown notice")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load notice")
	}
	if err := s.refreshFirmness(ctx, notice); err != nil {
		return nil, err
	}
	return notice, nil
}

func (s *Service) refreshFirmness(ctx context.Context, notice *Notice) error {
	if notice.State != StateRead || notice.DueDate == nil {
		return nil
	}
	now := requestcontext.Now(ctx)
	if !now.After(*notice.DueDate) {
		return nil
	}

	notice.State = StateFirm
	notice.FirmAt = notice.DueDate
	if err := s.store.Update(ctx, notice, StateRead, notice.ChallengeAttempts); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "firm notice")
	}

	return s.audit.Emit(ctx, &audit.Event{
		NoticeID: notice.ID,
		Kind:     audit.KindNoticeFirm,
		Title:    "Notice firm: statutory window lapsed without dispute",
	})
}

func (s *Service) translateUpdateErr(err error) error {
	if errors.Is(err, sentinel.ErrConflict) {
		return dErrors.New(dErrors.CodeStateConflict, "already processed")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "persist notice")
}

func daysAsDuration(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}
