package gate

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"custodia/internal/audit"
	"custodia/internal/platform/metrics"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/privacy"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/requestcontext"
)

// Policy holds the gate's legal policy constants.
type Policy struct {
	MaxIdentifierAttempts int
	OTPLength             int
	OTPTTL                time.Duration
	MaxOTPAttempts        int
	TokenLifetime         time.Duration
	BiometricApproveAt    float64
	BiometricReviewAt     float64
}

func DefaultPolicy() Policy {
	return Policy{
		MaxIdentifierAttempts: 5,
		OTPLength:             6,
		OTPTTL:                10 * time.Minute,
		MaxOTPAttempts:        5,
		TokenLifetime:         45 * 24 * time.Hour,
		BiometricApproveAt:    95,
		BiometricReviewAt:     85,
	}
}

// CodeSender delivers a one-time code to the employee's phone.
type CodeSender interface {
	SendCode(ctx context.Context, phone, code string) error
}

// StepStatus is the visitor-facing result of one gate step.
type StepStatus string

const (
	StepOK       StepStatus = "ok"
	StepMismatch StepStatus = "mismatch"
	StepLocked   StepStatus = "locked"
	StepRejected StepStatus = "rejected"
)

// StepResult is what every step operation returns: the session after the
// attempt, the outcome, and how many attempts remain when it failed.
type StepResult struct {
	Session           *Session
	Status            StepStatus
	RemainingAttempts int
}

type Service struct {
	sessions  SessionStore
	otps      OTPStore
	directory Directory
	sender    CodeSender
	biometric BiometricProvider
	audit     *audit.Publisher
	policy    Policy
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

type ServiceOption func(*Service)

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

func WithPolicy(policy Policy) ServiceOption {
	return func(s *Service) { s.policy = policy }
}

func WithBiometricProvider(provider BiometricProvider) ServiceOption {
	return func(s *Service) { s.biometric = provider }
}

func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

func NewService(sessions SessionStore, otps OTPStore, directory Directory, sender CodeSender,
	auditor *audit.Publisher, opts ...ServiceOption) *Service {
	s := &Service{
		sessions:  sessions,
		otps:      otps,
		directory: directory,
		sender:    sender,
		audit:     auditor,
		policy:    DefaultPolicy(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Policy() Policy { return s.policy }

type CreateSessionInput struct {
	NoticeID           domain.NoticeID
	EmployeeID         domain.EmployeeID
	BiometricMandatory bool
}

// CreateSession opens a fresh gate for one notice and returns the session
// with its opaque access token. The biometric step is only required when
// the employee previously consented to biometric processing.
func (s *Service) CreateSession(ctx context.Context, in CreateSessionInput) (*Session, error) {
	employee, err := s.directory.Employee(ctx, in.EmployeeID)
	if err != nil {
		return nil, s.translateDirectoryErr(err)
	}

	token, err := NewToken()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create gate session")
	}

	now := requestcontext.Now(ctx)
	session := &Session{
		Token:              token,
		NoticeID:           in.NoticeID,
		EmployeeID:         in.EmployeeID,
		State:              StateUnverified,
		BiometricRequired:  employee.BiometricConsent,
		BiometricMandatory: in.BiometricMandatory && employee.BiometricConsent,
		CreatedAt:          now,
		ExpiresAt:          now.Add(s.policy.TokenLifetime),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create gate session")
	}
	return session, nil
}

// Resume returns the current session for a token, expiring it first when
// its lifetime has lapsed.
func (s *Service) Resume(ctx context.Context, token string) (*Session, error) {
	return s.load(ctx, token)
}

// GetByNotice looks the session up by its notice, for state-machine checks.
func (s *Service) GetByNotice(ctx context.Context, noticeID domain.NoticeID) (*Session, error) {
	session, err := s.sessions.GetByNotice(ctx, noticeID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "no gate session for notice")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load gate session")
	}
	return session, nil
}

// SubmitIdentifier runs step A: the visitor's tax identifier or employee
// number against the employee record. Five failures lock the token for good.
func (s *Service) SubmitIdentifier(ctx context.Context, token, identifier string) (*StepResult, error) {
	session, err := s.load(ctx, token)
	if err != nil {
		return nil, err
	}
	if session.State == StateLocked {
		return &StepResult{Session: session, Status: StepLocked}, nil
	}
	if session.State.AtLeast(StateIDMatched) {
		return &StepResult{Session: session, Status: StepOK}, nil
	}

	employee, err := s.directory.Employee(ctx, session.EmployeeID)
	if err != nil {
		return nil, s.translateDirectoryErr(err)
	}

	normalized := NormalizeIdentifier(identifier)
	matched := matchesAny(privacy.HashIdentifier(normalized), employee.IdentifierHashes)

	if err := s.audit.Emit(ctx, &audit.Event{
		NoticeID: session.NoticeID,
		Kind:     audit.KindIdentifierAttempt,
		Title:    "Identifier submitted",
		Detail:   fmt.Sprintf("matched=%t identifier=%s", matched, maskIdentifier(normalized)),
	}); err != nil {
		return nil, err
	}

	if !matched {
		return s.recordIdentifierFailure(ctx, session)
	}

	now := requestcontext.Now(ctx)
	session.State = StateIDMatched
	session.IDMatchedAt = &now
	session.MatchedIdentifier = maskIdentifier(normalized)
	if err := s.sessions.Update(ctx, session, StateUnverified, session.IdentifierAttempts); err != nil {
		return nil, s.translateUpdateErr(err)
	}

	if err := s.audit.Emit(ctx, &audit.Event{
		NoticeID: session.NoticeID,
		Kind:     audit.KindIdentifierMatched,
		Title:    "Identity validated by identifier",
	}); err != nil {
		return nil, err
	}
	return &StepResult{Session: session, Status: StepOK}, nil
}

func (s *Service) recordIdentifierFailure(ctx context.Context, session *Session) (*StepResult, error) {
	prior := session.IdentifierAttempts
	session.IdentifierAttempts++
	remaining := s.policy.MaxIdentifierAttempts - session.IdentifierAttempts

	if remaining <= 0 {
		now := requestcontext.Now(ctx)
		session.State = StateLocked
		session.LockedAt = &now
		if err := s.sessions.Update(ctx, session, StateUnverified, prior); err != nil {
			return nil, s.translateUpdateErr(err)
		}
		if err := s.audit.Emit(ctx, &audit.Event{
			NoticeID: session.NoticeID,
			Kind:     audit.KindGateLocked,
			Title:    "Access token locked after repeated identifier failures",
		}); err != nil {
			return nil, err
		}
		if s.metrics != nil {
			s.metrics.GateLockouts.Inc()
		}
		return &StepResult{Session: session, Status: StepLocked}, nil
	}

	if err := s.sessions.Update(ctx, session, StateUnverified, prior); err != nil {
		return nil, s.translateUpdateErr(err)
	}
	return &StepResult{Session: session, Status: StepMismatch, RemainingAttempts: remaining}, nil
}

// RequestCode runs step B's issuance half: a fresh 6-digit code bound to the
// token, replacing any earlier one, sent over SMS.
func (s *Service) RequestCode(ctx context.Context, token string) error {
	session, err := s.load(ctx, token)
	if err != nil {
		return err
	}
	if session.State == StateLocked {
		return dErrors.New(dErrors.CodeLockedOut, "access token is locked, contact the issuing party")
	}
	if session.State != StateIDMatched {
		return dErrors.New(dErrors.CodeStateConflict, "code can only be requested after identifier match")
	}

	employee, err := s.directory.Employee(ctx, session.EmployeeID)
	if err != nil {
		return s.translateDirectoryErr(err)
	}
	if employee.Phone == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "employee has no registered phone")
	}

	code, err := GenerateCode(s.policy.OTPLength)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "issue code")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "issue code")
	}

	record := OTPRecord{CodeHash: hash, IssuedAt: requestcontext.Now(ctx)}
	if err := s.otps.Save(ctx, token, record, s.policy.OTPTTL); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "store code")
	}

	if err := s.sender.SendCode(ctx, employee.Phone, code); err != nil {
		return dErrors.Wrap(err, dErrors.CodeProviderUnavailable, "send code")
	}

	return s.audit.Emit(ctx, &audit.Event{
		NoticeID: session.NoticeID,
		Kind:     audit.KindCodeRequested,
		Title:    "One-time code sent",
	})
}

// VerifyCode runs step B's verification half. A correct code consumes the
// record and advances the gate; when no biometric step is required the gate
// is granted outright.
func (s *Service) VerifyCode(ctx context.Context, token, code string) (*StepResult, error) {
	session, err := s.load(ctx, token)
	if err != nil {
		return nil, err
	}
	if session.State == StateLocked {
		return &StepResult{Session: session, Status: StepLocked}, nil
	}
	if session.State.AtLeast(StateCodeVerified) {
		return &StepResult{Session: session, Status: StepOK}, nil
	}
	if session.State != StateIDMatched {
		return nil, dErrors.New(dErrors.CodeStateConflict, "code can only be verified after identifier match")
	}

	record, err := s.otps.Get(ctx, token)
	if errors.Is(err, sentinel.ErrNotFound) || errors.Is(err, sentinel.ErrExpired) {
		return nil, dErrors.New(dErrors.CodeExpired, "code expired or never requested, request a new one")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load code")
	}
	if record.Attempts >= s.policy.MaxOTPAttempts {
		return nil, dErrors.New(dErrors.CodeExpired, "code attempts exhausted, request a new one")
	}

	if bcrypt.CompareHashAndPassword(record.CodeHash, []byte(code)) != nil {
		attempts, err := s.otps.IncrementAttempts(ctx, token)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "count code attempt")
		}
		remaining := s.policy.MaxOTPAttempts - attempts
		if remaining < 0 {
			remaining = 0
		}
		return &StepResult{Session: session, Status: StepMismatch, RemainingAttempts: remaining}, nil
	}

	if err := s.otps.Delete(ctx, token); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "consume code")
	}

	session.State = StateCodeVerified
	if !session.BiometricRequired {
		now := requestcontext.Now(ctx)
		session.State = StateGranted
		session.GrantedAt = &now
	}
	if err := s.sessions.Update(ctx, session, StateIDMatched, session.IdentifierAttempts); err != nil {
		return nil, s.translateUpdateErr(err)
	}

	if err := s.audit.Emit(ctx, &audit.Event{
		NoticeID: session.NoticeID,
		Kind:     audit.KindCodeVerified,
		Title:    "One-time code verified",
	}); err != nil {
		return nil, err
	}
	if session.State == StateGranted {
		if err := s.emitGranted(ctx, session); err != nil {
			return nil, err
		}
	}
	return &StepResult{Session: session, Status: StepOK}, nil
}

// StartBiometric opens the vendor liveness session for step C.
func (s *Service) StartBiometric(ctx context.Context, token string) (string, error) {
	session, err := s.load(ctx, token)
	if err != nil {
		return "", err
	}
	if session.State != StateCodeVerified || !session.BiometricRequired {
		return "", dErrors.New(dErrors.CodeStateConflict, "biometric step is not pending for this session")
	}

	employee, err := s.directory.Employee(ctx, session.EmployeeID)
	if err != nil {
		return "", s.translateDirectoryErr(err)
	}
	if s.biometric == nil {
		return "", dErrors.New(dErrors.CodeProviderUnavailable, "no biometric provider configured")
	}

	ref, err := s.biometric.StartLiveness(ctx, employee.BiometricRef)
	if err != nil {
		return "", err
	}

	if err := s.audit.Emit(ctx, &audit.Event{
		NoticeID: session.NoticeID,
		Kind:     audit.KindBiometricStarted,
		Title:    "Biometric verification started",
	}); err != nil {
		return "", err
	}
	return ref, nil
}

// CompleteBiometric fetches the vendor result and applies the policy bands.
// Approved and needs-review both grant access; rejection leaves the session
// at code-verified so the visitor may retry.
func (s *Service) CompleteBiometric(ctx context.Context, token, sessionRef string) (*StepResult, error) {
	session, err := s.load(ctx, token)
	if err != nil {
		return nil, err
	}
	if session.State == StateGranted {
		return &StepResult{Session: session, Status: StepOK}, nil
	}
	if session.State != StateCodeVerified || !session.BiometricRequired {
		return nil, dErrors.New(dErrors.CodeStateConflict, "biometric step is not pending for this session")
	}
	if s.biometric == nil {
		return nil, dErrors.New(dErrors.CodeProviderUnavailable, "no biometric provider configured")
	}

	result, err := s.biometric.FetchResult(ctx, sessionRef)
	if err != nil {
		return nil, err
	}

	outcome := classify(result, s.policy.BiometricApproveAt, s.policy.BiometricReviewAt)
	session.BiometricOutcome = outcome
	session.BiometricScore = &result.Similarity

	if outcome == BiometricRejected {
		if err := s.sessions.Update(ctx, session, StateCodeVerified, session.IdentifierAttempts); err != nil {
			return nil, s.translateUpdateErr(err)
		}
		if err := s.audit.Emit(ctx, &audit.Event{
			NoticeID: session.NoticeID,
			Kind:     audit.KindBiometricRejected,
			Title:    "Biometric verification rejected",
			Detail:   fmt.Sprintf("similarity=%.1f live=%t", result.Similarity, result.Live),
		}); err != nil {
			return nil, err
		}
		return &StepResult{Session: session, Status: StepRejected}, nil
	}

	now := requestcontext.Now(ctx)
	session.State = StateGranted
	session.GrantedAt = &now
	if err := s.sessions.Update(ctx, session, StateCodeVerified, session.IdentifierAttempts); err != nil {
		return nil, s.translateUpdateErr(err)
	}

	kind, title := audit.KindBiometricApproved, "Biometric verification approved"
	if outcome == BiometricNeedsReview {
		kind, title = audit.KindBiometricReview, "Biometric verification flagged for human review"
	}
	if err := s.audit.Emit(ctx, &audit.Event{
		NoticeID: session.NoticeID,
		Kind:     kind,
		Title:    title,
		Detail:   fmt.Sprintf("similarity=%.1f", result.Similarity),
	}); err != nil {
		return nil, err
	}
	if err := s.emitGranted(ctx, session); err != nil {
		return nil, err
	}
	return &StepResult{Session: session, Status: StepOK}, nil
}

// SkipBiometric lets the visitor decline the optional biometric step. Only
// contractually mandatory biometrics cannot be skipped.
func (s *Service) SkipBiometric(ctx context.Context, token string) (*StepResult, error) {
	session, err := s.load(ctx, token)
	if err != nil {
		return nil, err
	}
	if session.State == StateGranted {
		return &StepResult{Session: session, Status: StepOK}, nil
	}
	if session.State != StateCodeVerified || !session.BiometricRequired {
		return nil, dErrors.New(dErrors.CodeStateConflict, "biometric step is not pending for this session")
	}
	if session.BiometricMandatory {
		return nil, dErrors.New(dErrors.CodeForbidden, "biometric verification is mandatory for this notice")
	}

	now := requestcontext.Now(ctx)
	session.BiometricOutcome = BiometricSkipped
	session.State = StateGranted
	session.GrantedAt = &now
	if err := s.sessions.Update(ctx, session, StateCodeVerified, session.IdentifierAttempts); err != nil {
		return nil, s.translateUpdateErr(err)
	}

	if err := s.audit.Emit(ctx, &audit.Event{
		NoticeID: session.NoticeID,
		Kind:     audit.KindBiometricSkipped,
		Title:    "Biometric verification skipped by choice",
	}); err != nil {
		return nil, err
	}
	if err := s.emitGranted(ctx, session); err != nil {
		return nil, err
	}
	return &StepResult{Session: session, Status: StepOK}, nil
}

// ResetLockout is the out-of-band employer intervention for a locked token.
func (s *Service) ResetLockout(ctx context.Context, token string) (*Session, error) {
	session, err := s.load(ctx, token)
	if err != nil {
		return nil, err
	}
	if session.State != StateLocked {
		return nil, dErrors.New(dErrors.CodeStateConflict, "session is not locked")
	}

	prior := session.IdentifierAttempts
	session.State = StateUnverified
	session.IdentifierAttempts = 0
	session.LockedAt = nil
	if err := s.sessions.Update(ctx, session, StateLocked, prior); err != nil {
		return nil, s.translateUpdateErr(err)
	}

	if err := s.audit.Emit(ctx, &audit.Event{
		NoticeID: session.NoticeID,
		Kind:     audit.KindGateReset,
		Title:    "Locked access token reset by employer",
	}); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Service) emitGranted(ctx context.Context, session *Session) error {
	return s.audit.Emit(ctx, &audit.Event{
		NoticeID: session.NoticeID,
		Kind:     audit.KindGateGranted,
		Title:    "Identity gate granted, disclosure unlocked",
	})
}

func (s *Service) load(ctx context.Context, token string) (*Session, error) {
	session, err := s.sessions.GetByToken(ctx, token)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "unknown access token")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load gate session")
	}

	now := requestcontext.Now(ctx)
	if session.State != StateExpired && session.State != StateLocked &&
		session.State != StateGranted && session.expired(now) {
		prior := session.State
		session.State = StateExpired
		if err := s.sessions.Update(ctx, session, prior, session.IdentifierAttempts); err != nil && !errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "expire gate session")
		}
	}
	if session.State == StateExpired {
		return nil, dErrors.New(dErrors.CodeExpired, "access token expired")
	}
	return session, nil
}

func (s *Service) translateUpdateErr(err error) error {
	if errors.Is(err, sentinel.ErrConflict) {
		return dErrors.New(dErrors.CodeStateConflict, "already processed")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "persist gate session")
}

func (s *Service) translateDirectoryErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "employee record not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "load employee record")
}

// NormalizeIdentifier strips formatting from a tax identifier or employee
// number so hashing is stable across input styles.
func NormalizeIdentifier(identifier string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '.', '-', '/':
			return -1
		}
		return r
	}, identifier)
	return strings.ToUpper(strings.TrimSpace(cleaned))
}

func matchesAny(hash string, candidates []string) bool {
	matched := false
	for _, candidate := range candidates {
		if subtle.ConstantTimeCompare([]byte(hash), []byte(candidate)) == 1 {
			matched = true
		}
	}
	return matched
}

func maskIdentifier(identifier string) string {
	if len(identifier) <= 3 {
		return "***"
	}
	return strings.Repeat("*", len(identifier)-3) + identifier[len(identifier)-3:]
}
