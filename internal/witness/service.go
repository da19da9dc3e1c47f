package witness

import (
	"context"
	"errors"
	"fmt"
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

// InviteSender delivers the witness access link.
type InviteSender interface {
	SendInvite(ctx context.Context, email, fullName, link string) error
}

type Service struct {
	store    Store
	sender   InviteSender
	audit    *audit.Publisher
	baseURL  string
	tokenTTL time.Duration
	logger   *slog.Logger
}

type ServiceOption func(*Service)

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

func WithTokenTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) { s.tokenTTL = ttl }
}

func NewService(store Store, sender InviteSender, auditor *audit.Publisher, baseURL string, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		sender:   sender,
		audit:    auditor,
		baseURL:  strings.TrimRight(baseURL, "/"),
		tokenTTL: 15 * 24 * time.Hour,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type InviteInput struct {
	NoticeID     domain.NoticeID
	FullName     string
	Email        string
	Relationship string
}

// Invite registers a witness and sends their single-use access link.
func (s *Service) Invite(ctx context.Context, in InviteInput) (*Declaration, error) {
	if in.FullName == "" || in.Email == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "witness name and email are required")
	}

	token, err := gate.NewToken()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "invite witness")
	}

	now := requestcontext.Now(ctx)
	declaration := &Declaration{
		ID:             domain.NewWitnessID(),
		NoticeID:       in.NoticeID,
		FullName:       in.FullName,
		Email:          in.Email,
		Relationship:   in.Relationship,
		State:          StatePending,
		AccessToken:    token,
		TokenExpiresAt: now.Add(s.tokenTTL),
		CreatedAt:      now,
	}
	if err := s.store.Create(ctx, declaration); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "invite witness")
	}

	link := fmt.Sprintf("%s/testigo/%s", s.baseURL, token)
	if err := s.sender.SendInvite(ctx, in.Email, in.FullName, link); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeProviderUnavailable, "send witness invite")
	}

	declaration.State = StateInvited
	declaration.InvitedAt = &now
	if err := s.store.Update(ctx, declaration, StatePending); err != nil {
		return nil, s.translateUpdateErr(err)
	}

	if err := s.audit.Emit(ctx, &audit.Event{
		NoticeID: in.NoticeID,
		Kind:     audit.KindWitnessInvited,
		Title:    fmt.Sprintf("Witness invited: %s", in.FullName),
	}); err != nil {
		return nil, err
	}
	return declaration, nil
}

// Open resolves a witness link, expiring it when its lifetime has lapsed.
func (s *Service) Open(ctx context.Context, token string) (*Declaration, error) {
	return s.load(ctx, token)
}

// Validate records the witness confirming who they are and whether they were
// present at the incident.
func (s *Service) Validate(ctx context.Context, token string, presentAtIncident bool) (*Declaration, error) {
	declaration, err := s.load(ctx, token)
	if err != nil {
		return nil, err
	}
	if declaration.State != StateInvited {
		return nil, dErrors.Newf(dErrors.CodeStateConflict, "witness declaration is %s", declaration.State)
	}

	now := requestcontext.Now(ctx)
	declaration.State = StateValidated
	declaration.PresentAtIncident = presentAtIncident
	declaration.ValidatedAt = &now
	if err := s.store.Update(ctx, declaration, StateInvited); err != nil {
		return nil, s.translateUpdateErr(err)
	}

	if err := s.audit.Emit(ctx, &audit.Event{
		NoticeID: declaration.NoticeID,
		Kind:     audit.KindWitnessValidated,
		Title:    fmt.Sprintf("Witness validated: %s", declaration.FullName),
	}); err != nil {
		return nil, err
	}
	return declaration, nil
}

// Sign records the witness statement and its signature hash. Both are
// write-once; the access token is spent by this call.
func (s *Service) Sign(ctx context.Context, token, statement string) (*Declaration, error) {
	declaration, err := s.load(ctx, token)
	if err != nil {
		return nil, err
	}
	if declaration.State == StateSigned {
		return nil, dErrors.New(dErrors.CodeConflict, "witness declaration already signed")
	}
	if declaration.State != StateValidated {
		return nil, dErrors.Newf(dErrors.CodeStateConflict, "witness declaration is %s", declaration.State)
	}
	if strings.TrimSpace(statement) == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "statement cannot be empty")
	}

	now := requestcontext.Now(ctx)
	ip := requestcontext.ClientIP(ctx)
	declaration.State = StateSigned
	declaration.Statement = statement
	declaration.SignatureHash = integrity.Hash([]byte(statement), integrity.Envelope{
		OriginIP:    ip,
		GeneratedAt: now,
	})
	declaration.SignedAt = &now
	declaration.SignedIP = ip
	if err := s.store.Update(ctx, declaration, StateValidated); err != nil {
		return nil, s.translateUpdateErr(err)
	}

	if err := s.audit.Emit(ctx, &audit.Event{
		NoticeID:    declaration.NoticeID,
		Kind:        audit.KindWitnessSigned,
		Title:       fmt.Sprintf("Witness statement signed: %s", declaration.FullName),
		ContentHash: declaration.SignatureHash,
	}); err != nil {
		return nil, err
	}
	return declaration, nil
}

// Decline records the witness refusing to participate. Terminal.
func (s *Service) Decline(ctx context.Context, token string) (*Declaration, error) {
	declaration, err := s.load(ctx, token)
	if err != nil {
		return nil, err
	}
	if declaration.State != StateInvited && declaration.State != StateValidated {
		return nil, dErrors.Newf(dErrors.CodeStateConflict, "witness declaration is %s", declaration.State)
	}

	now := requestcontext.Now(ctx)
	prior := declaration.State
	declaration.State = StateDeclined
	declaration.DeclinedAt = &now
	if err := s.store.Update(ctx, declaration, prior); err != nil {
		return nil, s.translateUpdateErr(err)
	}

	if err := s.audit.Emit(ctx, &audit.Event{
		NoticeID: declaration.NoticeID,
		Kind:     audit.KindWitnessDeclined,
		Title:    fmt.Sprintf("Witness declined: %s", declaration.FullName),
	}); err != nil {
		return nil, err
	}
	return declaration, nil
}

// ListByNotice returns every declaration for a notice, oldest first.
func (s *Service) ListByNotice(ctx context.Context, noticeID domain.NoticeID) ([]*Declaration, error) {
	declarations, err := s.store.ListByNotice(ctx, noticeID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list witness declarations")
	}
	return declarations, nil
}

func (s *Service) load(ctx context.Context, token string) (*Declaration, error) {
	declaration, err := s.store.GetByToken(ctx, token)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "unknown witness token")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load witness declaration")
	}

	now := requestcontext.Now(ctx)
	if (declaration.State == StateInvited || declaration.State == StateValidated) && declaration.tokenExpired(now) {
		prior := declaration.State
		declaration.State = StateExpired
		if err := s.store.Update(ctx, declaration, prior); err != nil && !errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "expire witness token")
		}
	}
	if declaration.State == StateExpired {
		return nil, dErrors.New(dErrors.CodeExpired, "witness token expired")
	}
	return declaration, nil
}

func (s *Service) translateUpdateErr(err error) error {
	if errors.Is(err, sentinel.ErrConflict) {
		return dErrors.New(dErrors.CodeStateConflict, "already processed")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "persist witness declaration")
}
