package convenio

import (
	"context"
	"errors"
	"log/slog"

	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/requestcontext"
)

type Service struct {
	store  Store
	logger *slog.Logger
}

type ServiceOption func(*Service)

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateInput struct {
	EmployerID domain.EmployerID
	EmployeeID domain.EmployeeID
	Email      string
	Phone      string
}

// Create opens a pending agreement for an employee. One agreement per
// employee; a second create is a conflict.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Agreement, error) {
	if in.Email == "" && in.Phone == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "agreement needs at least one contact point")
	}

	agreement := &Agreement{
		ID:         domain.NewAgreementID(),
		EmployerID: in.EmployerID,
		EmployeeID: in.EmployeeID,
		State:      StatePending,
		Email:      in.Email,
		Phone:      in.Phone,
		CreatedAt:  requestcontext.Now(ctx),
	}

	if err := s.store.Create(ctx, agreement); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "employee already has a domicile agreement")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create agreement")
	}
	return agreement, nil
}

// Sign records the employee's consent, digitally or on paper. Signing is
// write-once; a signed or expired agreement cannot be signed again.
func (s *Service) Sign(ctx context.Context, employeeID domain.EmployeeID, onPaper bool) (*Agreement, error) {
	agreement, err := s.getByEmployee(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	if agreement.State != StatePending {
		return nil, dErrors.Newf(dErrors.CodeStateConflict, "agreement already %s", agreement.State)
	}

	now := requestcontext.Now(ctx)
	agreement.SignedAt = &now
	if onPaper {
		agreement.State = StateSignedPaper
	} else {
		agreement.State = StateSignedDigital
	}

	if err := s.store.Update(ctx, agreement); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "sign agreement")
	}

	s.logger.InfoContext(ctx, "domicile agreement signed",
		slog.String("agreement_id", agreement.ID.String()),
		slog.String("state", string(agreement.State)))
	return agreement, nil
}

// Expire closes an agreement, withdrawing digital delivery consent.
func (s *Service) Expire(ctx context.Context, employeeID domain.EmployeeID) (*Agreement, error) {
	agreement, err := s.getByEmployee(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	if agreement.State == StateExpired {
		return agreement, nil
	}

	now := requestcontext.Now(ctx)
	agreement.State = StateExpired
	agreement.ExpiresAt = &now
	if err := s.store.Update(ctx, agreement); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "expire agreement")
	}
	return agreement, nil
}

// AuthorizesDigitalDelivery reports whether a notice may be delivered to
// this employee over digital channels, and with which contact points.
func (s *Service) AuthorizesDigitalDelivery(ctx context.Context, employeeID domain.EmployeeID) (*Agreement, error) {
	agreement, err := s.getByEmployee(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	if !agreement.Signed() {
		return nil, dErrors.Newf(dErrors.CodeStateConflict,
			"domicile agreement is %s, digital delivery not authorized", agreement.State)
	}
	return agreement, nil
}

func (s *Service) getByEmployee(ctx context.Context, employeeID domain.EmployeeID) (*Agreement, error) {
	agreement, err := s.store.GetByEmployee(ctx, employeeID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "no domicile agreement for employee")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load agreement")
	}
	return agreement, nil
}
