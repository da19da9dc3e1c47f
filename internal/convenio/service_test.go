package convenio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	ctx      context.Context
	svc      *Service
	employee domain.EmployeeID
	employer domain.EmployerID
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(),
		time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC))
	s.svc = NewService(NewInMemoryStore())
	s.employee = domain.NewEmployeeID()
	s.employer = domain.NewEmployerID()
}

func (s *ServiceSuite) create() *Agreement {
	agreement, err := s.svc.Create(s.ctx, CreateInput{
		EmployerID: s.employer,
		EmployeeID: s.employee,
		Email:      "juan.perez@example.com",
		Phone:      "+595971112233",
	})
	s.Require().NoError(err)
	return agreement
}

func (s *ServiceSuite) TestCreate() {
	s.Run("new agreement starts pending", func() {
		agreement := s.create()
		s.Equal(StatePending, agreement.State)
		s.False(agreement.Signed())
	})

	s.Run("second agreement for the same employee conflicts", func() {
		_, err := s.svc.Create(s.ctx, CreateInput{
			EmployerID: s.employer,
			EmployeeID: s.employee,
			Email:      "other@example.com",
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("agreement without contact points is invalid", func() {
		_, err := s.svc.Create(s.ctx, CreateInput{
			EmployerID: s.employer,
			EmployeeID: domain.NewEmployeeID(),
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *ServiceSuite) TestSign() {
	s.create()

	s.Run("digital signature authorizes delivery", func() {
		agreement, err := s.svc.Sign(s.ctx, s.employee, false)
		s.Require().NoError(err)
		s.Equal(StateSignedDigital, agreement.State)
		s.Require().NotNil(agreement.SignedAt)
		s.True(agreement.Signed())
	})

	s.Run("signing twice is a state conflict", func() {
		_, err := s.svc.Sign(s.ctx, s.employee, false)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeStateConflict))
	})

	s.Run("paper signature also authorizes delivery", func() {
		paperEmployee := domain.NewEmployeeID()
		_, err := s.svc.Create(s.ctx, CreateInput{
			EmployerID: s.employer,
			EmployeeID: paperEmployee,
			Phone:      "+595984445566",
		})
		s.Require().NoError(err)

		agreement, err := s.svc.Sign(s.ctx, paperEmployee, true)
		s.Require().NoError(err)
		s.Equal(StateSignedPaper, agreement.State)
		s.True(agreement.Signed())
	})
}

func (s *ServiceSuite) TestAuthorizesDigitalDelivery() {
	s.Run("unknown employee is not found", func() {
		_, err := s.svc.AuthorizesDigitalDelivery(s.ctx, domain.NewEmployeeID())
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("pending agreement blocks digital delivery", func() {
		s.create()
		_, err := s.svc.AuthorizesDigitalDelivery(s.ctx, s.employee)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeStateConflict))
	})

	s.Run("signed agreement authorizes delivery", func() {
		_, err := s.svc.Sign(s.ctx, s.employee, false)
		s.Require().NoError(err)

		agreement, err := s.svc.AuthorizesDigitalDelivery(s.ctx, s.employee)
		s.Require().NoError(err)
		s.Equal("juan.perez@example.com", agreement.Email)
	})

	s.Run("expired agreement withdraws authorization", func() {
		_, err := s.svc.Expire(s.ctx, s.employee)
		s.Require().NoError(err)

		_, err = s.svc.AuthorizesDigitalDelivery(s.ctx, s.employee)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeStateConflict))
	})
}
