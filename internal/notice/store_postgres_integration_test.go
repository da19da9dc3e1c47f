//go:build integration

package notice_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"custodia/internal/integrity"
	"custodia/internal/notice"
	"custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *notice.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = notice.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx, "notices")
	s.Require().NoError(err)
}

func newStoredNotice(employerID domain.EmployerID) *notice.Notice {
	now := time.Now().UTC().Truncate(time.Microsecond)
	content := "Llegadas tarde reiteradas durante la semana del incidente."
	return &notice.Notice{
		ID:          domain.NewNoticeID(),
		EmployerID:  employerID,
		EmployeeID:  domain.NewEmployeeID(),
		Category:    notice.CategoryWarning,
		Severity:    2,
		Facts:       content,
		IncidentAt:  now.AddDate(0, 0, -3),
		ContentHash: integrity.HashBytes([]byte(content)),
		Stamp: &integrity.Stamp{
			Digest: integrity.HashBytes([]byte(content)),
			Attestation: &integrity.TimeAttestation{
				Authority: "tsa-1",
				Token:     "att-token",
				SignedAt:  now,
			},
		},
		GeneratedAt: now,
		CreationIP:  "10.1.2.3",
		State:       notice.StateDraft,
		CreatedAt:   now,
	}
}

func (s *PostgresStoreSuite) TestCreateAndGetRoundTrip() {
	ctx := context.Background()
	n := newStoredNotice(domain.NewEmployerID())

	err := s.store.Create(ctx, n)
	s.Require().NoError(err)

	got, err := s.store.Get(ctx, n.ID)
	s.Require().NoError(err)
	s.Equal(n.ID, got.ID)
	s.Equal(n.EmployerID, got.EmployerID)
	s.Equal(n.EmployeeID, got.EmployeeID)
	s.Equal(notice.CategoryWarning, got.Category)
	s.Equal(n.Facts, got.Facts)
	s.Equal(n.ContentHash, got.ContentHash)
	s.Equal(notice.StateDraft, got.State)
	s.Require().NotNil(got.Stamp)
	s.Equal(n.Stamp.Digest, got.Stamp.Digest)
	s.Require().NotNil(got.Stamp.Attestation)
	s.Equal("tsa-1", got.Stamp.Attestation.Authority)
	s.WithinDuration(n.CreatedAt, got.CreatedAt, time.Millisecond)
}

func (s *PostgresStoreSuite) TestCreateDuplicateID() {
	ctx := context.Background()
	n := newStoredNotice(domain.NewEmployerID())

	s.Require().NoError(s.store.Create(ctx, n))
	err := s.store.Create(ctx, n)
	s.Require().Error(err)
	s.True(errors.Is(err, sentinel.ErrConflict))
}

func (s *PostgresStoreSuite) TestGetUnknown() {
	_, err := s.store.Get(context.Background(), domain.NewNoticeID())
	s.Require().Error(err)
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *PostgresStoreSuite) TestConditionalUpdate() {
	ctx := context.Background()
	n := newStoredNotice(domain.NewEmployerID())
	s.Require().NoError(s.store.Create(ctx, n))

	s.Run("matching expected state applies", func() {
		n.State = notice.StateSent
		due := time.Now().UTC().AddDate(0, 0, 5).Truncate(time.Microsecond)
		n.DueDate = &due

		err := s.store.Update(ctx, n, notice.StateDraft, n.ChallengeAttempts)
		s.Require().NoError(err)

		got, err := s.store.Get(ctx, n.ID)
		s.Require().NoError(err)
		s.Equal(notice.StateSent, got.State)
		s.Require().NotNil(got.DueDate)
		s.WithinDuration(due, *got.DueDate, time.Millisecond)
	})

	s.Run("stale challenge attempt counter is rejected", func() {
		stale := *n
		stale.ChallengeAttempts = 1
		err := s.store.Update(ctx, &stale, notice.StateSent, 0)
		s.Require().NoError(err)

		// A second writer still holding attempts=0 must lose.
		lost := *n
		lost.ChallengeAttempts = 1
		err = s.store.Update(ctx, &lost, notice.StateSent, 0)
		s.Require().Error(err)
		s.True(errors.Is(err, sentinel.ErrConflict))

		got, err := s.store.Get(ctx, n.ID)
		s.Require().NoError(err)
		s.Equal(1, got.ChallengeAttempts)
		n.ChallengeAttempts = 1
	})

	s.Run("stale expected state is rejected", func() {
		n.State = notice.StateDisputed
		err := s.store.Update(ctx, n, notice.StateDraft, n.ChallengeAttempts)
		s.Require().Error(err)
		s.True(errors.Is(err, sentinel.ErrConflict))

		got, err := s.store.Get(ctx, n.ID)
		s.Require().NoError(err)
		s.Equal(notice.StateSent, got.State)
	})
}

func (s *PostgresStoreSuite) TestListByEmployerOrdering() {
	ctx := context.Background()
	employerID := domain.NewEmployerID()

	first := newStoredNotice(employerID)
	first.CreatedAt = time.Now().UTC().Add(-2 * time.Hour).Truncate(time.Microsecond)
	second := newStoredNotice(employerID)
	second.CreatedAt = time.Now().UTC().Add(-1 * time.Hour).Truncate(time.Microsecond)
	other := newStoredNotice(domain.NewEmployerID())

	// Insert out of order so the ORDER BY does the work.
	s.Require().NoError(s.store.Create(ctx, second))
	s.Require().NoError(s.store.Create(ctx, other))
	s.Require().NoError(s.store.Create(ctx, first))

	notices, err := s.store.ListByEmployer(ctx, employerID)
	s.Require().NoError(err)
	s.Require().Len(notices, 2)
	s.Equal(first.ID, notices[0].ID)
	s.Equal(second.ID, notices[1].ID)
}
