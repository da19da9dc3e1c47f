//go:build integration

package gate_test

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"custodia/internal/gate"
	"custodia/internal/platform/redis"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/testutil/containers"
)

type RedisOTPStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *gate.RedisOTPStore
}

func TestRedisOTPStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisOTPStoreSuite))
}

func (s *RedisOTPStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
	s.store = gate.NewRedisOTPStore(&redis.Client{Client: s.redis.Client})
}

func (s *RedisOTPStoreSuite) SetupTest() {
	ctx := context.Background()
	err := s.redis.FlushAll(ctx)
	s.Require().NoError(err)
}

func codeHash(code string) []byte {
	sum := sha256.Sum256([]byte(code))
	return sum[:]
}

func (s *RedisOTPStoreSuite) TestSaveAndGetRoundTrip() {
	ctx := context.Background()
	token := uuid.NewString()
	issuedAt := time.Now().UTC().Truncate(time.Millisecond)

	err := s.store.Save(ctx, token, gate.OTPRecord{
		CodeHash: codeHash("483920"),
		IssuedAt: issuedAt,
	}, time.Minute)
	s.Require().NoError(err)

	got, err := s.store.Get(ctx, token)
	s.Require().NoError(err)
	s.Equal(codeHash("483920"), got.CodeHash)
	s.True(got.IssuedAt.Equal(issuedAt))
	s.Equal(0, got.Attempts)
}

func (s *RedisOTPStoreSuite) TestSaveReplacesPreviousCode() {
	ctx := context.Background()
	token := uuid.NewString()

	err := s.store.Save(ctx, token, gate.OTPRecord{
		CodeHash: codeHash("111111"),
		IssuedAt: time.Now(),
	}, time.Minute)
	s.Require().NoError(err)

	// Burn attempts against the first code before the re-request.
	_, err = s.store.IncrementAttempts(ctx, token)
	s.Require().NoError(err)
	_, err = s.store.IncrementAttempts(ctx, token)
	s.Require().NoError(err)

	err = s.store.Save(ctx, token, gate.OTPRecord{
		CodeHash: codeHash("222222"),
		IssuedAt: time.Now(),
	}, time.Minute)
	s.Require().NoError(err)

	got, err := s.store.Get(ctx, token)
	s.Require().NoError(err)
	s.Equal(codeHash("222222"), got.CodeHash)
	s.Equal(0, got.Attempts, "a fresh code resets the attempt counter")
}

func (s *RedisOTPStoreSuite) TestIncrementAttempts() {
	ctx := context.Background()
	token := uuid.NewString()

	err := s.store.Save(ctx, token, gate.OTPRecord{
		CodeHash: codeHash("654321"),
		IssuedAt: time.Now(),
	}, time.Minute)
	s.Require().NoError(err)

	for want := 1; want <= 3; want++ {
		attempts, err := s.store.IncrementAttempts(ctx, token)
		s.Require().NoError(err)
		s.Equal(want, attempts)
	}

	got, err := s.store.Get(ctx, token)
	s.Require().NoError(err)
	s.Equal(3, got.Attempts)
}

func (s *RedisOTPStoreSuite) TestIncrementAttemptsUnknownToken() {
	_, err := s.store.IncrementAttempts(context.Background(), uuid.NewString())
	s.Require().Error(err)
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *RedisOTPStoreSuite) TestExpiry() {
	ctx := context.Background()
	token := uuid.NewString()

	err := s.store.Save(ctx, token, gate.OTPRecord{
		CodeHash: codeHash("987654"),
		IssuedAt: time.Now(),
	}, 200*time.Millisecond)
	s.Require().NoError(err)

	_, err = s.store.Get(ctx, token)
	s.Require().NoError(err)

	time.Sleep(400 * time.Millisecond)

	_, err = s.store.Get(ctx, token)
	s.Require().Error(err)
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *RedisOTPStoreSuite) TestDelete() {
	ctx := context.Background()
	token := uuid.NewString()

	err := s.store.Save(ctx, token, gate.OTPRecord{
		CodeHash: codeHash("112233"),
		IssuedAt: time.Now(),
	}, time.Minute)
	s.Require().NoError(err)

	s.Require().NoError(s.store.Delete(ctx, token))

	_, err = s.store.Get(ctx, token)
	s.True(errors.Is(err, sentinel.ErrNotFound))

	// Deleting an absent token is not an error.
	s.Require().NoError(s.store.Delete(ctx, token))
}
