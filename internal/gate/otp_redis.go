package gate

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"custodia/internal/platform/redis"
	"custodia/pkg/platform/sentinel"
)

const otpKeyPrefix = "gate:otp:"

// RedisOTPStore keeps codes in a Redis hash under one key per access token,
// so expiry is handled by the key TTL and attempt counting is an atomic
// HINCRBY rather than a read-modify-write.
type RedisOTPStore struct {
	client *redis.Client
}

func NewRedisOTPStore(client *redis.Client) *RedisOTPStore {
	return &RedisOTPStore{client: client}
}

func (s *RedisOTPStore) Save(ctx context.Context, token string, record OTPRecord, ttl time.Duration) error {
	key := otpKeyPrefix + token
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key,
		"code_hash", base64.StdEncoding.EncodeToString(record.CodeHash),
		"issued_at", record.IssuedAt.UTC().Format(time.RFC3339Nano),
		"attempts", record.Attempts,
	)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save otp: %w", err)
	}
	return nil
}

func (s *RedisOTPStore) Get(ctx context.Context, token string) (*OTPRecord, error) {
	fields, err := s.client.HGetAll(ctx, otpKeyPrefix+token).Result()
	if err != nil {
		return nil, fmt.Errorf("get otp: %w", err)
	}
	if len(fields) == 0 {
		return nil, sentinel.ErrNotFound
	}

	hash, err := base64.StdEncoding.DecodeString(fields["code_hash"])
	if err != nil {
		return nil, fmt.Errorf("stored otp hash corrupt: %w", err)
	}
	issuedAt, err := time.Parse(time.RFC3339Nano, fields["issued_at"])
	if err != nil {
		return nil, fmt.Errorf("stored otp timestamp corrupt: %w", err)
	}

	record := OTPRecord{CodeHash: hash, IssuedAt: issuedAt}
	if _, err := fmt.Sscanf(fields["attempts"], "%d", &record.Attempts); err != nil {
		return nil, fmt.Errorf("stored otp attempts corrupt: %w", err)
	}
	return &record, nil
}

func (s *RedisOTPStore) IncrementAttempts(ctx context.Context, token string) (int, error) {
	key := otpKeyPrefix + token
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("increment otp attempts: %w", err)
	}
	if exists == 0 {
		return 0, sentinel.ErrNotFound
	}

	attempts, err := s.client.HIncrBy(ctx, key, "attempts", 1).Result()
	if err != nil {
		return 0, fmt.Errorf("increment otp attempts: %w", err)
	}
	return int(attempts), nil
}

func (s *RedisOTPStore) Delete(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, otpKeyPrefix+token).Err(); err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("delete otp: %w", err)
	}
	return nil
}
