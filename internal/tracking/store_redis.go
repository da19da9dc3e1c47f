package tracking

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"custodia/internal/platform/redis"
	"custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

const trackingKeyPrefix = "tracking:session:"

// scrollMaxScript ratchets the scroll maximum atomically so concurrent
// heartbeats cannot regress it.
var scrollMaxScript = goredis.NewScript(`
	local current = tonumber(redis.call('HGET', KEYS[1], 'max_scroll') or '0')
	local reported = tonumber(ARGV[1])
	if reported > current then
		redis.call('HSET', KEYS[1], 'max_scroll', ARGV[1])
	end
	return redis.call('HGET', KEYS[1], 'max_scroll')
`)

// RedisSessionStore keeps engagement sessions in Redis hashes with a TTL.
// Dwell accrues via HINCRBYFLOAT and scroll via a compare-and-set script,
// both atomic on the server.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{client: client, ttl: ttl}
}

func (s *RedisSessionStore) key(token string) string { return trackingKeyPrefix + token }

func (s *RedisSessionStore) Create(ctx context.Context, session *Session) error {
	key := s.key(session.Token)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("create tracking session: %w", err)
	}
	if exists == 1 {
		return sentinel.ErrConflict
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"notice_id", session.NoticeID.String(),
		"max_scroll", session.MaxScrollPct,
		"dwell_seconds", session.DwellSeconds,
		"required_scroll", session.RequiredScroll,
		"required_dwell_seconds", session.RequiredDwell.Seconds(),
		"started_at", session.StartedAt.UTC().Format(time.RFC3339Nano),
		"satisfied_at", "",
	)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create tracking session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Get(ctx context.Context, token string) (*Session, error) {
	fields, err := s.client.HGetAll(ctx, s.key(token)).Result()
	if err != nil {
		return nil, fmt.Errorf("get tracking session: %w", err)
	}
	if len(fields) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return sessionFromFields(token, fields)
}

func (s *RedisSessionStore) RecordProgress(ctx context.Context, token string, scrollPct, dwellDelta float64) (*Session, error) {
	key := s.key(token)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("record progress: %w", err)
	}
	if exists == 0 {
		return nil, sentinel.ErrNotFound
	}

	if _, err := scrollMaxScript.Run(ctx, s.client, []string{key}, scrollPct).Result(); err != nil {
		return nil, fmt.Errorf("record scroll progress: %w", err)
	}
	if dwellDelta > 0 {
		if err := s.client.HIncrByFloat(ctx, key, "dwell_seconds", dwellDelta).Err(); err != nil {
			return nil, fmt.Errorf("record dwell progress: %w", err)
		}
	}
	return s.Get(ctx, token)
}

func (s *RedisSessionStore) MarkSatisfied(ctx context.Context, token string, at time.Time) (bool, error) {
	key := s.key(token)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("mark satisfied: %w", err)
	}
	if exists == 0 {
		return false, sentinel.ErrNotFound
	}

	current, err := s.client.HGet(ctx, key, "satisfied_at").Result()
	if err != nil && err != goredis.Nil {
		return false, fmt.Errorf("mark satisfied: %w", err)
	}
	if current != "" {
		return false, nil
	}
	if err := s.client.HSet(ctx, key, "satisfied_at", at.UTC().Format(time.RFC3339Nano)).Err(); err != nil {
		return false, fmt.Errorf("mark satisfied: %w", err)
	}
	return true, nil
}

func sessionFromFields(token string, fields map[string]string) (*Session, error) {
	session := &Session{Token: token}

	noticeID, err := domain.ParseNoticeID(fields["notice_id"])
	if err != nil {
		return nil, fmt.Errorf("stored notice id corrupt: %w", err)
	}
	session.NoticeID = noticeID

	if session.MaxScrollPct, err = strconv.ParseFloat(fields["max_scroll"], 64); err != nil {
		return nil, fmt.Errorf("stored scroll corrupt: %w", err)
	}
	if session.DwellSeconds, err = strconv.ParseFloat(fields["dwell_seconds"], 64); err != nil {
		return nil, fmt.Errorf("stored dwell corrupt: %w", err)
	}
	if session.RequiredScroll, err = strconv.ParseFloat(fields["required_scroll"], 64); err != nil {
		return nil, fmt.Errorf("stored threshold corrupt: %w", err)
	}
	requiredDwell, err := strconv.ParseFloat(fields["required_dwell_seconds"], 64)
	if err != nil {
		return nil, fmt.Errorf("stored threshold corrupt: %w", err)
	}
	session.RequiredDwell = time.Duration(requiredDwell * float64(time.Second))

	if session.StartedAt, err = time.Parse(time.RFC3339Nano, fields["started_at"]); err != nil {
		return nil, fmt.Errorf("stored start corrupt: %w", err)
	}
	if raw := fields["satisfied_at"]; raw != "" {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("stored satisfaction corrupt: %w", err)
		}
		session.SatisfiedAt = &at
	}
	return session, nil
}
