package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"

	"checkpoint/internal/processing/models"
	id "checkpoint/pkg/domain"
	"checkpoint/pkg/platform/sentinel"
)

const attemptKeyPrefix = "attempt:"

// DefaultTTL bounds how long an untouched attempt survives.
const DefaultTTL = 2 * time.Hour

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	if encMode, err = opts.EncMode(); err != nil {
		panic("session: cbor encoder: " + err.Error())
	}
	if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic("session: cbor decoder: " + err.Error())
	}
}

// RedisAttemptStore keeps attempts in Redis as CBOR so any replica can
// serve the next request of an officer. Every Save refreshes the TTL.
type RedisAttemptStore struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisOption configures a RedisAttemptStore.
type RedisOption func(*RedisAttemptStore)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisAttemptStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func NewRedisAttemptStore(client *redis.Client, opts ...RedisOption) *RedisAttemptStore {
	s := &RedisAttemptStore{client: client, ttl: DefaultTTL}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func attemptKey(attemptID id.AttemptID) string {
	return attemptKeyPrefix + attemptID.String()
}

// Get returns sentinel.ErrNotFound for unknown and expired attempts alike.
func (s *RedisAttemptStore) Get(ctx context.Context, attemptID id.AttemptID) (models.Attempt, error) {
	raw, err := s.client.Get(ctx, attemptKey(attemptID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Attempt{}, fmt.Errorf("attempt %s: %w", attemptID, sentinel.ErrNotFound)
	}
	if err != nil {
		return models.Attempt{}, fmt.Errorf("load attempt %s: %w", attemptID, err)
	}
	var a models.Attempt
	if err := decMode.Unmarshal(raw, &a); err != nil {
		return models.Attempt{}, fmt.Errorf("decode attempt %s: %w", attemptID, err)
	}
	if a.Captures == nil {
		a.Captures = models.CaptureBuffer{}
	}
	if a.Acknowledged == nil {
		a.Acknowledged = map[string]bool{}
	}
	return a, nil
}

func (s *RedisAttemptStore) Save(ctx context.Context, a models.Attempt) error {
	raw, err := encMode.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode attempt %s: %w", a.ID, err)
	}
	if err := s.client.Set(ctx, attemptKey(a.ID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("store attempt %s: %w", a.ID, err)
	}
	return nil
}
