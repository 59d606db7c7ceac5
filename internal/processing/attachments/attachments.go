// Package attachments stores capture images under content-addressed
// references. Identical images share one reference, so a retried completion
// never duplicates storage.
package attachments

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"

	"checkpoint/internal/processing/models"
	"checkpoint/pkg/platform/sentinel"
)

const refScheme = "blake2b:"

// Ref returns the content reference for data.
func Ref(data []byte) string {
	sum := blake2b.Sum256(data)
	return refScheme + hex.EncodeToString(sum[:])
}

func validate(kind models.CaptureKind, data []byte) error {
	if _, ok := models.ParseCaptureKind(string(kind)); !ok {
		return fmt.Errorf("unknown capture kind %q", kind)
	}
	if len(data) == 0 {
		return fmt.Errorf("empty %s attachment", kind)
	}
	return nil
}

// InMemoryStore keeps attachments in process memory.
type InMemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{blobs: make(map[string][]byte)}
}

func (s *InMemoryStore) Put(ctx context.Context, kind models.CaptureKind, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validate(kind, data); err != nil {
		return "", err
	}
	ref := Ref(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[ref]; !ok {
		s.blobs[ref] = slices.Clone(data)
	}
	return ref, nil
}

func (s *InMemoryStore) Get(_ context.Context, ref string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[ref]
	if !ok {
		return nil, fmt.Errorf("attachment %s: %w", ref, sentinel.ErrNotFound)
	}
	return slices.Clone(data), nil
}

const blobKeyPrefix = "attachment:"

// RedisStore keeps attachments in Redis. Retention is unbounded unless a TTL
// is configured; records reference attachments for as long as they exist.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Put writes with SETNX semantics so an existing blob is left untouched.
func (s *RedisStore) Put(ctx context.Context, kind models.CaptureKind, data []byte) (string, error) {
	if err := validate(kind, data); err != nil {
		return "", err
	}
	ref := Ref(data)
	if err := s.client.SetNX(ctx, blobKey(ref), data, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store %s attachment: %w", kind, err)
	}
	return ref, nil
}

func (s *RedisStore) Get(ctx context.Context, ref string) ([]byte, error) {
	data, err := s.client.Get(ctx, blobKey(ref)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("attachment %s: %w", ref, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load attachment %s: %w", ref, err)
	}
	return data, nil
}

func blobKey(ref string) string {
	return blobKeyPrefix + strings.TrimPrefix(ref, refScheme)
}
