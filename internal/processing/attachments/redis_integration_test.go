//go:build integration

package attachments

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"checkpoint/internal/processing/models"
	"checkpoint/pkg/platform/sentinel"
	"checkpoint/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = NewRedisStore(s.redis.Client, 0)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) TestPutGet() {
	ctx := context.Background()

	ref, err := s.store.Put(ctx, models.CaptureDocumentScan, []byte("scan"))
	s.Require().NoError(err)
	s.Equal(Ref([]byte("scan")), ref)

	got, err := s.store.Get(ctx, ref)
	s.Require().NoError(err)
	s.Equal([]byte("scan"), got)
}

func (s *RedisStoreSuite) TestDuplicatePutKeepsOneKey() {
	ctx := context.Background()
	for range 3 {
		_, err := s.store.Put(ctx, models.CaptureFace, []byte("face"))
		s.Require().NoError(err)
	}

	keys, err := s.redis.Client.Keys(ctx, "attachment:*").Result()
	s.Require().NoError(err)
	s.Len(keys, 1)
}

func (s *RedisStoreSuite) TestMissing() {
	_, err := s.store.Get(context.Background(), Ref([]byte("absent")))
	s.ErrorIs(err, sentinel.ErrNotFound)
}
