//go:build integration

package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"custody/pkg/platform/sentinel"
	"custody/pkg/testutil/containers"
)

type RedisLockSuite struct {
	suite.Suite
	redis  *containers.RedisContainer
	locker *Redis
}

func TestRedisLockSuite(t *testing.T) {
	suite.Run(t, new(RedisLockSuite))
}

func (s *RedisLockSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
}

func (s *RedisLockSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
	s.locker = NewRedis(s.redis.Client, 2*time.Second)
}

func (s *RedisLockSuite) TestAcquireRelease() {
	ctx := context.Background()
	release, err := s.locker.Acquire(ctx, "manifest-1")
	s.Require().NoError(err)

	s.Run("second holder times out", func() {
		waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()
		_, err := s.locker.Acquire(waitCtx, "manifest-1")
		s.ErrorIs(err, sentinel.ErrLocked)
	})

	s.Require().NoError(release(ctx))

	s.Run("free after release", func() {
		again, err := s.locker.Acquire(ctx, "manifest-1")
		s.Require().NoError(err)
		s.NoError(again(ctx))
	})
}

func (s *RedisLockSuite) TestReleaseDoesNotDropForeignLock() {
	ctx := context.Background()
	short := NewRedis(s.redis.Client, 50*time.Millisecond)

	release, err := short.Acquire(ctx, "manifest-2")
	s.Require().NoError(err)
	time.Sleep(100 * time.Millisecond)

	other, err := s.locker.Acquire(ctx, "manifest-2")
	s.Require().NoError(err)

	s.Require().NoError(release(ctx))
	exists, err := s.redis.Client.Exists(ctx, "custody:lock:manifest-2").Result()
	s.Require().NoError(err)
	s.Equal(int64(1), exists)
	s.NoError(other(ctx))
}
