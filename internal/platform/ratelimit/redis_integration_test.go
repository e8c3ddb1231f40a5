//go:build integration

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"custody/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *Redis
}

func TestRedisStoreSuite(t *testing.T) {
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.Health(context.Background()))
	s.Require().NoError(s.redis.FlushAll(context.Background()))
	s.store = NewRedis(s.redis.Client)
}

func (s *RedisStoreSuite) TestSlidingWindow() {
	ctx := context.Background()
	now := time.Now()
	s.store.now = func() time.Time { return now }

	for i := range 2 {
		res, err := s.store.Allow(ctx, "ip:203.0.113.5", 2, time.Minute)
		s.Require().NoError(err)
		s.True(res.Allowed)
		s.Equal(1-i, res.Remaining)
		now = now.Add(time.Second)
	}

	res, err := s.store.Allow(ctx, "ip:203.0.113.5", 2, time.Minute)
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.GreaterOrEqual(res.RetryAfter, 57)

	now = now.Add(time.Minute)
	res, err = s.store.Allow(ctx, "ip:203.0.113.5", 2, time.Minute)
	s.Require().NoError(err)
	s.True(res.Allowed)

	ttl, err := s.redis.Client.PTTL(ctx, "ratelimit:ip:203.0.113.5").Result()
	s.Require().NoError(err)
	s.Greater(ttl, time.Duration(0))
}
