//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"storefront/internal/session/store"
	id "storefront/pkg/domain"
	"storefront/pkg/platform/sentinel"
	"storefront/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *store.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.store = store.NewRedisStore(s.redis.Client, time.Hour)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	sessionID := id.NewSessionID()

	s.Require().NoError(s.store.Set(ctx, sessionID, store.KeyCart, []byte(`{"items":[]}`)))

	got, err := s.store.Get(ctx, sessionID, store.KeyCart)
	s.Require().NoError(err)
	s.JSONEq(`{"items":[]}`, string(got))

	ttl, err := s.redis.Client.TTL(ctx, "storefront:session:"+sessionID.String()+":"+store.KeyCart).Result()
	s.Require().NoError(err)
	s.Greater(ttl, 59*time.Minute)
}

func (s *RedisStoreSuite) TestMissingKey() {
	_, err := s.store.Get(context.Background(), id.NewSessionID(), store.KeyVerification)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RedisStoreSuite) TestDelete() {
	ctx := context.Background()
	sessionID := id.NewSessionID()
	s.Require().NoError(s.store.Set(ctx, sessionID, store.KeyVerification, []byte(`{}`)))
	s.Require().NoError(s.store.Delete(ctx, sessionID, store.KeyVerification))

	_, err := s.store.Get(ctx, sessionID, store.KeyVerification)
	s.ErrorIs(err, sentinel.ErrNotFound)
}
