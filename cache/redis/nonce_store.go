package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"go.pilab.hu/oauth-broker/domain"
)

// NonceStore implements domain.NonceRepository using Redis. SET NX gives
// the atomic create-if-absent primitive that makes state tokens single use
// across all broker instances.
type NonceStore struct {
	client redis.UniversalClient
	prefix string // optional key prefix
}

var _ domain.NonceRepository = (*NonceStore)(nil)

// NewNonceStore creates a new [NonceStore] instance.
func NewNonceStore(client redis.UniversalClient, prefix string) *NonceStore {
	return &NonceStore{
		client: client,
		prefix: prefix,
	}
}

func (s *NonceStore) redisKey(nonce string) string {
	return fmt.Sprintf("%s:state_nonce:%s", s.prefix, nonce)
}

// Consume marks a nonce as seen. The first call for a nonce returns true;
// later calls return false until ttl elapses, which is sized to the state
// token's own maximum lifetime.
func (s *NonceStore) Consume(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.redisKey(nonce), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to consume nonce in Redis: %w", err)
	}
	return ok, nil
}
