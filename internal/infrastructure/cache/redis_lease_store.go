package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/shopsync/backend/internal/domain/integration"
)

const defaultLeasePrefix = "shopsync:lease:"

// releaseScript deletes the lease key only if it still holds the caller's token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLeaseStore implements integration.LeaseStore using Redis.
// It is suitable for deployments where several instances run sync workers.
type RedisLeaseStore struct {
	client    redis.UniversalClient
	keyPrefix string
	now       func() time.Time
}

// NewRedisLeaseStore connects to Redis and verifies the connection
func NewRedisLeaseStore(ctx context.Context, addr, password string, db int) (*RedisLeaseStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisLeaseStoreWithClient(client, ""), nil
}

// NewRedisLeaseStoreWithClient creates a store with an existing Redis client
func NewRedisLeaseStoreWithClient(client redis.UniversalClient, keyPrefix string) *RedisLeaseStore {
	if keyPrefix == "" {
		keyPrefix = defaultLeasePrefix
	}
	return &RedisLeaseStore{client: client, keyPrefix: keyPrefix, now: time.Now}
}

func (s *RedisLeaseStore) key(tenantID uuid.UUID) string {
	return s.keyPrefix + tenantID.String()
}

// Acquire takes the tenant's lease with SET NX PX
func (s *RedisLeaseStore) Acquire(ctx context.Context, tenantID uuid.UUID, ttl time.Duration) (*integration.Lease, error) {
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, s.key(tenantID), token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lease: %w", err)
	}
	if !ok {
		return nil, integration.ErrTenantLockContention
	}
	return &integration.Lease{TenantID: tenantID, Token: token, ExpiresAt: s.now().Add(ttl)}, nil
}

// Release frees the lease if it is still held with the same token
func (s *RedisLeaseStore) Release(ctx context.Context, lease *integration.Lease) error {
	if lease == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, s.client, []string{s.key(lease.TenantID)}, lease.Token).Err(); err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

// Ping checks the Redis connection
func (s *RedisLeaseStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (s *RedisLeaseStore) Close() error {
	return s.client.Close()
}

var _ integration.LeaseStore = (*RedisLeaseStore)(nil)
