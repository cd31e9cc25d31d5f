// Redis-backed directory persistence for multi-pod deployments. Without a
// shared store, posture updates applied on pod 1 are invisible to pod 2.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ztx/accessd/internal/core"
)

// RedisClient is the minimal interface the directory needs from a Redis
// library. The directory doesn't import a specific driver — cmd/server
// creates the concrete client and injects it.
type RedisClient interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, keys ...string) error
	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
}

// RedisStore persists directory records in Redis. Implements Backing.
type RedisStore struct {
	client    RedisClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedisStore creates a Redis-backed directory store.
func NewRedisStore(client RedisClient, keyPrefix string, ttl time.Duration) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "accessd:dir:"
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

// SaveUser persists a user record.
func (rs *RedisStore) SaveUser(ctx context.Context, u *core.UserIdentity) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	if err := rs.client.Set(ctx, rs.keyPrefix+"user:"+u.ID, data, rs.ttl); err != nil {
		return fmt.Errorf("redis SET user: %w", err)
	}
	return rs.client.SAdd(ctx, rs.keyPrefix+"users", u.ID)
}

// LoadUser retrieves a user record.
func (rs *RedisStore) LoadUser(ctx context.Context, id string) (*core.UserIdentity, error) {
	data, err := rs.client.Get(ctx, rs.keyPrefix+"user:"+id)
	if err != nil {
		return nil, &core.NotFoundError{Kind: "user", ID: id}
	}
	var u core.UserIdentity
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("unmarshal user %s: %w", id, err)
	}
	return &u, nil
}

// SaveDevice persists a device record.
func (rs *RedisStore) SaveDevice(ctx context.Context, d *core.DeviceTrust) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal device: %w", err)
	}
	if err := rs.client.Set(ctx, rs.keyPrefix+"device:"+d.ID, data, rs.ttl); err != nil {
		return fmt.Errorf("redis SET device: %w", err)
	}
	return rs.client.SAdd(ctx, rs.keyPrefix+"devices", d.ID)
}

// LoadDevice retrieves a device record.
func (rs *RedisStore) LoadDevice(ctx context.Context, id string) (*core.DeviceTrust, error) {
	data, err := rs.client.Get(ctx, rs.keyPrefix+"device:"+id)
	if err != nil {
		return nil, &core.NotFoundError{Kind: "device", ID: id}
	}
	var d core.DeviceTrust
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("unmarshal device %s: %w", id, err)
	}
	return &d, nil
}

// ListUserIDs returns all persisted user ids.
func (rs *RedisStore) ListUserIDs(ctx context.Context) ([]string, error) {
	return rs.client.SMembers(ctx, rs.keyPrefix+"users")
}

// ListDeviceIDs returns all persisted device ids.
func (rs *RedisStore) ListDeviceIDs(ctx context.Context) ([]string, error) {
	return rs.client.SMembers(ctx, rs.keyPrefix+"devices")
}

var _ Backing = (*RedisStore)(nil)
