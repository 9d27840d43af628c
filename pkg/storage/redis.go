package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pixperk/pagelock/pkg/types"
	redis "github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces every key the store writes.
const DefaultRedisPrefix = "pagelock"

// RedisStore keeps the lease table in Redis so several service instances
// can share it.
//
// layout, with member = name + 0x00 + session:
//
//	{prefix}:lease:{member}  JSON lease
//	{prefix}:name:{name}     sorted set of sessions, score = created (µs)
//	{prefix}:expiry          sorted set of members, score = expiry (µs)
//
// scores are microseconds so they stay exact in a float64
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func member(name, sessionID string) string {
	return name + types.KeySeparator + sessionID
}

func (s *RedisStore) leaseKey(name, sessionID string) string {
	return s.prefix + ":lease:" + member(name, sessionID)
}

func (s *RedisStore) nameKey(name string) string {
	return s.prefix + ":name:" + name
}

func (s *RedisStore) expiryKey() string {
	return s.prefix + ":expiry"
}

func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}

func (s *RedisStore) get(ctx context.Context, name, sessionID string) (*types.Lease, error) {
	data, err := s.client.Get(ctx, s.leaseKey(name, sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l, err := decodeLease(data)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *RedisStore) CountActive(ctx context.Context, name, sessionID string, now time.Time) (int, error) {
	if err := types.ValidateKey(name, sessionID); err != nil {
		return 0, err
	}

	l, err := s.get(ctx, name, sessionID)
	if err != nil {
		return 0, err
	}
	if l == nil || !l.IsActive(now) {
		return 0, nil
	}
	return 1, nil
}

func (s *RedisStore) QueryActive(ctx context.Context, name, excludeSessionID string, now time.Time) ([]types.Lease, error) {
	if err := types.ValidateKey(name, excludeSessionID); err != nil {
		return nil, err
	}

	sessions, err := s.client.ZRange(ctx, s.nameKey(name), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(sessions))
	for _, session := range sessions {
		if session == excludeSessionID {
			continue
		}
		keys = append(keys, s.leaseKey(name, session))
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var out []types.Lease
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			//index entry without a lease body, swept concurrently
			continue
		}
		l, err := decodeLease([]byte(raw))
		if err != nil {
			return nil, err
		}
		if l.IsActive(now) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *RedisStore) Insert(ctx context.Context, lease types.Lease) error {
	if err := types.ValidateKey(lease.Name, lease.SessionID); err != nil {
		return err
	}

	data, err := json.Marshal(lease)
	if err != nil {
		return fmt.Errorf("encode lease: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.leaseKey(lease.Name, lease.SessionID), data, 0)
		pipe.ZAdd(ctx, s.nameKey(lease.Name), redis.Z{Score: score(lease.CreatedAt), Member: lease.SessionID})
		pipe.ZAdd(ctx, s.expiryKey(), redis.Z{Score: score(lease.ExpiresAt), Member: member(lease.Name, lease.SessionID)})
		return nil
	})
	return err
}

func (s *RedisStore) UpdateExpiry(ctx context.Context, name, sessionID string, expiresAt time.Time) error {
	if err := types.ValidateKey(name, sessionID); err != nil {
		return err
	}

	l, err := s.get(ctx, name, sessionID)
	if err != nil || l == nil {
		return err
	}
	l.ExpiresAt = expiresAt

	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("encode lease: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.leaseKey(name, sessionID), data, 0)
		pipe.ZAdd(ctx, s.expiryKey(), redis.Z{Score: score(expiresAt), Member: member(name, sessionID)})
		return nil
	})
	return err
}

func (s *RedisStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.client.ZRangeByScore(ctx, s.expiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(now.UnixMicro(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, m := range expired {
			name, sessionID := splitMember(m)
			s.queueDelete(ctx, pipe, name, sessionID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(expired), nil
}

func (s *RedisStore) DeleteByName(ctx context.Context, name, sessionID string) error {
	if err := types.ValidateKey(name, sessionID); err != nil {
		return err
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.queueDelete(ctx, pipe, name, sessionID)
		return nil
	})
	return err
}

func (s *RedisStore) queueDelete(ctx context.Context, pipe redis.Pipeliner, name, sessionID string) {
	pipe.Del(ctx, s.leaseKey(name, sessionID))
	pipe.ZRem(ctx, s.nameKey(name), sessionID)
	pipe.ZRem(ctx, s.expiryKey(), member(name, sessionID))
}

func splitMember(m string) (string, string) {
	name, sessionID, _ := strings.Cut(m, types.KeySeparator)
	return name, sessionID
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
