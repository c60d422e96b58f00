// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldCount     = "count"
	fieldExpiresAt = "expires_at"
)

// incrementScript restarts the window when expires_at <= ARGV[1] and
// otherwise bumps count. ARGV[2] is the new expiry in unix milliseconds.
var incrementScript = redis.NewScript(`
local exp = tonumber(redis.call('HGET', KEYS[1], 'expires_at'))
if exp == nil or exp <= tonumber(ARGV[1]) then
  redis.call('HSET', KEYS[1], 'count', 1, 'expires_at', ARGV[2])
  redis.call('PEXPIREAT', KEYS[1], ARGV[2])
  return {1, tonumber(ARGV[2])}
end
local count = redis.call('HINCRBY', KEYS[1], 'count', 1)
return {count, exp}
`)

// RedisStore keeps one hash per key and sets PEXPIREAT to the record expiry,
// so Redis reaps expired windows on its own.
type RedisStore struct {
	rdb       redis.UniversalClient
	prefix    string
	ownClient bool
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisPrefix namespaces all keys.
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = strings.Trim(prefix, ":") }
}

// WithOwnedClient makes Close close the client.
func WithOwnedClient() RedisOption {
	return func(s *RedisStore) { s.ownClient = true }
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb redis.UniversalClient, opts ...RedisOption) (*RedisStore, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	s := &RedisStore{rdb: rdb, prefix: "ratelimit"}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *RedisStore) redisKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

// Get returns the record for key or nil.
func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	fields, err := s.rdb.HGetAll(ctx, s.redisKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read rate limit: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return parseRecord(key, fields)
}

func parseRecord(key string, fields map[string]string) (*Record, error) {
	count, err := strconv.ParseInt(fields[fieldCount], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid count for %q: %w", key, err)
	}
	ms, err := strconv.ParseInt(fields[fieldExpiresAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid expiry for %q: %w", key, err)
	}
	return &Record{Key: key, Count: count, ExpiresAt: time.UnixMilli(ms).UTC()}, nil
}

// Increment runs the attempt as one Lua script.
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration, now time.Time) (Record, error) {
	expiresAt := now.Add(window).UnixMilli()
	vals, err := incrementScript.Run(ctx, s.rdb, []string{s.redisKey(key)}, now.UnixMilli(), expiresAt).Int64Slice()
	if err != nil {
		return Record{}, fmt.Errorf("failed to increment rate limit: %w", err)
	}
	if len(vals) != 2 {
		return Record{}, fmt.Errorf("unexpected increment reply for %q: %v", key, vals)
	}
	return Record{Key: key, Count: vals[0], ExpiresAt: time.UnixMilli(vals[1]).UTC()}, nil
}

// Put writes rec and its expiry in one MULTI/EXEC.
func (s *RedisStore) Put(ctx context.Context, rec Record) error {
	k := s.redisKey(rec.Key)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, fieldCount, rec.Count, fieldExpiresAt, rec.ExpiresAt.UnixMilli())
		pipe.PExpireAt(ctx, k, rec.ExpiresAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write rate limit: %w", err)
	}
	return nil
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete rate limit: %w", err)
	}
	return nil
}

// DeleteExpired scans the prefix for records Redis has not reaped yet.
func (s *RedisStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	match := s.redisKey("*")
	var (
		cursor  uint64
		removed int64
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, match, 256).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to scan rate limits: %w", err)
		}
		for _, k := range keys {
			raw, err := s.rdb.HGet(ctx, k, fieldExpiresAt).Result()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return removed, fmt.Errorf("failed to read expiry: %w", err)
			}
			ms, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || time.UnixMilli(ms).After(before) {
				continue
			}
			n, err := s.rdb.Del(ctx, k).Result()
			if err != nil {
				return removed, fmt.Errorf("failed to delete rate limit: %w", err)
			}
			removed += n
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}

// Close closes the client if the store owns it.
func (s *RedisStore) Close() error {
	if s.ownClient {
		return s.rdb.Close()
	}
	return nil
}
