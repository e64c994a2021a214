// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

package kv

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisClient implements Client on top of github.com/redis/go-redis/v9.
// Connection pooling, reconnects, and TLS (rediss:// URLs) are handled by
// the underlying client; go-redis dials lazily, so constructing a client
// against an unreachable server does not fail startup.
type RedisClient struct {
	c *redis.Client
}

// NewRedisClient builds a client from a Redis URL such as
// "redis://localhost:6379/0" or "rediss://host:port" for TLS.
func NewRedisClient(rawURL string) (*RedisClient, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisClient{c: redis.NewClient(opt)}, nil
}

// NewRedisClientFromOptions wraps an existing options struct. Used by tests
// that point at a miniredis address.
func NewRedisClientFromOptions(opt *redis.Options) *RedisClient {
	return &RedisClient{c: redis.NewClient(opt)}
}

func (r *RedisClient) Incr(ctx context.Context, key string) (int64, error) {
	n, err := r.c.Incr(ctx, key).Result()
	if err != nil {
		return 0, wrap("incr", err)
	}
	return n, nil
}

func (r *RedisClient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := r.c.Expire(ctx, key, ttl).Err(); err != nil {
		return wrap("expire", err)
	}
	return nil
}

func (r *RedisClient) SAdd(ctx context.Context, key, member string) error {
	if err := r.c.SAdd(ctx, key, member).Err(); err != nil {
		return wrap("sadd", err)
	}
	return nil
}

func (r *RedisClient) SCard(ctx context.Context, key string) (int64, error) {
	n, err := r.c.SCard(ctx, key).Result()
	if err != nil {
		return 0, wrap("scard", err)
	}
	return n, nil
}

// Close releases the connection pool. Safe to call once during shutdown.
func (r *RedisClient) Close() error {
	return r.c.Close()
}

// wrap collapses any backend error into the single ErrUnavailable category
// while preserving the cause in the message.
func wrap(op string, err error) error {
	return fmt.Errorf("%s: %v: %w", op, err, ErrUnavailable)
}
