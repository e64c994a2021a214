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

// Package kv is the thin adapter over the shared key/value store that backs
// rate counters and behavioral signals. It exposes exactly the four
// primitives the data plane needs (atomic increment, TTL, set-add, set-card)
// behind a narrow interface so the rate limiter and risk scorer can be
// tested against in-memory doubles.
//
// Every backend failure, whatever its cause, surfaces as ErrUnavailable.
// Callers treat that single category as fail-open: the request proceeds
// with advisory signals zeroed out.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is the single error category exposed by the adapter.
// Use errors.Is to detect it; the wrapped message carries the cause.
var ErrUnavailable = errors.New("kv_unavailable")

// Client is the minimal capability surface required by the data plane.
// All operations are atomic on the server and safe for concurrent use.
type Client interface {
	// Incr atomically increments the integer at key and returns the new value.
	// A missing key counts as zero.
	Incr(ctx context.Context, key string) (int64, error)

	// Expire sets the key's TTL. A TTL on a missing key is a no-op.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// SAdd adds member to the set at key.
	SAdd(ctx context.Context, key, member string) error

	// SCard returns the cardinality of the set at key (0 if missing).
	SCard(ctx context.Context, key string) (int64, error)
}
