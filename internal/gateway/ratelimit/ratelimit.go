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

// Package ratelimit implements the fixed-window per-minute counter backed
// by the shared KV store. One counter per (key hash, client IP, canonical
// endpoint, minute bucket); the bucket rolls over naturally because each
// minute uses a fresh key with a 60 s TTL.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/UtkrishtThakur/INFRA-WORKER-API/internal/gateway/kv"
)

// Calibration constants. These are tuning values, not a public contract.
const (
	rpm    = 60
	burst  = 20
	window = time.Minute
)

// Result is the limiter's advisory output for one request.
// KVUnavailable marks that the store was unreachable and the result is the
// fail-open default rather than a real count.
type Result struct {
	Allowed       bool
	Remaining     int64
	KVUnavailable bool
}

// Limiter checks requests against the fixed window. Safe for concurrent use.
type Limiter struct {
	kv  kv.Client
	now func() time.Time
}

// New returns a limiter on top of the given KV client.
func New(client kv.Client) *Limiter {
	return &Limiter{kv: client, now: time.Now}
}

// Key returns the counter key for the current minute bucket.
func (l *Limiter) Key(keyHash, ip, endpoint string) string {
	bucket := l.now().Unix() / int64(window.Seconds())
	return fmt.Sprintf("rate_limit:%s:%s:%s:%d", keyHash, ip, endpoint, bucket)
}

// Check increments the window counter and evaluates it against RPM+BURST.
//
// The INCR and the first-increment EXPIRE are two round trips; the race
// between them is acceptable because the next minute uses a new key. Any
// KV error fails open: the request is allowed with a full window.
func (l *Limiter) Check(ctx context.Context, keyHash, ip, endpoint string) Result {
	key := l.Key(keyHash, ip, endpoint)

	count, err := l.kv.Incr(ctx, key)
	if err != nil {
		return Result{Allowed: true, Remaining: rpm, KVUnavailable: true}
	}
	if count == 1 {
		if err := l.kv.Expire(ctx, key, window); err != nil {
			// Counter exists without a TTL now; it still stops mattering
			// once the bucket rolls over. Tag the result so the event
			// carries the kv_unavailable reason.
			return Result{Allowed: true, Remaining: rpm - 1, KVUnavailable: true}
		}
	}

	if count > rpm+burst {
		return Result{Allowed: false, Remaining: 0}
	}
	remaining := int64(rpm) - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Remaining: remaining}
}
