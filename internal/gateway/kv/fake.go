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
	"sync"
	"time"
)

// Fake is an in-process Client for unit tests. TTLs are recorded but only
// enforced when the test advances the fake clock via Advance. Set Fail to
// make every operation return ErrUnavailable, which is how the fail-open
// paths are exercised.
type Fake struct {
	mu       sync.Mutex
	counters map[string]int64
	sets     map[string]map[string]struct{}
	expiries map[string]time.Time
	now      time.Time

	// Fail forces every call to report the kv_unavailable category.
	Fail bool
}

// NewFake returns an empty fake store with its clock at time.Now().
func NewFake() *Fake {
	return &Fake{
		counters: make(map[string]int64),
		sets:     make(map[string]map[string]struct{}),
		expiries: make(map[string]time.Time),
		now:      time.Now(),
	}
}

// Advance moves the fake clock forward and evicts expired keys.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	for key, deadline := range f.expiries {
		if !deadline.After(f.now) {
			delete(f.counters, key)
			delete(f.sets, key)
			delete(f.expiries, key)
		}
	}
}

func (f *Fake) Incr(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Fail {
		return 0, wrap("incr", errForced)
	}
	f.counters[key]++
	return f.counters[key], nil
}

func (f *Fake) Expire(ctx context.Context, key string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Fail {
		return wrap("expire", errForced)
	}
	f.expiries[key] = f.now.Add(ttl)
	return nil
}

func (f *Fake) SAdd(ctx context.Context, key, member string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Fail {
		return wrap("sadd", errForced)
	}
	set, ok := f.sets[key]
	if !ok {
		set = make(map[string]struct{})
		f.sets[key] = set
	}
	set[member] = struct{}{}
	return nil
}

func (f *Fake) SCard(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Fail {
		return 0, wrap("scard", errForced)
	}
	return int64(len(f.sets[key])), nil
}

// Counter reports the current value of an integer key. Test helper.
func (f *Fake) Counter(key string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counters[key]
}

var errForced = &forcedError{}

type forcedError struct{}

func (*forcedError) Error() string { return "forced failure" }
