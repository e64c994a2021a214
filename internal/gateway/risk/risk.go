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

// Package risk computes the behavioral risk score for a request from three
// live signals kept in the shared KV store over a rolling 60 s window:
//
//   - velocity: requests per (key, ip, endpoint)
//   - burst: same counter against a tighter threshold
//   - endpoint_drift: distinct endpoints touched per (key, ip)
//
// A fourth signal, fanout, is reserved and always scores zero. The scorer
// is pure apart from its KV writes; KV failures fail open to a zero score.
package risk

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/UtkrishtThakur/INFRA-WORKER-API/internal/gateway/kv"
)

const (
	window = time.Minute

	velocityCeiling = 30
	burstCeiling    = 20
	driftCeiling    = 5

	weightVelocity = 0.4
	weightBurst    = 0.3
	weightDrift    = 0.3
)

// Signal names as they appear in the primary_reason field.
const (
	SignalVelocity = "velocity"
	SignalBurst    = "burst"
	SignalDrift    = "endpoint_drift"
	SignalFanout   = "fanout"
)

// Score is the scorer's output. Value is always within [0, 1].
type Score struct {
	Value         float64
	Velocity      float64
	Burst         float64
	Drift         float64
	Fanout        float64
	PrimaryReason string
	KVUnavailable bool
}

// Scorer evaluates the behavioral signals. Safe for concurrent use.
type Scorer struct {
	kv kv.Client
}

// New returns a scorer on top of the given KV client.
func New(client kv.Client) *Scorer {
	return &Scorer{kv: client}
}

func velocityKey(keyHash, ip, endpoint string) string {
	return fmt.Sprintf("ml:velocity:%s:%s:%s", keyHash, ip, endpoint)
}

func endpointsKey(keyHash, ip string) string {
	return fmt.Sprintf("ml:endpoints:%s:%s", keyHash, ip)
}

// Evaluate updates the signal state for this request and returns the
// aggregate score: 0.4*velocity + 0.3*burst + 0.3*drift, rounded to two
// decimals. The primary reason is the highest-scoring signal; ties resolve
// in the fixed order velocity > burst > drift > fanout.
func (s *Scorer) Evaluate(ctx context.Context, keyHash, ip, endpoint string) Score {
	failOpen := Score{KVUnavailable: true}

	velKey := velocityKey(keyHash, ip, endpoint)
	count, err := s.kv.Incr(ctx, velKey)
	if err != nil {
		return failOpen
	}
	if count == 1 {
		if err := s.kv.Expire(ctx, velKey, window); err != nil {
			return failOpen
		}
	}

	setKey := endpointsKey(keyHash, ip)
	if err := s.kv.SAdd(ctx, setKey, endpoint); err != nil {
		return failOpen
	}
	// TTL refreshed on every request so the set tracks a rolling window.
	if err := s.kv.Expire(ctx, setKey, window); err != nil {
		return failOpen
	}
	card, err := s.kv.SCard(ctx, setKey)
	if err != nil {
		return failOpen
	}

	out := Score{
		Velocity: math.Min(float64(count)/velocityCeiling, 1),
		Drift:    math.Min(float64(card)/driftCeiling, 1),
	}
	if count > burstCeiling {
		out.Burst = 1
	} else {
		out.Burst = float64(count) / burstCeiling
	}

	out.Value = round2(weightVelocity*out.Velocity + weightBurst*out.Burst + weightDrift*out.Drift)
	out.PrimaryReason = primaryReason(out)
	return out
}

// primaryReason picks the maximum signal; earlier entries win ties.
func primaryReason(s Score) string {
	names := []string{SignalVelocity, SignalBurst, SignalDrift, SignalFanout}
	values := []float64{s.Velocity, s.Burst, s.Drift, s.Fanout}
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return names[best]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
