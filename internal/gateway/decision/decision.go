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

// Package decision combines the advisory rate-limit and risk signals into
// the final verdict for a request. Decide is pure and deterministic; the
// evaluation order of its rules is a contract and is pinned by tests.
package decision

// Decision is the closed verdict space. There is no fourth value.
type Decision int

const (
	Allow Decision = iota
	Throttle
	Block
)

// String returns the wire form used in audit events and logs.
func (d Decision) String() string {
	switch d {
	case Throttle:
		return "THROTTLE"
	case Block:
		return "BLOCK"
	default:
		return "ALLOW"
	}
}

// Reasons attached to each rule. These strings appear verbatim in audit
// events and client-facing 429 bodies.
const (
	ReasonRateExceeded = "Confirmed abuse: rate limit exceeded"
	ReasonHighRisk     = "Confirmed abuse: high risk behavior"
	ReasonAbnormal     = "Abnormal usage pattern detected"
	ReasonNearLimit    = "Approaching rate limit"
	ReasonExpected     = "Usage within expected behavior"
)

// Outcome pairs the verdict with its human-readable explanation.
type Outcome struct {
	Decision Decision
	Reason   string
}

// Decide evaluates the rules in order; the first match wins:
//
//  1. rate limit exceeded            -> BLOCK
//  2. risk >= 0.9                    -> BLOCK
//  3. risk >= 0.6                    -> THROTTLE
//  4. remaining <= 5                 -> THROTTLE
//  5. otherwise                      -> ALLOW
func Decide(rateAllowed bool, remaining int64, risk float64) Outcome {
	switch {
	case !rateAllowed:
		return Outcome{Block, ReasonRateExceeded}
	case risk >= 0.9:
		return Outcome{Block, ReasonHighRisk}
	case risk >= 0.6:
		return Outcome{Throttle, ReasonAbnormal}
	case remaining <= 5:
		return Outcome{Throttle, ReasonNearLimit}
	default:
		return Outcome{Allow, ReasonExpected}
	}
}
