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

package api

import "strings"

// NormalizePath maps a raw request path to its canonical endpoint: split
// on "/", drop empty segments, replace every all-digit segment with ":id",
// rejoin with a leading slash. The canonical endpoint keys rate counters
// and behavioral signals, so "/users/123" and "/users/456" share state.
// Idempotent: normalizing a normalized path is a no-op.
func NormalizePath(p string) string {
	segments := strings.Split(p, "/")
	out := segments[:0]
	for _, seg := range segments {
		switch {
		case seg == "":
		case allDigits(seg):
			out = append(out, ":id")
		default:
			out = append(out, seg)
		}
	}
	if len(out) == 0 {
		return "/"
	}
	return "/" + strings.Join(out, "/")
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
