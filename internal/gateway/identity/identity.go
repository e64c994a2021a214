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

// Package identity resolves the caller's identity from request headers.
// Raw API keys never leave this package: the only value that travels
// further down the pipeline (and into logs and audit events) is the
// lowercase hex SHA-256 of the key.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
)

// HeaderName is the canonical API key header. Alternate spellings seen in
// older deployments are intentionally not accepted; one name, one contract.
const HeaderName = "x-api-key"

// ErrMissingKey is returned when the header is absent or empty.
var ErrMissingKey = errors.New("missing_key")

// Extract reads the raw API key from the request headers.
func Extract(h http.Header) (string, error) {
	raw := h.Get(HeaderName)
	if raw == "" {
		return "", ErrMissingKey
	}
	return raw, nil
}

// Hash returns the lowercase hex SHA-256 of the raw key's UTF-8 bytes.
// Deterministic and total; hex.EncodeToString emits lowercase.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Validate applies Extract then Hash. Key format policy (length, prefix)
// is the control plane's concern, not ours: any non-empty key hashes and
// the snapshot lookup is the real gate.
func Validate(h http.Header) (string, error) {
	raw, err := Extract(h)
	if err != nil {
		return "", err
	}
	return Hash(raw), nil
}
