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

// Package proxy forwards admitted requests to the project's upstream and
// streams the response back. Both directions stream without buffering the
// body; hop-by-hop headers are stripped on the way in and the way out. One
// shared outbound client with a bounded connection pool serves every
// request. No retries: that is the caller's (or the client's) concern.
package proxy

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUpstreamUnreachable marks a transport failure before upstream response
// headers arrived. The gateway maps it to HTTP 502.
var ErrUpstreamUnreachable = errors.New("upstream_unreachable")

// forwardTimeout is the hard budget for one forwarded request, connection
// establishment and full body transfer included.
const forwardTimeout = 30 * time.Second

// hopByHopHeaders are scoped to a single transport hop and never cross the
// proxy in either direction. Host is included: the outbound request carries
// the upstream's host, not the client's.
var hopByHopHeaders = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailers":            {},
	"transfer-encoding":   {},
	"upgrade":             {},
	"host":                {},
}

// Forwarder owns the shared outbound HTTP client.
type Forwarder struct {
	client *http.Client
}

// New builds a forwarder with a bounded connection pool. Redirects from the
// upstream are passed through verbatim, never followed.
func New() *Forwarder {
	transport := &http.Transport{
		MaxIdleConns:        256,
		MaxIdleConnsPerHost: 64,
		MaxConnsPerHost:     256,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Forwarder{
		client: &http.Client{
			Timeout:   forwardTimeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Close releases idle upstream connections.
func (f *Forwarder) Close() {
	f.client.CloseIdleConnections()
}

// UpstreamURL joins the project base URL with the raw request path and
// query: trailing slashes on the base are trimmed, the path keeps its
// leading slash, the query string is preserved byte for byte.
func UpstreamURL(base string, r *http.Request) string {
	u := strings.TrimRight(base, "/") + r.URL.EscapedPath()
	if r.URL.RawQuery != "" {
		u += "?" + r.URL.RawQuery
	}
	return u
}

// Forward sends the inbound request to the upstream and streams the
// response back to w.
//
// Returns the upstream status code that was written to the client, and an
// error for the two failure shapes:
//
//   - before response headers: status 0 and an error matching
//     ErrUpstreamUnreachable; nothing has been written to w.
//   - mid-body: the observed status and a copy error; the response stream
//     to the client is already terminated.
//
// Cancellation of the inbound request context aborts the forward.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, upstreamBase string) (int, error) {
	target := UpstreamURL(upstreamBase, r)

	out, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		return 0, fmt.Errorf("build upstream request: %v: %w", err, ErrUpstreamUnreachable)
	}
	out.Header = filterHeaders(r.Header)
	// Preserve the inbound framing: a known length stays a known length,
	// -1 keeps chunked streaming for length-less bodies.
	out.ContentLength = r.ContentLength

	resp, err := f.client.Do(out)
	if err != nil {
		return 0, fmt.Errorf("upstream request: %v: %w", err, ErrUpstreamUnreachable)
	}
	defer resp.Body.Close()

	dst := w.Header()
	for name, values := range filterHeaders(resp.Header) {
		dst[name] = values
	}
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(newFlushWriter(w), resp.Body); err != nil {
		// Headers are out; all we can do is stop copying. The caller
		// emits the audit event with the status observed so far.
		return resp.StatusCode, fmt.Errorf("upstream body copy: %w", err)
	}
	return resp.StatusCode, nil
}

// filterHeaders copies all headers except the hop-by-hop set.
func filterHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for name, values := range src {
		if _, hop := hopByHopHeaders[strings.ToLower(name)]; hop {
			continue
		}
		dst[name] = values
	}
	return dst
}

// flushWriter flushes after every chunk so streaming upstreams (SSE, long
// polls) reach the client promptly instead of sitting in write buffers.
type flushWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func newFlushWriter(w http.ResponseWriter) io.Writer {
	fw := flushWriter{w: w}
	if f, ok := w.(http.Flusher); ok {
		fw.f = f
	}
	return fw
}

func (fw flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if err == nil && fw.f != nil {
		fw.f.Flush()
	}
	return n, err
}
