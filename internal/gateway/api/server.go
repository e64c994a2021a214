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

// Package api wires the per-request pipeline: identity resolution, project
// lookup, rate limiting and risk scoring (in parallel), the decision, the
// streaming forward, and exactly one audit event per terminal outcome.
package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/UtkrishtThakur/INFRA-WORKER-API/internal/gateway/audit"
	"github.com/UtkrishtThakur/INFRA-WORKER-API/internal/gateway/decision"
	"github.com/UtkrishtThakur/INFRA-WORKER-API/internal/gateway/identity"
	"github.com/UtkrishtThakur/INFRA-WORKER-API/internal/gateway/projectcache"
	"github.com/UtkrishtThakur/INFRA-WORKER-API/internal/gateway/proxy"
	"github.com/UtkrishtThakur/INFRA-WORKER-API/internal/gateway/ratelimit"
	"github.com/UtkrishtThakur/INFRA-WORKER-API/internal/gateway/risk"
	"github.com/UtkrishtThakur/INFRA-WORKER-API/internal/gateway/telemetry"
)

// defaultThrottleDelay is the cooperative pause applied to THROTTLE
// verdicts before the request is forwarded anyway.
const defaultThrottleDelay = 300 * time.Millisecond

// reasonKVUnavailable tags events for requests admitted on the fail-open
// path while the KV store was down.
const reasonKVUnavailable = "kv_unavailable"

// Options holds the optional tuning knobs for a Server.
type Options struct {
	// ThrottleDelay overrides the 300 ms throttle pause. Tests set this
	// to something tiny; zero keeps the default.
	ThrottleDelay time.Duration
}

// Server handles the client-facing HTTP surface of the data plane.
type Server struct {
	cache     *projectcache.Cache
	limiter   *ratelimit.Limiter
	scorer    *risk.Scorer
	forwarder *proxy.Forwarder
	audit     *audit.Pipeline
	log       *zap.Logger

	throttleDelay time.Duration
}

// NewServer wires the pipeline components together.
func NewServer(
	cache *projectcache.Cache,
	limiter *ratelimit.Limiter,
	scorer *risk.Scorer,
	forwarder *proxy.Forwarder,
	auditPipe *audit.Pipeline,
	log *zap.Logger,
	opts Options,
) *Server {
	delay := opts.ThrottleDelay
	if delay <= 0 {
		delay = defaultThrottleDelay
	}
	return &Server{
		cache:         cache,
		limiter:       limiter,
		scorer:        scorer,
		forwarder:     forwarder,
		audit:         auditPipe,
		log:           log,
		throttleDelay: delay,
	}
}

// Routes builds the router: /health and /metrics are served locally, every
// other method and path goes through the gateway pipeline.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Handle("/*", http.HandlerFunc(s.handleGateway))
	return r
}

// handleHealth reports ok once the first config snapshot has loaded.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if !s.cache.Ready() {
		status = "initializing"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}

// handleGateway runs the full pipeline for one request. Whatever path the
// request takes, exactly one audit event is attempted.
func (s *Server) handleGateway(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ip := clientIP(r)
	ev := audit.Event{
		Timestamp: audit.NewTimestamp(start),
		Method:    r.Method,
		Path:      r.URL.Path,
		IP:        ip,
		UserAgent: r.UserAgent(),
	}

	raw, err := identity.Extract(r.Header)
	if err != nil {
		s.reject(w, ev, start, "Missing or invalid API key", http.StatusUnauthorized)
		return
	}
	keyHash := identity.Hash(raw)
	ev.APIKeyHash = keyHash

	project, ok := s.cache.Lookup(keyHash)
	if !ok {
		s.reject(w, ev, start, "Invalid API key", http.StatusUnauthorized)
		return
	}
	ev.ProjectID = project.ProjectID

	endpoint := NormalizePath(r.URL.Path)
	ev.Endpoint = endpoint

	// Rate limiter and risk scorer fan out concurrently; both are
	// advisory and join before the decision.
	ctx := r.Context()
	var score risk.Score
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		score = s.scorer.Evaluate(ctx, keyHash, ip, endpoint)
	}()
	rate := s.limiter.Check(ctx, keyHash, ip, endpoint)
	wg.Wait()

	if rate.KVUnavailable || score.KVUnavailable {
		telemetry.KVError()
	}
	ev.RiskScore = score.Value

	out := decision.Decide(rate.Allowed, rate.Remaining, score.Value)
	reason := out.Reason
	if out.Decision == decision.Allow && (rate.KVUnavailable || score.KVUnavailable) {
		reason = reasonKVUnavailable
	}

	if out.Decision == decision.Block {
		ev.Decision = decision.Block.String()
		ev.Reason = reason
		s.writeDetail(w, http.StatusTooManyRequests, reason)
		s.emit(ev, http.StatusTooManyRequests, start)
		return
	}

	if out.Decision == decision.Throttle {
		select {
		case <-time.After(s.throttleDelay):
		case <-ctx.Done():
			// Client went away during the delay; the forward below
			// fails immediately with the canceled context.
		}
	}

	ev.Decision = out.Decision.String()
	ev.Reason = reason

	status, err := s.forwarder.Forward(w, r, project.UpstreamBaseURL)
	if err != nil {
		if errors.Is(err, proxy.ErrUpstreamUnreachable) {
			telemetry.UpstreamError()
			s.log.Warn("upstream unreachable",
				zap.String("project_id", project.ProjectID),
				zap.Error(err))
			ev.Reason = "Upstream error"
			s.writeDetail(w, http.StatusBadGateway, "Upstream service unreachable")
			s.emit(ev, http.StatusBadGateway, start)
			return
		}
		// Mid-body failure: response headers are already out, so the
		// stream just ends. Record the status the client saw.
		if status == 0 {
			status = http.StatusBadGateway
		}
		s.log.Warn("upstream stream terminated",
			zap.String("project_id", project.ProjectID),
			zap.Int("status", status),
			zap.Error(err))
		s.emit(ev, status, start)
		return
	}

	s.emit(ev, status, start)
}

// reject writes the JSON error body for an authentication failure and
// emits the corresponding BLOCK event.
func (s *Server) reject(w http.ResponseWriter, ev audit.Event, start time.Time, detail string, status int) {
	ev.Decision = decision.Block.String()
	ev.Reason = detail
	s.writeDetail(w, status, detail)
	s.emit(ev, status, start)
}

// emit finalizes the event, hands it to the audit pipeline, and records
// the request metrics and traffic log line. Called exactly once per
// request, on every terminal path.
func (s *Server) emit(ev audit.Event, status int, start time.Time) {
	elapsed := time.Since(start)
	ev.StatusCode = status
	ev.LatencyMS = elapsed.Milliseconds()
	s.audit.Emit(ev)
	telemetry.ObserveRequest(ev.Decision, elapsed)
	s.log.Info("traffic",
		zap.String("project_id", ev.ProjectID),
		zap.String("method", ev.Method),
		zap.String("endpoint", ev.Endpoint),
		zap.String("ip", ev.IP),
		zap.String("decision", ev.Decision),
		zap.String("reason", ev.Reason),
		zap.Int("status", status),
		zap.Float64("risk_score", ev.RiskScore),
		zap.Int64("latency_ms", ev.LatencyMS),
	)
}

// writeDetail writes the error envelope used by every non-proxied reply.
func (s *Server) writeDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

// clientIP returns the peer address without its port. middleware.RealIP
// has already folded X-Forwarded-For / X-Real-IP into RemoteAddr.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
