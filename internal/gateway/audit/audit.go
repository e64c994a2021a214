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

// Package audit delivers per-request events to the control plane on a
// best-effort, at-most-once basis. Emission is a non-blocking enqueue onto
// a bounded in-memory FIFO; exactly one background sender drains it. When
// the queue is full the event is dropped and counted — the request path is
// never slowed down and never performs audit I/O synchronously.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/UtkrishtThakur/INFRA-WORKER-API/internal/gateway/telemetry"
)

const (
	// DefaultQueueSize bounds the in-memory event buffer.
	DefaultQueueSize = 1000

	sendTimeout = 300 * time.Millisecond

	maxConnections       = 50
	keepaliveConnections = 10

	secretHeader = "x-control-secret"
)

// Event is the immutable audit record for one terminal request outcome.
// Created exactly once per request; never mutated after enqueue.
type Event struct {
	Timestamp  string  `json:"timestamp"`
	ProjectID  string  `json:"project_id"`
	APIKeyHash string  `json:"api_key_hash"`
	Method     string  `json:"method"`
	Path       string  `json:"path"`
	Endpoint   string  `json:"endpoint"`
	IP         string  `json:"ip"`
	UserAgent  string  `json:"user_agent,omitempty"`
	RiskScore  float64 `json:"risk_score"`
	Decision   string  `json:"decision"`
	Reason     string  `json:"reason,omitempty"`
	StatusCode int     `json:"status_code"`
	LatencyMS  int64   `json:"latency_ms"`
}

// Pipeline is the bounded queue plus its single background sender.
type Pipeline struct {
	queue       chan Event
	client      *http.Client
	controlBase string
	secret      string
	log         *zap.Logger

	dropped atomic.Int64
	sent    atomic.Int64

	started  atomic.Bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New builds a pipeline posting to {controlBase}/internal/traffic.
// queueSize <= 0 selects DefaultQueueSize.
func New(controlBase, secret string, queueSize int, log *zap.Logger) *Pipeline {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Pipeline{
		queue:       make(chan Event, queueSize),
		controlBase: controlBase,
		secret:      secret,
		log:         log,
		stopChan:    make(chan struct{}),
		client: &http.Client{
			Timeout: sendTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        maxConnections,
				MaxConnsPerHost:     maxConnections,
				MaxIdleConnsPerHost: keepaliveConnections,
			},
		},
	}
}

// Emit enqueues the event without blocking. Returns false when the event
// was dropped because the queue is full.
func (p *Pipeline) Emit(ev Event) bool {
	select {
	case p.queue <- ev:
		telemetry.SetAuditQueueDepth(len(p.queue))
		return true
	default:
		p.dropped.Add(1)
		telemetry.AuditDropped()
		p.log.Debug("audit queue full, dropping event")
		return false
	}
}

// Start launches the single sender goroutine. Safe to call once.
func (p *Pipeline) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.senderLoop()
	}()
}

// Stop cancels the sender and drops whatever is still queued. This is a
// stateless data plane, not a durable queue.
func (p *Pipeline) Stop() {
	if !p.started.Load() {
		return
	}
	select {
	case <-p.stopChan:
	default:
		close(p.stopChan)
	}
	p.wg.Wait()
	if n := len(p.queue); n > 0 {
		p.dropped.Add(int64(n))
		p.log.Debug("dropping queued audit events on shutdown", zap.Int("count", n))
	}
	p.client.CloseIdleConnections()
}

// Dropped reports how many events were discarded since startup.
func (p *Pipeline) Dropped() int64 { return p.dropped.Load() }

// Sent reports how many events were delivered since startup.
func (p *Pipeline) Sent() int64 { return p.sent.Load() }

// Depth reports the current queue occupancy.
func (p *Pipeline) Depth() int { return len(p.queue) }

// senderLoop drains the queue in FIFO order until stopped. The loop cannot
// die: send failures are discarded at debug level and panics are contained
// per event.
func (p *Pipeline) senderLoop() {
	for {
		select {
		case <-p.stopChan:
			return
		case ev := <-p.queue:
			telemetry.SetAuditQueueDepth(len(p.queue))
			p.sendOne(ev)
		}
	}
}

// sendOne posts a single event with the per-request timeout. Any error is
// logged at debug and the event is forgotten (at-most-once).
func (p *Pipeline) sendOne(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Debug("audit send panic", zap.Any("panic", r))
		}
	}()

	body, err := json.Marshal(ev)
	if err != nil {
		telemetry.AuditSendFailed()
		p.log.Debug("audit event marshal failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.controlBase+"/internal/traffic", bytes.NewReader(body))
	if err != nil {
		telemetry.AuditSendFailed()
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(secretHeader, p.secret)

	resp, err := p.client.Do(req)
	if err != nil {
		telemetry.AuditSendFailed()
		p.log.Debug("audit send failed, dropping event", zap.Error(err))
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		telemetry.AuditSendFailed()
		p.log.Debug("audit send rejected", zap.Int("status", resp.StatusCode))
		return
	}
	p.sent.Add(1)
}

// NewTimestamp formats an instant as ISO-8601 UTC.
func NewTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
