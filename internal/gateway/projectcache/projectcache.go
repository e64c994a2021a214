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

// Package projectcache keeps the periodically refreshed snapshot of
// project configurations, keyed by API key hash. Exactly one refresher
// goroutine rebuilds the whole map from the control plane and publishes it
// with an atomic pointer swap; readers never take a lock and always see a
// complete snapshot. The process starts serving immediately with an empty
// snapshot and stays up through control-plane outages.
package projectcache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/UtkrishtThakur/INFRA-WORKER-API/internal/gateway/telemetry"
)

const (
	fetchTimeout    = 5 * time.Second
	refreshInterval = 60 * time.Second
	backoffBase     = 10 * time.Second
	backoffCap      = 120 * time.Second

	// secretHeader authenticates the worker to the control plane.
	secretHeader = "x-control-secret"
)

// ProjectConfig is one immutable snapshot entry. Instances are never
// mutated after the snapshot is published.
type ProjectConfig struct {
	ProjectID       string
	UpstreamBaseURL string
	APIKeyHash      string
}

// snapshot is the published value. The map is built in full before the
// swap and never written afterwards.
type snapshot struct {
	byHash map[string]ProjectConfig
}

// Cache serves O(1) lookups against the current snapshot and owns the
// background refresher.
type Cache struct {
	controlBase string
	secret      string
	client      *http.Client
	log         *zap.Logger

	snap    atomic.Pointer[snapshot]
	ready   atomic.Bool
	started atomic.Bool

	stopChan chan struct{}
	wg       sync.WaitGroup

	// consecutive fetch failures, owned by the refresher goroutine.
	failures int
}

// New builds a cache pointed at the control plane base URL. The cache is
// usable immediately; lookups against the initial empty snapshot miss.
func New(controlBase, secret string, log *zap.Logger) *Cache {
	c := &Cache{
		controlBase: controlBase,
		secret:      secret,
		client:      &http.Client{Timeout: fetchTimeout},
		log:         log,
		stopChan:    make(chan struct{}),
	}
	c.snap.Store(&snapshot{byHash: map[string]ProjectConfig{}})
	return c
}

// Lookup returns the project for an API key hash against the snapshot that
// is current at call time. A request performs exactly one lookup, so it
// sees one consistent snapshot for its whole lifetime.
func (c *Cache) Lookup(apiKeyHash string) (ProjectConfig, bool) {
	p, ok := c.snap.Load().byHash[apiKeyHash]
	return p, ok
}

// Ready reports whether at least one snapshot has been loaded from the
// control plane. Drives the /health body.
func (c *Cache) Ready() bool {
	return c.ready.Load()
}

// Start launches the single refresher goroutine. Non-blocking; calling it
// more than once is a no-op.
func (c *Cache) Start() {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.refreshLoop()
	}()
}

// Stop terminates the refresher and waits for it to exit.
func (c *Cache) Stop() {
	if !c.started.Load() {
		return
	}
	select {
	case <-c.stopChan:
	default:
		close(c.stopChan)
	}
	c.wg.Wait()
}

// refreshLoop fetches immediately, then sleeps refreshInterval after a
// success or an exponential backoff (10 s doubling to 120 s, reset on
// success) after a failure. A first-attempt failure is logged and the loop
// keeps serving the empty snapshot; nothing here is fatal.
func (c *Cache) refreshLoop() {
	backoff := backoffBase
	for {
		delay := refreshInterval
		if err := c.refreshOnce(); err != nil {
			c.failures++
			switch {
			case c.failures >= 3:
				c.log.Error("config refresh failed", zap.Int("consecutive", c.failures), zap.Error(err))
			default:
				c.log.Warn("config refresh failed", zap.Int("consecutive", c.failures), zap.Error(err))
			}
			telemetry.ConfigRefreshFailure()
			delay = backoff
			backoff *= 2
			if backoff > backoffCap {
				backoff = backoffCap
			}
		} else {
			if c.failures > 0 {
				c.log.Info("config refresh recovered", zap.Int("after_failures", c.failures))
			}
			c.failures = 0
			backoff = backoffBase
		}

		select {
		case <-time.After(delay):
		case <-c.stopChan:
			return
		}
	}
}

// controlResponse mirrors GET /internal/worker/config.
type controlResponse struct {
	Projects []struct {
		ID          string   `json:"id"`
		UpstreamURL string   `json:"upstream_url"`
		APIKeys     []string `json:"api_keys"`
	} `json:"projects"`
}

// refreshOnce fetches the full project list and swaps in a new snapshot.
// Panics from decoding or anything else are converted to errors so the
// loop is never killed by a bad payload.
func (c *Cache) refreshOnce() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refresh panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	url := c.controlBase + "/internal/worker/config"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build config request: %w", err)
	}
	req.Header.Set(secretHeader, c.secret)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch config: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch config: unexpected status %d", resp.StatusCode)
	}

	var payload controlResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}

	// Build the replacement map in full before publishing anything.
	byHash := make(map[string]ProjectConfig, len(payload.Projects))
	for _, p := range payload.Projects {
		if len(p.APIKeys) == 0 || p.UpstreamURL == "" {
			c.log.Warn("skipping malformed project entry", zap.String("project_id", p.ID))
			continue
		}
		// One key per project: the first hash is the lookup key.
		hash := p.APIKeys[0]
		byHash[hash] = ProjectConfig{
			ProjectID:       p.ID,
			UpstreamBaseURL: p.UpstreamURL,
			APIKeyHash:      hash,
		}
	}

	c.snap.Store(&snapshot{byHash: byHash})
	c.ready.Store(true)
	telemetry.ConfigRefreshSuccess(len(byHash))
	c.log.Info("loaded project configs", zap.Int("projects", len(byHash)))
	return nil
}
