//go:build e2e

// Package e2e wires the real pipeline end to end: a miniredis-backed KV
// store, an in-process control plane, an in-process upstream, and the full
// gateway router. The scenarios mirror production traffic shapes: a normal
// proxied request with its audit trail, a KV outage under concurrency, and
// a control-plane outage that must not affect client traffic.
package e2e

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/UtkrishtThakur/INFRA-WORKER-API/internal/gateway/api"
	"github.com/UtkrishtThakur/INFRA-WORKER-API/internal/gateway/audit"
	"github.com/UtkrishtThakur/INFRA-WORKER-API/internal/gateway/identity"
	"github.com/UtkrishtThakur/INFRA-WORKER-API/internal/gateway/kv"
	"github.com/UtkrishtThakur/INFRA-WORKER-API/internal/gateway/projectcache"
	"github.com/UtkrishtThakur/INFRA-WORKER-API/internal/gateway/proxy"
	"github.com/UtkrishtThakur/INFRA-WORKER-API/internal/gateway/ratelimit"
	"github.com/UtkrishtThakur/INFRA-WORKER-API/internal/gateway/risk"
)

const (
	e2eAPIKey = "e2e-project-key-000000000001"
	e2eSecret = "e2e-shared-secret"
)

// stack is the full worker assembled around test doubles for the two
// external HTTP dependencies and a real (mini) Redis.
type stack struct {
	gateway  *httptest.Server
	upstream *httptest.Server
	control  *httptest.Server
	redis    *miniredis.Miniredis
	events   chan audit.Event

	trafficStatus atomic.Int32 // response code for /internal/traffic
	pipe          *audit.Pipeline
}

func newStack(t *testing.T, startPipeline bool) *stack {
	t.Helper()
	s := &stack{events: make(chan audit.Event, 2048)}
	s.trafficStatus.Store(http.StatusOK)

	s.redis = miniredis.RunT(t)
	kvClient := kv.NewRedisClientFromOptions(&redis.Options{Addr: s.redis.Addr()})
	t.Cleanup(func() { kvClient.Close() })

	s.upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Served-By", "upstream")
		_, _ = w.Write([]byte("hello from upstream"))
	}))
	t.Cleanup(s.upstream.Close)

	keyHash := identity.Hash(e2eAPIKey)
	s.control = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/internal/worker/config":
			if r.Header.Get("x-control-secret") != e2eSecret {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"projects": []map[string]any{{
					"id":           "e2e-project",
					"upstream_url": s.upstream.URL,
					"api_keys":     []string{keyHash},
				}},
			})
		case "/internal/traffic":
			code := int(s.trafficStatus.Load())
			if code != http.StatusOK {
				w.WriteHeader(code)
				return
			}
			var ev audit.Event
			_ = json.NewDecoder(r.Body).Decode(&ev)
			s.events <- ev
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(s.control.Close)

	log := zap.NewNop()
	cache := projectcache.New(s.control.URL, e2eSecret, log)
	cache.Start()
	t.Cleanup(cache.Stop)
	deadline := time.Now().Add(2 * time.Second)
	for !cache.Ready() {
		if time.Now().After(deadline) {
			t.Fatal("cache never became ready")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.pipe = audit.New(s.control.URL, e2eSecret, 2048, log)
	if startPipeline {
		s.pipe.Start()
		t.Cleanup(s.pipe.Stop)
	}

	forwarder := proxy.New()
	t.Cleanup(forwarder.Close)

	server := api.NewServer(
		cache,
		ratelimit.New(kvClient),
		risk.New(kvClient),
		forwarder,
		s.pipe,
		log,
		api.Options{ThrottleDelay: time.Millisecond},
	)
	s.gateway = httptest.NewServer(server.Routes())
	t.Cleanup(s.gateway.Close)
	return s
}

func (s *stack) get(t *testing.T, path string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, s.gateway.URL+path, nil)
	req.Header.Set(identity.HeaderName, e2eAPIKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request %s: %v", path, err)
	}
	return resp
}

func TestE2E_HappyPathWithAuditTrail(t *testing.T) {
	s := newStack(t, true)

	resp := s.get(t, "/orders/9001?full=true")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "hello from upstream" {
		t.Fatalf("body = %q", body)
	}
	if resp.Header.Get("X-Served-By") != "upstream" {
		t.Fatal("upstream response header missing")
	}

	select {
	case ev := <-s.events:
		if ev.ProjectID != "e2e-project" {
			t.Fatalf("project_id = %q", ev.ProjectID)
		}
		if ev.Decision != "ALLOW" || ev.StatusCode != http.StatusOK {
			t.Fatalf("event = %+v", ev)
		}
		if ev.Endpoint != "/orders/:id" {
			t.Fatalf("endpoint = %q", ev.Endpoint)
		}
		if ev.LatencyMS < 0 {
			t.Fatalf("latency_ms = %d", ev.LatencyMS)
		}
		if _, err := time.Parse(time.RFC3339Nano, ev.Timestamp); err != nil {
			t.Fatalf("timestamp %q: %v", ev.Timestamp, err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("audit event never reached the control plane")
	}
}

func TestE2E_RateWindowAgainstRealStore(t *testing.T) {
	s := newStack(t, true)

	// The window counter is keyed by wall-clock minute; don't start right
	// before a bucket rollover.
	if time.Now().Second() > 55 {
		time.Sleep(time.Duration(61-time.Now().Second()) * time.Second)
	}

	// Fill the window allowance. Some of these are throttled, none are
	// rejected; request 81 trips the limit.
	blocked := 0
	for i := 1; i <= 81; i++ {
		resp := s.get(t, "/api/data")
		if resp.StatusCode == http.StatusTooManyRequests {
			blocked++
			var m map[string]string
			_ = json.NewDecoder(resp.Body).Decode(&m)
			resp.Body.Close()
			if i <= 80 {
				t.Fatalf("request %d rejected inside the allowance: %v", i, m)
			}
			if m["detail"] != "Confirmed abuse: rate limit exceeded" {
				t.Fatalf("detail = %q", m["detail"])
			}
			continue
		}
		resp.Body.Close()
	}
	if blocked != 1 {
		t.Fatalf("blocked = %d requests, want exactly the 81st", blocked)
	}
}

func TestE2E_KVOutageUnderConcurrency(t *testing.T) {
	s := newStack(t, false) // pipeline unstarted: queue depth is observable
	s.redis.Close()         // take the KV store down

	const n = 200
	var wg sync.WaitGroup
	var non200 atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := s.get(t, "/burst")
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				non200.Add(1)
			}
		}()
	}
	wg.Wait()

	// Fail open: every request admitted, none turned into a 5xx.
	if non200.Load() != 0 {
		t.Fatalf("%d requests failed during the KV outage", non200.Load())
	}

	// Exactly one audit attempt per request.
	if got := s.pipe.Depth() + int(s.pipe.Dropped()); got != n {
		t.Fatalf("audit attempts = %d, want %d", got, n)
	}
}

func TestE2E_ControlPlaneRejectsTraffic(t *testing.T) {
	s := newStack(t, true)
	s.trafficStatus.Store(http.StatusServiceUnavailable)

	// Client traffic is unaffected by audit delivery failures.
	for i := 0; i < 20; i++ {
		resp := s.get(t, "/steady/path")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: status %d during control-plane outage", i, resp.StatusCode)
		}
		resp.Body.Close()
	}

	// The sender keeps draining; nothing counts as delivered.
	deadline := time.Now().Add(3 * time.Second)
	for s.pipe.Depth() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("audit queue stuck at depth %d", s.pipe.Depth())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if s.pipe.Sent() != 0 {
		t.Fatalf("Sent = %d while control plane rejects traffic", s.pipe.Sent())
	}

	// Recovery: deliveries resume without a restart.
	s.trafficStatus.Store(http.StatusOK)
	resp := s.get(t, "/steady/path")
	resp.Body.Close()
	select {
	case <-s.events:
	case <-time.After(3 * time.Second):
		t.Fatal("audit delivery did not recover")
	}
}

func TestE2E_HealthAndMetrics(t *testing.T) {
	s := newStack(t, true)

	resp, err := http.Get(s.gateway.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	var m map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&m)
	resp.Body.Close()
	if m["status"] != "ok" {
		t.Fatalf("health status = %q", m["status"])
	}

	resp, err = http.Get(s.gateway.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if len(body) == 0 {
		t.Fatal("empty metrics exposition")
	}
}
