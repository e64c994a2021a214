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

// Package main is the entry point for the stateless gateway worker: the
// reverse-proxy data plane that authenticates project API keys, scores
// traffic against the shared KV store, and streams admitted requests to
// each project's upstream while emitting audit events to the control
// plane.
//
// Startup order matters only at the edges: configuration is validated
// first (the sole fatal failure class besides the listen socket), then
// the background refresher and the audit sender start, then the HTTP
// server. The worker serves immediately with an empty project snapshot;
// network dependencies being down never prevents startup.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/UtkrishtThakur/INFRA-WORKER-API/internal/gateway/api"
	"github.com/UtkrishtThakur/INFRA-WORKER-API/internal/gateway/audit"
	"github.com/UtkrishtThakur/INFRA-WORKER-API/internal/gateway/config"
	"github.com/UtkrishtThakur/INFRA-WORKER-API/internal/gateway/kv"
	"github.com/UtkrishtThakur/INFRA-WORKER-API/internal/gateway/projectcache"
	"github.com/UtkrishtThakur/INFRA-WORKER-API/internal/gateway/proxy"
	"github.com/UtkrishtThakur/INFRA-WORKER-API/internal/gateway/ratelimit"
	"github.com/UtkrishtThakur/INFRA-WORKER-API/internal/gateway/risk"
)

func main() {
	configPath := flag.String("config", "", "Optional YAML config file; environment variables override it")
	flag.Parse()

	// 1. Configuration. Missing required values are the only
	// unrecoverable startup errors.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// 2. KV client. go-redis dials lazily; a down Redis fails open per
	// request instead of failing startup.
	kvClient, err := kv.NewRedisClient(cfg.RedisURL)
	if err != nil {
		// Only a malformed URL lands here.
		logger.Error("invalid REDIS_URL", zap.Error(err))
		os.Exit(1)
	}

	// 3. Background subsystems: project snapshot refresher and the
	// audit sender.
	cache := projectcache.New(cfg.ControlAPIBaseURL, cfg.ControlWorkerSharedSecret, logger)
	cache.Start()

	auditPipe := audit.New(cfg.ControlAPIBaseURL, cfg.ControlWorkerSharedSecret, cfg.AuditQueueSize, logger)
	auditPipe.Start()

	// 4. Request pipeline and HTTP server.
	forwarder := proxy.New()
	server := api.NewServer(
		cache,
		ratelimit.New(kvClient),
		risk.New(kvClient),
		forwarder,
		auditPipe,
		logger,
		api.Options{},
	)

	httpServer := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     server.Routes(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		logger.Info("gateway worker listening", zap.String("addr", cfg.ListenAddr), zap.String("env", cfg.Env))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	// 5. Wait for termination, then unwind in reverse order.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}

	cache.Stop()
	auditPipe.Stop()
	forwarder.Close()
	if err := kvClient.Close(); err != nil {
		logger.Warn("kv close", zap.Error(err))
	}

	logger.Info("gateway worker stopped")
}

// buildLogger selects the console encoder for dev, JSON otherwise.
func buildLogger(env string) (*zap.Logger, error) {
	if env == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
