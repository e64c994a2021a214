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

// Package config loads the worker configuration. Values come from an
// optional YAML file, then environment variables override, then defaults
// fill the rest. Missing required values are the only startup failures in
// the data plane; unreachable dependencies are not.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full worker configuration.
type Config struct {
	// ListenAddr is the client-facing HTTP listen address.
	ListenAddr string `yaml:"listen_addr"`

	// Env is informational ("dev" selects the console log encoder).
	Env string `yaml:"env"`

	// RedisURL points at the shared KV store (redis:// or rediss://).
	RedisURL string `yaml:"redis_url"`

	// ControlAPIBaseURL is the control plane serving project config and
	// ingesting audit events.
	ControlAPIBaseURL string `yaml:"control_api_base_url"`

	// ControlWorkerSharedSecret authenticates this worker to the control
	// plane on both the config fetch and the audit POST.
	ControlWorkerSharedSecret string `yaml:"control_worker_shared_secret"`

	// AuditQueueSize bounds the in-memory audit queue. 0 keeps the
	// default of 1000.
	AuditQueueSize int `yaml:"audit_queue_size"`

	// ShutdownTimeout caps graceful HTTP shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Load reads the optional YAML file at path (empty path skips the file),
// applies environment overrides, then defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.loadFromEnv()
	cfg.applyDefaults()
	return cfg, nil
}

// loadFromEnv overrides file values with environment variables. Secrets
// and deployment-specific values usually arrive this way.
func (c *Config) loadFromEnv() {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("ENV"); v != "" {
		c.Env = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("CONTROL_API_BASE_URL"); v != "" {
		c.ControlAPIBaseURL = v
	}
	if v := os.Getenv("CONTROL_WORKER_SHARED_SECRET"); v != "" {
		c.ControlWorkerSharedSecret = v
	}
	if v := os.Getenv("AUDIT_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.AuditQueueSize = n
		}
	}
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.Env == "" {
		c.Env = "dev"
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

// Validate reports the first missing required value. These are the only
// unrecoverable startup errors; network dependencies may be down.
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.ControlAPIBaseURL == "" {
		return fmt.Errorf("CONTROL_API_BASE_URL is required")
	}
	if c.ControlWorkerSharedSecret == "" {
		return fmt.Errorf("CONTROL_WORKER_SHARED_SECRET is required")
	}
	return nil
}
