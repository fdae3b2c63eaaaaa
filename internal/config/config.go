// Copyright 2025 The SEYOAWE Authors
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

// Package config loads the daemon configuration. Configuration is read
// once at startup: a YAML file overlaid with SAWE_* environment
// variables. Nothing rereads it at runtime.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yuribernstein/seyoawe-community/pkg/errors"
)

// Config is the daemon's startup configuration.
type Config struct {
	// ListenAddr is the HTTP bind address.
	ListenAddr string `yaml:"listen_addr"`

	// ExternalBaseURL prefixes published form URLs.
	ExternalBaseURL string `yaml:"external_base_url"`

	// ModulesDir holds the module.yaml manifests.
	ModulesDir string `yaml:"modules_dir"`

	// ReposBasePath is where delegation clones are created. Empty means
	// the system temp directory.
	ReposBasePath string `yaml:"repos_base_path"`

	// ApprovalSweepSeconds is the expiry sweep interval.
	ApprovalSweepSeconds int `yaml:"approval_sweep_seconds"`

	// Env is injected into every run under the env context key.
	Env map[string]interface{} `yaml:"env,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		ListenAddr:           ":8080",
		ModulesDir:           "modules",
		ApprovalSweepSeconds: 30,
	}
}

// Load reads the YAML file at path (optional), applies environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, &errors.ConfigError{Key: "config", Reason: "cannot read config file", Cause: err}
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, &errors.ConfigError{Key: "config", Reason: "cannot parse config file", Cause: err}
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays SAWE_* variables on the loaded file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("SAWE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("SAWE_EXTERNAL_BASE_URL"); v != "" {
		cfg.ExternalBaseURL = v
	}
	if v := os.Getenv("SAWE_MODULES_DIR"); v != "" {
		cfg.ModulesDir = v
	}
	if v := os.Getenv("SAWE_REPOS_BASE_PATH"); v != "" {
		cfg.ReposBasePath = v
	}
	if v := os.Getenv("SAWE_APPROVAL_SWEEP_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ApprovalSweepSeconds = n
		}
	}
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return &errors.ConfigError{Key: "listen_addr", Reason: "listen address is required"}
	}
	if c.ModulesDir == "" {
		return &errors.ConfigError{Key: "modules_dir", Reason: "modules directory is required"}
	}
	if c.ApprovalSweepSeconds <= 0 {
		return &errors.ConfigError{Key: "approval_sweep_seconds", Reason: "sweep interval must be positive"}
	}
	return nil
}

// SweepInterval returns the approval sweep interval as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.ApprovalSweepSeconds) * time.Second
}
