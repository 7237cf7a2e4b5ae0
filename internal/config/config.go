// Copyright (c) 2026 John Earle
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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// OAuth2Config configures client-credentials access to an OAuth2-fronted
// completion gateway. When TokenURL is set it takes precedence over the
// static API key.
type OAuth2Config struct {
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
}

// LLMConfig configures the completion-service client.
type LLMConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
	OAuth2    OAuth2Config
}

// DeliveryConfig configures the delivery-provider client.
type DeliveryConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Config holds all configuration for the reply service.
type Config struct {
	// Webhook
	WebhookSecret      string
	TimestampTolerance time.Duration

	// Datastores
	DatabaseURL string
	RedisURL    string
	EventsQueue string

	// Pipeline
	DedupeWindow   time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration

	LLM      LLMConfig
	Delivery DeliveryConfig

	// Server
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Webhook struct {
		Secret             string `yaml:"secret"`
		TimestampTolerance string `yaml:"timestamp_tolerance"`
	} `yaml:"webhook"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Events string `yaml:"events"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	Dedupe struct {
		Window string `yaml:"window"`
	} `yaml:"dedupe"`
	Retry struct {
		MaxAttempts int    `yaml:"max_attempts"`
		BaseDelay   string `yaml:"base_delay"`
	} `yaml:"retry"`
	LLM struct {
		BaseURL   string       `yaml:"base_url"`
		APIKey    string       `yaml:"api_key"`
		Model     string       `yaml:"model"`
		MaxTokens int          `yaml:"max_tokens"`
		Timeout   string       `yaml:"timeout"`
		OAuth2    OAuth2Config `yaml:"oauth2"`
	} `yaml:"llm"`
	Delivery struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
		Timeout string `yaml:"timeout"`
	} `yaml:"delivery"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings. Required credentials are
// validated here so a misconfigured deploy fails at startup, not on the
// first inbound email.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	var raw rawConfig
	if data, err := os.ReadFile(configPath); err == nil {
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	cfg := &Config{
		WebhookSecret:      firstNonEmpty(raw.Webhook.Secret, os.Getenv("WEBHOOK_SECRET")),
		TimestampTolerance: durationOrDefault(raw.Webhook.TimestampTolerance, envOrDefaultDuration("WEBHOOK_TIMESTAMP_TOLERANCE", 10*time.Minute)),
		DatabaseURL:        firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),
		RedisURL:           firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		EventsQueue:        firstNonEmpty(raw.Redis.Queues.Events, envOrDefault("EVENTS_QUEUE", "email_outcomes")),
		DedupeWindow:       durationOrDefault(raw.Dedupe.Window, envOrDefaultDuration("DEDUPE_WINDOW", 10*time.Minute)),
		RetryAttempts:      intOrDefault(raw.Retry.MaxAttempts, envOrDefaultInt("RETRY_MAX_ATTEMPTS", 3)),
		RetryBaseDelay:     durationOrDefault(raw.Retry.BaseDelay, envOrDefaultDuration("RETRY_BASE_DELAY", time.Second)),
		LLM: LLMConfig{
			BaseURL:   firstNonEmpty(raw.LLM.BaseURL, envOrDefault("LLM_BASE_URL", "https://api.openai.com")),
			APIKey:    firstNonEmpty(raw.LLM.APIKey, os.Getenv("LLM_API_KEY")),
			Model:     firstNonEmpty(raw.LLM.Model, os.Getenv("LLM_MODEL")),
			MaxTokens: raw.LLM.MaxTokens,
			Timeout:   durationOrDefault(raw.LLM.Timeout, envOrDefaultDuration("LLM_TIMEOUT", 30*time.Second)),
			OAuth2:    raw.LLM.OAuth2,
		},
		Delivery: DeliveryConfig{
			BaseURL: firstNonEmpty(raw.Delivery.BaseURL, envOrDefault("DELIVERY_BASE_URL", "https://api.sendgrid.com")),
			APIKey:  firstNonEmpty(raw.Delivery.APIKey, os.Getenv("DELIVERY_API_KEY")),
			Timeout: durationOrDefault(raw.Delivery.Timeout, envOrDefaultDuration("DELIVERY_TIMEOUT", 15*time.Second)),
		},
		Port: envOrDefaultInt("PORT", 8080),
	}

	var missing []string
	if cfg.WebhookSecret == "" {
		missing = append(missing, "webhook.secret")
	}
	if cfg.DatabaseURL == "" {
		missing = append(missing, "database.url")
	}
	if cfg.LLM.APIKey == "" && cfg.LLM.OAuth2.TokenURL == "" {
		missing = append(missing, "llm.api_key")
	}
	if cfg.Delivery.APIKey == "" {
		missing = append(missing, "delivery.api_key")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func durationOrDefault(raw string, fallback time.Duration) time.Duration {
	if raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			return d
		}
	}
	return fallback
}

func intOrDefault(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
