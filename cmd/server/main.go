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

// llmbox — email reply service
//
// Entry point for the reply service. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Connects to PostgreSQL and Redis
//  3. Wires the inbound pipeline: signature verification, parsing, dedupe,
//     identity resolution, completion, threading, delivery
//  4. Serves the inbound webhook and a health endpoint
//  5. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/tgoc99/llmbox/internal/config"
	"github.com/tgoc99/llmbox/internal/dedup"
	"github.com/tgoc99/llmbox/internal/delivery"
	"github.com/tgoc99/llmbox/internal/events"
	"github.com/tgoc99/llmbox/internal/identity"
	"github.com/tgoc99/llmbox/internal/llm"
	"github.com/tgoc99/llmbox/internal/maillog"
	"github.com/tgoc99/llmbox/internal/retry"
	"github.com/tgoc99/llmbox/internal/signature"
	"github.com/tgoc99/llmbox/internal/webhook"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting llmbox reply service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"dedupe_window", cfg.DedupeWindow,
		"retry_attempts", cfg.RetryAttempts,
		"llm_model", cfg.LLM.Model,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	guard := dedup.NewGuard(rdb, cfg.DedupeWindow)
	if err := guard.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	publisher := events.NewPublisher(rdb, cfg.EventsQueue)

	// --- Postgres-backed stores ---
	users, err := identity.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise user store", "error", err)
		os.Exit(1)
	}
	resolver := identity.NewResolver(users)

	log, err := maillog.NewLog(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise email log", "error", err)
		os.Exit(1)
	}

	// --- External service clients ---
	// Clients are constructed here and injected; nothing is lazily
	// initialised at first use.
	llmHTTP := &http.Client{}
	if cfg.LLM.OAuth2.TokenURL != "" {
		creds := &clientcredentials.Config{
			ClientID:     cfg.LLM.OAuth2.ClientID,
			ClientSecret: cfg.LLM.OAuth2.ClientSecret,
			TokenURL:     cfg.LLM.OAuth2.TokenURL,
			Scopes:       cfg.LLM.OAuth2.Scopes,
		}
		llmHTTP = creds.Client(ctx)
		slog.Info("completion client using OAuth2 client credentials",
			"token_url", cfg.LLM.OAuth2.TokenURL,
		)
	}
	generator := llm.NewClient(llmHTTP, llm.Config{
		BaseURL:   cfg.LLM.BaseURL,
		APIKey:    cfg.LLM.APIKey,
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.LLM.MaxTokens,
		Timeout:   cfg.LLM.Timeout,
	})

	sender := delivery.NewClient(&http.Client{}, delivery.Config{
		BaseURL: cfg.Delivery.BaseURL,
		APIKey:  cfg.Delivery.APIKey,
		Timeout: cfg.Delivery.Timeout,
	})

	policy := retry.Policy{
		MaxAttempts:       cfg.RetryAttempts,
		BaseDelay:         cfg.RetryBaseDelay,
		RetryableStatuses: retry.DefaultRetryableStatuses(),
	}

	verifier := signature.NewVerifier(cfg.WebhookSecret, cfg.TimestampTolerance)

	// --- Webhook Server ---
	handler := webhook.NewHandler(verifier, guard, resolver, generator, sender, log, publisher, policy)

	health := func(w http.ResponseWriter, r *http.Request) {
		if err := guard.Ping(r.Context()); err != nil {
			http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
			return
		}
		if err := pgPool.Ping(r.Context()); err != nil {
			http.Error(w, "postgres unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy"}`))
	}

	ready, err := webhook.Serve(ctx, cfg.Port, handler, health)
	if err != nil {
		slog.Error("failed to start webhook server", "error", err)
		os.Exit(1)
	}
	<-ready
	slog.Info("reply service ready", "port", cfg.Port)

	<-ctx.Done()
	slog.Info("received shutdown signal")
	slog.Info("reply service stopped")
}
