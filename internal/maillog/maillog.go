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

// Package maillog appends one row per processed inbound message: outcome,
// token usage, and the error when there was one. Rows are write-only from the
// pipeline's point of view; aggregation happens elsewhere.
package maillog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Statuses recorded per processed message.
const (
	StatusReplied  = "replied"
	StatusFailed   = "failed"
	StatusFallback = "fallback_sent"
)

// Entry is one processed-message outcome.
type Entry struct {
	UserID           string
	MessageID        string
	Subject          string
	Status           string
	PromptTokens     int
	CompletionTokens int
	Error            string
}

// Log appends processed-message rows to Postgres.
type Log struct {
	pool *pgxpool.Pool
}

// NewLog creates the log and ensures its table exists.
func NewLog(ctx context.Context, pool *pgxpool.Pool) (*Log, error) {
	l := &Log{pool: pool}
	if err := l.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure email_log schema: %w", err)
	}
	return l, nil
}

func (l *Log) ensureSchema(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS email_log (
			id                BIGSERIAL PRIMARY KEY,
			user_id           UUID,
			message_id        TEXT NOT NULL,
			subject           TEXT DEFAULT '',
			status            TEXT NOT NULL,
			prompt_tokens     INT DEFAULT 0,
			completion_tokens INT DEFAULT 0,
			error             TEXT DEFAULT '',
			created_at        TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_email_log_user ON email_log(user_id);
		CREATE INDEX IF NOT EXISTS idx_email_log_message ON email_log(message_id);
	`)
	return err
}

// Append records one entry. Failures are logged and swallowed by Record — a
// bookkeeping miss must never fail the request.
func (l *Log) Append(ctx context.Context, e Entry) error {
	var userID any
	if e.UserID != "" {
		userID = e.UserID
	}
	_, err := l.pool.Exec(ctx, `
		INSERT INTO email_log
			(user_id, message_id, subject, status, prompt_tokens, completion_tokens, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, userID, e.MessageID, e.Subject, e.Status, e.PromptTokens, e.CompletionTokens, e.Error)
	return err
}

// Record is the best-effort form of Append used on the hot path.
func (l *Log) Record(ctx context.Context, e Entry) {
	if err := l.Append(ctx, e); err != nil {
		slog.Error("email log append failed",
			"message_id", e.MessageID,
			"status", e.Status,
			"error", err,
		)
	}
}
