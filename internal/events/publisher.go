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

// Package events publishes processing-outcome events to a Redis list for
// offline usage aggregation. Publishing is best-effort: the reply has already
// been sent (or the failure already handled) by the time an event is emitted.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Outcome is one processed-message event.
type Outcome struct {
	EventID          string `json:"event_id"`
	MessageID        string `json:"message_id"`
	UserID           string `json:"user_id,omitempty"`
	Status           string `json:"status"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	EmittedAt        string `json:"emitted_at"`
}

// Publisher pushes outcome events onto a Redis list.
type Publisher struct {
	rdb       *redis.Client
	queueName string
}

// NewPublisher creates a publisher targeting the given list.
func NewPublisher(rdb *redis.Client, queueName string) *Publisher {
	return &Publisher{rdb: rdb, queueName: queueName}
}

// PublishOutcome serialises the outcome and LPUSHes it. The event id and
// timestamp are filled in here.
func (p *Publisher) PublishOutcome(ctx context.Context, o Outcome) error {
	o.EventID = uuid.New().String()
	o.EmittedAt = time.Now().UTC().Format(time.RFC3339)

	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal outcome event: %w", err)
	}

	if err := p.rdb.LPush(ctx, p.queueName, string(payload)).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Debug("published outcome event",
		"event_id", o.EventID,
		"message_id", o.MessageID,
		"status", o.Status,
	)
	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
