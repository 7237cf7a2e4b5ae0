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

// Package dedup suppresses reprocessing of a message id already handled
// within the dedupe window. Webhook senders retry aggressively on slow
// responses, and handler invocations may run on different machines, so the
// seen-set lives in Redis: SETNX is the atomic record-if-absent that lets two
// near-simultaneous deliveries race to a single winner.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultWindow is how long a message id counts as already handled.
	DefaultWindow = 10 * time.Minute

	// keyPrefix namespaces dedupe keys in Redis.
	keyPrefix = "llmbox:seen:"
)

// Guard records message ids before any side-effecting work begins.
type Guard struct {
	rdb    *redis.Client
	window time.Duration
}

// NewGuard creates a guard backed by Redis. A non-positive window falls back
// to DefaultWindow.
func NewGuard(rdb *redis.Client, window time.Duration) *Guard {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Guard{rdb: rdb, window: window}
}

// FirstSight returns true if the message id has NOT been seen within the
// window. If true, the id is already durably recorded (SETNX set the key), so
// the caller may start side-effecting work immediately.
func (g *Guard) FirstSight(ctx context.Context, messageID string) (bool, error) {
	key := keyPrefix + messageID

	set, err := g.rdb.SetNX(ctx, key, time.Now().UTC().Unix(), g.window).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}

	return set, nil
}

// Ping checks the Redis connection.
func (g *Guard) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return g.rdb.Ping(ctx).Err()
}
