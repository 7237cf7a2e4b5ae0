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

package identity

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/tgoc99/llmbox/internal/models"
)

// plusIDPattern extracts the embedded user id from a plus-addressed
// recipient: localpart+{hex/hyphenated token}@domain.
var plusIDPattern = regexp.MustCompile(`\+([0-9a-fA-F-]+)@`)

// UserStore is the subset of Store the resolver needs; tests substitute a
// fake.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, email string) (*models.User, error)
}

// Resolver maps a message's recipient and sender addresses to a user record.
type Resolver struct {
	store UserStore
}

// NewResolver creates a resolver over the given store.
func NewResolver(store UserStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve finds or creates the user for an inbound message.
//
// The embedded id in the "to" address is only an optimization: it is trusted
// solely when its on-file address matches the message's "from" address. Any
// mismatch falls through to a from-address lookup — the sender address is the
// source of truth, never the id.
func (r *Resolver) Resolve(ctx context.Context, to, from string) (*models.User, error) {
	if id := ExtractUserID(to); id != "" {
		u, err := r.store.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("lookup user by id: %w", err)
		}
		if u != nil && u.Email == from {
			return u, nil
		}
		if u != nil {
			slog.Warn("embedded user id does not match sender, falling back to address lookup",
				"user_id", id,
				"from", from,
			)
		}
	}

	u, err := r.store.GetByEmail(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("lookup user by address: %w", err)
	}
	if u != nil {
		return u, nil
	}

	u, err = r.store.Create(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	slog.Info("created user for first-contact sender", "user_id", u.ID)
	return u, nil
}

// ExtractUserID pulls the embedded id out of a plus-addressed recipient.
// Returns "" when the address carries none.
func ExtractUserID(to string) string {
	m := plusIDPattern.FindStringSubmatch(to)
	if m == nil {
		return ""
	}
	return m[1]
}
