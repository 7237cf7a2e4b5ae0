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

// Package identity provides the Postgres-backed user store and the resolver
// that maps an inbound message's addresses to a user record.
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tgoc99/llmbox/internal/models"
)

// Store provides lookup and creation of user records in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a user store backed by the given Postgres pool. It ensures
// the users table exists on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure users schema: %w", err)
	}
	slog.Info("user store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id               UUID PRIMARY KEY,
			email            TEXT NOT NULL UNIQUE,
			reply_tone       TEXT DEFAULT '',
			signature_block  TEXT DEFAULT '',
			settings_version INT DEFAULT 1,
			created_at       TIMESTAMPTZ DEFAULT NOW(),
			updated_at       TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
	`)
	return err
}

// GetByID retrieves a user by its opaque id. Returns (nil, nil) when absent
// or when the id is not a valid key.
func (s *Store) GetByID(ctx context.Context, id string) (*models.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, reply_tone, signature_block, settings_version, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id)
	return scanUser(row)
}

// GetByEmail retrieves a user by primary address.
func (s *Store) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, reply_tone, signature_block, settings_version, created_at, updated_at
		FROM users
		WHERE email = $1
	`, email)
	return scanUser(row)
}

// Create inserts a new user keyed by address. Two concurrent first contacts
// from the same address race on the unique constraint; the loser re-reads the
// winner's row, so exactly one record exists either way.
func (s *Store) Create(ctx context.Context, email string) (*models.User, error) {
	id := uuid.New().String()

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, email, settings_version)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO NOTHING
	`, id, email, models.SettingsVersion)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// Lost the race — the row exists now.
		u, err := s.GetByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		if u == nil {
			return nil, fmt.Errorf("user %s vanished after conflicting insert", email)
		}
		return u, nil
	}

	u, err := s.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u != nil {
		u.Created = true
	}
	return u, nil
}

// scanUser scans a single row into a User.
func scanUser(row pgx.Row) (*models.User, error) {
	var (
		u         models.User
		createdAt time.Time
		updatedAt time.Time
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.Settings.ReplyTone, &u.Settings.SignatureBlock,
		&u.Settings.Version, &createdAt, &updatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = createdAt
	u.UpdatedAt = updatedAt
	return &u, nil
}
