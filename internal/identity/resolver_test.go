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
	"testing"

	"github.com/tgoc99/llmbox/internal/models"
)

// fakeStore tracks which lookups ran so tests can assert the fallback order.
type fakeStore struct {
	byID    map[string]*models.User
	byEmail map[string]*models.User

	idLookups    int
	emailLookups int
	creates      int
}

func (f *fakeStore) GetByID(_ context.Context, id string) (*models.User, error) {
	f.idLookups++
	return f.byID[id], nil
}

func (f *fakeStore) GetByEmail(_ context.Context, email string) (*models.User, error) {
	f.emailLookups++
	return f.byEmail[email], nil
}

func (f *fakeStore) Create(_ context.Context, email string) (*models.User, error) {
	f.creates++
	u := &models.User{ID: "new-id", Email: email, Created: true}
	if f.byEmail == nil {
		f.byEmail = map[string]*models.User{}
	}
	f.byEmail[email] = u
	return u, nil
}

func TestExtractUserID(t *testing.T) {
	tests := []struct {
		to   string
		want string
	}{
		{"reply+a1b2c3@llmbox.dev", "a1b2c3"},
		{"reply+550e8400-e29b-41d4-a716-446655440000@llmbox.dev", "550e8400-e29b-41d4-a716-446655440000"},
		{"reply@llmbox.dev", ""},
		{"reply+@llmbox.dev", ""},
		{"reply+nothex!@llmbox.dev", ""},
	}

	for _, tt := range tests {
		if got := ExtractUserID(tt.to); got != tt.want {
			t.Errorf("ExtractUserID(%q) = %q, want %q", tt.to, got, tt.want)
		}
	}
}

func TestResolve_EmbeddedIDMatchingSender(t *testing.T) {
	alice := &models.User{ID: "ab-1", Email: "alice@x.com"}
	store := &fakeStore{byID: map[string]*models.User{"ab-1": alice}}
	r := NewResolver(store)

	u, err := r.Resolve(context.Background(), "reply+ab-1@llmbox.dev", "alice@x.com")
	if err != nil {
		t.Fatal(err)
	}
	if u != alice {
		t.Error("expected the on-file user")
	}
	if store.emailLookups != 0 {
		t.Errorf("emailLookups = %d, want 0 (no secondary lookup on clean match)", store.emailLookups)
	}
}

// TestResolve_EmbeddedIDMismatchFallsThrough covers the security property: an
// id belonging to a different address than the sender must never be trusted.
func TestResolve_EmbeddedIDMismatchFallsThrough(t *testing.T) {
	alice := &models.User{ID: "ab-1", Email: "alice@x.com"}
	mallory := &models.User{ID: "cd-2", Email: "mallory@evil.com"}
	store := &fakeStore{
		byID:    map[string]*models.User{"ab-1": alice},
		byEmail: map[string]*models.User{"mallory@evil.com": mallory},
	}
	r := NewResolver(store)

	u, err := r.Resolve(context.Background(), "reply+ab-1@llmbox.dev", "mallory@evil.com")
	if err != nil {
		t.Fatal(err)
	}
	if u != mallory {
		t.Errorf("resolved %v, want the sender's own record", u)
	}
	if store.emailLookups != 1 {
		t.Errorf("emailLookups = %d, want 1 (mismatch must fall through)", store.emailLookups)
	}
}

func TestResolve_NoEmbeddedIDUsesFromLookup(t *testing.T) {
	bob := &models.User{ID: "ef-3", Email: "bob@x.com"}
	store := &fakeStore{byEmail: map[string]*models.User{"bob@x.com": bob}}
	r := NewResolver(store)

	u, err := r.Resolve(context.Background(), "reply@llmbox.dev", "bob@x.com")
	if err != nil {
		t.Fatal(err)
	}
	if u != bob {
		t.Error("expected lookup by from address")
	}
	if store.idLookups != 0 {
		t.Errorf("idLookups = %d, want 0", store.idLookups)
	}
}

func TestResolve_UnknownSenderCreates(t *testing.T) {
	store := &fakeStore{}
	r := NewResolver(store)

	u, err := r.Resolve(context.Background(), "reply@llmbox.dev", "new@x.com")
	if err != nil {
		t.Fatal(err)
	}
	if !u.Created {
		t.Error("expected Created=true for first contact")
	}
	if u.Email != "new@x.com" {
		t.Errorf("Email = %q", u.Email)
	}
	if store.creates != 1 {
		t.Errorf("creates = %d, want 1", store.creates)
	}
}

func TestResolve_StaleIDUnknownSenderCreates(t *testing.T) {
	// Embedded id resolves to nobody, sender unknown: end at creation.
	store := &fakeStore{}
	r := NewResolver(store)

	u, err := r.Resolve(context.Background(), "reply+deadbeef@llmbox.dev", "new@x.com")
	if err != nil {
		t.Fatal(err)
	}
	if !u.Created {
		t.Error("expected Created=true")
	}
	if store.idLookups != 1 || store.emailLookups != 1 || store.creates != 1 {
		t.Errorf("lookup counts id=%d email=%d create=%d, want 1/1/1",
			store.idLookups, store.emailLookups, store.creates)
	}
}
