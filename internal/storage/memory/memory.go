// Package memory is an in-process storage backend for development and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"finvue/internal/core"
	"finvue/internal/storage"

	"github.com/google/uuid"
)

type Store struct {
	mu          sync.Mutex
	provisioned bool
	now         func() time.Time
	records     map[storage.RecordKey]core.Record
	assets      []storage.Asset
	users       map[string]storage.User
}

// New returns a provisioned store.
func New() *Store {
	return &Store{
		provisioned: true,
		now:         time.Now,
		records:     map[storage.RecordKey]core.Record{},
		users:       map[string]storage.User{},
	}
}

// NewUnprovisioned returns a store whose Save fails with
// storage.ErrSetupRequired until Provision is called.
func NewUnprovisioned() *Store {
	s := New()
	s.provisioned = false
	return s
}

// Load implements storage.RecordStore
func (s *Store) Load(_ context.Context, userID string, year int) (core.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[storage.RecordKey{UserID: userID, Year: year}]
	if !ok {
		return core.Record{}, storage.ErrNotFound
	}
	return r, nil
}

// Save implements storage.RecordStore
func (s *Store) Save(_ context.Context, userID string, year int, r core.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.provisioned {
		return &storage.SetupError{Backend: "memory", Reason: "store not provisioned"}
	}
	s.records[storage.RecordKey{UserID: userID, Year: year}] = r
	return nil
}

// ListRecordKeys implements storage.RecordLister
func (s *Store) ListRecordKeys(_ context.Context, year int) ([]storage.RecordKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []storage.RecordKey
	for k := range s.records {
		if k.Year == year {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].UserID < keys[j].UserID })
	return keys, nil
}

// Provision implements storage.Provisioner
func (s *Store) Provision(context.Context) error {
	s.mu.Lock()
	s.provisioned = true
	s.mu.Unlock()
	return nil
}

// AppendAsset implements storage.AssetStore
func (s *Store) AppendAsset(_ context.Context, a storage.Asset) (storage.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Category == "" {
		a.Category = storage.DefaultAssetCategory
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	s.assets = append(s.assets, a)
	return a, nil
}

// ListAssets implements storage.AssetStore
func (s *Store) ListAssets(_ context.Context, userID string) ([]storage.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []storage.Asset{}
	for i := len(s.assets) - 1; i >= 0; i-- {
		if s.assets[i].UserID == userID {
			out = append(out, s.assets[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// CreateUser implements storage.UserStore
func (s *Store) CreateUser(_ context.Context, u storage.User) (storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.Email = storage.NormalizeEmail(u.Email)
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return storage.User{}, storage.ErrUserExists
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	s.users[u.ID] = u
	return u, nil
}

// GetUserByEmail implements storage.UserStore
func (s *Store) GetUserByEmail(_ context.Context, email string) (storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = storage.NormalizeEmail(email)
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return storage.User{}, storage.ErrNotFound
}

// GetUserByID implements storage.UserStore
func (s *Store) GetUserByID(_ context.Context, id string) (storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return storage.User{}, storage.ErrNotFound
	}
	return u, nil
}

// UpdateDisplayName implements storage.UserStore
func (s *Store) UpdateDisplayName(_ context.Context, id, displayName string) error {
	return s.update(id, func(u *storage.User) { u.DisplayName = displayName })
}

// UpdatePasswordHash implements storage.UserStore
func (s *Store) UpdatePasswordHash(_ context.Context, id, hash string) error {
	return s.update(id, func(u *storage.User) { u.PasswordHash = hash })
}

// ConfirmEmail implements storage.UserStore
func (s *Store) ConfirmEmail(_ context.Context, id string) error {
	return s.update(id, func(u *storage.User) { u.EmailConfirmed = true })
}

func (s *Store) update(id string, fn func(*storage.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	fn(&u)
	u.UpdatedAt = s.now().UTC()
	s.users[id] = u
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }
