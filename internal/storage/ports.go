// Package storage persists Financial Records, Generated Assets and user
// accounts. Backends report a missing (user_id, year) uniqueness constraint
// as ErrSetupRequired so callers can keep edits in memory until the schema
// is provisioned.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"finvue/internal/core"
)

// DefaultAssetCategory tags images generated from a market outlook.
const DefaultAssetCategory = "wealth_vision"

var (
	ErrNotFound = errors.New("not found")

	// ErrSetupRequired means the schema lacks the table or the
	// (user_id, year) unique constraint the upsert relies on.
	ErrSetupRequired = errors.New("storage setup required")

	ErrUserExists = errors.New("user already exists")
)

// SetupError describes why a backend cannot upsert records.
type SetupError struct {
	Backend string
	Reason  string
	Err     error
}

func (e *SetupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Backend, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Backend, e.Reason)
}

// Is makes errors.Is(err, ErrSetupRequired) true for any SetupError.
func (e *SetupError) Is(target error) bool {
	return target == ErrSetupRequired
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// Remediation is shown to users stuck in the setup-required state.
const Remediation = "Crie o índice único em financial_data(user_id, year) com `finvuectl provision` e tente salvar novamente."

type (
	// Asset is an AI-generated image kept for a user.
	Asset struct {
		ID        string    `json:"id"`
		UserID    string    `json:"userId"`
		Prompt    string    `json:"prompt"`
		ImageURL  string    `json:"imageUrl"`
		Category  string    `json:"category"`
		CreatedAt time.Time `json:"createdAt"`
	}

	User struct {
		ID             string    `json:"id"`
		Email          string    `json:"email"`
		PasswordHash   string    `json:"-"`
		DisplayName    string    `json:"displayName"`
		EmailConfirmed bool      `json:"emailConfirmed"`
		CreatedAt      time.Time `json:"createdAt"`
		UpdatedAt      time.Time `json:"updatedAt"`
	}

	// RecordKey identifies one stored Financial Record.
	RecordKey struct {
		UserID string
		Year   int
	}
)

// Ports implemented by every backend.
type (
	RecordStore interface {
		// Load returns ErrNotFound when the user has no record for the year.
		Load(ctx context.Context, userID string, year int) (core.Record, error)
		// Save replaces the whole record for (userID, year).
		Save(ctx context.Context, userID string, year int, r core.Record) error
	}

	RecordLister interface {
		ListRecordKeys(ctx context.Context, year int) ([]RecordKey, error)
	}

	AssetStore interface {
		AppendAsset(ctx context.Context, a Asset) (Asset, error)
		// ListAssets returns the user's assets, newest first.
		ListAssets(ctx context.Context, userID string) ([]Asset, error)
	}

	UserStore interface {
		CreateUser(ctx context.Context, u User) (User, error)
		GetUserByEmail(ctx context.Context, email string) (User, error)
		GetUserByID(ctx context.Context, id string) (User, error)
		UpdateDisplayName(ctx context.Context, id, displayName string) error
		UpdatePasswordHash(ctx context.Context, id, hash string) error
		ConfirmEmail(ctx context.Context, id string) error
	}

	// Provisioner creates the (user_id, year) unique index if it is missing.
	Provisioner interface {
		Provision(ctx context.Context) error
	}
)
