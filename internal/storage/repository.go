package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"finvue/internal/core"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const provisionIndexSQL = `CREATE UNIQUE INDEX IF NOT EXISTS financial_data_user_year_key ON financial_data (user_id, year)`

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// SQLiteOption customises NewSQLiteRepository.
type SQLiteOption func(*sqliteOptions)

type sqliteOptions struct {
	schemaVersion uint
	skipMigrate   bool
	now           func() time.Time
}

// WithSchemaVersion migrates only up to version instead of the latest schema.
func WithSchemaVersion(version uint) SQLiteOption {
	return func(o *sqliteOptions) { o.schemaVersion = version }
}

// WithoutMigrations opens the database as-is; finvuectl migrate applies the
// schema separately.
func WithoutMigrations() SQLiteOption {
	return func(o *sqliteOptions) { o.skipMigrate = true }
}

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) SQLiteOption {
	return func(o *sqliteOptions) { o.now = now }
}

func NewSQLiteRepository(dbPath string, opts ...SQLiteOption) (*SQLiteRepository, error) {
	o := sqliteOptions{schemaVersion: SchemaLatest, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite serialises writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if !o.skipMigrate {
		if err := RunMigrations(dbPath, o.schemaVersion); err != nil {
			db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	return &SQLiteRepository{db: db, now: o.now}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// sqliteSetupError maps the errors SQLite raises for a missing table or a
// missing unique index behind ON CONFLICT.
func sqliteSetupError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "ON CONFLICT clause does not match any PRIMARY KEY or UNIQUE constraint"):
		return &SetupError{Backend: "sqlite", Reason: "missing unique index on financial_data(user_id, year)", Err: err}
	case strings.Contains(msg, "no such table"):
		return &SetupError{Backend: "sqlite", Reason: "missing table", Err: err}
	}
	return err
}

// Load implements RecordStore
func (r *SQLiteRepository) Load(ctx context.Context, userID string, year int) (core.Record, error) {
	var data string
	err := r.db.QueryRowContext(ctx,
		`SELECT data FROM financial_data WHERE user_id = ? AND year = ? ORDER BY id DESC LIMIT 1`,
		userID, year).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Record{}, ErrNotFound
	}
	if err != nil {
		return core.Record{}, fmt.Errorf("load financial data: %w", sqliteSetupError(err))
	}

	var rec core.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return core.Record{}, fmt.Errorf("decode financial data: %w", err)
	}
	return rec, nil
}

// Save implements RecordStore
func (r *SQLiteRepository) Save(ctx context.Context, userID string, year int, rec core.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode financial data: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO financial_data (user_id, year, data, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, year) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		userID, year, string(data), r.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert financial data: %w", sqliteSetupError(err))
	}

	slog.DebugContext(ctx, "Financial data saved to SQLite", "user_id", userID, "year", year)
	return nil
}

// ListRecordKeys implements RecordLister
func (r *SQLiteRepository) ListRecordKeys(ctx context.Context, year int) ([]RecordKey, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM financial_data WHERE year = ? ORDER BY user_id`, year)
	if err != nil {
		return nil, fmt.Errorf("list financial data: %w", sqliteSetupError(err))
	}
	defer rows.Close()

	var keys []RecordKey
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan financial data key: %w", err)
		}
		keys = append(keys, RecordKey{UserID: userID, Year: year})
	}
	return keys, rows.Err()
}

// Provision implements Provisioner
func (r *SQLiteRepository) Provision(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, provisionIndexSQL); err != nil {
		return fmt.Errorf("create financial_data unique index: %w", sqliteSetupError(err))
	}
	slog.InfoContext(ctx, "Financial data unique index ensured", "backend", "sqlite")
	return nil
}

// AppendAsset implements AssetStore
func (r *SQLiteRepository) AppendAsset(ctx context.Context, a Asset) (Asset, error) {
	a = prepareAsset(a, r.now)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO generated_assets (id, user_id, prompt, image_url, category, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Prompt, a.ImageURL, a.Category, a.CreatedAt.UnixMilli())
	if err != nil {
		return Asset{}, fmt.Errorf("insert generated asset: %w", sqliteSetupError(err))
	}
	return a, nil
}

// ListAssets implements AssetStore
func (r *SQLiteRepository) ListAssets(ctx context.Context, userID string) ([]Asset, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, prompt, image_url, category, created_at FROM generated_assets
		 WHERE user_id = ? ORDER BY created_at DESC, rowid DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list generated assets: %w", sqliteSetupError(err))
	}
	defer rows.Close()

	assets := []Asset{}
	for rows.Next() {
		var (
			a       Asset
			created int64
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.Prompt, &a.ImageURL, &a.Category, &created); err != nil {
			return nil, fmt.Errorf("scan generated asset: %w", err)
		}
		a.CreatedAt = time.UnixMilli(created).UTC()
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// CreateUser implements UserStore
func (r *SQLiteRepository) CreateUser(ctx context.Context, u User) (User, error) {
	u = prepareUser(u, r.now)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, display_name, email_confirmed, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.DisplayName, u.EmailConfirmed, u.CreatedAt.UnixMilli(), u.UpdatedAt.UnixMilli())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: users.email") {
			return User{}, ErrUserExists
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// GetUserByEmail implements UserStore
func (r *SQLiteRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return r.getUser(ctx, `WHERE email = ?`, NormalizeEmail(email))
}

// GetUserByID implements UserStore
func (r *SQLiteRepository) GetUserByID(ctx context.Context, id string) (User, error) {
	return r.getUser(ctx, `WHERE id = ?`, id)
}

func (r *SQLiteRepository) getUser(ctx context.Context, where string, arg any) (User, error) {
	var (
		u                User
		created, updated int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, display_name, email_confirmed, created_at, updated_at FROM users `+where, arg).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &u.EmailConfirmed, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	u.CreatedAt = time.UnixMilli(created).UTC()
	u.UpdatedAt = time.UnixMilli(updated).UTC()
	return u, nil
}

// UpdateDisplayName implements UserStore
func (r *SQLiteRepository) UpdateDisplayName(ctx context.Context, id, displayName string) error {
	return r.updateUser(ctx, `display_name = ?`, displayName, id)
}

// UpdatePasswordHash implements UserStore
func (r *SQLiteRepository) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return r.updateUser(ctx, `password_hash = ?`, hash, id)
}

// ConfirmEmail implements UserStore
func (r *SQLiteRepository) ConfirmEmail(ctx context.Context, id string) error {
	return r.updateUser(ctx, `email_confirmed = ?`, true, id)
}

func (r *SQLiteRepository) updateUser(ctx context.Context, set string, value any, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET `+set+`, updated_at = ? WHERE id = ?`, value, r.now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// NormalizeEmail lower-cases and trims an address so lookups are
// case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func prepareAsset(a Asset, now func() time.Time) Asset {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Category == "" {
		a.Category = DefaultAssetCategory
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now().UTC()
	}
	// Millisecond precision is what every backend round-trips.
	a.CreatedAt = a.CreatedAt.Truncate(time.Millisecond)
	return a
}

func prepareUser(u User, now func() time.Time) User {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = NormalizeEmail(u.Email)
	t := now().UTC().Truncate(time.Millisecond)
	if u.CreatedAt.IsZero() {
		u.CreatedAt = t
	}
	u.UpdatedAt = t
	return u
}
