package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"finvue/internal/core"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres error codes that mean the schema is not provisioned.
const (
	pgInvalidColumnReference = "42P10"
	pgUndefinedTable         = "42P01"
	pgUniqueViolation        = "23505"
)

type PostgresRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresRepository connects to url. Migrations are not applied here;
// run RunPostgresMigrations first or provision the schema separately.
func NewPostgresRepository(ctx context.Context, url string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresRepository{pool: pool, now: time.Now}, nil
}

func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func pgSetupError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgInvalidColumnReference:
		return &SetupError{Backend: "postgres", Reason: "missing unique constraint on financial_data(user_id, year)", Err: err}
	case pgUndefinedTable:
		return &SetupError{Backend: "postgres", Reason: "missing table", Err: err}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// Load implements RecordStore
func (r *PostgresRepository) Load(ctx context.Context, userID string, year int) (core.Record, error) {
	var data []byte
	err := r.pool.QueryRow(ctx,
		`SELECT data FROM financial_data WHERE user_id = $1 AND year = $2 ORDER BY id DESC LIMIT 1`,
		userID, year).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Record{}, ErrNotFound
	}
	if err != nil {
		return core.Record{}, fmt.Errorf("load financial data: %w", pgSetupError(err))
	}

	var rec core.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return core.Record{}, fmt.Errorf("decode financial data: %w", err)
	}
	return rec, nil
}

// Save implements RecordStore
func (r *PostgresRepository) Save(ctx context.Context, userID string, year int, rec core.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode financial data: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO financial_data (user_id, year, data, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, year) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		userID, year, data, r.now().UTC())
	if err != nil {
		return fmt.Errorf("upsert financial data: %w", pgSetupError(err))
	}
	slog.DebugContext(ctx, "Financial data saved to Postgres", "user_id", userID, "year", year)
	return nil
}

// ListRecordKeys implements RecordLister
func (r *PostgresRepository) ListRecordKeys(ctx context.Context, year int) ([]RecordKey, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT user_id FROM financial_data WHERE year = $1 ORDER BY user_id`, year)
	if err != nil {
		return nil, fmt.Errorf("list financial data: %w", pgSetupError(err))
	}
	userIDs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan financial data keys: %w", err)
	}
	keys := make([]RecordKey, len(userIDs))
	for i, id := range userIDs {
		keys[i] = RecordKey{UserID: id, Year: year}
	}
	return keys, nil
}

// Provision implements Provisioner
func (r *PostgresRepository) Provision(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, provisionIndexSQL); err != nil {
		return fmt.Errorf("create financial_data unique index: %w", pgSetupError(err))
	}
	slog.InfoContext(ctx, "Financial data unique index ensured", "backend", "postgres")
	return nil
}

// AppendAsset implements AssetStore
func (r *PostgresRepository) AppendAsset(ctx context.Context, a Asset) (Asset, error) {
	a = prepareAsset(a, r.now)
	_, err := r.pool.Exec(ctx,
		`INSERT INTO generated_assets (id, user_id, prompt, image_url, category, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.UserID, a.Prompt, a.ImageURL, a.Category, a.CreatedAt)
	if err != nil {
		return Asset{}, fmt.Errorf("insert generated asset: %w", pgSetupError(err))
	}
	return a, nil
}

// ListAssets implements AssetStore
func (r *PostgresRepository) ListAssets(ctx context.Context, userID string) ([]Asset, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, prompt, image_url, category, created_at FROM generated_assets
		 WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list generated assets: %w", pgSetupError(err))
	}
	assets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Asset, error) {
		var a Asset
		err := row.Scan(&a.ID, &a.UserID, &a.Prompt, &a.ImageURL, &a.Category, &a.CreatedAt)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan generated assets: %w", err)
	}
	if assets == nil {
		assets = []Asset{}
	}
	return assets, nil
}

// CreateUser implements UserStore
func (r *PostgresRepository) CreateUser(ctx context.Context, u User) (User, error) {
	u = prepareUser(u, r.now)
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, email, password_hash, display_name, email_confirmed, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Email, u.PasswordHash, u.DisplayName, u.EmailConfirmed, u.CreatedAt, u.UpdatedAt)
	if isUniqueViolation(err) {
		return User{}, ErrUserExists
	}
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// GetUserByEmail implements UserStore
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return r.getUser(ctx, `WHERE email = $1`, NormalizeEmail(email))
}

// GetUserByID implements UserStore
func (r *PostgresRepository) GetUserByID(ctx context.Context, id string) (User, error) {
	return r.getUser(ctx, `WHERE id = $1`, id)
}

func (r *PostgresRepository) getUser(ctx context.Context, where string, arg any) (User, error) {
	var u User
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, display_name, email_confirmed, created_at, updated_at FROM users `+where, arg).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &u.EmailConfirmed, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// UpdateDisplayName implements UserStore
func (r *PostgresRepository) UpdateDisplayName(ctx context.Context, id, displayName string) error {
	return r.updateUser(ctx, `display_name = $1`, displayName, id)
}

// UpdatePasswordHash implements UserStore
func (r *PostgresRepository) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return r.updateUser(ctx, `password_hash = $1`, hash, id)
}

// ConfirmEmail implements UserStore
func (r *PostgresRepository) ConfirmEmail(ctx context.Context, id string) error {
	return r.updateUser(ctx, `email_confirmed = $1`, true, id)
}

func (r *PostgresRepository) updateUser(ctx context.Context, set string, value any, id string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET `+set+`, updated_at = $2 WHERE id = $3`, value, r.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
