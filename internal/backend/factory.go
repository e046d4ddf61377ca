package backend

import (
	"context"
	"fmt"

	"finvue/internal/log"
	"finvue/internal/storage"
	"finvue/internal/storage/memory"
)

var (
	_ Store = (*storage.SQLiteRepository)(nil)
	_ Store = (*storage.PostgresRepository)(nil)
	_ Store = (*memory.Store)(nil)
)

// DefaultFactory implements Factory.
type DefaultFactory struct {
	logger *log.Logger
}

func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.FromContext(context.Background())
	}
	return &DefaultFactory{logger: logger.WithComponent(log.ComponentBackend)}
}

func (f *DefaultFactory) Create(ctx context.Context, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case SQLite:
		return f.createSQLite(ctx, cfg)
	case Postgres:
		return f.createPostgres(ctx, cfg)
	case Memory:
		f.logger.InfoContext(ctx, "Initialized memory backend")
		store := memory.New()
		return &Result{Store: store, Type: Memory, Cleanup: store.Close}, nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", cfg.Type)
	}
}

func (f *DefaultFactory) createSQLite(ctx context.Context, cfg Config) (*Result, error) {
	var opts []storage.SQLiteOption
	if !cfg.AutoMigrate {
		opts = append(opts, storage.WithoutMigrations())
	}
	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	f.logger.InfoContext(ctx, "Initialized SQLite backend",
		"db_path", cfg.SQLiteDBPath, "auto_migrate", cfg.AutoMigrate)
	return &Result{Store: repo, Type: SQLite, Cleanup: repo.Close}, nil
}

func (f *DefaultFactory) createPostgres(ctx context.Context, cfg Config) (*Result, error) {
	if cfg.AutoMigrate {
		if err := storage.RunPostgresMigrations(cfg.DatabaseURL, storage.SchemaLatest); err != nil {
			return nil, fmt.Errorf("run postgres migrations: %w", err)
		}
	}
	repo, err := storage.NewPostgresRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Postgres repository: %w", err)
	}

	f.logger.InfoContext(ctx, "Initialized Postgres backend", "auto_migrate", cfg.AutoMigrate)
	return &Result{Store: repo, Type: Postgres, Cleanup: repo.Close}, nil
}
