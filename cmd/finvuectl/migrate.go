package main

import (
	"errors"
	"fmt"

	"finvue/internal/backend"
	"finvue/internal/log"
	"finvue/internal/storage"

	"github.com/spf13/cobra"
)

var errMemoryBackend = errors.New("the memory backend keeps no schema; choose sqlite or postgres")

func schemaVersion(target string) (uint, error) {
	switch target {
	case "latest":
		return storage.SchemaLatest, nil
	case "initial":
		return storage.SchemaInitial, nil
	default:
		return 0, fmt.Errorf("unknown schema target %q (want latest or initial)", target)
	}
}

func (a *app) migrateCommand() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations to the configured backend",
		Long: `Apply the embedded schema migrations.

--to initial stops before the (user_id, year) unique index, which leaves the
database in the state that makes saves fail with "setup required".`,
		Example: "  finvuectl migrate --backend sqlite --sqlite-path ./data/finvue.db\n" +
			"  finvuectl migrate --to initial",
		RunE: func(cmd *cobra.Command, _ []string) error {
			version, err := schemaVersion(target)
			if err != nil {
				return err
			}
			cfg := a.config()
			switch backend.Type(cfg.DataBackend) {
			case backend.SQLite:
				err = storage.RunMigrations(cfg.SQLiteDBPath, version)
			case backend.Postgres:
				err = storage.RunPostgresMigrations(cfg.DatabaseURL, version)
			case backend.Memory:
				return errMemoryBackend
			default:
				return fmt.Errorf("invalid backend type: %s", cfg.DataBackend)
			}
			if err != nil {
				return err
			}
			a.logger.Info("Migrations applied", log.FieldBackend, cfg.DataBackend, "target", target)
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema migrated to %s\n", cfg.DataBackend, target)
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "to", "latest", "target schema: latest or initial")
	return cmd
}

func (a *app) provisionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "provision",
		Short: "Create the (user_id, year) unique index that saves require",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.config()
			if backend.Type(cfg.DataBackend) == backend.Memory {
				return errMemoryBackend
			}
			// Provisioning must work on a database left at the initial schema.
			cfg.AutoMigrate = false
			res, err := a.openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer res.Close()

			if err := res.Store.Provision(cmd.Context()); err != nil {
				return fmt.Errorf("provision %s: %w", cfg.DataBackend, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s provisioned\n", cfg.DataBackend)
			return nil
		},
	}
}
