package main

import (
	"context"
	"fmt"
	"os"

	"finvue/internal/backend"
	"finvue/internal/config"
	"finvue/internal/log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app carries the state shared by every subcommand.
type app struct {
	v      *viper.Viper
	logger *log.Logger
}

// persistent flag name -> viper key. Keys match the environment variables
// read by config.Load once upper-cased.
var flagKeys = map[string]string{
	"backend":      "data_backend",
	"sqlite-path":  "sqlite_db_path",
	"database-url": "database_url",
	"log-level":    "log_level",
}

func newRootCommand() *cobra.Command {
	return (&app{v: viper.New()}).rootCommand()
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "finvuectl",
		Short: "FinVue administration",
		Long: `finvuectl manages a FinVue storage backend.

Settings come from flags, then environment variables (and .env), then an
optional YAML config file, then the defaults of the server.`,
		PersistentPreRunE: a.setup,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "YAML config file with keys like data_backend or sqlite_db_path")
	pf.String("backend", "", "storage backend: memory, sqlite or postgres")
	pf.String("sqlite-path", "", "SQLite database path")
	pf.String("database-url", "", "Postgres connection URL")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	for flag, key := range flagKeys {
		// The flags are defined just above, so binding cannot fail.
		_ = a.v.BindPFlag(key, pf.Lookup(flag))
	}

	root.AddCommand(
		a.migrateCommand(),
		a.provisionCommand(),
		a.reportCommand(),
		a.exportCommand(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	a.v.AutomaticEnv()

	file, _ := cmd.Flags().GetString("config")
	if file != "" {
		a.v.SetConfigFile(file)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", file, err)
		}
	}

	lvl := log.ParseLevel(a.v.GetString("log_level"))
	// Logs go to stderr so reports on stdout stay machine readable.
	a.logger = log.New(log.Config{Level: lvl, Component: log.ComponentApp, Output: os.Stderr})
	log.SetDefault(a.logger)
	return nil
}

// config overlays viper values on the environment defaults of config.Load.
func (a *app) config() *config.Config {
	cfg := config.Load()
	overrides := map[string]*string{
		"data_backend":                &cfg.DataBackend,
		"sqlite_db_path":              &cfg.SQLiteDBPath,
		"database_url":                &cfg.DatabaseURL,
		"google_spreadsheet_id":       &cfg.GoogleSpreadsheetID,
		"google_sheet_name":           &cfg.GoogleSheetName,
		"google_service_account_file": &cfg.GoogleServiceAccountFile,
	}
	for key, dst := range overrides {
		if a.v.IsSet(key) {
			*dst = a.v.GetString(key)
		}
	}
	if a.v.IsSet("auto_migrate") {
		cfg.AutoMigrate = a.v.GetBool("auto_migrate")
	}
	return cfg
}

func (a *app) openStore(ctx context.Context, cfg *config.Config) (*backend.Result, error) {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	return backend.NewFactory(a.logger).Create(ctx, bcfg)
}
