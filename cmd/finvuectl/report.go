package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"finvue/internal/cli"
	"finvue/internal/core"
	"finvue/internal/services"
	"finvue/internal/storage"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

func writeReport(w io.Writer, r core.Report, format string) error {
	switch strings.ToLower(format) {
	case "yaml", "yml":
		b, err := yaml.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		_, err = w.Write(b)
		return err
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	default:
		return fmt.Errorf("unknown format %q (want yaml or json)", format)
	}
}

func (a *app) reportCommand() *cobra.Command {
	var (
		userID string
		year   int
		format string
	)
	cmd := &cobra.Command{
		Use:     "report",
		Short:   "Print the annual report of a user's Financial Record",
		Example: "  finvuectl report --user 6f1c... --year 2026 --format json",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			res, err := a.openStore(ctx, a.config())
			if err != nil {
				return err
			}
			defer res.Close()

			rec, err := res.Store.Load(ctx, userID, year)
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("no record for user %s in %d", userID, year)
			}
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), core.BuildReport(userID, year, rec), format)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user ID")
	cmd.Flags().IntVar(&year, "year", time.Now().Year(), "record year")
	cmd.Flags().StringVar(&format, "format", "yaml", "output format: yaml or json")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func (a *app) exportCommand() *cobra.Command {
	var (
		userID string
		year   int
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write annual reports to Google Sheets now",
		Long: `Export one user's report, or every user with a record for the year,
to the configured spreadsheet. The export worker does the same on schedule.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := a.config()
			res, err := a.openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer res.Close()

			exporter := services.NewExporter(res.Store, res.Store, cli.InitSheets(ctx, a.logger, cfg), a.logger)
			if userID != "" {
				ref, err := exporter.Export(ctx, userID, year)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "exported %s/%d to %s\n", userID, year, ref)
				return nil
			}

			result, err := exporter.ExportAll(ctx, year)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d of %d records for %d\n",
				result.Exported, result.Exported+result.Failed, year)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "export only this user")
	cmd.Flags().IntVar(&year, "year", time.Now().Year(), "record year")
	return cmd
}
