package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"finvue/internal/core"
	"finvue/internal/log"
	"finvue/internal/sheets"
	"finvue/internal/storage"

	"golang.org/x/sync/errgroup"
)

// ErrNothingToExport is returned when the user has no stored record for the year.
var ErrNothingToExport = errors.New("no record to export")

// Exporter writes annual reports of stored records to a ReportWriter.
type Exporter struct {
	records     storage.RecordStore
	lister      storage.RecordLister
	writer      sheets.ReportWriter
	concurrency int
	logger      *log.Logger
}

func NewExporter(records storage.RecordStore, lister storage.RecordLister, writer sheets.ReportWriter, logger *log.Logger) *Exporter {
	if logger == nil {
		logger = log.FromContext(context.Background())
	}
	return &Exporter{
		records:     records,
		lister:      lister,
		writer:      writer,
		concurrency: 4,
		logger:      logger.WithComponent(log.ComponentWorker),
	}
}

// Export loads the stored record of (userID, year) and writes its report.
func (e *Exporter) Export(ctx context.Context, userID string, year int) (string, error) {
	rec, err := e.records.Load(ctx, userID, year)
	if errors.Is(err, storage.ErrNotFound) {
		return "", ErrNothingToExport
	}
	if err != nil {
		return "", fmt.Errorf("load record: %w", err)
	}

	ref, err := e.writer.WriteReport(ctx, core.BuildReport(userID, year, rec))
	if err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	e.logger.DebugContext(ctx, "Record exported",
		log.FieldUserID, userID, log.FieldYear, year, log.FieldSheetsRef, ref)
	return ref, nil
}

// ExportResult counts the outcome of ExportAll.
type ExportResult struct {
	Exported int
	Failed   int
}

// ExportAll exports every stored record of year. Individual failures are
// logged and counted; only listing errors abort the run.
func (e *Exporter) ExportAll(ctx context.Context, year int) (ExportResult, error) {
	keys, err := e.lister.ListRecordKeys(ctx, year)
	if err != nil {
		return ExportResult{}, fmt.Errorf("list records: %w", err)
	}

	var exported, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, k := range keys {
		g.Go(func() error {
			if _, err := e.Export(gctx, k.UserID, k.Year); err != nil {
				failed.Add(1)
				e.logger.WarnContext(gctx, "Export failed",
					log.FieldUserID, k.UserID, log.FieldYear, k.Year, log.FieldError, err)
				return nil
			}
			exported.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res := ExportResult{Exported: int(exported.Load()), Failed: int(failed.Load())}
	e.logger.InfoContext(ctx, "Export run finished",
		log.FieldYear, year, "exported", res.Exported, "failed", res.Failed)
	return res, ctx.Err()
}
