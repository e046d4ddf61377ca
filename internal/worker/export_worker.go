// Package worker turns record-saved notifications into spreadsheet exports.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"finvue/internal/amqp"
	"finvue/internal/cache"
	"finvue/internal/log"
	"finvue/internal/services"
)

// ExportWorker handles RecordSavedMessage deliveries.
type ExportWorker struct {
	exporter *services.Exporter
	// lastExport remembers when each (user, year) was last exported, so
	// messages published before that export are acknowledged without work.
	lastExport *cache.LRUCache[time.Time]
	now        func() time.Time
	logger     *log.Logger
}

func NewExportWorker(exporter *services.Exporter, logger *log.Logger) *ExportWorker {
	if logger == nil {
		logger = log.FromContext(context.Background())
	}
	return &ExportWorker{
		exporter:   exporter,
		lastExport: cache.NewLRUCache[time.Time](10_000, time.Hour),
		now:        time.Now,
		logger:     logger.WithComponent(log.ComponentWorker),
	}
}

// Cache exposes the dedupe cache for periodic cleanup.
func (w *ExportWorker) Cache() cache.Cleaner { return w.lastExport }

// HandleRecordSaved exports the record named by msg. It is an amqp.Handler.
func (w *ExportWorker) HandleRecordSaved(ctx context.Context, msg *amqp.RecordSavedMessage) error {
	key := msg.Key()
	if last, ok := w.lastExport.Get(key); ok && msg.Timestamp.Before(last) {
		w.logger.DebugContext(ctx, "Skipping message older than last export",
			log.FieldUserID, msg.UserID, log.FieldYear, msg.Year)
		return nil
	}

	started := w.now()
	ref, err := w.exporter.Export(ctx, msg.UserID, msg.Year)
	if errors.Is(err, services.ErrNothingToExport) {
		w.logger.WarnContext(ctx, "Record saved message for missing record",
			log.FieldUserID, msg.UserID, log.FieldYear, msg.Year)
		return nil
	}
	if err != nil {
		return fmt.Errorf("export record: %w", err)
	}

	w.lastExport.Set(key, started)
	w.logger.InfoContext(ctx, "Record exported",
		log.FieldUserID, msg.UserID, log.FieldYear, msg.Year, log.FieldSheetsRef, ref)
	return nil
}

// StartupExport re-exports every record of the current year, catching up on
// messages lost while the worker was down.
func (w *ExportWorker) StartupExport(ctx context.Context) error {
	res, err := w.exporter.ExportAll(ctx, w.now().Year())
	if err != nil {
		return fmt.Errorf("startup export: %w", err)
	}
	if res.Failed > 0 {
		w.logger.WarnContext(ctx, "Startup export finished with failures", "failed", res.Failed)
	}
	return nil
}
