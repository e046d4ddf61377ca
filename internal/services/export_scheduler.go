package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"finvue/internal/log"

	"github.com/robfig/cron/v3"
)

// DefaultExportSchedule re-exports every record once a day.
const DefaultExportSchedule = "@daily"

// ExportScheduler runs Exporter.ExportAll for the current year on a cron
// schedule.
type ExportScheduler struct {
	exporter *Exporter
	schedule cron.Schedule
	expr     string
	now      func() time.Time
	logger   *log.Logger

	mu      sync.Mutex
	running bool
	cron    *cron.Cron
	cancel  context.CancelFunc
}

// NewExportScheduler validates expr (standard five-field or @descriptor).
func NewExportScheduler(exporter *Exporter, expr string, logger *log.Logger) (*ExportScheduler, error) {
	if expr == "" {
		expr = DefaultExportSchedule
	}
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse export schedule %q: %w", expr, err)
	}
	if logger == nil {
		logger = log.FromContext(context.Background())
	}
	return &ExportScheduler{
		exporter: exporter,
		schedule: schedule,
		expr:     expr,
		now:      time.Now,
		logger:   logger.WithComponent(log.ComponentWorker),
	}, nil
}

// Start schedules the export job. Returns an error if already running.
func (s *ExportScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("export scheduler is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New(cron.WithLogger(cronLogger{s.logger}))
	c.Schedule(s.schedule, cron.FuncJob(func() { s.RunNow(runCtx) }))
	c.Start()

	s.cron, s.cancel, s.running = c, cancel, true
	s.logger.InfoContext(ctx, "Export scheduler started", "schedule", s.expr)
	return nil
}

// RunNow exports the current year immediately.
func (s *ExportScheduler) RunNow(ctx context.Context) (ExportResult, error) {
	res, err := s.exporter.ExportAll(ctx, s.now().Year())
	if err != nil {
		s.logger.ErrorContext(ctx, "Scheduled export failed", log.FieldError, err)
	}
	return res, err
}

// Stop cancels a running export and waits for it to return.
func (s *ExportScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c, cancel := s.cron, s.cancel
	s.running = false
	s.mu.Unlock()

	cancel()
	select {
	case <-c.Stop().Done():
		s.logger.InfoContext(ctx, "Export scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.WarnContext(ctx, "Export scheduler stop timed out")
		return ctx.Err()
	}
}

func (s *ExportScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// cronLogger adapts log.Logger to cron.Logger.
type cronLogger struct{ l *log.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, log.FieldError, err)...)
}
