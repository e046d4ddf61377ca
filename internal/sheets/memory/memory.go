// Package memory is an in-process ReportWriter used in development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"finvue/internal/core"
	"finvue/internal/sheets"
)

var _ sheets.ReportWriter = (*Writer)(nil)

type Writer struct {
	mu      sync.Mutex
	reports map[string]core.Report
	writes  int
}

func New() *Writer {
	return &Writer{reports: make(map[string]core.Report)}
}

func key(userID string, year int) string { return fmt.Sprintf("%d/%s", year, userID) }

// WriteReport stores the report, replacing any earlier one for the same key.
func (w *Writer) WriteReport(_ context.Context, r core.Report) (string, error) {
	if r.UserID == "" {
		return "", fmt.Errorf("report has no user")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	k := key(r.UserID, r.Year)
	w.reports[k] = r
	w.writes++
	return "mem:" + k, nil
}

// Report returns the last report written for the key.
func (w *Writer) Report(userID string, year int) (core.Report, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.reports[key(userID, year)]
	return r, ok
}

// Writes counts WriteReport calls, including overwrites.
func (w *Writer) Writes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes
}
