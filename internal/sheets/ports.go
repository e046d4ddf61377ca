package sheets

import (
	"context"

	"finvue/internal/core"
)

// ReportWriter publishes an annual report to an external spreadsheet.
type ReportWriter interface {
	// WriteReport replaces the report of (report.UserID, report.Year) and
	// returns a reference to where it was written.
	WriteReport(ctx context.Context, report core.Report) (ref string, err error)
}
