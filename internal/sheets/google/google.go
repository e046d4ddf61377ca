// Package google writes annual reports to a Google Sheets spreadsheet, one
// "<year> <base> <user>" sheet per user and year.
package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"finvue/internal/core"
	"finvue/internal/log"
	ports "finvue/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

const DefaultSheetBase = "FinVue"

var _ ports.ReportWriter = (*Client)(nil)

type Config struct {
	SpreadsheetID      string
	SheetBase          string
	ServiceAccountJSON string
	ServiceAccountFile string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	base          string
	logger        *log.Logger

	mu    sync.Mutex
	known map[string]bool
}

// New creates a client writing to cfg.SpreadsheetID.
func New(ctx context.Context, cfg Config, logger *log.Logger) (*Client, error) {
	spreadsheetID := strings.TrimSpace(cfg.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	base := strings.TrimSpace(cfg.SheetBase)
	if base == "" {
		base = DefaultSheetBase
	}
	if logger == nil {
		logger = log.FromContext(ctx)
	}
	logger = logger.WithComponent(log.ComponentSheets)

	svc, err := newSheetsService(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		base:          base,
		logger:        logger,
		known:         make(map[string]bool),
	}, nil
}

// newSheetsService authenticates with a service account, falling back to
// GOOGLE_APPLICATION_CREDENTIALS.
func newSheetsService(ctx context.Context, cfg Config, logger *log.Logger) (*gsheet.Service, error) {
	inline := strings.TrimSpace(cfg.ServiceAccountJSON)
	file := strings.TrimSpace(cfg.ServiceAccountFile)
	if inline == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case inline != "":
		credentialsJSON = []byte(inline)
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	logger.InfoContext(ctx, "Google Sheets service created", "inline_credentials", inline != "")
	return svc, nil
}

// WriteReport replaces the contents of the user's sheet for the report year.
func (c *Client) WriteReport(ctx context.Context, r core.Report) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	if r.UserID == "" {
		return "", errors.New("report has no user")
	}

	title := sheetTitle(c.base, r.Year, r.UserID)
	if err := c.ensureSheet(ctx, title); err != nil {
		return "", err
	}

	values := reportValues(r)
	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, quote(title)+"!A:G",
		&gsheet.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return "", fmt.Errorf("clear sheet %q: %w", title, err)
	}

	rng := fmt.Sprintf("%s!A1:G%d", quote(title), len(values))
	vr := &gsheet.ValueRange{Values: values}
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do(); err != nil {
		return "", fmt.Errorf("update sheet %q: %w", title, err)
	}

	c.logger.InfoContext(ctx, "Annual report written",
		log.FieldUserID, r.UserID, log.FieldYear, r.Year, log.FieldSheetsRef, rng)
	return rng, nil
}

func (c *Client) ensureSheet(ctx context.Context, title string) error {
	c.mu.Lock()
	known := c.known[title]
	c.mu.Unlock()
	if known {
		return nil
	}

	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get spreadsheet: %w", err)
	}
	exists := false
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == title {
			exists = true
			break
		}
	}

	if !exists {
		req := &gsheet.BatchUpdateSpreadsheetRequest{Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: title}},
		}}}
		if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
			return fmt.Errorf("add sheet %q: %w", title, err)
		}
		c.logger.InfoContext(ctx, "Sheet created", "title", title)
	}

	c.mu.Lock()
	c.known[title] = true
	c.mu.Unlock()
	return nil
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}

func sheetTitle(base string, year int, userID string) string {
	id := userID
	if len(id) > 8 {
		id = id[:8]
	}
	return yearPrefixedName(base, year) + " " + id
}

// quote wraps a sheet title for A1 notation.
func quote(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

var reportHeader = []interface{}{"Mês", "Renda Bruta", "Renda Líquida", "Investido", "Gastos", "Saldo", "Acumulado"}

func reportValues(r core.Report) [][]interface{} {
	values := make([][]interface{}, 0, len(r.Rows)+3)
	values = append(values, reportHeader)
	for _, row := range r.Rows {
		values = append(values, []interface{}{
			row.Month,
			row.Gross.InexactFloat64(),
			row.NetIncome.InexactFloat64(),
			row.Invested.InexactFloat64(),
			row.Expense.InexactFloat64(),
			row.Balance.InexactFloat64(),
			row.Cumulative.InexactFloat64(),
		})
	}
	values = append(values,
		[]interface{}{
			"Total",
			r.Annual.Gross.InexactFloat64(),
			r.Annual.NetIncome.InexactFloat64(),
			r.Annual.Invested.InexactFloat64(),
			r.Annual.Expense.InexactFloat64(),
			r.Annual.Balance.InexactFloat64(),
			"",
		},
		[]interface{}{"Taxa de poupança", fmt.Sprintf("%d%%", r.SavingsRate)},
	)
	return values
}
