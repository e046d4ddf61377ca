package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"finvue/internal/auth"
	"finvue/internal/core"
	"finvue/internal/log"

	"github.com/shopspring/decimal"
)

const maxBodyBytes = 1 << 20

var errEmptyBody = errors.New("empty request body")

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	// The status line is already sent, so an encode error cannot be reported.
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeFieldError(w, r, status, message, "")
}

func writeFieldError(w http.ResponseWriter, r *http.Request, status int, message, field string) {
	if status >= 500 {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			log.FieldStatusCode, status, log.FieldPath, r.URL.Path, "message", message)
	}
	writeJSON(w, status, ErrorResponse{Error: message, Field: field})
}

// writeAuthError maps auth failures to a status and a pt-BR message.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	fe := auth.Translate(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		status = http.StatusUnauthorized
	case errors.Is(err, auth.ErrEmailNotConfirmed):
		status = http.StatusForbidden
	case errors.Is(err, auth.ErrAlreadyRegistered):
		status = http.StatusConflict
	case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrPasswordMismatch), errors.Is(err, auth.ErrEmptyDisplayName):
		status = http.StatusUnprocessableEntity
	default:
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Auth operation failed", log.FieldError, err)
	}
	writeFieldError(w, r, status, fe.Message, fe.Field)
}

// decodeJSON reads a JSON body of at most maxBodyBytes into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return errEmptyBody
	}
	return json.Unmarshal(body, dst)
}

// parseAmountValue accepts a JSON number or a user-entered string such as
// "1.234,56". Negative numbers are passed through for the mutation to clamp.
func parseAmountValue(raw json.RawMessage) (decimal.Decimal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Zero, core.ErrInvalidAmount
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Zero, core.ErrInvalidAmount
		}
		return core.ParseAmount(s)
	}
	d, err := decimal.NewFromString(string(raw))
	if err != nil {
		return decimal.Zero, core.ErrInvalidAmount
	}
	return d.Round(2), nil
}

// parseMonthParam parses a zero-based month index, using def when v is empty.
func parseMonthParam(v string, def int) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return def, nil
	}
	m, err := strconv.Atoi(v)
	if err != nil {
		return 0, core.ErrInvalidMonth
	}
	return m, core.ValidateMonth(m)
}

// parsePeriodParams resolves a preset key (period=q2) or an explicit
// start/end range. Without either the full year is used.
func parsePeriodParams(r *http.Request) (core.Period, error) {
	q := r.URL.Query()
	if key := strings.TrimSpace(q.Get("period")); key != "" {
		p, ok := core.PeriodByKey(key)
		if !ok {
			return core.Period{}, core.ErrInvalidPeriod
		}
		return p, nil
	}

	start, end := strings.TrimSpace(q.Get("start")), strings.TrimSpace(q.Get("end"))
	if start == "" && end == "" {
		return core.FullYear, nil
	}
	p := core.FullYear
	var err error
	if start != "" {
		if p.Start, err = strconv.Atoi(start); err != nil {
			return core.Period{}, core.ErrInvalidPeriod
		}
	}
	if end != "" {
		if p.End, err = strconv.Atoi(end); err != nil {
			return core.Period{}, core.ErrInvalidPeriod
		}
	}
	return p, p.Validate()
}

// sanitizeInput removes control characters other than tab and newlines and
// trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
