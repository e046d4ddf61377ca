package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// MonthsPerYear is the fixed length of every series in a Record.
const MonthsPerYear = 12

type (
	// Series holds one value per calendar month, index 0 is January.
	Series [MonthsPerYear]decimal.Decimal

	IncomeData struct {
		Fixed       Series `json:"fixed"`
		Extra       Series `json:"extra"`
		Investments Series `json:"investments"`
	}

	ExpenseData struct {
		Fixed            Series `json:"fixed"`
		CreditCard       Series `json:"creditCard"`
		MonthlyPurchases Series `json:"monthlyPurchases"`
		Butcher          Series `json:"butcher"`
		Weekly           Series `json:"weekly"`
		OtherExpenses    Series `json:"otherExpenses"`
	}

	// Record is the Financial Record of one user for one calendar year.
	// It is a plain value: assigning or passing it copies every series.
	Record struct {
		Income   IncomeData  `json:"income"`
		Expenses ExpenseData `json:"expenses"`
	}
)

var (
	ErrInvalidMonth  = errors.New("invalid month")
	ErrInvalidField  = errors.New("invalid field")
	ErrUnknownField  = errors.New("unknown field")
	ErrInvalidPeriod = errors.New("invalid period")
	ErrInvalidAmount = errors.New("invalid amount")
)

var monthNames = [MonthsPerYear]string{
	"Janeiro", "Fevereiro", "Março", "Abril", "Maio", "Junho",
	"Julho", "Agosto", "Setembro", "Outubro", "Novembro", "Dezembro",
}

// MonthName returns the Portuguese month name for a 0-based index.
func MonthName(m int) string {
	if m < 0 || m >= MonthsPerYear {
		return ""
	}
	return monthNames[m]
}

// ShortMonthName returns the three-letter abbreviation ("Jan", "Fev", ...).
func ShortMonthName(m int) string {
	name := MonthName(m)
	if name == "" {
		return ""
	}
	return string([]rune(name)[:3])
}

// ValidateMonth reports ErrInvalidMonth for indices outside 0-11.
func ValidateMonth(m int) error {
	if m < 0 || m >= MonthsPerYear {
		return fmt.Errorf("%w: %d", ErrInvalidMonth, m)
	}
	return nil
}

// Sum returns the total of all twelve months.
func (s Series) Sum() decimal.Decimal {
	return s.SumRange(0, MonthsPerYear-1)
}

// SumRange returns the total over the inclusive range [start, end].
func (s Series) SumRange(start, end int) decimal.Decimal {
	total := decimal.Zero
	for m := start; m <= end; m++ {
		total = total.Add(s[m])
	}
	return total
}

// JSONNumber renders d as a plain JSON number rather than decimal's quoted
// string.
func JSONNumber(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

// MarshalJSON writes the series as an array of plain JSON numbers.
func (s Series) MarshalJSON() ([]byte, error) {
	nums := make([]json.Number, MonthsPerYear)
	for i, v := range s {
		nums[i] = JSONNumber(v)
	}
	return json.Marshal(nums)
}

// UnmarshalJSON accepts arrays of any length and any element type.
// Missing, null and non-numeric entries become zero; extra entries are dropped.
func (s *Series) UnmarshalJSON(data []byte) error {
	*s = Series{}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw []any
	if err := dec.Decode(&raw); err != nil {
		// A scalar or object where an array belongs is coerced like a bad element.
		return nil
	}

	for i := 0; i < len(raw) && i < MonthsPerYear; i++ {
		s[i] = coerceAmount(raw[i])
	}
	return nil
}

func coerceAmount(v any) decimal.Decimal {
	switch t := v.(type) {
	case json.Number:
		if d, err := decimal.NewFromString(t.String()); err == nil {
			return d
		}
	case string:
		if d, err := ParseAmount(t); err == nil {
			return d
		}
	case bool:
		if t {
			return decimal.NewFromInt(1)
		}
	}
	return decimal.Zero
}

// IsZero reports whether every value of the record is zero.
func (r Record) IsZero() bool {
	for _, f := range AllFields() {
		s := r.series(f)
		for _, v := range s {
			if !v.IsZero() {
				return false
			}
		}
	}
	return true
}

// Value returns the stored value of one field for one month.
func (r Record) Value(f Field, month int) (decimal.Decimal, error) {
	if !f.Valid() {
		return decimal.Zero, ErrInvalidField
	}
	if err := ValidateMonth(month); err != nil {
		return decimal.Zero, err
	}
	return r.series(f)[month], nil
}

// Series returns a copy of one field's twelve values.
func (r Record) Series(f Field) (Series, error) {
	if !f.Valid() {
		return Series{}, ErrInvalidField
	}
	return *r.series(f), nil
}

// series returns a pointer into r; callers must own r.
func (r *Record) series(f Field) *Series {
	switch f {
	case IncomeFixed:
		return &r.Income.Fixed
	case IncomeExtra:
		return &r.Income.Extra
	case IncomeInvestments:
		return &r.Income.Investments
	case ExpenseFixed:
		return &r.Expenses.Fixed
	case ExpenseCreditCard:
		return &r.Expenses.CreditCard
	case ExpenseMonthlyPurchases:
		return &r.Expenses.MonthlyPurchases
	case ExpenseButcher:
		return &r.Expenses.Butcher
	case ExpenseWeekly:
		return &r.Expenses.Weekly
	case ExpenseOther:
		return &r.Expenses.OtherExpenses
	}
	return nil
}
