package core

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// ReportRow is one month of an annual report.
type ReportRow struct {
	Month      string          `json:"month" yaml:"month"`
	Gross      decimal.Decimal `json:"gross" yaml:"gross"`
	NetIncome  decimal.Decimal `json:"netIncome" yaml:"net_income"`
	Invested   decimal.Decimal `json:"invested" yaml:"invested"`
	Expense    decimal.Decimal `json:"expense" yaml:"expense"`
	Balance    decimal.Decimal `json:"balance" yaml:"balance"`
	Cumulative decimal.Decimal `json:"cumulative" yaml:"cumulative"`
}

func (r ReportRow) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Month      string      `json:"month"`
		Gross      json.Number `json:"gross"`
		NetIncome  json.Number `json:"netIncome"`
		Invested   json.Number `json:"invested"`
		Expense    json.Number `json:"expense"`
		Balance    json.Number `json:"balance"`
		Cumulative json.Number `json:"cumulative"`
	}{r.Month, JSONNumber(r.Gross), JSONNumber(r.NetIncome), JSONNumber(r.Invested),
		JSONNumber(r.Expense), JSONNumber(r.Balance), JSONNumber(r.Cumulative)})
}

// Report is the annual view of a Record, used by exports and the CLI.
type Report struct {
	UserID      string      `json:"userId" yaml:"user_id"`
	Year        int         `json:"year" yaml:"year"`
	Rows        []ReportRow `json:"rows" yaml:"rows"`
	Annual      Totals      `json:"annual" yaml:"annual"`
	SavingsRate int64       `json:"savingsRate" yaml:"savings_rate"`
}

// BuildReport summarises a full year of r.
func BuildReport(userID string, year int, r Record) Report {
	// Month 11 and FullYear are always valid.
	agg, _ := Aggregate(r, MonthsPerYear-1, FullYear)

	rows := make([]ReportRow, 0, MonthsPerYear)
	for m, res := range agg.Months {
		rows = append(rows, ReportRow{
			Month:      res.Name,
			Gross:      res.Gross,
			NetIncome:  res.NetIncome,
			Invested:   res.Invested,
			Expense:    res.Expense,
			Balance:    res.Balance,
			Cumulative: agg.Cumulative[m],
		})
	}

	return Report{
		UserID:      userID,
		Year:        year,
		Rows:        rows,
		Annual:      agg.Annual,
		SavingsRate: agg.SavingsRate,
	}
}
