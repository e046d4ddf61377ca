package core

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// MonthResult holds the derived figures of one month.
type MonthResult struct {
	Month     int             `json:"month"`
	Name      string          `json:"name"`
	ShortName string          `json:"shortName"`
	Gross     decimal.Decimal `json:"gross"`
	NetIncome decimal.Decimal `json:"netIncome"`
	Invested  decimal.Decimal `json:"invested"`
	Expense   decimal.Decimal `json:"expense"`
	Balance   decimal.Decimal `json:"balance"`
}

func (m MonthResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Month     int         `json:"month"`
		Name      string      `json:"name"`
		ShortName string      `json:"shortName"`
		Gross     json.Number `json:"gross"`
		NetIncome json.Number `json:"netIncome"`
		Invested  json.Number `json:"invested"`
		Expense   json.Number `json:"expense"`
		Balance   json.Number `json:"balance"`
	}{m.Month, m.Name, m.ShortName,
		JSONNumber(m.Gross), JSONNumber(m.NetIncome), JSONNumber(m.Invested),
		JSONNumber(m.Expense), JSONNumber(m.Balance)})
}

// Totals sums MonthResult figures over a range of months.
type Totals struct {
	Gross     decimal.Decimal `json:"gross" yaml:"gross"`
	NetIncome decimal.Decimal `json:"netIncome" yaml:"net_income"`
	Invested  decimal.Decimal `json:"invested" yaml:"invested"`
	Expense   decimal.Decimal `json:"expense" yaml:"expense"`
	Balance   decimal.Decimal `json:"balance" yaml:"balance"`
}

func (t Totals) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Gross     json.Number `json:"gross"`
		NetIncome json.Number `json:"netIncome"`
		Invested  json.Number `json:"invested"`
		Expense   json.Number `json:"expense"`
		Balance   json.Number `json:"balance"`
	}{JSONNumber(t.Gross), JSONNumber(t.NetIncome), JSONNumber(t.Invested),
		JSONNumber(t.Expense), JSONNumber(t.Balance)})
}

// Aggregates is the read-only summary derived from a Record.
type Aggregates struct {
	CurrentMonth       int                        `json:"currentMonth"`
	Period             Period                     `json:"period"`
	Months             [MonthsPerYear]MonthResult `json:"months"`
	Cumulative         Series                     `json:"cumulative"`
	CumulativeInvested Series                     `json:"cumulativeInvested"`
	YTD                Totals                     `json:"ytd"`
	Annual             Totals                     `json:"annual"`
	PeriodTotals       Totals                     `json:"periodTotals"`
	PeriodMonths       []MonthResult              `json:"periodMonths"`
	SavingsRate        int64                      `json:"savingsRate"`
}

// Aggregate derives monthly, cumulative, year-to-date, annual and period
// figures from r. It has no side effects.
func Aggregate(r Record, currentMonth int, p Period) (Aggregates, error) {
	if err := ValidateMonth(currentMonth); err != nil {
		return Aggregates{}, err
	}
	if err := p.Validate(); err != nil {
		return Aggregates{}, err
	}

	agg := Aggregates{CurrentMonth: currentMonth, Period: p}
	running := decimal.Zero
	runningInvested := decimal.Zero

	for m := 0; m < MonthsPerYear; m++ {
		res := monthResult(r, m)
		agg.Months[m] = res

		running = running.Add(res.Balance)
		runningInvested = runningInvested.Add(res.Invested)
		agg.Cumulative[m] = running
		agg.CumulativeInvested[m] = runningInvested

		agg.Annual = agg.Annual.add(res)
		if m <= currentMonth {
			agg.YTD = agg.YTD.add(res)
		}
		if p.Contains(m) {
			agg.PeriodTotals = agg.PeriodTotals.add(res)
			agg.PeriodMonths = append(agg.PeriodMonths, res)
		}
	}

	agg.SavingsRate = SavingsRate(agg.PeriodTotals)
	return agg, nil
}

// SavingsRate returns the balance as a whole percentage of net income.
// It is 0 whenever gross or net income is not positive.
func SavingsRate(t Totals) int64 {
	if !t.Gross.IsPositive() || !t.NetIncome.IsPositive() {
		return 0
	}
	return RoundHalfUp(t.Balance.Mul(hundred).Div(t.NetIncome))
}

func monthResult(r Record, m int) MonthResult {
	gross := r.Income.Fixed[m].Add(r.Income.Extra[m])
	invested := r.Income.Investments[m]
	net := gross.Sub(invested)

	expense := decimal.Zero
	for _, f := range expenseFields {
		expense = expense.Add(r.series(f)[m])
	}

	return MonthResult{
		Month:     m,
		Name:      MonthName(m),
		ShortName: ShortMonthName(m),
		Gross:     gross,
		NetIncome: net,
		Invested:  invested,
		Expense:   expense,
		Balance:   net.Sub(expense),
	}
}

func (t Totals) add(m MonthResult) Totals {
	return Totals{
		Gross:     t.Gross.Add(m.Gross),
		NetIncome: t.NetIncome.Add(m.NetIncome),
		Invested:  t.Invested.Add(m.Invested),
		Expense:   t.Expense.Add(m.Expense),
		Balance:   t.Balance.Add(m.Balance),
	}
}
