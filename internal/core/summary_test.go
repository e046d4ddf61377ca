package core

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func fill(v int64) Series {
	var s Series
	for i := range s {
		s[i] = dec(v)
	}
	return s
}

// sampleRecord earns 5000 fixed, invests 500 and spends 3000 every month.
func sampleRecord() Record {
	var r Record
	r.Income.Fixed = fill(5000)
	r.Income.Investments = fill(500)
	r.Expenses.Fixed = fill(1500)
	r.Expenses.CreditCard = fill(200)
	r.Expenses.MonthlyPurchases = fill(600)
	r.Expenses.Butcher = fill(100)
	r.Expenses.Weekly = fill(400)
	r.Expenses.OtherExpenses = fill(200)
	return r
}

func TestAggregateJanuaryExample(t *testing.T) {
	agg, err := Aggregate(sampleRecord(), 0, FullYear)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	jan := agg.Months[0]
	if !jan.NetIncome.Equal(dec(4500)) || !jan.Expense.Equal(dec(3000)) || !jan.Balance.Equal(dec(1500)) {
		t.Fatalf("january = %+v", jan)
	}
	if !agg.Cumulative[0].Equal(dec(1500)) {
		t.Fatalf("cumulative after january = %s", agg.Cumulative[0])
	}
	if jan.Name != "Janeiro" || jan.ShortName != "Jan" {
		t.Fatalf("names = %q %q", jan.Name, jan.ShortName)
	}
}

func TestAggregateMonthlyBalanceFormula(t *testing.T) {
	r := sampleRecord()
	r.Income.Extra[4] = dec(750)
	r.Expenses.Butcher[4] = dec(333)
	agg, err := Aggregate(r, 4, FullYear)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	for m := 0; m < MonthsPerYear; m++ {
		want := r.Income.Fixed[m].Add(r.Income.Extra[m]).Sub(r.Income.Investments[m])
		for _, f := range ExpenseFields() {
			v, _ := r.Value(f, m)
			want = want.Sub(v)
		}
		if !agg.Months[m].Balance.Equal(want) {
			t.Fatalf("month %d balance = %s, want %s", m, agg.Months[m].Balance, want)
		}
	}
}

func TestAggregateCumulativeEndsAtAnnualBalance(t *testing.T) {
	r := sampleRecord()
	r.Expenses.OtherExpenses[7] = dec(9000)
	agg, err := Aggregate(r, 11, FullYear)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	sum := decimal.Zero
	for m := 0; m < MonthsPerYear; m++ {
		sum = sum.Add(agg.Months[m].Balance)
		if !agg.Cumulative[m].Equal(sum) {
			t.Fatalf("cumulative[%d] = %s, want %s", m, agg.Cumulative[m], sum)
		}
	}
	if !agg.Cumulative[11].Equal(agg.Annual.Balance) {
		t.Fatalf("cumulative[11] = %s, annual = %s", agg.Cumulative[11], agg.Annual.Balance)
	}
	if !agg.Annual.Gross.Equal(dec(60000)) {
		t.Fatalf("annual gross = %s", agg.Annual.Gross)
	}
	if !agg.Annual.Expense.Equal(dec(36000 + 9000 - 200)) {
		t.Fatalf("annual expense = %s", agg.Annual.Expense)
	}
}

func TestAggregateFullYearPeriodEqualsAnnual(t *testing.T) {
	r := sampleRecord()
	r.Income.Extra[10] = dec(1234)
	agg, err := Aggregate(r, 3, FullYear)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if !reflect.DeepEqual(agg.PeriodTotals, agg.Annual) {
		t.Fatalf("period %+v != annual %+v", agg.PeriodTotals, agg.Annual)
	}
	if len(agg.PeriodMonths) != MonthsPerYear {
		t.Fatalf("period months = %d", len(agg.PeriodMonths))
	}
}

func TestAggregatePeriodAndYTD(t *testing.T) {
	q2, _ := PeriodByKey("q2")
	agg, err := Aggregate(sampleRecord(), 1, q2)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if !agg.PeriodTotals.Gross.Equal(dec(15000)) || !agg.PeriodTotals.Balance.Equal(dec(4500)) {
		t.Fatalf("q2 totals = %+v", agg.PeriodTotals)
	}
	if !agg.PeriodTotals.Invested.Equal(dec(1500)) {
		t.Fatalf("q2 invested = %s", agg.PeriodTotals.Invested)
	}
	if agg.PeriodMonths[0].Name != "Abril" || len(agg.PeriodMonths) != 3 {
		t.Fatalf("q2 months = %+v", agg.PeriodMonths)
	}
	if !agg.YTD.Balance.Equal(dec(3000)) {
		t.Fatalf("ytd balance = %s", agg.YTD.Balance)
	}
	if !agg.CumulativeInvested[1].Equal(dec(1000)) {
		t.Fatalf("cumulative invested = %s", agg.CumulativeInvested[1])
	}
}

func TestSavingsRate(t *testing.T) {
	cases := []struct {
		name string
		t    Totals
		want int64
	}{
		{"regular", Totals{Gross: dec(5000), NetIncome: dec(4500), Balance: dec(1500)}, 33},
		{"rounds half up", Totals{Gross: dec(200), NetIncome: dec(200), Balance: dec(1)}, 1},
		{"negative balance", Totals{Gross: dec(1000), NetIncome: dec(1000), Balance: dec(-500)}, -50},
		{"zero gross", Totals{}, 0},
		{"zero net with positive gross", Totals{Gross: dec(500), NetIncome: dec(0), Balance: dec(-100)}, 0},
		{"negative net with positive gross", Totals{Gross: dec(500), NetIncome: dec(-100), Balance: dec(-300)}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SavingsRate(tc.t); got != tc.want {
				t.Fatalf("SavingsRate = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestAggregateZeroMonth(t *testing.T) {
	r := sampleRecord()
	for _, f := range AllFields() {
		r, _ = SetMonthValue(r, f, 5, decimal.Zero)
	}
	agg, err := Aggregate(r, 11, FullYear)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	june := agg.Months[5]
	if !june.Gross.IsZero() || !june.Expense.IsZero() || !june.Balance.IsZero() {
		t.Fatalf("june = %+v", june)
	}
	if !agg.Cumulative[5].Equal(agg.Cumulative[4]) {
		t.Fatalf("zero month changed cumulative: %s -> %s", agg.Cumulative[4], agg.Cumulative[5])
	}
}

func TestAggregateIsDeterministic(t *testing.T) {
	r := sampleRecord()
	p := Period{Start: 2, End: 7}
	a, err := Aggregate(r, 6, p)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	b, _ := Aggregate(r, 6, p)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("two calls with identical inputs differ")
	}
}

func TestAggregateRejectsInvalidInput(t *testing.T) {
	if _, err := Aggregate(Record{}, 12, FullYear); err == nil {
		t.Fatal("expected month error")
	}
	for _, p := range []Period{{-1, 3}, {5, 4}, {0, 12}} {
		if _, err := Aggregate(Record{}, 0, p); err == nil {
			t.Fatalf("expected period error for %+v", p)
		}
	}
}

func TestBuildReport(t *testing.T) {
	rep := BuildReport("user-1", 2026, sampleRecord())
	if len(rep.Rows) != MonthsPerYear {
		t.Fatalf("rows = %d", len(rep.Rows))
	}
	if rep.Rows[11].Month != "Dezembro" || !rep.Rows[11].Cumulative.Equal(dec(18000)) {
		t.Fatalf("december row = %+v", rep.Rows[11])
	}
	if rep.SavingsRate != 33 {
		t.Fatalf("savings rate = %d", rep.SavingsRate)
	}
}

func TestAggregatesEncodeAmountsAsNumbers(t *testing.T) {
	if decimal.MarshalJSONWithoutQuotes {
		t.Fatal("decimal.MarshalJSONWithoutQuotes must stay at its default")
	}
	agg, err := Aggregate(sampleRecord(), 0, FullYear)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	for name, v := range map[string]any{
		"aggregates": agg,
		"report":     BuildReport("u1", 2026, sampleRecord()),
	} {
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("%s: marshal: %v", name, err)
		}
		if strings.Contains(string(raw), `"balance":"`) {
			t.Fatalf("%s: amounts encoded as strings: %s", name, raw)
		}
		if !strings.Contains(string(raw), `"balance":1500`) {
			t.Fatalf("%s: missing numeric balance: %s", name, raw)
		}
	}

	raw, err := json.Marshal(agg.Annual)
	if err != nil {
		t.Fatalf("marshal totals: %v", err)
	}
	var back Totals
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal totals: %v", err)
	}
	if !back.Balance.Equal(dec(18000)) {
		t.Fatalf("balance = %s, want 18000", back.Balance)
	}
}
