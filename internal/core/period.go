package core

import "fmt"

// Period is an inclusive range of month indices.
type Period struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// PeriodPreset is a named period offered to users.
type PeriodPreset struct {
	Key    string `json:"key"`
	Label  string `json:"label"`
	Period Period `json:"period"`
}

var presets = []PeriodPreset{
	{Key: "year", Label: "Ano Inteiro", Period: Period{0, 11}},
	{Key: "h1", Label: "1º Semestre", Period: Period{0, 5}},
	{Key: "h2", Label: "2º Semestre", Period: Period{6, 11}},
	{Key: "q1", Label: "1º Trimestre", Period: Period{0, 2}},
	{Key: "q2", Label: "2º Trimestre", Period: Period{3, 5}},
	{Key: "q3", Label: "3º Trimestre", Period: Period{6, 8}},
	{Key: "q4", Label: "4º Trimestre", Period: Period{9, 11}},
}

// FullYear covers January through December.
var FullYear = Period{Start: 0, End: MonthsPerYear - 1}

// Presets returns the named periods in display order.
func Presets() []PeriodPreset {
	return append([]PeriodPreset(nil), presets...)
}

// PeriodByKey resolves a preset key such as "q2".
func PeriodByKey(key string) (Period, bool) {
	for _, p := range presets {
		if p.Key == key {
			return p.Period, true
		}
	}
	return Period{}, false
}

func (p Period) Validate() error {
	if p.Start < 0 || p.End >= MonthsPerYear || p.Start > p.End {
		return fmt.Errorf("%w: [%d, %d]", ErrInvalidPeriod, p.Start, p.End)
	}
	return nil
}

// Contains reports whether month m falls inside the period.
func (p Period) Contains(m int) bool {
	return m >= p.Start && m <= p.End
}

// Months returns the number of months covered.
func (p Period) Months() int {
	return p.End - p.Start + 1
}
