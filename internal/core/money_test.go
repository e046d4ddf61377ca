package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{"1", "1", true},
		{"0", "0", true},
		{"1.23", "1.23", true},
		{"1,23", "1.23", true},
		{"1.234,56", "1234.56", true},
		{"1,234.56", "1234.56", true},
		{"1.234.567", "1234567", true},
		{"1.234", "1234", true},
		{"12.500", "12500", true},
		{"999.999", "999999", true},
		{"0.125", "0.13", true}, // half-up rounding
		{"1234.567", "1234.57", true},
		{"12,345", "12.35", true},
		{"1.2345", "1.23", true},
		{" R$ 2,50 ", "2.5", true},
		{"-1", "", false},
		{"abc", "", false},
		{"1,2,3", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			if err != nil || !got.Equal(decimal.RequireFromString(tc.out)) {
				t.Fatalf("%q expected %s, got %s (err=%v)", tc.in, tc.out, got, err)
			}
		} else if err == nil {
			t.Fatalf("%q expected error", tc.in)
		}
	}
}

func TestRoundHalfUp(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"33.3", 33},
		{"33.5", 34},
		{"-33.5", -33},
		{"-33.6", -34},
		{"0", 0},
	}
	for _, tc := range cases {
		if got := RoundHalfUp(decimal.RequireFromString(tc.in)); got != tc.want {
			t.Fatalf("RoundHalfUp(%s) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestFormatBRL(t *testing.T) {
	got := FormatBRL(decimal.RequireFromString("1234.5"))
	if got != "R$ 1.234,50" {
		t.Fatalf("got %q", got)
	}
}
