// Package core provides money parsing and handling utilities.
//
// This file contains the functions that turn user-entered amounts into
// decimals and format decimals back for Brazilian readers.
package core

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	half     = decimal.NewFromFloat(0.5)
	hundred  = decimal.NewFromInt(100)
	brazilPr = message.NewPrinter(language.BrazilianPortuguese)
)

// ParseAmount converts a user-entered amount to a decimal rounded to cents.
//
// Both dot (12.34) and comma (12,34) decimal separators are accepted. When both
// appear, the last one is the decimal separator and the other groups thousands,
// so "1.234,56" and "1,234.56" parse to the same value. Several dots with no
// comma ("1.234.567") are read as thousands groups, and so is a single dot
// followed by exactly three digits after a pt-BR leading group ("1.234" or
// "12.500"). Signs are rejected; zero is a valid amount.
//
// Examples:
//
//	ParseAmount("12.34")    -> 12.34, nil
//	ParseAmount("1.234")    -> 1234, nil
//	ParseAmount("1.234,56") -> 1234.56, nil
//	ParseAmount("0.125")    -> 0.13, nil (half-up)
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "R$")
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '.' && r != ',' {
			return decimal.Zero, ErrInvalidAmount
		}
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			return decimal.Zero, ErrInvalidAmount
		}
		s = strings.Replace(s, ",", ".", 1)
	case strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	case lastDot >= 0 && isThousandsGroup(s[:lastDot], s[lastDot+1:]):
		s = s[:lastDot] + s[lastDot+1:]
	}
	if strings.Count(s, ".") > 1 || s == "." {
		return decimal.Zero, ErrInvalidAmount
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d.Round(2), nil
}

// isThousandsGroup reports whether head.tail reads as "1.234" in pt-BR: a
// leading group of one to three digits without a leading zero, then three digits.
func isThousandsGroup(head, tail string) bool {
	return len(tail) == 3 && len(head) >= 1 && len(head) <= 3 && head[0] != '0'
}

// RoundHalfUp rounds to the nearest integer, ties toward positive infinity.
func RoundHalfUp(d decimal.Decimal) int64 {
	return d.Add(half).Floor().IntPart()
}

// FormatBRL renders an amount as Brazilian currency, e.g. "R$ 1.234,50".
func FormatBRL(d decimal.Decimal) string {
	return brazilPr.Sprintf("R$ %.2f", d.InexactFloat64())
}
