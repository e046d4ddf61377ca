package core

import "github.com/shopspring/decimal"

// SetMonthValue returns a copy of r with one month of one series replaced.
// Negative values are clamped to zero. r itself is never modified.
func SetMonthValue(r Record, f Field, month int, value decimal.Decimal) (Record, error) {
	if !f.Valid() {
		return r, ErrInvalidField
	}
	if err := ValidateMonth(month); err != nil {
		return r, err
	}
	if value.IsNegative() {
		value = decimal.Zero
	}

	next := r
	next.series(f)[month] = value
	return next, nil
}
