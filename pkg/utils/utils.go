// Package utils provides utility functions for the backtesting service.
package utils

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// NormalizeSymbol canonicalizes a ticker symbol: trimmed, uppercased.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ParseDate parses a calendar date in the wire format, in UTC.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// FormatDate renders a calendar date in the wire format.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// DayOf truncates a timestamp to its UTC calendar day.
func DayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of whole days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(DayOf(b).Sub(DayOf(a)).Hours() / 24)
}

// AddDays returns the calendar day n days after t.
func AddDays(t time.Time, n int) time.Time {
	return DayOf(t).AddDate(0, 0, n)
}

// MinDate returns the earlier of two dates.
func MinDate(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}

// PercentChange calculates the percentage change from old to new,
// scaled to 100. The caller must guard against a zero old value.
func PercentChange(old, new decimal.Decimal) decimal.Decimal {
	return new.Sub(old).Div(old).Mul(decimal.NewFromInt(100))
}
