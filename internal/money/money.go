// Package money does monetary arithmetic in decimal and hands results back as
// float64 values exact to two places.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Places is the number of decimal places kept for every monetary value.
const Places = 2

// Parse reads a decimal amount.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return d, nil
}

// Of converts a stored amount back to decimal.
func Of(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// Float rounds half away from zero to two places and returns a float64.
func Float(d decimal.Decimal) float64 {
	return d.Round(Places).InexactFloat64()
}

// Round2 rounds a float64 to two places through decimal.
func Round2(f float64) float64 {
	return Float(Of(f))
}

// Ratio returns num/den rounded to two places, or nil when den is zero.
func Ratio(num decimal.Decimal, den int64) *float64 {
	if den == 0 {
		return nil
	}
	v := Float(num.Div(decimal.NewFromInt(den)))
	return &v
}

// Sum accumulates stored amounts exactly.
type Sum struct {
	total decimal.Decimal
}

// Add adds one stored amount.
func (s *Sum) Add(f float64) {
	s.total = s.total.Add(Of(f))
}

// Decimal returns the exact total.
func (s Sum) Decimal() decimal.Decimal {
	return s.total
}

// Float returns the rounded total.
func (s Sum) Float() float64 {
	return Float(s.total)
}
