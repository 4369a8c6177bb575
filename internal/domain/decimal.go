package domain

import (
	"math"
	"strconv"
	"strings"
)

// Unknown is the sentinel rendered for values that could not be parsed.
const Unknown = "unknown"

// Decimal is a nullable floating point value. The zero value is unknown.
type Decimal struct {
	Value float64
	Valid bool
}

// Known wraps a parsed value.
func Known(v float64) Decimal {
	return Decimal{Value: v, Valid: true}
}

// ParseDecimal parses a number written with either a comma or a dot as the
// decimal separator ("12,5" and "12.5" both give 12.5). Empty, malformed or
// non-finite input ("NaN", "Inf") yields an unknown Decimal rather than an error.
func ParseDecimal(s string) Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return Decimal{}
	}
	v, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return Decimal{}
	}
	return Known(v)
}

func (d Decimal) String() string {
	if !d.Valid {
		return Unknown
	}
	return strconv.FormatFloat(d.Value, 'f', -1, 64)
}
