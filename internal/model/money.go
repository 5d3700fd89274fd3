package model

import (
	"math"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

var maxCents = decimal.NewFromInt(math.MaxInt64)

// USD formats a decimal amount as US dollars, e.g. "$1,234.50". Amounts
// whose cents do not fit in an int64 are grouped by hand.
func USD(d decimal.Decimal) string {
	cents := d.Round(2).Shift(2)
	if cents.Abs().LessThanOrEqual(maxCents) {
		return money.New(cents.IntPart(), money.USD).Display()
	}

	s := d.Abs().StringFixed(2)
	whole, frac := s[:len(s)-3], s[len(s)-2:]
	var b strings.Builder
	if d.IsNegative() {
		b.WriteByte('-')
	}
	b.WriteByte('$')
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}
