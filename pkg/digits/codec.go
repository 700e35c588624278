// Package digits encodes bounded non-negative values as fixed-width
// base-10 digit vectors and composes the per-digit signing messages.
package digits

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Placeholders recognized in event string templates.
const (
	PlaceholderEventID      = "{event_id}"
	PlaceholderDigitIndex   = "{digit_index}"
	PlaceholderDigitOutcome = "{digit_outcome}"
)

// PowerOfTen returns 10^exp. Negative exponents are invalid.
func PowerOfTen(exp int) int64 {
	if exp < 0 {
		panic(fmt.Sprintf("invalid negative power of 10 %d", exp))
	}
	p := int64(1)
	for i := 0; i < exp; i++ {
		p *= 10
	}
	return p
}

// Range describes the numeric range an event can attest to: Digits
// base-10 digits, with the lowest digit worth 10^LowPos.
type Range struct {
	Digits int
	LowPos int
}

// Unit is the value of the lowest digit (1, 10, 100, ...).
func (r Range) Unit() int64 { return PowerOfTen(r.LowPos) }

// HighPos is the position of the highest digit.
// E.g. low=0, digits=6 => high=5.
func (r Range) HighPos() int { return r.LowPos + r.Digits - 1 }

func (r Range) MinValue() float64 { return 0 }

func (r Range) MaxValue() float64 {
	maxUnits := PowerOfTen(r.Digits) - 1
	return float64(maxUnits * r.Unit())
}

// ValueToDigits normalizes a value into its digit vector, left to right.
// E.g. 85652 -> [0 8 5 6 5] with 5 digits and unit 10. Out-of-range
// values are silently clamped: below min yields all zeros, above max all
// nines.
func (r Range) ValueToDigits(value float64) []int {
	if value < r.MinValue() {
		value = r.MinValue()
	}
	if value > r.MaxValue() {
		value = r.MaxValue()
	}
	unit := r.Unit()
	if unit == 0 {
		unit = 1
	}
	normalized := int64(math.Round((value - r.MinValue()) / float64(unit)))
	s := strconv.FormatInt(normalized, 10)
	for len(s) < r.Digits {
		s = "0" + s
	}
	ds := make([]int, r.Digits)
	for i := 0; i < r.Digits; i++ {
		ds[i] = int(s[i] - '0')
	}
	return ds
}

// DigitsToValue is the inverse mapping, e.g. [0 8 5 6 5] -> 85650 with
// 5 digits and unit 10.
func (r Range) DigitsToValue(ds []int) float64 {
	v := int64(0)
	for i := 0; i < r.Digits && i < len(ds); i++ {
		v = 10*v + int64(ds[i])
	}
	return float64(v*r.Unit()) + r.MinValue()
}

// TemplateForEvent substitutes the event id into a class template.
func TemplateForEvent(template, eventID string) string {
	return strings.ReplaceAll(template, PlaceholderEventID, eventID)
}

// Message composes the exact string that is signed for one digit of an
// event outcome. The event id is substituted first in case the template
// still carries its placeholder.
func Message(template, eventID string, digitIndex, digitOutcome int) string {
	s := TemplateForEvent(template, eventID)
	s = strings.ReplaceAll(s, PlaceholderDigitIndex, strconv.Itoa(digitIndex))
	s = strings.ReplaceAll(s, PlaceholderDigitOutcome, strconv.Itoa(digitOutcome))
	return s
}
