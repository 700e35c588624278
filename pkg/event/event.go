// Package event holds the core attestation types and the schedule math
// for recurring numeric events.
package event

import (
	"strconv"
	"strings"

	"github.com/cadenabitcoin/dlcoracle/pkg/digits"
)

// DefaultTemplate is the signing-message template assigned to classes
// created without an explicit one.
const DefaultTemplate = "Outcome:" + digits.PlaceholderEventID + ":" +
	digits.PlaceholderDigitIndex + ":" + digits.PlaceholderDigitOutcome

// Class defines a family of recurring events: what is measured, when
// slots occur and the digit range of the attested value.
type Class struct {
	ID              string // e.g. "btcusd"
	CreateTime      int64
	Definition      string // e.g. "BTCUSD"
	RangeDigits     int
	RangeLowPos     int
	StringTemplate  string
	FirstEventTime  int64 // unix seconds of the first slot
	PeriodSec       int64
	OffsetSec       int64 // FirstEventTime % PeriodSec, cached
	LastEventTime   int64 // unix seconds of the last slot, inclusive
	SignerPublicKey string
}

// NewClass builds a class, deriving the slot offset and filling in the
// default template when none is given.
func NewClass(id string, createTime int64, definition string, rangeDigits, rangeLowPos int, first, period, last int64, signerPublicKey string) Class {
	return Class{
		ID:              id,
		CreateTime:      createTime,
		Definition:      strings.ToUpper(definition),
		RangeDigits:     rangeDigits,
		RangeLowPos:     rangeLowPos,
		StringTemplate:  DefaultTemplate,
		FirstEventTime:  first,
		PeriodSec:       period,
		OffsetSec:       mod(first, period),
		LastEventTime:   last,
		SignerPublicKey: signerPublicKey,
	}
}

// Range returns the digit range of the class.
func (c Class) Range() digits.Range {
	return digits.Range{Digits: c.RangeDigits, LowPos: c.RangeLowPos}
}

// EventID composes the id of the event at time t for a definition,
// e.g. "btceur1748991600".
func EventID(definition string, t int64) string {
	return strings.ToLower(definition) + strconv.FormatInt(t, 10)
}

// NextEventTime returns the earliest slot time >= t, or 0 if no such
// slot exists within [FirstEventTime, LastEventTime].
func (c Class) NextEventTime(t int64) int64 {
	if c.PeriodSec <= 0 || t > c.LastEventTime {
		return 0
	}
	if t < c.FirstEventTime {
		t = c.FirstEventTime
	}
	rem := mod(t-c.OffsetSec, c.PeriodSec)
	next := t
	if rem != 0 {
		next = t + c.PeriodSec - rem
	}
	if next > c.LastEventTime {
		return 0
	}
	return next
}

// EventAt builds the event for a given slot time. The stored template
// already has the event id substituted in.
func (c Class) EventAt(t int64) Event {
	eventID := EventID(c.Definition, t)
	return Event{
		EventID:        eventID,
		ClassID:        c.ID,
		Definition:     c.Definition,
		EventTime:      t,
		StringTemplate: digits.TemplateForEvent(c.StringTemplate, eventID),
	}
}

// SlotTimes enumerates all slot times of the class, first to last.
func (c Class) SlotTimes() []int64 {
	if c.PeriodSec <= 0 {
		return nil
	}
	var ts []int64
	for t := c.FirstEventTime; t <= c.LastEventTime; t += c.PeriodSec {
		ts = append(ts, t)
	}
	return ts
}

// TimeRange snaps [start, end] outward to the class slot grid: start
// rounds down to a slot, end rounds up. Used when enumerating the slots
// a window covers.
func (c Class) TimeRange(start, end int64) (int64, int64) {
	if c.PeriodSec <= 0 {
		return start, end
	}
	s := floorDiv(start-c.OffsetSec, c.PeriodSec)*c.PeriodSec + c.OffsetSec
	e := end
	if rem := mod(end-c.OffsetSec, c.PeriodSec); rem != 0 {
		e = end + c.PeriodSec - rem
	}
	return s, e
}

// Event is one slot of a class with a pre-committed signing key.
type Event struct {
	EventID        string
	ClassID        string
	Definition     string
	EventTime      int64
	StringTemplate string
	PubKey         string // compressed hex public key attesting this event
}

// Nonce is one pre-committed per-digit nonce pair.
type Nonce struct {
	EventID    string
	DigitIndex int
	Pub        string // compressed hex
	Sec        string // 32-byte hex scalar
}

// Outcome is the aggregate attested value of an event.
type Outcome struct {
	EventID     string
	Value       string // decimal string of the attested value
	CreatedTime int64
	SourceDesc  string
}

// DigitOutcome is one signed digit of an outcome.
type DigitOutcome struct {
	EventID    string
	DigitIndex int
	Digit      int
	Nonce      string // pre-committed nonce point, compressed hex
	Signature  string // 64-byte hex Schnorr signature
	MsgStr     string
}

// PendingDigit is a digit whose signing message has been fixed but whose
// outcome row has not yet committed. Replayed after a restart so the
// same messages are signed again.
type PendingDigit struct {
	EventID    string
	DigitIndex int
	Digit      int
	MsgStr     string
}

func mod(a, n int64) int64 {
	if n <= 0 {
		return 0
	}
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}

// floorDiv rounds toward negative infinity, unlike Go's / operator.
func floorDiv(a, n int64) int64 {
	q := a / n
	if (a%n != 0) && ((a < 0) != (n < 0)) {
		q--
	}
	return q
}
