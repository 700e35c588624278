package oracle

import (
	"time"

	"github.com/cadenabitcoin/dlcoracle/pkg/event"
)

// Info identifies the oracle to its clients.
type Info struct {
	MainPublicKey string   `json:"main_public_key"`
	PublicKeys    []string `json:"public_keys"`
	HorizonDays   int      `json:"horizon_days"`
}

type Status struct {
	FutureEventCount int     `json:"future_event_count"`
	TotalEventCount  int     `json:"total_event_count"`
	CurrentTimeUTC   float64 `json:"current_time_utc"`
}

// ClassDesc is the range and signing description shared by all events
// of a class.
type ClassDesc struct {
	Definition        string  `json:"definition"`
	EventType         string  `json:"event_type"`
	RangeDigits       int     `json:"range_digits"`
	RangeDigitLowPos  int     `json:"range_digit_low_pos"`
	RangeDigitHighPos int     `json:"range_digit_high_pos"`
	RangeUnit         int64   `json:"range_unit"`
	RangeMinValue     float64 `json:"range_min_value"`
	RangeMaxValue     float64 `json:"range_max_value"`
	SignerPublicKey   string  `json:"signer_public_key"`
}

type ClassInfo struct {
	ClassID         string    `json:"class_id"`
	Desc            ClassDesc `json:"desc"`
	RepeatFirstTime int64     `json:"repeat_first_time"`
	RepeatPeriod    int64     `json:"repeat_period"`
	RepeatOffset    int64     `json:"repeat_offset"`
	RepeatLastTime  int64     `json:"repeat_last_time"`
}

type DigitInfo struct {
	Index     int    `json:"index"`
	Value     int    `json:"value"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
	MsgStr    string `json:"msg_str"`
}

// EventInfo is the full client view of one event, with the class range
// denormalized in and the outcome fields present only once signed.
type EventInfo struct {
	EventID           string      `json:"event_id"`
	TimeUTC           int64       `json:"time_utc"`
	TimeUTCNice       string      `json:"time_utc_nice"`
	Definition        string      `json:"definition"`
	EventType         string      `json:"event_type"`
	RangeDigits       int         `json:"range_digits"`
	RangeDigitLowPos  int         `json:"range_digit_low_pos"`
	RangeDigitHighPos int         `json:"range_digit_high_pos"`
	RangeUnit         int64       `json:"range_unit"`
	RangeMinValue     float64     `json:"range_min_value"`
	RangeMaxValue     float64     `json:"range_max_value"`
	EventClass        string      `json:"event_class"`
	SignerPublicKey   string      `json:"signer_public_key"`
	StringTemplate    string      `json:"string_template"`
	HasOutcome        bool        `json:"has_outcome"`
	Nonces            []string    `json:"nonces"`
	OutcomeValue      string      `json:"outcome_value,omitempty"`
	OutcomeTime       int64       `json:"outcome_time,omitempty"`
	Digits            []DigitInfo `json:"digits,omitempty"`
}

const eventTypeNumeric = "numeric"

// niceTimeLayout renders e.g. "2025-11-12 18:00:00+00:00".
const niceTimeLayout = "2006-01-02 15:04:05-07:00"

func classInfo(c event.Class) ClassInfo {
	r := c.Range()
	return ClassInfo{
		ClassID: c.ID,
		Desc: ClassDesc{
			Definition:        c.Definition,
			EventType:         eventTypeNumeric,
			RangeDigits:       c.RangeDigits,
			RangeDigitLowPos:  c.RangeLowPos,
			RangeDigitHighPos: r.HighPos(),
			RangeUnit:         r.Unit(),
			RangeMinValue:     r.MinValue(),
			RangeMaxValue:     r.MaxValue(),
			SignerPublicKey:   c.SignerPublicKey,
		},
		RepeatFirstTime: c.FirstEventTime,
		RepeatPeriod:    c.PeriodSec,
		RepeatOffset:    c.OffsetSec,
		RepeatLastTime:  c.LastEventTime,
	}
}

func niceTime(t int64) string {
	return time.Unix(t, 0).UTC().Format(niceTimeLayout)
}
