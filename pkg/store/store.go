// Package store persists event classes, events, nonces and signed
// outcomes. The canonical implementation is SQLite backed; Memory is an
// in-memory double with identical semantics.
package store

import (
	"errors"

	"github.com/cadenabitcoin/dlcoracle/pkg/event"
)

// ErrNotFound is returned by lookups when no row matches.
var ErrNotFound = errors.New("store: not found")

// ErrDowngrade means the database was written by a newer build.
var ErrDowngrade = errors.New("store: database schema newer than supported")

// PendingOutcome is an outcome whose signing messages are fixed but
// whose signed rows have not committed yet. It survives restarts so the
// exact same messages get signed after a crash mid-signing.
type PendingOutcome struct {
	EventID     string
	Value       string
	CreatedTime int64
	SourceDesc  string
	Digits      []event.PendingDigit
}

// Stats is a row-count snapshot of the storage.
type Stats struct {
	Classes       int
	PubKeys       int
	Events        int
	Nonces        int
	DigitOutcomes int
	Outcomes      int
	PendingSigns  int
}

type Store interface {
	// Classes.
	InsertClassIfMissing(c event.Class) (bool, error)
	ClassByID(id string) (event.Class, error)
	LatestClassByDef(definition string) (event.Class, error)
	ClassesByDef(definition string) ([]event.Class, error)
	AllClasses() ([]event.Class, error)

	// Events. Signer public keys are interned, events reference them.
	InsertEventIfMissing(e event.Event, signerPubKey string) (bool, error)
	AppendEventsIfMissing(evs []event.Event, signerPubKey string) (int, error)
	EventByID(eventID string) (event.Event, error)
	EventsPastWithoutOutcome(now int64) ([]string, error)
	// EarliestTimeWithoutOutcome ignores events before cutoff, so slots
	// past the signing window never drive the wake-up time.
	EarliestTimeWithoutOutcome(cutoff int64) (int64, error)
	// LatestEventTime is the newest slot already present for a class,
	// 0 when the class has no events yet.
	LatestEventTime(classID string) (int64, error)
	CountFutureEvents(now int64) (int, error)
	CountEvents() (int, error)
	// FilterEventIDs returns ids ordered by time. Zero start/end and an
	// empty definition mean "no bound"; zero limit means unlimited.
	FilterEventIDs(start, end int64, definition string, limit int) ([]string, error)
	EventsWithoutNonces(limit int) ([]string, error)

	// Nonces, ordered by digit index. Inserts are idempotent per
	// (event, digit).
	InsertNonces(ns []event.Nonce) error
	Nonces(eventID string) ([]event.Nonce, error)

	// Outcomes. InsertOutcome commits the outcome, its digit rows and
	// the removal of any pending-sign rows in one transaction.
	Outcome(eventID string) (event.Outcome, error)
	DigitOutcomes(eventID string) ([]event.DigitOutcome, error)
	OutcomeExists(eventID string) (bool, error)
	InsertOutcome(o event.Outcome, ds []event.DigitOutcome) error

	// Pending signs.
	PutPendingSign(p PendingOutcome) error
	PendingSign(eventID string) (PendingOutcome, error)

	Stats() (Stats, error)
	Close() error
}
