// Package scheduler runs the oracle's background loops: creating
// future events up to a sliding horizon, materializing nonces, and
// signing outcomes for matured events.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cadenabitcoin/dlcoracle/pkg/crypto"
	"github.com/cadenabitcoin/dlcoracle/pkg/digits"
	"github.com/cadenabitcoin/dlcoracle/pkg/event"
	"github.com/cadenabitcoin/dlcoracle/pkg/price"
	"github.com/cadenabitcoin/dlcoracle/pkg/store"
	"github.com/cadenabitcoin/dlcoracle/pkg/util"
)

const (
	// TooOldSec is the maturity cutoff: events older than this are not
	// signed retroactively.
	TooOldSec = 86400
	// maxCreateBatch bounds insertions per loop pass to keep the loop
	// responsive.
	maxCreateBatch = 10
	// nonceFillBatch is how many events get nonces per fill pass.
	nonceFillBatch = 5
	// signingPrefMaxAge is the price freshness requested when signing.
	signingPrefMaxAge = 15 * time.Second

	minSleep = 10 * time.Millisecond
	maxSleep = 60 * time.Second
)

// PriceProvider is the slice of the aggregator the scheduler needs.
type PriceProvider interface {
	GetPriceInfo(symbol string, prefMaxAge time.Duration) price.Info
}

type Scheduler struct {
	store       store.Store
	signer      *crypto.Signer
	prices      PriceProvider
	clock       util.Clock
	log         *zap.SugaredLogger
	evidence    *price.EvidenceLog // optional
	horizonDays int

	mu      sync.Mutex
	started bool
}

func New(st store.Store, signer *crypto.Signer, prices PriceProvider, clock util.Clock, log *zap.SugaredLogger, evidence *price.EvidenceLog, horizonDays int) *Scheduler {
	if log == nil {
		log = util.NopSugar()
	}
	return &Scheduler{
		store:       st,
		signer:      signer,
		prices:      prices,
		clock:       clock,
		log:         log,
		evidence:    evidence,
		horizonDays: horizonDays,
	}
}

// Start launches the outcome loop and the nonce fill loop. Further
// calls are no-ops.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	go s.outcomeLoop(ctx)
	go s.nonceFillLoop(ctx)
}

func (s *Scheduler) outcomeLoop(ctx context.Context) {
	s.log.Infow("outcome_loop_started", "horizon_days", s.horizonDays)
	for {
		if ctx.Err() != nil {
			return
		}
		now := s.clock.Now().Unix()

		n1, nextMature := s.CreatePastOutcomes(now, TooOldSec)
		if n1 > 0 {
			continue
		}
		n2, nextHorizon := s.CreateFutureEvents(now, maxCreateBatch)
		if n2 > 0 {
			continue
		}

		waitFor := nextMature
		if waitFor == 0 || (nextHorizon != 0 && nextHorizon < waitFor) {
			waitFor = nextHorizon
		}
		var sleep time.Duration
		if waitFor == 0 {
			sleep = maxSleep
		} else {
			sleep = time.Duration(waitFor-now)*time.Second/2 - time.Second
			if sleep < minSleep {
				sleep = minSleep
			}
			if sleep > maxSleep {
				sleep = maxSleep
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(sleep):
		}
	}
}

func (s *Scheduler) nonceFillLoop(ctx context.Context) {
	for {
		filled, err := s.FillNonces(nonceFillBatch)
		if err != nil {
			s.log.Infow("nonce_fill_error", "err", err)
		}
		// Busier cadence while a backlog remains.
		sleep := time.Second
		if filled == nonceFillBatch {
			sleep = 100 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(sleep):
		}
	}
}

// CreatePastOutcomes signs every matured event without an outcome,
// skipping those older than tooOld seconds. Returns the number signed
// and the time of the earliest event still without an outcome.
func (s *Scheduler) CreatePastOutcomes(now, tooOld int64) (int, int64) {
	ids, err := s.store.EventsPastWithoutOutcome(now)
	if err != nil {
		s.log.Infow("past_events_query_error", "err", err)
		return 0, 0
	}

	done := 0
	skippedOld := 0
	for _, id := range ids {
		ev, err := s.store.EventByID(id)
		if err != nil {
			s.log.Infow("outcome_event_lookup_error", "event_id", id, "err", err)
			continue
		}
		if ev.EventTime < now-tooOld {
			skippedOld++
			continue
		}
		if err := s.signOutcome(ev, now); err != nil {
			s.log.Infow("outcome_sign_error", "event_id", id, "err", err)
			continue
		}
		done++
	}
	if skippedOld > 0 {
		s.log.Infow("outcome_skipped_too_old", "count", skippedOld)
	}

	// Events past the signing window stay unsigned forever; they must
	// not pull the wake-up time into the past.
	earliest, err := s.store.EarliestTimeWithoutOutcome(now - tooOld)
	if err != nil {
		s.log.Infow("earliest_event_query_error", "err", err)
		earliest = 0
	}
	return done, earliest
}

// signOutcome fixes the signing messages, persists them as pending,
// signs digit by digit and commits the outcome in one transaction. If a
// pending record already exists (crash before commit), its messages are
// replayed verbatim so the pre-committed nonces never sign two
// different messages.
func (s *Scheduler) signOutcome(ev event.Event, now int64) error {
	class, err := s.store.ClassByID(ev.ClassID)
	if err != nil {
		return fmt.Errorf("class %s: %w", ev.ClassID, err)
	}
	nonces, err := s.noncesFor(ev.EventID, class.RangeDigits)
	if err != nil {
		return err
	}

	pending, err := s.store.PendingSign(ev.EventID)
	switch {
	case err == nil:
		s.log.Infow("outcome_replaying_pending", "event_id", ev.EventID, "value", pending.Value)
	case errors.Is(err, store.ErrNotFound):
		info := s.prices.GetPriceInfo(class.Definition, signingPrefMaxAge)
		if info.Error != "" {
			return fmt.Errorf("price for %s: %s", class.Definition, info.Error)
		}
		pending = store.PendingOutcome{
			EventID:     ev.EventID,
			Value:       strconv.FormatFloat(info.Price, 'f', -1, 64),
			CreatedTime: now,
			SourceDesc:  info.Source,
		}
		for i, d := range class.Range().ValueToDigits(info.Price) {
			pending.Digits = append(pending.Digits, event.PendingDigit{
				EventID:    ev.EventID,
				DigitIndex: i,
				Digit:      d,
				MsgStr:     digits.Message(ev.StringTemplate, ev.EventID, i, d),
			})
		}
		if err := s.store.PutPendingSign(pending); err != nil {
			return fmt.Errorf("persist pending sign: %w", err)
		}
		if s.evidence != nil {
			// Best effort; the outcome does not depend on it.
			if err := s.evidence.Record(ev.EventID, info); err != nil {
				s.log.Infow("evidence_record_error", "event_id", ev.EventID, "err", err)
			}
		}
	default:
		return fmt.Errorf("pending sign %s: %w", ev.EventID, err)
	}

	if len(nonces) < len(pending.Digits) {
		return fmt.Errorf("not enough nonces, %d of %d", len(nonces), len(pending.Digits))
	}

	var digitOutcomes []event.DigitOutcome
	for i, pd := range pending.Digits {
		sig, err := s.signer.SignSchnorrWithNonce(pd.MsgStr, nonces[i].Sec, 0)
		if err != nil {
			return fmt.Errorf("sign digit %d: %w", i, err)
		}
		digitOutcomes = append(digitOutcomes, event.DigitOutcome{
			EventID:    ev.EventID,
			DigitIndex: pd.DigitIndex,
			Digit:      pd.Digit,
			Nonce:      nonces[i].Pub,
			Signature:  sig,
			MsgStr:     pd.MsgStr,
		})
	}
	outcome := event.Outcome{
		EventID:     ev.EventID,
		Value:       pending.Value,
		CreatedTime: pending.CreatedTime,
		SourceDesc:  pending.SourceDesc,
	}
	if err := s.store.InsertOutcome(outcome, digitOutcomes); err != nil {
		return fmt.Errorf("commit outcome: %w", err)
	}
	s.log.Infow("outcome_signed",
		"event_id", ev.EventID, "value", outcome.Value, "digits", len(digitOutcomes), "source", outcome.SourceDesc)
	return nil
}

// noncesFor returns the pre-committed nonces for an event, generating
// and persisting them first when absent. The derivation is
// deterministic per (event, digit), and the store enforces uniqueness,
// so a concurrent fill produces identical rows.
func (s *Scheduler) noncesFor(eventID string, rangeDigits int) ([]event.Nonce, error) {
	ns, err := s.store.Nonces(eventID)
	if err != nil {
		return nil, fmt.Errorf("read nonces: %w", err)
	}
	if len(ns) >= rangeDigits {
		return ns[:rangeDigits], nil
	}

	fresh := make([]event.Nonce, 0, rangeDigits)
	for i := 0; i < rangeDigits; i++ {
		sec, pub, err := crypto.DeterministicNonce(eventID, i)
		if err != nil {
			return nil, fmt.Errorf("derive nonce %d: %w", i, err)
		}
		fresh = append(fresh, event.Nonce{EventID: eventID, DigitIndex: i, Pub: pub, Sec: sec})
	}
	if err := s.store.InsertNonces(fresh); err != nil {
		return nil, fmt.Errorf("persist nonces: %w", err)
	}
	ns, err = s.store.Nonces(eventID)
	if err != nil {
		return nil, fmt.Errorf("re-read nonces: %w", err)
	}
	if len(ns) < rangeDigits {
		return nil, fmt.Errorf("nonce fill incomplete, %d of %d", len(ns), rangeDigits)
	}
	return ns[:rangeDigits], nil
}

// CreateFutureEvents inserts events from the start of the signing
// window up to now + horizon for every class, at most maxBatch per
// call. Nonces are filled separately by the nonce fill loop. Returns
// the number inserted and the time at which the next slot crosses into
// the horizon (0 if none ever will).
func (s *Scheduler) CreateFutureEvents(now int64, maxBatch int) (int, int64) {
	horizonSec := int64(s.horizonDays) * 86400
	horizon := now + horizonSec

	classes, err := s.store.AllClasses()
	if err != nil {
		s.log.Infow("classes_query_error", "err", err)
		return 0, 0
	}

	added := 0
	var nextWake int64
	for _, class := range classes {
		// First slot past the horizon determines when to wake for more.
		if t := class.NextEventTime(horizon + 1); t != 0 {
			wake := t - horizonSec
			if nextWake == 0 || wake < nextWake {
				nextWake = wake
			}
		}

		// Include slots that matured within the signing window, snapped
		// down to the class grid, so downtime slots still get signed.
		// Resume from the newest slot already stored rather than
		// rescanning the whole window.
		start, _ := class.TimeRange(now-TooOldSec, now)
		if latest, err := s.store.LatestEventTime(class.ID); err == nil && latest+1 > start {
			start = latest + 1
		}
		for t := class.NextEventTime(start); t != 0 && t <= horizon; t = class.NextEventTime(t + 1) {
			if added >= maxBatch {
				return added, nextWake
			}
			ok, err := s.store.InsertEventIfMissing(class.EventAt(t), class.SignerPublicKey)
			if err != nil {
				s.log.Infow("event_insert_error", "class_id", class.ID, "time", t, "err", err)
				continue
			}
			if ok {
				added++
			}
		}
	}
	if added > 0 {
		s.log.Infow("future_events_created", "count", added, "horizon", horizon)
	}
	return added, nextWake
}

// FillNonces materializes nonces for up to batch events that have none.
func (s *Scheduler) FillNonces(batch int) (int, error) {
	ids, err := s.store.EventsWithoutNonces(batch)
	if err != nil {
		return 0, fmt.Errorf("query events without nonces: %w", err)
	}
	filled := 0
	for _, id := range ids {
		ev, err := s.store.EventByID(id)
		if err != nil {
			return filled, fmt.Errorf("event %s: %w", id, err)
		}
		class, err := s.store.ClassByID(ev.ClassID)
		if err != nil {
			return filled, fmt.Errorf("class %s: %w", ev.ClassID, err)
		}
		if _, err := s.noncesFor(id, class.RangeDigits); err != nil {
			return filled, err
		}
		filled++
	}
	return filled, nil
}
