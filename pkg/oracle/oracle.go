// Package oracle is the thin orchestrator behind the HTTP facade: it
// joins store rows into client-facing info shapes and owns the default
// event classes.
package oracle

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/cadenabitcoin/dlcoracle/pkg/event"
	"github.com/cadenabitcoin/dlcoracle/pkg/price"
	"github.com/cadenabitcoin/dlcoracle/pkg/store"
	"github.com/cadenabitcoin/dlcoracle/pkg/util"
)

const (
	// Hard response caps, applied regardless of what the caller asks for.
	maxEventsFilter   = 100
	maxEventIDsFilter = 5000

	// minNextEventPeriod floors the look-ahead of NextEvent so callers
	// always get an event with some time left before maturity.
	minNextEventPeriod = 60
)

// Default classes: ten-minute BTCUSD and twelve-hour BTCEUR slots over
// an 18-month window, 7 whole-unit digits each.
const (
	defaultFirstEventTime = 1704067200 + 17*30*86400
	defaultLastEventTime  = defaultFirstEventTime + 18*30*86400
)

// PriceSource is the slice of the aggregator the oracle exposes.
type PriceSource interface {
	Symbols() []string
	GetPrice(symbol string, prefMaxAge time.Duration) float64
	GetPriceInfo(symbol string, prefMaxAge time.Duration) price.Info
}

type Oracle struct {
	store       store.Store
	mainPubKey  string
	prices      PriceSource
	clock       util.Clock
	log         *zap.SugaredLogger
	horizonDays int
}

func New(st store.Store, mainPubKey string, prices PriceSource, clock util.Clock, log *zap.SugaredLogger, horizonDays int) *Oracle {
	if log == nil {
		log = util.NopSugar()
	}
	return &Oracle{
		store:       st,
		mainPubKey:  mainPubKey,
		prices:      prices,
		clock:       clock,
		log:         log,
		horizonDays: horizonDays,
	}
}

func (o *Oracle) Info() Info {
	return Info{
		MainPublicKey: o.mainPubKey,
		PublicKeys:    []string{o.mainPubKey},
		HorizonDays:   o.horizonDays,
	}
}

func (o *Oracle) Status() (Status, error) {
	now := float64(o.clock.Now().UnixNano()) / 1e9
	future, err := o.store.CountFutureEvents(int64(now))
	if err != nil {
		return Status{}, err
	}
	total, err := o.store.CountEvents()
	if err != nil {
		return Status{}, err
	}
	return Status{
		FutureEventCount: future,
		TotalEventCount:  total,
		CurrentTimeUTC:   math.Round(now*1000) / 1000,
	}, nil
}

func (o *Oracle) EventClasses() ([]ClassInfo, error) {
	classes, err := o.store.AllClasses()
	if err != nil {
		return nil, err
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i].ID < classes[j].ID })
	infos := make([]ClassInfo, 0, len(classes))
	for _, c := range classes {
		infos = append(infos, classInfo(c))
	}
	return infos, nil
}

// EventByID joins an event with its class range, nonces and outcome.
// Returns (nil, nil) when no such event exists.
func (o *Oracle) EventByID(eventID string) (*EventInfo, error) {
	ev, err := o.store.EventByID(eventID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	class, err := o.store.ClassByID(ev.ClassID)
	if err != nil {
		return nil, fmt.Errorf("class %s for event %s: %w", ev.ClassID, eventID, err)
	}
	return o.eventInfo(ev, class)
}

func (o *Oracle) eventInfo(ev event.Event, class event.Class) (*EventInfo, error) {
	nonces, err := o.store.Nonces(ev.EventID)
	if err != nil {
		return nil, err
	}
	noncePubs := make([]string, 0, len(nonces))
	for _, n := range nonces {
		noncePubs = append(noncePubs, n.Pub)
	}

	r := class.Range()
	info := &EventInfo{
		EventID:           ev.EventID,
		TimeUTC:           ev.EventTime,
		TimeUTCNice:       niceTime(ev.EventTime),
		Definition:        ev.Definition,
		EventType:         eventTypeNumeric,
		RangeDigits:       class.RangeDigits,
		RangeDigitLowPos:  class.RangeLowPos,
		RangeDigitHighPos: r.HighPos(),
		RangeUnit:         r.Unit(),
		RangeMinValue:     r.MinValue(),
		RangeMaxValue:     r.MaxValue(),
		EventClass:        ev.ClassID,
		SignerPublicKey:   ev.PubKey,
		StringTemplate:    ev.StringTemplate,
		Nonces:            noncePubs,
	}

	outcome, err := o.store.Outcome(ev.EventID)
	if errors.Is(err, store.ErrNotFound) {
		return info, nil
	}
	if err != nil {
		return nil, err
	}
	ds, err := o.store.DigitOutcomes(ev.EventID)
	if err != nil {
		return nil, err
	}
	info.HasOutcome = true
	info.OutcomeValue = outcome.Value
	info.OutcomeTime = outcome.CreatedTime
	for _, d := range ds {
		info.Digits = append(info.Digits, DigitInfo{
			Index:     d.DigitIndex,
			Value:     d.Digit,
			Nonce:     d.Nonce,
			Signature: d.Signature,
			MsgStr:    d.MsgStr,
		})
	}
	return info, nil
}

// EventsFilter returns full event infos in a time window, capped at 100
// to bound response size. maxCount <= 0 means the cap itself.
func (o *Oracle) EventsFilter(start, end int64, definition string, maxCount int) ([]EventInfo, error) {
	if maxCount <= 0 || maxCount > maxEventsFilter {
		maxCount = maxEventsFilter
	}
	ids, err := o.store.FilterEventIDs(start, end, definition, maxCount)
	if err != nil {
		return nil, err
	}
	infos := make([]EventInfo, 0, len(ids))
	for _, id := range ids {
		info, err := o.EventByID(id)
		if err != nil {
			return nil, err
		}
		if info != nil {
			infos = append(infos, *info)
		}
	}
	return infos, nil
}

// EventIDsFilter returns matching event ids, capped at 5000.
func (o *Oracle) EventIDsFilter(start, end int64, definition string) ([]string, error) {
	ids, err := o.store.FilterEventIDs(start, end, definition, maxEventIDsFilter)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// NextEvent returns the next stored event for a definition at least
// max(periodSec, 60) seconds in the future, or (nil, nil) when no class
// has one. With several classes per definition the earliest slot wins.
func (o *Oracle) NextEvent(definition string, periodSec int64) (*EventInfo, error) {
	period := periodSec
	if period < minNextEventPeriod {
		period = minNextEventPeriod
	}
	absTime := o.clock.Now().Unix() + period

	classes, err := o.store.ClassesByDef(definition)
	if err != nil {
		return nil, err
	}

	var best *EventInfo
	for _, class := range classes {
		t := class.NextEventTime(absTime)
		if t == 0 {
			continue
		}
		if best != nil && t >= best.TimeUTC {
			continue
		}
		info, err := o.EventByID(event.EventID(class.Definition, t))
		if err != nil {
			return nil, err
		}
		if info != nil {
			best = info
		}
	}
	return best, nil
}

func (o *Oracle) Symbols() []string {
	return o.prices.Symbols()
}

func (o *Oracle) CurrentPrice(symbol string) float64 {
	return o.prices.GetPrice(symbol, price.DefaultMaxAge)
}

func (o *Oracle) CurrentPrices() map[string]float64 {
	res := make(map[string]float64)
	for _, symbol := range o.prices.Symbols() {
		res[symbol] = o.prices.GetPrice(symbol, price.DefaultMaxAge)
	}
	return res
}

func (o *Oracle) CurrentPriceInfo(symbol string) price.Info {
	return o.prices.GetPriceInfo(symbol, price.DefaultMaxAge)
}

func (o *Oracle) CurrentPriceInfos() map[string]price.Info {
	res := make(map[string]price.Info)
	for _, symbol := range o.prices.Symbols() {
		res[symbol] = o.prices.GetPriceInfo(symbol, price.DefaultMaxAge)
	}
	return res
}

// LogStats emits the store row counts.
func (o *Oracle) LogStats() {
	stats, err := o.store.Stats()
	if err != nil {
		o.log.Infow("store_stats_error", "err", err)
		return
	}
	o.log.Infow("store_stats",
		"classes", stats.Classes, "pubkeys", stats.PubKeys, "events", stats.Events,
		"nonces", stats.Nonces, "digit_outcomes", stats.DigitOutcomes,
		"outcomes", stats.Outcomes, "pending_signs", stats.PendingSigns)
}

// EnsureDefaultClasses inserts the stock BTCUSD/BTCEUR classes if the
// store does not have them yet. Safe to call on every start.
func (o *Oracle) EnsureDefaultClasses(now int64) (int, error) {
	defaults := []event.Class{
		event.NewClass("btcusd", now, "BTCUSD", 7, 0, defaultFirstEventTime, 10*60, defaultLastEventTime, o.mainPubKey),
		event.NewClass("btceur", now, "BTCEUR", 7, 0, defaultFirstEventTime, 12*3600, defaultLastEventTime, o.mainPubKey),
	}
	added := 0
	for _, c := range defaults {
		ok, err := o.store.InsertClassIfMissing(c)
		if err != nil {
			return added, fmt.Errorf("insert class %s: %w", c.ID, err)
		}
		if ok {
			added++
			o.log.Infow("event_class_created",
				"class_id", c.ID, "definition", c.Definition,
				"first", c.FirstEventTime, "period", c.PeriodSec, "last", c.LastEventTime)
		}
	}
	return added, nil
}
