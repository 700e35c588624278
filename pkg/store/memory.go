package store

import (
	"sort"
	"strings"
	"sync"

	"github.com/cadenabitcoin/dlcoracle/pkg/event"
)

// Memory is an in-memory Store, used in tests and as a reference for
// the SQLite semantics.
type Memory struct {
	mu            sync.RWMutex
	classes       map[string]event.Class
	pubkeys       []string
	events        map[string]event.Event
	eventPubkey   map[string]int
	nonces        map[string][]event.Nonce
	digitOutcomes map[string][]event.DigitOutcome
	outcomes      map[string]event.Outcome
	pending       map[string]PendingOutcome
}

func NewMemory() *Memory {
	return &Memory{
		classes:       make(map[string]event.Class),
		events:        make(map[string]event.Event),
		eventPubkey:   make(map[string]int),
		nonces:        make(map[string][]event.Nonce),
		digitOutcomes: make(map[string][]event.DigitOutcome),
		outcomes:      make(map[string]event.Outcome),
		pending:       make(map[string]PendingOutcome),
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) InsertClassIfMissing(c event.Class) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.classes[c.ID]; ok {
		return false, nil
	}
	m.classes[c.ID] = c
	return true, nil
}

func (m *Memory) ClassByID(id string) (event.Class, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.classes[id]
	if !ok {
		return event.Class{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) LatestClassByDef(definition string) (event.Class, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def := strings.ToUpper(definition)
	var found event.Class
	var ok bool
	for _, c := range m.classes {
		if c.Definition != def {
			continue
		}
		if !ok || c.CreateTime > found.CreateTime {
			found = c
			ok = true
		}
	}
	if !ok {
		return event.Class{}, ErrNotFound
	}
	return found, nil
}

func (m *Memory) ClassesByDef(definition string) ([]event.Class, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def := strings.ToUpper(definition)
	var out []event.Class
	for _, c := range m.classes {
		if c.Definition == def {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Memory) AllClasses() ([]event.Class, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []event.Class
	for _, c := range m.classes {
		out = append(out, c)
	}
	return out, nil
}

func (m *Memory) internPubkey(pubkey string) int {
	for i, p := range m.pubkeys {
		if p == pubkey {
			return i
		}
	}
	m.pubkeys = append(m.pubkeys, pubkey)
	return len(m.pubkeys) - 1
}

func (m *Memory) InsertEventIfMissing(e event.Event, signerPubKey string) (bool, error) {
	n, err := m.AppendEventsIfMissing([]event.Event{e}, signerPubKey)
	return n > 0, err
}

func (m *Memory) AppendEventsIfMissing(evs []event.Event, signerPubKey string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pid := m.internPubkey(signerPubKey)
	added := 0
	for _, e := range evs {
		if _, ok := m.events[e.EventID]; ok {
			continue
		}
		e.PubKey = ""
		m.events[e.EventID] = e
		m.eventPubkey[e.EventID] = pid
		added++
	}
	return added, nil
}

func (m *Memory) EventByID(eventID string) (event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.events[eventID]
	if !ok {
		return event.Event{}, ErrNotFound
	}
	e.PubKey = m.pubkeys[m.eventPubkey[eventID]]
	return e, nil
}

func (m *Memory) EventsPastWithoutOutcome(now int64) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var evs []event.Event
	for id, e := range m.events {
		if e.EventTime > now {
			continue
		}
		if _, done := m.outcomes[id]; done {
			continue
		}
		evs = append(evs, e)
	}
	sort.Slice(evs, func(i, j int) bool { return evs[i].EventTime < evs[j].EventTime })
	ids := make([]string, 0, len(evs))
	for _, e := range evs {
		ids = append(ids, e.EventID)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return ids, nil
}

func (m *Memory) EarliestTimeWithoutOutcome(cutoff int64) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var t int64
	for id, e := range m.events {
		if e.EventTime < cutoff {
			continue
		}
		if _, done := m.outcomes[id]; done {
			continue
		}
		if t == 0 || e.EventTime < t {
			t = e.EventTime
		}
	}
	return t, nil
}

func (m *Memory) LatestEventTime(classID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var t int64
	for _, e := range m.events {
		if e.ClassID == classID && e.EventTime > t {
			t = e.EventTime
		}
	}
	return t, nil
}

func (m *Memory) CountFutureEvents(now int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.events {
		if e.EventTime > now {
			n++
		}
	}
	return n, nil
}

func (m *Memory) CountEvents() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events), nil
}

func (m *Memory) FilterEventIDs(start, end int64, definition string, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def := strings.ToUpper(definition)
	var evs []event.Event
	for _, e := range m.events {
		if start != 0 && e.EventTime < start {
			continue
		}
		if end != 0 && e.EventTime > end {
			continue
		}
		if definition != "" && e.Definition != def {
			continue
		}
		evs = append(evs, e)
	}
	sort.Slice(evs, func(i, j int) bool { return evs[i].EventTime < evs[j].EventTime })
	if limit != 0 && len(evs) > limit {
		evs = evs[:limit]
	}
	var ids []string
	for _, e := range evs {
		ids = append(ids, e.EventID)
	}
	return ids, nil
}

func (m *Memory) EventsWithoutNonces(limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var evs []event.Event
	for id, e := range m.events {
		if len(m.nonces[id]) > 0 {
			continue
		}
		evs = append(evs, e)
	}
	sort.Slice(evs, func(i, j int) bool { return evs[i].EventTime < evs[j].EventTime })
	if limit != 0 && len(evs) > limit {
		evs = evs[:limit]
	}
	var ids []string
	for _, e := range evs {
		ids = append(ids, e.EventID)
	}
	return ids, nil
}

func (m *Memory) InsertNonces(ns []event.Nonce) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range ns {
		dup := false
		for _, have := range m.nonces[n.EventID] {
			if have.DigitIndex == n.DigitIndex {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		m.nonces[n.EventID] = append(m.nonces[n.EventID], n)
	}
	return nil
}

func (m *Memory) Nonces(eventID string) ([]event.Nonce, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ns := append([]event.Nonce(nil), m.nonces[eventID]...)
	sort.Slice(ns, func(i, j int) bool { return ns[i].DigitIndex < ns[j].DigitIndex })
	return ns, nil
}

func (m *Memory) Outcome(eventID string) (event.Outcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.outcomes[eventID]
	if !ok {
		return event.Outcome{}, ErrNotFound
	}
	return o, nil
}

func (m *Memory) DigitOutcomes(eventID string) ([]event.DigitOutcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ds := append([]event.DigitOutcome(nil), m.digitOutcomes[eventID]...)
	sort.Slice(ds, func(i, j int) bool { return ds[i].DigitIndex < ds[j].DigitIndex })
	return ds, nil
}

func (m *Memory) OutcomeExists(eventID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.outcomes[eventID]
	return ok, nil
}

func (m *Memory) InsertOutcome(o event.Outcome, ds []event.DigitOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[o.EventID] = o
	m.digitOutcomes[o.EventID] = append([]event.DigitOutcome(nil), ds...)
	delete(m.pending, o.EventID)
	return nil
}

func (m *Memory) PutPendingSign(p PendingOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[p.EventID] = p
	return nil
}

func (m *Memory) PendingSign(eventID string) (PendingOutcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pending[eventID]
	if !ok {
		return PendingOutcome{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) Stats() (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	nonceCnt := 0
	for _, ns := range m.nonces {
		nonceCnt += len(ns)
	}
	doCnt := 0
	for _, ds := range m.digitOutcomes {
		doCnt += len(ds)
	}
	pendCnt := 0
	for _, p := range m.pending {
		pendCnt += len(p.Digits)
	}
	return Stats{
		Classes:       len(m.classes),
		PubKeys:       len(m.pubkeys),
		Events:        len(m.events),
		Nonces:        nonceCnt,
		DigitOutcomes: doCnt,
		Outcomes:      len(m.outcomes),
		PendingSigns:  pendCnt,
	}, nil
}
