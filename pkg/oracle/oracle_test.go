package oracle

import (
	"testing"
	"time"

	"github.com/cadenabitcoin/dlcoracle/pkg/crypto"
	"github.com/cadenabitcoin/dlcoracle/pkg/event"
	"github.com/cadenabitcoin/dlcoracle/pkg/price"
	"github.com/cadenabitcoin/dlcoracle/pkg/store"
	"github.com/cadenabitcoin/dlcoracle/pkg/util"
)

const testPubKey = "0323423d31a856d8d8c8f7fe46ca984ee2cdddcd8506b805417e9c382f637149fd"

type stubPrices struct {
	infos map[string]price.Info
}

func (s stubPrices) Symbols() []string { return []string{"BTCUSD", "BTCEUR"} }

func (s stubPrices) GetPrice(symbol string, prefMaxAge time.Duration) float64 {
	return s.infos[symbol].Price
}

func (s stubPrices) GetPriceInfo(symbol string, prefMaxAge time.Duration) price.Info {
	return s.infos[symbol]
}

func newOracle(t *testing.T, st store.Store, now int64) *Oracle {
	t.Helper()
	prices := stubPrices{infos: map[string]price.Info{
		"BTCUSD": {Single: price.Single{Price: 60000, Symbol: "BTCUSD"}},
		"BTCEUR": {Single: price.Single{Price: 55000, Symbol: "BTCEUR"}},
	}}
	return New(st, testPubKey, prices, util.NewManualClock(time.Unix(now, 0)), nil, 390)
}

func TestInfo(t *testing.T) {
	o := newOracle(t, store.NewMemory(), 1000)
	info := o.Info()
	if info.MainPublicKey != testPubKey {
		t.Errorf("main key = %q", info.MainPublicKey)
	}
	if len(info.PublicKeys) != 1 || info.PublicKeys[0] != testPubKey {
		t.Errorf("public keys = %v", info.PublicKeys)
	}
	if info.HorizonDays != 390 {
		t.Errorf("horizon = %d", info.HorizonDays)
	}
}

func TestStatus(t *testing.T) {
	st := store.NewMemory()
	class := event.NewClass("btcusd", 100, "BTCUSD", 7, 0, 900, 200, 9000, testPubKey)
	if _, err := st.InsertClassIfMissing(class); err != nil {
		t.Fatal(err)
	}
	for _, tm := range []int64{900, 1100} {
		if _, err := st.InsertEventIfMissing(class.EventAt(tm), testPubKey); err != nil {
			t.Fatal(err)
		}
	}

	o := newOracle(t, st, 1000)
	status, err := o.Status()
	if err != nil {
		t.Fatal(err)
	}
	if status.TotalEventCount != 2 {
		t.Errorf("total = %d", status.TotalEventCount)
	}
	if status.FutureEventCount != 1 {
		t.Errorf("future = %d", status.FutureEventCount)
	}
	if status.CurrentTimeUTC != 1000 {
		t.Errorf("time = %v", status.CurrentTimeUTC)
	}
}

func TestEnsureDefaultClasses(t *testing.T) {
	st := store.NewMemory()
	o := newOracle(t, st, 1756000000)

	added, err := o.EnsureDefaultClasses(1756000000)
	if err != nil || added != 2 {
		t.Fatalf("added = %d err=%v", added, err)
	}
	added, err = o.EnsureDefaultClasses(1756000100)
	if err != nil || added != 0 {
		t.Fatalf("re-run added = %d err=%v", added, err)
	}

	infos, err := o.EventClasses()
	if err != nil || len(infos) != 2 {
		t.Fatalf("classes = %d err=%v", len(infos), err)
	}
	// Sorted by class id.
	if infos[0].ClassID != "btceur" || infos[1].ClassID != "btcusd" {
		t.Errorf("order = %s, %s", infos[0].ClassID, infos[1].ClassID)
	}
	usd := infos[1]
	if usd.Desc.Definition != "BTCUSD" || usd.Desc.EventType != "numeric" {
		t.Errorf("desc = %+v", usd.Desc)
	}
	if usd.Desc.RangeDigits != 7 || usd.Desc.RangeDigitHighPos != 6 || usd.Desc.RangeUnit != 1 {
		t.Errorf("range = %+v", usd.Desc)
	}
	if usd.Desc.RangeMaxValue != 9999999 {
		t.Errorf("max = %v", usd.Desc.RangeMaxValue)
	}
	if usd.RepeatPeriod != 600 || usd.RepeatOffset != 0 {
		t.Errorf("period/offset = %d/%d", usd.RepeatPeriod, usd.RepeatOffset)
	}
	if usd.Desc.SignerPublicKey != testPubKey {
		t.Errorf("signer = %q", usd.Desc.SignerPublicKey)
	}
}

func TestEventByID(t *testing.T) {
	st := store.NewMemory()
	evTime := int64(1762970400)
	class := event.NewClass("btceur01", 100, "BTCEUR", 7, 0, evTime-7200, 3600, evTime+7200, testPubKey)
	if _, err := st.InsertClassIfMissing(class); err != nil {
		t.Fatal(err)
	}
	ev := class.EventAt(evTime)
	if _, err := st.InsertEventIfMissing(ev, testPubKey); err != nil {
		t.Fatal(err)
	}
	var nonces []event.Nonce
	for i := 0; i < 7; i++ {
		sec, pub, err := crypto.DeterministicNonce(ev.EventID, i)
		if err != nil {
			t.Fatal(err)
		}
		nonces = append(nonces, event.Nonce{EventID: ev.EventID, DigitIndex: i, Pub: pub, Sec: sec})
	}
	if err := st.InsertNonces(nonces); err != nil {
		t.Fatal(err)
	}

	o := newOracle(t, st, evTime)
	info, err := o.EventByID(ev.EventID)
	if err != nil {
		t.Fatal(err)
	}
	if info == nil {
		t.Fatal("event not found")
	}
	if info.EventID != "btceur1762970400" {
		t.Errorf("event_id = %q", info.EventID)
	}
	if info.TimeUTC != evTime {
		t.Errorf("time_utc = %d", info.TimeUTC)
	}
	if info.TimeUTCNice != "2025-11-12 18:00:00+00:00" {
		t.Errorf("time_utc_nice = %q", info.TimeUTCNice)
	}
	if info.Definition != "BTCEUR" || info.EventType != "numeric" {
		t.Errorf("definition = %q type = %q", info.Definition, info.EventType)
	}
	if info.EventClass != "btceur01" {
		t.Errorf("event_class = %q", info.EventClass)
	}
	if info.SignerPublicKey != testPubKey {
		t.Errorf("signer = %q", info.SignerPublicKey)
	}
	if info.StringTemplate != "Outcome:btceur1762970400:{digit_index}:{digit_outcome}" {
		t.Errorf("template = %q", info.StringTemplate)
	}
	if info.HasOutcome {
		t.Error("has_outcome before signing")
	}
	if len(info.Nonces) != 7 || len(info.Nonces[0]) != 66 {
		t.Errorf("nonces = %v", info.Nonces)
	}
	if info.OutcomeValue != "" || len(info.Digits) != 0 {
		t.Errorf("outcome fields set: %+v", info)
	}

	// Absent event is not an error.
	missing, err := o.EventByID("btceur1762970407")
	if err != nil || missing != nil {
		t.Errorf("missing = %+v err=%v", missing, err)
	}
}

func TestEventByIDWithOutcome(t *testing.T) {
	st := store.NewMemory()
	evTime := int64(1762970400)
	class := event.NewClass("btcusd", 100, "BTCUSD", 5, 0, evTime, 3600, evTime+7200, testPubKey)
	if _, err := st.InsertClassIfMissing(class); err != nil {
		t.Fatal(err)
	}
	ev := class.EventAt(evTime)
	if _, err := st.InsertEventIfMissing(ev, testPubKey); err != nil {
		t.Fatal(err)
	}
	outcome := event.Outcome{EventID: ev.EventID, Value: "88001", CreatedTime: evTime + 3, SourceDesc: "Multi{cnt:2,good:[A,B]}"}
	var ds []event.DigitOutcome
	for i, d := range []int{8, 8, 0, 0, 1} {
		ds = append(ds, event.DigitOutcome{
			EventID: ev.EventID, DigitIndex: i, Digit: d,
			Nonce: "02aa", Signature: "beef", MsgStr: "msg",
		})
	}
	if err := st.InsertOutcome(outcome, ds); err != nil {
		t.Fatal(err)
	}

	o := newOracle(t, st, evTime)
	info, err := o.EventByID(ev.EventID)
	if err != nil || info == nil {
		t.Fatalf("info = %+v err=%v", info, err)
	}
	if !info.HasOutcome {
		t.Fatal("has_outcome = false")
	}
	if info.OutcomeValue != "88001" || info.OutcomeTime != evTime+3 {
		t.Errorf("outcome = %q at %d", info.OutcomeValue, info.OutcomeTime)
	}
	if len(info.Digits) != 5 {
		t.Fatalf("digits = %d", len(info.Digits))
	}
	if info.Digits[0].Index != 0 || info.Digits[0].Value != 8 {
		t.Errorf("digit[0] = %+v", info.Digits[0])
	}
	if info.Digits[4].Value != 1 {
		t.Errorf("digit[4] = %+v", info.Digits[4])
	}
}

func TestEventsFilter(t *testing.T) {
	st := store.NewMemory()
	first := int64(10000)
	class := event.NewClass("btcusd", 100, "BTCUSD", 5, 0, first, 100, first+100*200, testPubKey)
	if _, err := st.InsertClassIfMissing(class); err != nil {
		t.Fatal(err)
	}
	for i := int64(0); i < 150; i++ {
		if _, err := st.InsertEventIfMissing(class.EventAt(first+100*i), testPubKey); err != nil {
			t.Fatal(err)
		}
	}

	o := newOracle(t, st, first)
	infos, err := o.EventsFilter(0, 0, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 100 {
		t.Errorf("cap not applied, got %d", len(infos))
	}
	if infos[0].EventID != "btcusd10000" {
		t.Errorf("first = %q", infos[0].EventID)
	}

	infos, err = o.EventsFilter(first+100, first+300, "btcusd", 10)
	if err != nil || len(infos) != 3 {
		t.Fatalf("window = %d err=%v", len(infos), err)
	}

	ids, err := o.EventIDsFilter(first+100, first+300, "BTCUSD")
	if err != nil || len(ids) != 3 {
		t.Fatalf("ids = %v err=%v", ids, err)
	}

	// No matches still yields an empty list, not null.
	ids, err = o.EventIDsFilter(0, 0, "XAUUSD")
	if err != nil || ids == nil || len(ids) != 0 {
		t.Errorf("empty ids = %v err=%v", ids, err)
	}
}

func TestNextEvent(t *testing.T) {
	st := store.NewMemory()
	now := int64(1762970400)
	class := event.NewClass("btcusd", 100, "BTCUSD", 7, 0, now-7200, 3600, now+100*3600, testPubKey)
	if _, err := st.InsertClassIfMissing(class); err != nil {
		t.Fatal(err)
	}
	for i := int64(-2); i < 10; i++ {
		if _, err := st.InsertEventIfMissing(class.EventAt(now+3600*i), testPubKey); err != nil {
			t.Fatal(err)
		}
	}

	o := newOracle(t, st, now)
	info, err := o.NextEvent("BTCUSD", 3600)
	if err != nil {
		t.Fatal(err)
	}
	if info == nil {
		t.Fatal("no next event")
	}
	if info.TimeUTC != now+3600 {
		t.Errorf("time = %d, want %d", info.TimeUTC, now+3600)
	}

	// A short period is floored to a minute of look-ahead.
	info, err = o.NextEvent("BTCUSD", 1)
	if err != nil || info == nil || info.TimeUTC != now+3600 {
		t.Fatalf("floored next = %+v err=%v", info, err)
	}

	// Unknown definition.
	info, err = o.NextEvent("XAUUSD", 60)
	if err != nil || info != nil {
		t.Errorf("unknown def next = %+v err=%v", info, err)
	}
}

func TestNextEventAcrossClasses(t *testing.T) {
	st := store.NewMemory()
	now := int64(1762970400)
	// Two classes for the same definition, back to back in time.
	c1 := event.NewClass("class01", 100, "BTCUSD", 7, 0, now-7200, 3600, now+3600-1, testPubKey)
	c2 := event.NewClass("class02", 200, "BTCUSD", 7, 0, now+3600, 3600, now+100*3600, testPubKey)
	for _, c := range []event.Class{c1, c2} {
		if _, err := st.InsertClassIfMissing(c); err != nil {
			t.Fatal(err)
		}
	}
	for i := int64(0); i < 5; i++ {
		if _, err := st.InsertEventIfMissing(c2.EventAt(now+3600*(i+1)), testPubKey); err != nil {
			t.Fatal(err)
		}
	}

	o := newOracle(t, st, now)
	info, err := o.NextEvent("btcusd", 3600)
	if err != nil || info == nil {
		t.Fatalf("next = %+v err=%v", info, err)
	}
	if info.EventClass != "class02" || info.TimeUTC != now+3600 {
		t.Errorf("next = %s at %d", info.EventClass, info.TimeUTC)
	}
}

func TestCurrentPrices(t *testing.T) {
	o := newOracle(t, store.NewMemory(), 1000)
	if got := o.CurrentPrice("BTCUSD"); got != 60000 {
		t.Errorf("price = %v", got)
	}
	all := o.CurrentPrices()
	if all["BTCUSD"] != 60000 || all["BTCEUR"] != 55000 {
		t.Errorf("prices = %v", all)
	}
	infos := o.CurrentPriceInfos()
	if infos["BTCEUR"].Price != 55000 {
		t.Errorf("infos = %v", infos)
	}
	if got := o.Symbols(); len(got) != 2 {
		t.Errorf("symbols = %v", got)
	}
}
