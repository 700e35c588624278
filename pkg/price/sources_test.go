package price

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cadenabitcoin/dlcoracle/pkg/util"
)

func TestBitstampFetch(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Path != "/ticker/btcusd" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"last": "60123.45", "high": "61000"}`))
	}))
	defer srv.Close()

	clock := util.NewManualClock(time.Unix(1000, 0))
	b := NewBitstamp(clock)
	b.urlRoot = srv.URL + "/ticker/"

	// Empty cache, Fast must not touch the network.
	if s := b.Fast("BTCUSD", 15*time.Second); s != nil {
		t.Errorf("fast on empty cache = %+v", s)
	}

	s := b.Fetch("BTCUSD", 15*time.Second)
	if s.Price != 60123.45 || s.Error != "" || s.Source != "Bitstamp" {
		t.Errorf("single = %+v", s)
	}
	if s.RetrieveTime != 1000 || s.ClaimedTime != 1000 {
		t.Errorf("times = %v/%v", s.RetrieveTime, s.ClaimedTime)
	}

	// Second fetch within the cache window is served locally.
	b.Fetch("BTCUSD", 15*time.Second)
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("hits = %d, want 1", hits)
	}
	if fast := b.Fast("BTCUSD", 15*time.Second); fast == nil || fast.Price != 60123.45 {
		t.Errorf("fast after fetch = %+v", fast)
	}

	// Cache expires after max(DefaultMaxAge, pref).
	clock.Advance(16 * time.Second)
	b.Fetch("BTCUSD", 15*time.Second)
	if atomic.LoadInt32(&hits) != 2 {
		t.Errorf("hits after expiry = %d, want 2", hits)
	}
}

func TestBitstampErrorCached(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	clock := util.NewManualClock(time.Unix(1000, 0))
	b := NewBitstamp(clock)
	b.urlRoot = srv.URL + "/"

	s := b.Fetch("BTCUSD", 15*time.Second)
	if s.Error == "" || s.Price != 0 {
		t.Errorf("single = %+v", s)
	}
	// Errored result is cached too.
	b.Fetch("BTCUSD", 15*time.Second)
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("hits = %d, want 1", hits)
	}
}

func TestBinanceUSFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "BTCUSDT" {
			t.Errorf("symbol = %s", got)
		}
		w.Write([]byte(`{"symbol": "BTCUSDT", "price": "59876.10"}`))
	}))
	defer srv.Close()

	clock := util.NewManualClock(time.Unix(1000, 0))
	b := NewBinanceUS(clock)
	b.urlRoot = srv.URL + "/api/v3/ticker/price?symbol="

	s := b.Fetch("BTCUSD", 15*time.Second)
	if s.Price != 59876.10 || s.Error != "" || s.Source != "BinanceUS" {
		t.Errorf("single = %+v", s)
	}
	if s.Symbol != "BTCUSD" {
		t.Errorf("symbol = %q", s.Symbol)
	}

	// No EUR pairs on the US exchange; errors without a request.
	e := b.Fetch("BTCEUR", 15*time.Second)
	if e.Error == "" || e.Price != 0 {
		t.Errorf("eur single = %+v", e)
	}
}

func TestKrakenFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("pair"); got != "XBTUSD" {
			t.Errorf("pair = %s", got)
		}
		w.Write([]byte(`{"error":[],"result":{"XXBTZUSD":{"a":["60001.0","1","1.0"],"c":["60000.50","0.01"]}}}`))
	}))
	defer srv.Close()

	clock := util.NewManualClock(time.Unix(1000, 0))
	k := NewKraken(clock)
	k.urlRoot = srv.URL + "/0/public/Ticker?pair="

	s := k.Fetch("BTCUSD", 15*time.Second)
	if s.Price != 60000.50 || s.Error != "" || s.Source != "Kraken" {
		t.Errorf("single = %+v", s)
	}

	u := k.Fetch("DOGEUSD", 15*time.Second)
	if u.Error == "" {
		t.Errorf("unsupported symbol single = %+v", u)
	}
}

func TestCoinbaseCache(t *testing.T) {
	clock := util.NewManualClock(time.Unix(2000, 0))
	c := NewCoinbase(clock, nil)

	// Nothing received yet: errored single, no I/O.
	s := c.Fetch("BTCUSD", 15*time.Second)
	if s.Error == "" {
		t.Errorf("single = %+v", s)
	}

	c.updateReceived(coinbaseTick{
		Type:      "ticker",
		ProductID: "BTC-USD",
		Price:     "61500.25",
		Time:      "2026-01-02T03:04:05.123456Z",
	})

	s = c.Fetch("BTCUSD", 15*time.Second)
	if s.Price != 61500.25 || s.Error != "" || s.Source != "Coinbase" {
		t.Errorf("single = %+v", s)
	}
	if s.RetrieveTime != 2000 {
		t.Errorf("retrieve_time = %v", s.RetrieveTime)
	}
	want, _ := time.Parse(time.RFC3339Nano, "2026-01-02T03:04:05.123456Z")
	if got := s.ClaimedTime; got != float64(want.UnixNano())/1e9 {
		t.Errorf("claimed_time = %v", got)
	}

	// Other symbol still unknown.
	if e := c.Fetch("BTCEUR", 15*time.Second); e.Error == "" {
		t.Errorf("eur single = %+v", e)
	}

	// Junk messages are dropped without clobbering the cache.
	c.updateReceived(coinbaseTick{Type: "ticker", ProductID: "BTC-USD", Price: "bogus", Time: "x"})
	if s := c.Fetch("BTCUSD", 15*time.Second); s.Price != 61500.25 {
		t.Errorf("price after junk = %v", s.Price)
	}
}

func TestEvidenceLog(t *testing.T) {
	log, err := OpenEvidenceLog(t.TempDir() + "/evidence")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer log.Close()

	info := Info{
		Single: Single{Price: 60005, Symbol: "BTCUSD", RetrieveTime: 90, Source: "Multi{cnt:2,good:[A,B]}"},
		Sources: []Single{
			{Price: 60000, Source: "A", DeltaFromAggr: -5},
			{Price: 60010, Source: "B", DeltaFromAggr: 5},
		},
	}
	if err := log.Record("btcusd1000", info); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, ok, err := log.Get("btcusd1000")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Price != 60005 || len(got.Sources) != 2 || got.Sources[1].DeltaFromAggr != 5 {
		t.Errorf("info = %+v", got)
	}

	_, ok, err = log.Get("nope")
	if err != nil || ok {
		t.Errorf("missing: ok=%v err=%v", ok, err)
	}
}
