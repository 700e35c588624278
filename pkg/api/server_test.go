package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/cadenabitcoin/dlcoracle/pkg/event"
	"github.com/cadenabitcoin/dlcoracle/pkg/oracle"
	"github.com/cadenabitcoin/dlcoracle/pkg/price"
	"github.com/cadenabitcoin/dlcoracle/pkg/store"
	"github.com/cadenabitcoin/dlcoracle/pkg/util"
)

const testPubKey = "0323423d31a856d8d8c8f7fe46ca984ee2cdddcd8506b805417e9c382f637149fd"

type stubPrices struct{}

func (stubPrices) Symbols() []string { return []string{"BTCUSD", "BTCEUR"} }

func (stubPrices) GetPrice(symbol string, prefMaxAge time.Duration) float64 {
	if symbol == "BTCEUR" {
		return 55000
	}
	return 60000
}

func (stubPrices) GetPriceInfo(symbol string, prefMaxAge time.Duration) price.Info {
	return price.Info{Single: price.Single{
		Price: stubPrices{}.GetPrice(symbol, prefMaxAge), Symbol: symbol, Source: "Multi{cnt:1,good:[T]}",
	}}
}

func newTestServer(t *testing.T, demoMode bool) (*httptest.Server, store.Store, int64) {
	t.Helper()
	st := store.NewMemory()
	now := int64(1762970400)
	class := event.NewClass("btcusd", now-7200, "BTCUSD", 7, 0, now-3600, 3600, now+100*3600, testPubKey)
	if _, err := st.InsertClassIfMissing(class); err != nil {
		t.Fatal(err)
	}
	for i := int64(-1); i < 5; i++ {
		if _, err := st.InsertEventIfMissing(class.EventAt(now+3600*i), testPubKey); err != nil {
			t.Fatal(err)
		}
	}

	o := oracle.New(st, testPubKey, stubPrices{}, util.NewManualClock(time.Unix(now, 0)), nil, 390)
	ts := httptest.NewServer(NewServer(o, demoMode, "").Handler())
	t.Cleanup(ts.Close)
	return ts, st, now
}

func get(t *testing.T, ts *httptest.Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, strings.TrimSpace(string(body))
}

func getJSON(t *testing.T, ts *httptest.Server, path string, out interface{}) {
	t.Helper()
	code, body := get(t, ts, path)
	if code != http.StatusOK {
		t.Fatalf("GET %s: status %d, body %s", path, code, body)
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		t.Fatalf("GET %s: decode %q: %v", path, body, err)
	}
}

func TestOracleEndpoints(t *testing.T) {
	ts, _, _ := newTestServer(t, false)

	var info struct {
		MainPublicKey string   `json:"main_public_key"`
		PublicKeys    []string `json:"public_keys"`
		HorizonDays   int      `json:"horizon_days"`
	}
	getJSON(t, ts, "/api/v0/oracle/oracle_info", &info)
	if info.MainPublicKey != testPubKey || len(info.PublicKeys) != 1 {
		t.Errorf("oracle_info = %+v", info)
	}
	if info.HorizonDays != 390 {
		t.Errorf("horizon = %d", info.HorizonDays)
	}

	var status struct {
		FutureEventCount int     `json:"future_event_count"`
		TotalEventCount  int     `json:"total_event_count"`
		CurrentTimeUTC   float64 `json:"current_time_utc"`
	}
	getJSON(t, ts, "/api/v0/oracle/oracle_status", &status)
	if status.TotalEventCount != 6 || status.FutureEventCount != 4 {
		t.Errorf("oracle_status = %+v", status)
	}
}

func TestEventEndpoints(t *testing.T) {
	ts, _, now := newTestServer(t, false)

	var info oracle.EventInfo
	getJSON(t, ts, "/api/v0/event/event/btcusd1762970400", &info)
	if info.EventID != "btcusd1762970400" || info.TimeUTC != now {
		t.Errorf("event = %+v", info)
	}
	if info.HasOutcome {
		t.Error("has_outcome before signing")
	}

	// Unknown events are an empty object, not an error.
	code, body := get(t, ts, "/api/v0/event/event/btcusd42")
	if code != http.StatusOK || body != "{}" {
		t.Errorf("missing event: %d %q", code, body)
	}

	var ids []string
	getJSON(t, ts, "/api/v0/event/event_ids?definition=BTCUSD", &ids)
	if len(ids) != 6 {
		t.Errorf("event_ids = %v", ids)
	}

	var infos []oracle.EventInfo
	getJSON(t, ts, "/api/v0/event/events?start_time="+itoa(now)+"&end_time="+itoa(now+3600), &infos)
	if len(infos) != 2 {
		t.Errorf("events = %d", len(infos))
	}

	var classes []oracle.ClassInfo
	getJSON(t, ts, "/api/v0/event/event_classes", &classes)
	if len(classes) != 1 || classes[0].ClassID != "btcusd" {
		t.Errorf("classes = %+v", classes)
	}

	code, _ = get(t, ts, "/api/v0/event/event_ids?start_time=abc")
	if code != http.StatusBadRequest {
		t.Errorf("bad start_time status = %d", code)
	}
}

func TestNextEventEndpoint(t *testing.T) {
	ts, _, now := newTestServer(t, false)

	var info oracle.EventInfo
	getJSON(t, ts, "/api/v0/event/next_event?definition=BTCUSD&period=3600", &info)
	if info.TimeUTC != now+3600 {
		t.Errorf("next event at %d, want %d", info.TimeUTC, now+3600)
	}

	code, _ := get(t, ts, "/api/v0/event/next_event")
	if code != http.StatusBadRequest {
		t.Errorf("missing definition status = %d", code)
	}

	code, _ = get(t, ts, "/api/v0/event/next_event?definition=BTCUSD&period=x")
	if code != http.StatusBadRequest {
		t.Errorf("bad period status = %d", code)
	}

	// No class for the definition: empty object.
	code, body := get(t, ts, "/api/v0/event/next_event?definition=XAUUSD")
	if code != http.StatusOK || body != "{}" {
		t.Errorf("unknown definition: %d %q", code, body)
	}
}

func TestPriceEndpoints(t *testing.T) {
	ts, _, _ := newTestServer(t, false)

	code, body := get(t, ts, "/api/v0/price/current/BTCUSD")
	if code != http.StatusOK || body != "60000" {
		t.Errorf("price: %d %q", code, body)
	}

	var all map[string]float64
	getJSON(t, ts, "/api/v0/price/current_all", &all)
	if all["BTCUSD"] != 60000 || all["BTCEUR"] != 55000 {
		t.Errorf("prices = %v", all)
	}

	var infos map[string]price.Info
	getJSON(t, ts, "/api/v0/price_info/current_all", &infos)
	if infos["BTCEUR"].Price != 55000 || infos["BTCEUR"].Source == "" {
		t.Errorf("price infos = %v", infos)
	}

	var one price.Info
	getJSON(t, ts, "/api/v0/price_info/current/BTCUSD", &one)
	if one.Price != 60000 {
		t.Errorf("price info = %+v", one)
	}
}

func TestDemoGateAndHealth(t *testing.T) {
	ts, _, _ := newTestServer(t, false)
	code, _ := get(t, ts, "/demo")
	if code != http.StatusNotFound {
		t.Errorf("demo gate status = %d", code)
	}

	var health map[string]string
	getJSON(t, ts, "/health", &health)
	if health["status"] != "ok" {
		t.Errorf("health = %v", health)
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
