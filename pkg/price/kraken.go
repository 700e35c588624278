package price

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cadenabitcoin/dlcoracle/pkg/util"
)

const krakenURLRoot = "https://api.kraken.com/0/public/Ticker?pair="

// Kraken polls the Kraken public ticker endpoint,
// e.g. https://api.kraken.com/0/public/Ticker?pair=XBTUSD
// Kraken answers under its own pair naming (XXBTZUSD).
type Kraken struct {
	urlRoot string
	client  *http.Client
	clock   util.Clock
	cache   *sourceCache
}

func NewKraken(clock util.Clock) *Kraken {
	return &Kraken{
		urlRoot: krakenURLRoot,
		client:  &http.Client{Timeout: 10 * time.Second},
		clock:   clock,
		cache:   newSourceCache(clock),
	}
}

func (k *Kraken) ID() string { return "Kraken" }

// internalSymbol maps a symbol to the request pair and the key the
// response result is filed under.
func (k *Kraken) internalSymbol(symbol string) (string, string) {
	switch strings.ToUpper(symbol) {
	case "BTCUSD":
		return "XBTUSD", "XXBTZUSD"
	case "BTCEUR":
		return "XBTEUR", "XXBTZEUR"
	default:
		return "", ""
	}
}

func (k *Kraken) Fast(symbol string, prefMaxAge time.Duration) *Single {
	return k.cache.get(symbol, clampPref(prefMaxAge))
}

func (k *Kraken) Fetch(symbol string, prefMaxAge time.Duration) Single {
	if cached := k.cache.get(symbol, cacheTTL(prefMaxAge)); cached != nil {
		return *cached
	}
	now := nowUnix(k.clock)
	var s Single
	if value, err := k.getPrice(symbol); err != nil {
		s = errorSingle(symbol, now, k.ID(), err.Error())
	} else {
		s = Single{Price: value, Symbol: symbol, RetrieveTime: now, ClaimedTime: now, Source: k.ID()}
	}
	k.cache.put(symbol, s)
	return s
}

func (k *Kraken) getPrice(symbol string) (float64, error) {
	pair, resultKey := k.internalSymbol(symbol)
	if pair == "" {
		return 0, fmt.Errorf("symbol is not supported, %s", symbol)
	}
	url := k.urlRoot + pair
	resp, err := k.client.Get(url)
	if err != nil {
		return 0, fmt.Errorf("error getting price, %s, %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("error getting price, %s, %d", url, resp.StatusCode)
	}
	var body struct {
		Result map[string]struct {
			C []string `json:"c"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("error parsing price, %s, %w", url, err)
	}
	info, ok := body.Result[resultKey]
	if !ok || len(info.C) == 0 {
		return 0, fmt.Errorf("error parsing price, %s, missing pair %s", url, resultKey)
	}
	value, err := strconv.ParseFloat(info.C[0], 64)
	if err != nil || value == 0 {
		return 0, fmt.Errorf("error parsing price, %s, %q", url, info.C[0])
	}
	return value, nil
}
