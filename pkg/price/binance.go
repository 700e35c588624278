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

const binanceUSURLRoot = "https://api.binance.us/api/v3/ticker/price?symbol="

// BinanceUS polls the Binance US ticker endpoint,
// e.g. https://api.binance.us/api/v3/ticker/price?symbol=BTCUSDT
// The US exchange has no EUR pairs.
type BinanceUS struct {
	urlRoot string
	client  *http.Client
	clock   util.Clock
	cache   *sourceCache
}

func NewBinanceUS(clock util.Clock) *BinanceUS {
	return &BinanceUS{
		urlRoot: binanceUSURLRoot,
		client:  &http.Client{Timeout: 10 * time.Second},
		clock:   clock,
		cache:   newSourceCache(clock),
	}
}

func (b *BinanceUS) ID() string { return "BinanceUS" }

func (b *BinanceUS) internalSymbol(symbol string) string {
	switch strings.ToUpper(symbol) {
	case "BTCUSD":
		return "BTCUSDT"
	default:
		return ""
	}
}

func (b *BinanceUS) Fast(symbol string, prefMaxAge time.Duration) *Single {
	return b.cache.get(symbol, clampPref(prefMaxAge))
}

func (b *BinanceUS) Fetch(symbol string, prefMaxAge time.Duration) Single {
	if cached := b.cache.get(symbol, cacheTTL(prefMaxAge)); cached != nil {
		return *cached
	}
	now := nowUnix(b.clock)
	var s Single
	internal := b.internalSymbol(symbol)
	if internal == "" {
		s = errorSingle(symbol, now, b.ID(), fmt.Sprintf("symbol is not supported, %s", symbol))
	} else if value, err := b.getPrice(internal); err != nil {
		s = errorSingle(symbol, now, b.ID(), err.Error())
	} else {
		s = Single{Price: value, Symbol: symbol, RetrieveTime: now, ClaimedTime: now, Source: b.ID()}
	}
	b.cache.put(symbol, s)
	return s
}

func (b *BinanceUS) getPrice(internalSymbol string) (float64, error) {
	url := b.urlRoot + internalSymbol
	resp, err := b.client.Get(url)
	if err != nil {
		return 0, fmt.Errorf("error getting price, %s, %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("error getting price, %s, %d", url, resp.StatusCode)
	}
	var body struct {
		Price string `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("error parsing price, %s, %w", url, err)
	}
	value, err := strconv.ParseFloat(body.Price, 64)
	if err != nil || value == 0 {
		return 0, fmt.Errorf("error parsing price, %s, %q", url, body.Price)
	}
	return value, nil
}
