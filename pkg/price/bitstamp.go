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

const bitstampURLRoot = "https://www.bitstamp.net/api/v2/ticker/"

// Bitstamp polls the Bitstamp ticker endpoint,
// e.g. https://www.bitstamp.net/api/v2/ticker/btceur
type Bitstamp struct {
	urlRoot string
	client  *http.Client
	clock   util.Clock
	cache   *sourceCache
}

func NewBitstamp(clock util.Clock) *Bitstamp {
	return &Bitstamp{
		urlRoot: bitstampURLRoot,
		client:  &http.Client{Timeout: 10 * time.Second},
		clock:   clock,
		cache:   newSourceCache(clock),
	}
}

func (b *Bitstamp) ID() string { return "Bitstamp" }

func (b *Bitstamp) Fast(symbol string, prefMaxAge time.Duration) *Single {
	return b.cache.get(symbol, clampPref(prefMaxAge))
}

func (b *Bitstamp) Fetch(symbol string, prefMaxAge time.Duration) Single {
	if cached := b.cache.get(symbol, cacheTTL(prefMaxAge)); cached != nil {
		return *cached
	}
	now := nowUnix(b.clock)
	value, err := b.getPrice(symbol)
	var s Single
	if err != nil {
		s = errorSingle(symbol, now, b.ID(), err.Error())
	} else {
		s = Single{Price: value, Symbol: symbol, RetrieveTime: now, ClaimedTime: now, Source: b.ID()}
	}
	b.cache.put(symbol, s)
	return s
}

func (b *Bitstamp) getPrice(symbol string) (float64, error) {
	url := b.urlRoot + strings.ToLower(symbol)
	resp, err := b.client.Get(url)
	if err != nil {
		return 0, fmt.Errorf("error getting price, %s, %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("error getting price, %s, %d", url, resp.StatusCode)
	}
	var body struct {
		Last string `json:"last"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("error parsing price, %s, %w", url, err)
	}
	value, err := strconv.ParseFloat(body.Last, 64)
	if err != nil || value == 0 {
		return 0, fmt.Errorf("error parsing price, %s, %q", url, body.Last)
	}
	return value, nil
}
