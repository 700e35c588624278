package price

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cadenabitcoin/dlcoracle/pkg/util"
)

const coinbaseFeedURL = "wss://ws-feed.exchange.coinbase.com"

// Coinbase listens to the Coinbase Exchange websocket ticker feed and
// keeps the last tick per symbol. Fast and Fetch both serve the cache;
// freshness depends on connection liveness, not request time.
// See https://docs.cdp.coinbase.com/exchange/websocket-feed/overview
type Coinbase struct {
	url   string
	clock util.Clock
	log   *zap.SugaredLogger
	cache *sourceCache
}

func NewCoinbase(clock util.Clock, log *zap.SugaredLogger) *Coinbase {
	if log == nil {
		log = util.NopSugar()
	}
	return &Coinbase{
		url:   coinbaseFeedURL,
		clock: clock,
		log:   log,
		cache: newSourceCache(clock),
	}
}

func (c *Coinbase) ID() string { return "Coinbase" }

func (c *Coinbase) productID(symbol string) string {
	switch strings.ToUpper(symbol) {
	case "BTCUSD":
		return "BTC-USD"
	case "BTCEUR":
		return "BTC-EUR"
	default:
		return ""
	}
}

func (c *Coinbase) symbolFromProduct(productID string) string {
	switch strings.ToUpper(productID) {
	case "BTC-USD":
		return "BTCUSD"
	case "BTC-EUR":
		return "BTCEUR"
	default:
		return ""
	}
}

func (c *Coinbase) Fast(symbol string, prefMaxAge time.Duration) *Single {
	s := c.cache.getAny(strings.ToUpper(symbol))
	if s == nil {
		now := nowUnix(c.clock)
		errored := errorSingle(symbol, now, c.ID(),
			fmt.Sprintf("price info not available, %s, uri %s", symbol, c.url))
		return &errored
	}
	return s
}

func (c *Coinbase) Fetch(symbol string, prefMaxAge time.Duration) Single {
	return *c.Fast(symbol, prefMaxAge)
}

// Run connects to the feed and consumes ticker messages until ctx is
// canceled, reconnecting after transient errors. Call it in its own
// goroutine.
func (c *Coinbase) Run(ctx context.Context) {
	for {
		if err := c.listen(ctx); err != nil {
			c.log.Infow("coinbase_feed_disconnected", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

type coinbaseTick struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Time      string `json:"time"`
}

func (c *Coinbase) listen(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	subscribe := map[string]any{
		"type": "subscribe",
		"channels": []map[string]any{
			{"name": "ticker", "product_ids": []string{"BTC-USD", "BTC-EUR"}},
		},
	}
	if err := conn.WriteJSON(subscribe); err != nil {
		return err
	}
	c.log.Infow("coinbase_feed_connected", "url", c.url)

	for {
		var tick coinbaseTick
		if err := conn.ReadJSON(&tick); err != nil {
			return err
		}
		c.updateReceived(tick)
	}
}

func (c *Coinbase) updateReceived(tick coinbaseTick) {
	if tick.ProductID == "" || tick.Price == "" || tick.Time == "" {
		return
	}
	symbol := c.symbolFromProduct(tick.ProductID)
	if symbol == "" {
		c.log.Infow("coinbase_unknown_product", "product_id", tick.ProductID)
		return
	}
	value, err := strconv.ParseFloat(tick.Price, 64)
	if err != nil || value == 0 {
		c.log.Infow("coinbase_bad_price", "price", tick.Price)
		return
	}
	now := nowUnix(c.clock)
	claimed := now
	if t, err := time.Parse(time.RFC3339Nano, tick.Time); err == nil {
		claimed = float64(t.UnixNano()) / 1e9
	}
	c.cache.put(symbol, Single{
		Price:        value,
		Symbol:       symbol,
		RetrieveTime: now,
		ClaimedTime:  claimed,
		Source:       c.ID(),
	})
}
