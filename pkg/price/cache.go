package price

import (
	"sync"
	"time"

	"github.com/cadenabitcoin/dlcoracle/pkg/util"
)

// sourceCache holds the last Single per symbol, errored ones included,
// so a failing upstream is not hammered on every request.
type sourceCache struct {
	clock util.Clock
	mu    sync.Mutex
	byKey map[string]Single
}

func newSourceCache(clock util.Clock) *sourceCache {
	return &sourceCache{clock: clock, byKey: make(map[string]Single)}
}

// get returns the cached entry if its age is within maxAge.
func (c *sourceCache) get(symbol string, maxAge time.Duration) *Single {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.byKey[symbol]
	if !ok {
		return nil
	}
	age := nowUnix(c.clock) - s.RetrieveTime
	if age > maxAge.Seconds() {
		return nil
	}
	out := s
	return &out
}

// getAny returns the cached entry regardless of age.
func (c *sourceCache) getAny(symbol string) *Single {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.byKey[symbol]
	if !ok {
		return nil
	}
	out := s
	return &out
}

func (c *sourceCache) put(symbol string, s Single) {
	c.mu.Lock()
	c.byKey[symbol] = s
	c.mu.Unlock()
}
