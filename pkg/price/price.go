// Package price fetches spot prices from multiple upstream feeds and
// aggregates them into a single per-symbol view with freshness
// accounting.
package price

import (
	"time"

	"github.com/cadenabitcoin/dlcoracle/pkg/util"
)

// Freshness constants.
const (
	// DefaultMaxAge is how long a fetched value stays usable when the
	// caller did not ask for anything fresher.
	DefaultMaxAge = 15 * time.Second
	// MinPrefMaxAge is the floor on caller-requested freshness.
	MinPrefMaxAge = 5 * time.Second
	// PrefetchMinAcceptedAge is the aggregate age above which a
	// background refresh is worth spawning.
	PrefetchMinAcceptedAge = 2 * time.Second
	// PrefetchPrefMaxAge is the freshness the background refresh asks
	// its sources for.
	PrefetchPrefMaxAge = 5 * time.Second
)

// Single is one source's answer for one symbol.
type Single struct {
	Price float64 `json:"price"`
	Symbol string `json:"symbol"`
	// RetrieveTime is when this process received the value, unix secs.
	RetrieveTime float64 `json:"retrieve_time"`
	// ClaimedTime is the source's own timestamp for the value; equals
	// RetrieveTime when the source does not provide one.
	ClaimedTime   float64 `json:"claimed_time"`
	Source        string  `json:"source"`
	Error         string  `json:"error,omitempty"`
	DeltaFromAggr float64 `json:"delta_from_aggr"`
}

// Info is the aggregate over all sources for one symbol.
type Info struct {
	Single
	Sources []Single `json:"sources,omitempty"`
}

// Source is one upstream price feed.
type Source interface {
	ID() string
	// Fast returns a cached value no older than prefMaxAge, or nil. It
	// never performs I/O.
	Fast(symbol string, prefMaxAge time.Duration) *Single
	// Fetch returns a value, blocking on the network if the cache is
	// too old. Failures come back as an errored Single, never an error
	// return.
	Fetch(symbol string, prefMaxAge time.Duration) Single
}

func errorSingle(symbol string, now float64, sourceID, errMsg string) Single {
	return Single{
		Symbol:       symbol,
		RetrieveTime: now,
		ClaimedTime:  now,
		Source:       sourceID,
		Error:        errMsg,
	}
}

func nowUnix(clock util.Clock) float64 {
	return float64(clock.Now().UnixNano()) / 1e9
}

func clampPref(d time.Duration) time.Duration {
	if d < MinPrefMaxAge {
		return MinPrefMaxAge
	}
	return d
}

// cacheTTL is how long a fetched value may be served from cache.
func cacheTTL(prefMaxAge time.Duration) time.Duration {
	pref := clampPref(prefMaxAge)
	if pref > DefaultMaxAge {
		return pref
	}
	return DefaultMaxAge
}
