package price

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cadenabitcoin/dlcoracle/pkg/util"
)

// Aggregator fans a request out to all sources and combines their
// answers. Cached hits are collected synchronously; the rest are
// fetched in parallel.
type Aggregator struct {
	sources []Source
	clock   util.Clock
	log     *zap.SugaredLogger
}

func NewAggregator(sources []Source, clock util.Clock, log *zap.SugaredLogger) *Aggregator {
	if log == nil {
		log = util.NopSugar()
	}
	return &Aggregator{sources: sources, clock: clock, log: log}
}

// Symbols lists the symbols the aggregator serves.
func (a *Aggregator) Symbols() []string {
	return []string{"BTCUSD", "BTCEUR"}
}

// GetPrice returns just the aggregate price, 0 when no source has data.
func (a *Aggregator) GetPrice(symbol string, prefMaxAge time.Duration) float64 {
	return a.GetPriceInfo(symbol, prefMaxAge).Price
}

func (a *Aggregator) GetPriceInfo(symbol string, prefMaxAge time.Duration) Info {
	return a.getPriceInfo(symbol, prefMaxAge, true)
}

func (a *Aggregator) getPriceInfo(symbol string, prefMaxAge time.Duration, allowPrefetch bool) Info {
	symbol = strings.ToUpper(symbol)

	singles := make([]Single, len(a.sources))
	var wg sync.WaitGroup
	for i, src := range a.sources {
		if fast := src.Fast(symbol, prefMaxAge); fast != nil {
			singles[i] = *fast
			continue
		}
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			singles[i] = src.Fetch(symbol, prefMaxAge)
		}(i, src)
	}
	wg.Wait()

	info := Aggregate(singles, symbol, nowUnix(a.clock))

	if allowPrefetch && info.Error == "" {
		age := nowUnix(a.clock) - info.RetrieveTime
		threshold := PrefetchMinAcceptedAge.Seconds()
		if half := prefMaxAge.Seconds() / 2; half > threshold {
			threshold = half
		}
		if age > threshold {
			// Fire and forget; the result only serves future requests.
			go a.getPriceInfo(symbol, PrefetchPrefMaxAge, false)
		}
	}
	return info
}

// Aggregate combines per-source answers: mean of the valid prices, the
// most conservative freshness, and a synthetic source descriptor.
func Aggregate(singles []Single, symbol string, now float64) Info {
	var valid []int
	var goodIDs, badIDs []string
	for i, s := range singles {
		if s.Price > 0 && s.Error == "" {
			valid = append(valid, i)
			goodIDs = append(goodIDs, s.Source)
		} else {
			badIDs = append(badIDs, s.Source)
		}
	}
	src := aggregateSource(len(valid), goodIDs, badIDs)

	if len(valid) == 0 {
		return Info{
			Single:  errorSingle(symbol, now, src, "No source with valid data"),
			Sources: singles,
		}
	}

	var priceSum float64
	retrieveMin := singles[valid[0]].RetrieveTime
	claimedMin := singles[valid[0]].ClaimedTime
	for _, i := range valid {
		s := singles[i]
		priceSum += s.Price
		if s.RetrieveTime < retrieveMin {
			retrieveMin = s.RetrieveTime
		}
		if s.ClaimedTime < claimedMin {
			claimedMin = s.ClaimedTime
		}
	}
	mean := priceSum / float64(len(valid))

	for i := range singles {
		singles[i].DeltaFromAggr = singles[i].Price - mean
	}

	return Info{
		Single: Single{
			Price:        mean,
			Symbol:       symbol,
			RetrieveTime: retrieveMin,
			ClaimedTime:  claimedMin,
			Source:       src,
		},
		Sources: singles,
	}
}

// aggregateSource builds descriptors like "Multi{cnt:2,good:[A,B];bad:[C]}".
func aggregateSource(validCount int, goodIDs, badIDs []string) string {
	var b strings.Builder
	b.WriteString("Multi{cnt:")
	b.WriteString(strconv.Itoa(validCount))
	b.WriteString(",")
	if len(goodIDs) > 0 {
		b.WriteString("good:[" + strings.Join(goodIDs, ",") + "]")
	}
	if len(goodIDs) > 0 && len(badIDs) > 0 {
		b.WriteString(";")
	}
	if len(badIDs) > 0 {
		b.WriteString("bad:[" + strings.Join(badIDs, ",") + "]")
	}
	b.WriteString("}")
	return b.String()
}
