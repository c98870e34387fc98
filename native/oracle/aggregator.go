package oracle

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"
)

const defaultHistoryCap = 128

// Aggregator consults a list of registered sources in priority order until a
// fresh quote is obtained. Accepted quotes are kept in a bounded history used
// by Median.
type Aggregator struct {
	mu         sync.RWMutex
	priority   []string
	sources    map[string]Source
	maxAge     time.Duration
	history    map[string][]Quote
	historyCap int
	clock      func() time.Time
}

// NewAggregator constructs an aggregator with the provided priority and
// freshness window. A zero maxAge disables the freshness check.
func NewAggregator(priority []string, maxAge time.Duration) *Aggregator {
	prio := make([]string, 0, len(priority))
	for _, name := range priority {
		if trimmed := strings.ToLower(strings.TrimSpace(name)); trimmed != "" {
			prio = append(prio, trimmed)
		}
	}
	return &Aggregator{
		priority:   prio,
		sources:    make(map[string]Source),
		maxAge:     maxAge,
		history:    make(map[string][]Quote),
		historyCap: defaultHistoryCap,
		clock:      time.Now,
	}
}

// SetClock overrides the time source used for freshness checks.
func (a *Aggregator) SetClock(clock func() time.Time) {
	if a == nil || clock == nil {
		return
	}
	a.mu.Lock()
	a.clock = clock
	a.mu.Unlock()
}

// SetMaxAge updates the freshness window.
func (a *Aggregator) SetMaxAge(maxAge time.Duration) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.maxAge = maxAge
	a.mu.Unlock()
}

// SetHistoryCap bounds the stored sample count per token. A non-positive value
// resets the cap to the default.
func (a *Aggregator) SetHistoryCap(limit int) {
	if a == nil {
		return
	}
	if limit <= 0 {
		limit = defaultHistoryCap
	}
	a.mu.Lock()
	a.historyCap = limit
	a.mu.Unlock()
}

// Register adds or replaces a source under name. Unknown names are appended to
// the end of the priority list.
func (a *Aggregator) Register(name string, source Source) {
	if a == nil {
		return
	}
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" || source == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sources[trimmed] = source
	for _, entry := range a.priority {
		if entry == trimmed {
			return
		}
	}
	a.priority = append(a.priority, trimmed)
}

// GetPrice implements PriceOracle by returning the first fresh quote in
// priority order.
func (a *Aggregator) GetPrice(token string) (PriceData, error) {
	if a == nil {
		return PriceData{}, fmt.Errorf("oracle: aggregator not configured")
	}
	symbol := normaliseSymbol(token)
	if symbol == "" {
		return PriceData{}, fmt.Errorf("oracle: token required")
	}
	a.mu.RLock()
	priority := append([]string{}, a.priority...)
	maxAge := a.maxAge
	now := a.clock()
	a.mu.RUnlock()

	var lastErr error
	cutoff := now.Add(-maxAge)
	for _, name := range priority {
		a.mu.RLock()
		source := a.sources[name]
		a.mu.RUnlock()
		if source == nil {
			continue
		}
		quote, err := source.Quote(symbol)
		if err != nil {
			lastErr = err
			continue
		}
		if !quote.Price.Valid() {
			lastErr = fmt.Errorf("%w: source %s", ErrInvalidPrice, name)
			continue
		}
		if maxAge > 0 && quote.Timestamp.Before(cutoff) {
			lastErr = ErrNoFreshQuote
			continue
		}
		result := quote.Clone()
		if strings.TrimSpace(result.Source) == "" {
			result.Source = name
		}
		a.recordSample(symbol, result)
		return result.Price, nil
	}
	if lastErr == nil {
		lastErr = ErrNoFreshQuote
	}
	return PriceData{}, lastErr
}

func (a *Aggregator) recordSample(token string, quote Quote) {
	a.mu.Lock()
	defer a.mu.Unlock()
	bucket := append(a.history[token], quote)
	if a.historyCap > 0 && len(bucket) > a.historyCap {
		bucket = append([]Quote{}, bucket[len(bucket)-a.historyCap:]...)
	}
	a.history[token] = bucket
}

// Median returns the median of the accepted quotes for token expressed with
// PricePrecision.
func (a *Aggregator) Median(token string) (PriceData, error) {
	if a == nil {
		return PriceData{}, fmt.Errorf("oracle: aggregator not configured")
	}
	symbol := normaliseSymbol(token)
	a.mu.RLock()
	samples := append([]Quote{}, a.history[symbol]...)
	a.mu.RUnlock()
	if len(samples) == 0 {
		return PriceData{}, ErrNoFreshQuote
	}
	values := make([]*big.Rat, 0, len(samples))
	for _, sample := range samples {
		values = append(values, sample.Price.Rat())
	}
	sort.Slice(values, func(i, j int) bool { return values[i].Cmp(values[j]) < 0 })
	mid := len(values) / 2
	median := new(big.Rat).Set(values[mid])
	if len(values)%2 == 0 {
		median.Add(values[mid-1], values[mid])
		median.Quo(median, big.NewRat(2, 1))
	}
	scaled := median.Mul(median, new(big.Rat).SetInt(PricePrecision))
	return PriceData{
		Price:     new(big.Int).Quo(scaled.Num(), scaled.Denom()),
		Precision: new(big.Int).Set(PricePrecision),
	}, nil
}

// Observations reports the number of accepted quotes retained for token.
func (a *Aggregator) Observations(token string) int {
	if a == nil {
		return 0
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.history[normaliseSymbol(token)])
}
