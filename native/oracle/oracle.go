package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrPriceFeedNotFound is returned when no feed is registered for a token.
	ErrPriceFeedNotFound = errors.New("oracle: price feed not found")
	// ErrNoFreshQuote indicates that no source produced a quote within the
	// configured freshness window.
	ErrNoFreshQuote = errors.New("oracle: no fresh quote available")
	// ErrInvalidPrice is returned for zero or negative prices and precisions.
	ErrInvalidPrice = errors.New("oracle: invalid price")
)

// PricePrecision is the precision used by operator pushed quotes, matching the
// eight decimals common to USD feeds.
var PricePrecision = big.NewInt(100_000_000)

// PriceData is a price expressed as Price/Precision USD per whole token.
type PriceData struct {
	Price     *big.Int
	Precision *big.Int
}

// Clone returns a deep copy of the price.
func (p PriceData) Clone() PriceData {
	out := PriceData{}
	if p.Price != nil {
		out.Price = new(big.Int).Set(p.Price)
	}
	if p.Precision != nil {
		out.Precision = new(big.Int).Set(p.Precision)
	}
	return out
}

// Valid reports whether both price and precision are positive.
func (p PriceData) Valid() bool {
	return p.Price != nil && p.Precision != nil && p.Price.Sign() > 0 && p.Precision.Sign() > 0
}

// Rat renders the price as a rational number.
func (p PriceData) Rat() *big.Rat {
	if !p.Valid() {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac(p.Price, p.Precision)
}

// PriceOracle resolves the USD price of a token. Implementations must fail
// rather than return a zero or stale price.
type PriceOracle interface {
	GetPrice(token string) (PriceData, error)
}

// MasterOracle routes price requests to the feed registered for each token.
type MasterOracle struct {
	mu    sync.RWMutex
	feeds map[string]PriceOracle
}

// NewMasterOracle constructs an oracle without any feeds.
func NewMasterOracle() *MasterOracle {
	return &MasterOracle{feeds: make(map[string]PriceOracle)}
}

// SetFeed registers feed as the price source for token.
func (m *MasterOracle) SetFeed(token string, feed PriceOracle) error {
	if m == nil {
		return fmt.Errorf("oracle: master oracle not configured")
	}
	symbol := normaliseSymbol(token)
	if symbol == "" {
		return fmt.Errorf("oracle: token required")
	}
	if feed == nil {
		return fmt.Errorf("oracle: feed required for %s", symbol)
	}
	m.mu.Lock()
	m.feeds[symbol] = feed
	m.mu.Unlock()
	return nil
}

// RemoveFeed unregisters the feed for token.
func (m *MasterOracle) RemoveFeed(token string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	delete(m.feeds, normaliseSymbol(token))
	m.mu.Unlock()
}

// PriceFeedExists reports whether a feed is registered for token.
func (m *MasterOracle) PriceFeedExists(token string) bool {
	if m == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.feeds[normaliseSymbol(token)]
	return ok
}

// Tokens lists the tokens with a registered feed.
func (m *MasterOracle) Tokens() []string {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	out := make([]string, 0, len(m.feeds))
	for token := range m.feeds {
		out = append(out, token)
	}
	m.mu.RUnlock()
	sort.Strings(out)
	return out
}

// GetPrice implements PriceOracle.
func (m *MasterOracle) GetPrice(token string) (PriceData, error) {
	if m == nil {
		return PriceData{}, fmt.Errorf("oracle: master oracle not configured")
	}
	symbol := normaliseSymbol(token)
	m.mu.RLock()
	feed := m.feeds[symbol]
	m.mu.RUnlock()
	if feed == nil {
		return PriceData{}, fmt.Errorf("%w: %s", ErrPriceFeedNotFound, symbol)
	}
	price, err := feed.GetPrice(symbol)
	if err != nil {
		return PriceData{}, fmt.Errorf("oracle: %s: %w", symbol, err)
	}
	if !price.Valid() {
		return PriceData{}, fmt.Errorf("%w: %s", ErrInvalidPrice, symbol)
	}
	return price.Clone(), nil
}

func normaliseSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Quote is a single observation reported by a price source.
type Quote struct {
	Price     PriceData
	Timestamp time.Time
	Source    string
}

// Clone returns a deep copy of the quote.
func (q Quote) Clone() Quote {
	return Quote{Price: q.Price.Clone(), Timestamp: q.Timestamp, Source: q.Source}
}

// Source produces quotes for a token.
type Source interface {
	Quote(token string) (Quote, error)
}

// StaticSource holds operator pushed quotes. It is used for bootstrap
// configuration, the CLI and tests.
type StaticSource struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewStaticSource constructs an empty static source.
func NewStaticSource() *StaticSource {
	return &StaticSource{quotes: make(map[string]Quote)}
}

// SetPrice stores price/precision for token observed at ts.
func (s *StaticSource) SetPrice(token string, price, precision *big.Int, ts time.Time) error {
	if s == nil {
		return fmt.Errorf("oracle: static source not configured")
	}
	symbol := normaliseSymbol(token)
	if symbol == "" {
		return fmt.Errorf("oracle: token required")
	}
	data := PriceData{Price: price, Precision: precision}
	if !data.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidPrice, symbol)
	}
	s.mu.Lock()
	s.quotes[symbol] = Quote{Price: data.Clone(), Timestamp: ts, Source: "static"}
	s.mu.Unlock()
	return nil
}

// SetDecimal parses a decimal USD price such as "0.9985" and stores it with
// PricePrecision.
func (s *StaticSource) SetDecimal(token, price string, ts time.Time) error {
	trimmed := strings.TrimSpace(price)
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok || rat.Sign() <= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidPrice, price)
	}
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(PricePrecision))
	value := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	return s.SetPrice(token, value, PricePrecision, ts)
}

// Quote implements Source.
func (s *StaticSource) Quote(token string) (Quote, error) {
	if s == nil {
		return Quote{}, fmt.Errorf("oracle: static source not configured")
	}
	symbol := normaliseSymbol(token)
	s.mu.RLock()
	stored, ok := s.quotes[symbol]
	s.mu.RUnlock()
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrPriceFeedNotFound, symbol)
	}
	return stored.Clone(), nil
}

// GetPrice lets a static source act as a feed directly.
func (s *StaticSource) GetPrice(token string) (PriceData, error) {
	quote, err := s.Quote(token)
	if err != nil {
		return PriceData{}, err
	}
	return quote.Price, nil
}
