package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"
)

type sourceFunc func(token string) (Quote, error)

func (f sourceFunc) Quote(token string) (Quote, error) { return f(token) }

func TestStaticSourceDecimal(t *testing.T) {
	src := NewStaticSource()
	now := time.Now().UTC()
	if err := src.SetDecimal("usdc", "0.9985", now); err != nil {
		t.Fatalf("set price: %v", err)
	}
	price, err := src.GetPrice("USDC")
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if price.Price.Int64() != 99_850_000 || price.Precision.Cmp(PricePrecision) != 0 {
		t.Fatalf("unexpected price: %s/%s", price.Price, price.Precision)
	}
	if err := src.SetDecimal("usdc", "-1", now); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
}

func TestMasterOracleRequiresFeed(t *testing.T) {
	master := NewMasterOracle()
	if _, err := master.GetPrice("DAI"); !errors.Is(err, ErrPriceFeedNotFound) {
		t.Fatalf("expected ErrPriceFeedNotFound, got %v", err)
	}
	src := NewStaticSource()
	if err := src.SetPrice("DAI", big.NewInt(1), big.NewInt(1), time.Now()); err != nil {
		t.Fatalf("set price: %v", err)
	}
	if err := master.SetFeed("dai", src); err != nil {
		t.Fatalf("set feed: %v", err)
	}
	if !master.PriceFeedExists("DAI") {
		t.Fatalf("expected feed to exist")
	}
	if _, err := master.GetPrice("dai"); err != nil {
		t.Fatalf("get price: %v", err)
	}
	master.RemoveFeed("DAI")
	if master.PriceFeedExists("DAI") {
		t.Fatalf("expected feed removal")
	}
}

func TestAggregatorStaleQuote(t *testing.T) {
	src := NewStaticSource()
	agg := NewAggregator([]string{"static"}, time.Second)
	agg.Register("static", src)
	if err := src.SetDecimal("USDT", "1", time.Now().Add(-2*time.Second)); err != nil {
		t.Fatalf("set price: %v", err)
	}
	if _, err := agg.GetPrice("USDT"); !errors.Is(err, ErrNoFreshQuote) {
		t.Fatalf("expected ErrNoFreshQuote, got %v", err)
	}
}

func TestAggregatorPriorityFallback(t *testing.T) {
	src := NewStaticSource()
	agg := NewAggregator([]string{"primary", "static"}, 5*time.Minute)
	agg.Register("primary", sourceFunc(func(string) (Quote, error) {
		return Quote{}, fmt.Errorf("primary down")
	}))
	agg.Register("static", src)
	if err := src.SetDecimal("USDT", "1.001", time.Now()); err != nil {
		t.Fatalf("set price: %v", err)
	}
	price, err := agg.GetPrice("usdt")
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if price.Price.Int64() != 100_100_000 {
		t.Fatalf("unexpected price %s", price.Price)
	}
	if agg.Observations("USDT") != 1 {
		t.Fatalf("expected recorded observation")
	}
}

func TestAggregatorMedian(t *testing.T) {
	src := NewStaticSource()
	agg := NewAggregator(nil, 0)
	agg.Register("static", src)
	for _, p := range []string{"1.00", "0.90", "1.10", "0.98"} {
		if err := src.SetDecimal("DAI", p, time.Now()); err != nil {
			t.Fatalf("set price: %v", err)
		}
		if _, err := agg.GetPrice("DAI"); err != nil {
			t.Fatalf("get price: %v", err)
		}
	}
	median, err := agg.Median("DAI")
	if err != nil {
		t.Fatalf("median: %v", err)
	}
	if median.Price.Int64() != 99_000_000 {
		t.Fatalf("unexpected median %s", median.Price)
	}
	if _, err := agg.Median("FRAX"); !errors.Is(err, ErrNoFreshQuote) {
		t.Fatalf("expected ErrNoFreshQuote for empty history, got %v", err)
	}
}
