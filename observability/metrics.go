package observability

import (
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	vaultMetricsOnce sync.Once
	vaultRegistry    *VaultMetricsRegistry

	yieldMetricsOnce sync.Once
	yieldRegistry    *YieldMetricsRegistry
)

// usdsScale converts 18 decimal USDs amounts into whole units for gauges.
var usdsScale = new(big.Float).SetFloat64(1e18)

// VaultMetricsRegistry captures vault entry point activity.
type VaultMetricsRegistry struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	volume   *prometheus.CounterVec
}

// VaultMetrics returns the lazily-initialised registry for vault operations.
func VaultMetrics() *VaultMetricsRegistry {
	vaultMetricsOnce.Do(func() {
		vaultRegistry = &VaultMetricsRegistry{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "usds",
				Subsystem: "vault",
				Name:      "requests_total",
				Help:      "Count of vault operations segmented by operation, collateral and outcome.",
			}, []string{"operation", "collateral", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "usds",
				Subsystem: "vault",
				Name:      "errors_total",
				Help:      "Count of vault failures segmented by operation and reason.",
			}, []string{"operation", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "usds",
				Subsystem: "vault",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for vault operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			volume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "usds",
				Subsystem: "vault",
				Name:      "usds_volume_total",
				Help:      "USDs minted or burned through the vault in whole units.",
			}, []string{"operation", "collateral"}),
		}
		prometheus.MustRegister(
			vaultRegistry.requests,
			vaultRegistry.errors,
			vaultRegistry.latency,
			vaultRegistry.volume,
		)
	})
	return vaultRegistry
}

// Observe records the outcome of a vault operation.
func (m *VaultMetricsRegistry) Observe(operation, collateral string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op := labelOrUnknown(operation)
	asset := labelOrUnknown(strings.ToUpper(collateral))
	outcome := "success"
	if err != nil {
		outcome = "error"
		m.errors.WithLabelValues(op, labelOrUnknown(errorReason(err))).Inc()
	}
	m.requests.WithLabelValues(op, asset, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordVolume adds an 18 decimal USDs amount to the volume counter.
func (m *VaultMetricsRegistry) RecordVolume(operation, collateral string, amount *big.Int) {
	if m == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	m.volume.WithLabelValues(labelOrUnknown(operation), labelOrUnknown(strings.ToUpper(collateral))).Add(toUnits(amount))
}

// YieldMetricsRegistry tracks rebase and drip activity.
type YieldMetricsRegistry struct {
	rebased     prometheus.Counter
	lastRebase  prometheus.Gauge
	totalSupply prometheus.Gauge
}

// YieldMetrics returns the lazily-initialised registry for yield distribution.
func YieldMetrics() *YieldMetricsRegistry {
	yieldMetricsOnce.Do(func() {
		yieldRegistry = &YieldMetricsRegistry{
			rebased: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "usds",
				Subsystem: "yield",
				Name:      "rebased_total",
				Help:      "USDs distributed to rebasing holders in whole units.",
			}),
			lastRebase: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "usds",
				Subsystem: "yield",
				Name:      "last_rebase_timestamp_seconds",
				Help:      "Unix timestamp of the most recent non-zero rebase.",
			}),
			totalSupply: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "usds",
				Subsystem: "yield",
				Name:      "total_supply",
				Help:      "USDs total supply in whole units after the last rebase.",
			}),
		}
		prometheus.MustRegister(yieldRegistry.rebased, yieldRegistry.lastRebase, yieldRegistry.totalSupply)
	})
	return yieldRegistry
}

// RecordRebase records a distributed amount and the resulting supply.
func (m *YieldMetricsRegistry) RecordRebase(at time.Time, amount, totalSupply *big.Int) {
	if m == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	m.rebased.Add(toUnits(amount))
	m.lastRebase.Set(float64(at.Unix()))
	if totalSupply != nil {
		m.totalSupply.Set(toUnits(totalSupply))
	}
}

func labelOrUnknown(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}

// errorReason keeps the leading sentinel of a wrapped error so the label set
// stays bounded.
func errorReason(err error) string {
	reason := err.Error()
	if idx := strings.Index(reason, ": "); idx > 0 {
		if next := strings.Index(reason[idx+2:], ": "); next > 0 {
			return reason[:idx+2+next]
		}
	}
	return reason
}

func toUnits(amount *big.Int) float64 {
	value, _ := new(big.Float).Quo(new(big.Float).SetInt(amount), usdsScale).Float64()
	if math.IsInf(value, 0) || math.IsNaN(value) {
		return 0
	}
	return value
}
