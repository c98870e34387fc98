package observability

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestErrorReasonKeepsSentinel(t *testing.T) {
	base := errors.New("vault: slippage")
	wrapped := fmt.Errorf("%w: got 1 want 2", base)
	require.Equal(t, "vault: slippage", errorReason(wrapped))
	require.Equal(t, "vault: slippage", errorReason(base))
}

func TestVaultMetricsObserve(t *testing.T) {
	m := VaultMetrics()
	m.Observe("mint", "usdc", time.Millisecond, nil)
	m.Observe("mint", "usdc", time.Millisecond, errors.New("vault: mint failed"))
	require.Equal(t, float64(1), testutil.ToFloat64(m.requests.WithLabelValues("mint", "USDC", "success")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.errors.WithLabelValues("mint", "vault: mint failed")))

	amount, _ := new(big.Int).SetString("2500000000000000000", 10)
	m.RecordVolume("redeem", "dai", amount)
	require.InDelta(t, 2.5, testutil.ToFloat64(m.volume.WithLabelValues("redeem", "DAI")), 1e-9)
}

func TestYieldMetricsRecordRebase(t *testing.T) {
	m := YieldMetrics()
	one := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	m.RecordRebase(time.Unix(1_700_000_000, 0), one, new(big.Int).Mul(one, big.NewInt(100)))
	require.Equal(t, float64(1_700_000_000), testutil.ToFloat64(m.lastRebase))
	require.Equal(t, float64(100), testutil.ToFloat64(m.totalSupply))
	m.RecordRebase(time.Unix(1_800_000_000, 0), big.NewInt(0), nil)
	require.Equal(t, float64(1_700_000_000), testutil.ToFloat64(m.lastRebase))
}
