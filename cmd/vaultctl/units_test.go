package main

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"usdsvault/config"
	"usdsvault/crypto"
)

func TestParseUnits(t *testing.T) {
	cases := []struct {
		in       string
		decimals uint8
		want     string
		wantErr  bool
	}{
		{in: "1", decimals: 6, want: "1000000"},
		{in: "12.5", decimals: 6, want: "12500000"},
		{in: ".25", decimals: 18, want: "250000000000000000"},
		{in: " 7 ", decimals: 0, want: "7"},
		{in: "0.0000001", decimals: 6, wantErr: true},
		{in: "-1", decimals: 6, wantErr: true},
		{in: "abc", decimals: 6, wantErr: true},
		{in: "", decimals: 6, wantErr: true},
	}
	for _, tc := range cases {
		got, err := parseUnits(tc.in, tc.decimals)
		if tc.wantErr {
			require.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got.String(), tc.in)
	}
}

func TestFormatUnits(t *testing.T) {
	require.Equal(t, "12.5", formatUnits(big.NewInt(12_500_000), 6))
	require.Equal(t, "0.000001", formatUnits(big.NewInt(1), 6))
	require.Equal(t, "3", formatUnits(big.NewInt(3_000_000), 6))
	require.Equal(t, "-0.5", formatUnits(big.NewInt(-500_000), 6))
	require.Equal(t, "42", formatUnits(big.NewInt(42), 0))
	require.Equal(t, "0", formatUnits(nil, 6))
}

func TestResolveAccount(t *testing.T) {
	named, err := resolveAccount("alice")
	require.NoError(t, err)
	require.Equal(t, crypto.ModuleAddress("account/alice"), named)

	byAddr, err := resolveAccount(named.String())
	require.NoError(t, err)
	require.Equal(t, named, byAddr)

	_, err = resolveAccount("usds1notanaddress")
	require.Error(t, err)
	_, err = resolveAccount("0xzz")
	require.Error(t, err)
	_, err = resolveAccount("  ")
	require.Error(t, err)
}

func TestTelemetryAttributesDescribeDeployment(t *testing.T) {
	cfg := config.Default()
	attrs := telemetryAttributes(cfg)
	require.Equal(t, "USDC", attrs["collaterals"])
	require.Equal(t, "lending,pool", attrs["strategies"])
	require.Equal(t, cfg.YieldReceiver, attrs["yieldReceiver"])
	require.NotEmpty(t, attrs["vault"])
}
