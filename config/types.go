package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so it can be written as "24h" in both TOML and
// YAML files.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for the TOML decoder.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := string(text)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// Seconds returns the duration in whole seconds.
func (d Duration) Seconds() uint64 {
	if d.Duration <= 0 {
		return 0
	}
	return uint64(d.Duration / time.Second)
}

// Logging configures the structured logger.
type Logging struct {
	File       string `toml:"File" yaml:"file"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"max_size_mb"`
	MaxBackups int    `toml:"MaxBackups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"MaxAgeDays" yaml:"max_age_days"`
	Compress   bool   `toml:"Compress" yaml:"compress"`
}

// Telemetry configures the OTLP exporters. Exporters stay off unless an
// endpoint is set.
type Telemetry struct {
	Endpoint string `toml:"Endpoint" yaml:"endpoint"`
	Insecure bool   `toml:"Insecure" yaml:"insecure"`
	Headers  string `toml:"Headers" yaml:"headers"`
	Traces   bool   `toml:"Traces" yaml:"traces"`
	Metrics  bool   `toml:"Metrics" yaml:"metrics"`
	// SampleRatio is the fraction of vault traces kept; 0 keeps all.
	SampleRatio float64 `toml:"SampleRatio" yaml:"sample_ratio"`
}

// Oracle tunes price freshness.
type Oracle struct {
	MaxAge Duration `toml:"MaxAge" yaml:"max_age"`
}

// Dripper configures the yield smoothing schedule.
type Dripper struct {
	DripDuration Duration `toml:"DripDuration" yaml:"drip_duration"`
}

// Rebase configures the rebase gate. APR bounds are basis points.
type Rebase struct {
	Gap       Duration `toml:"Gap" yaml:"gap"`
	APRCap    uint64   `toml:"APRCap" yaml:"apr_cap"`
	APRBottom uint64   `toml:"APRBottom" yaml:"apr_bottom"`
}

// Collateral describes one collateral asset seeded at bootstrap. Fee and peg
// values are basis points.
type Collateral struct {
	Symbol             string `toml:"Symbol" yaml:"symbol"`
	Name               string `toml:"Name" yaml:"name"`
	Decimals           uint8  `toml:"Decimals" yaml:"decimals"`
	Price              string `toml:"Price" yaml:"price"`
	MintAllowed        bool   `toml:"MintAllowed" yaml:"mint_allowed"`
	RedeemAllowed      bool   `toml:"RedeemAllowed" yaml:"redeem_allowed"`
	AllocationAllowed  bool   `toml:"AllocationAllowed" yaml:"allocation_allowed"`
	BaseMintFee        uint64 `toml:"BaseMintFee" yaml:"base_mint_fee"`
	BaseRedeemFee      uint64 `toml:"BaseRedeemFee" yaml:"base_redeem_fee"`
	DownsidePeg        uint64 `toml:"DownsidePeg" yaml:"downside_peg"`
	DesiredComposition uint64 `toml:"DesiredComposition" yaml:"desired_composition"`
	DefaultStrategy    string `toml:"DefaultStrategy" yaml:"default_strategy"`
}

// StrategyAsset maps a collateral onto a strategy with its allocation cap in
// basis points of the collateral's total holdings.
type StrategyAsset struct {
	Symbol          string `toml:"Symbol" yaml:"symbol"`
	AllocationCap   uint64 `toml:"AllocationCap" yaml:"allocation_cap"`
	IntLiqThreshold string `toml:"IntLiqThreshold" yaml:"int_liq_threshold"`
}

// Strategy kinds.
const (
	StrategyLending = "lending"
	StrategyPool    = "pool"
)

// Strategy describes a yield strategy and the venue it deploys into.
type Strategy struct {
	Name                 string          `toml:"Name" yaml:"name"`
	Kind                 string          `toml:"Kind" yaml:"kind"`
	HarvestIncentiveRate uint64          `toml:"HarvestIncentiveRate" yaml:"harvest_incentive_rate"`
	DepositSlippage      uint64          `toml:"DepositSlippage" yaml:"deposit_slippage"`
	WithdrawSlippage     uint64          `toml:"WithdrawSlippage" yaml:"withdraw_slippage"`
	DepositFee           uint64          `toml:"DepositFee" yaml:"deposit_fee"`
	ExitFee              uint64          `toml:"ExitFee" yaml:"exit_fee"`
	RewardToken          string          `toml:"RewardToken" yaml:"reward_token"`
	Assets               []StrategyAsset `toml:"Asset" yaml:"assets"`
}
