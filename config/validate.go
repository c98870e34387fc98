package config

import (
	"fmt"
	"math/big"
	"strings"

	"usdsvault/crypto"
)

// MaxPercentage is the basis point denominator used by every percentage knob.
const MaxPercentage = 10_000

// Accounts holds the decoded protocol accounts.
type Accounts struct {
	Owner         crypto.Address
	Allocator     crypto.Address
	FeeVault      crypto.Address
	YieldReceiver crypto.Address
}

// Accounts decodes the configured account addresses.
func (c *Config) Accounts() (Accounts, error) {
	var out Accounts
	fields := []struct {
		name  string
		value string
		dst   *crypto.Address
	}{
		{"Owner", c.Owner, &out.Owner},
		{"Allocator", c.Allocator, &out.Allocator},
		{"FeeVault", c.FeeVault, &out.FeeVault},
		{"YieldReceiver", c.YieldReceiver, &out.YieldReceiver},
	}
	for _, field := range fields {
		if strings.TrimSpace(field.value) == "" {
			return out, fmt.Errorf("config: %s is required", field.name)
		}
		addr, err := crypto.DecodeAddress(field.value)
		if err != nil {
			return out, fmt.Errorf("config: %s: %w", field.name, err)
		}
		*field.dst = addr
	}
	return out, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if _, err := c.Accounts(); err != nil {
		return err
	}
	if c.Rebase.APRBottom > c.Rebase.APRCap {
		return fmt.Errorf("rebase: apr_bottom %d above apr_cap %d", c.Rebase.APRBottom, c.Rebase.APRCap)
	}
	if c.Dripper.DripDuration.Seconds() == 0 {
		return fmt.Errorf("dripper: drip_duration must be at least one second")
	}
	strategies := make(map[string]Strategy, len(c.Strategies))
	for _, s := range c.Strategies {
		if s.Name == "" {
			return fmt.Errorf("strategy: name required")
		}
		if _, dup := strategies[s.Name]; dup {
			return fmt.Errorf("strategy %s: duplicate name", s.Name)
		}
		switch s.Kind {
		case StrategyLending, StrategyPool:
		default:
			return fmt.Errorf("strategy %s: unknown kind %q", s.Name, s.Kind)
		}
		for field, bps := range map[string]uint64{
			"harvest_incentive_rate": s.HarvestIncentiveRate,
			"deposit_slippage":       s.DepositSlippage,
			"withdraw_slippage":      s.WithdrawSlippage,
			"deposit_fee":            s.DepositFee,
			"exit_fee":               s.ExitFee,
		} {
			if bps > MaxPercentage {
				return fmt.Errorf("strategy %s: %s %d exceeds %d", s.Name, field, bps, MaxPercentage)
			}
		}
		for _, asset := range s.Assets {
			if asset.IntLiqThreshold == "" {
				continue
			}
			if _, ok := new(big.Int).SetString(asset.IntLiqThreshold, 10); !ok {
				return fmt.Errorf("strategy %s: invalid int_liq_threshold %q", s.Name, asset.IntLiqThreshold)
			}
		}
		strategies[s.Name] = s
	}

	seen := make(map[string]struct{}, len(c.Collaterals))
	var composition uint64
	for _, coll := range c.Collaterals {
		if coll.Symbol == "" {
			return fmt.Errorf("collateral: symbol required")
		}
		if _, dup := seen[coll.Symbol]; dup {
			return fmt.Errorf("collateral %s: duplicate symbol", coll.Symbol)
		}
		seen[coll.Symbol] = struct{}{}
		if coll.Decimals > 18 {
			return fmt.Errorf("collateral %s: decimals %d exceed 18", coll.Symbol, coll.Decimals)
		}
		if rat, ok := new(big.Rat).SetString(coll.Price); !ok || rat.Sign() <= 0 {
			return fmt.Errorf("collateral %s: invalid price %q", coll.Symbol, coll.Price)
		}
		for field, bps := range map[string]uint64{
			"base_mint_fee":       coll.BaseMintFee,
			"base_redeem_fee":     coll.BaseRedeemFee,
			"downside_peg":        coll.DownsidePeg,
			"desired_composition": coll.DesiredComposition,
		} {
			if bps > MaxPercentage {
				return fmt.Errorf("collateral %s: %s %d exceeds %d", coll.Symbol, field, bps, MaxPercentage)
			}
		}
		composition += coll.DesiredComposition
		if composition > MaxPercentage {
			return fmt.Errorf("collateral: desired compositions sum past %d", MaxPercentage)
		}
		if coll.DefaultStrategy != "" {
			s, ok := strategies[strings.ToLower(coll.DefaultStrategy)]
			if !ok {
				return fmt.Errorf("collateral %s: default strategy %q not configured", coll.Symbol, coll.DefaultStrategy)
			}
			if !s.supports(coll.Symbol) {
				return fmt.Errorf("collateral %s: default strategy %q does not list it", coll.Symbol, coll.DefaultStrategy)
			}
		}
	}

	caps := make(map[string]uint64)
	for _, s := range c.Strategies {
		for _, asset := range s.Assets {
			if _, ok := seen[asset.Symbol]; !ok {
				return fmt.Errorf("strategy %s: asset %s is not a collateral", s.Name, asset.Symbol)
			}
			caps[asset.Symbol] += asset.AllocationCap
			if caps[asset.Symbol] > MaxPercentage {
				return fmt.Errorf("collateral %s: allocation caps sum past %d", asset.Symbol, MaxPercentage)
			}
		}
	}
	return nil
}

func (s Strategy) supports(symbol string) bool {
	for _, asset := range s.Assets {
		if asset.Symbol == symbol {
			return true
		}
	}
	return false
}
