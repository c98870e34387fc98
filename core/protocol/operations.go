package protocol

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"usdsvault/crypto"
	nativecommon "usdsvault/native/common"
	"usdsvault/native/strategy"
)

var pricePrefix = []byte("protocol/price/")

func priceKey(symbol string) []byte {
	return append(append([]byte(nil), pricePrefix...), symbol...)
}

func (p *Protocol) storedPrice(symbol string) (string, bool, error) {
	var price string
	ok, err := p.State.KVGet(priceKey(symbol), &price)
	if err != nil {
		return "", false, err
	}
	return price, ok && price != "", nil
}

// SetPrice records an operator price for a collateral as a decimal USD
// value. The price survives restarts of the process.
func (p *Protocol) SetPrice(caller crypto.Address, symbol, price string) error {
	if err := nativecommon.RequireRole(p.State, nativecommon.RoleOwner, caller); err != nil {
		return err
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if _, ok := p.collateralConfig(symbol); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCollateral, symbol)
	}
	return p.State.Atomic(func() error {
		if err := p.Prices.SetDecimal(symbol, price, p.clock()); err != nil {
			return err
		}
		return p.State.KVPut(priceKey(symbol), strings.TrimSpace(price))
	})
}

// SetPaused toggles the pause switch of a module. Only owners may call it.
func (p *Protocol) SetPaused(caller crypto.Address, module string, paused bool) error {
	if err := nativecommon.RequireRole(p.State, nativecommon.RoleOwner, caller); err != nil {
		return err
	}
	return p.State.Atomic(func() error {
		return p.State.SetPaused(module, paused)
	})
}

// Faucet credits amount of a collateral token to recipient. Only owners may
// call it.
func (p *Protocol) Faucet(caller, recipient crypto.Address, symbol string, amount *big.Int) error {
	if err := nativecommon.RequireRole(p.State, nativecommon.RoleOwner, caller); err != nil {
		return err
	}
	if err := nativecommon.RequireAddress(recipient, "recipient"); err != nil {
		return err
	}
	if err := nativecommon.RequirePositive(amount); err != nil {
		return err
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if _, ok := p.collateralConfig(symbol); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCollateral, symbol)
	}
	return p.State.Atomic(func() error {
		return p.State.MintToken(symbol, recipient, amount)
	})
}

// FundDripper moves amount of caller's USDs into the dripper schedule.
func (p *Protocol) FundDripper(caller crypto.Address, amount *big.Int) error {
	return p.Dripper.AddUSDs(caller, amount)
}

// HarvestResult lists the strategy harvests that ran. Minted holds the USDs
// the yield reserve minted from harvested interest.
type HarvestResult struct {
	Strategy string
	Interest map[string]*big.Int
	Rewards  []strategy.RewardData
	Minted   map[string]*big.Int
}

// Harvest collects interest for every supported asset and then the venue
// rewards of the named strategy. caller receives the harvest incentive. When
// the yield reserve receives the yield, harvested collateral is minted into
// USDs for the dripper. A failed mint leaves the collateral in the reserve.
func (p *Protocol) Harvest(ctx context.Context, caller crypto.Address, name string) (*HarvestResult, error) {
	entry, ok := p.strategies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
	result := &HarvestResult{Strategy: name, Interest: make(map[string]*big.Int), Minted: make(map[string]*big.Int)}
	err := p.State.Atomic(func() error {
		for _, asset := range entry.cfg.Assets {
			earned, err := entry.impl.CheckInterestEarned(asset.Symbol)
			if err != nil {
				return err
			}
			if err := entry.impl.CollectInterest(caller, asset.Symbol); err != nil {
				return err
			}
			result.Interest[asset.Symbol] = earned
		}
		rewards, err := entry.impl.CheckRewardEarned()
		if err != nil {
			return err
		}
		if len(rewards) == 0 {
			return nil
		}
		if err := entry.impl.CollectReward(caller); err != nil {
			return err
		}
		result.Rewards = rewards
		return nil
	})
	if err != nil {
		return nil, err
	}
	if p.accounts.YieldReceiver != ReserveAddress {
		return result, nil
	}
	for _, asset := range entry.cfg.Assets {
		if earned := result.Interest[asset.Symbol]; earned == nil || earned.Sign() == 0 {
			continue
		}
		minted, err := p.Reserve.MintUSDs(ctx, asset.Symbol)
		if err != nil {
			p.logger.WarnContext(ctx, "yield reserve mint failed", "strategy", name, "asset", asset.Symbol, "error", err)
			continue
		}
		result.Minted[asset.Symbol] = minted
	}
	return result, nil
}

// ReserveMint converts the reserve's balance of collateral into dripper USDs.
func (p *Protocol) ReserveMint(ctx context.Context, collateral string) (*big.Int, error) {
	return p.Reserve.MintUSDs(ctx, collateral)
}

// ReserveSwap sells reserve collateral for caller's USDs at oracle prices.
func (p *Protocol) ReserveSwap(ctx context.Context, caller crypto.Address, src, dst string, amountIn, minAmountOut *big.Int) (*big.Int, error) {
	return p.Reserve.Swap(ctx, caller, src, dst, amountIn, minAmountOut)
}

// AccrueYield simulates venue performance: amount of interest (lending) or
// trading fees (pool) for asset, plus an optional reward amount in the
// strategy's reward token.
func (p *Protocol) AccrueYield(caller crypto.Address, name, asset string, interest, reward *big.Int) error {
	if err := nativecommon.RequireRole(p.State, nativecommon.RoleOwner, caller); err != nil {
		return err
	}
	entry, ok := p.strategies[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
	asset = strings.ToUpper(strings.TrimSpace(asset))
	return p.State.Atomic(func() error {
		if interest != nil && interest.Sign() > 0 {
			var err error
			switch {
			case entry.lending != nil:
				err = entry.lending.AccrueInterest(asset, interest)
			case entry.pool != nil:
				err = entry.pool.AccrueYield(asset, interest)
			}
			if err != nil {
				return err
			}
		}
		if reward == nil || reward.Sign() == 0 {
			return nil
		}
		if entry.cfg.RewardToken == "" {
			return fmt.Errorf("protocol: strategy %s has no reward token", name)
		}
		holder := entry.impl.Address()
		switch {
		case entry.lending != nil:
			return entry.lending.AccrueReward(holder, entry.cfg.RewardToken, reward)
		case entry.pool != nil:
			return entry.pool.AccrueReward(holder, entry.cfg.RewardToken, reward)
		}
		return nil
	})
}
