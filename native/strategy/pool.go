package strategy

import (
	"fmt"
	"math/big"

	"usdsvault/core/events"
	"usdsvault/crypto"
	nativecommon "usdsvault/native/common"
)

// PoolVenue is a stable swap pool that issues LP tokens for single sided
// liquidity. Exits pay a fee, so withdrawals may return less than the
// underlying value of the burnt LP tokens.
type PoolVenue interface {
	AddLiquidity(provider crypto.Address, asset string, amount *big.Int) (*big.Int, error)
	RemoveLiquidity(provider crypto.Address, asset string, lpAmount *big.Int, recipient crypto.Address) (*big.Int, error)
	CalcLPForDeposit(asset string, amount *big.Int) (*big.Int, error)
	CalcLPForWithdraw(asset string, amount *big.Int) (*big.Int, error)
	CalcWithdraw(asset string, lpAmount *big.Int) (*big.Int, error)
	LPValue(asset string, lpAmount *big.Int) (*big.Int, error)
	LPBalanceOf(asset string, provider crypto.Address) (*big.Int, error)
	RewardsOf(holder crypto.Address) ([]RewardData, error)
	ClaimRewards(holder crypto.Address) ([]RewardData, error)
}

// PoolStrategy deploys collateral as single sided liquidity into a stable
// pool. Withdrawals return the actual amount received and only fail when the
// shortfall exceeds WithdrawSlippage.
type PoolStrategy struct {
	*Base
	venue PoolVenue
}

// NewPoolStrategy constructs a pool strategy operating from address.
func NewPoolStrategy(name string, address crypto.Address, venue PoolVenue) *PoolStrategy {
	return &PoolStrategy{Base: newBase(name, address), venue: venue}
}

func (s *PoolStrategy) ready() error {
	if err := s.Base.ready(); err != nil {
		return err
	}
	if s.venue == nil {
		return errNilVenue
	}
	return nil
}

func withinSlippage(actual, expected *big.Int, slippageBps uint64) bool {
	floor := nativecommon.ApplyBps(expected, nativecommon.MaxPercentage-slippageBps)
	return actual.Cmp(floor) >= 0
}

// Deposit pulls amount from the vault and adds it to the pool. The LP minted
// must stay within DepositSlippage of the quoted amount.
func (s *PoolStrategy) Deposit(caller crypto.Address, asset string, amount *big.Int) error {
	if err := s.ready(); err != nil {
		return err
	}
	release, err := s.guard.Enter()
	if err != nil {
		return err
	}
	defer release()
	if err := nativecommon.RequirePositive(amount); err != nil {
		return err
	}
	return s.state.Atomic(func() error {
		params, err := s.requireVault(caller)
		if err != nil {
			return err
		}
		data, err := s.requireSupported(asset)
		if err != nil {
			return err
		}
		symbol := normalizeAsset(asset)
		expected, err := s.venue.CalcLPForDeposit(symbol, amount)
		if err != nil {
			return err
		}
		if err := s.addAllocation(asset, data, amount); err != nil {
			return err
		}
		if err := s.pullFromVault(params.Vault, asset, amount); err != nil {
			return err
		}
		minted, err := s.venue.AddLiquidity(s.address, symbol, amount)
		if err != nil {
			return fmt.Errorf("strategy %s: add liquidity: %w", s.name, err)
		}
		if !withinSlippage(minted, expected, params.DepositSlippage) {
			return fmt.Errorf("%w: minted %s lp, expected %s", ErrSlippageExceeded, minted, expected)
		}
		s.emitMovement(events.TypeStrategyDeposit, asset, amount)
		return nil
	})
}

// Withdraw burns enough LP to cover amount and sends the proceeds to
// recipient. The returned value may be below amount.
func (s *PoolStrategy) Withdraw(caller, recipient crypto.Address, asset string, amount *big.Int) (*big.Int, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	release, err := s.guard.Enter()
	if err != nil {
		return nil, err
	}
	defer release()
	var received *big.Int
	err = s.state.Atomic(func() error {
		params, err := s.requireVault(caller)
		if err != nil {
			return err
		}
		received, err = s.withdraw(params, recipient, asset, amount)
		return err
	})
	return received, err
}

// WithdrawToVault lets the owner pull principal back to the vault.
func (s *PoolStrategy) WithdrawToVault(caller crypto.Address, asset string, amount *big.Int) (*big.Int, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := s.requireOwner(caller); err != nil {
		return nil, err
	}
	release, err := s.guard.Enter()
	if err != nil {
		return nil, err
	}
	defer release()
	var received *big.Int
	err = s.state.Atomic(func() error {
		params, err := s.loadParams()
		if err != nil {
			return err
		}
		received, err = s.withdraw(params, params.Vault, asset, amount)
		return err
	})
	return received, err
}

func (s *PoolStrategy) withdraw(params *Params, recipient crypto.Address, asset string, amount *big.Int) (*big.Int, error) {
	if err := nativecommon.RequireAddress(recipient, "recipient"); err != nil {
		return nil, err
	}
	if err := nativecommon.RequirePositive(amount); err != nil {
		return nil, err
	}
	data, err := s.requireSupported(asset)
	if err != nil {
		return nil, err
	}
	if err := s.subAllocation(asset, data, amount); err != nil {
		return nil, err
	}
	symbol := normalizeAsset(asset)
	lpAmount, err := s.venue.CalcLPForWithdraw(symbol, amount)
	if err != nil {
		return nil, err
	}
	held, err := s.venue.LPBalanceOf(symbol, s.address)
	if err != nil {
		return nil, err
	}
	if lpAmount.Cmp(held) > 0 {
		lpAmount = held
	}
	received, err := s.venue.RemoveLiquidity(s.address, symbol, lpAmount, recipient)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: remove liquidity: %w", s.name, err)
	}
	if !withinSlippage(received, amount, params.WithdrawSlippage) {
		return nil, fmt.Errorf("%w: received %s, requested %s", ErrSlippageExceeded, received, amount)
	}
	s.emitMovement(events.TypeStrategyWithdrawal, asset, received)
	return received, nil
}

// CheckAvailableBalance returns the smaller of the principal and what the
// held LP would return right now.
func (s *PoolStrategy) CheckAvailableBalance(asset string) (*big.Int, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	symbol := normalizeAsset(asset)
	data, err := s.loadAsset(symbol)
	if err != nil {
		return nil, err
	}
	held, err := s.venue.LPBalanceOf(symbol, s.address)
	if err != nil {
		return nil, err
	}
	if held.Sign() == 0 {
		return big.NewInt(0), nil
	}
	withdrawable, err := s.venue.CalcWithdraw(symbol, held)
	if err != nil {
		return nil, err
	}
	return nativecommon.Min(data.AllocatedAmt, withdrawable), nil
}

// CheckInterestEarned returns the underlying value of the held LP above the
// recorded principal.
func (s *PoolStrategy) CheckInterestEarned(asset string) (*big.Int, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	symbol := normalizeAsset(asset)
	data, err := s.loadAsset(symbol)
	if err != nil {
		return nil, err
	}
	held, err := s.venue.LPBalanceOf(symbol, s.address)
	if err != nil {
		return nil, err
	}
	value, err := s.venue.LPValue(symbol, held)
	if err != nil {
		return nil, err
	}
	if value.Cmp(data.AllocatedAmt) <= 0 {
		return big.NewInt(0), nil
	}
	return value.Sub(value, data.AllocatedAmt), nil
}

// CheckLPTokenBalance returns the LP held for asset.
func (s *PoolStrategy) CheckLPTokenBalance(asset string) (*big.Int, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.venue.LPBalanceOf(normalizeAsset(asset), s.address)
}

// CheckRewardEarned lists the unclaimed pool incentives.
func (s *PoolStrategy) CheckRewardEarned() ([]RewardData, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.venue.RewardsOf(s.address)
}

// CollectInterest burns the LP backing the earned interest and splits the
// proceeds. Amounts at or below the threshold are skipped.
func (s *PoolStrategy) CollectInterest(caller crypto.Address, asset string) error {
	if err := s.ready(); err != nil {
		return err
	}
	release, err := s.guard.Enter()
	if err != nil {
		return err
	}
	defer release()
	return s.state.Atomic(func() error {
		data, err := s.requireSupported(asset)
		if err != nil {
			return err
		}
		earned, err := s.CheckInterestEarned(asset)
		if err != nil {
			return err
		}
		if earned.Sign() == 0 || earned.Cmp(data.IntLiqThreshold) <= 0 {
			return nil
		}
		params, err := s.loadParams()
		if err != nil {
			return err
		}
		symbol := normalizeAsset(asset)
		lpAmount, err := s.venue.CalcLPForWithdraw(symbol, earned)
		if err != nil {
			return err
		}
		harvested, err := s.venue.RemoveLiquidity(s.address, symbol, lpAmount, s.address)
		if err != nil {
			return fmt.Errorf("strategy %s: harvest: %w", s.name, err)
		}
		return s.splitHarvest(params, caller, symbol, "interest", harvested)
	})
}

// CollectReward claims every pool incentive and splits it.
func (s *PoolStrategy) CollectReward(caller crypto.Address) error {
	if err := s.ready(); err != nil {
		return err
	}
	release, err := s.guard.Enter()
	if err != nil {
		return err
	}
	defer release()
	return s.state.Atomic(func() error {
		params, err := s.loadParams()
		if err != nil {
			return err
		}
		rewards, err := s.venue.ClaimRewards(s.address)
		if err != nil {
			return fmt.Errorf("strategy %s: claim: %w", s.name, err)
		}
		for _, reward := range rewards {
			if err := s.splitHarvest(params, caller, reward.Token, "reward", reward.Amount); err != nil {
				return err
			}
		}
		return nil
	})
}
