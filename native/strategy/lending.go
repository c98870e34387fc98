package strategy

import (
	"fmt"
	"math/big"

	"usdsvault/core/events"
	"usdsvault/crypto"
	nativecommon "usdsvault/native/common"
)

// LendingVenue is a money market where supplied principal accrues interest
// and liquidity may be temporarily lent out.
type LendingVenue interface {
	Supply(supplier crypto.Address, asset string, amount *big.Int) error
	Withdraw(supplier crypto.Address, asset string, amount *big.Int, recipient crypto.Address) (*big.Int, error)
	BalanceOf(asset string, supplier crypto.Address) (*big.Int, error)
	AvailableLiquidity(asset string) (*big.Int, error)
	RewardsOf(holder crypto.Address) ([]RewardData, error)
	ClaimRewards(holder crypto.Address) ([]RewardData, error)
}

// LendingStrategy deploys collateral into a lending venue. Withdrawals are
// exact: a short delivery fails with ErrDidNotWithdrawEnough.
type LendingStrategy struct {
	*Base
	venue LendingVenue
}

// NewLendingStrategy constructs a lending strategy operating from address.
func NewLendingStrategy(name string, address crypto.Address, venue LendingVenue) *LendingStrategy {
	return &LendingStrategy{Base: newBase(name, address), venue: venue}
}

func (s *LendingStrategy) ready() error {
	if err := s.Base.ready(); err != nil {
		return err
	}
	if s.venue == nil {
		return errNilVenue
	}
	return nil
}

// Deposit pulls amount from the vault and supplies it to the venue.
func (s *LendingStrategy) Deposit(caller crypto.Address, asset string, amount *big.Int) error {
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
		if err := s.addAllocation(asset, data, amount); err != nil {
			return err
		}
		if err := s.pullFromVault(params.Vault, asset, amount); err != nil {
			return err
		}
		if err := s.venue.Supply(s.address, normalizeAsset(asset), amount); err != nil {
			return fmt.Errorf("strategy %s: supply: %w", s.name, err)
		}
		s.emitMovement(events.TypeStrategyDeposit, asset, amount)
		return nil
	})
}

// Withdraw returns exactly amount of principal to recipient.
func (s *LendingStrategy) Withdraw(caller, recipient crypto.Address, asset string, amount *big.Int) (*big.Int, error) {
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
		if _, err := s.requireVault(caller); err != nil {
			return err
		}
		received, err = s.withdraw(recipient, asset, amount)
		return err
	})
	return received, err
}

// WithdrawToVault lets the owner pull principal back to the vault.
func (s *LendingStrategy) WithdrawToVault(caller crypto.Address, asset string, amount *big.Int) (*big.Int, error) {
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
		received, err = s.withdraw(params.Vault, asset, amount)
		return err
	})
	return received, err
}

func (s *LendingStrategy) withdraw(recipient crypto.Address, asset string, amount *big.Int) (*big.Int, error) {
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
	received, err := s.venue.Withdraw(s.address, normalizeAsset(asset), amount, recipient)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: withdraw: %w", s.name, err)
	}
	if received.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: requested %s, received %s", ErrDidNotWithdrawEnough, amount, received)
	}
	s.emitMovement(events.TypeStrategyWithdrawal, asset, received)
	return received, nil
}

// CheckAvailableBalance returns the principal that can be withdrawn right now.
func (s *LendingStrategy) CheckAvailableBalance(asset string) (*big.Int, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	data, err := s.loadAsset(asset)
	if err != nil {
		return nil, err
	}
	liquidity, err := s.venue.AvailableLiquidity(normalizeAsset(asset))
	if err != nil {
		return nil, err
	}
	return nativecommon.Min(data.AllocatedAmt, liquidity), nil
}

// CheckInterestEarned returns the venue balance above the recorded principal.
func (s *LendingStrategy) CheckInterestEarned(asset string) (*big.Int, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	data, err := s.loadAsset(asset)
	if err != nil {
		return nil, err
	}
	balance, err := s.venue.BalanceOf(normalizeAsset(asset), s.address)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(data.AllocatedAmt) <= 0 {
		return big.NewInt(0), nil
	}
	return balance.Sub(balance, data.AllocatedAmt), nil
}

// CheckLPTokenBalance returns the interest bearing position held in the venue.
func (s *LendingStrategy) CheckLPTokenBalance(asset string) (*big.Int, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.venue.BalanceOf(normalizeAsset(asset), s.address)
}

// CheckRewardEarned lists the unclaimed venue incentives.
func (s *LendingStrategy) CheckRewardEarned() ([]RewardData, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.venue.RewardsOf(s.address)
}

// CollectInterest harvests interest above the threshold and splits it between
// the caller and the yield receiver.
func (s *LendingStrategy) CollectInterest(caller crypto.Address, asset string) error {
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
		harvested, err := s.venue.Withdraw(s.address, normalizeAsset(asset), earned, s.address)
		if err != nil {
			return fmt.Errorf("strategy %s: harvest: %w", s.name, err)
		}
		return s.splitHarvest(params, caller, asset, "interest", harvested)
	})
}

// CollectReward claims every venue incentive and splits it.
func (s *LendingStrategy) CollectReward(caller crypto.Address) error {
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
