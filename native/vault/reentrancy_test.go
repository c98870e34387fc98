package vault

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"usdsvault/crypto"
	nativecommon "usdsvault/native/common"
	"usdsvault/native/strategy"
)

// reentrantStrategy calls back into the vault from the strategy hooks the
// vault invokes while its guard is held.
type reentrantStrategy struct {
	strategy.Strategy
	f        *fixture
	armed    bool
	innerErr error
}

func (s *reentrantStrategy) reenter() error {
	if !s.armed {
		return nil
	}
	_, _, err := s.f.vault.Mint(s.f.ctx, bob, "USDC", units(10, 6), big.NewInt(0), s.f.deadline())
	if err == nil {
		_, err = s.f.vault.Redeem(s.f.ctx, alice, "USDC", units(10, 18), big.NewInt(0), s.f.deadline(), crypto.Address{})
	}
	s.innerErr = err
	return err
}

func (s *reentrantStrategy) Deposit(caller crypto.Address, asset string, amount *big.Int) error {
	if err := s.reenter(); err != nil {
		return err
	}
	return s.Strategy.Deposit(caller, asset, amount)
}

func (s *reentrantStrategy) Withdraw(caller, recipient crypto.Address, asset string, amount *big.Int) (*big.Int, error) {
	if err := s.reenter(); err != nil {
		return nil, err
	}
	return s.Strategy.Withdraw(caller, recipient, asset, amount)
}

type lookupFunc func(addr crypto.Address) (strategy.Strategy, bool)

func (fn lookupFunc) Lookup(addr crypto.Address) (strategy.Strategy, bool) { return fn(addr) }

func newReentrantFixture(t *testing.T) (*fixture, *reentrantStrategy) {
	t.Helper()
	f := newFixture(t, defaultBase())
	hostile := &reentrantStrategy{Strategy: f.lending, f: f}
	f.vault.SetStrategies(lookupFunc(func(addr crypto.Address) (strategy.Strategy, bool) {
		switch addr {
		case f.lending.Address():
			return hostile, true
		case f.pool.Address():
			return f.pool, true
		}
		return nil, false
	}))
	return f, hostile
}

func (f *fixture) balances() map[string]string {
	f.t.Helper()
	supply, err := f.usds.TotalSupply()
	require.NoError(f.t, err)
	return map[string]string{
		"alice.usdc":   f.collateralOf(alice).String(),
		"bob.usdc":     f.collateralOf(bob).String(),
		"vault.usdc":   f.collateralOf(vaultAddr).String(),
		"lending.usdc": f.allocated(f.lending).String(),
		"alice.usds":   f.usdsOf(alice).String(),
		"bob.usds":     f.usdsOf(bob).String(),
		"usds.supply":  supply.String(),
	}
}

func TestAllocateRejectsReentrantMint(t *testing.T) {
	f, hostile := newReentrantFixture(t)
	f.mint(alice, units(1_000, 6))
	before := f.balances()

	hostile.armed = true
	err := f.vault.Allocate(f.ctx, allocator, "USDC", f.lending.Address(), units(400, 6))
	require.ErrorIs(t, err, nativecommon.ErrReentrantCall)
	require.ErrorIs(t, hostile.innerErr, nativecommon.ErrReentrantCall)
	require.Equal(t, before, f.balances())

	// The guard is released after the failed call.
	hostile.armed = false
	require.NoError(t, f.vault.Allocate(f.ctx, allocator, "USDC", f.lending.Address(), units(400, 6)))
	require.Equal(t, units(400, 6).String(), f.allocated(f.lending).String())
}

func TestRedeemRejectsReentrantCallFromStrategyWithdraw(t *testing.T) {
	f, hostile := newReentrantFixture(t)
	f.mint(alice, units(1_000, 6))
	require.NoError(t, f.vault.Allocate(f.ctx, allocator, "USDC", f.lending.Address(), units(800, 6)))
	before := f.balances()

	hostile.armed = true
	_, err := f.vault.Redeem(f.ctx, alice, "USDC", units(500, 18), big.NewInt(0), f.deadline(), crypto.Address{})
	require.ErrorIs(t, err, nativecommon.ErrReentrantCall)
	require.ErrorIs(t, hostile.innerErr, nativecommon.ErrReentrantCall)
	require.Equal(t, before, f.balances())

	hostile.armed = false
	result, err := f.vault.Redeem(f.ctx, alice, "USDC", units(500, 18), big.NewInt(0), f.deadline(), crypto.Address{})
	require.NoError(t, err)
	require.Equal(t, 1, result.CollateralAmt.Sign())
}
