package strategy_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"usdsvault/core/state"
	"usdsvault/crypto"
	nativecommon "usdsvault/native/common"
	"usdsvault/native/strategy"
	"usdsvault/native/venues"
	"usdsvault/storage"
)

var (
	owner     = crypto.ModuleAddress("owner")
	vault     = crypto.ModuleAddress("vault")
	receiver  = crypto.ModuleAddress("yield-receiver")
	harvester = crypto.ModuleAddress("harvester")
	borrower  = crypto.ModuleAddress("borrower")
)

func newState(t *testing.T) *state.Manager {
	t.Helper()
	st := state.NewManager(storage.NewMemDB())
	require.NoError(t, st.SetRole(nativecommon.RoleOwner, owner, true))
	require.NoError(t, st.RegisterToken("USDC", "USD Coin", 6))
	require.NoError(t, st.RegisterToken("RWD", "Reward", 18))
	require.NoError(t, st.MintToken("USDC", vault, big.NewInt(10_000_000)))
	return st
}

func defaultParams() strategy.Params {
	return strategy.Params{
		Vault:                vault,
		YieldReceiver:        receiver,
		HarvestIncentiveRate: 1_000,
		DepositSlippage:      50,
		WithdrawSlippage:     50,
	}
}

func balance(t *testing.T, st *state.Manager, symbol string, addr crypto.Address) int64 {
	t.Helper()
	bal, err := st.Balance(symbol, addr)
	require.NoError(t, err)
	return bal.Int64()
}

type lendingFixture struct {
	st    *state.Manager
	pool  *venues.LendingPool
	strat *strategy.LendingStrategy
}

func newLendingFixture(t *testing.T) *lendingFixture {
	t.Helper()
	st := newState(t)
	pool := venues.NewLendingPool(crypto.ModuleAddress("lending-pool"))
	pool.SetState(st)
	require.NoError(t, pool.ListMarket("USDC"))
	strat := strategy.NewLendingStrategy("Lending", crypto.ModuleAddress("strategy/lending"), pool)
	strat.SetState(st)
	require.NoError(t, strat.Initialize(defaultParams()))
	require.NoError(t, strat.SupportAsset(owner, "usdc", big.NewInt(0)))
	return &lendingFixture{st: st, pool: pool, strat: strat}
}

func TestLendingDepositAccounting(t *testing.T) {
	f := newLendingFixture(t)
	require.Equal(t, "lending", f.strat.Name())

	err := f.strat.Deposit(owner, "USDC", big.NewInt(1_000))
	require.ErrorIs(t, err, strategy.ErrCallerNotVault)
	err = f.strat.Deposit(vault, "RWD", big.NewInt(1_000))
	require.ErrorIs(t, err, strategy.ErrCollateralNotSupported)

	require.NoError(t, f.strat.Deposit(vault, "USDC", big.NewInt(1_000_000)))
	require.Equal(t, int64(9_000_000), balance(t, f.st, "USDC", vault))

	allocated, err := f.strat.CheckBalance("USDC")
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), allocated.Int64())
	available, err := f.strat.CheckAvailableBalance("USDC")
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), available.Int64())
	lp, err := f.strat.CheckLPTokenBalance("USDC")
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), lp.Int64())

	require.ErrorIs(t, f.strat.RemoveAsset(owner, "USDC"), strategy.ErrCollateralAllocated)
}

func TestLendingShortDeliveryReverts(t *testing.T) {
	f := newLendingFixture(t)
	require.NoError(t, f.strat.Deposit(vault, "USDC", big.NewInt(1_000_000)))
	require.NoError(t, f.pool.Borrow(borrower, "USDC", big.NewInt(700_000)))

	available, err := f.strat.CheckAvailableBalance("USDC")
	require.NoError(t, err)
	require.Equal(t, int64(300_000), available.Int64())

	_, err = f.strat.Withdraw(vault, vault, "USDC", big.NewInt(1_000_000))
	require.ErrorIs(t, err, strategy.ErrDidNotWithdrawEnough)
	require.Equal(t, int64(9_000_000), balance(t, f.st, "USDC", vault))
	allocated, err := f.strat.CheckBalance("USDC")
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), allocated.Int64())

	got, err := f.strat.Withdraw(vault, vault, "USDC", big.NewInt(300_000))
	require.NoError(t, err)
	require.Equal(t, int64(300_000), got.Int64())
	require.Equal(t, int64(9_300_000), balance(t, f.st, "USDC", vault))

	got, err = f.strat.WithdrawToVault(owner, "USDC", big.NewInt(100_000))
	require.ErrorIs(t, err, strategy.ErrDidNotWithdrawEnough)
	require.Nil(t, got)
}

func TestLendingHarvest(t *testing.T) {
	f := newLendingFixture(t)
	require.NoError(t, f.strat.Deposit(vault, "USDC", big.NewInt(1_000_000)))
	require.NoError(t, f.pool.AccrueInterest("USDC", big.NewInt(100_000)))

	earned, err := f.strat.CheckInterestEarned("USDC")
	require.NoError(t, err)
	require.Equal(t, int64(100_000), earned.Int64())

	require.NoError(t, f.strat.CollectInterest(harvester, "USDC"))
	require.Equal(t, int64(10_000), balance(t, f.st, "USDC", harvester))
	require.Equal(t, int64(90_000), balance(t, f.st, "USDC", receiver))
	allocated, err := f.strat.CheckBalance("USDC")
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), allocated.Int64())

	require.NoError(t, f.pool.AccrueReward(f.strat.Address(), "RWD", big.NewInt(1_000)))
	rewards, err := f.strat.CheckRewardEarned()
	require.NoError(t, err)
	require.Len(t, rewards, 1)
	require.NoError(t, f.strat.CollectReward(harvester))
	require.Equal(t, int64(100), balance(t, f.st, "RWD", harvester))
	require.Equal(t, int64(900), balance(t, f.st, "RWD", receiver))
}

func TestInterestBelowThresholdIsSkipped(t *testing.T) {
	f := newLendingFixture(t)
	require.NoError(t, f.strat.UpdateIntLiqThreshold(owner, "USDC", big.NewInt(50_000)))
	require.NoError(t, f.strat.Deposit(vault, "USDC", big.NewInt(1_000_000)))
	require.NoError(t, f.pool.AccrueInterest("USDC", big.NewInt(50_000)))

	require.NoError(t, f.strat.CollectInterest(harvester, "USDC"))
	require.Zero(t, balance(t, f.st, "USDC", receiver))
}

func TestBaseOwnerSetters(t *testing.T) {
	f := newLendingFixture(t)
	require.ErrorIs(t, f.strat.UpdateSlippage(vault, 10, 10), nativecommon.ErrUnauthorized)
	require.ErrorIs(t, f.strat.UpdateHarvestIncentiveRate(owner, 10_001), nativecommon.ErrInvalidPercentage)
	require.NoError(t, f.strat.UpdateSlippage(owner, 10, 20))
	require.NoError(t, f.strat.UpdateYieldReceiver(owner, harvester))

	params, err := f.strat.Params()
	require.NoError(t, err)
	require.Equal(t, uint64(10), params.DepositSlippage)
	require.Equal(t, uint64(20), params.WithdrawSlippage)
	require.Equal(t, harvester, params.YieldReceiver)

	require.False(t, f.strat.SupportsCollateral("RWD"))
	require.True(t, f.strat.SupportsCollateral("USDC"))
	require.NoError(t, f.strat.RemoveAsset(owner, "USDC"))
	require.False(t, f.strat.SupportsCollateral("USDC"))
}

type poolFixture struct {
	st    *state.Manager
	pool  *venues.StablePool
	strat *strategy.PoolStrategy
}

func newPoolFixture(t *testing.T, depositFee, exitFee uint64) *poolFixture {
	t.Helper()
	st := newState(t)
	pool := venues.NewStablePool(crypto.ModuleAddress("stable-pool"))
	pool.SetState(st)
	require.NoError(t, pool.ListPool("USDC", depositFee, exitFee))
	strat := strategy.NewPoolStrategy("Pool", crypto.ModuleAddress("strategy/pool"), pool)
	strat.SetState(st)
	require.NoError(t, strat.Initialize(defaultParams()))
	require.NoError(t, strat.SupportAsset(owner, "USDC", big.NewInt(0)))
	return &poolFixture{st: st, pool: pool, strat: strat}
}

func TestPoolWithdrawReturnsActualAmount(t *testing.T) {
	f := newPoolFixture(t, 0, 10)
	require.NoError(t, f.strat.Deposit(vault, "USDC", big.NewInt(1_000_000)))

	available, err := f.strat.CheckAvailableBalance("USDC")
	require.NoError(t, err)
	require.Equal(t, int64(999_000), available.Int64())

	got, err := f.strat.Withdraw(vault, vault, "USDC", big.NewInt(500_000))
	require.NoError(t, err)
	require.Equal(t, int64(499_500), got.Int64())
	require.Equal(t, int64(9_499_500), balance(t, f.st, "USDC", vault))

	allocated, err := f.strat.CheckBalance("USDC")
	require.NoError(t, err)
	require.Equal(t, int64(500_000), allocated.Int64())
}

func TestPoolWithdrawSlippageExceeded(t *testing.T) {
	f := newPoolFixture(t, 0, 100)
	require.NoError(t, f.strat.Deposit(vault, "USDC", big.NewInt(1_000_000)))

	_, err := f.strat.Withdraw(vault, vault, "USDC", big.NewInt(500_000))
	require.ErrorIs(t, err, strategy.ErrSlippageExceeded)
	require.Equal(t, int64(9_000_000), balance(t, f.st, "USDC", vault))
	lp, err := f.strat.CheckLPTokenBalance("USDC")
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), lp.Int64())
}

func TestPoolDepositSlippageExceeded(t *testing.T) {
	f := newPoolFixture(t, 100, 0)
	err := f.strat.Deposit(vault, "USDC", big.NewInt(1_000_000))
	require.ErrorIs(t, err, strategy.ErrSlippageExceeded)
	require.Equal(t, int64(10_000_000), balance(t, f.st, "USDC", vault))
	allocated, err := f.strat.CheckBalance("USDC")
	require.NoError(t, err)
	require.Equal(t, 0, allocated.Sign())
}

func TestPoolHarvest(t *testing.T) {
	f := newPoolFixture(t, 0, 10)
	require.NoError(t, f.strat.Deposit(vault, "USDC", big.NewInt(1_000_000)))
	require.NoError(t, f.pool.AccrueYield("USDC", big.NewInt(10_000)))

	earned, err := f.strat.CheckInterestEarned("USDC")
	require.NoError(t, err)
	require.Equal(t, int64(10_000), earned.Int64())

	require.NoError(t, f.strat.CollectInterest(harvester, "USDC"))
	require.Equal(t, int64(999), balance(t, f.st, "USDC", harvester))
	require.Equal(t, int64(8_991), balance(t, f.st, "USDC", receiver))
}

func TestRegistry(t *testing.T) {
	lending := newLendingFixture(t).strat
	pool := newPoolFixture(t, 0, 0).strat
	reg := strategy.NewRegistry()
	require.NoError(t, reg.Register(pool))
	require.NoError(t, reg.Register(lending))
	require.ErrorIs(t, reg.Register(lending), strategy.ErrStrategyExists)

	got, ok := reg.Lookup(lending.Address())
	require.True(t, ok)
	require.Equal(t, "lending", got.Name())
	_, ok = reg.Lookup(vault)
	require.False(t, ok)

	all := reg.All()
	require.Len(t, all, 2)
	require.Equal(t, "lending", all[0].Name())
	require.Equal(t, "pool", all[1].Name())
}
