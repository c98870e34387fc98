package vault

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"usdsvault/core/events"
	"usdsvault/core/state"
	"usdsvault/crypto"
	"usdsvault/native/collateral"
	nativecommon "usdsvault/native/common"
	"usdsvault/native/dripper"
	"usdsvault/native/fees"
	"usdsvault/native/oracle"
	"usdsvault/native/rebase"
	"usdsvault/native/strategy"
	"usdsvault/native/usds"
	"usdsvault/native/venues"
	"usdsvault/storage"
)

var (
	owner         = crypto.ModuleAddress("owner")
	allocator     = crypto.ModuleAddress("allocator")
	alice         = crypto.ModuleAddress("alice")
	bob           = crypto.ModuleAddress("bob")
	vaultAddr     = crypto.ModuleAddress("vault")
	feeVault      = crypto.ModuleAddress("fee-vault")
	yieldReceiver = crypto.ModuleAddress("yield-receiver")
	dripperAddr   = crypto.ModuleAddress("dripper")
	rebaseAddr    = crypto.ModuleAddress("rebase-manager")
)

const poolExitFeeBps = 10

func units(v int64, decimals uint64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), nativecommon.Pow10(decimals))
}

type fixture struct {
	t            *testing.T
	ctx          context.Context
	st           *state.Manager
	vault        *Vault
	usds         *usds.Ledger
	coll         *collateral.Manager
	feed         *oracle.StaticSource
	lendingVenue *venues.LendingPool
	lending      *strategy.LendingStrategy
	pool         *strategy.PoolStrategy
	dripper      *dripper.Dripper
	rebaser      *rebase.Manager
	now          time.Time
}

func newFixture(t *testing.T, base collateral.BaseData) *fixture {
	t.Helper()
	f := &fixture{t: t, ctx: context.Background(), now: time.Unix(1_700_000_000, 0)}
	clock := func() time.Time { return f.now }
	st := state.NewManager(storage.NewMemDB())
	f.st = st
	require.NoError(t, st.SetRole(nativecommon.RoleOwner, owner, true))
	require.NoError(t, st.SetRole(nativecommon.RoleAllocator, allocator, true))
	require.NoError(t, st.RegisterToken("USDC", "USD Coin", 6))
	require.NoError(t, st.MintToken("USDC", alice, units(10_000, 6)))
	require.NoError(t, st.MintToken("USDC", bob, units(1_000, 6)))

	f.feed = oracle.NewStaticSource()
	require.NoError(t, f.feed.SetDecimal("USDC", "1", f.now))
	master := oracle.NewMasterOracle()
	require.NoError(t, master.SetFeed("USDC", f.feed))

	f.usds = usds.NewLedger()
	f.usds.SetState(st)
	require.NoError(t, f.usds.Initialize(vaultAddr))
	require.NoError(t, f.usds.RebaseOptOut(owner, vaultAddr))
	require.NoError(t, f.usds.RebaseOptOut(owner, dripperAddr))

	params := strategy.Params{Vault: vaultAddr, YieldReceiver: yieldReceiver, WithdrawSlippage: 50}
	f.lendingVenue = venues.NewLendingPool(crypto.ModuleAddress("lending-pool"))
	f.lendingVenue.SetState(st)
	require.NoError(t, f.lendingVenue.ListMarket("USDC"))
	f.lending = strategy.NewLendingStrategy("lending", crypto.ModuleAddress("strategy/lending"), f.lendingVenue)
	f.lending.SetState(st)
	require.NoError(t, f.lending.Initialize(params))
	require.NoError(t, f.lending.SupportAsset(owner, "USDC", big.NewInt(0)))

	poolVenue := venues.NewStablePool(crypto.ModuleAddress("stable-pool"))
	poolVenue.SetState(st)
	require.NoError(t, poolVenue.ListPool("USDC", 0, poolExitFeeBps))
	f.pool = strategy.NewPoolStrategy("pool", crypto.ModuleAddress("strategy/pool"), poolVenue)
	f.pool.SetState(st)
	require.NoError(t, f.pool.Initialize(params))
	require.NoError(t, f.pool.SupportAsset(owner, "USDC", big.NewInt(0)))

	registry := strategy.NewRegistry()
	require.NoError(t, registry.Register(f.lending))
	require.NoError(t, registry.Register(f.pool))

	f.coll = collateral.New(vaultAddr)
	f.coll.SetState(st)
	f.coll.SetOracle(master)
	f.coll.SetStrategies(registry)
	require.NoError(t, f.coll.AddCollateral(owner, "USDC", base))
	require.NoError(t, f.coll.AddCollateralStrategy(owner, "USDC", f.lending.Address(), 5_000))
	require.NoError(t, f.coll.AddCollateralStrategy(owner, "USDC", f.pool.Address(), 5_000))
	require.NoError(t, f.coll.UpdateCollateralDefaultStrategy(owner, "USDC", f.lending.Address()))

	calc := fees.NewCalculator()
	calc.SetState(st)
	calc.SetCollateral(f.coll)
	calc.SetToken(f.usds)
	calc.SetClock(clock)

	f.dripper = dripper.New(dripperAddr, "USDS")
	f.dripper.SetState(st)
	f.dripper.SetToken(f.usds)
	f.dripper.SetClock(clock)
	require.NoError(t, f.dripper.Initialize(vaultAddr, dripper.DefaultDripDuration))

	f.rebaser = rebase.New(rebaseAddr)
	f.rebaser.SetState(st)
	f.rebaser.SetToken(f.usds)
	f.rebaser.SetDripper(f.dripper)
	f.rebaser.SetClock(clock)
	require.NoError(t, f.rebaser.Initialize(vaultAddr, dripperAddr, rebase.DefaultGap, rebase.DefaultAPRCap, rebase.DefaultAPRBottom))

	f.vault = New(vaultAddr)
	f.vault.SetState(st)
	f.vault.SetCollateralManager(f.coll)
	f.vault.SetOracle(master)
	f.vault.SetFeeCalculator(calc)
	f.vault.SetToken(f.usds)
	f.vault.SetRebaseManager(f.rebaser)
	f.vault.SetStrategies(registry)
	f.vault.SetPauses(st)
	f.vault.SetClock(clock)
	f.vault.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, f.vault.Initialize(Config{FeeVault: feeVault, YieldReceiver: yieldReceiver}))
	return f
}

func defaultBase() collateral.BaseData {
	return collateral.BaseData{
		MintAllowed:                  true,
		RedeemAllowed:                true,
		AllocationAllowed:            true,
		DownsidePeg:                  9_700,
		DesiredCollateralComposition: 5_000,
	}
}

func (f *fixture) deadline() uint64 { return uint64(f.now.Unix()) + 60 }

func (f *fixture) collateralOf(addr crypto.Address) *big.Int {
	f.t.Helper()
	bal, err := f.st.Balance("USDC", addr)
	require.NoError(f.t, err)
	return bal
}

func (f *fixture) usdsOf(addr crypto.Address) *big.Int {
	f.t.Helper()
	bal, err := f.usds.BalanceOf(addr)
	require.NoError(f.t, err)
	return bal
}

func (f *fixture) allocated(s strategy.Strategy) *big.Int {
	f.t.Helper()
	bal, err := s.CheckBalance("USDC")
	require.NoError(f.t, err)
	return bal
}

func (f *fixture) mint(who crypto.Address, amount *big.Int) *big.Int {
	f.t.Helper()
	out, _, err := f.vault.Mint(f.ctx, who, "USDC", amount, big.NewInt(0), f.deadline())
	require.NoError(f.t, err)
	return out
}

func (f *fixture) eventsOf(eventType string) []events.Event {
	var out []events.Event
	for _, ev := range f.st.PendingEvents() {
		if ev.EventType() == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func TestMintAtPegNormalizesDecimals(t *testing.T) {
	f := newFixture(t, defaultBase())
	toMinter, fee, err := f.vault.Mint(f.ctx, alice, "usdc", units(100, 6), units(100, 18), f.deadline())
	require.NoError(t, err)
	require.Equal(t, units(100, 18).String(), toMinter.String())
	require.Zero(t, fee.Sign())
	require.Equal(t, units(100, 18).String(), f.usdsOf(alice).String())
	require.Equal(t, units(100, 6).String(), f.collateralOf(vaultAddr).String())
	require.Equal(t, units(9_900, 6).String(), f.collateralOf(alice).String())

	minted := f.eventsOf(events.TypeVaultMinted)
	require.Len(t, minted, 1)
	attrs := minted[0].Event().Attributes
	require.Equal(t, "USDC", attrs["collateral"])
	require.Equal(t, units(100, 18).String(), attrs["usdsAmount"])
}

func TestMintViewPricing(t *testing.T) {
	f := newFixture(t, defaultBase())
	amount := units(100, 6)

	require.NoError(t, f.feed.SetDecimal("USDC", "1.02", f.now))
	out, fee, err := f.vault.MintView("USDC", amount)
	require.NoError(t, err)
	require.Equal(t, units(100, 18).String(), out.String())
	require.Zero(t, fee.Sign())

	require.NoError(t, f.feed.SetDecimal("USDC", "0.99", f.now))
	out, _, err = f.vault.MintView("USDC", amount)
	require.NoError(t, err)
	require.Equal(t, units(99, 18).String(), out.String())

	require.NoError(t, f.feed.SetDecimal("USDC", "0.96", f.now))
	out, fee, err = f.vault.MintView("USDC", amount)
	require.NoError(t, err)
	require.Zero(t, out.Sign())
	require.Zero(t, fee.Sign())
	_, _, err = f.vault.Mint(f.ctx, alice, "USDC", amount, big.NewInt(0), f.deadline())
	require.ErrorIs(t, err, ErrMintFailed)
	require.Zero(t, f.usdsOf(alice).Sign())
	require.Zero(t, f.collateralOf(vaultAddr).Sign())

	out, _, err = f.vault.MintView("DAI", amount)
	require.NoError(t, err)
	require.Zero(t, out.Sign())
}

func TestMintFeeGoesToFeeVault(t *testing.T) {
	base := defaultBase()
	base.BaseMintFee = 50
	f := newFixture(t, base)
	toMinter, fee, err := f.vault.Mint(f.ctx, alice, "USDC", units(100, 6), big.NewInt(0), f.deadline())
	require.NoError(t, err)
	require.Equal(t, "500000000000000000", fee.String())
	require.Equal(t, units(100, 18).String(), new(big.Int).Add(toMinter, fee).String())
	require.Equal(t, fee.String(), f.usdsOf(feeVault).String())
	require.Equal(t, toMinter.String(), f.usdsOf(alice).String())
}

func TestMintRejections(t *testing.T) {
	f := newFixture(t, defaultBase())
	amount := units(100, 6)

	_, _, err := f.vault.Mint(f.ctx, alice, "USDC", amount, big.NewInt(0), uint64(f.now.Unix())-1)
	require.ErrorIs(t, err, ErrDeadlinePassed)

	_, _, err = f.vault.Mint(f.ctx, alice, "USDC", amount, units(101, 18), f.deadline())
	require.ErrorIs(t, err, ErrSlippage)

	_, _, err = f.vault.Mint(f.ctx, alice, "DAI", amount, big.NewInt(0), f.deadline())
	require.ErrorIs(t, err, ErrMintNotAllowed)

	_, _, err = f.vault.Mint(f.ctx, alice, "USDC", units(20_000, 6), big.NewInt(0), f.deadline())
	require.ErrorIs(t, err, state.ErrInsufficientBalance)

	_, _, err = f.vault.Mint(f.ctx, alice, "USDC", big.NewInt(0), big.NewInt(0), f.deadline())
	require.ErrorIs(t, err, nativecommon.ErrInvalidAmount)

	disabled := defaultBase()
	disabled.MintAllowed = false
	require.NoError(t, f.coll.UpdateCollateralData(owner, "USDC", disabled))
	_, _, err = f.vault.Mint(f.ctx, alice, "USDC", amount, big.NewInt(0), f.deadline())
	require.ErrorIs(t, err, ErrMintNotAllowed)
	require.NoError(t, f.coll.UpdateCollateralData(owner, "USDC", defaultBase()))

	require.NoError(t, f.st.SetPaused(moduleName, true))
	_, _, err = f.vault.Mint(f.ctx, alice, "USDC", amount, big.NewInt(0), f.deadline())
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)
	require.NoError(t, f.st.SetPaused(moduleName, false))

	require.Zero(t, f.usdsOf(alice).Sign())
	require.Equal(t, units(10_000, 6).String(), f.collateralOf(alice).String())
	require.Empty(t, f.eventsOf(events.TypeVaultMinted))
}

func (f *fixture) fundStrategies() {
	f.t.Helper()
	f.mint(alice, units(2_000, 6))
	require.NoError(f.t, f.vault.Allocate(f.ctx, allocator, "USDC", f.lending.Address(), units(1_000, 6)))
	require.NoError(f.t, f.vault.Allocate(f.ctx, allocator, "USDC", f.pool.Address(), units(1_000, 6)))
	require.Zero(f.t, f.collateralOf(vaultAddr).Sign())
}

func TestRedeemPullsShortfallFromDefaultStrategy(t *testing.T) {
	f := newFixture(t, defaultBase())
	f.fundStrategies()

	quote, err := f.vault.RedeemView("USDC", units(400, 18))
	require.NoError(t, err)
	require.Equal(t, units(400, 6).String(), quote.CollateralAmt.String())
	require.Zero(t, quote.VaultAmt.Sign())
	require.Equal(t, units(400, 6).String(), quote.StrategyAmt.String())
	require.Equal(t, f.lending.Address(), quote.Strategy)

	result, err := f.vault.Redeem(f.ctx, alice, "USDC", units(400, 18), units(400, 6), f.deadline(), crypto.Address{})
	require.NoError(t, err)
	require.Equal(t, units(400, 6).String(), result.CollateralAmt.String())
	require.Equal(t, units(600, 6).String(), f.allocated(f.lending).String())
	require.Equal(t, units(8_400, 6).String(), f.collateralOf(alice).String())
	require.Equal(t, units(1_600, 18).String(), f.usdsOf(alice).String())
	require.Len(t, f.eventsOf(events.TypeVaultRedeemed), 1)
}

func TestRedeemFromPoolStrategySlippage(t *testing.T) {
	f := newFixture(t, defaultBase())
	f.fundStrategies()
	poolAddr := f.pool.Address()

	_, err := f.vault.Redeem(f.ctx, alice, "USDC", units(400, 18), units(400, 6), f.deadline(), poolAddr)
	require.ErrorIs(t, err, ErrSlippage)
	require.Equal(t, units(1_000, 6).String(), f.allocated(f.pool).String())
	require.Equal(t, units(2_000, 18).String(), f.usdsOf(alice).String())

	result, err := f.vault.Redeem(f.ctx, alice, "USDC", units(400, 18), units(399, 6), f.deadline(), poolAddr)
	require.NoError(t, err)
	require.Equal(t, "399600000", result.CollateralAmt.String())
	require.Equal(t, units(600, 6).String(), f.allocated(f.pool).String())
	require.Equal(t, units(1_600, 18).String(), f.usdsOf(alice).String())
	require.Zero(t, f.collateralOf(vaultAddr).Sign())
}

func TestRedeemRejections(t *testing.T) {
	f := newFixture(t, defaultBase())
	f.fundStrategies()
	amount := units(100, 18)

	_, err := f.vault.Redeem(f.ctx, alice, "USDC", amount, big.NewInt(0), f.deadline(), crypto.ModuleAddress("rogue"))
	require.ErrorIs(t, err, ErrInvalidStrategy)

	_, err = f.vault.Redeem(f.ctx, alice, "USDC", amount, big.NewInt(0), uint64(f.now.Unix())-1, crypto.Address{})
	require.ErrorIs(t, err, ErrDeadlinePassed)

	_, err = f.vault.Redeem(f.ctx, alice, "DAI", amount, big.NewInt(0), f.deadline(), crypto.Address{})
	require.ErrorIs(t, err, ErrRedeemNotAllowed)

	_, err = f.vault.Redeem(f.ctx, alice, "USDC", big.NewInt(1), big.NewInt(0), f.deadline(), crypto.Address{})
	require.ErrorIs(t, err, ErrRedeemFailed)

	require.NoError(t, f.lendingVenue.Borrow(bob, "USDC", units(950, 6)))
	_, err = f.vault.Redeem(f.ctx, alice, "USDC", amount, big.NewInt(0), f.deadline(), crypto.Address{})
	require.ErrorIs(t, err, ErrInsufficientCollateral)

	require.NoError(t, f.coll.UpdateCollateralDefaultStrategy(owner, "USDC", crypto.Address{}))
	_, err = f.vault.RedeemView("USDC", amount)
	require.ErrorIs(t, err, ErrInsufficientCollateral)

	require.Equal(t, units(2_000, 18).String(), f.usdsOf(alice).String())
	require.Empty(t, f.eventsOf(events.TypeVaultRedeemed))
}

func TestRedeemFloorsDepeggedCollateral(t *testing.T) {
	base := defaultBase()
	base.DownsidePeg = 0
	f := newFixture(t, base)
	f.mint(alice, units(1_000, 6))

	require.NoError(t, f.feed.SetDecimal("USDC", "0.98", f.now))
	quote, err := f.vault.RedeemView("USDC", units(100, 18))
	require.NoError(t, err)
	require.Equal(t, units(100, 6).String(), quote.CollateralAmt.String())

	require.NoError(t, f.feed.SetDecimal("USDC", "1.25", f.now))
	quote, err = f.vault.RedeemView("USDC", units(100, 18))
	require.NoError(t, err)
	require.Equal(t, units(80, 6).String(), quote.CollateralAmt.String())
}

func TestRedeemFeeSplit(t *testing.T) {
	base := defaultBase()
	base.BaseRedeemFee = 100
	f := newFixture(t, base)
	f.mint(alice, units(1_000, 6))

	// Composition sits above the upper band, so the redeem fee is halved.
	result, err := f.vault.Redeem(f.ctx, alice, "USDC", units(100, 18), big.NewInt(0), f.deadline(), crypto.Address{})
	require.NoError(t, err)
	require.Equal(t, "500000000000000000", result.FeeAmt.String())
	require.Equal(t, "99500000000000000000", result.BurnAmt.String())
	require.Equal(t, "99500000", result.CollateralAmt.String())
	require.Equal(t, result.FeeAmt.String(), f.usdsOf(feeVault).String())
	supply, err := f.usds.TotalSupply()
	require.NoError(t, err)
	require.Equal(t, "900500000000000000000", supply.String())
}

func TestAllocateChecks(t *testing.T) {
	f := newFixture(t, defaultBase())
	f.mint(alice, units(1_000, 6))
	lendingAddr := f.lending.Address()

	err := f.vault.Allocate(f.ctx, alice, "USDC", lendingAddr, units(100, 6))
	require.ErrorIs(t, err, nativecommon.ErrUnauthorized)

	err = f.vault.Allocate(f.ctx, allocator, "USDC", lendingAddr, units(501, 6))
	require.ErrorIs(t, err, ErrAllocationNotAllowed)

	err = f.vault.Allocate(f.ctx, allocator, "USDC", crypto.ModuleAddress("rogue"), units(1, 6))
	require.ErrorIs(t, err, ErrAllocationNotAllowed)

	require.NoError(t, f.vault.Allocate(f.ctx, allocator, "USDC", lendingAddr, units(500, 6)))
	require.Equal(t, units(500, 6).String(), f.allocated(f.lending).String())
	require.Equal(t, units(500, 6).String(), f.collateralOf(vaultAddr).String())
	require.Len(t, f.eventsOf(events.TypeVaultAllocated), 1)
}

func TestRebaseDistributesDrippedYield(t *testing.T) {
	f := newFixture(t, defaultBase())
	f.mint(alice, units(1_000, 6))
	f.mint(bob, units(100, 6))
	require.NoError(t, f.dripper.AddUSDs(bob, units(10, 18)))

	f.now = f.now.Add(7 * 24 * time.Hour)
	_, maxAmt, err := f.rebaser.GetMinAndMaxRebaseAmt()
	require.NoError(t, err)
	collectable, err := f.dripper.GetCollectableAmt()
	require.NoError(t, err)
	require.True(t, collectable.Cmp(maxAmt) > 0)

	amount, err := f.vault.Rebase(f.ctx)
	require.NoError(t, err)
	require.Equal(t, maxAmt.String(), amount.String())
	require.Equal(t, new(big.Int).Sub(collectable, amount).String(), f.usdsOf(vaultAddr).String())

	share := new(big.Int).Quo(new(big.Int).Mul(amount, big.NewInt(1_000)), big.NewInt(1_090))
	expected := new(big.Int).Add(units(1_000, 18), share)
	diff := new(big.Int).Sub(expected, f.usdsOf(alice))
	require.True(t, diff.CmpAbs(big.NewInt(10)) <= 0, "alice off by %s", diff)

	again, err := f.vault.Rebase(f.ctx)
	require.NoError(t, err)
	require.Zero(t, again.Sign())
	require.Len(t, f.eventsOf(events.TypeVaultRebased), 1)
}

func TestAutoRebaseOnMint(t *testing.T) {
	f := newFixture(t, defaultBase())
	f.mint(alice, units(1_000, 6))
	require.NoError(t, f.dripper.AddUSDs(alice, units(10, 18)))
	require.ErrorIs(t, f.vault.ToggleAutoRebase(alice, true), nativecommon.ErrUnauthorized)
	require.NoError(t, f.vault.ToggleAutoRebase(owner, true))

	f.mint(bob, units(1, 6))
	require.Empty(t, f.eventsOf(events.TypeVaultRebased))

	f.now = f.now.Add(2 * 24 * time.Hour)
	f.mint(bob, units(1, 6))
	require.Len(t, f.eventsOf(events.TypeVaultRebased), 1)
}

func TestConfigSetters(t *testing.T) {
	f := newFixture(t, defaultBase())
	next := crypto.ModuleAddress("fee-vault-2")
	require.ErrorIs(t, f.vault.UpdateFeeVault(alice, next), nativecommon.ErrUnauthorized)
	require.ErrorIs(t, f.vault.UpdateFeeVault(owner, crypto.Address{}), nativecommon.ErrInvalidAddress)
	require.NoError(t, f.vault.UpdateFeeVault(owner, next))
	require.NoError(t, f.vault.UpdateYieldReceiver(owner, next))
	cfg, err := f.vault.Config()
	require.NoError(t, err)
	require.Equal(t, next, cfg.FeeVault)
	require.Equal(t, next, cfg.YieldReceiver)
	require.False(t, cfg.RebaseOnMintRedeem)
	var updates []string
	for _, ev := range f.eventsOf(events.TypeVaultConfigUpdated) {
		if update := ev.(events.ConfigUpdated); update.Module == moduleName {
			updates = append(updates, update.Field)
		}
	}
	require.Equal(t, []string{"feeVault", "yieldReceiver"}, updates)
}

func TestCollateralConservation(t *testing.T) {
	f := newFixture(t, defaultBase())
	pulled, paid := big.NewInt(0), big.NewInt(0)
	check := func() {
		t.Helper()
		held := new(big.Int).Add(f.collateralOf(vaultAddr), f.allocated(f.lending))
		held.Add(held, f.allocated(f.pool))
		require.Equal(t, new(big.Int).Sub(pulled, paid).String(), held.String())
	}
	mint := func(who crypto.Address, amount *big.Int) {
		f.mint(who, amount)
		pulled.Add(pulled, amount)
		check()
	}
	redeem := func(who crypto.Address, amount *big.Int) {
		result, err := f.vault.Redeem(f.ctx, who, "USDC", amount, big.NewInt(0), f.deadline(), crypto.Address{})
		require.NoError(t, err)
		paid.Add(paid, result.CollateralAmt)
		check()
	}

	mint(alice, units(1_500, 6))
	mint(bob, units(500, 6))
	require.NoError(t, f.vault.Allocate(f.ctx, allocator, "USDC", f.lending.Address(), units(900, 6)))
	check()
	redeem(alice, units(700, 18))
	redeem(bob, units(450, 18))
	mint(bob, units(250, 6))
	redeem(alice, units(650, 18))
	require.True(t, f.allocated(f.lending).Cmp(units(900, 6)) < 0)
}
