package protocol

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"usdsvault/config"
	"usdsvault/crypto"
	nativecommon "usdsvault/native/common"
	"usdsvault/storage"
)

var alice = crypto.ModuleAddress("alice")

type harness struct {
	t   *testing.T
	ctx context.Context
	db  storage.Database
	cfg *config.Config
	now time.Time
	p   *Protocol
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:   t,
		ctx: context.Background(),
		db:  storage.NewMemDB(),
		cfg: config.Default(),
		now: time.Unix(1_700_000_000, 0),
	}
	h.p = h.open()
	require.NoError(t, h.p.Bootstrap())
	return h
}

func (h *harness) open() *Protocol {
	h.t.Helper()
	p, err := New(h.cfg, h.db,
		WithClock(func() time.Time { return h.now }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(h.t, err)
	return p
}

func (h *harness) owner() crypto.Address { return h.p.Accounts().Owner }

func (h *harness) deadline() uint64 { return uint64(h.now.Unix()) + 60 }

func usdc(v int64) *big.Int { return new(big.Int).Mul(big.NewInt(v), big.NewInt(1_000_000)) }

func usdsAmt(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), nativecommon.Pow10(18))
}

func (h *harness) mint(who crypto.Address, amount *big.Int) *big.Int {
	h.t.Helper()
	require.NoError(h.t, h.p.Faucet(h.owner(), who, "USDC", amount))
	out, _, err := h.p.Vault.Mint(h.ctx, who, "USDC", amount, big.NewInt(0), h.deadline())
	require.NoError(h.t, err)
	return out
}

func TestBootstrapRunsOnce(t *testing.T) {
	h := newHarness(t)
	require.ErrorIs(t, h.p.Bootstrap(), ErrAlreadyBootstrapped)

	st := h.p.State
	require.True(t, st.HasRole(nativecommon.RoleOwner, h.owner()))
	require.True(t, st.TokenExists("USDC"))
	require.True(t, st.TokenExists("LEND"))
	require.True(t, st.TokenExists("POOL"))

	vaultAddr, err := h.p.USDs.Vault()
	require.NoError(t, err)
	require.Equal(t, VaultAddress, vaultAddr)
	for _, addr := range []crypto.Address{VaultAddress, DripperAddress, ReserveAddress, h.p.Accounts().FeeVault, StrategyAddress("lending")} {
		rebasing, err := h.p.USDs.IsRebasing(addr)
		require.NoError(t, err)
		require.False(t, rebasing, addr.String())
	}

	strategies, err := h.p.Collateral.GetCollateralStrategies("USDC")
	require.NoError(t, err)
	require.Len(t, strategies, 2)
	params, err := h.p.Collateral.GetRedeemParams("USDC")
	require.NoError(t, err)
	require.Equal(t, StrategyAddress("lending"), params.DefaultStrategy)
	require.Equal(t, []string{"lending", "pool"}, h.p.StrategyNames())

	_, err = h.p.Strategy("missing")
	require.ErrorIs(t, err, ErrUnknownStrategy)

	data, err := h.p.Reserve.TokenData("USDS")
	require.NoError(t, err)
	require.True(t, data.SrcAllowed)
	data, err = h.p.Reserve.TokenData("USDC")
	require.NoError(t, err)
	require.True(t, data.DstAllowed)
}

func TestStatsRequiresBootstrap(t *testing.T) {
	p, err := New(config.Default(), storage.NewMemDB())
	require.NoError(t, err)
	_, err = p.Stats()
	require.ErrorIs(t, err, ErrNotBootstrapped)
}

func TestMintAllocateRedeemPersists(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, usdsAmt(1_000), h.mint(alice, usdc(1_000)))

	require.NoError(t, h.p.Vault.Allocate(h.ctx, h.owner(), "USDC", StrategyAddress("lending"), usdc(400)))

	// 25 bps: the vault holds twice the desired share so the redeem fee halves.
	quote, err := h.p.Vault.Redeem(h.ctx, alice, "USDC", usdsAmt(100), big.NewInt(0), h.deadline(), crypto.Address{})
	require.NoError(t, err)
	require.Equal(t, big.NewInt(99_750_000), quote.CollateralAmt)
	require.Equal(t, big.NewInt(250_000_000_000_000_000), quote.FeeAmt)

	stats, err := h.p.Stats()
	require.NoError(t, err)
	require.Equal(t, "900250000000000000000", stats.TotalSupply.String())
	require.Len(t, stats.Collaterals, 1)
	coll := stats.Collaterals[0]
	require.Equal(t, "USDC", coll.Symbol)
	require.Equal(t, "1.0000", coll.Price)
	require.Equal(t, big.NewInt(500_250_000), coll.InVault)
	require.Equal(t, usdc(400), coll.InStrategies)
	require.Equal(t, usdc(400), coll.PerStrategy["lending"])
	require.Equal(t, "lending", coll.Default)

	_, err = h.p.Commit()
	require.NoError(t, err)

	reopened := h.open()
	done, err := reopened.Bootstrapped()
	require.NoError(t, err)
	require.True(t, done)
	bal, err := reopened.USDs.BalanceOf(alice)
	require.NoError(t, err)
	require.Equal(t, usdsAmt(900), bal)
}

func TestSetPricePersistsAndIsOwnerOnly(t *testing.T) {
	h := newHarness(t)
	require.ErrorIs(t, h.p.SetPrice(alice, "USDC", "0.98"), nativecommon.ErrUnauthorized)
	require.ErrorIs(t, h.p.SetPrice(h.owner(), "DAI", "1"), ErrUnknownCollateral)
	require.NoError(t, h.p.SetPrice(h.owner(), "usdc", "0.98"))
	_, err := h.p.Commit()
	require.NoError(t, err)

	price, err := h.open().Oracle.GetPrice("USDC")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(98_000_000), price.Price)
}

func TestPauseBlocksVault(t *testing.T) {
	h := newHarness(t)
	require.ErrorIs(t, h.p.SetPaused(alice, "vault", true), nativecommon.ErrUnauthorized)
	require.NoError(t, h.p.SetPaused(h.owner(), "vault", true))
	require.NoError(t, h.p.Faucet(h.owner(), alice, "USDC", usdc(10)))
	_, _, err := h.p.Vault.Mint(h.ctx, alice, "USDC", usdc(10), big.NewInt(0), h.deadline())
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)

	require.NoError(t, h.p.SetPaused(h.owner(), "vault", false))
	_, _, err = h.p.Vault.Mint(h.ctx, alice, "USDC", usdc(10), big.NewInt(0), h.deadline())
	require.NoError(t, err)
}

func TestHarvestSplitsRewards(t *testing.T) {
	h := newHarness(t)
	h.mint(alice, usdc(1_000))
	require.NoError(t, h.p.Vault.Allocate(h.ctx, h.owner(), "USDC", StrategyAddress("lending"), usdc(400)))

	reward := usdsAmt(5)
	require.ErrorIs(t, h.p.AccrueYield(alice, "lending", "USDC", usdc(10), reward), nativecommon.ErrUnauthorized)
	require.NoError(t, h.p.AccrueYield(h.owner(), "lending", "USDC", usdc(10), reward))

	harvester := crypto.ModuleAddress("harvester")
	result, err := h.p.Harvest(h.ctx, harvester, "lending")
	require.NoError(t, err)
	require.Len(t, result.Rewards, 1)
	require.Equal(t, "LEND", result.Rewards[0].Token)

	// 10 bps harvest incentive.
	incentive, err := h.p.State.Balance("LEND", harvester)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(5_000_000_000_000_000), incentive)
	yield, err := h.p.State.Balance("LEND", h.p.Accounts().YieldReceiver)
	require.NoError(t, err)
	require.Equal(t, new(big.Int).Sub(reward, incentive), yield)

	// Harvested interest is minted into USDs for the dripper.
	require.Equal(t, ReserveAddress, h.p.Accounts().YieldReceiver)
	interest, err := h.p.State.Balance("USDC", ReserveAddress)
	require.NoError(t, err)
	require.Equal(t, 0, interest.Sign())
	require.Equal(t, 1, result.Minted["USDC"].Sign())
	dripped, err := h.p.USDs.BalanceOf(DripperAddress)
	require.NoError(t, err)
	require.Equal(t, result.Minted["USDC"].String(), dripped.String())
}

func TestHarvestedYieldRebasesToHolders(t *testing.T) {
	h := newHarness(t)
	h.mint(alice, usdc(1_000))
	require.NoError(t, h.p.Vault.Allocate(h.ctx, h.owner(), "USDC", StrategyAddress("lending"), usdc(400)))
	require.NoError(t, h.p.AccrueYield(h.owner(), "lending", "USDC", usdc(10), nil))

	result, err := h.p.Harvest(h.ctx, crypto.ModuleAddress("harvester"), "lending")
	require.NoError(t, err)
	minted := result.Minted["USDC"]
	require.Equal(t, 1, minted.Sign())
	params, err := h.p.Dripper.Params()
	require.NoError(t, err)
	require.Equal(t, 1, params.DripRate.Sign())

	before, err := h.p.USDs.BalanceOf(alice)
	require.NoError(t, err)

	h.now = h.now.Add(24 * time.Hour)
	amount, err := h.p.Vault.Rebase(h.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, amount.Sign())
	require.True(t, amount.Cmp(minted) <= 0)

	after, err := h.p.USDs.BalanceOf(alice)
	require.NoError(t, err)
	require.Equal(t, 1, after.Cmp(before))
}

func TestHarvestKeepsCollateralWhenReserveMintFails(t *testing.T) {
	h := newHarness(t)
	h.mint(alice, usdc(1_000))
	require.NoError(t, h.p.Vault.Allocate(h.ctx, h.owner(), "USDC", StrategyAddress("lending"), usdc(400)))
	require.NoError(t, h.p.AccrueYield(h.owner(), "lending", "USDC", usdc(10), nil))
	require.NoError(t, h.p.SetPaused(h.owner(), "vault", true))

	result, err := h.p.Harvest(h.ctx, crypto.ModuleAddress("harvester"), "lending")
	require.NoError(t, err)
	require.Empty(t, result.Minted)
	held, err := h.p.State.Balance("USDC", ReserveAddress)
	require.NoError(t, err)
	require.Equal(t, 1, held.Sign())

	require.NoError(t, h.p.SetPaused(h.owner(), "vault", false))
	minted, err := h.p.ReserveMint(h.ctx, "USDC")
	require.NoError(t, err)
	require.Equal(t, 1, minted.Sign())
	held, err = h.p.State.Balance("USDC", ReserveAddress)
	require.NoError(t, err)
	require.Equal(t, 0, held.Sign())
}

func TestReserveSwapSellsCollateralForUSDs(t *testing.T) {
	h := newHarness(t)
	h.mint(alice, usdc(100))
	require.NoError(t, h.p.Faucet(h.owner(), ReserveAddress, "USDC", usdc(50)))

	_, err := h.p.ReserveSwap(h.ctx, alice, "USDC", "USDS", usdc(1), nil)
	require.Error(t, err)

	out, err := h.p.ReserveSwap(h.ctx, alice, "USDS", "USDC", usdsAmt(49), nil)
	require.NoError(t, err)
	require.Equal(t, 1, out.Sign())
	dripped, err := h.p.USDs.BalanceOf(DripperAddress)
	require.NoError(t, err)
	require.Equal(t, usdsAmt(49).String(), dripped.String())
}

func TestDrippedYieldReachesHolders(t *testing.T) {
	h := newHarness(t)
	h.mint(alice, usdc(1_000))
	require.NoError(t, h.p.FundDripper(alice, usdsAmt(10)))
	before, err := h.p.USDs.BalanceOf(alice)
	require.NoError(t, err)
	require.Equal(t, usdsAmt(990), before)

	h.now = h.now.Add(24 * time.Hour)
	amount, err := h.p.Vault.Rebase(h.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, amount.Sign())

	after, err := h.p.USDs.BalanceOf(alice)
	require.NoError(t, err)
	require.Equal(t, 1, after.Cmp(before))
}
