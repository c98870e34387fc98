package dripper

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"usdsvault/core/state"
	"usdsvault/crypto"
	nativecommon "usdsvault/native/common"
	"usdsvault/native/usds"
	"usdsvault/storage"
)

var (
	owner   = crypto.ModuleAddress("owner")
	vault   = crypto.ModuleAddress("vault")
	funder  = crypto.ModuleAddress("funder")
	address = crypto.ModuleAddress("dripper")
)

type fixture struct {
	mgr     *state.Manager
	token   *usds.Ledger
	dripper *Dripper
	now     time.Time
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: time.Unix(1_700_000_000, 0)}
	f.mgr = state.NewManager(storage.NewMemDB())
	require.NoError(t, f.mgr.SetRole(nativecommon.RoleOwner, owner, true))
	f.token = usds.NewLedger()
	f.token.SetState(f.mgr)
	require.NoError(t, f.token.Initialize(vault))
	require.NoError(t, f.token.RebaseOptOut(owner, vault))
	require.NoError(t, f.token.RebaseOptOut(owner, address))

	f.dripper = New(address, usds.Symbol)
	f.dripper.SetState(f.mgr)
	f.dripper.SetToken(f.token)
	f.dripper.SetClock(func() time.Time { return f.now })
	require.NoError(t, f.dripper.Initialize(vault, 100))
	require.NoError(t, f.token.Mint(vault, funder, big.NewInt(1_000_000)))
	return f
}

func (f *fixture) collectable(t *testing.T) *big.Int {
	t.Helper()
	amt, err := f.dripper.GetCollectableAmt()
	require.NoError(t, err)
	return amt
}

func TestDripLinearRelease(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.dripper.AddUSDs(funder, big.NewInt(1_000)))
	require.Equal(t, 0, f.collectable(t).Sign())

	f.advance(10 * time.Second)
	require.Equal(t, int64(100), f.collectable(t).Int64())
	f.advance(40 * time.Second)
	require.Equal(t, int64(500), f.collectable(t).Int64())
	f.advance(time.Hour)
	require.Equal(t, int64(1_000), f.collectable(t).Int64())
}

func TestCollectResetsSchedule(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.dripper.AddUSDs(funder, big.NewInt(1_000)))
	f.advance(30 * time.Second)

	collected, err := f.dripper.Collect(funder)
	require.NoError(t, err)
	require.Equal(t, int64(300), collected.Int64())
	require.Equal(t, 0, f.collectable(t).Sign())

	bal, err := f.token.BalanceOf(vault)
	require.NoError(t, err)
	require.Equal(t, int64(300), bal.Int64())

	f.advance(time.Hour)
	collected, err = f.dripper.Collect(funder)
	require.NoError(t, err)
	require.Equal(t, int64(700), collected.Int64())
	params, err := f.dripper.Params()
	require.NoError(t, err)
	require.Equal(t, 0, params.DripRate.Sign())

	collected, err = f.dripper.Collect(funder)
	require.NoError(t, err)
	require.Equal(t, 0, collected.Sign())
}

func TestAddUSDsRestartsWithWholeBalance(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.dripper.AddUSDs(funder, big.NewInt(1_000)))
	f.advance(50 * time.Second)
	require.NoError(t, f.dripper.AddUSDs(funder, big.NewInt(500)))

	// 500 was collected on funding, leaving 500 + 500 spread over 100s.
	params, err := f.dripper.Params()
	require.NoError(t, err)
	require.Equal(t, int64(10), params.DripRate.Int64())
	require.Equal(t, uint64(f.now.Unix()), params.LastCollectTS)
	f.advance(20 * time.Second)
	require.Equal(t, int64(200), f.collectable(t).Int64())
}

func TestUpdateDripDuration(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.dripper.UpdateDripDuration(funder, 10), nativecommon.ErrUnauthorized)
	require.ErrorIs(t, f.dripper.UpdateDripDuration(owner, 0), ErrInvalidDripDuration)
	require.NoError(t, f.dripper.UpdateDripDuration(owner, 10))
	params, err := f.dripper.Params()
	require.NoError(t, err)
	require.Equal(t, uint64(10), params.DripDuration)
}

func TestRecoverTokens(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.RegisterToken("DAI", "Dai", 18))
	require.ErrorIs(t, f.dripper.RecoverTokens(owner, "usds"), ErrInvalidToken)
	require.ErrorIs(t, f.dripper.RecoverTokens(owner, "DAI"), ErrNothingToRecover)
	require.NoError(t, f.mgr.MintToken("DAI", address, big.NewInt(42)))
	require.ErrorIs(t, f.dripper.RecoverTokens(funder, "DAI"), nativecommon.ErrUnauthorized)
	require.NoError(t, f.dripper.RecoverTokens(owner, "DAI"))
	bal, err := f.mgr.Balance("DAI", owner)
	require.NoError(t, err)
	require.Equal(t, int64(42), bal.Int64())
}

func TestDripReleasesRemainderAfterDuration(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.dripper.AddUSDs(funder, big.NewInt(1_099)))
	params, err := f.dripper.Params()
	require.NoError(t, err)
	require.Equal(t, int64(10), params.DripRate.Int64())

	f.advance(99 * time.Second)
	require.Equal(t, int64(990), f.collectable(t).Int64())
	f.advance(time.Second)
	require.Equal(t, int64(1_099), f.collectable(t).Int64())
	f.advance(10 * time.Hour)
	require.Equal(t, int64(1_099), f.collectable(t).Int64())

	collected, err := f.dripper.Collect(funder)
	require.NoError(t, err)
	require.Equal(t, int64(1_099), collected.Int64())
	bal, err := f.token.BalanceOf(address)
	require.NoError(t, err)
	require.Equal(t, 0, bal.Sign())
}

func TestDripBelowDurationReleasesAtEnd(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.dripper.AddUSDs(funder, big.NewInt(7)))
	f.advance(50 * time.Second)
	require.Equal(t, 0, f.collectable(t).Sign())
	f.advance(50 * time.Second)
	require.Equal(t, int64(7), f.collectable(t).Int64())
}
