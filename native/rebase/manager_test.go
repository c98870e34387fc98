package rebase

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"usdsvault/core/state"
	"usdsvault/crypto"
	nativecommon "usdsvault/native/common"
	"usdsvault/storage"
)

var (
	owner   = crypto.ModuleAddress("owner")
	vault   = crypto.ModuleAddress("vault")
	dripper = crypto.ModuleAddress("dripper")
	self    = crypto.ModuleAddress("rebase-manager")
	day     = 24 * time.Hour
)

type fakeToken struct {
	total       *big.Int
	nonRebasing *big.Int
	vaultBal    *big.Int
}

func (f *fakeToken) TotalSupply() (*big.Int, error) { return new(big.Int).Set(f.total), nil }
func (f *fakeToken) NonRebasingSupply() (*big.Int, error) {
	return new(big.Int).Set(f.nonRebasing), nil
}
func (f *fakeToken) BalanceOf(crypto.Address) (*big.Int, error) {
	return new(big.Int).Set(f.vaultBal), nil
}

type fakeDripper struct {
	collectable *big.Int
	collects    int
	token       *fakeToken
}

func (f *fakeDripper) GetCollectableAmt() (*big.Int, error) {
	return new(big.Int).Set(f.collectable), nil
}

func (f *fakeDripper) Collect(crypto.Address) (*big.Int, error) {
	f.collects++
	amt := f.collectable
	f.token.vaultBal = new(big.Int).Add(f.token.vaultBal, amt)
	f.collectable = big.NewInt(0)
	return amt, nil
}

type fixture struct {
	mgr     *Manager
	token   *fakeToken
	dripper *fakeDripper
	now     time.Time
	start   time.Time
}

func newFixture(t *testing.T, gap uint64) *fixture {
	t.Helper()
	f := &fixture{now: time.Unix(1_700_000_000, 0)}
	f.start = f.now
	st := state.NewManager(storage.NewMemDB())
	require.NoError(t, st.SetRole(nativecommon.RoleOwner, owner, true))
	f.token = &fakeToken{
		total:       big.NewInt(1_000_000_000),
		nonRebasing: big.NewInt(0),
		vaultBal:    big.NewInt(0),
	}
	f.dripper = &fakeDripper{collectable: big.NewInt(0), token: f.token}
	f.mgr = New(self)
	f.mgr.SetState(st)
	f.mgr.SetToken(f.token)
	f.mgr.SetDripper(f.dripper)
	f.mgr.SetClock(func() time.Time { return f.now })
	require.NoError(t, f.mgr.Initialize(vault, dripper, gap, DefaultAPRCap, DefaultAPRBottom))
	return f
}

func (f *fixture) lastRebase(t *testing.T) uint64 {
	t.Helper()
	params, err := f.mgr.Params()
	require.NoError(t, err)
	return params.LastRebaseTS
}

func TestFetchRestrictedToVault(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.mgr.FetchRebaseAmt(owner)
	require.ErrorIs(t, err, ErrCallerNotVault)
}

func TestFetchGatedByGap(t *testing.T) {
	f := newFixture(t, uint64((7 * day).Seconds()))
	f.token.vaultBal = big.NewInt(1_000_000)
	f.now = f.now.Add(3 * day)

	amt, err := f.mgr.FetchRebaseAmt(vault)
	require.NoError(t, err)
	require.Equal(t, 0, amt.Sign())
	require.Equal(t, uint64(f.start.Unix()), f.lastRebase(t))
	require.Zero(t, f.dripper.collects)
}

func TestFetchCappedByAPR(t *testing.T) {
	f := newFixture(t, uint64(day.Seconds()))
	f.token.vaultBal = big.NewInt(10_000_000)
	f.now = f.now.Add(365 * day)

	minAmt, maxAmt, err := f.mgr.GetMinAndMaxRebaseAmt()
	require.NoError(t, err)
	require.Equal(t, int64(30_000_000), minAmt.Int64())
	require.Equal(t, int64(100_000_000), maxAmt.Int64())

	// Available funds below the APR floor: nothing happens.
	amt, err := f.mgr.FetchRebaseAmt(vault)
	require.NoError(t, err)
	require.Equal(t, 0, amt.Sign())
	require.Equal(t, uint64(f.start.Unix()), f.lastRebase(t))

	f.token.vaultBal = big.NewInt(80_000_000)
	f.dripper.collectable = big.NewInt(70_000_000)
	amt, err = f.mgr.FetchRebaseAmt(vault)
	require.NoError(t, err)
	require.Equal(t, int64(100_000_000), amt.Int64())
	require.Equal(t, uint64(f.now.Unix()), f.lastRebase(t))
	require.Equal(t, 1, f.dripper.collects)
	require.Equal(t, int64(150_000_000), f.token.vaultBal.Int64())
}

func TestFetchWithinBounds(t *testing.T) {
	f := newFixture(t, 0)
	f.now = f.now.Add(36 * day)
	f.dripper.collectable = big.NewInt(5_000_000)

	minAmt, maxAmt, err := f.mgr.GetMinAndMaxRebaseAmt()
	require.NoError(t, err)
	amt, err := f.mgr.FetchRebaseAmt(vault)
	require.NoError(t, err)
	require.True(t, amt.Cmp(minAmt) >= 0 && amt.Cmp(maxAmt) <= 0)
	require.Equal(t, int64(5_000_000), amt.Int64())
}

func TestUpdateAPRValidatesBand(t *testing.T) {
	f := newFixture(t, 0)
	require.ErrorIs(t, f.mgr.UpdateAPR(owner, 500, 100), ErrInvalidAPRConfig)
	require.ErrorIs(t, f.mgr.UpdateAPR(vault, 100, 500), nativecommon.ErrUnauthorized)
	require.NoError(t, f.mgr.UpdateAPR(owner, 100, 500))
	require.NoError(t, f.mgr.UpdateGap(owner, 60))
	params, err := f.mgr.Params()
	require.NoError(t, err)
	require.Equal(t, uint64(100), params.APRBottom)
	require.Equal(t, uint64(500), params.APRCap)
	require.Equal(t, uint64(60), params.Gap)

	err = New(self).Initialize(vault, dripper, 0, 100, 200)
	require.Error(t, err)
}
