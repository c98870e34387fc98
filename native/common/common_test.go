package common

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"usdsvault/crypto"
)

type pauseMap map[string]bool

func (p pauseMap) IsPaused(module string) bool { return p[module] }

type roleSet map[crypto.Address]bool

func (r roleSet) HasRole(_ string, addr crypto.Address) bool { return r[addr] }

func TestGuard(t *testing.T) {
	if err := Guard(nil, "vault"); err != nil {
		t.Fatalf("nil pause view must not block: %v", err)
	}
	if err := Guard(pauseMap{"vault": true}, "vault"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	err := Guard(pauseMap{"vault": true}, "yieldreserve", "", "vault")
	if !errors.Is(err, ErrModulePaused) || err.Error() != "module paused: vault" {
		t.Fatalf("expected vault pause, got %v", err)
	}
	if err := Guard(pauseMap{"vault": true}, "yieldreserve"); err != nil {
		t.Fatalf("unpaused module blocked: %v", err)
	}
}

func TestReentrancyGuardFailsFast(t *testing.T) {
	var g ReentrancyGuard
	release, err := g.Enter()
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	if _, err := g.Enter(); !errors.Is(err, ErrReentrantCall) {
		t.Fatalf("expected ErrReentrantCall, got %v", err)
	}
	release()
	if g.Entered() {
		t.Fatalf("guard must be released")
	}
	if _, err := g.Enter(); err != nil {
		t.Fatalf("re-enter after release: %v", err)
	}
}

func TestRequireRole(t *testing.T) {
	owner := crypto.ModuleAddress("owner")
	if err := RequireRole(roleSet{owner: true}, RoleOwner, owner); err != nil {
		t.Fatalf("owner rejected: %v", err)
	}
	if err := RequireRole(roleSet{}, RoleOwner, owner); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := RequireRole(roleSet{crypto.Address{}: true}, RoleOwner, crypto.Address{}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("zero caller must be rejected")
	}
}

func TestMulDivRounding(t *testing.T) {
	if got := MulDiv(big.NewInt(10), big.NewInt(1), big.NewInt(3)); got.Int64() != 3 {
		t.Fatalf("floor: got %s", got)
	}
	if got := MulDivUp(big.NewInt(10), big.NewInt(1), big.NewInt(3)); got.Int64() != 4 {
		t.Fatalf("ceil: got %s", got)
	}
	if got := MulDivUp(big.NewInt(9), big.NewInt(1), big.NewInt(3)); got.Int64() != 3 {
		t.Fatalf("exact ceil: got %s", got)
	}
	if got := ApplyBps(big.NewInt(1_000_000), 25); got.Int64() != 2_500 {
		t.Fatalf("bps: got %s", got)
	}
	if err := ValidatePercentage(10_001, "fee"); !errors.Is(err, ErrInvalidPercentage) {
		t.Fatalf("expected ErrInvalidPercentage, got %v", err)
	}
}

func TestUnix(t *testing.T) {
	fixed := time.Unix(1_700_000_000, 0)
	if got := Unix(func() time.Time { return fixed }); got != 1_700_000_000 {
		t.Fatalf("unexpected unix: %d", got)
	}
}
