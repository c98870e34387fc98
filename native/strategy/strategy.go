package strategy

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"usdsvault/crypto"
)

var (
	// ErrDidNotWithdrawEnough is returned by exact strategies when the venue
	// delivers less than requested.
	ErrDidNotWithdrawEnough = errors.New("strategy: did not withdraw enough")
	// ErrSlippageExceeded is returned when a venue result falls outside the
	// configured slippage tolerance.
	ErrSlippageExceeded = errors.New("strategy: slippage exceeded")
	// ErrCollateralNotSupported is returned for assets the strategy does not handle.
	ErrCollateralNotSupported = errors.New("strategy: collateral not supported")
	// ErrCallerNotVault is returned when a vault-only entry point is called by
	// another account.
	ErrCallerNotVault = errors.New("strategy: caller is not the vault")
	// ErrInsufficientAllocation is returned when withdrawing more than allocated.
	ErrInsufficientAllocation = errors.New("strategy: amount exceeds allocation")
	// ErrCollateralAllocated is returned when removing an asset that still
	// holds principal.
	ErrCollateralAllocated = errors.New("strategy: collateral still allocated")
	// ErrStrategyExists is returned when registering a duplicate address.
	ErrStrategyExists = errors.New("strategy: already registered")
	errNilState       = errors.New("strategy: state not configured")
	errNilVenue       = errors.New("strategy: venue not configured")
)

// RewardData is an amount of a reward token.
type RewardData struct {
	Token  string
	Amount *big.Int
}

// Strategy wraps a yield venue. The vault only talks to strategies through
// this interface. Exact strategies fail when the venue under-delivers while
// pool based strategies may return less than requested within their slippage
// tolerance, so callers must always use the returned amount.
type Strategy interface {
	Address() crypto.Address
	Name() string
	Deposit(caller crypto.Address, asset string, amount *big.Int) error
	Withdraw(caller, recipient crypto.Address, asset string, amount *big.Int) (*big.Int, error)
	WithdrawToVault(caller crypto.Address, asset string, amount *big.Int) (*big.Int, error)
	CheckBalance(asset string) (*big.Int, error)
	CheckAvailableBalance(asset string) (*big.Int, error)
	CheckInterestEarned(asset string) (*big.Int, error)
	CheckRewardEarned() ([]RewardData, error)
	CheckLPTokenBalance(asset string) (*big.Int, error)
	CollectInterest(caller crypto.Address, asset string) error
	CollectReward(caller crypto.Address) error
	SupportsCollateral(asset string) bool
}

// Registry maps strategy addresses to their implementations. It is populated
// once while the protocol is wired.
type Registry struct {
	mu         sync.RWMutex
	strategies map[crypto.Address]Strategy
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[crypto.Address]Strategy)}
}

// Register adds s under its address.
func (r *Registry) Register(s Strategy) error {
	if r == nil || s == nil {
		return fmt.Errorf("strategy: registry not configured")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.strategies[s.Address()]; ok {
		return fmt.Errorf("%w: %s", ErrStrategyExists, s.Address())
	}
	r.strategies[s.Address()] = s
	return nil
}

// Lookup returns the strategy registered at addr.
func (r *Registry) Lookup(addr crypto.Address) (Strategy, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[addr]
	return s, ok
}

// All returns every registered strategy ordered by name.
func (r *Registry) All() []Strategy {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	out := make([]Strategy, 0, len(r.strategies))
	for _, s := range r.strategies {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
