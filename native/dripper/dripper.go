package dripper

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"usdsvault/core/events"
	"usdsvault/crypto"
	nativecommon "usdsvault/native/common"
)

var (
	// ErrInvalidToken is returned when attempting to recover USDs.
	ErrInvalidToken = errors.New("dripper: token cannot be recovered")
	// ErrNothingToRecover is returned when the recovered token balance is zero.
	ErrNothingToRecover = errors.New("dripper: nothing to recover")
	// ErrInvalidDripDuration is returned for a zero drip duration.
	ErrInvalidDripDuration = errors.New("dripper: drip duration must be positive")
	errNilState            = errors.New("dripper: state not configured")
	errNilToken            = errors.New("dripper: usds token not configured")
)

// DefaultDripDuration spreads new yield over one week.
const DefaultDripDuration = uint64(7 * 24 * 60 * 60)

var stateKey = []byte("dripper/state")

// State is the persisted drip schedule.
type State struct {
	Vault         crypto.Address
	DripDuration  uint64
	DripRate      *big.Int
	LastCollectTS uint64
}

type dripperState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	AppendEvent(events.Event)
	HasRole(role string, addr crypto.Address) bool
	Atomic(fn func() error) error
	Balance(symbol string, addr crypto.Address) (*big.Int, error)
	Transfer(symbol string, from, to crypto.Address, amount *big.Int) error
}

// Token is the subset of the USDs ledger used by the dripper.
type Token interface {
	BalanceOf(account crypto.Address) (*big.Int, error)
	Transfer(caller, recipient crypto.Address, amount *big.Int) error
}

// Dripper holds undistributed yield and releases it linearly to the vault.
type Dripper struct {
	address crypto.Address
	state   dripperState
	token   Token
	symbol  string
	clock   func() time.Time
}

// New constructs a dripper operating from address. tokenSymbol names the USDs
// token so it can be excluded from recovery.
func New(address crypto.Address, tokenSymbol string) *Dripper {
	return &Dripper{
		address: address,
		symbol:  strings.ToUpper(strings.TrimSpace(tokenSymbol)),
		clock:   time.Now,
	}
}

// SetState wires the dripper to the persistence layer.
func (d *Dripper) SetState(state dripperState) {
	if d == nil {
		return
	}
	d.state = state
}

// SetToken wires the USDs ledger.
func (d *Dripper) SetToken(token Token) {
	if d == nil {
		return
	}
	d.token = token
}

// SetClock overrides the time source.
func (d *Dripper) SetClock(clock func() time.Time) {
	if d == nil || clock == nil {
		return
	}
	d.clock = clock
}

// Address returns the account holding the undistributed yield.
func (d *Dripper) Address() crypto.Address { return d.address }

func (d *Dripper) now() uint64 { return nativecommon.Unix(d.clock) }

func (d *Dripper) ready() error {
	if d == nil || d.state == nil {
		return errNilState
	}
	if d.token == nil {
		return errNilToken
	}
	return nil
}

// Initialize seeds the schedule with the vault and drip duration.
func (d *Dripper) Initialize(vault crypto.Address, dripDuration uint64) error {
	if err := d.ready(); err != nil {
		return err
	}
	if err := nativecommon.RequireAddress(vault, "vault"); err != nil {
		return err
	}
	if dripDuration == 0 {
		dripDuration = DefaultDripDuration
	}
	return d.state.Atomic(func() error {
		st, err := d.load()
		if err != nil {
			return err
		}
		st.Vault = vault
		st.DripDuration = dripDuration
		if st.LastCollectTS == 0 {
			st.LastCollectTS = d.now()
		}
		return d.store(st)
	})
}

func (d *Dripper) load() (*State, error) {
	st := new(State)
	ok, err := d.state.KVGet(stateKey, st)
	if err != nil {
		return nil, err
	}
	if !ok {
		st = &State{DripDuration: DefaultDripDuration}
	}
	if st.DripRate == nil {
		st.DripRate = big.NewInt(0)
	}
	return st, nil
}

func (d *Dripper) store(st *State) error {
	return d.state.KVPut(stateKey, st)
}

// Params returns a copy of the persisted schedule.
func (d *Dripper) Params() (*State, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	return d.load()
}

// GetCollectableAmt returns elapsed * dripRate bounded by the dripper's USDs
// balance. Once dripDuration has passed the whole balance is collectable.
func (d *Dripper) GetCollectableAmt() (*big.Int, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	st, err := d.load()
	if err != nil {
		return nil, err
	}
	return d.collectable(st)
}

func (d *Dripper) collectable(st *State) (*big.Int, error) {
	now := d.now()
	var elapsed uint64
	if now > st.LastCollectTS {
		elapsed = now - st.LastCollectTS
	}
	balance, err := d.token.BalanceOf(d.address)
	if err != nil {
		return nil, err
	}
	// The rate rounds down, so a finished window releases the remainder too.
	if elapsed >= st.DripDuration {
		return balance, nil
	}
	amount := new(big.Int).Mul(new(big.Int).SetUint64(elapsed), st.DripRate)
	if amount.Cmp(balance) > 0 {
		return balance, nil
	}
	return amount, nil
}

// Collect forwards the collectable amount to the vault. Anyone may call it
// since funds only ever move to the vault.
func (d *Dripper) Collect(caller crypto.Address) (*big.Int, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	var collected *big.Int
	err := d.state.Atomic(func() error {
		amount, err := d.collect()
		collected = amount
		return err
	})
	if err != nil {
		return nil, err
	}
	return collected, nil
}

func (d *Dripper) collect() (*big.Int, error) {
	st, err := d.load()
	if err != nil {
		return nil, err
	}
	amount, err := d.collectable(st)
	if err != nil {
		return nil, err
	}
	if amount.Sign() > 0 {
		if err := d.token.Transfer(d.address, st.Vault, amount); err != nil {
			return nil, fmt.Errorf("dripper: collect: %w", err)
		}
		st.LastCollectTS = d.now()
		d.state.AppendEvent(events.DripperCollected{Amount: new(big.Int).Set(amount)})
	}
	remaining, err := d.token.BalanceOf(d.address)
	if err != nil {
		return nil, err
	}
	if remaining.Sign() == 0 {
		st.DripRate = big.NewInt(0)
	}
	if err := d.store(st); err != nil {
		return nil, err
	}
	return amount, nil
}

// AddUSDs pulls amount from caller and restarts the linear schedule over the
// full drip duration using the whole undistributed balance.
func (d *Dripper) AddUSDs(caller crypto.Address, amount *big.Int) error {
	if err := d.ready(); err != nil {
		return err
	}
	if err := nativecommon.RequirePositive(amount); err != nil {
		return err
	}
	return d.state.Atomic(func() error {
		if _, err := d.collect(); err != nil {
			return err
		}
		if err := d.token.Transfer(caller, d.address, amount); err != nil {
			return fmt.Errorf("dripper: fund: %w", err)
		}
		st, err := d.load()
		if err != nil {
			return err
		}
		balance, err := d.token.BalanceOf(d.address)
		if err != nil {
			return err
		}
		st.DripRate = new(big.Int).Quo(balance, new(big.Int).SetUint64(st.DripDuration))
		st.LastCollectTS = d.now()
		if err := d.store(st); err != nil {
			return err
		}
		d.state.AppendEvent(events.DripperFunded{Funder: caller, Amount: new(big.Int).Set(amount), DripRate: new(big.Int).Set(st.DripRate)})
		return nil
	})
}

// UpdateDripDuration changes the release window.
func (d *Dripper) UpdateDripDuration(caller crypto.Address, dripDuration uint64) error {
	if err := d.ready(); err != nil {
		return err
	}
	if err := nativecommon.RequireRole(d.state, nativecommon.RoleOwner, caller); err != nil {
		return err
	}
	if dripDuration == 0 {
		return ErrInvalidDripDuration
	}
	return d.state.Atomic(func() error {
		st, err := d.load()
		if err != nil {
			return err
		}
		st.DripDuration = dripDuration
		if err := d.store(st); err != nil {
			return err
		}
		d.state.AppendEvent(events.ConfigUpdated{Module: "dripper", Field: "dripDuration", Value: strconv.FormatUint(dripDuration, 10)})
		return nil
	})
}

// UpdateVault changes the collect destination.
func (d *Dripper) UpdateVault(caller, vault crypto.Address) error {
	if err := d.ready(); err != nil {
		return err
	}
	if err := nativecommon.RequireRole(d.state, nativecommon.RoleOwner, caller); err != nil {
		return err
	}
	if err := nativecommon.RequireAddress(vault, "vault"); err != nil {
		return err
	}
	return d.state.Atomic(func() error {
		st, err := d.load()
		if err != nil {
			return err
		}
		st.Vault = vault
		if err := d.store(st); err != nil {
			return err
		}
		d.state.AppendEvent(events.ConfigUpdated{Module: "dripper", Field: "vault", Value: vault.String()})
		return nil
	})
}

// RecoverTokens sweeps the full balance of a non-USDs token to the owner.
func (d *Dripper) RecoverTokens(caller crypto.Address, token string) error {
	if err := d.ready(); err != nil {
		return err
	}
	if err := nativecommon.RequireRole(d.state, nativecommon.RoleOwner, caller); err != nil {
		return err
	}
	symbol := strings.ToUpper(strings.TrimSpace(token))
	if symbol == d.symbol {
		return ErrInvalidToken
	}
	return d.state.Atomic(func() error {
		balance, err := d.state.Balance(symbol, d.address)
		if err != nil {
			return err
		}
		if balance.Sign() == 0 {
			return ErrNothingToRecover
		}
		if err := d.state.Transfer(symbol, d.address, caller, balance); err != nil {
			return err
		}
		d.state.AppendEvent(events.DripperRecovered{Token: symbol, Recipient: caller, Amount: new(big.Int).Set(balance)})
		return nil
	})
}
