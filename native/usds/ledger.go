package usds

import (
	"errors"
	"fmt"
	"math/big"

	"usdsvault/core/events"
	"usdsvault/crypto"
	nativecommon "usdsvault/native/common"
)

var (
	// ErrCallerNotVault is returned when a vault-only entry point is called by
	// any other account.
	ErrCallerNotVault = errors.New("usds: caller is not the vault")
	// ErrCannotIncreaseZeroSupply is returned when a rebase runs against an
	// empty supply.
	ErrCannotIncreaseZeroSupply = errors.New("usds: cannot increase zero supply")
	// ErrInvalidRebase is returned when a rebase would yield a zero exchange rate
	// or when no rebasing supply exists.
	ErrInvalidRebase = errors.New("usds: invalid rebase")
	// ErrMaxSupplyExceeded is returned when a mint pushes the supply past MaxSupply.
	ErrMaxSupplyExceeded = errors.New("usds: max supply exceeded")
	// ErrInsufficientBalance is returned when a debit exceeds the balance.
	ErrInsufficientBalance = errors.New("usds: transfer amount exceeds balance")
	// ErrInsufficientAllowance is returned when TransferFrom exceeds the allowance.
	ErrInsufficientAllowance = errors.New("usds: insufficient allowance")
	// ErrPaused is returned for balance movements while the token is paused.
	ErrPaused = errors.New("usds: token is paused")
	// ErrAlreadyRebasing is returned when opting in an account that already rebases.
	ErrAlreadyRebasing = errors.New("usds: account is already rebasing")
	// ErrAlreadyNonRebasing is returned when opting out a non-rebasing account.
	ErrAlreadyNonRebasing = errors.New("usds: account is already non-rebasing")
	errNilState           = errors.New("usds: state not configured")
)

const (
	// Symbol is the ticker of the stable token.
	Symbol = "USDS"
	// Decimals is the number of decimals of the stable token.
	Decimals = 18
)

var (
	// Precision is the initial RebasingCreditsPerToken. It sits 1e9 above
	// tokenUnit, so each wei of balance is backed by about 1e9 credits and
	// rounding in credit arithmetic stays below one wei.
	Precision = nativecommon.MustBigInt("1000000000000000000000000000")
	// tokenUnit converts credits to balances: balance = credits * tokenUnit / rate.
	tokenUnit = nativecommon.Pow10(Decimals)
	// MaxSupply caps the supply a rebase can restore.
	MaxSupply = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
)

type ledgerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	AppendEvent(events.Event)
	HasRole(role string, addr crypto.Address) bool
	Atomic(fn func() error) error
}

// Ledger is the rebasing stable token. Rebasing holders own credits that are
// converted to balances through the shared RebasingCreditsPerToken rate;
// non-rebasing holders own their balance directly.
type Ledger struct {
	state ledgerState
}

// NewLedger constructs a ledger. State must be wired with SetState.
func NewLedger() *Ledger { return &Ledger{} }

// SetState wires the ledger to the persistence layer.
func (l *Ledger) SetState(state ledgerState) {
	if l == nil {
		return
	}
	l.state = state
}

// Initialize records the vault and seeds the exchange rate once.
func (l *Ledger) Initialize(vault crypto.Address) error {
	if err := l.ready(); err != nil {
		return err
	}
	if err := nativecommon.RequireAddress(vault, "vault"); err != nil {
		return err
	}
	return l.state.Atomic(func() error {
		supply, err := l.loadSupply()
		if err != nil {
			return err
		}
		supply.Vault = vault
		return l.storeSupply(supply)
	})
}

func (l *Ledger) ready() error {
	if l == nil || l.state == nil {
		return errNilState
	}
	return nil
}

func (l *Ledger) requireVault(caller crypto.Address, supply *Supply) error {
	if supply.Vault.IsZero() || caller != supply.Vault {
		return ErrCallerNotVault
	}
	return nil
}

func (l *Ledger) requireOwner(caller crypto.Address) error {
	return nativecommon.RequireRole(l.state, nativecommon.RoleOwner, caller)
}

// TotalSupply returns the current supply.
func (l *Ledger) TotalSupply() (*big.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	supply, err := l.loadSupply()
	if err != nil {
		return nil, err
	}
	return supply.TotalSupply, nil
}

// NonRebasingSupply returns the supply held by non-rebasing accounts.
func (l *Ledger) NonRebasingSupply() (*big.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	supply, err := l.loadSupply()
	if err != nil {
		return nil, err
	}
	return supply.NonRebasingSupply, nil
}

// RebasingCreditsPerToken returns the shared exchange rate.
func (l *Ledger) RebasingCreditsPerToken() (*big.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	supply, err := l.loadSupply()
	if err != nil {
		return nil, err
	}
	return supply.RebasingCreditsPerToken, nil
}

// SupplySnapshot returns a copy of the global ledger record.
func (l *Ledger) SupplySnapshot() (*Supply, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	return l.loadSupply()
}

// Vault returns the address allowed to mint, burn and rebase.
func (l *Ledger) Vault() (crypto.Address, error) {
	if err := l.ready(); err != nil {
		return crypto.Address{}, err
	}
	supply, err := l.loadSupply()
	if err != nil {
		return crypto.Address{}, err
	}
	return supply.Vault, nil
}

// BalanceOf returns the token balance of account.
func (l *Ledger) BalanceOf(account crypto.Address) (*big.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	supply, err := l.loadSupply()
	if err != nil {
		return nil, err
	}
	acct, err := l.loadAccount(account)
	if err != nil {
		return nil, err
	}
	return balanceOf(acct, supply), nil
}

// CreditsBalanceOf returns the credits of account and the credits-per-token
// rate that applies to them.
func (l *Ledger) CreditsBalanceOf(account crypto.Address) (*big.Int, *big.Int, error) {
	if err := l.ready(); err != nil {
		return nil, nil, err
	}
	supply, err := l.loadSupply()
	if err != nil {
		return nil, nil, err
	}
	acct, err := l.loadAccount(account)
	if err != nil {
		return nil, nil, err
	}
	if acct.isNonRebasing() {
		return new(big.Int).Set(acct.Credits), new(big.Int).Set(tokenUnit), nil
	}
	return new(big.Int).Set(acct.Credits), new(big.Int).Set(supply.RebasingCreditsPerToken), nil
}

// IsRebasing reports whether account participates in rebases.
func (l *Ledger) IsRebasing(account crypto.Address) (bool, error) {
	if err := l.ready(); err != nil {
		return false, err
	}
	acct, err := l.loadAccount(account)
	if err != nil {
		return false, err
	}
	return !acct.isNonRebasing(), nil
}

func balanceOf(acct *Account, supply *Supply) *big.Int {
	if acct.isNonRebasing() {
		return new(big.Int).Set(acct.Credits)
	}
	return nativecommon.MulDiv(acct.Credits, tokenUnit, supply.RebasingCreditsPerToken)
}

// credit adds amount to account and updates the supply split. Rebasing credits
// are rounded down so holders never gain more than amount.
func credit(acct *Account, supply *Supply, amount *big.Int) {
	if acct.isNonRebasing() {
		acct.Credits.Add(acct.Credits, amount)
		supply.NonRebasingSupply.Add(supply.NonRebasingSupply, amount)
		return
	}
	credits := nativecommon.MulDiv(amount, supply.RebasingCreditsPerToken, tokenUnit)
	acct.Credits.Add(acct.Credits, credits)
	supply.RebasingCredits.Add(supply.RebasingCredits, credits)
}

// debit removes amount from account. Rebasing credits are rounded up and a
// full-balance debit clears every credit so no dust is left behind.
func debit(acct *Account, supply *Supply, amount *big.Int) error {
	current := balanceOf(acct, supply)
	if current.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, current, amount)
	}
	if acct.isNonRebasing() {
		acct.Credits.Sub(acct.Credits, amount)
		supply.NonRebasingSupply.Sub(supply.NonRebasingSupply, amount)
		return nil
	}
	credits := nativecommon.MulDivUp(amount, supply.RebasingCreditsPerToken, tokenUnit)
	if current.Cmp(amount) == 0 || credits.Cmp(acct.Credits) > 0 {
		credits = new(big.Int).Set(acct.Credits)
	}
	acct.Credits.Sub(acct.Credits, credits)
	supply.RebasingCredits.Sub(supply.RebasingCredits, credits)
	return nil
}
