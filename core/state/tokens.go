package state

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"usdsvault/core/events"
	"usdsvault/crypto"
)

var (
	// ErrTokenNotRegistered is returned when a ledger operation references an
	// unknown token.
	ErrTokenNotRegistered = errors.New("state: token not registered")
	// ErrInsufficientBalance is returned when a debit exceeds the account balance.
	ErrInsufficientBalance = errors.New("state: insufficient balance")
)

// TokenMetadata describes a fungible token tracked by the shared ledger.
type TokenMetadata struct {
	Symbol   string
	Name     string
	Decimals uint8
}

var (
	tokenMetaPrefix    = []byte("token/meta/")
	tokenListKey       = []byte("token/list")
	tokenBalancePrefix = []byte("token/balance/")
)

func tokenMetaKey(symbol string) []byte {
	return append(append([]byte(nil), tokenMetaPrefix...), symbol...)
}

func tokenBalanceKey(symbol string, addr crypto.Address) []byte {
	key := append(append([]byte(nil), tokenBalancePrefix...), symbol...)
	key = append(key, '/')
	return append(key, addr[:]...)
}

// RegisterToken adds a new fungible token to the ledger.
func (m *Manager) RegisterToken(symbol, name string, decimals uint8) error {
	normalized := normalizeSymbol(symbol)
	if normalized == "" {
		return fmt.Errorf("token symbol must not be empty")
	}
	if name == "" {
		return fmt.Errorf("token %s: name must not be empty", normalized)
	}
	if decimals > 77 {
		return fmt.Errorf("token %s: decimals out of range", normalized)
	}
	existing, err := m.Token(normalized)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("token %s already registered", normalized)
	}
	list, err := m.TokenList()
	if err != nil {
		return err
	}
	list = append(list, normalized)
	sort.Strings(list)
	if err := m.KVPut(tokenListKey, list); err != nil {
		return err
	}
	meta := &TokenMetadata{Symbol: normalized, Name: name, Decimals: decimals}
	return m.KVPut(tokenMetaKey(normalized), meta)
}

// Token returns the metadata for symbol or nil when it is not registered.
func (m *Manager) Token(symbol string) (*TokenMetadata, error) {
	normalized := normalizeSymbol(symbol)
	if normalized == "" {
		return nil, fmt.Errorf("token symbol must not be empty")
	}
	meta := new(TokenMetadata)
	ok, err := m.KVGet(tokenMetaKey(normalized), meta)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return meta, nil
}

// TokenExists reports whether symbol has been registered.
func (m *Manager) TokenExists(symbol string) bool {
	meta, err := m.Token(symbol)
	return err == nil && meta != nil
}

// TokenList returns the registered token symbols in sorted order.
func (m *Manager) TokenList() ([]string, error) {
	var list []string
	if err := m.KVGetList(tokenListKey, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (m *Manager) requireToken(symbol string) (string, error) {
	normalized := normalizeSymbol(symbol)
	meta, err := m.Token(normalized)
	if err != nil {
		return "", err
	}
	if meta == nil {
		return "", fmt.Errorf("%w: %s", ErrTokenNotRegistered, normalized)
	}
	return normalized, nil
}

// Balance returns the balance of addr for symbol. Unknown accounts hold zero.
func (m *Manager) Balance(symbol string, addr crypto.Address) (*big.Int, error) {
	normalized, err := m.requireToken(symbol)
	if err != nil {
		return nil, err
	}
	return m.balance(normalized, addr)
}

func (m *Manager) balance(symbol string, addr crypto.Address) (*big.Int, error) {
	bal := new(big.Int)
	ok, err := m.KVGet(tokenBalanceKey(symbol, addr), bal)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return bal, nil
}

func (m *Manager) setBalance(symbol string, addr crypto.Address, amount *big.Int) error {
	if err := ValidateAmount(amount); err != nil {
		return fmt.Errorf("token %s balance: %w", symbol, err)
	}
	if amount.Sign() == 0 {
		return m.KVDelete(tokenBalanceKey(symbol, addr))
	}
	return m.KVPut(tokenBalanceKey(symbol, addr), amount)
}

// Transfer moves amount of symbol from one account to another.
func (m *Manager) Transfer(symbol string, from, to crypto.Address, amount *big.Int) error {
	normalized, err := m.requireToken(symbol)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("token %s: invalid transfer amount", normalized)
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	fromBal, err := m.balance(normalized, from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, normalized, fromBal, amount)
	}
	toBal, err := m.balance(normalized, to)
	if err != nil {
		return err
	}
	if err := m.setBalance(normalized, from, new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	return m.setBalance(normalized, to, new(big.Int).Add(toBal, amount))
}

// MintToken credits amount of symbol to the recipient and grows the supply.
func (m *Manager) MintToken(symbol string, to crypto.Address, amount *big.Int) error {
	normalized, err := m.requireToken(symbol)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("token %s: mint amount must be positive", normalized)
	}
	bal, err := m.balance(normalized, to)
	if err != nil {
		return err
	}
	if err := m.setBalance(normalized, to, new(big.Int).Add(bal, amount)); err != nil {
		return err
	}
	total, err := m.AdjustTokenSupply(normalized, amount)
	if err != nil {
		return err
	}
	m.AppendEvent(events.TokenSupply{Token: normalized, Total: total, Delta: amount, Reason: events.SupplyReasonMint})
	return nil
}

// BurnToken debits amount of symbol from the holder and shrinks the supply.
func (m *Manager) BurnToken(symbol string, from crypto.Address, amount *big.Int) error {
	normalized, err := m.requireToken(symbol)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("token %s: burn amount must be positive", normalized)
	}
	bal, err := m.balance(normalized, from)
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, normalized, bal, amount)
	}
	if err := m.setBalance(normalized, from, new(big.Int).Sub(bal, amount)); err != nil {
		return err
	}
	total, err := m.AdjustTokenSupply(normalized, new(big.Int).Neg(amount))
	if err != nil {
		return err
	}
	m.AppendEvent(events.TokenSupply{Token: normalized, Total: total, Delta: new(big.Int).Neg(amount), Reason: events.SupplyReasonBurn})
	return nil
}
