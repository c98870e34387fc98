package usds

import (
	"math/big"

	"usdsvault/core/state"
	"usdsvault/crypto"
)

// RebaseState records an explicit rebasing choice for an account.
type RebaseState uint8

const (
	// RebaseNotSet is the default: the account rebases.
	RebaseNotSet RebaseState = iota
	// RebaseOptOut marks an account whose balance is fixed.
	RebaseOptOut
	// RebaseOptIn marks an account that opted back in.
	RebaseOptIn
)

// Supply is the global ledger record.
type Supply struct {
	TotalSupply             *big.Int
	NonRebasingSupply       *big.Int
	RebasingCredits         *big.Int
	RebasingCreditsPerToken *big.Int
	Vault                   crypto.Address
	Paused                  bool
}

// Account is the per-holder ledger record. Credits holds the raw balance for
// non-rebasing accounts.
type Account struct {
	Credits     *big.Int
	RebaseState uint8
}

func (a *Account) isNonRebasing() bool {
	return RebaseState(a.RebaseState) == RebaseOptOut
}

var (
	supplyKey        = []byte("usds/supply")
	accountPrefix    = []byte("usds/account/")
	allowancePrefix  = []byte("usds/allowance/")
	allowanceKeySize = len(allowancePrefix) + 2*crypto.AddressLength
)

func accountKey(addr crypto.Address) []byte {
	return append(append([]byte(nil), accountPrefix...), addr[:]...)
}

func allowanceKey(owner, spender crypto.Address) []byte {
	key := make([]byte, 0, allowanceKeySize)
	key = append(key, allowancePrefix...)
	key = append(key, owner[:]...)
	return append(key, spender[:]...)
}

func (l *Ledger) loadSupply() (*Supply, error) {
	supply := new(Supply)
	ok, err := l.state.KVGet(supplyKey, supply)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Supply{
			TotalSupply:             big.NewInt(0),
			NonRebasingSupply:       big.NewInt(0),
			RebasingCredits:         big.NewInt(0),
			RebasingCreditsPerToken: new(big.Int).Set(Precision),
		}, nil
	}
	return supply, nil
}

func (l *Ledger) storeSupply(supply *Supply) error {
	for _, v := range []*big.Int{supply.TotalSupply, supply.NonRebasingSupply, supply.RebasingCredits, supply.RebasingCreditsPerToken} {
		if err := state.ValidateAmount(v); err != nil {
			return err
		}
	}
	return l.state.KVPut(supplyKey, supply)
}

func (l *Ledger) loadAccount(addr crypto.Address) (*Account, error) {
	acct := new(Account)
	ok, err := l.state.KVGet(accountKey(addr), acct)
	if err != nil {
		return nil, err
	}
	if !ok || acct.Credits == nil {
		acct.Credits = big.NewInt(0)
	}
	return acct, nil
}

func (l *Ledger) storeAccount(addr crypto.Address, acct *Account) error {
	if err := state.ValidateAmount(acct.Credits); err != nil {
		return err
	}
	if acct.Credits.Sign() == 0 && RebaseState(acct.RebaseState) == RebaseNotSet {
		return l.state.KVDelete(accountKey(addr))
	}
	return l.state.KVPut(accountKey(addr), acct)
}

// Allowance returns the amount spender may move on behalf of owner.
func (l *Ledger) Allowance(owner, spender crypto.Address) (*big.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	amount := new(big.Int)
	ok, err := l.state.KVGet(allowanceKey(owner, spender), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

func (l *Ledger) storeAllowance(owner, spender crypto.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return l.state.KVDelete(allowanceKey(owner, spender))
	}
	if err := state.ValidateAmount(amount); err != nil {
		return err
	}
	return l.state.KVPut(allowanceKey(owner, spender), amount)
}
