// Package venues simulates the third-party yield venues that strategies
// deploy collateral into. Both venues hold real balances on the shared token
// ledger so strategy accounting can be exercised end to end.
package venues

import (
	"errors"
	"math/big"
	"strings"

	"usdsvault/crypto"
	"usdsvault/native/strategy"
)

var (
	errNilState = errors.New("venues: state not configured")
	// ErrMarketNotFound is returned for assets the venue has not listed.
	ErrMarketNotFound = errors.New("venues: market not found")
	// ErrMarketExists is returned when listing an asset twice.
	ErrMarketExists = errors.New("venues: market already listed")
	// ErrInsufficientPosition is returned when withdrawing more than held.
	ErrInsufficientPosition = errors.New("venues: insufficient position")
	// ErrInsufficientLiquidity is returned when a borrow exceeds idle funds.
	ErrInsufficientLiquidity = errors.New("venues: insufficient liquidity")
	// ErrEmptyMarket is returned when accruing yield into a market with no
	// depositors.
	ErrEmptyMarket = errors.New("venues: market has no depositors")
)

// ray is the fixed point scale of the lending index.
var ray = big.NewInt(1_000_000_000_000_000_000)

type venueState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	Atomic(fn func() error) error
	TokenExists(symbol string) bool
	Balance(symbol string, addr crypto.Address) (*big.Int, error)
	Transfer(symbol string, from, to crypto.Address, amount *big.Int) error
	MintToken(symbol string, to crypto.Address, amount *big.Int) error
}

func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

// rewardEntry is one accrued incentive balance.
type rewardEntry struct {
	Token  string
	Amount *big.Int
}

// rewardBook tracks incentives owed to holders. Reward tokens are minted into
// the venue account when accrued and paid out on claim.
type rewardBook struct {
	prefix []byte
}

func (r rewardBook) key(holder crypto.Address) []byte {
	return append(append([]byte(nil), r.prefix...), holder[:]...)
}

func (r rewardBook) load(st venueState, holder crypto.Address) ([]rewardEntry, error) {
	var entries []rewardEntry
	if _, err := st.KVGet(r.key(holder), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r rewardBook) accrue(st venueState, venue, holder crypto.Address, token string, amount *big.Int) error {
	symbol := normalizeAsset(token)
	if err := st.MintToken(symbol, venue, amount); err != nil {
		return err
	}
	entries, err := r.load(st, holder)
	if err != nil {
		return err
	}
	found := false
	for i := range entries {
		if entries[i].Token == symbol {
			entries[i].Amount = new(big.Int).Add(bigOrZero(entries[i].Amount), amount)
			found = true
			break
		}
	}
	if !found {
		entries = append(entries, rewardEntry{Token: symbol, Amount: new(big.Int).Set(amount)})
	}
	return st.KVPut(r.key(holder), entries)
}

func (r rewardBook) pending(st venueState, holder crypto.Address) ([]strategy.RewardData, error) {
	entries, err := r.load(st, holder)
	if err != nil {
		return nil, err
	}
	out := make([]strategy.RewardData, 0, len(entries))
	for _, entry := range entries {
		if bigOrZero(entry.Amount).Sign() == 0 {
			continue
		}
		out = append(out, strategy.RewardData{Token: entry.Token, Amount: new(big.Int).Set(entry.Amount)})
	}
	return out, nil
}

func (r rewardBook) claim(st venueState, venue, holder crypto.Address) ([]strategy.RewardData, error) {
	owed, err := r.pending(st, holder)
	if err != nil {
		return nil, err
	}
	for _, reward := range owed {
		if err := st.Transfer(reward.Token, venue, holder, reward.Amount); err != nil {
			return nil, err
		}
	}
	if err := st.KVDelete(r.key(holder)); err != nil {
		return nil, err
	}
	return owed, nil
}
