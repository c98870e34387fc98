package venues

import (
	"fmt"
	"math/big"

	"usdsvault/crypto"
	nativecommon "usdsvault/native/common"
	"usdsvault/native/strategy"
)

// Market is the persisted state of one lending market. Supplier positions are
// tracked in shares; Index converts shares into underlying.
type Market struct {
	Listed      bool
	TotalShares *big.Int
	Index       *big.Int
	Borrowed    *big.Int
}

// LendingPool is an index based money market. Borrowers draw down idle
// liquidity, which caps what suppliers can withdraw at any moment.
type LendingPool struct {
	address crypto.Address
	state   venueState
	prefix  []byte
	rewards rewardBook
}

var _ strategy.LendingVenue = (*LendingPool)(nil)

// NewLendingPool constructs a pool holding its funds at address.
func NewLendingPool(address crypto.Address) *LendingPool {
	prefix := "venue/lending/" + address.Hex() + "/"
	return &LendingPool{
		address: address,
		prefix:  []byte(prefix),
		rewards: rewardBook{prefix: []byte(prefix + "reward/")},
	}
}

// SetState wires the pool to the persistence layer.
func (p *LendingPool) SetState(state venueState) {
	if p == nil {
		return
	}
	p.state = state
}

// Address returns the account that custodies supplied funds.
func (p *LendingPool) Address() crypto.Address { return p.address }

func (p *LendingPool) ready() error {
	if p == nil || p.state == nil {
		return errNilState
	}
	return nil
}

func (p *LendingPool) marketKey(asset string) []byte {
	return append(append([]byte(nil), p.prefix...), "market/"+asset...)
}

func (p *LendingPool) positionKey(asset string, supplier crypto.Address) []byte {
	key := append(append([]byte(nil), p.prefix...), "position/"+asset+"/"...)
	return append(key, supplier[:]...)
}

// ListMarket opens a market for asset with an index of one.
func (p *LendingPool) ListMarket(asset string) error {
	if err := p.ready(); err != nil {
		return err
	}
	symbol := normalizeAsset(asset)
	if !p.state.TokenExists(symbol) {
		return fmt.Errorf("%w: %s", ErrMarketNotFound, symbol)
	}
	return p.state.Atomic(func() error {
		market, err := p.loadMarket(symbol)
		if err != nil {
			return err
		}
		if market.Listed {
			return fmt.Errorf("%w: %s", ErrMarketExists, symbol)
		}
		market.Listed = true
		market.Index = new(big.Int).Set(ray)
		return p.state.KVPut(p.marketKey(symbol), market)
	})
}

func (p *LendingPool) loadMarket(symbol string) (*Market, error) {
	market := new(Market)
	if _, err := p.state.KVGet(p.marketKey(symbol), market); err != nil {
		return nil, err
	}
	market.TotalShares = bigOrZero(market.TotalShares)
	market.Borrowed = bigOrZero(market.Borrowed)
	if market.Index == nil || market.Index.Sign() == 0 {
		market.Index = new(big.Int).Set(ray)
	}
	return market, nil
}

func (p *LendingPool) requireMarket(asset string) (string, *Market, error) {
	symbol := normalizeAsset(asset)
	market, err := p.loadMarket(symbol)
	if err != nil {
		return "", nil, err
	}
	if !market.Listed {
		return "", nil, fmt.Errorf("%w: %s", ErrMarketNotFound, symbol)
	}
	return symbol, market, nil
}

func (p *LendingPool) shares(symbol string, supplier crypto.Address) (*big.Int, error) {
	shares := new(big.Int)
	if _, err := p.state.KVGet(p.positionKey(symbol, supplier), shares); err != nil {
		return nil, err
	}
	return shares, nil
}

func (p *LendingPool) putShares(symbol string, supplier crypto.Address, shares *big.Int) error {
	if shares.Sign() == 0 {
		return p.state.KVDelete(p.positionKey(symbol, supplier))
	}
	return p.state.KVPut(p.positionKey(symbol, supplier), shares)
}

// Market returns a copy of the market state for asset.
func (p *LendingPool) Market(asset string) (*Market, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	_, market, err := p.requireMarket(asset)
	return market, err
}

// Supply moves amount from supplier into the pool and mints shares at the
// current index.
func (p *LendingPool) Supply(supplier crypto.Address, asset string, amount *big.Int) error {
	if err := p.ready(); err != nil {
		return err
	}
	if err := nativecommon.RequirePositive(amount); err != nil {
		return err
	}
	return p.state.Atomic(func() error {
		symbol, market, err := p.requireMarket(asset)
		if err != nil {
			return err
		}
		minted := nativecommon.MulDiv(amount, ray, market.Index)
		if minted.Sign() == 0 {
			return fmt.Errorf("%w: supply below one share", nativecommon.ErrInvalidAmount)
		}
		if err := p.state.Transfer(symbol, supplier, p.address, amount); err != nil {
			return err
		}
		held, err := p.shares(symbol, supplier)
		if err != nil {
			return err
		}
		if err := p.putShares(symbol, supplier, held.Add(held, minted)); err != nil {
			return err
		}
		market.TotalShares = new(big.Int).Add(market.TotalShares, minted)
		return p.state.KVPut(p.marketKey(symbol), market)
	})
}

// Withdraw redeems up to amount of underlying for recipient. Delivery is
// limited by idle liquidity so the returned value may be below amount.
func (p *LendingPool) Withdraw(supplier crypto.Address, asset string, amount *big.Int, recipient crypto.Address) (*big.Int, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.RequirePositive(amount); err != nil {
		return nil, err
	}
	var delivered *big.Int
	err := p.state.Atomic(func() error {
		symbol, market, err := p.requireMarket(asset)
		if err != nil {
			return err
		}
		held, err := p.shares(symbol, supplier)
		if err != nil {
			return err
		}
		value := nativecommon.MulDiv(held, market.Index, ray)
		if value.Cmp(amount) < 0 {
			return fmt.Errorf("%w: holds %s, requested %s", ErrInsufficientPosition, value, amount)
		}
		liquidity, err := p.state.Balance(symbol, p.address)
		if err != nil {
			return err
		}
		delivered = nativecommon.Min(amount, liquidity)
		if delivered.Sign() == 0 {
			return nil
		}
		burnt := nativecommon.MulDivUp(delivered, ray, market.Index)
		if burnt.Cmp(held) > 0 {
			burnt = held
		}
		if err := p.state.Transfer(symbol, p.address, recipient, delivered); err != nil {
			return err
		}
		if err := p.putShares(symbol, supplier, new(big.Int).Sub(held, burnt)); err != nil {
			return err
		}
		market.TotalShares = new(big.Int).Sub(market.TotalShares, burnt)
		return p.state.KVPut(p.marketKey(symbol), market)
	})
	if err != nil {
		return nil, err
	}
	return delivered, nil
}

// BalanceOf returns the underlying value of supplier's position.
func (p *LendingPool) BalanceOf(asset string, supplier crypto.Address) (*big.Int, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	symbol, market, err := p.requireMarket(asset)
	if err != nil {
		return nil, err
	}
	held, err := p.shares(symbol, supplier)
	if err != nil {
		return nil, err
	}
	return nativecommon.MulDiv(held, market.Index, ray), nil
}

// AvailableLiquidity returns the idle underlying held by the pool.
func (p *LendingPool) AvailableLiquidity(asset string) (*big.Int, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	symbol, _, err := p.requireMarket(asset)
	if err != nil {
		return nil, err
	}
	return p.state.Balance(symbol, p.address)
}

// AccrueInterest credits amount of interest to the market. The underlying is
// minted into the pool and the index grows pro rata.
func (p *LendingPool) AccrueInterest(asset string, amount *big.Int) error {
	if err := p.ready(); err != nil {
		return err
	}
	if err := nativecommon.RequirePositive(amount); err != nil {
		return err
	}
	return p.state.Atomic(func() error {
		symbol, market, err := p.requireMarket(asset)
		if err != nil {
			return err
		}
		if market.TotalShares.Sign() == 0 {
			return ErrEmptyMarket
		}
		if err := p.state.MintToken(symbol, p.address, amount); err != nil {
			return err
		}
		increment := nativecommon.MulDiv(amount, ray, market.TotalShares)
		market.Index = new(big.Int).Add(market.Index, increment)
		return p.state.KVPut(p.marketKey(symbol), market)
	})
}

// Borrow lends idle liquidity to borrower.
func (p *LendingPool) Borrow(borrower crypto.Address, asset string, amount *big.Int) error {
	if err := p.ready(); err != nil {
		return err
	}
	if err := nativecommon.RequirePositive(amount); err != nil {
		return err
	}
	return p.state.Atomic(func() error {
		symbol, market, err := p.requireMarket(asset)
		if err != nil {
			return err
		}
		liquidity, err := p.state.Balance(symbol, p.address)
		if err != nil {
			return err
		}
		if liquidity.Cmp(amount) < 0 {
			return fmt.Errorf("%w: idle %s, requested %s", ErrInsufficientLiquidity, liquidity, amount)
		}
		if err := p.state.Transfer(symbol, p.address, borrower, amount); err != nil {
			return err
		}
		market.Borrowed = new(big.Int).Add(market.Borrowed, amount)
		return p.state.KVPut(p.marketKey(symbol), market)
	})
}

// Repay returns borrowed principal to the pool.
func (p *LendingPool) Repay(borrower crypto.Address, asset string, amount *big.Int) error {
	if err := p.ready(); err != nil {
		return err
	}
	if err := nativecommon.RequirePositive(amount); err != nil {
		return err
	}
	return p.state.Atomic(func() error {
		symbol, market, err := p.requireMarket(asset)
		if err != nil {
			return err
		}
		repaid := nativecommon.Min(amount, market.Borrowed)
		if repaid.Sign() == 0 {
			return nil
		}
		if err := p.state.Transfer(symbol, borrower, p.address, repaid); err != nil {
			return err
		}
		market.Borrowed = new(big.Int).Sub(market.Borrowed, repaid)
		return p.state.KVPut(p.marketKey(symbol), market)
	})
}

// AccrueReward books an incentive of amount token for holder.
func (p *LendingPool) AccrueReward(holder crypto.Address, token string, amount *big.Int) error {
	if err := p.ready(); err != nil {
		return err
	}
	if err := nativecommon.RequirePositive(amount); err != nil {
		return err
	}
	return p.state.Atomic(func() error {
		return p.rewards.accrue(p.state, p.address, holder, token, amount)
	})
}

// RewardsOf lists the unclaimed incentives of holder.
func (p *LendingPool) RewardsOf(holder crypto.Address) ([]strategy.RewardData, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	return p.rewards.pending(p.state, holder)
}

// ClaimRewards pays out every incentive owed to holder.
func (p *LendingPool) ClaimRewards(holder crypto.Address) ([]strategy.RewardData, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	var claimed []strategy.RewardData
	err := p.state.Atomic(func() error {
		var err error
		claimed, err = p.rewards.claim(p.state, p.address, holder)
		return err
	})
	return claimed, err
}
