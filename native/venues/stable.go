package venues

import (
	"fmt"
	"math/big"

	"usdsvault/crypto"
	nativecommon "usdsvault/native/common"
	"usdsvault/native/strategy"
)

// Pool is the persisted state of a single asset stable pool.
type Pool struct {
	Listed        bool
	TotalLP       *big.Int
	Reserve       *big.Int
	DepositFeeBps uint64
	ExitFeeBps    uint64
}

// StablePool issues LP tokens against single sided deposits. Deposit and exit
// fees stay in the reserve, so LP value drifts away from the amount
// deposited and withdrawals carry structural slippage.
type StablePool struct {
	address crypto.Address
	state   venueState
	prefix  []byte
	rewards rewardBook
}

var _ strategy.PoolVenue = (*StablePool)(nil)

// NewStablePool constructs a pool custodying its reserves at address.
func NewStablePool(address crypto.Address) *StablePool {
	prefix := "venue/pool/" + address.Hex() + "/"
	return &StablePool{
		address: address,
		prefix:  []byte(prefix),
		rewards: rewardBook{prefix: []byte(prefix + "reward/")},
	}
}

// SetState wires the pool to the persistence layer.
func (p *StablePool) SetState(state venueState) {
	if p == nil {
		return
	}
	p.state = state
}

// Address returns the account holding pool reserves.
func (p *StablePool) Address() crypto.Address { return p.address }

func (p *StablePool) ready() error {
	if p == nil || p.state == nil {
		return errNilState
	}
	return nil
}

func (p *StablePool) poolKey(asset string) []byte {
	return append(append([]byte(nil), p.prefix...), "pool/"+asset...)
}

func (p *StablePool) lpKey(asset string, provider crypto.Address) []byte {
	key := append(append([]byte(nil), p.prefix...), "lp/"+asset+"/"...)
	return append(key, provider[:]...)
}

// ListPool opens a pool for asset with the given fees in basis points.
func (p *StablePool) ListPool(asset string, depositFeeBps, exitFeeBps uint64) error {
	if err := p.ready(); err != nil {
		return err
	}
	if err := nativecommon.ValidatePercentage(depositFeeBps, "depositFee"); err != nil {
		return err
	}
	if err := nativecommon.ValidatePercentage(exitFeeBps, "exitFee"); err != nil {
		return err
	}
	symbol := normalizeAsset(asset)
	if !p.state.TokenExists(symbol) {
		return fmt.Errorf("%w: %s", ErrMarketNotFound, symbol)
	}
	return p.state.Atomic(func() error {
		pool, err := p.loadPool(symbol)
		if err != nil {
			return err
		}
		if pool.Listed {
			return fmt.Errorf("%w: %s", ErrMarketExists, symbol)
		}
		pool.Listed = true
		pool.DepositFeeBps = depositFeeBps
		pool.ExitFeeBps = exitFeeBps
		return p.state.KVPut(p.poolKey(symbol), pool)
	})
}

func (p *StablePool) loadPool(symbol string) (*Pool, error) {
	pool := new(Pool)
	if _, err := p.state.KVGet(p.poolKey(symbol), pool); err != nil {
		return nil, err
	}
	pool.TotalLP = bigOrZero(pool.TotalLP)
	pool.Reserve = bigOrZero(pool.Reserve)
	return pool, nil
}

func (p *StablePool) requirePool(asset string) (string, *Pool, error) {
	symbol := normalizeAsset(asset)
	pool, err := p.loadPool(symbol)
	if err != nil {
		return "", nil, err
	}
	if !pool.Listed {
		return "", nil, fmt.Errorf("%w: %s", ErrMarketNotFound, symbol)
	}
	return symbol, pool, nil
}

// Pool returns the state of the pool for asset.
func (p *StablePool) Pool(asset string) (*Pool, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	_, pool, err := p.requirePool(asset)
	return pool, err
}

func (p *StablePool) lpBalance(symbol string, provider crypto.Address) (*big.Int, error) {
	lp := new(big.Int)
	if _, err := p.state.KVGet(p.lpKey(symbol, provider), lp); err != nil {
		return nil, err
	}
	return lp, nil
}

func (p *StablePool) putLP(symbol string, provider crypto.Address, lp *big.Int) error {
	if lp.Sign() == 0 {
		return p.state.KVDelete(p.lpKey(symbol, provider))
	}
	return p.state.KVPut(p.lpKey(symbol, provider), lp)
}

func lpForDeposit(pool *Pool, amount *big.Int, charged bool) *big.Int {
	net := new(big.Int).Set(amount)
	if charged {
		net.Sub(net, nativecommon.ApplyBps(amount, pool.DepositFeeBps))
	}
	if pool.TotalLP.Sign() == 0 || pool.Reserve.Sign() == 0 {
		return net
	}
	return nativecommon.MulDiv(net, pool.TotalLP, pool.Reserve)
}

func lpValue(pool *Pool, lp *big.Int) *big.Int {
	if pool.TotalLP.Sign() == 0 {
		return big.NewInt(0)
	}
	return nativecommon.MulDiv(lp, pool.Reserve, pool.TotalLP)
}

func withdrawOut(pool *Pool, lp *big.Int) *big.Int {
	value := lpValue(pool, lp)
	return value.Sub(value, nativecommon.ApplyBps(value, pool.ExitFeeBps))
}

// CalcLPForDeposit quotes the LP minted for depositing amount before the
// deposit fee.
func (p *StablePool) CalcLPForDeposit(asset string, amount *big.Int) (*big.Int, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	_, pool, err := p.requirePool(asset)
	if err != nil {
		return nil, err
	}
	return lpForDeposit(pool, amount, false), nil
}

// CalcLPForWithdraw returns the LP whose gross value covers amount, rounded
// up. The exit fee is charged on top.
func (p *StablePool) CalcLPForWithdraw(asset string, amount *big.Int) (*big.Int, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	_, pool, err := p.requirePool(asset)
	if err != nil {
		return nil, err
	}
	if pool.Reserve.Sign() == 0 {
		return big.NewInt(0), nil
	}
	return nativecommon.MulDivUp(amount, pool.TotalLP, pool.Reserve), nil
}

// CalcWithdraw quotes the underlying received for burning lpAmount.
func (p *StablePool) CalcWithdraw(asset string, lpAmount *big.Int) (*big.Int, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	_, pool, err := p.requirePool(asset)
	if err != nil {
		return nil, err
	}
	return withdrawOut(pool, lpAmount), nil
}

// LPValue returns the gross underlying backing lpAmount.
func (p *StablePool) LPValue(asset string, lpAmount *big.Int) (*big.Int, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	_, pool, err := p.requirePool(asset)
	if err != nil {
		return nil, err
	}
	return lpValue(pool, lpAmount), nil
}

// LPBalanceOf returns the LP held by provider.
func (p *StablePool) LPBalanceOf(asset string, provider crypto.Address) (*big.Int, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	symbol, _, err := p.requirePool(asset)
	if err != nil {
		return nil, err
	}
	return p.lpBalance(symbol, provider)
}

// AddLiquidity deposits amount from provider and returns the LP minted.
func (p *StablePool) AddLiquidity(provider crypto.Address, asset string, amount *big.Int) (*big.Int, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.RequirePositive(amount); err != nil {
		return nil, err
	}
	var minted *big.Int
	err := p.state.Atomic(func() error {
		symbol, pool, err := p.requirePool(asset)
		if err != nil {
			return err
		}
		minted = lpForDeposit(pool, amount, true)
		if minted.Sign() == 0 {
			return fmt.Errorf("%w: deposit mints no LP", nativecommon.ErrInvalidAmount)
		}
		if err := p.state.Transfer(symbol, provider, p.address, amount); err != nil {
			return err
		}
		held, err := p.lpBalance(symbol, provider)
		if err != nil {
			return err
		}
		if err := p.putLP(symbol, provider, held.Add(held, minted)); err != nil {
			return err
		}
		pool.TotalLP = new(big.Int).Add(pool.TotalLP, minted)
		pool.Reserve = new(big.Int).Add(pool.Reserve, amount)
		return p.state.KVPut(p.poolKey(symbol), pool)
	})
	if err != nil {
		return nil, err
	}
	return minted, nil
}

// RemoveLiquidity burns lpAmount of provider's LP and sends the proceeds,
// net of the exit fee, to recipient.
func (p *StablePool) RemoveLiquidity(provider crypto.Address, asset string, lpAmount *big.Int, recipient crypto.Address) (*big.Int, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.RequirePositive(lpAmount); err != nil {
		return nil, err
	}
	var out *big.Int
	err := p.state.Atomic(func() error {
		symbol, pool, err := p.requirePool(asset)
		if err != nil {
			return err
		}
		held, err := p.lpBalance(symbol, provider)
		if err != nil {
			return err
		}
		if held.Cmp(lpAmount) < 0 {
			return fmt.Errorf("%w: holds %s lp, burning %s", ErrInsufficientPosition, held, lpAmount)
		}
		out = withdrawOut(pool, lpAmount)
		if err := p.state.Transfer(symbol, p.address, recipient, out); err != nil {
			return err
		}
		if err := p.putLP(symbol, provider, new(big.Int).Sub(held, lpAmount)); err != nil {
			return err
		}
		pool.TotalLP = new(big.Int).Sub(pool.TotalLP, lpAmount)
		pool.Reserve = new(big.Int).Sub(pool.Reserve, out)
		return p.state.KVPut(p.poolKey(symbol), pool)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AccrueYield adds trading fees of amount to the reserve, raising LP value.
func (p *StablePool) AccrueYield(asset string, amount *big.Int) error {
	if err := p.ready(); err != nil {
		return err
	}
	if err := nativecommon.RequirePositive(amount); err != nil {
		return err
	}
	return p.state.Atomic(func() error {
		symbol, pool, err := p.requirePool(asset)
		if err != nil {
			return err
		}
		if pool.TotalLP.Sign() == 0 {
			return ErrEmptyMarket
		}
		if err := p.state.MintToken(symbol, p.address, amount); err != nil {
			return err
		}
		pool.Reserve = new(big.Int).Add(pool.Reserve, amount)
		return p.state.KVPut(p.poolKey(symbol), pool)
	})
}

// AccrueReward books an incentive of amount token for holder.
func (p *StablePool) AccrueReward(holder crypto.Address, token string, amount *big.Int) error {
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
func (p *StablePool) RewardsOf(holder crypto.Address) ([]strategy.RewardData, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	return p.rewards.pending(p.state, holder)
}

// ClaimRewards pays out every incentive owed to holder.
func (p *StablePool) ClaimRewards(holder crypto.Address) ([]strategy.RewardData, error) {
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
