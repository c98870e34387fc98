package yieldreserve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"usdsvault/core/events"
	"usdsvault/core/state"
	"usdsvault/crypto"
	nativecommon "usdsvault/native/common"
	"usdsvault/native/oracle"
)

var (
	// ErrSrcNotAllowed is returned when the reserve does not accept a token.
	ErrSrcNotAllowed = errors.New("yieldreserve: source token not allowed")
	// ErrDstNotAllowed is returned when the reserve does not pay out a token.
	ErrDstNotAllowed = errors.New("yieldreserve: destination token not allowed")
	// ErrSameToken is returned when a swap names the same token on both sides.
	ErrSameToken = errors.New("yieldreserve: source and destination match")
	// ErrPriceFeedMissing is returned when a non-USDs source has no price feed.
	ErrPriceFeedMissing = errors.New("yieldreserve: price feed missing")
	// ErrSlippage is returned when the swap output is below the caller's minimum.
	ErrSlippage = errors.New("yieldreserve: output below minimum")
	// ErrInsufficientReserve is returned when the reserve cannot cover a payout.
	ErrInsufficientReserve = errors.New("yieldreserve: insufficient reserve balance")
	// ErrNothingToMint is returned when the reserve holds none of the token.
	ErrNothingToMint = errors.New("yieldreserve: nothing to mint")
	errNilState      = errors.New("yieldreserve: state not configured")
	errNilVault      = errors.New("yieldreserve: vault not configured")
	errNilOracle     = errors.New("yieldreserve: oracle not configured")
	errNilDripper    = errors.New("yieldreserve: dripper not configured")
	errNilToken      = errors.New("yieldreserve: usds token not configured")
)

const (
	// ModuleName is the pause switch of the reserve.
	ModuleName = "yieldreserve"
	// normalizedDecimals is the scale values are compared at.
	normalizedDecimals = 18
)

// TokenData is the persisted swap policy of a token.
type TokenData struct {
	SrcAllowed bool
	DstAllowed bool
}

type reserveState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	AppendEvent(events.Event)
	HasRole(role string, addr crypto.Address) bool
	Atomic(fn func() error) error
	Balance(symbol string, addr crypto.Address) (*big.Int, error)
	Transfer(symbol string, from, to crypto.Address, amount *big.Int) error
	Token(symbol string) (*state.TokenMetadata, error)
}

// Minter is the vault surface the reserve mints through.
type Minter interface {
	Mint(ctx context.Context, caller crypto.Address, collateral string, collateralAmt, minUSDsAmt *big.Int, deadline uint64) (*big.Int, *big.Int, error)
}

// Funder receives minted USDs for linear distribution.
type Funder interface {
	AddUSDs(caller crypto.Address, amount *big.Int) error
}

// Token is the subset of the USDs ledger the reserve moves.
type Token interface {
	BalanceOf(account crypto.Address) (*big.Int, error)
	Transfer(caller, recipient crypto.Address, amount *big.Int) error
}

// FeedView reports whether a token is priced.
type FeedView interface {
	oracle.PriceOracle
	PriceFeedExists(token string) bool
}

// Reserve collects strategy yield, converts collateral into USDs through the
// vault and funds the dripper. It also sells its collateral for USDs at oracle
// prices.
type Reserve struct {
	address crypto.Address
	symbol  string
	state   reserveState
	vault   Minter
	oracle  FeedView
	dripper Funder
	token   Token
	pauses  nativecommon.PauseView
	clock   func() time.Time
	logger  *slog.Logger
}

// New constructs a reserve operating from address. tokenSymbol names USDs,
// which is valued at par.
func New(address crypto.Address, tokenSymbol string) *Reserve {
	return &Reserve{
		address: address,
		symbol:  normalizeAsset(tokenSymbol),
		clock:   time.Now,
		logger:  slog.Default(),
	}
}

// SetState wires the persistence layer.
func (r *Reserve) SetState(st reserveState) {
	if r == nil {
		return
	}
	r.state = st
}

// SetVault wires the vault used by MintUSDs.
func (r *Reserve) SetVault(vault Minter) {
	if r == nil {
		return
	}
	r.vault = vault
}

// SetOracle wires the price source.
func (r *Reserve) SetOracle(o FeedView) {
	if r == nil {
		return
	}
	r.oracle = o
}

// SetDripper wires the yield distributor.
func (r *Reserve) SetDripper(d Funder) {
	if r == nil {
		return
	}
	r.dripper = d
}

// SetToken wires the USDs ledger.
func (r *Reserve) SetToken(token Token) {
	if r == nil {
		return
	}
	r.token = token
}

// SetPauses wires the pause switches.
func (r *Reserve) SetPauses(p nativecommon.PauseView) {
	if r == nil {
		return
	}
	r.pauses = p
}

// SetClock overrides the time source.
func (r *Reserve) SetClock(clock func() time.Time) {
	if r == nil || clock == nil {
		return
	}
	r.clock = clock
}

// SetLogger overrides the logger.
func (r *Reserve) SetLogger(logger *slog.Logger) {
	if r == nil || logger == nil {
		return
	}
	r.logger = logger
}

// Address returns the account holding reserve funds.
func (r *Reserve) Address() crypto.Address { return r.address }

func (r *Reserve) ready() error {
	switch {
	case r == nil || r.state == nil:
		return errNilState
	case r.vault == nil:
		return errNilVault
	case r.oracle == nil:
		return errNilOracle
	case r.dripper == nil:
		return errNilDripper
	case r.token == nil:
		return errNilToken
	}
	return nil
}

func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

func tokenKey(symbol string) []byte {
	return []byte("yieldreserve/token/" + symbol)
}

func (r *Reserve) load(symbol string) (*TokenData, error) {
	data := new(TokenData)
	if _, err := r.state.KVGet(tokenKey(symbol), data); err != nil {
		return nil, err
	}
	return data, nil
}

// TokenData returns the swap policy of token.
func (r *Reserve) TokenData(token string) (*TokenData, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	return r.load(normalizeAsset(token))
}

// ToggleSrcTokenPermission allows or forbids token as swap input. Enabling a
// token other than USDs requires a price feed.
func (r *Reserve) ToggleSrcTokenPermission(caller crypto.Address, token string, allowed bool) error {
	return r.toggle(caller, token, "src", allowed)
}

// ToggleDstTokenPermission allows or forbids token as swap output.
func (r *Reserve) ToggleDstTokenPermission(caller crypto.Address, token string, allowed bool) error {
	return r.toggle(caller, token, "dst", allowed)
}

func (r *Reserve) toggle(caller crypto.Address, token, side string, allowed bool) error {
	if err := r.ready(); err != nil {
		return err
	}
	if err := nativecommon.RequireRole(r.state, nativecommon.RoleOwner, caller); err != nil {
		return err
	}
	symbol := normalizeAsset(token)
	if allowed && symbol != r.symbol && !r.oracle.PriceFeedExists(symbol) {
		return fmt.Errorf("%w: %s", ErrPriceFeedMissing, symbol)
	}
	return r.state.Atomic(func() error {
		data, err := r.load(symbol)
		if err != nil {
			return err
		}
		if side == "src" {
			data.SrcAllowed = allowed
		} else {
			data.DstAllowed = allowed
		}
		if err := r.state.KVPut(tokenKey(symbol), data); err != nil {
			return err
		}
		r.state.AppendEvent(events.ReservePermission{Token: symbol, Side: side, Allowed: allowed})
		return nil
	})
}

// GetTokenBOut quotes the dst amount paid for amountIn of src at oracle
// prices. USDs is valued at one dollar.
func (r *Reserve) GetTokenBOut(src, dst string, amountIn *big.Int) (*big.Int, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.RequirePositive(amountIn); err != nil {
		return nil, err
	}
	return r.quote(normalizeAsset(src), normalizeAsset(dst), amountIn)
}

func (r *Reserve) quote(src, dst string, amountIn *big.Int) (*big.Int, error) {
	if src == dst {
		return nil, ErrSameToken
	}
	srcData, err := r.load(src)
	if err != nil {
		return nil, err
	}
	if !srcData.SrcAllowed {
		return nil, fmt.Errorf("%w: %s", ErrSrcNotAllowed, src)
	}
	dstData, err := r.load(dst)
	if err != nil {
		return nil, err
	}
	if !dstData.DstAllowed {
		return nil, fmt.Errorf("%w: %s", ErrDstNotAllowed, dst)
	}
	srcPrice, srcFactor, err := r.pricing(src)
	if err != nil {
		return nil, err
	}
	dstPrice, dstFactor, err := r.pricing(dst)
	if err != nil {
		return nil, err
	}
	// value = amountIn * factor * price / precision, all at 18 decimals.
	num := new(big.Int).Mul(amountIn, srcFactor)
	num.Mul(num, srcPrice.Price)
	num.Mul(num, dstPrice.Precision)
	den := new(big.Int).Mul(srcPrice.Precision, dstPrice.Price)
	den.Mul(den, dstFactor)
	return num.Quo(num, den), nil
}

// pricing returns the price of symbol and the factor scaling its raw amounts
// to 18 decimals.
func (r *Reserve) pricing(symbol string) (oracle.PriceData, *big.Int, error) {
	if symbol == r.symbol {
		return oracle.PriceData{Price: big.NewInt(1), Precision: big.NewInt(1)}, big.NewInt(1), nil
	}
	meta, err := r.state.Token(symbol)
	if err != nil {
		return oracle.PriceData{}, nil, err
	}
	if meta == nil {
		return oracle.PriceData{}, nil, fmt.Errorf("%w: %s", state.ErrTokenNotRegistered, symbol)
	}
	if meta.Decimals > normalizedDecimals {
		return oracle.PriceData{}, nil, fmt.Errorf("yieldreserve: %s has %d decimals", symbol, meta.Decimals)
	}
	factor := nativecommon.Pow10(uint64(normalizedDecimals - meta.Decimals))
	price, err := r.oracle.GetPrice(symbol)
	if err != nil {
		return oracle.PriceData{}, nil, err
	}
	if !price.Valid() {
		return oracle.PriceData{}, nil, fmt.Errorf("%w: %s", oracle.ErrInvalidPrice, symbol)
	}
	return price, factor, nil
}

func (r *Reserve) balance(symbol string, addr crypto.Address) (*big.Int, error) {
	if symbol == r.symbol {
		return r.token.BalanceOf(addr)
	}
	return r.state.Balance(symbol, addr)
}

func (r *Reserve) move(symbol string, from, to crypto.Address, amount *big.Int) error {
	if symbol == r.symbol {
		return r.token.Transfer(from, to, amount)
	}
	return r.state.Transfer(symbol, from, to, amount)
}

// Swap sells reserve dst for amountIn of src. USDs received is forwarded to
// the dripper.
func (r *Reserve) Swap(ctx context.Context, caller crypto.Address, src, dst string, amountIn, minAmountOut *big.Int) (*big.Int, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(r.pauses, ModuleName); err != nil {
		return nil, err
	}
	if err := nativecommon.RequireAddress(caller, "caller"); err != nil {
		return nil, err
	}
	if err := nativecommon.RequirePositive(amountIn); err != nil {
		return nil, err
	}
	srcSym, dstSym := normalizeAsset(src), normalizeAsset(dst)
	var out *big.Int
	err := r.state.Atomic(func() error {
		amountOut, err := r.quote(srcSym, dstSym, amountIn)
		if err != nil {
			return err
		}
		if amountOut.Sign() == 0 || (minAmountOut != nil && amountOut.Cmp(minAmountOut) < 0) {
			return fmt.Errorf("%w: %s below %s", ErrSlippage, amountOut, minAmountOut)
		}
		held, err := r.balance(dstSym, r.address)
		if err != nil {
			return err
		}
		if held.Cmp(amountOut) < 0 {
			return fmt.Errorf("%w: %s holds %s", ErrInsufficientReserve, dstSym, held)
		}
		if err := r.move(srcSym, caller, r.address, amountIn); err != nil {
			return fmt.Errorf("yieldreserve: pull %s: %w", srcSym, err)
		}
		if err := r.move(dstSym, r.address, caller, amountOut); err != nil {
			return fmt.Errorf("yieldreserve: pay %s: %w", dstSym, err)
		}
		if srcSym == r.symbol {
			if err := r.dripper.AddUSDs(r.address, amountIn); err != nil {
				return err
			}
		}
		r.state.AppendEvent(events.ReserveSwapped{
			Caller:    caller,
			SrcToken:  srcSym,
			DstToken:  dstSym,
			AmountIn:  new(big.Int).Set(amountIn),
			AmountOut: new(big.Int).Set(amountOut),
		})
		out = amountOut
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.logger.InfoContext(ctx, "reserve swap", "src", srcSym, "dst", dstSym, "in", amountIn.String(), "out", out.String())
	return out, nil
}

// MintUSDs mints the reserve's entire balance of collateral into USDs through
// the vault and hands the proceeds to the dripper. Anyone may call it.
func (r *Reserve) MintUSDs(ctx context.Context, collateral string) (*big.Int, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(r.pauses, ModuleName); err != nil {
		return nil, err
	}
	asset := normalizeAsset(collateral)
	var minted *big.Int
	err := r.state.Atomic(func() error {
		held, err := r.state.Balance(asset, r.address)
		if err != nil {
			return err
		}
		if held.Sign() == 0 {
			return fmt.Errorf("%w: %s", ErrNothingToMint, asset)
		}
		before, err := r.token.BalanceOf(r.address)
		if err != nil {
			return err
		}
		if _, _, err := r.vault.Mint(ctx, r.address, asset, held, big.NewInt(0), nativecommon.Unix(r.clock)); err != nil {
			return err
		}
		after, err := r.token.BalanceOf(r.address)
		if err != nil {
			return err
		}
		// Forward the whole USDs balance so earlier swap leftovers drip too.
		if after.Sign() > 0 {
			if err := r.dripper.AddUSDs(r.address, after); err != nil {
				return err
			}
		}
		minted = new(big.Int).Sub(after, before)
		r.state.AppendEvent(events.ReserveMinted{Collateral: asset, CollateralAmt: held, USDsAmount: new(big.Int).Set(minted)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.logger.InfoContext(ctx, "reserve minted usds", "collateral", asset, "usds", minted.String())
	return minted, nil
}

// Withdraw moves amount of token from the reserve to recipient.
func (r *Reserve) Withdraw(caller crypto.Address, token string, recipient crypto.Address, amount *big.Int) error {
	if err := r.ready(); err != nil {
		return err
	}
	if err := nativecommon.RequireRole(r.state, nativecommon.RoleOwner, caller); err != nil {
		return err
	}
	if err := nativecommon.RequireAddress(recipient, "recipient"); err != nil {
		return err
	}
	if err := nativecommon.RequirePositive(amount); err != nil {
		return err
	}
	symbol := normalizeAsset(token)
	return r.state.Atomic(func() error {
		if err := r.move(symbol, r.address, recipient, amount); err != nil {
			return err
		}
		r.state.AppendEvent(events.ReserveWithdrawn{Token: symbol, Recipient: recipient, Amount: new(big.Int).Set(amount)})
		return nil
	})
}
