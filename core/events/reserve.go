package events

import (
	"math/big"
	"strconv"

	"usdsvault/core/types"
	"usdsvault/crypto"
)

const (
	// TypeReservePermission is emitted when a token's swap permission changes.
	TypeReservePermission = "reserve.permission"
	// TypeReserveSwapped is emitted when a caller swaps against the reserve.
	TypeReserveSwapped = "reserve.swapped"
	// TypeReserveMinted is emitted when reserve collateral is minted into USDs
	// and forwarded to the dripper.
	TypeReserveMinted = "reserve.minted"
	// TypeReserveWithdrawn is emitted when an owner withdraws reserve funds.
	TypeReserveWithdrawn = "reserve.withdrawn"
)

// ReservePermission records a src or dst permission toggle.
type ReservePermission struct {
	Token   string
	Side    string
	Allowed bool
}

func (ReservePermission) EventType() string { return TypeReservePermission }

func (e ReservePermission) Event() *types.Event {
	return &types.Event{
		Type: TypeReservePermission,
		Attributes: map[string]string{
			"token":   normalizeAsset(e.Token),
			"side":    e.Side,
			"allowed": strconv.FormatBool(e.Allowed),
		},
	}
}

// ReserveSwapped records a swap of SrcToken for DstToken.
type ReserveSwapped struct {
	Caller    crypto.Address
	SrcToken  string
	DstToken  string
	AmountIn  *big.Int
	AmountOut *big.Int
}

func (ReserveSwapped) EventType() string { return TypeReserveSwapped }

func (e ReserveSwapped) Event() *types.Event {
	return &types.Event{
		Type: TypeReserveSwapped,
		Attributes: map[string]string{
			"caller":    formatAddress(e.Caller),
			"srcToken":  normalizeAsset(e.SrcToken),
			"dstToken":  normalizeAsset(e.DstToken),
			"amountIn":  formatAmount(e.AmountIn),
			"amountOut": formatAmount(e.AmountOut),
		},
	}
}

// ReserveMinted records collateral turned into dripper funding.
type ReserveMinted struct {
	Collateral    string
	CollateralAmt *big.Int
	USDsAmount    *big.Int
}

func (ReserveMinted) EventType() string { return TypeReserveMinted }

func (e ReserveMinted) Event() *types.Event {
	return &types.Event{
		Type: TypeReserveMinted,
		Attributes: map[string]string{
			"collateral":    normalizeAsset(e.Collateral),
			"collateralAmt": formatAmount(e.CollateralAmt),
			"usdsAmount":    formatAmount(e.USDsAmount),
		},
	}
}

// ReserveWithdrawn records an owner withdrawal.
type ReserveWithdrawn struct {
	Token     string
	Recipient crypto.Address
	Amount    *big.Int
}

func (ReserveWithdrawn) EventType() string { return TypeReserveWithdrawn }

func (e ReserveWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeReserveWithdrawn,
		Attributes: map[string]string{
			"token":     normalizeAsset(e.Token),
			"recipient": formatAddress(e.Recipient),
			"amount":    formatAmount(e.Amount),
		},
	}
}
