package events

import (
	"math/big"

	"usdsvault/core/types"
	"usdsvault/crypto"
)

const (
	// TypeUSDsTransfer is emitted for every USDs balance movement including
	// mints (zero sender) and burns (zero recipient).
	TypeUSDsTransfer = "usds.transfer"
	// TypeUSDsApproval is emitted when an allowance changes.
	TypeUSDsApproval = "usds.approval"
	// TypeUSDsSupplyUpdated is emitted after a rebase changes the supply.
	TypeUSDsSupplyUpdated = "usds.supply_updated"
	// TypeUSDsRebaseModeChanged is emitted when an account opts in or out.
	TypeUSDsRebaseModeChanged = "usds.rebase_mode"
)

// USDsTransfer records a movement of USDs between accounts.
type USDsTransfer struct {
	From   crypto.Address
	To     crypto.Address
	Amount *big.Int
}

func (USDsTransfer) EventType() string { return TypeUSDsTransfer }

func (e USDsTransfer) Event() *types.Event {
	return &types.Event{
		Type: TypeUSDsTransfer,
		Attributes: map[string]string{
			"from":   formatAddress(e.From),
			"to":     formatAddress(e.To),
			"amount": formatAmount(e.Amount),
		},
	}
}

// USDsApproval records an allowance update.
type USDsApproval struct {
	Owner   crypto.Address
	Spender crypto.Address
	Amount  *big.Int
}

func (USDsApproval) EventType() string { return TypeUSDsApproval }

func (e USDsApproval) Event() *types.Event {
	return &types.Event{
		Type: TypeUSDsApproval,
		Attributes: map[string]string{
			"owner":   formatAddress(e.Owner),
			"spender": formatAddress(e.Spender),
			"amount":  formatAmount(e.Amount),
		},
	}
}

// USDsSupplyUpdated captures the ledger totals after a rebase.
type USDsSupplyUpdated struct {
	TotalSupply             *big.Int
	RebasingCredits         *big.Int
	RebasingCreditsPerToken *big.Int
}

func (USDsSupplyUpdated) EventType() string { return TypeUSDsSupplyUpdated }

func (e USDsSupplyUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeUSDsSupplyUpdated,
		Attributes: map[string]string{
			"totalSupply":             formatAmount(e.TotalSupply),
			"rebasingCredits":         formatAmount(e.RebasingCredits),
			"rebasingCreditsPerToken": formatAmount(e.RebasingCreditsPerToken),
		},
	}
}

// USDsRebaseModeChanged records an explicit opt in or opt out.
type USDsRebaseModeChanged struct {
	Account  crypto.Address
	Rebasing bool
}

func (USDsRebaseModeChanged) EventType() string { return TypeUSDsRebaseModeChanged }

func (e USDsRebaseModeChanged) Event() *types.Event {
	mode := "opt_out"
	if e.Rebasing {
		mode = "opt_in"
	}
	return &types.Event{
		Type: TypeUSDsRebaseModeChanged,
		Attributes: map[string]string{
			"account": formatAddress(e.Account),
			"mode":    mode,
		},
	}
}
