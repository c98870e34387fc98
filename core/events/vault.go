package events

import (
	"math/big"

	"usdsvault/core/types"
	"usdsvault/crypto"
)

const (
	// TypeVaultMinted is emitted when collateral is swapped for USDs.
	TypeVaultMinted = "vault.minted"
	// TypeVaultRedeemed is emitted when USDs is swapped back into collateral.
	TypeVaultRedeemed = "vault.redeemed"
	// TypeVaultAllocated is emitted when idle collateral is deposited into a strategy.
	TypeVaultAllocated = "vault.allocated"
	// TypeVaultRebased is emitted after yield has been distributed to holders.
	TypeVaultRebased = "vault.rebased"
	// TypeVaultConfigUpdated is emitted when an owner changes a vault setting.
	TypeVaultConfigUpdated = "vault.config_updated"
)

// VaultMinted captures a successful mint.
type VaultMinted struct {
	Minter        crypto.Address
	Collateral    string
	USDsAmount    *big.Int
	CollateralAmt *big.Int
	FeeAmount     *big.Int
}

func (VaultMinted) EventType() string { return TypeVaultMinted }

func (e VaultMinted) Event() *types.Event {
	return &types.Event{
		Type: TypeVaultMinted,
		Attributes: map[string]string{
			"minter":           formatAddress(e.Minter),
			"collateral":       normalizeAsset(e.Collateral),
			"usdsAmount":       formatAmount(e.USDsAmount),
			"collateralAmount": formatAmount(e.CollateralAmt),
			"feeAmount":        formatAmount(e.FeeAmount),
		},
	}
}

// VaultRedeemed captures a successful redemption.
type VaultRedeemed struct {
	Redeemer      crypto.Address
	Collateral    string
	BurnAmount    *big.Int
	CollateralAmt *big.Int
	FeeAmount     *big.Int
}

func (VaultRedeemed) EventType() string { return TypeVaultRedeemed }

func (e VaultRedeemed) Event() *types.Event {
	return &types.Event{
		Type: TypeVaultRedeemed,
		Attributes: map[string]string{
			"redeemer":         formatAddress(e.Redeemer),
			"collateral":       normalizeAsset(e.Collateral),
			"burnAmount":       formatAmount(e.BurnAmount),
			"collateralAmount": formatAmount(e.CollateralAmt),
			"feeAmount":        formatAmount(e.FeeAmount),
		},
	}
}

// VaultAllocated captures a deposit of vault collateral into a strategy.
type VaultAllocated struct {
	Collateral string
	Strategy   crypto.Address
	Amount     *big.Int
}

func (VaultAllocated) EventType() string { return TypeVaultAllocated }

func (e VaultAllocated) Event() *types.Event {
	return &types.Event{
		Type: TypeVaultAllocated,
		Attributes: map[string]string{
			"collateral": normalizeAsset(e.Collateral),
			"strategy":   formatAddress(e.Strategy),
			"amount":     formatAmount(e.Amount),
		},
	}
}

// VaultRebased captures the amount of USDs distributed by a rebase.
type VaultRebased struct {
	Amount *big.Int
}

func (VaultRebased) EventType() string { return TypeVaultRebased }

func (e VaultRebased) Event() *types.Event {
	return &types.Event{
		Type:       TypeVaultRebased,
		Attributes: map[string]string{"amount": formatAmount(e.Amount)},
	}
}

// ConfigUpdated records an owner driven change to a module setting.
type ConfigUpdated struct {
	Module string
	Field  string
	Value  string
}

func (ConfigUpdated) EventType() string { return TypeVaultConfigUpdated }

func (e ConfigUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeVaultConfigUpdated,
		Attributes: map[string]string{
			"module": e.Module,
			"field":  e.Field,
			"value":  e.Value,
		},
	}
}
