package events

import (
	"math/big"
	"strconv"

	"usdsvault/core/types"
	"usdsvault/crypto"
)

const (
	// TypeDripperCollected is emitted when dripped USDs is forwarded to the vault.
	TypeDripperCollected = "dripper.collected"
	// TypeDripperFunded is emitted when new USDs yield is added to the dripper.
	TypeDripperFunded = "dripper.funded"
	// TypeDripperRecovered is emitted when a stray token is recovered.
	TypeDripperRecovered = "dripper.recovered"
	// TypeRebaseParamsUpdated is emitted when the APR band or gap changes.
	TypeRebaseParamsUpdated = "rebase.params_updated"
	// TypeStrategyDeposit is emitted when a strategy receives collateral.
	TypeStrategyDeposit = "strategy.deposit"
	// TypeStrategyWithdrawal is emitted when a strategy returns collateral.
	TypeStrategyWithdrawal = "strategy.withdrawal"
	// TypeStrategyHarvest is emitted when interest or rewards are harvested.
	TypeStrategyHarvest = "strategy.harvest"
)

// DripperCollected records a drip transfer to the vault.
type DripperCollected struct {
	Amount *big.Int
}

func (DripperCollected) EventType() string { return TypeDripperCollected }

func (e DripperCollected) Event() *types.Event {
	return &types.Event{
		Type:       TypeDripperCollected,
		Attributes: map[string]string{"amount": formatAmount(e.Amount)},
	}
}

// DripperFunded records a new funding of the drip schedule.
type DripperFunded struct {
	Funder   crypto.Address
	Amount   *big.Int
	DripRate *big.Int
}

func (DripperFunded) EventType() string { return TypeDripperFunded }

func (e DripperFunded) Event() *types.Event {
	return &types.Event{
		Type: TypeDripperFunded,
		Attributes: map[string]string{
			"funder":   formatAddress(e.Funder),
			"amount":   formatAmount(e.Amount),
			"dripRate": formatAmount(e.DripRate),
		},
	}
}

// DripperRecovered records a token sweep.
type DripperRecovered struct {
	Token     string
	Recipient crypto.Address
	Amount    *big.Int
}

func (DripperRecovered) EventType() string { return TypeDripperRecovered }

func (e DripperRecovered) Event() *types.Event {
	return &types.Event{
		Type: TypeDripperRecovered,
		Attributes: map[string]string{
			"token":     normalizeAsset(e.Token),
			"recipient": formatAddress(e.Recipient),
			"amount":    formatAmount(e.Amount),
		},
	}
}

// RebaseParamsUpdated records the rebase manager configuration.
type RebaseParamsUpdated struct {
	Gap       uint64
	APRCap    uint64
	APRBottom uint64
}

func (RebaseParamsUpdated) EventType() string { return TypeRebaseParamsUpdated }

func (e RebaseParamsUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeRebaseParamsUpdated,
		Attributes: map[string]string{
			"gap":       strconv.FormatUint(e.Gap, 10),
			"aprCap":    strconv.FormatUint(e.APRCap, 10),
			"aprBottom": strconv.FormatUint(e.APRBottom, 10),
		},
	}
}

// StrategyMovement records deposits into and withdrawals from a strategy.
type StrategyMovement struct {
	Type     string
	Strategy crypto.Address
	Asset    string
	Amount   *big.Int
}

func (e StrategyMovement) EventType() string { return e.Type }

func (e StrategyMovement) Event() *types.Event {
	return &types.Event{
		Type: e.Type,
		Attributes: map[string]string{
			"strategy": formatAddress(e.Strategy),
			"asset":    normalizeAsset(e.Asset),
			"amount":   formatAmount(e.Amount),
		},
	}
}

// StrategyHarvest records a harvest split between the caller and the yield receiver.
type StrategyHarvest struct {
	Strategy  crypto.Address
	Token     string
	Kind      string
	Harvester crypto.Address
	Incentive *big.Int
	Yield     *big.Int
}

func (StrategyHarvest) EventType() string { return TypeStrategyHarvest }

func (e StrategyHarvest) Event() *types.Event {
	return &types.Event{
		Type: TypeStrategyHarvest,
		Attributes: map[string]string{
			"strategy":  formatAddress(e.Strategy),
			"token":     normalizeAsset(e.Token),
			"kind":      e.Kind,
			"harvester": formatAddress(e.Harvester),
			"incentive": formatAmount(e.Incentive),
			"yield":     formatAmount(e.Yield),
		},
	}
}
