package events

import (
	"strconv"

	"usdsvault/core/types"
	"usdsvault/crypto"
)

const (
	// TypeCollateralAdded is emitted when a collateral is whitelisted.
	TypeCollateralAdded = "collateral.added"
	// TypeCollateralUpdated is emitted when collateral parameters change.
	TypeCollateralUpdated = "collateral.updated"
	// TypeCollateralRemoved is emitted when a collateral is removed.
	TypeCollateralRemoved = "collateral.removed"
	// TypeCollateralStrategyAdded is emitted when a strategy is linked to a collateral.
	TypeCollateralStrategyAdded = "collateral.strategy_added"
	// TypeCollateralStrategyUpdated is emitted when a strategy allocation cap changes.
	TypeCollateralStrategyUpdated = "collateral.strategy_updated"
	// TypeCollateralStrategyRemoved is emitted when a strategy is unlinked.
	TypeCollateralStrategyRemoved = "collateral.strategy_removed"
	// TypeFeeCalibrated is emitted when the dynamic fees are recomputed.
	TypeFeeCalibrated = "fees.calibrated"
)

// CollateralChanged covers add, update and remove notifications for a
// collateral asset. The concrete event type is carried in Type.
type CollateralChanged struct {
	Type                  string
	Asset                 string
	MintAllowed           bool
	RedeemAllowed         bool
	AllocationAllowed     bool
	BaseMintFee           uint64
	BaseRedeemFee         uint64
	DownsidePeg           uint64
	DesiredCollateralComp uint64
}

func (e CollateralChanged) EventType() string { return e.Type }

func (e CollateralChanged) Event() *types.Event {
	return &types.Event{
		Type: e.Type,
		Attributes: map[string]string{
			"asset":                 normalizeAsset(e.Asset),
			"mintAllowed":           strconv.FormatBool(e.MintAllowed),
			"redeemAllowed":         strconv.FormatBool(e.RedeemAllowed),
			"allocationAllowed":     strconv.FormatBool(e.AllocationAllowed),
			"baseMintFee":           strconv.FormatUint(e.BaseMintFee, 10),
			"baseRedeemFee":         strconv.FormatUint(e.BaseRedeemFee, 10),
			"downsidePeg":           strconv.FormatUint(e.DownsidePeg, 10),
			"desiredCollateralComp": strconv.FormatUint(e.DesiredCollateralComp, 10),
		},
	}
}

// CollateralStrategyChanged covers strategy link notifications for a collateral.
type CollateralStrategyChanged struct {
	Type          string
	Asset         string
	Strategy      crypto.Address
	AllocationCap uint64
}

func (e CollateralStrategyChanged) EventType() string { return e.Type }

func (e CollateralStrategyChanged) Event() *types.Event {
	return &types.Event{
		Type: e.Type,
		Attributes: map[string]string{
			"asset":         normalizeAsset(e.Asset),
			"strategy":      formatAddress(e.Strategy),
			"allocationCap": strconv.FormatUint(e.AllocationCap, 10),
		},
	}
}

// FeeCalibrated captures the fees produced by a calibration pass.
type FeeCalibrated struct {
	Asset      string
	MintFee    uint64
	RedeemFee  uint64
	NextUpdate uint64
}

func (FeeCalibrated) EventType() string { return TypeFeeCalibrated }

func (e FeeCalibrated) Event() *types.Event {
	return &types.Event{
		Type: TypeFeeCalibrated,
		Attributes: map[string]string{
			"asset":      normalizeAsset(e.Asset),
			"mintFee":    strconv.FormatUint(e.MintFee, 10),
			"redeemFee":  strconv.FormatUint(e.RedeemFee, 10),
			"nextUpdate": strconv.FormatUint(e.NextUpdate, 10),
		},
	}
}
