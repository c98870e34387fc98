package fees

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"usdsvault/core/events"
	"usdsvault/crypto"
	"usdsvault/native/collateral"
	nativecommon "usdsvault/native/common"
)

const (
	// Precision is the denominator of every fee percentage.
	Precision = nativecommon.MaxPercentage
	// CalibrationGap is the minimum time between two calibrations of a
	// collateral, in seconds.
	CalibrationGap = uint64(24 * time.Hour / time.Second)
	// LowerThreshold and UpperThreshold bound the healthy band around the
	// desired holdings, in basis points of the desired amount.
	LowerThreshold = 5_000
	UpperThreshold = 15_000
	// DiscountFactor divides and PenaltyMultiplier multiplies base fees
	// outside the band.
	DiscountFactor    = 2
	PenaltyMultiplier = 2
)

var (
	// ErrCalibrationTooSoon is returned when calibrating before NextUpdate.
	ErrCalibrationTooSoon = errors.New("fees: calibration too soon")
	errNilState           = errors.New("fees: state not configured")
	errNilDeps            = errors.New("fees: collateral manager or token not configured")
)

type calculatorState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	AppendEvent(events.Event)
	HasRole(role string, addr crypto.Address) bool
	Atomic(fn func() error) error
}

// CollateralSource exposes the composition data fees are calibrated against.
type CollateralSource interface {
	GetFeeCalibrationData(token string) (*collateral.FeeCalibrationData, error)
	GetAllCollaterals() ([]string, error)
}

// SupplySource reports the stablecoin supply.
type SupplySource interface {
	TotalSupply() (*big.Int, error)
}

// FeeData is the calibrated fee pair of a collateral.
type FeeData struct {
	MintFee    uint64
	RedeemFee  uint64
	NextUpdate uint64
}

// Calculator derives mint and redeem fees from how far a collateral's share
// of backing has drifted from its desired composition. Scarce collateral gets
// cheaper to mint and dearer to redeem; abundant collateral the reverse.
type Calculator struct {
	state      calculatorState
	collateral CollateralSource
	token      SupplySource
	clock      func() time.Time
}

// NewCalculator constructs a calculator.
func NewCalculator() *Calculator {
	return &Calculator{clock: time.Now}
}

// SetState wires the calculator to the persistence layer.
func (c *Calculator) SetState(state calculatorState) {
	if c == nil {
		return
	}
	c.state = state
}

// SetCollateral configures the collateral manager.
func (c *Calculator) SetCollateral(source CollateralSource) {
	if c == nil {
		return
	}
	c.collateral = source
}

// SetToken configures the stablecoin supply source.
func (c *Calculator) SetToken(token SupplySource) {
	if c == nil {
		return
	}
	c.token = token
}

// SetClock overrides the time source.
func (c *Calculator) SetClock(clock func() time.Time) {
	if c == nil || clock == nil {
		return
	}
	c.clock = clock
}

func (c *Calculator) ready() error {
	if c == nil || c.state == nil {
		return errNilState
	}
	if c.collateral == nil || c.token == nil {
		return errNilDeps
	}
	return nil
}

func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

func feeKey(symbol string) []byte {
	return []byte("fees/data/" + symbol)
}

// GetFeeIn returns the mint fee of token and its precision.
func (c *Calculator) GetFeeIn(token string) (uint64, uint64, error) {
	data, err := c.FeeData(token)
	if err != nil {
		return 0, Precision, err
	}
	return data.MintFee, Precision, nil
}

// GetFeeOut returns the redeem fee of token and its precision.
func (c *Calculator) GetFeeOut(token string) (uint64, uint64, error) {
	data, err := c.FeeData(token)
	if err != nil {
		return 0, Precision, err
	}
	return data.RedeemFee, Precision, nil
}

// FeeData returns the stored fees of token. A collateral that was never
// calibrated is priced from the current composition without persisting.
func (c *Calculator) FeeData(token string) (*FeeData, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	symbol := normalizeAsset(token)
	data := new(FeeData)
	ok, err := c.state.KVGet(feeKey(symbol), data)
	if err != nil {
		return nil, err
	}
	if ok {
		return data, nil
	}
	return c.compute(symbol)
}

func (c *Calculator) compute(symbol string) (*FeeData, error) {
	calib, err := c.collateral.GetFeeCalibrationData(symbol)
	if err != nil {
		return nil, err
	}
	supply, err := c.token.TotalSupply()
	if err != nil {
		return nil, err
	}
	desired := nativecommon.ApplyBps(supply, calib.DesiredCollateralComposition)
	lower := nativecommon.ApplyBps(desired, LowerThreshold)
	upper := nativecommon.ApplyBps(desired, UpperThreshold)

	mintFee, redeemFee := calib.BaseMintFee, calib.BaseRedeemFee
	switch {
	case calib.TotalCollateral.Cmp(lower) < 0:
		mintFee /= DiscountFactor
		redeemFee *= PenaltyMultiplier
	case calib.TotalCollateral.Cmp(upper) > 0:
		mintFee *= PenaltyMultiplier
		redeemFee /= DiscountFactor
	}
	if mintFee > Precision {
		mintFee = Precision
	}
	if redeemFee > Precision {
		redeemFee = Precision
	}
	return &FeeData{MintFee: mintFee, RedeemFee: redeemFee}, nil
}

// CalibrateFee recomputes and stores the fees of token. Anyone may call it,
// at most once per CalibrationGap.
func (c *Calculator) CalibrateFee(token string) error {
	if err := c.ready(); err != nil {
		return err
	}
	symbol := normalizeAsset(token)
	return c.state.Atomic(func() error {
		existing := new(FeeData)
		if _, err := c.state.KVGet(feeKey(symbol), existing); err != nil {
			return err
		}
		now := nativecommon.Unix(c.clock)
		if now < existing.NextUpdate {
			return fmt.Errorf("%w: next update at %d", ErrCalibrationTooSoon, existing.NextUpdate)
		}
		return c.calibrate(symbol, now)
	})
}

// CalibrateFeeForAll recalibrates every collateral regardless of the gap.
func (c *Calculator) CalibrateFeeForAll(caller crypto.Address) error {
	if err := c.ready(); err != nil {
		return err
	}
	if err := nativecommon.RequireRole(c.state, nativecommon.RoleOwner, caller); err != nil {
		return err
	}
	return c.state.Atomic(func() error {
		collaterals, err := c.collateral.GetAllCollaterals()
		if err != nil {
			return err
		}
		now := nativecommon.Unix(c.clock)
		for _, symbol := range collaterals {
			if err := c.calibrate(symbol, now); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *Calculator) calibrate(symbol string, now uint64) error {
	data, err := c.compute(symbol)
	if err != nil {
		return err
	}
	data.NextUpdate = now + CalibrationGap
	if err := c.state.KVPut(feeKey(symbol), data); err != nil {
		return err
	}
	c.state.AppendEvent(events.FeeCalibrated{
		Asset:      symbol,
		MintFee:    data.MintFee,
		RedeemFee:  data.RedeemFee,
		NextUpdate: data.NextUpdate,
	})
	return nil
}
