package collateral

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"usdsvault/core/events"
	"usdsvault/core/state"
	"usdsvault/crypto"
	nativecommon "usdsvault/native/common"
	"usdsvault/native/strategy"
)

// MaxDecimals is the highest collateral precision the protocol normalizes.
const MaxDecimals = 18

var (
	ErrCollateralExists                          = errors.New("collateral: already exists")
	ErrCollateralDoesNotExist                    = errors.New("collateral: does not exist")
	ErrCollateralCompositionExceeded             = errors.New("collateral: composition exceeded")
	ErrPriceFeedNotFound                         = errors.New("collateral: price feed not found")
	ErrInvalidDecimals                           = errors.New("collateral: unsupported decimals")
	ErrCollateralStrategyExists                  = errors.New("collateral: strategy still mapped")
	ErrCollateralStrategyMapped                  = errors.New("collateral: strategy already mapped")
	ErrCollateralStrategyNotMapped               = errors.New("collateral: strategy not mapped")
	ErrCollateralAllocated                       = errors.New("collateral: funds still allocated")
	ErrCollateralNotSupportedByStrategy          = errors.New("collateral: not supported by strategy")
	ErrAllocationPercentageExceeded              = errors.New("collateral: allocation percentage exceeded")
	ErrAllocationPercentageLowerThanAllocatedAmt = errors.New("collateral: allocation cap below allocated amount")
	ErrIsDefaultStrategy                         = errors.New("collateral: strategy is the default")
	errNilState                                  = errors.New("collateral: state not configured")
)

type managerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	AppendEvent(events.Event)
	HasRole(role string, addr crypto.Address) bool
	Atomic(fn func() error) error
	Token(symbol string) (*state.TokenMetadata, error)
	Balance(symbol string, addr crypto.Address) (*big.Int, error)
}

// FeedRegistry reports whether a price feed exists for a token.
type FeedRegistry interface {
	PriceFeedExists(token string) bool
}

// StrategyLookup resolves strategy addresses to implementations.
type StrategyLookup interface {
	Lookup(addr crypto.Address) (strategy.Strategy, bool)
}

// Manager is the registry of supported collateral assets and the strategies
// each asset may be allocated to.
type Manager struct {
	vault      crypto.Address
	state      managerState
	oracle     FeedRegistry
	strategies StrategyLookup
}

// New constructs a manager reading vault balances from vault.
func New(vault crypto.Address) *Manager {
	return &Manager{vault: vault}
}

// SetState wires the manager to the persistence layer.
func (m *Manager) SetState(state managerState) {
	if m == nil {
		return
	}
	m.state = state
}

// SetOracle configures the price feed registry consulted for mintable assets.
func (m *Manager) SetOracle(oracle FeedRegistry) {
	if m == nil {
		return
	}
	m.oracle = oracle
}

// SetStrategies configures the strategy registry.
func (m *Manager) SetStrategies(lookup StrategyLookup) {
	if m == nil {
		return
	}
	m.strategies = lookup
}

// Vault returns the account whose balances count as collateral in vault.
func (m *Manager) Vault() crypto.Address { return m.vault }

func (m *Manager) ready() error {
	if m == nil || m.state == nil {
		return errNilState
	}
	return nil
}

func (m *Manager) requireOwner(caller crypto.Address) error {
	return nativecommon.RequireRole(m.state, nativecommon.RoleOwner, caller)
}

func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

// AddCollateral whitelists token with the provided policy.
func (m *Manager) AddCollateral(caller crypto.Address, token string, base BaseData) error {
	if err := m.ready(); err != nil {
		return err
	}
	if err := m.requireOwner(caller); err != nil {
		return err
	}
	symbol := normalizeAsset(token)
	return m.state.Atomic(func() error {
		existing, err := m.load(symbol)
		if err != nil {
			return err
		}
		if existing.Exists {
			return fmt.Errorf("%w: %s", ErrCollateralExists, symbol)
		}
		meta, err := m.state.Token(symbol)
		if err != nil {
			return err
		}
		if meta == nil {
			return fmt.Errorf("%w: %s", state.ErrTokenNotRegistered, symbol)
		}
		if meta.Decimals > MaxDecimals {
			return fmt.Errorf("%w: %s has %d", ErrInvalidDecimals, symbol, meta.Decimals)
		}
		if err := m.validateBase(symbol, base); err != nil {
			return err
		}
		g, err := m.loadGlobal()
		if err != nil {
			return err
		}
		used := g.CompositionUsed + base.DesiredCollateralComposition
		if used > nativecommon.MaxPercentage {
			return fmt.Errorf("%w: %d", ErrCollateralCompositionExceeded, used)
		}
		g.CompositionUsed = used
		g.Collaterals = append(g.Collaterals, symbol)
		if err := m.storeGlobal(g); err != nil {
			return err
		}
		data := &Data{
			BaseData:         base,
			ConversionFactor: nativecommon.Pow10(uint64(MaxDecimals - meta.Decimals)),
			Exists:           true,
		}
		if err := m.store(symbol, data); err != nil {
			return err
		}
		m.emitCollateral(events.TypeCollateralAdded, symbol, base)
		return nil
	})
}

// UpdateCollateralData replaces the policy of an existing collateral.
func (m *Manager) UpdateCollateralData(caller crypto.Address, token string, base BaseData) error {
	if err := m.ready(); err != nil {
		return err
	}
	if err := m.requireOwner(caller); err != nil {
		return err
	}
	symbol := normalizeAsset(token)
	return m.state.Atomic(func() error {
		data, err := m.requireCollateral(symbol)
		if err != nil {
			return err
		}
		if err := m.validateBase(symbol, base); err != nil {
			return err
		}
		g, err := m.loadGlobal()
		if err != nil {
			return err
		}
		used := g.CompositionUsed - data.DesiredCollateralComposition + base.DesiredCollateralComposition
		if used > nativecommon.MaxPercentage {
			return fmt.Errorf("%w: %d", ErrCollateralCompositionExceeded, used)
		}
		g.CompositionUsed = used
		if err := m.storeGlobal(g); err != nil {
			return err
		}
		data.BaseData = base
		if err := m.store(symbol, data); err != nil {
			return err
		}
		m.emitCollateral(events.TypeCollateralUpdated, symbol, base)
		return nil
	})
}

// RemoveCollateral drops token once no strategy holds or is mapped to it.
func (m *Manager) RemoveCollateral(caller crypto.Address, token string) error {
	if err := m.ready(); err != nil {
		return err
	}
	if err := m.requireOwner(caller); err != nil {
		return err
	}
	symbol := normalizeAsset(token)
	return m.state.Atomic(func() error {
		data, err := m.requireCollateral(symbol)
		if err != nil {
			return err
		}
		inStrategies, err := m.collateralInStrategies(symbol)
		if err != nil {
			return err
		}
		if inStrategies.Sign() > 0 {
			return fmt.Errorf("%w: %s in strategies", ErrCollateralAllocated, inStrategies)
		}
		mapped, err := m.strategyList(symbol)
		if err != nil {
			return err
		}
		if len(mapped) > 0 {
			return fmt.Errorf("%w: %d strategies", ErrCollateralStrategyExists, len(mapped))
		}
		g, err := m.loadGlobal()
		if err != nil {
			return err
		}
		g.CompositionUsed -= data.DesiredCollateralComposition
		g.Collaterals = removeString(g.Collaterals, symbol)
		if err := m.storeGlobal(g); err != nil {
			return err
		}
		if err := m.state.KVDelete(collateralKey(symbol)); err != nil {
			return err
		}
		m.emitCollateral(events.TypeCollateralRemoved, symbol, data.BaseData)
		return nil
	})
}

func (m *Manager) validateBase(symbol string, base BaseData) error {
	for field, bps := range map[string]uint64{
		"baseMintFee":                  base.BaseMintFee,
		"baseRedeemFee":                base.BaseRedeemFee,
		"downsidePeg":                  base.DownsidePeg,
		"desiredCollateralComposition": base.DesiredCollateralComposition,
	} {
		if err := nativecommon.ValidatePercentage(bps, field); err != nil {
			return err
		}
	}
	if base.MintAllowed && (m.oracle == nil || !m.oracle.PriceFeedExists(symbol)) {
		return fmt.Errorf("%w: %s", ErrPriceFeedNotFound, symbol)
	}
	return nil
}

func (m *Manager) requireCollateral(symbol string) (*Data, error) {
	data, err := m.load(symbol)
	if err != nil {
		return nil, err
	}
	if !data.Exists {
		return nil, fmt.Errorf("%w: %s", ErrCollateralDoesNotExist, symbol)
	}
	return data, nil
}

func (m *Manager) emitCollateral(eventType, symbol string, base BaseData) {
	m.state.AppendEvent(events.CollateralChanged{
		Type:                  eventType,
		Asset:                 symbol,
		MintAllowed:           base.MintAllowed,
		RedeemAllowed:         base.RedeemAllowed,
		AllocationAllowed:     base.AllocationAllowed,
		BaseMintFee:           base.BaseMintFee,
		BaseRedeemFee:         base.BaseRedeemFee,
		DownsidePeg:           base.DownsidePeg,
		DesiredCollateralComp: base.DesiredCollateralComposition,
	})
}

func removeString(list []string, target string) []string {
	out := list[:0]
	for _, item := range list {
		if item != target {
			out = append(out, item)
		}
	}
	return out
}
