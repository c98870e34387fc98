package collateral

import (
	"math/big"
	"sort"

	"usdsvault/crypto"
	nativecommon "usdsvault/native/common"
)

// MintParams is the subset of collateral policy the vault needs to mint.
type MintParams struct {
	MintAllowed      bool
	DownsidePeg      uint64
	BaseMintFee      uint64
	ConversionFactor *big.Int
}

// RedeemParams is the subset of collateral policy the vault needs to redeem.
type RedeemParams struct {
	RedeemAllowed    bool
	DefaultStrategy  crypto.Address
	BaseRedeemFee    uint64
	ConversionFactor *big.Int
}

// FeeCalibrationData feeds the fee calculator. TotalCollateral is normalized
// to 18 decimals.
type FeeCalibrationData struct {
	BaseMintFee                  uint64
	BaseRedeemFee                uint64
	DesiredCollateralComposition uint64
	TotalCollateral              *big.Int
}

// GetMintParams returns the mint policy of token. Unknown assets report
// minting as disallowed.
func (m *Manager) GetMintParams(token string) (MintParams, error) {
	if err := m.ready(); err != nil {
		return MintParams{ConversionFactor: big.NewInt(1)}, err
	}
	data, err := m.load(normalizeAsset(token))
	if err != nil {
		return MintParams{ConversionFactor: big.NewInt(1)}, err
	}
	if !data.Exists {
		return MintParams{ConversionFactor: big.NewInt(1)}, nil
	}
	return MintParams{
		MintAllowed:      data.MintAllowed,
		DownsidePeg:      data.DownsidePeg,
		BaseMintFee:      data.BaseMintFee,
		ConversionFactor: data.ConversionFactor,
	}, nil
}

// GetRedeemParams returns the redeem policy of token. Unknown assets report
// redemption as disallowed.
func (m *Manager) GetRedeemParams(token string) (RedeemParams, error) {
	if err := m.ready(); err != nil {
		return RedeemParams{ConversionFactor: big.NewInt(1)}, err
	}
	data, err := m.load(normalizeAsset(token))
	if err != nil {
		return RedeemParams{ConversionFactor: big.NewInt(1)}, err
	}
	if !data.Exists {
		return RedeemParams{ConversionFactor: big.NewInt(1)}, nil
	}
	return RedeemParams{
		RedeemAllowed:    data.RedeemAllowed,
		DefaultStrategy:  data.DefaultStrategy,
		BaseRedeemFee:    data.BaseRedeemFee,
		ConversionFactor: data.ConversionFactor,
	}, nil
}

// GetCollateralData returns the full record of token.
func (m *Manager) GetCollateralData(token string) (*Data, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	return m.requireCollateral(normalizeAsset(token))
}

// GetAllCollaterals lists every whitelisted collateral in insertion order.
func (m *Manager) GetAllCollaterals() ([]string, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	g, err := m.loadGlobal()
	if err != nil {
		return nil, err
	}
	return append([]string(nil), g.Collaterals...), nil
}

// GetCollateralCompositionUsed returns the sum of desired compositions.
func (m *Manager) GetCollateralCompositionUsed() (uint64, error) {
	if err := m.ready(); err != nil {
		return 0, err
	}
	g, err := m.loadGlobal()
	if err != nil {
		return 0, err
	}
	return g.CompositionUsed, nil
}

// GetCollateralStrategies lists the strategies mapped to token.
func (m *Manager) GetCollateralStrategies(token string) ([]crypto.Address, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	return m.strategyList(normalizeAsset(token))
}

// GetStrategyData returns the mapping between token and strat.
func (m *Manager) GetStrategyData(token string, strat crypto.Address) (*StrategyData, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	return m.requireMapping(normalizeAsset(token), strat)
}

// IsValidStrategy reports whether strat is mapped to token.
func (m *Manager) IsValidStrategy(token string, strat crypto.Address) bool {
	if m.ready() != nil || strat.IsZero() {
		return false
	}
	mapping, err := m.loadMapping(normalizeAsset(token), strat)
	return err == nil && mapping.Exists
}

// GetCollateralInVault returns the vault's direct balance of token.
func (m *Manager) GetCollateralInVault(token string) (*big.Int, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	return m.state.Balance(normalizeAsset(token), m.vault)
}

// GetCollateralInStrategies returns the principal of token held by every
// mapped strategy.
func (m *Manager) GetCollateralInStrategies(token string) (*big.Int, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	return m.collateralInStrategies(normalizeAsset(token))
}

// GetCollateralInAStrategy returns the principal of token held by strat.
func (m *Manager) GetCollateralInAStrategy(token string, strat crypto.Address) (*big.Int, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	return m.collateralInAStrategy(normalizeAsset(token), strat)
}

func (m *Manager) collateralInAStrategy(symbol string, strat crypto.Address) (*big.Int, error) {
	impl, ok := m.lookupStrategy(strat)
	if !ok {
		return big.NewInt(0), nil
	}
	return impl.CheckBalance(symbol)
}

func (m *Manager) collateralInStrategies(symbol string) (*big.Int, error) {
	list, err := m.strategyList(symbol)
	if err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	for _, addr := range list {
		held, err := m.collateralInAStrategy(symbol, addr)
		if err != nil {
			return nil, err
		}
		total.Add(total, held)
	}
	return total, nil
}

func (m *Manager) totalCollateral(symbol string) (*big.Int, error) {
	inVault, err := m.state.Balance(symbol, m.vault)
	if err != nil {
		return nil, err
	}
	inStrategies, err := m.collateralInStrategies(symbol)
	if err != nil {
		return nil, err
	}
	return inVault.Add(inVault, inStrategies), nil
}

// ValidateAllocation reports whether moving amount of token into strat keeps
// the strategy within its allocation cap. It never fails; unknown assets,
// disabled allocation and unmapped strategies all report false.
func (m *Manager) ValidateAllocation(token string, strat crypto.Address, amount *big.Int) bool {
	if m.ready() != nil || amount == nil || amount.Sign() <= 0 {
		return false
	}
	symbol := normalizeAsset(token)
	data, err := m.load(symbol)
	if err != nil || !data.Exists || !data.AllocationAllowed {
		return false
	}
	mapping, err := m.loadMapping(symbol, strat)
	if err != nil || !mapping.Exists {
		return false
	}
	held, err := m.collateralInAStrategy(symbol, strat)
	if err != nil {
		return false
	}
	total, err := m.totalCollateral(symbol)
	if err != nil {
		return false
	}
	limit := nativecommon.ApplyBps(total, mapping.AllocationCap)
	return new(big.Int).Add(held, amount).Cmp(limit) <= 0
}

// GetAllocatableAmount returns how much more of token may be moved into strat
// right now, bounded by the vault's direct balance.
func (m *Manager) GetAllocatableAmount(token string, strat crypto.Address) (*big.Int, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	symbol := normalizeAsset(token)
	mapping, err := m.requireMapping(symbol, strat)
	if err != nil {
		return nil, err
	}
	held, err := m.collateralInAStrategy(symbol, strat)
	if err != nil {
		return nil, err
	}
	inVault, err := m.state.Balance(symbol, m.vault)
	if err != nil {
		return nil, err
	}
	total, err := m.totalCollateral(symbol)
	if err != nil {
		return nil, err
	}
	headroom := nativecommon.ApplyBps(total, mapping.AllocationCap)
	if headroom.Cmp(held) <= 0 {
		return big.NewInt(0), nil
	}
	headroom.Sub(headroom, held)
	return nativecommon.Min(inVault, headroom), nil
}

// GetFeeCalibrationData returns the inputs of fee calibration for token.
func (m *Manager) GetFeeCalibrationData(token string) (*FeeCalibrationData, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	symbol := normalizeAsset(token)
	data, err := m.requireCollateral(symbol)
	if err != nil {
		return nil, err
	}
	total, err := m.totalCollateral(symbol)
	if err != nil {
		return nil, err
	}
	return &FeeCalibrationData{
		BaseMintFee:                  data.BaseMintFee,
		BaseRedeemFee:                data.BaseRedeemFee,
		DesiredCollateralComposition: data.DesiredCollateralComposition,
		TotalCollateral:              total.Mul(total, data.ConversionFactor),
	}, nil
}

// Holding summarizes where one collateral is held.
type Holding struct {
	Collateral    string
	InVault       *big.Int
	InStrategies  *big.Int
	Total         *big.Int
	PerStrategy   map[crypto.Address]*big.Int
	CapacityUsed  uint64
	DesiredComp   uint64
	DefaultTarget crypto.Address
}

// Holdings reports the custody split of every collateral sorted by symbol.
func (m *Manager) Holdings() ([]Holding, error) {
	collaterals, err := m.GetAllCollaterals()
	if err != nil {
		return nil, err
	}
	sort.Strings(collaterals)
	out := make([]Holding, 0, len(collaterals))
	for _, symbol := range collaterals {
		data, err := m.requireCollateral(symbol)
		if err != nil {
			return nil, err
		}
		inVault, err := m.state.Balance(symbol, m.vault)
		if err != nil {
			return nil, err
		}
		list, err := m.strategyList(symbol)
		if err != nil {
			return nil, err
		}
		per := make(map[crypto.Address]*big.Int, len(list))
		inStrategies := big.NewInt(0)
		for _, addr := range list {
			held, err := m.collateralInAStrategy(symbol, addr)
			if err != nil {
				return nil, err
			}
			per[addr] = held
			inStrategies.Add(inStrategies, held)
		}
		out = append(out, Holding{
			Collateral:    symbol,
			InVault:       inVault,
			InStrategies:  inStrategies,
			Total:         new(big.Int).Add(inVault, inStrategies),
			PerStrategy:   per,
			CapacityUsed:  data.CollateralCapacityUsed,
			DesiredComp:   data.DesiredCollateralComposition,
			DefaultTarget: data.DefaultStrategy,
		})
	}
	return out, nil
}
