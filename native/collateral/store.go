package collateral

import (
	"math/big"

	"usdsvault/crypto"
)

// BaseData is the owner supplied policy of a collateral. Fees, the downside
// peg and the desired composition are basis points.
type BaseData struct {
	MintAllowed                  bool
	RedeemAllowed                bool
	AllocationAllowed            bool
	BaseMintFee                  uint64
	BaseRedeemFee                uint64
	DownsidePeg                  uint64
	DesiredCollateralComposition uint64
}

// Data is the persisted record of a collateral.
type Data struct {
	BaseData
	CollateralCapacityUsed uint64
	ConversionFactor       *big.Int
	DefaultStrategy        crypto.Address
	Exists                 bool
}

// StrategyData links a collateral to a strategy with an allocation cap in
// basis points of the total collateral.
type StrategyData struct {
	AllocationCap uint64
	Exists        bool
}

type global struct {
	CompositionUsed uint64
	Collaterals     []string
}

var (
	globalKey             = []byte("collateral/global")
	collateralPrefix      = []byte("collateral/data/")
	strategyListPrefix    = []byte("collateral/strategies/")
	strategyMappingPrefix = []byte("collateral/mapping/")
)

func collateralKey(symbol string) []byte {
	return append(append([]byte(nil), collateralPrefix...), symbol...)
}

func strategyListKey(symbol string) []byte {
	return append(append([]byte(nil), strategyListPrefix...), symbol...)
}

func mappingKey(symbol string, strat crypto.Address) []byte {
	key := append(append([]byte(nil), strategyMappingPrefix...), symbol...)
	key = append(key, '/')
	return append(key, strat[:]...)
}

func (m *Manager) loadGlobal() (*global, error) {
	g := new(global)
	if _, err := m.state.KVGet(globalKey, g); err != nil {
		return nil, err
	}
	return g, nil
}

func (m *Manager) storeGlobal(g *global) error {
	return m.state.KVPut(globalKey, g)
}

func (m *Manager) load(symbol string) (*Data, error) {
	data := new(Data)
	if _, err := m.state.KVGet(collateralKey(symbol), data); err != nil {
		return nil, err
	}
	if data.ConversionFactor == nil || data.ConversionFactor.Sign() == 0 {
		data.ConversionFactor = big.NewInt(1)
	}
	return data, nil
}

func (m *Manager) store(symbol string, data *Data) error {
	return m.state.KVPut(collateralKey(symbol), data)
}

func (m *Manager) strategyList(symbol string) ([]crypto.Address, error) {
	var list []crypto.Address
	if _, err := m.state.KVGet(strategyListKey(symbol), &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (m *Manager) storeStrategyList(symbol string, list []crypto.Address) error {
	if len(list) == 0 {
		return m.state.KVDelete(strategyListKey(symbol))
	}
	return m.state.KVPut(strategyListKey(symbol), list)
}

func (m *Manager) loadMapping(symbol string, strat crypto.Address) (*StrategyData, error) {
	data := new(StrategyData)
	if _, err := m.state.KVGet(mappingKey(symbol, strat), data); err != nil {
		return nil, err
	}
	return data, nil
}
