package strategy

import (
	"math/big"
	"strconv"
	"strings"

	"usdsvault/core/events"
	"usdsvault/core/state"
	"usdsvault/crypto"
	nativecommon "usdsvault/native/common"
)

type strategyState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	AppendEvent(events.Event)
	HasRole(role string, addr crypto.Address) bool
	Atomic(fn func() error) error
	Balance(symbol string, addr crypto.Address) (*big.Int, error)
	Transfer(symbol string, from, to crypto.Address, amount *big.Int) error
}

// Params is the persisted strategy configuration.
type Params struct {
	Vault                crypto.Address
	YieldReceiver        crypto.Address
	HarvestIncentiveRate uint64
	DepositSlippage      uint64
	WithdrawSlippage     uint64
}

// AssetData is the per-asset bookkeeping of a strategy. AllocatedAmt is the
// principal deployed into the venue and excludes accrued interest.
type AssetData struct {
	Supported       bool
	AllocatedAmt    *big.Int
	IntLiqThreshold *big.Int
}

// Base carries the state shared by every strategy variant: the vault link,
// slippage and harvest settings, per-asset allocation and the reentrancy
// guard. Variants embed it.
type Base struct {
	address crypto.Address
	name    string
	state   strategyState
	guard   nativecommon.ReentrancyGuard
	prefix  []byte
}

func newBase(name string, address crypto.Address) *Base {
	trimmed := strings.ToLower(strings.TrimSpace(name))
	return &Base{
		address: address,
		name:    trimmed,
		prefix:  []byte("strategy/" + address.Hex() + "/"),
	}
}

// SetState wires the strategy to the persistence layer.
func (b *Base) SetState(state strategyState) {
	if b == nil {
		return
	}
	b.state = state
}

// Address returns the account holding the strategy's positions.
func (b *Base) Address() crypto.Address { return b.address }

// Name returns the configured strategy name.
func (b *Base) Name() string { return b.name }

func (b *Base) ready() error {
	if b == nil || b.state == nil {
		return errNilState
	}
	return nil
}

func (b *Base) paramsKey() []byte {
	return append(append([]byte(nil), b.prefix...), "params"...)
}

func (b *Base) assetKey(asset string) []byte {
	key := append(append([]byte(nil), b.prefix...), "asset/"...)
	return append(key, normalizeAsset(asset)...)
}

func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

// Initialize records the vault, yield receiver and tolerances.
func (b *Base) Initialize(params Params) error {
	if err := b.ready(); err != nil {
		return err
	}
	if err := nativecommon.RequireAddress(params.Vault, "vault"); err != nil {
		return err
	}
	if err := nativecommon.RequireAddress(params.YieldReceiver, "yield receiver"); err != nil {
		return err
	}
	for field, bps := range map[string]uint64{
		"harvestIncentiveRate": params.HarvestIncentiveRate,
		"depositSlippage":      params.DepositSlippage,
		"withdrawSlippage":     params.WithdrawSlippage,
	} {
		if err := nativecommon.ValidatePercentage(bps, field); err != nil {
			return err
		}
	}
	return b.state.Atomic(func() error {
		return b.state.KVPut(b.paramsKey(), &params)
	})
}

// Params returns the persisted configuration.
func (b *Base) Params() (*Params, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	return b.loadParams()
}

func (b *Base) loadParams() (*Params, error) {
	params := new(Params)
	if _, err := b.state.KVGet(b.paramsKey(), params); err != nil {
		return nil, err
	}
	return params, nil
}

// AssetData returns the bookkeeping recorded for asset.
func (b *Base) AssetData(asset string) (*AssetData, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	return b.loadAsset(asset)
}

func (b *Base) loadAsset(asset string) (*AssetData, error) {
	data := new(AssetData)
	if _, err := b.state.KVGet(b.assetKey(asset), data); err != nil {
		return nil, err
	}
	if data.AllocatedAmt == nil {
		data.AllocatedAmt = big.NewInt(0)
	}
	if data.IntLiqThreshold == nil {
		data.IntLiqThreshold = big.NewInt(0)
	}
	return data, nil
}

func (b *Base) storeAsset(asset string, data *AssetData) error {
	if err := state.ValidateAmount(data.AllocatedAmt); err != nil {
		return err
	}
	return b.state.KVPut(b.assetKey(asset), data)
}

// SupportsCollateral reports whether asset has been enabled.
func (b *Base) SupportsCollateral(asset string) bool {
	if b.ready() != nil {
		return false
	}
	data, err := b.loadAsset(asset)
	return err == nil && data.Supported
}

// CheckBalance returns the recorded principal for asset.
func (b *Base) CheckBalance(asset string) (*big.Int, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	data, err := b.loadAsset(asset)
	if err != nil {
		return nil, err
	}
	return data.AllocatedAmt, nil
}

func (b *Base) requireOwner(caller crypto.Address) error {
	return nativecommon.RequireRole(b.state, nativecommon.RoleOwner, caller)
}

func (b *Base) requireVault(caller crypto.Address) (*Params, error) {
	params, err := b.loadParams()
	if err != nil {
		return nil, err
	}
	if params.Vault.IsZero() || caller != params.Vault {
		return nil, ErrCallerNotVault
	}
	return params, nil
}

func (b *Base) requireSupported(asset string) (*AssetData, error) {
	data, err := b.loadAsset(asset)
	if err != nil {
		return nil, err
	}
	if !data.Supported {
		return nil, ErrCollateralNotSupported
	}
	return data, nil
}

// SupportAsset enables asset with the given harvest threshold.
func (b *Base) SupportAsset(caller crypto.Address, asset string, intLiqThreshold *big.Int) error {
	if err := b.ready(); err != nil {
		return err
	}
	if err := b.requireOwner(caller); err != nil {
		return err
	}
	return b.state.Atomic(func() error {
		data, err := b.loadAsset(asset)
		if err != nil {
			return err
		}
		data.Supported = true
		data.IntLiqThreshold = nativecommon.Copy(intLiqThreshold)
		return b.storeAsset(asset, data)
	})
}

// RemoveAsset disables asset once nothing is allocated to it.
func (b *Base) RemoveAsset(caller crypto.Address, asset string) error {
	if err := b.ready(); err != nil {
		return err
	}
	if err := b.requireOwner(caller); err != nil {
		return err
	}
	return b.state.Atomic(func() error {
		data, err := b.requireSupported(asset)
		if err != nil {
			return err
		}
		if data.AllocatedAmt.Sign() > 0 {
			return ErrCollateralAllocated
		}
		data.Supported = false
		return b.storeAsset(asset, data)
	})
}

// UpdateIntLiqThreshold changes the minimum interest worth harvesting.
func (b *Base) UpdateIntLiqThreshold(caller crypto.Address, asset string, threshold *big.Int) error {
	if err := b.ready(); err != nil {
		return err
	}
	if err := b.requireOwner(caller); err != nil {
		return err
	}
	return b.state.Atomic(func() error {
		data, err := b.requireSupported(asset)
		if err != nil {
			return err
		}
		data.IntLiqThreshold = nativecommon.Copy(threshold)
		return b.storeAsset(asset, data)
	})
}

// UpdateHarvestIncentiveRate changes the harvester's share in basis points.
func (b *Base) UpdateHarvestIncentiveRate(caller crypto.Address, rate uint64) error {
	return b.updateParams(caller, "harvestIncentiveRate", strconv.FormatUint(rate, 10), func(p *Params) error {
		if err := nativecommon.ValidatePercentage(rate, "harvestIncentiveRate"); err != nil {
			return err
		}
		p.HarvestIncentiveRate = rate
		return nil
	})
}

// UpdateSlippage changes the deposit and withdraw tolerances.
func (b *Base) UpdateSlippage(caller crypto.Address, depositSlippage, withdrawSlippage uint64) error {
	value := strconv.FormatUint(depositSlippage, 10) + "/" + strconv.FormatUint(withdrawSlippage, 10)
	return b.updateParams(caller, "slippage", value, func(p *Params) error {
		if err := nativecommon.ValidatePercentage(depositSlippage, "depositSlippage"); err != nil {
			return err
		}
		if err := nativecommon.ValidatePercentage(withdrawSlippage, "withdrawSlippage"); err != nil {
			return err
		}
		p.DepositSlippage = depositSlippage
		p.WithdrawSlippage = withdrawSlippage
		return nil
	})
}

// UpdateVault changes the vault allowed to deposit and withdraw.
func (b *Base) UpdateVault(caller, vault crypto.Address) error {
	return b.updateParams(caller, "vault", vault.String(), func(p *Params) error {
		if err := nativecommon.RequireAddress(vault, "vault"); err != nil {
			return err
		}
		p.Vault = vault
		return nil
	})
}

// UpdateYieldReceiver changes where harvested yield is sent.
func (b *Base) UpdateYieldReceiver(caller, receiver crypto.Address) error {
	return b.updateParams(caller, "yieldReceiver", receiver.String(), func(p *Params) error {
		if err := nativecommon.RequireAddress(receiver, "yield receiver"); err != nil {
			return err
		}
		p.YieldReceiver = receiver
		return nil
	})
}

func (b *Base) updateParams(caller crypto.Address, field, value string, mutate func(*Params) error) error {
	if err := b.ready(); err != nil {
		return err
	}
	if err := b.requireOwner(caller); err != nil {
		return err
	}
	return b.state.Atomic(func() error {
		params, err := b.loadParams()
		if err != nil {
			return err
		}
		if err := mutate(params); err != nil {
			return err
		}
		if err := b.state.KVPut(b.paramsKey(), params); err != nil {
			return err
		}
		b.state.AppendEvent(events.ConfigUpdated{Module: "strategy/" + b.name, Field: field, Value: value})
		return nil
	})
}

func (b *Base) addAllocation(asset string, data *AssetData, amount *big.Int) error {
	data.AllocatedAmt = new(big.Int).Add(data.AllocatedAmt, amount)
	return b.storeAsset(asset, data)
}

func (b *Base) subAllocation(asset string, data *AssetData, amount *big.Int) error {
	if data.AllocatedAmt.Cmp(amount) < 0 {
		return ErrInsufficientAllocation
	}
	data.AllocatedAmt = new(big.Int).Sub(data.AllocatedAmt, amount)
	return b.storeAsset(asset, data)
}

// pullFromVault moves the deposit into the strategy account.
func (b *Base) pullFromVault(vault crypto.Address, asset string, amount *big.Int) error {
	return b.state.Transfer(normalizeAsset(asset), vault, b.address, amount)
}

// splitHarvest pays the harvester incentive out of amount and sends the rest
// to the yield receiver.
func (b *Base) splitHarvest(params *Params, harvester crypto.Address, token, kind string, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	incentive := big.NewInt(0)
	if !harvester.IsZero() {
		incentive = nativecommon.ApplyBps(amount, params.HarvestIncentiveRate)
	}
	yield := new(big.Int).Sub(amount, incentive)
	symbol := normalizeAsset(token)
	if incentive.Sign() > 0 {
		if err := b.state.Transfer(symbol, b.address, harvester, incentive); err != nil {
			return err
		}
	}
	if yield.Sign() > 0 {
		if err := b.state.Transfer(symbol, b.address, params.YieldReceiver, yield); err != nil {
			return err
		}
	}
	b.state.AppendEvent(events.StrategyHarvest{
		Strategy:  b.address,
		Token:     symbol,
		Kind:      kind,
		Harvester: harvester,
		Incentive: incentive,
		Yield:     yield,
	})
	return nil
}

func (b *Base) emitMovement(eventType, asset string, amount *big.Int) {
	b.state.AppendEvent(events.StrategyMovement{
		Type:     eventType,
		Strategy: b.address,
		Asset:    normalizeAsset(asset),
		Amount:   new(big.Int).Set(amount),
	})
}
