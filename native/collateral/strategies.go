package collateral

import (
	"fmt"
	"math/big"

	"usdsvault/core/events"
	"usdsvault/crypto"
	nativecommon "usdsvault/native/common"
	"usdsvault/native/strategy"
)

func (m *Manager) lookupStrategy(addr crypto.Address) (strategy.Strategy, bool) {
	if m.strategies == nil {
		return nil, false
	}
	return m.strategies.Lookup(addr)
}

// AddCollateralStrategy maps strat to token with the given allocation cap.
func (m *Manager) AddCollateralStrategy(caller crypto.Address, token string, strat crypto.Address, allocationCap uint64) error {
	if err := m.ready(); err != nil {
		return err
	}
	if err := m.requireOwner(caller); err != nil {
		return err
	}
	if err := nativecommon.ValidatePercentage(allocationCap, "allocationCap"); err != nil {
		return err
	}
	symbol := normalizeAsset(token)
	return m.state.Atomic(func() error {
		data, err := m.requireCollateral(symbol)
		if err != nil {
			return err
		}
		mapping, err := m.loadMapping(symbol, strat)
		if err != nil {
			return err
		}
		if mapping.Exists {
			return fmt.Errorf("%w: %s", ErrCollateralStrategyMapped, strat)
		}
		impl, ok := m.lookupStrategy(strat)
		if !ok || !impl.SupportsCollateral(symbol) {
			return fmt.Errorf("%w: %s", ErrCollateralNotSupportedByStrategy, strat)
		}
		used := data.CollateralCapacityUsed + allocationCap
		if used > nativecommon.MaxPercentage {
			return fmt.Errorf("%w: %d", ErrAllocationPercentageExceeded, used)
		}
		data.CollateralCapacityUsed = used
		if err := m.store(symbol, data); err != nil {
			return err
		}
		list, err := m.strategyList(symbol)
		if err != nil {
			return err
		}
		if err := m.storeStrategyList(symbol, append(list, strat)); err != nil {
			return err
		}
		if err := m.state.KVPut(mappingKey(symbol, strat), &StrategyData{AllocationCap: allocationCap, Exists: true}); err != nil {
			return err
		}
		m.emitStrategy(events.TypeCollateralStrategyAdded, symbol, strat, allocationCap)
		return nil
	})
}

// UpdateCollateralStrategy changes the allocation cap of a mapped strategy.
// The new cap must still cover what the strategy already holds.
func (m *Manager) UpdateCollateralStrategy(caller crypto.Address, token string, strat crypto.Address, allocationCap uint64) error {
	if err := m.ready(); err != nil {
		return err
	}
	if err := m.requireOwner(caller); err != nil {
		return err
	}
	if err := nativecommon.ValidatePercentage(allocationCap, "allocationCap"); err != nil {
		return err
	}
	symbol := normalizeAsset(token)
	return m.state.Atomic(func() error {
		data, err := m.requireCollateral(symbol)
		if err != nil {
			return err
		}
		mapping, err := m.requireMapping(symbol, strat)
		if err != nil {
			return err
		}
		held, err := m.collateralInAStrategy(symbol, strat)
		if err != nil {
			return err
		}
		total, err := m.totalCollateral(symbol)
		if err != nil {
			return err
		}
		heldScaled := new(big.Int).Mul(held, nativecommon.BasisPoints)
		capScaled := new(big.Int).Mul(new(big.Int).SetUint64(allocationCap), total)
		if heldScaled.Cmp(capScaled) > 0 {
			return fmt.Errorf("%w: holds %s of %s", ErrAllocationPercentageLowerThanAllocatedAmt, held, total)
		}
		used := data.CollateralCapacityUsed - mapping.AllocationCap + allocationCap
		if used > nativecommon.MaxPercentage {
			return fmt.Errorf("%w: %d", ErrAllocationPercentageExceeded, used)
		}
		data.CollateralCapacityUsed = used
		if err := m.store(symbol, data); err != nil {
			return err
		}
		mapping.AllocationCap = allocationCap
		if err := m.state.KVPut(mappingKey(symbol, strat), mapping); err != nil {
			return err
		}
		m.emitStrategy(events.TypeCollateralStrategyUpdated, symbol, strat, allocationCap)
		return nil
	})
}

// RemoveCollateralStrategy unmaps an empty, non-default strategy.
func (m *Manager) RemoveCollateralStrategy(caller crypto.Address, token string, strat crypto.Address) error {
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
		mapping, err := m.requireMapping(symbol, strat)
		if err != nil {
			return err
		}
		if data.DefaultStrategy == strat {
			return fmt.Errorf("%w: %s", ErrIsDefaultStrategy, strat)
		}
		held, err := m.collateralInAStrategy(symbol, strat)
		if err != nil {
			return err
		}
		if held.Sign() > 0 {
			return fmt.Errorf("%w: %s holds %s", ErrCollateralAllocated, strat, held)
		}
		data.CollateralCapacityUsed -= mapping.AllocationCap
		if err := m.store(symbol, data); err != nil {
			return err
		}
		list, err := m.strategyList(symbol)
		if err != nil {
			return err
		}
		kept := list[:0]
		for _, addr := range list {
			if addr != strat {
				kept = append(kept, addr)
			}
		}
		if err := m.storeStrategyList(symbol, kept); err != nil {
			return err
		}
		if err := m.state.KVDelete(mappingKey(symbol, strat)); err != nil {
			return err
		}
		m.emitStrategy(events.TypeCollateralStrategyRemoved, symbol, strat, mapping.AllocationCap)
		return nil
	})
}

// UpdateCollateralDefaultStrategy sets the strategy redemptions fall back to.
// The zero address clears it.
func (m *Manager) UpdateCollateralDefaultStrategy(caller crypto.Address, token string, strat crypto.Address) error {
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
		if !strat.IsZero() {
			if _, err := m.requireMapping(symbol, strat); err != nil {
				return err
			}
			impl, ok := m.lookupStrategy(strat)
			if !ok || !impl.SupportsCollateral(symbol) {
				return fmt.Errorf("%w: %s", ErrCollateralNotSupportedByStrategy, strat)
			}
		}
		data.DefaultStrategy = strat
		if err := m.store(symbol, data); err != nil {
			return err
		}
		m.state.AppendEvent(events.ConfigUpdated{Module: "collateral", Field: "defaultStrategy/" + symbol, Value: strat.String()})
		return nil
	})
}

func (m *Manager) requireMapping(symbol string, strat crypto.Address) (*StrategyData, error) {
	mapping, err := m.loadMapping(symbol, strat)
	if err != nil {
		return nil, err
	}
	if !mapping.Exists {
		return nil, fmt.Errorf("%w: %s", ErrCollateralStrategyNotMapped, strat)
	}
	return mapping, nil
}

func (m *Manager) emitStrategy(eventType, symbol string, strat crypto.Address, allocationCap uint64) {
	m.state.AppendEvent(events.CollateralStrategyChanged{
		Type:          eventType,
		Asset:         symbol,
		Strategy:      strat,
		AllocationCap: allocationCap,
	})
}
