package rebase

import (
	"fmt"
	"math/big"

	"usdsvault/core/events"
	"usdsvault/crypto"
	nativecommon "usdsvault/native/common"
)

// GetAvailableRebaseAmt returns the vault's USDs balance plus what the dripper
// could release right now.
func (m *Manager) GetAvailableRebaseAmt() (*big.Int, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	params, err := m.load()
	if err != nil {
		return nil, err
	}
	return m.availableRebaseAmt(params)
}

func (m *Manager) availableRebaseAmt(params *Params) (*big.Int, error) {
	balance, err := m.token.BalanceOf(params.Vault)
	if err != nil {
		return nil, err
	}
	collectable, err := m.dripper.GetCollectableAmt()
	if err != nil {
		return nil, err
	}
	return new(big.Int).Add(balance, collectable), nil
}

// GetMinAndMaxRebaseAmt bounds the rebase by aprBottom and aprCap applied to
// the rebasing principal over the time since the last rebase.
func (m *Manager) GetMinAndMaxRebaseAmt() (*big.Int, *big.Int, error) {
	if err := m.ready(); err != nil {
		return nil, nil, err
	}
	params, err := m.load()
	if err != nil {
		return nil, nil, err
	}
	return m.minAndMax(params)
}

func (m *Manager) minAndMax(params *Params) (*big.Int, *big.Int, error) {
	total, err := m.token.TotalSupply()
	if err != nil {
		return nil, nil, err
	}
	nonRebasing, err := m.token.NonRebasingSupply()
	if err != nil {
		return nil, nil, err
	}
	principal := new(big.Int).Sub(total, nonRebasing)
	if principal.Sign() < 0 {
		principal.SetInt64(0)
	}
	elapsed := m.elapsed(params)
	denominator := new(big.Int).SetUint64(OneYear)
	denominator.Mul(denominator, nativecommon.BasisPoints)
	scaled := new(big.Int).Mul(principal, new(big.Int).SetUint64(elapsed))
	minAmt := nativecommon.MulDiv(scaled, new(big.Int).SetUint64(params.APRBottom), denominator)
	maxAmt := nativecommon.MulDiv(scaled, new(big.Int).SetUint64(params.APRCap), denominator)
	return minAmt, maxAmt, nil
}

func (m *Manager) elapsed(params *Params) uint64 {
	now := m.now()
	if now <= params.LastRebaseTS {
		return 0
	}
	return now - params.LastRebaseTS
}

// FetchRebaseAmt returns the amount the vault should rebase now, or zero when
// the gap has not elapsed or the available funds fall below the APR floor.
// A non-zero result advances the rebase timer and pulls the dripper's
// collectable funds into the vault.
func (m *Manager) FetchRebaseAmt(caller crypto.Address) (*big.Int, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	var result *big.Int
	err := m.state.Atomic(func() error {
		params, err := m.load()
		if err != nil {
			return err
		}
		if caller.IsZero() || caller != params.Vault {
			return ErrCallerNotVault
		}
		result = big.NewInt(0)
		if m.elapsed(params) < params.Gap {
			return nil
		}
		available, err := m.availableRebaseAmt(params)
		if err != nil {
			return err
		}
		minAmt, maxAmt, err := m.minAndMax(params)
		if err != nil {
			return err
		}
		amount := nativecommon.Min(available, maxAmt)
		if amount.Sign() == 0 || amount.Cmp(minAmt) < 0 {
			return nil
		}
		params.LastRebaseTS = m.now()
		if err := m.store(params); err != nil {
			return err
		}
		if _, err := m.dripper.Collect(m.address); err != nil {
			return fmt.Errorf("rebase manager: collect: %w", err)
		}
		result = amount
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateGap changes the minimum time between rebases.
func (m *Manager) UpdateGap(caller crypto.Address, gap uint64) error {
	return m.update(caller, func(p *Params) error {
		p.Gap = gap
		return nil
	})
}

// UpdateAPR changes the APR band.
func (m *Manager) UpdateAPR(caller crypto.Address, aprBottom, aprCap uint64) error {
	return m.update(caller, func(p *Params) error {
		if aprBottom > aprCap {
			return ErrInvalidAPRConfig
		}
		p.APRBottom = aprBottom
		p.APRCap = aprCap
		return nil
	})
}

// UpdateVault changes the only caller allowed to fetch rebase amounts.
func (m *Manager) UpdateVault(caller, vault crypto.Address) error {
	return m.update(caller, func(p *Params) error {
		if err := nativecommon.RequireAddress(vault, "vault"); err != nil {
			return err
		}
		p.Vault = vault
		return nil
	})
}

// UpdateDripper changes the dripper account recorded in the params. The
// implementation itself is wired with SetDripper.
func (m *Manager) UpdateDripper(caller, dripper crypto.Address) error {
	return m.update(caller, func(p *Params) error {
		if err := nativecommon.RequireAddress(dripper, "dripper"); err != nil {
			return err
		}
		p.Dripper = dripper
		return nil
	})
}

func (m *Manager) update(caller crypto.Address, mutate func(*Params) error) error {
	if err := m.ready(); err != nil {
		return err
	}
	if err := nativecommon.RequireRole(m.state, nativecommon.RoleOwner, caller); err != nil {
		return err
	}
	return m.state.Atomic(func() error {
		params, err := m.load()
		if err != nil {
			return err
		}
		if err := mutate(params); err != nil {
			return err
		}
		if err := m.store(params); err != nil {
			return err
		}
		m.state.AppendEvent(events.RebaseParamsUpdated{Gap: params.Gap, APRCap: params.APRCap, APRBottom: params.APRBottom})
		return nil
	})
}
