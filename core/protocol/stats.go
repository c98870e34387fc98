package protocol

import (
	"math/big"
)

// CollateralStats is the custody and pricing snapshot of one collateral.
type CollateralStats struct {
	Symbol       string              `json:"symbol"`
	Price        string              `json:"price"`
	InVault      *big.Int            `json:"inVault"`
	InStrategies *big.Int            `json:"inStrategies"`
	Total        *big.Int            `json:"total"`
	PerStrategy  map[string]*big.Int `json:"perStrategy"`
	Default      string              `json:"defaultStrategy,omitempty"`
	MintFee      uint64              `json:"mintFeeBps"`
	RedeemFee    uint64              `json:"redeemFeeBps"`
}

// Stats summarises protocol solvency and the yield pipeline.
type Stats struct {
	TotalSupply             *big.Int          `json:"totalSupply"`
	NonRebasingSupply       *big.Int          `json:"nonRebasingSupply"`
	RebasingCreditsPerToken *big.Int          `json:"rebasingCreditsPerToken"`
	DripperBalance          *big.Int          `json:"dripperBalance"`
	DripperCollectable      *big.Int          `json:"dripperCollectable"`
	RebaseAvailable         *big.Int          `json:"rebaseAvailable"`
	RebaseMin               *big.Int          `json:"rebaseMin"`
	RebaseMax               *big.Int          `json:"rebaseMax"`
	Collaterals             []CollateralStats `json:"collaterals"`
}

// Stats reads the current protocol snapshot.
func (p *Protocol) Stats() (*Stats, error) {
	done, err := p.Bootstrapped()
	if err != nil {
		return nil, err
	}
	if !done {
		return nil, ErrNotBootstrapped
	}
	out := &Stats{}
	if out.TotalSupply, err = p.USDs.TotalSupply(); err != nil {
		return nil, err
	}
	if out.NonRebasingSupply, err = p.USDs.NonRebasingSupply(); err != nil {
		return nil, err
	}
	if out.RebasingCreditsPerToken, err = p.USDs.RebasingCreditsPerToken(); err != nil {
		return nil, err
	}
	if out.DripperBalance, err = p.USDs.BalanceOf(DripperAddress); err != nil {
		return nil, err
	}
	if out.DripperCollectable, err = p.Dripper.GetCollectableAmt(); err != nil {
		return nil, err
	}
	if out.RebaseAvailable, err = p.Rebase.GetAvailableRebaseAmt(); err != nil {
		return nil, err
	}
	if out.RebaseMin, out.RebaseMax, err = p.Rebase.GetMinAndMaxRebaseAmt(); err != nil {
		return nil, err
	}

	holdings, err := p.Collateral.Holdings()
	if err != nil {
		return nil, err
	}
	for _, h := range holdings {
		cs := CollateralStats{
			Symbol:       h.Collateral,
			InVault:      h.InVault,
			InStrategies: h.InStrategies,
			Total:        h.Total,
			PerStrategy:  make(map[string]*big.Int, len(h.PerStrategy)),
		}
		for addr, amount := range h.PerStrategy {
			cs.PerStrategy[p.strategyName(addr)] = amount
		}
		if !h.DefaultTarget.IsZero() {
			cs.Default = p.strategyName(h.DefaultTarget)
		}
		if price, err := p.Oracle.GetPrice(h.Collateral); err == nil {
			cs.Price = price.Rat().FloatString(4)
		}
		if cs.MintFee, _, err = p.Fees.GetFeeIn(h.Collateral); err != nil {
			return nil, err
		}
		if cs.RedeemFee, _, err = p.Fees.GetFeeOut(h.Collateral); err != nil {
			return nil, err
		}
		out.Collaterals = append(out.Collaterals, cs)
	}
	return out, nil
}
