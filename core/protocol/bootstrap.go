package protocol

import (
	"fmt"
	"math/big"

	"usdsvault/config"
	"usdsvault/crypto"
	"usdsvault/native/collateral"
	nativecommon "usdsvault/native/common"
	"usdsvault/native/strategy"
	"usdsvault/native/usds"
	"usdsvault/native/vault"
)

var bootstrapKey = []byte("protocol/bootstrapped")

// rewardDecimals is the precision of venue incentive tokens.
const rewardDecimals = 18

// Bootstrapped reports whether genesis state has been written.
func (p *Protocol) Bootstrapped() (bool, error) {
	var done bool
	ok, err := p.State.KVGet(bootstrapKey, &done)
	if err != nil {
		return false, err
	}
	return ok && done, nil
}

// Bootstrap writes genesis state: tokens, roles, module rebase opt-outs,
// venues, strategies, collaterals, reserve permissions and the dripper,
// rebase and vault parameters. It runs once per database.
func (p *Protocol) Bootstrap() error {
	return p.State.Atomic(func() error {
		done, err := p.Bootstrapped()
		if err != nil {
			return err
		}
		if done {
			return ErrAlreadyBootstrapped
		}
		owner := p.accounts.Owner
		if err := p.State.SetRole(nativecommon.RoleOwner, owner, true); err != nil {
			return err
		}
		if err := p.State.SetRole(nativecommon.RoleAllocator, p.accounts.Allocator, true); err != nil {
			return err
		}
		if err := p.registerTokens(); err != nil {
			return err
		}
		if err := p.USDs.Initialize(VaultAddress); err != nil {
			return err
		}
		if err := p.optOutModules(); err != nil {
			return err
		}
		for _, name := range p.StrategyNames() {
			if err := p.bootstrapStrategy(p.strategies[name]); err != nil {
				return fmt.Errorf("protocol: strategy %s: %w", name, err)
			}
		}
		for _, coll := range p.cfg.Collaterals {
			if err := p.bootstrapCollateral(coll); err != nil {
				return fmt.Errorf("protocol: collateral %s: %w", coll.Symbol, err)
			}
		}
		if err := p.bootstrapReserve(); err != nil {
			return fmt.Errorf("protocol: yield reserve: %w", err)
		}
		if err := p.Dripper.Initialize(VaultAddress, p.cfg.Dripper.DripDuration.Seconds()); err != nil {
			return err
		}
		rc := p.cfg.Rebase
		if err := p.Rebase.Initialize(VaultAddress, DripperAddress, rc.Gap.Seconds(), rc.APRCap, rc.APRBottom); err != nil {
			return err
		}
		if err := p.Vault.Initialize(vault.Config{
			FeeVault:           p.accounts.FeeVault,
			YieldReceiver:      p.accounts.YieldReceiver,
			RebaseOnMintRedeem: p.cfg.RebaseOnMintRedeem,
		}); err != nil {
			return err
		}
		return p.State.KVPut(bootstrapKey, true)
	})
}

func (p *Protocol) registerTokens() error {
	for _, coll := range p.cfg.Collaterals {
		if err := p.State.RegisterToken(coll.Symbol, coll.Name, coll.Decimals); err != nil {
			return err
		}
	}
	for _, name := range p.StrategyNames() {
		reward := p.strategies[name].cfg.RewardToken
		if reward == "" || p.State.TokenExists(reward) {
			continue
		}
		if err := p.State.RegisterToken(reward, reward, rewardDecimals); err != nil {
			return err
		}
	}
	return nil
}

// optOutModules freezes the USDs balances of protocol accounts so rebases
// only reach holders.
func (p *Protocol) optOutModules() error {
	seen := make(map[crypto.Address]struct{})
	accounts := []crypto.Address{VaultAddress, DripperAddress, ReserveAddress, p.accounts.FeeVault}
	for _, name := range p.StrategyNames() {
		accounts = append(accounts, p.strategies[name].impl.Address())
	}
	for _, addr := range accounts {
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		if err := p.USDs.RebaseOptOut(p.accounts.Owner, addr); err != nil {
			return fmt.Errorf("protocol: opt out %s: %w", addr, err)
		}
	}
	return nil
}

func (p *Protocol) bootstrapStrategy(entry *strategyEntry) error {
	sc := entry.cfg
	if err := entry.base.Initialize(strategy.Params{
		Vault:                VaultAddress,
		YieldReceiver:        p.accounts.YieldReceiver,
		HarvestIncentiveRate: sc.HarvestIncentiveRate,
		DepositSlippage:      sc.DepositSlippage,
		WithdrawSlippage:     sc.WithdrawSlippage,
	}); err != nil {
		return err
	}
	for _, asset := range sc.Assets {
		switch {
		case entry.lending != nil:
			if err := entry.lending.ListMarket(asset.Symbol); err != nil {
				return err
			}
		case entry.pool != nil:
			if err := entry.pool.ListPool(asset.Symbol, sc.DepositFee, sc.ExitFee); err != nil {
				return err
			}
		}
		threshold := big.NewInt(0)
		if asset.IntLiqThreshold != "" {
			if _, ok := threshold.SetString(asset.IntLiqThreshold, 10); !ok {
				return fmt.Errorf("invalid interest threshold %q", asset.IntLiqThreshold)
			}
		}
		if err := entry.base.SupportAsset(p.accounts.Owner, asset.Symbol, threshold); err != nil {
			return err
		}
	}
	return nil
}

func (p *Protocol) bootstrapCollateral(coll config.Collateral) error {
	owner := p.accounts.Owner
	if err := p.Collateral.AddCollateral(owner, coll.Symbol, collateral.BaseData{
		MintAllowed:                  coll.MintAllowed,
		RedeemAllowed:                coll.RedeemAllowed,
		AllocationAllowed:            coll.AllocationAllowed,
		BaseMintFee:                  coll.BaseMintFee,
		BaseRedeemFee:                coll.BaseRedeemFee,
		DownsidePeg:                  coll.DownsidePeg,
		DesiredCollateralComposition: coll.DesiredComposition,
	}); err != nil {
		return err
	}
	for _, name := range p.StrategyNames() {
		entry := p.strategies[name]
		for _, asset := range entry.cfg.Assets {
			if asset.Symbol != coll.Symbol {
				continue
			}
			if err := p.Collateral.AddCollateralStrategy(owner, coll.Symbol, entry.impl.Address(), asset.AllocationCap); err != nil {
				return err
			}
		}
	}
	if coll.DefaultStrategy == "" {
		return nil
	}
	entry, ok := p.strategies[coll.DefaultStrategy]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, coll.DefaultStrategy)
	}
	return p.Collateral.UpdateCollateralDefaultStrategy(owner, coll.Symbol, entry.impl.Address())
}

// bootstrapReserve lets the reserve buy USDs with every collateral it holds.
func (p *Protocol) bootstrapReserve() error {
	owner := p.accounts.Owner
	if err := p.Reserve.ToggleSrcTokenPermission(owner, usds.Symbol, true); err != nil {
		return err
	}
	for _, coll := range p.cfg.Collaterals {
		if err := p.Reserve.ToggleDstTokenPermission(owner, coll.Symbol, true); err != nil {
			return err
		}
	}
	return nil
}
