package vault

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"usdsvault/core/events"
	"usdsvault/crypto"
	nativecommon "usdsvault/native/common"
	"usdsvault/native/strategy"
)

// RedeemQuote describes how a redemption is settled. VaultAmt is paid from the
// vault balance and StrategyAmt is withdrawn from Strategy first.
type RedeemQuote struct {
	CollateralAmt *big.Int
	BurnAmt       *big.Int
	FeeAmt        *big.Int
	VaultAmt      *big.Int
	StrategyAmt   *big.Int
	Strategy      crypto.Address
}

// RedeemView quotes the redemption of usdsAmt into collateral, falling back to
// the default strategy when the vault balance is short.
func (v *Vault) RedeemView(collateral string, usdsAmt *big.Int) (*RedeemQuote, error) {
	return v.RedeemViewWithStrategy(collateral, usdsAmt, crypto.Address{})
}

// RedeemViewWithStrategy quotes a redemption that covers any vault shortfall
// from strat. The zero address selects the default strategy.
func (v *Vault) RedeemViewWithStrategy(collateral string, usdsAmt *big.Int, strat crypto.Address) (*RedeemQuote, error) {
	if err := v.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.RequirePositive(usdsAmt); err != nil {
		return nil, err
	}
	quote, _, err := v.redeemView(normalizeAsset(collateral), usdsAmt, strat)
	return quote, err
}

func (v *Vault) redeemView(asset string, usdsAmt *big.Int, strat crypto.Address) (*RedeemQuote, strategy.Strategy, error) {
	params, err := v.collateral.GetRedeemParams(asset)
	if err != nil {
		return nil, nil, err
	}
	if !params.RedeemAllowed {
		return nil, nil, fmt.Errorf("%w: %s", ErrRedeemNotAllowed, asset)
	}
	price, err := v.oracle.GetPrice(asset)
	if err != nil {
		return nil, nil, fmt.Errorf("vault: price %s: %w", asset, err)
	}
	if !price.Valid() {
		return nil, nil, fmt.Errorf("vault: price %s: invalid quote", asset)
	}
	feePerc, feePrecision, err := v.fees.GetFeeOut(asset)
	if err != nil {
		return nil, nil, fmt.Errorf("vault: redeem fee %s: %w", asset, err)
	}
	quote := &RedeemQuote{
		FeeAmt:      big.NewInt(0),
		StrategyAmt: big.NewInt(0),
	}
	if feePerc > 0 && feePrecision > 0 {
		quote.FeeAmt = nativecommon.MulDiv(usdsAmt, new(big.Int).SetUint64(feePerc), new(big.Int).SetUint64(feePrecision))
	}
	if quote.FeeAmt.Cmp(usdsAmt) > 0 {
		quote.FeeAmt = new(big.Int).Set(usdsAmt)
	}
	quote.BurnAmt = new(big.Int).Sub(usdsAmt, quote.FeeAmt)

	// Below peg the payout is floored at 1:1 so depegged collateral is never
	// paid out in excess of the USDs burned.
	collateralAmt := new(big.Int).Set(quote.BurnAmt)
	if price.Price.Cmp(price.Precision) >= 0 {
		collateralAmt = nativecommon.MulDiv(quote.BurnAmt, price.Precision, price.Price)
	}
	quote.CollateralAmt = collateralAmt.Quo(collateralAmt, params.ConversionFactor)

	inVault, err := v.collateralBalance(asset)
	if err != nil {
		return nil, nil, err
	}
	if quote.CollateralAmt.Cmp(inVault) <= 0 {
		quote.VaultAmt = new(big.Int).Set(quote.CollateralAmt)
		return quote, nil, nil
	}
	quote.VaultAmt = inVault
	quote.StrategyAmt = new(big.Int).Sub(quote.CollateralAmt, inVault)
	if strat.IsZero() {
		strat = params.DefaultStrategy
		if strat.IsZero() {
			return nil, nil, fmt.Errorf("%w: no default strategy for %s", ErrInsufficientCollateral, asset)
		}
	} else if !v.collateral.IsValidStrategy(asset, strat) {
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidStrategy, strat)
	}
	impl, ok := v.strategies.Lookup(strat)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s not registered", ErrInvalidStrategy, strat)
	}
	available, err := impl.CheckAvailableBalance(asset)
	if err != nil {
		return nil, nil, err
	}
	if available.Cmp(quote.StrategyAmt) < 0 {
		return nil, nil, fmt.Errorf("%w: %s can supply %s of %s", ErrInsufficientCollateral, strat, available, quote.StrategyAmt)
	}
	quote.Strategy = strat
	return quote, impl, nil
}

// Redeem burns usdsAmt from caller and pays out collateral. A shortfall in the
// vault balance is withdrawn from strat, or the default strategy when strat is
// zero. The payout is clamped to what the vault holds after that withdrawal.
func (v *Vault) Redeem(ctx context.Context, caller crypto.Address, collateral string, usdsAmt, minCollateralAmt *big.Int, deadline uint64, strat crypto.Address) (result *RedeemQuote, err error) {
	asset := normalizeAsset(collateral)
	start := v.clock()
	ctx, span := v.tracer.Start(ctx, "vault.redeem", trace.WithAttributes(
		attribute.String("collateral", asset),
		attribute.String("caller", caller.String()),
	))
	defer span.End()
	defer func() { v.finish(ctx, span, "redeem", asset, start, err) }()

	release, err := v.enter()
	if err != nil {
		return nil, err
	}
	defer release()
	if err := nativecommon.RequireAddress(caller, "redeemer"); err != nil {
		return nil, err
	}
	if err := nativecommon.RequirePositive(usdsAmt); err != nil {
		return nil, err
	}
	if err := v.checkDeadline(deadline); err != nil {
		return nil, err
	}
	err = v.state.Atomic(func() error {
		quote, impl, err := v.redeemView(asset, usdsAmt, strat)
		if err != nil {
			return err
		}
		if quote.CollateralAmt.Sign() == 0 {
			return fmt.Errorf("%w: %s USDs is worth no %s", ErrRedeemFailed, usdsAmt, asset)
		}
		cfg, err := v.loadConfig()
		if err != nil {
			return err
		}
		if err := v.token.Transfer(caller, v.address, usdsAmt); err != nil {
			return err
		}
		if quote.StrategyAmt.Sign() > 0 {
			received, err := impl.Withdraw(v.address, v.address, asset, quote.StrategyAmt)
			if err != nil {
				return fmt.Errorf("vault: withdraw from %s: %w", quote.Strategy, err)
			}
			span.SetAttributes(
				attribute.String("strategy", quote.Strategy.String()),
				attribute.String("strategy.received", received.String()),
			)
		}
		held, err := v.collateralBalance(asset)
		if err != nil {
			return err
		}
		payout := nativecommon.Min(quote.CollateralAmt, held)
		if payout.Sign() == 0 {
			return fmt.Errorf("%w: vault holds no %s", ErrRedeemFailed, asset)
		}
		if minCollateralAmt != nil && payout.Cmp(minCollateralAmt) < 0 {
			return fmt.Errorf("%w: payout %s below minimum %s", ErrSlippage, payout, minCollateralAmt)
		}
		if quote.BurnAmt.Sign() > 0 {
			if err := v.token.Burn(v.address, quote.BurnAmt); err != nil {
				return err
			}
		}
		if quote.FeeAmt.Sign() > 0 {
			if err := v.token.Transfer(v.address, cfg.FeeVault, quote.FeeAmt); err != nil {
				return err
			}
		}
		if err := v.state.Transfer(asset, v.address, caller, payout); err != nil {
			return fmt.Errorf("vault: pay collateral: %w", err)
		}
		quote.CollateralAmt = payout
		v.state.AppendEvent(events.VaultRedeemed{
			Redeemer:      caller,
			Collateral:    asset,
			BurnAmount:    new(big.Int).Set(quote.BurnAmt),
			CollateralAmt: new(big.Int).Set(payout),
			FeeAmount:     new(big.Int).Set(quote.FeeAmt),
		})
		if cfg.RebaseOnMintRedeem {
			if _, err := v.rebase(ctx); err != nil {
				return err
			}
		}
		result = quote
		return nil
	})
	if err != nil {
		return nil, err
	}
	v.metrics.RecordVolume("redeem", asset, usdsAmt)
	v.logger.InfoContext(ctx, "usds redeemed",
		slog.String("redeemer", caller.String()),
		slog.String("collateral", asset),
		slog.String("usdsAmount", usdsAmt.String()),
		slog.String("collateralAmount", result.CollateralAmt.String()),
		slog.String("feeAmount", result.FeeAmt.String()))
	return result, nil
}
