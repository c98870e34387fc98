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
)

// MintView values collateralAmt of collateral in USDs and splits off the mint
// fee. It returns zero for both amounts when minting is disabled or the oracle
// price sits below the downside peg; callers must treat that as "mint
// unavailable".
func (v *Vault) MintView(collateral string, collateralAmt *big.Int) (*big.Int, *big.Int, error) {
	if err := v.ready(); err != nil {
		return nil, nil, err
	}
	return v.mintView(normalizeAsset(collateral), collateralAmt)
}

func (v *Vault) mintView(asset string, collateralAmt *big.Int) (*big.Int, *big.Int, error) {
	zero := func() (*big.Int, *big.Int, error) { return big.NewInt(0), big.NewInt(0), nil }
	if collateralAmt == nil || collateralAmt.Sign() <= 0 {
		return zero()
	}
	params, err := v.collateral.GetMintParams(asset)
	if err != nil {
		return nil, nil, err
	}
	if !params.MintAllowed {
		return zero()
	}
	price, err := v.oracle.GetPrice(asset)
	if err != nil {
		return nil, nil, fmt.Errorf("vault: price %s: %w", asset, err)
	}
	if !price.Valid() {
		return zero()
	}
	downsidePeg := nativecommon.ApplyBps(price.Precision, params.DownsidePeg)
	if price.Price.Cmp(downsidePeg) < 0 {
		return zero()
	}
	usdsAmt := new(big.Int).Mul(collateralAmt, params.ConversionFactor)
	if price.Price.Cmp(price.Precision) < 0 {
		usdsAmt = nativecommon.MulDiv(usdsAmt, price.Price, price.Precision)
	}
	feePerc, feePrecision, err := v.fees.GetFeeIn(asset)
	if err != nil {
		return nil, nil, fmt.Errorf("vault: mint fee %s: %w", asset, err)
	}
	feeAmt := big.NewInt(0)
	if feePerc > 0 && feePrecision > 0 {
		feeAmt = nativecommon.MulDiv(usdsAmt, new(big.Int).SetUint64(feePerc), new(big.Int).SetUint64(feePrecision))
	}
	if feeAmt.Cmp(usdsAmt) > 0 {
		feeAmt = new(big.Int).Set(usdsAmt)
	}
	return new(big.Int).Sub(usdsAmt, feeAmt), feeAmt, nil
}

// Mint swaps collateralAmt of collateral from caller for USDs. The fee is
// minted to the fee vault.
func (v *Vault) Mint(ctx context.Context, caller crypto.Address, collateral string, collateralAmt, minUSDsAmt *big.Int, deadline uint64) (toMinterAmt, feeAmt *big.Int, err error) {
	asset := normalizeAsset(collateral)
	start := v.clock()
	ctx, span := v.tracer.Start(ctx, "vault.mint", trace.WithAttributes(
		attribute.String("collateral", asset),
		attribute.String("caller", caller.String()),
	))
	defer span.End()
	defer func() { v.finish(ctx, span, "mint", asset, start, err) }()

	release, err := v.enter()
	if err != nil {
		return nil, nil, err
	}
	defer release()
	if err := nativecommon.RequireAddress(caller, "minter"); err != nil {
		return nil, nil, err
	}
	if err := nativecommon.RequirePositive(collateralAmt); err != nil {
		return nil, nil, err
	}
	if err := v.checkDeadline(deadline); err != nil {
		return nil, nil, err
	}
	err = v.state.Atomic(func() error {
		params, err := v.collateral.GetMintParams(asset)
		if err != nil {
			return err
		}
		if !params.MintAllowed {
			return fmt.Errorf("%w: %s", ErrMintNotAllowed, asset)
		}
		toMinter, fee, err := v.mintView(asset, collateralAmt)
		if err != nil {
			return err
		}
		if toMinter.Sign() == 0 {
			return fmt.Errorf("%w: %s valued at zero", ErrMintFailed, asset)
		}
		if minUSDsAmt != nil && toMinter.Cmp(minUSDsAmt) < 0 {
			return fmt.Errorf("%w: minted %s below minimum %s", ErrSlippage, toMinter, minUSDsAmt)
		}
		cfg, err := v.loadConfig()
		if err != nil {
			return err
		}
		if err := v.state.Transfer(asset, caller, v.address, collateralAmt); err != nil {
			return fmt.Errorf("vault: pull collateral: %w", err)
		}
		if err := v.token.Mint(v.address, caller, toMinter); err != nil {
			return err
		}
		if fee.Sign() > 0 {
			if err := v.token.Mint(v.address, cfg.FeeVault, fee); err != nil {
				return err
			}
		}
		v.state.AppendEvent(events.VaultMinted{
			Minter:        caller,
			Collateral:    asset,
			USDsAmount:    new(big.Int).Set(toMinter),
			CollateralAmt: new(big.Int).Set(collateralAmt),
			FeeAmount:     new(big.Int).Set(fee),
		})
		if cfg.RebaseOnMintRedeem {
			if _, err := v.rebase(ctx); err != nil {
				return err
			}
		}
		toMinterAmt, feeAmt = toMinter, fee
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	v.metrics.RecordVolume("mint", asset, new(big.Int).Add(toMinterAmt, feeAmt))
	v.logger.InfoContext(ctx, "usds minted",
		slog.String("minter", caller.String()),
		slog.String("collateral", asset),
		slog.String("collateralAmount", collateralAmt.String()),
		slog.String("usdsAmount", toMinterAmt.String()),
		slog.String("feeAmount", feeAmt.String()))
	return toMinterAmt, feeAmt, nil
}
