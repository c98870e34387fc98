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

// Allocate deposits amount of idle collateral into strat. Only allocators may
// call it and the collateral manager must accept the allocation.
func (v *Vault) Allocate(ctx context.Context, caller crypto.Address, collateral string, strat crypto.Address, amount *big.Int) (err error) {
	asset := normalizeAsset(collateral)
	start := v.clock()
	ctx, span := v.tracer.Start(ctx, "vault.allocate", trace.WithAttributes(
		attribute.String("collateral", asset),
		attribute.String("strategy", strat.String()),
	))
	defer span.End()
	defer func() { v.finish(ctx, span, "allocate", asset, start, err) }()

	release, err := v.enter()
	if err != nil {
		return err
	}
	defer release()
	if err := nativecommon.RequireRole(v.state, nativecommon.RoleAllocator, caller); err != nil {
		return err
	}
	if err := nativecommon.RequirePositive(amount); err != nil {
		return err
	}
	if !v.collateral.ValidateAllocation(asset, strat, amount) {
		return fmt.Errorf("%w: %s of %s to %s", ErrAllocationNotAllowed, amount, asset, strat)
	}
	impl, ok := v.strategies.Lookup(strat)
	if !ok {
		return fmt.Errorf("%w: %s not registered", ErrAllocationNotAllowed, strat)
	}
	err = v.state.Atomic(func() error {
		if err := impl.Deposit(v.address, asset, amount); err != nil {
			return err
		}
		v.state.AppendEvent(events.VaultAllocated{
			Collateral: asset,
			Strategy:   strat,
			Amount:     new(big.Int).Set(amount),
		})
		return nil
	})
	if err != nil {
		return err
	}
	v.logger.InfoContext(ctx, "collateral allocated",
		slog.String("collateral", asset),
		slog.String("strategy", strat.String()),
		slog.String("amount", amount.String()))
	return nil
}

// Rebase distributes whatever the rebase manager releases to rebasing
// holders. It is a no-op when nothing is due.
func (v *Vault) Rebase(ctx context.Context) (amount *big.Int, err error) {
	start := v.clock()
	ctx, span := v.tracer.Start(ctx, "vault.rebase")
	defer span.End()
	defer func() { v.finish(ctx, span, "rebase", "USDS", start, err) }()

	release, err := v.enter()
	if err != nil {
		return nil, err
	}
	defer release()
	err = v.state.Atomic(func() error {
		rebased, err := v.rebase(ctx)
		amount = rebased
		return err
	})
	if err != nil {
		return nil, err
	}
	return amount, nil
}

func (v *Vault) rebase(ctx context.Context) (*big.Int, error) {
	amount, err := v.rebaser.FetchRebaseAmt(v.address)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if err := v.token.Rebase(v.address, amount); err != nil {
		return nil, err
	}
	v.state.AppendEvent(events.VaultRebased{Amount: new(big.Int).Set(amount)})
	supply, err := v.token.TotalSupply()
	if err != nil {
		return nil, err
	}
	v.yield.RecordRebase(v.clock(), amount, supply)
	v.logger.InfoContext(ctx, "usds rebased",
		slog.String("amount", amount.String()),
		slog.String("totalSupply", supply.String()))
	return amount, nil
}
