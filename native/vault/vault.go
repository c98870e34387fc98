package vault

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"usdsvault/core/events"
	"usdsvault/crypto"
	"usdsvault/native/collateral"
	nativecommon "usdsvault/native/common"
	"usdsvault/native/oracle"
	"usdsvault/native/strategy"
	"usdsvault/observability"
)

var (
	ErrDeadlinePassed         = errors.New("vault: deadline passed")
	ErrMintNotAllowed         = errors.New("vault: mint not allowed")
	ErrMintFailed             = errors.New("vault: mint failed")
	ErrSlippage               = errors.New("vault: slippage")
	ErrRedeemNotAllowed       = errors.New("vault: redeem not allowed")
	ErrRedeemFailed           = errors.New("vault: redeem failed")
	ErrInvalidStrategy        = errors.New("vault: invalid strategy")
	ErrInsufficientCollateral = errors.New("vault: insufficient collateral")
	ErrAllocationNotAllowed   = errors.New("vault: allocation not allowed")
	errNilState               = errors.New("vault: state not configured")
	errNilDeps                = errors.New("vault: collaborators not configured")
)

const moduleName = "vault"

var configKey = []byte("vault/config")

// Config is the persisted vault configuration.
type Config struct {
	FeeVault           crypto.Address
	YieldReceiver      crypto.Address
	RebaseOnMintRedeem bool
}

type vaultState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	AppendEvent(events.Event)
	HasRole(role string, addr crypto.Address) bool
	Atomic(fn func() error) error
	Balance(symbol string, addr crypto.Address) (*big.Int, error)
	Transfer(symbol string, from, to crypto.Address, amount *big.Int) error
}

// CollateralManager is the policy registry consulted on every operation.
type CollateralManager interface {
	GetMintParams(token string) (collateral.MintParams, error)
	GetRedeemParams(token string) (collateral.RedeemParams, error)
	ValidateAllocation(token string, strat crypto.Address, amount *big.Int) bool
	IsValidStrategy(token string, strat crypto.Address) bool
}

// FeeCalculator supplies mint and redeem fees with their precision.
type FeeCalculator interface {
	GetFeeIn(token string) (uint64, uint64, error)
	GetFeeOut(token string) (uint64, uint64, error)
}

// StableToken is the subset of the USDs ledger the vault drives.
type StableToken interface {
	Mint(caller, account crypto.Address, amount *big.Int) error
	Burn(caller crypto.Address, amount *big.Int) error
	Rebase(caller crypto.Address, amount *big.Int) error
	Transfer(caller, recipient crypto.Address, amount *big.Int) error
	TotalSupply() (*big.Int, error)
}

// RebaseManager decides how much yield may be distributed now.
type RebaseManager interface {
	FetchRebaseAmt(caller crypto.Address) (*big.Int, error)
}

// StrategyLookup resolves strategy addresses.
type StrategyLookup interface {
	Lookup(addr crypto.Address) (strategy.Strategy, bool)
}

// Vault custodies collateral and runs the mint, redeem, allocate and rebase
// state machine. Every entry point is atomic against the shared state.
type Vault struct {
	address    crypto.Address
	state      vaultState
	collateral CollateralManager
	oracle     oracle.PriceOracle
	fees       FeeCalculator
	token      StableToken
	rebaser    RebaseManager
	strategies StrategyLookup
	pauses     nativecommon.PauseView
	guard      nativecommon.ReentrancyGuard
	clock      func() time.Time
	logger     *slog.Logger
	metrics    *observability.VaultMetricsRegistry
	yield      *observability.YieldMetricsRegistry
	tracer     trace.Tracer
}

// New constructs a vault holding collateral at address.
func New(address crypto.Address) *Vault {
	return &Vault{
		address: address,
		clock:   time.Now,
		logger:  slog.Default(),
		metrics: observability.VaultMetrics(),
		yield:   observability.YieldMetrics(),
		tracer:  otel.Tracer("usdsvault/vault"),
	}
}

// SetState wires the vault to the persistence layer.
func (v *Vault) SetState(state vaultState) {
	if v == nil {
		return
	}
	v.state = state
}

// SetCollateralManager configures the collateral registry.
func (v *Vault) SetCollateralManager(manager CollateralManager) {
	if v == nil {
		return
	}
	v.collateral = manager
}

// SetOracle configures the price source.
func (v *Vault) SetOracle(source oracle.PriceOracle) {
	if v == nil {
		return
	}
	v.oracle = source
}

// SetFeeCalculator configures the fee source.
func (v *Vault) SetFeeCalculator(fees FeeCalculator) {
	if v == nil {
		return
	}
	v.fees = fees
}

// SetToken configures the USDs ledger.
func (v *Vault) SetToken(token StableToken) {
	if v == nil {
		return
	}
	v.token = token
}

// SetRebaseManager configures the rebase gate.
func (v *Vault) SetRebaseManager(manager RebaseManager) {
	if v == nil {
		return
	}
	v.rebaser = manager
}

// SetStrategies configures the strategy registry.
func (v *Vault) SetStrategies(lookup StrategyLookup) {
	if v == nil {
		return
	}
	v.strategies = lookup
}

// SetPauses configures the pause switch consulted by every entry point.
func (v *Vault) SetPauses(p nativecommon.PauseView) {
	if v == nil {
		return
	}
	v.pauses = p
}

// SetClock overrides the time source used for deadlines.
func (v *Vault) SetClock(clock func() time.Time) {
	if v == nil || clock == nil {
		return
	}
	v.clock = clock
}

// SetLogger overrides the structured logger.
func (v *Vault) SetLogger(logger *slog.Logger) {
	if v == nil || logger == nil {
		return
	}
	v.logger = logger
}

// Address returns the account holding vault collateral.
func (v *Vault) Address() crypto.Address { return v.address }

func (v *Vault) ready() error {
	if v == nil || v.state == nil {
		return errNilState
	}
	if v.collateral == nil || v.oracle == nil || v.fees == nil || v.token == nil || v.rebaser == nil || v.strategies == nil {
		return errNilDeps
	}
	return nil
}

func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

// Initialize stores the initial configuration.
func (v *Vault) Initialize(cfg Config) error {
	if v == nil || v.state == nil {
		return errNilState
	}
	if err := nativecommon.RequireAddress(cfg.FeeVault, "fee vault"); err != nil {
		return err
	}
	if err := nativecommon.RequireAddress(cfg.YieldReceiver, "yield receiver"); err != nil {
		return err
	}
	return v.state.Atomic(func() error {
		return v.state.KVPut(configKey, &cfg)
	})
}

// Config returns the stored configuration.
func (v *Vault) Config() (*Config, error) {
	if v == nil || v.state == nil {
		return nil, errNilState
	}
	return v.loadConfig()
}

func (v *Vault) loadConfig() (*Config, error) {
	cfg := new(Config)
	if _, err := v.state.KVGet(configKey, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// UpdateFeeVault changes the account receiving mint and redeem fees.
func (v *Vault) UpdateFeeVault(caller, feeVault crypto.Address) error {
	if err := nativecommon.RequireAddress(feeVault, "fee vault"); err != nil {
		return err
	}
	return v.updateConfig(caller, "feeVault", feeVault.String(), func(cfg *Config) {
		cfg.FeeVault = feeVault
	})
}

// UpdateYieldReceiver changes the account receiving strategy yield.
func (v *Vault) UpdateYieldReceiver(caller, receiver crypto.Address) error {
	if err := nativecommon.RequireAddress(receiver, "yield receiver"); err != nil {
		return err
	}
	return v.updateConfig(caller, "yieldReceiver", receiver.String(), func(cfg *Config) {
		cfg.YieldReceiver = receiver
	})
}

// ToggleAutoRebase enables or disables the rebase pass after mint and redeem.
func (v *Vault) ToggleAutoRebase(caller crypto.Address, enabled bool) error {
	value := "false"
	if enabled {
		value = "true"
	}
	return v.updateConfig(caller, "rebaseOnMintRedeem", value, func(cfg *Config) {
		cfg.RebaseOnMintRedeem = enabled
	})
}

func (v *Vault) updateConfig(caller crypto.Address, field, value string, mutate func(*Config)) error {
	if v == nil || v.state == nil {
		return errNilState
	}
	if err := nativecommon.RequireRole(v.state, nativecommon.RoleOwner, caller); err != nil {
		return err
	}
	return v.state.Atomic(func() error {
		cfg, err := v.loadConfig()
		if err != nil {
			return err
		}
		mutate(cfg)
		if err := v.state.KVPut(configKey, cfg); err != nil {
			return err
		}
		v.state.AppendEvent(events.ConfigUpdated{Module: moduleName, Field: field, Value: value})
		return nil
	})
}

// enter runs the checks shared by every mutating entry point and returns the
// guard release.
func (v *Vault) enter() (func(), error) {
	if err := v.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(v.pauses, moduleName); err != nil {
		return nil, err
	}
	return v.guard.Enter()
}

func (v *Vault) checkDeadline(deadline uint64) error {
	if now := nativecommon.Unix(v.clock); now > deadline {
		return ErrDeadlinePassed
	}
	return nil
}

func (v *Vault) finish(ctx context.Context, span trace.Span, operation, asset string, start time.Time, err error) {
	v.metrics.Observe(operation, asset, v.clock().Sub(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		v.logger.WarnContext(ctx, "vault operation failed",
			slog.String("operation", operation),
			slog.String("collateral", asset),
			slog.Any("error", err))
		return
	}
	span.SetStatus(codes.Ok, operation)
}

func (v *Vault) collateralBalance(asset string) (*big.Int, error) {
	return v.state.Balance(asset, v.address)
}
