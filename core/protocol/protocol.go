// Package protocol wires every native module of the USDs protocol onto one
// state manager.
package protocol

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"usdsvault/config"
	"usdsvault/core/state"
	"usdsvault/crypto"
	"usdsvault/native/collateral"
	"usdsvault/native/dripper"
	"usdsvault/native/fees"
	"usdsvault/native/oracle"
	"usdsvault/native/rebase"
	"usdsvault/native/strategy"
	"usdsvault/native/usds"
	"usdsvault/native/vault"
	"usdsvault/native/venues"
	"usdsvault/native/yieldreserve"
	"usdsvault/storage"
)

var (
	ErrAlreadyBootstrapped = errors.New("protocol: already bootstrapped")
	ErrNotBootstrapped     = errors.New("protocol: not bootstrapped")
	ErrUnknownStrategy     = errors.New("protocol: unknown strategy")
	ErrUnknownCollateral   = errors.New("protocol: unknown collateral")
)

// operatorSource is the aggregator source name of operator pushed prices.
const operatorSource = "operator"

var (
	VaultAddress   = crypto.ModuleAddress("vault")
	DripperAddress = crypto.ModuleAddress("dripper")
	RebaseAddress  = crypto.ModuleAddress("rebase-manager")
	ReserveAddress = crypto.ModuleAddress("yield-reserve")
)

// StrategyAddress is the account of the named strategy.
func StrategyAddress(name string) crypto.Address {
	return crypto.ModuleAddress("strategy/" + name)
}

// VenueAddress is the account of the venue backing the named strategy.
func VenueAddress(name string) crypto.Address {
	return crypto.ModuleAddress("venue/" + name)
}

// Option customises protocol construction.
type Option func(*Protocol)

// WithClock overrides the time source of every module.
func WithClock(clock func() time.Time) Option {
	return func(p *Protocol) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithLogger overrides the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Protocol) {
		if logger != nil {
			p.logger = logger
		}
	}
}

type strategyEntry struct {
	cfg     config.Strategy
	impl    strategy.Strategy
	base    *strategy.Base
	lending *venues.LendingPool
	pool    *venues.StablePool
}

// Protocol is a fully wired USDs deployment.
type Protocol struct {
	cfg      *config.Config
	accounts config.Accounts
	clock    func() time.Time
	logger   *slog.Logger

	State      *state.Manager
	Oracle     *oracle.MasterOracle
	Prices     *oracle.StaticSource
	Aggregator *oracle.Aggregator
	USDs       *usds.Ledger
	Collateral *collateral.Manager
	Fees       *fees.Calculator
	Dripper    *dripper.Dripper
	Rebase     *rebase.Manager
	Strategies *strategy.Registry
	Vault      *vault.Vault
	Reserve    *yieldreserve.Reserve

	strategies map[string]*strategyEntry
}

// New wires the modules described by cfg on top of db. Genesis state is
// written separately by Bootstrap.
func New(cfg *config.Config, db storage.Database, opts ...Option) (*Protocol, error) {
	if cfg == nil {
		return nil, fmt.Errorf("protocol: config required")
	}
	if db == nil {
		return nil, fmt.Errorf("protocol: database required")
	}
	accounts, err := cfg.Accounts()
	if err != nil {
		return nil, err
	}
	p := &Protocol{
		cfg:        cfg,
		accounts:   accounts,
		clock:      time.Now,
		logger:     slog.Default(),
		strategies: make(map[string]*strategyEntry),
	}
	for _, opt := range opts {
		opt(p)
	}

	st := state.NewManager(db)
	st.SetEmitter(newEventEmitter(p.logger))
	p.State = st

	if err := p.wireOracle(); err != nil {
		return nil, err
	}

	p.USDs = usds.NewLedger()
	p.USDs.SetState(st)

	p.Strategies = strategy.NewRegistry()
	for _, sc := range cfg.Strategies {
		if err := p.wireStrategy(sc); err != nil {
			return nil, err
		}
	}

	p.Collateral = collateral.New(VaultAddress)
	p.Collateral.SetState(st)
	p.Collateral.SetOracle(p.Oracle)
	p.Collateral.SetStrategies(p.Strategies)

	p.Fees = fees.NewCalculator()
	p.Fees.SetState(st)
	p.Fees.SetCollateral(p.Collateral)
	p.Fees.SetToken(p.USDs)
	p.Fees.SetClock(p.clock)

	p.Dripper = dripper.New(DripperAddress, usds.Symbol)
	p.Dripper.SetState(st)
	p.Dripper.SetToken(p.USDs)
	p.Dripper.SetClock(p.clock)

	p.Rebase = rebase.New(RebaseAddress)
	p.Rebase.SetState(st)
	p.Rebase.SetToken(p.USDs)
	p.Rebase.SetDripper(p.Dripper)
	p.Rebase.SetClock(p.clock)

	p.Vault = vault.New(VaultAddress)
	p.Vault.SetState(st)
	p.Vault.SetCollateralManager(p.Collateral)
	p.Vault.SetOracle(p.Oracle)
	p.Vault.SetFeeCalculator(p.Fees)
	p.Vault.SetToken(p.USDs)
	p.Vault.SetRebaseManager(p.Rebase)
	p.Vault.SetStrategies(p.Strategies)
	p.Vault.SetPauses(st)
	p.Vault.SetClock(p.clock)
	p.Vault.SetLogger(p.logger.With("module", "vault"))

	p.Reserve = yieldreserve.New(ReserveAddress, usds.Symbol)
	p.Reserve.SetState(st)
	p.Reserve.SetVault(p.Vault)
	p.Reserve.SetOracle(p.Oracle)
	p.Reserve.SetDripper(p.Dripper)
	p.Reserve.SetToken(p.USDs)
	p.Reserve.SetPauses(st)
	p.Reserve.SetClock(p.clock)
	p.Reserve.SetLogger(p.logger.With("module", "yieldreserve"))
	return p, nil
}

func (p *Protocol) wireOracle() error {
	p.Prices = oracle.NewStaticSource()
	p.Aggregator = oracle.NewAggregator([]string{operatorSource}, p.cfg.Oracle.MaxAge.Duration)
	p.Aggregator.SetClock(p.clock)
	p.Aggregator.Register(operatorSource, p.Prices)
	p.Oracle = oracle.NewMasterOracle()
	now := p.clock()
	for _, coll := range p.cfg.Collaterals {
		price := coll.Price
		if stored, ok, err := p.storedPrice(coll.Symbol); err != nil {
			return err
		} else if ok {
			price = stored
		}
		if err := p.Prices.SetDecimal(coll.Symbol, price, now); err != nil {
			return fmt.Errorf("protocol: price %s: %w", coll.Symbol, err)
		}
		if err := p.Oracle.SetFeed(coll.Symbol, p.Aggregator); err != nil {
			return err
		}
	}
	return nil
}

func (p *Protocol) wireStrategy(sc config.Strategy) error {
	entry := &strategyEntry{cfg: sc}
	addr := StrategyAddress(sc.Name)
	switch sc.Kind {
	case config.StrategyLending:
		entry.lending = venues.NewLendingPool(VenueAddress(sc.Name))
		entry.lending.SetState(p.State)
		s := strategy.NewLendingStrategy(sc.Name, addr, entry.lending)
		s.SetState(p.State)
		entry.impl, entry.base = s, s.Base
	case config.StrategyPool:
		entry.pool = venues.NewStablePool(VenueAddress(sc.Name))
		entry.pool.SetState(p.State)
		s := strategy.NewPoolStrategy(sc.Name, addr, entry.pool)
		s.SetState(p.State)
		entry.impl, entry.base = s, s.Base
	default:
		return fmt.Errorf("protocol: strategy %s has unknown kind %q", sc.Name, sc.Kind)
	}
	if err := p.Strategies.Register(entry.impl); err != nil {
		return err
	}
	p.strategies[sc.Name] = entry
	return nil
}

// Config returns the configuration the protocol was wired from.
func (p *Protocol) Config() *config.Config { return p.cfg }

// Accounts returns the decoded protocol accounts.
func (p *Protocol) Accounts() config.Accounts { return p.accounts }

// Logger returns the protocol logger.
func (p *Protocol) Logger() *slog.Logger { return p.logger }

// Strategy resolves a configured strategy by name.
func (p *Protocol) Strategy(name string) (strategy.Strategy, error) {
	entry, ok := p.strategies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
	return entry.impl, nil
}

// StrategyNames lists the configured strategies in name order.
func (p *Protocol) StrategyNames() []string {
	names := make([]string, 0, len(p.strategies))
	for name := range p.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *Protocol) strategyName(addr crypto.Address) string {
	for name, entry := range p.strategies {
		if entry.impl.Address() == addr {
			return name
		}
	}
	return addr.String()
}

func (p *Protocol) collateralConfig(symbol string) (config.Collateral, bool) {
	for _, coll := range p.cfg.Collaterals {
		if coll.Symbol == symbol {
			return coll, true
		}
	}
	return config.Collateral{}, false
}

// Commit persists every pending write and forwards buffered events.
func (p *Protocol) Commit() ([32]byte, error) {
	return p.State.Commit()
}
