package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"usdsvault/crypto"
)

// Config is the runtime configuration of the protocol and its tooling.
type Config struct {
	DataDir            string       `toml:"DataDir" yaml:"data_dir"`
	Environment        string       `toml:"Environment" yaml:"environment"`
	Owner              string       `toml:"Owner" yaml:"owner"`
	Allocator          string       `toml:"Allocator" yaml:"allocator"`
	FeeVault           string       `toml:"FeeVault" yaml:"fee_vault"`
	YieldReceiver      string       `toml:"YieldReceiver" yaml:"yield_receiver"`
	RebaseOnMintRedeem bool         `toml:"RebaseOnMintRedeem" yaml:"rebase_on_mint_redeem"`
	Logging            Logging      `toml:"logging" yaml:"logging"`
	Telemetry          Telemetry    `toml:"telemetry" yaml:"telemetry"`
	Oracle             Oracle       `toml:"oracle" yaml:"oracle"`
	Dripper            Dripper      `toml:"dripper" yaml:"dripper"`
	Rebase             Rebase       `toml:"rebase" yaml:"rebase"`
	Collaterals        []Collateral `toml:"collateral" yaml:"collaterals"`
	Strategies         []Strategy   `toml:"strategy" yaml:"strategies"`
}

// Load reads the configuration at path. Files ending in .yaml or .yml are
// decoded as YAML and everything else as TOML. A missing file is replaced by a
// freshly written default configuration in the same format.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if isYAML(path) {
		if err := decodeYAML(path, cfg); err != nil {
			return nil, err
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0])
		}
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func decodeYAML(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// Default returns the configuration written for a fresh deployment: one USDC
// collateral backed by a lending and a pool strategy.
func Default() *Config {
	cfg := &Config{
		DataDir:            "./usds-data",
		Environment:        "local",
		Owner:              crypto.ModuleAddress("operator").String(),
		Allocator:          crypto.ModuleAddress("operator").String(),
		FeeVault:           crypto.ModuleAddress("fee-vault").String(),
		YieldReceiver:      crypto.ModuleAddress("yield-reserve").String(),
		RebaseOnMintRedeem: true,
		Collaterals: []Collateral{{
			Symbol:             "USDC",
			Name:               "USD Coin",
			Decimals:           6,
			Price:              "1",
			MintAllowed:        true,
			RedeemAllowed:      true,
			AllocationAllowed:  true,
			BaseMintFee:        0,
			BaseRedeemFee:      50,
			DownsidePeg:        9_700,
			DesiredComposition: 5_000,
			DefaultStrategy:    "lending",
		}},
		Strategies: []Strategy{
			{
				Name:                 "lending",
				Kind:                 StrategyLending,
				HarvestIncentiveRate: 10,
				RewardToken:          "LEND",
				Assets:               []StrategyAsset{{Symbol: "USDC", AllocationCap: 5_000}},
			},
			{
				Name:                 "pool",
				Kind:                 StrategyPool,
				HarvestIncentiveRate: 10,
				DepositSlippage:      20,
				WithdrawSlippage:     50,
				ExitFee:              4,
				RewardToken:          "POOL",
				Assets:               []StrategyAsset{{Symbol: "USDC", AllocationCap: 5_000}},
			},
		},
	}
	applyDefaults(cfg)
	return cfg
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./usds-data"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
	if strings.TrimSpace(cfg.Allocator) == "" {
		cfg.Allocator = cfg.Owner
	}
	if cfg.Logging.File != "" {
		if cfg.Logging.MaxSizeMB <= 0 {
			cfg.Logging.MaxSizeMB = 100
		}
		if cfg.Logging.MaxBackups <= 0 {
			cfg.Logging.MaxBackups = 5
		}
		if cfg.Logging.MaxAgeDays <= 0 {
			cfg.Logging.MaxAgeDays = 28
		}
	}
	if cfg.Oracle.MaxAge.Duration == 0 {
		cfg.Oracle.MaxAge.Duration = time.Hour
	}
	if cfg.Dripper.DripDuration.Duration == 0 {
		cfg.Dripper.DripDuration.Duration = 7 * 24 * time.Hour
	}
	if cfg.Rebase.Gap.Duration == 0 {
		cfg.Rebase.Gap.Duration = 24 * time.Hour
	}
	if cfg.Rebase.APRCap == 0 {
		cfg.Rebase.APRCap = 1_000
	}
	if cfg.Rebase.APRBottom == 0 {
		cfg.Rebase.APRBottom = 300
	}
	for i := range cfg.Collaterals {
		c := &cfg.Collaterals[i]
		c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
		if c.Name == "" {
			c.Name = c.Symbol
		}
		if c.Price == "" {
			c.Price = "1"
		}
		if c.DownsidePeg == 0 {
			c.DownsidePeg = 9_700
		}
		c.DefaultStrategy = strings.ToLower(strings.TrimSpace(c.DefaultStrategy))
	}
	for i := range cfg.Strategies {
		s := &cfg.Strategies[i]
		s.Name = strings.ToLower(strings.TrimSpace(s.Name))
		s.Kind = strings.ToLower(strings.TrimSpace(s.Kind))
		s.RewardToken = strings.ToUpper(strings.TrimSpace(s.RewardToken))
		for j := range s.Assets {
			s.Assets[j].Symbol = strings.ToUpper(strings.TrimSpace(s.Assets[j].Symbol))
		}
	}
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}
