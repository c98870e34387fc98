package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"usdsvault/config"
	"usdsvault/core/protocol"
	"usdsvault/observability/logging"
	telemetry "usdsvault/observability/otel"
	"usdsvault/storage"
)

const (
	serviceName   = "vaultctl"
	defaultConfig = "./vaultctl.toml"
)

// command is one vaultctl subcommand. setup registers flags and returns the
// executor that runs once flags are parsed.
type command struct {
	usage   string
	mutates bool
	setup   func(fs *flag.FlagSet) func(*env) (any, error)
}

// env is the wiring shared by every command invocation.
type env struct {
	ctx    context.Context
	cfg    *config.Config
	logger *slog.Logger
	p      *protocol.Protocol
	txID   string
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) < 1 {
		printUsage(stderr)
		return errors.New("command required")
	}
	name := args[0]
	cmd, ok := commands[name]
	if !ok {
		printUsage(stderr)
		return fmt.Errorf("unknown command %q", name)
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", defaultConfig, "Path to the vaultctl config file (.toml or .yaml)")
	exec := cmd.setup(fs)
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.SetupWithFile(serviceName, cfg.Environment, logging.FileOptions{
		Console:    stderr,
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})

	shutdown, err := setupTelemetry(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open data dir: %w", err)
	}
	defer db.Close()

	txID := uuid.NewString()
	logger = logger.With(slog.String("tx", txID), slog.String("command", name))
	p, err := protocol.New(cfg, db, protocol.WithLogger(logger))
	if err != nil {
		return err
	}
	e := &env{ctx: ctx, cfg: cfg, logger: logger, p: p, txID: txID}

	result, err := exec(e)
	if err != nil {
		p.State.Discard()
		logger.Error("command failed", slog.Any("error", err))
		return err
	}
	out := map[string]any{"result": result}
	if cmd.mutates {
		digest, err := p.Commit()
		if err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		out["tx"] = txID
		out["digest"] = hex.EncodeToString(digest[:])
		logger.Info("committed", slog.String("digest", hex.EncodeToString(digest[:])))
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func setupTelemetry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	tc := cfg.Telemetry
	if tc.Endpoint == "" || (!tc.Traces && !tc.Metrics) {
		return noop, nil
	}
	headers := telemetry.ParseHeaders(tc.Headers)
	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Endpoint:    tc.Endpoint,
		Insecure:    tc.Insecure,
		Headers:     headers,
		Metrics:     tc.Metrics,
		Traces:      tc.Traces,
		SampleRatio: tc.SampleRatio,
		Attributes:  telemetryAttributes(cfg),
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	logger.Info("telemetry enabled",
		slog.String("endpoint", tc.Endpoint),
		slog.Bool("traces", tc.Traces),
		slog.Bool("metrics", tc.Metrics),
		logging.MaskHeaders(headers))
	return shutdown, nil
}

func telemetryAttributes(cfg *config.Config) map[string]string {
	symbols := make([]string, 0, len(cfg.Collaterals))
	for _, coll := range cfg.Collaterals {
		symbols = append(symbols, coll.Symbol)
	}
	names := make([]string, 0, len(cfg.Strategies))
	for _, s := range cfg.Strategies {
		names = append(names, s.Name)
	}
	return map[string]string{
		"vault":         protocol.VaultAddress.String(),
		"yieldReceiver": cfg.YieldReceiver,
		"collaterals":   strings.Join(symbols, ","),
		"strategies":    strings.Join(names, ","),
	}
}

func printUsage(w io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(w, "Usage: vaultctl <command> [flags]")
	fmt.Fprintln(w, "\nCommands:")
	for _, name := range names {
		fmt.Fprintf(w, "  %-13s %s\n", name, commands[name].usage)
	}
	fmt.Fprintln(w, "\nEvery command accepts -config (default "+defaultConfig+").")
}
