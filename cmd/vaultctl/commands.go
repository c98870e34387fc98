package main

import (
	"flag"
	"fmt"
	"math/big"
	"strings"
	"time"

	"usdsvault/config"
	"usdsvault/core/protocol"
	"usdsvault/crypto"
	nativecommon "usdsvault/native/common"
	"usdsvault/native/usds"
)

var commands = map[string]command{
	"init":         {usage: "Write genesis state from the config", mutates: true, setup: initCmd},
	"faucet":       {usage: "Credit collateral to an account (owner)", mutates: true, setup: faucetCmd},
	"mint":         {usage: "Deposit collateral and mint USDs", mutates: true, setup: mintCmd},
	"redeem":       {usage: "Burn USDs for collateral", mutates: true, setup: redeemCmd},
	"allocate":     {usage: "Move vault collateral into a strategy (allocator)", mutates: true, setup: allocateCmd},
	"rebase":       {usage: "Distribute dripped yield to USDs holders", mutates: true, setup: rebaseCmd},
	"fund-dripper": {usage: "Add USDs to the dripper schedule", mutates: true, setup: fundDripperCmd},
	"harvest":      {usage: "Collect strategy interest and rewards", mutates: true, setup: harvestCmd},
	"reserve-mint": {usage: "Mint reserve collateral into dripper USDs", mutates: true, setup: reserveMintCmd},
	"reserve-swap": {usage: "Buy reserve collateral with USDs", mutates: true, setup: reserveSwapCmd},
	"accrue":       {usage: "Simulate venue interest and rewards (owner)", mutates: true, setup: accrueCmd},
	"calibrate":    {usage: "Recalibrate collateral fees", mutates: true, setup: calibrateCmd},
	"pause":        {usage: "Toggle a module pause switch (owner)", mutates: true, setup: pauseCmd},
	"price":        {usage: "Show or set (owner) a collateral price", mutates: true, setup: priceCmd},
	"stats":        {usage: "Show supply, custody and yield pipeline", setup: statsCmd},
	"balance":      {usage: "Show USDs and collateral balances of an account", setup: balanceCmd},
}

func (e *env) account(value, fallback string) (crypto.Address, error) {
	if strings.TrimSpace(value) == "" {
		value = fallback
	}
	return resolveAccount(value)
}

func (e *env) collateral(symbol string) (config.Collateral, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	for _, coll := range e.cfg.Collaterals {
		if coll.Symbol == symbol {
			return coll, nil
		}
	}
	return config.Collateral{}, fmt.Errorf("%w: %s", protocol.ErrUnknownCollateral, symbol)
}

func (e *env) strategyAddress(name string) (crypto.Address, error) {
	if strings.TrimSpace(name) == "" {
		return crypto.Address{}, nil
	}
	s, err := e.p.Strategy(strings.ToLower(strings.TrimSpace(name)))
	if err != nil {
		return crypto.Address{}, err
	}
	return s.Address(), nil
}

func (e *env) deadline(window time.Duration) uint64 {
	return uint64(time.Now().Add(window).Unix())
}

func usdsUnits(value string) (*big.Int, error) {
	return parseUnits(value, usds.Decimals)
}

func initCmd(fs *flag.FlagSet) func(*env) (any, error) {
	return func(e *env) (any, error) {
		if err := e.p.Bootstrap(); err != nil {
			return nil, err
		}
		acct := e.p.Accounts()
		return map[string]any{
			"owner":         acct.Owner.String(),
			"allocator":     acct.Allocator.String(),
			"vault":         protocol.VaultAddress.String(),
			"dripper":       protocol.DripperAddress.String(),
			"yieldReserve":  protocol.ReserveAddress.String(),
			"feeVault":      acct.FeeVault.String(),
			"yieldReceiver": acct.YieldReceiver.String(),
			"strategies":    e.p.StrategyNames(),
		}, nil
	}
}

func faucetCmd(fs *flag.FlagSet) func(*env) (any, error) {
	from := fs.String("from", "", "Owner account (defaults to the configured owner)")
	to := fs.String("to", "", "Recipient account")
	asset := fs.String("asset", "USDC", "Collateral symbol")
	amount := fs.String("amount", "", "Amount in token units")
	return func(e *env) (any, error) {
		caller, err := e.account(*from, e.cfg.Owner)
		if err != nil {
			return nil, err
		}
		recipient, err := resolveAccount(*to)
		if err != nil {
			return nil, err
		}
		coll, err := e.collateral(*asset)
		if err != nil {
			return nil, err
		}
		value, err := parseUnits(*amount, coll.Decimals)
		if err != nil {
			return nil, err
		}
		if err := e.p.Faucet(caller, recipient, coll.Symbol, value); err != nil {
			return nil, err
		}
		return map[string]string{
			"account": recipient.String(),
			"asset":   coll.Symbol,
			"amount":  formatUnits(value, coll.Decimals),
		}, nil
	}
}

func mintCmd(fs *flag.FlagSet) func(*env) (any, error) {
	from := fs.String("from", "", "Minting account")
	asset := fs.String("asset", "USDC", "Collateral symbol")
	amount := fs.String("amount", "", "Collateral amount in token units")
	minOut := fs.String("min", "0", "Minimum USDs to receive")
	window := fs.Duration("deadline", 5*time.Minute, "Time until the mint expires")
	return func(e *env) (any, error) {
		caller, err := resolveAccount(*from)
		if err != nil {
			return nil, err
		}
		coll, err := e.collateral(*asset)
		if err != nil {
			return nil, err
		}
		collAmt, err := parseUnits(*amount, coll.Decimals)
		if err != nil {
			return nil, err
		}
		minUSDs, err := usdsUnits(*minOut)
		if err != nil {
			return nil, err
		}
		out, fee, err := e.p.Vault.Mint(e.ctx, caller, coll.Symbol, collAmt, minUSDs, e.deadline(*window))
		if err != nil {
			return nil, err
		}
		return map[string]string{
			"minter":     caller.String(),
			"collateral": formatUnits(collAmt, coll.Decimals) + " " + coll.Symbol,
			"usds":       formatUnits(out, usds.Decimals),
			"fee":        formatUnits(fee, usds.Decimals),
		}, nil
	}
}

func redeemCmd(fs *flag.FlagSet) func(*env) (any, error) {
	from := fs.String("from", "", "Redeeming account")
	asset := fs.String("asset", "USDC", "Collateral to receive")
	amount := fs.String("amount", "", "USDs amount to redeem")
	minOut := fs.String("min", "0", "Minimum collateral to receive in token units")
	strat := fs.String("strategy", "", "Strategy covering a vault shortfall (defaults to the collateral default)")
	window := fs.Duration("deadline", 5*time.Minute, "Time until the redemption expires")
	return func(e *env) (any, error) {
		caller, err := resolveAccount(*from)
		if err != nil {
			return nil, err
		}
		coll, err := e.collateral(*asset)
		if err != nil {
			return nil, err
		}
		usdsAmt, err := usdsUnits(*amount)
		if err != nil {
			return nil, err
		}
		minColl, err := parseUnits(*minOut, coll.Decimals)
		if err != nil {
			return nil, err
		}
		stratAddr, err := e.strategyAddress(*strat)
		if err != nil {
			return nil, err
		}
		quote, err := e.p.Vault.Redeem(e.ctx, caller, coll.Symbol, usdsAmt, minColl, e.deadline(*window), stratAddr)
		if err != nil {
			return nil, err
		}
		out := map[string]string{
			"redeemer":   caller.String(),
			"collateral": formatUnits(quote.CollateralAmt, coll.Decimals) + " " + coll.Symbol,
			"burned":     formatUnits(quote.BurnAmt, usds.Decimals),
			"fee":        formatUnits(quote.FeeAmt, usds.Decimals),
		}
		if quote.StrategyAmt.Sign() > 0 {
			out["fromStrategy"] = formatUnits(quote.StrategyAmt, coll.Decimals)
			out["strategy"] = quote.Strategy.String()
		}
		return out, nil
	}
}

func allocateCmd(fs *flag.FlagSet) func(*env) (any, error) {
	from := fs.String("from", "", "Allocator account (defaults to the configured allocator)")
	asset := fs.String("asset", "USDC", "Collateral symbol")
	strat := fs.String("strategy", "", "Strategy name")
	amount := fs.String("amount", "", "Amount in token units")
	return func(e *env) (any, error) {
		caller, err := e.account(*from, e.cfg.Allocator)
		if err != nil {
			return nil, err
		}
		coll, err := e.collateral(*asset)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(*strat) == "" {
			return nil, fmt.Errorf("strategy required")
		}
		stratAddr, err := e.strategyAddress(*strat)
		if err != nil {
			return nil, err
		}
		value, err := parseUnits(*amount, coll.Decimals)
		if err != nil {
			return nil, err
		}
		if err := e.p.Vault.Allocate(e.ctx, caller, coll.Symbol, stratAddr, value); err != nil {
			return nil, err
		}
		return map[string]string{
			"strategy": *strat,
			"asset":    coll.Symbol,
			"amount":   formatUnits(value, coll.Decimals),
		}, nil
	}
}

func rebaseCmd(fs *flag.FlagSet) func(*env) (any, error) {
	return func(e *env) (any, error) {
		amount, err := e.p.Vault.Rebase(e.ctx)
		if err != nil {
			return nil, err
		}
		supply, err := e.p.USDs.TotalSupply()
		if err != nil {
			return nil, err
		}
		return map[string]string{
			"rebased":     formatUnits(amount, usds.Decimals),
			"totalSupply": formatUnits(supply, usds.Decimals),
		}, nil
	}
}

func fundDripperCmd(fs *flag.FlagSet) func(*env) (any, error) {
	from := fs.String("from", "", "Funding account")
	amount := fs.String("amount", "", "USDs amount")
	return func(e *env) (any, error) {
		caller, err := resolveAccount(*from)
		if err != nil {
			return nil, err
		}
		value, err := usdsUnits(*amount)
		if err != nil {
			return nil, err
		}
		if err := e.p.FundDripper(caller, value); err != nil {
			return nil, err
		}
		params, err := e.p.Dripper.Params()
		if err != nil {
			return nil, err
		}
		return map[string]string{
			"funded":   formatUnits(value, usds.Decimals),
			"dripRate": formatUnits(params.DripRate, usds.Decimals) + "/s",
		}, nil
	}
}

func harvestCmd(fs *flag.FlagSet) func(*env) (any, error) {
	from := fs.String("from", "", "Harvester receiving the incentive")
	strat := fs.String("strategy", "", "Strategy name")
	return func(e *env) (any, error) {
		caller, err := resolveAccount(*from)
		if err != nil {
			return nil, err
		}
		result, err := e.p.Harvest(e.ctx, caller, strings.ToLower(strings.TrimSpace(*strat)))
		if err != nil {
			return nil, err
		}
		interest := make(map[string]string, len(result.Interest))
		for symbol, amount := range result.Interest {
			decimals := uint8(0)
			if coll, err := e.collateral(symbol); err == nil {
				decimals = coll.Decimals
			}
			interest[symbol] = formatUnits(amount, decimals)
		}
		rewards := make(map[string]string, len(result.Rewards))
		for _, reward := range result.Rewards {
			rewards[reward.Token] = formatUnits(reward.Amount, 18)
		}
		minted := make(map[string]string, len(result.Minted))
		for symbol, amount := range result.Minted {
			minted[symbol] = formatUnits(amount, usds.Decimals)
		}
		return map[string]any{"strategy": result.Strategy, "interest": interest, "rewards": rewards, "minted": minted}, nil
	}
}

func reserveMintCmd(fs *flag.FlagSet) func(*env) (any, error) {
	asset := fs.String("collateral", "USDC", "Collateral symbol")
	return func(e *env) (any, error) {
		coll, err := e.collateral(*asset)
		if err != nil {
			return nil, err
		}
		minted, err := e.p.ReserveMint(e.ctx, coll.Symbol)
		if err != nil {
			return nil, err
		}
		return map[string]string{"collateral": coll.Symbol, "minted": formatUnits(minted, usds.Decimals)}, nil
	}
}

func reserveSwapCmd(fs *flag.FlagSet) func(*env) (any, error) {
	from := fs.String("from", "", "Account paying USDs")
	asset := fs.String("collateral", "USDC", "Collateral bought from the reserve")
	amount := fs.String("amount", "", "USDs amount")
	minOut := fs.String("min-out", "0", "Minimum collateral in token units")
	return func(e *env) (any, error) {
		caller, err := resolveAccount(*from)
		if err != nil {
			return nil, err
		}
		coll, err := e.collateral(*asset)
		if err != nil {
			return nil, err
		}
		value, err := usdsUnits(*amount)
		if err != nil {
			return nil, err
		}
		minAmt, err := parseUnits(*minOut, coll.Decimals)
		if err != nil {
			return nil, err
		}
		out, err := e.p.ReserveSwap(e.ctx, caller, usds.Symbol, coll.Symbol, value, minAmt)
		if err != nil {
			return nil, err
		}
		return map[string]string{"paid": formatUnits(value, usds.Decimals), "received": formatUnits(out, coll.Decimals) + " " + coll.Symbol}, nil
	}
}

func accrueCmd(fs *flag.FlagSet) func(*env) (any, error) {
	from := fs.String("from", "", "Owner account (defaults to the configured owner)")
	strat := fs.String("strategy", "", "Strategy name")
	asset := fs.String("asset", "USDC", "Collateral symbol")
	interest := fs.String("interest", "0", "Interest or trading fees in token units")
	reward := fs.String("reward", "0", "Reward token amount")
	return func(e *env) (any, error) {
		caller, err := e.account(*from, e.cfg.Owner)
		if err != nil {
			return nil, err
		}
		coll, err := e.collateral(*asset)
		if err != nil {
			return nil, err
		}
		interestAmt, err := parseUnits(*interest, coll.Decimals)
		if err != nil {
			return nil, err
		}
		rewardAmt, err := parseUnits(*reward, 18)
		if err != nil {
			return nil, err
		}
		name := strings.ToLower(strings.TrimSpace(*strat))
		if err := e.p.AccrueYield(caller, name, coll.Symbol, interestAmt, rewardAmt); err != nil {
			return nil, err
		}
		return map[string]string{
			"strategy": name,
			"interest": formatUnits(interestAmt, coll.Decimals),
			"reward":   formatUnits(rewardAmt, 18),
		}, nil
	}
}

func calibrateCmd(fs *flag.FlagSet) func(*env) (any, error) {
	from := fs.String("from", "", "Owner account for -all (defaults to the configured owner)")
	asset := fs.String("asset", "", "Collateral symbol")
	all := fs.Bool("all", false, "Recalibrate every collateral regardless of the calibration gap")
	return func(e *env) (any, error) {
		var symbols []string
		if *all {
			caller, err := e.account(*from, e.cfg.Owner)
			if err != nil {
				return nil, err
			}
			if err := e.p.Fees.CalibrateFeeForAll(caller); err != nil {
				return nil, err
			}
			for _, coll := range e.cfg.Collaterals {
				symbols = append(symbols, coll.Symbol)
			}
		} else {
			coll, err := e.collateral(*asset)
			if err != nil {
				return nil, err
			}
			if err := e.p.Fees.CalibrateFee(coll.Symbol); err != nil {
				return nil, err
			}
			symbols = []string{coll.Symbol}
		}
		out := make(map[string]any, len(symbols))
		for _, symbol := range symbols {
			data, err := e.p.Fees.FeeData(symbol)
			if err != nil {
				return nil, err
			}
			out[symbol] = map[string]uint64{"mintFeeBps": data.MintFee, "redeemFeeBps": data.RedeemFee, "nextUpdate": data.NextUpdate}
		}
		return out, nil
	}
}

func pauseCmd(fs *flag.FlagSet) func(*env) (any, error) {
	from := fs.String("from", "", "Owner account (defaults to the configured owner)")
	module := fs.String("module", "vault", "Module to toggle")
	paused := fs.Bool("paused", true, "Pause (true) or resume (false)")
	return func(e *env) (any, error) {
		caller, err := e.account(*from, e.cfg.Owner)
		if err != nil {
			return nil, err
		}
		if err := e.p.SetPaused(caller, *module, *paused); err != nil {
			return nil, err
		}
		return map[string]any{"module": *module, "paused": *paused}, nil
	}
}

func priceCmd(fs *flag.FlagSet) func(*env) (any, error) {
	from := fs.String("from", "", "Owner account (defaults to the configured owner)")
	asset := fs.String("asset", "USDC", "Collateral symbol")
	set := fs.String("set", "", "New decimal USD price")
	return func(e *env) (any, error) {
		coll, err := e.collateral(*asset)
		if err != nil {
			return nil, err
		}
		if *set != "" {
			caller, err := e.account(*from, e.cfg.Owner)
			if err != nil {
				return nil, err
			}
			if err := e.p.SetPrice(caller, coll.Symbol, *set); err != nil {
				return nil, err
			}
		}
		price, err := e.p.Oracle.GetPrice(coll.Symbol)
		if err != nil {
			return nil, err
		}
		usdsOut, fee, err := e.p.Vault.MintView(coll.Symbol, nativecommon.Pow10(uint64(coll.Decimals)))
		if err != nil {
			return nil, err
		}
		return map[string]string{
			"asset":        coll.Symbol,
			"price":        price.Rat().FloatString(8),
			"mintPerUnit":  formatUnits(usdsOut, usds.Decimals),
			"mintFeeShare": formatUnits(fee, usds.Decimals),
		}, nil
	}
}

func statsCmd(fs *flag.FlagSet) func(*env) (any, error) {
	return func(e *env) (any, error) {
		return e.p.Stats()
	}
}

func balanceCmd(fs *flag.FlagSet) func(*env) (any, error) {
	account := fs.String("account", "", "Account name or address")
	return func(e *env) (any, error) {
		addr, err := resolveAccount(*account)
		if err != nil {
			return nil, err
		}
		bal, err := e.p.USDs.BalanceOf(addr)
		if err != nil {
			return nil, err
		}
		rebasing, err := e.p.USDs.IsRebasing(addr)
		if err != nil {
			return nil, err
		}
		balances := map[string]string{usds.Symbol: formatUnits(bal, usds.Decimals)}
		for _, coll := range e.cfg.Collaterals {
			held, err := e.p.State.Balance(coll.Symbol, addr)
			if err != nil {
				return nil, err
			}
			balances[coll.Symbol] = formatUnits(held, coll.Decimals)
		}
		return map[string]any{"account": addr.String(), "rebasing": rebasing, "balances": balances}, nil
	}
}
