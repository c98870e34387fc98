package usds

import (
	"math/big"
	"strconv"

	"usdsvault/core/events"
	"usdsvault/crypto"
	nativecommon "usdsvault/native/common"
)

// Mint credits amount to account. Only the vault may mint.
func (l *Ledger) Mint(caller, account crypto.Address, amount *big.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	if err := nativecommon.RequireAddress(account, "mint recipient"); err != nil {
		return err
	}
	if err := nativecommon.RequirePositive(amount); err != nil {
		return err
	}
	return l.state.Atomic(func() error {
		supply, err := l.loadSupply()
		if err != nil {
			return err
		}
		if err := l.requireVault(caller, supply); err != nil {
			return err
		}
		if supply.Paused {
			return ErrPaused
		}
		acct, err := l.loadAccount(account)
		if err != nil {
			return err
		}
		credit(acct, supply, amount)
		supply.TotalSupply.Add(supply.TotalSupply, amount)
		if supply.TotalSupply.Cmp(MaxSupply) > 0 {
			return ErrMaxSupplyExceeded
		}
		if err := l.storeAccount(account, acct); err != nil {
			return err
		}
		if err := l.storeSupply(supply); err != nil {
			return err
		}
		l.state.AppendEvent(events.USDsTransfer{To: account, Amount: new(big.Int).Set(amount)})
		return nil
	})
}

// Burn destroys amount from the vault's own balance.
func (l *Ledger) Burn(caller crypto.Address, amount *big.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	if err := nativecommon.RequirePositive(amount); err != nil {
		return err
	}
	return l.state.Atomic(func() error {
		supply, err := l.loadSupply()
		if err != nil {
			return err
		}
		if err := l.requireVault(caller, supply); err != nil {
			return err
		}
		if supply.Paused {
			return ErrPaused
		}
		return l.burn(caller, supply, amount)
	})
}

func (l *Ledger) burn(account crypto.Address, supply *Supply, amount *big.Int) error {
	acct, err := l.loadAccount(account)
	if err != nil {
		return err
	}
	if err := debit(acct, supply, amount); err != nil {
		return err
	}
	supply.TotalSupply.Sub(supply.TotalSupply, amount)
	if err := l.storeAccount(account, acct); err != nil {
		return err
	}
	if err := l.storeSupply(supply); err != nil {
		return err
	}
	l.state.AppendEvent(events.USDsTransfer{From: account, Amount: new(big.Int).Set(amount)})
	return nil
}

// Rebase burns amount from the vault and raises the balances of every rebasing
// holder so that the total supply returns to its pre-burn value.
func (l *Ledger) Rebase(caller crypto.Address, amount *big.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	if err := nativecommon.RequirePositive(amount); err != nil {
		return err
	}
	return l.state.Atomic(func() error {
		supply, err := l.loadSupply()
		if err != nil {
			return err
		}
		if err := l.requireVault(caller, supply); err != nil {
			return err
		}
		if supply.Paused {
			return ErrPaused
		}
		previous := new(big.Int).Set(supply.TotalSupply)
		if err := l.burn(caller, supply, amount); err != nil {
			return err
		}
		if supply.TotalSupply.Sign() == 0 {
			return ErrCannotIncreaseZeroSupply
		}
		target := previous
		if target.Cmp(MaxSupply) > 0 {
			target = new(big.Int).Set(MaxSupply)
		}
		rebasingSupply := new(big.Int).Sub(target, supply.NonRebasingSupply)
		if rebasingSupply.Sign() <= 0 || supply.RebasingCredits.Sign() == 0 {
			return ErrInvalidRebase
		}
		rate := nativecommon.MulDivUp(supply.RebasingCredits, tokenUnit, rebasingSupply)
		if rate.Sign() == 0 {
			return ErrInvalidRebase
		}
		supply.RebasingCreditsPerToken = rate
		rebasingBalance := nativecommon.MulDiv(supply.RebasingCredits, tokenUnit, rate)
		supply.TotalSupply = rebasingBalance.Add(rebasingBalance, supply.NonRebasingSupply)
		if err := l.storeSupply(supply); err != nil {
			return err
		}
		l.state.AppendEvent(events.USDsSupplyUpdated{
			TotalSupply:             new(big.Int).Set(supply.TotalSupply),
			RebasingCredits:         new(big.Int).Set(supply.RebasingCredits),
			RebasingCreditsPerToken: new(big.Int).Set(rate),
		})
		return nil
	})
}

// Transfer moves amount from caller to recipient.
func (l *Ledger) Transfer(caller, recipient crypto.Address, amount *big.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	return l.state.Atomic(func() error {
		return l.transfer(caller, recipient, amount)
	})
}

// TransferFrom moves amount from owner to recipient using caller's allowance.
func (l *Ledger) TransferFrom(caller, owner, recipient crypto.Address, amount *big.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return nativecommon.ErrInvalidAmount
	}
	return l.state.Atomic(func() error {
		allowance, err := l.Allowance(owner, caller)
		if err != nil {
			return err
		}
		if allowance.Cmp(amount) < 0 {
			return ErrInsufficientAllowance
		}
		if err := l.storeAllowance(owner, caller, new(big.Int).Sub(allowance, amount)); err != nil {
			return err
		}
		return l.transfer(owner, recipient, amount)
	})
}

func (l *Ledger) transfer(from, to crypto.Address, amount *big.Int) error {
	if err := nativecommon.RequireAddress(from, "sender"); err != nil {
		return err
	}
	if err := nativecommon.RequireAddress(to, "recipient"); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return nativecommon.ErrInvalidAmount
	}
	supply, err := l.loadSupply()
	if err != nil {
		return err
	}
	if supply.Paused {
		return ErrPaused
	}
	if amount.Sign() == 0 {
		return nil
	}
	src, err := l.loadAccount(from)
	if err != nil {
		return err
	}
	if err := debit(src, supply, amount); err != nil {
		return err
	}
	if err := l.storeAccount(from, src); err != nil {
		return err
	}
	dst, err := l.loadAccount(to)
	if err != nil {
		return err
	}
	credit(dst, supply, amount)
	if err := l.storeAccount(to, dst); err != nil {
		return err
	}
	if err := l.storeSupply(supply); err != nil {
		return err
	}
	l.state.AppendEvent(events.USDsTransfer{From: from, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

// Approve sets the allowance of spender over caller's tokens.
func (l *Ledger) Approve(caller, spender crypto.Address, amount *big.Int) error {
	if err := l.ready(); err != nil {
		return err
	}
	if err := nativecommon.RequireAddress(spender, "spender"); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return nativecommon.ErrInvalidAmount
	}
	return l.state.Atomic(func() error {
		if err := l.storeAllowance(caller, spender, amount); err != nil {
			return err
		}
		l.state.AppendEvent(events.USDsApproval{Owner: caller, Spender: spender, Amount: new(big.Int).Set(amount)})
		return nil
	})
}

// RebaseOptIn converts a non-rebasing account back into a rebasing one. The
// account itself or an owner may call it.
func (l *Ledger) RebaseOptIn(caller, account crypto.Address) error {
	if err := l.ready(); err != nil {
		return err
	}
	if caller != account {
		if err := l.requireOwner(caller); err != nil {
			return err
		}
	}
	return l.state.Atomic(func() error {
		supply, err := l.loadSupply()
		if err != nil {
			return err
		}
		acct, err := l.loadAccount(account)
		if err != nil {
			return err
		}
		if !acct.isNonRebasing() {
			return ErrAlreadyRebasing
		}
		balance := new(big.Int).Set(acct.Credits)
		credits := nativecommon.MulDiv(balance, supply.RebasingCreditsPerToken, tokenUnit)
		supply.NonRebasingSupply.Sub(supply.NonRebasingSupply, balance)
		supply.RebasingCredits.Add(supply.RebasingCredits, credits)
		acct.Credits = credits
		acct.RebaseState = uint8(RebaseOptIn)
		if err := l.storeAccount(account, acct); err != nil {
			return err
		}
		if err := l.storeSupply(supply); err != nil {
			return err
		}
		l.state.AppendEvent(events.USDsRebaseModeChanged{Account: account, Rebasing: true})
		return nil
	})
}

// RebaseOptOut freezes the balance of account so it no longer receives
// rebases. The account itself or an owner may call it.
func (l *Ledger) RebaseOptOut(caller, account crypto.Address) error {
	if err := l.ready(); err != nil {
		return err
	}
	if caller != account {
		if err := l.requireOwner(caller); err != nil {
			return err
		}
	}
	return l.state.Atomic(func() error {
		supply, err := l.loadSupply()
		if err != nil {
			return err
		}
		acct, err := l.loadAccount(account)
		if err != nil {
			return err
		}
		if acct.isNonRebasing() {
			return ErrAlreadyNonRebasing
		}
		balance := balanceOf(acct, supply)
		supply.RebasingCredits.Sub(supply.RebasingCredits, acct.Credits)
		supply.NonRebasingSupply.Add(supply.NonRebasingSupply, balance)
		acct.Credits = balance
		acct.RebaseState = uint8(RebaseOptOut)
		if err := l.storeAccount(account, acct); err != nil {
			return err
		}
		if err := l.storeSupply(supply); err != nil {
			return err
		}
		l.state.AppendEvent(events.USDsRebaseModeChanged{Account: account, Rebasing: false})
		return nil
	})
}

// PauseSwitch pauses or resumes every balance movement.
func (l *Ledger) PauseSwitch(caller crypto.Address, paused bool) error {
	if err := l.ready(); err != nil {
		return err
	}
	if err := l.requireOwner(caller); err != nil {
		return err
	}
	return l.state.Atomic(func() error {
		supply, err := l.loadSupply()
		if err != nil {
			return err
		}
		supply.Paused = paused
		if err := l.storeSupply(supply); err != nil {
			return err
		}
		l.state.AppendEvent(events.ConfigUpdated{Module: "usds", Field: "paused", Value: strconv.FormatBool(paused)})
		return nil
	})
}

// UpdateVault changes the account allowed to mint, burn and rebase.
func (l *Ledger) UpdateVault(caller, vault crypto.Address) error {
	if err := l.ready(); err != nil {
		return err
	}
	if err := l.requireOwner(caller); err != nil {
		return err
	}
	if err := nativecommon.RequireAddress(vault, "vault"); err != nil {
		return err
	}
	return l.state.Atomic(func() error {
		supply, err := l.loadSupply()
		if err != nil {
			return err
		}
		supply.Vault = vault
		if err := l.storeSupply(supply); err != nil {
			return err
		}
		l.state.AppendEvent(events.ConfigUpdated{Module: "usds", Field: "vault", Value: vault.String()})
		return nil
	})
}
