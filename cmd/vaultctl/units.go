package main

import (
	"fmt"
	"math/big"
	"strings"

	"usdsvault/crypto"
)

// parseUnits converts a decimal token amount such as "12.5" into base units.
func parseUnits(value string, decimals uint8) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	whole, frac, _ := strings.Cut(trimmed, ".")
	if len(frac) > int(decimals) {
		return nil, fmt.Errorf("amount %q has more than %d decimals", value, decimals)
	}
	if whole == "" {
		whole = "0"
	}
	digits := whole + frac + strings.Repeat("0", int(decimals)-len(frac))
	out, ok := new(big.Int).SetString(digits, 10)
	if !ok || out.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return out, nil
}

// formatUnits renders base units as a decimal string without trailing zeros.
func formatUnits(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	neg := amount.Sign() < 0
	digits := new(big.Int).Abs(amount).String()
	if decimals > 0 {
		if len(digits) <= int(decimals) {
			digits = strings.Repeat("0", int(decimals)-len(digits)+1) + digits
		}
		cut := len(digits) - int(decimals)
		frac := strings.TrimRight(digits[cut:], "0")
		digits = digits[:cut]
		if frac != "" {
			digits += "." + frac
		}
	}
	if neg {
		return "-" + digits
	}
	return digits
}

// resolveAccount accepts a bech32 or hex address. Any other non-empty value
// names a deterministic demo account.
func resolveAccount(value string) (crypto.Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return crypto.Address{}, fmt.Errorf("account required")
	}
	if addr, err := crypto.DecodeAddress(trimmed); err == nil {
		return addr, nil
	}
	if strings.HasPrefix(trimmed, string(crypto.USDSPrefix)+"1") || strings.HasPrefix(strings.ToLower(trimmed), "0x") {
		return crypto.Address{}, fmt.Errorf("invalid address %q", value)
	}
	return crypto.ModuleAddress("account/" + trimmed), nil
}
