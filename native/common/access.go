package common

import (
	"fmt"

	"usdsvault/crypto"
)

const (
	// RoleOwner administers every module.
	RoleOwner = "owner"
	// RoleAllocator may move vault collateral into strategies.
	RoleAllocator = "allocator"
)

// RoleView exposes role membership lookups.
type RoleView interface {
	HasRole(role string, addr crypto.Address) bool
}

// RequireRole returns ErrUnauthorized unless caller holds role.
func RequireRole(roles RoleView, role string, caller crypto.Address) error {
	if roles == nil || caller.IsZero() || !roles.HasRole(role, caller) {
		return fmt.Errorf("%w: %s required", ErrUnauthorized, role)
	}
	return nil
}

// RequireAddress returns ErrInvalidAddress for the zero address.
func RequireAddress(addr crypto.Address, field string) error {
	if addr.IsZero() {
		return fmt.Errorf("%w: %s", ErrInvalidAddress, field)
	}
	return nil
}
