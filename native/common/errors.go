package common

import "errors"

var (
	// ErrInvalidAmount is returned when an amount is nil, zero or negative.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInvalidAddress is returned when a required address is unset.
	ErrInvalidAddress = errors.New("invalid address")
	// ErrInvalidPercentage is returned for basis point values above MaxPercentage.
	ErrInvalidPercentage = errors.New("invalid percentage")
	// ErrUnauthorized is returned when the caller lacks the required role.
	ErrUnauthorized = errors.New("caller is not authorized")
	// ErrReentrantCall is returned when a guarded entry point is re-entered.
	ErrReentrantCall = errors.New("reentrant call")
)
