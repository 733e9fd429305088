package domain

import "errors"

// Sentinel errors shared across the engine and its adapters. Callers match
// them with errors.Is after unwrapping.
var (
	// ErrVaultNotFound indicates the vault ID is unknown to the repository.
	ErrVaultNotFound = errors.New("vault not found")

	// ErrPositionNotFound indicates the position ID is unknown to the repository.
	ErrPositionNotFound = errors.New("position not found")

	// ErrVaultAtCapacity indicates the vault already holds its maximum number
	// of open positions. Opening fails fast with no side effects.
	ErrVaultAtCapacity = errors.New("vault at max open positions")

	// ErrInsufficientBalance indicates the vault's available balance cannot
	// fund the requested reservation.
	ErrInsufficientBalance = errors.New("insufficient available balance")

	// ErrPositionTerminal indicates the position is CLOSED or LIQUIDATED and
	// can no longer be mutated.
	ErrPositionTerminal = errors.New("position is terminal")

	// ErrInvalidPrice indicates a non-positive price was supplied.
	ErrInvalidPrice = errors.New("price must be positive")
)
