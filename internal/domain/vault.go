package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaxPositionsPerVault is the hard cap of concurrently open positions.
const MaxPositionsPerVault = 2

// Vault is an isolated capital pool. TotalBalance == AvailableBalance +
// ReservedBalance holds after every mutation; the engine serializes access
// with a per-vault lock, the struct itself carries no synchronization.
type Vault struct {
	ID               string
	Name             string
	TotalBalance     decimal.Decimal
	AvailableBalance decimal.Decimal
	ReservedBalance  decimal.Decimal
	MaxPositions     int
	PositionIDs      []string // currently open positions
	CreatedAt        time.Time
}

// NewVault creates a vault with the full initial balance available.
func NewVault(name string, initialBalance decimal.Decimal) *Vault {
	return &Vault{
		ID:               uuid.NewString(),
		Name:             name,
		TotalBalance:     initialBalance,
		AvailableBalance: initialBalance,
		ReservedBalance:  decimal.Zero,
		MaxPositions:     MaxPositionsPerVault,
		CreatedAt:        time.Now().UTC(),
	}
}

// CanOpenPosition reports whether the vault has a free position slot.
func (v *Vault) CanOpenPosition() bool {
	return len(v.PositionIDs) < v.MaxPositions
}

// Reserve moves amount from available to reserved. Fails without side
// effects if the available balance cannot cover it.
func (v *Vault) Reserve(amount decimal.Decimal) error {
	if amount.GreaterThan(v.AvailableBalance) {
		return ErrInsufficientBalance
	}
	v.AvailableBalance = v.AvailableBalance.Sub(amount)
	v.ReservedBalance = v.ReservedBalance.Add(amount)
	return nil
}

// Release returns previously reserved margin to the available balance.
func (v *Vault) Release(amount decimal.Decimal) {
	v.ReservedBalance = v.ReservedBalance.Sub(amount)
	v.AvailableBalance = v.AvailableBalance.Add(amount)
}

// Realize credits (or debits, if negative) realized P&L. Both total and
// available move by the same amount so the ledger invariant holds.
func (v *Vault) Realize(pnl decimal.Decimal) {
	v.AvailableBalance = v.AvailableBalance.Add(pnl)
	v.TotalBalance = v.TotalBalance.Add(pnl)
}

// Forfeit burns reserved margin lost to a liquidation.
func (v *Vault) Forfeit(amount decimal.Decimal) {
	v.ReservedBalance = v.ReservedBalance.Sub(amount)
	v.TotalBalance = v.TotalBalance.Sub(amount)
}

// AttachPosition registers an open position on the vault.
func (v *Vault) AttachPosition(positionID string) {
	v.PositionIDs = append(v.PositionIDs, positionID)
}

// DetachPosition removes a position from the vault's active set.
func (v *Vault) DetachPosition(positionID string) {
	for i, id := range v.PositionIDs {
		if id == positionID {
			v.PositionIDs = append(v.PositionIDs[:i], v.PositionIDs[i+1:]...)
			return
		}
	}
}

// Balanced reports whether total == available + reserved. Violations are
// treated as fatal by the engine — they mean a mutation escaped the ledger.
func (v *Vault) Balanced() bool {
	return v.TotalBalance.Equal(v.AvailableBalance.Add(v.ReservedBalance))
}
