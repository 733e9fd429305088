package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// UpdateOutcome is the structured result of processing one price update.
// Actions is the human-readable audit trail: every state change — and every
// sub-action skipped on a funding rejection — leaves an entry.
type UpdateOutcome struct {
	PositionID       string
	VaultID          string
	Symbol           string
	Price            decimal.Decimal
	UnrealizedPnL    decimal.Decimal
	UnrealizedPnLPct decimal.Decimal
	MaxPrice         decimal.Decimal
	TrailingStop     decimal.Decimal
	Stage            Stage
	Status           PositionStatus
	Actions          []string
	ProcessedAt      time.Time
}

// Changed reports whether the update mutated the position.
func (o *UpdateOutcome) Changed() bool {
	return len(o.Actions) > 0
}

// PriceTick is one observation from the external price feed.
type PriceTick struct {
	Symbol string
	Price  decimal.Decimal
	At     time.Time
}

// PositionSnapshot is a read-only view of a position for status reporting.
type PositionSnapshot struct {
	ID              string
	Symbol          string
	Stage           Stage
	Status          PositionStatus
	EntryPrice      decimal.Decimal
	Size            decimal.Decimal
	MarginInvested  decimal.Decimal
	Leverage        decimal.Decimal
	MaxPriceReached decimal.Decimal
	TrailingStop    decimal.Decimal
	RealizedPnL     decimal.Decimal
	OpenedAt        time.Time
}

// VaultStatus is the exposed per-vault view: balances plus open positions.
type VaultStatus struct {
	VaultID          string
	Name             string
	TotalBalance     decimal.Decimal
	AvailableBalance decimal.Decimal
	ReservedBalance  decimal.Decimal
	Positions        []PositionSnapshot
}

// Snapshot builds the reporting view of a position.
func (p *Position) Snapshot() PositionSnapshot {
	return PositionSnapshot{
		ID:              p.ID,
		Symbol:          p.Symbol,
		Stage:           p.Stage,
		Status:          p.Status,
		EntryPrice:      p.EntryPrice,
		Size:            p.Size,
		MarginInvested:  p.MarginInvested,
		Leverage:        p.Leverage,
		MaxPriceReached: p.MaxPriceReached,
		TrailingStop:    p.TrailingStop,
		RealizedPnL:     p.RealizedPnL,
		OpenedAt:        p.OpenedAt,
	}
}
