package domain

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Stage is one of the four margin-escalation tiers. Escalation is
// one-directional: the stage value never decreases over a position's life.
type Stage int

const (
	Stage1 Stage = 1
	Stage2 Stage = 2
	Stage3 Stage = 3
	Stage4 Stage = 4
)

// Margin percentages of the vault balance and effective leverage per stage.
// Each escalation doubles the capital committed at half the leverage, so the
// added notional stays constant while the liquidation price moves away.
var (
	stageMarginPct = map[Stage]decimal.Decimal{
		Stage1: decimal.NewFromFloat(0.02),
		Stage2: decimal.NewFromFloat(0.04),
		Stage3: decimal.NewFromFloat(0.08),
		Stage4: decimal.NewFromFloat(0.16),
	}
	stageLeverage = map[Stage]decimal.Decimal{
		Stage1: decimal.NewFromInt(20),
		Stage2: decimal.NewFromInt(10),
		Stage3: decimal.NewFromInt(5),
		Stage4: decimal.NewFromInt(2),
	}
)

// MarginPercent devuelve la fracción del balance del vault que compromete
// esta etapa (2%, 4%, 8%, 16%).
func (s Stage) MarginPercent() decimal.Decimal { return stageMarginPct[s] }

// Leverage devuelve el apalancamiento efectivo de la etapa (20x, 10x, 5x, 2x).
func (s Stage) Leverage() decimal.Decimal { return stageLeverage[s] }

// PositionStatus is the position lifecycle state.
type PositionStatus string

const (
	StatusOpen          PositionStatus = "OPEN"
	StatusPartialClosed PositionStatus = "PARTIAL_CLOSED"
	StatusClosed        PositionStatus = "CLOSED"
	StatusLiquidated    PositionStatus = "LIQUIDATED"
)

// Terminal reports whether the status admits no further transitions.
func (s PositionStatus) Terminal() bool {
	return s == StatusClosed || s == StatusLiquidated
}

// Position is a leveraged long position owned by exactly one vault.
//
// All fields except the cluster set are mutated only by the position's own
// serialized update path. The cluster set lives behind an atomic pointer so
// the background refresher can swap it while a price update is in flight.
type Position struct {
	ID      string
	VaultID string
	Symbol  string

	Stage    Stage
	Status   PositionStatus
	Leverage decimal.Decimal

	// EntryPrice is the notional-weighted average across all fills.
	EntryPrice decimal.Decimal
	// MarginInvested is the capital currently reserved from the vault for
	// this position. It shrinks on partial closes and grows on escalations
	// and emergency top-ups, so it always equals the vault-side reservation.
	MarginInvested decimal.Decimal
	// Size is the remaining open notional.
	Size decimal.Decimal

	FirstTakeProfitDone bool
	PartialClosePct     decimal.Decimal
	// MaxPriceReached is the high-water mark since the position opened.
	MaxPriceReached decimal.Decimal
	// TrailingStop is derived from MaxPriceReached, set only once the first
	// take-profit armed it. Always strictly below MaxPriceReached.
	TrailingStop decimal.Decimal

	RealizedPnL decimal.Decimal
	// LastPrice is the price of the most recent processed update; the
	// refresher uses it to split fresh cluster levels into above/below.
	LastPrice decimal.Decimal
	OpenedAt  time.Time
	ClosedAt  *time.Time

	clusters atomic.Pointer[ClusterSet]
}

// NewPosition opens a stage-1 position. margin is the capital reserved from
// the vault; the caller performs the reservation before constructing.
func NewPosition(vaultID, symbol string, entryPrice, margin decimal.Decimal) *Position {
	lev := Stage1.Leverage()
	return &Position{
		ID:              uuid.NewString(),
		VaultID:         vaultID,
		Symbol:          symbol,
		Stage:           Stage1,
		Status:          StatusOpen,
		Leverage:        lev,
		EntryPrice:      entryPrice,
		MarginInvested:  margin,
		Size:            margin.Mul(lev),
		PartialClosePct: decimal.Zero,
		MaxPriceReached: entryPrice,
		LastPrice:       entryPrice,
		OpenedAt:        time.Now().UTC(),
	}
}

// Clusters returns the current cluster set, nil before the first refresh.
func (p *Position) Clusters() *ClusterSet {
	return p.clusters.Load()
}

// SwapClusters atomically replaces the cached cluster set. Safe to call
// concurrently with a price update on the same position.
func (p *Position) SwapClusters(cs *ClusterSet) {
	p.clusters.Store(cs)
}

// LastClusterRefresh returns when the cached levels were fetched, zero if
// never refreshed.
func (p *Position) LastClusterRefresh() time.Time {
	if cs := p.clusters.Load(); cs != nil {
		return cs.RefreshedAt
	}
	return time.Time{}
}

// UnrealizedPnL is the P&L of the remaining open notional at price.
func (p *Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	if p.EntryPrice.IsZero() || p.Size.IsZero() {
		return decimal.Zero
	}
	return price.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(p.Size)
}

// UnrealizedPnLPercent is the unrealized P&L as a percentage of the margin
// currently invested — the return the trader sees on committed capital.
func (p *Position) UnrealizedPnLPercent(price decimal.Decimal) decimal.Decimal {
	if p.MarginInvested.IsZero() {
		return decimal.Zero
	}
	return p.UnrealizedPnL(price).Div(p.MarginInvested).Mul(decimal.NewFromInt(100))
}

// LiquidationPrice is the price at which the remaining margin is exhausted:
// entry × (1 − margin/size). Emergency margin raises margin without touching
// size, pushing this further below the market.
func (p *Position) LiquidationPrice() decimal.Decimal {
	if p.Size.IsZero() {
		return decimal.Zero
	}
	ratio := p.MarginInvested.Div(p.Size)
	return p.EntryPrice.Mul(decimal.NewFromInt(1).Sub(ratio))
}

// Escalate commits addMargin at the next stage's leverage and recomputes the
// entry price as the notional-weighted average of old and new fills.
func (p *Position) Escalate(price, addMargin decimal.Decimal) {
	next := p.Stage + 1
	lev := next.Leverage()
	addSize := addMargin.Mul(lev)

	oldNotional := p.EntryPrice.Mul(p.Size)
	newNotional := price.Mul(addSize)
	total := p.Size.Add(addSize)
	p.EntryPrice = oldNotional.Add(newNotional).Div(total)

	p.Size = total
	p.MarginInvested = p.MarginInvested.Add(addMargin)
	p.Stage = next
	p.Leverage = lev
}

// ReduceBy closes fraction f of the remaining notional, returning the margin
// released and the P&L realized at price. The caller settles both against
// the vault.
func (p *Position) ReduceBy(f, price decimal.Decimal) (releasedMargin, realized decimal.Decimal) {
	releasedMargin = p.MarginInvested.Mul(f)
	realized = p.UnrealizedPnL(price).Mul(f)

	p.MarginInvested = p.MarginInvested.Sub(releasedMargin)
	p.Size = p.Size.Sub(p.Size.Mul(f))
	p.RealizedPnL = p.RealizedPnL.Add(realized)

	one := decimal.NewFromInt(1)
	// closed fraction accumulates: pct' = pct + (1-pct)*f
	p.PartialClosePct = p.PartialClosePct.Add(one.Sub(p.PartialClosePct).Mul(f))
	return releasedMargin, realized
}

// AddMargin reserves additional non-leveraged margin on the position.
// Size, stage and leverage stay untouched; only the liquidation price moves.
func (p *Position) AddMargin(amount decimal.Decimal) {
	p.MarginInvested = p.MarginInvested.Add(amount)
}

// MarkClosed stamps the terminal status and close time.
func (p *Position) MarkClosed(status PositionStatus, now time.Time) {
	p.Status = status
	p.ClosedAt = &now
}
