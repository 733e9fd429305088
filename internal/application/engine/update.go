package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/vaultd/internal/domain"
)

// Policy knobs of the state machine. The stage margin/leverage table lives in
// domain; these govern the profit-taking and defense rules around it.
var (
	// first take-profit fires at 175% return on invested margin
	takeProfitMultiple = decimal.NewFromFloat(1.75)
	// half of the remaining notional closes on the first take-profit
	firstCloseFraction = decimal.NewFromFloat(0.5)
	// trailing stop rides 2% under the high-water mark
	trailingStopFactor = decimal.NewFromFloat(0.98)
	// a resistance cluster within 0.1% counts as touched
	clusterExitTolerance = decimal.NewFromFloat(0.001)
	// emergency top-up: 15% of vault balance, non-leveraged
	emergencyMarginPct = decimal.NewFromFloat(0.15)
	// emergency zone: price within 1% above the liquidation price
	liquidationBuffer = decimal.NewFromFloat(1.01)

	one = decimal.NewFromInt(1)
)

// UpdatePosition processes one price tick against the position, evaluating
// the transitions in fixed order: liquidation, trailing stop, cluster exit,
// first take-profit, high-water mark, stage escalation, emergency margin.
// A terminal position yields an unchanged outcome, not an error. A funding
// rejection on escalation or emergency margin skips that sub-action only and
// is recorded in the audit trail.
func (e *Engine) UpdatePosition(ctx context.Context, positionID string, price decimal.Decimal) (*domain.UpdateOutcome, error) {
	if !price.IsPositive() {
		return nil, fmt.Errorf("engine.UpdatePosition: price %s: %w", price, domain.ErrInvalidPrice)
	}

	ps := e.positionState(positionID)
	if ps == nil {
		return nil, fmt.Errorf("engine.UpdatePosition: position %s: %w", positionID, domain.ErrPositionNotFound)
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	p := ps.p

	// Terminal positions are immutable: same no-op outcome every time.
	if p.Status.Terminal() {
		slog.Debug("engine: update on terminal position ignored", "position", p.ID, "status", p.Status)
		return e.newOutcome(p, price), nil
	}

	vs := e.vaultState(p.VaultID)
	if vs == nil {
		return nil, fmt.Errorf("engine.UpdatePosition: vault %s: %w", p.VaultID, domain.ErrVaultNotFound)
	}

	p.LastPrice = price
	outcome := e.newOutcome(p, price)
	e.evaluate(vs, p, price, outcome)

	// The ledger invariant must hold after every transition; a violation
	// means a mutation escaped the vault methods and nothing is persisted.
	vs.mu.Lock()
	balanced := vs.v.Balanced()
	vs.mu.Unlock()
	if !balanced {
		return nil, fmt.Errorf("engine.UpdatePosition: vault %s ledger invariant violated after update", p.VaultID)
	}

	e.finalize(ctx, vs, p, outcome)
	return outcome, nil
}

// evaluate runs the transition checks in their fixed order. It mutates the
// position and vault and records every change in the outcome's audit trail.
func (e *Engine) evaluate(vs *vaultState, p *domain.Position, price decimal.Decimal, outcome *domain.UpdateOutcome) {
	now := time.Now().UTC()

	// 0. Margin exhausted → liquidation. The reserved margin is lost.
	if liq := p.LiquidationPrice(); liq.IsPositive() && price.LessThanOrEqual(liq) {
		lost := p.MarginInvested
		vs.mu.Lock()
		vs.v.Forfeit(lost)
		vs.v.DetachPosition(p.ID)
		vs.mu.Unlock()

		p.RealizedPnL = p.RealizedPnL.Sub(lost)
		p.MarginInvested = decimal.Zero
		p.Size = decimal.Zero
		p.PartialClosePct = one
		p.MarkClosed(domain.StatusLiquidated, now)

		outcome.Actions = append(outcome.Actions,
			fmt.Sprintf("LIQUIDATED at %s (liq price %s): margin %s lost", price, liq, lost))
		e.fill(outcome, p, price)
		return
	}

	// 1. Trailing stop (only armed after the first take-profit).
	if p.FirstTakeProfitDone && p.TrailingStop.IsPositive() && price.LessThanOrEqual(p.TrailingStop) {
		e.closeRemaining(vs, p, price, fmt.Sprintf("trailing stop %s hit", p.TrailingStop), outcome)
		e.fill(outcome, p, price)
		return
	}

	// 2. Cluster exit: once protected by the trailing stop, a resistance
	// cluster within tolerance is a high-confidence exit target.
	if p.FirstTakeProfitDone {
		if lvl, ok := nearbyClusterAbove(p, price); ok {
			e.closeRemaining(vs, p, price,
				fmt.Sprintf("resistance cluster %s within %s%%", lvl.Price, clusterExitTolerance.Mul(decimal.NewFromInt(100))), outcome)
			e.fill(outcome, p, price)
			return
		}
	}

	// 3. First take-profit: 175% return on margin → close half, arm the stop.
	if !p.FirstTakeProfitDone {
		target := p.MarginInvested.Mul(takeProfitMultiple)
		if pnl := p.UnrealizedPnL(price); pnl.GreaterThanOrEqual(target) {
			released, realized := p.ReduceBy(firstCloseFraction, price)

			vs.mu.Lock()
			vs.v.Release(released)
			vs.v.Realize(realized)
			vs.mu.Unlock()

			p.FirstTakeProfitDone = true
			p.Status = domain.StatusPartialClosed
			p.TrailingStop = price.Mul(trailingStopFactor)

			outcome.Actions = append(outcome.Actions,
				fmt.Sprintf("first take-profit: closed 50%% at %s, realized %s, trailing stop armed at %s",
					price, realized, p.TrailingStop))
		}
	}

	// 4. High-water mark: monotonic; drags the trailing stop up when armed.
	if price.GreaterThan(p.MaxPriceReached) {
		p.MaxPriceReached = price
		if p.FirstTakeProfitDone {
			p.TrailingStop = p.MaxPriceReached.Mul(trailingStopFactor)
			outcome.Actions = append(outcome.Actions,
				fmt.Sprintf("new high %s, trailing stop raised to %s", price, p.TrailingStop))
		}
	}

	// 5. Stage escalation: the Nth below-cluster triggers stage N+1.
	if p.Stage < domain.Stage4 {
		if lvl, ok := escalationTrigger(p, price); ok {
			next := p.Stage + 1
			vs.mu.Lock()
			addMargin := vs.v.TotalBalance.Mul(next.MarginPercent())
			err := vs.v.Reserve(addMargin)
			vs.mu.Unlock()

			if err != nil {
				// Degraded but stable: skip the escalation, keep the rest.
				outcome.Actions = append(outcome.Actions,
					fmt.Sprintf("stage %d escalation skipped: insufficient balance for %s", next, addMargin))
				slog.Warn("engine: escalation not funded",
					"position", p.ID, "stage", int(next), "margin", addMargin)
			} else {
				prevEntry := p.EntryPrice
				p.Escalate(price, addMargin)
				outcome.Actions = append(outcome.Actions,
					fmt.Sprintf("stage %d: cluster %s crossed, added margin %s at %sx, entry %s → %s",
						p.Stage, lvl.Price, addMargin, p.Leverage, prevEntry, p.EntryPrice))
			}
		}
	}

	// 6. Emergency margin: within 1% of liquidation, top up 15% of balance
	// without touching stage or leverage.
	if liq := p.LiquidationPrice(); liq.IsPositive() && price.LessThanOrEqual(liq.Mul(liquidationBuffer)) {
		vs.mu.Lock()
		topUp := vs.v.TotalBalance.Mul(emergencyMarginPct)
		err := vs.v.Reserve(topUp)
		vs.mu.Unlock()

		if err != nil {
			outcome.Actions = append(outcome.Actions,
				fmt.Sprintf("emergency margin skipped: insufficient balance for %s", topUp))
			slog.Warn("engine: emergency margin not funded", "position", p.ID, "amount", topUp)
		} else {
			p.AddMargin(topUp)
			outcome.Actions = append(outcome.Actions,
				fmt.Sprintf("emergency margin: reserved %s, liquidation price %s → %s",
					topUp, liq, p.LiquidationPrice()))
		}
	}

	e.fill(outcome, p, price)
}

// closeRemaining closes 100% of the remaining notional at price and settles
// margin and P&L against the vault. Caller holds the position lock.
func (e *Engine) closeRemaining(vs *vaultState, p *domain.Position, price decimal.Decimal, reason string, outcome *domain.UpdateOutcome) {
	released, realized := p.ReduceBy(one, price)

	vs.mu.Lock()
	vs.v.Release(released)
	vs.v.Realize(realized)
	vs.v.DetachPosition(p.ID)
	vs.mu.Unlock()

	p.MarkClosed(domain.StatusClosed, time.Now().UTC())

	outcome.Actions = append(outcome.Actions,
		fmt.Sprintf("closed at %s (%s): released margin %s, realized pnl %s",
			price, reason, released, realized))
}

// finalize persists the mutated state and publishes the outcome. Storage and
// notifier failures are logged, never fatal — the in-memory state already
// moved on.
func (e *Engine) finalize(ctx context.Context, vs *vaultState, p *domain.Position, outcome *domain.UpdateOutcome) {
	if err := e.persistPosition(ctx, p); err != nil {
		slog.Warn("engine: error persisting position", "position", p.ID, "err", err)
	}

	// Persist a copy taken under the lock: an update on the vault's other
	// position may mutate the balances while the store reads them.
	vs.mu.Lock()
	snapshot := *vs.v
	snapshot.PositionIDs = append([]string(nil), vs.v.PositionIDs...)
	vs.mu.Unlock()
	if err := e.persistVault(ctx, &snapshot); err != nil {
		slog.Warn("engine: error persisting vault", "vault", snapshot.ID, "err", err)
	}

	if err := e.store.SaveOutcome(ctx, outcome); err != nil {
		slog.Warn("engine: error persisting outcome", "position", p.ID, "err", err)
	}

	if e.notifier != nil && outcome.Changed() {
		if err := e.notifier.Notify(ctx, outcome); err != nil {
			slog.Warn("engine: notifier error", "err", err)
		}
	}
}

// newOutcome seeds the outcome with the position's current view at price.
func (e *Engine) newOutcome(p *domain.Position, price decimal.Decimal) *domain.UpdateOutcome {
	o := &domain.UpdateOutcome{
		PositionID:  p.ID,
		VaultID:     p.VaultID,
		Symbol:      p.Symbol,
		Price:       price,
		ProcessedAt: time.Now().UTC(),
	}
	e.fill(o, p, price)
	return o
}

// fill refreshes the outcome's derived fields after mutations.
func (e *Engine) fill(o *domain.UpdateOutcome, p *domain.Position, price decimal.Decimal) {
	o.UnrealizedPnL = p.UnrealizedPnL(price)
	o.UnrealizedPnLPct = p.UnrealizedPnLPercent(price)
	o.MaxPrice = p.MaxPriceReached
	o.TrailingStop = p.TrailingStop
	o.Stage = p.Stage
	o.Status = p.Status
}

// nearbyClusterAbove returns the first resistance cluster within the exit
// tolerance of price, if any.
func nearbyClusterAbove(p *domain.Position, price decimal.Decimal) (domain.ClusterLevel, bool) {
	cs := p.Clusters()
	if cs == nil {
		return domain.ClusterLevel{}, false
	}
	for _, lvl := range cs.Above {
		if lvl.Price.IsZero() {
			continue
		}
		dist := price.Sub(lvl.Price).Abs().Div(lvl.Price)
		if dist.LessThanOrEqual(clusterExitTolerance) {
			return lvl, true
		}
	}
	return domain.ClusterLevel{}, false
}

// escalationTrigger maps the current stage to its below-cluster: the first
// below-cluster arms stage 2, the second stage 3, the third stage 4. Returns
// the crossed level when price is at or under it.
func escalationTrigger(p *domain.Position, price decimal.Decimal) (domain.ClusterLevel, bool) {
	cs := p.Clusters()
	if cs == nil {
		return domain.ClusterLevel{}, false
	}
	idx := int(p.Stage) - 1
	if idx < 0 || idx >= len(cs.Below) {
		return domain.ClusterLevel{}, false
	}
	lvl := cs.Below[idx]
	if price.LessThanOrEqual(lvl.Price) {
		return lvl, true
	}
	return domain.ClusterLevel{}, false
}
