package engine

import (
	"context"
	"fmt"
	"log/slog"
)

// Run consumes the price feed until the context is cancelled, driving every
// open position of the tick's symbol through the state machine. The cluster
// refresh scheduler runs alongside and is stopped on the way out.
func (e *Engine) Run(ctx context.Context) error {
	if e.feed == nil {
		return fmt.Errorf("engine.Run: no price feed configured")
	}

	ticks, err := e.feed.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("engine.Run: subscribe feed: %w", err)
	}

	e.refresher.Start(ctx)
	defer e.refresher.Stop()

	slog.Info("engine: running", "refresh_tick", e.cfg.RefreshTick)

	for {
		select {
		case <-ctx.Done():
			slog.Info("engine: stopped")
			return nil
		case tick, ok := <-ticks:
			if !ok {
				slog.Info("engine: price feed closed")
				return nil
			}
			for _, ps := range e.openPositionStates(tick.Symbol) {
				ps.mu.Lock()
				id := ps.p.ID
				ps.mu.Unlock()

				outcome, err := e.UpdatePosition(ctx, id, tick.Price)
				if err != nil {
					slog.Error("engine: update failed", "position", id, "err", err)
					continue
				}
				if outcome.Changed() {
					slog.Info("engine: position updated",
						"position", id,
						"symbol", tick.Symbol,
						"price", tick.Price,
						"status", outcome.Status,
						"actions", len(outcome.Actions),
					)
				}
			}
		}
	}
}
