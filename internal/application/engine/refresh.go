package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Refresher re-polls the cluster oracle for every open position whose cached
// levels are older than the staleness threshold, and atomically swaps the new
// set in. Oracle failures keep the previous levels and retry next tick.
//
// The engine starts and stops it; it never outlives its owner.
type Refresher struct {
	eng *Engine

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newRefresher(e *Engine) *Refresher {
	return &Refresher{eng: e}
}

// Start launches the background loop. Safe to call once per engine run.
func (r *Refresher) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx)
	}()
}

// Stop cancels the loop and waits for any in-flight cycle to finish. No
// partial cluster swap is ever visible: swaps are whole-set and atomic.
func (r *Refresher) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Refresher) run(ctx context.Context) {
	slog.Info("refresh: scheduler starting",
		"tick", r.eng.cfg.RefreshTick,
		"max_age", r.eng.cfg.ClusterMaxAge,
		"workers", r.eng.cfg.RefreshWorkers,
	)

	ticker := time.NewTicker(r.eng.cfg.RefreshTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("refresh: scheduler stopped")
			return
		case <-ticker.C:
			refreshed := r.RunOnce(ctx)
			if refreshed > 0 {
				slog.Debug("refresh: cycle complete", "positions", refreshed)
			}
		}
	}
}

// RunOnce refreshes every open position with stale clusters and returns how
// many were updated. Fetches fan out over a small worker pool so one slow
// oracle call does not stall the cycle.
func (r *Refresher) RunOnce(ctx context.Context) int {
	now := time.Now().UTC()
	maxAge := r.eng.cfg.ClusterMaxAge

	var stale []*positionState
	for _, ps := range r.eng.openPositionStates("") {
		if ps.p.Clusters().Stale(maxAge, now) {
			stale = append(stale, ps)
		}
	}
	if len(stale) == 0 {
		return 0
	}

	workCh := make(chan *positionState, len(stale))
	refreshed := 0
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < r.eng.cfg.RefreshWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ps := range workCh {
				if r.refreshOne(ctx, ps) {
					mu.Lock()
					refreshed++
					mu.Unlock()
				}
			}
		}()
	}

	for _, ps := range stale {
		workCh <- ps
	}
	close(workCh)
	wg.Wait()

	return refreshed
}

// refreshOne fetches fresh levels for one position and swaps them in. The
// swap is a single atomic pointer store — it may race with a price update on
// the same position without ever exposing a half-written set.
func (r *Refresher) refreshOne(ctx context.Context, ps *positionState) bool {
	p := ps.p

	// Only the refPrice read needs the position lock; the fetch itself runs
	// outside it so a slow oracle never blocks price updates.
	ps.mu.Lock()
	refPrice := p.LastPrice
	if !refPrice.IsPositive() {
		refPrice = p.EntryPrice
	}
	ps.mu.Unlock()

	cs, err := r.eng.oracle.GetLevels(ctx, p.Symbol, refPrice)
	if err != nil {
		// Stale-data condition, not an error: keep the previous levels.
		slog.Warn("refresh: oracle fetch failed, keeping previous levels",
			"position", p.ID, "symbol", p.Symbol, "err", err)
		return false
	}

	p.SwapClusters(cs)
	slog.Debug("refresh: clusters updated",
		"position", p.ID,
		"symbol", p.Symbol,
		"above", len(cs.Above),
		"below", len(cs.Below),
	)
	return true
}
