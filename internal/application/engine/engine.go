package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/vaultd/internal/domain"
	"github.com/alejandrodnm/vaultd/internal/ports"
)

const (
	defaultRefreshTick    = 30 * time.Second
	defaultClusterMaxAge  = 10 * time.Minute
	defaultLedgerTimeout  = 5 * time.Second
	defaultRefreshWorkers = 4
)

// Config holds the engine's tunables. Zero values fall back to defaults.
type Config struct {
	RefreshTick    time.Duration // cluster refresh scheduler tick
	ClusterMaxAge  time.Duration // per-position cluster staleness threshold
	LedgerTimeout  time.Duration // timeout on ledger persistence per mutation
	RefreshWorkers int           // concurrent oracle fetches per refresh cycle
}

// vaultState pairs a vault with its lock. Updates to different positions of
// the same vault run concurrently but serialize on this lock for any balance
// mutation.
type vaultState struct {
	mu sync.Mutex
	v  *domain.Vault
}

// positionState pairs a position with its lock. Every price update on the
// position runs under it, start to finish — the state machine is a critical
// section per position.
type positionState struct {
	mu sync.Mutex
	p  *domain.Position
}

// Engine owns the vault and position working set and drives the position
// lifecycle: open, staged escalation, profit taking, trailing stop, cluster
// exit, liquidation. One explicitly constructed instance per process; tests
// build as many isolated instances as they need.
type Engine struct {
	store    ports.Storage
	oracle   ports.ClusterOracle
	notifier ports.Notifier
	feed     ports.PriceFeed
	cfg      Config

	mu        sync.RWMutex
	vaults    map[string]*vaultState
	positions map[string]*positionState

	refresher *Refresher
}

// New builds an engine with injected collaborators. notifier and feed may be
// nil (headless/test use); store and oracle are required.
func New(store ports.Storage, oracle ports.ClusterOracle, notifier ports.Notifier, feed ports.PriceFeed, cfg Config) *Engine {
	if cfg.RefreshTick <= 0 {
		cfg.RefreshTick = defaultRefreshTick
	}
	if cfg.ClusterMaxAge <= 0 {
		cfg.ClusterMaxAge = defaultClusterMaxAge
	}
	if cfg.LedgerTimeout <= 0 {
		cfg.LedgerTimeout = defaultLedgerTimeout
	}
	if cfg.RefreshWorkers <= 0 {
		cfg.RefreshWorkers = defaultRefreshWorkers
	}

	e := &Engine{
		store:     store,
		oracle:    oracle,
		notifier:  notifier,
		feed:      feed,
		cfg:       cfg,
		vaults:    make(map[string]*vaultState),
		positions: make(map[string]*positionState),
	}
	e.refresher = newRefresher(e)
	return e
}

// Restore loads persisted vaults and open positions into the working set.
// Cluster levels are not persisted; the refresher refetches them on its
// first tick after a restart.
func (e *Engine) Restore(ctx context.Context) error {
	vaults, err := e.store.ListVaults(ctx)
	if err != nil {
		return fmt.Errorf("engine.Restore: list vaults: %w", err)
	}
	positions, err := e.store.ListOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("engine.Restore: list positions: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, v := range vaults {
		e.vaults[v.ID] = &vaultState{v: v}
	}
	for _, p := range positions {
		e.positions[p.ID] = &positionState{p: p}
	}

	slog.Info("engine: state restored", "vaults", len(vaults), "open_positions", len(positions))
	return nil
}

// CreateVault registers a new capital pool with the given initial balance.
func (e *Engine) CreateVault(ctx context.Context, name string, initialBalance decimal.Decimal) (*domain.Vault, error) {
	if !initialBalance.IsPositive() {
		return nil, fmt.Errorf("engine.CreateVault: initial balance %s: %w", initialBalance, domain.ErrInvalidPrice)
	}

	v := domain.NewVault(name, initialBalance)
	if err := e.persistVault(ctx, v); err != nil {
		return nil, fmt.Errorf("engine.CreateVault: %w", err)
	}

	e.mu.Lock()
	e.vaults[v.ID] = &vaultState{v: v}
	e.mu.Unlock()

	slog.Info("engine: vault created", "vault", v.ID, "name", name, "balance", initialBalance)
	return v, nil
}

// OpenPosition opens a stage-1 position against the vault: 2% of the vault
// balance at 20x leverage. Fails fast with no side effects when the vault is
// at capacity or cannot fund the initial margin.
func (e *Engine) OpenPosition(ctx context.Context, vaultID, symbol string, entryPrice decimal.Decimal) (*domain.Position, error) {
	if !entryPrice.IsPositive() {
		return nil, fmt.Errorf("engine.OpenPosition: entry %s: %w", entryPrice, domain.ErrInvalidPrice)
	}

	vs := e.vaultState(vaultID)
	if vs == nil {
		return nil, fmt.Errorf("engine.OpenPosition: vault %s: %w", vaultID, domain.ErrVaultNotFound)
	}

	// Best-effort initial cluster fetch so escalation targets exist before
	// the first scheduler tick. It runs before taking the balance lock:
	// oracle retries must never stall updates on the vault's other position.
	// A failure just leaves the set empty.
	var clusters *domain.ClusterSet
	if cs, err := e.oracle.GetLevels(ctx, symbol, entryPrice); err != nil {
		slog.Warn("engine: initial cluster fetch failed", "symbol", symbol, "err", err)
	} else {
		clusters = cs
	}

	vs.mu.Lock()
	defer vs.mu.Unlock()

	if !vs.v.CanOpenPosition() {
		return nil, fmt.Errorf("engine.OpenPosition: vault %s has %d positions: %w",
			vaultID, len(vs.v.PositionIDs), domain.ErrVaultAtCapacity)
	}

	margin := vs.v.TotalBalance.Mul(domain.Stage1.MarginPercent())
	if err := vs.v.Reserve(margin); err != nil {
		return nil, fmt.Errorf("engine.OpenPosition: reserve %s: %w", margin, err)
	}

	p := domain.NewPosition(vaultID, symbol, entryPrice, margin)
	vs.v.AttachPosition(p.ID)
	if clusters != nil {
		p.SwapClusters(clusters)
	}

	e.mu.Lock()
	e.positions[p.ID] = &positionState{p: p}
	e.mu.Unlock()

	if err := e.persistVault(ctx, vs.v); err != nil {
		slog.Warn("engine: error persisting vault", "vault", vaultID, "err", err)
	}
	if err := e.persistPosition(ctx, p); err != nil {
		slog.Warn("engine: error persisting position", "position", p.ID, "err", err)
	}

	slog.Info("engine: position opened",
		"position", p.ID,
		"vault", vaultID,
		"symbol", symbol,
		"entry", entryPrice,
		"margin", margin,
		"leverage", p.Leverage,
		"size", p.Size,
	)
	return p, nil
}

// ClosePosition closes the full remaining position at the given price
// (manual exit, outside the automated rules).
func (e *Engine) ClosePosition(ctx context.Context, positionID string, price decimal.Decimal) (*domain.UpdateOutcome, error) {
	if !price.IsPositive() {
		return nil, fmt.Errorf("engine.ClosePosition: price %s: %w", price, domain.ErrInvalidPrice)
	}

	ps := e.positionState(positionID)
	if ps == nil {
		return nil, fmt.Errorf("engine.ClosePosition: position %s: %w", positionID, domain.ErrPositionNotFound)
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.p.Status.Terminal() {
		return nil, fmt.Errorf("engine.ClosePosition: position %s is %s: %w",
			positionID, ps.p.Status, domain.ErrPositionTerminal)
	}

	vs := e.vaultState(ps.p.VaultID)
	if vs == nil {
		return nil, fmt.Errorf("engine.ClosePosition: vault %s: %w", ps.p.VaultID, domain.ErrVaultNotFound)
	}

	outcome := e.newOutcome(ps.p, price)
	e.closeRemaining(vs, ps.p, price, "manual close", outcome)
	e.finalize(ctx, vs, ps.p, outcome)
	return outcome, nil
}

// RefreshClusters runs one cluster refresh cycle immediately, outside the
// scheduler, and returns how many positions got fresh levels.
func (e *Engine) RefreshClusters(ctx context.Context) int {
	return e.refresher.RunOnce(ctx)
}

// VaultStatus returns the vault balances plus snapshots of its positions.
func (e *Engine) VaultStatus(ctx context.Context, vaultID string) (*domain.VaultStatus, error) {
	vs := e.vaultState(vaultID)
	if vs == nil {
		return nil, fmt.Errorf("engine.VaultStatus: vault %s: %w", vaultID, domain.ErrVaultNotFound)
	}

	vs.mu.Lock()
	status := &domain.VaultStatus{
		VaultID:          vs.v.ID,
		Name:             vs.v.Name,
		TotalBalance:     vs.v.TotalBalance,
		AvailableBalance: vs.v.AvailableBalance,
		ReservedBalance:  vs.v.ReservedBalance,
	}
	ids := append([]string(nil), vs.v.PositionIDs...)
	vs.mu.Unlock()

	for _, id := range ids {
		ps := e.positionState(id)
		if ps == nil {
			continue
		}
		ps.mu.Lock()
		status.Positions = append(status.Positions, ps.p.Snapshot())
		ps.mu.Unlock()
	}
	return status, nil
}

// --- working set access ---

func (e *Engine) vaultState(id string) *vaultState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.vaults[id]
}

func (e *Engine) positionState(id string) *positionState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.positions[id]
}

// openPositionStates returns the states of all non-terminal positions,
// optionally filtered by symbol ("" = all).
func (e *Engine) openPositionStates(symbol string) []*positionState {
	// Snapshot under the map lock, filter outside it: never hold e.mu while
	// taking a position lock (a price update holds them in the other order).
	e.mu.RLock()
	all := make([]*positionState, 0, len(e.positions))
	for _, ps := range e.positions {
		all = append(all, ps)
	}
	e.mu.RUnlock()

	var out []*positionState
	for _, ps := range all {
		ps.mu.Lock()
		skip := (symbol != "" && ps.p.Symbol != symbol) || ps.p.Status.Terminal()
		ps.mu.Unlock()
		if skip {
			continue
		}
		out = append(out, ps)
	}
	return out
}

// --- persistence ---

// persistVault writes the vault under the ledger timeout. The in-memory
// state is authoritative; persistence failures are surfaced to the caller
// and logged, never rolled back.
func (e *Engine) persistVault(ctx context.Context, v *domain.Vault) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.LedgerTimeout)
	defer cancel()
	return e.store.SaveVault(ctx, v)
}

func (e *Engine) persistPosition(ctx context.Context, p *domain.Position) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.LedgerTimeout)
	defer cancel()
	return e.store.SavePosition(ctx, p)
}
