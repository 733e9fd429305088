package storage

// sqlite.go — persistencia de vaults, posiciones y audit trail.
//
// Los importes se guardan como TEXT (decimal exacto, sin redondeo binario).
// Los cluster levels NO se persisten: el refresher los vuelve a pedir al
// oracle en el primer tick tras un reinicio, así que serializarlos solo
// añadiría datos stale.

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/vaultd/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS vaults (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL,
    total         TEXT NOT NULL,
    available     TEXT NOT NULL,
    reserved      TEXT NOT NULL,
    max_positions INTEGER NOT NULL,
    created_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
    id                TEXT PRIMARY KEY,
    vault_id          TEXT NOT NULL,
    symbol            TEXT NOT NULL,
    stage             INTEGER NOT NULL,
    status            TEXT NOT NULL,
    leverage          TEXT NOT NULL,
    entry_price       TEXT NOT NULL,
    margin_invested   TEXT NOT NULL,
    size              TEXT NOT NULL,
    first_tp          INTEGER NOT NULL DEFAULT 0,
    partial_close_pct TEXT NOT NULL,
    max_price         TEXT NOT NULL,
    trailing_stop     TEXT NOT NULL,
    realized_pnl      TEXT NOT NULL,
    last_price        TEXT NOT NULL,
    opened_at         DATETIME NOT NULL,
    closed_at         DATETIME
);

CREATE TABLE IF NOT EXISTS updates (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    position_id        TEXT NOT NULL,
    vault_id           TEXT NOT NULL,
    symbol             TEXT NOT NULL,
    price              TEXT NOT NULL,
    unrealized_pnl     TEXT NOT NULL,
    unrealized_pnl_pct TEXT NOT NULL,
    max_price          TEXT NOT NULL,
    trailing_stop      TEXT NOT NULL,
    stage              INTEGER NOT NULL,
    status             TEXT NOT NULL,
    actions            TEXT NOT NULL,
    processed_at       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_positions_vault  ON positions(vault_id);
CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);
CREATE INDEX IF NOT EXISTS idx_updates_position ON updates(position_id, processed_at DESC);
`

// SQLite implementa ports.Storage usando SQLite (pure Go, sin CGo).
type SQLite struct {
	db *sql.DB
}

// NewSQLite abre (o crea) la base de datos en la ruta dada y aplica el schema.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLite: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLite: apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) SaveVault(ctx context.Context, v *domain.Vault) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vaults (id, name, total, available, reserved, max_positions, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name      = excluded.name,
			total     = excluded.total,
			available = excluded.available,
			reserved  = excluded.reserved
	`,
		v.ID, v.Name, v.TotalBalance.String(), v.AvailableBalance.String(),
		v.ReservedBalance.String(), v.MaxPositions, v.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveVault: upsert %s: %w", v.ID, err)
	}
	return nil
}

func (s *SQLite) GetVault(ctx context.Context, id string) (*domain.Vault, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, total, available, reserved, max_positions, created_at
		FROM vaults WHERE id = ?
	`, id)

	v, err := scanVault(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrVaultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage.GetVault: %w", err)
	}

	if err := s.loadVaultPositionIDs(ctx, v); err != nil {
		return nil, fmt.Errorf("storage.GetVault: %w", err)
	}
	return v, nil
}

func (s *SQLite) ListVaults(ctx context.Context) ([]*domain.Vault, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, total, available, reserved, max_positions, created_at
		FROM vaults ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("storage.ListVaults: query: %w", err)
	}
	defer rows.Close()

	var out []*domain.Vault
	for rows.Next() {
		v, err := scanVault(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.ListVaults: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage.ListVaults: %w", err)
	}

	for _, v := range out {
		if err := s.loadVaultPositionIDs(ctx, v); err != nil {
			return nil, fmt.Errorf("storage.ListVaults: %w", err)
		}
	}
	return out, nil
}

func (s *SQLite) SavePosition(ctx context.Context, p *domain.Position) error {
	var closedAt *time.Time
	if p.ClosedAt != nil {
		t := p.ClosedAt.UTC()
		closedAt = &t
	}
	firstTP := 0
	if p.FirstTakeProfitDone {
		firstTP = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions
			(id, vault_id, symbol, stage, status, leverage, entry_price,
			 margin_invested, size, first_tp, partial_close_pct, max_price,
			 trailing_stop, realized_pnl, last_price, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			stage             = excluded.stage,
			status            = excluded.status,
			leverage          = excluded.leverage,
			entry_price       = excluded.entry_price,
			margin_invested   = excluded.margin_invested,
			size              = excluded.size,
			first_tp          = excluded.first_tp,
			partial_close_pct = excluded.partial_close_pct,
			max_price         = excluded.max_price,
			trailing_stop     = excluded.trailing_stop,
			realized_pnl      = excluded.realized_pnl,
			last_price        = excluded.last_price,
			closed_at         = excluded.closed_at
	`,
		p.ID, p.VaultID, p.Symbol, int(p.Stage), string(p.Status),
		p.Leverage.String(), p.EntryPrice.String(), p.MarginInvested.String(),
		p.Size.String(), firstTP, p.PartialClosePct.String(),
		p.MaxPriceReached.String(), p.TrailingStop.String(),
		p.RealizedPnL.String(), p.LastPrice.String(), p.OpenedAt.UTC(), closedAt,
	)
	if err != nil {
		return fmt.Errorf("storage.SavePosition: upsert %s: %w", p.ID, err)
	}
	return nil
}

func (s *SQLite) GetPosition(ctx context.Context, id string) (*domain.Position, error) {
	row := s.db.QueryRowContext(ctx, selectPosition+` WHERE id = ?`, id)
	p, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrPositionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage.GetPosition: %w", err)
	}
	return p, nil
}

func (s *SQLite) ListOpenPositions(ctx context.Context) ([]*domain.Position, error) {
	return s.listPositions(ctx, selectPosition+` WHERE status IN (?, ?) ORDER BY opened_at`,
		string(domain.StatusOpen), string(domain.StatusPartialClosed))
}

func (s *SQLite) ListVaultPositions(ctx context.Context, vaultID string) ([]*domain.Position, error) {
	return s.listPositions(ctx, selectPosition+` WHERE vault_id = ? ORDER BY opened_at`, vaultID)
}

func (s *SQLite) SaveOutcome(ctx context.Context, o *domain.UpdateOutcome) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO updates
			(position_id, vault_id, symbol, price, unrealized_pnl,
			 unrealized_pnl_pct, max_price, trailing_stop, stage, status,
			 actions, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		o.PositionID, o.VaultID, o.Symbol, o.Price.String(),
		o.UnrealizedPnL.String(), o.UnrealizedPnLPct.String(),
		o.MaxPrice.String(), o.TrailingStop.String(), int(o.Stage),
		string(o.Status), strings.Join(o.Actions, "\n"), o.ProcessedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveOutcome: insert %s: %w", o.PositionID, err)
	}
	return nil
}

// Outcomes devuelve el audit trail de una posición, más reciente primero.
func (s *SQLite) Outcomes(ctx context.Context, positionID string) ([]*domain.UpdateOutcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT position_id, vault_id, symbol, price, unrealized_pnl,
		       unrealized_pnl_pct, max_price, trailing_stop, stage, status,
		       actions, processed_at
		FROM updates WHERE position_id = ? ORDER BY processed_at DESC
	`, positionID)
	if err != nil {
		return nil, fmt.Errorf("storage.Outcomes: query: %w", err)
	}
	defer rows.Close()

	var out []*domain.UpdateOutcome
	for rows.Next() {
		var o domain.UpdateOutcome
		var price, pnl, pnlPct, maxPrice, trailing, actions string
		var stage int
		var status string

		if err := rows.Scan(&o.PositionID, &o.VaultID, &o.Symbol, &price, &pnl,
			&pnlPct, &maxPrice, &trailing, &stage, &status, &actions, &o.ProcessedAt,
		); err != nil {
			return nil, fmt.Errorf("storage.Outcomes: scan: %w", err)
		}

		var perr error
		o.Price, perr = parseDec(price, perr)
		o.UnrealizedPnL, perr = parseDec(pnl, perr)
		o.UnrealizedPnLPct, perr = parseDec(pnlPct, perr)
		o.MaxPrice, perr = parseDec(maxPrice, perr)
		o.TrailingStop, perr = parseDec(trailing, perr)
		if perr != nil {
			return nil, fmt.Errorf("storage.Outcomes: parse amounts: %w", perr)
		}
		o.Stage = domain.Stage(stage)
		o.Status = domain.PositionStatus(status)
		if actions != "" {
			o.Actions = strings.Split(actions, "\n")
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

// PruneOutcomes borra las filas del audit trail anteriores al corte y
// devuelve cuántas eliminó. Las tablas de vaults y posiciones no se tocan.
func (s *SQLite) PruneOutcomes(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM updates WHERE processed_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("storage.PruneOutcomes: delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("storage.PruneOutcomes: rows affected: %w", err)
	}
	return n, nil
}

// Close cierra la conexión a la base de datos.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// --- helpers internos ---

const selectPosition = `
	SELECT id, vault_id, symbol, stage, status, leverage, entry_price,
	       margin_invested, size, first_tp, partial_close_pct, max_price,
	       trailing_stop, realized_pnl, last_price, opened_at, closed_at
	FROM positions`

func (s *SQLite) listPositions(ctx context.Context, query string, args ...any) ([]*domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.listPositions: query: %w", err)
	}
	defer rows.Close()

	var out []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.listPositions: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// scanner cubre tanto *sql.Row como *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanVault(sc scanner) (*domain.Vault, error) {
	var v domain.Vault
	var total, available, reserved string

	if err := sc.Scan(&v.ID, &v.Name, &total, &available, &reserved,
		&v.MaxPositions, &v.CreatedAt,
	); err != nil {
		return nil, err
	}

	var perr error
	v.TotalBalance, perr = parseDec(total, perr)
	v.AvailableBalance, perr = parseDec(available, perr)
	v.ReservedBalance, perr = parseDec(reserved, perr)
	if perr != nil {
		return nil, fmt.Errorf("parse vault amounts: %w", perr)
	}
	return &v, nil
}

func scanPosition(sc scanner) (*domain.Position, error) {
	var p domain.Position
	var stage, firstTP int
	var status string
	var leverage, entry, margin, size, partialPct, maxPrice, trailing, realized, lastPrice string
	var closedAt sql.NullTime

	if err := sc.Scan(&p.ID, &p.VaultID, &p.Symbol, &stage, &status, &leverage,
		&entry, &margin, &size, &firstTP, &partialPct, &maxPrice, &trailing,
		&realized, &lastPrice, &p.OpenedAt, &closedAt,
	); err != nil {
		return nil, err
	}

	var perr error
	p.Leverage, perr = parseDec(leverage, perr)
	p.EntryPrice, perr = parseDec(entry, perr)
	p.MarginInvested, perr = parseDec(margin, perr)
	p.Size, perr = parseDec(size, perr)
	p.PartialClosePct, perr = parseDec(partialPct, perr)
	p.MaxPriceReached, perr = parseDec(maxPrice, perr)
	p.TrailingStop, perr = parseDec(trailing, perr)
	p.RealizedPnL, perr = parseDec(realized, perr)
	p.LastPrice, perr = parseDec(lastPrice, perr)
	if perr != nil {
		return nil, fmt.Errorf("parse position amounts: %w", perr)
	}

	p.Stage = domain.Stage(stage)
	p.Status = domain.PositionStatus(status)
	p.FirstTakeProfitDone = firstTP == 1
	if closedAt.Valid {
		t := closedAt.Time
		p.ClosedAt = &t
	}
	return &p, nil
}

// loadVaultPositionIDs reconstruye el set de posiciones abiertas del vault.
func (s *SQLite) loadVaultPositionIDs(ctx context.Context, v *domain.Vault) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM positions
		WHERE vault_id = ? AND status IN (?, ?)
		ORDER BY opened_at
	`, v.ID, string(domain.StatusOpen), string(domain.StatusPartialClosed))
	if err != nil {
		return fmt.Errorf("load position ids: %w", err)
	}
	defer rows.Close()

	v.PositionIDs = nil
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scan position id: %w", err)
		}
		v.PositionIDs = append(v.PositionIDs, id)
	}
	return rows.Err()
}

// parseDec encadena parseos de decimales conservando el primer error.
func parseDec(s string, prev error) (decimal.Decimal, error) {
	if prev != nil {
		return decimal.Zero, prev
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("decimal %q: %w", s, err)
	}
	return d, nil
}
