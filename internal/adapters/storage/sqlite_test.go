package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/vaultd/internal/adapters/storage"
	"github.com/alejandrodnm/vaultd/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func openDB(t *testing.T) *storage.SQLite {
	t.Helper()
	db, err := storage.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLite_VaultRoundtrip(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	v := domain.NewVault("main", dec("10000"))
	require.NoError(t, v.Reserve(dec("200")))
	require.NoError(t, db.SaveVault(ctx, v))

	got, err := db.GetVault(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, v.Name, got.Name)
	assert.True(t, got.TotalBalance.Equal(dec("10000")))
	assert.True(t, got.AvailableBalance.Equal(dec("9800")))
	assert.True(t, got.ReservedBalance.Equal(dec("200")))
	assert.Equal(t, domain.MaxPositionsPerVault, got.MaxPositions)
	assert.True(t, got.Balanced())

	// El upsert actualiza balances sin duplicar filas.
	v.Release(dec("200"))
	require.NoError(t, db.SaveVault(ctx, v))

	vaults, err := db.ListVaults(ctx)
	require.NoError(t, err)
	require.Len(t, vaults, 1)
	assert.True(t, vaults[0].ReservedBalance.IsZero())
}

func TestSQLite_GetVault_NotFound(t *testing.T) {
	db := openDB(t)

	_, err := db.GetVault(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrVaultNotFound)
}

func TestSQLite_VaultPositionIDs_RebuiltFromOpenPositions(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	v := domain.NewVault("main", dec("10000"))
	require.NoError(t, db.SaveVault(ctx, v))

	open := domain.NewPosition(v.ID, "BTCUSDT", dec("100"), dec("200"))
	closed := domain.NewPosition(v.ID, "ETHUSDT", dec("50"), dec("200"))
	closed.MarkClosed(domain.StatusClosed, time.Now().UTC())
	require.NoError(t, db.SavePosition(ctx, open))
	require.NoError(t, db.SavePosition(ctx, closed))

	got, err := db.GetVault(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{open.ID}, got.PositionIDs, "solo posiciones abiertas")
}

func TestSQLite_PositionRoundtrip(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	p := domain.NewPosition("v1", "BTCUSDT", dec("100"), dec("200"))
	require.NoError(t, db.SavePosition(ctx, p))

	// Mutar y re-guardar: el upsert conserva la fila.
	p.Escalate(dec("96"), dec("400"))
	p.FirstTakeProfitDone = true
	p.TrailingStop = dec("106.82")
	p.LastPrice = dec("96")
	require.NoError(t, db.SavePosition(ctx, p))

	got, err := db.GetPosition(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Stage2, got.Stage)
	assert.Equal(t, domain.StatusOpen, got.Status)
	assert.True(t, got.Leverage.Equal(dec("10")))
	assert.True(t, got.EntryPrice.Equal(dec("98")))
	assert.True(t, got.MarginInvested.Equal(dec("600")))
	assert.True(t, got.Size.Equal(dec("8000")))
	assert.True(t, got.FirstTakeProfitDone)
	assert.True(t, got.TrailingStop.Equal(dec("106.82")))
	assert.True(t, got.LastPrice.Equal(dec("96")))
	assert.WithinDuration(t, p.OpenedAt, got.OpenedAt, time.Second)
	assert.Nil(t, got.ClosedAt)
}

func TestSQLite_GetPosition_NotFound(t *testing.T) {
	db := openDB(t)

	_, err := db.GetPosition(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrPositionNotFound)
}

func TestSQLite_ListOpenPositions_ExcludesTerminal(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	open := domain.NewPosition("v1", "BTCUSDT", dec("100"), dec("200"))
	partial := domain.NewPosition("v1", "ETHUSDT", dec("50"), dec("200"))
	partial.Status = domain.StatusPartialClosed
	liquidated := domain.NewPosition("v1", "SOLUSDT", dec("20"), dec("200"))
	liquidated.MarkClosed(domain.StatusLiquidated, time.Now().UTC())

	for _, p := range []*domain.Position{open, partial, liquidated} {
		require.NoError(t, db.SavePosition(ctx, p))
	}

	got, err := db.ListOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)

	all, err := db.ListVaultPositions(ctx, "v1")
	require.NoError(t, err)
	assert.Len(t, all, 3, "el historial del vault incluye terminales")
}

func TestSQLite_OutcomeAuditTrail(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	first := &domain.UpdateOutcome{
		PositionID:  "p1",
		VaultID:     "v1",
		Symbol:      "BTCUSDT",
		Price:       dec("109"),
		Stage:       domain.Stage1,
		Status:      domain.StatusPartialClosed,
		Actions:     []string{"first take-profit", "trailing stop armed"},
		ProcessedAt: base,
	}
	second := &domain.UpdateOutcome{
		PositionID:  "p1",
		VaultID:     "v1",
		Symbol:      "BTCUSDT",
		Price:       dec("106"),
		Stage:       domain.Stage1,
		Status:      domain.StatusClosed,
		ProcessedAt: base.Add(time.Second),
	}
	require.NoError(t, db.SaveOutcome(ctx, first))
	require.NoError(t, db.SaveOutcome(ctx, second))

	trail, err := db.Outcomes(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, trail, 2)

	// Más reciente primero.
	assert.True(t, trail[0].Price.Equal(dec("106")))
	assert.Empty(t, trail[0].Actions)
	assert.True(t, trail[1].Price.Equal(dec("109")))
	assert.Equal(t, []string{"first take-profit", "trailing stop armed"}, trail[1].Actions)
	assert.Equal(t, domain.StatusClosed, trail[0].Status)
}

func TestSQLite_PruneOutcomes(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	now := time.Now().UTC()
	old := &domain.UpdateOutcome{
		PositionID: "p1", VaultID: "v1", Symbol: "BTCUSDT",
		Price: dec("100"), Stage: domain.Stage1, Status: domain.StatusOpen,
		ProcessedAt: now.AddDate(0, 0, -40),
	}
	recent := &domain.UpdateOutcome{
		PositionID: "p1", VaultID: "v1", Symbol: "BTCUSDT",
		Price: dec("101"), Stage: domain.Stage1, Status: domain.StatusOpen,
		ProcessedAt: now,
	}
	require.NoError(t, db.SaveOutcome(ctx, old))
	require.NoError(t, db.SaveOutcome(ctx, recent))

	pruned, err := db.PruneOutcomes(ctx, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	trail, err := db.Outcomes(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.True(t, trail[0].Price.Equal(dec("101")))
}
