package notify_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/vaultd/internal/adapters/notify"
	"github.com/alejandrodnm/vaultd/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestConsole_Notify_PrintsActions(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf)

	o := &domain.UpdateOutcome{
		PositionID:       "0c7c9d1e-aaaa-bbbb-cccc-000000000000",
		VaultID:          "v1",
		Symbol:           "BTCUSDT",
		Price:            dec("109"),
		UnrealizedPnL:    dec("360"),
		UnrealizedPnLPct: dec("180"),
		Stage:            domain.Stage1,
		Status:           domain.StatusPartialClosed,
		Actions:          []string{"first take-profit: closed 50% at 109"},
		ProcessedAt:      time.Now().UTC(),
	}
	require.NoError(t, c.Notify(context.Background(), o))

	out := buf.String()
	assert.Contains(t, out, "BTCUSDT")
	assert.Contains(t, out, "0c7c9d1e")
	assert.Contains(t, out, "360.00")
	assert.Contains(t, out, "→ first take-profit")
}

func TestConsole_PrintVaultStatus(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf)

	c.PrintVaultStatus(&domain.VaultStatus{
		VaultID:          "1f2e3d4c-aaaa-bbbb-cccc-000000000000",
		Name:             "main",
		TotalBalance:     dec("10180"),
		AvailableBalance: dec("10080"),
		ReservedBalance:  dec("100"),
		Positions: []domain.PositionSnapshot{{
			ID:              "p1",
			Symbol:          "BTCUSDT",
			Stage:           domain.Stage2,
			Status:          domain.StatusOpen,
			EntryPrice:      dec("98"),
			Size:            dec("8000"),
			MarginInvested:  dec("600"),
			Leverage:        dec("10"),
			MaxPriceReached: dec("100"),
			RealizedPnL:     dec("0"),
		}},
	})

	out := buf.String()
	assert.Contains(t, out, `vault "main"`)
	assert.Contains(t, out, "total: 10180.00")
	assert.Contains(t, out, "BTCUSDT")
	assert.Contains(t, out, "10x")
}

func TestConsole_PrintVaultStatus_Empty(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf)

	c.PrintVaultStatus(&domain.VaultStatus{
		VaultID: "v1", Name: "empty",
		TotalBalance:     dec("500"),
		AvailableBalance: dec("500"),
		ReservedBalance:  dec("0"),
	})
	assert.Contains(t, buf.String(), "no positions")
}

func TestMulti_FansOutAndIgnoresNil(t *testing.T) {
	var a, b bytes.Buffer
	m := notify.NewMulti(notify.NewConsoleWriter(&a), nil, notify.NewConsoleWriter(&b))

	o := &domain.UpdateOutcome{
		PositionID: "p1", Symbol: "BTCUSDT",
		Price: dec("100"), Status: domain.StatusOpen,
		ProcessedAt: time.Now().UTC(),
	}
	require.NoError(t, m.Notify(context.Background(), o))
	assert.Contains(t, a.String(), "BTCUSDT")
	assert.Contains(t, b.String(), "BTCUSDT")
}
