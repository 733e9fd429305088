package domain_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/vaultd/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestNewVault_StartsFullyAvailable(t *testing.T) {
	v := domain.NewVault("main", dec("10000"))

	assert.NotEmpty(t, v.ID)
	assert.True(t, v.TotalBalance.Equal(dec("10000")))
	assert.True(t, v.AvailableBalance.Equal(dec("10000")))
	assert.True(t, v.ReservedBalance.IsZero())
	assert.Equal(t, domain.MaxPositionsPerVault, v.MaxPositions)
	assert.True(t, v.Balanced())
}

func TestVault_ReserveAndRelease(t *testing.T) {
	v := domain.NewVault("main", dec("1000"))

	require.NoError(t, v.Reserve(dec("200")))
	assert.True(t, v.AvailableBalance.Equal(dec("800")))
	assert.True(t, v.ReservedBalance.Equal(dec("200")))
	assert.True(t, v.Balanced())

	v.Release(dec("200"))
	assert.True(t, v.AvailableBalance.Equal(dec("1000")))
	assert.True(t, v.ReservedBalance.IsZero())
	assert.True(t, v.Balanced())
}

func TestVault_Reserve_InsufficientBalance(t *testing.T) {
	v := domain.NewVault("main", dec("100"))

	err := v.Reserve(dec("100.01"))
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	// Un fallo de reserva no deja efectos secundarios.
	assert.True(t, v.AvailableBalance.Equal(dec("100")))
	assert.True(t, v.ReservedBalance.IsZero())
	assert.True(t, v.Balanced())
}

func TestVault_Realize_MovesTotalAndAvailable(t *testing.T) {
	v := domain.NewVault("main", dec("1000"))

	v.Realize(dec("150"))
	assert.True(t, v.TotalBalance.Equal(dec("1150")))
	assert.True(t, v.AvailableBalance.Equal(dec("1150")))
	assert.True(t, v.Balanced())

	// Pérdida realizada
	v.Realize(dec("-50"))
	assert.True(t, v.TotalBalance.Equal(dec("1100")))
	assert.True(t, v.Balanced())
}

func TestVault_Forfeit_BurnsReservedMargin(t *testing.T) {
	v := domain.NewVault("main", dec("1000"))
	require.NoError(t, v.Reserve(dec("300")))

	v.Forfeit(dec("300"))
	assert.True(t, v.TotalBalance.Equal(dec("700")))
	assert.True(t, v.AvailableBalance.Equal(dec("700")))
	assert.True(t, v.ReservedBalance.IsZero())
	assert.True(t, v.Balanced())
}

func TestVault_PositionCapacity(t *testing.T) {
	v := domain.NewVault("main", dec("1000"))
	assert.True(t, v.CanOpenPosition())

	v.AttachPosition("p1")
	assert.True(t, v.CanOpenPosition())

	v.AttachPosition("p2")
	assert.False(t, v.CanOpenPosition())

	v.DetachPosition("p1")
	assert.True(t, v.CanOpenPosition())
	assert.Equal(t, []string{"p2"}, v.PositionIDs)
}
