package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/vaultd/internal/adapters/storage"
	"github.com/alejandrodnm/vaultd/internal/application/engine"
	"github.com/alejandrodnm/vaultd/internal/domain"
)

func TestRefreshClusters_RefetchesStale(t *testing.T) {
	store := storage.NewMemory()
	oracle := &stubOracle{levels: []domain.ClusterLevel{
		{Price: dec("95"), Strength: 1, Type: domain.ClusterSupport},
	}}
	// Todo set se considera stale inmediatamente.
	eng := engine.New(store, oracle, nil, nil, engine.Config{ClusterMaxAge: time.Nanosecond})
	ctx := context.Background()

	v, err := eng.CreateVault(ctx, "main", dec("10000"))
	require.NoError(t, err)
	p, err := eng.OpenPosition(ctx, v.ID, "BTCUSDT", dec("100"))
	require.NoError(t, err)
	require.Equal(t, 1, oracle.callCount())

	before := p.LastClusterRefresh()
	time.Sleep(2 * time.Millisecond)

	refreshed := eng.RefreshClusters(ctx)
	assert.Equal(t, 1, refreshed)
	assert.Equal(t, 2, oracle.callCount())
	assert.True(t, p.LastClusterRefresh().After(before))
}

func TestRefreshClusters_FreshSetsSkipped(t *testing.T) {
	eng, _, oracle, _ := newTestEngine(
		domain.ClusterLevel{Price: dec("95"), Strength: 1, Type: domain.ClusterSupport},
	)
	ctx := context.Background()

	v, err := eng.CreateVault(ctx, "main", dec("10000"))
	require.NoError(t, err)
	_, err = eng.OpenPosition(ctx, v.ID, "BTCUSDT", dec("100"))
	require.NoError(t, err)

	// Con el maxAge por defecto (10 min) el set recién traído no se toca.
	refreshed := eng.RefreshClusters(ctx)
	assert.Equal(t, 0, refreshed)
	assert.Equal(t, 1, oracle.callCount())
}

func TestRefreshClusters_OracleFailureKeepsPreviousLevels(t *testing.T) {
	store := storage.NewMemory()
	oracle := &stubOracle{levels: []domain.ClusterLevel{
		{Price: dec("95"), Strength: 1, Type: domain.ClusterSupport},
	}}
	eng := engine.New(store, oracle, nil, nil, engine.Config{ClusterMaxAge: time.Nanosecond})
	ctx := context.Background()

	v, err := eng.CreateVault(ctx, "main", dec("10000"))
	require.NoError(t, err)
	p, err := eng.OpenPosition(ctx, v.ID, "BTCUSDT", dec("100"))
	require.NoError(t, err)

	previous := p.Clusters()
	require.NotNil(t, previous)

	oracle.mu.Lock()
	oracle.err = errors.New("oracle down")
	oracle.mu.Unlock()
	time.Sleep(2 * time.Millisecond)

	refreshed := eng.RefreshClusters(ctx)
	assert.Equal(t, 0, refreshed)
	assert.Same(t, previous, p.Clusters(), "el fallo conserva el set anterior")
}

func TestRefreshClusters_SkipsTerminalPositions(t *testing.T) {
	store := storage.NewMemory()
	oracle := &stubOracle{}
	eng := engine.New(store, oracle, nil, nil, engine.Config{ClusterMaxAge: time.Nanosecond})
	ctx := context.Background()

	v, err := eng.CreateVault(ctx, "main", dec("10000"))
	require.NoError(t, err)
	p, err := eng.OpenPosition(ctx, v.ID, "BTCUSDT", dec("100"))
	require.NoError(t, err)

	_, err = eng.ClosePosition(ctx, p.ID, dec("101"))
	require.NoError(t, err)
	calls := oracle.callCount()

	refreshed := eng.RefreshClusters(ctx)
	assert.Equal(t, 0, refreshed)
	assert.Equal(t, calls, oracle.callCount())
}
