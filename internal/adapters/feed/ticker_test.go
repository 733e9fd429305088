package feed_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/vaultd/internal/adapters/feed"
)

func TestTicker_Subscribe_EmitsTicks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		symbol := r.URL.Query().Get("symbol")
		fmt.Fprintf(w, `{"symbol": %q, "price": "43250.10"}`, symbol)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tk := feed.NewTicker(srv.URL, []string{"BTCUSDT"}, 10*time.Millisecond)
	ticks, err := tk.Subscribe(ctx)
	require.NoError(t, err)

	select {
	case tick := <-ticks:
		assert.Equal(t, "BTCUSDT", tick.Symbol)
		assert.True(t, tick.Price.Equal(decimal.RequireFromString("43250.10")))
		assert.False(t, tick.At.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("no llegó ningún tick")
	}

	// Cancelar el contexto cierra el canal.
	cancel()
	require.Eventually(t, func() bool {
		_, open := <-ticks
		return !open
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTicker_Subscribe_NoSymbols(t *testing.T) {
	tk := feed.NewTicker("http://localhost", nil, time.Second)
	_, err := tk.Subscribe(context.Background())
	require.Error(t, err)
}

func TestTicker_MalformedPriceSkipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"symbol": "BTCUSDT", "price": "garbage"}`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tk := feed.NewTicker(srv.URL, []string{"BTCUSDT"}, 10*time.Millisecond)
	ticks, err := tk.Subscribe(ctx)
	require.NoError(t, err)

	select {
	case tick, open := <-ticks:
		if open {
			t.Fatalf("se emitió un tick con precio inválido: %+v", tick)
		}
	case <-time.After(100 * time.Millisecond):
		// Ningún tick en varios ciclos de polling: correcto.
	}
}
