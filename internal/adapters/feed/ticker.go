package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/alejandrodnm/vaultd/internal/domain"
)

// El endpoint de ticker permite 1200 req/min; al 60% son 12/s.
const tickerRatePerSec = 12

// Ticker implementa ports.PriceFeed haciendo polling del endpoint de precio
// spot de un exchange para una lista fija de símbolos.
type Ticker struct {
	http     *http.Client
	baseURL  string
	symbols  []string
	interval time.Duration
	limiter  *rate.Limiter
}

// NewTicker crea el feed para los símbolos dados.
func NewTicker(baseURL string, symbols []string, interval time.Duration) *Ticker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Ticker{
		http:     &http.Client{Timeout: 10 * time.Second},
		baseURL:  baseURL,
		symbols:  symbols,
		interval: interval,
		limiter:  rate.NewLimiter(tickerRatePerSec, 5),
	}
}

// Subscribe arranca el loop de polling y devuelve el canal de ticks. El canal
// se cierra cuando el contexto se cancela.
func (t *Ticker) Subscribe(ctx context.Context) (<-chan domain.PriceTick, error) {
	if len(t.symbols) == 0 {
		return nil, fmt.Errorf("feed.Subscribe: no symbols configured")
	}

	out := make(chan domain.PriceTick)
	go func() {
		defer close(out)

		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()

		t.poll(ctx, out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.poll(ctx, out)
			}
		}
	}()
	return out, nil
}

// poll pide el precio de cada símbolo y lo emite. Un fallo por símbolo se
// loguea y no corta el ciclo.
func (t *Ticker) poll(ctx context.Context, out chan<- domain.PriceTick) {
	for _, symbol := range t.symbols {
		price, err := t.fetchPrice(ctx, symbol)
		if err != nil {
			slog.Warn("feed: price fetch failed", "symbol", symbol, "err", err)
			continue
		}
		select {
		case out <- domain.PriceTick{Symbol: symbol, Price: price, At: time.Now().UTC()}:
		case <-ctx.Done():
			return
		}
	}
}

func (t *Ticker) fetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return decimal.Zero, fmt.Errorf("rate limiter: %w", err)
	}

	u := fmt.Sprintf("%s/api/v3/ticker/price?symbol=%s", t.baseURL, url.QueryEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return decimal.Zero, err
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("status %d", resp.StatusCode)
	}

	var payload struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return decimal.Zero, fmt.Errorf("decode response: %w", err)
	}

	price, err := decimal.NewFromString(payload.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("price %q: %w", payload.Price, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive price %s", price)
	}
	return price, nil
}
