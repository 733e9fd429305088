package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/alejandrodnm/vaultd/internal/domain"
)

const (
	// La API de heatmaps limita a 60 req/min por key; nos quedamos al 60%.
	levelsRatePerSec = 0.6

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Client es el HTTP client del cluster oracle con rate limiting y retries.
// Implementa ports.ClusterOracle.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	limiter *rate.Limiter
}

// NewClient crea un Client contra el base URL dado.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		http:    &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
		apiKey:  apiKey,
		limiter: rate.NewLimiter(levelsRatePerSec, 3),
	}
}

// levelsResponse es el payload crudo del oracle.
type levelsResponse struct {
	Symbol string `json:"symbol"`
	Levels []struct {
		Price    string  `json:"price"`
		Strength float64 `json:"strength"`
		Side     string  `json:"side"` // "support" | "resistance"
	} `json:"levels"`
}

// GetLevels pide los clusters de liquidación del símbolo y los parte en
// above/below respecto a refPrice. Un payload vacío es válido (best effort).
func (c *Client) GetLevels(ctx context.Context, symbol string, refPrice decimal.Decimal) (*domain.ClusterSet, error) {
	u := fmt.Sprintf("%s/api/v1/liquidation/clusters?symbol=%s", c.baseURL, url.QueryEscape(symbol))

	var resp levelsResponse
	if err := c.get(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("oracle.GetLevels: %s: %w", symbol, err)
	}

	levels := make([]domain.ClusterLevel, 0, len(resp.Levels))
	for _, raw := range resp.Levels {
		price, err := decimal.NewFromString(raw.Price)
		if err != nil || !price.IsPositive() {
			slog.Debug("oracle: skipping malformed level", "symbol", symbol, "price", raw.Price)
			continue
		}
		typ := domain.ClusterSupport
		if raw.Side == string(domain.ClusterResistance) {
			typ = domain.ClusterResistance
		}
		levels = append(levels, domain.ClusterLevel{
			Price:    price,
			Strength: raw.Strength,
			Type:     typ,
		})
	}

	return domain.NewClusterSet(levels, refPrice, time.Now().UTC()), nil
}

// get hace un GET con rate limiting y retries con backoff exponencial.
func (c *Client) get(ctx context.Context, url string, out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("X-API-Key", c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("status %d after %d retries", resp.StatusCode, maxRetries)
			}
			slog.Warn("oracle: retrying request", "status", resp.StatusCode, "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
