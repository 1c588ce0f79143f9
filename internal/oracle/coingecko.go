package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/Combine-Capital/assetdb/internal/asset"
)

// DefaultCoinGeckoURL is the public CoinGecko API base URL.
const DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"

// CoinGeckoOracle prices assets through the CoinGecko history endpoint,
// keyed by the asset's coingecko identifier.
type CoinGeckoOracle struct {
	baseURL    string
	apiKey     string
	currency   string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

// CoinGeckoConfig configures a CoinGeckoOracle.
type CoinGeckoConfig struct {
	BaseURL   string
	APIKey    string
	Currency  string  // quote currency, defaults to usd
	RateLimit float64 // requests per second
	Timeout   time.Duration
}

// NewCoinGeckoOracle creates a new CoinGecko price oracle with rate limiting
func NewCoinGeckoOracle(cfg CoinGeckoConfig, logger zerolog.Logger) *CoinGeckoOracle {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultCoinGeckoURL
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 0.5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &CoinGeckoOracle{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		currency: strings.ToLower(cfg.Currency),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		logger:  logger.With().Str("component", "coingecko").Logger(),
	}
}

type historyResponse struct {
	ID         string `json:"id"`
	MarketData *struct {
		CurrentPrice map[string]decimal.Decimal `json:"current_price"`
	} `json:"market_data"`
}

// GetPrice returns the daily price of a on the UTC date of at.
func (o *CoinGeckoOracle) GetPrice(ctx context.Context, a *asset.Asset, at time.Time) (decimal.Decimal, error) {
	if a.Coingecko == nil || *a.Coingecko == "" {
		return decimal.Zero, fmt.Errorf("coingecko: %s: %w", a.Identifier, ErrNoPriceSource)
	}
	coinID := *a.Coingecko

	if err := o.limiter.Wait(ctx); err != nil {
		return decimal.Zero, fmt.Errorf("rate limiter: %w", err)
	}

	date := at.UTC().Format("02-01-2006")
	o.logger.Debug().Str("coingecko_id", coinID).Str("date", date).Msg("Fetching CoinGecko historical price")

	endpoint := fmt.Sprintf("%s/coins/%s/history?%s", o.baseURL, url.PathEscape(coinID),
		url.Values{"date": {date}, "localization": {"false"}}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("create request: %w", err)
	}
	if o.apiKey != "" {
		req.Header.Set("x-cg-pro-api-key", o.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return decimal.Zero, fmt.Errorf("rate limit exceeded (HTTP 429)")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return decimal.Zero, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var history historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return decimal.Zero, fmt.Errorf("decode response: %w", err)
	}
	if history.MarketData == nil {
		return decimal.Zero, fmt.Errorf("coingecko: no market data for %s on %s", coinID, date)
	}
	price, ok := history.MarketData.CurrentPrice[o.currency]
	if !ok {
		return decimal.Zero, fmt.Errorf("coingecko: no %s price for %s on %s", o.currency, coinID, date)
	}
	return price, nil
}
