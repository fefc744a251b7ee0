package currency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/OpenAds/loader/internal/config"
)

var (
	ErrRatesUnavailable = errors.New("exchange rates not loaded")
	ErrUnknownCurrency  = errors.New("unknown currency")
)

// Rate is one entry of the central bank's daily table: Nominal units of the
// currency cost Value units of the base currency.
type Rate struct {
	CharCode string          `json:"CharCode"`
	Nominal  decimal.Decimal `json:"Nominal"`
	Value    decimal.Decimal `json:"Value"`
}

type dailyRates struct {
	Date   time.Time       `json:"Date"`
	Valute map[string]Rate `json:"Valute"`
}

// Converter converts base-currency amounts using periodically refreshed rates.
type Converter struct {
	ratesURL   string
	base       string
	interval   time.Duration
	httpClient *http.Client

	mu        sync.RWMutex
	rates     map[string]Rate
	updatedAt time.Time
}

func NewConverter(cfg config.CurrencyConfig, httpClient *http.Client) *Converter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Converter{
		ratesURL:   cfg.RatesURL,
		base:       strings.ToUpper(cfg.Base),
		interval:   cfg.RefreshInterval,
		httpClient: httpClient,
	}
}

// Base returns the currency amounts are expressed in before conversion.
func (c *Converter) Base() string { return c.base }

// Start loads rates immediately and then refreshes them until ctx is done.
// Refresh failures are logged and the previous rates are kept.
func (c *Converter) Start(ctx context.Context) {
	if err := c.Refresh(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to load exchange rates", "error", err)
	}

	interval := c.interval
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				slog.ErrorContext(ctx, "failed to refresh exchange rates", "error", err)
			}
		}
	}
}

// Refresh fetches the daily rate table.
func (c *Converter) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ratesURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build rates request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to fetch rates: status %d", resp.StatusCode)
	}

	var daily dailyRates
	if err := json.NewDecoder(resp.Body).Decode(&daily); err != nil {
		return fmt.Errorf("failed to decode rates: %w", err)
	}
	if len(daily.Valute) == 0 {
		return fmt.Errorf("rates response has no currencies")
	}

	rates := make(map[string]Rate, len(daily.Valute))
	for code, rate := range daily.Valute {
		if rate.Nominal.IsZero() || rate.Value.IsZero() {
			continue
		}
		rates[strings.ToUpper(code)] = rate
	}

	c.mu.Lock()
	c.rates = rates
	c.updatedAt = time.Now()
	c.mu.Unlock()

	slog.InfoContext(ctx, "exchange rates updated", "currencies", len(rates), "date", daily.Date)
	return nil
}

// Convert converts a base-currency amount into currency, rounded to cents.
// Non-positive amounts convert to 0.
func (c *Converter) Convert(amount float64, currency string) (float64, error) {
	if amount <= 0 {
		return 0, nil
	}
	currency = strings.ToUpper(currency)
	if currency == c.base {
		return amount, nil
	}

	c.mu.RLock()
	rates := c.rates
	rate, ok := rates[currency]
	c.mu.RUnlock()

	if rates == nil {
		return 0, ErrRatesUnavailable
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCurrency, currency)
	}

	perUnit := rate.Value.Div(rate.Nominal)
	converted, _ := decimal.NewFromFloat(amount).Div(perUnit).Round(2).Float64()
	return converted, nil
}

// UpdatedAt returns when rates were last loaded, zero if never.
func (c *Converter) UpdatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updatedAt
}
