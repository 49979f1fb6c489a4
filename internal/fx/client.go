// Package fx fetches the optional XCH/USD exchange rate. The rate is a
// nice-to-have annotation on the artifact: every failure mode degrades to a
// null rate and the deterministic parts of the build proceed untouched.
package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/bigpulp/valuemodel/internal/config"
)

// Client wraps the exchange-rate endpoint with a timeout, a rate limiter,
// and a circuit breaker. One build makes at most one call, but scheduled
// re-runs share the same discipline as any other upstream provider.
type Client struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	limiter    *rate.Limiter
	url        string
	log        zerolog.Logger
}

// NewClient builds an FX client from the configured endpoint.
func NewClient(p config.FXParams, log zerolog.Logger) *Client {
	settings := gobreaker.Settings{
		Name:        "fx-rate",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &Client{
		httpClient: &http.Client{Timeout: p.Timeout},
		breaker:    gobreaker.NewCircuitBreaker(settings),
		limiter:    rate.NewLimiter(rate.Every(2*time.Second), 1),
		url:        p.URL,
		log:        log,
	}
}

// rateResponse matches the coingecko simple-price shape:
// {"chia": {"usd": 12.34}}.
type rateResponse map[string]map[string]float64

// USDRate returns the current XCH/USD rate, or nil when the fetch fails for
// any reason. It never returns an error: a missing rate is a degraded field,
// not a build failure.
func (c *Client) USDRate(ctx context.Context) *float64 {
	if err := c.limiter.Wait(ctx); err != nil {
		c.log.Warn().Err(err).Msg("fx rate limiter interrupted, continuing without rate")
		return nil
	}

	result, err := c.breaker.Execute(func() (any, error) {
		return c.fetch(ctx)
	})
	if err != nil {
		c.log.Warn().Err(err).Msg("fx rate unavailable, continuing without rate")
		return nil
	}

	value := result.(float64)
	return &value
}

func (c *Client) fetch(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build fx request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fx request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fx endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return 0, fmt.Errorf("failed to read fx response: %w", err)
	}

	var parsed rateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, fmt.Errorf("failed to parse fx response: %w", err)
	}
	for _, currencies := range parsed {
		if usd, ok := currencies["usd"]; ok && usd > 0 {
			return usd, nil
		}
	}
	return 0, fmt.Errorf("fx response carried no usd rate")
}
