// Package pvpc reads the hourly electricity price curve used for price-based
// charge gating. The curve is owned by an external service; this client only
// fetches and caches it.
package pvpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds one curve fetch.
const DefaultTimeout = 10 * time.Second

// curvePayload is the JSON document served by the price endpoint: today's 24
// hourly prices and, once published (early afternoon), tomorrow's.
type curvePayload struct {
	Today    []float64 `json:"today"`
	Tomorrow []float64 `json:"tomorrow"`
}

// CheapHours lists the upcoming hours whose forecast price is at or below a
// ceiling. Purely informational; the gating rule only compares the current
// hour.
type CheapHours struct {
	Today    []int `json:"today"`    // hours strictly after the current one
	Tomorrow []int `json:"tomorrow"` // all published hours
	Count    int   `json:"count"`
}

// Client fetches and caches the hourly price curve.
type Client struct {
	url     string
	timeout time.Duration
	http    *http.Client
	logger  *zap.Logger

	mu        sync.RWMutex
	today     []float64
	tomorrow  []float64
	fetchedAt time.Time
}

// NewClient creates a price client for the given endpoint URL.
func NewClient(url string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		url:     url,
		timeout: timeout,
		http:    &http.Client{},
		logger:  logger,
	}
}

// Refresh fetches the curve unconditionally. The gating rule calls this at
// the start of every cycle because the endpoint's own update schedule is
// independent and the cache may be stale.
func (c *Client) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to build price request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch price curve: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("price endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read price response: %w", err)
	}

	var payload curvePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("failed to parse price response: %w", err)
	}
	if len(payload.Today) != 24 {
		return fmt.Errorf("price curve has %d hours for today, want 24", len(payload.Today))
	}

	c.mu.Lock()
	c.today = payload.Today
	c.tomorrow = payload.Tomorrow
	c.fetchedAt = time.Now()
	c.mu.Unlock()

	c.logger.Debug("Price curve refreshed",
		zap.Int("tomorrow_hours", len(payload.Tomorrow)),
	)
	return nil
}

// CurrentPrice returns the price for now's hour. ok is false before the
// first successful refresh.
func (c *Client) CurrentPrice(now time.Time) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.today) != 24 {
		return 0, false
	}
	return c.today[now.Hour()], true
}

// CheapHoursBelow computes the upcoming hours priced at or below maxPrice.
func (c *Client) CheapHoursBelow(now time.Time, maxPrice float64) CheapHours {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out CheapHours
	out.Today = []int{}
	out.Tomorrow = []int{}
	for h := now.Hour() + 1; h < len(c.today); h++ {
		if c.today[h] <= maxPrice {
			out.Today = append(out.Today, h)
		}
	}
	for h := 0; h < len(c.tomorrow); h++ {
		if c.tomorrow[h] <= maxPrice {
			out.Tomorrow = append(out.Tomorrow, h)
		}
	}
	out.Count = len(out.Today) + len(out.Tomorrow)
	return out
}
