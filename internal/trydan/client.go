package trydan

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"
)

// Setpoint ranges enforced before any network call. The device is never sent
// an out-of-range value.
var setpointRanges = map[string][2]int{
	FieldMinIntensity:     {6, 32},
	FieldMaxIntensity:     {6, 32},
	FieldIntensity:        {6, 32},
	FieldDynamicPowerMode: {0, 7},
}

// Boolean switch fields take 0/1 literals on the write endpoint.
var switchFields = map[string]bool{
	FieldPaused:  true,
	FieldDynamic: true,
	FieldLocked:  true,
}

// ClientOptions tune the device client. Zero values fall back to defaults.
type ClientOptions struct {
	ReadTimeout  time.Duration // per-attempt timeout on /RealTimeData
	WriteTimeout time.Duration // shorter: writes are interactive
	Retries      int           // transport retries per read
	RetryDelay   time.Duration
}

func (o *ClientOptions) withDefaults() ClientOptions {
	opts := ClientOptions{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Second,
		Retries:      3,
		RetryDelay:   time.Second,
	}
	if o == nil {
		return opts
	}
	if o.ReadTimeout > 0 {
		opts.ReadTimeout = o.ReadTimeout
	}
	if o.WriteTimeout > 0 {
		opts.WriteTimeout = o.WriteTimeout
	}
	if o.Retries > 0 {
		opts.Retries = o.Retries
	}
	if o.RetryDelay > 0 {
		opts.RetryDelay = o.RetryDelay
	}
	return opts
}

// Client talks to one Trydan charger over its local HTTP interface.
type Client struct {
	baseURL string
	http    *http.Client
	opts    ClientOptions
	logger  *zap.Logger
}

// NewClient creates a client for the charger at host (IP or hostname).
func NewClient(host string, opts *ClientOptions, logger *zap.Logger) *Client {
	return &Client{
		baseURL: "http://" + host,
		http:    &http.Client{},
		opts:    opts.withDefaults(),
		logger:  logger,
	}
}

// RealTimeData fetches and normalizes one status snapshot. Transport
// failures (connection refused, timeout, non-2xx) are retried up to the
// configured bound with a fixed delay. A malformed body is never retried
// within the same call: the bytes were already fetched, only a fresh GET
// could change the outcome.
func (c *Client) RealTimeData(ctx context.Context) (Snapshot, error) {
	span, ctx := tracer.StartSpanFromContext(ctx, "trydan.real_time_data")
	defer span.Finish()

	var lastErr error
	for attempt := 1; attempt <= c.opts.Retries; attempt++ {
		body, err := c.get(ctx, c.baseURL+"/RealTimeData", c.opts.ReadTimeout)
		if err == nil {
			return Normalize(body)
		}
		lastErr = err
		if attempt < c.opts.Retries {
			select {
			case <-time.After(c.opts.RetryDelay):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrTransport, ctx.Err())
			}
		}
	}
	span.SetTag("error", lastErr)
	return nil, lastErr
}

// WriteSetpoint sends a numeric control value, validating its range first.
// On validation failure no network call is made.
func (c *Client) WriteSetpoint(ctx context.Context, field string, value int) error {
	bounds, ok := setpointRanges[field]
	if !ok {
		return &RejectedError{Field: field, Value: fmt.Sprintf("%d", value), Reason: "unknown setpoint"}
	}
	if value < bounds[0] || value > bounds[1] {
		return &RejectedError{
			Field:  field,
			Value:  fmt.Sprintf("%d", value),
			Reason: fmt.Sprintf("must be between %d and %d", bounds[0], bounds[1]),
		}
	}
	return c.write(ctx, field, fmt.Sprintf("%d", value))
}

// WriteSwitch sends a boolean control as the 0/1 literal the device expects.
func (c *Client) WriteSwitch(ctx context.Context, field string, on bool) error {
	if !switchFields[field] {
		return &RejectedError{Field: field, Value: fmt.Sprintf("%t", on), Reason: "unknown switch"}
	}
	value := "0"
	if on {
		value = "1"
	}
	return c.write(ctx, field, value)
}

// write issues GET /write/{Field}={Value}. The device signals application
// failure with a literal ERROR body on a 2xx response, so the body is
// checked explicitly.
func (c *Client) write(ctx context.Context, field, value string) error {
	span, ctx := tracer.StartSpanFromContext(ctx, "trydan.write",
		tracer.Tag("field", field), tracer.Tag("value", value))
	defer span.Finish()

	url := fmt.Sprintf("%s/write/%s=%s", c.baseURL, field, value)
	body, err := c.get(ctx, url, c.opts.WriteTimeout)
	if err != nil {
		span.SetTag("error", err)
		return err
	}
	if strings.EqualFold(strings.TrimSpace(body), "ERROR") {
		return &RejectedError{Field: field, Value: value, Reason: "device returned ERROR"}
	}
	c.logger.Debug("Wrote control value",
		zap.String("field", field),
		zap.String("value", value),
	)
	return nil
}

func (c *Client) get(ctx context.Context, url string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: unexpected status %d", ErrTransport, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return string(body), nil
}
