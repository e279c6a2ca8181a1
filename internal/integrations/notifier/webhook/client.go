// Package webhook delivers notifications as JSON POSTs behind a circuit breaker.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/BearBump/FreightDesk/internal/integrations/notifier"
	"github.com/BearBump/FreightDesk/internal/metrics"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
)

var ErrCircuitOpen = errors.New("notifier circuit open")

type Config struct {
	URL     string
	Secret  string
	Timeout time.Duration

	// FailureThreshold consecutive failures open the breaker for OpenTimeout.
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

type Client struct {
	url    string
	secret string
	httpc  *http.Client
	cb     *gobreaker.CircuitBreaker
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	threshold := cfg.FailureThreshold
	return &Client{
		url:    cfg.URL,
		secret: cfg.Secret,
		httpc:  &http.Client{Timeout: cfg.Timeout},
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "notifier-webhook",
			MaxRequests: 1,
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

func (c *Client) State() gobreaker.State {
	return c.cb.State()
}

func (c *Client) Notify(ctx context.Context, n notifier.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "marshal notification")
	}

	_, err = c.cb.Execute(func() (interface{}, error) {
		return nil, c.post(ctx, n, body)
	})
	switch {
	case err == nil:
		metrics.NotifierDeliveries.WithLabelValues("ok").Inc()
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.NotifierDeliveries.WithLabelValues("circuit_open").Inc()
		return ErrCircuitOpen
	default:
		metrics.NotifierDeliveries.WithLabelValues("error").Inc()
		return err
	}
}

func (c *Client) post(ctx context.Context, n notifier.Notification, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Account-ID", n.AccountID)
	req.Header.Set("X-Notification-Kind", string(n.Kind))
	if c.secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.secret)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("notifier webhook rate limit (429)")
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("notifier webhook http %d", resp.StatusCode)
	}
	return nil
}
