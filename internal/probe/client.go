// Package probe performs single HTTP requests against monitor targets with
// per-request deadlines.
package probe

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/monitron-io/monitron/internal/logging"
	"github.com/monitron-io/monitron/pkg/models"
)

// Result is a successfully received HTTP response. Classification into
// up/down happens in the executor; the probe only reports what it saw.
type Result struct {
	StatusCode int
	Latency    time.Duration
}

// Client issues HTTP probes. It never retries: retry policy belongs to the
// scheduler via next_run_at.
type Client struct {
	userAgent string
	client    *http.Client
	logger    *logging.Logger
}

// NewClient creates a probe client with a shared transport. The per-probe
// deadline comes from each monitor's timeout, not from the client.
func NewClient(userAgent string, logger *logging.Logger) *Client {
	return &Client{
		userAgent: userAgent,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:      100,
				IdleConnTimeout:   30 * time.Second,
				DisableKeepAlives: true,
			},
		},
		logger: logger.WithComponent(logging.ComponentProbe),
	}
}

// Do performs one probe for the given snapshot. On any transport or timeout
// failure it returns a nil Result and the error.
func (c *Client) Do(ctx context.Context, snapshot *models.MonitorSnapshot) (*Result, error) {
	probeCtx, cancel := context.WithTimeout(ctx, snapshot.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, snapshot.Method, snapshot.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.client.Do(req)
	latency := time.Since(start)

	if err != nil {
		c.logger.WithMonitor(snapshot.ID, snapshot.Name).
			WithError(err).
			WithFields(map[string]interface{}{"url": snapshot.URL, "kind": Kind(err)}).
			Debug("Probe request failed")
		return nil, err
	}
	defer resp.Body.Close()

	c.logger.WithMonitor(snapshot.ID, snapshot.Name).
		WithFields(map[string]interface{}{
			"url":         snapshot.URL,
			"status_code": resp.StatusCode,
			"latency":     latency,
		}).
		Debug("Probe completed")

	return &Result{StatusCode: resp.StatusCode, Latency: latency}, nil
}

// Kind classifies a probe error as "timeout" or "transport". The executor
// treats both identically; the distinction only feeds metrics and logs.
func Kind(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	return "transport"
}
