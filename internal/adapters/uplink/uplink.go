// Package uplink ships entropy frames to a central collector over HTTP.
// Delivery is fire-and-forget with bounded retries: a collector outage must
// never stall harvesting or conditioning.
package uplink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/JupitersGhost/ChaosMagnet/internal/domain"
	"github.com/JupitersGhost/ChaosMagnet/internal/ports"
)

type Config struct {
	URL         string         `yaml:"url"`
	Enabled     bool           `yaml:"enabled"`
	Interval    ports.Duration `yaml:"interval"`
	MaxAttempts int            `yaml:"max_attempts"`
	BaseBackoff ports.Duration `yaml:"base_backoff"`
	Timeout     ports.Duration `yaml:"timeout"`
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = ports.Duration(30 * time.Second)
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = ports.Duration(250 * time.Millisecond)
	}
	if c.Timeout <= 0 {
		c.Timeout = ports.Duration(5 * time.Second)
	}
}

type Client struct {
	cfg    Config
	client *http.Client
	obs    ports.Observability
}

func New(cfg Config, obs ports.Observability) (*Client, error) {
	cfg.applyDefaults()
	if cfg.Enabled {
		u, err := url.Parse(cfg.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("uplink: invalid collector url %q", cfg.URL)
		}
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout.Std()},
		obs:    obs,
	}, nil
}

func (c *Client) Enabled() bool { return c.cfg.Enabled }

// Send posts one frame to the collector, retrying with exponential backoff.
// A frame that cannot be delivered after MaxAttempts is dropped and counted;
// it is never queued for later.
func (c *Client) Send(ctx context.Context, frame *domain.NetworkFrame) error {
	if !c.cfg.Enabled || frame == nil {
		return nil
	}

	body, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("uplink: marshal frame: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.cfg.BaseBackoff.Std() * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("uplink: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			c.obs.IncCounter("chaos_uplink_sent_total", 1)
			return nil
		}
		lastErr = fmt.Errorf("collector returned %d", resp.StatusCode)
	}

	c.obs.IncCounter("chaos_uplink_dropped_total", 1)
	c.obs.RecordEvent(fmt.Sprintf("UPLINK: dropped frame seq=%d after %d attempts", frame.Seq, c.cfg.MaxAttempts))
	return fmt.Errorf("uplink: frame seq=%d dropped: %w", frame.Seq, lastErr)
}

// Run pushes a fresh frame every Interval until ctx is cancelled. frameFn
// builds the frame from current engine state; a nil frame skips the tick.
func (c *Client) Run(ctx context.Context, frameFn func() *domain.NetworkFrame) {
	if !c.cfg.Enabled {
		return
	}
	ticker := time.NewTicker(c.cfg.Interval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame := frameFn()
			if frame == nil {
				continue
			}
			if err := c.Send(ctx, frame); err != nil {
				c.obs.LogError("uplink send failed", err)
			}
		}
	}
}
