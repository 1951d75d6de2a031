package texting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"power-dialer/internal/telephony"
)

var (
	ErrNotConfigured = errors.New("texting: gateway not configured")
	// ErrRejected is a 4xx from the gateway; retrying will not help.
	ErrRejected = errors.New("texting: gateway rejected message")
	ErrGateway  = errors.New("texting: gateway unavailable")
)

type Config struct {
	GatewayURL     string
	APIKey         string
	From           string
	PreviewBaseURL string
	Region         string

	// PerSecond caps outbound sends. Zero means 1/s with a burst of 5.
	PerSecond float64
	Burst     int

	HTTPClient *http.Client
}

// Client posts SMS messages to an HTTP gateway as JSON.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
}

func New(cfg Config) *Client {
	cfg.GatewayURL = strings.TrimSpace(cfg.GatewayURL)
	cfg.PreviewBaseURL = strings.TrimRight(strings.TrimSpace(cfg.PreviewBaseURL), "/")
	if cfg.PerSecond <= 0 {
		cfg.PerSecond = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{cfg: cfg, http: hc, limiter: rate.NewLimiter(rate.Limit(cfg.PerSecond), cfg.Burst)}
}

type sendRequest struct {
	From string `json:"from,omitempty"`
	To   string `json:"to"`
	Body string `json:"body"`
}

// Send delivers body to the given number, normalized to E.164.
func (c *Client) Send(ctx context.Context, to, body string) error {
	if c == nil || c.cfg.GatewayURL == "" {
		return ErrNotConfigured
	}
	num, err := telephony.NormalizeE164(to, c.cfg.Region)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("%w: empty body", ErrRejected)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	raw, err := json.Marshal(sendRequest{From: c.cfg.From, To: num, Body: body})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.GatewayURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGateway, err)
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrGateway, resp.StatusCode, strings.TrimSpace(string(msg)))
	default:
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
}

// PreviewLink is the lead preview page sent after an interested call.
func (c *Client) PreviewLink(leadID string) string {
	if c == nil {
		return ""
	}
	return c.cfg.PreviewBaseURL + "/leads/" + url.PathEscape(leadID)
}
