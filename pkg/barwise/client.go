// Package barwise is a Go client for the barwise-server HTTP API.
package barwise

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Intention is a trading intention as served by the API. Prices are
// decimal strings.
type Intention struct {
	ID         string            `json:"id"`
	Strategy   string            `json:"strategy"`
	Timestamp  time.Time         `json:"timestamp"`
	Symbol     string            `json:"symbol"`
	Direction  string            `json:"direction"`
	Price      string            `json:"price"`
	Confidence string            `json:"confidence"`
	Reason     string            `json:"reason"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Fill is a confirmed execution.
type Fill struct {
	OrderID   string    `json:"orderId"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Qty       string    `json:"qty"`
	Price     string    `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// Position is the fill-driven state of one instrument.
type Position struct {
	Symbol string `json:"symbol"`
	State  string `json:"state"`
}

// Bar is a cached daily bar.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      string    `json:"open"`
	High      string    `json:"high"`
	Low       string    `json:"low"`
	Close     string    `json:"close"`
	Volume    int64     `json:"volume"`
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("barwise api: %d %s", e.Status, e.Message)
}

// Client provides a Go SDK for interacting with the barwise-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new barwise API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Health returns nil when the server answers its health check.
func (c *Client) Health(ctx context.Context) error {
	var out map[string]string
	return c.get(ctx, "/api/health", nil, &out)
}

// Strategies lists the registered strategy names.
func (c *Client) Strategies(ctx context.Context) ([]string, error) {
	var out []string
	err := c.get(ctx, "/api/strategies", nil, &out)
	return out, err
}

// Intentions returns the most recent intentions, newest first. An empty
// strategy matches all; limit <= 0 uses the server default.
func (c *Client) Intentions(ctx context.Context, strategy string, limit int) ([]Intention, error) {
	q := url.Values{}
	if strategy != "" {
		q.Set("strategy", strategy)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []Intention
	err := c.get(ctx, "/api/intentions", q, &out)
	return out, err
}

// Fills returns journaled fills, optionally for one symbol.
func (c *Client) Fills(ctx context.Context, symbol string) ([]Fill, error) {
	q := url.Values{}
	if symbol != "" {
		q.Set("symbol", symbol)
	}
	var out []Fill
	err := c.get(ctx, "/api/fills", q, &out)
	return out, err
}

// Positions returns the current position of every instrument.
func (c *Client) Positions(ctx context.Context) ([]Position, error) {
	var out []Position
	err := c.get(ctx, "/api/positions", nil, &out)
	return out, err
}

// Bars retrieves cached daily bars for a symbol. Zero times leave the
// range open.
func (c *Client) Bars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	q := url.Values{}
	if !start.IsZero() {
		q.Set("start", start.Format("2006-01-02"))
	}
	if !end.IsZero() {
		q.Set("end", end.Format("2006-01-02"))
	}
	var out []Bar
	err := c.get(ctx, "/api/bars/"+url.PathEscape(symbol), q, &out)
	return out, err
}

func (c *Client) get(ctx context.Context, path string, q url.Values, v any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return &APIError{Status: resp.StatusCode, Message: body.Error}
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}
