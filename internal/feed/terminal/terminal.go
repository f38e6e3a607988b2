// Package terminal implements feed.Source against the HTTP bridge exposed by a desktop trading terminal.
//
// The bridge mirrors the terminal's scripting API: a session is opened with /initialize followed by
// /login, probed with /terminal_info and released with /shutdown. Market data is read from /symbols,
// /tick and /rates.
package terminal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"fxalert/internal/feed"
)

// DefaultTimeout bounds every bridge request, including heartbeat probes.
const DefaultTimeout = 5 * time.Second

// Config holds the bridge address and the trading account credentials.
type Config struct {
	BaseURL  string
	Login    int64
	Password string
	Server   string
	Timeout  time.Duration
}

// Client is a feed.Source backed by the terminal bridge.
// The session lock is held exclusively by Connect and Teardown and shared by every query.
type Client struct {
	cfg        Config
	httpClient *http.Client

	session   sync.RWMutex
	connected atomic.Bool
}

// New creates a bridge client. No request is made until Connect.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type statusResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type loginRequest struct {
	Login    int64  `json:"login"`
	Password string `json:"password"`
	Server   string `json:"server"`
}

type symbolsResponse struct {
	Symbols []struct {
		Name string `json:"name"`
	} `json:"symbols"`
}

type tickResponse struct {
	Bid  decimal.Decimal `json:"bid"`
	Ask  decimal.Decimal `json:"ask"`
	Time int64           `json:"time"`
}

type ratesResponse struct {
	Rates []struct {
		Time       int64           `json:"time"`
		Open       decimal.Decimal `json:"open"`
		High       decimal.Decimal `json:"high"`
		Low        decimal.Decimal `json:"low"`
		Close      decimal.Decimal `json:"close"`
		TickVolume int64           `json:"tick_volume"`
	} `json:"rates"`
}

// Connect initializes the terminal and logs in to the configured account.
// A failed login releases the half-open session before returning.
func (c *Client) Connect(ctx context.Context) error {
	c.session.Lock()
	defer c.session.Unlock()

	if c.connected.Load() {
		return nil
	}

	var init statusResponse
	if _, err := c.do(ctx, http.MethodPost, "/initialize", nil, nil, &init); err != nil {
		return &feed.ConnectError{Op: "initialize", Err: err}
	}
	if !init.OK {
		return &feed.ConnectError{Op: "initialize", Err: fmt.Errorf("terminal rejected initialize: %s", init.Error)}
	}

	var login statusResponse
	body := loginRequest{Login: c.cfg.Login, Password: c.cfg.Password, Server: c.cfg.Server}
	_, err := c.do(ctx, http.MethodPost, "/login", nil, body, &login)
	if err == nil && !login.OK {
		err = fmt.Errorf("terminal rejected login for account %d: %s", c.cfg.Login, login.Error)
	}
	if err != nil {
		if _, shutdownErr := c.do(ctx, http.MethodPost, "/shutdown", nil, nil, nil); shutdownErr != nil {
			slog.Warn("Failed to release terminal after login failure", "error", shutdownErr)
		}
		return &feed.ConnectError{Op: "login", Err: err}
	}

	c.connected.Store(true)
	slog.Info("Terminal session established", "server", c.cfg.Server, "login", c.cfg.Login)
	return nil
}

// Teardown releases the session. Calling it without a live session is a no-op.
func (c *Client) Teardown(ctx context.Context) error {
	c.session.Lock()
	defer c.session.Unlock()

	if !c.connected.Swap(false) {
		return nil
	}
	if _, err := c.do(ctx, http.MethodPost, "/shutdown", nil, nil, nil); err != nil {
		slog.Warn("Terminal shutdown request failed", "error", err)
		return fmt.Errorf("failed to shut down terminal session: %w", err)
	}
	slog.Info("Terminal session closed")
	return nil
}

// IsConnected reports the last known session state.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Ping probes /terminal_info. A null body means the terminal lost its session.
func (c *Client) Ping(ctx context.Context) error {
	c.session.RLock()
	defer c.session.RUnlock()

	if !c.connected.Load() {
		return feed.ErrNotConnected
	}
	var info json.RawMessage
	if _, err := c.do(ctx, http.MethodGet, "/terminal_info", nil, nil, &info); err != nil {
		return fmt.Errorf("terminal probe failed: %w", err)
	}
	if len(info) == 0 || string(info) == "null" {
		return fmt.Errorf("terminal probe returned no terminal info")
	}
	return nil
}

// ListSymbols returns the tradable symbol names.
func (c *Client) ListSymbols(ctx context.Context) ([]string, error) {
	c.session.RLock()
	defer c.session.RUnlock()

	if !c.connected.Load() {
		return nil, feed.ErrNotConnected
	}
	var resp symbolsResponse
	if _, err := c.do(ctx, http.MethodGet, "/symbols", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get symbols: %w", err)
	}
	symbols := make([]string, 0, len(resp.Symbols))
	for _, s := range resp.Symbols {
		symbols = append(symbols, s.Name)
	}
	return symbols, nil
}

// GetQuote returns the latest tick, or nil when the terminal does not know the symbol.
func (c *Client) GetQuote(ctx context.Context, symbol string) (*feed.Quote, error) {
	c.session.RLock()
	defer c.session.RUnlock()

	if !c.connected.Load() {
		return nil, feed.ErrNotConnected
	}
	var tick tickResponse
	status, err := c.do(ctx, http.MethodGet, "/tick", url.Values{"symbol": {symbol}}, nil, &tick)
	if status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tick for %s: %w", symbol, err)
	}
	return &feed.Quote{
		Symbol: symbol,
		Bid:    tick.Bid,
		Ask:    tick.Ask,
		Time:   time.Unix(tick.Time, 0).UTC(),
	}, nil
}

// GetHistory returns up to count bars ordered oldest to newest.
func (c *Client) GetHistory(ctx context.Context, symbol string, tf feed.Timeframe, count int) ([]feed.Bar, error) {
	c.session.RLock()
	defer c.session.RUnlock()

	if !c.connected.Load() {
		return nil, feed.ErrNotConnected
	}
	if count <= 0 {
		return []feed.Bar{}, nil
	}

	query := url.Values{
		"symbol":    {symbol},
		"timeframe": {feed.ParseTimeframe(string(tf)).String()},
		"count":     {strconv.Itoa(count)},
	}
	var resp ratesResponse
	if _, err := c.do(ctx, http.MethodGet, "/rates", query, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get historical data for %s: %w", symbol, err)
	}

	bars := make([]feed.Bar, 0, len(resp.Rates))
	for _, r := range resp.Rates {
		bars = append(bars, feed.Bar{
			Time:   time.Unix(r.Time, 0).UTC(),
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.TickVolume,
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	if len(bars) > count {
		bars = bars[len(bars)-count:]
	}
	return bars, nil
}

// do performs one bridge request. The returned status is valid whenever a response was received,
// even if err is non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) (int, error) {
	endpoint := c.cfg.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("bridge %s returned status %d", path, resp.StatusCode)
	}
	if out == nil {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return resp.StatusCode, nil
}
