// Package binance implements the exchange client against the Binance spot
// REST API, plus a websocket top-of-book feed.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/driftlabs/gridbot/internal/crypto"
	"github.com/driftlabs/gridbot/internal/domain"
)

// DefaultBaseURL is the production spot REST endpoint.
const DefaultBaseURL = "https://api.binance.com"

// Binance error codes the client distinguishes.
const (
	codeUnknownOrder        = -2011
	codeNoSuchOrder         = -2013
	codeInsufficientBalance = -2010
)

// Client is the REST exchange client for a single trading symbol.
type Client struct {
	baseURL    string
	symbol     string // exchange form, e.g. ATOMUSDT
	base       string // base asset, e.g. ATOM
	quote      string // quote asset, e.g. USDT
	httpClient *http.Client
	auth       *crypto.HMACAuth
	logger     *slog.Logger
}

// New creates a Client for symbol given as BASE/QUOTE. baseURL may be empty
// to use the production endpoint.
func New(baseURL, symbol string, auth *crypto.HMACAuth, logger *slog.Logger) (*Client, error) {
	parts := strings.SplitN(symbol, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("binance: symbol %q must be BASE/QUOTE", symbol)
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		symbol:  parts[0] + parts[1],
		base:    parts[0],
		quote:   parts[1],
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		auth:   auth,
		logger: logger.With(slog.String("component", "binance"), slog.String("symbol", symbol)),
	}, nil
}

// FetchTicker returns the 24h ticker summary for the symbol.
func (c *Client) FetchTicker(ctx context.Context) (domain.Ticker, error) {
	params := url.Values{"symbol": {c.symbol}}
	body, err := c.get(ctx, "/api/v3/ticker/24hr", params, false)
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("binance: fetch ticker: %w", err)
	}
	var t apiTicker
	if err := json.Unmarshal(body, &t); err != nil {
		return domain.Ticker{}, fmt.Errorf("binance: decode ticker: %w", err)
	}
	return t.toDomain(), nil
}

// FetchOrderBook returns up to depth levels per side.
func (c *Client) FetchOrderBook(ctx context.Context, depth int) (domain.OrderBook, error) {
	if depth <= 0 {
		depth = 50
	}
	params := url.Values{
		"symbol": {c.symbol},
		"limit":  {strconv.Itoa(depth)},
	}
	body, err := c.get(ctx, "/api/v3/depth", params, false)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("binance: fetch orderbook: %w", err)
	}
	var d apiDepth
	if err := json.Unmarshal(body, &d); err != nil {
		return domain.OrderBook{}, fmt.Errorf("binance: decode orderbook: %w", err)
	}
	return d.toDomain(), nil
}

// FetchOpenOrders returns the account's resting orders for the symbol.
func (c *Client) FetchOpenOrders(ctx context.Context) ([]domain.LiveOrder, error) {
	params := url.Values{"symbol": {c.symbol}}
	body, err := c.get(ctx, "/api/v3/openOrders", params, true)
	if err != nil {
		return nil, fmt.Errorf("binance: fetch open orders: %w", err)
	}
	var raw []apiOrder
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("binance: decode open orders: %w", err)
	}
	orders := make([]domain.LiveOrder, 0, len(raw))
	for _, o := range raw {
		orders = append(orders, o.toDomain())
	}
	return orders, nil
}

// FetchBalance returns free/total balances for the traded pair's assets.
func (c *Client) FetchBalance(ctx context.Context) (domain.Balances, error) {
	params := url.Values{"omitZeroBalances": {"true"}}
	body, err := c.get(ctx, "/api/v3/account", params, true)
	if err != nil {
		return domain.Balances{}, fmt.Errorf("binance: fetch balance: %w", err)
	}
	var account struct {
		Balances []apiBalance `json:"balances"`
	}
	if err := json.Unmarshal(body, &account); err != nil {
		return domain.Balances{}, fmt.Errorf("binance: decode account: %w", err)
	}

	var out domain.Balances
	for _, b := range account.Balances {
		free := parseFloat(b.Free)
		total := free + parseFloat(b.Locked)
		switch b.Asset {
		case c.base:
			out.BaseFree, out.BaseTotal = free, total
		case c.quote:
			out.QuoteFree, out.QuoteTotal = free, total
		}
	}
	return out, nil
}

// FetchTrades returns recent public trades within the lookback window.
func (c *Client) FetchTrades(ctx context.Context, lookback time.Duration) ([]domain.TradeTick, error) {
	params := url.Values{
		"symbol": {c.symbol},
		"limit":  {"1000"},
	}
	body, err := c.get(ctx, "/api/v3/trades", params, false)
	if err != nil {
		return nil, fmt.Errorf("binance: fetch trades: %w", err)
	}
	var raw []apiTrade
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("binance: decode trades: %w", err)
	}

	cutoff := time.Now().Add(-lookback)
	ticks := make([]domain.TradeTick, 0, len(raw))
	for _, t := range raw {
		tick := t.toDomain()
		if tick.Timestamp.Before(cutoff) {
			continue
		}
		ticks = append(ticks, tick)
	}
	return ticks, nil
}

// CreateOrder places a GTC limit order.
func (c *Client) CreateOrder(ctx context.Context, side domain.OrderSide, price, size float64) (domain.LiveOrder, error) {
	params := url.Values{
		"symbol":           {c.symbol},
		"side":             {sideToAPI(side)},
		"type":             {"LIMIT"},
		"timeInForce":      {"GTC"},
		"quantity":         {formatAmount(size)},
		"price":            {formatAmount(price)},
		"newOrderRespType": {"RESULT"},
	}
	body, err := c.send(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return domain.LiveOrder{}, fmt.Errorf("binance: create order: %w", err)
	}
	var o apiOrder
	if err := json.Unmarshal(body, &o); err != nil {
		return domain.LiveOrder{}, fmt.Errorf("binance: decode order response: %w", err)
	}
	live := o.toDomain()
	if live.CreatedAt.IsZero() || live.CreatedAt.Unix() == 0 {
		live.CreatedAt = time.Now().UTC()
	}
	c.logger.Debug("order placed",
		slog.String("order_id", live.ID),
		slog.String("side", string(side)),
		slog.Float64("price", price),
		slog.Float64("size", size),
	)
	return live, nil
}

// CancelOrder cancels by exchange order id.
func (c *Client) CancelOrder(ctx context.Context, id string) error {
	params := url.Values{
		"symbol":  {c.symbol},
		"orderId": {id},
	}
	if _, err := c.send(ctx, http.MethodDelete, "/api/v3/order", params); err != nil {
		return fmt.Errorf("binance: cancel order %s: %w", id, err)
	}
	return nil
}

// FetchOrder returns a single order's current state.
func (c *Client) FetchOrder(ctx context.Context, id string) (domain.LiveOrder, error) {
	params := url.Values{
		"symbol":  {c.symbol},
		"orderId": {id},
	}
	body, err := c.get(ctx, "/api/v3/order", params, true)
	if err != nil {
		return domain.LiveOrder{}, fmt.Errorf("binance: fetch order %s: %w", id, err)
	}
	var o apiOrder
	if err := json.Unmarshal(body, &o); err != nil {
		return domain.LiveOrder{}, fmt.Errorf("binance: decode order: %w", err)
	}
	return o.toDomain(), nil
}

// get performs a GET request; signed requests get the HMAC signature and
// API key header applied.
func (c *Client) get(ctx context.Context, path string, params url.Values, signed bool) ([]byte, error) {
	query := params.Encode()
	if signed {
		query = c.auth.SignQuery(params)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", c.auth.Key)
	}
	return c.do(req)
}

// send performs a signed POST or DELETE with the parameters in the query
// string, as the exchange expects for order endpoints.
func (c *Client) send(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	query := c.auth.SignQuery(params)
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+query, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", c.auth.Key)
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExchangeUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrExchangeUnreachable, err)
	}

	if err := classifyStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// classifyStatus maps non-2xx responses onto the domain sentinel errors so
// the engine can tell transient trouble from hard rejections.
func classifyStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr apiError
	_ = json.Unmarshal(body, &apiErr)

	switch {
	case statusCode >= 500, statusCode == http.StatusTooManyRequests, statusCode == 418:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrExchangeUnreachable, statusCode, apiErr.Msg)
	case apiErr.Code == codeUnknownOrder, apiErr.Code == codeNoSuchOrder:
		return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, apiErr.Msg)
	case apiErr.Code == codeInsufficientBalance:
		return fmt.Errorf("%w: %s", domain.ErrInsufficientBalance, apiErr.Msg)
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: HTTP 404", domain.ErrOrderNotFound)
	default:
		return fmt.Errorf("%w: HTTP %d (code %d): %s", domain.ErrOrderRejected, statusCode, apiErr.Code, apiErr.Msg)
	}
}

// formatAmount renders a price or quantity without scientific notation.
func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

var _ domain.ExchangeClient = (*Client)(nil)
