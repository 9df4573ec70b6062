package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultWSURL is the production spot stream endpoint.
	DefaultWSURL = "wss://stream.binance.com:9443/ws"

	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// Quote is one top-of-book update from the bookTicker stream.
type Quote struct {
	Bid     float64
	BidSize float64
	Ask     float64
	AskSize float64
	At      time.Time
}

// Mid returns the quote midpoint, or 0 when a side is missing.
func (q Quote) Mid() float64 {
	if q.Bid <= 0 || q.Ask <= 0 {
		return 0
	}
	return (q.Bid + q.Ask) / 2
}

// QuoteHandler is called for every top-of-book update.
type QuoteHandler func(Quote)

// WSFeed streams the symbol's top-of-book over websocket. It manages the
// connection lifecycle and reconnects with exponential backoff; the REST
// client stays the source of truth for trading decisions.
type WSFeed struct {
	url string

	mu     sync.RWMutex
	conn   *websocket.Conn
	closed bool

	handlerMu sync.RWMutex
	handlers  []QuoteHandler

	// done is closed when the feed is shut down.
	done chan struct{}
}

// NewWSFeed creates a feed for symbol given as BASE/QUOTE. wsURL may be
// empty to use the production endpoint.
func NewWSFeed(wsURL, symbol string) *WSFeed {
	if wsURL == "" {
		wsURL = DefaultWSURL
	}
	stream := strings.ToLower(strings.ReplaceAll(symbol, "/", "")) + "@bookTicker"
	return &WSFeed{
		url:  strings.TrimRight(wsURL, "/") + "/" + stream,
		done: make(chan struct{}),
	}
}

// OnQuote registers a handler called for every update. Handlers must not
// block; they run on the read loop goroutine.
func (w *WSFeed) OnQuote(h QuoteHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Connect establishes the stream connection and starts the read and ping
// loops.
func (w *WSFeed) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("binance/ws: feed closed")
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("binance/ws: connect: %w", err)
	}
	w.conn = conn

	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop()
	go w.pingLoop()
	return nil
}

// Close shuts down the connection and stops the loops.
func (w *WSFeed) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}
	return nil
}

func (w *WSFeed) readLoop() {
	defer func() {
		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}
			w.reconnect()
			return // readLoop restarts via reconnect -> Connect
		}

		w.handleMessage(message)
	}
}

func (w *WSFeed) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.RLock()
			conn := w.conn
			w.mu.RUnlock()
			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a bookTicker payload and fans it out. Unparseable
// messages are dropped silently.
func (w *WSFeed) handleMessage(raw []byte) {
	var msg struct {
		BidPrice string `json:"b"`
		BidQty   string `json:"B"`
		AskPrice string `json:"a"`
		AskQty   string `json:"A"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	q := Quote{
		Bid:     parseFloat(msg.BidPrice),
		BidSize: parseFloat(msg.BidQty),
		Ask:     parseFloat(msg.AskPrice),
		AskSize: parseFloat(msg.AskQty),
		At:      time.Now().UTC(),
	}
	if q.Bid <= 0 && q.Ask <= 0 {
		return
	}

	w.handlerMu.RLock()
	handlers := w.handlers
	w.handlerMu.RUnlock()
	for _, h := range handlers {
		h(q)
	}
}

// reconnect re-establishes the connection with exponential backoff. It
// blocks until successful or the feed is closed.
func (w *WSFeed) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()
		if err == nil {
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
