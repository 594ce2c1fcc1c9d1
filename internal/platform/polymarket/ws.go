package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/polycopy/engine/internal/domain"
)

const (
	// writeWait bounds each write to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the reconnect backoff.
	maxReconnectDelay = 60 * time.Second
)

// BookHandler receives full orderbook snapshots from the "book" channel.
type BookHandler func(domain.OrderbookSnapshot)

// PriceChangeHandler receives incremental level updates from the
// "price_change" channel.
type PriceChangeHandler func(domain.PriceChange)

// WSClient streams the CLOB market-data feed. It manages the connection
// lifecycle, restores subscriptions after reconnect, and dispatches book
// and price-change messages to registered handlers.
type WSClient struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// Subscriptions to restore on reconnect.
	subscriptions []WSCommand

	handlerMu     sync.RWMutex
	bookHandlers  []BookHandler
	priceHandlers []PriceChangeHandler

	// done is closed on shutdown.
	done chan struct{}
}

// NewWSClient creates a client for the given WebSocket endpoint, e.g.
// "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL: wsURL,
		done:  make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the read and
// ping loops. Previously registered subscriptions are replayed.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("polymarket/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w", err)
	}
	w.conn = conn

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	stop := make(chan struct{})
	go w.readLoop(conn, stop)
	go w.pingLoop(conn, stop)

	for _, cmd := range w.subscriptions {
		if err := w.sendCommand(cmd); err != nil {
			return fmt.Errorf("polymarket/ws: restore subscription: %w", err)
		}
	}
	return nil
}

// Subscribe subscribes the given asset ids on the named channels. Valid
// channels are "book" and "price_change".
func (w *WSClient) Subscribe(channels []string, assetIDs []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("polymarket/ws: not connected")
	}

	for _, ch := range channels {
		cmd := WSCommand{
			Type:    "subscribe",
			Channel: ch,
			Assets:  assetIDs,
		}
		if err := w.sendCommand(cmd); err != nil {
			return fmt.Errorf("polymarket/ws: subscribe to %s: %w", ch, err)
		}
		w.subscriptions = append(w.subscriptions, cmd)
	}
	return nil
}

// Close shuts down the connection and stops the read and ping loops.
func (w *WSClient) Close() error {
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

// OnBook registers a handler for full orderbook snapshots.
func (w *WSClient) OnBook(handler BookHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.bookHandlers = append(w.bookHandlers, handler)
}

// OnPriceChange registers a handler for incremental level updates.
func (w *WSClient) OnPriceChange(handler PriceChangeHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.priceHandlers = append(w.priceHandlers, handler)
}

// sendCommand writes a JSON command. Caller must hold w.mu.
func (w *WSClient) sendCommand(cmd WSCommand) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads frames from conn and dispatches them until the
// connection drops. The loop owns exactly the connection it was started
// with; on disconnect it hands off to reconnect, which starts a new loop
// for the replacement connection, and tears down only its own.
func (w *WSClient) readLoop(conn *websocket.Conn, stop chan struct{}) {
	defer func() {
		conn.Close()
		close(stop)
	}()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}
			w.reconnect()
			return
		}

		w.handleMessage(message)
	}
}

// pingLoop keeps one connection alive. It exits with the read loop that
// owns the connection.
func (w *WSClient) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-stop:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage routes a raw frame to the matching handlers. Unparseable
// frames are dropped.
func (w *WSClient) handleMessage(raw []byte) {
	var envelope struct {
		MsgType string `json:"msg_type"`
		Event   string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}

	msgType := envelope.MsgType
	if msgType == "" {
		msgType = envelope.Event
	}

	switch msgType {
	case "book":
		var book APIBook
		if err := json.Unmarshal(raw, &book); err != nil {
			return
		}
		snap := book.ToDomainSnapshot()

		w.handlerMu.RLock()
		handlers := w.bookHandlers
		w.handlerMu.RUnlock()
		for _, h := range handlers {
			h(snap)
		}

	case "price_change":
		var pc PriceChangeMessage
		if err := json.Unmarshal(raw, &pc); err != nil {
			return
		}
		change := pc.ToDomain()

		w.handlerMu.RLock()
		handlers := w.priceHandlers
		w.handlerMu.RUnlock()
		for _, h := range handlers {
			h(change)
		}
	}
}

// reconnect re-establishes the connection with exponential backoff. It
// blocks until connected or the client is closed.
func (w *WSClient) reconnect() {
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
