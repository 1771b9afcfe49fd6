package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/Tyrowin/relaychat/internal/protocol"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is one accepted WebSocket connection for a user. It implements
// Transport for the Hub: writes are queued on a bounded buffer drained by
// writePump, and inbound frames are decoded and dispatched by readPump in
// arrival order.
type Client struct {
	conn           *websocket.Conn
	send           chan []byte
	done           chan struct{}
	closeOnce      sync.Once
	hub            *Hub
	dispatcher     Dispatcher
	userID         int64
	addr           string
	connection     *Connection
	maxMessageSize int64
	rateLimiter    *rate.Limiter
	rateLimit      RateLimitConfig
	logger         *zap.Logger
}

// NewClient creates a Client for userID on conn. It is registered and
// started by Hub.Attach.
func NewClient(conn *websocket.Conn, hub *Hub, dispatcher Dispatcher, userID int64, addr string, cfg Config, logger *zap.Logger) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		conn:           conn,
		send:           make(chan []byte, cfg.SendBufferSize),
		done:           make(chan struct{}),
		hub:            hub,
		dispatcher:     dispatcher,
		userID:         userID,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit),
		rateLimit:      cfg.RateLimit,
		logger:         logger.With(zap.Int64("user_id", userID), zap.String("remote_addr", addr)),
	}
}

// Write enqueues payload for delivery without blocking.
func (c *Client) Write(payload []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// Close stops the write pump, which sends a close frame and closes the
// socket. The send channel is never closed, so a concurrent Write cannot
// panic.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("Error setting initial read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// logReadError logs a read failure at a level matching how expected it is.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("Envelope exceeded maximum size", zap.Int64("max_bytes", c.maxMessageSize))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.logger.Debug("Client closed connection", zap.Error(err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Debug("Connection closed", zap.Error(err))
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger.Warn("Unexpected WebSocket close", zap.Error(err))
	default:
		c.logger.Info("WebSocket read error", zap.Error(err))
	}
}

// throttle blocks until the rate limiter admits the next envelope, so a
// fast sender stalls its own reads instead of losing envelopes. It fails
// only when ctx ends first.
func (c *Client) throttle(ctx context.Context) error {
	r := c.rateLimiter.Reserve()
	delay := r.Delay()
	if delay == 0 {
		return nil
	}

	c.logger.Debug("Rate limit reached; delaying read",
		zap.Duration("delay", delay), zap.Int("burst", c.rateLimit.Burst),
		zap.Duration("refill_interval", c.rateLimit.RefillInterval))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}

// processMessage decodes one frame and dispatches it. A frame that does not
// decode is answered with an error envelope on this connection only.
func (c *Client) processMessage(raw []byte) {
	in, err := protocol.Decode(raw)
	if err != nil {
		c.logger.Info("Invalid envelope", zap.Error(err))
		c.reply(protocol.NewError("Invalid JSON format", err))
		return
	}
	c.dispatcher.Dispatch(c.hub.Context(), c.userID, in)
}

func (c *Client) reply(envelope any) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		c.logger.Error("Failed to marshal reply", zap.Error(err))
		return
	}
	if err := c.Write(payload); err != nil {
		c.logger.Info("Failed to queue reply", zap.Error(err))
	}
}

func (c *Client) readPump() {
	defer func() {
		if c.connection != nil {
			c.hub.release(c.connection, "read_closed")
		} else {
			c.Close()
		}
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn("Error closing connection in readPump", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(c.hub.Context())
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if err := c.throttle(ctx); err != nil {
			return
		}

		c.processMessage(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message := <-c.send:
		return c.writeTextMessage(message) && c.writeQueuedMessages()
	case <-c.done:
		return c.writeCloseMessage()
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection closes the socket and marks the transport closed so
// further Writes fail fast.
func (c *Client) closeConnection() {
	c.Close()
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn("Error closing connection in writePump", zap.Error(err))
	}
}

// writeCloseMessage sends a close frame; the pump always stops afterwards.
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err == nil {
		err = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if err != nil && !isExpectedCloseError(err) {
			c.logger.Debug("Error writing close message", zap.Error(err))
		}
	}
	return false
}

// writeTextMessage writes one envelope as its own text frame.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("Error setting write deadline", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Info("Error writing message", zap.Error(err))
		}
		return false
	}
	return true
}

// writeQueuedMessages flushes envelopes that queued up during the last write.
func (c *Client) writeQueuedMessages() bool {
	n := len(c.send)
	for i := 0; i < n; i++ {
		if !c.writeTextMessage(<-c.send) {
			return false
		}
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("Error setting write deadline for ping", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Info("Error writing ping message", zap.Error(err))
		return false
	}
	return true
}
