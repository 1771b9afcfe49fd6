package server

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/Tyrowin/relaychat/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Transport is the outbound half of a live connection. Write must not block:
// it enqueues the payload or fails. Close must be safe to call repeatedly.
type Transport interface {
	Write(payload []byte) error
	Close()
}

// Connection is one registered transport for a user.
type Connection struct {
	UserID      int64
	ID          uuid.UUID
	ConnectedAt time.Time

	transport Transport
}

// HubOptions configures a Hub. Every field is optional.
type HubOptions struct {
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Observer PresenceObserver
}

// Hub is the registry of live connections, keyed by user id. A user has at
// most one connection; connecting again replaces and closes the previous one.
type Hub struct {
	conns    map[int64]*Connection
	mutex    sync.RWMutex
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	closed   bool
	logger   *zap.Logger
	metrics  *metrics.Metrics
	observer PresenceObserver
}

// NewHub creates an empty Hub.
func NewHub(opts HubOptions) *Hub {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		conns:    make(map[int64]*Connection),
		ctx:      ctx,
		cancel:   cancel,
		logger:   opts.Logger.With(zap.String("component", "hub")),
		metrics:  opts.Metrics,
		observer: opts.Observer,
	}
}

// Context is cancelled when the hub shuts down.
func (h *Hub) Context() context.Context {
	return h.ctx
}

// Connect registers transport as userID's live connection. A previous
// connection for the same user is closed without an offline notification.
// After Shutdown the transport is closed immediately and not registered.
func (h *Hub) Connect(userID int64, transport Transport) *Connection {
	conn, _ := h.connect(userID, transport, 0)
	return conn
}

// connect registers transport and, when accepted, adds pumps to the wait
// group while still holding the lock so Shutdown cannot be waiting yet.
func (h *Hub) connect(userID int64, transport Transport, pumps int) (*Connection, bool) {
	conn := &Connection{
		UserID:      userID,
		ID:          uuid.New(),
		ConnectedAt: time.Now(),
		transport:   transport,
	}

	h.mutex.Lock()
	if h.closed {
		h.mutex.Unlock()
		transport.Close()
		h.logger.Info("Rejected connection after shutdown", zap.Int64("user_id", userID))
		return conn, false
	}
	previous := h.conns[userID]
	h.conns[userID] = conn
	count := len(h.conns)
	h.wg.Add(pumps)
	h.mutex.Unlock()

	h.metrics.SetConnected(count)
	logger := h.logger.With(zap.Int64("user_id", userID), zap.String("conn_id", conn.ID.String()))

	if previous != nil {
		previous.transport.Close()
		logger.Info("Connection replaced", zap.String("previous_conn_id", previous.ID.String()))
		return conn, true
	}

	logger.Info("User connected", zap.Int("total", count))
	if h.observer != nil {
		h.observer.UserConnected(userID)
	}
	return conn, true
}

// Disconnect removes and closes userID's connection. It is a no-op when the
// user is not connected.
func (h *Hub) Disconnect(userID int64) {
	h.mutex.RLock()
	conn := h.conns[userID]
	h.mutex.RUnlock()

	if conn != nil {
		h.release(conn, "disconnect")
	}
}

// release deregisters conn if it is still the user's current connection and
// closes its transport either way. It reports whether the mapping was removed.
func (h *Hub) release(conn *Connection, reason string) bool {
	h.mutex.Lock()
	current, ok := h.conns[conn.UserID]
	removed := ok && current == conn
	if removed {
		delete(h.conns, conn.UserID)
	}
	count := len(h.conns)
	h.mutex.Unlock()

	conn.transport.Close()
	if !removed {
		return false
	}

	h.metrics.SetConnected(count)
	h.logger.Info("User disconnected",
		zap.Int64("user_id", conn.UserID), zap.String("conn_id", conn.ID.String()),
		zap.String("reason", reason), zap.Int("total", count))
	if h.observer != nil {
		h.observer.UserDisconnected(conn.UserID)
	}
	return true
}

// Send marshals envelope and enqueues it on userID's connection. It returns
// false if the user is not connected or the enqueue fails; a failed
// connection is deregistered before Send returns.
func (h *Hub) Send(userID int64, envelope any) bool {
	payload, err := json.Marshal(envelope)
	if err != nil {
		h.logger.Error("Failed to marshal envelope", zap.Int64("user_id", userID), zap.Error(err))
		return false
	}
	return h.sendPayload(userID, payload)
}

// Broadcast marshals envelope once and sends it to each distinct recipient.
// A failure for one recipient does not affect the others. It returns the
// number of recipients reached.
func (h *Hub) Broadcast(envelope any, recipients []int64) int {
	if len(recipients) == 0 {
		return 0
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast envelope", zap.Error(err))
		return 0
	}

	delivered := 0
	seen := make(map[int64]struct{}, len(recipients))
	for _, userID := range recipients {
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}
		if h.sendPayload(userID, payload) {
			delivered++
		}
	}
	return delivered
}

func (h *Hub) sendPayload(userID int64, payload []byte) bool {
	h.mutex.RLock()
	conn := h.conns[userID]
	h.mutex.RUnlock()

	if conn == nil {
		return false
	}

	if err := conn.transport.Write(payload); err != nil {
		h.metrics.Delivery(false)
		h.logger.Warn("Send failed; dropping connection",
			zap.Int64("user_id", userID), zap.String("conn_id", conn.ID.String()), zap.Error(err))
		h.release(conn, "send_failed")
		return false
	}

	h.metrics.Delivery(true)
	return true
}

// IsConnected reports whether userID has a live connection.
func (h *Hub) IsConnected(userID int64) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	_, ok := h.conns[userID]
	return ok
}

// ListConnected returns the connected user ids in ascending order.
func (h *Hub) ListConnected() []int64 {
	h.mutex.RLock()
	users := make([]int64, 0, len(h.conns))
	for userID := range h.conns {
		users = append(users, userID)
	}
	h.mutex.RUnlock()

	slices.Sort(users)
	return users
}

// Count returns the number of connected users.
func (h *Hub) Count() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.conns)
}

// Attach registers client and starts its read and write pumps. It returns
// nil and closes the socket when the hub has already shut down.
func (h *Hub) Attach(client *Client) *Connection {
	conn, ok := h.connect(client.userID, client, 2)
	if !ok {
		if client.conn != nil {
			_ = client.conn.Close()
		}
		return nil
	}
	client.connection = conn

	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
	return conn
}

// Shutdown closes every connection and waits for the client goroutines to
// finish, or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("Initiating hub shutdown")
	h.cancel()

	h.mutex.Lock()
	h.closed = true
	conns := make([]*Connection, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mutex.Unlock()

	for _, conn := range conns {
		h.release(conn, "shutdown")
	}
	h.logger.Info("Closed client connections", zap.Int("count", len(conns)))

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
