package server

import (
	"context"
	"errors"
	"strings"

	"github.com/Tyrowin/relaychat/internal/protocol"
	"github.com/Tyrowin/relaychat/internal/routing"
)

var (
	// ErrSendBufferFull is returned by Client.Write when the peer is not
	// draining its outbound queue.
	ErrSendBufferFull = errors.New("send buffer full")
	// ErrConnectionClosed is returned by Client.Write after the connection
	// has been closed.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrInvalidUserID is returned when a connection path does not carry a
	// positive integer user id.
	ErrInvalidUserID = errors.New("user_id must be a positive integer")
)

// Dispatcher handles decoded envelopes read from a connection.
type Dispatcher interface {
	Dispatch(ctx context.Context, senderID int64, in protocol.Inbound)
}

// Store is the persistence the server needs: everything the routers use
// plus presence updates.
type Store interface {
	routing.Store
	PresenceStore
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
