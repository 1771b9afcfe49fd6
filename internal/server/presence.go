package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PresenceStore records whether a user currently has a live connection.
type PresenceStore interface {
	SetUserOnline(ctx context.Context, userID int64, online bool) error
}

// PresenceObserver is notified by the Hub when a user gains or loses its
// live connection. Replacing a connection is not a loss.
type PresenceObserver interface {
	UserConnected(userID int64)
	UserDisconnected(userID int64)
}

// ConnectionChecker reports whether a user has a live connection right now.
type ConnectionChecker interface {
	IsConnected(userID int64) bool
}

const presenceStripes = 64

// PresenceTracker mirrors Hub membership into the store. Failures are
// logged and otherwise ignored.
//
// Hub events for one user can arrive out of order when a release and a
// reconnect overlap, so once a live source is attached the tracker writes
// the source's current state rather than the event's. Writes for one user
// are serialized.
type PresenceTracker struct {
	store   PresenceStore
	live    ConnectionChecker
	timeout time.Duration
	logger  *zap.Logger
	stripes [presenceStripes]sync.Mutex
}

// NewPresenceTracker creates a PresenceTracker whose store calls are bounded
// by timeout.
func NewPresenceTracker(store PresenceStore, timeout time.Duration, logger *zap.Logger) *PresenceTracker {
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PresenceTracker{
		store:   store,
		timeout: timeout,
		logger:  logger.With(zap.String("component", "presence")),
	}
}

// Track makes live the source of truth for every later write. It must be
// called before the tracker receives events.
func (p *PresenceTracker) Track(live ConnectionChecker) {
	p.live = live
}

// UserConnected marks userID online.
func (p *PresenceTracker) UserConnected(userID int64) {
	p.set(userID, true)
}

// UserDisconnected marks userID offline and stamps last_seen.
func (p *PresenceTracker) UserDisconnected(userID int64) {
	p.set(userID, false)
}

func (p *PresenceTracker) stripe(userID int64) *sync.Mutex {
	idx := userID % presenceStripes
	if idx < 0 {
		idx = -idx
	}
	return &p.stripes[idx]
}

func (p *PresenceTracker) set(userID int64, online bool) {
	mu := p.stripe(userID)
	mu.Lock()
	defer mu.Unlock()

	if p.live != nil {
		online = p.live.IsConnected(userID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.store.SetUserOnline(ctx, userID, online); err != nil {
		p.logger.Warn("Failed to update presence",
			zap.Int64("user_id", userID), zap.Bool("online", online), zap.Error(err))
	}
}
