// Package routing resolves the recipients of each inbound envelope, writes
// durable state through the store, and fans the result out to live
// connections.
package routing

import (
	"context"
	"time"

	"github.com/Tyrowin/relaychat/internal/metrics"
	"github.com/Tyrowin/relaychat/internal/protocol"
	"github.com/Tyrowin/relaychat/internal/store"
	"go.uber.org/zap"
)

// DefaultStoreTimeout bounds each store call made on the dispatch path.
const DefaultStoreTimeout = 5 * time.Second

// Sender delivers envelopes to connected users. Delivery is best-effort:
// Send reports whether the envelope was handed to a live connection, and
// Broadcast reports how many recipients it reached. Neither retries.
type Sender interface {
	Send(userID int64, envelope any) bool
	Broadcast(envelope any, recipients []int64) int
}

// Store is the persistence collaborator consumed by the routers.
type Store interface {
	CreateMessage(ctx context.Context, in store.NewMessage) (store.Message, error)
	GetMessage(ctx context.Context, id int64) (store.Message, error)
	ListGroupMembers(ctx context.Context, groupID int64) ([]int64, error)
	CreateCallLog(ctx context.Context, in store.NewCallLog) (store.CallLog, error)
	ListReactions(ctx context.Context, messageID int64) ([]store.Reaction, error)
	CreateReaction(ctx context.Context, in store.NewReaction) (store.Reaction, error)
	DeleteReaction(ctx context.Context, id int64) error
}

// Options configures the routers.
type Options struct {
	StoreTimeout time.Duration
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = DefaultStoreTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// bounded derives the context for one store call.
func (o Options) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.StoreTimeout)
}

// Dispatcher routes decoded envelopes to the router for their type.
type Dispatcher struct {
	messages  *MessageRouter
	typing    *TypingRelay
	calls     *CallRelay
	reactions *ReactionBroadcaster
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewDispatcher wires the routers around a sender and a store.
func NewDispatcher(sender Sender, st Store, opts Options) *Dispatcher {
	opts = opts.withDefaults()
	return &Dispatcher{
		messages:  NewMessageRouter(sender, st, opts),
		typing:    NewTypingRelay(sender, st, opts),
		calls:     NewCallRelay(sender, st, opts),
		reactions: NewReactionBroadcaster(sender, st, opts),
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
}

// Dispatch handles one envelope from senderID. It returns once the store
// writes and fan-out for the envelope are done.
func (d *Dispatcher) Dispatch(ctx context.Context, senderID int64, in protocol.Inbound) {
	switch env := in.(type) {
	case protocol.ChatMessage:
		d.metrics.Envelope(protocol.TypeMessage)
		d.messages.Route(ctx, senderID, env)
	case protocol.Typing:
		d.metrics.Envelope(protocol.TypeTyping)
		d.typing.Relay(ctx, senderID, env)
	case protocol.Call:
		d.metrics.Envelope(protocol.TypeCall)
		d.calls.Relay(ctx, senderID, env)
	case protocol.WebRTCSignal:
		d.metrics.Envelope(protocol.TypeWebRTCSignal)
		d.calls.Forward(senderID, env)
	case protocol.Reaction:
		d.metrics.Envelope(protocol.TypeReaction)
		d.reactions.Handle(ctx, senderID, env)
	case protocol.Unknown:
		d.metrics.Envelope("unknown")
		d.logger.Debug("Dropping envelope of unknown type",
			zap.Int64("user_id", senderID), zap.String("type", env.Type))
	default:
		// Only a nil envelope reaches here; the variant set is closed.
		d.logger.Warn("Dropping nil envelope", zap.Int64("user_id", senderID))
	}
}
