package routing

import (
	"context"
	"fmt"

	"github.com/Tyrowin/relaychat/internal/metrics"
	"github.com/Tyrowin/relaychat/internal/protocol"
	"github.com/Tyrowin/relaychat/internal/store"
	"go.uber.org/zap"
)

// MessageRouter persists chat messages and delivers them to every
// participant, including the sender as its delivery confirmation.
type MessageRouter struct {
	sender  Sender
	store   Store
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewMessageRouter creates a MessageRouter.
func NewMessageRouter(sender Sender, st Store, opts Options) *MessageRouter {
	opts = opts.withDefaults()
	return &MessageRouter{
		sender:  sender,
		store:   st,
		opts:    opts,
		logger:  opts.Logger.With(zap.String("component", "message_router")),
		metrics: opts.Metrics,
	}
}

// Route persists msg on behalf of senderID and fans it out. Failures to
// persist or resolve recipients are reported to the sender as an error
// envelope; delivery failures are not reported.
func (r *MessageRouter) Route(ctx context.Context, senderID int64, msg protocol.ChatMessage) {
	msgType := store.MessageType(msg.MessageType)
	if msgType == "" {
		msgType = store.MessageText
	}
	if !msgType.Valid() {
		r.logger.Info("Rejecting message with unknown type",
			zap.Int64("sender_id", senderID), zap.String("message_type", msg.MessageType))
		r.sender.Send(senderID, protocol.NewError("Failed to send message",
			fmt.Errorf("unknown message_type %q", msg.MessageType)))
		return
	}

	saved, err := r.persist(ctx, senderID, msgType, msg)
	if err != nil {
		r.metrics.PersistenceError("create_message")
		r.logger.Error("Failed to persist message", zap.Int64("sender_id", senderID), zap.Error(err))
		r.sender.Send(senderID, protocol.NewError("Failed to send message", err))
		return
	}

	envelope := protocol.NewMessageEnvelope(saved)

	switch {
	case saved.GroupID != nil:
		members, err := r.groupMembers(ctx, *saved.GroupID)
		if err != nil {
			r.metrics.PersistenceError("list_group_members")
			r.logger.Error("Failed to resolve group members",
				zap.Int64("group_id", *saved.GroupID), zap.Int64("message_id", saved.ID), zap.Error(err))
			r.sender.Send(senderID, protocol.NewError("Failed to deliver message", err))
			return
		}
		delivered := r.sender.Broadcast(envelope, members)
		r.logger.Debug("Group message delivered",
			zap.Int64("message_id", saved.ID), zap.Int64("group_id", *saved.GroupID),
			zap.Int("members", len(members)), zap.Int("delivered", delivered))

	case saved.ReceiverID != nil:
		toReceiver := r.sender.Send(*saved.ReceiverID, envelope)
		toSender := r.sender.Send(senderID, envelope)
		r.logger.Debug("Direct message delivered",
			zap.Int64("message_id", saved.ID), zap.Int64("receiver_id", *saved.ReceiverID),
			zap.Bool("receiver", toReceiver), zap.Bool("confirmation", toSender))

	default:
		r.logger.Info("Message has no receiver or group; stored without delivery",
			zap.Int64("message_id", saved.ID), zap.Int64("sender_id", senderID))
	}
}

func (r *MessageRouter) persist(ctx context.Context, senderID int64, msgType store.MessageType, msg protocol.ChatMessage) (store.Message, error) {
	ctx, cancel := r.opts.bounded(ctx)
	defer cancel()
	return r.store.CreateMessage(ctx, store.NewMessage{
		SenderID:   senderID,
		ReceiverID: msg.ReceiverID,
		GroupID:    msg.GroupID,
		Content:    msg.Content,
		Type:       msgType,
		MediaID:    msg.MediaID,
		ReplyToID:  msg.ReplyToID,
	})
}

func (r *MessageRouter) groupMembers(ctx context.Context, groupID int64) ([]int64, error) {
	ctx, cancel := r.opts.bounded(ctx)
	defer cancel()
	return r.store.ListGroupMembers(ctx, groupID)
}
