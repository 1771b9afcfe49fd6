package routing

import (
	"context"

	"github.com/Tyrowin/relaychat/internal/protocol"
	"go.uber.org/zap"
)

// TypingRelay forwards typing indicators. Nothing is persisted.
type TypingRelay struct {
	sender Sender
	store  Store
	opts   Options
	logger *zap.Logger
}

// NewTypingRelay creates a TypingRelay.
func NewTypingRelay(sender Sender, st Store, opts Options) *TypingRelay {
	opts = opts.withDefaults()
	return &TypingRelay{
		sender: sender,
		store:  st,
		opts:   opts,
		logger: opts.Logger.With(zap.String("component", "typing_relay")),
	}
}

// Relay sends the indicator to every other group member, or to the direct
// receiver.
func (t *TypingRelay) Relay(ctx context.Context, senderID int64, in protocol.Typing) {
	isTyping := true
	if in.IsTyping != nil {
		isTyping = *in.IsTyping
	}

	switch {
	case in.GroupID != nil:
		lookupCtx, cancel := t.opts.bounded(ctx)
		members, err := t.store.ListGroupMembers(lookupCtx, *in.GroupID)
		cancel()
		if err != nil {
			t.logger.Warn("Failed to resolve group for typing indicator",
				zap.Int64("group_id", *in.GroupID), zap.Error(err))
			return
		}
		others := make([]int64, 0, len(members))
		for _, id := range members {
			if id != senderID {
				others = append(others, id)
			}
		}
		t.sender.Broadcast(protocol.TypingEnvelope{
			Type:     protocol.TypeTyping,
			UserID:   senderID,
			GroupID:  in.GroupID,
			IsTyping: isTyping,
		}, others)

	case in.ReceiverID != nil:
		t.sender.Send(*in.ReceiverID, protocol.TypingEnvelope{
			Type:       protocol.TypeTyping,
			UserID:     senderID,
			ReceiverID: in.ReceiverID,
			IsTyping:   isTyping,
		})
	}
}
