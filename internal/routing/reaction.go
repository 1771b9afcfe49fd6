package routing

import (
	"context"
	"errors"
	"fmt"

	"github.com/Tyrowin/relaychat/internal/metrics"
	"github.com/Tyrowin/relaychat/internal/protocol"
	"github.com/Tyrowin/relaychat/internal/store"
	"go.uber.org/zap"
)

// ReactionBroadcaster toggles reactions and rebroadcasts the message's
// reaction aggregate to its participants.
type ReactionBroadcaster struct {
	sender  Sender
	store   Store
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewReactionBroadcaster creates a ReactionBroadcaster.
func NewReactionBroadcaster(sender Sender, st Store, opts Options) *ReactionBroadcaster {
	opts = opts.withDefaults()
	return &ReactionBroadcaster{
		sender:  sender,
		store:   st,
		opts:    opts,
		logger:  opts.Logger.With(zap.String("component", "reaction_broadcaster")),
		metrics: opts.Metrics,
	}
}

// Handle applies a reaction envelope from userID. Unknown messages are
// ignored silently; store failures are reported to userID.
func (b *ReactionBroadcaster) Handle(ctx context.Context, userID int64, in protocol.Reaction) {
	if in.Emoji == "" || in.TargetMessageID == nil {
		b.logger.Debug("Dropping incomplete reaction", zap.Int64("user_id", userID))
		return
	}

	_, err := b.Toggle(ctx, *in.TargetMessageID, userID, in.Emoji)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		b.logger.Debug("Reaction target not found",
			zap.Int64("user_id", userID), zap.Int64("message_id", *in.TargetMessageID))
	default:
		b.metrics.PersistenceError("toggle_reaction")
		b.logger.Error("Failed to toggle reaction",
			zap.Int64("user_id", userID), zap.Int64("message_id", *in.TargetMessageID), zap.Error(err))
		b.sender.Send(userID, protocol.NewError("Failed to update reaction", err))
	}
}

// Toggle adds userID's emoji to messageID, or removes it if already
// present, then broadcasts the updated aggregate. It returns the action
// taken, or an error wrapping store.ErrNotFound when the message does not
// exist. Nothing is broadcast on error.
func (b *ReactionBroadcaster) Toggle(ctx context.Context, messageID, userID int64, emoji string) (string, error) {
	ctx, cancel := b.opts.bounded(ctx)
	defer cancel()

	target, err := b.store.GetMessage(ctx, messageID)
	if err != nil {
		return "", fmt.Errorf("load message %d: %w", messageID, err)
	}

	current, err := b.store.ListReactions(ctx, messageID)
	if err != nil {
		return "", fmt.Errorf("list reactions: %w", err)
	}

	action := protocol.ActionAdded
	if existing, ok := findReaction(current, userID, emoji); ok {
		if err := b.store.DeleteReaction(ctx, existing.ID); err != nil {
			return "", fmt.Errorf("delete reaction: %w", err)
		}
		action = protocol.ActionRemoved
	} else if _, err := b.store.CreateReaction(ctx, store.NewReaction{
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
	}); err != nil {
		return "", fmt.Errorf("create reaction: %w", err)
	}

	updated, err := b.store.ListReactions(ctx, messageID)
	if err != nil {
		return "", fmt.Errorf("list reactions: %w", err)
	}

	recipients, err := b.participants(ctx, target)
	if err != nil {
		return "", fmt.Errorf("resolve participants: %w", err)
	}

	delivered := b.sender.Broadcast(protocol.ReactionUpdateEnvelope{
		Type:      protocol.TypeReactionUpdate,
		MessageID: messageID,
		Reactions: protocol.AggregateReactions(updated),
		Action:    action,
		UserID:    userID,
		Emoji:     emoji,
	}, recipients)

	b.logger.Debug("Reaction toggled",
		zap.Int64("message_id", messageID), zap.Int64("user_id", userID),
		zap.String("action", action), zap.Int("delivered", delivered))
	return action, nil
}

// participants returns every group member for a group message, otherwise
// the direct message's sender and receiver.
func (b *ReactionBroadcaster) participants(ctx context.Context, m store.Message) ([]int64, error) {
	if m.GroupID != nil {
		return b.store.ListGroupMembers(ctx, *m.GroupID)
	}
	recipients := []int64{m.SenderID}
	if m.ReceiverID != nil {
		recipients = append(recipients, *m.ReceiverID)
	}
	return recipients, nil
}

func findReaction(reactions []store.Reaction, userID int64, emoji string) (store.Reaction, bool) {
	for _, r := range reactions {
		if r.UserID == userID && r.Emoji == emoji {
			return r, true
		}
	}
	return store.Reaction{}, false
}
