package protocol

import (
	"encoding/json"
	"time"

	"github.com/Tyrowin/relaychat/internal/store"
)

// MessagePayload is the wire form of a persisted chat message.
type MessagePayload struct {
	ID          int64     `json:"id"`
	SenderID    int64     `json:"sender_id"`
	ReceiverID  *int64    `json:"receiver_id"`
	GroupID     *int64    `json:"group_id"`
	Content     *string   `json:"content"`
	MessageType string    `json:"message_type"`
	MediaID     *int64    `json:"media_id"`
	ReplyToID   *int64    `json:"reply_to_id"`
	CreatedAt   time.Time `json:"created_at"`
	IsRead      bool      `json:"is_read"`
	IsDelivered bool      `json:"is_delivered"`
}

// MessageEnvelope delivers a persisted message to a participant.
type MessageEnvelope struct {
	Type    string         `json:"type"`
	Message MessagePayload `json:"message"`
}

// NewMessageEnvelope builds the outbound envelope for m.
func NewMessageEnvelope(m store.Message) MessageEnvelope {
	return MessageEnvelope{
		Type: TypeMessage,
		Message: MessagePayload{
			ID:          m.ID,
			SenderID:    m.SenderID,
			ReceiverID:  m.ReceiverID,
			GroupID:     m.GroupID,
			Content:     m.Content,
			MessageType: string(m.Type),
			MediaID:     m.MediaID,
			ReplyToID:   m.ReplyToID,
			CreatedAt:   m.CreatedAt,
			IsRead:      m.IsRead,
			IsDelivered: m.IsDelivered,
		},
	}
}

// TypingEnvelope relays a typing indicator with the typist's id.
type TypingEnvelope struct {
	Type       string `json:"type"`
	UserID     int64  `json:"user_id"`
	GroupID    *int64 `json:"group_id,omitempty"`
	ReceiverID *int64 `json:"receiver_id,omitempty"`
	IsTyping   bool   `json:"is_typing"`
}

// CallLogPayload is the wire form of a newly created call session.
type CallLogPayload struct {
	ID         int64     `json:"id"`
	CallID     string    `json:"call_id"`
	CallerID   int64     `json:"caller_id"`
	ReceiverID *int64    `json:"receiver_id"`
	GroupID    *int64    `json:"group_id"`
	CallType   string    `json:"call_type"`
	CallStatus string    `json:"call_status"`
	StartedAt  time.Time `json:"started_at"`
}

// NewCallLogPayload converts a stored call log to its wire form.
func NewCallLogPayload(c store.CallLog) *CallLogPayload {
	return &CallLogPayload{
		ID:         c.ID,
		CallID:     c.CallID,
		CallerID:   c.CallerID,
		ReceiverID: c.ReceiverID,
		GroupID:    c.GroupID,
		CallType:   c.CallType,
		CallStatus: string(c.Status),
		StartedAt:  c.StartedAt,
	}
}

// CallEnvelope relays a call lifecycle signal. CallLog is only set on a
// request.
type CallEnvelope struct {
	Type       string          `json:"type"`
	CallStatus string          `json:"call_status"`
	CallType   string          `json:"call_type"`
	CallID     string          `json:"call_id"`
	CallerID   int64           `json:"caller_id"`
	ReceiverID *int64          `json:"receiver_id"`
	GroupID    *int64          `json:"group_id,omitempty"`
	CallLog    *CallLogPayload `json:"call_log,omitempty"`
}

// WebRTCSignalEnvelope forwards an opaque negotiation payload.
type WebRTCSignalEnvelope struct {
	Type     string          `json:"type"`
	CallID   string          `json:"call_id"`
	Signal   json.RawMessage `json:"signal"`
	SenderID int64           `json:"sender_id"`
}

// ReactionEntry is one user's reaction within an aggregate.
type ReactionEntry struct {
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ReactionAggregate groups a message's reactions by emoji.
type ReactionAggregate map[string][]ReactionEntry

// AggregateReactions groups reactions by emoji, keeping the input order
// within each emoji.
func AggregateReactions(reactions []store.Reaction) ReactionAggregate {
	agg := make(ReactionAggregate)
	for _, r := range reactions {
		agg[r.Emoji] = append(agg[r.Emoji], ReactionEntry{UserID: r.UserID, CreatedAt: r.CreatedAt})
	}
	return agg
}

// Reaction toggle outcomes.
const (
	ActionAdded   = "added"
	ActionRemoved = "removed"
)

// ReactionUpdateEnvelope broadcasts a message's reactions after a toggle.
type ReactionUpdateEnvelope struct {
	Type      string            `json:"type"`
	MessageID int64             `json:"message_id"`
	Reactions ReactionAggregate `json:"reactions"`
	Action    string            `json:"action"`
	UserID    int64             `json:"user_id"`
	Emoji     string            `json:"emoji"`
}

// ErrorEnvelope reports a failure back to the originating user.
type ErrorEnvelope struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// NewError builds an error envelope. err may be nil.
func NewError(message string, err error) ErrorEnvelope {
	env := ErrorEnvelope{Type: TypeError, Message: message}
	if err != nil {
		env.Error = err.Error()
	}
	return env
}
