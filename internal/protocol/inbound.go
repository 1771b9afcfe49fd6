// Package protocol defines the JSON envelopes exchanged over a live
// connection and decodes inbound frames into a closed set of variants.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope type discriminants.
const (
	TypeMessage        = "message"
	TypeTyping         = "typing"
	TypeCall           = "call"
	TypeWebRTCSignal   = "webrtc-signal"
	TypeReaction       = "reaction"
	TypeReactionUpdate = "reaction_update"
	TypeError          = "error"
)

// Inbound is an envelope received from a client. The set of implementations
// is closed: ChatMessage, Typing, Call, WebRTCSignal, Reaction and Unknown.
type Inbound interface {
	inbound()
}

// ChatMessage asks the server to persist and deliver a chat message.
type ChatMessage struct {
	Content     *string `json:"content"`
	MessageType string  `json:"message_type"`
	ReceiverID  *int64  `json:"receiver_id"`
	GroupID     *int64  `json:"group_id"`
	MediaID     *int64  `json:"media_id"`
	ReplyToID   *int64  `json:"reply_to_id"`
}

// Typing reports that the sender started or stopped typing.
type Typing struct {
	GroupID    *int64 `json:"group_id"`
	ReceiverID *int64 `json:"receiver_id"`
	IsTyping   *bool  `json:"is_typing"`
}

// Call carries a call lifecycle signal.
type Call struct {
	CallStatus string `json:"call_status"`
	CallType   string `json:"call_type"`
	CallID     string `json:"call_id"`
	ReceiverID *int64 `json:"receiver_id"`
	GroupID    *int64 `json:"group_id"`
}

// WebRTCSignal carries an opaque WebRTC negotiation payload for a peer.
type WebRTCSignal struct {
	CallID     string          `json:"call_id"`
	Signal     json.RawMessage `json:"signal"`
	ReceiverID *int64          `json:"receiver_id"`
}

// Reaction toggles the sender's emoji on a message.
type Reaction struct {
	Emoji           string `json:"emoji"`
	TargetMessageID *int64 `json:"target_message_id"`
}

// Unknown is any well-formed envelope whose type is not recognised.
type Unknown struct {
	Type string
}

func (ChatMessage) inbound()  {}
func (Typing) inbound()       {}
func (Call) inbound()         {}
func (WebRTCSignal) inbound() {}
func (Reaction) inbound()     {}
func (Unknown) inbound()      {}

// DecodeError reports an inbound frame that could not be parsed.
type DecodeError struct {
	Type string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("decode envelope: %v", e.Err)
	}
	return fmt.Sprintf("decode %s envelope: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

var errNotObject = errors.New("envelope must be a JSON object")

// Decode parses a raw frame into its Inbound variant. Malformed JSON, a
// non-object frame, or a payload whose fields have the wrong JSON types
// yield a *DecodeError. A well-formed frame with an unrecognised type
// decodes to Unknown.
func Decode(raw []byte) (Inbound, error) {
	var head struct {
		Type json.RawMessage `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field == "" {
			return nil, &DecodeError{Err: errNotObject}
		}
		return nil, &DecodeError{Err: err}
	}

	var typ string
	if len(head.Type) > 0 {
		// A non-string discriminant is well-formed JSON but names no known type.
		if err := json.Unmarshal(head.Type, &typ); err != nil {
			return Unknown{Type: string(head.Type)}, nil
		}
	}

	switch typ {
	case TypeMessage:
		return decodeAs[ChatMessage](typ, raw)
	case TypeTyping:
		return decodeAs[Typing](typ, raw)
	case TypeCall:
		return decodeAs[Call](typ, raw)
	case TypeWebRTCSignal:
		return decodeAs[WebRTCSignal](typ, raw)
	case TypeReaction:
		return decodeAs[Reaction](typ, raw)
	default:
		return Unknown{Type: typ}, nil
	}
}

func decodeAs[T Inbound](typ string, raw []byte) (Inbound, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, &DecodeError{Type: typ, Err: err}
	}
	return v, nil
}
