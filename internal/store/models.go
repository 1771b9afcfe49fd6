// Package store defines the durable records the real-time core reads and
// writes through its persistence collaborator.
package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// MessageType enumerates the kinds of chat message a user can send.
type MessageType string

// Supported message types.
const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageFile     MessageType = "file"
	MessageAudio    MessageType = "audio"
	MessageVideo    MessageType = "video"
	MessageLocation MessageType = "location"
	MessageContact  MessageType = "contact"
	MessageSticker  MessageType = "sticker"
	MessageGIF      MessageType = "gif"
	MessageEmoji    MessageType = "emoji"
	MessageReaction MessageType = "reaction"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile, MessageAudio, MessageVideo,
		MessageLocation, MessageContact, MessageSticker, MessageGIF,
		MessageEmoji, MessageReaction:
		return true
	}
	return false
}

// CallStatus enumerates call lifecycle signals.
type CallStatus string

// Call lifecycle statuses.
const (
	CallRequest CallStatus = "request"
	CallAnswer  CallStatus = "answer"
	CallDecline CallStatus = "decline"
	CallEnd     CallStatus = "end"
	CallReject  CallStatus = "reject"
	CallCancel  CallStatus = "cancel"
	CallBusy    CallStatus = "busy"
	CallHangup  CallStatus = "hangup"
	CallAccept  CallStatus = "accept"
	CallIgnore  CallStatus = "ignore"
)

// Valid reports whether s is a known call status.
func (s CallStatus) Valid() bool {
	switch s {
	case CallRequest, CallAnswer, CallDecline, CallEnd, CallReject,
		CallCancel, CallBusy, CallHangup, CallAccept, CallIgnore:
		return true
	}
	return false
}

// Terminal reports whether the status ends a call session.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallEnd, CallHangup, CallDecline, CallReject, CallCancel, CallBusy:
		return true
	}
	return false
}

// NewMessage carries the fields needed to persist a chat message.
type NewMessage struct {
	SenderID   int64
	ReceiverID *int64
	GroupID    *int64
	Content    *string
	Type       MessageType
	MediaID    *int64
	ReplyToID  *int64
}

// Message is a persisted chat message.
type Message struct {
	ID          int64
	SenderID    int64
	ReceiverID  *int64
	GroupID     *int64
	Content     *string
	Type        MessageType
	MediaID     *int64
	ReplyToID   *int64
	IsRead      bool
	IsDelivered bool
	CreatedAt   time.Time
}

// NewCallLog carries the fields recorded when a call is requested.
type NewCallLog struct {
	CallID     string
	CallerID   int64
	ReceiverID *int64
	GroupID    *int64
	CallType   string
	Status     CallStatus
}

// CallLog is a persisted call session.
type CallLog struct {
	ID         int64
	CallID     string
	CallerID   int64
	ReceiverID *int64
	GroupID    *int64
	CallType   string
	Status     CallStatus
	StartedAt  time.Time
	EndedAt    *time.Time
	Duration   *int64
}

// NewReaction carries the fields of a reaction to create.
type NewReaction struct {
	MessageID int64
	UserID    int64
	Emoji     string
}

// Reaction is one user's emoji on one message.
type Reaction struct {
	ID        int64
	MessageID int64
	UserID    int64
	Emoji     string
	CreatedAt time.Time
}
