package protocol_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Tyrowin/relaychat/internal/protocol"
	"github.com/Tyrowin/relaychat/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeVariants(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		check func(t *testing.T, in protocol.Inbound)
	}{
		{
			name: "direct message",
			raw:  `{"type":"message","content":"hi","message_type":"text","receiver_id":2}`,
			check: func(t *testing.T, in protocol.Inbound) {
				msg, ok := in.(protocol.ChatMessage)
				require.True(t, ok)
				require.NotNil(t, msg.Content)
				assert.Equal(t, "hi", *msg.Content)
				require.NotNil(t, msg.ReceiverID)
				assert.Equal(t, int64(2), *msg.ReceiverID)
				assert.Nil(t, msg.GroupID)
			},
		},
		{
			name: "typing without flag",
			raw:  `{"type":"typing","group_id":5}`,
			check: func(t *testing.T, in protocol.Inbound) {
				typing, ok := in.(protocol.Typing)
				require.True(t, ok)
				assert.Nil(t, typing.IsTyping)
				require.NotNil(t, typing.GroupID)
				assert.Equal(t, int64(5), *typing.GroupID)
			},
		},
		{
			name: "call",
			raw:  `{"type":"call","call_status":"request","call_id":"c1","receiver_id":2}`,
			check: func(t *testing.T, in protocol.Inbound) {
				call, ok := in.(protocol.Call)
				require.True(t, ok)
				assert.Equal(t, "request", call.CallStatus)
				assert.Equal(t, "c1", call.CallID)
			},
		},
		{
			name: "webrtc signal keeps payload verbatim",
			raw:  `{"type":"webrtc-signal","call_id":"c1","signal":{"type":"offer","sdp":"v=0"},"receiver_id":2}`,
			check: func(t *testing.T, in protocol.Inbound) {
				sig, ok := in.(protocol.WebRTCSignal)
				require.True(t, ok)
				assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(sig.Signal))
			},
		},
		{
			name: "reaction",
			raw:  `{"type":"reaction","emoji":"👍","target_message_id":9}`,
			check: func(t *testing.T, in protocol.Inbound) {
				r, ok := in.(protocol.Reaction)
				require.True(t, ok)
				assert.Equal(t, "👍", r.Emoji)
				require.NotNil(t, r.TargetMessageID)
				assert.Equal(t, int64(9), *r.TargetMessageID)
			},
		},
		{
			name: "unknown type",
			raw:  `{"type":"presence","user":1}`,
			check: func(t *testing.T, in protocol.Inbound) {
				assert.Equal(t, protocol.Unknown{Type: "presence"}, in)
			},
		},
		{
			name: "missing type",
			raw:  `{"content":"hi"}`,
			check: func(t *testing.T, in protocol.Inbound) {
				assert.Equal(t, protocol.Unknown{}, in)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := protocol.Decode([]byte(tt.raw))
			require.NoError(t, err)
			tt.check(t, in)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: `hello there`},
		{name: "truncated", raw: `{"type":"message"`},
		{name: "array frame", raw: `[1,2,3]`},
		{name: "wrong field type", raw: `{"type":"message","receiver_id":"two"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := protocol.Decode([]byte(tt.raw))
			require.Error(t, err)
			assert.Nil(t, in)

			var decodeErr *protocol.DecodeError
			require.True(t, errors.As(err, &decodeErr))
			assert.NotNil(t, errors.Unwrap(err))
		})
	}
}

func TestAggregateReactions(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	agg := protocol.AggregateReactions([]store.Reaction{
		{ID: 1, UserID: 1, Emoji: "👍", CreatedAt: t0},
		{ID: 2, UserID: 2, Emoji: "🎉", CreatedAt: t0.Add(time.Second)},
		{ID: 3, UserID: 3, Emoji: "👍", CreatedAt: t0.Add(2 * time.Second)},
	})

	require.Len(t, agg, 2)
	assert.Equal(t, []protocol.ReactionEntry{
		{UserID: 1, CreatedAt: t0},
		{UserID: 3, CreatedAt: t0.Add(2 * time.Second)},
	}, agg["👍"])
	assert.Len(t, agg["🎉"], 1)
}

func TestErrorEnvelopeShape(t *testing.T) {
	raw, err := json.Marshal(protocol.NewError("Invalid JSON format", nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","message":"Invalid JSON format"}`, string(raw))

	raw, err = json.Marshal(protocol.NewError("Failed to send message", errors.New("disk full")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","message":"Failed to send message","error":"disk full"}`, string(raw))
}
