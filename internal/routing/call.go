package routing

import (
	"context"
	"encoding/json"

	"github.com/Tyrowin/relaychat/internal/metrics"
	"github.com/Tyrowin/relaychat/internal/protocol"
	"github.com/Tyrowin/relaychat/internal/store"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

const defaultCallType = "audio"

// CallRelay relays call lifecycle and WebRTC negotiation envelopes between
// peers. It keeps no per-call state; only a request is persisted.
type CallRelay struct {
	sender  Sender
	store   Store
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewCallRelay creates a CallRelay.
func NewCallRelay(sender Sender, st Store, opts Options) *CallRelay {
	opts = opts.withDefaults()
	return &CallRelay{
		sender:  sender,
		store:   st,
		opts:    opts,
		logger:  opts.Logger.With(zap.String("component", "call_relay")),
		metrics: opts.Metrics,
	}
}

// Relay handles a call envelope from callerID. A request creates a call log
// and is sent to the receiver with the log embedded; every other status is
// relayed to the receiver unchanged.
func (c *CallRelay) Relay(ctx context.Context, callerID int64, in protocol.Call) {
	status := store.CallStatus(in.CallStatus)
	logger := c.logger.With(zap.Int64("caller_id", callerID), zap.String("call_id", in.CallID),
		zap.String("call_status", in.CallStatus))

	if !status.Valid() {
		logger.Info("Dropping call envelope with unknown status")
		return
	}

	callType := in.CallType
	if callType == "" {
		callType = defaultCallType
	}

	envelope := protocol.CallEnvelope{
		Type:       protocol.TypeCall,
		CallStatus: in.CallStatus,
		CallType:   callType,
		CallID:     in.CallID,
		CallerID:   callerID,
		ReceiverID: in.ReceiverID,
	}

	if status == store.CallRequest {
		callLog, err := c.createCallLog(ctx, callerID, callType, in)
		if err != nil {
			c.metrics.PersistenceError("create_call_log")
			logger.Error("Failed to record call request", zap.Error(err))
			c.sender.Send(callerID, protocol.NewError("Failed to start call", err))
			return
		}
		envelope.GroupID = in.GroupID
		envelope.CallLog = protocol.NewCallLogPayload(callLog)
	}

	if in.ReceiverID == nil {
		logger.Debug("Call envelope has no receiver; nothing relayed")
		return
	}

	delivered := c.sender.Send(*in.ReceiverID, envelope)
	logger.Debug("Call envelope relayed", zap.Int64("receiver_id", *in.ReceiverID),
		zap.Bool("delivered", delivered), zap.Bool("terminal", status.Terminal()))
}

func (c *CallRelay) createCallLog(ctx context.Context, callerID int64, callType string, in protocol.Call) (store.CallLog, error) {
	ctx, cancel := c.opts.bounded(ctx)
	defer cancel()
	return c.store.CreateCallLog(ctx, store.NewCallLog{
		CallID:     in.CallID,
		CallerID:   callerID,
		ReceiverID: in.ReceiverID,
		GroupID:    in.GroupID,
		CallType:   callType,
		Status:     store.CallRequest,
	})
}

// Forward relays a WebRTC negotiation payload to its receiver. The payload
// is neither persisted nor checked against a call session.
func (c *CallRelay) Forward(senderID int64, in protocol.WebRTCSignal) {
	if in.CallID == "" || isEmptySignal(in.Signal) || in.ReceiverID == nil {
		c.logger.Debug("Dropping incomplete WebRTC signal",
			zap.Int64("sender_id", senderID), zap.String("call_id", in.CallID))
		return
	}

	kind := SignalKind(in.Signal)
	c.metrics.Signal(kind)

	delivered := c.sender.Send(*in.ReceiverID, protocol.WebRTCSignalEnvelope{
		Type:     protocol.TypeWebRTCSignal,
		CallID:   in.CallID,
		Signal:   in.Signal,
		SenderID: senderID,
	})
	c.logger.Debug("WebRTC signal relayed",
		zap.Int64("sender_id", senderID), zap.Int64("receiver_id", *in.ReceiverID),
		zap.String("call_id", in.CallID), zap.String("kind", kind), zap.Bool("delivered", delivered))
}

// isEmptySignal reports whether raw carries no negotiation data: absent,
// null, false, zero, or an empty string, object or array.
func isEmptySignal(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return true
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return true
	}
	switch val := v.(type) {
	case nil:
		return true
	case bool:
		return !val
	case float64:
		return val == 0
	case string:
		return val == ""
	case map[string]any:
		return len(val) == 0
	case []any:
		return len(val) == 0
	}
	return false
}

// Signal kinds reported by SignalKind.
const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalPranswer  = "pranswer"
	SignalRollback  = "rollback"
	SignalCandidate = "candidate"
	SignalOther     = "other"
)

// SignalKind classifies a negotiation payload as a session description, an
// ICE candidate, or other. Both the flat browser shape and the
// {"type":"candidate","candidate":{...}} wrapper are recognised.
func SignalKind(raw json.RawMessage) string {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err == nil && desc.Type != webrtc.SDPTypeUnknown {
		return desc.Type.String()
	}

	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &candidate); err == nil && candidate.Candidate != "" {
		return SignalCandidate
	}

	var wrapped struct {
		Candidate *webrtc.ICECandidateInit `json:"candidate"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Candidate != nil {
		return SignalCandidate
	}
	return SignalOther
}
