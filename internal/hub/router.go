package hub

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/relaymesh/relay-hub/internal/metrics"
)

type handlerFunc func(s *Session, payload json.RawMessage, room string) error

// Protocol is a dispatch table from message type to handler plus the
// protocol-specific fanout delivery filter. The two instances are
// RoomsProtocol and SignalingProtocol.
type Protocol struct {
	// Name identifies the protocol in logs ("rooms", "signaling").
	Name string

	// groupPrefix namespaces room names in the pub/sub group keyspace so the
	// two protocols can never collide on a room name.
	groupPrefix string

	// leaveEvent is the presence kind published when a session leaves a room.
	leaveEvent string

	handlers map[string]handlerFunc

	// deliver filters a fanout event against the receiving session and emits
	// the outbound message, if any.
	deliver func(s *Session, ev Event)
}

func (p *Protocol) groupKey(room string) string {
	return p.groupPrefix + room
}

// HandleMessage routes one decoded inbound frame. Every failure mode turns
// into an error reply on the originating session; nothing here may terminate
// the connection or escape to the read loop.
func (s *Session) HandleMessage(data []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			s.metrics.Inc(metrics.InternalErrors)
			s.log.Error("panic in message handler", "conn_id", s.id, "recover", rec)
			s.sendError(fmt.Sprintf("Internal error: %v", rec))
		}
	}()

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.metrics.Inc(metrics.ProtocolErrors)
		s.sendError(errTextInvalidJSON)
		return
	}

	if env.Type == "" {
		s.metrics.Inc(metrics.ProtocolErrors)
		s.sendError(errTextTypeRequired)
		return
	}

	handler, ok := s.proto.handlers[env.Type]
	if !ok {
		s.metrics.Inc(metrics.ProtocolErrors)
		s.sendError("Unknown message type: " + env.Type)
		return
	}

	payload := env.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	if err := handler(s, payload, env.Room); err != nil {
		var ue *usageError
		if errors.As(err, &ue) {
			s.metrics.Inc(metrics.ProtocolErrors)
			s.sendError(ue.msg)
			return
		}
		s.metrics.Inc(metrics.InternalErrors)
		s.log.Error("handler failed", "conn_id", s.id, "type", env.Type, "err", err)
		s.sendError("Internal error: " + err.Error())
	}
}

// decodePayload unmarshals a handler's payload structure. Failures are
// reported with the same text as an undecodable envelope.
func decodePayload(payload json.RawMessage, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return usageErr(errTextInvalidJSON)
	}
	return nil
}
