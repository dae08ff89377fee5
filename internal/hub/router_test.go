package hub

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/relaymesh/relay-hub/internal/metrics"
)

func TestRouter_MissingTypeIsReported(t *testing.T) {
	h := newTestHub(t)
	s, sink := h.session(t, "c1", RoomsProtocol())

	s.HandleMessage([]byte(`{"payload":{}}`))

	wantError(t, sink, "Message type is required")
	if got := h.m.Get(metrics.ProtocolErrors); got != 1 {
		t.Fatalf("protocol_errors=%d, want 1", got)
	}
}

func TestRouter_InvalidJSONKeepsConnectionUsable(t *testing.T) {
	h := newTestHub(t)
	s, sink := h.session(t, "c1", RoomsProtocol())

	s.HandleMessage([]byte(`{not json`))
	wantError(t, sink, "Invalid JSON format")
	if sink.Closed() {
		t.Fatalf("sink closed after malformed frame")
	}

	// The connection must stay usable for subsequent valid messages.
	sink.Reset()
	send(t, s, "join-room", nil, "r1")
	if got := sink.Frames()[0]["type"]; got != "room-joined" {
		t.Fatalf("frame type=%v, want room-joined", got)
	}
}

func TestRouter_UnknownTypeIsReported(t *testing.T) {
	h := newTestHub(t)
	s, sink := h.session(t, "c1", RoomsProtocol())

	send(t, s, "bogus", nil, "")

	wantError(t, sink, "Unknown message type: bogus")
}

func TestRouter_MalformedPayloadIsReported(t *testing.T) {
	h := newTestHub(t)
	s, sink := h.session(t, "c1", RoomsProtocol())

	// payload must decode into the connect structure; a scalar does not.
	s.HandleMessage([]byte(`{"type":"connect","payload":"nope"}`))

	wantError(t, sink, "Invalid JSON format")
}

func TestRouter_MissingPayloadDefaultsToEmptyObject(t *testing.T) {
	h := newTestHub(t)
	s, sink := h.session(t, "c1", RoomsProtocol())

	s.HandleMessage([]byte(`{"type":"connect"}`))

	// Empty payload means no user_id, which is a usage error, not a decode
	// failure.
	wantError(t, sink, "user_id is required for connection")
}

func TestRouter_BusFailureBecomesInternalError(t *testing.T) {
	h := newTestHub(t)
	s, sink := h.session(t, "c1", RoomsProtocol())
	send(t, s, "join-room", nil, "r1")
	sink.Reset()

	h.bus.failPublish = errors.New("broker unreachable")
	send(t, s, "message", map[string]any{"text": "hi"}, "")

	last := sink.Last(t)
	if got := last["type"]; got != "error" {
		t.Fatalf("frame type=%v, want error", got)
	}
	msg, _ := last["message"].(string)
	if !strings.HasPrefix(msg, "Internal error: ") {
		t.Fatalf("error message=%q, want Internal error prefix", msg)
	}
	if got := h.m.Get(metrics.InternalErrors); got != 1 {
		t.Fatalf("internal_errors=%d, want 1", got)
	}
}

func TestRouter_HandlerPanicIsRecovered(t *testing.T) {
	h := newTestHub(t)
	s, sink := h.session(t, "c1", RoomsProtocol())

	s.proto.handlers["explode"] = func(*Session, json.RawMessage, string) error {
		panic("boom")
	}
	send(t, s, "explode", nil, "")

	last := sink.Last(t)
	msg, _ := last["message"].(string)
	if !strings.HasPrefix(msg, "Internal error: ") {
		t.Fatalf("error message=%q, want Internal error prefix", msg)
	}

	// Still dispatches afterwards.
	sink.Reset()
	send(t, s, "connect", map[string]any{"user_id": "u1"}, "")
	if got := sink.Last(t)["type"]; got != "connect" {
		t.Fatalf("frame type=%v, want connect", got)
	}
}
