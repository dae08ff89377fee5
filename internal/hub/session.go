package hub

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/relaymesh/relay-hub/internal/metrics"
	"github.com/relaymesh/relay-hub/internal/pubsub"
)

// Sink is the transport-facing outbound surface of a session.
//
// Send enqueues an encoded frame without blocking and reports false when the
// frame was dropped (queue full or connection closing). Close asks the
// transport to tear the connection down; lifecycle cleanup then happens via
// Session.Disconnect when the read loop exits.
type Sink interface {
	Send(data []byte) bool
	Close()
}

type roomRef struct {
	name  string
	group string
}

// Session is the per-connection state: identity, current room, and the
// protocol the connection speaks. Inbound messages are handled on the
// connection's read goroutine; OnEvent runs on publishing goroutines, so the
// identity/room fields are mutex-guarded.
type Session struct {
	id      string
	log     *slog.Logger
	bus     pubsub.Bus
	metrics *metrics.Metrics
	proto   *Protocol
	out     Sink
	remove  func(id string)

	mu       sync.Mutex
	identity string
	room     *roomRef
	closed   bool
}

func (s *Session) ID() string { return s.id }

// Identity returns the session's established identity ("" when anonymous).
func (s *Session) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Room returns the current room name, if joined.
func (s *Session) Room() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil {
		return "", false
	}
	return s.room.name, true
}

// currentRoom snapshots room and identity for handlers.
func (s *Session) currentRoom() (*roomRef, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room, s.identity
}

// OnEvent implements pubsub.Handler. It runs on the publishing goroutine and
// must not block: emitting is a non-blocking enqueue on the outbound queue.
func (s *Session) OnEvent(group string, event any) {
	ev, ok := event.(Event)
	if !ok {
		return
	}
	s.proto.deliver(s, ev)
}

// Disconnect runs lifecycle cleanup exactly once, regardless of whether the
// transport closed abruptly or the client asked to disconnect. Cleanup
// failures are logged, never propagated; the connection is going away either
// way.
func (s *Session) Disconnect(reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if _, err := s.leaveRoom(); err != nil {
		s.log.Warn("room cleanup failed on disconnect", "conn_id", s.id, "err", err)
	}

	s.mu.Lock()
	s.identity = ""
	s.mu.Unlock()

	s.remove(s.id)
	s.metrics.Inc(metrics.SessionsClosed)
	s.log.Info("connection closed", "conn_id", s.id, "protocol", s.proto.Name, "reason", reason)
}

// leaveRoom publishes the protocol's leave notification, unsubscribes, and
// clears the room. It reports whether the session was in a room. Calling it
// again afterwards is a no-op.
func (s *Session) leaveRoom() (bool, error) {
	s.mu.Lock()
	ref := s.room
	identity := s.identity
	s.room = nil
	s.mu.Unlock()

	if ref == nil {
		return false, nil
	}

	// Notify the room before dropping the subscription; the leaver's own copy
	// of the notification is filtered at the receiving edge.
	pubErr := s.bus.Publish(ref.group, Event{
		Kind:      s.proto.leaveEvent,
		Origin:    s.id,
		SenderID:  identity,
		Timestamp: timestamp(),
	})
	if err := s.bus.Unsubscribe(ref.group, s); err != nil && pubErr == nil {
		pubErr = err
	}

	s.metrics.Inc(metrics.RoomsLeft)
	s.log.Debug("left room", "conn_id", s.id, "room", ref.name)
	return true, pubErr
}

// joinRoom leaves any current room, subscribes to the new group and records
// the membership. Exactly one leave notification is published for the old
// room before the new subscribe.
func (s *Session) joinRoom(room string) error {
	if _, err := s.leaveRoom(); err != nil {
		return err
	}

	ref := &roomRef{name: room, group: s.proto.groupKey(room)}
	if err := s.bus.Subscribe(ref.group, s); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		// Disconnect ran between the subscribe and here; its leaveRoom saw no
		// room, so the subscription must be dropped before it leaks.
		s.mu.Unlock()
		_ = s.bus.Unsubscribe(ref.group, s)
		return errSessionClosed
	}
	s.room = ref
	s.mu.Unlock()

	s.metrics.Inc(metrics.RoomsJoined)
	s.log.Debug("joined room", "conn_id", s.id, "room", room, "protocol", s.proto.Name)
	return nil
}

// publish sends an event to the session's current room group.
func (s *Session) publish(group string, ev Event) error {
	s.metrics.Inc(metrics.EventsPublished)
	return s.bus.Publish(group, ev)
}

func (s *Session) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error("failed to encode outbound message", "conn_id", s.id, "err", err)
		return
	}
	if !s.out.Send(data) {
		s.metrics.Inc(metrics.OutboundDropped)
	}
}

func (s *Session) sendError(msg string) {
	s.sendJSON(errorMessage{
		Type:      "error",
		Message:   msg,
		Timestamp: timestamp(),
	})
}
