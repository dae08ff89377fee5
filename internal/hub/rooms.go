package hub

import (
	"encoding/json"

	"github.com/relaymesh/relay-hub/internal/metrics"
)

// RoomsProtocol is the generic room protocol: connect/disconnect plus
// join/leave/broadcast with an optional user identity.
func RoomsProtocol() *Protocol {
	p := &Protocol{
		Name:        "rooms",
		groupPrefix: "room_",
		leaveEvent:  eventUserLeft,
	}
	p.handlers = map[string]handlerFunc{
		"connect":    handleConnect,
		"disconnect": handleClientDisconnect,
		"join-room":  handleJoinRoom,
		"leave-room": handleLeaveRoom,
		"message":    handleRoomMessage,
	}
	p.deliver = deliverRoomEvent
	return p
}

func handleConnect(s *Session, payload json.RawMessage, _ string) error {
	var p connectPayload
	if err := decodePayload(payload, &p); err != nil {
		return err
	}
	if p.UserID == "" {
		return usageErr(errTextUserIDRequired)
	}

	s.mu.Lock()
	if s.identity != "" && s.identity != p.UserID {
		s.mu.Unlock()
		return usageErr(errTextUserIDImmutable)
	}
	s.identity = p.UserID
	s.mu.Unlock()

	s.sendJSON(connectAck{
		Type:      "connect",
		Status:    "success",
		Timestamp: timestamp(),
	})
	return nil
}

func handleClientDisconnect(s *Session, _ json.RawMessage, _ string) error {
	if _, err := s.leaveRoom(); err != nil {
		s.log.Warn("room cleanup failed on client disconnect", "conn_id", s.id, "err", err)
	}
	// Closing the transport makes the read loop exit, which runs the full
	// Disconnect cleanup (a no-op for the room, already left above).
	s.out.Close()
	return nil
}

func handleJoinRoom(s *Session, _ json.RawMessage, room string) error {
	if room == "" {
		return usageErr(errTextRoomRequired)
	}

	if err := s.joinRoom(room); err != nil {
		return err
	}

	// Direct confirmation to the joiner; fanout echo ordering is not
	// guaranteed relative to it, so it never rides the group publish.
	s.sendJSON(roomJoinedAck{
		Type:      "room-joined",
		Room:      room,
		Timestamp: timestamp(),
	})

	_, identity := s.currentRoom()
	return s.publish(s.proto.groupKey(room), Event{
		Kind:      eventUserJoined,
		Origin:    s.id,
		SenderID:  identity,
		Timestamp: timestamp(),
	})
}

func handleLeaveRoom(s *Session, _ json.RawMessage, _ string) error {
	left, err := s.leaveRoom()
	if err != nil {
		return err
	}
	if left {
		s.sendJSON(roomLeftAck{
			Type:      "room-left",
			Timestamp: timestamp(),
		})
	}
	return nil
}

func handleRoomMessage(s *Session, payload json.RawMessage, _ string) error {
	ref, identity := s.currentRoom()
	if ref == nil {
		return usageErr(errTextNotInRoom)
	}

	return s.publish(ref.group, Event{
		Kind:      eventMessage,
		Origin:    s.id,
		SenderID:  identity,
		Payload:   payload,
		Timestamp: timestamp(),
	})
}

func deliverRoomEvent(s *Session, ev Event) {
	switch ev.Kind {
	case eventMessage:
		// Chat broadcasts echo to the sender as well; the echo doubles as a
		// delivery confirmation.
		s.metrics.Inc(metrics.EventsDelivered)
		s.sendJSON(chatMessage{
			Type:      eventMessage,
			UserID:    ev.SenderID,
			Message:   ev.Payload,
			Timestamp: ev.Timestamp,
		})
	case eventUserJoined, eventUserLeft:
		// Presence never re-delivers to its originator. Identity is optional
		// on this protocol, so the filter keys on the originating connection.
		if ev.Origin == s.id {
			s.metrics.Inc(metrics.EventsFiltered)
			return
		}
		s.metrics.Inc(metrics.EventsDelivered)
		s.sendJSON(userPresence{
			Type:      ev.Kind,
			UserID:    ev.SenderID,
			Timestamp: ev.Timestamp,
		})
	}
}
