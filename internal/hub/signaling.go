package hub

import (
	"encoding/json"

	"github.com/relaymesh/relay-hub/internal/metrics"
)

// SignalingProtocol is the WebRTC signaling protocol: presence plus targeted
// offer/answer/ICE relay keyed on a mandatory peer identity.
func SignalingProtocol() *Protocol {
	p := &Protocol{
		Name:        "signaling",
		groupPrefix: "webrtc_",
		leaveEvent:  eventPeerLeft,
	}
	p.handlers = map[string]handlerFunc{
		"join":          handleSignalJoin,
		"leave":         handleSignalLeave,
		"offer":         handleSignalOffer,
		"answer":        handleSignalAnswer,
		"ice-candidate": handleSignalCandidate,
	}
	p.deliver = deliverSignalEvent
	return p
}

func handleSignalJoin(s *Session, payload json.RawMessage, room string) error {
	if room == "" {
		return usageErr(errTextRoomRequired)
	}

	var p signalJoinPayload
	if err := decodePayload(payload, &p); err != nil {
		return err
	}
	if p.PeerID == "" {
		return usageErr(errTextPeerIDRequired)
	}

	s.mu.Lock()
	if s.identity != "" && s.identity != p.PeerID {
		s.mu.Unlock()
		return usageErr(errTextPeerIDImmutable)
	}
	s.identity = p.PeerID
	s.mu.Unlock()

	if err := s.joinRoom(room); err != nil {
		return err
	}

	s.sendJSON(signalJoinedAck{
		Type:      "joined",
		Room:      room,
		PeerID:    p.PeerID,
		Timestamp: timestamp(),
	})

	return s.publish(s.proto.groupKey(room), Event{
		Kind:      eventPeerJoined,
		Origin:    s.id,
		SenderID:  p.PeerID,
		Timestamp: timestamp(),
	})
}

func handleSignalLeave(s *Session, _ json.RawMessage, _ string) error {
	_, err := s.leaveRoom()
	return err
}

func handleSignalOffer(s *Session, payload json.RawMessage, _ string) error {
	var p offerPayload
	if err := decodePayload(payload, &p); err != nil {
		return err
	}
	return relayToPeer(s, eventOffer, p.TargetPeerID, errTextTargetForOffer, p.Offer)
}

func handleSignalAnswer(s *Session, payload json.RawMessage, _ string) error {
	var p answerPayload
	if err := decodePayload(payload, &p); err != nil {
		return err
	}
	return relayToPeer(s, eventAnswer, p.TargetPeerID, errTextTargetForAnswer, p.Answer)
}

func handleSignalCandidate(s *Session, payload json.RawMessage, _ string) error {
	var p candidatePayload
	if err := decodePayload(payload, &p); err != nil {
		return err
	}
	return relayToPeer(s, eventCandidate, p.TargetPeerID, errTextTargetForICE, p.Candidate)
}

// relayToPeer publishes a targeted event. The bus still fans it out to the
// whole room; narrowing to the target happens in deliverSignalEvent.
func relayToPeer(s *Session, kind, target, missingTargetText string, body json.RawMessage) error {
	ref, identity := s.currentRoom()
	if ref == nil {
		return usageErr(errTextNotInRoom)
	}
	if target == "" {
		return usageErr(missingTargetText)
	}

	return s.publish(ref.group, Event{
		Kind:      kind,
		Origin:    s.id,
		SenderID:  identity,
		TargetID:  target,
		Payload:   body,
		Timestamp: timestamp(),
	})
}

func deliverSignalEvent(s *Session, ev Event) {
	switch ev.Kind {
	case eventPeerJoined, eventPeerLeft:
		// The originator already knows; everyone else hears about it.
		if ev.SenderID == s.Identity() {
			s.metrics.Inc(metrics.EventsFiltered)
			return
		}
		s.metrics.Inc(metrics.EventsDelivered)
		s.sendJSON(peerPresence{
			Type:      ev.Kind,
			PeerID:    ev.SenderID,
			Timestamp: ev.Timestamp,
		})
	case eventOffer, eventAnswer, eventCandidate:
		// Match-to-keep: only the addressed peer emits the event outward; all
		// other subscribers discard silently.
		if ev.TargetID != s.Identity() {
			s.metrics.Inc(metrics.EventsFiltered)
			return
		}
		s.metrics.Inc(metrics.EventsDelivered)
		msg := relayMessage{
			Type:         ev.Kind,
			SourcePeerID: ev.SenderID,
			Timestamp:    ev.Timestamp,
		}
		switch ev.Kind {
		case eventOffer:
			msg.Offer = ev.Payload
		case eventAnswer:
			msg.Answer = ev.Payload
		case eventCandidate:
			msg.Candidate = ev.Payload
		}
		s.sendJSON(msg)
	}
}
