package hub

import (
	"encoding/json"
	"time"
)

// envelope is the shape of every inbound message on both protocols. Payload
// defaults to an empty object; Room is only meaningful for join operations.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Room    string          `json:"room"`
}

// Inbound payloads.

type connectPayload struct {
	UserID string `json:"user_id"`
}

type signalJoinPayload struct {
	PeerID string `json:"peer_id"`
}

type offerPayload struct {
	TargetPeerID string          `json:"target_peer_id"`
	Offer        json.RawMessage `json:"offer"`
}

type answerPayload struct {
	TargetPeerID string          `json:"target_peer_id"`
	Answer       json.RawMessage `json:"answer"`
}

type candidatePayload struct {
	TargetPeerID string          `json:"target_peer_id"`
	Candidate    json.RawMessage `json:"candidate"`
}

// Event kinds published through the bus. They double as the outbound `type`
// for fanout-delivered messages.
const (
	eventUserJoined = "user-joined"
	eventUserLeft   = "user-left"
	eventMessage    = "message"

	eventPeerJoined = "peer-joined"
	eventPeerLeft   = "peer-left"
	eventOffer      = "offer"
	eventAnswer     = "answer"
	eventCandidate  = "ice-candidate"
)

// Event is what sessions publish to a room's group. Origin is the publishing
// connection's id; SenderID its identity at publish time. TargetID narrows
// targeted relay events to a single recipient identity at the receiving edge.
//
// JSON tags are for broker-backed Bus implementations; the in-process bus
// passes the struct through untouched.
type Event struct {
	Kind      string          `json:"kind"`
	Origin    string          `json:"origin"`
	SenderID  string          `json:"sender_id,omitempty"`
	TargetID  string          `json:"target_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// Outbound messages. Timestamps are RFC 3339 UTC.

type errorMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type connectAck struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type roomJoinedAck struct {
	Type      string `json:"type"`
	Room      string `json:"room"`
	Timestamp string `json:"timestamp"`
}

type roomLeftAck struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

type userPresence struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

type chatMessage struct {
	Type      string          `json:"type"`
	UserID    string          `json:"user_id,omitempty"`
	Message   json.RawMessage `json:"message"`
	Timestamp string          `json:"timestamp"`
}

type signalJoinedAck struct {
	Type      string `json:"type"`
	Room      string `json:"room"`
	PeerID    string `json:"peer_id"`
	Timestamp string `json:"timestamp"`
}

type peerPresence struct {
	Type      string `json:"type"`
	PeerID    string `json:"peer_id"`
	Timestamp string `json:"timestamp"`
}

type relayMessage struct {
	Type         string          `json:"type"`
	Offer        json.RawMessage `json:"offer,omitempty"`
	Answer       json.RawMessage `json:"answer,omitempty"`
	Candidate    json.RawMessage `json:"candidate,omitempty"`
	SourcePeerID string          `json:"source_peer_id"`
	Timestamp    string          `json:"timestamp"`
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
