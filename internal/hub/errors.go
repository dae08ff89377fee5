package hub

import "errors"

// ErrTooManySessions is returned by Server.NewSession when the MAX_SESSIONS
// quota is exhausted.
var ErrTooManySessions = errors.New("too many sessions")

// errSessionClosed is returned by joinRoom when Disconnect won the race; the
// subscription is rolled back rather than recorded on the dead session.
var errSessionClosed = errors.New("session closed")

// usageError is a client-caused failure (malformed message, missing field,
// operation out of state). The message text is sent to the client verbatim;
// the connection stays open.
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usageErr(msg string) error { return &usageError{msg: msg} }

// Client-facing error texts. These are part of the wire protocol; clients
// match on them.
const (
	errTextTypeRequired   = "Message type is required"
	errTextInvalidJSON    = "Invalid JSON format"
	errTextRoomRequired   = "Room ID is required"
	errTextUserIDRequired = "user_id is required for connection"
	errTextPeerIDRequired = "peer_id is required"
	errTextNotInRoom      = "Not connected to any room"

	errTextTargetForOffer  = "target_peer_id is required for offer"
	errTextTargetForAnswer = "target_peer_id is required for answer"
	errTextTargetForICE    = "target_peer_id is required for ICE candidate"

	errTextUserIDImmutable = "user_id cannot be changed"
	errTextPeerIDImmutable = "peer_id cannot be changed"
)
