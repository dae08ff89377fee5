// Package hub implements the relay core: per-connection sessions, the
// message router, and the room + signaling protocols, fanning events out
// through the pubsub group-publish service.
package hub

import (
	"log/slog"
	"sync"

	"github.com/relaymesh/relay-hub/internal/metrics"
	"github.com/relaymesh/relay-hub/internal/pubsub"
)

// Server owns the session registry and enforces the global session quota.
type Server struct {
	log         *slog.Logger
	bus         pubsub.Bus
	metrics     *metrics.Metrics
	maxSessions int

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewServer(logger *slog.Logger, bus pubsub.Bus, m *metrics.Metrics, maxSessions int) *Server {
	if m == nil {
		m = metrics.New()
	}
	return &Server{
		log:         logger,
		bus:         bus,
		metrics:     m,
		maxSessions: maxSessions,
		sessions:    make(map[string]*Session),
	}
}

func (h *Server) Metrics() *metrics.Metrics { return h.metrics }

// NewSession accepts a connection: it is called once the transport handshake
// has completed. The session starts with no identity and no room.
func (h *Server) NewSession(id string, proto *Protocol, out Sink) (*Session, error) {
	s := &Session{
		id:      id,
		log:     h.log,
		bus:     h.bus,
		metrics: h.metrics,
		proto:   proto,
		out:     out,
		remove:  h.removeSession,
	}

	h.mu.Lock()
	if h.maxSessions > 0 && len(h.sessions) >= h.maxSessions {
		h.mu.Unlock()
		h.metrics.Inc(metrics.SessionsRejected)
		return nil, ErrTooManySessions
	}
	h.sessions[id] = s
	h.mu.Unlock()

	h.metrics.Inc(metrics.SessionsOpened)
	h.log.Info("connection established", "conn_id", id, "protocol", proto.Name)
	return s, nil
}

func (h *Server) removeSession(id string) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
}

func (h *Server) ActiveSessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close disconnects every active session. Each one runs its full lifecycle
// cleanup, so mid-room peers publish their leave notifications.
func (h *Server) Close() {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.Disconnect("server shutdown")
		s.out.Close()
	}
}
