package metrics

import "sync"

// Counter names used across the hub. Names are intentionally simple; every
// counter is exposed through the Prometheus text handler with an `event`
// label.
const (
	SessionsOpened   = "sessions_opened"
	SessionsClosed   = "sessions_closed"
	SessionsRejected = "sessions_rejected"

	RoomsJoined = "rooms_joined"
	RoomsLeft   = "rooms_left"

	EventsPublished = "events_published"
	EventsDelivered = "events_delivered"
	EventsFiltered  = "events_filtered"

	ProtocolErrors = "protocol_errors"
	InternalErrors = "internal_errors"

	OutboundDropped = "outbound_dropped"
	RateLimited     = "rate_limited"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The hub is expected to plug into a real metrics backend eventually; this
// type keeps the relay logic testable while still being scrapable via the
// Prometheus text handler.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
