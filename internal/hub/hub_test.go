package hub

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/relaymesh/relay-hub/internal/metrics"
	"github.com/relaymesh/relay-hub/internal/pubsub"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSink records every frame a session emits, decoded into generic maps.
type fakeSink struct {
	mu     sync.Mutex
	frames []map[string]any
	closed bool
}

func (f *fakeSink) Send(data []byte) bool {
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		panic(fmt.Sprintf("sink received non-JSON frame: %v", err))
	}
	f.mu.Lock()
	f.frames = append(f.frames, decoded)
	f.mu.Unlock()
	return true
}

func (f *fakeSink) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeSink) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeSink) Frames() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, len(f.frames))
	copy(out, f.frames)
	return out
}

// Last returns the most recent frame, failing the test if none were sent.
func (f *fakeSink) Last(t *testing.T) map[string]any {
	t.Helper()
	frames := f.Frames()
	if len(frames) == 0 {
		t.Fatalf("no frames sent")
	}
	return frames[len(frames)-1]
}

func (f *fakeSink) Reset() {
	f.mu.Lock()
	f.frames = nil
	f.mu.Unlock()
}

// recordingBus wraps the in-process bus and logs every operation so tests can
// assert on ordering (e.g. leave published before unsubscribe).
type recordingBus struct {
	inner *pubsub.Local

	mu   sync.Mutex
	ops  []string
	subs map[pubsub.Handler]map[string]bool

	failPublish error
}

func newRecordingBus() *recordingBus {
	return &recordingBus{
		inner: pubsub.NewLocal(),
		subs:  make(map[pubsub.Handler]map[string]bool),
	}
}

func (b *recordingBus) record(op string) {
	b.mu.Lock()
	b.ops = append(b.ops, op)
	b.mu.Unlock()
}

func (b *recordingBus) Ops() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.ops))
	copy(out, b.ops)
	return out
}

func (b *recordingBus) Subscribe(group string, h pubsub.Handler) error {
	b.record("subscribe " + group)
	b.mu.Lock()
	if b.subs[h] == nil {
		b.subs[h] = make(map[string]bool)
	}
	b.subs[h][group] = true
	b.mu.Unlock()
	return b.inner.Subscribe(group, h)
}

func (b *recordingBus) Unsubscribe(group string, h pubsub.Handler) error {
	b.record("unsubscribe " + group)
	b.mu.Lock()
	delete(b.subs[h], group)
	b.mu.Unlock()
	return b.inner.Unsubscribe(group, h)
}

func (b *recordingBus) subscriptionCount(h pubsub.Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[h])
}

func (b *recordingBus) Publish(group string, event any) error {
	kind := ""
	if ev, ok := event.(Event); ok {
		kind = ev.Kind
	}
	b.record("publish " + group + " " + kind)
	if b.failPublish != nil {
		return b.failPublish
	}
	return b.inner.Publish(group, event)
}

type testHub struct {
	server *Server
	bus    *recordingBus
	m      *metrics.Metrics
}

func newTestHub(t *testing.T) *testHub {
	t.Helper()
	bus := newRecordingBus()
	m := metrics.New()
	return &testHub{
		server: NewServer(testLogger(), bus, m, 0),
		bus:    bus,
		m:      m,
	}
}

func (h *testHub) session(t *testing.T, id string, proto *Protocol) (*Session, *fakeSink) {
	t.Helper()
	sink := &fakeSink{}
	sess, err := h.server.NewSession(id, proto, sink)
	if err != nil {
		t.Fatalf("NewSession(%q): %v", id, err)
	}
	return sess, sink
}

func send(t *testing.T, s *Session, msgType string, payload any, room string) {
	t.Helper()
	env := map[string]any{"type": msgType}
	if payload != nil {
		env["payload"] = payload
	}
	if room != "" {
		env["room"] = room
	}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	s.HandleMessage(data)
}

func wantError(t *testing.T, sink *fakeSink, text string) {
	t.Helper()
	last := sink.Last(t)
	if got := last["type"]; got != "error" {
		t.Fatalf("frame type=%v, want error (frame=%v)", got, last)
	}
	if got := last["message"]; got != text {
		t.Fatalf("error message=%q, want %q", got, text)
	}
	if _, ok := last["timestamp"].(string); !ok {
		t.Fatalf("error frame missing timestamp: %v", last)
	}
}

// checkInvariant asserts the session invariant: the current room is set if
// and only if the session holds exactly one live subscription.
func checkInvariant(t *testing.T, h *testHub, s *Session) {
	t.Helper()
	subs := h.bus.subscriptionCount(s)
	if subs > 1 {
		t.Fatalf("session %q holds %d subscriptions, want at most 1", s.ID(), subs)
	}
	_, joined := s.Room()
	if joined != (subs == 1) {
		t.Fatalf("session %q: Room() joined=%v but subscriptions=%d", s.ID(), joined, subs)
	}
}
