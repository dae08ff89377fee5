// Package transport accepts WebSocket connections and frames them into
// discrete messages for the hub. The hub never sees the wire; it talks to a
// Sink and gets called back with decoded frames.
package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/relaymesh/relay-hub/internal/hub"
	"github.com/relaymesh/relay-hub/internal/metrics"
	"github.com/relaymesh/relay-hub/internal/origin"
	"github.com/relaymesh/relay-hub/internal/ratelimit"
)

const writeWait = 10 * time.Second

type Config struct {
	MaxMessageBytes   int64
	MessagesPerSecond int
	IdleTimeout       time.Duration
	PingInterval      time.Duration
	SendQueueSize     int
	AllowedOrigins    []string
}

// Handler upgrades HTTP requests to WebSocket sessions speaking one protocol.
// Mount one Handler per protocol endpoint.
type Handler struct {
	cfg   Config
	hub   *hub.Server
	proto *hub.Protocol
	log   *slog.Logger
}

func NewHandler(cfg Config, hubServer *hub.Server, proto *hub.Protocol, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:   cfg,
		hub:   hubServer,
		proto: proto,
		log:   logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return origin.CheckRequest(r.Header.Get("Origin"), r.Host, h.cfg.AllowedOrigins)
		},
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &wsConn{
		ws:   ws,
		send: make(chan []byte, h.cfg.SendQueueSize),
		done: make(chan struct{}),
	}

	id := uuid.NewString()
	sess, err := h.hub.NewSession(id, h.proto, c)
	if err != nil {
		h.log.Warn("connection rejected", "protocol", h.proto.Name, "err", err)
		c.writeError("Too many sessions")
		c.closeWith(websocket.ClosePolicyViolation, "too many sessions")
		c.Close()
		return
	}

	go c.writePump(h.cfg.PingInterval)
	h.readPump(c, sess)
}

func (h *Handler) readPump(c *wsConn, sess *hub.Session) {
	defer func() {
		sess.Disconnect("transport closed")
		c.Close()
	}()

	c.ws.SetReadLimit(h.cfg.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(h.cfg.IdleTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(h.cfg.IdleTimeout))
	})

	limiter := ratelimit.NewTokenBucket(
		ratelimit.RealClock{},
		int64(h.cfg.MessagesPerSecond),
		int64(h.cfg.MessagesPerSecond),
	)

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Debug("read error", "conn_id", sess.ID(), "err", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(h.cfg.IdleTimeout))

		// The rate limit applies after the read so bytes already buffered by
		// the OS are consumed before any close frame goes out.
		if !limiter.Allow(1) {
			h.hub.Metrics().Inc(metrics.RateLimited)
			c.writeError("Rate limit exceeded")
			c.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			c.closeWith(websocket.CloseUnsupportedData, "expected text message")
			return
		}

		sess.HandleMessage(data)
	}
}

// wsConn implements hub.Sink over a gorilla connection: a bounded outbound
// queue drained by the write pump. Send never blocks; frames are dropped once
// the queue is full so a stalled peer cannot hold up room fanout.
type wsConn struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}

	closeOnce sync.Once
	writeMu   sync.Mutex
}

func (c *wsConn) Send(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *wsConn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *wsConn) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsConn) write(msgType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(msgType, data)
}

// writeError emits a protocol-shaped error frame directly, bypassing the
// queue. Used for transport-level failures where the session may not exist
// yet or is about to be torn down.
func (c *wsConn) writeError(message string) {
	data, err := json.Marshal(map[string]string{
		"type":      "error",
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return
	}
	_ = c.write(websocket.TextMessage, data)
}

func (c *wsConn) closeWith(code int, reason string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}
