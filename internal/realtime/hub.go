package realtime

import (
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/otpdeck/otpdeck/pkg/logger"
	"github.com/otpdeck/otpdeck/pkg/metrics"
)

// hubLog returns the subsystem logger. Resolved per call so sockets opened
// before logging is configured still pick up the real logger.
func hubLog() *zap.Logger {
	return logger.WithModule("realtime")
}

// Timing and sizing for websocket sessions. Pings go out well inside the
// pong deadline so a healthy client never times out.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1 MiB

	outboxSize = 64
)

// Message is the JSON payload delivered to stream subscribers.
type Message struct {
	Stream string         `json:"stream"`
	Event  string         `json:"event"`
	Data   any            `json:"data,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// control is what clients send back over the socket: subscribe,
// unsubscribe, and ping requests.
type control struct {
	Action  string   `json:"action"`
	Streams []string `json:"streams"`
}

// Hub fans realtime messages out to websocket subscribers. The vault is
// single-user, so subscriptions are keyed by stream alone.
type Hub struct {
	mu       sync.RWMutex
	streams  map[string]map[*client]struct{}
	upgrader websocket.Upgrader
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{
		streams: make(map[string]map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     sameOriginOrLoopback,
		},
	}
}

// sameOriginOrLoopback admits browser connections from the app's own origin
// plus localhost development servers.
func sameOriginOrLoopback(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	originHost := hostOnly(origin)
	return originHost == hostOnly(r.Host) || isLoopback(originHost)
}

// Serve upgrades the request to a websocket and registers it on the given
// streams. A nil allowed set permits every stream.
func (h *Hub) Serve(streams []string, allowed map[string]struct{}, w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hubLog().Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{
		hub:     h,
		ws:      ws,
		outbox:  make(chan Message, outboxSize),
		allowed: allowed,
	}
	h.subscribe(cl, streams)
	metrics.StreamSubscribers.Inc()

	go cl.writeLoop()
	cl.readLoop()
}

// BroadcastStream delivers message to every subscriber of stream.
func (h *Hub) BroadcastStream(stream string, message Message) {
	stream = normalizeStream(stream)
	if stream == "" {
		return
	}
	message.Stream = stream

	h.mu.RLock()
	defer h.mu.RUnlock()

	for cl := range h.streams[stream] {
		cl.deliver(message)
	}
}

// SubscriberCount reports how many connections listen on a stream.
func (h *Hub) SubscriberCount(stream string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams[normalizeStream(stream)])
}

func (h *Hub) subscribe(cl *client, names []string) {
	names = uniqueStreams(names)
	if len(names) == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, stream := range names {
		if !cl.mayJoin(stream) {
			hubLog().Warn("ignoring unauthorized stream", zap.String("stream", stream))
			continue
		}
		if _, joined := cl.joined[stream]; joined {
			continue
		}

		if cl.joined == nil {
			cl.joined = make(map[string]struct{})
		}
		if h.streams[stream] == nil {
			h.streams[stream] = make(map[*client]struct{})
		}
		cl.joined[stream] = struct{}{}
		h.streams[stream][cl] = struct{}{}
	}
}

func (h *Hub) unsubscribe(cl *client, names []string) {
	names = uniqueStreams(names)
	if len(names) == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, stream := range names {
		h.dropLocked(cl, stream)
		delete(cl.joined, stream)
	}
}

func (h *Hub) unregister(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for stream := range cl.joined {
		h.dropLocked(cl, stream)
	}
}

// dropLocked removes one stream membership. Callers hold the write lock
// and pass normalized stream names.
func (h *Hub) dropLocked(cl *client, stream string) {
	members, ok := h.streams[stream]
	if !ok {
		return
	}
	delete(members, cl)
	if len(members) == 0 {
		delete(h.streams, stream)
	}
}

type client struct {
	hub     *Hub
	ws      *websocket.Conn
	joined  map[string]struct{}
	outbox  chan Message
	once    sync.Once
	allowed map[string]struct{}
}

func (cl *client) mayJoin(stream string) bool {
	if len(cl.allowed) == 0 {
		return true
	}
	_, ok := cl.allowed[stream]
	return ok
}

// deliver hands a message to the client's writer, dropping the whole client
// when its outbox is full so one stuck reader cannot stall a broadcast.
func (cl *client) deliver(message Message) {
	select {
	case cl.outbox <- message:
	default:
		hubLog().Warn("dropping slow subscriber")
		// close takes the hub write lock; broadcast callers hold the read lock
		go cl.close()
	}
}

func (cl *client) readLoop() {
	defer cl.close()

	cl.ws.SetReadLimit(maxMessageSize)
	_ = cl.ws.SetReadDeadline(time.Now().Add(pongWait))
	cl.ws.SetPongHandler(func(string) error {
		return cl.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := cl.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				hubLog().Debug("unexpected close", zap.Error(err))
			}
			return
		}
		if len(payload) > 0 {
			cl.handleControl(payload)
		}
	}
}

func (cl *client) handleControl(payload []byte) {
	var ctrl control
	if err := json.Unmarshal(payload, &ctrl); err != nil {
		hubLog().Debug("invalid control payload", zap.Error(err))
		return
	}

	switch strings.ToLower(strings.TrimSpace(ctrl.Action)) {
	case "subscribe":
		cl.hub.subscribe(cl, ctrl.Streams)
	case "unsubscribe":
		cl.hub.unsubscribe(cl, ctrl.Streams)
	case "ping":
		cl.deliver(Message{Event: "pong"})
	default:
		hubLog().Debug("unsupported control action", zap.String("action", ctrl.Action))
	}
}

func (cl *client) writeLoop() {
	defer cl.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-cl.outbox:
			_ = cl.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = cl.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.ws.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (cl *client) close() {
	cl.once.Do(func() {
		cl.hub.unregister(cl)
		metrics.StreamSubscribers.Dec()
		close(cl.outbox)
		_ = cl.ws.Close()
	})
}

// hostOnly strips scheme and port from an origin or host:port value.
func hostOnly(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}

	if strings.Contains(value, "://") {
		if parsed, err := url.Parse(value); err == nil && parsed.Host != "" {
			value = parsed.Host
		}
	}

	if host, _, err := net.SplitHostPort(value); err == nil {
		return host
	}
	return value
}

func isLoopback(host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}

func normalizeStream(stream string) string {
	return strings.ToLower(strings.TrimSpace(stream))
}

// uniqueStreams normalizes names, dropping blanks and duplicates while
// preserving order.
func uniqueStreams(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := names[:0:0]
	for _, name := range names {
		name = normalizeStream(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
