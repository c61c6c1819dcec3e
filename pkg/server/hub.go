package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nicktill/tinyfeat/pkg/config"
	"github.com/nicktill/tinyfeat/pkg/runner"
	"github.com/nicktill/tinyfeat/pkg/storage"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Same origin, or no Origin header (non-browser clients).
		origin := r.Header.Get("Origin")
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
}

// Event types sent to WebSocket clients.
const (
	EventBatchStarted   = "batch_started"
	EventBatchProgress  = "batch_progress"
	EventBatchCompleted = "batch_completed"
	EventBatchFailed    = "batch_failed"
	EventStoreStats     = "store_stats"
)

// Event is one message on the progress stream.
type Event struct {
	Type      string           `json:"type"`
	Timestamp int64            `json:"timestamp"`
	Handle    string           `json:"handle,omitempty"`
	Progress  *runner.Progress `json:"progress,omitempty"`
	Report    *runner.Report   `json:"report,omitempty"`
	Stats     *storage.Stats   `json:"stats,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// ProgressHub fans batch events out to WebSocket clients.
type ProgressHub struct {
	clients    map[*websocket.Conn]bool
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan []byte
	log        *slog.Logger

	pingInterval time.Duration

	mu sync.RWMutex
}

// NewProgressHub creates a hub. Call Run to start delivering.
func NewProgressHub(log *slog.Logger) *ProgressHub {
	if log == nil {
		log = slog.Default()
	}
	return &ProgressHub{
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn, config.WSChannelBuffer),
		unregister: make(chan *websocket.Conn, config.WSChannelBuffer),
		broadcast:  make(chan []byte, config.WSBroadcastBuffer),
		log:        log,

		pingInterval: config.WSPingInterval,
	}
}

// Run is the hub's main loop. It closes every client when ctx ends.
func (h *ProgressHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
			}
			h.clients = make(map[*websocket.Conn]bool)
			h.mu.Unlock()
			return
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("websocket client connected", slog.Int("clients", count))
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("websocket client disconnected", slog.Int("clients", count))
		case message := <-h.broadcast:
			h.mu.RLock()
			var failed []*websocket.Conn
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					h.log.Debug("websocket write failed", slog.Any("error", err))
					failed = append(failed, conn)
				}
			}
			h.mu.RUnlock()

			// Unregister without holding the lock.
			for _, conn := range failed {
				select {
				case h.unregister <- conn:
				default:
					go func(c *websocket.Conn) { h.unregister <- c }(conn)
				}
			}
		}
	}
}

// Publish queues an event for every client. It never blocks: when the queue
// is full the event is dropped.
func (h *ProgressHub) Publish(ev Event) error {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().Unix()
	}
	message, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- message:
	default:
		h.log.Warn("broadcast queue full, dropping event", slog.String("type", ev.Type))
	}
	return nil
}

// HasClients reports whether anyone is listening.
func (h *ProgressHub) HasClients() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients) > 0
}

// HandleWebSocket upgrades the request and keeps the connection alive with
// pings until the client goes away.
func (h *ProgressHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	h.register <- conn

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		ticker := time.NewTicker(h.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// WriteControl may run alongside the hub's writes.
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(config.WSWriteDeadline)); err != nil {
					return
				}
			}
		}
	}()

	defer func() {
		cancel()
		h.unregister <- conn
	}()

	conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug("websocket closed", slog.Any("error", err))
			}
			return
		}
	}
}
