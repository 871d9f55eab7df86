package notifications

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	watcherBuffer  = 16
)

// watcher is one open stream for one application
type watcher struct {
	conn   *websocket.Conn
	send   chan StatusEvent
	closed chan struct{}
	once   sync.Once
}

func (w *watcher) close() {
	w.once.Do(func() { close(w.closed) })
}

// StreamHub pushes status events to clients watching an application over a
// WebSocket. It is a Channel; an event with no watchers is skipped.
type StreamHub struct {
	mu       sync.RWMutex
	watchers map[uuid.UUID]map[*watcher]struct{}
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewStreamHub creates a hub. allowedOrigins empty accepts any origin.
func NewStreamHub(allowedOrigins []string, logger *zap.Logger) *StreamHub {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	return &StreamHub{
		watchers: make(map[uuid.UUID]map[*watcher]struct{}),
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				_, ok := allowed[r.Header.Get("Origin")]
				return ok
			},
		},
	}
}

func (h *StreamHub) Name() string { return ChannelWebSocket }

// Send queues the event for every watcher of the application. A watcher that
// cannot keep up is disconnected.
func (h *StreamHub) Send(_ context.Context, event StatusEvent) (string, error) {
	h.mu.RLock()
	targets := make([]*watcher, 0, len(h.watchers[event.ApplicationID]))
	for w := range h.watchers[event.ApplicationID] {
		targets = append(targets, w)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return "", ErrNoRecipient
	}

	delivered := 0
	for _, w := range targets {
		select {
		case w.send <- event:
			delivered++
		default:
			h.logger.Warn("Dropping slow status watcher", zap.String("application_id", event.ApplicationID.String()))
			w.close()
		}
	}
	return strconv.Itoa(delivered), nil
}

// RegisterRoutes registers the status stream route
func (h *StreamHub) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/applications/:id/events", h.stream)
}

// stream handles GET /api/v1/applications/:id/events
func (h *StreamHub) stream(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}

	w := &watcher{
		conn:   conn,
		send:   make(chan StatusEvent, watcherBuffer),
		closed: make(chan struct{}),
	}
	h.add(id, w)
	go h.writePump(id, w)
	h.readPump(w)
}

// Watchers returns the number of open streams for an application
func (h *StreamHub) Watchers(applicationID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watchers[applicationID])
}

// Close disconnects every watcher
func (h *StreamHub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, set := range h.watchers {
		for w := range set {
			w.close()
		}
	}
}

func (h *StreamHub) add(id uuid.UUID, w *watcher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.watchers[id] == nil {
		h.watchers[id] = make(map[*watcher]struct{})
	}
	h.watchers[id][w] = struct{}{}
}

func (h *StreamHub) remove(id uuid.UUID, w *watcher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.watchers[id], w)
	if len(h.watchers[id]) == 0 {
		delete(h.watchers, id)
	}
}

// readPump discards client messages and notices when the client goes away
func (h *StreamHub) readPump(w *watcher) {
	defer w.close()

	w.conn.SetReadLimit(maxMessageSize)
	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		return w.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := w.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Status watcher closed unexpectedly", zap.Error(err))
			}
			return
		}
	}
}

func (h *StreamHub) writePump(id uuid.UUID, w *watcher) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.remove(id, w)
		w.conn.Close()
	}()

	for {
		select {
		case event := <-w.send:
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-w.closed:
			w.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}
