package reload

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// EventType names a live-reload event.
type EventType string

const (
	EventReload  EventType = "reload"
	EventProblem EventType = "problem"
)

// Event is pushed to connected browsers.
type Event struct {
	Type    EventType          `json:"type"`
	Cycle   uuid.UUID          `json:"cycle"`
	Action  Action             `json:"kind,omitempty"`
	Classes []string           `json:"classes,omitempty"`
	Problem *DeploymentProblem `json:"problem,omitempty"`
}

const (
	liveSendBuffer   = 8
	liveWriteTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Dev server only; pages may be served from another port.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type liveClient struct {
	conn *websocket.Conn
	send chan Event
}

// LiveReload broadcasts reload events to browsers connected over WebSocket.
// A nil *LiveReload broadcasts nothing.
type LiveReload struct {
	mu      sync.Mutex
	clients map[*liveClient]struct{}
	logger  *slog.Logger
}

// NewLiveReload creates an empty broadcaster.
func NewLiveReload(logger *slog.Logger) *LiveReload {
	if logger == nil {
		logger = slog.Default()
	}
	return &LiveReload{
		clients: make(map[*liveClient]struct{}),
		logger:  logger,
	}
}

// ServeHTTP upgrades the connection and keeps it registered until the client
// goes away.
func (l *LiveReload) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Warn("livereload: upgrade failed", "err", err)
		return
	}
	c := &liveClient{conn: conn, send: make(chan Event, liveSendBuffer)}
	l.add(c)
	go l.writeLoop(c)

	// Clients never send anything; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	l.remove(c)
}

func (l *LiveReload) writeLoop(c *liveClient) {
	defer c.conn.Close()
	for ev := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
		if err := c.conn.WriteJSON(ev); err != nil {
			l.logger.Debug("livereload: write failed", "err", err)
			l.remove(c)
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (l *LiveReload) add(c *liveClient) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clients[c] = struct{}{}
}

func (l *LiveReload) remove(c *liveClient) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.clients[c]; ok {
		delete(l.clients, c)
		close(c.send)
	}
}

// Broadcast queues ev for every client. Clients whose buffer is full are
// dropped.
func (l *LiveReload) Broadcast(ev Event) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for c := range l.clients {
		select {
		case c.send <- ev:
		default:
			delete(l.clients, c)
			close(c.send)
		}
	}
}

// Clients returns the number of connected clients.
func (l *LiveReload) Clients() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Close disconnects every client.
func (l *LiveReload) Close() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for c := range l.clients {
		delete(l.clients, c)
		close(c.send)
	}
}
