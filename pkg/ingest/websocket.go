package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nicktill/roomusage/pkg/config"
	"github.com/nicktill/roomusage/pkg/notify"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// Allow same-origin requests, or requests with no Origin header
		// No Origin header = direct connection (non-browser clients like curl, testing tools)
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
}

// ErrBroadcastFull is returned by Notify when the hub is too far behind
var ErrBroadcastFull = errors.New("websocket broadcast channel full")

type client struct {
	userID string
	conn   *websocket.Conn
}

type userMessage struct {
	userID string
	data   []byte
}

// Hub pushes upload notifications to the websocket clients of the user
// they concern. It implements notify.Sink.
type Hub struct {
	// Registered clients by user id
	clients map[string]map[*client]bool

	register   chan *client
	unregister chan *client
	broadcast  chan userMessage

	// done is closed when Run returns
	done chan struct{}

	mu     sync.RWMutex
	logger *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[string]map[*client]bool),
		register:   make(chan *client, config.WSChannelBuffer),
		unregister: make(chan *client, config.WSChannelBuffer),
		broadcast:  make(chan userMessage, config.WSBroadcastBuffer),
		done:       make(chan struct{}),
		logger:     logger.With(zap.String("component", "ws")),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			// Close all client connections on shutdown
			h.mu.Lock()
			for _, set := range h.clients {
				for c := range set {
					c.conn.Close()
				}
			}
			h.clients = make(map[string]map[*client]bool)
			h.mu.Unlock()
			for {
				select {
				case c := <-h.register:
					c.conn.Close()
				default:
					return
				}
			}
		case c := <-h.register:
			h.mu.Lock()
			if h.clients[c.userID] == nil {
				h.clients[c.userID] = make(map[*client]bool)
			}
			h.clients[c.userID][c] = true
			count := len(h.clients[c.userID])
			h.mu.Unlock()
			h.logger.Debug("client connected", zap.String("user_id", c.userID), zap.Int("user_clients", count))
		case c := <-h.unregister:
			h.remove(c)
		case msg := <-h.broadcast:
			h.mu.RLock()
			// Collect failed connections to unregister after releasing lock
			var failed []*client
			for c := range h.clients[msg.userID] {
				c.conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
				if err := c.conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
					h.logger.Debug("write failed", zap.String("user_id", c.userID), zap.Error(err))
					failed = append(failed, c)
				}
			}
			h.mu.RUnlock()

			for _, c := range failed {
				h.remove(c)
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.clients[c.userID]
	if !set[c] {
		return
	}
	delete(set, c)
	c.conn.Close()
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
	h.logger.Debug("client disconnected", zap.String("user_id", c.userID), zap.Int("user_clients", len(set)))
}

// Notify queues e for the clients of e.UserID. Events for users without
// connected clients are skipped.
func (h *Hub) Notify(ctx context.Context, e notify.Event) error {
	if !h.HasClients(e.UserID) {
		return nil
	}

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- userMessage{userID: e.UserID, data: data}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrBroadcastFull
	}
}

// HasClients reports whether userID has connected clients
func (h *Hub) HasClients(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// ClientCount returns the number of connected clients across all users
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// HandleWebSocket handles GET /v1/users/{user}/ws
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user"]
	if err := validateUserID(userID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Upgrade HTTP connection to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	c := &client{userID: userID, conn: conn}
	select {
	case h.register <- c:
	case <-h.done:
	}
	// A stopped hub never serves the client; Run closes the ones it drained.
	select {
	case <-h.done:
		conn.Close()
		return
	default:
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Pings use WriteControl, which may run concurrently with the hub's writes.
	go func() {
		ticker := time.NewTicker(config.WSPingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(config.WSWriteDeadline)); err != nil {
					return
				}
			}
		}
	}()

	defer func() {
		cancel()
		select {
		case h.unregister <- c:
		case <-h.done:
			conn.Close()
		}
	}()

	conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		return nil
	})

	// Clients never send data; reading drives control frames and detects close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("connection closed", zap.String("user_id", userID), zap.Error(err))
			}
			return
		}
	}
}
