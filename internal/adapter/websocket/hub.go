// Package websocket pushes live prediction updates to dashboard clients.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/couchcryptid/resqnet-dispatch/internal/domain"
	"github.com/couchcryptid/resqnet-dispatch/internal/observability"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 8
)

// Predictor supplies the snapshot sent to a client when it connects.
type Predictor interface {
	Predict(ctx context.Context) (domain.PredictionSnapshot, error)
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks connected dashboards and fans out prediction snapshots.
type Hub struct {
	upgrader   websocket.Upgrader
	predictor  Predictor
	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewHub creates a Hub. predictor may be nil, in which case new clients wait
// for the next broadcast.
func NewHub(predictor Predictor, logger *slog.Logger, metrics *observability.Metrics) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		predictor:  predictor,
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 16),
		done:       make(chan struct{}),
		logger:     logger,
		metrics:    metrics,
	}
}

// Run serves registrations and broadcasts until ctx is cancelled, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mutex.Unlock()
			h.metrics.LiveClients.Set(0)
			return

		case c := <-h.register:
			h.mutex.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mutex.Unlock()
			h.metrics.LiveClients.Set(float64(n))
			h.logger.Info("prediction client connected", "clients", n)

		case c := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mutex.Unlock()
			h.metrics.LiveClients.Set(float64(n))
			h.logger.Info("prediction client disconnected", "clients", n)

		case msg := <-h.broadcast:
			h.mutex.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow client; drop it rather than stall everyone else.
					delete(h.clients, c)
					close(c.send)
					h.logger.Warn("dropping slow prediction client")
				}
			}
			h.metrics.LiveClients.Set(float64(len(h.clients)))
			h.mutex.Unlock()
		}
	}
}

// Broadcast queues a snapshot for every connected client. It never blocks;
// if the hub is backed up the snapshot is skipped, since a newer one follows.
func (h *Hub) Broadcast(snapshot domain.PredictionSnapshot) {
	msg, err := json.Marshal(snapshot.View())
	if err != nil {
		h.logger.Error("encode prediction", "error", err)
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("prediction broadcast skipped, hub busy")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams predictions until the client
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	if h.predictor != nil {
		if snap, err := h.predictor.Predict(r.Context()); err == nil {
			if msg, err := json.Marshal(snap.View()); err == nil {
				c.send <- msg
			}
		} else {
			h.logger.Warn("initial prediction failed", "error", err)
		}
	}

	select {
	case h.register <- c:
	case <-r.Context().Done():
		conn.Close()
		return
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(c)
	h.readPump(c)
}

// readPump discards client messages and detects disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
