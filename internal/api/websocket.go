package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"barwise/internal/domain"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	sendBuffer     = 256
	defaultBacklog = 100
)

// Client represents a single WebSocket connection managed by a Hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub manages a set of WebSocket clients and broadcasts intentions to all
// of them. A newly connected client first receives the most recent
// intentions, then live ones. Slow clients are dropped rather than allowed
// to hold up the engine.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	backlog  [][]byte
	keep     int
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewHub creates a Hub that replays up to backlog recent messages to new
// clients. backlog <= 0 uses the default.
func NewHub(backlog int, log *slog.Logger) *Hub {
	if backlog <= 0 {
		backlog = defaultBacklog
	}
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 1024),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		keep:       backlog,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		log: log.With("component", "hub"),
	}
}

// Run starts the Hub's event loop and blocks until ctx is done, at which
// point every client is disconnected.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return
		case client := <-h.register:
			h.clients[client] = true
			for _, msg := range h.backlog {
				select {
				case client.send <- msg:
				default:
				}
			}
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		case message := <-h.broadcast:
			h.backlog = append(h.backlog, message)
			if len(h.backlog) > h.keep {
				h.backlog = h.backlog[len(h.backlog)-h.keep:]
			}
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
		}
	}
}

// Publish queues an intention for every client. It never blocks.
func (h *Hub) Publish(in domain.Intention) {
	j := toIntentionJSON(in)
	msg, err := json.Marshal(StreamMessage{Type: "intention", Intention: &j})
	if err != nil {
		h.log.Error("encoding intention", "id", in.ID, "error", err)
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("stream queue full, intention dropped", "id", in.ID, "symbol", in.Symbol)
	}
}

// ServeHTTP upgrades the connection to a WebSocket and registers the client
// with the Hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade", "remote", r.RemoteAddr, "error", err)
		return
	}
	c := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	h.log.Info("client connected", "remote", r.RemoteAddr)

	go c.writePump()
	c.readPump()
	h.log.Info("client disconnected", "remote", r.RemoteAddr)
}

// readPump discards inbound messages and notices when the peer goes away.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
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

func (c *Client) writePump() {
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
