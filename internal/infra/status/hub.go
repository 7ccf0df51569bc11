package status

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"mdp_go/internal/domain"
	"mdp_go/internal/service"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientSendSize = 256
)

// Event is the JSON frame pushed to websocket clients.
type Event struct {
	Type      string              `json:"type"` // state, reset, reset_finished, quote
	ChannelID int                 `json:"channel_id,omitempty"`
	From      string              `json:"from,omitempty"`
	To        string              `json:"to,omitempty"`
	Quote     *service.BoardEntry `json:"quote,omitempty"`
	Time      time.Time           `json:"time"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans channel and quote events out to websocket clients. Broadcasts
// never block; a client that cannot keep up loses frames.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	dropped atomic.Uint64

	upgrader websocket.Upgrader
}

var _ service.ChannelListener = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns the number of frames discarded for slow clients.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

func (h *Hub) OnChannelStateChange(channelID int, from, to domain.ChannelState) {
	h.broadcast(Event{Type: "state", ChannelID: channelID, From: from.String(), To: to.String()})
}

func (h *Hub) OnChannelReset(channelID int) {
	h.broadcast(Event{Type: "reset", ChannelID: channelID})
}

func (h *Hub) OnChannelResetFinished(channelID int) {
	h.broadcast(Event{Type: "reset_finished", ChannelID: channelID})
}

// OnQuote is meant to be the market board update callback.
func (h *Hub) OnQuote(entry service.BoardEntry) {
	h.broadcast(Event{Type: "quote", ChannelID: entry.ChannelID, Quote: &entry})
}

func (h *Hub) broadcast(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		slog.Error("Failed to encode hub event", slog.String("type", ev.Type), slog.Any("error", err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			h.dropped.Add(1)
		}
	}
}

// ServeWS upgrades the request and streams events until the client goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", slog.Any("error", err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientSendSize)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	slog.Info("Websocket client connected", slog.String("remote", r.RemoteAddr))

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// readPump only consumes control frames; clients do not send commands.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
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
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
