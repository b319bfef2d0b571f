package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/coinfeed/internal/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// streamMessage is the JSON frame pushed to WebSocket clients.
type streamMessage struct {
	Type     string        `json:"type"` // "initial", "snapshot" or "increment"
	Seq      uint64        `json:"seq,omitempty"`
	Currency string        `json:"currency"`
	Rate     float64       `json:"rate"`
	Entries  []model.Entry `json:"entries"`
	At       time.Time     `json:"at"`
}

// wsClient is one connected UI client.
type wsClient struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	symbols map[model.Symbol]struct{} // nil means all symbols
	after   uint64                    // Updates with Seq <= after are already in the initial frame
	once    sync.Once
}

func (c *wsClient) wants(sym model.Symbol) bool {
	if c.symbols == nil {
		return true
	}
	_, ok := c.symbols[sym]
	return ok
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub tracks WebSocket clients and fans store updates out to them.
// A client whose buffer is full misses updates rather than blocking the store.
type Hub struct {
	logger *slog.Logger
	buffer int

	mu      sync.RWMutex
	clients map[string]*wsClient
	closed  bool
}

// NewHub creates an empty hub.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{
		logger:  logger,
		buffer:  buffer,
		clients: make(map[string]*wsClient),
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// register adds a client and queues first(c) as its first frame. first runs
// under the hub lock, so no broadcast can reach the client before it. first
// also returns the store sequence its frame reflects; broadcasts at or below
// it are not sent to the client.
func (h *Hub) register(conn *websocket.Conn, symbols map[model.Symbol]struct{}, first func(*wsClient) ([]byte, uint64)) (*wsClient, bool) {
	c := &wsClient{
		id:      uuid.New().String(),
		conn:    conn,
		send:    make(chan []byte, h.buffer),
		symbols: symbols,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	h.clients[c.id] = c
	data, seq := first(c)
	c.after = seq
	if data != nil {
		c.send <- data
	}
	h.logger.Debug("ws client connected", "client", c.id, "clients", len(h.clients))
	return c, true
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		c.close()
	}
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("ws client disconnected", "client", c.id, "clients", n)
}

// Broadcast sends msg to every client, filtered by each client's symbols.
func (h *Hub) Broadcast(msg streamMessage) error {
	all, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		if msg.Seq <= c.after {
			continue
		}
		data := all
		if c.symbols != nil {
			filtered := msg
			filtered.Entries = nil
			for _, e := range msg.Entries {
				if c.wants(e.Symbol) {
					filtered.Entries = append(filtered.Entries, e)
				}
			}
			if len(filtered.Entries) == 0 {
				continue
			}
			if data, err = json.Marshal(filtered); err != nil {
				return err
			}
		}

		select {
		case c.send <- data:
		default:
			h.logger.Warn("ws client buffer full, skipping update", "client", c.id, "seq", msg.Seq)
		}
	}
	return nil
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, c := range h.clients {
		delete(h.clients, id)
		c.close()
	}
}

// parseSymbols reads ?symbols=BTCUSDT,ETHUSDT. Returns nil for no filter.
func parseSymbols(q string) map[model.Symbol]struct{} {
	if strings.TrimSpace(q) == "" {
		return nil
	}
	out := make(map[model.Symbol]struct{})
	for _, part := range strings.Split(q, ",") {
		if sym := model.NormalizeSymbol(part); sym != "" {
			out[sym] = struct{}{}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (s *Server) handleWS(c *gin.Context) {
	symbols := parseSymbols(c.Query("symbols"))
	currency, r := s.conversion(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug("ws upgrade failed", "error", err)
		return
	}

	client, ok := s.hub.register(conn, symbols, func(c *wsClient) ([]byte, uint64) {
		entries, seq := s.deps.Store.SnapshotAllSeq()
		var initial []model.Entry
		for _, e := range convertAll(entries, r) {
			if c.wants(e.Symbol) {
				initial = append(initial, e)
			}
		}
		data, err := json.Marshal(streamMessage{
			Type:     "initial",
			Seq:      seq,
			Currency: currency,
			Rate:     r,
			Entries:  initial,
			At:       time.Now(),
		})
		if err != nil {
			return nil, seq
		}
		return data, seq
	})
	if !ok {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}

	go s.readPump(client)
	go s.writePump(client)
}

// readPump discards client frames and detects disconnects.
func (s *Server) readPump(c *wsClient) {
	defer s.hub.unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("ws client read error", "client", c.id, "error", err)
			}
			return
		}
	}
}

func (s *Server) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
