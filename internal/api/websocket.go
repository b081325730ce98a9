package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"loa-board/internal/game"
	"loa-board/internal/proposal"
)

const (
	// MaxWSConnectionsTotal is the maximum number of WebSocket connections allowed
	MaxWSConnectionsTotal = 500

	// MaxWSConnectionsPerIP is the maximum WebSocket connections per IP
	MaxWSConnectionsPerIP = 10

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096
)

// Outgoing websocket events.
const (
	EventCommands = "commands" // data: []game.Command, in sequence order
	EventResult   = "result"   // data: proposal.Result, id echoes the request
	EventError    = "error"    // data: string
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		// Use the centralized origin checker
		if IsAllowedOrigin(origin) {
			return true
		}

		// Log rejected origin for security monitoring
		log.Printf("⚠️ WebSocket connection rejected from origin: %s", origin)
		RecordConnectionRejected("origin")
		return false
	},
}

// Envelope is the frame format of every websocket message the hub sends.
type Envelope struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data"`
}

// wsProposal is a proposal sent over the socket by a seated client.
type wsProposal struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	proposalRequest
}

// wsClient tracks a WebSocket connection with its source IP
type wsClient struct {
	conn  *websocket.Conn
	ip    string
	token string // seat token, empty for spectators

	writeMu sync.Mutex
	lastSeq uint64 // hub goroutine only
}

// WriteMessage sends a websocket message guarded by the client's mutex and write deadline.
func (c *wsClient) WriteMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// WebSocketHub fans the committed command stream out to every connection
// and accepts proposals from seated clients.
type WebSocketHub struct {
	engine    EngineInterface
	proposals ProposalSubmitter
	seats     *SeatManager

	clients    map[*websocket.Conn]*wsClient
	broadcast  chan []game.Command
	register   chan *wsClient
	unregister chan *websocket.Conn
	stop       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex

	// Connection caps, server-wide and per IP
	conns *ConnLimiter
}

// NewWebSocketHub creates a new hub with connection limiting
func NewWebSocketHub(engine EngineInterface, proposals ProposalSubmitter, seats *SeatManager) *WebSocketHub {
	return &WebSocketHub{
		engine:     engine,
		proposals:  proposals,
		seats:      seats,
		clients:    make(map[*websocket.Conn]*wsClient),
		broadcast:  make(chan []game.Command, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *websocket.Conn),
		stop:       make(chan struct{}),
		conns:      NewConnLimiter(MaxWSConnectionsTotal, MaxWSConnectionsPerIP),
	}
}

// Publish queues a committed batch for broadcast. It never blocks: it is
// registered as an engine subscriber and runs under the engine lock. A
// dropped batch shows up as a gap and is repaired from the engine history.
func (h *WebSocketHub) Publish(cmds []game.Command) {
	select {
	case h.broadcast <- cmds:
	default:
		log.Printf("⚠️ Broadcast buffer full, %d commands deferred", len(cmds))
	}
}

// Run starts the hub
func (h *WebSocketHub) Run() {
	for {
		select {
		case <-h.stop:
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.conn] = client
			count := len(h.clients)
			h.mu.Unlock()

			h.sendBacklog(client, h.engine.History(0))
			log.Printf("📱 Client connected from %s (%d total)", client.ip, count)
			UpdateWSConnections(count)

		case conn := <-h.unregister:
			h.mu.Lock()
			if client, ok := h.clients[conn]; ok {
				// Release the connection slot for this IP
				h.conns.Release(client.ip)
				delete(h.clients, conn)
				conn.Close()
			}
			count := len(h.clients)
			h.mu.Unlock()

			log.Printf("📱 Client disconnected (%d remaining)", count)
			UpdateWSConnections(count)

		case cmds := <-h.broadcast:
			h.deliver(cmds)
		}
	}
}

// Stop closes every connection and ends Run.
func (h *WebSocketHub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// deliver sends a batch to every client, skipping what a client already has
// and backfilling from the engine history when a client is behind.
func (h *WebSocketHub) deliver(cmds []game.Command) {
	if len(cmds) == 0 {
		return
	}
	first := cmds[0].Seq

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	var dead []*wsClient
	for _, c := range clients {
		batch := after(cmds, c.lastSeq)
		if first > c.lastSeq+1 {
			batch = h.engine.History(c.lastSeq)
		}
		if len(batch) == 0 {
			continue
		}
		if err := h.sendCommands(c, batch); err != nil {
			dead = append(dead, c)
		}
	}
	IncrementWSMessages()

	for _, c := range dead {
		h.drop(c)
	}
}

func (h *WebSocketHub) sendBacklog(c *wsClient, cmds []game.Command) {
	if len(cmds) == 0 {
		return
	}
	if err := h.sendCommands(c, cmds); err != nil {
		h.drop(c)
	}
}

func (h *WebSocketHub) sendCommands(c *wsClient, cmds []game.Command) error {
	data, err := game.EncodeCommands(cmds)
	if err != nil {
		log.Printf("❌ Encode commands: %v", err)
		return nil
	}
	if err := c.WriteMessage(websocket.TextMessage, envelope(EventCommands, "", data)); err != nil {
		return err
	}
	c.lastSeq = cmds[len(cmds)-1].Seq
	return nil
}

func (h *WebSocketHub) drop(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c.conn]; ok {
		h.conns.Release(c.ip)
		delete(h.clients, c.conn)
	}
	count := len(h.clients)
	h.mu.Unlock()
	c.conn.Close()
	UpdateWSConnections(count)
}

func (h *WebSocketHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, c := range h.clients {
		h.conns.Release(c.ip)
		conn.Close()
		delete(h.clients, conn)
	}
	UpdateWSConnections(0)
}

// Stats returns the connection counters
func (h *WebSocketHub) Stats() ConnStats {
	return h.conns.Stats()
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket handles incoming WebSocket connections with DoS protection
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Get client IP for rate limiting
	ip := GetClientIP(r)

	if err := h.conns.Acquire(ip); err != nil {
		reason := "ws_ip_limit"
		code := http.StatusTooManyRequests
		if errors.Is(err, ErrTooManyConnections) {
			reason = "ws_total_limit"
			code = http.StatusServiceUnavailable
		}
		log.Printf("⚠️ WebSocket connection rejected from %s: %v", ip, err)
		RecordConnectionRejected(reason)
		writeError(w, err.Error(), code)
		return
	}

	// Upgrade to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		h.conns.Release(ip) // Release the slot we reserved
		return
	}

	client := &wsClient{conn: conn, ip: ip, token: TokenFromRequest(r)}
	select {
	case h.register <- client:
	case <-h.stop:
		h.conns.Release(ip)
		conn.Close()
		return
	}

	done := make(chan struct{})
	go h.pingLoop(client, done)
	go h.readLoop(client, done)
}

func (h *WebSocketHub) pingLoop(c *wsClient, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop reads proposals from the client until the connection closes
func (h *WebSocketHub) readLoop(c *wsClient, done chan struct{}) {
	defer func() {
		close(done)
		select {
		case h.unregister <- c.conn:
		case <-h.stop:
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg wsProposal
		if err := json.Unmarshal(message, &msg); err != nil {
			h.reply(c, EventError, "", "invalid message")
			continue
		}
		h.handleProposal(c, msg)
	}
}

func (h *WebSocketHub) handleProposal(c *wsClient, msg wsProposal) {
	seat, err := h.seats.Authenticate(c.token)
	if err != nil {
		h.reply(c, EventError, msg.ID, "seat token required")
		return
	}
	typ := proposal.ParseType(msg.Type)
	if typ == proposal.TypeUnknown || typ == proposal.TypeEndTurn {
		h.reply(c, EventError, msg.ID, "unsupported proposal type "+msg.Type)
		return
	}
	p, err := buildProposal(typ, seat, msg.proposalRequest)
	if err != nil {
		h.reply(c, EventError, msg.ID, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	res := h.proposals.Submit(ctx, p)
	cancel()
	if res.Err != nil && !res.Rejected() && !errors.Is(res.Err, proposal.ErrRateLimited) {
		log.Printf("⚠️ WebSocket proposal from %s failed: %v", c.ip, res.Err)
	}
	h.reply(c, EventResult, msg.ID, res)
}

func (h *WebSocketHub) reply(c *wsClient, event, id string, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	if err := c.WriteMessage(websocket.TextMessage, envelope(event, id, raw)); err != nil {
		c.conn.Close()
	}
}

func envelope(event, id string, data []byte) []byte {
	out, _ := json.Marshal(Envelope{Event: event, ID: id, Data: data})
	return out
}

// after returns the commands with Seq > seq.
func after(cmds []game.Command, seq uint64) []game.Command {
	for i, c := range cmds {
		if c.Seq > seq {
			return cmds[i:]
		}
	}
	return nil
}
