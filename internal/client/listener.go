// Package client follows the authority's command stream over a websocket
// and keeps a read-only mirror of the match.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"loa-board/internal/game"
)

const (
	// MaxUpdateBuffer is the bounded channel size for turn updates
	MaxUpdateBuffer = 32

	// MaxReconnects before giving up
	MaxReconnects = 10

	// ReconnectBaseDelay for exponential backoff
	ReconnectBaseDelay = 500 * time.Millisecond

	// MaxReconnectDelay caps the backoff
	MaxReconnectDelay = 30 * time.Second
)

var ErrTooManyReconnects = errors.New("max reconnect attempts reached")

// envelope mirrors the hub's frame format.
type envelope struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data"`
}

// Config configures a Listener.
type Config struct {
	URL    string // ws://host:port/ws
	Origin string
	Token  string // optional seat token, enables Propose
}

// Listener dials the authority, applies every command batch to its mirror
// and reports turn changes on Updates.
type Listener struct {
	cfg    Config
	mirror *game.Mirror
	dialer websocket.Dialer

	// Updates receives a snapshot whenever the turn, the match or its
	// outcome changes. Slow readers miss intermediate snapshots.
	Updates chan *game.MatchSnapshot

	// OnResult receives proposal replies and errors keyed by request id
	OnResult func(id, event string, data json.RawMessage)

	mu                sync.RWMutex
	conn              *websocket.Conn
	reconnectAttempts int
	last              *game.MatchSnapshot
	resyncs           int
}

// NewListener creates a listener with an empty mirror
func NewListener(cfg Config) *Listener {
	return &Listener{
		cfg:     cfg,
		mirror:  game.NewMirror(),
		dialer:  websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		Updates: make(chan *game.MatchSnapshot, MaxUpdateBuffer),
	}
}

// Mirror returns the local replica.
func (l *Listener) Mirror() *game.Mirror {
	return l.mirror
}

// Resyncs returns how many times a sequence gap forced a reconnect.
func (l *Listener) Resyncs() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.resyncs
}

// Connect establishes the WebSocket connection
func (l *Listener) Connect(ctx context.Context) error {
	target, err := url.Parse(l.cfg.URL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if l.cfg.Token != "" {
		q := target.Query()
		q.Set("token", l.cfg.Token)
		target.RawQuery = q.Encode()
	}
	header := http.Header{}
	if l.cfg.Origin != "" {
		header.Set("Origin", l.cfg.Origin)
	}

	log.Printf("🔌 Connecting to %s...", l.cfg.URL)
	conn, _, err := l.dialer.DialContext(ctx, target.String(), header)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.conn = conn
	l.reconnectAttempts = 0
	l.mu.Unlock()
	log.Println("✅ Connected to the command stream")
	return nil
}

// Run reads the stream until ctx is done, reconnecting with exponential
// backoff. A sequence gap drops the connection so the authority resends the
// whole match.
func (l *Listener) Run(ctx context.Context) error {
	defer func() {
		l.closeConn()
		close(l.Updates)
	}()

	go func() {
		<-ctx.Done()
		l.closeConn()
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		l.mu.RLock()
		conn := l.conn
		l.mu.RUnlock()

		if conn == nil {
			if err := l.reconnect(ctx); err != nil {
				if errors.Is(err, ErrTooManyReconnects) {
					return err
				}
				if ctx.Err() == nil {
					log.Printf("❌ Reconnect failed: %v", err)
				}
			}
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("⚠️ Stream read error: %v", err)
			}
			l.dropConn(conn)
			continue
		}

		if err := l.handleMessage(message); err != nil {
			log.Printf("⚠️ %v, resyncing", err)
			l.mu.Lock()
			l.resyncs++
			l.mu.Unlock()
			l.dropConn(conn)
		}
	}
}

// handleMessage applies command batches and forwards everything else
func (l *Listener) handleMessage(data []byte) error {
	var msg envelope
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("⚠️ Failed to parse message: %v", err)
		return nil
	}

	switch msg.Event {
	case "commands":
		var cmds []game.Command
		if err := json.Unmarshal(msg.Data, &cmds); err != nil {
			log.Printf("⚠️ Failed to parse commands: %v", err)
			return nil
		}
		if err := l.mirror.ApplyAll(cmds); err != nil {
			return fmt.Errorf("apply batch: %w", err)
		}
		l.publish()

	case "result", "error":
		if l.OnResult != nil {
			l.OnResult(msg.ID, msg.Event, msg.Data)
		}

	default:
		log.Printf("📨 Event: %s", msg.Event)
	}
	return nil
}

// publish emits a snapshot when the match, turn or outcome changed.
func (l *Listener) publish() {
	snap := l.mirror.Snapshot()

	l.mu.Lock()
	prev := l.last
	l.last = snap
	l.mu.Unlock()

	if prev != nil && prev.MatchID == snap.MatchID &&
		prev.Turn.Index == snap.Turn.Index &&
		prev.Turn.Current == snap.Turn.Current &&
		prev.Turn.Started == snap.Turn.Started &&
		prev.Ended == snap.Ended {
		return
	}

	// Non-blocking send to the update channel
	select {
	case l.Updates <- snap:
	default:
		log.Printf("⚠️ Update queue full, dropping turn %d", snap.Turn.Index)
	}
}

// Propose sends a proposal over the socket. The reply arrives on OnResult.
func (l *Listener) Propose(id, kind string, unit game.UnitID, target *game.Pos, evolveTo string) error {
	l.mu.RLock()
	conn := l.conn
	l.mu.RUnlock()
	if conn == nil {
		return errors.New("not connected")
	}

	msg := map[string]any{"id": id, "type": kind}
	if unit != game.NoUnit {
		msg["unit"] = unit
	}
	if target != nil {
		msg["target"] = target
	}
	if evolveTo != "" {
		msg["kind"] = evolveTo
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return conn.WriteJSON(msg)
}

// reconnect attempts to reconnect with exponential backoff
func (l *Listener) reconnect(ctx context.Context) error {
	l.mu.Lock()
	l.reconnectAttempts++
	attempt := l.reconnectAttempts
	l.mu.Unlock()

	if attempt > MaxReconnects {
		log.Printf("❌ Max reconnect attempts reached (%d)", MaxReconnects)
		return ErrTooManyReconnects
	}

	if attempt > 1 {
		delay := ReconnectBaseDelay * time.Duration(1<<uint(attempt-2))
		if delay > MaxReconnectDelay {
			delay = MaxReconnectDelay
		}
		log.Printf("🔄 Reconnecting (attempt %d/%d) in %v...", attempt, MaxReconnects, delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return l.Connect(ctx)
}

func (l *Listener) dropConn(conn *websocket.Conn) {
	l.mu.Lock()
	if l.conn == conn {
		l.conn = nil
	}
	l.mu.Unlock()
	conn.Close()
}

func (l *Listener) closeConn() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
}

// IsConnected returns connection status
func (l *Listener) IsConnected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.conn != nil
}
