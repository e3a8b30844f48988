package dispatch

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/likmaa/apk-tic-dev-dashboard/internal/observability"
)

const (
	sendBuffer   = 8
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
)

// WSSession is one connected console view.
type WSSession struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (s *WSSession) close() {
	s.once.Do(func() {
		close(s.send)
	})
}

// WSRegistry fans snapshots out to every connected view.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
	logger   *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSRegistry{sessions: make(map[string]*WSSession), logger: logger}
}

// Add registers conn, starts its pumps and then queues the result of
// initial as its first message. Registering first means a broadcast racing
// with initial is queued for the session too, never lost between the two.
func (r *WSRegistry) Add(conn *websocket.Conn, initial func() ([]byte, error)) string {
	s := &WSSession{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBuffer)}
	r.mu.Lock()
	r.sessions[s.id] = s
	n := len(r.sessions)
	r.mu.Unlock()
	observability.WSClients.Set(float64(n))

	go r.writePump(s)
	go r.readPump(s)

	if initial != nil {
		b, err := initial()
		if err != nil {
			r.logger.Warn("ws initial message failed", "session_id", s.id, "error", err)
			return s.id
		}
		r.enqueue(s, b)
	}
	return s.id
}

// enqueue queues b unless the session is gone or its buffer is full.
func (r *WSRegistry) enqueue(s *WSSession, b []byte) {
	r.mu.RLock()
	_, live := r.sessions[s.id]
	full := false
	if live {
		select {
		case s.send <- b:
		default:
			full = true
		}
	}
	r.mu.RUnlock()
	if full {
		r.logger.Warn("dropping slow ws session", "session_id", s.id)
		r.Remove(s.id)
	}
}

func (r *WSRegistry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()
	if ok {
		s.close()
		observability.WSClients.Set(float64(n))
	}
}

// Broadcast encodes v once and queues it for every session. Sessions whose
// buffer is full are dropped rather than slowing the caller down.
func (r *WSRegistry) Broadcast(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var slow []string
	r.mu.RLock()
	for id, s := range r.sessions {
		select {
		case s.send <- b:
		default:
			slow = append(slow, id)
		}
	}
	r.mu.RUnlock()
	for _, id := range slow {
		r.logger.Warn("dropping slow ws session", "session_id", id)
		r.Remove(id)
	}
	return nil
}

func (r *WSRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *WSRegistry) CloseAll() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*WSSession)
	r.mu.Unlock()
	for _, s := range all {
		s.close()
	}
	observability.WSClients.Set(0)
}

func (r *WSRegistry) writePump(s *WSSession) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				r.logger.Debug("ws send error", "session_id", s.id, "error", err)
				r.Remove(s.id)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				r.Remove(s.id)
				return
			}
		}
	}
}

// readPump discards client messages; it exists to notice disconnects and
// process pongs.
func (r *WSRegistry) readPump(s *WSSession) {
	defer r.Remove(s.id)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
