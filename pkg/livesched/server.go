// Package livesched pushes scheduler.Snapshot frames to connected viewers
// over a websocket — the same session/broadcast shape as the teacher's
// pkg/live (session registry, per-session send channel, a writer
// goroutine per session, periodic pings), rewritten around
// scheduler.Snapshot frames instead of VDOM patches: there is no event
// channel back from the viewer, since a scheduler snapshot feed has
// nothing for a browser to click.
package livesched

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/recera/fiberflow/pkg/scheduler"
)

// Server upgrades HTTP connections to websockets and fans a scheduler's
// snapshots out to every connected viewer.
type Server struct {
	upgrader websocket.Upgrader
	sched    *scheduler.Scheduler
	interval time.Duration

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewServer creates a Server that polls sched's Snapshot every interval
// and broadcasts it to connected viewers. interval <= 0 defaults to
// 250ms.
func NewServer(sched *scheduler.Scheduler, interval time.Duration) *Server {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		sched:    sched,
		interval: interval,
		sessions: make(map[string]*session),
	}
}

type session struct {
	id       string
	conn     *websocket.Conn
	send     chan []byte
	closeCh  chan struct{}
	closeOne sync.Once
}

// HandleWebSocket upgrades the request and registers a new viewer
// session keyed by the trailing path segment (e.g. /fibers/live/<id>).
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request, id string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("livesched: upgrade failed: %v", err)
		return
	}
	sess := &session{id: id, conn: conn, send: make(chan []byte, 32), closeCh: make(chan struct{})}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	go sess.writer()
	go s.reader(sess)
}

// reader drains and discards viewer frames (pings, control chatter); the
// snapshot feed is one-directional.
func (s *Server) reader(sess *session) {
	defer s.drop(sess)
	sess.conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
	sess.conn.SetPongHandler(func(string) error {
		sess.conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
		return nil
	})
	for {
		if _, _, err := sess.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) drop(sess *session) {
	sess.closeOne.Do(func() { close(sess.closeCh) })
	sess.conn.Close()
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
}

func (sess *session) writer() {
	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-sess.send:
			if !ok {
				return
			}
			sess.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := sess.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			sess.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sess.closeCh:
			return
		}
	}
}

// Broadcast sends snap to every connected viewer. A viewer whose send
// buffer is full misses this frame (it stays connected) rather than
// blocking the broadcast.
func (s *Server) Broadcast(snap scheduler.Snapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		log.Printf("livesched: marshal snapshot: %v", err)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		select {
		case sess.send <- payload:
		default:
			log.Printf("livesched: session %s send buffer full, dropping frame", sess.id)
		}
	}
}

// Run polls the scheduler and broadcasts its snapshot on every tick until
// stop is closed.
func (s *Server) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Broadcast(s.sched.Snapshot())
		case <-stop:
			return
		}
	}
}

// SessionCount reports how many viewers are currently connected.
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
