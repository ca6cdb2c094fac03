package webchat

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// ConnectionPool manages the websocket connections watching one session.
// Every connection gets its own writer goroutine and bounded send buffer; a
// client that falls behind by more than the buffer is dropped.
type ConnectionPool struct {
	sessionID    string
	mu           sync.Mutex
	conns        map[wsConn]*connWriter
	sendBuffer   int
	writeTimeout time.Duration
	idleTimer    *time.Timer
	idleTimeout  time.Duration
	onIdle       func()
}

type connWriter struct {
	conn wsConn
	ch   chan []byte
	done chan struct{}
}

func NewConnectionPool(sessionID string, idleTimeout time.Duration, onIdle func()) *ConnectionPool {
	return &ConnectionPool{
		sessionID:    sessionID,
		conns:        map[wsConn]*connWriter{},
		sendBuffer:   64,
		writeTimeout: 10 * time.Second,
		idleTimeout:  idleTimeout,
		onIdle:       onIdle,
	}
}

func (cp *ConnectionPool) Add(conn wsConn) {
	cp.AddWithHello(conn, nil)
}

// AddWithHello adds conn with hello's frame queued first. hello runs under the
// pool lock, so no broadcast can reach conn ahead of it.
func (cp *ConnectionPool) AddWithHello(conn wsConn, hello func() []byte) {
	if cp == nil || conn == nil {
		return
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if _, ok := cp.conns[conn]; ok {
		return
	}
	w := &connWriter{conn: conn, ch: make(chan []byte, cp.sendBuffer), done: make(chan struct{})}
	if hello != nil {
		if data := hello(); len(data) > 0 {
			select {
			case w.ch <- data:
			default:
				log.Warn().Str("component", "webchat").Str("session_id", cp.sessionID).Msg("ws send buffer has no room for hello")
			}
		}
	}
	cp.conns[conn] = w
	cp.stopIdleTimerLocked()
	go cp.writeLoop(w)
}

func (cp *ConnectionPool) Remove(conn wsConn) {
	if cp == nil || conn == nil {
		_ = closeConn(conn)
		return
	}
	cp.mu.Lock()
	cp.dropLocked(conn)
	cp.scheduleIdleTimerLocked()
	cp.mu.Unlock()
}

// Broadcast queues data for every connection without blocking on slow clients.
func (cp *ConnectionPool) Broadcast(data []byte) {
	if cp == nil || len(data) == 0 {
		return
	}
	cp.mu.Lock()
	for conn, w := range cp.conns {
		select {
		case w.ch <- data:
		default:
			log.Warn().Str("component", "webchat").Str("session_id", cp.sessionID).Msg("ws send buffer full, dropping connection")
			cp.dropLocked(conn)
		}
	}
	cp.scheduleIdleTimerLocked()
	cp.mu.Unlock()
}

func (cp *ConnectionPool) SendToOne(conn wsConn, data []byte) {
	if cp == nil || conn == nil || len(data) == 0 {
		return
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	w, ok := cp.conns[conn]
	if !ok {
		return
	}
	select {
	case w.ch <- data:
	default:
		log.Warn().Str("component", "webchat").Str("session_id", cp.sessionID).Msg("ws send buffer full, dropping connection")
		cp.dropLocked(conn)
	}
}

func (cp *ConnectionPool) Count() int {
	if cp == nil {
		return 0
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return len(cp.conns)
}

func (cp *ConnectionPool) IsEmpty() bool {
	return cp.Count() == 0
}

func (cp *ConnectionPool) CloseAll() {
	if cp == nil {
		return
	}
	cp.mu.Lock()
	for conn := range cp.conns {
		cp.dropLocked(conn)
	}
	cp.stopIdleTimerLocked()
	cp.mu.Unlock()
}

func (cp *ConnectionPool) writeLoop(w *connWriter) {
	for {
		select {
		case <-w.done:
			return
		case data := <-w.ch:
			if cp.writeTimeout > 0 {
				_ = w.conn.SetWriteDeadline(time.Now().Add(cp.writeTimeout))
			}
			if err := w.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("component", "webchat").Str("session_id", cp.sessionID).Msg("ws write failed, dropping connection")
				cp.Remove(w.conn)
				return
			}
		}
	}
}

// dropLocked forgets conn, stops its writer and closes it.
func (cp *ConnectionPool) dropLocked(conn wsConn) {
	w, ok := cp.conns[conn]
	if !ok {
		return
	}
	delete(cp.conns, conn)
	close(w.done)
	_ = closeConn(conn)
}

func (cp *ConnectionPool) stopIdleTimerLocked() {
	if cp.idleTimer != nil {
		cp.idleTimer.Stop()
		cp.idleTimer = nil
	}
}

func (cp *ConnectionPool) scheduleIdleTimerLocked() {
	if len(cp.conns) != 0 || cp.idleTimeout <= 0 || cp.onIdle == nil {
		cp.stopIdleTimerLocked()
		return
	}
	if cp.idleTimer != nil {
		return
	}
	cp.idleTimer = time.AfterFunc(cp.idleTimeout, cp.triggerIdle)
}

func (cp *ConnectionPool) triggerIdle() {
	var callback func()
	cp.mu.Lock()
	if len(cp.conns) == 0 {
		callback = cp.onIdle
	}
	cp.idleTimer = nil
	cp.mu.Unlock()
	if callback != nil {
		callback()
	}
}

func closeConn(conn wsConn) error {
	if conn == nil {
		return nil
	}
	return conn.Close()
}
