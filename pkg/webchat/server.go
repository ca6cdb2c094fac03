// Package webchat exposes sessions over HTTP and websockets. Each session gets
// a connection pool; its observer fans notifications out to every connected
// client and, when a store is configured, records the transcript.
package webchat

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/sessioncore/pkg/adapter"
	"github.com/go-go-golems/sessioncore/pkg/notify"
	"github.com/go-go-golems/sessioncore/pkg/persistence/chatstore"
	"github.com/go-go-golems/sessioncore/pkg/session"
)

type Server struct {
	manager   *session.Manager
	store     chatstore.TranscriptStore
	publisher message.Publisher
	upgrader  websocket.Upgrader

	defaultProtocol adapter.Protocol
	subscriber      message.Subscriber
	idleTimeout     time.Duration
	baseCtx         context.Context

	mu    sync.Mutex
	pools map[string]*ConnectionPool
	keys  map[string]*recentKeys
}

type ServerOption func(*Server)

// WithStore records every session's transcript in store.
func WithStore(store chatstore.TranscriptStore) ServerOption {
	return func(s *Server) { s.store = store }
}

// WithTransport routes posted frames through pub and makes sessions consume
// their topic on sub. Without it frames are applied directly.
func WithTransport(pub message.Publisher, sub message.Subscriber) ServerOption {
	return func(s *Server) {
		s.publisher = pub
		s.subscriber = sub
	}
}

// WithBaseContext bounds the stream coordinators of sessions created by the server.
func WithBaseContext(ctx context.Context) ServerOption {
	return func(s *Server) { s.baseCtx = ctx }
}

func WithDefaultProtocol(p adapter.Protocol) ServerOption {
	return func(s *Server) { s.defaultProtocol = p }
}

// WithIdleTimeout evicts sessions nobody has touched or watched for d.
func WithIdleTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.idleTimeout = d }
}

func WithUpgrader(u websocket.Upgrader) ServerOption {
	return func(s *Server) { s.upgrader = u }
}

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		defaultProtocol: adapter.ProtocolText,
		pools:           map[string]*ConnectionPool{},
		keys:            map[string]*recentKeys{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, o := range opts {
		o(s)
	}
	managerOpts := []session.ManagerOption{
		session.WithDefaultProtocol(s.defaultProtocol),
		session.WithObserverFactory(s.observerFor),
		session.WithRetain(func(sess *session.Session) bool { return !s.poolFor(sess.ID).IsEmpty() }),
		session.WithOnEvict(func(sess *session.Session) { s.dropPool(sess.ID) }),
		session.WithBaseContext(s.baseCtx),
	}
	if s.subscriber != nil {
		managerOpts = append(managerOpts, session.WithSubscriber(s.subscriber))
	}
	s.manager = session.NewManager(managerOpts...)
	if s.idleTimeout > 0 {
		interval := s.idleTimeout / 4
		if interval < time.Second {
			interval = time.Second
		}
		s.manager.SetEvictionConfig(s.idleTimeout, interval)
	}
	return s
}

func (s *Server) Manager() *session.Manager { return s.manager }

func (s *Server) observerFor(sess *session.Session) notify.Observer {
	ws := NewWSObserver(sess.ID, s.poolFor(sess.ID))
	if s.store == nil {
		return ws
	}
	return notify.NewMulti(chatstore.NewRecorder(s.store, sess.ID, string(sess.Protocol), sess.State()), ws)
}

func (s *Server) poolFor(sessionID string) *ConnectionPool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pool, ok := s.pools[sessionID]
	if !ok {
		pool = NewConnectionPool(sessionID, s.idleTimeout, func() {
			if s.manager.EvictIfIdle(sessionID, time.Now()) {
				log.Debug().Str("component", "webchat").Str("session_id", sessionID).Msg("evicted session after last client left")
			}
		})
		s.pools[sessionID] = pool
	}
	return pool
}

func (s *Server) dropPool(sessionID string) {
	s.mu.Lock()
	pool := s.pools[sessionID]
	delete(s.pools, sessionID)
	delete(s.keys, sessionID)
	s.mu.Unlock()
	pool.CloseAll()
}

// Handler returns the HTTP routes:
//
//	GET    /ws?session_id=&protocol=
//	GET    /api/sessions
//	GET    /api/sessions/{id}
//	DELETE /api/sessions/{id}
//	POST   /api/sessions/{id}/frames?protocol=
//
// Posted frames carrying an Idempotency-Key header already seen for that
// session are acknowledged without being applied again.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /api/sessions/{id}/frames", s.handlePostFrame)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully and
// closes every session.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	s.manager.StartEvictionLoop(egCtx)
	eg.Go(func() error {
		log.Info().Str("component", "webchat").Str("addr", addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		log.Info().Str("component", "webchat").Msg("shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})
	err := eg.Wait()
	s.manager.CloseAll()
	return err
}

func (s *Server) resolveProtocol(r *http.Request) (adapter.Protocol, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("protocol"))
	if raw == "" {
		return "", nil
	}
	return adapter.ParseProtocol(raw)
}
