package conn

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/towerlords/matchserver/internal/bus"
	"github.com/towerlords/matchserver/internal/config"
)

// Server is the C11 Connection Registry's transport edge: an
// http.Handler that upgrades to WebSocket, and the live connId -> Conn
// table every connection registers into on accept and leaves on close.
// Grounded on the reference server's Server/AcceptLoop (one struct owning
// accept plus the live-connection bookkeeping), re-targeted from
// net.Listener.Accept onto websocket.Upgrader.Upgrade.
type Server struct {
	upgrader websocket.Upgrader
	roomBus  *bus.Bus
	cfg      config.RealtimeConfig
	authFn   AuthFunc
	router   Router
	log      *zap.Logger

	mu    sync.RWMutex
	conns map[string]*Conn
}

func NewServer(cfg config.RealtimeConfig, roomBus *bus.Bus, authFn AuthFunc, router Router, log *zap.Logger) *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		roomBus: roomBus,
		cfg:     cfg,
		authFn:  authFn,
		router:  router,
		log:     log,
		conns:   make(map[string]*Conn),
	}
}

// ServeHTTP upgrades the request to a WebSocket and drives the connection
// until it closes. Intended to be mounted at the client's WS endpoint
// (e.g. `/ws`) alongside the rest of §6.2's HTTP surface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	id := uuid.NewString()
	c := newConn(ws, id, s.cfg.SendQueueSize, s.roomBus, s.log)

	s.mu.Lock()
	s.conns[id] = c
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, id)
		s.mu.Unlock()
	}()

	c.run(r.Context(), s.cfg, s.authFn, s.router, nowMs)
}

// Lookup returns the live connection for connID, if still open.
func (s *Server) Lookup(connID string) (*Conn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conns[connID]
	return c, ok
}

// Count reports how many connections are currently live, for health
// surfaces.
func (s *Server) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Shutdown closes every live connection, e.g. on graceful process
// shutdown.
func (s *Server) Shutdown(_ context.Context) {
	s.mu.RLock()
	snapshot := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		snapshot = append(snapshot, c)
	}
	s.mu.RUnlock()

	for _, c := range snapshot {
		c.Close()
	}
}

func nowMs() int64 { return time.Now().UnixMilli() }
