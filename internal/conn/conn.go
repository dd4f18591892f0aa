// Package conn implements the Connection Registry (C11): per-connection
// WebSocket state, the HELLO/AUTH/PING-PONG lifecycle (§4.11, §5), and a
// bounded outbound queue that disconnects a client instead of letting a
// slow reader back up the whole process.
//
// The per-connection goroutine shape — a dedicated reader and writer pump,
// a closeCh/closeOnce/closed trio so either side can trigger shutdown
// exactly once, and "queue full means disconnect" backpressure — is kept
// from the reference server's internal/net Session, just re-targeted from
// raw TCP + a stream cipher onto gorilla/websocket + JSON frames.
package conn

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/towerlords/matchserver/internal/bus"
	"github.com/towerlords/matchserver/internal/config"
	"github.com/towerlords/matchserver/internal/wire"
)

// connState mirrors §5's connected -> authenticated -> closed machine.
// "joined(rooms…)" isn't a distinct state here: room membership is
// tracked by which rooms the bus currently has this Conn subscribed to,
// not by a single enum value.
type connState int32

const (
	stateConnected connState = iota
	stateAuthenticated
	stateClosed
)

// Router dispatches one authenticated frame to the rest of the system.
// internal/conn only owns transport and the auth/keepalive lifecycle;
// routing an action to matchmaking, a lobby, or a match's scheduler is
// the caller's concern (wired together at process start-up).
type Router interface {
	Route(ctx context.Context, c *Conn, env wire.Envelope)
}

// AuthFunc validates an AUTH frame's token and resolves it to a userId.
type AuthFunc func(ctx context.Context, token string) (userID string, ok bool)

// Conn is one client's live WebSocket connection.
type Conn struct {
	id string
	ws *websocket.Conn

	state  atomic.Int32
	userID atomic.Value // string

	send chan []byte

	missedPongs atomic.Int32

	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	roomBus *bus.Bus
	log     *zap.Logger
}

func newConn(ws *websocket.Conn, id string, sendQueueSize int, roomBus *bus.Bus, log *zap.Logger) *Conn {
	c := &Conn{
		id:      id,
		ws:      ws,
		send:    make(chan []byte, sendQueueSize),
		closeCh: make(chan struct{}),
		roomBus: roomBus,
		log:     log.With(zap.String("conn_id", id)),
	}
	c.state.Store(int32(stateConnected))
	c.userID.Store("")
	return c
}

// ID implements bus.Subscriber.
func (c *Conn) ID() string { return c.id }

// UserID returns the authenticated user, or "" pre-auth.
func (c *Conn) UserID() string { return c.userID.Load().(string) }

func (c *Conn) authenticated() bool {
	return connState(c.state.Load()) == stateAuthenticated
}

// Deliver implements bus.Subscriber: enqueue msg for the writer pump. A
// full queue means this client is too slow to keep up with its own room's
// traffic, so the connection is closed rather than buffered without bound
// or silently dropped (§7 OVERFLOW).
func (c *Conn) Deliver(msg any) bool {
	if c.closed.Load() {
		return false
	}
	data, err := wire.Encode(msg)
	if err != nil {
		c.log.Error("encode outbound frame failed", zap.Error(err))
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		c.log.Warn("send queue overflow, closing connection")
		c.sendErrorBestEffort(wire.ErrOverflow, "send queue overflow")
		c.Close()
		return false
	}
}

// sendErrorBestEffort tries to get one last ERROR frame out ahead of
// Close tearing the writer pump down; it never blocks.
func (c *Conn) sendErrorBestEffort(code wire.ErrorCode, msg string) {
	data, err := wire.Encode(wire.NewError(string(code), msg))
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// Close tears the connection down exactly once: closes closeCh (which
// stops the pumps), unsubscribes from every room, and closes the socket.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.state.Store(int32(stateClosed))
		close(c.closeCh)
		c.roomBus.UnsubscribeAll(c)
		c.ws.Close()
	})
}

func (c *Conn) IsClosed() bool { return c.closed.Load() }

// Subscribe joins this connection to room, e.g. a lobby or match room on
// LOBBY_SUBSCRIBE/MATCH_JOIN. Pairs with Close's UnsubscribeAll, so a
// connection never has to unsubscribe rooms individually on teardown.
func (c *Conn) Subscribe(room string) {
	c.roomBus.Subscribe(room, c)
}

// run drives one connection end to end: sends HELLO, starts the pumps,
// arms the auth-timeout watchdog, and runs the keepalive loop until the
// connection closes.
func (c *Conn) run(ctx context.Context, cfg config.RealtimeConfig, authFn AuthFunc, router Router, now func() int64) {
	hello, err := wire.Encode(wire.NewHello(c.id, now()))
	if err != nil {
		c.Close()
		return
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, hello); err != nil {
		c.Close()
		return
	}

	go c.writePump()
	go c.readPump(ctx, authFn, router)

	authTimer := time.AfterFunc(cfg.AuthTimeoutMs, func() {
		if !c.authenticated() {
			c.log.Debug("auth timeout, closing connection")
			c.Close()
		}
	})
	defer authTimer.Stop()

	c.keepaliveLoop(cfg)
}

// keepaliveLoop sends PING every KeepaliveMs and closes the connection
// once KeepaliveMiss consecutive PINGs go unanswered.
func (c *Conn) keepaliveLoop(cfg config.RealtimeConfig) {
	ticker := time.NewTicker(cfg.KeepaliveMs)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeCh:
			return
		case <-ticker.C:
			if c.missedPongs.Add(1) > int32(cfg.KeepaliveMiss) {
				c.log.Debug("keepalive missed, closing connection")
				c.Close()
				return
			}
			if !c.Deliver(wire.NewPing()) {
				return
			}
		}
	}
}

// readPump decodes inbound frames and either consumes them itself (AUTH,
// PONG) or hands them to router once authenticated.
func (c *Conn) readPump(ctx context.Context, authFn AuthFunc, router Router) {
	defer c.Close()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		env, err := wire.Decode(data)
		if err != nil || env.V != wire.ProtocolVersion {
			c.sendErrorBestEffort(wire.ErrBadFrame, "malformed frame")
			return
		}

		switch env.Type {
		case wire.TypePong:
			c.missedPongs.Store(0)
			continue
		case wire.TypePing:
			c.Deliver(wire.NewPong())
			continue
		case wire.TypeAuth:
			c.handleAuth(ctx, env, authFn)
			continue
		}

		if !c.authenticated() {
			c.sendErrorBestEffort(wire.ErrUnauthenticated, "AUTH required")
			continue
		}

		select {
		case <-c.closeCh:
			return
		default:
		}
		router.Route(ctx, c, env)
	}
}

func (c *Conn) handleAuth(ctx context.Context, env wire.Envelope, authFn AuthFunc) {
	var auth wire.Auth
	if err := json.Unmarshal(env.Payload, &auth); err != nil {
		c.sendErrorBestEffort(wire.ErrBadFrame, "malformed AUTH frame")
		return
	}
	userID, ok := authFn(ctx, auth.Token)
	if !ok {
		c.Deliver(wire.AuthFail{V: wire.ProtocolVersion, Type: wire.TypeAuthFail})
		return
	}
	c.userID.Store(userID)
	c.state.Store(int32(stateAuthenticated))
	c.roomBus.Subscribe(bus.RoomUser(userID), c)
	c.Deliver(wire.AuthOK{V: wire.ProtocolVersion, Type: wire.TypeAuthOK, UserID: userID})
}

// writePump is the only goroutine that ever calls WriteMessage, since
// gorilla's *websocket.Conn forbids concurrent writers.
func (c *Conn) writePump() {
	defer c.Close()

	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.closeCh:
			return
		}
	}
}
