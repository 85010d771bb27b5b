// Package gateway multiplexes WebSocket client connections onto the message
// bus. Each connection gets a receiver task feeding the incoming queue; one
// shared dispatcher drains the websocket_out queue to the right socket(s),
// resolving the all_frontends broadcast group at send time.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/lexhound/lexhound/internal/bus"
	"github.com/lexhound/lexhound/internal/observe"
)

// DefaultWriteTimeout bounds one socket write so a stalled client cannot
// block the shared dispatcher.
const DefaultWriteTimeout = 5 * time.Second

const processorName = "websocket_gateway"

// Option configures a Gateway.
type Option func(*Gateway)

// WithWriteTimeout overrides the per-send timeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.writeTimeout = d }
}

// WithMetrics overrides the metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// SessionRegistrar records connected frontends with the active session.
// Implemented by session.Manager.
type SessionRegistrar interface {
	Attach(clientID string)
}

// WithSessionRegistrar attaches the session registrar; connecting frontends
// are registered with any active session.
func WithSessionRegistrar(s SessionRegistrar) Option {
	return func(g *Gateway) { g.sessions = s }
}

// client is one registered connection. The receiver goroutine owns the read
// side; the dispatcher writes through sendRaw with a timeout.
type client struct {
	id     string
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// Gateway accepts WebSocket connections keyed by a client id carried in the
// request path and bridges them to the bus.
type Gateway struct {
	incoming     *bus.Queue
	websocketOut *bus.Queue
	writeTimeout time.Duration
	metrics      *observe.Metrics
	sessions     SessionRegistrar

	mu      sync.RWMutex
	clients map[string]*client
}

// New creates a Gateway. incoming receives parsed client envelopes;
// websocketOut is drained by [Gateway.RunDispatcher].
func New(incoming, websocketOut *bus.Queue, opts ...Option) *Gateway {
	g := &Gateway{
		incoming:     incoming,
		websocketOut: websocketOut,
		writeTimeout: DefaultWriteTimeout,
		clients:      make(map[string]*client),
	}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	return g
}

// Handler returns the HTTP handler accepting WebSocket upgrades. The client
// id is the trailing path segment; ids starting with frontend_ join the
// all_frontends broadcast group.
func (g *Gateway) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := clientIDFromPath(r.URL.Path)
		if clientID == "" {
			http.Error(w, "missing client id", http.StatusBadRequest)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// The gateway binds to localhost and serves local frontends;
			// origin enforcement happens at the network boundary.
			InsecureSkipVerify: true,
		})
		if err != nil {
			slog.Warn("gateway: websocket accept failed", "client_id", clientID, "error", err)
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		c := &client{id: clientID, conn: conn, ctx: ctx, cancel: cancel}
		g.register(c)
		defer g.unregister(c)

		if g.sessions != nil && strings.HasPrefix(clientID, bus.FrontendPrefix) {
			g.sessions.Attach(clientID)
		}

		slog.Info("gateway: client connected", "client_id", clientID)
		g.receive(c)
	})
}

// clientIDFromPath extracts the trailing path segment.
func clientIDFromPath(path string) string {
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// register adds the client, replacing any existing connection with the same
// id. The superseded socket is closed; its receiver cleans itself up.
func (g *Gateway) register(c *client) {
	g.mu.Lock()
	old := g.clients[c.id]
	g.clients[c.id] = c
	g.mu.Unlock()

	// The superseded connection's own unregister balances this out.
	g.metrics.ConnectedClients.Add(c.ctx, 1)

	if old != nil {
		slog.Info("gateway: superseding existing connection", "client_id", c.id)
		old.cancel()
		_ = old.conn.Close(websocket.StatusNormalClosure, "superseded")
	}
}

// unregister removes the client if it is still the registered one for its id
// (a superseded connection must not evict its replacement).
func (g *Gateway) unregister(c *client) {
	g.mu.Lock()
	if g.clients[c.id] == c {
		delete(g.clients, c.id)
	}
	g.mu.Unlock()

	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
	g.metrics.ConnectedClients.Add(context.Background(), -1)
	slog.Info("gateway: client disconnected", "client_id", c.id)
}

// receive reads frames until the connection closes. Invalid frames are
// logged and dropped without a reply; valid envelopes get the connection's
// identity stamped on before entering the bus.
func (g *Gateway) receive(c *client) {
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			return
		}

		env, err := bus.Decode(data)
		if err != nil {
			slog.Warn("gateway: invalid frame dropped", "client_id", c.id, "error", err)
			continue
		}

		env.ClientID = c.id
		env.Origin = bus.OriginWebsocket
		env.AppendProcessing(processorName, "received", "")

		if err := g.incoming.Enqueue(c.ctx, env); err != nil {
			// Connection context cancelled while blocked on a full queue.
			return
		}
	}
}

// RunDispatcher drains websocket_out to the registered sockets until ctx is
// cancelled, then closes every connection.
func (g *Gateway) RunDispatcher(ctx context.Context) error {
	slog.Info("gateway dispatcher started")
	for {
		env, err := g.websocketOut.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				g.closeAll()
				slog.Info("gateway dispatcher stopped")
				return nil
			}
			return err
		}
		g.dispatch(env)
	}
}

// dispatch resolves the envelope destination to sockets and sends.
func (g *Gateway) dispatch(env *bus.Envelope) {
	data, err := env.Encode()
	if err != nil {
		slog.Error("gateway: encode failed", "message_id", env.ID, "error", err)
		return
	}

	switch {
	case env.Destination == bus.DestAllFrontends:
		targets := g.frontends()
		var wg sync.WaitGroup
		for _, c := range targets {
			wg.Add(1)
			go func() {
				defer wg.Done()
				g.send(c, data, env.Type)
			}()
		}
		wg.Wait()

	case env.Destination != "":
		g.mu.RLock()
		c := g.clients[env.Destination]
		g.mu.RUnlock()
		if c == nil {
			slog.Warn("gateway: destination not connected",
				"destination", env.Destination, "type", env.Type)
			return
		}
		g.send(c, data, env.Type)

	default:
		slog.Warn("gateway: envelope without destination dropped",
			"type", env.Type, "message_id", env.ID)
	}
}

// frontends snapshots the broadcast group members.
func (g *Gateway) frontends() []*client {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*client
	for id, c := range g.clients {
		if strings.HasPrefix(id, bus.FrontendPrefix) {
			out = append(out, c)
		}
	}
	return out
}

// send writes one frame, skipping silently when the connection is already
// gone. Send failures are treated as disconnects and logged, never fatal.
func (g *Gateway) send(c *client, data []byte, msgType string) {
	if c.ctx.Err() != nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(c.ctx, g.writeTimeout)
	defer cancel()
	if err := c.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		slog.Warn("gateway: send failed", "client_id", c.id, "type", msgType, "error", err)
	}
}

// ClientIDs returns the ids of all registered connections, mainly for health
// reporting and tests.
func (g *Gateway) ClientIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.clients))
	for id := range g.clients {
		out = append(out, id)
	}
	return out
}

// closeAll cancels every receiver and closes every socket.
func (g *Gateway) closeAll() {
	g.mu.Lock()
	clients := make([]*client, 0, len(g.clients))
	for _, c := range g.clients {
		clients = append(clients, c)
	}
	g.clients = make(map[string]*client)
	g.mu.Unlock()

	for _, c := range clients {
		c.cancel()
		_ = c.conn.Close(websocket.StatusNormalClosure, "shutting down")
	}
}
