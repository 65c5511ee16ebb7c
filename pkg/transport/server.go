package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mash-protocol/mash-reporting/internal/clock"
	"github.com/mash-protocol/mash-reporting/pkg/log"
	"github.com/mash-protocol/mash-reporting/pkg/model"
	"github.com/mash-protocol/mash-reporting/pkg/wire"
)

// DefaultPort is the default reporting port.
const DefaultPort = 5540

// DefaultSubject is the subject of requesters when ServerConfig.Subject is
// not set.
var DefaultSubject = model.Subject{Fabric: 1, Privilege: model.PrivilegeView}

// ServerConfig configures a reporting server.
type ServerConfig struct {
	// Address to listen on (e.g., ":5540" or "127.0.0.1:5540").
	Address string

	// TLSConfig enables TLS when set. Session security is provided by the
	// caller.
	TLSConfig *tls.Config

	// MaxMessageSize is the maximum message size (default: 64KB). It also
	// bounds the reports the engine builds for this server's exchanges.
	MaxMessageSize uint32

	// AckTimeout is how long a report may wait for its acknowledgement
	// (default: 30s).
	AckTimeout time.Duration

	// WriteTimeout bounds a single message write (default: 10s).
	WriteTimeout time.Duration

	// CancelTimeout bounds cancelling the transactions of a closed
	// connection (default: 5s).
	CancelTimeout time.Duration

	// Subject returns the access control subject of a connection.
	// Defaults to DefaultSubject.
	Subject func(conn *ServerConn) model.Subject

	// Clock drives acknowledgement timeouts. Defaults to the real clock.
	Clock clock.Clock

	// Logger for operational logging (optional).
	Logger *slog.Logger

	// ProtocolLogger for protocol tracing (optional).
	ProtocolLogger log.Logger

	// OnConnect is called when a new connection is established.
	OnConnect func(conn *ServerConn)

	// OnDisconnect is called when a connection is closed.
	OnDisconnect func(conn *ServerConn)
}

func (c *ServerConfig) withDefaults() error {
	if c.Address == "" {
		c.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.MaxMessageSize < MinMessageSize {
		return fmt.Errorf("max message size %d below %d", c.MaxMessageSize, MinMessageSize)
	}
	if c.AckTimeout == 0 {
		c.AckTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.CancelTimeout == 0 {
		c.CancelTimeout = 5 * time.Second
	}
	if c.Subject == nil {
		c.Subject = func(*ServerConn) model.Subject { return DefaultSubject }
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	return nil
}

// Server accepts requester connections and admits their reads and
// subscriptions into a Host.
type Server struct {
	config   ServerConfig
	host     Host
	listener net.Listener

	// Active connections
	conns   map[*ServerConn]struct{}
	connsMu sync.RWMutex

	// State
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a new reporting server for host.
func NewServer(config ServerConfig, host Host) (*Server, error) {
	if host == nil {
		return nil, errors.New("host is required")
	}
	if err := config.withDefaults(); err != nil {
		return nil, err
	}
	return &Server{
		config: config,
		host:   host,
		conns:  make(map[*ServerConn]struct{}),
	}, nil
}

// Start starts the server and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("server already running")
	}

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	if s.config.TLSConfig != nil {
		listener = tls.NewListener(listener, s.config.TLSConfig)
	}
	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()

	s.debugLog("server started", "addr", listener.Addr().String())
	return nil
}

// Stop stops the server and closes all connections.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}
	s.cancel()
	s.listener.Close()

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	return nil
}

// Addr returns the server's listen address.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of active connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

// acceptLoop accepts incoming connections.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.running.Load() {
				s.warnLog("accept failed", "error", err)
			}
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection serves a single connection until it closes.
func (s *Server) handleConnection(nc net.Conn) {
	defer s.wg.Done()

	if tc, ok := nc.(*tls.Conn); ok {
		if err := tc.HandshakeContext(s.ctx); err != nil {
			nc.Close()
			s.warnLog("TLS handshake failed", "remote", nc.RemoteAddr().String(), "error", err)
			return
		}
	}

	traceID := uuid.New().String()
	l := newLink(nc, s.config.MaxMessageSize, s.config.ProtocolLogger, traceID)
	l.writeTimeout = s.config.WriteTimeout
	conn := &ServerConn{
		server:    s,
		link:      l,
		exchanges: make(map[uint16]*exchange),
	}
	conn.subject = s.config.Subject(conn)

	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()

	l.logState("", "CONNECTED", "")
	s.debugLog("connection accepted", "trace", traceID, "remote", nc.RemoteAddr().String(), "subject", conn.subject.String())
	if s.config.OnConnect != nil {
		s.config.OnConnect(conn)
	}

	reason := conn.readLoop()
	conn.Close()
	conn.closeExchanges()

	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()

	l.logState("CONNECTED", "DISCONNECTED", reason)
	s.debugLog("connection closed", "trace", traceID, "reason", reason)
	if s.config.OnDisconnect != nil {
		s.config.OnDisconnect(conn)
	}
}

func (s *Server) debugLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(msg, args...)
	}
}

func (s *Server) warnLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Warn(msg, args...)
	}
}

// ServerConn is a requester connection to the server.
type ServerConn struct {
	server  *Server
	link    *link
	subject model.Subject
	seq     atomic.Uint32

	mu        sync.Mutex
	exchanges map[uint16]*exchange
}

// TraceID returns the unique connection identifier.
func (c *ServerConn) TraceID() string {
	return c.link.traceID
}

// RemoteAddr returns the remote address of the requester.
func (c *ServerConn) RemoteAddr() net.Addr {
	return c.link.conn.RemoteAddr()
}

// TLSState returns the TLS connection state, if the connection uses TLS.
func (c *ServerConn) TLSState() (tls.ConnectionState, bool) {
	if tc, ok := c.link.conn.(*tls.Conn); ok {
		return tc.ConnectionState(), true
	}
	return tls.ConnectionState{}, false
}

// Subject returns the access control subject of the connection.
func (c *ServerConn) Subject() model.Subject {
	return c.subject
}

// ExchangeCount returns the number of open exchanges.
func (c *ServerConn) ExchangeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.exchanges)
}

// Close closes the connection.
func (c *ServerConn) Close() error {
	return c.link.close()
}

// nextSequence returns the next sequence number. Zero is never used: it
// marks a StatusResponse that answers no report.
func (c *ServerConn) nextSequence() uint32 {
	for {
		if seq := c.seq.Add(1); seq != 0 {
			return seq
		}
	}
}

// readLoop reads messages until the connection fails and returns why.
func (c *ServerConn) readLoop() string {
	for {
		env, err := c.link.read()
		if errors.Is(err, ErrMalformed) {
			c.link.logError(err, "decode envelope")
			c.server.debugLog("dropping message", "trace", c.TraceID(), "error", err)
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) || c.link.closed() {
				return "closed"
			}
			c.link.logError(err, "read frame")
			return err.Error()
		}
		c.handleEnvelope(env)
	}
}

func (c *ServerConn) handleEnvelope(env *wire.Envelope) {
	switch env.Type {
	case wire.MessageTypeReadRequest:
		var req wire.ReadRequest
		if err := env.DecodeBody(&req); err != nil {
			c.reject(env, wire.StatusInvalidAction)
			return
		}
		c.open(env, func(x *exchange) (uint32, error) {
			return c.server.host.CreateReadTransaction(c.server.ctx, c.subject, &req, x)
		})

	case wire.MessageTypeSubscribeRequest:
		var req wire.SubscribeRequest
		if err := env.DecodeBody(&req); err != nil {
			c.reject(env, wire.StatusInvalidAction)
			return
		}
		c.open(env, func(x *exchange) (uint32, error) {
			return c.server.host.CreateSubscription(c.server.ctx, c.subject, &req, x)
		})

	case wire.MessageTypeStatusResponse:
		var resp wire.StatusResponse
		if err := env.DecodeBody(&resp); err != nil {
			c.server.debugLog("bad status response", "trace", c.TraceID(), "error", err)
			return
		}
		if x := c.lookup(env.Exchange); x != nil {
			x.acknowledge(env.Sequence, resp.Status)
		}

	default:
		c.reject(env, wire.StatusInvalidAction)
	}
}

// open registers an exchange for env and admits its transaction.
func (c *ServerConn) open(env *wire.Envelope, create func(x *exchange) (uint32, error)) {
	c.mu.Lock()
	if _, busy := c.exchanges[env.Exchange]; busy {
		c.mu.Unlock()
		c.reject(env, wire.StatusInvalidAction)
		return
	}
	x := newExchange(c, env.Exchange)
	c.exchanges[env.Exchange] = x
	c.mu.Unlock()

	id, err := create(x)
	if err != nil {
		x.shutdown(ErrExchangeClosed)
		c.unregister(x)
		c.server.debugLog("request refused", "trace", c.TraceID(), "type", env.Type.String(), "error", err)
		c.reject(env, statusFor(err))
		return
	}
	x.setTransaction(id)
}

func (c *ServerConn) reject(env *wire.Envelope, status wire.Status) {
	if err := c.link.write(env.Exchange, wire.MessageTypeStatusResponse, env.Sequence, &wire.StatusResponse{Status: status}); err != nil {
		c.server.debugLog("status response failed", "trace", c.TraceID(), "error", err)
	}
}

func (c *ServerConn) lookup(id uint16) *exchange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exchanges[id]
}

func (c *ServerConn) unregister(x *exchange) {
	c.mu.Lock()
	if c.exchanges[x.id] == x {
		delete(c.exchanges, x.id)
	}
	c.mu.Unlock()
}

// cancel ends the transaction of x at the requester's request.
func (c *ServerConn) cancel(x *exchange) {
	id := x.transaction()
	if id == 0 {
		return
	}
	// Not bound to the server context: transactions must end even while
	// the server stops.
	ctx, cancel := context.WithTimeout(context.Background(), c.server.config.CancelTimeout)
	defer cancel()
	if err := c.server.host.CancelTransaction(ctx, id); err != nil {
		c.server.debugLog("cancel failed", "trace", c.TraceID(), "transaction", id, "error", err)
	}
}

// closeExchanges ends every transaction of a closed connection.
func (c *ServerConn) closeExchanges() {
	c.mu.Lock()
	open := make([]*exchange, 0, len(c.exchanges))
	for _, x := range c.exchanges {
		open = append(open, x)
	}
	c.mu.Unlock()

	for _, x := range open {
		c.cancel(x)
		x.shutdown(ErrConnectionClosed)
		c.unregister(x)
	}
}
