package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mash-protocol/mash-reporting/pkg/log"
	"github.com/mash-protocol/mash-reporting/pkg/wire"
)

// ErrSubscriptionLost is returned when a subscription stays silent past
// its max interval plus the liveness grace.
var ErrSubscriptionLost = errors.New("subscription lost")

// ClientConfig configures a requester client.
type ClientConfig struct {
	// TLSConfig enables TLS when set.
	TLSConfig *tls.Config

	// MaxMessageSize is the maximum message size (default: 64KB).
	MaxMessageSize uint32

	// ConnectTimeout is the connection timeout (default: 30s).
	ConnectTimeout time.Duration

	// WriteTimeout bounds a single message write (default: 10s).
	WriteTimeout time.Duration

	// LivenessGrace is added to a subscription's max interval before it
	// is considered lost (default: 30s).
	LivenessGrace time.Duration

	// ProtocolLogger for protocol tracing (optional).
	ProtocolLogger log.Logger
}

// Client connects to reporting devices.
type Client struct {
	config ClientConfig
}

// NewClient creates a new client.
func NewClient(config ClientConfig) *Client {
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 30 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.LivenessGrace == 0 {
		config.LivenessGrace = 30 * time.Second
	}
	return &Client{config: config}
}

// Connect establishes a connection to the specified address.
func (c *Client) Connect(ctx context.Context, address string) (*ClientConn, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ConnectTimeout)
		defer cancel()
	}

	dialer := &net.Dialer{}
	nc, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	if c.config.TLSConfig != nil {
		tc := tls.Client(nc, c.config.TLSConfig)
		if err := tc.HandshakeContext(ctx); err != nil {
			nc.Close()
			return nil, fmt.Errorf("TLS handshake failed: %w", err)
		}
		nc = tc
	}

	l := newLink(nc, c.config.MaxMessageSize, c.config.ProtocolLogger, uuid.New().String())
	l.writeTimeout = c.config.WriteTimeout
	conn := &ClientConn{
		client:    c,
		link:      l,
		exchanges: make(map[uint16]*clientExchange),
		readDone:  make(chan struct{}),
	}
	l.logState("", "CONNECTED", "")
	go conn.readLoop()
	return conn, nil
}

// ClientConn is a connection from a requester to a device.
type ClientConn struct {
	client *Client
	link   *link
	seq    atomic.Uint32

	mu           sync.Mutex
	exchanges    map[uint16]*clientExchange
	nextExchange uint16

	readDone chan struct{}
	readErr  error
}

// clientExchange receives the messages of one read or subscription.
type clientExchange struct {
	id    uint16
	inbox chan *wire.Envelope
	gone  chan struct{}
}

// TraceID returns the unique connection identifier.
func (c *ClientConn) TraceID() string {
	return c.link.traceID
}

// RemoteAddr returns the remote network address.
func (c *ClientConn) RemoteAddr() net.Addr {
	return c.link.conn.RemoteAddr()
}

// Close closes the connection.
func (c *ClientConn) Close() error {
	return c.link.close()
}

// Done is closed once the connection stopped reading.
func (c *ClientConn) Done() <-chan struct{} {
	return c.readDone
}

func (c *ClientConn) nextSequence() uint32 {
	for {
		if seq := c.seq.Add(1); seq != 0 {
			return seq
		}
	}
}

func (c *ClientConn) readLoop() {
	defer close(c.readDone)
	for {
		env, err := c.link.read()
		if errors.Is(err, ErrMalformed) {
			c.link.logError(err, "decode envelope")
			continue
		}
		if err != nil {
			c.readErr = err
			c.link.close()
			c.link.logState("CONNECTED", "DISCONNECTED", err.Error())
			return
		}

		c.mu.Lock()
		x := c.exchanges[env.Exchange]
		c.mu.Unlock()
		if x == nil {
			continue
		}
		select {
		case x.inbox <- env:
		case <-x.gone:
		}
	}
}

func (c *ClientConn) openExchange() (*clientExchange, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for range 1 << 16 {
		c.nextExchange++
		if c.nextExchange == 0 {
			continue
		}
		if _, used := c.exchanges[c.nextExchange]; !used {
			x := &clientExchange{
				id:    c.nextExchange,
				inbox: make(chan *wire.Envelope, 16),
				gone:  make(chan struct{}),
			}
			c.exchanges[x.id] = x
			return x, nil
		}
	}
	return nil, errors.New("no free exchange")
}

func (c *ClientConn) closeExchange(x *clientExchange) {
	c.mu.Lock()
	delete(c.exchanges, x.id)
	c.mu.Unlock()
	close(x.gone)
}

// receive waits for the next message of x.
func (c *ClientConn) receive(ctx context.Context, x *clientExchange) (*wire.Envelope, error) {
	select {
	case env := <-x.inbox:
		return env, nil
	case <-c.readDone:
		return nil, fmt.Errorf("%w: %v", ErrConnectionClosed, c.readErr)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *ClientConn) ack(x *clientExchange, seq uint32) error {
	return c.link.write(x.id, wire.MessageTypeStatusResponse, seq, &wire.StatusResponse{Status: wire.StatusSuccess})
}

// ReadResult is the outcome of a read.
type ReadResult struct {
	// Attributes holds the reassembled attribute values and statuses.
	Attributes *wire.Accumulator

	// Events are the event reports in delivery order.
	Events []wire.EventReport

	// LastEventNumber is the highest event number delivered.
	LastEventNumber uint64

	// EventsDropped is set when requested events had expired.
	EventsDropped bool

	// Reports is the number of reports the read took.
	Reports int
}

func (r *ReadResult) apply(report *wire.ReportData) error {
	r.Reports++
	r.Events = append(r.Events, report.EventReports...)
	r.LastEventNumber = max(r.LastEventNumber, report.LastEventNumber)
	r.EventsDropped = r.EventsDropped || report.EventsDropped
	return r.Attributes.Apply(report.AttributeReports...)
}

// Read performs a one-shot read and acknowledges every report of it.
func (c *ClientConn) Read(ctx context.Context, req *wire.ReadRequest) (*ReadResult, error) {
	x, err := c.openExchange()
	if err != nil {
		return nil, err
	}
	defer c.closeExchange(x)

	if err := c.link.write(x.id, wire.MessageTypeReadRequest, c.nextSequence(), req); err != nil {
		return nil, err
	}

	result := &ReadResult{Attributes: wire.NewAccumulator()}
	for {
		env, err := c.receive(ctx, x)
		if err != nil {
			return nil, err
		}
		switch env.Type {
		case wire.MessageTypeReportData:
			report, err := wire.DecodeReport(env.Body)
			if err != nil {
				return nil, err
			}
			if err := result.apply(report); err != nil {
				return nil, err
			}
			if err := c.ack(x, env.Sequence); err != nil {
				return nil, err
			}
			if !report.MoreChunks {
				return result, nil
			}

		case wire.MessageTypeStatusResponse:
			var resp wire.StatusResponse
			if err := env.DecodeBody(&resp); err != nil {
				return nil, err
			}
			return nil, statusError(resp.Status)

		default:
			return nil, fmt.Errorf("%w: %s", ErrUnexpectedType, env.Type)
		}
	}
}

// Subscription is an established subscription. Its reports are delivered
// to the callback passed to Subscribe, one at a time.
type Subscription struct {
	// ID is the device assigned subscription ID.
	ID uint32

	// MaxInterval is the max interval the device granted.
	MaxInterval time.Duration

	conn     *ClientConn
	x        *clientExchange
	onReport func(*wire.ReportData)

	established chan struct{}
	stop        chan struct{}
	stopOnce    sync.Once
	done        chan struct{}
	err         error
}

// Subscribe opens a subscription. Priming reports are passed to onReport
// before Subscribe returns.
func (c *ClientConn) Subscribe(ctx context.Context, req *wire.SubscribeRequest, onReport func(*wire.ReportData)) (*Subscription, error) {
	x, err := c.openExchange()
	if err != nil {
		return nil, err
	}
	if err := c.link.write(x.id, wire.MessageTypeSubscribeRequest, c.nextSequence(), req); err != nil {
		c.closeExchange(x)
		return nil, err
	}

	s := &Subscription{
		conn:        c,
		x:           x,
		onReport:    onReport,
		established: make(chan struct{}),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go s.run()

	select {
	case <-s.established:
		return s, nil
	case <-s.done:
		return nil, s.err
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	}
}

// Done is closed when the subscription ended.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns why the subscription ended. It is nil after Close.
func (s *Subscription) Err() error {
	<-s.done
	return s.err
}

// Close cancels the subscription and waits for it to end.
func (s *Subscription) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	return nil
}

func (s *Subscription) run() {
	defer close(s.done)
	defer s.conn.closeExchange(s.x)

	// Armed once the subscription is established.
	var liveness <-chan time.Time
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	renew := func() {
		if timer == nil {
			return
		}
		timer.Reset(s.MaxInterval + s.conn.client.config.LivenessGrace)
	}

	for {
		var env *wire.Envelope
		select {
		case env = <-s.x.inbox:
		case <-s.conn.readDone:
			s.err = fmt.Errorf("%w: %v", ErrConnectionClosed, s.conn.readErr)
			return
		case <-liveness:
			s.err = ErrSubscriptionLost
			return
		case <-s.stop:
			s.conn.link.write(s.x.id, wire.MessageTypeStatusResponse, 0, &wire.StatusResponse{Status: wire.StatusInvalidSubscription})
			return
		}

		switch env.Type {
		case wire.MessageTypeReportData:
			report, err := wire.DecodeReport(env.Body)
			if err != nil {
				s.err = err
				return
			}
			if s.onReport != nil {
				s.onReport(report)
			}
			if err := s.conn.ack(s.x, env.Sequence); err != nil {
				s.err = err
				return
			}
			renew()

		case wire.MessageTypeSubscribeResponse:
			var resp wire.SubscribeResponse
			if err := env.DecodeBody(&resp); err != nil {
				s.err = err
				return
			}
			s.ID = resp.SubscriptionID
			s.MaxInterval = time.Duration(resp.MaxInterval) * time.Second
			timer = time.NewTimer(s.MaxInterval + s.conn.client.config.LivenessGrace)
			liveness = timer.C
			close(s.established)

		case wire.MessageTypeStatusResponse:
			var resp wire.StatusResponse
			if err := env.DecodeBody(&resp); err != nil {
				s.err = err
				return
			}
			s.err = statusError(resp.Status)
			if s.err == nil {
				s.err = ErrExchangeClosed
			}
			return
		}
	}
}
