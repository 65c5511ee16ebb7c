package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/mash-protocol/mash-reporting/pkg/log"
	"github.com/mash-protocol/mash-reporting/pkg/wire"
)

// Connection errors.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrExchangeClosed   = errors.New("exchange closed")
	ErrAckTimeout       = errors.New("report not acknowledged in time")
	ErrUnexpectedType   = errors.New("unexpected message type")
	ErrMalformed        = errors.New("malformed message")
)

// link exchanges envelopes over one framed connection. It is shared by the
// server and the client side.
type link struct {
	conn         net.Conn
	framer       *Framer
	traceID      string
	logger       log.Logger
	writeTimeout time.Duration

	closeCh   chan struct{}
	closeOnce sync.Once
}

func newLink(conn net.Conn, maxMessageSize uint32, logger log.Logger, traceID string) *link {
	l := &link{
		conn:    conn,
		framer:  NewFramerWithMaxSize(conn, maxMessageSize),
		traceID: traceID,
		logger:  logger,
		closeCh: make(chan struct{}),
	}
	if log.Enabled(logger) {
		l.framer.SetLogger(logger, traceID)
	}
	return l
}

// write encodes and sends one message.
func (l *link) write(exchange uint16, msgType wire.MessageType, seq uint32, body any) error {
	select {
	case <-l.closeCh:
		return ErrConnectionClosed
	default:
	}

	data, err := wire.EncodeExchangeMessage(exchange, msgType, seq, body)
	if err != nil {
		return err
	}

	if l.writeTimeout > 0 {
		l.conn.SetWriteDeadline(time.Now().Add(l.writeTimeout))
	}
	if err := l.framer.WriteFrame(data); err != nil {
		return err
	}
	l.logMessage(exchange, msgType, seq, body, len(data), log.DirectionOut)
	return nil
}

// read returns the next envelope. A frame that is not an envelope yields
// ErrMalformed and leaves the connection usable.
func (l *link) read() (*wire.Envelope, error) {
	data, err := l.framer.ReadFrame()
	if err != nil {
		return nil, err
	}
	env, err := wire.DecodeEnvelope(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	var body any
	if env.Type == wire.MessageTypeStatusResponse {
		var resp wire.StatusResponse
		if env.DecodeBody(&resp) == nil {
			body = &resp
		}
	}
	l.logMessage(env.Exchange, env.Type, env.Sequence, body, len(data), log.DirectionIn)
	return env, nil
}

func (l *link) close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closeCh)
		err = l.conn.Close()
	})
	return err
}

func (l *link) closed() bool {
	select {
	case <-l.closeCh:
		return true
	default:
		return false
	}
}

func (l *link) logMessage(exchange uint16, msgType wire.MessageType, seq uint32, body any, size int, dir log.Direction) {
	if !log.Enabled(l.logger) {
		return
	}
	msg := &log.MessageEvent{Type: msgType, Sequence: seq, Size: size, Exchange: exchange}
	if resp, ok := body.(*wire.StatusResponse); ok {
		status := resp.Status
		msg.Status = &status
	}
	l.logger.Log(log.Event{
		Timestamp:  time.Now(),
		TraceID:    l.traceID,
		Direction:  dir,
		Layer:      log.LayerWire,
		Category:   log.CategoryMessage,
		RemoteAddr: l.conn.RemoteAddr().String(),
		Message:    msg,
	})
}

func (l *link) logState(oldState, newState, reason string) {
	if !log.Enabled(l.logger) {
		return
	}
	l.logger.Log(log.Event{
		Timestamp:  time.Now(),
		TraceID:    l.traceID,
		Layer:      log.LayerTransport,
		Category:   log.CategoryState,
		RemoteAddr: l.conn.RemoteAddr().String(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

func (l *link) logError(err error, context string) {
	if !log.Enabled(l.logger) {
		return
	}
	l.logger.Log(log.Event{
		Timestamp:  time.Now(),
		TraceID:    l.traceID,
		Layer:      log.LayerTransport,
		Category:   log.CategoryError,
		RemoteAddr: l.conn.RemoteAddr().String(),
		Error: &log.ErrorEventData{
			Layer:   log.LayerTransport,
			Message: err.Error(),
			Context: context,
		},
	})
}

// statusError reports a non-success status as an error.
func statusError(s wire.Status) error {
	if s.IsSuccess() {
		return nil
	}
	return fmt.Errorf("peer responded: %w", &wire.StatusError{Status: s})
}
