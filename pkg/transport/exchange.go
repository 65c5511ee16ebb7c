package transport

import (
	"errors"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/mash-protocol/mash-reporting/internal/clock"
	"github.com/mash-protocol/mash-reporting/pkg/interaction"
	"github.com/mash-protocol/mash-reporting/pkg/model"
	"github.com/mash-protocol/mash-reporting/pkg/reporting"
	"github.com/mash-protocol/mash-reporting/pkg/wire"
)

// exchange is the device side of one read or subscription on a
// connection. Reports go out as ReportData messages; the requester
// acknowledges each with a StatusResponse echoing its sequence number.
type exchange struct {
	conn       *ServerConn
	id         uint16
	maxPayload int
	ackTimeout time.Duration
	clock      clock.Clock

	mu      sync.Mutex
	txn     uint32
	pending map[uint32]*pendingReport
	closed  bool
}

type pendingReport struct {
	done  func(error)
	timer *clock.Timer
}

func newExchange(conn *ServerConn, id uint16) *exchange {
	cfg := &conn.server.config
	return &exchange{
		conn:       conn,
		id:         id,
		maxPayload: int(cfg.MaxMessageSize) - wire.EnvelopeOverhead,
		ackTimeout: cfg.AckTimeout,
		clock:      cfg.Clock,
		pending:    make(map[uint32]*pendingReport),
	}
}

// MaxPayloadSize implements reporting.Exchange.
func (x *exchange) MaxPayloadSize() int {
	return x.maxPayload
}

// Send implements reporting.Exchange.
func (x *exchange) Send(payload []byte, done func(error)) error {
	x.mu.Lock()
	if x.closed {
		x.mu.Unlock()
		return ErrExchangeClosed
	}
	seq := x.conn.nextSequence()
	p := &pendingReport{done: done}
	x.pending[seq] = p
	p.timer = x.clock.AfterFunc(x.ackTimeout, func() { x.finish(seq, ErrAckTimeout) })
	x.mu.Unlock()

	err := x.conn.link.write(x.id, wire.MessageTypeReportData, seq, cbor.RawMessage(payload))
	if err == nil {
		return nil
	}

	x.mu.Lock()
	_, stillPending := x.pending[seq]
	delete(x.pending, seq)
	x.mu.Unlock()
	if !stillPending {
		// done already ran.
		return nil
	}
	p.timer.Stop()
	return err
}

// finish completes the report sent with seq. It returns false if no such
// report is outstanding.
func (x *exchange) finish(seq uint32, err error) bool {
	x.mu.Lock()
	p, ok := x.pending[seq]
	delete(x.pending, seq)
	x.mu.Unlock()
	if !ok {
		return false
	}
	p.timer.Stop()
	p.done(err)
	return true
}

// acknowledge handles a StatusResponse from the requester. A failure status
// that answers no report cancels the transaction.
func (x *exchange) acknowledge(seq uint32, status wire.Status) {
	if x.finish(seq, statusError(status)) || status.IsSuccess() {
		return
	}
	x.conn.cancel(x)
}

// SubscriptionEstablished implements reporting.SubscriptionNotifier.
func (x *exchange) SubscriptionEstablished(subscriptionID uint32, maxInterval time.Duration) {
	x.mu.Lock()
	closed := x.closed
	x.mu.Unlock()
	if closed {
		return
	}
	resp := &wire.SubscribeResponse{
		SubscriptionID: subscriptionID,
		MaxInterval:    uint16(maxInterval / time.Second),
	}
	if err := x.conn.link.write(x.id, wire.MessageTypeSubscribeResponse, x.conn.nextSequence(), resp); err != nil {
		x.conn.server.warnLog("subscribe response failed", "trace", x.conn.TraceID(), "subscription", subscriptionID, "error", err)
	}
}

// Close implements reporting.Exchange.
func (x *exchange) Close(err error) {
	if !x.shutdown(ErrExchangeClosed) {
		return
	}
	x.conn.unregister(x)

	status, notify := closeStatus(err)
	if !notify || x.conn.link.closed() {
		return
	}
	if werr := x.conn.link.write(x.id, wire.MessageTypeStatusResponse, 0, &wire.StatusResponse{Status: status}); werr != nil {
		x.conn.server.debugLog("close status not sent", "trace", x.conn.TraceID(), "error", werr)
	}
}

// shutdown marks x closed and fails outstanding reports with err. It
// returns false if x was already closed.
func (x *exchange) shutdown(err error) bool {
	x.mu.Lock()
	if x.closed {
		x.mu.Unlock()
		return false
	}
	x.closed = true
	pending := x.pending
	x.pending = nil
	x.mu.Unlock()

	for _, p := range pending {
		p.timer.Stop()
		p.done(err)
	}
	return true
}

func (x *exchange) setTransaction(id uint32) {
	x.mu.Lock()
	x.txn = id
	x.mu.Unlock()
}

func (x *exchange) transaction() uint32 {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.txn
}

// closeStatus maps the reason an exchange closed to the status sent to the
// requester. Nothing is sent when the requester ended the exchange itself.
func closeStatus(err error) (wire.Status, bool) {
	var se *wire.StatusError
	switch {
	case err == nil,
		errors.Is(err, reporting.ErrCancelled),
		errors.Is(err, ErrConnectionClosed),
		errors.As(err, &se):
		return 0, false
	default:
		return statusFor(err), true
	}
}

// statusFor maps an admission or termination error to a wire status.
func statusFor(err error) wire.Status {
	switch {
	case errors.Is(err, reporting.ErrTooManyTransactions),
		errors.Is(err, interaction.ErrTooManyPaths):
		return wire.StatusResourceExhausted
	case errors.Is(err, wire.ErrNoPaths),
		errors.Is(err, wire.ErrInvalidInterval):
		return wire.StatusInvalidAction
	case errors.Is(err, reporting.ErrLivenessTimeout),
		errors.Is(err, ErrAckTimeout):
		return wire.StatusTimeout
	case errors.Is(err, reporting.ErrEngineClosed):
		return wire.StatusBusy
	default:
		return model.StatusFor(err)
	}
}
