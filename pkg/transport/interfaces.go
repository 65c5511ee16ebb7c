package transport

import (
	"context"

	"github.com/mash-protocol/mash-reporting/pkg/model"
	"github.com/mash-protocol/mash-reporting/pkg/reporting"
	"github.com/mash-protocol/mash-reporting/pkg/wire"
)

// Host admits the transactions of the server's connections.
// Implemented by reporting.Host.
type Host interface {
	// CreateReadTransaction starts a read on ex.
	CreateReadTransaction(ctx context.Context, subject model.Subject, req *wire.ReadRequest, ex reporting.Exchange) (uint32, error)

	// CreateSubscription starts a subscription on ex.
	CreateSubscription(ctx context.Context, subject model.Subject, req *wire.SubscribeRequest, ex reporting.Exchange) (uint32, error)

	// CancelTransaction ends a read or subscription.
	CancelTransaction(ctx context.Context, id uint32) error
}

// FrameReadWriter provides length-prefixed frame I/O.
// Implemented by Framer.
type FrameReadWriter interface {
	// ReadFrame reads a length-prefixed frame.
	ReadFrame() ([]byte, error)

	// WriteFrame writes a length-prefixed frame.
	WriteFrame(data []byte) error
}

// Compile-time interface satisfaction checks.
var (
	_ Host                           = (*reporting.Host)(nil)
	_ FrameReadWriter                = (*Framer)(nil)
	_ reporting.Exchange             = (*exchange)(nil)
	_ reporting.SubscriptionNotifier = (*exchange)(nil)
)
