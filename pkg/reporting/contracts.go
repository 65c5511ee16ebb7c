package reporting

import (
	"time"

	"github.com/mash-protocol/mash-reporting/pkg/model"
	"github.com/mash-protocol/mash-reporting/pkg/path"
	"github.com/mash-protocol/mash-reporting/pkg/report"
)

// Exchange is the transport side of one read or subscription.
type Exchange interface {
	// MaxPayloadSize is the largest report the exchange carries.
	MaxPayloadSize() int

	// Send hands a report to the transport. Unless Send returns an error,
	// done is called exactly once, from any goroutine, when the requester
	// confirmed the report or delivery failed.
	Send(payload []byte, done func(error)) error

	// Close ends the exchange. err is nil when a read completed.
	Close(err error)
}

// SubscriptionNotifier is implemented by exchanges that answer a
// subscription once its priming reports were confirmed.
type SubscriptionNotifier interface {
	SubscriptionEstablished(subscriptionID uint32, maxInterval time.Duration)
}

// DataModel is the device data the engine reports on.
//
// The per-path errors of package model become per-path statuses, and
// report.ErrBufferExhausted from ReadAttribute is retried in a later report.
// Any other error ends the transaction.
type DataModel interface {
	ReadAttribute(subject model.Subject, p path.AttributePath, enc *report.AttributeEncoder) error
	ExpandAttributes(p path.AttributePath) []path.AttributePath
	AttributeExists(p path.AttributePath) error
	CheckAttributeAccess(subject model.Subject, p path.AttributePath) error
	CheckEventAccess(subject model.Subject, p path.EventPath, fabric path.FabricIndex) error
	EventSupported(p path.EventPath) error
	DataVersion(endpoint path.EndpointID, cluster path.ClusterID) (path.DataVersion, bool)
}

var _ DataModel = (*model.Device)(nil)
