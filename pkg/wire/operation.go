package wire

// MessageType identifies the body carried by an Envelope.
type MessageType uint8

const (
	MessageTypeUnknown MessageType = iota

	// MessageTypeReadRequest opens a one-shot read.
	// Direction: requester to device
	MessageTypeReadRequest

	// MessageTypeSubscribeRequest opens a subscription.
	// Direction: requester to device
	MessageTypeSubscribeRequest

	// MessageTypeSubscribeResponse confirms a subscription.
	// Direction: device to requester
	MessageTypeSubscribeResponse

	// MessageTypeReportData carries one bounded report.
	// Direction: device to requester
	MessageTypeReportData

	// MessageTypeStatusResponse acknowledges a report or ends an interaction.
	// Direction: both
	MessageTypeStatusResponse
)

// String returns the message type name.
func (m MessageType) String() string {
	switch m {
	case MessageTypeReadRequest:
		return "ReadRequest"
	case MessageTypeSubscribeRequest:
		return "SubscribeRequest"
	case MessageTypeSubscribeResponse:
		return "SubscribeResponse"
	case MessageTypeReportData:
		return "ReportData"
	case MessageTypeStatusResponse:
		return "StatusResponse"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the message type is known.
func (m MessageType) IsValid() bool {
	return m >= MessageTypeReadRequest && m <= MessageTypeStatusResponse
}
