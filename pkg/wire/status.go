package wire

// Status represents an interaction status code.
type Status uint8

const (
	// StatusSuccess indicates the operation completed successfully.
	StatusSuccess Status = 0x00

	// StatusFailure indicates an unspecified failure.
	StatusFailure Status = 0x01

	// StatusInvalidSubscription indicates the subscription is unknown.
	StatusInvalidSubscription Status = 0x7D

	// StatusUnsupportedAccess indicates the requester lacks the privilege.
	StatusUnsupportedAccess Status = 0x7E

	// StatusUnsupportedEndpoint indicates the endpoint doesn't exist.
	StatusUnsupportedEndpoint Status = 0x7F

	// StatusInvalidAction indicates a malformed or out-of-order request.
	StatusInvalidAction Status = 0x80

	// StatusUnsupportedAttribute indicates the attribute doesn't exist.
	StatusUnsupportedAttribute Status = 0x86

	// StatusResourceExhausted indicates a value too large for any report
	// or a full transaction registry.
	StatusResourceExhausted Status = 0x89

	// StatusTimeout indicates a liveness or acknowledgment timeout.
	StatusTimeout Status = 0x94

	// StatusBusy indicates the device is busy; try again later.
	StatusBusy Status = 0x9C

	// StatusUnsupportedCluster indicates the cluster doesn't exist on the endpoint.
	StatusUnsupportedCluster Status = 0xC3

	// StatusUnsupportedEvent indicates the event doesn't exist.
	StatusUnsupportedEvent Status = 0xC7
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusFailure:
		return "FAILURE"
	case StatusInvalidSubscription:
		return "INVALID_SUBSCRIPTION"
	case StatusUnsupportedAccess:
		return "UNSUPPORTED_ACCESS"
	case StatusUnsupportedEndpoint:
		return "UNSUPPORTED_ENDPOINT"
	case StatusInvalidAction:
		return "INVALID_ACTION"
	case StatusUnsupportedAttribute:
		return "UNSUPPORTED_ATTRIBUTE"
	case StatusResourceExhausted:
		return "RESOURCE_EXHAUSTED"
	case StatusTimeout:
		return "TIMEOUT"
	case StatusBusy:
		return "BUSY"
	case StatusUnsupportedCluster:
		return "UNSUPPORTED_CLUSTER"
	case StatusUnsupportedEvent:
		return "UNSUPPORTED_EVENT"
	default:
		return "UNKNOWN"
	}
}

// IsSuccess returns true if the status indicates success.
func (s Status) IsSuccess() bool {
	return s == StatusSuccess
}

// IsError returns true if the status indicates an error.
func (s Status) IsError() bool {
	return s != StatusSuccess
}

// StatusError carries a Status through an error chain.
type StatusError struct {
	Status Status
}

// Error implements error.
func (e *StatusError) Error() string {
	return "status " + e.Status.String()
}
