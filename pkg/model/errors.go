package model

import (
	"errors"

	"github.com/mash-protocol/mash-reporting/pkg/wire"
)

// Per-path errors. The reporting engine turns them into per-path statuses.
var (
	ErrUnsupportedEndpoint  = errors.New("unsupported endpoint")
	ErrUnsupportedCluster   = errors.New("unsupported cluster")
	ErrUnsupportedAttribute = errors.New("unsupported attribute")
	ErrUnsupportedEvent     = errors.New("unsupported event")
	ErrUnsupportedAccess    = errors.New("unsupported access")
)

// Model construction errors.
var (
	ErrDuplicateEndpoint = errors.New("duplicate endpoint ID")
	ErrDuplicateCluster  = errors.New("duplicate cluster ID")
)

// IsPathError reports whether err is one of the per-path errors.
func IsPathError(err error) bool {
	_, ok := pathStatus(err)
	return ok
}

// StatusFor maps an error to the status reported for its path. Errors that
// are not per-path errors map to StatusFailure.
func StatusFor(err error) wire.Status {
	if err == nil {
		return wire.StatusSuccess
	}
	if s, ok := pathStatus(err); ok {
		return s
	}
	var se *wire.StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return wire.StatusFailure
}

func pathStatus(err error) (wire.Status, bool) {
	switch {
	case errors.Is(err, ErrUnsupportedEndpoint):
		return wire.StatusUnsupportedEndpoint, true
	case errors.Is(err, ErrUnsupportedCluster):
		return wire.StatusUnsupportedCluster, true
	case errors.Is(err, ErrUnsupportedAttribute):
		return wire.StatusUnsupportedAttribute, true
	case errors.Is(err, ErrUnsupportedEvent):
		return wire.StatusUnsupportedEvent, true
	case errors.Is(err, ErrUnsupportedAccess):
		return wire.StatusUnsupportedAccess, true
	default:
		return 0, false
	}
}
