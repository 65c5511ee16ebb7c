package eventlog

// Priority is an event priority tier.
type Priority uint8

const (
	// PriorityDebug is for diagnostic events.
	PriorityDebug Priority = iota

	// PriorityInfo is for regular operational events.
	PriorityInfo

	// PriorityCritical is for events that must survive pressure from
	// lower tiers.
	PriorityCritical
)

// priorities lists the tiers from lowest to highest.
var priorities = [...]Priority{PriorityDebug, PriorityInfo, PriorityCritical}

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityDebug:
		return "DEBUG"
	case PriorityInfo:
		return "INFO"
	case PriorityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// IsValid returns true if the priority is a known tier.
func (p Priority) IsValid() bool {
	return p <= PriorityCritical
}

// ParsePriority parses a priority name as returned by String.
func ParsePriority(s string) (Priority, bool) {
	for _, p := range priorities {
		if p.String() == s {
			return p, true
		}
	}
	return 0, false
}
