package log

import "time"

// Filter selects trace events. Zero fields match everything.
type Filter struct {
	TraceID        string
	SubscriptionID uint32

	Direction *Direction
	Layer     *Layer
	Category  *Category

	// TimeStart is inclusive, TimeEnd exclusive.
	TimeStart *time.Time
	TimeEnd   *time.Time
}

// Match reports whether event passes every set criterion.
func (f *Filter) Match(event Event) bool {
	switch {
	case f.TraceID != "" && event.TraceID != f.TraceID:
		return false
	case f.SubscriptionID != 0 && event.SubscriptionID != f.SubscriptionID:
		return false
	case f.Direction != nil && event.Direction != *f.Direction:
		return false
	case f.Layer != nil && event.Layer != *f.Layer:
		return false
	case f.Category != nil && event.Category != *f.Category:
		return false
	case f.TimeStart != nil && event.Timestamp.Before(*f.TimeStart):
		return false
	case f.TimeEnd != nil && !event.Timestamp.Before(*f.TimeEnd):
		return false
	}
	return true
}
