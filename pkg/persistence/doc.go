// Package persistence stores reporting state that must survive restarts.
//
// BoltStore keeps two buckets in one bbolt database: the event number
// reservation limit and the last known attribute values of the device.
// Event numbers are reserved in epochs; the limit is written before any
// number of the epoch is used, so a restarted device never reuses one.
package persistence
