// Package path defines interest paths for attributes and events.
//
// A path selects one concrete attribute or event, or a wildcarded set of
// them. Each selector field is either a concrete identifier or the
// wildcard sentinel for its type:
//
//	(endpoint, cluster, attribute[, listIndex])
//	(endpoint, cluster, event)
//
// # Intersection
//
// Two paths intersect iff every field where both sides are concrete is
// equal. Intersect returns the most specific selector shared by both.
//
// # Subsumption
//
// A subsumes B when every concrete path selected by B is also selected by
// A. A path with a list index is subsumed by the same path without one,
// since the whole list includes the element.
package path
