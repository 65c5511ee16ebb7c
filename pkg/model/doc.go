// Package model implements a device data model the reporting engine reads.
//
// # Device Model Hierarchy
//
//	Device > Endpoint > Cluster > Attribute
//
// A Device holds Endpoints, each a functional unit. Endpoints hold
// Clusters, which group related attributes and declare the events the
// cluster may emit. Every cluster carries the global attributes
// clusterRevision, featureMap, attributeList and eventList.
//
// # Addressing
//
// Attributes are addressed by path.AttributePath and events by
// path.EventPath. ExpandAttributes turns a wildcard path into the concrete
// attribute paths that exist.
//
// # Data Versions
//
// Each cluster has a data version that is bumped on every attribute change.
// Reports carry it so requesters can filter clusters they already hold.
//
// # Access Control
//
// A Subject reads with a fabric and a privilege level. Each attribute and
// event declares the privilege needed to read it. Fabric-sensitive events
// are delivered only to subjects of the originating fabric.
//
// # Change Notification
//
// OnChange registers the function that receives the path of every changed
// attribute; hosts wire it to the reporting engine's dirty tracking.
package model
