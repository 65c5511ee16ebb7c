package main

import (
	"log/slog"

	"github.com/mash-protocol/mash-reporting/pkg/model"
	"github.com/mash-protocol/mash-reporting/pkg/path"
	"github.com/mash-protocol/mash-reporting/pkg/persistence"
	"github.com/mash-protocol/mash-reporting/pkg/wire"
)

// attributeStore keeps attribute values across restarts.
type attributeStore struct {
	store  *persistence.BoltStore
	device *model.Device
	logger *slog.Logger
}

// restore loads persisted values into the device. Values the device no
// longer accepts are dropped from the store.
func (s *attributeStore) restore() int {
	stored, err := s.store.Attributes()
	if err != nil {
		s.logger.Warn("failed to load persisted attributes", "error", err)
		return 0
	}

	restored := 0
	for p, raw := range stored {
		var value any
		if err := wire.Unmarshal(raw, &value); err != nil {
			s.logger.Warn("undecodable persisted attribute", "path", p.String(), "error", err)
			s.drop(p)
			continue
		}
		if err := s.device.SetAttribute(p.Endpoint, p.Cluster, p.Attribute, value); err != nil {
			s.logger.Warn("persisted attribute rejected", "path", p.String(), "error", err)
			s.drop(p)
			continue
		}
		restored++
	}
	return restored
}

// save persists the current value at p. It runs from the device change
// handler.
func (s *attributeStore) save(p path.AttributePath) {
	c, err := s.device.GetCluster(p.Endpoint, p.Cluster)
	if err != nil {
		return
	}
	value, err := c.ReadAttribute(p.Attribute)
	if err != nil {
		return
	}
	if err := s.store.SaveAttribute(p, value); err != nil {
		s.logger.Warn("failed to persist attribute", "path", p.String(), "error", err)
	}
}

func (s *attributeStore) drop(p path.AttributePath) {
	if err := s.store.DeleteAttribute(p); err != nil {
		s.logger.Warn("failed to drop persisted attribute", "path", p.String(), "error", err)
	}
}
