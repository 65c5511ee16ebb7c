package main

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

// simulator periodically feeds synthetic measurements into the plug.
type simulator struct {
	plug     *plug
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	parent  context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
}

func newSimulator(p *plug, interval time.Duration, logger *slog.Logger) *simulator {
	return &simulator{plug: p, interval: interval, logger: logger}
}

// Run enables Start, optionally starts the simulation right away, and
// blocks until ctx ends.
func (s *simulator) Run(ctx context.Context, start bool) error {
	s.mu.Lock()
	s.parent = ctx
	s.mu.Unlock()

	if start {
		s.Start()
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// Start resumes the simulation. It is a no-op when already running or
// when Run has not been called.
func (s *simulator) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil || s.parent == nil || s.parent.Err() != nil {
		return
	}
	ctx, cancel := context.WithCancel(s.parent)
	s.cancel = cancel
	s.stopped = make(chan struct{})
	go s.loop(ctx, s.stopped)
	s.logger.Info("simulation started", "interval", s.interval)
}

// Stop pauses the simulation and waits for the current tick to finish.
func (s *simulator) Stop() {
	s.mu.Lock()
	cancel, stopped := s.cancel, s.stopped
	s.cancel, s.stopped = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
	s.logger.Info("simulation stopped")
}

// Running reports whether the simulation is active.
func (s *simulator) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *simulator) loop(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var tick int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick++
			s.step(tick)
		}
	}
}

// step toggles the relay every tenth tick and otherwise samples a load
// that occasionally spikes above the limit.
func (s *simulator) step(tick int) {
	if tick%10 == 0 {
		if err := s.plug.Switch(!s.plug.On()); err != nil {
			s.logger.Warn("simulation switch failed", "error", err)
		}
		return
	}

	var power int64
	if s.plug.On() {
		power = 1500 + rand.Int64N(1000)
		if rand.IntN(20) == 0 {
			power += 2000
		}
	}
	voltage := uint16(225 + rand.IntN(11))
	if err := s.plug.Measure(power, voltage); err != nil {
		s.logger.Warn("simulation sample failed", "error", err)
	}
}
