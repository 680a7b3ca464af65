/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/carbonwise/internal/telemetry"
)

// Elector reports leadership changes. leadership.Election implements it.
type Elector interface {
	Start(ctx context.Context) error
	Stop() error
	IsLeader() bool
	LeaderCh() <-chan bool
}

// Runner is a loop that runs until its context ends.
type Runner interface {
	Run(ctx context.Context) error
}

// LeaderAwareScheduler runs the evaluation loop only while this instance
// holds leadership, so replicas never dispatch the same job twice.
type LeaderAwareScheduler struct {
	scheduler Runner
	election  Elector
	logger    zerolog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewLeaderAware creates a leader-aware scheduler wrapper.
func NewLeaderAware(scheduler Runner, election Elector, logger zerolog.Logger) *LeaderAwareScheduler {
	return &LeaderAwareScheduler{
		scheduler: scheduler,
		election:  election,
		logger:    logger.With().Str("component", "leader_aware_scheduler").Logger(),
	}
}

// Start begins campaigning and manages the loop as leadership changes.
func (las *LeaderAwareScheduler) Start(ctx context.Context) error {
	las.logger.Info().Msg("starting leader-aware scheduler")
	if err := las.election.Start(ctx); err != nil {
		return err
	}
	las.mu.Lock()
	las.ctx = ctx
	las.mu.Unlock()
	go las.monitorLeadership(ctx)
	return nil
}

// Stop halts the loop and releases leadership.
func (las *LeaderAwareScheduler) Stop() error {
	las.logger.Info().Msg("stopping leader-aware scheduler")
	las.stopScheduler()
	return las.election.Stop()
}

func (las *LeaderAwareScheduler) monitorLeadership(ctx context.Context) {
	leaderCh := las.election.LeaderCh()
	if las.election.IsLeader() {
		las.startScheduler()
	}
	for {
		select {
		case <-ctx.Done():
			las.stopScheduler()
			return
		case isLeader, ok := <-leaderCh:
			if !ok {
				las.stopScheduler()
				return
			}
			if isLeader {
				las.logger.Info().Msg("became leader, starting scheduler")
				las.startScheduler()
			} else {
				las.logger.Warn().Msg("lost leadership, stopping scheduler")
				las.stopScheduler()
			}
		}
	}
}

func (las *LeaderAwareScheduler) startScheduler() {
	las.mu.Lock()
	defer las.mu.Unlock()
	if las.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(las.ctx)
	done := make(chan struct{})
	las.cancel = cancel
	las.stopped = done
	telemetry.LeaderStatus.Set(1)

	go func() {
		defer close(done)
		las.logger.Info().Msg("scheduler started")
		if err := las.scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			las.logger.Error().Err(err).Msg("scheduler error")
		}
		las.logger.Info().Msg("scheduler stopped")
	}()
}

// stopScheduler cancels the loop and waits for its current tick to end.
func (las *LeaderAwareScheduler) stopScheduler() {
	las.mu.Lock()
	cancel, done := las.cancel, las.stopped
	las.cancel, las.stopped = nil, nil
	las.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	telemetry.LeaderStatus.Set(0)
}

// Running reports whether the loop is active on this instance.
func (las *LeaderAwareScheduler) Running() bool {
	las.mu.Lock()
	defer las.mu.Unlock()
	return las.cancel != nil
}

// IsLeader returns whether this instance is the leader.
func (las *LeaderAwareScheduler) IsLeader() bool {
	return las.election.IsLeader()
}
