package snapshot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ldaptoid/ldaptoid/internal/directory"
	"github.com/ldaptoid/ldaptoid/internal/idp"
	"github.com/ldaptoid/ldaptoid/internal/logger"
	"github.com/ldaptoid/ldaptoid/internal/mapstore"
)

// Scheduler defaults.
const (
	DefaultInterval   = 5 * time.Minute
	DefaultMaxBackoff = 5 * time.Minute
	DefaultMaxRetries = 10
	DefaultMultiplier = 2.0
)

// ErrHalted is returned by ForceRefresh after the scheduler has given up.
var ErrHalted = errors.New("snapshot: scheduler halted")

// SchedulerMetrics is the scheduler's slice of pkg/metrics. Nil disables it.
type SchedulerMetrics interface {
	RecordRefresh(result string, took time.Duration)
	SetSnapshotStats(sequence uint64, users, groups int)
}

// SchedulerConfig tunes the refresh loop.
type SchedulerConfig struct {
	Interval   time.Duration
	MaxBackoff time.Duration
	MaxRetries int
	Multiplier float64
}

// Scheduler drives periodic builds and publishes the results. The published
// snapshot is shared by pointer: readers keep whatever snapshot they grabbed
// until they finish, a swap never invalidates it.
type Scheduler struct {
	cfg     SchedulerConfig
	adapter idp.Adapter
	builder *Builder
	store   mapstore.Store // nil disables persistence
	metrics SchedulerMetrics

	current  atomic.Pointer[directory.Snapshot]
	halted   atomic.Bool
	degraded atomic.Bool

	// buildMu serializes builds: the run loop and ForceRefresh never overlap.
	buildMu sync.Mutex

	timeAfter func(time.Duration) <-chan time.Time
}

// NewScheduler wires the refresh loop. store may be nil.
func NewScheduler(cfg SchedulerConfig, adapter idp.Adapter, builder *Builder, store mapstore.Store, metrics SchedulerMetrics) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = DefaultMultiplier
	}
	return &Scheduler{
		cfg:       cfg,
		adapter:   adapter,
		builder:   builder,
		store:     store,
		metrics:   metrics,
		timeAfter: time.After,
	}
}

// Current returns the last published snapshot, or nil before the first
// successful build.
func (s *Scheduler) Current() *directory.Snapshot {
	return s.current.Load()
}

// Healthy is the liveness signal: false only once the scheduler has halted
// after exhausting its retries.
func (s *Scheduler) Healthy() bool { return !s.halted.Load() }

// Ready is the readiness signal: true once any snapshot has been published.
func (s *Scheduler) Ready() bool { return s.current.Load() != nil }

// Degraded reports whether allocation persistence has failed at some point;
// the directory still serves, but ids may not survive a restart.
func (s *Scheduler) Degraded() bool { return s.degraded.Load() }

// Seed loads persisted allocations into the builder's allocators. Store
// trouble degrades persistence but is not fatal.
func (s *Scheduler) Seed(ctx context.Context) {
	if s.store == nil {
		return
	}
	users, err := s.store.List(ctx, mapstore.KindUser)
	if err == nil {
		var groups, synthetic map[string]mapstore.Record
		if groups, err = s.store.List(ctx, mapstore.KindGroup); err == nil {
			if synthetic, err = s.store.List(ctx, mapstore.KindSynthetic); err == nil {
				err = s.builder.Seed(users, groups, synthetic)
			}
		}
	}
	if err != nil {
		s.degraded.Store(true)
		logger.Warn("allocator seed from mapping store failed, continuing in-memory", "error", err)
		return
	}
	logger.Info("allocators seeded from mapping store")
}

// ForceRefresh runs one build synchronously, bypassing the backoff clock but
// not the build lock.
func (s *Scheduler) ForceRefresh(ctx context.Context) error {
	if s.halted.Load() {
		return ErrHalted
	}
	return s.buildOnce(ctx)
}

func (s *Scheduler) buildOnce(ctx context.Context) error {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	start := time.Now()
	dir, err := s.adapter.FetchDirectory(ctx)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordRefresh("error", time.Since(start))
		}
		logger.Error("directory fetch failed", "idp", s.adapter.Name(), "error", err)
		return err
	}

	snap, allocations := s.builder.Build(dir)
	s.persist(ctx, allocations)
	s.current.Store(snap)

	took := time.Since(start)
	if s.metrics != nil {
		s.metrics.RecordRefresh("success", took)
		s.metrics.SetSnapshotStats(snap.Sequence, len(snap.Users), len(snap.Groups))
	}
	logger.Info("snapshot published",
		"sequence", snap.Sequence,
		"users", len(snap.Users),
		"groups", len(snap.Groups),
		"new_allocations", len(allocations),
		"took", took)
	return nil
}

// persist writes fresh allocations to the mapping store. Failures flip the
// degraded flag and are otherwise swallowed.
func (s *Scheduler) persist(ctx context.Context, allocations []Allocation) {
	if s.store == nil {
		return
	}
	for _, a := range allocations {
		if err := s.store.Put(ctx, a.Kind, a.IdPID, a.Record); err != nil {
			s.degraded.Store(true)
			logger.Warn("allocation persist failed", "kind", a.Kind, "id", a.IdPID, "error", err)
			return
		}
	}
}

// Run loops until ctx is cancelled or max_retries consecutive failures halt
// the scheduler. The first build is the caller's job (startup does it before
// opening the listener), so the loop starts by waiting one interval.
func (s *Scheduler) Run(ctx context.Context) {
	failures := 0
	delay := s.cfg.Interval

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.timeAfter(delay):
		}

		if err := s.buildOnce(ctx); err != nil {
			failures++
			if failures >= s.cfg.MaxRetries {
				s.halted.Store(true)
				logger.Error("refresh halted after consecutive failures",
					"failures", failures, "max_retries", s.cfg.MaxRetries)
				return
			}
			if failures == 1 {
				delay = min(s.cfg.Interval, s.cfg.MaxBackoff)
			} else {
				delay = min(s.cfg.MaxBackoff, time.Duration(float64(delay)*s.cfg.Multiplier))
			}
			logger.Warn("refresh failed, backing off",
				"failures", failures, "next_attempt_in", delay)
			continue
		}
		failures = 0
		delay = s.cfg.Interval
	}
}
