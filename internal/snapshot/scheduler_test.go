package snapshot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldaptoid/ldaptoid/internal/idp"
	"github.com/ldaptoid/ldaptoid/internal/mapstore"
)

// fakeAdapter fails the first failures fetches, then serves testInput.
type fakeAdapter struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) FetchDirectory(context.Context) (*idp.Directory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, idp.ErrTransient
	}
	return testInput(), nil
}

// brokenStore rejects writes, to exercise degraded persistence.
type brokenStore struct{ mapstore.Store }

func (brokenStore) Put(context.Context, mapstore.Kind, string, mapstore.Record) error {
	return errors.New("backend gone")
}

func newTestScheduler(cfg SchedulerConfig, adapter idp.Adapter, store mapstore.Store) *Scheduler {
	builder := newTestBuilder(BuilderConfig{})
	return NewScheduler(cfg, adapter, builder, store, nil)
}

func TestForceRefreshPublishes(t *testing.T) {
	s := newTestScheduler(SchedulerConfig{}, &fakeAdapter{}, nil)

	assert.False(t, s.Ready())
	assert.Nil(t, s.Current())

	require.NoError(t, s.ForceRefresh(context.Background()))

	assert.True(t, s.Ready())
	assert.True(t, s.Healthy())
	snap := s.Current()
	require.NotNil(t, snap)
	assert.Equal(t, uint64(1), snap.Sequence)
	assert.Len(t, snap.Users, 2)
}

func TestRunBacksOffAndRecovers(t *testing.T) {
	adapter := &fakeAdapter{failures: 3}
	s := newTestScheduler(SchedulerConfig{
		Interval:   10 * time.Second,
		MaxBackoff: 40 * time.Second,
		MaxRetries: 10,
		Multiplier: 2,
	}, adapter, nil)

	delays := make(chan time.Duration, 16)
	s.timeAfter = func(d time.Duration) <-chan time.Time {
		delays <- d
		fired := make(chan time.Time, 1)
		fired <- time.Time{}
		return fired
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	// Normal interval, then the backoff ladder 10, 20, 40 (capped), then a
	// success resets to the interval.
	want := []time.Duration{
		10 * time.Second,
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		10 * time.Second,
	}
	for i, expect := range want {
		select {
		case got := <-delays:
			assert.Equal(t, expect, got, "delay %d", i)
		case <-time.After(5 * time.Second):
			t.Fatalf("scheduler stalled waiting for delay %d", i)
		}
	}
	assert.True(t, s.Ready())
	assert.True(t, s.Healthy())
}

func TestRunHaltsAfterMaxRetries(t *testing.T) {
	adapter := &fakeAdapter{failures: 1 << 30}
	s := newTestScheduler(SchedulerConfig{
		Interval:   time.Second,
		MaxBackoff: time.Second,
		MaxRetries: 3,
		Multiplier: 2,
	}, adapter, nil)

	s.timeAfter = func(time.Duration) <-chan time.Time {
		fired := make(chan time.Time, 1)
		fired <- time.Time{}
		return fired
	}

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not halt")
	}
	assert.False(t, s.Healthy())
	assert.ErrorIs(t, s.ForceRefresh(context.Background()), ErrHalted)

	adapter.mu.Lock()
	assert.Equal(t, 3, adapter.calls)
	adapter.mu.Unlock()
}

func TestPersistFailureDegradesOnly(t *testing.T) {
	s := newTestScheduler(SchedulerConfig{}, &fakeAdapter{}, brokenStore{})

	require.NoError(t, s.ForceRefresh(context.Background()))
	assert.True(t, s.Ready(), "build survives persistence trouble")
	assert.True(t, s.Degraded())
}

func TestSeedRestoresPersistedIDs(t *testing.T) {
	ctx := context.Background()
	store := mapstore.NewMemory()
	require.NoError(t, store.Put(ctx, mapstore.KindUser, "u-alice",
		mapstore.Record{UID: 23456, GID: 23457, TS: 1}))

	s := newTestScheduler(SchedulerConfig{}, &fakeAdapter{}, store)
	s.Seed(ctx)
	require.NoError(t, s.ForceRefresh(ctx))

	alice := s.Current().UserByID("u-alice")
	require.NotNil(t, alice)
	assert.Equal(t, 23456, alice.UIDNumber)
	assert.False(t, s.Degraded())

	// Fresh allocations from this build were persisted.
	groups, err := store.List(ctx, mapstore.KindGroup)
	require.NoError(t, err)
	assert.Len(t, groups, 2)
}

func TestPublicationSwapsPointer(t *testing.T) {
	s := newTestScheduler(SchedulerConfig{}, &fakeAdapter{}, nil)

	require.NoError(t, s.ForceRefresh(context.Background()))
	first := s.Current()
	require.NoError(t, s.ForceRefresh(context.Background()))
	second := s.Current()

	assert.NotSame(t, first, second)
	assert.Equal(t, first.Sequence+1, second.Sequence)
	// The old snapshot stays intact for readers still holding it.
	assert.Len(t, first.Users, 2)
}
