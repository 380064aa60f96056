// Package idalloc assigns deterministic positive POSIX ids (UIDs/GIDs) to
// opaque namespaced keys.
//
// The same key always yields the same id within one allocator, and — because
// the first candidate is a salted FNV-1a hash of the key — usually the same id
// across independent processes too. Collisions are probed a bounded number of
// times before falling back to a sequential counter. Persisted mappings can be
// imported at startup to pin ids across restarts.
package idalloc

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// FNV-1a 64-bit parameters.
const (
	fnvOffset64 = 0xCBF29CE484222325
	fnvPrime64  = 0x100000001B3
)

// Defaults.
const (
	DefaultFloor      = 10000
	DefaultRetryLimit = 4
)

// Entry is one exported (key, id) mapping.
type Entry struct {
	Key string
	ID  int
}

// Metrics receives allocator events. Implementations must be safe for
// concurrent use; a nil Metrics disables recording.
type Metrics interface {
	RecordCollision(space string)
	RecordFallback(space string)
	SetSize(space string, size int)
}

// Allocator allocates ids for one number space. UID and GID allocators are
// separate instances with distinct salts so their hash sequences are
// independent.
type Allocator struct {
	space      string // "uid" or "gid"; also the metrics label and hash salt
	floor      int
	ceiling    int // 0 = no ceiling
	retryLimit int
	metrics    Metrics

	mu      sync.Mutex
	forward map[string]int // key → id
	reverse map[int]string // id → key
	cursor  int            // next sequential fallback candidate
}

// Option tunes an Allocator.
type Option func(*Allocator)

// WithFloor sets the exclusive lower bound for allocated ids.
func WithFloor(floor int) Option { return func(a *Allocator) { a.floor = floor } }

// WithCeiling sets an inclusive upper bound for hashed ids (0 disables it).
func WithCeiling(ceiling int) Option { return func(a *Allocator) { a.ceiling = ceiling } }

// WithRetryLimit sets the number of salted re-hash attempts on collision.
func WithRetryLimit(limit int) Option { return func(a *Allocator) { a.retryLimit = limit } }

// WithMetrics attaches a metrics recorder.
func WithMetrics(m Metrics) Option { return func(a *Allocator) { a.metrics = m } }

// New creates an allocator for the given number space. The space string salts
// the hash, so "uid" and "gid" allocators produce unrelated ids for the same
// key.
func New(space string, opts ...Option) *Allocator {
	a := &Allocator{
		space:      space,
		floor:      DefaultFloor,
		retryLimit: DefaultRetryLimit,
		forward:    make(map[string]int),
		reverse:    make(map[int]string),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.cursor = a.floor + 1
	return a
}

// Result describes one allocation.
type Result struct {
	ID         int
	Hashed     bool // false when the sequential fallback was used
	Collisions int  // number of occupied hash candidates skipped
	New        bool // false when the key was already mapped
}

// Allocate returns the id for key, assigning one if needed.
func (a *Allocator) Allocate(key string) Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id, ok := a.forward[key]; ok {
		return Result{ID: id, Hashed: true}
	}

	for attempt := 0; attempt <= a.retryLimit; attempt++ {
		candidate := int(a.hash(attempt, key) & 0x7FFFFFFF)
		if candidate <= a.floor {
			continue
		}
		if a.ceiling > 0 && candidate > a.ceiling {
			continue
		}
		if _, taken := a.reverse[candidate]; taken {
			if a.metrics != nil {
				a.metrics.RecordCollision(a.space)
			}
			continue
		}
		a.commit(key, candidate)
		return Result{ID: candidate, Hashed: true, Collisions: attempt, New: true}
	}

	// All hash candidates rejected; take the next free sequential id.
	if a.metrics != nil {
		a.metrics.RecordFallback(a.space)
	}
	for {
		if _, taken := a.reverse[a.cursor]; !taken {
			break
		}
		a.cursor++
	}
	id := a.cursor
	a.cursor++
	a.commit(key, id)
	return Result{ID: id, New: true}
}

// commit records the mapping; caller holds the lock.
func (a *Allocator) commit(key string, id int) {
	a.forward[key] = id
	a.reverse[id] = key
	if id >= a.cursor {
		a.cursor = id + 1
	}
	if a.metrics != nil {
		a.metrics.SetSize(a.space, len(a.forward))
	}
}

// hash computes FNV-1a over "salt:attempt:key" with explicit wrap-around
// multiplication semantics (unsigned 64-bit).
func (a *Allocator) hash(attempt int, key string) uint64 {
	h := uint64(fnvOffset64)
	input := a.space + ":" + strconv.Itoa(attempt) + ":" + key
	for i := 0; i < len(input); i++ {
		h ^= uint64(input[i])
		h *= fnvPrime64
	}
	return h
}

// Lookup returns the id for key without allocating.
func (a *Allocator) Lookup(key string) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.forward[key]
	return id, ok
}

// Size returns the number of committed mappings.
func (a *Allocator) Size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.forward)
}

// Export returns all mappings sorted by key for deterministic persistence.
func (a *Allocator) Export() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	entries := make([]Entry, 0, len(a.forward))
	for key, id := range a.forward {
		entries = append(entries, Entry{Key: key, ID: id})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries
}

// Import seeds mappings from persistence. Existing mappings are never
// overwritten; conflicting entries are reported. The sequential cursor is
// advanced past the largest imported id.
func (a *Allocator) Import(entries []Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, e := range entries {
		if existing, ok := a.forward[e.Key]; ok {
			if existing != e.ID {
				return fmt.Errorf("idalloc: key %q already mapped to %d, refusing import of %d", e.Key, existing, e.ID)
			}
			continue
		}
		if owner, taken := a.reverse[e.ID]; taken && owner != e.Key {
			return fmt.Errorf("idalloc: id %d already owned by %q, refusing import for %q", e.ID, owner, e.Key)
		}
		a.commit(e.Key, e.ID)
	}
	return nil
}
