// Package mapstore persists uid/gid allocations across restarts so that a
// rebuilt directory keeps handing out the identifiers POSIX clients have
// already cached. The store is an optimization: every operation failure
// degrades persistence but never a snapshot build.
package mapstore

import (
	"context"
	"time"
)

// Kind namespaces mapping records by what the IdP identifier refers to.
type Kind string

const (
	KindUser      Kind = "user"
	KindGroup     Kind = "group"
	KindSynthetic Kind = "synthetic"
)

// Record is one persisted allocation. UID is set for user records, GID for
// group and synthetic records; TS is the unix time the record was written.
type Record struct {
	UID uint32 `json:"uid,omitempty"`
	GID uint32 `json:"gid,omitempty"`
	TS  int64  `json:"ts"`
}

// OpTimeout bounds every single store operation.
const OpTimeout = 3 * time.Second

// Metrics counts store operations by outcome. Nil disables recording.
type Metrics interface {
	RecordMapstoreOp(op string, ok bool)
}

// Store is the persistence contract the snapshot scheduler consumes. A nil
// Store means allocations are process-local only.
type Store interface {
	// Connect verifies the backend is reachable. Called once at startup.
	Connect(ctx context.Context) error

	// Put writes one record, overwriting any previous value.
	Put(ctx context.Context, kind Kind, idpID string, rec Record) error

	// Get reads one record. The bool is false when no record exists.
	Get(ctx context.Context, kind Kind, idpID string) (Record, bool, error)

	// List returns all records of one kind keyed by IdP identifier.
	List(ctx context.Context, kind Kind) (map[string]Record, error)

	// Ping checks backend liveness.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}
