// Package idgen generates monotonic, lexicographically sortable identifiers
// for Turn, ToolCallResult, and PolicyDecision rows. Ordering by id must
// match insertion order even within the same millisecond, so callers share a
// single monotonic entropy source rather than reseeding per call.
package idgen

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Source generates monotonic ULIDs safe for concurrent use.
type Source struct {
	mu  sync.Mutex
	ent *ulid.MonotonicEntropy
}

// NewSource constructs a Source seeded from crypto/rand.
func NewSource() *Source {
	return &Source{ent: ulid.Monotonic(rand.Reader, 0)}
}

// New returns the next identifier in lexicographic/time order.
func (s *Source) New() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), s.ent)
	if err != nil {
		// MonotonicEntropy only errors when the same millisecond's increment
		// space overflows; retrying against the next tick always succeeds.
		id = ulid.MustNew(ulid.Timestamp(time.Now().Add(time.Millisecond)), s.ent)
	}
	return id.String()
}
