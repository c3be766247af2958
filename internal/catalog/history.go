package catalog

import (
	"fmt"
	"sort"
	"sync"
)

type version struct {
	timestamp int64
	schema    Schema
}

// History keeps every catalog version by logical timestamp so a schema can be
// read as of any past point.
type History struct {
	mu       sync.RWMutex
	versions []version
}

func NewHistory(initial Schema, timestamp int64) *History {
	return &History{versions: []version{{timestamp: timestamp, schema: initial}}}
}

// Record appends the schema produced at timestamp, which must be later than
// the latest recorded version.
func (h *History) Record(timestamp int64, s Schema) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	latest := h.versions[len(h.versions)-1].timestamp
	if timestamp <= latest {
		return fmt.Errorf("catalog version %d is not after latest version %d", timestamp, latest)
	}
	h.versions = append(h.versions, version{timestamp: timestamp, schema: s})
	return nil
}

// At returns the latest schema recorded at or before timestamp.
func (h *History) At(timestamp int64) (Schema, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	i := sort.Search(len(h.versions), func(i int) bool {
		return h.versions[i].timestamp > timestamp
	})
	if i == 0 {
		return Schema{}, fmt.Errorf("no catalog version at or before %d (oldest is %d)", timestamp, h.versions[0].timestamp)
	}
	return h.versions[i-1].schema, nil
}

func (h *History) Latest() (Schema, int64) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	v := h.versions[len(h.versions)-1]
	return v.schema, v.timestamp
}
