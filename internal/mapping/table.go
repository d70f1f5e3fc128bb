package mapping

import (
	"sort"
	"sync/atomic"

	"artnet2ha/internal/metrics"
)

// Table is the lookup the frame path consults. Every mapping change installs
// a fresh immutable Snapshot, so readers never take a lock and a frame pass
// always sees one consistent mapping set.
type Table struct {
	snap atomic.Pointer[Snapshot]
}

// Snapshot is one immutable view of the mapping set.
type Snapshot struct {
	entities   []Entity
	byID       map[string]Entity
	maxChannel int
}

func NewTable() *Table {
	t := &Table{}
	t.snap.Store(newSnapshot(nil))
	return t
}

func newSnapshot(entities []Entity) *Snapshot {
	s := &Snapshot{
		entities: make([]Entity, len(entities)),
		byID:     make(map[string]Entity, len(entities)),
	}
	copy(s.entities, entities)
	sort.Slice(s.entities, func(i, j int) bool { return s.entities[i].ID < s.entities[j].ID })
	for _, e := range s.entities {
		s.byID[e.ID] = e
		for _, ch := range e.Span() {
			if ch > s.maxChannel {
				s.maxChannel = ch
			}
		}
	}
	return s
}

// Snapshot returns the current view. The result must not be mutated.
func (t *Table) Snapshot() *Snapshot { return t.snap.Load() }

// Replace installs a new mapping set. The entities must already be
// validated; Replace copies the slice before publishing.
func (t *Table) Replace(entities []Entity) {
	t.snap.Store(newSnapshot(entities))
	metrics.SetEntitiesMapped(len(entities))
}

// Entities lists the mapped entities ordered by ID.
func (s *Snapshot) Entities() []Entity { return s.entities }

// Get looks up one entity by ID.
func (s *Snapshot) Get(id string) (Entity, bool) {
	e, ok := s.byID[id]
	return e, ok
}

// Len reports how many entities are mapped.
func (s *Snapshot) Len() int { return len(s.entities) }

// MaxChannel is the highest DMX channel any mapping references, 0 when the
// set is empty. Frame handling uses it to bound change comparisons.
func (s *Snapshot) MaxChannel() int { return s.maxChannel }
