package mapping

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"artnet2ha/internal/command"
	"artnet2ha/internal/logger"
)

// Store owns the persistent mapping set and the live Table built from it.
// Mutations are serialized, validated, written to disk and only then
// published, so the frame path never observes a half-applied change.
type Store struct {
	logger logger.Logger
	path   string
	mu     sync.Mutex
	table  *Table
}

func NewStore(log logger.Logger, path string) *Store {
	return &Store{
		logger: log,
		path:   path,
		table:  NewTable(),
	}
}

// Table returns the live lookup table fed by this store.
func (s *Store) Table() *Table { return s.table }

// All lists the current mapping set ordered by entity ID.
func (s *Store) All() []Entity { return s.table.Snapshot().Entities() }

// Load reads the mapping file and publishes the surviving entities. A
// missing file is an empty set. Entries that fail validation or collide
// with an already accepted entry are skipped with a warning; they do not
// block the rest of the file.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logger.With(logger.Fields{"module": "mapping"})

	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		log.Infof("no mapping file at %s, starting empty", s.path)
		s.table.Replace(nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("mapping: read %s: %w", s.path, err)
	}

	var byID map[string]Entity
	if err := json.Unmarshal(raw, &byID); err != nil {
		return fmt.Errorf("mapping: parse %s: %w", s.path, err)
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var accepted []Entity
	claimed := make(map[int]string)
	for _, id := range ids {
		e := byID[id]
		if e.ID == "" {
			e.ID = id
		}
		if e.ID != id {
			log.Warningf("skipping mapping %s: entity_id %q does not match key", id, e.ID)
			continue
		}
		if err := e.Validate(); err != nil {
			log.Warningf("skipping mapping: %v", err)
			continue
		}
		if owner, taken := claimedBy(claimed, e); taken {
			log.Warningf("skipping mapping %s: channel conflict with %s", e.ID, owner)
			continue
		}
		claim(claimed, e)
		accepted = append(accepted, e)
	}

	s.table.Replace(accepted)
	log.Infof("loaded %d of %d mappings from %s", len(accepted), len(byID), s.path)
	return nil
}

// SetChannel moves an entity to a new master channel. Color channels are
// re-derived as the run after it.
func (s *Store) SetChannel(id string, master int) error {
	return s.mutate(func(set map[string]Entity) error {
		e, ok := set[id]
		if !ok {
			return fmt.Errorf("mapping: unknown entity %s", id)
		}
		set[id] = e.withMaster(master)
		return nil
	})
}

// SetType changes an entity's type and master channel in one step.
func (s *Store) SetType(id string, t EntityType, master int) error {
	return s.mutate(func(set map[string]Entity) error {
		e, ok := set[id]
		if !ok {
			return fmt.Errorf("mapping: unknown entity %s", id)
		}
		e.Type = t
		set[id] = e.withMaster(master)
		return nil
	})
}

// Remove drops an entity from the mapping set.
func (s *Store) Remove(id string) error {
	return s.mutate(func(set map[string]Entity) error {
		if _, ok := set[id]; !ok {
			return fmt.Errorf("mapping: unknown entity %s", id)
		}
		delete(set, id)
		return nil
	})
}

// AutoAssign maps every discovered entity that is not yet in the set,
// assigning each a contiguous run of free channels starting at start.
// Entities whose domain cannot be driven are skipped. Returns how many
// mappings were added.
func (s *Store) AutoAssign(discovered []command.DiscoveredEntity, start int) (int, error) {
	log := s.logger.With(logger.Fields{"module": "mapping"})
	added := 0
	err := s.mutate(func(set map[string]Entity) error {
		claimed := make(map[int]string)
		for _, e := range set {
			claim(claimed, e)
		}

		sorted := make([]command.DiscoveredEntity, len(discovered))
		copy(sorted, discovered)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

		for _, d := range sorted {
			if _, ok := set[d.ID]; ok {
				continue
			}
			t, ok := DetectType(d)
			if !ok {
				log.Debugf("not mapping %s: unsupported domain %s", d.ID, d.Domain)
				continue
			}
			e := Entity{ID: d.ID, Type: t, Name: d.Name}
			master, found := nextFreeRun(claimed, start, 1+t.ColorChannels())
			if !found {
				log.Warningf("channel space exhausted, %s left unmapped", d.ID)
				break
			}
			e = e.withMaster(master)
			claim(claimed, e)
			set[d.ID] = e
			added++
			log.Infof("mapped %s as %s on channel %d", e.ID, e.Type, e.MasterChannel)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

// mutate runs fn over a copy of the current set, validates the result,
// persists it and publishes the new snapshot. Any error leaves table and
// file untouched.
func (s *Store) mutate(fn func(set map[string]Entity) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := make(map[string]Entity)
	for _, e := range s.table.Snapshot().Entities() {
		set[e.ID] = e
	}

	if err := fn(set); err != nil {
		return err
	}

	entities := make([]Entity, 0, len(set))
	for _, e := range set {
		entities = append(entities, e)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })

	if err := validateSet(entities); err != nil {
		return err
	}
	if err := s.save(set); err != nil {
		return err
	}
	s.table.Replace(entities)
	return nil
}

func (s *Store) save(set map[string]Entity) error {
	raw, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return fmt.Errorf("mapping: encode: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		return fmt.Errorf("mapping: write %s: %w", s.path, err)
	}
	return nil
}

// validateSet checks each entity and rejects any channel claimed by two
// entities.
func validateSet(entities []Entity) error {
	claimed := make(map[int]string)
	for _, e := range entities {
		if err := e.Validate(); err != nil {
			return err
		}
		if owner, taken := claimedBy(claimed, e); taken {
			return fmt.Errorf("mapping %s: channel conflict with %s", e.ID, owner)
		}
		claim(claimed, e)
	}
	return nil
}

func claimedBy(claimed map[int]string, e Entity) (string, bool) {
	for _, ch := range e.Span() {
		if owner, ok := claimed[ch]; ok {
			return owner, true
		}
	}
	return "", false
}

func claim(claimed map[int]string, e Entity) {
	for _, ch := range e.Span() {
		claimed[ch] = e.ID
	}
}

// nextFreeRun finds the lowest master channel >= start with n consecutive
// unclaimed channels inside the universe.
func nextFreeRun(claimed map[int]string, start, n int) (int, bool) {
	if start < 1 {
		start = 1
	}
	for master := start; master+n-1 <= 512; master++ {
		free := true
		for ch := master; ch < master+n; ch++ {
			if _, taken := claimed[ch]; taken {
				free = false
				break
			}
		}
		if free {
			return master, true
		}
	}
	return 0, false
}
