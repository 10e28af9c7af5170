package mapping

import (
	"errors"
	"fmt"
	"sync"
)

// Kind selects one of the five mapping tables.
type Kind int

const (
	Role Kind = iota
	Category
	Channel
	Thread
	Message
)

// Kinds lists every table in persisted order.
var Kinds = []Kind{Role, Category, Channel, Thread, Message}

func (k Kind) String() string {
	switch k {
	case Role:
		return "roles"
	case Category:
		return "categories"
	case Channel:
		return "channels"
	case Thread:
		return "threads"
	case Message:
		return "messages"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

var (
	// ErrPersistence is wrapped by every failed Persist call.
	ErrPersistence = errors.New("mapping persistence failed")
	// ErrDuplicateDestination is returned when a destination id is already
	// claimed by another source id of the same kind.
	ErrDuplicateDestination = errors.New("destination id already mapped")
)

// Snapshot is the wholesale persisted form of a Store: kind -> source -> destination.
type Snapshot map[Kind]map[string]string

// Backend reads and writes whole snapshots.
type Backend interface {
	Load() (Snapshot, error)
	Save(Snapshot) error
	Close() error
}

// Store is the source-id -> destination-id table for every mirrored entity kind.
// The in-memory tables are authoritative; Persist writes them through to the backend.
type Store struct {
	backend Backend

	mu      sync.RWMutex
	forward map[Kind]map[string]string
	reverse map[Kind]map[string]string
	gen     uint64

	saveMu   sync.Mutex
	savedGen uint64
}

func NewStore(backend Backend) *Store {
	s := &Store{backend: backend}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.forward = make(map[Kind]map[string]string, len(Kinds))
	s.reverse = make(map[Kind]map[string]string, len(Kinds))
	for _, k := range Kinds {
		s.forward[k] = make(map[string]string)
		s.reverse[k] = make(map[string]string)
	}
}

// Load replaces the in-memory tables with the backend's snapshot.
func (s *Store) Load() error {
	snap, err := s.backend.Load()
	if err != nil {
		return fmt.Errorf("loading mappings: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	for kind, table := range snap {
		if _, ok := s.forward[kind]; !ok {
			continue
		}
		for src, dst := range table {
			if prev, taken := s.reverse[kind][dst]; taken && prev != src {
				return fmt.Errorf("loading %s: destination %s mapped from both %s and %s: %w", kind, dst, prev, src, ErrDuplicateDestination)
			}
			s.forward[kind][src] = dst
			s.reverse[kind][dst] = src
		}
	}
	s.gen++
	s.savedGen = s.gen
	return nil
}

func (s *Store) Get(kind Kind, sourceID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dst, ok := s.forward[kind][sourceID]
	return dst, ok
}

// Put maps sourceID to destinationID, replacing any previous destination for sourceID.
func (s *Store) Put(kind Kind, sourceID, destinationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, taken := s.reverse[kind][destinationID]; taken && owner != sourceID {
		return fmt.Errorf("%s %s -> %s (owned by %s): %w", kind, sourceID, destinationID, owner, ErrDuplicateDestination)
	}
	if prev, ok := s.forward[kind][sourceID]; ok {
		delete(s.reverse[kind], prev)
	}
	s.forward[kind][sourceID] = destinationID
	s.reverse[kind][destinationID] = sourceID
	s.gen++
	return nil
}

// Remove drops the mapping for sourceID and reports whether one existed.
func (s *Store) Remove(kind Kind, sourceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	dst, ok := s.forward[kind][sourceID]
	if !ok {
		return false
	}
	delete(s.forward[kind], sourceID)
	delete(s.reverse[kind], dst)
	s.gen++
	return true
}

// RemoveByDestination drops every mapping whose destination id is in destinationIDs
// and returns how many were removed.
func (s *Store) RemoveByDestination(kind Kind, destinationIDs ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, dst := range destinationIDs {
		src, ok := s.reverse[kind][dst]
		if !ok {
			continue
		}
		delete(s.reverse[kind], dst)
		delete(s.forward[kind], src)
		removed++
	}
	if removed > 0 {
		s.gen++
	}
	return removed
}

func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	s.gen++
}

// Counts returns the number of entries per table.
func (s *Store) Counts() map[Kind]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[Kind]int, len(Kinds))
	for _, k := range Kinds {
		counts[k] = len(s.forward[k])
	}
	return counts
}

func (s *Store) snapshot() (Snapshot, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := make(Snapshot, len(Kinds))
	for _, k := range Kinds {
		table := make(map[string]string, len(s.forward[k]))
		for src, dst := range s.forward[k] {
			table[src] = dst
		}
		snap[k] = table
	}
	return snap, s.gen
}

// Persist writes the current tables to the backend. A caller whose mutation was
// already covered by a concurrent Persist returns without writing again.
func (s *Store) Persist() error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.RLock()
	current := s.gen
	s.mu.RUnlock()
	if current == s.savedGen {
		return nil
	}

	snap, gen := s.snapshot()
	if err := s.backend.Save(snap); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	s.savedGen = gen
	return nil
}

func (s *Store) Close() error {
	return s.backend.Close()
}
