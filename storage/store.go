// Package storage holds the normalized in-memory mirror of the remote
// hierarchy. Entities live in per-kind arenas keyed by id; parent to child
// relations are ordered id indices. All writes go through named operations
// that hold the store lock for their whole duration, so readers only ever
// see complete snapshots.
package storage

import (
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"board-mirror/domain"
)

// Store is the single mirror instance shared by the fetch orchestrator and
// the mutation coordinator.
type Store struct {
	mu     sync.Mutex
	logger *log.Logger

	boards     map[string]domain.Board
	boardOrder []string

	lists        map[string]domain.List
	listsByBoard map[string][]string

	cards       map[string]domain.Card
	cardsByList map[string][]string

	// checklists are stored without items; items live in their own arena.
	checklists       map[string]domain.Checklist
	checklistsByCard map[string][]string

	items            map[string]domain.ChecklistItem
	itemsByChecklist map[string][]string

	scopes  map[domain.Scope]scopeEntry
	nextGen uint64

	version  uint64
	snap     atomic.Pointer[Snapshot]
	watchers map[uint64]chan uint64
	nextW    uint64
}

// New creates an empty store. A nil logger falls back to the logrus standard logger.
func New(logger *log.Logger) *Store {
	if logger == nil {
		logger = log.StandardLogger()
	}
	s := &Store{
		logger:           logger,
		boards:           map[string]domain.Board{},
		lists:            map[string]domain.List{},
		listsByBoard:     map[string][]string{},
		cards:            map[string]domain.Card{},
		cardsByList:      map[string][]string{},
		checklists:       map[string]domain.Checklist{},
		checklistsByCard: map[string][]string{},
		items:            map[string]domain.ChecklistItem{},
		itemsByChecklist: map[string][]string{},
		scopes:           map[domain.Scope]scopeEntry{},
		watchers:         map[uint64]chan uint64{},
	}
	s.snap.Store(s.buildSnapshotLocked())
	return s
}

// Snapshot returns the current immutable view. Callers must not modify it.
func (s *Store) Snapshot() *Snapshot {
	return s.snap.Load()
}

// Subscribe returns a channel receiving the latest version after writes.
// Notifications coalesce; a slow reader only ever sees the newest version.
func (s *Store) Subscribe() (<-chan uint64, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextW
	s.nextW++
	ch := make(chan uint64, 1)
	s.watchers[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.watchers, id)
			close(ch)
		})
	}
}

// publishLocked swaps in a fresh snapshot and notifies watchers. The snapshot
// is rebuilt whole, so every write costs O(entities); a board fan-out pays it
// once per list commit.
// TODO: rebuild only the touched parent's slice and share the rest with the
// previous snapshot if mirrors grow past a few thousand cards.
func (s *Store) publishLocked() {
	s.version++
	s.snap.Store(s.buildSnapshotLocked())
	for _, ch := range s.watchers {
		select {
		case ch <- s.version:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s.version:
			default:
			}
		}
	}
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func removeID(ids []string, id string) []string {
	for i, existing := range ids {
		if existing == id {
			out := make([]string, 0, len(ids)-1)
			out = append(out, ids[:i]...)
			return append(out, ids[i+1:]...)
		}
	}
	return ids
}
