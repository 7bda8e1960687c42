package storage

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"board-mirror/domain"
)

type scopeEntry struct {
	state domain.ScopeState
	gen   uint64
}

// Ticket identifies one load of a scope. Commits carrying a ticket whose
// generation is no longer current are discarded.
type Ticket struct {
	Scope domain.Scope
	Gen   uint64
}

// ScopeState returns the state of a scope; unknown scopes are idle.
func (s *Store) ScopeState(scope domain.Scope) domain.ScopeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scopeStateLocked(scope)
}

func (s *Store) scopeStateLocked(scope domain.Scope) domain.ScopeState {
	if e, ok := s.scopes[scope]; ok {
		return e.state
	}
	return domain.ScopeState{Status: domain.StatusIdle}
}

// SetScopeLoading marks a scope loading, clearing its error. Passing false
// settles a loading scope as ready.
func (s *Store) SetScopeLoading(scope domain.Scope, loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.scopes[scope]
	switch {
	case loading:
		e.state = fetchState(e, domain.StatusLoading, "")
	case e.state.Status == domain.StatusLoading:
		e.state = fetchState(e, domain.StatusReady, "")
	default:
		return
	}
	s.scopes[scope] = e
	s.publishLocked()
}

// SetScopeError records a failure message for a scope. An empty message
// clears it.
func (s *Store) SetScopeError(scope domain.Scope, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.scopes[scope]
	if msg == "" {
		if !ok || e.state.Error == "" {
			return
		}
		e.state.Error = ""
		if e.state.Status == domain.StatusFailed {
			e.state.Status = domain.StatusIdle
		}
	} else {
		e.state = fetchState(e, domain.StatusFailed, msg)
	}
	s.scopes[scope] = e
	s.publishLocked()
}

// SetMutationError records why a mutation under scope failed, or clears it
// when msg is empty. The fetch status and any load in flight are untouched.
func (s *Store) SetMutationError(scope domain.Scope, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.scopes[scope]
	if !ok {
		if msg == "" {
			return
		}
		e.state.Status = domain.StatusIdle
	}
	if e.state.MutationError == msg {
		return
	}
	e.state.MutationError = msg
	s.scopes[scope] = e
	s.publishLocked()
}

// fetchState replaces the fetch half of a scope state.
func fetchState(e scopeEntry, status domain.ScopeStatus, msg string) domain.ScopeState {
	return domain.ScopeState{Status: status, Error: msg, MutationError: e.state.MutationError}
}

// BeginLoad moves a scope to loading under a fresh generation. It refuses
// when the scope is already loading, so a second caller issues no request.
func (s *Store) BeginLoad(scope domain.Scope) (Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.scopes[scope]
	if ok && e.state.Status == domain.StatusLoading {
		return Ticket{}, false
	}
	s.nextGen++
	s.scopes[scope] = scopeEntry{state: fetchState(e, domain.StatusLoading, ""), gen: s.nextGen}
	s.ensureCollectionLocked(scope)
	s.publishLocked()
	return Ticket{Scope: scope, Gen: s.nextGen}, true
}

// Invalidate forgets a scope. Any outstanding ticket for it turns stale and
// the scope reads as idle.
func (s *Store) Invalidate(scope domain.Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scopes[scope]; !ok {
		return
	}
	delete(s.scopes, scope)
	s.logger.WithField("scope", scope.Key()).Debug("scope invalidated")
	s.publishLocked()
}

func (s *Store) currentLocked(t Ticket, kind domain.ScopeKind) error {
	if t.Scope.Kind != kind {
		return fmt.Errorf("ticket for %s used as %s scope", t.Scope.Key(), kind)
	}
	e, ok := s.scopes[t.Scope]
	if !ok || e.gen != t.Gen || e.state.Status != domain.StatusLoading {
		return fmt.Errorf("%s: %w", t.Scope.Key(), domain.ErrStaleScope)
	}
	return nil
}

func (s *Store) settleLocked(t Ticket) {
	s.scopes[t.Scope] = scopeEntry{state: fetchState(s.scopes[t.Scope], domain.StatusReady, ""), gen: t.Gen}
}

// CommitBoards replaces the board index and marks the root scope ready.
func (s *Store) CommitBoards(t Ticket, boards []domain.Board) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.currentLocked(t, domain.ScopeBoards); err != nil {
		return err
	}
	s.upsertBoardsLocked(boards)
	s.settleLocked(t)
	s.publishLocked()
	return nil
}

// CommitLists replaces the lists of the ticket's board. A board that vanished
// while the request was in flight makes the ticket stale.
func (s *Store) CommitLists(t Ticket, lists []domain.List) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.currentLocked(t, domain.ScopeBoard); err != nil {
		return err
	}
	if err := s.upsertListsLocked(t.Scope.ID, lists); err != nil {
		return s.staleLocked(t, err)
	}
	s.settleLocked(t)
	s.publishLocked()
	return nil
}

func (s *Store) CommitCards(t Ticket, cards []domain.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.currentLocked(t, domain.ScopeList); err != nil {
		return err
	}
	if err := s.upsertCardsLocked(t.Scope.ID, cards); err != nil {
		return s.staleLocked(t, err)
	}
	s.settleLocked(t)
	s.publishLocked()
	return nil
}

func (s *Store) CommitChecklists(t Ticket, checklists []domain.Checklist) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.currentLocked(t, domain.ScopeCard); err != nil {
		return err
	}
	if err := s.upsertChecklistsLocked(t.Scope.ID, checklists); err != nil {
		return s.staleLocked(t, err)
	}
	s.settleLocked(t)
	s.publishLocked()
	return nil
}

// staleLocked drops the scope of a ticket whose parent is gone.
func (s *Store) staleLocked(t Ticket, cause error) error {
	delete(s.scopes, t.Scope)
	s.publishLocked()
	return fmt.Errorf("%s: %w (%v)", t.Scope.Key(), domain.ErrStaleScope, cause)
}

// FailLoad marks the ticket's scope failed. Previously stored children are
// left as they are. A stale ticket is ignored.
func (s *Store) FailLoad(t Ticket, msg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.scopes[t.Scope]
	if !ok || e.gen != t.Gen || e.state.Status != domain.StatusLoading {
		s.logger.WithFields(log.Fields{"scope": t.Scope.Key(), "gen": t.Gen}).Debug("discarding failure for stale scope")
		return false
	}
	s.scopes[t.Scope] = scopeEntry{state: fetchState(e, domain.StatusFailed, msg), gen: t.Gen}
	s.ensureCollectionLocked(t.Scope)
	s.publishLocked()
	return true
}

// AbortLoad forgets the ticket's scope when the ticket is still current, as if
// the load never started. It reports whether anything changed.
func (s *Store) AbortLoad(t Ticket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.scopes[t.Scope]
	if !ok || e.gen != t.Gen || e.state.Status != domain.StatusLoading {
		return false
	}
	if e.state.MutationError != "" {
		s.scopes[t.Scope] = scopeEntry{state: fetchState(e, domain.StatusIdle, "")}
	} else {
		delete(s.scopes, t.Scope)
	}
	s.publishLocked()
	return true
}

// ensureCollectionLocked gives a known parent an empty child collection when
// none was ever stored, so a scope whose first load fails reads as empty
// rather than absent.
func (s *Store) ensureCollectionLocked(scope domain.Scope) {
	switch scope.Kind {
	case domain.ScopeBoard:
		if _, ok := s.boards[scope.ID]; ok && s.listsByBoard[scope.ID] == nil {
			s.listsByBoard[scope.ID] = []string{}
		}
	case domain.ScopeList:
		if _, ok := s.lists[scope.ID]; ok && s.cardsByList[scope.ID] == nil {
			s.cardsByList[scope.ID] = []string{}
		}
	case domain.ScopeCard:
		if _, ok := s.cards[scope.ID]; ok && s.checklistsByCard[scope.ID] == nil {
			s.checklistsByCard[scope.ID] = []string{}
		}
	}
}
