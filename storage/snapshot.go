package storage

import "board-mirror/domain"

// ChecklistView is a checklist as rendered, with its completion percentage.
type ChecklistView struct {
	domain.Checklist
	Completion int `json:"completion"`
}

// Snapshot is an immutable, fully materialized view of the store. A parent
// appears as a key in the child maps once its collection was set or its first
// load started, even when that collection is empty.
type Snapshot struct {
	Version          uint64                       `json:"version"`
	Boards           []domain.Board               `json:"boards"`
	ListsByBoard     map[string][]domain.List     `json:"listsByBoard"`
	CardsByList      map[string][]domain.Card     `json:"cardsByList"`
	ChecklistsByCard map[string][]ChecklistView   `json:"checklistsByCard"`
	Scopes           map[string]domain.ScopeState `json:"scopes"`
}

// Scope returns the state of a scope as of this snapshot.
func (s *Snapshot) Scope(scope domain.Scope) domain.ScopeState {
	if st, ok := s.Scopes[scope.Key()]; ok {
		return st
	}
	return domain.ScopeState{Status: domain.StatusIdle}
}

// Lists returns the lists of a board, nil when never loaded.
func (s *Snapshot) Lists(boardID string) []domain.List { return s.ListsByBoard[boardID] }

func (s *Snapshot) Cards(listID string) []domain.Card { return s.CardsByList[listID] }

func (s *Snapshot) Checklists(cardID string) []ChecklistView { return s.ChecklistsByCard[cardID] }

func (s *Store) buildSnapshotLocked() *Snapshot {
	snap := &Snapshot{
		Version:          s.version,
		Boards:           make([]domain.Board, 0, len(s.boardOrder)),
		ListsByBoard:     make(map[string][]domain.List, len(s.listsByBoard)),
		CardsByList:      make(map[string][]domain.Card, len(s.cardsByList)),
		ChecklistsByCard: make(map[string][]ChecklistView, len(s.checklistsByCard)),
		Scopes:           make(map[string]domain.ScopeState, len(s.scopes)),
	}
	for _, id := range s.boardOrder {
		snap.Boards = append(snap.Boards, s.boards[id])
	}
	for boardID, ids := range s.listsByBoard {
		lists := make([]domain.List, 0, len(ids))
		for _, id := range ids {
			lists = append(lists, s.lists[id])
		}
		snap.ListsByBoard[boardID] = lists
	}
	for listID, ids := range s.cardsByList {
		cards := make([]domain.Card, 0, len(ids))
		for _, id := range ids {
			cards = append(cards, s.cards[id])
		}
		snap.CardsByList[listID] = cards
	}
	for cardID, ids := range s.checklistsByCard {
		views := make([]ChecklistView, 0, len(ids))
		for _, id := range ids {
			cl := s.checklists[id]
			cl.Items = s.itemsLocked(id)
			views = append(views, ChecklistView{Checklist: cl, Completion: cl.Completion()})
		}
		snap.ChecklistsByCard[cardID] = views
	}
	for scope, e := range s.scopes {
		snap.Scopes[scope.Key()] = e.state
	}
	return snap
}
