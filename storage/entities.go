package storage

import (
	"fmt"

	"board-mirror/domain"
)

// UpsertBoards replaces the board index. Boards absent from the result are
// dropped together with everything below them.
func (s *Store) UpsertBoards(boards []domain.Board) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertBoardsLocked(boards)
	s.publishLocked()
}

func (s *Store) upsertBoardsLocked(boards []domain.Board) {
	order := make([]string, 0, len(boards))
	keep := make(map[string]struct{}, len(boards))
	for _, b := range boards {
		if b.ID == "" {
			continue
		}
		if _, dup := keep[b.ID]; dup {
			continue
		}
		keep[b.ID] = struct{}{}
		order = append(order, b.ID)
		s.boards[b.ID] = b
	}
	for _, id := range append([]string(nil), s.boardOrder...) {
		if _, ok := keep[id]; !ok {
			s.dropBoardLocked(id)
		}
	}
	s.boardOrder = order
}

// UpsertListsForBoard replaces the lists of boardID.
func (s *Store) UpsertListsForBoard(boardID string, lists []domain.List) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.upsertListsLocked(boardID, lists); err != nil {
		return err
	}
	s.publishLocked()
	return nil
}

func (s *Store) upsertListsLocked(boardID string, lists []domain.List) error {
	if _, ok := s.boards[boardID]; !ok {
		return fmt.Errorf("board %s: %w", boardID, domain.ErrUnknownParent)
	}
	order := make([]string, 0, len(lists))
	keep := make(map[string]struct{}, len(lists))
	for _, l := range lists {
		if l.ID == "" || l.Closed {
			continue
		}
		if _, dup := keep[l.ID]; dup {
			continue
		}
		keep[l.ID] = struct{}{}
		order = append(order, l.ID)
		if prev, ok := s.lists[l.ID]; ok && prev.BoardID != boardID {
			s.listsByBoard[prev.BoardID] = removeID(s.listsByBoard[prev.BoardID], l.ID)
		}
		l.BoardID = boardID
		s.lists[l.ID] = l
	}
	for _, id := range append([]string(nil), s.listsByBoard[boardID]...) {
		if _, ok := keep[id]; !ok {
			s.dropListLocked(id)
		}
	}
	s.listsByBoard[boardID] = order
	return nil
}

// UpsertCardsForList replaces the cards of listID.
func (s *Store) UpsertCardsForList(listID string, cards []domain.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.upsertCardsLocked(listID, cards); err != nil {
		return err
	}
	s.publishLocked()
	return nil
}

func (s *Store) upsertCardsLocked(listID string, cards []domain.Card) error {
	if _, ok := s.lists[listID]; !ok {
		return fmt.Errorf("list %s: %w", listID, domain.ErrUnknownParent)
	}
	order := make([]string, 0, len(cards))
	keep := make(map[string]struct{}, len(cards))
	for _, c := range cards {
		if c.ID == "" {
			continue
		}
		if _, dup := keep[c.ID]; dup {
			continue
		}
		keep[c.ID] = struct{}{}
		order = append(order, c.ID)
		if prev, ok := s.cards[c.ID]; ok && prev.ListID != listID {
			s.cardsByList[prev.ListID] = removeID(s.cardsByList[prev.ListID], c.ID)
		}
		c.ListID = listID
		s.cards[c.ID] = c
	}
	for _, id := range append([]string(nil), s.cardsByList[listID]...) {
		if _, ok := keep[id]; !ok {
			s.dropCardLocked(id)
		}
	}
	s.cardsByList[listID] = order
	return nil
}

// UpsertChecklistsForCard replaces the checklists of cardID, items included.
func (s *Store) UpsertChecklistsForCard(cardID string, checklists []domain.Checklist) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.upsertChecklistsLocked(cardID, checklists); err != nil {
		return err
	}
	s.publishLocked()
	return nil
}

func (s *Store) upsertChecklistsLocked(cardID string, checklists []domain.Checklist) error {
	if _, ok := s.cards[cardID]; !ok {
		return fmt.Errorf("card %s: %w", cardID, domain.ErrUnknownParent)
	}
	order := make([]string, 0, len(checklists))
	keep := make(map[string]struct{}, len(checklists))
	for _, cl := range checklists {
		if cl.ID == "" {
			continue
		}
		if _, dup := keep[cl.ID]; dup {
			continue
		}
		keep[cl.ID] = struct{}{}
		order = append(order, cl.ID)
		if prev, ok := s.checklists[cl.ID]; ok && prev.CardID != cardID {
			s.checklistsByCard[prev.CardID] = removeID(s.checklistsByCard[prev.CardID], cl.ID)
		}
		s.putChecklistLocked(cardID, cl)
	}
	for _, id := range append([]string(nil), s.checklistsByCard[cardID]...) {
		if _, ok := keep[id]; !ok {
			s.dropChecklistLocked(id)
		}
	}
	s.checklistsByCard[cardID] = order
	return nil
}

// putChecklistLocked stores cl and replaces its items. It does not touch the
// card's checklist index.
func (s *Store) putChecklistLocked(cardID string, cl domain.Checklist) {
	items := cl.Items
	cl.CardID = cardID
	cl.Items = nil
	s.checklists[cl.ID] = cl

	order := make([]string, 0, len(items))
	keep := make(map[string]struct{}, len(items))
	for _, it := range items {
		if it.ID == "" {
			continue
		}
		if _, dup := keep[it.ID]; dup {
			continue
		}
		keep[it.ID] = struct{}{}
		order = append(order, it.ID)
		it.ChecklistID = cl.ID
		s.items[itemKey(cl.ID, it.ID)] = it
	}
	for _, id := range s.itemsByChecklist[cl.ID] {
		if _, ok := keep[id]; !ok {
			delete(s.items, itemKey(cl.ID, id))
		}
	}
	s.itemsByChecklist[cl.ID] = order
}

// AddBoard inserts b first in the board index, or replaces it in place.
func (s *Store) AddBoard(b domain.Board) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.boards[b.ID]; !ok {
		s.boardOrder = append([]string{b.ID}, s.boardOrder...)
	}
	s.boards[b.ID] = b
	s.publishLocked()
}

// AddList appends l to its board. A closed list is removed instead.
func (s *Store) AddList(boardID string, l domain.List) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.boards[boardID]; !ok {
		return fmt.Errorf("board %s: %w", boardID, domain.ErrUnknownParent)
	}
	if l.Closed {
		if _, ok := s.lists[l.ID]; ok {
			s.dropListLocked(l.ID)
			s.publishLocked()
		}
		return nil
	}
	if prev, ok := s.lists[l.ID]; ok && prev.BoardID != boardID {
		s.listsByBoard[prev.BoardID] = removeID(s.listsByBoard[prev.BoardID], l.ID)
	}
	l.BoardID = boardID
	s.lists[l.ID] = l
	s.listsByBoard[boardID] = appendUnique(s.listsByBoard[boardID], l.ID)
	s.publishLocked()
	return nil
}

// RemoveList drops a list and everything below it.
func (s *Store) RemoveList(listID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lists[listID]; !ok {
		return fmt.Errorf("list %s: %w", listID, domain.ErrNotFound)
	}
	s.dropListLocked(listID)
	s.publishLocked()
	return nil
}

// SetListClosed records the closed flag. Closing removes the list.
func (s *Store) SetListClosed(listID string, closed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lists[listID]
	if !ok {
		return fmt.Errorf("list %s: %w", listID, domain.ErrNotFound)
	}
	if closed {
		s.dropListLocked(listID)
	} else {
		l.Closed = false
		s.lists[listID] = l
	}
	s.publishLocked()
	return nil
}

func (s *Store) AddCard(listID string, c domain.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lists[listID]; !ok {
		return fmt.Errorf("list %s: %w", listID, domain.ErrUnknownParent)
	}
	if prev, ok := s.cards[c.ID]; ok && prev.ListID != listID {
		s.cardsByList[prev.ListID] = removeID(s.cardsByList[prev.ListID], c.ID)
	}
	c.ListID = listID
	s.cards[c.ID] = c
	s.cardsByList[listID] = appendUnique(s.cardsByList[listID], c.ID)
	s.publishLocked()
	return nil
}

func (s *Store) RemoveCard(cardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cards[cardID]; !ok {
		return fmt.Errorf("card %s: %w", cardID, domain.ErrNotFound)
	}
	s.dropCardLocked(cardID)
	s.publishLocked()
	return nil
}

// AddChecklist appends cl, with its items, to the card.
func (s *Store) AddChecklist(cardID string, cl domain.Checklist) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cards[cardID]; !ok {
		return fmt.Errorf("card %s: %w", cardID, domain.ErrUnknownParent)
	}
	if prev, ok := s.checklists[cl.ID]; ok && prev.CardID != cardID {
		s.checklistsByCard[prev.CardID] = removeID(s.checklistsByCard[prev.CardID], cl.ID)
	}
	s.putChecklistLocked(cardID, cl)
	s.checklistsByCard[cardID] = appendUnique(s.checklistsByCard[cardID], cl.ID)
	s.publishLocked()
	return nil
}

func (s *Store) RemoveChecklist(checklistID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.checklists[checklistID]; !ok {
		return fmt.Errorf("checklist %s: %w", checklistID, domain.ErrNotFound)
	}
	s.dropChecklistLocked(checklistID)
	s.publishLocked()
	return nil
}

func (s *Store) AddChecklistItem(checklistID string, it domain.ChecklistItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.checklists[checklistID]; !ok {
		return fmt.Errorf("checklist %s: %w", checklistID, domain.ErrUnknownParent)
	}
	it.ChecklistID = checklistID
	s.items[itemKey(checklistID, it.ID)] = it
	s.itemsByChecklist[checklistID] = appendUnique(s.itemsByChecklist[checklistID], it.ID)
	s.publishLocked()
	return nil
}

func (s *Store) RemoveChecklistItem(checklistID, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := itemKey(checklistID, itemID)
	if _, ok := s.items[key]; !ok {
		return fmt.Errorf("item %s in checklist %s: %w", itemID, checklistID, domain.ErrNotFound)
	}
	delete(s.items, key)
	s.itemsByChecklist[checklistID] = removeID(s.itemsByChecklist[checklistID], itemID)
	s.publishLocked()
	return nil
}

// SetItemState overwrites the state of one item and returns the previous one.
// Setting the current state again is a no-op.
func (s *Store) SetItemState(checklistID, itemID string, state domain.ItemState) (domain.ItemState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := itemKey(checklistID, itemID)
	it, ok := s.items[key]
	if !ok {
		return "", fmt.Errorf("item %s in checklist %s: %w", itemID, checklistID, domain.ErrNotFound)
	}
	prev := it.State
	if prev == state {
		return prev, nil
	}
	it.State = state
	s.items[key] = it
	s.publishLocked()
	return prev, nil
}

// CompareAndSetItemState sets the state only while the item still holds
// expect. It reports whether the write happened.
func (s *Store) CompareAndSetItemState(checklistID, itemID string, expect, state domain.ItemState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := itemKey(checklistID, itemID)
	it, ok := s.items[key]
	if !ok || it.State != expect {
		return false
	}
	if expect != state {
		it.State = state
		s.items[key] = it
		s.publishLocked()
	}
	return true
}

// Lookups.

func (s *Store) Board(id string) (domain.Board, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.boards[id]
	return b, ok
}

func (s *Store) List(id string) (domain.List, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lists[id]
	return l, ok
}

func (s *Store) Card(id string) (domain.Card, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[id]
	return c, ok
}

// Checklist returns the checklist with its items in order.
func (s *Store) Checklist(id string) (domain.Checklist, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cl, ok := s.checklists[id]
	if !ok {
		return domain.Checklist{}, false
	}
	cl.Items = s.itemsLocked(id)
	return cl, true
}

func (s *Store) ChecklistItem(checklistID, itemID string) (domain.ChecklistItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[itemKey(checklistID, itemID)]
	return it, ok
}

// CardOfChecklist resolves the owning card id of a checklist.
func (s *Store) CardOfChecklist(checklistID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cl, ok := s.checklists[checklistID]
	return cl.CardID, ok
}

func (s *Store) itemsLocked(checklistID string) []domain.ChecklistItem {
	ids := s.itemsByChecklist[checklistID]
	out := make([]domain.ChecklistItem, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.items[itemKey(checklistID, id)])
	}
	return out
}

// Cascading removal. Each drop detaches the entity from its parent index,
// drops its children and forgets its own fetch scope so in-flight loads for
// it become stale.

func (s *Store) dropBoardLocked(id string) {
	for _, listID := range append([]string(nil), s.listsByBoard[id]...) {
		s.dropListLocked(listID)
	}
	delete(s.listsByBoard, id)
	delete(s.boards, id)
	s.boardOrder = removeID(s.boardOrder, id)
	delete(s.scopes, domain.BoardScope(id))
}

func (s *Store) dropListLocked(id string) {
	for _, cardID := range append([]string(nil), s.cardsByList[id]...) {
		s.dropCardLocked(cardID)
	}
	delete(s.cardsByList, id)
	if l, ok := s.lists[id]; ok {
		s.listsByBoard[l.BoardID] = removeID(s.listsByBoard[l.BoardID], id)
	}
	delete(s.lists, id)
	delete(s.scopes, domain.ListScope(id))
}

func (s *Store) dropCardLocked(id string) {
	for _, clID := range append([]string(nil), s.checklistsByCard[id]...) {
		s.dropChecklistLocked(clID)
	}
	delete(s.checklistsByCard, id)
	if c, ok := s.cards[id]; ok {
		s.cardsByList[c.ListID] = removeID(s.cardsByList[c.ListID], id)
	}
	delete(s.cards, id)
	delete(s.scopes, domain.CardScope(id))
}

func (s *Store) dropChecklistLocked(id string) {
	for _, itemID := range s.itemsByChecklist[id] {
		delete(s.items, itemKey(id, itemID))
	}
	delete(s.itemsByChecklist, id)
	if cl, ok := s.checklists[id]; ok {
		s.checklistsByCard[cl.CardID] = removeID(s.checklistsByCard[cl.CardID], id)
	}
	delete(s.checklists, id)
}

// itemKey scopes item ids to their checklist; the remote service only
// addresses items through a checklist.
func itemKey(checklistID, itemID string) string {
	return checklistID + "/" + itemID
}
