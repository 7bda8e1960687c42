package mutation

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"

	"board-mirror/domain"
	"board-mirror/remote"
	"board-mirror/storage"
)

// stubRemote records calls; every func field left nil fails the test through
// a panic, so tests only wire what they expect to be called.
type stubRemote struct {
	calls int

	createBoard     func(ctx context.Context, name string) (domain.Board, error)
	createList      func(ctx context.Context, boardID, name string) (domain.List, error)
	closeList       func(ctx context.Context, listID string) (domain.List, error)
	createCard      func(ctx context.Context, listID, name string) (domain.Card, error)
	deleteCard      func(ctx context.Context, cardID string) error
	createChecklist func(ctx context.Context, cardID, name string) (domain.Checklist, error)
	addItem         func(ctx context.Context, checklistID, name string) (domain.ChecklistItem, error)
	setItemState    func(ctx context.Context, cardID, itemID string, state domain.ItemState) error
	deleteChecklist func(ctx context.Context, checklistID string) error
	deleteItem      func(ctx context.Context, checklistID, itemID string) error
}

func (s *stubRemote) CreateBoard(ctx context.Context, name string) (domain.Board, error) {
	s.calls++
	return s.createBoard(ctx, name)
}

func (s *stubRemote) CreateList(ctx context.Context, boardID, name string) (domain.List, error) {
	s.calls++
	return s.createList(ctx, boardID, name)
}

func (s *stubRemote) CloseList(ctx context.Context, listID string) (domain.List, error) {
	s.calls++
	return s.closeList(ctx, listID)
}

func (s *stubRemote) CreateCard(ctx context.Context, listID, name string) (domain.Card, error) {
	s.calls++
	return s.createCard(ctx, listID, name)
}

func (s *stubRemote) DeleteCard(ctx context.Context, cardID string) error {
	s.calls++
	return s.deleteCard(ctx, cardID)
}

func (s *stubRemote) CreateChecklist(ctx context.Context, cardID, name string) (domain.Checklist, error) {
	s.calls++
	return s.createChecklist(ctx, cardID, name)
}

func (s *stubRemote) AddChecklistItem(ctx context.Context, checklistID, name string) (domain.ChecklistItem, error) {
	s.calls++
	return s.addItem(ctx, checklistID, name)
}

func (s *stubRemote) SetItemState(ctx context.Context, cardID, itemID string, state domain.ItemState) error {
	s.calls++
	return s.setItemState(ctx, cardID, itemID, state)
}

func (s *stubRemote) DeleteChecklist(ctx context.Context, checklistID string) error {
	s.calls++
	return s.deleteChecklist(ctx, checklistID)
}

func (s *stubRemote) DeleteChecklistItem(ctx context.Context, checklistID, itemID string) error {
	s.calls++
	return s.deleteItem(ctx, checklistID, itemID)
}

var rejected = &remote.Error{Op: "stub", StatusCode: http.StatusUnauthorized, Cause: errors.New("invalid token")}

func newTestCoordinator(t *testing.T, r *stubRemote) (*Coordinator, *storage.Store) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	st := storage.New(logger)
	st.UpsertBoards([]domain.Board{{ID: "b1", Name: "Home"}})
	if err := st.UpsertListsForBoard("b1", []domain.List{{ID: "l1"}, {ID: "l2"}}); err != nil {
		t.Fatalf("lists: %v", err)
	}
	if err := st.UpsertCardsForList("l1", []domain.Card{{ID: "c1"}}); err != nil {
		t.Fatalf("cards: %v", err)
	}
	err := st.UpsertChecklistsForCard("c1", []domain.Checklist{{ID: "k1", Items: []domain.ChecklistItem{
		{ID: "i1", State: domain.StateIncomplete},
	}}})
	if err != nil {
		t.Fatalf("checklists: %v", err)
	}
	return New(r, st, logger), st
}

func TestCreateCardAppearsOnceAfterConfirmation(t *testing.T) {
	r := &stubRemote{createCard: func(_ context.Context, listID, name string) (domain.Card, error) {
		if name != "Write report" {
			return domain.Card{}, errors.New("name not trimmed")
		}
		return domain.Card{ID: "c2", ListID: listID, Name: name}, nil
	}}
	c, st := newTestCoordinator(t, r)

	card, err := c.CreateCard(context.Background(), "l2", "  Write report ")
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	if card.ID != "c2" {
		t.Fatalf("unexpected card %#v", card)
	}
	cards := st.Snapshot().Cards("l2")
	if len(cards) != 1 || cards[0].ID != "c2" {
		t.Fatalf("expected c2 exactly once, got %#v", cards)
	}
}

func TestFailedCreateLeavesStoreUntouched(t *testing.T) {
	r := &stubRemote{createCard: func(context.Context, string, string) (domain.Card, error) {
		return domain.Card{}, rejected
	}}
	c, st := newTestCoordinator(t, r)
	before := st.Snapshot()

	_, err := c.CreateCard(context.Background(), "l2", "Write report")
	var merr *Error
	if !errors.As(err, &merr) {
		t.Fatalf("expected mutation error, got %v", err)
	}
	if !errors.Is(err, remote.ErrRejected) || merr.Reason == "" {
		t.Fatalf("unexpected error %#v", merr)
	}
	after := st.Snapshot()
	if len(after.Cards("l2")) != len(before.Cards("l2")) {
		t.Fatalf("store changed after failed create")
	}
	if s := after.Scope(domain.ListScope("l2")); s.Status != domain.StatusIdle || s.Error != "" || s.MutationError != merr.Reason {
		t.Fatalf("expected mutation error beside an untouched fetch state, got %#v", s)
	}
}

func TestFailedMutationLeavesInFlightFetchAlone(t *testing.T) {
	r := &stubRemote{createCard: func(context.Context, string, string) (domain.Card, error) {
		return domain.Card{}, rejected
	}}
	c, st := newTestCoordinator(t, r)
	scope := domain.ListScope("l2")

	tk, ok := st.BeginLoad(scope)
	if !ok {
		t.Fatalf("begin load refused")
	}
	if _, err := c.CreateCard(context.Background(), "l2", "Write report"); err == nil {
		t.Fatalf("expected error")
	}
	if s := st.ScopeState(scope); s.Status != domain.StatusLoading || s.MutationError == "" {
		t.Fatalf("expected loading scope with mutation error, got %#v", s)
	}
	if _, ok := st.BeginLoad(scope); ok {
		t.Fatalf("second load started while the first is in flight")
	}
	if err := st.CommitCards(tk, []domain.Card{{ID: "c9"}}); err != nil {
		t.Fatalf("commit of in-flight fetch: %v", err)
	}
	cards := st.Snapshot().Cards("l2")
	if len(cards) != 1 || cards[0].ID != "c9" {
		t.Fatalf("fetched cards lost: %#v", cards)
	}
	if s := st.ScopeState(scope); s.Status != domain.StatusReady || s.MutationError == "" {
		t.Fatalf("expected ready scope keeping the mutation error, got %#v", s)
	}

	r.createCard = func(_ context.Context, listID, name string) (domain.Card, error) {
		return domain.Card{ID: "c10", ListID: listID, Name: name}, nil
	}
	if _, err := c.CreateCard(context.Background(), "l2", "Write report"); err != nil {
		t.Fatalf("create card: %v", err)
	}
	if s := st.ScopeState(scope); s.Status != domain.StatusReady || s.MutationError != "" {
		t.Fatalf("expected success to clear the mutation error, got %#v", s)
	}
}

func TestBlankNameRejectedBeforeRemoteCall(t *testing.T) {
	r := &stubRemote{}
	c, st := newTestCoordinator(t, r)

	if _, err := c.CreateBoard(context.Background(), "   "); !errors.Is(err, domain.ErrEmptyName) {
		t.Fatalf("expected empty name error, got %v", err)
	}
	if _, err := c.CreateChecklist(context.Background(), "c1", ""); !errors.Is(err, domain.ErrEmptyName) {
		t.Fatalf("expected empty name error, got %v", err)
	}
	if r.calls != 0 {
		t.Fatalf("remote called %d times", r.calls)
	}
	if s := st.ScopeState(domain.BoardsScope()); s.Status != domain.StatusIdle {
		t.Fatalf("input error recorded on scope: %#v", s)
	}
}

func TestCreateBoardGoesFirst(t *testing.T) {
	r := &stubRemote{createBoard: func(_ context.Context, name string) (domain.Board, error) {
		return domain.Board{ID: "b2", Name: name}, nil
	}}
	c, st := newTestCoordinator(t, r)
	if _, err := c.CreateBoard(context.Background(), "Work"); err != nil {
		t.Fatalf("create board: %v", err)
	}
	boards := st.Snapshot().Boards
	if len(boards) != 2 || boards[0].ID != "b2" {
		t.Fatalf("expected new board first, got %#v", boards)
	}
}

func TestCreateListUnknownBoard(t *testing.T) {
	r := &stubRemote{}
	c, _ := newTestCoordinator(t, r)
	if _, err := c.CreateList(context.Background(), "nope", "Todo"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if r.calls != 0 {
		t.Fatalf("remote called for unknown board")
	}
}

func TestCreateListAppends(t *testing.T) {
	r := &stubRemote{createList: func(_ context.Context, boardID, name string) (domain.List, error) {
		return domain.List{ID: "l3", BoardID: boardID, Name: name}, nil
	}}
	c, st := newTestCoordinator(t, r)
	if _, err := c.CreateList(context.Background(), "b1", "Later"); err != nil {
		t.Fatalf("create list: %v", err)
	}
	lists := st.Snapshot().Lists("b1")
	if len(lists) != 3 || lists[2].ID != "l3" {
		t.Fatalf("unexpected lists %#v", lists)
	}
}

func TestCloseListRemovesSubtree(t *testing.T) {
	r := &stubRemote{closeList: func(_ context.Context, listID string) (domain.List, error) {
		return domain.List{ID: listID, Closed: true}, nil
	}}
	c, st := newTestCoordinator(t, r)
	if err := c.CloseList(context.Background(), "l1"); err != nil {
		t.Fatalf("close list: %v", err)
	}
	if _, ok := st.Card("c1"); ok {
		t.Fatalf("card of closed list kept")
	}
	if _, ok := st.Checklist("k1"); ok {
		t.Fatalf("checklist of closed list kept")
	}
}

func TestDeleteCardRemovesChecklists(t *testing.T) {
	r := &stubRemote{deleteCard: func(context.Context, string) error { return nil }}
	c, st := newTestCoordinator(t, r)
	if err := c.DeleteCard(context.Background(), "c1"); err != nil {
		t.Fatalf("delete card: %v", err)
	}
	if _, ok := st.Card("c1"); ok {
		t.Fatalf("card kept")
	}
	if _, ok := st.Checklist("k1"); ok {
		t.Fatalf("checklist of deleted card kept")
	}
	if _, ok := st.ChecklistItem("k1", "i1"); ok {
		t.Fatalf("item of deleted card kept")
	}
	snap := st.Snapshot()
	if _, ok := snap.ChecklistsByCard["c1"]; ok {
		t.Fatalf("snapshot still indexes checklists of c1")
	}
	if len(snap.Cards("l1")) != 0 {
		t.Fatalf("card still listed: %#v", snap.Cards("l1"))
	}
}

func TestDeleteCardFailureKeepsCard(t *testing.T) {
	r := &stubRemote{deleteCard: func(context.Context, string) error {
		return &remote.Error{Op: "delete-card", Cause: errors.New("dial tcp: refused")}
	}}
	c, st := newTestCoordinator(t, r)
	err := c.DeleteCard(context.Background(), "c1")
	if !errors.Is(err, remote.ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
	if _, ok := st.Card("c1"); !ok {
		t.Fatalf("card removed despite failure")
	}
	if err := c.DeleteCard(context.Background(), "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestToggleRevertsOnFailure(t *testing.T) {
	var sent domain.ItemState
	var sentCard string
	r := &stubRemote{setItemState: func(_ context.Context, cardID, _ string, state domain.ItemState) error {
		sentCard, sent = cardID, state
		return rejected
	}}
	c, st := newTestCoordinator(t, r)

	state, err := c.ToggleChecklistItem(context.Background(), "k1", "i1")
	if err == nil {
		t.Fatalf("expected error")
	}
	if sent != domain.StateComplete || sentCard != "c1" {
		t.Fatalf("unexpected remote call card=%q state=%q", sentCard, sent)
	}
	if state != domain.StateIncomplete {
		t.Fatalf("expected reverted state, got %q", state)
	}
	if it, _ := st.ChecklistItem("k1", "i1"); it.State != domain.StateIncomplete {
		t.Fatalf("item not reverted: %q", it.State)
	}
	if s := st.ScopeState(domain.CardScope("c1")); s.MutationError == "" {
		t.Fatalf("expected card scope mutation error, got %#v", s)
	}
}

func TestToggleTwiceRestoresState(t *testing.T) {
	var sent []domain.ItemState
	r := &stubRemote{setItemState: func(_ context.Context, _, _ string, state domain.ItemState) error {
		sent = append(sent, state)
		return nil
	}}
	c, st := newTestCoordinator(t, r)
	ctx := context.Background()

	first, err := c.ToggleChecklistItem(ctx, "k1", "i1")
	if err != nil || first != domain.StateComplete {
		t.Fatalf("first toggle: %q %v", first, err)
	}
	second, err := c.ToggleChecklistItem(ctx, "k1", "i1")
	if err != nil || second != domain.StateIncomplete {
		t.Fatalf("second toggle: %q %v", second, err)
	}
	if it, _ := st.ChecklistItem("k1", "i1"); it.State != domain.StateIncomplete {
		t.Fatalf("expected original state, got %q", it.State)
	}
	if len(sent) != 2 || sent[0] != domain.StateComplete || sent[1] != domain.StateIncomplete {
		t.Fatalf("unexpected remote states %v", sent)
	}
	if cl := st.Snapshot().Checklists("c1")[0]; cl.Completion != 0 {
		t.Fatalf("unexpected completion %d", cl.Completion)
	}
}

func TestToggleAppliesBeforeConfirmation(t *testing.T) {
	c, st := newTestCoordinator(t, &stubRemote{})
	seen := domain.ItemState("")
	c.remote = &stubRemote{setItemState: func(context.Context, string, string, domain.ItemState) error {
		it, _ := st.ChecklistItem("k1", "i1")
		seen = it.State
		return nil
	}}

	state, err := c.ToggleChecklistItem(context.Background(), "k1", "i1")
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if seen != domain.StateComplete || state != domain.StateComplete {
		t.Fatalf("expected eager flip, saw %q returned %q", seen, state)
	}
	cl := st.Snapshot().Checklists("c1")[0]
	if cl.Completion != 100 {
		t.Fatalf("unexpected completion %d", cl.Completion)
	}
}

func TestToggleRevertSkipsNewerChange(t *testing.T) {
	c, st := newTestCoordinator(t, &stubRemote{})
	var version uint64
	c.remote = &stubRemote{setItemState: func(context.Context, string, string, domain.ItemState) error {
		// a later change lands while this request is in flight
		if _, err := st.SetItemState("k1", "i1", domain.StateIncomplete); err != nil {
			return err
		}
		version = st.Snapshot().Version
		return rejected
	}}

	state, err := c.ToggleChecklistItem(context.Background(), "k1", "i1")
	if err == nil {
		t.Fatalf("expected error")
	}
	if state != domain.StateIncomplete {
		t.Fatalf("expected current state, got %q", state)
	}
	if st.Snapshot().Version != version+1 {
		// the only write after the newer change is the mutation error
		t.Fatalf("revert wrote over the newer change: version %d -> %d", version, st.Snapshot().Version)
	}
}

func TestChecklistOperations(t *testing.T) {
	r := &stubRemote{
		createChecklist: func(_ context.Context, cardID, name string) (domain.Checklist, error) {
			return domain.Checklist{ID: "k2", CardID: cardID, Name: name, Items: []domain.ChecklistItem{}}, nil
		},
		addItem: func(_ context.Context, checklistID, name string) (domain.ChecklistItem, error) {
			return domain.ChecklistItem{ID: "i9", ChecklistID: checklistID, Name: name, State: domain.StateIncomplete}, nil
		},
		deleteItem:      func(context.Context, string, string) error { return nil },
		deleteChecklist: func(context.Context, string) error { return nil },
	}
	c, st := newTestCoordinator(t, r)
	ctx := context.Background()

	if _, err := c.CreateChecklist(ctx, "c1", "Release"); err != nil {
		t.Fatalf("create checklist: %v", err)
	}
	if _, err := c.AddChecklistItem(ctx, "k2", "Tag"); err != nil {
		t.Fatalf("add item: %v", err)
	}
	cl, ok := st.Checklist("k2")
	if !ok || len(cl.Items) != 1 || cl.Items[0].ID != "i9" {
		t.Fatalf("unexpected checklist %#v", cl)
	}
	if err := c.DeleteChecklistItem(ctx, "k2", "i9"); err != nil {
		t.Fatalf("delete item: %v", err)
	}
	if err := c.DeleteChecklist(ctx, "k2"); err != nil {
		t.Fatalf("delete checklist: %v", err)
	}
	if _, ok := st.Checklist("k2"); ok {
		t.Fatalf("checklist kept after delete")
	}
	if err := c.DeleteChecklist(ctx, "k2"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
