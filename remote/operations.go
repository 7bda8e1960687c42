package remote

import (
	"context"
	"net/http"
	"net/url"

	"board-mirror/domain"
)

type prefsPayload struct {
	BackgroundColor string `json:"backgroundColor"`
	BackgroundImage string `json:"backgroundImage"`
}

type boardPayload struct {
	ID    string       `json:"id"`
	Name  string       `json:"name"`
	Prefs prefsPayload `json:"prefs"`
}

type listPayload struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Closed  bool   `json:"closed"`
	IDBoard string `json:"idBoard"`
}

type cardPayload struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	IDList string `json:"idList"`
}

type checkItemPayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	State       string `json:"state"`
	IDChecklist string `json:"idChecklist"`
}

type checklistPayload struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	IDCard     string             `json:"idCard"`
	CheckItems []checkItemPayload `json:"checkItems"`
}

func (p boardPayload) toDomain() domain.Board {
	return domain.Board{
		ID:    p.ID,
		Name:  p.Name,
		Prefs: domain.BoardPrefs{BackgroundColor: p.Prefs.BackgroundColor, BackgroundImage: p.Prefs.BackgroundImage},
	}
}

func (p listPayload) toDomain(boardID string) domain.List {
	if p.IDBoard != "" {
		boardID = p.IDBoard
	}
	return domain.List{ID: p.ID, BoardID: boardID, Name: p.Name, Closed: p.Closed}
}

func (p cardPayload) toDomain(listID string) domain.Card {
	if p.IDList != "" {
		listID = p.IDList
	}
	return domain.Card{ID: p.ID, ListID: listID, Name: p.Name}
}

func (p checkItemPayload) toDomain(checklistID string) domain.ChecklistItem {
	if p.IDChecklist != "" {
		checklistID = p.IDChecklist
	}
	state, err := domain.ParseItemState(p.State)
	if err != nil {
		state = domain.StateIncomplete
	}
	return domain.ChecklistItem{ID: p.ID, ChecklistID: checklistID, Name: p.Name, State: state}
}

// toDomain renames checkItems to Items; a checklist without items carries an
// empty, non-nil slice.
func (p checklistPayload) toDomain(cardID string) domain.Checklist {
	if p.IDCard != "" {
		cardID = p.IDCard
	}
	items := make([]domain.ChecklistItem, 0, len(p.CheckItems))
	for _, it := range p.CheckItems {
		items = append(items, it.toDomain(p.ID))
	}
	return domain.Checklist{ID: p.ID, CardID: cardID, Name: p.Name, Items: items}
}

// ListBoards returns the boards of the authenticated member.
func (c *Client) ListBoards(ctx context.Context) ([]domain.Board, error) {
	var payload []boardPayload
	if err := c.do(ctx, "list-boards", http.MethodGet, "/members/me/boards", nil, &payload); err != nil {
		return nil, err
	}
	out := make([]domain.Board, 0, len(payload))
	for _, b := range payload {
		out = append(out, b.toDomain())
	}
	return out, nil
}

// GetBoard fetches a single board.
func (c *Client) GetBoard(ctx context.Context, boardID string) (domain.Board, error) {
	var payload boardPayload
	if err := c.do(ctx, "get-board", http.MethodGet, "/boards/"+seg(boardID), nil, &payload); err != nil {
		return domain.Board{}, err
	}
	return payload.toDomain(), nil
}

func (c *Client) CreateBoard(ctx context.Context, name string) (domain.Board, error) {
	var payload boardPayload
	params := url.Values{"name": {name}}
	if err := c.do(ctx, "create-board", http.MethodPost, "/boards/", params, &payload); err != nil {
		return domain.Board{}, err
	}
	return payload.toDomain(), nil
}

// ListLists returns the open lists of a board; closed lists are dropped.
func (c *Client) ListLists(ctx context.Context, boardID string) ([]domain.List, error) {
	var payload []listPayload
	if err := c.do(ctx, "list-lists-for-board", http.MethodGet, "/boards/"+seg(boardID)+"/lists", nil, &payload); err != nil {
		return nil, err
	}
	out := make([]domain.List, 0, len(payload))
	for _, l := range payload {
		if l.Closed {
			continue
		}
		out = append(out, l.toDomain(boardID))
	}
	return out, nil
}

func (c *Client) CreateList(ctx context.Context, boardID, name string) (domain.List, error) {
	var payload listPayload
	params := url.Values{"name": {name}}
	if err := c.do(ctx, "create-list", http.MethodPost, "/boards/"+seg(boardID)+"/lists", params, &payload); err != nil {
		return domain.List{}, err
	}
	return payload.toDomain(boardID), nil
}

// CloseList archives a list on the remote side.
func (c *Client) CloseList(ctx context.Context, listID string) (domain.List, error) {
	var payload listPayload
	params := url.Values{"value": {"true"}}
	if err := c.do(ctx, "close-list", http.MethodPut, "/lists/"+seg(listID)+"/closed", params, &payload); err != nil {
		return domain.List{}, err
	}
	l := payload.toDomain("")
	if l.ID == "" {
		l.ID = listID
	}
	l.Closed = true
	return l, nil
}

func (c *Client) ListCards(ctx context.Context, listID string) ([]domain.Card, error) {
	var payload []cardPayload
	if err := c.do(ctx, "list-cards-for-list", http.MethodGet, "/lists/"+seg(listID)+"/cards", nil, &payload); err != nil {
		return nil, err
	}
	out := make([]domain.Card, 0, len(payload))
	for _, p := range payload {
		out = append(out, p.toDomain(listID))
	}
	return out, nil
}

func (c *Client) CreateCard(ctx context.Context, listID, name string) (domain.Card, error) {
	var payload cardPayload
	params := url.Values{"idList": {listID}, "name": {name}}
	if err := c.do(ctx, "create-card", http.MethodPost, "/cards", params, &payload); err != nil {
		return domain.Card{}, err
	}
	return payload.toDomain(listID), nil
}

func (c *Client) DeleteCard(ctx context.Context, cardID string) error {
	return c.do(ctx, "delete-card", http.MethodDelete, "/cards/"+seg(cardID), nil, nil)
}

// ListChecklists returns the checklists of a card with their items inline.
func (c *Client) ListChecklists(ctx context.Context, cardID string) ([]domain.Checklist, error) {
	var payload []checklistPayload
	if err := c.do(ctx, "list-checklists-for-card", http.MethodGet, "/cards/"+seg(cardID)+"/checklists", nil, &payload); err != nil {
		return nil, err
	}
	out := make([]domain.Checklist, 0, len(payload))
	for _, p := range payload {
		out = append(out, p.toDomain(cardID))
	}
	return out, nil
}

func (c *Client) CreateChecklist(ctx context.Context, cardID, name string) (domain.Checklist, error) {
	var payload checklistPayload
	params := url.Values{"idCard": {cardID}, "name": {name}}
	if err := c.do(ctx, "create-checklist", http.MethodPost, "/checklists", params, &payload); err != nil {
		return domain.Checklist{}, err
	}
	return payload.toDomain(cardID), nil
}

func (c *Client) AddChecklistItem(ctx context.Context, checklistID, name string) (domain.ChecklistItem, error) {
	var payload checkItemPayload
	params := url.Values{"name": {name}}
	if err := c.do(ctx, "add-checklist-item", http.MethodPost, "/checklists/"+seg(checklistID)+"/checkItems", params, &payload); err != nil {
		return domain.ChecklistItem{}, err
	}
	return payload.toDomain(checklistID), nil
}

// SetItemState is addressed through the card, as the remote API requires.
func (c *Client) SetItemState(ctx context.Context, cardID, itemID string, state domain.ItemState) error {
	params := url.Values{"state": {string(state)}}
	return c.do(ctx, "set-item-state", http.MethodPut, "/cards/"+seg(cardID)+"/checkItem/"+seg(itemID), params, nil)
}

func (c *Client) DeleteChecklist(ctx context.Context, checklistID string) error {
	return c.do(ctx, "delete-checklist", http.MethodDelete, "/checklists/"+seg(checklistID), nil, nil)
}

func (c *Client) DeleteChecklistItem(ctx context.Context, checklistID, itemID string) error {
	return c.do(ctx, "delete-checklist-item", http.MethodDelete, "/checklists/"+seg(checklistID)+"/checkItems/"+seg(itemID), nil, nil)
}
