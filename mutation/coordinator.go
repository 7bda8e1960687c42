// Package mutation applies user changes. The remote call always comes first
// and the store is only written once it succeeded; toggling a checklist item
// is the single exception and flips the item before the call, reverting it on
// failure.
package mutation

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"board-mirror/domain"
	"board-mirror/storage"
	"board-mirror/telemetry"
)

type Remote interface {
	CreateBoard(ctx context.Context, name string) (domain.Board, error)
	CreateList(ctx context.Context, boardID, name string) (domain.List, error)
	CloseList(ctx context.Context, listID string) (domain.List, error)
	CreateCard(ctx context.Context, listID, name string) (domain.Card, error)
	DeleteCard(ctx context.Context, cardID string) error
	CreateChecklist(ctx context.Context, cardID, name string) (domain.Checklist, error)
	AddChecklistItem(ctx context.Context, checklistID, name string) (domain.ChecklistItem, error)
	SetItemState(ctx context.Context, cardID, itemID string, state domain.ItemState) error
	DeleteChecklist(ctx context.Context, checklistID string) error
	DeleteChecklistItem(ctx context.Context, checklistID, itemID string) error
}

type Coordinator struct {
	remote Remote
	store  *storage.Store
	logger *log.Logger
}

func New(remote Remote, store *storage.Store, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Coordinator{remote: remote, store: store, logger: logger}
}

// run wraps one mutation with telemetry and turns failures into *Error,
// recording the reason as the scope's mutation error. A success clears it.
func (c *Coordinator) run(ctx context.Context, op string, scope domain.Scope, fn func(ctx context.Context) error) error {
	obs, ctx := telemetry.Start(ctx, c.logger, "mutation", op)
	obs.Set("scope", scope.Key())
	err := fn(ctx)
	obs.End(err)
	if err == nil {
		if scope.ID != "" || scope.Kind == domain.ScopeBoards {
			c.store.SetMutationError(scope, "")
		}
		return nil
	}
	merr := &Error{Op: op, Scope: scope, Reason: reason(err), Err: err}
	// input and lookup errors never reached the remote side
	if !errors.Is(err, domain.ErrEmptyName) && !errors.Is(err, domain.ErrNotFound) {
		c.store.SetMutationError(scope, merr.Reason)
	}
	return merr
}

// applied logs a store write that failed after the remote side accepted the
// change, which happens when a concurrent refresh dropped the parent.
func (c *Coordinator) applied(op string, err error) {
	if err != nil {
		c.logger.WithFields(log.Fields{"op": op, "error": err}).Warn("remote change not mirrored")
	}
}

func (c *Coordinator) CreateBoard(ctx context.Context, name string) (domain.Board, error) {
	var board domain.Board
	err := c.run(ctx, "create_board", domain.BoardsScope(), func(ctx context.Context) error {
		name, err := domain.ValidName(name)
		if err != nil {
			return err
		}
		board, err = c.remote.CreateBoard(ctx, name)
		if err != nil {
			return err
		}
		c.store.AddBoard(board)
		return nil
	})
	return board, err
}

func (c *Coordinator) CreateList(ctx context.Context, boardID, name string) (domain.List, error) {
	var list domain.List
	err := c.run(ctx, "create_list", domain.BoardScope(boardID), func(ctx context.Context) error {
		name, err := domain.ValidName(name)
		if err != nil {
			return err
		}
		if _, ok := c.store.Board(boardID); !ok {
			return fmt.Errorf("board %s: %w", boardID, domain.ErrNotFound)
		}
		list, err = c.remote.CreateList(ctx, boardID, name)
		if err != nil {
			return err
		}
		c.applied("create_list", c.store.AddList(boardID, list))
		return nil
	})
	return list, err
}

// CloseList archives a list; the list and everything below it leave the mirror.
func (c *Coordinator) CloseList(ctx context.Context, listID string) error {
	list, ok := c.store.List(listID)
	if !ok {
		return &Error{Op: "close_list", Scope: domain.ListScope(listID), Reason: "not found", Err: fmt.Errorf("list %s: %w", listID, domain.ErrNotFound)}
	}
	return c.run(ctx, "close_list", domain.BoardScope(list.BoardID), func(ctx context.Context) error {
		if _, err := c.remote.CloseList(ctx, listID); err != nil {
			return err
		}
		c.applied("close_list", c.store.SetListClosed(listID, true))
		return nil
	})
}

func (c *Coordinator) CreateCard(ctx context.Context, listID, name string) (domain.Card, error) {
	var card domain.Card
	err := c.run(ctx, "create_card", domain.ListScope(listID), func(ctx context.Context) error {
		name, err := domain.ValidName(name)
		if err != nil {
			return err
		}
		if _, ok := c.store.List(listID); !ok {
			return fmt.Errorf("list %s: %w", listID, domain.ErrNotFound)
		}
		card, err = c.remote.CreateCard(ctx, listID, name)
		if err != nil {
			return err
		}
		c.applied("create_card", c.store.AddCard(listID, card))
		return nil
	})
	return card, err
}

func (c *Coordinator) DeleteCard(ctx context.Context, cardID string) error {
	card, ok := c.store.Card(cardID)
	if !ok {
		return &Error{Op: "delete_card", Scope: domain.CardScope(cardID), Reason: "not found", Err: fmt.Errorf("card %s: %w", cardID, domain.ErrNotFound)}
	}
	return c.run(ctx, "delete_card", domain.ListScope(card.ListID), func(ctx context.Context) error {
		if err := c.remote.DeleteCard(ctx, cardID); err != nil {
			return err
		}
		c.applied("delete_card", c.store.RemoveCard(cardID))
		return nil
	})
}

func (c *Coordinator) CreateChecklist(ctx context.Context, cardID, name string) (domain.Checklist, error) {
	var cl domain.Checklist
	err := c.run(ctx, "create_checklist", domain.CardScope(cardID), func(ctx context.Context) error {
		name, err := domain.ValidName(name)
		if err != nil {
			return err
		}
		if _, ok := c.store.Card(cardID); !ok {
			return fmt.Errorf("card %s: %w", cardID, domain.ErrNotFound)
		}
		cl, err = c.remote.CreateChecklist(ctx, cardID, name)
		if err != nil {
			return err
		}
		c.applied("create_checklist", c.store.AddChecklist(cardID, cl))
		return nil
	})
	return cl, err
}

// checklistScope resolves the card scope that owns a checklist.
func (c *Coordinator) checklistScope(op, checklistID string) (string, error) {
	cardID, ok := c.store.CardOfChecklist(checklistID)
	if !ok {
		err := fmt.Errorf("checklist %s: %w", checklistID, domain.ErrNotFound)
		return "", &Error{Op: op, Scope: domain.Scope{Kind: domain.ScopeCard}, Reason: "not found", Err: err}
	}
	return cardID, nil
}

func (c *Coordinator) AddChecklistItem(ctx context.Context, checklistID, name string) (domain.ChecklistItem, error) {
	cardID, err := c.checklistScope("add_checklist_item", checklistID)
	if err != nil {
		return domain.ChecklistItem{}, err
	}
	var item domain.ChecklistItem
	err = c.run(ctx, "add_checklist_item", domain.CardScope(cardID), func(ctx context.Context) error {
		name, err := domain.ValidName(name)
		if err != nil {
			return err
		}
		item, err = c.remote.AddChecklistItem(ctx, checklistID, name)
		if err != nil {
			return err
		}
		c.applied("add_checklist_item", c.store.AddChecklistItem(checklistID, item))
		return nil
	})
	return item, err
}

// ToggleChecklistItem flips the item immediately and asks the remote side to
// follow. On failure the flip is undone unless the item changed again in the
// meantime. It returns the state the item ends up in.
func (c *Coordinator) ToggleChecklistItem(ctx context.Context, checklistID, itemID string) (domain.ItemState, error) {
	cardID, err := c.checklistScope("toggle_checklist_item", checklistID)
	if err != nil {
		return "", err
	}
	var state domain.ItemState
	err = c.run(ctx, "toggle_checklist_item", domain.CardScope(cardID), func(ctx context.Context) error {
		item, ok := c.store.ChecklistItem(checklistID, itemID)
		if !ok {
			return fmt.Errorf("item %s: %w", itemID, domain.ErrNotFound)
		}
		next := item.State.Toggle()
		prev, err := c.store.SetItemState(checklistID, itemID, next)
		if err != nil {
			return err
		}
		state = next
		if err := c.remote.SetItemState(ctx, cardID, itemID, next); err != nil {
			if c.store.CompareAndSetItemState(checklistID, itemID, next, prev) {
				state = prev
			} else if current, ok := c.store.ChecklistItem(checklistID, itemID); ok {
				c.logger.WithFields(log.Fields{"checklist_id": checklistID, "item_id": itemID}).Debug("item changed before revert, keeping newer state")
				state = current.State
			}
			return err
		}
		return nil
	})
	return state, err
}

func (c *Coordinator) DeleteChecklist(ctx context.Context, checklistID string) error {
	cardID, err := c.checklistScope("delete_checklist", checklistID)
	if err != nil {
		return err
	}
	return c.run(ctx, "delete_checklist", domain.CardScope(cardID), func(ctx context.Context) error {
		if err := c.remote.DeleteChecklist(ctx, checklistID); err != nil {
			return err
		}
		c.applied("delete_checklist", c.store.RemoveChecklist(checklistID))
		return nil
	})
}

func (c *Coordinator) DeleteChecklistItem(ctx context.Context, checklistID, itemID string) error {
	cardID, err := c.checklistScope("delete_checklist_item", checklistID)
	if err != nil {
		return err
	}
	return c.run(ctx, "delete_checklist_item", domain.CardScope(cardID), func(ctx context.Context) error {
		if _, ok := c.store.ChecklistItem(checklistID, itemID); !ok {
			return fmt.Errorf("item %s: %w", itemID, domain.ErrNotFound)
		}
		if err := c.remote.DeleteChecklistItem(ctx, checklistID, itemID); err != nil {
			return err
		}
		c.applied("delete_checklist_item", c.store.RemoveChecklistItem(checklistID, itemID))
		return nil
	})
}
