package api

import (
	"context"

	"board-mirror/domain"
	"board-mirror/fetch"
	"board-mirror/storage"
)

// Store is the read side of the mirror.
type Store interface {
	Snapshot() *storage.Snapshot
	Subscribe() (<-chan uint64, func())
}

// Fetcher loads remote collections into the mirror.
type Fetcher interface {
	LoadBoards(ctx context.Context) error
	LoadBoardDetail(ctx context.Context, boardID string) (*fetch.Report, error)
	LoadChecklistsForCard(ctx context.Context, cardID string) error
	Abandon(boardID string)
}

// Mutator applies user changes.
type Mutator interface {
	CreateBoard(ctx context.Context, name string) (domain.Board, error)
	CreateList(ctx context.Context, boardID, name string) (domain.List, error)
	CloseList(ctx context.Context, listID string) error
	CreateCard(ctx context.Context, listID, name string) (domain.Card, error)
	DeleteCard(ctx context.Context, cardID string) error
	CreateChecklist(ctx context.Context, cardID, name string) (domain.Checklist, error)
	AddChecklistItem(ctx context.Context, checklistID, name string) (domain.ChecklistItem, error)
	ToggleChecklistItem(ctx context.Context, checklistID, itemID string) (domain.ItemState, error)
	DeleteChecklist(ctx context.Context, checklistID string) error
	DeleteChecklistItem(ctx context.Context, checklistID, itemID string) error
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents a mutation from being applied twice for one idempotency key.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when the mutation fails.
	Remove(ctx context.Context, userID, key string) error
}

const maxBodySize = 16 * 1024

type nameRequest struct {
	Name string `json:"name"`
}

type errorResponse struct {
	Error string `json:"error"`
	Scope string `json:"scope,omitempty"`
}

type scopeResponse struct {
	Scope string            `json:"scope"`
	State domain.ScopeState `json:"state"`
}

type toggleResponse struct {
	ChecklistID string           `json:"checklistId"`
	ItemID      string           `json:"itemId"`
	State       domain.ItemState `json:"state"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Version uint64 `json:"version"`
}
