package domain

import (
	"errors"
	"strings"
)

// ScopeKind identifies which parent a fetch scope is keyed under.
type ScopeKind string

const (
	ScopeBoards ScopeKind = "boards"
	ScopeBoard  ScopeKind = "board"
	ScopeList   ScopeKind = "list"
	ScopeCard   ScopeKind = "card"
)

// Scope is the unit of loading/error tracking: board:<id> for lists, list:<id>
// for cards, card:<id> for checklists, and the single root scope for the board
// index.
type Scope struct {
	Kind ScopeKind
	ID   string
}

func BoardsScope() Scope { return Scope{Kind: ScopeBoards} }

func BoardScope(id string) Scope { return Scope{Kind: ScopeBoard, ID: id} }

func ListScope(id string) Scope { return Scope{Kind: ScopeList, ID: id} }

func CardScope(id string) Scope { return Scope{Kind: ScopeCard, ID: id} }

func (s Scope) String() string { return s.Key() }

// Key renders the scope key.
func (s Scope) Key() string {
	if s.Kind == ScopeBoards {
		return string(ScopeBoards)
	}
	return string(s.Kind) + ":" + s.ID
}

// ParseScope is the inverse of Key.
func ParseScope(key string) (Scope, error) {
	if key == string(ScopeBoards) {
		return BoardsScope(), nil
	}
	kind, id, ok := strings.Cut(key, ":")
	if !ok || id == "" {
		return Scope{}, errors.New("malformed scope key")
	}
	switch ScopeKind(kind) {
	case ScopeBoard, ScopeList, ScopeCard:
		return Scope{Kind: ScopeKind(kind), ID: id}, nil
	default:
		return Scope{}, errors.New("unknown scope kind")
	}
}

// ScopeStatus follows idle -> loading -> {ready, failed}.
type ScopeStatus string

const (
	StatusIdle    ScopeStatus = "idle"
	StatusLoading ScopeStatus = "loading"
	StatusReady   ScopeStatus = "ready"
	StatusFailed  ScopeStatus = "failed"
)

// ScopeState is what the presentation layer renders for a scope.
// MutationError is the reason the last mutation under the scope failed. It is
// independent of Status, which only follows fetches.
type ScopeState struct {
	Status        ScopeStatus `json:"status"`
	Error         string      `json:"error,omitempty"`
	MutationError string      `json:"mutationError,omitempty"`
}
