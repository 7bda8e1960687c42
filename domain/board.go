package domain

import (
	"fmt"
	"math"
	"strings"
)

// BoardPrefs carries the optional display preferences of a board.
type BoardPrefs struct {
	BackgroundColor string `json:"backgroundColor,omitempty"`
	BackgroundImage string `json:"backgroundImage,omitempty"`
}

// Board is the root of the hierarchy.
type Board struct {
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	Prefs BoardPrefs `json:"prefs"`
}

// List is a column on a board. Closed lists are never kept in the mirror.
type List struct {
	ID      string `json:"id"`
	BoardID string `json:"boardId"`
	Name    string `json:"name"`
	Closed  bool   `json:"closed"`
}

// Card belongs to a list.
type Card struct {
	ID     string `json:"id"`
	ListID string `json:"listId"`
	Name   string `json:"name"`
}

// ItemState is the completion state of a checklist item.
type ItemState string

const (
	StateComplete   ItemState = "complete"
	StateIncomplete ItemState = "incomplete"
)

// ParseItemState validates a raw state value.
func ParseItemState(raw string) (ItemState, error) {
	switch s := ItemState(strings.ToLower(strings.TrimSpace(raw))); s {
	case StateComplete, StateIncomplete:
		return s, nil
	default:
		return "", fmt.Errorf("invalid item state %q", raw)
	}
}

// Toggle returns the opposite state.
func (s ItemState) Toggle() ItemState {
	if s == StateComplete {
		return StateIncomplete
	}
	return StateComplete
}

// ChecklistItem is always addressed through its checklist.
type ChecklistItem struct {
	ID          string    `json:"id"`
	ChecklistID string    `json:"checklistId"`
	Name        string    `json:"name"`
	State       ItemState `json:"state"`
}

// Checklist belongs to a card and embeds its items.
type Checklist struct {
	ID     string          `json:"id"`
	CardID string          `json:"cardId"`
	Name   string          `json:"name"`
	Items  []ChecklistItem `json:"items"`
}

// Completion returns the rounded percentage of complete items.
func (c Checklist) Completion() int {
	if len(c.Items) == 0 {
		return 0
	}
	done := 0
	for _, it := range c.Items {
		if it.State == StateComplete {
			done++
		}
	}
	return int(math.Round(float64(done) * 100 / float64(len(c.Items))))
}

// ValidName trims a user supplied name and rejects blank input.
func ValidName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", ErrEmptyName
	}
	return trimmed, nil
}
