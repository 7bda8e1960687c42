package mutation

import (
	"errors"
	"fmt"
	"net/http"

	"board-mirror/domain"
	"board-mirror/remote"
)

// Error is returned when a mutation did not take effect. Reason is meant
// for display; Err keeps the cause for errors.Is/As.
type Error struct {
	Op     string
	Scope  domain.Scope
	Reason string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

func reason(err error) string {
	switch {
	case errors.Is(err, domain.ErrEmptyName):
		return "name must not be empty"
	case errors.Is(err, domain.ErrNotFound):
		return "not found"
	case errors.Is(err, remote.ErrNetwork):
		return "could not reach the board service"
	case errors.Is(err, remote.ErrRejected):
		code := remote.StatusCode(err)
		return fmt.Sprintf("the board service rejected the request (%d %s)", code, http.StatusText(code))
	default:
		return err.Error()
	}
}
