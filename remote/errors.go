package remote

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNetwork matches transport failures (no response was received).
	ErrNetwork = errors.New("network error")
	// ErrRejected matches non-2xx responses. A 2xx response whose body cannot be
	// decoded matches neither.
	ErrRejected = errors.New("remote rejection")
)

// Error is returned by every Client method on failure.
type Error struct {
	Op         string
	StatusCode int
	Cause      error
}

func (e *Error) Error() string {
	if e.StatusCode >= 200 && e.StatusCode <= 299 {
		return fmt.Sprintf("%s: decode response: %v", e.Op, e.Cause)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: remote returned %d %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is classifies the error as ErrNetwork or ErrRejected.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return e.StatusCode == 0
	case ErrRejected:
		return e.StatusCode != 0 && (e.StatusCode < 200 || e.StatusCode > 299)
	}
	return false
}

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var re *Error
	if errors.As(err, &re) {
		return re.StatusCode
	}
	return 0
}
