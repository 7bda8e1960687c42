package api

import (
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

// SonicSerializer encodes echo responses with sonic.
type SonicSerializer struct{}

func (SonicSerializer) Serialize(c echo.Context, i any, indent string) error {
	enc := sonic.ConfigStd.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (SonicSerializer) Deserialize(c echo.Context, i any) error {
	if err := sonic.ConfigStd.NewDecoder(c.Request().Body).Decode(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body").SetInternal(err)
	}
	return nil
}

// streamSnapshots sends the current snapshot, then a fresh one after every
// store write, as server-sent events.
func (s *Server) streamSnapshots(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}
	c.Response().WriteHeader(http.StatusOK)

	updates, cancel := s.Store.Subscribe()
	defer cancel()
	ctx := c.Request().Context()
	first, sent := true, uint64(0)
	for {
		snap := s.Store.Snapshot()
		if first || snap.Version != sent {
			data, err := sonic.ConfigStd.Marshal(snap)
			if err != nil {
				s.Logger.WithError(err).Error("encode snapshot")
				return nil
			}
			if _, err := c.Response().Write(append(append([]byte("event: snapshot\ndata: "), data...), '\n', '\n')); err != nil {
				return nil
			}
			flusher.Flush()
			first, sent = false, snap.Version
		}
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-updates:
			if !ok {
				return nil
			}
		}
	}
}
