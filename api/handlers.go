package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"board-mirror/domain"
	"board-mirror/mutation"
	"board-mirror/remote"
)

// Server exposes the mirror to a presentation client.
type Server struct {
	Store   Store
	Fetcher Fetcher
	Mutator Mutator
	Auth    Authenticator
	Deduper Deduper
	Logger  *log.Logger
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, s *Server) {
	if s.Logger == nil {
		s.Logger = log.StandardLogger()
	}
	e.JSONSerializer = SonicSerializer{}
	e.Use(observe(s.Logger), GzipRequestMiddleware())
	e.GET("/healthz", s.healthz)

	g := e.Group("/api", authenticate(s.Auth))
	g.GET("/snapshot", s.getSnapshot)
	g.GET("/stream", s.streamSnapshots)

	g.POST("/boards/load", s.loadBoards)
	g.POST("/boards/:id/load", s.loadBoard)
	g.POST("/boards/:id/abandon", s.abandonBoard)
	g.POST("/cards/:id/checklists/load", s.loadChecklists)

	m := g.Group("", idempotent(s.Deduper, s.Logger))
	m.POST("/boards", s.createBoard)
	m.POST("/boards/:id/lists", s.createList)
	m.DELETE("/lists/:id", s.closeList)
	m.POST("/lists/:id/cards", s.createCard)
	m.DELETE("/cards/:id", s.deleteCard)
	m.POST("/cards/:id/checklists", s.createChecklist)
	m.DELETE("/checklists/:id", s.deleteChecklist)
	m.POST("/checklists/:id/items", s.addChecklistItem)
	m.POST("/checklists/:id/items/:itemId/toggle", s.toggleChecklistItem)
	m.DELETE("/checklists/:id/items/:itemId", s.deleteChecklistItem)
}

func (s *Server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "ok", Version: s.Store.Snapshot().Version})
}

func (s *Server) getSnapshot(c echo.Context) error {
	return c.JSON(http.StatusOK, s.Store.Snapshot())
}

func (s *Server) scopeState(c echo.Context, scope domain.Scope) error {
	return c.JSON(http.StatusOK, scopeResponse{Scope: scope.Key(), State: s.Store.Snapshot().Scope(scope)})
}

func (s *Server) loadBoards(c echo.Context) error {
	if err := s.Fetcher.LoadBoards(c.Request().Context()); err != nil {
		return s.fail(c, err)
	}
	return s.scopeState(c, domain.BoardsScope())
}

func (s *Server) loadBoard(c echo.Context) error {
	rep, err := s.Fetcher.LoadBoardDetail(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, rep)
}

func (s *Server) abandonBoard(c echo.Context) error {
	s.Fetcher.Abandon(c.Param("id"))
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) loadChecklists(c echo.Context) error {
	cardID := c.Param("id")
	if err := s.Fetcher.LoadChecklistsForCard(c.Request().Context(), cardID); err != nil {
		return s.fail(c, err)
	}
	return s.scopeState(c, domain.CardScope(cardID))
}

func (s *Server) createBoard(c echo.Context) error {
	req, err := decodeName(c)
	if err != nil {
		return err
	}
	board, err := s.Mutator.CreateBoard(c.Request().Context(), req.Name)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, board)
}

func (s *Server) createList(c echo.Context) error {
	req, err := decodeName(c)
	if err != nil {
		return err
	}
	list, err := s.Mutator.CreateList(c.Request().Context(), c.Param("id"), req.Name)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, list)
}

func (s *Server) closeList(c echo.Context) error {
	if err := s.Mutator.CloseList(c.Request().Context(), c.Param("id")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) createCard(c echo.Context) error {
	req, err := decodeName(c)
	if err != nil {
		return err
	}
	card, err := s.Mutator.CreateCard(c.Request().Context(), c.Param("id"), req.Name)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, card)
}

func (s *Server) deleteCard(c echo.Context) error {
	if err := s.Mutator.DeleteCard(c.Request().Context(), c.Param("id")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) createChecklist(c echo.Context) error {
	req, err := decodeName(c)
	if err != nil {
		return err
	}
	cl, err := s.Mutator.CreateChecklist(c.Request().Context(), c.Param("id"), req.Name)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, cl)
}

func (s *Server) deleteChecklist(c echo.Context) error {
	if err := s.Mutator.DeleteChecklist(c.Request().Context(), c.Param("id")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) addChecklistItem(c echo.Context) error {
	req, err := decodeName(c)
	if err != nil {
		return err
	}
	item, err := s.Mutator.AddChecklistItem(c.Request().Context(), c.Param("id"), req.Name)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, item)
}

func (s *Server) toggleChecklistItem(c echo.Context) error {
	checklistID, itemID := c.Param("id"), c.Param("itemId")
	state, err := s.Mutator.ToggleChecklistItem(c.Request().Context(), checklistID, itemID)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, toggleResponse{ChecklistID: checklistID, ItemID: itemID, State: state})
}

func (s *Server) deleteChecklistItem(c echo.Context) error {
	if err := s.Mutator.DeleteChecklistItem(c.Request().Context(), c.Param("id"), c.Param("itemId")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func decodeName(c echo.Context) (nameRequest, error) {
	var req nameRequest
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, echo.NewHTTPError(http.StatusBadRequest, "invalid body").SetInternal(err)
	}
	return req, nil
}

// fail maps an operation error onto a status code. Remote failures surface
// as 502 since the mirror itself is healthy.
func (s *Server) fail(c echo.Context, err error) error {
	resp := errorResponse{Error: err.Error()}
	var merr *mutation.Error
	if errors.As(err, &merr) {
		resp.Error = merr.Reason
		if merr.Scope.ID != "" || merr.Scope.Kind == domain.ScopeBoards {
			resp.Scope = merr.Scope.Key()
		}
	}
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.Logger.WithError(err).WithField("path", c.Path()).Warn("request failed")
	}
	return c.JSON(status, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrEmptyName):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, remote.ErrRejected), errors.Is(err, remote.ErrNetwork):
		return http.StatusBadGateway
	default:
		var re *remote.Error
		if errors.As(err, &re) {
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	}
}
