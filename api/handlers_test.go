package api

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"board-mirror/domain"
	"board-mirror/fetch"
	"board-mirror/mutation"
	"board-mirror/remote"
	"board-mirror/storage"
)

type stubFetcher struct {
	loadBoards     func(ctx context.Context) error
	loadBoard      func(ctx context.Context, boardID string) (*fetch.Report, error)
	loadChecklists func(ctx context.Context, cardID string) error
	abandoned      []string
}

func (s *stubFetcher) LoadBoards(ctx context.Context) error { return s.loadBoards(ctx) }

func (s *stubFetcher) LoadBoardDetail(ctx context.Context, boardID string) (*fetch.Report, error) {
	return s.loadBoard(ctx, boardID)
}

func (s *stubFetcher) LoadChecklistsForCard(ctx context.Context, cardID string) error {
	return s.loadChecklists(ctx, cardID)
}

func (s *stubFetcher) Abandon(boardID string) { s.abandoned = append(s.abandoned, boardID) }

// stubMutator answers every mutation through one function so tests can count
// calls and choose the outcome.
type stubMutator struct {
	calls  atomic.Int32
	result func(op string) error
}

func (s *stubMutator) do(op string) error {
	s.calls.Add(1)
	if s.result == nil {
		return nil
	}
	return s.result(op)
}

func (s *stubMutator) CreateBoard(_ context.Context, name string) (domain.Board, error) {
	return domain.Board{ID: "b2", Name: name}, s.do("create_board")
}

func (s *stubMutator) CreateList(_ context.Context, boardID, name string) (domain.List, error) {
	return domain.List{ID: "l3", BoardID: boardID, Name: name}, s.do("create_list")
}

func (s *stubMutator) CloseList(context.Context, string) error { return s.do("close_list") }

func (s *stubMutator) CreateCard(_ context.Context, listID, name string) (domain.Card, error) {
	return domain.Card{ID: "c2", ListID: listID, Name: name}, s.do("create_card")
}

func (s *stubMutator) DeleteCard(context.Context, string) error { return s.do("delete_card") }

func (s *stubMutator) CreateChecklist(_ context.Context, cardID, name string) (domain.Checklist, error) {
	return domain.Checklist{ID: "k2", CardID: cardID, Name: name, Items: []domain.ChecklistItem{}}, s.do("create_checklist")
}

func (s *stubMutator) AddChecklistItem(_ context.Context, checklistID, name string) (domain.ChecklistItem, error) {
	return domain.ChecklistItem{ID: "i9", ChecklistID: checklistID, Name: name, State: domain.StateIncomplete}, s.do("add_checklist_item")
}

func (s *stubMutator) ToggleChecklistItem(context.Context, string, string) (domain.ItemState, error) {
	return domain.StateComplete, s.do("toggle_checklist_item")
}

func (s *stubMutator) DeleteChecklist(context.Context, string) error { return s.do("delete_checklist") }

func (s *stubMutator) DeleteChecklistItem(context.Context, string, string) error {
	return s.do("delete_checklist_item")
}

type testServer struct {
	e       *echo.Echo
	store   *storage.Store
	fetcher *stubFetcher
	mutator *stubMutator
}

func newTestServer(t *testing.T, auth Authenticator) *testServer {
	t.Helper()
	logger, _ := test.NewNullLogger()
	st := storage.New(logger)
	st.UpsertBoards([]domain.Board{{ID: "b1", Name: "Home"}})
	ts := &testServer{e: echo.New(), store: st, fetcher: &stubFetcher{}, mutator: &stubMutator{}}
	if auth == nil {
		auth = NewAuth("", "", "")
	}
	Register(ts.e, &Server{
		Store:   st,
		Fetcher: ts.fetcher,
		Mutator: ts.mutator,
		Auth:    auth,
		Deduper: NewMemoryDeduper(time.Minute),
		Logger:  logger,
	})
	return ts
}

func (ts *testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)
	return rec
}

func TestGetSnapshot(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(http.MethodGet, "/api/snapshot", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap storage.Snapshot
	if err := sonic.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snap.Boards) != 1 || snap.Boards[0].ID != "b1" {
		t.Fatalf("unexpected boards %#v", snap.Boards)
	}
	if rec.Header().Get(echo.HeaderXRequestID) == "" {
		t.Fatalf("missing request id")
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, NewAuth("secret", "", ""))
	rec := ts.do(http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}
}

func TestCreateCardRoute(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(http.MethodPost, "/api/lists/l2/cards", `{"name":"Write report"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var card domain.Card
	if err := sonic.Unmarshal(rec.Body.Bytes(), &card); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if card.ID != "c2" || card.ListID != "l2" || card.Name != "Write report" {
		t.Fatalf("unexpected card %#v", card)
	}
}

func TestInvalidBodyRejected(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(http.MethodPost, "/api/boards", `{"title":"x"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if ts.mutator.calls.Load() != 0 {
		t.Fatalf("mutator called for invalid body")
	}
}

func TestErrorMapping(t *testing.T) {
	rejected := &remote.Error{Op: "create-card", StatusCode: http.StatusUnauthorized, Cause: errors.New("invalid token")}
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"empty name", &mutation.Error{Op: "create_card", Reason: "name must not be empty", Err: domain.ErrEmptyName}, http.StatusBadRequest},
		{"not found", &mutation.Error{Op: "create_card", Reason: "not found", Err: domain.ErrNotFound}, http.StatusNotFound},
		{"rejected", &mutation.Error{Op: "create_card", Scope: domain.ListScope("l2"), Reason: "rejected", Err: rejected}, http.StatusBadGateway},
		{"network", &remote.Error{Op: "create-card", Cause: errors.New("refused")}, http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			ts.mutator.result = func(string) error { return tc.err }
			rec := ts.do(http.MethodPost, "/api/lists/l2/cards", `{"name":"x"}`, nil)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
		})
	}
}

func TestMutationErrorCarriesScope(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.mutator.result = func(string) error {
		return &mutation.Error{Op: "create_card", Scope: domain.ListScope("l2"), Reason: "could not reach the board service", Err: remote.ErrNetwork}
	}
	rec := ts.do(http.MethodPost, "/api/lists/l2/cards", `{"name":"x"}`, nil)
	var resp errorResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Scope != "list:l2" || resp.Error != "could not reach the board service" {
		t.Fatalf("unexpected error body %#v", resp)
	}
}

func TestDuplicateIdempotencyKeyConflicts(t *testing.T) {
	ts := newTestServer(t, nil)
	headers := map[string]string{headerIdempotencyKey: "key-1"}

	first := ts.do(http.MethodPost, "/api/boards", `{"name":"Work"}`, headers)
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", first.Code)
	}
	second := ts.do(http.MethodPost, "/api/boards", `{"name":"Work"}`, headers)
	if second.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", second.Code)
	}
	if n := ts.mutator.calls.Load(); n != 1 {
		t.Fatalf("expected one mutation, got %d", n)
	}
}

func TestFailedMutationReleasesIdempotencyKey(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.mutator.result = func(string) error { return &remote.Error{Op: "create-board", StatusCode: http.StatusBadGateway, Cause: errors.New("down")} }
	headers := map[string]string{headerIdempotencyKey: "key-2"}

	if rec := ts.do(http.MethodPost, "/api/boards", `{"name":"Work"}`, headers); rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	ts.mutator.result = nil
	if rec := ts.do(http.MethodPost, "/api/boards", `{"name":"Work"}`, headers); rec.Code != http.StatusCreated {
		t.Fatalf("expected retry to succeed, got %d", rec.Code)
	}
	if n := ts.mutator.calls.Load(); n != 2 {
		t.Fatalf("expected two mutations, got %d", n)
	}
}

func TestToggleRoute(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(http.MethodPost, "/api/checklists/k1/items/i1/toggle", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp toggleResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ChecklistID != "k1" || resp.ItemID != "i1" || resp.State != domain.StateComplete {
		t.Fatalf("unexpected toggle response %#v", resp)
	}
}

func TestDeleteRoutes(t *testing.T) {
	ts := newTestServer(t, nil)
	for _, path := range []string{"/api/lists/l1", "/api/cards/c1", "/api/checklists/k1", "/api/checklists/k1/items/i1"} {
		if rec := ts.do(http.MethodDelete, path, "", nil); rec.Code != http.StatusNoContent {
			t.Fatalf("%s: expected 204, got %d", path, rec.Code)
		}
	}
}

func TestLoadRoutes(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.fetcher.loadBoards = func(context.Context) error { return nil }
	ts.fetcher.loadBoard = func(_ context.Context, id string) (*fetch.Report, error) {
		return &fetch.Report{BoardID: id, Outcome: fetch.OutcomeReady, Lists: []fetch.ListResult{{ListID: "l1", Outcome: fetch.OutcomeFailed, Error: "boom"}}}, nil
	}
	ts.fetcher.loadChecklists = func(context.Context, string) error {
		return &remote.Error{Op: "list-checklists-for-card", StatusCode: http.StatusNotFound, Cause: errors.New("gone")}
	}

	if rec := ts.do(http.MethodPost, "/api/boards/load", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("load boards: %d", rec.Code)
	}
	rec := ts.do(http.MethodPost, "/api/boards/b1/load", "", nil)
	var rep fetch.Report
	if err := sonic.Unmarshal(rec.Body.Bytes(), &rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusOK || rep.BoardID != "b1" || len(rep.Failed()) != 1 {
		t.Fatalf("unexpected report %d %#v", rec.Code, rep)
	}
	if rec := ts.do(http.MethodPost, "/api/cards/c1/checklists/load", "", nil); rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 for remote failure, got %d", rec.Code)
	}
	if rec := ts.do(http.MethodPost, "/api/boards/b1/abandon", "", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("abandon: %d", rec.Code)
	}
	if len(ts.fetcher.abandoned) != 1 || ts.fetcher.abandoned[0] != "b1" {
		t.Fatalf("abandon not forwarded: %v", ts.fetcher.abandoned)
	}
}

func TestGzipRequestBody(t *testing.T) {
	ts := newTestServer(t, nil)
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, _ = gz.Write([]byte(`{"name":"Compressed"}`))
	_ = gz.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/boards", &buf)
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated || !strings.Contains(rec.Body.String(), "Compressed") {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}

	bad := ts.do(http.MethodPost, "/api/boards", "not gzip", map[string]string{echo.HeaderContentEncoding: "gzip"})
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid gzip, got %d", bad.Code)
	}
}

func TestStreamSendsSnapshotOnChange(t *testing.T) {
	ts := newTestServer(t, nil)
	srv := httptest.NewServer(ts.e)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	next := func() string {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read event: %v", err)
			}
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				return data
			}
		}
	}

	if first := next(); !strings.Contains(first, `"b1"`) {
		t.Fatalf("unexpected first event %s", first)
	}
	ts.store.AddBoard(domain.Board{ID: "b2", Name: "Work"})
	if second := next(); !strings.Contains(second, `"b2"`) {
		t.Fatalf("expected new board in second event, got %s", second)
	}
}
