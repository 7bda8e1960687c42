// Package fetch drives remote reads into the store. Each read is keyed by the
// scope it fills; a board detail load fans out one card fetch per list and
// lets every list succeed or fail on its own.
package fetch

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"board-mirror/domain"
	"board-mirror/storage"
	"board-mirror/telemetry"
)

const defaultConcurrency = 4

// Remote is the subset of the remote client the orchestrator reads through.
type Remote interface {
	ListBoards(ctx context.Context) ([]domain.Board, error)
	GetBoard(ctx context.Context, boardID string) (domain.Board, error)
	ListLists(ctx context.Context, boardID string) ([]domain.List, error)
	ListCards(ctx context.Context, listID string) ([]domain.Card, error)
	ListChecklists(ctx context.Context, cardID string) ([]domain.Checklist, error)
}

type Options struct {
	// Concurrency caps in-flight card fetches of one board load.
	Concurrency int
	Logger      *log.Logger
}

type Orchestrator struct {
	remote Remote
	store  *storage.Store
	logger *log.Logger
	limit  int
	group  singleflight.Group
}

func New(remote Remote, store *storage.Store, opts Options) *Orchestrator {
	limit := opts.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Orchestrator{remote: remote, store: store, logger: logger, limit: limit}
}

// Outcome is how one scope load ended.
type Outcome string

const (
	OutcomeReady   Outcome = "ready"
	OutcomeFailed  Outcome = "failed"
	OutcomeStale   Outcome = "stale"
	OutcomeSkipped Outcome = "skipped"
)

// ListResult records the card fetch of a single list.
type ListResult struct {
	ListID  string  `json:"listId"`
	Outcome Outcome `json:"outcome"`
	Error   string  `json:"error,omitempty"`
}

// Report collates a board detail load. It is shared between joined callers
// and must be treated as read-only.
type Report struct {
	BoardID string       `json:"boardId"`
	Outcome Outcome      `json:"outcome"`
	Lists   []ListResult `json:"lists"`
}

// Failed returns the ids of lists whose card fetch failed.
func (r *Report) Failed() []string {
	var out []string
	for _, l := range r.Lists {
		if l.Outcome == OutcomeFailed {
			out = append(out, l.ListID)
		}
	}
	return out
}

// LoadBoards replaces the board index.
func (o *Orchestrator) LoadBoards(ctx context.Context) error {
	scope := domain.BoardsScope()
	_, err := o.join(ctx, scope.Key(), func(ctx context.Context) (any, error) {
		obs, ctx := telemetry.Start(ctx, o.logger, "fetch", "load_boards")
		var err error
		defer func() { obs.End(err) }()

		tk, ok := o.store.BeginLoad(scope)
		if !ok {
			obs.Set("outcome", string(OutcomeSkipped))
			return nil, nil
		}
		boards, err := o.remote.ListBoards(ctx)
		if err != nil {
			obs.SetErrorStage("remote")
			o.fail(tk, err)
			return nil, err
		}
		if cerr := o.store.CommitBoards(tk, boards); cerr != nil {
			o.discard(scope, cerr)
			obs.Set("outcome", string(OutcomeStale))
			return nil, nil
		}
		obs.Set("boards", len(boards))
		return nil, nil
	})
	return err
}

// LoadBoardDetail fetches the lists of a board, then the cards of every list
// concurrently. The returned error only reflects the board's own scope; list
// failures are recorded in the store and in the report.
func (o *Orchestrator) LoadBoardDetail(ctx context.Context, boardID string) (*Report, error) {
	scope := domain.BoardScope(boardID)
	v, err := o.join(ctx, scope.Key(), func(ctx context.Context) (any, error) {
		return o.loadBoardDetail(ctx, boardID)
	})
	rep, _ := v.(*Report)
	return rep, err
}

func (o *Orchestrator) loadBoardDetail(ctx context.Context, boardID string) (rep *Report, err error) {
	obs, ctx := telemetry.Start(ctx, o.logger, "fetch", "load_board_detail")
	defer func() { obs.End(err) }()
	obs.Set("board_id", boardID)

	scope := domain.BoardScope(boardID)
	rep = &Report{BoardID: boardID, Lists: []ListResult{}}
	tk, ok := o.store.BeginLoad(scope)
	if !ok {
		rep.Outcome = OutcomeSkipped
		return rep, nil
	}

	if _, known := o.store.Board(boardID); !known {
		board, err := o.remote.GetBoard(ctx, boardID)
		if err != nil {
			obs.SetErrorStage("board")
			o.fail(tk, err)
			rep.Outcome = OutcomeFailed
			return rep, err
		}
		o.store.AddBoard(board)
	}

	lists, err := o.remote.ListLists(ctx, boardID)
	if err != nil {
		obs.SetErrorStage("lists")
		o.fail(tk, err)
		rep.Outcome = OutcomeFailed
		return rep, err
	}
	if cerr := o.store.CommitLists(tk, lists); cerr != nil {
		o.discard(scope, cerr)
		rep.Outcome = OutcomeStale
		return rep, nil
	}
	rep.Outcome = OutcomeReady

	committed := o.store.Snapshot().Lists(boardID)
	rep.Lists = make([]ListResult, len(committed))
	var g errgroup.Group
	g.SetLimit(o.limit)
	for i, l := range committed {
		g.Go(func() error {
			rep.Lists[i] = o.loadCards(ctx, l.ID)
			return nil
		})
	}
	_ = g.Wait()

	obs.Set("lists", len(committed))
	obs.Set("failed_lists", len(rep.Failed()))
	return rep, nil
}

// LoadCardsForList refreshes the cards of one list.
func (o *Orchestrator) LoadCardsForList(ctx context.Context, listID string) (ListResult, error) {
	if _, ok := o.store.List(listID); !ok {
		return ListResult{ListID: listID}, fmt.Errorf("list %s: %w", listID, domain.ErrNotFound)
	}
	v, err := o.join(ctx, domain.ListScope(listID).Key(), func(ctx context.Context) (any, error) {
		return o.loadCards(ctx, listID), nil
	})
	if err != nil {
		return ListResult{ListID: listID, Outcome: OutcomeSkipped}, err
	}
	res := v.(ListResult)
	if res.Outcome == OutcomeFailed {
		return res, errors.New(res.Error)
	}
	return res, nil
}

func (o *Orchestrator) loadCards(ctx context.Context, listID string) ListResult {
	res := ListResult{ListID: listID}
	scope := domain.ListScope(listID)
	tk, ok := o.store.BeginLoad(scope)
	if !ok {
		res.Outcome = OutcomeSkipped
		return res
	}
	cards, err := o.remote.ListCards(ctx, listID)
	if err != nil {
		o.fail(tk, err)
		o.logger.WithFields(log.Fields{"scope": scope.Key(), "error": err}).Warn("card fetch failed")
		res.Outcome = OutcomeFailed
		res.Error = err.Error()
		return res
	}
	if err := o.store.CommitCards(tk, cards); err != nil {
		o.discard(scope, err)
		res.Outcome = OutcomeStale
		return res
	}
	res.Outcome = OutcomeReady
	return res
}

// LoadChecklistsForCard fetches the checklists of one card on demand.
func (o *Orchestrator) LoadChecklistsForCard(ctx context.Context, cardID string) error {
	if _, ok := o.store.Card(cardID); !ok {
		return fmt.Errorf("card %s: %w", cardID, domain.ErrNotFound)
	}
	scope := domain.CardScope(cardID)
	_, err := o.join(ctx, scope.Key(), func(ctx context.Context) (any, error) {
		obs, ctx := telemetry.Start(ctx, o.logger, "fetch", "load_checklists")
		var err error
		defer func() { obs.End(err) }()
		obs.Set("card_id", cardID)

		tk, ok := o.store.BeginLoad(scope)
		if !ok {
			return nil, nil
		}
		checklists, err := o.remote.ListChecklists(ctx, cardID)
		if err != nil {
			obs.SetErrorStage("remote")
			o.fail(tk, err)
			return nil, err
		}
		if cerr := o.store.CommitChecklists(tk, checklists); cerr != nil {
			o.discard(scope, cerr)
		}
		return nil, nil
	})
	return err
}

// Abandon is called when a board view is left. Responses still in flight for
// the board, its lists or their cards are discarded on arrival.
func (o *Orchestrator) Abandon(boardID string) {
	snap := o.store.Snapshot()
	o.store.Invalidate(domain.BoardScope(boardID))
	for _, l := range snap.Lists(boardID) {
		o.store.Invalidate(domain.ListScope(l.ID))
		for _, c := range snap.Cards(l.ID) {
			o.store.Invalidate(domain.CardScope(c.ID))
		}
	}
	o.logger.WithField("board_id", boardID).Debug("board view abandoned")
}

// join runs fn once per key for all concurrent callers. fn does not inherit
// any single caller's cancellation; each caller stops waiting when its own ctx
// ends while the load carries on for the others.
func (o *Orchestrator) join(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, error) {
	detached := context.WithoutCancel(ctx)
	ch := o.group.DoChan(key, func() (any, error) { return fn(detached) })
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fail records a remote failure on the ticket's scope. A cancelled request
// says nothing about the remote side, so its scope is reset instead.
func (o *Orchestrator) fail(tk storage.Ticket, err error) {
	if errors.Is(err, context.Canceled) {
		o.store.AbortLoad(tk)
		return
	}
	o.store.FailLoad(tk, err.Error())
}

func (o *Orchestrator) discard(scope domain.Scope, err error) {
	if errors.Is(err, domain.ErrStaleScope) {
		o.logger.WithFields(log.Fields{"scope": scope.Key(), "error": err}).Debug("discarding stale response")
		return
	}
	o.logger.WithFields(log.Fields{"scope": scope.Key(), "error": err}).Error("commit rejected")
}
