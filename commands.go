package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"board-mirror/api"
	"board-mirror/config"
	"board-mirror/fetch"
	"board-mirror/mutation"
	"board-mirror/remote"
	"board-mirror/storage"
)

// mirror holds the wired components shared by every command.
type mirror struct {
	cfg     config.Config
	logger  *log.Logger
	store   *storage.Store
	fetcher *fetch.Orchestrator
	mutator *mutation.Coordinator
}

func newMirror() (*mirror, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	client := remote.New(remote.Options{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Token:   cfg.Token,
		Timeout: cfg.HTTPTimeout,
		Logger:  logger,
	})
	store := storage.New(logger)
	return &mirror{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		fetcher: fetch.New(client, store, fetch.Options{Concurrency: cfg.FetchConcurrency, Logger: logger}),
		mutator: mutation.New(client, store, logger),
	}, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "board-mirror",
		Short:         "Local mirror of a remote board service",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.AddCommand(newServeCmd(), newBoardsCmd(), newShowCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var preload bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the mirror over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newMirror()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return m.serve(ctx, preload)
		},
	}
	cmd.Flags().BoolVar(&preload, "preload", true, "load the board index before accepting requests")
	return cmd
}

func (m *mirror) serve(ctx context.Context, preload bool) error {
	deduper, closeDeduper := m.deduper()
	defer closeDeduper()

	if preload {
		if err := m.fetcher.LoadBoards(ctx); err != nil {
			m.logger.WithError(err).Warn("initial board load failed")
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	api.Register(e, &api.Server{
		Store:   m.store,
		Fetcher: m.fetcher,
		Mutator: m.mutator,
		Auth:    api.NewAuth(m.cfg.AuthSharedSecret, "", ""),
		Deduper: deduper,
		Logger:  m.logger,
	})

	errc := make(chan error, 1)
	go func() { errc <- e.Start(m.cfg.ListenAddr) }()
	m.logger.WithField("addr", m.cfg.ListenAddr).Info("serving")

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// deduper picks Redis when a connection string is configured.
func (m *mirror) deduper() (api.Deduper, func()) {
	opts := m.cfg.RedisOptions()
	if opts == nil {
		m.logger.Debug("redis not configured, using in-memory idempotency keys")
		return api.NewMemoryDeduper(m.cfg.DeduperTTL), func() {}
	}
	rc := redis.NewClient(opts)
	return api.NewRedisDeduper(rc, m.cfg.DeduperTTL), func() {
		if err := rc.Close(); err != nil {
			m.logger.WithError(err).Warn("close redis")
		}
	}
}

func newBoardsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "boards",
		Short: "List the boards of the authenticated member",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newMirror()
			if err != nil {
				return err
			}
			if err := m.fetcher.LoadBoards(cmd.Context()); err != nil {
				return fmt.Errorf("load boards: %w", err)
			}
			renderBoards(cmd.OutOrStdout(), m.store.Snapshot())
			return nil
		},
	}
}

func newShowCmd() *cobra.Command {
	var checklists bool
	cmd := &cobra.Command{
		Use:   "show <board-id>",
		Short: "Print a board with its lists and cards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newMirror()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			rep, err := m.fetcher.LoadBoardDetail(ctx, args[0])
			if err != nil {
				return fmt.Errorf("load board %s: %w", args[0], err)
			}
			if checklists {
				m.loadChecklists(ctx, args[0])
			}
			renderBoard(cmd.OutOrStdout(), m.store.Snapshot(), rep)
			return nil
		},
	}
	cmd.Flags().BoolVar(&checklists, "checklists", false, "also load the checklists of every card")
	return cmd
}

// loadChecklists fetches checklists card by card. Failures stay on the card
// scope and are shown by the renderer.
func (m *mirror) loadChecklists(ctx context.Context, boardID string) {
	snap := m.store.Snapshot()
	for _, l := range snap.Lists(boardID) {
		for _, c := range snap.Cards(l.ID) {
			if err := m.fetcher.LoadChecklistsForCard(ctx, c.ID); err != nil {
				m.logger.WithError(err).WithField("card_id", c.ID).Debug("checklists not loaded")
			}
		}
	}
}
