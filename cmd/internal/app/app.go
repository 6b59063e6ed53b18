// Package app wires the Kanva server runtime: config, logging, HTTP routes,
// and the realtime gateway.
//
// It is intentionally small and deterministic to keep CI gates strict and behavior predictable.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"kanva/cmd/internal/auth"
	"kanva/cmd/internal/board"
	"kanva/cmd/internal/boardapi"
	"kanva/cmd/internal/realtime"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/cors"
)

// activityFeedCapacity bounds the per-board in-memory activity ring.
const activityFeedCapacity = 100

// App is the Kanva server runtime: it owns HTTP server wiring and realtime
// gateway dependencies.
type App struct {
	cfg Config
	log Logger

	boardStore board.Store
	boards     *board.Service

	dbPool    *pgxpool.Pool
	dbEnabled bool

	promReg *prometheus.Registry

	ws  *realtime.WSGateway
	api *boardapi.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	boardStore, dbPool, dbEnabled, err := newBoardStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	feed := board.NewActivityFeed(activityFeedCapacity)
	boards, err := board.NewService(log, boardStore, board.WithActivityFeed(feed))
	if err != nil {
		closeStore(boardStore, dbPool)
		return nil, err
	}

	verifier, err := newVerifier(cfg, log)
	if err != nil {
		closeStore(boardStore, dbPool)
		return nil, err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := realtime.NewMetrics(promReg)

	hub := realtime.NewHub(log)
	registry := realtime.NewRegistry(log)
	presence := realtime.NewPresence(0, 0)

	ws := realtime.NewWSGateway(log, hub, registry, presence, boards, verifier, metrics)
	api := boardapi.NewHandler(log, boards, verifier, ws)

	return &App{
		cfg:        cfg,
		log:        log,
		boardStore: boardStore,
		boards:     boards,
		dbPool:     dbPool,
		dbEnabled:  dbEnabled,
		promReg:    promReg,
		ws:         ws,
		api:        api,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.promReg, a.ws, a.api)

	c := cors.New(cors.Options{
		AllowedOrigins:   a.cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(WithSecurityHeaders(c.Handler(mux)), a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Janitor: sweeps expired presence/typing state.
	go a.ws.Run(runCtx)

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	closeStore(a.boardStore, a.dbPool)

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newBoardStore decides between Postgres-backed persistence and the in-memory dev store.
func newBoardStore(ctx context.Context, cfg Config, log Logger) (board.Store, *pgxpool.Pool, bool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return board.NewInMemoryStore(), nil, false, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)

	// Ownership model:
	// - app owns pool lifecycle
	// - PostgresStore.Close() is a no-op
	store, err := board.NewPostgresStore(pool, board.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, false, err
	}

	return store, pool, true, nil
}

func closeStore(store board.Store, pool *pgxpool.Pool) {
	if store != nil {
		_ = store.Close()
	}
	if pool != nil {
		pool.Close()
	}
}

// newVerifier picks the token verifier per config.
// Priority: PASETO public key > explicit dev mode > error.
func newVerifier(cfg Config, log Logger) (realtime.TokenVerifier, error) {
	if cfg.AuthPublicKeyHex != "" {
		v, err := auth.NewPasetoV4PublicVerifier(auth.Config{
			Issuer:       cfg.AuthIssuer,
			PublicKeyHex: cfg.AuthPublicKeyHex,
			ClockSkew:    cfg.AuthClockSkew,
		})
		if err != nil {
			return nil, err
		}
		return v, nil
	}

	if cfg.AuthDevMode {
		log.Warn("auth.dev_mode.enabled")
		return auth.Insecure{}, nil
	}

	return nil, errors.New("auth: set KANVA_AUTH_PASETO_PUBLIC_KEY_HEX or KANVA_AUTH_DEV_MODE=true")
}
