package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/park285/xiangqi-server/internal/config"
	"github.com/park285/xiangqi-server/internal/handler"
	"github.com/park285/xiangqi-server/internal/lobby"
	"github.com/park285/xiangqi-server/internal/match"
	"github.com/park285/xiangqi-server/internal/metrics"
	"github.com/park285/xiangqi-server/internal/msgcat"
	"github.com/park285/xiangqi-server/internal/obslog"
	"github.com/park285/xiangqi-server/internal/redisx"
	"github.com/park285/xiangqi-server/internal/server"
	"github.com/park285/xiangqi-server/internal/session"
	"github.com/park285/xiangqi-server/internal/store"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer obslog.Sync()

	if err := run(); err != nil {
		obslog.L().Error("startup_failed", zap.Error(err))
		obslog.Sync()
		os.Exit(1)
	}
}

func run() error {
	var portArg string
	if len(os.Args) > 1 {
		portArg = os.Args[1]
	}
	cfg, err := config.Load(portArg)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx := context.Background()
	rdb, err := redisx.Open(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer rdb.Close()

	repo, db, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	catalog, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return fmt.Errorf("messages: %w", err)
	}

	snapshots := match.NewStore(rdb)
	if ids, err := snapshots.ActiveIDs(ctx); err != nil {
		obslog.L().Warn("match_restore", zap.Error(err))
	} else {
		// 재시작 후에는 join_match 로 다시 불러온다
		obslog.L().Info("match_restore", zap.Int("restorable", len(ids)))
	}

	srv := server.New(cfg, handler.Deps{
		Engine:          match.NewEngine(),
		Lobby:           lobby.New(),
		Sessions:        session.NewStore(rdb, session.WithTTL(cfg.SessionTTL)),
		Snapshots:       snapshots,
		Repo:            repo,
		Catalog:         catalog,
		Metrics:         metrics.New(),
		TimePerPlayerMs: cfg.TimePerPlayerMs,
		RatedTolerance:  cfg.RatedTolerance,
		PersistTimeout:  cfg.PersistTimeout,
	})
	if err := srv.Start(); err != nil {
		_ = srv.Shutdown(ctx)
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	obslog.L().Info("server_shutdown", zap.String("signal", sig.String()))

	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		obslog.L().Warn("server_shutdown", zap.Error(err))
	}
	return nil
}

// openRepository connects to Postgres when DATABASE_URL is set. Without it the
// server runs on the in-memory store and nothing survives a restart.
func openRepository(ctx context.Context, cfg *config.AppConfig) (store.Repository, *sql.DB, error) {
	if cfg.DatabaseURL == "" {
		obslog.L().Warn("store_degraded", zap.String("reason", "DATABASE_URL not set, using in-memory store"))
		return store.NewMemoryRepository(), nil, nil
	}
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if cfg.MigrateOnStart {
		if err := store.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
	}
	return store.NewRepository(db), db, nil
}
