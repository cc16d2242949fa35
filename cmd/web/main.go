package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nodebird/core"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := core.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, logCloser, err := core.SetupLogging(cfg, "web.log")
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer logCloser.Close()
	defer logger.Sync()

	// A failed schema sync is logged by InitPersistence; serving continues.
	db, err := core.InitPersistence(ctx, cfg.DatabaseURL, logger)
	if db == nil {
		logger.Fatal("database unavailable", zap.Error(err))
	}
	defer db.Close()

	var store core.SessionStore
	if cfg.RedisURL != "" {
		redisClient, err := core.NewRedisClient(cfg.RedisURL)
		if err != nil {
			logger.Fatal("failed to connect redis", zap.Error(err))
		}
		defer redisClient.Close()
		store = core.NewRedisSessionStore(redisClient, cfg.SessionTTL)
	} else {
		mem := core.NewMemorySessionStore(cfg.SessionTTL)
		mem.StartSweeper(ctx, time.Minute)
		defer mem.Stop()
		store = mem
		logger.Warn("REDIS_URL not set; sessions are kept in memory")
	}

	users := core.NewSQLUserRepository(db)
	posts := core.NewSQLPostRepository(db)

	if cfg.SeedFile != "" {
		res, err := core.SeedFromFile(ctx, cfg.SeedFile, users, posts, logger)
		if err != nil {
			logger.Error("seed failed", zap.String("file", cfg.SeedFile), zap.Error(err))
		} else {
			logger.Info("seed applied",
				zap.Int("users_created", res.UsersCreated),
				zap.Int("users_skipped", res.UsersSkipped),
				zap.Int("posts_created", res.PostsCreated))
		}
	}

	views, err := core.NewViews(cfg.ViewsDir, logger)
	if err != nil {
		logger.Fatal("failed to load views", zap.Error(err))
	}

	router := core.NewRouter(cfg, core.Deps{
		DB:        db,
		Users:     users,
		Posts:     posts,
		Sessions:  store,
		Views:     views,
		Metrics:   core.NewMetrics(),
		Logger:    logger,
		StartedAt: time.Now(),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.WatchViews {
		g.Go(func() error { return views.Watch(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped", zap.Error(err))
	}
}
