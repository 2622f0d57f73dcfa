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

	"github.com/LacrozanBguneDev/lacrozan-sub000/internal/aidispatch"
	"github.com/LacrozanBguneDev/lacrozan-sub000/internal/auth"
	"github.com/LacrozanBguneDev/lacrozan-sub000/internal/config"
	"github.com/LacrozanBguneDev/lacrozan-sub000/internal/feed"
	"github.com/LacrozanBguneDev/lacrozan-sub000/internal/handler"
	"github.com/LacrozanBguneDev/lacrozan-sub000/internal/profile"
	"github.com/LacrozanBguneDev/lacrozan-sub000/internal/repository"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ============================================
// Stores
// ============================================

type store interface {
	feed.PostStore
	feed.SeenStore
	profile.Store
}

type postgresStore struct {
	*repository.PostRepository
	*repository.UserRepository
}

// openStore は設定に応じて posts/users のストアを開く。戻り値の関数で閉じる
func openStore(ctx context.Context, cfg *config.Config) (store, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreFirestore:
		fs, err := repository.NewFirestoreRepository(ctx, cfg.FirebaseProjectID, cfg.FirebaseServiceAccount)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() { fs.Close() }, nil
	default:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping database: %w", err)
		}
		return postgresStore{
			PostRepository: repository.NewPostRepository(pool),
			UserRepository: repository.NewUserRepository(pool),
		}, pool.Close, nil
	}
}

// ============================================
// Main
// ============================================

func main() {
	logger := log.With(log.NewStdLogger(os.Stdout),
		"ts", log.DefaultTimestamp,
		"caller", log.DefaultCaller,
	)
	helper := log.NewHelper(logger)

	if err := run(logger); err != nil {
		helper.Errorw("msg", "server exited", "error", err)
		os.Exit(1)
	}
}

func run(logger log.Logger) error {
	helper := log.NewHelper(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(".env")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var seen feed.SeenStore = st
	if cfg.SeenBackend == config.SeenRedis {
		rs, err := repository.NewRedisSeenRepository(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return err
		}
		defer rs.Close()
		seen = rs
	}

	profiles := profile.NewCache(st, cfg.ProfileCacheTTL, time.Now, logger)
	feedService := feed.NewService(st, seen, profiles, logger, feed.WithAuthorCap(cfg.AuthorCap))

	routes, err := aidispatch.LoadRoutes(cfg.AIRoutesFile, aidispatch.DefaultRoutes(cfg.AIBaseURL))
	if err != nil {
		return err
	}
	dispatcher := aidispatch.NewDispatcher(routes, &http.Client{Timeout: cfg.AITimeout}, logger)

	apiKeys, err := auth.NewAPIKeyVerifier(cfg.FeedAPIKey)
	if err != nil {
		return err
	}
	if len(cfg.JWTSecret) == 0 {
		helper.Warnw("msg", "JWT_SECRET is empty, bearer tokens will be rejected")
	}

	h := handler.New(feedService, dispatcher, cfg.Public, handler.SitemapConfig{
		BaseURL: cfg.SiteURL,
		Dirs:    cfg.SitemapDirs,
	}, logger)
	router := handler.NewRouter(h, handler.RouterConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		JWTSecret:      cfg.JWTSecret,
		APIKey:         apiKeys,
	}, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		helper.Infow("msg", "server starting", "addr", srv.Addr, "store", cfg.StoreBackend, "seen", cfg.SeenBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	helper.Infow("msg", "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
