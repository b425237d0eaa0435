// Command gateway serves score submissions: it validates them, applies the
// per-source rate limit and forwards accepted ones as repository dispatches.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/hiscore/internal/adapters/http/api"
	"github.com/okian/hiscore/internal/adapters/http/swagger"
	"github.com/okian/hiscore/internal/adapters/redisstore"
	"github.com/okian/hiscore/internal/adapters/trigger"
	"github.com/okian/hiscore/internal/app"
	"github.com/okian/hiscore/internal/config"
	"github.com/okian/hiscore/internal/domain/ratelimit"
	"github.com/okian/hiscore/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTP server timeout constants.
const (
	readTimeout           = 10 * time.Second
	writeTimeout          = 10 * time.Second
	idleTimeout           = 60 * time.Second
	readHeaderTimeout     = 5 * time.Second
	shutdownTimeout       = 30 * time.Second
	systemMetricsInterval = 10 * time.Second
)

func main() {
	// Only the custom registry is exported; drop the default collectors.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.InitWithFormat(cfg.LogFormat); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Named("gateway")
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	log.Info(ctx, "configuration loaded", logger.String("summary", cfg.Summary()))

	if err := run(ctx, cfg, log); err != nil {
		log.Error(ctx, "gateway failed", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	mux, cleanup, err := buildMux(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	go app.RunSystemMetrics(ctx, systemMetricsInterval)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return nil
}

// buildMux wires the limiter, trigger and gateway behind the HTTP routes.
func buildMux(ctx context.Context, cfg *config.Config) (*http.ServeMux, func(), error) {
	limiter, closeStore, err := newLimiter(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	trig, err := trigger.New(cfg.TriggerRepository, cfg.TriggerToken,
		trigger.WithBaseURL(cfg.TriggerBaseURL),
		trigger.WithTimeout(cfg.TriggerTimeout()),
		trigger.WithLogger(logger.Named("trigger")),
	)
	if err != nil {
		closeStore()
		return nil, nil, err
	}

	gw := app.NewGateway(limiter, trig, app.WithGatewayLogger(logger.Named("submit")))

	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(gw,
		api.WithAllowedOrigin(cfg.AllowedOrigin),
		api.WithClientIPHeader(cfg.ClientIPHeader),
		api.WithLogger(logger.Named("api")),
	).Register(ctx, mux)
	return mux, closeStore, nil
}

func newLimiter(ctx context.Context, cfg *config.Config) (*ratelimit.Limiter, func(), error) {
	opts := []ratelimit.Option{
		ratelimit.WithWindow(cfg.RateLimitWindow()),
		ratelimit.WithTTL(cfg.RateLimitTTL()),
	}

	if cfg.RateLimitBackend == "redis" {
		client, err := redisstore.NewClient(ctx, redisstore.ClientConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, err
		}
		return ratelimit.NewLimiter(redisstore.NewStore(client), opts...), func() { _ = client.Close() }, nil
	}

	store := ratelimit.NewMemoryStore()
	return ratelimit.NewLimiter(store, opts...), func() { _ = store.Close() }, nil
}
