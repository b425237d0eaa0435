// Command arbiter runs the score arbitration workflow.
//
// With -event it consumes one repository_dispatch payload file (as written by
// an automation runner) and exits. Without it, it serves a dispatch receiver
// compatible with the gateway's trigger and arbitrates events from a bounded
// queue.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/hiscore/internal/adapters/github"
	"github.com/okian/hiscore/internal/adapters/http/runner"
	"github.com/okian/hiscore/internal/adapters/http/swagger"
	"github.com/okian/hiscore/internal/adapters/redisstore"
	"github.com/okian/hiscore/internal/adapters/repository"
	"github.com/okian/hiscore/internal/app"
	"github.com/okian/hiscore/internal/config"
	"github.com/okian/hiscore/internal/domain/arbiter"
	"github.com/okian/hiscore/internal/domain/model"
	"github.com/okian/hiscore/internal/domain/score"
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
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	eventPath := flag.String("event", os.Getenv("GITHUB_EVENT_PATH"), "repository_dispatch event file to process once; empty serves HTTP")
	flag.Parse()

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

	log := logger.Named("arbiter")
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	arb, actions, cleanup, err := build(ctx, cfg)
	if err != nil {
		log.Error(ctx, "failed to build arbiter", logger.Error(err))
		os.Exit(1)
	}
	defer cleanup()

	if *eventPath != "" {
		err = runOnce(ctx, arb, *eventPath, log)
	} else {
		err = serve(ctx, cfg, arb, actions, log)
	}
	if err != nil {
		log.Error(ctx, "arbiter failed", logger.Error(err))
		cleanup()
		os.Exit(1)
	}
}

// build wires the artifact store, the slot locker and the workflow into an
// Arbiter. actions is nil when the store keeps reviews elsewhere.
func build(ctx context.Context, cfg *config.Config) (*app.Arbiter, arbiter.ReviewActions, func(), error) {
	store, actions, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	locker, closeLocker, err := newLocker(ctx, cfg)
	if err != nil {
		closeStore()
		return nil, nil, nil, err
	}

	wf := arbiter.NewWorkflow(store,
		arbiter.WithSlot(cfg.Slot),
		arbiter.WithMaxAttempts(cfg.WorkflowMaxAttempts),
		arbiter.WithLocker(locker),
		arbiter.WithLogger(logger.Named("workflow")),
	)
	arb := app.NewArbiter(wf,
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.QueueSize),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithLogger(logger.Named("queue")),
	)

	var once bool
	cleanup := func() {
		if once {
			return
		}
		once = true
		closeLocker()
		closeStore()
	}
	return arb, actions, cleanup, nil
}

func newStore(ctx context.Context, cfg *config.Config) (arbiter.Store, arbiter.ReviewActions, func(), error) {
	switch cfg.ArtifactBackend {
	case "memory":
		s := arbiter.NewMemoryStore()
		return s, s, func() {}, nil

	case "github":
		s, err := github.New(cfg.GitHubRepository, cfg.GitHubToken,
			github.WithBaseURL(cfg.GitHubBaseURL),
			github.WithBaseBranch(cfg.GitHubBaseBranch),
			github.WithProposalBranch(cfg.GitHubProposalBranch),
			github.WithRecordPath(cfg.GitHubRecordPath),
			github.WithLogger(logger.Named("github")),
		)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, nil, func() {}, nil

	default:
		db, err := repository.Open(ctx, cfg.DatabaseDialect, cfg.DatabaseDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		closeDB := func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		if err := repository.Migrate(ctx, db); err != nil {
			closeDB()
			return nil, nil, nil, err
		}
		s := repository.NewStore(db, repository.WithLogger(logger.Named("repository")))
		return s, s, closeDB, nil
	}
}

func newLocker(ctx context.Context, cfg *config.Config) (arbiter.Locker, func(), error) {
	if cfg.LockBackend != "redis" {
		return arbiter.NewKeyedLocker(), func() {}, nil
	}
	client, err := redisstore.NewClient(ctx, redisstore.ClientConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, nil, err
	}
	return redisstore.NewLocker(client, redisstore.WithLockTTL(cfg.LockTTL())), func() { _ = client.Close() }, nil
}

// runOnce processes a single repository_dispatch event file.
func runOnce(ctx context.Context, arb *app.Arbiter, path string, log logger.Logger) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read event: %w", err)
	}
	var hook model.DispatchWebhook
	if err := json.Unmarshal(raw, &hook); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	if hook.Action != model.EventTypeUpdateScore {
		log.Info(ctx, "ignoring dispatch", logger.String("action", hook.Action))
		return nil
	}

	e, err := runner.DecodePayload(score.NewValidator(), hook.ClientPayload)
	if err != nil {
		return err
	}
	res, err := arb.Process(ctx, e)
	if err != nil {
		return err
	}
	log.Info(ctx, "dispatch processed",
		logger.String("outcome", string(res.Outcome)),
		logger.String("candidate", res.Candidate.String()),
		logger.Int("attempts", res.Attempts),
	)
	return nil
}

func serve(ctx context.Context, cfg *config.Config, arb *app.Arbiter, actions arbiter.ReviewActions, log logger.Logger) error {
	opts := []runner.Option{runner.WithLogger(logger.Named("runner"))}
	if actions != nil {
		opts = append(opts, runner.WithReviewActions(actions))
	}
	rs, err := runner.New(arb, cfg.TriggerRepository, cfg.RunnerToken, opts...)
	if err != nil {
		return err
	}

	// Workers outlive the signal so Stop can drain what was already accepted.
	if err := arb.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	go app.RunSystemMetrics(ctx, systemMetricsInterval)

	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	rs.Register(ctx, mux)

	srv := &http.Server{
		Addr:              cfg.ArbiterAddr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.ArbiterAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case serveErr = <-errCh:
	case <-ctx.Done():
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	if err := arb.Stop(shutdownCtx); err != nil {
		log.Error(ctx, "arbiter drain failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return serveErr
}
