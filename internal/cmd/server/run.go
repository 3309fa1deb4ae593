// Package serverrun wires jobstream's components together and runs them
// until shutdown.
package serverrun

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rzbill/jobstream/internal/broker"
	cfgpkg "github.com/rzbill/jobstream/internal/config"
	"github.com/rzbill/jobstream/internal/metrics"
	"github.com/rzbill/jobstream/internal/queue"
	httpserver "github.com/rzbill/jobstream/internal/server/http"
	pebblestore "github.com/rzbill/jobstream/internal/storage/pebble"
	"github.com/rzbill/jobstream/internal/streaming"
	logpkg "github.com/rzbill/jobstream/pkg/log"
)

// Options carries everything Run needs beyond config.
type Options struct {
	Config cfgpkg.Config
	// Registry supplies the process's registered processors. A nil registry
	// starts a server that can enqueue and stream but executes nothing.
	Registry *queue.Registry
	// OnStart, when set, receives the stream publisher factory before the
	// worker begins claiming, so processors can emit events.
	OnStart func(*streaming.Factory)
}

// Run starts the worker and HTTP server and blocks until ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config

	logCfg := &logpkg.Config{
		Level:  getenvDefault("JOBSTREAM_LOG_LEVEL", "info"),
		Format: getenvDefault("JOBSTREAM_LOG_FORMAT", "text"),
	}
	logger, err := logpkg.ApplyConfig(logCfg)
	if err != nil {
		logger = logpkg.NewLogger(logpkg.WithFormatter(&logpkg.TextFormatter{}))
	}
	logpkg.RedirectStdLog(logger)

	brk, err := broker.Open(sctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer brk.Close()
	rdb := brk.Client()

	logger.Info("starting jobstream server",
		logpkg.Str("redis", cfg.Redis.Addr),
		logpkg.Str("http", cfg.HTTP.Addr),
		logpkg.Int("consumers", cfg.Worker.Consumers),
		logpkg.Str("level", logCfg.Level),
		logpkg.Str("format", logCfg.Format),
	)

	agg := metrics.NewAggregator(logger)
	statusStore := queue.NewStatusStore(rdb, cfg.Status.TTL())
	manager := queue.NewManager(rdb, statusStore, agg, cfg.Retry, logger)

	var mirror streaming.Mirror
	if cfg.Stream.MirrorDir != "" {
		db, err := pebblestore.Open(pebblestore.Options{Dir: cfg.Stream.MirrorDir})
		if err != nil {
			return err
		}
		defer db.Close()
		mirror = streaming.NewPebbleMirror(db)
	}
	factory := streaming.NewFactory(rdb, mirror, logger)
	if opts.OnStart != nil {
		opts.OnStart(factory)
	}

	registry := opts.Registry
	if registry == nil {
		registry = queue.NewRegistry()
	}
	policy := queue.NewRetryPolicy(cfg.Retry)
	worker := queue.NewWorker(rdb, registry, statusStore, agg, policy, cfg.Worker, logger)
	worker.Start(sctx)
	defer worker.Stop()

	limiter := streaming.NewRedisLimiter(rdb, cfg.Stream, logger)
	lifecycle := streaming.NewLifecycle(limiter, cfg.Stream.LeaseTTL(), logger)
	subscriber := streaming.NewSubscriber(rdb, cfg.Stream, logger)

	hsrv := httpserver.New(manager, statusStore, subscriber, lifecycle, logger)
	defer hsrv.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	errCh := make(chan error, 1)
	go func() {
		defer wg.Done()
		if err := hsrv.ListenAndServe(sctx, cfg.HTTP.Addr); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-sctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		wg.Wait()
		return err
	}
	wg.Wait()
	return nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
