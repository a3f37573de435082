// Copyright 2025 James Ross
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/flyingrobots/djed/internal/cache"
	"github.com/flyingrobots/djed/internal/config"
	"github.com/flyingrobots/djed/internal/effect"
	"github.com/flyingrobots/djed/internal/httpclient"
	"github.com/flyingrobots/djed/internal/obs"
	"github.com/flyingrobots/djed/internal/queue"
	"github.com/flyingrobots/djed/internal/redisclient"
)

var version = "dev"

func main() {
	var configPath string
	var showVersion bool
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(config.EnvSource("DJED"), config.FileSource(configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := obs.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	tp, err := obs.MaybeInitTracing(cfg)
	if err != nil {
		logger.Warn("tracing init failed", obs.Err(err))
	}
	if tp != nil {
		defer func() { _ = obs.TracerShutdown(context.Background(), tp) }()
	}

	rdb := redisclient.New(cfg)

	c := newCache(cfg, rdb, logger)
	hc := httpclient.New(cfg, logger)
	q := newQueue(cfg, rdb, logger)

	readyCheck := func(ctx context.Context) error {
		if cfg.Queue.Backend == "redis" || cfg.Cache.Backend == "redis" {
			_, err := rdb.Ping(ctx).Result()
			return err
		}
		return nil
	}
	httpSrv := obs.StartHTTPServer(cfg, readyCheck)

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("signal received, shutting down", obs.String("signal", sig.String()))
		cancel()
		select {
		case sig2 := <-sigCh:
			logger.Warn("second signal received, exiting immediately", obs.String("signal", sig2.String()))
			os.Exit(1)
		case <-time.After(5 * time.Second):
		}
	}()

	logJobEvents(q, logger)

	procDone := make(chan error, 1)
	go func() { procDone <- q.Process(ctx, demoHandler(c, hc, cfg, logger), cfg.Queue.Concurrency) }()

	if err := seedDemoJob(ctx, q); err != nil {
		logger.Warn("failed to seed demo job", obs.Err(err))
	}

	<-ctx.Done()
	<-procDone

	// Release in reverse-acquisition order: the observability HTTP server,
	// queue, cache, then the redis client. httpclient.Client holds no
	// resource beyond its *http.Client, whose idle connections the Go
	// runtime reclaims on its own; it has nothing worth a Close method.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("obs http server shutdown failed", obs.Err(err))
	}
	if err := q.Close(); err != nil {
		logger.Warn("queue close failed", obs.Err(err))
	}
	if err := c.Close(); err != nil {
		logger.Warn("cache close failed", obs.Err(err))
	}
	if err := rdb.Close(); err != nil {
		logger.Warn("redis client close failed", obs.Err(err))
	}
}

func newCache(cfg *config.Config, rdb *redis.Client, logger *zap.Logger) *cache.Cache {
	var backend cache.Backend
	switch cfg.Cache.Backend {
	case "redis":
		backend = cache.NewRedisBackend(rdb)
	case "file":
		fb, err := cache.NewFileBackend(cfg.Cache.FileDir)
		if err != nil {
			logger.Fatal("failed to init file cache backend", obs.Err(err))
		}
		backend = fb
	default:
		backend = cache.NewMemoryBackend(cfg.Cache.MaxEntries)
	}
	return cache.New(backend, cfg.Cache.Namespace, cfg.Cache.DefaultTTL)
}

func newQueue(cfg *config.Config, rdb *redis.Client, logger *zap.Logger) *queue.Queue {
	var backend queue.Backend
	if cfg.Queue.Backend == "redis" {
		backend = queue.NewRedisBackend(rdb)
	} else {
		backend = queue.NewMemoryBackend()
	}
	return queue.New(cfg.Queue.Name, backend, logger)
}

func logJobEvents(q *queue.Queue, logger *zap.Logger) {
	q.Events.On(queue.EventJobCompleted, func(e queue.Event) {
		logger.Info("job completed", obs.String("job", e.Job.ID))
	})
	q.Events.On(queue.EventJobFailed, func(e queue.Event) {
		fields := []zap.Field{obs.String("job", e.Job.ID)}
		if e.Error != nil {
			fields = append(fields, obs.Err(e.Error))
		}
		logger.Warn("job failed", fields...)
	})
	q.Events.On(queue.EventQueueDrained, func(e queue.Event) {
		logger.Debug("queue drained")
	})
}

// demoHandler wires the cache and HTTP client into one Handler so the
// composition root exercises every component, not just the queue: each
// job's payload is cached under its job ID, then posted to the
// configured webhook URL (if any) through the HTTP client's full
// interceptor/retry/breaker pipeline.
func demoHandler(c *cache.Cache, hc *httpclient.Client, cfg *config.Config, logger *zap.Logger) queue.Handler {
	return func(ctx context.Context, job queue.Job) effect.Effect[any, error, struct{}] {
		return effect.FromAsync(func(ctx context.Context, _ any) (struct{}, error, bool) {
			_, err := cache.GetOrSet(ctx, c, "job:"+job.ID, 0, func(ctx context.Context) (string, error) {
				return string(job.Payload), nil
			})
			if err != nil {
				return struct{}{}, err, false
			}
			if cfg.HTTPClient.WebhookURL != "" {
				_, err := hc.Do(ctx, httpclient.Descriptor{
					Method:      "POST",
					URL:         cfg.HTTPClient.WebhookURL,
					Body:        job.Payload,
					EndpointKey: "job-webhook",
				})
				if err != nil {
					logger.Warn("job webhook call failed", obs.String("job", job.ID), obs.Err(err))
				}
			}
			logger.Debug("job processed", obs.String("job", job.ID))
			return struct{}{}, nil, true
		})
	}
}

func seedDemoJob(ctx context.Context, q *queue.Queue) error {
	_, err := q.Add(ctx, []byte("hello"), 0, 0, queue.Options{Attempts: 3})
	return err
}
