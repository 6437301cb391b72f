package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/activity"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/internal/searcher/permission"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/repository-search-core/pkg/redis"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if err := run(cfg); err != nil {
		slog.Error("search service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("search service stopped")
}

func run(cfg *config.Config) error {
	slog.Info("starting search service",
		"port", cfg.Server.Port,
		"index_dir", cfg.Index.DataDir,
		"activity_store", cfg.Activity.Store,
	)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, reg)
		defer shutdownMetrics(context.Background())
	}

	var pg *postgres.Client
	if cfg.Postgres.Enabled {
		client, err := postgres.New(cfg.Postgres)
		if err != nil {
			return err
		}
		defer client.Close()
		pg = client
		slog.Info("postgres connected", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	}

	var notifier indexer.LockNotifier
	if cfg.Kafka.Enabled {
		alerts := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.OperatorAlerts)
		defer alerts.Close()
		notifier = indexer.NewKafkaLockNotifier(alerts)
	}

	mgr, err := indexer.NewManager(indexer.Options{
		Config:   cfg.Index,
		Metrics:  m,
		Notifier: notifier,
	})
	if err != nil {
		return err
	}
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("starting index: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := mgr.Shutdown(shutdownCtx); err != nil {
			slog.Error("index shutdown failed", "error", err)
		}
	}()
	mgr.StartReopenLoop(ctx, cfg.Index.ForceReopenInterval)

	actLog, err := activity.OpenLog(ctx, cfg.Activity, pg)
	if err != nil {
		return err
	}
	defer actLog.Close()

	var provider activity.DocumentProvider
	if pg != nil {
		p, err := activity.NewPostgresProvider(ctx, pg)
		if err != nil {
			return err
		}
		provider = p
	}
	queue := activity.NewQueue(activity.QueueConfig{
		MaxParallel:    cfg.Activity.MaxParallel,
		CommitInterval: cfg.Activity.CommitInterval,
		RetryDelay:     cfg.Activity.RetryDelay,
	}, actLog, mgr, activity.NewIndexExecutor(mgr, provider), m)
	if err := queue.Start(ctx); err != nil {
		return err
	}
	// Runs before the index shutdown above so pending writes are committed.
	defer func() {
		if err := queue.Close(); err != nil {
			slog.Error("activity queue close failed", "error", err)
		}
	}()

	if cfg.Kafka.Enabled {
		var opts []kafka.ConsumerOption
		if last, err := actLog.LastID(ctx); err == nil && last == 0 {
			opts = append(opts, kafka.FromFirstOffset())
		}
		kc := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IndexingActivities, consumer.HandleMessage(queue), opts...)
		activities := consumer.New(kc)
		go func() {
			if err := activities.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("activity consumer stopped", "error", err)
			}
		}()
		slog.Info("consuming indexing activities",
			"topic", cfg.Kafka.Topics.IndexingActivities,
			"group", cfg.Kafka.ConsumerGroup,
		)
	}

	var (
		queryCache  *cache.QueryCache
		redisClient *pkgredis.Client
	)
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
			mgr.OnReopen(queryCache.NotifyReopen)
			go queryCache.Run(ctx)
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	var resolver permission.Resolver = permission.StaticResolver{Default: permission.Access{Level: permission.OpenMinor}}
	if pg != nil {
		r, err := permission.NewPostgresResolver(ctx, pg, m)
		if err != nil {
			return err
		}
		resolver = r
	} else {
		slog.Warn("postgres disabled, every user may open every version")
	}

	exec := executor.New(mgr, executor.Options{
		Resolver:        resolver,
		AccessCacheSize: cfg.Search.AccessCacheSize,
		Timeout:         cfg.Search.Timeout,
		Metrics:         m,
	})
	searchH := handler.New(exec, queryCache, m, cfg.Search)
	activityH := handler.NewActivityHandler(queue)

	checker := health.NewChecker()
	checker.Register("index", health.Probe(func(context.Context) error {
		if mgr.State() != indexer.Running {
			return apperrors.ErrIndexNotRunning
		}
		return nil
	}))
	if pg != nil {
		checker.Register("postgres", health.Probe(pg.Ping))
	}
	if redisClient != nil {
		checker.Register("redis", health.Degradable(redisClient.Ping))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/search", searchH.Search)
	mux.HandleFunc("GET /api/v1/cache/stats", searchH.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", searchH.CacheInvalidate)
	mux.HandleFunc("POST /api/v1/activities", activityH.Register)
	mux.HandleFunc("GET /api/v1/activities", activityH.Status)
	mux.HandleFunc("GET /api/v1/activities/{id}", activityH.Wait)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.RequestTimeout)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.UserID(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving http: %w", err)
	}
	return nil
}
