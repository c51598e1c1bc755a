// Command searchd serves full-text search over a periodically refreshed set
// of messages fetched from an upstream API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/mkumaran/message-search/internal/analytics"
	"github.com/mkumaran/message-search/internal/audit"
	"github.com/mkumaran/message-search/internal/cache"
	"github.com/mkumaran/message-search/internal/index"
	"github.com/mkumaran/message-search/internal/refresher"
	"github.com/mkumaran/message-search/internal/server"
	"github.com/mkumaran/message-search/internal/upstream"
	"github.com/mkumaran/message-search/pkg/config"
	"github.com/mkumaran/message-search/pkg/health"
	"github.com/mkumaran/message-search/pkg/kafka"
	"github.com/mkumaran/message-search/pkg/logger"
	"github.com/mkumaran/message-search/pkg/metrics"
	"github.com/mkumaran/message-search/pkg/middleware"
	"github.com/mkumaran/message-search/pkg/postgres"
	pkgredis "github.com/mkumaran/message-search/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting message search service",
		"port", cfg.Server.Port,
		"upstream", cfg.Upstream.BaseURL,
		"refresh_interval", cfg.Refresh.Interval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(nil)
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	store := index.NewStore()
	engine := index.NewEngine(index.EngineOptions{
		MaxPageSize:       cfg.Search.MaxPageSize,
		SubstringFallback: cfg.Search.SubstringFallback,
	})

	// Optional collaborators: the service degrades to uncached, unaudited,
	// event-less operation when redis, postgres, or kafka are absent.
	var queryCache *cache.QueryCache
	var redisClient *pkgredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, query caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis)
			slog.Info("query cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	var auditStore *audit.Store
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Warn("postgres unavailable, refresh auditing disabled", "error", err)
		} else {
			defer pgClient.Close()
			auditStore, err = audit.NewStore(ctx, pgClient)
			if err != nil {
				slog.Warn("audit store init failed, refresh auditing disabled", "error", err)
			} else {
				slog.Info("refresh auditing enabled", "host", cfg.Postgres.Host)
			}
		}
	}

	var collector *analytics.Collector
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.AnalyticsTopic)
		defer producer.Close()
		collector = analytics.NewCollector(producer, cfg.Kafka.BatchSize, cfg.Kafka.FlushInterval)
		collector.Start(ctx)
		defer collector.Close()
		slog.Info("analytics collector enabled", "topic", cfg.Kafka.AnalyticsTopic)
	}

	fetcher := upstream.New(cfg.Upstream, m)
	ref := refresher.New(refresher.Options{
		Fetcher:    fetcher,
		Store:      store,
		Config:     cfg.Refresh,
		Metrics:    m,
		AuditStore: auditStore,
		OnPublished: func(snap *index.Snapshot) {
			if queryCache == nil {
				return
			}
			if err := queryCache.Invalidate(context.Background()); err != nil {
				slog.Error("cache invalidation after publish failed", "error", err)
			}
		},
	})
	go ref.Run(ctx)

	checker := health.NewChecker()
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		snap := store.Acquire()
		if snap == nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: "no snapshot published yet"}
		}
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d docs indexed", snap.DocCount()),
		}
	})
	if redisClient != nil {
		checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
			if err := redisClient.Ping(ctx); err != nil {
				return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
			}
			return health.ComponentHealth{Status: health.StatusUp}
		})
	}

	h := server.New(server.Options{
		Engine:    engine,
		Store:     store,
		Cache:     queryCache,
		Collector: collector,
		Metrics:   m,
		Search:    cfg.Search,
	})

	var chain http.Handler = h.Routes(checker)
	if m != nil {
		chain = middleware.Metrics(m)(chain)
	}
	if cfg.Server.RateLimitRPS > 0 {
		chain = middleware.RateLimit(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)(chain)
	}
	chain = middleware.RequestID(chain)

	srv := &http.Server{
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
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("search service listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("search service stopped")
}
