// rpaflow-server — процесс ядра оркестрации: REST API, планировщик,
// worker-пул, прокси-пул и публикация событий в одном бинаре.
//
// Настраивается переменными окружения (см. internal/config).
// PostgreSQL и RabbitMQ опциональны: без DB_URL ядро работает
// in-memory, без RABBITMQ_URL события не публикуются.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/rpaflow/internal/api"
	"github.com/shaiso/rpaflow/internal/config"
	"github.com/shaiso/rpaflow/internal/mq"
	"github.com/shaiso/rpaflow/internal/orchestrator"
	"github.com/shaiso/rpaflow/internal/proxy"
	"github.com/shaiso/rpaflow/internal/repo"
	"github.com/shaiso/rpaflow/internal/retry"
	"github.com/shaiso/rpaflow/internal/scheduler"
	"github.com/shaiso/rpaflow/internal/telemetry"
	"github.com/shaiso/rpaflow/internal/worker"
)

func main() {
	logger := telemetry.SetupLogger()
	cfg := config.Load()

	logger.Info("starting rpaflow-server",
		"http_port", cfg.HTTPPort,
		"worker_pool_size", cfg.WorkerPoolSize,
		"proxy_enabled", cfg.ProxyEnabled,
	)

	ctx := context.Background()

	// Персистентность опциональна: без DB_URL ядро работает in-memory.
	var store *repo.Store
	if cfg.DBURL != "" {
		pool, err := repo.NewPool(ctx, cfg.DBURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := repo.EnsureSchema(ctx, pool); err != nil {
			logger.Error("failed to ensure schema", "error", err)
			os.Exit(1)
		}
		store = repo.NewStore(pool)
		logger.Info("connected to database")
	}

	// Публикация событий опциональна.
	var publisher *mq.Publisher
	if cfg.MQURL != "" {
		conn, err := mq.NewConnection(cfg.MQURL, logger)
		if err != nil {
			logger.Error("failed to connect to RabbitMQ", "error", err)
			os.Exit(1)
		}
		defer conn.Close()

		if err := mq.SetupTopology(conn); err != nil {
			logger.Error("failed to setup MQ topology", "error", err)
			os.Exit(1)
		}
		publisher = mq.NewPublisher(conn, logger)
	}

	strategy, err := proxy.ParseStrategy(cfg.ProxyStrategy)
	if err != nil {
		logger.Error("invalid proxy strategy", "strategy", cfg.ProxyStrategy, "error", err)
		os.Exit(1)
	}

	proxyCfg := proxy.Config{
		Enabled:       cfg.ProxyEnabled,
		Mandatory:     cfg.ProxyMandatory,
		FailThreshold: cfg.ProxyFailThreshold,
		Cooldown:      cfg.ProxyCooldown,
		Strategy:      strategy,
		Logger:        logger,
	}
	if publisher != nil {
		proxyCfg.Events = publisher
	}
	proxies := proxy.New(proxyCfg)

	var prober *proxy.Prober
	if cfg.ProxyEnabled {
		n, err := proxies.LoadFile(cfg.ProxyFile)
		if err != nil {
			logger.Error("failed to load proxy list", "file", cfg.ProxyFile, "error", err)
			os.Exit(1)
		}
		logger.Info("proxy list loaded", "file", cfg.ProxyFile, "count", n)

		// Статистика прошлого процесса переживает рестарт.
		if store != nil {
			snaps, err := store.Proxies.ListAll(ctx)
			if err != nil {
				logger.Warn("failed to load proxy snapshots", "error", err)
			} else {
				for _, px := range snaps {
					proxies.RestoreStats(px)
				}
			}
		}

		prober = proxy.NewProber(proxy.ProberConfig{
			Pool:     proxies,
			Interval: cfg.ProxyProbeInterval,
			ProbeURL: cfg.ProxyProbeURL,
			Logger:   logger,
		})
	}

	sched := scheduler.New(scheduler.Config{
		DefaultMaxRetries: cfg.DefaultMaxRetries,
		Logger:            logger,
	})

	workerCfg := worker.Config{
		Size:          cfg.WorkerPoolSize,
		Scheduler:     sched,
		Proxies:       proxies,
		Machine:       retry.New(cfg.RetryBaseDelay, cfg.RetryMaxDelay),
		Executor:      &worker.HTTPExecutor{},
		TaskTimeout:   cfg.TaskTimeout,
		ShutdownGrace: cfg.ShutdownGrace,
		Logger:        logger,
	}
	// Типизированный nil в interface-поле ломает проверки store == nil,
	// поэтому опциональные зависимости присваиваются только при наличии.
	if store != nil {
		workerCfg.Store = store
	}
	if publisher != nil {
		workerCfg.Events = publisher
	}
	workers := worker.New(workerCfg)

	orchCfg := orchestrator.Config{
		Scheduler:    sched,
		Proxies:      proxies,
		Prober:       prober,
		Workers:      workers,
		TickInterval: cfg.TickInterval,
		Logger:       logger,
	}
	if store != nil {
		orchCfg.Store = store
	}
	orch := orchestrator.New(orchCfg)

	if err := orch.Start(ctx); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(api.Config{
		Orchestrator: orch,
		Logger:       logger,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: mux,
	}

	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Ожидаем сигнал завершения
	sigCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	<-sigCtx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}

	orch.Shutdown()

	logger.Info("stopped")
}
