package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/sentinelstack/guardian/internal/analyzers"
	"github.com/sentinelstack/guardian/internal/api"
	"github.com/sentinelstack/guardian/internal/config"
	"github.com/sentinelstack/guardian/internal/engine"
	"github.com/sentinelstack/guardian/internal/eventlog"
	"github.com/sentinelstack/guardian/internal/gateway"
	"github.com/sentinelstack/guardian/internal/history"
	"github.com/sentinelstack/guardian/internal/metrics"
	"github.com/sentinelstack/guardian/internal/responders"
	"github.com/sentinelstack/guardian/internal/services"
	"github.com/sentinelstack/guardian/internal/trends"
	"github.com/sentinelstack/guardian/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting guardian", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var eventLog eventlog.Store
	if cfg.EventLog.Path != "" {
		sqliteLog, err := eventlog.OpenSQLite(cfg.EventLog.Path)
		if err != nil {
			logger.Error("failed to open event log", slog.String("path", cfg.EventLog.Path), slog.Any("error", err))
			os.Exit(1)
		}
		eventLog = sqliteLog
	} else {
		logger.Warn("no event log path configured, emergency events are kept in memory")
		eventLog = eventlog.NewMemoryStore()
	}
	defer eventLog.Close()

	var broadcaster engine.FlagBroadcaster
	var redisClient *redis.Client
	if cfg.Broadcast.Enabled && cfg.Broadcast.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Broadcast.Addr,
			Username: cfg.Broadcast.Username,
			Password: cfg.Broadcast.Password,
			DB:       cfg.Broadcast.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis broadcast unavailable", slog.Any("error", err))
			_ = redisClient.Close()
			redisClient = nil
		} else {
			broadcaster = responders.NewRedisBroadcaster(logger, redisClient, cfg.Broadcast.KeyPrefix)
		}
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	var responder engine.Responder
	if cfg.Responders.BaseURL != "" {
		responder = responders.NewPipelineClient(logger, responders.Config{
			BaseURL:         cfg.Responders.BaseURL,
			Timeout:         cfg.Responders.Timeout,
			RetryAttempts:   cfg.Responders.RetryAttempts,
			RatePerSecond:   cfg.Responders.RatePerSecond,
			RateBurst:       cfg.Responders.RateBurst,
			BreakerMaxFails: cfg.Responders.BreakerMaxFails,
			BreakerCooldown: cfg.Responders.BreakerCooldown,
		})
	} else {
		logger.Warn("no responder base URL configured, response actions are log-only")
	}

	store := history.NewStore(cfg.History.MaxDiagnostics, cfg.History.MaxActionPlans)

	alerts := engine.NewAlertLevelEngine(engine.Thresholds{
		CoherenceMin:    cfg.Alerting.CoherenceMin,
		EfficacyMin:     cfg.Alerting.EfficacyMin,
		StabilityMin:    cfg.Alerting.StabilityMin,
		AbsoluteFloor:   cfg.Alerting.AbsoluteFloor,
		EscalateTicks:   cfg.Alerting.EscalateTicks,
		DeescalateTicks: cfg.Alerting.DeescalateTicks,
	})

	controller := engine.NewProtocolController(logger, engine.ProtocolControllerConfig{
		ActionTimeout:    cfg.Responders.Timeout,
		RollbackRevision: cfg.Responders.RollbackRevision,
	}, responder, broadcaster, eventLog)

	loop := engine.NewLoop(logger, engine.LoopConfig{
		TickInterval:    cfg.Loop.TickInterval,
		SnapshotHistory: cfg.Loop.SnapshotHistory,
	}, store, analyzers.Config{
		WindowDiagnostics:      cfg.Analysis.WindowDiagnostics,
		MinDiagnostics:         cfg.Analysis.MinDiagnostics,
		LowConfidenceThreshold: cfg.Analysis.LowConfidenceThreshold,
		ContradictionWeight:    cfg.Analysis.ContradictionWeight,
		WindowActionPlans:      cfg.Analysis.WindowActionPlans,
		MinActionPlans:         cfg.Analysis.MinActionPlans,
	}, alerts, controller)

	gw := gateway.New(logger, store, cfg.Ingest.QueueCapacity, cfg.Ingest.Workers)
	miner := trends.NewMiner(logger, eventLog)

	guardianService := services.NewGuardianService(logger, gw, loop, alerts, controller, eventLog, miner)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var poller *responders.Poller
	if cfg.Poller.Enabled {
		poller = responders.NewPoller(logger, responders.PollerConfig{
			Interval:       cfg.Poller.Interval,
			Timeout:        cfg.Poller.Timeout,
			DiagnosticsURL: cfg.Poller.DiagnosticsURL,
			ActionPlansURL: cfg.Poller.ActionPlansURL,
		}, gw)
		poller.Start(ctx)
	}

	guardianService.Start(ctx)

	handler := api.NewHandler(logger, guardianService, ctx)
	server, err := api.NewServer(cfg.Server, handler)
	if err != nil {
		logger.Error("failed to create HTTP server", slog.Any("error", err))
		os.Exit(1)
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("HTTP server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if poller != nil {
		poller.Stop()
	}
	guardianService.Stop()

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("guardian stopped")
}
