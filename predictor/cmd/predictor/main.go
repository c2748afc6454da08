package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Krimson/fetal-health-classifier/predictor/internal/audit"
	"github.com/Krimson/fetal-health-classifier/predictor/internal/cache"
	"github.com/Krimson/fetal-health-classifier/predictor/internal/classifier/onnx"
	"github.com/Krimson/fetal-health-classifier/predictor/internal/config"
	"github.com/Krimson/fetal-health-classifier/predictor/internal/grpcapi"
	"github.com/Krimson/fetal-health-classifier/predictor/internal/handler"
	"github.com/Krimson/fetal-health-classifier/predictor/internal/health"
	"github.com/Krimson/fetal-health-classifier/predictor/internal/logging"
	"github.com/Krimson/fetal-health-classifier/predictor/internal/metrics"
	"github.com/Krimson/fetal-health-classifier/predictor/internal/registry"
	"github.com/Krimson/fetal-health-classifier/predictor/internal/service"
	"github.com/Krimson/fetal-health-classifier/predictor/internal/websocket"

	_ "github.com/Krimson/fetal-health-classifier/predictor/docs" // Swagger docs
)

// @title Fetal Health Prediction API
// @version 1.0
// @description API классификации состояния плода по признакам КТГ
// @description
// @description ## Описание
// @description Сервис загружает обученные модели при старте и возвращает статус (Normal, Suspect, Pathological) с уверенностью для одной записи или пачки.
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.email support@fetalmonitory.com

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8000
// @BasePath /
// @schemes http

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Errorw("Predictor stopped with error", "error", err)
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.SugaredLogger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Infow("Starting predictor",
		"http_port", cfg.HTTPPort,
		"grpc_port", cfg.GRPCPort,
		"manifest", cfg.ModelsManifest,
		"audit_driver", cfg.AuditDriver)

	if cfg.ONNXLibraryPath != "" {
		onnx.SetLibraryPath(cfg.ONNXLibraryPath)
	}
	defer onnx.Shutdown()

	specs, defaultModel, err := cfg.ModelSpecs()
	if err != nil {
		return err
	}

	reg := registry.LoadAll(defaultModel, specs, logger)
	defer reg.Close()
	defaultName, _ := reg.DefaultName()
	logger.Infow("Model registry ready",
		"declared", reg.Len(),
		"loaded", reg.Loaded(),
		"ready", reg.IsReady(),
		"preferred_default", reg.PreferredDefault(),
		"default", defaultName)

	predictionService := service.NewPredictionService(reg, service.Options{
		MaxBatchSize: cfg.MaxBatchSize,
		BatchWorkers: cfg.BatchWorkers,
	}, logger)

	m := metrics.New()
	m.SetModelsLoaded(len(reg.Loaded()))
	predictionService.AddObserver(m)

	predictionCache, closeCache, err := buildCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()
	if predictionCache != nil {
		predictionService.UseCache(predictionCache)
	}

	trail, err := buildAudit(ctx, cfg, logger, m)
	if err != nil {
		return err
	}
	defer trail.stop()
	if trail.batcher != nil {
		predictionService.AddObserver(audit.NewRecorder(trail.batcher))
	}

	hub := websocket.NewHub(logger)
	go hub.Run(ctx)
	predictionService.AddObserver(hub)

	httpHandler := handler.NewHTTPHandler(predictionService, logger)
	if trail.store != nil {
		httpHandler.UseRecent(trail.store)
	}
	router := handler.NewRouter(httpHandler, handler.Routes{
		Metrics:  m.Handler(),
		LiveFeed: hub.HandleWebSocket,
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	healthServer := health.NewHealthServer()
	healthServer.SyncModels(reg, grpcapi.ServiceName)
	grpcServer := grpcapi.NewServer(grpcapi.NewPredictionServer(predictionService, logger), healthServer)

	address := ":" + cfg.GRPCPort
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	serverErrChan := make(chan error, 2)
	go func() {
		logger.Infow("HTTP server listening", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()
	go func() {
		logger.Infow("gRPC server listening", "address", address)
		if err := grpcServer.Serve(listener); err != nil {
			serverErrChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case runErr = <-serverErrChan:
		logger.Errorw("Server error", "error", runErr)
	case sig := <-shutdownChan:
		logger.Infow("Received signal, starting graceful shutdown", "signal", sig.String())
	}

	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("HTTP server forced to shutdown", "error", err)
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		logger.Warnw("Graceful shutdown timeout, forcing gRPC stop")
		grpcServer.Stop()
	}

	cancel()
	logger.Infow("Server stopped")
	return runErr
}

// buildCache: LRU при CACHE_SIZE > 0, Redis при заданном REDIS_ADDR, оба - Tiered
func buildCache(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (service.Cache, func(), error) {
	noop := func() {}

	var l1 *cache.LRUCache
	if cfg.CacheSize > 0 {
		lru, err := cache.NewLRUCache(cfg.CacheSize)
		if err != nil {
			return nil, noop, err
		}
		l1 = lru
	}

	var l2 *cache.RedisCache
	if cfg.RedisAddr != "" {
		l2 = cache.NewRedisCache(cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB), cfg.CacheTTL(), logger)

		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := l2.Ping(pingCtx); err != nil {
			logger.Warnw("Redis unavailable, cache lookups will miss until it recovers",
				"addr", cfg.RedisAddr, "error", err)
		} else {
			logger.Infow("Connected to Redis", "addr", cfg.RedisAddr)
		}
	}

	closeL2 := func() {
		if l2 != nil {
			l2.Close()
		}
	}

	switch {
	case l1 != nil && l2 != nil:
		return cache.NewTiered(l1, l2), closeL2, nil
	case l1 != nil:
		return l1, noop, nil
	case l2 != nil:
		return l2, closeL2, nil
	default:
		logger.Infow("Prediction cache disabled")
		return nil, noop, nil
	}
}

// auditTrail - батчер журнала, хранилище для /predictions/recent и то, что нужно закрыть
type auditTrail struct {
	batcher *audit.Batcher
	store   *audit.SQLSink
	closer  io.Closer
}

func (a *auditTrail) stop() {
	if a.batcher != nil {
		a.batcher.Stop()
	}
	if a.closer != nil {
		a.closer.Close()
	}
}

func buildAudit(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger, m *metrics.Metrics) (*auditTrail, error) {
	trail := &auditTrail{}
	var sink audit.Sink

	switch cfg.AuditDriver {
	case "", "none":
		logger.Infow("Audit trail disabled")
		return trail, nil
	case "log":
		sink = &audit.LogSink{Logger: logger}
	case audit.DriverJSONL:
		journal, err := audit.NewJSONLSink(audit.JSONLConfig{FilePath: cfg.AuditDSN})
		if err != nil {
			return nil, fmt.Errorf("failed to open audit journal: %w", err)
		}
		logger.Infow("Audit journal ready", "path", cfg.AuditDSN)
		sink, trail.closer = journal, journal
	default:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		store, err := audit.NewSQLSink(connectCtx, cfg.AuditDriver, cfg.AuditDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit store: %w", err)
		}
		logger.Infow("Audit store ready", "driver", cfg.AuditDriver)
		sink, trail.store, trail.closer = store, store, store
	}

	trail.batcher = audit.NewBatcher(audit.BatcherConfig{
		MaxRecords:    cfg.AuditBatchSize,
		FlushInterval: cfg.AuditFlushInterval(),
		OnDrop:        m.AuditDropped,
	}, sink, logger)

	return trail, nil
}
