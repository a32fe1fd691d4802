package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"freightdash/internal/core/domain"
	"freightdash/internal/core/ports"
	"freightdash/internal/core/services"
	httphandlers "freightdash/internal/handlers/http"
	"freightdash/internal/infrastructure/backend"
	"freightdash/internal/infrastructure/feed"
	"freightdash/internal/infrastructure/middleware"
	"freightdash/internal/infrastructure/monitoring"
	repositories "freightdash/internal/infrastructure/repositories"
	"freightdash/pkg/circuitbreaker"
	"freightdash/pkg/config"
	"freightdash/pkg/logger"
	"freightdash/pkg/retry"
	"freightdash/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

	configFlag := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/freightdash/config.yaml",
		"config.yaml",
	}
	if *configFlag != "" {
		configPaths = []string{*configFlag}
	}

	var cfg *config.Config
	var err error
	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		// Fallback to defaults if config cannot be loaded
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()
	if err != nil {
		log.Warnw("using default configuration", "error", err)
	}

	tracingCfg := tracing.DefaultConfig()
	tracingCfg.Enabled = cfg.Tracing.Enabled
	tracingCfg.JaegerURL = cfg.Tracing.JaegerURL
	tracingCfg.Environment = cfg.Tracing.Environment
	tracingCfg.SampleRate = cfg.Tracing.SampleRate
	tp, err := tracing.Init(tracingCfg)
	if err != nil {
		log.Fatalw("failed to initialise tracing", "error", err)
	}

	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}

	var collector *monitoring.PrometheusCollector
	if cfg.Monitoring.PrometheusEnabled {
		collector = monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
	}
	observer := observerOf(collector)

	clientOpts := []backend.Option{
		backend.WithSnapshotCache(repoFactory.CreateSnapshotCache()),
		backend.WithObserver(observer),
	}
	if collector != nil {
		clientOpts = append(clientOpts, backend.WithBreakerStateListener(collector.RecordBreakerState))
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.Enabled = cfg.Retry.Enabled
	retryCfg.MaxAttempts = cfg.Retry.MaxAttempts
	retryCfg.InitialDelay = cfg.Retry.InitialDelay
	retryCfg.MaxDelay = cfg.Retry.MaxDelay

	breakerCfg := circuitbreaker.DefaultConfig()
	breakerCfg.FailureThreshold = cfg.CircuitBreaker.FailureThreshold
	breakerCfg.SuccessThreshold = cfg.CircuitBreaker.SuccessThreshold
	breakerCfg.Timeout = cfg.CircuitBreaker.Timeout
	breakerCfg.MaxRequestsHalfOpen = cfg.CircuitBreaker.MaxRequestsHalfOpen

	client, err := backend.NewClient(backend.Config{
		BaseURL:        cfg.Backend.BaseURL,
		Timeout:        cfg.Backend.Timeout,
		Retry:          retryCfg,
		CircuitBreaker: breakerCfg,
	}, zapLogger, clientOpts...)
	if err != nil {
		log.Fatalw("failed to create backend client", "error", err)
	}

	policy, err := services.ParseEmptyLivePolicy(cfg.Store.EmptyLivePolicy)
	if err != nil {
		log.Fatalw("invalid store policy", "error", err)
	}
	store := services.NewReconcileStore(policy, observer, log)

	feedCfg := feed.DefaultConfig()
	feedCfg.URL = cfg.FeedURL()
	feedCfg.HandshakeTimeout = cfg.Feed.HandshakeTimeout
	feedCfg.PingInterval = cfg.Feed.PingInterval
	feedCfg.PongTimeout = cfg.Feed.PongTimeout
	feedCfg.WriteTimeout = cfg.Feed.WriteTimeout
	feedCfg.MaxMessageSize = cfg.Feed.MaxMessageSizeBytes
	feedCfg.MessagesPerSecond = cfg.Feed.MessagesPerSecond
	feedCfg.Burst = cfg.Feed.Burst
	feedCfg.Reconnect = feed.ReconnectConfig{
		Enabled:      cfg.Feed.Reconnect.Enabled,
		InitialDelay: cfg.Feed.Reconnect.InitialDelay,
		MaxDelay:     cfg.Feed.Reconnect.MaxDelay,
		Multiplier:   cfg.Feed.Reconnect.Multiplier,
		MaxAttempts:  cfg.Feed.Reconnect.MaxAttempts,
	}
	channel := feed.NewChannel(feedCfg, store, log, feed.WithCookieJar(client.Jar()), feed.WithObserver(observer))

	resources := make([]domain.Resource, 0, len(cfg.Polling.Resources))
	for _, r := range cfg.Polling.Resources {
		resources = append(resources, domain.Resource(r))
	}

	session := services.NewDashboardService(services.DashboardConfig{
		Credentials: domain.Credentials{
			Name:     cfg.Backend.Credentials.Name,
			Password: cfg.Backend.Credentials.Password,
		},
		PollInterval: cfg.Polling.Interval,
		Resources:    resources,
	}, client, channel, store, observer, log)

	health := monitoring.NewHealthChecker()
	health.AddCacheCheck(repoFactory.HealthCheck, 2*time.Second)
	health.AddFeedCheck(channel.State)
	health.AddLoginCheck(session.LoginError, func() bool {
		return session.Status().Login == services.LoggedIn
	})

	// Configure Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.NewHTTPRateLimitMiddleware(cfg),
		middleware.ErrorHandlerMiddleware(log),
	)

	httphandlers.NewDashboardHandler(session).SetupRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
			"session":   session.SessionID(),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		status := health.GetReadinessStatus(c.Request.Context())
		if status.Status != "healthy" {
			c.JSON(http.StatusServiceUnavailable, status)
			return
		}
		c.JSON(http.StatusOK, status)
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting freightdash on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := session.Start(ctx); err != nil {
			// The surface keeps serving the failure message.
			log.Errorw("dashboard session did not start", "error", err)
		}
	}()

	failed := false
	select {
	case err := <-serverErr:
		log.Errorw("Server failed", "error", err)
		failed = true
	case <-ctx.Done():
		log.Info("Received shutdown signal")
	}

	log.Info("Shutting down freightdash...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Closing the session first ends open event streams.
	if err := session.Close(); err != nil {
		log.Errorw("Error closing dashboard session", "error", err)
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	if err := client.Close(); err != nil {
		log.Errorw("Error closing backend client", "error", err)
	}
	if err := repoFactory.Close(); err != nil {
		log.Errorw("Error closing repository factory", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error flushing traces", "error", err)
	}

	log.Info("freightdash stopped")
	if failed {
		os.Exit(1)
	}
}

// observerOf avoids handing a typed nil collector to components.
func observerOf(collector *monitoring.PrometheusCollector) ports.Observer {
	if collector == nil {
		return ports.NopObserver{}
	}
	return collector
}
