package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/queryguard/queryguard/internal/observability"
	"github.com/queryguard/queryguard/internal/probe"
	"github.com/queryguard/queryguard/pkg/alerting"
	"github.com/queryguard/queryguard/pkg/breaker"
	"github.com/queryguard/queryguard/pkg/config"
	"github.com/queryguard/queryguard/pkg/health"
	"github.com/queryguard/queryguard/pkg/logging"
	"github.com/queryguard/queryguard/pkg/monitor"
	"github.com/queryguard/queryguard/pkg/tracing"
)

func main() {
	// .env is optional; real deployments set environment variables directly
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "queryguard",
		Version:     version(),
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	tracer, err := tracing.NewService(&tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		Environment:    cfg.Alerting.Environment,
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	obs := observability.NewMetrics(nil)

	sinks := []alerting.Sink{alerting.NewLogSink(logger)}
	if cfg.Alerting.WebhookURL != "" {
		sinks = append(sinks, alerting.NewWebhookSink(cfg.Alerting.WebhookURL))
	}
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		sinks = append(sinks, alerting.NewRedisSink(client, cfg.Redis.Channel, cfg.Redis.ListKey, int64(cfg.Alerting.HistorySize)))
	}

	manager := alerting.NewManager(alerting.Config{
		Environment:   alerting.Environment(cfg.Alerting.Environment),
		CheckInterval: cfg.Alerting.CheckInterval,
		HistorySize:   cfg.Alerting.HistorySize,
		Logger:        logger,
	}, sinks...)

	mon := monitor.New(monitor.Config{
		MaxSamples:       cfg.Monitor.MaxSamples,
		MaxSampleAge:     cfg.Monitor.MaxSampleAge,
		EvaluationWindow: cfg.Monitor.EvaluationWindow,
		MinWindowSamples: cfg.Monitor.MinWindowSamples,
		Thresholds: monitor.Thresholds{
			MaxQueryTime:         cfg.Monitor.MaxQueryTime,
			MinCacheHitRate:      cfg.Monitor.MinCacheHitRate,
			MaxErrorRate:         cfg.Monitor.MaxErrorRate,
			MaxAuthDelay:         cfg.Monitor.MaxAuthDelay,
			DegradationThreshold: cfg.Monitor.DegradationThreshold,
		},
		Logger: logger,
	})
	mon.OnAlert(manager.HandleMonitorAlert)
	mon.OnAlert(obs.ObserveAlert)
	mon.OnSample(obs.ObserveSample)

	registry := breaker.NewRegistry(breaker.Config{
		MaxFailures:      cfg.Breaker.MaxFailures,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
		SuccessesToClose: cfg.Breaker.SuccessesToClose,
		Logger:           logger,
	}, manager.HandleBreakerEvent, obs.ObserveBreakerEvent)

	healthService := health.NewService(logger)
	healthService.RegisterChecker("circuit_breakers", health.NewBreakerChecker(registry))
	healthService.RegisterChecker("query_health_score", health.NewScoreChecker(mon, 5*time.Minute, 70))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager.Start(ctx)
	defer manager.Stop()

	if os.Getenv("PROBE_ENABLED") == "true" {
		p := probe.New(probe.Config{
			Interval:    getEnvDuration("PROBE_INTERVAL", time.Second),
			FailureRate: getEnvFloat("PROBE_FAILURE_RATE", 0.05),
		}, registry, mon, logger)
		p.Start(ctx)
		defer p.Stop()
	}

	router := setupRouter(cfg, tracer, obs, registry, mon, manager, healthService)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Ops server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", "error", err)
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Tracer shutdown failed", "error", err)
	}
}

func setupRouter(
	cfg *config.Config,
	tracer *tracing.Service,
	obs *observability.Metrics,
	registry *breaker.Registry,
	mon *monitor.Monitor,
	manager *alerting.Manager,
	healthService *health.Service,
) *gin.Engine {
	if cfg.Alerting.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())
	router.Use(tracer.GinMiddleware())

	router.GET("/health", healthService.GinHandler())
	router.GET("/metrics", gin.WrapH(obs.Handler()))

	v1 := router.Group("/v1")
	{
		v1.GET("/breakers", func(c *gin.Context) {
			c.JSON(http.StatusOK, registry.Snapshots())
		})
		v1.POST("/breakers/:resource/reset", func(c *gin.Context) {
			resource := c.Param("resource")
			if !registry.Reset(resource) {
				c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown resource %q", resource)})
				return
			}
			c.JSON(http.StatusOK, gin.H{"resource": resource, "state": "CLOSED"})
		})

		v1.GET("/metrics", func(c *gin.Context) {
			window := queryWindow(c, 5*time.Minute)
			c.JSON(http.StatusOK, mon.GetAggregatedMetrics(window))
		})
		v1.GET("/health-score", func(c *gin.Context) {
			window := queryWindow(c, 5*time.Minute)
			c.JSON(http.StatusOK, mon.Health(window))
		})
		v1.GET("/trend", func(c *gin.Context) {
			window := queryWindow(c, 15*time.Minute)
			c.JSON(http.StatusOK, mon.Trend(window))
		})

		v1.GET("/alerts", func(c *gin.Context) {
			limit := 20
			if raw := c.Query("limit"); raw != "" {
				if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
					limit = parsed
				}
			}
			c.JSON(http.StatusOK, manager.Recent(limit))
		})

		v1.GET("/thresholds", func(c *gin.Context) {
			c.JSON(http.StatusOK, mon.Thresholds())
		})
		v1.PATCH("/thresholds", func(c *gin.Context) {
			var patch monitor.ThresholdPatch
			if err := c.ShouldBindJSON(&patch); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, mon.UpdateThresholds(patch))
		})
	}

	return router
}

func queryWindow(c *gin.Context, fallback time.Duration) time.Duration {
	if raw := c.Query("window"); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if raw := os.Getenv(key); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if raw := os.Getenv(key); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func version() string {
	if v := os.Getenv("QUERYGUARD_VERSION"); v != "" {
		return v
	}
	return "dev"
}
