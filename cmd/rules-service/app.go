package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	_ "github.com/lib/pq" // PostgreSQL driver

	"verdict/internal/broker"
	"verdict/internal/catalog"
	"verdict/internal/config"
	"verdict/internal/constants"
	"verdict/internal/logger"
	"verdict/internal/rules"
	"verdict/pkg/bootstrap"
	"verdict/pkg/errors"
	"verdict/pkg/health"
	"verdict/pkg/metrics"
	"verdict/pkg/middleware"
	"verdict/pkg/ratelimit"
	"verdict/pkg/tracing"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

type App struct {
	config         *config.Config
	logger         logger.Logger
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	redisClient    *redis.Client
	producer       broker.Producer
	provider       *rules.CachedProvider
	redisSink      *rules.RedisFireSink
	server         *http.Server
	router         *gin.Engine
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		config:      cfg,
		logger:      log,
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.initRouter(); err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}

	if err := a.initServer(); err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	tp, err := tracing.Init(a.config.Tracing, "rules-service")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	redisClient, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		a.logger.WarnwCtx(ctx, "Redis connection failed, fire counters will write through to the store",
			"error", err,
		)
	} else {
		a.redisClient = redisClient
	}

	return nil
}

func (a *App) initRouter() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware("rules-service"))
	}

	router.Use(middleware.RecoveryMiddleware(a.logger))
	router.Use(middleware.LoggerMiddleware(a.logger))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.ActorMiddleware())

	store := a.buildStore()
	audit := a.buildAuditLog()

	a.provider = rules.NewCachedProvider(store, a.config.Engine.Reload, a.logger)
	sink := a.buildFireSink(store)

	engine := rules.NewEngine(a.provider,
		rules.WithFireSink(sink),
		rules.WithEngineLogger(a.logger),
	)

	opts := []rules.ServiceOption{
		rules.WithServiceLogger(a.logger),
		rules.WithAudit(audit),
	}
	if events := a.buildEventPublisher(); events != nil {
		opts = append(opts, rules.WithEvents(events))
	}

	svc := rules.NewService(store, catalog.Default(), engine, opts...)
	handler := rules.NewHandler(svc, a.logger)

	// The rate limiter guards the authoring surface only; evaluation
	// traffic is not limited.
	var authoringMiddleware []gin.HandlerFunc
	if a.config.Authoring.RateLimit.Enabled {
		rateLimitConfig := ratelimit.RateLimitConfig{
			RPS:             a.config.Authoring.RateLimit.RPS,
			Burst:           a.config.Authoring.RateLimit.Burst,
			CleanupInterval: time.Duration(a.config.Authoring.RateLimit.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(a.config.Authoring.RateLimit.MaxAge) * time.Second,
		}
		authoringMiddleware = append(authoringMiddleware, ratelimit.RateLimitMiddleware(rateLimitConfig))
		a.logger.InfowCtx(context.Background(), "Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	handler.RegisterRoutes(router, authoringMiddleware...)

	metrics.RegisterEngineMetrics()
	metrics.RegisterAuthoringMetrics()
	if a.producer != nil {
		metrics.RegisterBrokerMetrics()
	}
	if a.redisSink != nil {
		metrics.RegisterCircuitBreakerMetrics()
	}

	healthRegistry := health.NewCheckerRegistry()
	if a.db != nil {
		healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	}
	if a.redisClient != nil {
		healthRegistry.Register(health.NewRedisChecker(a.redisClient))
	}

	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	a.router = router
	return nil
}

// buildStore prefers PostgreSQL and falls back to the in-memory store
// when no database is configured.
func (a *App) buildStore() rules.Store {
	if a.db != nil {
		return rules.NewPostgresStore(a.db)
	}
	a.logger.Warn("No PostgreSQL configured, using in-memory rule store")
	return rules.NewMemoryStore()
}

func (a *App) buildAuditLog() rules.AuditLog {
	if a.db != nil {
		return rules.NewPostgresAuditLog(a.db)
	}
	return rules.NewMemoryAuditLog()
}

func (a *App) buildFireSink(store rules.Store) rules.FireSink {
	if a.config.Engine.Telemetry.Sink == "redis" && a.redisClient != nil {
		a.redisSink = rules.NewRedisFireSink(a.redisClient, store, a.logger)
		return a.redisSink
	}
	return rules.NewStoreFireSink(store, a.logger)
}

func (a *App) buildEventPublisher() *rules.EventPublisher {
	if len(a.config.Broker.Kafka.Brokers) == 0 {
		return nil
	}

	topic := a.config.Broker.Kafka.RuleEventTopic
	if topic == "" {
		topic = constants.DefaultRuleEventTopic
	}

	a.producer = broker.NewKafkaProducer(a.config.Broker.Kafka, a.logger)
	a.logger.InfowCtx(context.Background(), "Rule event producer initialized", "topic", topic)
	return rules.NewEventPublisher(a.producer, topic, a.logger)
}

func (a *App) initServer() error {
	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.config.Server.Port),
		Handler:      a.router,
		ReadTimeout:  time.Duration(a.config.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(a.config.Server.WriteTimeoutSeconds) * time.Second,
	}
	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.InfowCtx(gCtx, "Server listening", "port", a.config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.RecoverPanic(r)
			}
		}()
		return a.provider.StartReloader(gCtx)
	})

	if a.redisSink != nil {
		interval := time.Duration(a.config.Engine.Telemetry.FlushIntervalSeconds) * time.Second
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = errors.RecoverPanic(r)
				}
			}()
			return a.redisSink.StartFlusher(gCtx, interval)
		})
	}

	<-gCtx.Done()

	shutdownErr := a.Shutdown(context.Background())
	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return shutdownErr
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.InfowCtx(ctx, "Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer close error: %w", err))
		}
	}

	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
		}
	}

	errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redisClient, a.db)...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	a.logger.InfowCtx(ctx, "Server exited successfully")
	return nil
}
