package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"tempo/backend/internal/cache"
	"tempo/backend/internal/config"
	"tempo/backend/internal/handlers"
	"tempo/backend/internal/middleware"
	"tempo/backend/internal/models"
	"tempo/backend/internal/monitoring"
	"tempo/backend/internal/scheduler"
	"tempo/backend/internal/services"
	"tempo/backend/internal/stream"
	"tempo/backend/internal/worker"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// App owns every long-lived component and wires them together in dependency
// order: store, cache, delivery hub, scheduler, push workers, HTTP server.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	// bgCtx bounds helper goroutines (the rate limiter sweeper); Shutdown
	// cancels it.
	bgCtx    context.Context
	bgCancel context.CancelFunc

	db        *gorm.DB
	redis     *cache.RedisCache
	hub       *stream.Hub
	scheduler *scheduler.Scheduler
	worker    *worker.Worker
	cron      *cron.Cron
	server    *http.Server
}

func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	db, err := gorm.Open(postgres.Open(cfg.Database.URL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(
		&models.Counter{},
		&models.Task{},
		&models.User{},
		&models.RegistrationCode{},
		&models.Notification{},
		&models.PushSubscription{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	redisCache := cache.NewRedisCache(&cache.CacheConfig{
		Addr:         cfg.GetRedisAddr(),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})

	hub := stream.NewHub()
	queue := worker.NewQueue(redisCache.Client())
	sched := scheduler.New(db, hub, queue, logger)

	pushWorker := worker.NewWorker(redisCache.Client(), logger)
	pushWorker.RegisterHandler(worker.JobTypePushReminder, worker.NewPushReminderHandler(db, nil, logger))

	bgCtx, bgCancel := context.WithCancel(context.Background())

	a := &App{
		cfg:       cfg,
		logger:    logger,
		bgCtx:     bgCtx,
		bgCancel:  bgCancel,
		db:        db,
		redis:     redisCache,
		hub:       hub,
		scheduler: sched,
		worker:    pushWorker,
		cron:      cron.New(),
	}

	if err := a.registerMaintenanceJobs(); err != nil {
		return nil, err
	}

	a.server = &http.Server{
		Addr:         cfg.GetServerAddr(),
		Handler:      a.setupRouter(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return a, nil
}

// Run recreates reminder timers from the store, starts the background
// machinery, and serves HTTP until the server is shut down.
func (a *App) Run(ctx context.Context) error {
	if err := a.scheduler.ScheduleAll(ctx); err != nil {
		return fmt.Errorf("failed to schedule reminders: %w", err)
	}

	a.worker.Start(a.cfg.Worker.Concurrency)
	a.cron.Start()

	a.logger.Info("server listening", zap.String("addr", a.server.Addr))
	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (a *App) Shutdown(ctx context.Context) {
	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error("http shutdown failed", zap.Error(err))
	}

	cronCtx := a.cron.Stop()
	<-cronCtx.Done()

	a.scheduler.Stop()
	a.worker.Stop()
	a.bgCancel()

	if err := a.redis.Close(); err != nil {
		a.logger.Error("redis close failed", zap.Error(err))
	}
}

func (a *App) setupRouter() *gin.Engine {
	if a.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(monitoring.MetricsMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{a.cfg.CORS.AllowedOrigin},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	health := monitoring.NewHealthChecker()
	health.Register("database", func(ctx context.Context) error {
		sqlDB, err := a.db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})
	health.Register("redis", func(ctx context.Context) error {
		return a.redis.Health()
	})

	taskService := services.NewCachedTaskService(services.NewTaskService(), a.redis)
	authService := services.NewAuthService(a.cfg.Auth.JWTSecret, a.cfg.Auth.TokenTTL)
	registerService := services.NewRegisterService(a.cfg.Auth.RequireRegistrationCode)
	billingService := services.NewBillingService(a.cfg.Billing.FrontendURL, a.logger)

	taskHandler := handlers.NewTaskHandler(a.db, taskService, a.scheduler)
	authHandler := handlers.NewAuthHandler(a.db, authService, registerService)
	notificationHandler := handlers.NewNotificationHandler(a.db, a.hub)
	pushHandler := handlers.NewPushHandler(a.db)
	webhookHandler := handlers.NewWebhookHandler(a.db, billingService, a.cfg.Billing.WebhookSecret, a.logger)

	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Tempo API is running")
	})
	router.GET("/healthz", health.Handler)
	router.GET("/metrics", monitoring.MetricsHandler)
	router.POST("/webhook", webhookHandler.Handle)

	requireAuth := middleware.RequireAuth(a.db, a.cfg.Auth.JWTSecret)

	api := router.Group("/api")
	{
		api.POST("/tasks", taskHandler.CreateTask)
		api.GET("/tasks", taskHandler.GetTasks)
		api.PUT("/tasks/:id", taskHandler.UpdateTask)
		api.DELETE("/tasks/:id", taskHandler.DeleteTask)

		auth := api.Group("/auth")
		auth.Use(middleware.RateLimit(a.bgCtx, middleware.RateLimitConfig{
			Enabled:         a.cfg.RateLimit.Enabled,
			RequestsPerMin:  a.cfg.RateLimit.RequestsPerMin,
			BurstSize:       a.cfg.RateLimit.BurstSize,
			CleanupInterval: a.cfg.RateLimit.CleanupInterval,
		}))
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
			auth.GET("/me", requireAuth, authHandler.Me)
			auth.PATCH("/me", requireAuth, authHandler.UpdateMe)
			auth.GET("/user/profile", requireAuth, authHandler.Profile)
		}

		// The stream route must precede the parameterized ones.
		api.GET("/notifications/stream", notificationHandler.Stream)
		api.POST("/notifications", notificationHandler.Create)
		api.GET("/notifications", notificationHandler.List)
		api.GET("/notifications/:id", notificationHandler.Get)
		api.PATCH("/notifications/:id", notificationHandler.Update)
		api.DELETE("/notifications/:id", notificationHandler.Delete)

		api.POST("/push-subscriptions", pushHandler.Subscribe)
		api.DELETE("/push-subscriptions", pushHandler.Unsubscribe)
	}

	return router
}

// registerMaintenanceJobs sweeps state that otherwise accumulates forever:
// registration codes nobody redeemed and codes already burned.
func (a *App) registerMaintenanceJobs() error {
	_, err := a.cron.AddFunc("@daily", func() {
		cutoff := time.Now().AddDate(0, 0, -30)
		result := a.db.Where("created_at < ?", cutoff).Delete(&models.RegistrationCode{})
		if result.Error != nil {
			a.logger.Error("registration code sweep failed", zap.Error(result.Error))
			return
		}
		if result.RowsAffected > 0 {
			a.logger.Info("swept stale registration codes", zap.Int64("count", result.RowsAffected))
		}
	})
	return err
}
