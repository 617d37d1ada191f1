package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"anoa.com/refurnish/internal/config"
	"anoa.com/refurnish/internal/event"
	"anoa.com/refurnish/internal/metrics"
	"anoa.com/refurnish/internal/middleware"
	"anoa.com/refurnish/internal/scheduler"
	"anoa.com/refurnish/pkg/database"
	"anoa.com/refurnish/pkg/logger"

	achievementHttp "anoa.com/refurnish/internal/modules/achievement/delivery/http"
	achievementRepo "anoa.com/refurnish/internal/modules/achievement/repository"
	achievement "anoa.com/refurnish/internal/modules/achievement/service"

	notiHttp "anoa.com/refurnish/internal/modules/notification/delivery/http"
	notifRepo "anoa.com/refurnish/internal/modules/notification/repository"
	notifService "anoa.com/refurnish/internal/modules/notification/service"

	pointsHttp "anoa.com/refurnish/internal/modules/points/delivery/http"
	pointsRepo "anoa.com/refurnish/internal/modules/points/repository"
	points "anoa.com/refurnish/internal/modules/points/service"

	searchService "anoa.com/refurnish/internal/modules/search/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/meilisearch/meilisearch-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	reconcileRunTimeout = 30 * time.Minute
	healthCheckTimeout  = 2 * time.Second
)

type Server struct {
	engine      *gin.Engine
	db          *gorm.DB
	redisClient *redis.Client
	bus         *event.Bus
	scheduler   *scheduler.Scheduler
	httpServer  *http.Server
	log         *zap.Logger
}

// NewServer wires stores, services and routes. redisClient and meiliClient are
// optional; without them caching, live notifications and catalogue search fall back
// to the database.
func NewServer(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, meiliClient meilisearch.ServiceManager, log *zap.Logger) (*Server, error) {
	txManager := database.NewTxManager(db)

	bus := event.NewBus(log, event.WithQueueSize(cfg.EventQueueSize))

	// Notification Module
	notificationRepository := notifRepo.NewNotificationRepository(db)
	notificationSvc := notifService.NewNotificationService(notificationRepository, redisClient, log)
	notificationHandler := notiHttp.NewNotificationHandler(notificationSvc, redisClient)

	bus.Subscribe("notification", notificationSvc.HandleEvent, event.TypeCompleted, event.TypeEarned)
	bus.Subscribe("completion_metrics", event.CompletionMetrics(), event.TypeCompleted)
	if redisClient != nil {
		bus.Subscribe("redis_bridge", event.RedisBridge(redisClient, cfg.PointsEventsChannel))
	}

	// Points Module
	pointsSvc := points.NewPointsService(pointsRepo.NewPointsRepository(db), txManager, bus, log, points.Config{
		StoreTimeout:     cfg.LedgerStoreTimeout,
		AnomalyThreshold: cfg.AnomalyThreshold,
		DefaultPageSize:  cfg.DefaultPageSize,
		MaxPageSize:      cfg.MaxPageSize,
	})
	pointsHandler := pointsHttp.NewPointsHandler(pointsSvc)

	// Achievement Module
	var index searchService.AchievementIndex
	if meiliClient != nil {
		index = searchService.NewMeiliSearchService(meiliClient, log)
	}
	achievementRepository := achievementRepo.NewAchievementRepository(db)
	registry := achievement.NewRegistry(achievementRepository, redisClient, index, log, achievement.RegistryConfig{
		CacheTTL:     cfg.AchievementCacheTTL,
		StoreTimeout: cfg.LedgerStoreTimeout,
	})
	tracker := achievement.NewTracker(achievementRepository, registry, pointsSvc, txManager, bus, log, cfg.LedgerStoreTimeout)
	achievementHandler := achievementHttp.NewAchievementHandler(registry, tracker)

	// Background jobs
	jobs := scheduler.NewScheduler(log, reconcileRunTimeout)
	if err := jobs.RegisterJob(points.NewReconcileJob(pointsSvc, cfg.ReconcileSchedule)); err != nil {
		return nil, err
	}
	jobsHandler := scheduler.NewJobsHandler(jobs)

	router := gin.New()

	setupCORS(router, cfg.AllowedOrigins)

	router.Use(logger.Recovery(log))
	router.Use(logger.GinMiddleware(log, "/healthz", "/metrics"))
	router.Use(metrics.GinMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		defer cancel()
		if err := database.Ping(ctx, db); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)
	privileged := authMiddleware.RequireRole(middleware.RoleAdmin, middleware.RoleService)
	self := authMiddleware.RequireSelfOrPrivileged("userId")

	api := router.Group("/api")
	api.Use(authMiddleware.RequireAuth())
	{
		// Admin routes
		adminGroup := api.Group("/admin")
		adminGroup.Use(authMiddleware.RequireRole(middleware.RoleAdmin))
		{
			adminGroup.DELETE("/points/transactions/:id", pointsHandler.DeactivateTransaction)
			adminGroup.POST("/points/reconcile", pointsHandler.Reconcile)
			adminGroup.PATCH("/achievements/:id/active", achievementHandler.SetActive)
			adminGroup.GET("/jobs", jobsHandler.ListJobs)
			adminGroup.POST("/jobs/:name/run", jobsHandler.RunJob)
		}

		// Ledger writes come from trusted services
		api.POST("/points/award", privileged, pointsHandler.AwardPoints)
		api.POST("/points/spend", privileged, pointsHandler.SpendPoints)

		// User routes
		users := api.Group("/users/:userId")
		users.Use(self)
		{
			users.GET("/points", pointsHandler.GetUserPoints)
			users.GET("/points/history", pointsHandler.GetTransactionHistory)
			users.GET("/achievements", achievementHandler.GetUserAchievements)
			users.GET("/achievements/:id", achievementHandler.GetUserAchievement)
			users.POST("/achievements/:id/progress", privileged, achievementHandler.TrackProgress)
		}

		api.GET("/leaderboard", pointsHandler.GetLeaderboard)

		// Achievement catalogue
		api.GET("/achievements", achievementHandler.ListAchievements)
		api.GET("/achievements/:id", achievementHandler.GetAchievement)
		api.POST("/achievements", authMiddleware.RequireRole(middleware.RoleAdmin), achievementHandler.CreateAchievement)

		// Notification routes
		api.GET("/notifications", notificationHandler.GetNotifications)
		api.GET("/notifications/unread-count", notificationHandler.UnreadCount)
		api.PUT("/notifications/:id/read", notificationHandler.MarkAsRead)
		api.PUT("/notifications/read-all", notificationHandler.MarkAllAsRead)
		api.GET("/notifications/ws", notificationHandler.HandleWebSocket)
	}

	return &Server{
		engine:      router,
		db:          db,
		redisClient: redisClient,
		bus:         bus,
		scheduler:   jobs,
		log:         log.Named("server"),
	}, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run starts the background jobs and serves HTTP until Shutdown is called.
func (s *Server) Run(addr string) error {
	s.scheduler.Start()

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info("http server listening", zap.String("addr", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops intake, waits for in-flight requests and jobs, then drains the event bus.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.scheduler.Stop(ctx)
	if busErr := s.bus.Close(ctx); busErr != nil && err == nil {
		err = busErr
	}
	return err
}

func setupCORS(router *gin.Engine, allowedOrigins string) {
	var origins []string
	for _, origin := range strings.Split(allowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}

	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
}
