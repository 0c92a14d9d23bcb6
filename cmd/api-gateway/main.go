package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/tutoring-api/api/swagger"
	"github.com/noah-isme/tutoring-api/internal/handler"
	"github.com/noah-isme/tutoring-api/internal/middleware"
	"github.com/noah-isme/tutoring-api/internal/models"
	"github.com/noah-isme/tutoring-api/internal/repository"
	"github.com/noah-isme/tutoring-api/internal/service"
	"github.com/noah-isme/tutoring-api/pkg/cache"
	"github.com/noah-isme/tutoring-api/pkg/config"
	"github.com/noah-isme/tutoring-api/pkg/database"
	"github.com/noah-isme/tutoring-api/pkg/jobs"
	"github.com/noah-isme/tutoring-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/tutoring-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/tutoring-api/pkg/middleware/requestid"
)

// @title Tutoring API
// @version 1.0.0
// @description Teacher availability, lesson booking and lesson lifecycle
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, availability cache disabled", zap.Error(err))
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	policy, err := schedulingPolicy(cfg.Scheduling)
	if err != nil {
		logr.Fatal("invalid scheduling config", zap.Error(err))
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	lessonRepo := repository.NewLessonRepository(db)
	constraintRepo := repository.NewTimeConstraintRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, "availability", logr)

	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Availability.CacheTTL, logr, cfg.Availability.CacheEnabled && redisClient != nil)

	notificationWorker := service.NewNotificationWorker(notificationRepo, metricsSvc, logr)
	notificationQueue := jobs.NewQueue("lesson-notifications", notificationWorker.Handle, jobs.QueueConfig{
		Workers:      cfg.Notifications.Workers,
		BufferSize:   cfg.Notifications.BufferSize,
		MaxRetries:   cfg.Notifications.MaxRetries,
		RetryDelay:   cfg.Notifications.RetryDelay,
		DrainTimeout: cfg.Notifications.DrainTimeout,
		OnGiveUp:     notificationWorker.GiveUp,
		Logger:       logr,
	})
	notificationQueue.Start(ctx)
	defer notificationQueue.Stop()

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})
	availabilitySvc := service.NewAvailabilityService(service.AvailabilityServiceParams{
		Lessons:     lessonRepo,
		Constraints: constraintRepo,
		Teachers:    userRepo,
		Cache:       cacheSvc,
		Validator:   validate,
		Logger:      logr,
		Policy:      policy,
		CacheTTL:    cfg.Availability.CacheTTL,
	})
	notificationSvc := service.NewNotificationService(notificationRepo, notificationQueue, metricsSvc, policy.Location, logr)
	lessonSvc := service.NewLessonService(service.LessonServiceParams{
		Lessons:      lessonRepo,
		Constraints:  constraintRepo,
		Users:        userRepo,
		Audit:        userRepo,
		Events:       notificationSvc,
		Availability: availabilitySvc,
		Metrics:      metricsSvc,
		Validator:    validate,
		Logger:       logr,
		Policy:       policy,
	})
	constraintSvc := service.NewTimeConstraintService(constraintRepo, availabilitySvc, validate, logr)
	timesheetSvc := service.NewTimesheetService(lessonRepo, policy.Location, cfg.Timesheets.MaxRange, validate, logr)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(middleware.WithResponseMeta())

	opsHandler := handler.NewMetricsHandler(metricsSvc, map[string]handler.Pinger{
		"postgres": db,
		"redis":    cacheRepo,
	})
	r.GET("/health", opsHandler.Health)
	r.GET("/ready", opsHandler.Ready)
	r.GET("/metrics", opsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r.Group(cfg.APIPrefix), authSvc, routeHandlers{
		auth:          handler.NewAuthHandler(authSvc),
		availability:  handler.NewAvailabilityHandler(availabilitySvc),
		constraints:   handler.NewTimeConstraintHandler(constraintSvc),
		lessons:       handler.NewLessonHandler(lessonSvc),
		timesheets:    handler.NewTimesheetHandler(timesheetSvc),
		notifications: handler.NewNotificationHandler(notificationSvc),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "timezone", policy.Location.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

type routeHandlers struct {
	auth          *handler.AuthHandler
	availability  *handler.AvailabilityHandler
	constraints   *handler.TimeConstraintHandler
	lessons       *handler.LessonHandler
	timesheets    *handler.TimesheetHandler
	notifications *handler.NotificationHandler
}

func registerRoutes(api *gin.RouterGroup, auth middleware.TokenValidator, h routeHandlers) {
	api.POST("/auth/login", h.auth.Login)
	api.POST("/auth/refresh", h.auth.Refresh)

	secured := api.Group("")
	secured.Use(middleware.JWT(auth))

	teacherOnly := middleware.RequireRoles(models.RoleTeacher)
	teacherOrAdmin := middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin)
	bookers := middleware.RequireRoles(models.RoleParent, models.RoleStudent)

	secured.POST("/auth/logout", h.auth.Logout)
	secured.GET("/auth/me", h.auth.Me)

	secured.GET("/teachers/:id/availability", h.availability.Slots)
	secured.GET("/teachers/:id/constraints", teacherOrAdmin, h.constraints.ListForTeacher)

	constraints := secured.Group("/constraints", teacherOnly)
	constraints.GET("", h.constraints.ListOwn)
	constraints.POST("", h.constraints.Create)
	constraints.PUT("/:id", h.constraints.Update)
	constraints.DELETE("/:id", h.constraints.Delete)

	lessons := secured.Group("/lessons")
	lessons.POST("", bookers, h.lessons.Book)
	lessons.GET("", h.lessons.List)
	lessons.GET("/:id", h.lessons.Get)
	lessons.POST("/:id/clock-in", teacherOnly, h.lessons.ClockIn)
	lessons.POST("/:id/clock-out", teacherOnly, h.lessons.ClockOut)
	lessons.POST("/:id/complete", teacherOnly, h.lessons.Complete)
	lessons.POST("/:id/cancel", bookers, h.lessons.Cancel)

	secured.DELETE("/admin/lessons/:id", middleware.RequireRoles(models.RoleAdmin), h.lessons.AdminDelete)

	timesheets := secured.Group("/timesheets", teacherOrAdmin)
	timesheets.GET("", h.timesheets.Get)
	timesheets.GET("/export", h.timesheets.Export)

	secured.GET("/notifications", h.notifications.List)
	secured.POST("/notifications/:id/read", h.notifications.MarkRead)
}

func schedulingPolicy(cfg config.SchedulingConfig) (service.SchedulingPolicy, error) {
	dayStart, err := models.ParseClock(cfg.DayStart)
	if err != nil {
		return service.SchedulingPolicy{}, fmt.Errorf("day start: %w", err)
	}
	dayEnd, err := models.ParseClock(cfg.DayEnd)
	if err != nil {
		return service.SchedulingPolicy{}, fmt.Errorf("day end: %w", err)
	}
	if dayStart >= dayEnd {
		return service.SchedulingPolicy{}, fmt.Errorf("day start %s must be before day end %s", cfg.DayStart, cfg.DayEnd)
	}
	return service.SchedulingPolicy{
		Location:      cfg.Location(),
		Window:        service.SlotWindow{DayStart: dayStart, DayEnd: dayEnd, Granularity: cfg.SlotGranularity},
		AdvanceNotice: cfg.AdvanceNotice,
		MaxLeadTime:   cfg.MaxLeadTime,
		ClockInLead:   cfg.ClockInLead,
	}, nil
}
