package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/temcen/dinewise/internal/config"
	"github.com/temcen/dinewise/internal/database"
	"github.com/temcen/dinewise/internal/handlers"
	"github.com/temcen/dinewise/internal/middleware"
	"github.com/temcen/dinewise/internal/services"
)

type App struct {
	config   *config.Config
	logger   *logrus.Logger
	db       *database.Database
	services *services.Services
	handlers *handlers.Handlers
	router   *gin.Engine
}

func New(cfg *config.Config) (*App, error) {
	app := &App{
		config: cfg,
		logger: setupLogger(cfg),
	}

	// Initialize database connections
	db, err := database.New(cfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	// Initialize services
	services, err := services.New(cfg, app.logger, db, prometheus.DefaultRegisterer)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	app.services = services

	if cfg.Monitoring.Enabled && cfg.Monitoring.HealthInterval > 0 {
		if err := services.Health.Start(cfg.Monitoring.HealthInterval); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	// Initialize handlers
	app.handlers = handlers.New(app.logger, services)

	// Setup router
	app.setupRouter()

	return app, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down application...")

	var errs []error
	if err := a.services.Close(); err != nil {
		a.logger.WithError(err).Error("Error closing message bus")
		errs = append(errs, err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Error("Error closing database connections")
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func setupLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

func (a *App) setupRouter() {
	if a.config.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(a.logger))
	router.Use(middleware.Recovery(a.logger))
	router.Use(middleware.CORS(a.config))

	// Health check endpoints (no auth required)
	router.GET("/health", a.handlers.Health.Check)
	router.GET("/health/live", a.handlers.Health.Live)

	// Prometheus metrics endpoint (no auth required)
	if a.config.Monitoring.Enabled {
		router.GET(a.config.Monitoring.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	rec := a.handlers.Recommendation

	api := router.Group("/api/v1")
	{
		api.GET("/restaurants", rec.Restaurants)

		// Public recommendation routes
		public := api.Group("/recommendations")
		{
			public.GET("/cuisine/:cuisine", rec.ByCuisine)
			public.GET("/location/:city", rec.ByLocation)
			public.GET("/trending", rec.Trending)
			public.GET("/price-range/:price_range", rec.ByPriceRange)
			public.GET("/rating", rec.ByRating)
			public.GET("/stats", rec.Stats)
			public.GET("/similar/:restaurant_id", rec.Similar)
		}

		// Routes scoped to the authenticated user
		personal := api.Group("/recommendations")
		personal.Use(middleware.Auth(a.services.Auth, a.logger))
		personal.Use(middleware.RateLimit(a.services.RateLimit, a.logger))
		{
			personal.GET("/personalized", rec.Personalized)
			personal.GET("/collaborative", rec.Collaborative)
			personal.GET("/mixed", rec.Mixed)
			personal.GET("/history", rec.History)
			personal.GET("/similar-users", rec.SimilarUsers)
			personal.PUT("/preferences", rec.UpdatePreferences)
			personal.POST("/feedback", rec.RecordFeedback)
		}
	}

	a.router = router
}
