package services

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/temcen/dinewise/internal/config"
	"github.com/temcen/dinewise/internal/database"
	"github.com/temcen/dinewise/internal/messaging"
	"github.com/temcen/dinewise/internal/validation"
)

type Services struct {
	Auth            *AuthService
	Health          *HealthService
	RateLimit       *RateLimitService
	MessageBus      *messaging.MessageBus
	Recommendations *RecommendationService
}

func New(cfg *config.Config, logger *logrus.Logger, db *database.Database, reg prometheus.Registerer) (*Services, error) {
	validator, err := validation.NewSchemaValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to load schemas: %w", err)
	}

	messageBus, err := messaging.NewMessageBus(cfg, logger)
	if err != nil {
		return nil, err
	}

	healthService := NewHealthService(logger, reg)
	healthService.AddCheck("postgresql", true, func(ctx context.Context) error {
		return db.PG.Ping(ctx)
	})
	healthService.AddCheck("redis", false, func(ctx context.Context) error {
		return db.Redis.Ping(ctx).Err()
	})
	healthService.WatchPool(db.PG)

	recommendations := NewRecommendationService(
		db.PG,
		validator,
		messageBus,
		NewRecommendationMetrics(reg),
		cfg.Recommendation,
		logger,
	)

	return &Services{
		Auth:            NewAuthService(cfg, logger),
		Health:          healthService,
		RateLimit:       NewRateLimitService(cfg, logger, db.Redis),
		MessageBus:      messageBus,
		Recommendations: recommendations,
	}, nil
}

func (s *Services) Close() error {
	s.Health.Stop()
	return s.MessageBus.Close()
}
