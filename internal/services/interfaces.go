package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/temcen/dinewise/pkg/models"
)

// DatabaseQuerier is satisfied by *pgxpool.Pool and by pgxmock pools in tests.
type DatabaseQuerier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// EventPublisher receives domain events after they are committed to the store.
type EventPublisher interface {
	PublishFeedback(ctx context.Context, feedback *models.RecommendationFeedback) error
	PublishPreferencesUpdated(ctx context.Context, userID uuid.UUID, prefs models.Preferences) error
}

// CandidateGenerator is the set of strategies the mixed aggregator fans out to.
type CandidateGenerator interface {
	Personalized(ctx context.Context, userID uuid.UUID, limit int, excludeVisited bool) ([]models.ScoredRestaurant, error)
	Collaborative(ctx context.Context, userID uuid.UUID, limit int) ([]models.ScoredRestaurant, error)
	Trending(ctx context.Context, limit, days int) ([]models.ScoredRestaurant, error)
	Filtered(ctx context.Context, filter models.RestaurantFilter, limit int) ([]models.ScoredRestaurant, error)
}
