package services

import (
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/temcen/dinewise/internal/config"
	"github.com/temcen/dinewise/internal/validation"
	"github.com/temcen/dinewise/pkg/models"
)

var (
	restaurantCols = []string{
		"id", "name", "description", "cuisine_type", "address", "city",
		"price_range", "opening_hours", "average_rating", "total_reviews", "created_at",
	}
	userCols = []string{"id", "name", "email", "phone", "role", "preferences", "created_at", "last_login_at"}

	fixtureTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *EntityStore) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	return mock, NewEntityStore(mock, validation.MustNewSchemaValidator(), testLogger())
}

func newTestGenerators(t *testing.T) (pgxmock.PgxPoolIface, *RecommendationGenerators) {
	t.Helper()

	mock, store := newMockStore(t)
	similarity := NewSimilarityEngine(store, testLogger())
	return mock, NewRecommendationGenerators(store, similarity, config.DefaultRecommendationConfig(), testLogger())
}

type restaurantFixture struct {
	ID      uuid.UUID
	Name    string
	Cuisine string
	City    string
	Price   string
	Rating  float64
	Reviews int
	Hours   *string
}

func restaurant(name, cuisine, city, price string, rating float64) restaurantFixture {
	return restaurantFixture{
		ID:      uuid.New(),
		Name:    name,
		Cuisine: cuisine,
		City:    city,
		Price:   price,
		Rating:  rating,
		Reviews: 12,
	}
}

func (f restaurantFixture) values() []any {
	return []any{
		f.ID, f.Name, "", f.Cuisine, "", f.City,
		f.Price, f.Hours, f.Rating, f.Reviews, fixtureTime,
	}
}

func (f restaurantFixture) scoredValues(score float64) []any {
	return append(f.values(), score)
}

func restaurantRows(fixtures ...restaurantFixture) *pgxmock.Rows {
	rows := pgxmock.NewRows(restaurantCols)
	for _, f := range fixtures {
		rows.AddRow(f.values()...)
	}
	return rows
}

// scoredRows pairs each fixture with the score at the same index.
func scoredRows(scoreCol string, fixtures []restaurantFixture, scores ...float64) *pgxmock.Rows {
	rows := pgxmock.NewRows(append(append([]string{}, restaurantCols...), scoreCol))
	for i, f := range fixtures {
		rows.AddRow(f.scoredValues(scores[i])...)
	}
	return rows
}

func userRow(id uuid.UUID, prefs string) *pgxmock.Rows {
	var raw *string
	if prefs != "" {
		raw = &prefs
	}
	return pgxmock.NewRows(userCols).
		AddRow(id, "Ana", "ana@example.com", (*string)(nil), "user", raw, fixtureTime, (*time.Time)(nil))
}

func ids(items []models.ScoredRestaurant) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		out = append(out, item.ID)
	}
	return out
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func strPtr(v string) *string { return &v }

func boolPtr(v bool) *bool { return &v }
