package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/temcen/dinewise/internal/config"
	"github.com/temcen/dinewise/pkg/models"
)

// Rating floors applied by the generators.
const (
	personalizedMinRating  = 3.0
	trendingMinRating      = 3.5
	historyMinRating       = 3.5
	cohortMinReviewRating  = 4
	cohortMinReviews       = 2
	historyMinReviewRating = 4
)

// preferenceScoreSQL ranks a row by the highest matching category: cuisine 3,
// price tier 2, city 1. Placeholders are the three label arrays.
func preferenceScoreSQL(cuisines, prices, cities int) string {
	return fmt.Sprintf(`(CASE
			WHEN s.cuisine_type = ANY($%d) THEN 3
			WHEN s.price_range = ANY($%d) THEN 2
			WHEN s.city = ANY($%d) THEN 1
			ELSE 0
		END)::float8`, cuisines, prices, cities)
}

const excludeReviewedSQL = ` AND s.id NOT IN (SELECT restaurant_id FROM reviews WHERE user_id = $%d)`

// RecommendationGenerators holds the stateless candidate strategies.
type RecommendationGenerators struct {
	store      *EntityStore
	similarity *SimilarityEngine
	config     config.RecommendationConfig
	logger     *logrus.Logger
}

func NewRecommendationGenerators(
	store *EntityStore,
	similarity *SimilarityEngine,
	cfg config.RecommendationConfig,
	logger *logrus.Logger,
) *RecommendationGenerators {
	return &RecommendationGenerators{
		store:      store,
		similarity: similarity,
		config:     cfg,
		logger:     logger,
	}
}

// Personalized scores restaurants against the user's stored preferences. Users
// without preferences get the top-rated list.
func (g *RecommendationGenerators) Personalized(
	ctx context.Context,
	userID uuid.UUID,
	limit int,
	excludeVisited bool,
) ([]models.ScoredRestaurant, error) {
	const op = "Personalized"

	user, err := g.store.FindUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	prefs := user.Preferences
	if prefs.IsEmpty() {
		g.logger.WithField("user_id", userID).Debug("No preferences, falling back to top rated")
		return g.topRated(ctx, userID, limit, excludeVisited)
	}

	query := `SELECT ` + restaurantColumns + `, ` + preferenceScoreSQL(1, 2, 3) + ` AS preference_score
		FROM restaurant_summaries s
		WHERE s.average_rating >= $4`
	args := []any{
		labels(prefs.FavoriteCuisines),
		labels(prefs.PreferredPriceRanges),
		labels(prefs.PreferredCities),
		personalizedMinRating,
	}

	if excludeVisited {
		args = append(args, userID)
		query += fmt.Sprintf(excludeReviewedSQL, len(args))
	}

	args = append(args, limit)
	query += fmt.Sprintf(`
		ORDER BY preference_score DESC, s.average_rating DESC, s.total_reviews DESC, s.id ASC
		LIMIT $%d`, len(args))

	rows, err := g.store.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storeFailure(op, err)
	}

	results, err := g.store.scanScored(rows, models.SourcePersonalized)
	if err != nil {
		return nil, storeFailure(op, err)
	}
	return results, nil
}

// Collaborative recommends what users with overlapping preferences rated highly.
// Without similar users it behaves as Personalized with nothing excluded.
func (g *RecommendationGenerators) Collaborative(
	ctx context.Context,
	userID uuid.UUID,
	limit int,
) ([]models.ScoredRestaurant, error) {
	const op = "Collaborative"

	similarUsers, err := g.similarity.FindSimilarUsers(ctx, userID, g.config.SimilarUsersLimit)
	if err != nil {
		return nil, err
	}
	if len(similarUsers) == 0 {
		g.logger.WithField("user_id", userID).Debug("No similar users, falling back to personalized")
		return g.Personalized(ctx, userID, limit, false)
	}

	cohort := lo.Map(similarUsers, func(u models.SimilarUser, _ int) string {
		return u.UserID.String()
	})

	rows, err := g.store.db.Query(ctx, `
		WITH cohort AS (
			SELECT restaurant_id, AVG(rating)::float8 AS cohort_rating
			FROM reviews
			WHERE user_id = ANY($1::uuid[])
				AND rating >= $2
				AND restaurant_id NOT IN (SELECT restaurant_id FROM reviews WHERE user_id = $3)
			GROUP BY restaurant_id
			HAVING COUNT(*) >= $4
		)
		SELECT `+restaurantColumns+`, c.cohort_rating
		FROM cohort c
		JOIN restaurant_summaries s ON s.id = c.restaurant_id
		ORDER BY c.cohort_rating DESC, s.average_rating DESC, s.id ASC
		LIMIT $5`,
		cohort, cohortMinReviewRating, userID, cohortMinReviews, limit,
	)
	if err != nil {
		return nil, storeFailure(op, err)
	}

	results, err := g.store.scanScored(rows, models.SourceCollaborative)
	if err != nil {
		return nil, storeFailure(op, err)
	}
	return results, nil
}

// Trending ranks well-rated restaurants by how many reviews they received in
// the last days. Restaurants without recent reviews are never returned.
func (g *RecommendationGenerators) Trending(ctx context.Context, limit, days int) ([]models.ScoredRestaurant, error) {
	const op = "Trending"

	if days <= 0 {
		return nil, invalidParameter(op, "days must be positive, got %d", days)
	}

	rows, err := g.store.db.Query(ctx, `
		WITH recent AS (
			SELECT restaurant_id, COUNT(*)::float8 AS recent_reviews
			FROM reviews
			WHERE created_at >= now() - make_interval(days => $1)
			GROUP BY restaurant_id
		)
		SELECT `+restaurantColumns+`, r.recent_reviews
		FROM recent r
		JOIN restaurant_summaries s ON s.id = r.restaurant_id
		WHERE s.average_rating >= $2
		ORDER BY r.recent_reviews DESC, s.average_rating DESC, s.id ASC
		LIMIT $3`,
		days, trendingMinRating, limit,
	)
	if err != nil {
		return nil, storeFailure(op, err)
	}

	results, err := g.store.scanScored(rows, models.SourceTrending)
	if err != nil {
		return nil, storeFailure(op, err)
	}
	return results, nil
}

// Filtered lists restaurants matching every set field of filter, best rated first.
// It backs the cuisine, location, price, rating and high-rated queries.
func (g *RecommendationGenerators) Filtered(
	ctx context.Context,
	filter models.RestaurantFilter,
	limit int,
) ([]models.ScoredRestaurant, error) {
	const op = "Filtered"

	where, args := buildRestaurantFilter(filter)
	args = append(args, limit)

	rows, err := g.store.db.Query(ctx, `SELECT `+restaurantColumns+`, s.average_rating
		FROM restaurant_summaries s`+where+fmt.Sprintf(`
		ORDER BY s.average_rating DESC, s.total_reviews DESC, s.id ASC
		LIMIT $%d`, len(args)),
		args...,
	)
	if err != nil {
		return nil, storeFailure(op, err)
	}

	results, err := g.store.scanScored(rows, models.SourceFiltered)
	if err != nil {
		return nil, storeFailure(op, err)
	}
	return results, nil
}

// HistoryBased derives cuisine, price and city sets from the user's reviews rated
// 4 or higher and scores unreviewed restaurants against them.
func (g *RecommendationGenerators) HistoryBased(
	ctx context.Context,
	userID uuid.UUID,
	limit int,
) ([]models.ScoredRestaurant, error) {
	const op = "HistoryBased"

	if _, err := g.store.FindUserByID(ctx, userID); err != nil {
		return nil, err
	}

	var cuisines, prices, cities []string
	err := g.store.db.QueryRow(ctx, `
		SELECT array_agg(DISTINCT r.cuisine_type), array_agg(DISTINCT r.price_range), array_agg(DISTINCT r.city)
		FROM reviews rv
		JOIN restaurants r ON r.id = rv.restaurant_id
		WHERE rv.user_id = $1 AND rv.rating >= $2`,
		userID, historyMinReviewRating,
	).Scan(&cuisines, &prices, &cities)
	if err != nil {
		return nil, storeFailure(op, err)
	}

	if len(cuisines) == 0 && len(prices) == 0 && len(cities) == 0 {
		g.logger.WithField("user_id", userID).Debug("No review history, falling back to top rated")
		return g.topRated(ctx, userID, limit, false)
	}

	rows, err := g.store.db.Query(ctx, `SELECT `+restaurantColumns+`, `+preferenceScoreSQL(1, 2, 3)+` AS similarity_score
		FROM restaurant_summaries s
		WHERE s.average_rating >= $4`+fmt.Sprintf(excludeReviewedSQL, 5)+`
		ORDER BY similarity_score DESC, s.average_rating DESC, s.id ASC
		LIMIT $6`,
		labels(cuisines), labels(prices), labels(cities), historyMinRating, userID, limit,
	)
	if err != nil {
		return nil, storeFailure(op, err)
	}

	results, err := g.store.scanScored(rows, models.SourceHistory)
	if err != nil {
		return nil, storeFailure(op, err)
	}
	return results, nil
}

// topRated is the fallback for users without usable signals.
func (g *RecommendationGenerators) topRated(
	ctx context.Context,
	userID uuid.UUID,
	limit int,
	excludeVisited bool,
) ([]models.ScoredRestaurant, error) {
	const op = "TopRated"

	query := `SELECT ` + restaurantColumns + `, s.average_rating
		FROM restaurant_summaries s
		WHERE s.average_rating >= $1`
	args := []any{personalizedMinRating}

	if excludeVisited {
		args = append(args, userID)
		query += fmt.Sprintf(excludeReviewedSQL, len(args))
	}

	args = append(args, limit)
	query += fmt.Sprintf(`
		ORDER BY s.average_rating DESC, s.total_reviews DESC, s.id ASC
		LIMIT $%d`, len(args))

	start := time.Now()
	rows, err := g.store.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storeFailure(op, err)
	}

	results, err := g.store.scanScored(rows, models.SourceTopRated)
	if err != nil {
		return nil, storeFailure(op, err)
	}

	g.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"results": len(results),
		"latency": time.Since(start),
	}).Debug("Top rated fallback served")

	return results, nil
}

// labels turns a nil slice into an empty one so ANY() compares against '{}'.
func labels(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
