package services

import (
	"bytes"
	"context"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/dinewise/pkg/models"
)

// Restaurant similarity weights.
const (
	cuisineMatchWeight = 3
	cityMatchWeight    = 2
	priceMatchWeight   = 1
)

// UserSimilarity counts shared favorite cuisines plus shared preferred price
// ranges. The count is not normalized, so users with large preference sets
// score higher against everyone.
func UserSimilarity(a, b models.Preferences) int {
	return overlap(a.FavoriteCuisines, b.FavoriteCuisines) +
		overlap(a.PreferredPriceRanges, b.PreferredPriceRanges)
}

func overlap(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	return mapset.NewThreadUnsafeSet(a...).Intersect(mapset.NewThreadUnsafeSet(b...)).Cardinality()
}

type SimilarityEngine struct {
	store  *EntityStore
	logger *logrus.Logger
}

func NewSimilarityEngine(store *EntityStore, logger *logrus.Logger) *SimilarityEngine {
	return &SimilarityEngine{
		store:  store,
		logger: logger,
	}
}

// FindSimilarUsers scores every other user with stored preferences against the
// target and keeps the best limit with a nonzero score.
func (e *SimilarityEngine) FindSimilarUsers(ctx context.Context, userID uuid.UUID, limit int) ([]models.SimilarUser, error) {
	const op = "FindSimilarUsers"

	target, err := e.store.FindUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	similar := []models.SimilarUser{}
	if len(target.Preferences.FavoriteCuisines) == 0 && len(target.Preferences.PreferredPriceRanges) == 0 {
		return similar, nil
	}

	rows, err := e.store.db.Query(ctx, `
		SELECT id, name, preferences
		FROM users
		WHERE id <> $1
			AND preferences IS NOT NULL
			AND preferences <> ''`, userID)
	if err != nil {
		return nil, storeFailure(op, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			candidateID uuid.UUID
			name        string
			raw         *string
		)
		if err := rows.Scan(&candidateID, &name, &raw); err != nil {
			return nil, storeFailure(op, err)
		}

		score := UserSimilarity(target.Preferences, e.store.decodePreferences(candidateID, raw))
		if score == 0 {
			continue
		}
		similar = append(similar, models.SimilarUser{
			UserID:          candidateID,
			Name:            name,
			SimilarityScore: score,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, storeFailure(op, err)
	}

	sort.SliceStable(similar, func(i, j int) bool {
		if similar[i].SimilarityScore != similar[j].SimilarityScore {
			return similar[i].SimilarityScore > similar[j].SimilarityScore
		}
		return bytes.Compare(similar[i].UserID[:], similar[j].UserID[:]) < 0
	})

	if len(similar) > limit {
		similar = similar[:limit]
	}

	e.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"matches": len(similar),
	}).Debug("Similar users computed")

	return similar, nil
}

// SimilarRestaurants ranks restaurants sharing cuisine, city or price tier with
// the base restaurant. The base itself is never returned.
func (e *SimilarityEngine) SimilarRestaurants(ctx context.Context, restaurantID uuid.UUID, limit int) ([]models.ScoredRestaurant, error) {
	const op = "SimilarRestaurants"

	base, err := e.store.FindRestaurantByID(ctx, restaurantID)
	if err != nil {
		return nil, err
	}

	rows, err := e.store.db.Query(ctx, `
		SELECT `+restaurantColumns+`,
			((CASE WHEN s.cuisine_type = $1 THEN $5 ELSE 0 END)
			+ (CASE WHEN s.city = $2 THEN $6 ELSE 0 END)
			+ (CASE WHEN s.price_range = $3 THEN $7 ELSE 0 END))::float8 AS similarity_score
		FROM restaurant_summaries s
		WHERE s.id <> $4
			AND (s.cuisine_type = $1 OR s.city = $2 OR s.price_range = $3)
		ORDER BY similarity_score DESC, s.average_rating DESC, s.id ASC
		LIMIT $8`,
		base.CuisineType, base.City, string(base.PriceRange), base.ID,
		cuisineMatchWeight, cityMatchWeight, priceMatchWeight, limit,
	)
	if err != nil {
		return nil, storeFailure(op, err)
	}

	results, err := e.store.scanScored(rows, models.SourceSimilar)
	if err != nil {
		return nil, storeFailure(op, err)
	}
	return results, nil
}
