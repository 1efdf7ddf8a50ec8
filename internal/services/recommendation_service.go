package services

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/unicode/norm"
	"gonum.org/v1/gonum/stat"

	"github.com/temcen/dinewise/internal/config"
	"github.com/temcen/dinewise/internal/validation"
	"github.com/temcen/dinewise/pkg/models"
)

const (
	defaultMinRating      = 3.0
	defaultRatingQueryMin = 4.0
	maxRating             = 5.0
	maxFeedbackReason     = 500
	maxFeedbackSource     = 32
	statsTopCuisines      = 10
	pgForeignKeyViolation = "23503"
)

// Optional parameters are pointers; nil selects the documented default.

type PersonalizedQuery struct {
	UserID         uuid.UUID
	Limit          *int
	ExcludeVisited bool
}

type UserQuery struct {
	UserID uuid.UUID
	Limit  *int
}

type SimilarQuery struct {
	RestaurantID uuid.UUID
	Limit        *int
}

type CuisineQuery struct {
	Cuisine   string
	Limit     *int
	MinRating *float64
}

type LocationQuery struct {
	City       string
	PriceRange string
	MinRating  *float64
	Limit      *int
}

type TrendingQuery struct {
	Limit *int
	Days  *int
}

type PriceRangeQuery struct {
	PriceRange string
	City       string
	Cuisine    string
	Limit      *int
}

type RatingQuery struct {
	MinRating  *float64
	Cuisine    string
	City       string
	PriceRange string
	Limit      *int
}

type SearchQuery struct {
	Filter models.RestaurantFilter
	Page   models.Page
	Sort   models.RestaurantSort
}

// RecommendationService is the entry point for every recommendation query.
// Inputs are validated before the store is touched.
type RecommendationService struct {
	store      *EntityStore
	generators *RecommendationGenerators
	similarity *SimilarityEngine
	aggregator *MixedAggregator
	events     EventPublisher
	metrics    *RecommendationMetrics
	config     config.RecommendationConfig
	logger     *logrus.Logger
}

func NewRecommendationService(
	db DatabaseQuerier,
	validator *validation.SchemaValidator,
	events EventPublisher,
	metrics *RecommendationMetrics,
	cfg config.RecommendationConfig,
	logger *logrus.Logger,
) *RecommendationService {
	store := NewEntityStore(db, validator, logger)
	similarity := NewSimilarityEngine(store, logger)
	generators := NewRecommendationGenerators(store, similarity, cfg, logger)

	return &RecommendationService{
		store:      store,
		generators: generators,
		similarity: similarity,
		aggregator: NewMixedAggregator(generators, metrics, cfg, logger),
		events:     events,
		metrics:    metrics,
		config:     cfg,
		logger:     logger,
	}
}

func (s *RecommendationService) Personalized(ctx context.Context, q PersonalizedQuery) (out []models.ScoredRestaurant, err error) {
	const op = "Personalized"
	ctx, done := s.instrument(ctx, op)
	defer func() { done(err) }()

	limit, err := s.resolveLimit(op, q.Limit, s.config.DefaultLimit)
	if err != nil {
		return nil, err
	}
	return s.generators.Personalized(ctx, q.UserID, limit, q.ExcludeVisited)
}

func (s *RecommendationService) Similar(ctx context.Context, q SimilarQuery) (out []models.ScoredRestaurant, err error) {
	const op = "Similar"
	ctx, done := s.instrument(ctx, op)
	defer func() { done(err) }()

	limit, err := s.resolveLimit(op, q.Limit, s.config.SimilarDefaultLimit)
	if err != nil {
		return nil, err
	}
	return s.similarity.SimilarRestaurants(ctx, q.RestaurantID, limit)
}

func (s *RecommendationService) SimilarUsers(ctx context.Context, q UserQuery) (out []models.SimilarUser, err error) {
	const op = "SimilarUsers"
	ctx, done := s.instrument(ctx, op)
	defer func() { done(err) }()

	limit, err := s.resolveLimit(op, q.Limit, s.config.SimilarUsersLimit)
	if err != nil {
		return nil, err
	}
	return s.similarity.FindSimilarUsers(ctx, q.UserID, limit)
}

func (s *RecommendationService) ByCuisine(ctx context.Context, q CuisineQuery) (out []models.ScoredRestaurant, err error) {
	const op = "ByCuisine"
	ctx, done := s.instrument(ctx, op)
	defer func() { done(err) }()

	cuisine, err := requireLabel(op, "cuisine", q.Cuisine)
	if err != nil {
		return nil, err
	}
	limit, err := s.resolveLimit(op, q.Limit, s.config.DefaultLimit)
	if err != nil {
		return nil, err
	}
	minRating, err := resolveRating(op, q.MinRating, defaultMinRating)
	if err != nil {
		return nil, err
	}

	return s.generators.Filtered(ctx, models.RestaurantFilter{
		CuisineType: cuisine,
		MinRating:   minRating,
	}, limit)
}

func (s *RecommendationService) ByLocation(ctx context.Context, q LocationQuery) (out []models.ScoredRestaurant, err error) {
	const op = "ByLocation"
	ctx, done := s.instrument(ctx, op)
	defer func() { done(err) }()

	city, err := requireLabel(op, "city", q.City)
	if err != nil {
		return nil, err
	}
	tier, err := parseOptionalTier(op, q.PriceRange)
	if err != nil {
		return nil, err
	}
	minRating, err := resolveRating(op, q.MinRating, defaultMinRating)
	if err != nil {
		return nil, err
	}
	limit, err := s.resolveLimit(op, q.Limit, s.config.DefaultLimit)
	if err != nil {
		return nil, err
	}

	return s.generators.Filtered(ctx, models.RestaurantFilter{
		City:       city,
		PriceRange: tier,
		MinRating:  minRating,
	}, limit)
}

func (s *RecommendationService) Trending(ctx context.Context, q TrendingQuery) (out []models.ScoredRestaurant, err error) {
	const op = "Trending"
	ctx, done := s.instrument(ctx, op)
	defer func() { done(err) }()

	limit, err := s.resolveLimit(op, q.Limit, s.config.DefaultLimit)
	if err != nil {
		return nil, err
	}

	days := s.config.TrendingDays
	if q.Days != nil {
		days = *q.Days
	}
	if days < 1 || days > s.config.MaxTrendingDays {
		return nil, invalidParameter(op, "days must be between 1 and %d, got %d", s.config.MaxTrendingDays, days)
	}

	return s.generators.Trending(ctx, limit, days)
}

func (s *RecommendationService) ByPriceRange(ctx context.Context, q PriceRangeQuery) (out []models.ScoredRestaurant, err error) {
	const op = "ByPriceRange"
	ctx, done := s.instrument(ctx, op)
	defer func() { done(err) }()

	tier, err := models.ParsePriceTier(strings.TrimSpace(q.PriceRange))
	if err != nil {
		return nil, invalidParameter(op, "%v", err)
	}
	limit, err := s.resolveLimit(op, q.Limit, s.config.DefaultLimit)
	if err != nil {
		return nil, err
	}

	return s.generators.Filtered(ctx, models.RestaurantFilter{
		PriceRange:  tier,
		City:        strings.TrimSpace(q.City),
		CuisineType: strings.TrimSpace(q.Cuisine),
	}, limit)
}

func (s *RecommendationService) Collaborative(ctx context.Context, q UserQuery) (out []models.ScoredRestaurant, err error) {
	const op = "Collaborative"
	ctx, done := s.instrument(ctx, op)
	defer func() { done(err) }()

	limit, err := s.resolveLimit(op, q.Limit, s.config.DefaultLimit)
	if err != nil {
		return nil, err
	}
	return s.generators.Collaborative(ctx, q.UserID, limit)
}

func (s *RecommendationService) ByRating(ctx context.Context, q RatingQuery) (out []models.ScoredRestaurant, err error) {
	const op = "ByRating"
	ctx, done := s.instrument(ctx, op)
	defer func() { done(err) }()

	minRating, err := resolveRating(op, q.MinRating, defaultRatingQueryMin)
	if err != nil {
		return nil, err
	}
	tier, err := parseOptionalTier(op, q.PriceRange)
	if err != nil {
		return nil, err
	}
	limit, err := s.resolveLimit(op, q.Limit, s.config.DefaultLimit)
	if err != nil {
		return nil, err
	}

	return s.generators.Filtered(ctx, models.RestaurantFilter{
		MinRating:   minRating,
		CuisineType: strings.TrimSpace(q.Cuisine),
		City:        strings.TrimSpace(q.City),
		PriceRange:  tier,
	}, limit)
}

func (s *RecommendationService) Mixed(ctx context.Context, q UserQuery) (out *MixedResult, err error) {
	const op = "Mixed"
	ctx, done := s.instrument(ctx, op)
	defer func() { done(err) }()

	limit, err := s.resolveLimit(op, q.Limit, s.config.MixedDefaultLimit)
	if err != nil {
		return nil, err
	}
	// Strategy failures are absorbed by the aggregator, so an unknown user is
	// rejected here rather than answered with anonymous candidates.
	if _, err := s.store.FindUserByID(ctx, q.UserID); err != nil {
		return nil, err
	}
	return s.aggregator.Mixed(ctx, q.UserID, limit)
}

func (s *RecommendationService) HistoryBased(ctx context.Context, q UserQuery) (out []models.ScoredRestaurant, err error) {
	const op = "HistoryBased"
	ctx, done := s.instrument(ctx, op)
	defer func() { done(err) }()

	limit, err := s.resolveLimit(op, q.Limit, s.config.DefaultLimit)
	if err != nil {
		return nil, err
	}
	return s.generators.HistoryBased(ctx, q.UserID, limit)
}

// SearchRestaurants is the paginated restaurant listing with total count.
func (s *RecommendationService) SearchRestaurants(ctx context.Context, q SearchQuery) (out []models.Restaurant, total int, err error) {
	const op = "SearchRestaurants"
	ctx, done := s.instrument(ctx, op)
	defer func() { done(err) }()

	page := q.Page
	if page.Number == 0 {
		page.Number = 1
	}
	if page.Size == 0 {
		page.Size = s.config.DefaultLimit
	}
	if page.Number < 1 {
		return nil, 0, invalidParameter(op, "page must be positive, got %d", page.Number)
	}
	if _, err := s.resolveLimit(op, &page.Size, s.config.DefaultLimit); err != nil {
		return nil, 0, err
	}
	if q.Filter.MinRating < 0 || q.Filter.MinRating > maxRating {
		return nil, 0, invalidParameter(op, "min_rating must be between 0 and %.0f", maxRating)
	}
	if q.Filter.PriceRange != "" {
		if _, err := models.ParsePriceTier(string(q.Filter.PriceRange)); err != nil {
			return nil, 0, invalidParameter(op, "%v", err)
		}
	}

	restaurants, total, err := s.store.FindRestaurantsByFilter(ctx, q.Filter, page, q.Sort)
	if err != nil {
		return nil, 0, err
	}
	if restaurants == nil {
		restaurants = []models.Restaurant{}
	}
	return restaurants, total, nil
}

// UpdatePreferences normalizes and stores the user's preferences, then
// announces the change. The stored value is returned.
func (s *RecommendationService) UpdatePreferences(ctx context.Context, userID uuid.UUID, prefs models.Preferences) (out models.Preferences, err error) {
	const op = "UpdatePreferences"
	ctx, done := s.instrument(ctx, op)
	defer func() { done(err) }()

	normalized := NormalizePreferences(prefs)
	for _, raw := range normalized.PreferredPriceRanges {
		if _, err := models.ParsePriceTier(raw); err != nil {
			return models.Preferences{}, invalidParameter(op, "preferred_price_ranges: %v", err)
		}
	}

	encoded, err := validation.EncodePreferences(normalized)
	if err != nil {
		return models.Preferences{}, invalidParameter(op, "preferences cannot be encoded: %v", err)
	}

	tag, err := s.store.db.Exec(ctx,
		`UPDATE users SET preferences = $1, updated_at = now() WHERE id = $2`,
		encoded, userID,
	)
	if err != nil {
		return models.Preferences{}, storeFailure(op, err)
	}
	if tag.RowsAffected() == 0 {
		return models.Preferences{}, notFound(op, "user %s not found", userID)
	}

	s.publish(op, userID, func() error {
		return s.events.PublishPreferencesUpdated(ctx, userID, normalized)
	})

	s.logger.WithField("user_id", userID).Info("User preferences updated")
	return normalized, nil
}

// RecordFeedback stores the user's reaction to a recommendation and publishes it.
func (s *RecommendationService) RecordFeedback(ctx context.Context, userID uuid.UUID, req models.FeedbackRequest) (out *models.RecommendationFeedback, err error) {
	const op = "RecordFeedback"
	ctx, done := s.instrument(ctx, op)
	defer func() { done(err) }()

	if req.Liked == nil {
		return nil, invalidParameter(op, "liked is required")
	}
	if req.RestaurantID == uuid.Nil {
		return nil, invalidParameter(op, "restaurant_id is required")
	}
	reason := trimmedOrNil(req.Reason)
	if reason != nil && len([]rune(*reason)) > maxFeedbackReason {
		return nil, invalidParameter(op, "reason exceeds %d characters", maxFeedbackReason)
	}
	source := trimmedOrNil(req.Source)
	if source != nil && len(*source) > maxFeedbackSource {
		return nil, invalidParameter(op, "source exceeds %d characters", maxFeedbackSource)
	}

	if _, err := s.store.FindRestaurantByID(ctx, req.RestaurantID); err != nil {
		return nil, err
	}

	feedback := &models.RecommendationFeedback{
		ID:           uuid.New(),
		UserID:       userID,
		RestaurantID: req.RestaurantID,
		Liked:        *req.Liked,
		Reason:       reason,
		Source:       source,
		CreatedAt:    time.Now().UTC(),
	}

	_, err = s.store.db.Exec(ctx, `
		INSERT INTO recommendation_feedback (id, user_id, restaurant_id, liked, reason, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		feedback.ID, feedback.UserID, feedback.RestaurantID, feedback.Liked,
		feedback.Reason, feedback.Source, feedback.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return nil, notFound(op, "user %s not found", userID)
		}
		return nil, storeFailure(op, err)
	}

	s.publish(op, userID, func() error {
		return s.events.PublishFeedback(ctx, feedback)
	})

	s.logger.WithFields(logrus.Fields{
		"user_id":       userID,
		"restaurant_id": req.RestaurantID,
		"liked":         feedback.Liked,
	}).Info("Recommendation feedback recorded")

	return feedback, nil
}

// Stats reports catalogue totals, rating spread, distributions and how many
// users have stored preferences.
func (s *RecommendationService) Stats(ctx context.Context) (out *models.RecommendationStats, err error) {
	const op = "Stats"
	ctx, done := s.instrument(ctx, op)
	defer func() { done(err) }()

	stats := &models.RecommendationStats{GeneratedAt: time.Now().UTC()}

	err = s.store.db.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM restaurants),
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM reviews)`,
	).Scan(&stats.TotalRestaurants, &stats.TotalUsers, &stats.TotalReviews)
	if err != nil {
		return nil, storeFailure(op, err)
	}

	ratings, err := s.collectFloats(ctx, `SELECT s.average_rating FROM restaurant_summaries s WHERE s.total_reviews > 0`)
	if err != nil {
		return nil, storeFailure(op, err)
	}
	if len(ratings) > 0 {
		mean, std := stat.MeanStdDev(ratings, nil)
		stats.OverallAverageRating = mean
		if !math.IsNaN(std) {
			stats.RatingStdDev = std
		}
	}

	stats.CuisineDistribution, err = s.collectBuckets(ctx, `
		SELECT cuisine_type, COUNT(*)::int
		FROM restaurants
		GROUP BY cuisine_type
		ORDER BY COUNT(*) DESC, cuisine_type ASC
		LIMIT $1`, statsTopCuisines)
	if err != nil {
		return nil, storeFailure(op, err)
	}

	priceBuckets, err := s.collectBuckets(ctx, `
		SELECT price_range, COUNT(*)::int
		FROM restaurants
		GROUP BY price_range`)
	if err != nil {
		return nil, storeFailure(op, err)
	}
	stats.PriceDistribution = orderPriceBuckets(priceBuckets)

	stats.UsersWithPreferences, err = s.countUsersWithPreferences(ctx)
	if err != nil {
		return nil, storeFailure(op, err)
	}
	if stats.TotalUsers > 0 {
		stats.PreferenceCoverage = float64(stats.UsersWithPreferences) / float64(stats.TotalUsers)
	}

	return stats, nil
}

func (s *RecommendationService) collectFloats(ctx context.Context, query string, args ...any) ([]float64, error) {
	rows, err := s.store.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func (s *RecommendationService) collectBuckets(ctx context.Context, query string, args ...any) ([]models.HistogramBucket, error) {
	rows, err := s.store.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	buckets := []models.HistogramBucket{}
	for rows.Next() {
		var b models.HistogramBucket
		if err := rows.Scan(&b.Label, &b.Count); err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

func (s *RecommendationService) countUsersWithPreferences(ctx context.Context) (int, error) {
	rows, err := s.store.db.Query(ctx, `
		SELECT id, preferences
		FROM users
		WHERE preferences IS NOT NULL AND preferences <> ''`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var (
			id  uuid.UUID
			raw *string
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return 0, err
		}
		if s.store.decodePreferences(id, raw).HasAny() {
			count++
		}
	}
	return count, rows.Err()
}

// orderPriceBuckets lists every tier cheapest first, including empty ones.
func orderPriceBuckets(buckets []models.HistogramBucket) []models.HistogramBucket {
	counts := lo.SliceToMap(buckets, func(b models.HistogramBucket) (string, int) {
		return b.Label, b.Count
	})

	return lo.Map(models.PriceTiers, func(tier models.PriceTier, _ int) models.HistogramBucket {
		return models.HistogramBucket{Label: string(tier), Count: counts[string(tier)]}
	})
}

// NormalizePreferences trims labels, applies Unicode NFC, drops empty labels
// and keeps the first occurrence of duplicates.
func NormalizePreferences(p models.Preferences) models.Preferences {
	return models.Preferences{
		FavoriteCuisines:     normalizeLabels(p.FavoriteCuisines),
		PreferredPriceRanges: normalizeLabels(p.PreferredPriceRanges),
		PreferredCities:      normalizeLabels(p.PreferredCities),
		DislikedCuisines:     normalizeLabels(p.DislikedCuisines),
		DietaryRestrictions:  normalizeLabels(p.DietaryRestrictions),
	}
}

func normalizeLabels(values []string) []string {
	cleaned := lo.FilterMap(values, func(v string, _ int) (string, bool) {
		v = norm.NFC.String(strings.TrimSpace(v))
		return v, v != ""
	})
	return lo.Uniq(cleaned)
}

// publish runs a best-effort event publication.
func (s *RecommendationService) publish(op string, userID uuid.UUID, fn func() error) {
	if s.events == nil {
		return
	}
	if err := fn(); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"operation": op,
			"user_id":   userID,
		}).Warn("Failed to publish event")
	}
}

func (s *RecommendationService) instrument(ctx context.Context, op string) (context.Context, func(error)) {
	start := time.Now()
	cancel := context.CancelFunc(func() {})
	if s.config.RequestTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.config.RequestTimeout)
	}
	return ctx, func(err error) {
		cancel()
		s.metrics.observeRequest(op, start, err)
	}
}

func (s *RecommendationService) resolveLimit(op string, limit *int, def int) (int, error) {
	if limit == nil {
		return def, nil
	}
	if *limit < 1 || *limit > s.config.MaxLimit {
		return 0, invalidParameter(op, "limit must be between 1 and %d, got %d", s.config.MaxLimit, *limit)
	}
	return *limit, nil
}

func resolveRating(op string, rating *float64, def float64) (float64, error) {
	if rating == nil {
		return def, nil
	}
	if math.IsNaN(*rating) || *rating < 0 || *rating > maxRating {
		return 0, invalidParameter(op, "min_rating must be between 0 and %.0f", maxRating)
	}
	return *rating, nil
}

func parseOptionalTier(op, raw string) (models.PriceTier, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	tier, err := models.ParsePriceTier(raw)
	if err != nil {
		return "", invalidParameter(op, "%v", err)
	}
	return tier, nil
}

func requireLabel(op, name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", invalidParameter(op, "%s is required", name)
	}
	return value, nil
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
