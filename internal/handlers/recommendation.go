package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/dinewise/internal/middleware"
	"github.com/temcen/dinewise/internal/services"
	"github.com/temcen/dinewise/pkg/models"
)

// RecommendationProvider is the part of services.RecommendationService the
// HTTP layer depends on.
type RecommendationProvider interface {
	Personalized(ctx context.Context, q services.PersonalizedQuery) ([]models.ScoredRestaurant, error)
	Similar(ctx context.Context, q services.SimilarQuery) ([]models.ScoredRestaurant, error)
	SimilarUsers(ctx context.Context, q services.UserQuery) ([]models.SimilarUser, error)
	ByCuisine(ctx context.Context, q services.CuisineQuery) ([]models.ScoredRestaurant, error)
	ByLocation(ctx context.Context, q services.LocationQuery) ([]models.ScoredRestaurant, error)
	Trending(ctx context.Context, q services.TrendingQuery) ([]models.ScoredRestaurant, error)
	ByPriceRange(ctx context.Context, q services.PriceRangeQuery) ([]models.ScoredRestaurant, error)
	Collaborative(ctx context.Context, q services.UserQuery) ([]models.ScoredRestaurant, error)
	ByRating(ctx context.Context, q services.RatingQuery) ([]models.ScoredRestaurant, error)
	Mixed(ctx context.Context, q services.UserQuery) (*services.MixedResult, error)
	HistoryBased(ctx context.Context, q services.UserQuery) ([]models.ScoredRestaurant, error)
	SearchRestaurants(ctx context.Context, q services.SearchQuery) ([]models.Restaurant, int, error)
	UpdatePreferences(ctx context.Context, userID uuid.UUID, prefs models.Preferences) (models.Preferences, error)
	RecordFeedback(ctx context.Context, userID uuid.UUID, req models.FeedbackRequest) (*models.RecommendationFeedback, error)
	Stats(ctx context.Context) (*models.RecommendationStats, error)
}

type RecommendationHandler struct {
	recommendations RecommendationProvider
	validator       *validator.Validate
	logger          *logrus.Logger
}

func NewRecommendationHandler(recommendations RecommendationProvider, logger *logrus.Logger) *RecommendationHandler {
	return &RecommendationHandler{
		recommendations: recommendations,
		validator:       validator.New(),
		logger:          logger,
	}
}

type mixedResponse struct {
	models.RecommendationResponse
	Strategies []services.StrategyResult  `json:"strategies"`
	Failures   []services.StrategyFailure `json:"failures,omitempty"`
}

type similarUsersResponse struct {
	Users       []models.SimilarUser `json:"users"`
	Total       int                  `json:"total"`
	GeneratedAt time.Time            `json:"generated_at"`
}

type restaurantPage struct {
	models.RestaurantListResponse
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// Public endpoints

func (h *RecommendationHandler) ByCuisine(c *gin.Context) {
	q := services.CuisineQuery{Cuisine: c.Param("cuisine")}

	var err error
	if q.Limit, err = queryInt(c, "limit"); err != nil {
		writeBadRequest(c, err)
		return
	}
	if q.MinRating, err = queryFloat(c, "min_rating"); err != nil {
		writeBadRequest(c, err)
		return
	}

	results, err := h.recommendations.ByCuisine(c.Request.Context(), q)
	h.respondScored(c, "cuisine", results, err)
}

func (h *RecommendationHandler) ByLocation(c *gin.Context) {
	q := services.LocationQuery{
		City:       c.Param("city"),
		PriceRange: c.Query("price_range"),
	}

	var err error
	if q.Limit, err = queryInt(c, "limit"); err != nil {
		writeBadRequest(c, err)
		return
	}
	if q.MinRating, err = queryFloat(c, "min_rating"); err != nil {
		writeBadRequest(c, err)
		return
	}

	results, err := h.recommendations.ByLocation(c.Request.Context(), q)
	h.respondScored(c, "location", results, err)
}

func (h *RecommendationHandler) Trending(c *gin.Context) {
	var (
		q   services.TrendingQuery
		err error
	)
	if q.Limit, err = queryInt(c, "limit"); err != nil {
		writeBadRequest(c, err)
		return
	}
	if q.Days, err = queryInt(c, "days"); err != nil {
		writeBadRequest(c, err)
		return
	}

	results, err := h.recommendations.Trending(c.Request.Context(), q)
	h.respondScored(c, "trending", results, err)
}

func (h *RecommendationHandler) ByPriceRange(c *gin.Context) {
	q := services.PriceRangeQuery{
		PriceRange: c.Param("price_range"),
		City:       c.Query("city"),
		Cuisine:    c.Query("cuisine"),
	}

	var err error
	if q.Limit, err = queryInt(c, "limit"); err != nil {
		writeBadRequest(c, err)
		return
	}

	results, err := h.recommendations.ByPriceRange(c.Request.Context(), q)
	h.respondScored(c, "price_range", results, err)
}

func (h *RecommendationHandler) ByRating(c *gin.Context) {
	q := services.RatingQuery{
		Cuisine:    c.Query("cuisine"),
		City:       c.Query("city"),
		PriceRange: c.Query("price_range"),
	}

	var err error
	if q.MinRating, err = queryFloat(c, "min_rating"); err != nil {
		writeBadRequest(c, err)
		return
	}
	if q.Limit, err = queryInt(c, "limit"); err != nil {
		writeBadRequest(c, err)
		return
	}

	results, err := h.recommendations.ByRating(c.Request.Context(), q)
	h.respondScored(c, "rating", results, err)
}

func (h *RecommendationHandler) Similar(c *gin.Context) {
	restaurantID, err := uuid.Parse(c.Param("restaurant_id"))
	if err != nil {
		writeBadRequest(c, errors.New("restaurant_id must be a UUID"))
		return
	}

	q := services.SimilarQuery{RestaurantID: restaurantID}
	if q.Limit, err = queryInt(c, "limit"); err != nil {
		writeBadRequest(c, err)
		return
	}

	results, err := h.recommendations.Similar(c.Request.Context(), q)
	h.respondScored(c, "similar", results, err)
}

func (h *RecommendationHandler) Stats(c *gin.Context) {
	stats, err := h.recommendations.Stats(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Restaurants is the paginated, filterable restaurant listing.
func (h *RecommendationHandler) Restaurants(c *gin.Context) {
	q := services.SearchQuery{
		Filter: models.RestaurantFilter{
			CuisineType: strings.TrimSpace(c.Query("cuisine")),
			City:        strings.TrimSpace(c.Query("city")),
			PriceRange:  models.PriceTier(strings.TrimSpace(c.Query("price_range"))),
			Search:      strings.TrimSpace(c.Query("search")),
		},
		Sort: models.RestaurantSort{
			Field: c.Query("sort_by"),
			Order: c.Query("sort_order"),
		},
	}

	minRating, err := queryFloat(c, "min_rating")
	if err != nil {
		writeBadRequest(c, err)
		return
	}
	if minRating != nil {
		q.Filter.MinRating = *minRating
	}
	page, err := queryInt(c, "page")
	if err != nil {
		writeBadRequest(c, err)
		return
	}
	if page != nil {
		q.Page.Number = *page
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		writeBadRequest(c, err)
		return
	}
	if limit != nil {
		q.Page.Size = *limit
	}

	restaurants, total, err := h.recommendations.SearchRestaurants(c.Request.Context(), q)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response := restaurantPage{
		RestaurantListResponse: models.RestaurantListResponse{
			Restaurants: restaurants,
			Total:       total,
			Algorithm:   "search",
			GeneratedAt: time.Now().UTC(),
		},
		Page:  q.Page.Number,
		Limit: q.Page.Size,
	}
	c.JSON(http.StatusOK, response)
}

// Authenticated endpoints

func (h *RecommendationHandler) Personalized(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}

	q := services.PersonalizedQuery{UserID: userID}

	var err error
	if q.Limit, err = queryInt(c, "limit"); err != nil {
		writeBadRequest(c, err)
		return
	}
	exclude, err := queryBool(c, "exclude_visited")
	if err != nil {
		writeBadRequest(c, err)
		return
	}
	q.ExcludeVisited = exclude == nil || *exclude

	results, err := h.recommendations.Personalized(c.Request.Context(), q)
	h.respondScored(c, "personalized", results, err)
}

func (h *RecommendationHandler) Collaborative(c *gin.Context) {
	q, ok := h.userQuery(c)
	if !ok {
		return
	}
	results, err := h.recommendations.Collaborative(c.Request.Context(), q)
	h.respondScored(c, "collaborative", results, err)
}

func (h *RecommendationHandler) History(c *gin.Context) {
	q, ok := h.userQuery(c)
	if !ok {
		return
	}
	results, err := h.recommendations.HistoryBased(c.Request.Context(), q)
	h.respondScored(c, "history", results, err)
}

func (h *RecommendationHandler) Mixed(c *gin.Context) {
	q, ok := h.userQuery(c)
	if !ok {
		return
	}

	result, err := h.recommendations.Mixed(c.Request.Context(), q)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, mixedResponse{
		RecommendationResponse: models.RecommendationResponse{
			Recommendations: result.Recommendations,
			Total:           len(result.Recommendations),
			Algorithm:       "mixed",
			GeneratedAt:     time.Now().UTC(),
		},
		Strategies: result.Strategies,
		Failures:   result.Failures,
	})
}

func (h *RecommendationHandler) SimilarUsers(c *gin.Context) {
	q, ok := h.userQuery(c)
	if !ok {
		return
	}

	users, err := h.recommendations.SimilarUsers(c.Request.Context(), q)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, similarUsersResponse{
		Users:       users,
		Total:       len(users),
		GeneratedAt: time.Now().UTC(),
	})
}

func (h *RecommendationHandler) UpdatePreferences(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}

	var req models.PreferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeInvalidBody(c, err)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		writeValidationFailed(c, err)
		return
	}

	prefs, err := h.recommendations.UpdatePreferences(c.Request.Context(), userID, req.Preferences)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":     userID,
		"preferences": prefs,
	})
}

func (h *RecommendationHandler) RecordFeedback(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}

	var req models.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeInvalidBody(c, err)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		writeValidationFailed(c, err)
		return
	}

	feedback, err := h.recommendations.RecordFeedback(c.Request.Context(), userID, req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, feedback)
}

func (h *RecommendationHandler) requireUser(c *gin.Context) (uuid.UUID, bool) {
	userID, _, ok := middleware.GetUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": gin.H{
				"code":    "UNAUTHENTICATED",
				"message": "Authentication required",
			},
		})
		return uuid.Nil, false
	}
	return userID, true
}

func (h *RecommendationHandler) userQuery(c *gin.Context) (services.UserQuery, bool) {
	userID, ok := h.requireUser(c)
	if !ok {
		return services.UserQuery{}, false
	}

	limit, err := queryInt(c, "limit")
	if err != nil {
		writeBadRequest(c, err)
		return services.UserQuery{}, false
	}
	return services.UserQuery{UserID: userID, Limit: limit}, true
}

func (h *RecommendationHandler) respondScored(c *gin.Context, algorithm string, results []models.ScoredRestaurant, err error) {
	if err != nil {
		h.writeError(c, err)
		return
	}
	if results == nil {
		results = []models.ScoredRestaurant{}
	}

	c.JSON(http.StatusOK, models.RecommendationResponse{
		Recommendations: results,
		Total:           len(results),
		Algorithm:       algorithm,
		GeneratedAt:     time.Now().UTC(),
	})
}

func (h *RecommendationHandler) writeError(c *gin.Context, err error) {
	status, code := statusForError(err)
	entry := h.logger.WithError(err).WithFields(logrus.Fields{
		"path":   c.FullPath(),
		"status": status,
	})
	if status >= http.StatusInternalServerError {
		entry.Error("Recommendation request failed")
	} else {
		entry.Debug("Recommendation request rejected")
	}

	message := err.Error()
	switch {
	case status == http.StatusGatewayTimeout:
		message = "The request timed out"
	case status >= http.StatusInternalServerError:
		message = "The recommendation store is unavailable"
	}

	_ = c.Error(err)
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

func statusForError(err error) (int, string) {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "TIMEOUT"
	}
	switch services.KindOf(err) {
	case services.KindNotFound:
		return http.StatusNotFound, string(services.KindNotFound)
	case services.KindInvalidParameter:
		return http.StatusBadRequest, string(services.KindInvalidParameter)
	case services.KindStoreFailure:
		return http.StatusServiceUnavailable, string(services.KindStoreFailure)
	}
	return http.StatusInternalServerError, "INTERNAL_SERVER_ERROR"
}
