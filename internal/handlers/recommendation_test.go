package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/temcen/dinewise/internal/middleware"
	"github.com/temcen/dinewise/internal/services"
	"github.com/temcen/dinewise/pkg/models"
)

type MockRecommendationProvider struct {
	mock.Mock
}

func (m *MockRecommendationProvider) scored(args mock.Arguments) ([]models.ScoredRestaurant, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ScoredRestaurant), args.Error(1)
}

func (m *MockRecommendationProvider) Personalized(ctx context.Context, q services.PersonalizedQuery) ([]models.ScoredRestaurant, error) {
	return m.scored(m.Called(ctx, q))
}

func (m *MockRecommendationProvider) Similar(ctx context.Context, q services.SimilarQuery) ([]models.ScoredRestaurant, error) {
	return m.scored(m.Called(ctx, q))
}

func (m *MockRecommendationProvider) SimilarUsers(ctx context.Context, q services.UserQuery) ([]models.SimilarUser, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.SimilarUser), args.Error(1)
}

func (m *MockRecommendationProvider) ByCuisine(ctx context.Context, q services.CuisineQuery) ([]models.ScoredRestaurant, error) {
	return m.scored(m.Called(ctx, q))
}

func (m *MockRecommendationProvider) ByLocation(ctx context.Context, q services.LocationQuery) ([]models.ScoredRestaurant, error) {
	return m.scored(m.Called(ctx, q))
}

func (m *MockRecommendationProvider) Trending(ctx context.Context, q services.TrendingQuery) ([]models.ScoredRestaurant, error) {
	return m.scored(m.Called(ctx, q))
}

func (m *MockRecommendationProvider) ByPriceRange(ctx context.Context, q services.PriceRangeQuery) ([]models.ScoredRestaurant, error) {
	return m.scored(m.Called(ctx, q))
}

func (m *MockRecommendationProvider) Collaborative(ctx context.Context, q services.UserQuery) ([]models.ScoredRestaurant, error) {
	return m.scored(m.Called(ctx, q))
}

func (m *MockRecommendationProvider) ByRating(ctx context.Context, q services.RatingQuery) ([]models.ScoredRestaurant, error) {
	return m.scored(m.Called(ctx, q))
}

func (m *MockRecommendationProvider) Mixed(ctx context.Context, q services.UserQuery) (*services.MixedResult, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.MixedResult), args.Error(1)
}

func (m *MockRecommendationProvider) HistoryBased(ctx context.Context, q services.UserQuery) ([]models.ScoredRestaurant, error) {
	return m.scored(m.Called(ctx, q))
}

func (m *MockRecommendationProvider) SearchRestaurants(ctx context.Context, q services.SearchQuery) ([]models.Restaurant, int, error) {
	args := m.Called(ctx, q)
	return args.Get(0).([]models.Restaurant), args.Int(1), args.Error(2)
}

func (m *MockRecommendationProvider) UpdatePreferences(ctx context.Context, userID uuid.UUID, prefs models.Preferences) (models.Preferences, error) {
	args := m.Called(ctx, userID, prefs)
	return args.Get(0).(models.Preferences), args.Error(1)
}

func (m *MockRecommendationProvider) RecordFeedback(ctx context.Context, userID uuid.UUID, req models.FeedbackRequest) (*models.RecommendationFeedback, error) {
	args := m.Called(ctx, userID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RecommendationFeedback), args.Error(1)
}

func (m *MockRecommendationProvider) Stats(ctx context.Context) (*models.RecommendationStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RecommendationStats), args.Error(1)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// newTestRouter mounts the handler; asUser, when not Nil, plays the role of Auth.
func newTestRouter(provider RecommendationProvider, asUser uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewRecommendationHandler(provider, testLogger())

	router := gin.New()
	api := router.Group("/api/v1")
	api.GET("/restaurants", h.Restaurants)

	public := api.Group("/recommendations")
	public.GET("/cuisine/:cuisine", h.ByCuisine)
	public.GET("/trending", h.Trending)
	public.GET("/similar/:restaurant_id", h.Similar)
	public.GET("/stats", h.Stats)

	authed := api.Group("/recommendations")
	authed.Use(func(c *gin.Context) {
		if asUser != uuid.Nil {
			c.Set(middleware.ContextUserID, asUser)
			c.Set(middleware.ContextRole, models.RoleUser)
		}
	})
	authed.GET("/personalized", h.Personalized)
	authed.GET("/mixed", h.Mixed)
	authed.GET("/similar-users", h.SimilarUsers)
	authed.PUT("/preferences", h.UpdatePreferences)
	authed.POST("/feedback", h.RecordFeedback)

	return router
}

func doRequest(router *gin.Engine, method, path string, body []byte) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Code
}

func sampleRestaurant(name string) models.ScoredRestaurant {
	return models.ScoredRestaurant{
		Restaurant: models.Restaurant{ID: uuid.New(), Name: name, CuisineType: "Italian", AverageRating: 4.5},
		Score:      4.5,
		Source:     models.SourceFiltered,
	}
}

func TestRecommendationHandler_ByCuisine(t *testing.T) {
	provider := new(MockRecommendationProvider)
	router := newTestRouter(provider, uuid.Nil)
	item := sampleRestaurant("Trattoria")

	provider.On("ByCuisine", mock.Anything, mock.MatchedBy(func(q services.CuisineQuery) bool {
		return q.Cuisine == "Italian" && q.Limit != nil && *q.Limit == 5 && q.MinRating == nil
	})).Return([]models.ScoredRestaurant{item}, nil)

	w := doRequest(router, http.MethodGet, "/api/v1/recommendations/cuisine/Italian?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var response models.RecommendationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, 1, response.Total)
	assert.Equal(t, "cuisine", response.Algorithm)
	assert.Equal(t, item.ID, response.Recommendations[0].ID)
	provider.AssertExpectations(t)
}

func TestRecommendationHandler_QueryParsing(t *testing.T) {
	provider := new(MockRecommendationProvider)
	router := newTestRouter(provider, uuid.Nil)

	tests := []struct {
		name string
		path string
	}{
		{"non-numeric limit", "/api/v1/recommendations/cuisine/Thai?limit=ten"},
		{"non-numeric rating", "/api/v1/recommendations/cuisine/Thai?min_rating=high"},
		{"non-numeric days", "/api/v1/recommendations/trending?days=week"},
		{"malformed restaurant id", "/api/v1/recommendations/similar/not-a-uuid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(router, http.MethodGet, tt.path, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "INVALID_PARAMETER", decodeError(t, w))
		})
	}
	provider.AssertNotCalled(t, "ByCuisine", mock.Anything, mock.Anything)
}

func TestRecommendationHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid parameter", &services.ServiceError{Kind: services.KindInvalidParameter, Message: "days must be positive"}, http.StatusBadRequest, "INVALID_PARAMETER"},
		{"not found", &services.ServiceError{Kind: services.KindNotFound, Message: "restaurant not found"}, http.StatusNotFound, "NOT_FOUND"},
		{"store failure", &services.ServiceError{Kind: services.KindStoreFailure, Err: errors.New("pool closed")}, http.StatusServiceUnavailable, "STORE_FAILURE"},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, "TIMEOUT"},
		{"store query past its deadline", &services.ServiceError{Kind: services.KindStoreFailure, Err: fmt.Errorf("query: %w", context.DeadlineExceeded)}, http.StatusGatewayTimeout, "TIMEOUT"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_SERVER_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := new(MockRecommendationProvider)
			router := newTestRouter(provider, uuid.Nil)
			provider.On("Trending", mock.Anything, mock.Anything).Return(nil, tt.err)

			w := doRequest(router, http.MethodGet, "/api/v1/recommendations/trending", nil)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decodeError(t, w))
			assert.NotContains(t, w.Body.String(), "pool closed")
		})
	}
}

func TestRecommendationHandler_Personalized(t *testing.T) {
	userID := uuid.New()

	t.Run("requires authentication", func(t *testing.T) {
		provider := new(MockRecommendationProvider)
		router := newTestRouter(provider, uuid.Nil)

		w := doRequest(router, http.MethodGet, "/api/v1/recommendations/personalized", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		provider.AssertNotCalled(t, "Personalized", mock.Anything, mock.Anything)
	})

	t.Run("excludes visited restaurants by default", func(t *testing.T) {
		provider := new(MockRecommendationProvider)
		router := newTestRouter(provider, userID)

		provider.On("Personalized", mock.Anything, services.PersonalizedQuery{
			UserID:         userID,
			ExcludeVisited: true,
		}).Return([]models.ScoredRestaurant{}, nil)

		w := doRequest(router, http.MethodGet, "/api/v1/recommendations/personalized", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"recommendations":[]`)
		provider.AssertExpectations(t)
	})

	t.Run("exclusion can be turned off", func(t *testing.T) {
		provider := new(MockRecommendationProvider)
		router := newTestRouter(provider, userID)

		provider.On("Personalized", mock.Anything, mock.MatchedBy(func(q services.PersonalizedQuery) bool {
			return q.UserID == userID && !q.ExcludeVisited && *q.Limit == 3
		})).Return([]models.ScoredRestaurant{sampleRestaurant("A")}, nil)

		w := doRequest(router, http.MethodGet, "/api/v1/recommendations/personalized?exclude_visited=false&limit=3", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		provider.AssertExpectations(t)
	})
}

func TestRecommendationHandler_Mixed(t *testing.T) {
	userID := uuid.New()
	provider := new(MockRecommendationProvider)
	router := newTestRouter(provider, userID)

	provider.On("Mixed", mock.Anything, services.UserQuery{UserID: userID}).Return(&services.MixedResult{
		Recommendations: []models.ScoredRestaurant{sampleRestaurant("A")},
		Strategies: []services.StrategyResult{
			{Strategy: models.SourcePersonalized, Count: 1},
			{Strategy: models.SourceCollaborative, Error: errors.New("timeout")},
		},
		Failures: []services.StrategyFailure{{Strategy: models.SourceCollaborative, Reason: "timeout"}},
	}, nil)

	w := doRequest(router, http.MethodGet, "/api/v1/recommendations/mixed", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Total      int                        `json:"total"`
		Algorithm  string                     `json:"algorithm"`
		Strategies []services.StrategyResult  `json:"strategies"`
		Failures   []services.StrategyFailure `json:"failures"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Total)
	assert.Equal(t, "mixed", body.Algorithm)
	assert.Len(t, body.Strategies, 2)
	require.Len(t, body.Failures, 1)
	assert.Equal(t, models.SourceCollaborative, body.Failures[0].Strategy)
}

func TestRecommendationHandler_SimilarUsers(t *testing.T) {
	userID := uuid.New()
	provider := new(MockRecommendationProvider)
	router := newTestRouter(provider, userID)

	peer := models.SimilarUser{UserID: uuid.New(), Name: "Rui", SimilarityScore: 2}
	provider.On("SimilarUsers", mock.Anything, services.UserQuery{UserID: userID}).
		Return([]models.SimilarUser{peer}, nil)

	w := doRequest(router, http.MethodGet, "/api/v1/recommendations/similar-users", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), peer.UserID.String())
}

func TestRecommendationHandler_UpdatePreferences(t *testing.T) {
	userID := uuid.New()

	t.Run("stores preferences", func(t *testing.T) {
		provider := new(MockRecommendationProvider)
		router := newTestRouter(provider, userID)
		stored := models.Preferences{FavoriteCuisines: []string{"Thai"}}

		provider.On("UpdatePreferences", mock.Anything, userID, mock.MatchedBy(func(p models.Preferences) bool {
			return len(p.FavoriteCuisines) == 1 && p.FavoriteCuisines[0] == "Thai"
		})).Return(stored, nil)

		w := doRequest(router, http.MethodPut, "/api/v1/recommendations/preferences",
			[]byte(`{"preferences":{"favorite_cuisines":["Thai"]}}`))
		assert.Equal(t, http.StatusOK, w.Code)
		provider.AssertExpectations(t)
	})

	t.Run("rejects malformed json", func(t *testing.T) {
		provider := new(MockRecommendationProvider)
		router := newTestRouter(provider, userID)

		w := doRequest(router, http.MethodPut, "/api/v1/recommendations/preferences", []byte(`{"preferences":`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_REQUEST_BODY", decodeError(t, w))
	})

	t.Run("rejects too many price tiers", func(t *testing.T) {
		provider := new(MockRecommendationProvider)
		router := newTestRouter(provider, userID)

		w := doRequest(router, http.MethodPut, "/api/v1/recommendations/preferences",
			[]byte(`{"preferences":{"preferred_price_ranges":["$","$$","$$$","$$$$","$"]}}`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "VALIDATION_FAILED", decodeError(t, w))
		provider.AssertNotCalled(t, "UpdatePreferences", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestRecommendationHandler_RecordFeedback(t *testing.T) {
	userID := uuid.New()
	restaurantID := uuid.New()

	t.Run("created", func(t *testing.T) {
		provider := new(MockRecommendationProvider)
		router := newTestRouter(provider, userID)

		provider.On("RecordFeedback", mock.Anything, userID, mock.MatchedBy(func(req models.FeedbackRequest) bool {
			return req.RestaurantID == restaurantID && req.Liked != nil && *req.Liked
		})).Return(&models.RecommendationFeedback{ID: uuid.New(), UserID: userID, RestaurantID: restaurantID, Liked: true}, nil)

		body := []byte(`{"restaurant_id":"` + restaurantID.String() + `","liked":true}`)
		w := doRequest(router, http.MethodPost, "/api/v1/recommendations/feedback", body)
		assert.Equal(t, http.StatusCreated, w.Code)
		provider.AssertExpectations(t)
	})

	t.Run("liked is required", func(t *testing.T) {
		provider := new(MockRecommendationProvider)
		router := newTestRouter(provider, userID)

		body := []byte(`{"restaurant_id":"` + restaurantID.String() + `"}`)
		w := doRequest(router, http.MethodPost, "/api/v1/recommendations/feedback", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "VALIDATION_FAILED", decodeError(t, w))
	})

	t.Run("unknown restaurant", func(t *testing.T) {
		provider := new(MockRecommendationProvider)
		router := newTestRouter(provider, userID)

		provider.On("RecordFeedback", mock.Anything, userID, mock.Anything).
			Return(nil, &services.ServiceError{Kind: services.KindNotFound, Message: "restaurant not found"})

		body := []byte(`{"restaurant_id":"` + restaurantID.String() + `","liked":false}`)
		w := doRequest(router, http.MethodPost, "/api/v1/recommendations/feedback", body)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestRecommendationHandler_Restaurants(t *testing.T) {
	provider := new(MockRecommendationProvider)
	router := newTestRouter(provider, uuid.Nil)

	provider.On("SearchRestaurants", mock.Anything, services.SearchQuery{
		Filter: models.RestaurantFilter{City: "Porto", PriceRange: models.PriceModerate, MinRating: 4, Search: "tasca"},
		Page:   models.Page{Number: 2, Size: 20},
		Sort:   models.RestaurantSort{Field: "name", Order: "asc"},
	}).Return([]models.Restaurant{{ID: uuid.New(), Name: "Tasca"}}, 21, nil)

	w := doRequest(router, http.MethodGet,
		"/api/v1/restaurants?city=Porto&price_range=$$&min_rating=4&search=tasca&page=2&limit=20&sort_by=name&sort_order=asc", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Total int `json:"total"`
		Page  int `json:"page"`
		Limit int `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 21, body.Total)
	assert.Equal(t, 2, body.Page)
	assert.Equal(t, 20, body.Limit)
	provider.AssertExpectations(t)
}

func TestRecommendationHandler_Stats(t *testing.T) {
	provider := new(MockRecommendationProvider)
	router := newTestRouter(provider, uuid.Nil)

	provider.On("Stats", mock.Anything).Return(&models.RecommendationStats{TotalRestaurants: 12}, nil)

	w := doRequest(router, http.MethodGet, "/api/v1/recommendations/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_restaurants":12`)
}

func TestHealthHandler_Check(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hs := services.NewHealthService(testLogger(), prometheus.NewRegistry())
	hs.AddCheck("postgresql", true, func(context.Context) error { return errors.New("down") })

	router := gin.New()
	router.GET("/health", NewHealthHandler(testLogger(), hs).Check)

	w := doRequest(router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"unhealthy"`)
}
