package models

import (
	"time"

	"github.com/google/uuid"
)

// Strategy tags attached to scored restaurants.
const (
	SourcePersonalized  = "personalized"
	SourceTopRated      = "top_rated"
	SourceCollaborative = "collaborative"
	SourceTrending      = "trending"
	SourceHighRated     = "high_rated"
	SourceFiltered      = "filtered"
	SourceSimilar       = "similar"
	SourceHistory       = "history"
)

type RecommendationFeedback struct {
	ID           uuid.UUID `json:"id" db:"id"`
	UserID       uuid.UUID `json:"user_id" db:"user_id"`
	RestaurantID uuid.UUID `json:"restaurant_id" db:"restaurant_id"`
	Liked        bool      `json:"liked" db:"liked"`
	Reason       *string   `json:"reason,omitempty" db:"reason"`
	Source       *string   `json:"source,omitempty" db:"source"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

type FeedbackRequest struct {
	RestaurantID uuid.UUID `json:"restaurant_id" validate:"required"`
	Liked        *bool     `json:"liked" validate:"required"`
	Reason       *string   `json:"reason,omitempty" validate:"omitempty,max=500"`
	Source       *string   `json:"source,omitempty" validate:"omitempty,max=32"`
}

type PreferencesRequest struct {
	Preferences Preferences `json:"preferences"`
}

type RecommendationResponse struct {
	Recommendations []ScoredRestaurant `json:"recommendations"`
	Total           int                `json:"total"`
	Algorithm       string             `json:"algorithm"`
	GeneratedAt     time.Time          `json:"generated_at"`
}

type RestaurantListResponse struct {
	Restaurants []Restaurant `json:"restaurants"`
	Total       int          `json:"total"`
	Algorithm   string       `json:"algorithm"`
	GeneratedAt time.Time    `json:"generated_at"`
}

type HistogramBucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

type RecommendationStats struct {
	TotalRestaurants     int               `json:"total_restaurants"`
	TotalUsers           int               `json:"total_users"`
	TotalReviews         int               `json:"total_reviews"`
	OverallAverageRating float64           `json:"overall_average_rating"`
	RatingStdDev         float64           `json:"rating_std_dev"`
	CuisineDistribution  []HistogramBucket `json:"cuisine_distribution"`
	PriceDistribution    []HistogramBucket `json:"price_distribution"`
	UsersWithPreferences int               `json:"users_with_preferences"`
	PreferenceCoverage   float64           `json:"preference_coverage"`
	GeneratedAt          time.Time         `json:"generated_at"`
}
