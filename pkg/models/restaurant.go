package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PriceTier is one of four ordered price levels, cheapest first.
type PriceTier string

const (
	PriceBudget    PriceTier = "$"
	PriceModerate  PriceTier = "$$"
	PriceExpensive PriceTier = "$$$"
	PriceLuxury    PriceTier = "$$$$"
)

// PriceTiers lists every tier in ascending order.
var PriceTiers = []PriceTier{PriceBudget, PriceModerate, PriceExpensive, PriceLuxury}

// ParsePriceTier validates a raw price tier label.
func ParsePriceTier(s string) (PriceTier, error) {
	for _, tier := range PriceTiers {
		if string(tier) == s {
			return tier, nil
		}
	}
	return "", fmt.Errorf("invalid price tier %q", s)
}

// Rank returns 1 for the cheapest tier up to 4 for the priciest, 0 if unknown.
func (p PriceTier) Rank() int {
	for i, tier := range PriceTiers {
		if tier == p {
			return i + 1
		}
	}
	return 0
}

type DayHours struct {
	Open  string `json:"open"`
	Close string `json:"close"`
}

// OpeningHours maps a lowercase weekday to its hours. A missing day means closed.
type OpeningHours map[string]*DayHours

type Restaurant struct {
	ID            uuid.UUID    `json:"id" db:"id"`
	Name          string       `json:"name" db:"name"`
	Description   string       `json:"description" db:"description"`
	CuisineType   string       `json:"cuisine_type" db:"cuisine_type"`
	Address       string       `json:"address" db:"address"`
	City          string       `json:"city" db:"city"`
	PriceRange    PriceTier    `json:"price_range" db:"price_range"`
	AverageRating float64      `json:"average_rating" db:"average_rating"`
	TotalReviews  int          `json:"total_reviews" db:"total_reviews"`
	OpeningHours  OpeningHours `json:"opening_hours" db:"opening_hours"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
}

// ScoredRestaurant carries a strategy-specific score. Scores from different
// strategies are not comparable.
type ScoredRestaurant struct {
	Restaurant
	Score  float64 `json:"score"`
	Source string  `json:"source"`
}

// RestaurantFilter narrows a restaurant listing. Zero values are ignored.
type RestaurantFilter struct {
	CuisineType string    `json:"cuisine_type,omitempty"`
	City        string    `json:"city,omitempty"`
	PriceRange  PriceTier `json:"price_range,omitempty"`
	MinRating   float64   `json:"min_rating,omitempty"`
	Search      string    `json:"search,omitempty"`
}

type RestaurantSort struct {
	Field string `json:"sort_by"`
	Order string `json:"sort_order"`
}

type Review struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	UserID       uuid.UUID  `json:"user_id" db:"user_id"`
	RestaurantID uuid.UUID  `json:"restaurant_id" db:"restaurant_id"`
	Rating       int        `json:"rating" db:"rating"`
	Comment      *string    `json:"comment,omitempty" db:"comment"`
	VisitDate    *time.Time `json:"visit_date,omitempty" db:"visit_date"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// Page selects a 1-based page of a listing.
type Page struct {
	Number int `json:"page"`
	Size   int `json:"limit"`
}

func (p Page) Offset() int {
	if p.Number < 1 {
		return 0
	}
	return (p.Number - 1) * p.Size
}
