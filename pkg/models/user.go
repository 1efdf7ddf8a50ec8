package models

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
	RoleOwner Role = "owner"
)

// Preferences is embedded in a user row as a JSON document.
type Preferences struct {
	FavoriteCuisines     []string `json:"favorite_cuisines" validate:"max=50,dive,max=64"`
	PreferredPriceRanges []string `json:"preferred_price_ranges" validate:"max=4,dive,max=4"`
	PreferredCities      []string `json:"preferred_cities" validate:"max=50,dive,max=64"`
	DislikedCuisines     []string `json:"disliked_cuisines" validate:"max=50,dive,max=64"`
	DietaryRestrictions  []string `json:"dietary_restrictions" validate:"max=50,dive,max=64"`
}

// IsEmpty reports whether none of the scoring sets carries a label.
func (p Preferences) IsEmpty() bool {
	return len(p.FavoriteCuisines) == 0 &&
		len(p.PreferredPriceRanges) == 0 &&
		len(p.PreferredCities) == 0
}

// HasAny reports whether any of the five sets carries a label.
func (p Preferences) HasAny() bool {
	return !p.IsEmpty() || len(p.DislikedCuisines) > 0 || len(p.DietaryRestrictions) > 0
}

type User struct {
	ID          uuid.UUID   `json:"id" db:"id"`
	Name        string      `json:"name" db:"name"`
	Email       string      `json:"email" db:"email"`
	Phone       *string     `json:"phone,omitempty" db:"phone"`
	Role        Role        `json:"role" db:"role"`
	Preferences Preferences `json:"preferences" db:"preferences"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	LastLoginAt *time.Time  `json:"last_login_at,omitempty" db:"last_login_at"`
}

type SimilarUser struct {
	UserID          uuid.UUID `json:"user_id"`
	Name            string    `json:"name"`
	SimilarityScore int       `json:"similarity_score"`
}
