package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/temcen/dinewise/internal/validation"
	"github.com/temcen/dinewise/pkg/models"
)

// restaurantColumns reads from the restaurant_summaries view aliased as s.
const restaurantColumns = `s.id, s.name, s.description, s.cuisine_type, s.address, s.city,
	s.price_range, s.opening_hours, s.average_rating, s.total_reviews, s.created_at`

const userColumns = `id, name, email, phone, role, preferences, created_at, last_login_at`

// sortableColumns whitelists ORDER BY targets for listings.
var sortableColumns = map[string]string{
	"name":           "s.name",
	"average_rating": "s.average_rating",
	"total_reviews":  "s.total_reviews",
	"created_at":     "s.created_at",
	"price_range":    "length(s.price_range)",
}

type rowScanner interface {
	Scan(dest ...any) error
}

// EntityStore reads users, restaurants and reviews. Restaurant aggregates are
// always taken from the restaurant_summaries view.
type EntityStore struct {
	db        DatabaseQuerier
	validator *validation.SchemaValidator
	logger    *logrus.Logger
}

func NewEntityStore(db DatabaseQuerier, validator *validation.SchemaValidator, logger *logrus.Logger) *EntityStore {
	return &EntityStore{
		db:        db,
		validator: validator,
		logger:    logger,
	}
}

func (s *EntityStore) FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const op = "FindUserByID"

	row := s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := s.scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(op, "user %s not found", id)
		}
		return nil, storeFailure(op, err)
	}
	return user, nil
}

func (s *EntityStore) FindRestaurantByID(ctx context.Context, id uuid.UUID) (*models.Restaurant, error) {
	const op = "FindRestaurantByID"

	row := s.db.QueryRow(ctx, `SELECT `+restaurantColumns+` FROM restaurant_summaries s WHERE s.id = $1`, id)
	restaurant, err := s.scanRestaurant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(op, "restaurant %s not found", id)
		}
		return nil, storeFailure(op, err)
	}
	return restaurant, nil
}

// FindRestaurantsByFilter returns one page of matching restaurants and the total match count.
func (s *EntityStore) FindRestaurantsByFilter(
	ctx context.Context,
	filter models.RestaurantFilter,
	page models.Page,
	sort models.RestaurantSort,
) ([]models.Restaurant, int, error) {
	const op = "FindRestaurantsByFilter"

	where, args := buildRestaurantFilter(filter)

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM restaurant_summaries s`+where, args...).Scan(&total); err != nil {
		return nil, 0, storeFailure(op, err)
	}

	orderBy, err := buildOrderBy(sort)
	if err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + restaurantColumns + ` FROM restaurant_summaries s` + where + orderBy +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, page.Size, page.Offset())

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, storeFailure(op, err)
	}
	defer rows.Close()

	var restaurants []models.Restaurant
	for rows.Next() {
		restaurant, err := s.scanRestaurant(rows)
		if err != nil {
			return nil, 0, storeFailure(op, err)
		}
		restaurants = append(restaurants, *restaurant)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storeFailure(op, err)
	}

	return restaurants, total, nil
}

// ReviewedRestaurantIDs lists every restaurant the user has reviewed.
func (s *EntityStore) ReviewedRestaurantIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	const op = "ReviewedRestaurantIDs"

	rows, err := s.db.Query(ctx, `SELECT restaurant_id FROM reviews WHERE user_id = $1 ORDER BY restaurant_id`, userID)
	if err != nil {
		return nil, storeFailure(op, err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, storeFailure(op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storeFailure(op, err)
	}
	return ids, nil
}

func (s *EntityStore) scanUser(row rowScanner) (*models.User, error) {
	var (
		user           models.User
		role           string
		rawPreferences *string
	)

	if err := row.Scan(
		&user.ID, &user.Name, &user.Email, &user.Phone, &role,
		&rawPreferences, &user.CreatedAt, &user.LastLoginAt,
	); err != nil {
		return nil, err
	}

	user.Role = models.Role(role)
	user.Preferences = s.decodePreferences(user.ID, rawPreferences)
	return &user, nil
}

func (s *EntityStore) decodePreferences(userID uuid.UUID, raw *string) models.Preferences {
	prefs, err := s.validator.DecodePreferences(raw)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Debug("Ignoring unreadable preferences")
	}
	return prefs
}

// scanRestaurant scans restaurantColumns followed by any extra destinations.
func (s *EntityStore) scanRestaurant(row rowScanner, extra ...any) (*models.Restaurant, error) {
	var (
		restaurant models.Restaurant
		priceRange string
		rawHours   *string
		createdAt  time.Time
	)

	dest := []any{
		&restaurant.ID, &restaurant.Name, &restaurant.Description, &restaurant.CuisineType,
		&restaurant.Address, &restaurant.City, &priceRange, &rawHours,
		&restaurant.AverageRating, &restaurant.TotalReviews, &createdAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	restaurant.PriceRange = models.PriceTier(priceRange)
	restaurant.CreatedAt = createdAt

	hours, err := s.validator.DecodeOpeningHours(rawHours)
	if err != nil {
		s.logger.WithError(err).WithField("restaurant_id", restaurant.ID).Debug("Ignoring unreadable opening hours")
	}
	restaurant.OpeningHours = hours

	return &restaurant, nil
}

// scanScored reads restaurant rows carrying one trailing float8 score column.
func (s *EntityStore) scanScored(rows pgx.Rows, source string) ([]models.ScoredRestaurant, error) {
	defer rows.Close()

	results := []models.ScoredRestaurant{}
	for rows.Next() {
		var score float64
		restaurant, err := s.scanRestaurant(rows, &score)
		if err != nil {
			return nil, err
		}
		results = append(results, models.ScoredRestaurant{
			Restaurant: *restaurant,
			Score:      score,
			Source:     source,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// buildRestaurantFilter renders a WHERE clause over the summaries view. Zero-valued
// fields are skipped.
func buildRestaurantFilter(filter models.RestaurantFilter) (string, []any) {
	var (
		conditions []string
		args       []any
	)

	add := func(cond string, arg any) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if filter.CuisineType != "" {
		add("s.cuisine_type = $%d", filter.CuisineType)
	}
	if filter.City != "" {
		add("s.city = $%d", filter.City)
	}
	if filter.PriceRange != "" {
		add("s.price_range = $%d", string(filter.PriceRange))
	}
	if filter.MinRating > 0 {
		add("s.average_rating >= $%d", filter.MinRating)
	}
	if filter.Search != "" {
		args = append(args, "%"+escapeLike(filter.Search)+"%")
		n := len(args)
		conditions = append(conditions,
			fmt.Sprintf("(s.name ILIKE $%d OR s.description ILIKE $%d OR s.cuisine_type ILIKE $%d)", n, n, n))
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func buildOrderBy(sort models.RestaurantSort) (string, error) {
	field := sort.Field
	if field == "" {
		field = "average_rating"
	}
	column, ok := sortableColumns[field]
	if !ok {
		return "", invalidParameter("FindRestaurantsByFilter", "unsupported sort field %q", sort.Field)
	}

	order := strings.ToUpper(sort.Order)
	switch order {
	case "":
		order = "DESC"
	case "ASC", "DESC":
	default:
		return "", invalidParameter("FindRestaurantsByFilter", "unsupported sort order %q", sort.Order)
	}

	return fmt.Sprintf(" ORDER BY %s %s, s.id ASC", column, order), nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
