package services

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/dinewise/pkg/models"
)

func TestEntityStore_FindUserByID(t *testing.T) {
	ctx := context.Background()

	t.Run("decodes stored preferences", func(t *testing.T) {
		mock, store := newMockStore(t)
		userID := uuid.New()

		mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
			WithArgs(userID).
			WillReturnRows(userRow(userID, `{"favorite_cuisines":["Italian"],"preferred_price_ranges":["$$"]}`))

		user, err := store.FindUserByID(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, userID, user.ID)
		assert.Equal(t, models.RoleUser, user.Role)
		assert.Equal(t, []string{"Italian"}, user.Preferences.FavoriteCuisines)
		assert.Equal(t, []string{"$$"}, user.Preferences.PreferredPriceRanges)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("malformed preferences become empty", func(t *testing.T) {
		mock, store := newMockStore(t)
		userID := uuid.New()

		mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
			WithArgs(userID).
			WillReturnRows(userRow(userID, `{"favorite_cuisines": "Italian"`))

		user, err := store.FindUserByID(ctx, userID)
		require.NoError(t, err)
		assert.True(t, user.Preferences.IsEmpty())
	})

	t.Run("unknown user is not found", func(t *testing.T) {
		mock, store := newMockStore(t)
		userID := uuid.New()

		mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
			WithArgs(userID).
			WillReturnError(pgx.ErrNoRows)

		_, err := store.FindUserByID(ctx, userID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("driver error is a store failure", func(t *testing.T) {
		mock, store := newMockStore(t)
		userID := uuid.New()

		mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
			WithArgs(userID).
			WillReturnError(errors.New("connection reset"))

		_, err := store.FindUserByID(ctx, userID)
		assert.ErrorIs(t, err, ErrStoreFailure)
		assert.ErrorContains(t, err, "connection reset")
	})
}

func TestEntityStore_FindRestaurantByID(t *testing.T) {
	ctx := context.Background()
	mock, store := newMockStore(t)

	r := restaurant("Trattoria", "Italian", "Lisbon", "$$", 4.5)
	r.Hours = strPtr(`{"monday":{"open":"12:00","close":"23:00"},"tuesday":null}`)

	mock.ExpectQuery(regexp.QuoteMeta("FROM restaurant_summaries s WHERE s.id = $1")).
		WithArgs(r.ID).
		WillReturnRows(restaurantRows(r))

	got, err := store.FindRestaurantByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Name, got.Name)
	assert.Equal(t, models.PriceModerate, got.PriceRange)
	assert.Equal(t, 4.5, got.AverageRating)
	require.Contains(t, got.OpeningHours, "monday")
	assert.NotContains(t, got.OpeningHours, "tuesday")

	missing := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta("FROM restaurant_summaries s WHERE s.id = $1")).
		WithArgs(missing).
		WillReturnError(pgx.ErrNoRows)

	_, err = store.FindRestaurantByID(ctx, missing)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityStore_FindRestaurantsByFilter(t *testing.T) {
	ctx := context.Background()

	t.Run("filters, sorts and paginates", func(t *testing.T) {
		mock, store := newMockStore(t)
		a := restaurant("Alfama", "Portuguese", "Lisbon", "$$", 4.1)
		b := restaurant("Bairro", "Portuguese", "Lisbon", "$$", 3.9)

		filter := models.RestaurantFilter{CuisineType: "Portuguese", City: "Lisbon", MinRating: 3.5, Search: "50%"}

		mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM restaurant_summaries s WHERE s.cuisine_type = $1 AND s.city = $2 AND s.average_rating >= $3 AND (s.name ILIKE $4")).
			WithArgs("Portuguese", "Lisbon", 3.5, `%50\%%`).
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))

		mock.ExpectQuery(regexp.QuoteMeta("ORDER BY s.name ASC, s.id ASC LIMIT $5 OFFSET $6")).
			WithArgs("Portuguese", "Lisbon", 3.5, `%50\%%`, 2, 2).
			WillReturnRows(restaurantRows(a, b))

		got, total, err := store.FindRestaurantsByFilter(ctx, filter,
			models.Page{Number: 2, Size: 2},
			models.RestaurantSort{Field: "name", Order: "asc"})
		require.NoError(t, err)
		assert.Equal(t, 7, total)
		require.Len(t, got, 2)
		assert.Equal(t, a.ID, got[0].ID)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("defaults to rating descending", func(t *testing.T) {
		mock, store := newMockStore(t)

		mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM restaurant_summaries s")).
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery(regexp.QuoteMeta("ORDER BY s.average_rating DESC, s.id ASC LIMIT $1 OFFSET $2")).
			WithArgs(10, 0).
			WillReturnRows(restaurantRows())

		got, total, err := store.FindRestaurantsByFilter(ctx, models.RestaurantFilter{},
			models.Page{Number: 1, Size: 10}, models.RestaurantSort{})
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, got)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects unknown sort field before listing", func(t *testing.T) {
		mock, store := newMockStore(t)

		mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

		_, _, err := store.FindRestaurantsByFilter(ctx, models.RestaurantFilter{},
			models.Page{Number: 1, Size: 10}, models.RestaurantSort{Field: "password_hash"})
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
}

func TestEntityStore_ReviewedRestaurantIDs(t *testing.T) {
	mock, store := newMockStore(t)
	userID := uuid.New()
	first, second := uuid.New(), uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT restaurant_id FROM reviews WHERE user_id = $1")).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows([]string{"restaurant_id"}).AddRow(first).AddRow(second))

	got, err := store.ReviewedRestaurantIDs(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{first, second}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildRestaurantFilter(t *testing.T) {
	where, args := buildRestaurantFilter(models.RestaurantFilter{})
	assert.Empty(t, where)
	assert.Empty(t, args)

	where, args = buildRestaurantFilter(models.RestaurantFilter{PriceRange: models.PriceLuxury, MinRating: 4})
	assert.Equal(t, " WHERE s.price_range = $1 AND s.average_rating >= $2", where)
	assert.Equal(t, []any{"$$$$", 4.0}, args)
}
