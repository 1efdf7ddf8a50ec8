package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/dinewise/pkg/models"
)

func strPtr(s string) *string { return &s }

func TestDecodePreferences(t *testing.T) {
	sv, err := NewSchemaValidator()
	require.NoError(t, err)

	tests := []struct {
		name    string
		raw     *string
		want    models.Preferences
		wantErr bool
	}{
		{
			name: "missing column",
			raw:  nil,
		},
		{
			name: "blank column",
			raw:  strPtr("   "),
		},
		{
			name: "valid document",
			raw:  strPtr(`{"favorite_cuisines":["Italian"],"preferred_price_ranges":["$$"],"preferred_cities":["Lisbon"]}`),
			want: models.Preferences{
				FavoriteCuisines:     []string{"Italian"},
				PreferredPriceRanges: []string{"$$"},
				PreferredCities:      []string{"Lisbon"},
			},
		},
		{
			name:    "malformed json",
			raw:     strPtr(`{"favorite_cuisines":[`),
			wantErr: true,
		},
		{
			name:    "wrong shape",
			raw:     strPtr(`{"favorite_cuisines":"Italian"}`),
			wantErr: true,
		},
		{
			name:    "not an object",
			raw:     strPtr(`["Italian"]`),
			wantErr: true,
		},
		{
			name: "unknown fields are ignored",
			raw:  strPtr(`{"favorite_cuisines":["Thai"],"notifications":true}`),
			want: models.Preferences{FavoriteCuisines: []string{"Thai"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sv.DecodePreferences(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, got.IsEmpty())
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeOpeningHours(t *testing.T) {
	sv := MustNewSchemaValidator()

	hours, err := sv.DecodeOpeningHours(strPtr(`{"monday":{"open":"09:00","close":"22:00"},"sunday":null}`))
	require.NoError(t, err)
	require.Len(t, hours, 1)
	assert.Equal(t, "09:00", hours["monday"].Open)
	_, closed := hours["sunday"]
	assert.False(t, closed)

	hours, err = sv.DecodeOpeningHours(strPtr(`{"monday":{"open":"09:00"}}`))
	assert.Error(t, err)
	assert.Empty(t, hours)

	hours, err = sv.DecodeOpeningHours(nil)
	assert.NoError(t, err)
	assert.NotNil(t, hours)
	assert.Empty(t, hours)
}

func TestValidateJSONString_UnknownSchema(t *testing.T) {
	sv := MustNewSchemaValidator()

	result := sv.ValidateJSONString("menu", `{}`)
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "SCHEMA_NOT_FOUND", result.Errors[0].Code)
}

func TestEncodePreferences_RoundTripsThroughDecoder(t *testing.T) {
	sv := MustNewSchemaValidator()
	prefs := models.Preferences{FavoriteCuisines: []string{"Sushi"}, DietaryRestrictions: []string{"vegan"}}

	raw, err := EncodePreferences(prefs)
	require.NoError(t, err)

	got, err := sv.DecodePreferences(&raw)
	require.NoError(t, err)
	assert.Equal(t, prefs.FavoriteCuisines, got.FavoriteCuisines)
	assert.Equal(t, prefs.DietaryRestrictions, got.DietaryRestrictions)
}
