package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/temcen/dinewise/pkg/models"
)

// Schema names for JSON documents stored in TEXT columns.
const (
	SchemaPreferences  = "preferences"
	SchemaOpeningHours = "opening-hours"
)

const preferencesSchema = `{
	"type": "object",
	"properties": {
		"favorite_cuisines":      {"$ref": "#/definitions/labels"},
		"preferred_price_ranges": {"$ref": "#/definitions/labels"},
		"preferred_cities":       {"$ref": "#/definitions/labels"},
		"disliked_cuisines":      {"$ref": "#/definitions/labels"},
		"dietary_restrictions":   {"$ref": "#/definitions/labels"}
	},
	"definitions": {
		"labels": {
			"type": ["array", "null"],
			"items": {"type": "string"}
		}
	}
}`

const openingHoursSchema = `{
	"type": "object",
	"additionalProperties": {
		"oneOf": [
			{"type": "null"},
			{
				"type": "object",
				"properties": {
					"open":  {"type": "string"},
					"close": {"type": "string"}
				},
				"required": ["open", "close"]
			}
		]
	}
}`

// SchemaValidator checks stored JSON documents before they are decoded.
type SchemaValidator struct {
	schemas map[string]*gojsonschema.Schema
}

// NewSchemaValidator compiles the built-in schemas.
func NewSchemaValidator() (*SchemaValidator, error) {
	sv := &SchemaValidator{
		schemas: make(map[string]*gojsonschema.Schema),
	}

	for name, source := range map[string]string{
		SchemaPreferences:  preferencesSchema,
		SchemaOpeningHours: openingHoursSchema,
	} {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
		if err != nil {
			return nil, fmt.Errorf("failed to load schema %s: %w", name, err)
		}
		sv.schemas[name] = schema
	}

	return sv, nil
}

// MustNewSchemaValidator is NewSchemaValidator for package-level wiring; the schemas are constants.
func MustNewSchemaValidator() *SchemaValidator {
	sv, err := NewSchemaValidator()
	if err != nil {
		panic(err)
	}
	return sv
}

// ValidationResult represents the result of a validation operation
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidationError represents a single validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation error in field '%s': %s", ve.Field, ve.Message)
}

// Err folds the result into a single error, nil when valid.
func (vr *ValidationResult) Err() error {
	if vr.Valid {
		return nil
	}
	msgs := make([]string, 0, len(vr.Errors))
	for _, e := range vr.Errors {
		msgs = append(msgs, e.Error())
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

// ValidateJSONString validates a JSON string against a named schema.
func (sv *SchemaValidator) ValidateJSONString(schemaName, document string) *ValidationResult {
	schema, exists := sv.schemas[schemaName]
	if !exists {
		return &ValidationResult{
			Errors: []ValidationError{{
				Field:   "schema",
				Message: fmt.Sprintf("Schema '%s' not found", schemaName),
				Code:    "SCHEMA_NOT_FOUND",
			}},
		}
	}

	result, err := schema.Validate(gojsonschema.NewStringLoader(document))
	if err != nil {
		// Not parseable as JSON at all
		return &ValidationResult{
			Errors: []ValidationError{{
				Field:   "document",
				Message: err.Error(),
				Code:    "MALFORMED_JSON",
			}},
		}
	}

	vr := &ValidationResult{Valid: result.Valid()}
	for _, e := range result.Errors() {
		vr.Errors = append(vr.Errors, ValidationError{
			Field:   e.Field(),
			Message: e.Description(),
			Code:    "VALIDATION_ERROR",
		})
	}
	return vr
}

// DecodePreferences turns a stored preferences column into a value. Missing,
// malformed or wrongly shaped JSON yields empty preferences together with the
// reason, which callers log and otherwise ignore.
func (sv *SchemaValidator) DecodePreferences(raw *string) (models.Preferences, error) {
	var prefs models.Preferences
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return prefs, nil
	}

	if err := sv.ValidateJSONString(SchemaPreferences, *raw).Err(); err != nil {
		return models.Preferences{}, err
	}
	if err := json.Unmarshal([]byte(*raw), &prefs); err != nil {
		return models.Preferences{}, err
	}
	return prefs, nil
}

// DecodeOpeningHours turns a stored opening_hours column into a map, falling
// back to an empty map the same way DecodePreferences does.
func (sv *SchemaValidator) DecodeOpeningHours(raw *string) (models.OpeningHours, error) {
	hours := models.OpeningHours{}
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return hours, nil
	}

	if err := sv.ValidateJSONString(SchemaOpeningHours, *raw).Err(); err != nil {
		return models.OpeningHours{}, err
	}
	if err := json.Unmarshal([]byte(*raw), &hours); err != nil {
		return models.OpeningHours{}, err
	}
	// null days are closed; drop them so absence is the only closed marker
	for day, h := range hours {
		if h == nil {
			delete(hours, day)
		}
	}
	return hours, nil
}

// EncodePreferences serializes preferences for the TEXT column.
func EncodePreferences(prefs models.Preferences) (string, error) {
	data, err := json.Marshal(prefs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
