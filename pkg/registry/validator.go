package registry

import (
	"errors"
	"fmt"
	"math"
)

// ValidationError reports which parameter failed validation and why.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a field-scoped validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError checks whether err is a validation error.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ValidateParameters checks params against the definition: every required
// parameter present, every value matching its declared type, no unknown
// parameters. Optional parameters fill in from their defaults. Returns
// the normalized parameter map; the input is not mutated.
//
// Validation runs twice in a proposal's life: at creation and immediately
// before execution, because definitions may change in between.
func ValidateParameters(def ActionDefinition, params map[string]any) (map[string]any, error) {
	normalized := make(map[string]any, len(def.Parameters))

	for name := range params {
		if _, ok := def.Parameters[name]; !ok {
			return nil, NewValidationError(name, "unknown parameter")
		}
	}

	for name, pd := range def.Parameters {
		value, present := params[name]
		if !present {
			if pd.Required {
				return nil, NewValidationError(name, "required parameter missing")
			}
			if pd.Default != nil {
				normalized[name] = pd.Default
			}
			continue
		}
		coerced, err := coerce(name, pd.Type, value)
		if err != nil {
			return nil, err
		}
		normalized[name] = coerced
	}

	return normalized, nil
}

// coerce checks the runtime type against the declared type. Numeric values
// arriving as float64 from JSON decoding are accepted for int parameters
// when they carry no fractional part.
func coerce(name string, t ParamType, value any) (any, error) {
	switch t {
	case ParamString:
		if s, ok := value.(string); ok {
			return s, nil
		}
	case ParamBool:
		if b, ok := value.(bool); ok {
			return b, nil
		}
	case ParamInt:
		switch v := value.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			if v == math.Trunc(v) {
				return int(v), nil
			}
			return nil, NewValidationError(name, fmt.Sprintf("expected int, got fractional %v", v))
		}
	case ParamFloat:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		}
	default:
		return nil, NewValidationError(name, fmt.Sprintf("unsupported parameter type %q", t))
	}
	return nil, NewValidationError(name, fmt.Sprintf("expected %s, got %T", t, value))
}
