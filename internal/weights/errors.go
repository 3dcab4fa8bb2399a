package weights

import (
	"errors"
	"fmt"
	"strings"
)

// SchemaError indicates a reference table is structurally unusable:
// the top-level "states" or "cities" keys are missing or the document
// is not valid JSON. A source that fails with SchemaError is never
// partially applied.
type SchemaError struct {
	// Source identifies the offending table (file path or source label).
	Source string

	// Missing lists the absent top-level keys, when that is the cause.
	Missing []string

	// Err is the underlying parse error, when that is the cause.
	Err error
}

func (e *SchemaError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("source %s: missing required keys: %s", e.Source, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// MissingAreaCodeError indicates a city was drawn for a record that
// requires a phone number but no area code (DDD) is known for it.
// This is a hard failure: defaulting the area code would silently
// produce phone numbers inconsistent with the drawn city.
type MissingAreaCodeError struct {
	City      string
	StateAbbr string
}

func (e *MissingAreaCodeError) Error() string {
	return fmt.Sprintf("no area code known for city %q (%s)", e.City, e.StateAbbr)
}

// IsSchemaError reports whether err is (or wraps) a SchemaError.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

// IsMissingAreaCode reports whether err is (or wraps) a MissingAreaCodeError.
func IsMissingAreaCode(err error) bool {
	var me *MissingAreaCodeError
	return errors.As(err, &me)
}
