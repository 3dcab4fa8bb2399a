package sampler

import (
	"errors"
	"fmt"
)

// ErrNoStates indicates the index has no state with nonzero weight,
// so no state can be drawn.
var ErrNoStates = errors.New("no states with nonzero weight")

// CityNotFoundError indicates a postal code was requested for a city
// the index does not know.
type CityNotFoundError struct {
	City      string
	StateAbbr string
}

func (e *CityNotFoundError) Error() string {
	return fmt.Sprintf("city not found: %q (%s)", e.City, e.StateAbbr)
}

// NoCitiesForStateError indicates a city draw was requested for a state
// that has no weighted cities.
type NoCitiesForStateError struct {
	StateAbbr string
}

func (e *NoCitiesForStateError) Error() string {
	return fmt.Sprintf("no cities found for state %s", e.StateAbbr)
}

// NoPostalCodeError indicates a known city has neither an enumerated
// CEP list nor a CEP range. Callers must treat this as "cannot produce
// a postal code"; substituting a default is forbidden.
type NoPostalCodeError struct {
	City string
}

func (e *NoPostalCodeError) Error() string {
	return fmt.Sprintf("city %q has no postal codes or postal-code range", e.City)
}

// IsCityNotFound reports whether err is (or wraps) a CityNotFoundError.
func IsCityNotFound(err error) bool {
	var ce *CityNotFoundError
	return errors.As(err, &ce)
}

// IsNoPostalCode reports whether err is (or wraps) a NoPostalCodeError.
func IsNoPostalCode(err error) bool {
	var ne *NoPostalCodeError
	return errors.As(err, &ne)
}
