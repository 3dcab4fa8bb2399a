// Package phone generates Brazilian phone numbers bound to a DDD
// (two-digit area code). A number is never generated without a valid
// DDD: the area code is intrinsically tied to the city that produced
// the record, and defaulting it would break that binding.
package phone

import (
	"errors"
	"fmt"
	"math/rand"
)

// validDDDs holds every assigned Brazilian area code.
var validDDDs = map[string]struct{}{}

func init() {
	for _, ddd := range []string{
		"11", "12", "13", "14", "15", "16", "17", "18", "19", // SP
		"21", "22", "24", "27", "28", // RJ, ES
		"31", "32", "33", "34", "35", "37", "38", // MG
		"41", "42", "43", "44", "45", "46", "47", "48", "49", // PR, SC
		"51", "53", "54", "55", // RS
		"61", "62", "63", "64", "65", "66", "67", "68", "69", // Centro-Oeste
		"71", "73", "74", "75", "77", "79", // BA, SE
		"81", "82", "83", "84", "85", "86", "87", "88", "89", // Nordeste
		"91", "92", "93", "94", "95", "96", "97", "98", "99", // Norte
	} {
		validDDDs[ddd] = struct{}{}
	}
}

// InvalidDDDError indicates a missing or unassigned area code.
type InvalidDDDError struct {
	DDD string
}

func (e *InvalidDDDError) Error() string {
	if e.DDD == "" {
		return "area code (DDD) must be provided for phone generation"
	}
	return fmt.Sprintf("invalid area code (DDD): %q", e.DDD)
}

// IsInvalidDDD reports whether err is (or wraps) an InvalidDDDError.
func IsInvalidDDD(err error) bool {
	var ie *InvalidDDDError
	return errors.As(err, &ie)
}

// Valid reports whether ddd is an assigned Brazilian area code.
func Valid(ddd string) bool {
	_, ok := validDDDs[ddd]
	return ok
}

// Generate produces a random phone number with the given DDD, choosing
// between landline and cellphone form:
//
//	landline:  (XX) XXXX-XXXX   first digit never 0
//	cellphone: (XX) 9XXXX-XXXX
func Generate(rng *rand.Rand, ddd string) (string, error) {
	if ddd == "" || !Valid(ddd) {
		return "", &InvalidDDDError{DDD: ddd}
	}

	if rng.Intn(2) == 0 {
		// Cellphone: five-digit first part starting with 9.
		first := 90000 + rng.Intn(10000)
		second := rng.Intn(10000)
		return fmt.Sprintf("(%s) %05d-%04d", ddd, first, second), nil
	}

	// Landline: four-digit first part, leading digit 1-9.
	first := 1000 + rng.Intn(9000)
	second := rng.Intn(10000)
	return fmt.Sprintf("(%s) %04d-%04d", ddd, first, second), nil
}
