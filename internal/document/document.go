// Package document generates valid Brazilian identification numbers:
// CPF, CNPJ, PIS, CEI and RG, with their respective check digits.
//
// Generated numbers are statistically realistic but carry no uniqueness
// guarantee; collisions across large batches are possible and accepted.
package document

import (
	"fmt"
	"math/rand"
	"strings"
)

// digitsOf strips punctuation, keeping only ASCII digits.
func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func randomDigits(rng *rand.Rand, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = rng.Intn(10)
	}
	return out
}

func allSame(ds []int) bool {
	for _, d := range ds[1:] {
		if d != ds[0] {
			return false
		}
	}
	return true
}

// mod11Digit computes a standard mod-11 check digit: remainders 0 and 1
// map to 0, everything else to 11-remainder.
func mod11Digit(ds []int, weights []int) int {
	sum := 0
	for i, d := range ds {
		sum += d * weights[i]
	}
	rem := sum % 11
	if rem < 2 {
		return 0
	}
	return 11 - rem
}

// CPF generates a valid CPF in XXX.XXX.XXX-XX form.
func CPF(rng *rand.Rand) string {
	ds := randomDigits(rng, 9)
	for allSame(ds) {
		// Repeated-digit CPFs pass the check-digit math but are
		// rejected by real validators.
		ds = randomDigits(rng, 9)
	}
	ds = append(ds, mod11Digit(ds, []int{10, 9, 8, 7, 6, 5, 4, 3, 2}))
	ds = append(ds, mod11Digit(ds, []int{11, 10, 9, 8, 7, 6, 5, 4, 3, 2}))
	return fmt.Sprintf("%d%d%d.%d%d%d.%d%d%d-%d%d",
		ds[0], ds[1], ds[2], ds[3], ds[4], ds[5], ds[6], ds[7], ds[8], ds[9], ds[10])
}

// ValidateCPF reports whether s is a structurally valid CPF, with or
// without punctuation.
func ValidateCPF(s string) bool {
	digits := digitsOf(s)
	if len(digits) != 11 {
		return false
	}
	ds := toInts(digits)
	if allSame(ds[:9]) {
		return false
	}
	if ds[9] != mod11Digit(ds[:9], []int{10, 9, 8, 7, 6, 5, 4, 3, 2}) {
		return false
	}
	return ds[10] == mod11Digit(ds[:10], []int{11, 10, 9, 8, 7, 6, 5, 4, 3, 2})
}

// CNPJ generates a valid CNPJ in XX.XXX.XXX/0001-XX form. The branch
// suffix is fixed at 0001 (head office), matching how real registries
// allocate the vast majority of numbers.
func CNPJ(rng *rand.Rand) string {
	ds := randomDigits(rng, 8)
	ds = append(ds, 0, 0, 0, 1)
	ds = append(ds, mod11Digit(ds, cnpjWeights1))
	ds = append(ds, mod11Digit(ds, cnpjWeights2))
	return fmt.Sprintf("%d%d.%d%d%d.%d%d%d/%d%d%d%d-%d%d",
		ds[0], ds[1], ds[2], ds[3], ds[4], ds[5], ds[6], ds[7],
		ds[8], ds[9], ds[10], ds[11], ds[12], ds[13])
}

var (
	cnpjWeights1 = []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	cnpjWeights2 = []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
)

// ValidateCNPJ reports whether s is a structurally valid CNPJ.
func ValidateCNPJ(s string) bool {
	digits := digitsOf(s)
	if len(digits) != 14 {
		return false
	}
	ds := toInts(digits)
	if ds[12] != mod11Digit(ds[:12], cnpjWeights1) {
		return false
	}
	return ds[13] == mod11Digit(ds[:13], cnpjWeights2)
}

var pisWeights = []int{3, 2, 9, 8, 7, 6, 5, 4, 3, 2}

func pisDigit(ds []int) int {
	sum := 0
	for i, d := range ds {
		sum += d * pisWeights[i]
	}
	dv := 11 - sum%11
	if dv >= 10 {
		return 0
	}
	return dv
}

// PIS generates a valid PIS in XXX.XXXXX.XX-X form.
func PIS(rng *rand.Rand) string {
	ds := randomDigits(rng, 10)
	ds = append(ds, pisDigit(ds))
	return fmt.Sprintf("%d%d%d.%d%d%d%d%d.%d%d-%d",
		ds[0], ds[1], ds[2], ds[3], ds[4], ds[5], ds[6], ds[7], ds[8], ds[9], ds[10])
}

// ValidatePIS reports whether s is a structurally valid PIS.
func ValidatePIS(s string) bool {
	digits := digitsOf(s)
	if len(digits) != 11 {
		return false
	}
	ds := toInts(digits)
	return ds[10] == pisDigit(ds[:10])
}

var ceiWeights = []int{7, 4, 1, 8, 5, 2, 1, 6, 3, 9, 7}

func ceiDigit(ds []int) int {
	sum := 0
	for i, d := range ds {
		sum += d * ceiWeights[i]
	}
	return (10 - sum%10) % 10
}

// CEI generates a valid CEI in XX.XXX.XXXXX/XX form.
func CEI(rng *rand.Rand) string {
	ds := randomDigits(rng, 11)
	ds = append(ds, ceiDigit(ds))
	return fmt.Sprintf("%d%d.%d%d%d.%d%d%d%d%d/%d%d",
		ds[0], ds[1], ds[2], ds[3], ds[4], ds[5], ds[6], ds[7], ds[8], ds[9], ds[10], ds[11])
}

// ValidateCEI reports whether s is a structurally valid CEI.
func ValidateCEI(s string) bool {
	digits := digitsOf(s)
	if len(digits) != 12 {
		return false
	}
	ds := toInts(digits)
	return ds[11] == ceiDigit(ds[:11])
}

// RG generates an RG in XX.XXX.XXX-D form (D may be X) for the given
// state, optionally suffixed with the issuing authority ("SSP/SP").
func RG(rng *rand.Rand, stateAbbr string, includeIssuer bool) string {
	ds := randomDigits(rng, 8)

	sum := 0
	for i, d := range ds {
		sum += d * (i + 2) // weights 2..9
	}
	var check string
	switch dv := 11 - sum%11; dv {
	case 10:
		check = "X"
	case 11:
		check = "0"
	default:
		check = fmt.Sprintf("%d", dv)
	}

	rg := fmt.Sprintf("%d%d.%d%d%d.%d%d%d-%s",
		ds[0], ds[1], ds[2], ds[3], ds[4], ds[5], ds[6], ds[7], check)
	if includeIssuer && stateAbbr != "" {
		return fmt.Sprintf("%s %s/%s", rg, "SSP", strings.ToUpper(stateAbbr))
	}
	return rg
}

func toInts(digits string) []int {
	ds := make([]int, len(digits))
	for i, r := range digits {
		ds[i] = int(r - '0')
	}
	return ds
}
