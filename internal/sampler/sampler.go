// Package sampler draws population-weighted locations and postal codes
// from a weights.Index.
package sampler

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/brsampler/brsampler/internal/weights"
)

// Sampler draws weighted (state, city) pairs and postal codes.
//
// Not safe for concurrent use: the rand source is unsynchronized. The
// pipeline drafts records from a single goroutine, so this matches the
// shared-resource policy of the index (no sampling while mutating, no
// concurrent draws).
type Sampler struct {
	ix     *weights.Index
	rng    *rand.Rand
	logger *zap.Logger
}

// New creates a sampler over the given index. rng may be seeded for
// reproducible runs.
func New(ix *weights.Index, rng *rand.Rand, logger *zap.Logger) *Sampler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sampler{ix: ix, rng: rng, logger: logger}
}

// DrawState draws a state weighted by population percentage.
// States with zero weight are excluded by construction, not by retry.
func (s *Sampler) DrawState() (name, abbr string, err error) {
	names, ws := s.ix.StateSeq()
	i, ok := weightedPick(s.rng, ws)
	if !ok {
		return "", "", ErrNoStates
	}
	st, _ := s.ix.State(names[i])
	return st.Name, st.Abbr, nil
}

// DrawCity draws a city weighted by its population share within a
// state. With an empty stateAbbr a state is drawn first.
func (s *Sampler) DrawCity(stateAbbr string) (city, abbr string, err error) {
	if stateAbbr == "" {
		_, stateAbbr, err = s.DrawState()
		if err != nil {
			return "", "", err
		}
	}
	names, ws := s.ix.CitySeq(stateAbbr)
	i, ok := weightedPick(s.rng, ws)
	if !ok {
		return "", "", &NoCitiesForStateError{StateAbbr: stateAbbr}
	}
	return names[i], stateAbbr, nil
}

// DrawLocation draws a full (state name, state abbr, city) triple.
// This is the single draw that record generation must reuse: the postal
// code and area code for a record are derived from this triple, never
// re-sampled.
func (s *Sampler) DrawLocation() (stateName, stateAbbr, city string, err error) {
	stateName, stateAbbr, err = s.DrawState()
	if err != nil {
		return "", "", "", err
	}
	city, _, err = s.DrawCity(stateAbbr)
	if err != nil {
		return "", "", "", err
	}
	return stateName, stateAbbr, city, nil
}

// DrawPostalCode draws one CEP for a city, preferring the enumerated
// list (uniform choice) and falling back to a uniform integer inside
// the declared range. A city with neither yields *NoPostalCodeError;
// callers must not substitute a default.
func (s *Sampler) DrawPostalCode(city, stateAbbr string) (string, error) {
	rec, ok := s.ix.Lookup(city, stateAbbr)
	if !ok {
		s.logger.Error("city not found", zap.String("city", city), zap.String("state", stateAbbr))
		return "", &CityNotFoundError{City: city, StateAbbr: stateAbbr}
	}

	if len(rec.CEPs) > 0 {
		return rec.CEPs[s.rng.Intn(len(rec.CEPs))], nil
	}

	if rec.CEPRangeBegin != "" && rec.CEPRangeEnd != "" {
		return s.drawFromRange(rec)
	}

	return "", &NoPostalCodeError{City: city}
}

func (s *Sampler) drawFromRange(rec weights.CityRecord) (string, error) {
	begin, err := strconv.Atoi(stripCEP(rec.CEPRangeBegin))
	if err != nil {
		return "", fmt.Errorf("city %q: bad cep_range_begins %q: %w", rec.Name, rec.CEPRangeBegin, err)
	}
	end, err := strconv.Atoi(stripCEP(rec.CEPRangeEnd))
	if err != nil {
		return "", fmt.Errorf("city %q: bad cep_range_ends %q: %w", rec.Name, rec.CEPRangeEnd, err)
	}
	if end < begin {
		begin, end = end, begin
	}
	n := begin + s.rng.Intn(end-begin+1)
	// Zero-padded: a low range must still produce an 8-digit CEP.
	return fmt.Sprintf("%08d", n), nil
}

// FormatCEP normalizes a CEP to 12345-678 form, or bare digits when
// withDash is false.
func FormatCEP(cep string, withDash bool) string {
	digits := stripCEP(cep)
	if !withDash || len(digits) != 8 {
		return digits
	}
	return digits[:5] + "-" + digits[5:]
}

func stripCEP(cep string) string {
	return strings.ReplaceAll(strings.TrimSpace(cep), "-", "")
}

// weightedPick selects an index proportionally to ws. Entries with zero
// weight occupy a zero-width interval and can never be selected.
// Returns false when no entry has positive weight.
func weightedPick(rng *rand.Rand, ws []float64) (int, bool) {
	total := 0.0
	for _, w := range ws {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return 0, false
	}

	r := rng.Float64() * total
	cum := 0.0
	last := -1
	for i, w := range ws {
		if w <= 0 {
			continue
		}
		cum += w
		last = i
		if r < cum {
			return i, true
		}
	}
	// Floating-point edge: r landed exactly on the final boundary.
	return last, true
}
