package weights

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
)

//go:embed data/locations.json
var defaultLocations []byte

// AreaCode is a two-digit Brazilian telephone area code (DDD).
// Reference tables disagree about its JSON type (string in some sources,
// number in others), so it unmarshals from either.
type AreaCode string

// UnmarshalJSON accepts both `"11"` and `11`.
func (a *AreaCode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*a = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = AreaCode(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*a = AreaCode(n.String())
	return nil
}

// StateUpdate is one state entry as it appears in a reference table.
// Pointer fields distinguish "absent" from "zero" so that merging a
// source never erases a previously known field.
type StateUpdate struct {
	Abbr  *string  `json:"state_abbr"`
	Share *float64 `json:"population_percentage"`
}

// CityUpdate is one city entry as it appears in a reference table.
// Pointer and nil-able fields carry presence information for the
// union-with-preference-to-new merge policy.
type CityUpdate struct {
	Name          *string   `json:"city_name"`
	StateAbbr     *string   `json:"city_uf"`
	Share         *float64  `json:"population_percentage_state"`
	AreaCode      *AreaCode `json:"ddd"`
	CEPs          []string  `json:"ceps"`
	CEPRangeBegin *string   `json:"cep_range_begins"`
	CEPRangeEnd   *string   `json:"cep_range_ends"`
	Aliases       []string  `json:"aka"`
}

// StateWeight is a state with its normalized draw probability.
type StateWeight struct {
	Name   string
	Abbr   string
	Share  float64 // raw population percentage from the source
	Weight float64 // normalized over all states; 0 for zero/missing share
}

// CityRecord is the merged view of a city across all loaded sources.
// Identity is (Name, StateAbbr); SourceKey is whatever key the first
// source that introduced the city used, and is never identity.
type CityRecord struct {
	Name          string
	StateAbbr     string
	Share         float64 // population share within the state
	AreaCode      string  // "" when unknown; never defaulted
	CEPs          []string
	CEPRangeBegin string
	CEPRangeEnd   string
	Aliases       []string
	SourceKey     string
}

// HasPostalData reports whether the record can produce a postal code,
// either from an enumerated list or a numeric range.
func (c CityRecord) HasPostalData() bool {
	return len(c.CEPs) > 0 || (c.CEPRangeBegin != "" && c.CEPRangeEnd != "")
}

// MergeReport summarizes one MergeCities call.
type MergeReport struct {
	Matched  int // updates applied to an existing (name, state) record
	Inserted int // updates inserted as new records
	Skipped  int // updates missing name or state
}

// sourceDoc is the top-level shape of a reference table.
type sourceDoc struct {
	States map[string]StateUpdate `json:"states"`
	Cities map[string]CityUpdate  `json:"cities"`
}

// Index owns the state and city weight tables used for sampling.
//
// The index is rebuilt synchronously after every load or merge and is
// read-only between rebuilds. Sampling and mutation are never
// interleaved: callers finish all LoadFile/Merge* calls before handing
// the index to a sampler.
type Index struct {
	logger *zap.Logger

	states     map[string]*StateWeight // by state name
	cities     map[string]*CityRecord  // by source key
	byIdentity map[string]string       // identityKey -> source key
	byName     map[string]string       // exact city name -> source key (last writer wins)

	// Rebuilt weight sequences. Parallel slices, deterministic order.
	stateNames         []string
	stateWeights       []float64
	cityNamesByState   map[string][]string
	cityWeightsByState map[string][]float64
	sortedCityKeys     []string
}

// New creates an empty index. Load at least one source before sampling.
func New(logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{
		logger:     logger,
		states:     make(map[string]*StateWeight),
		cities:     make(map[string]*CityRecord),
		byIdentity: make(map[string]string),
		byName:     make(map[string]string),
	}
}

// LoadDefault builds an index from the embedded reference table.
func LoadDefault(logger *zap.Logger) (*Index, error) {
	ix := New(logger)
	if err := ix.LoadSource("embedded:locations", defaultLocations); err != nil {
		return nil, err
	}
	return ix, nil
}

// LoadFile loads a reference table from disk. A file that is present
// but malformed returns a *SchemaError and leaves the index untouched.
func (ix *Index) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading reference table: %w", err)
	}
	return ix.LoadSource(path, data)
}

// LoadSource parses and applies a full reference table. Both the
// "states" and "cities" keys must be present; the source is decoded
// completely before anything is applied, so a malformed source is
// never partially applied.
func (ix *Index) LoadSource(source string, data []byte) error {
	var doc sourceDoc
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return &SchemaError{Source: source, Err: err}
	}

	var missing []string
	if doc.States == nil {
		missing = append(missing, "states")
	}
	if doc.Cities == nil {
		missing = append(missing, "cities")
	}
	if len(missing) > 0 {
		return &SchemaError{Source: source, Missing: missing}
	}

	ix.applyStates(doc.States)
	rep := ix.applyCities(doc.Cities)
	ix.rebuild()
	ix.logger.Info("reference table loaded",
		zap.String("source", source),
		zap.Int("states", len(doc.States)),
		zap.Int("cities_matched", rep.Matched),
		zap.Int("cities_inserted", rep.Inserted),
		zap.Int("cities_skipped", rep.Skipped))
	return nil
}

// MergeFile applies a supplemental table that may carry either or both
// of the "states" and "cities" maps. Used for secondary sources such as
// CEP/DDD enrichment files.
func (ix *Index) MergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading supplemental table: %w", err)
	}

	var doc sourceDoc
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return &SchemaError{Source: path, Err: err}
	}
	if doc.States == nil && doc.Cities == nil {
		return &SchemaError{Source: path, Missing: []string{"states", "cities"}}
	}

	if doc.States != nil {
		ix.MergeStates(doc.States)
	}
	if doc.Cities != nil {
		rep := ix.MergeCities(doc.Cities)
		ix.logger.Info("supplemental cities merged",
			zap.String("source", path),
			zap.Int("matched", rep.Matched),
			zap.Int("inserted", rep.Inserted),
			zap.Int("skipped", rep.Skipped))
	}
	return nil
}

// MergeCities applies city updates and rebuilds the weight sequences.
//
// Identity is resolved by (city name, state abbreviation), never by the
// raw source key. On a match, fields present in the update overwrite the
// record, while fields absent in the update keep their previous values:
// merging a source that lacks area codes must not erase area codes
// already known from another source. Unmatched updates insert under the
// update's own source key.
func (ix *Index) MergeCities(updates map[string]CityUpdate) MergeReport {
	rep := ix.applyCities(updates)
	ix.rebuild()
	return rep
}

// MergeStates applies state updates keyed by state name and rebuilds.
func (ix *Index) MergeStates(updates map[string]StateUpdate) {
	ix.applyStates(updates)
	ix.rebuild()
}

func (ix *Index) applyStates(updates map[string]StateUpdate) {
	for name, upd := range updates {
		rec, ok := ix.states[name]
		if !ok {
			rec = &StateWeight{Name: name}
			ix.states[name] = rec
		}
		if upd.Abbr != nil {
			rec.Abbr = strings.ToUpper(strings.TrimSpace(*upd.Abbr))
		}
		if upd.Share != nil {
			rec.Share = *upd.Share
		}
	}
}

func (ix *Index) applyCities(updates map[string]CityUpdate) MergeReport {
	var rep MergeReport

	// Deterministic application order: source keys sorted.
	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		upd := updates[key]

		name := ""
		if upd.Name != nil {
			name = strings.TrimSpace(*upd.Name)
		}
		uf := ""
		if upd.StateAbbr != nil {
			uf = strings.ToUpper(strings.TrimSpace(*upd.StateAbbr))
		}
		if name == "" && uf != "" {
			// Some sources key cities as "Name_UF" without repeating the
			// name inside the entry.
			name = deriveCityName(key, uf)
		}
		if name == "" || uf == "" {
			ix.logger.Warn("skipping city update with missing name or state",
				zap.String("source_key", key))
			rep.Skipped++
			continue
		}

		id := identityKey(name, uf)
		if srcKey, ok := ix.byIdentity[id]; ok {
			applyCityUpdate(ix.cities[srcKey], name, uf, upd)
			rep.Matched++
			continue
		}

		rec := &CityRecord{SourceKey: key}
		applyCityUpdate(rec, name, uf, upd)
		ix.cities[key] = rec
		ix.byIdentity[id] = key
		rep.Inserted++
	}
	return rep
}

// applyCityUpdate overwrites rec's fields with those present in upd.
// Absent fields keep their previous values.
func applyCityUpdate(rec *CityRecord, name, uf string, upd CityUpdate) {
	rec.Name = name
	rec.StateAbbr = uf
	if upd.Share != nil {
		rec.Share = *upd.Share
	}
	if upd.AreaCode != nil {
		rec.AreaCode = string(*upd.AreaCode)
	}
	if upd.CEPs != nil {
		rec.CEPs = upd.CEPs
	}
	if upd.CEPRangeBegin != nil {
		rec.CEPRangeBegin = strings.TrimSpace(*upd.CEPRangeBegin)
	}
	if upd.CEPRangeEnd != nil {
		rec.CEPRangeEnd = strings.TrimSpace(*upd.CEPRangeEnd)
	}
	if upd.Aliases != nil {
		rec.Aliases = upd.Aliases
	}
}

// deriveCityName extracts the city name from a "Name_UF" source key
// when the suffix matches the entry's state. Returns "" when the key
// does not follow that convention.
func deriveCityName(key, uf string) string {
	i := strings.LastIndex(key, "_")
	if i <= 0 {
		return key
	}
	if strings.EqualFold(key[i+1:], uf) {
		return key[:i]
	}
	return key
}

// rebuild recomputes every normalized weight sequence from the current
// tables. Called after every mutation so the normalization invariants
// hold at all times; never patched incrementally.
func (ix *Index) rebuild() {
	// States.
	ix.stateNames = make([]string, 0, len(ix.states))
	for name := range ix.states {
		ix.stateNames = append(ix.stateNames, name)
	}
	sort.Strings(ix.stateNames)

	total := 0.0
	for _, name := range ix.stateNames {
		total += ix.states[name].Share
	}
	ix.stateWeights = make([]float64, len(ix.stateNames))
	for i, name := range ix.stateNames {
		w := 0.0
		if total > 0 {
			w = ix.states[name].Share / total
		}
		ix.stateWeights[i] = w
		ix.states[name].Weight = w
	}

	// Cities, grouped per state.
	ix.sortedCityKeys = make([]string, 0, len(ix.cities))
	for key := range ix.cities {
		ix.sortedCityKeys = append(ix.sortedCityKeys, key)
	}
	sort.Strings(ix.sortedCityKeys)

	ix.cityNamesByState = make(map[string][]string)
	ix.cityWeightsByState = make(map[string][]float64)
	ix.byName = make(map[string]string, len(ix.cities))
	totals := make(map[string]float64)

	for _, key := range ix.sortedCityKeys {
		rec := ix.cities[key]
		ix.cityNamesByState[rec.StateAbbr] = append(ix.cityNamesByState[rec.StateAbbr], rec.Name)
		ix.cityWeightsByState[rec.StateAbbr] = append(ix.cityWeightsByState[rec.StateAbbr], rec.Share)
		totals[rec.StateAbbr] += rec.Share
		ix.byName[rec.Name] = key
	}

	for uf, ws := range ix.cityWeightsByState {
		t := totals[uf]
		if t <= 0 {
			continue // all-zero state: cities stay queryable, never drawn
		}
		for i := range ws {
			ws[i] /= t
		}
	}
}

// Lookup finds a city record by name and state abbreviation using the
// graduated fallback ladder:
//
//  1. exact "Name_UF" compound source key
//  2. full scan matching both name and state exactly
//  3. name-table hit validated against the state
//  4. case-insensitive (NFC-folded) name match validated against the state
//
// The ladder exists because city keys are not uniformly formatted across
// input sources. Returns the first hit, or (zero, false) on a miss.
func (ix *Index) Lookup(cityName, stateAbbr string) (CityRecord, bool) {
	uf := strings.ToUpper(strings.TrimSpace(stateAbbr))

	if uf == "" {
		// Name-only lookup is inherently less reliable; used only when
		// no state is available.
		if key, ok := ix.byName[cityName]; ok {
			return *ix.cities[key], true
		}
		return CityRecord{}, false
	}

	if rec, ok := ix.cities[cityName+"_"+uf]; ok {
		return *rec, true
	}

	for _, key := range ix.sortedCityKeys {
		rec := ix.cities[key]
		if rec.Name == cityName && rec.StateAbbr == uf {
			return *rec, true
		}
	}

	if key, ok := ix.byName[cityName]; ok {
		if rec := ix.cities[key]; rec.StateAbbr == uf {
			return *rec, true
		}
	}

	folded := foldName(cityName)
	for _, key := range ix.sortedCityKeys {
		rec := ix.cities[key]
		if rec.StateAbbr == uf && foldName(rec.Name) == folded {
			return *rec, true
		}
	}

	ix.logger.Debug("city lookup miss",
		zap.String("city", cityName), zap.String("state", uf))
	return CityRecord{}, false
}

// StateSeq returns the state names and their normalized weights as
// parallel slices. Read-only; callers must not mutate.
func (ix *Index) StateSeq() ([]string, []float64) {
	return ix.stateNames, ix.stateWeights
}

// CitySeq returns the city names and normalized weights for one state
// as parallel slices. Read-only; callers must not mutate.
func (ix *Index) CitySeq(stateAbbr string) ([]string, []float64) {
	return ix.cityNamesByState[stateAbbr], ix.cityWeightsByState[stateAbbr]
}

// State returns the state record for a full state name.
func (ix *Index) State(name string) (StateWeight, bool) {
	rec, ok := ix.states[name]
	if !ok {
		return StateWeight{}, false
	}
	return *rec, true
}

// StateWeights returns all state records in name order.
func (ix *Index) StateWeights() []StateWeight {
	out := make([]StateWeight, 0, len(ix.stateNames))
	for _, name := range ix.stateNames {
		out = append(out, *ix.states[name])
	}
	return out
}

// CityRecords returns all city records in source-key order.
func (ix *Index) CityRecords() []CityRecord {
	out := make([]CityRecord, 0, len(ix.sortedCityKeys))
	for _, key := range ix.sortedCityKeys {
		out = append(out, *ix.cities[key])
	}
	return out
}

// StateCount returns the number of known states.
func (ix *Index) StateCount() int { return len(ix.states) }

// CityCount returns the number of known cities.
func (ix *Index) CityCount() int { return len(ix.cities) }
