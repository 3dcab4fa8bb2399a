// Package person draws Brazilian given names, middle names and surnames
// weighted by historical frequency data, bucketed by birth decade.
package person

import (
	_ "embed"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed data/names.json
var defaultNames []byte

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TimePeriod selects the birth-decade bucket first names are drawn from.
// Values follow the dataset's own keys ("ate" = "up to").
type TimePeriod string

const (
	Until1930 TimePeriod = "ate1930"
	Until1940 TimePeriod = "ate1940"
	Until1950 TimePeriod = "ate1950"
	Until1960 TimePeriod = "ate1960"
	Until1970 TimePeriod = "ate1970"
	Until1980 TimePeriod = "ate1980"
	Until1990 TimePeriod = "ate1990"
	Until2000 TimePeriod = "ate2000"
	Until2010 TimePeriod = "ate2010"
)

// Periods lists every time period in chronological order.
func Periods() []TimePeriod {
	return []TimePeriod{
		Until1930, Until1940, Until1950, Until1960, Until1970,
		Until1980, Until1990, Until2000, Until2010,
	}
}

// Valid reports whether p names a known time period.
func (p TimePeriod) Valid() bool {
	for _, q := range Periods() {
		if p == q {
			return true
		}
	}
	return false
}

// SchemaError indicates the names dataset is missing required sections.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("names data missing required sections: %s", strings.Join(e.Missing, ", "))
}

// UnknownPeriodError indicates a draw was requested for a time period
// the dataset does not carry.
type UnknownPeriodError struct {
	Period TimePeriod
}

func (e *UnknownPeriodError) Error() string {
	return fmt.Sprintf("unknown time period: %q", string(e.Period))
}

// IsUnknownPeriod reports whether err is (or wraps) an UnknownPeriodError.
func IsUnknownPeriod(err error) bool {
	var ue *UnknownPeriodError
	return errors.As(err, &ue)
}

// Name holds the components of a generated full name.
type Name struct {
	First   string
	Middle  string
	Surname string
}

// Full joins the non-empty components with single spaces.
func (n Name) Full() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{n.First, n.Middle, n.Surname} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// Options control a single name draw.
type Options struct {
	Period        TimePeriod // defaults to Until2010
	AlwaysMiddle  bool       // force a middle name instead of the statistical chance
	OnlyFirst     bool       // skip surnames entirely
	SingleSurname bool       // one surname instead of the usual two
	Top40         bool       // restrict surnames to the top-40 table
	Raw           bool       // uppercase output, accents preserved
}

// prefixChoice is one weighted particle option for a surname
// ("dos Santos", "da Silva").
type prefixChoice struct {
	particle string
	chance   float64
}

// surnamePrefixes maps uppercased surnames to their particle options.
// Probabilities are independent per option; a miss on all of them
// leaves the surname bare.
var surnamePrefixes = map[string][]prefixChoice{
	"SANTOS":     {{"dos", 0.85}, {"de", 0.05}},
	"SILVA":      {{"da", 0.85}, {"e", 0.05}},
	"NASCIMENTO": {{"do", 0.90}},
	"COSTA":      {{"da", 0.90}},
	"SOUZA":      {{"de", 0.80}},
	"SOUSA":      {{"de", 0.80}},
	"OLIVEIRA":   {{"de", 0.80}},
	"JESUS":      {{"de", 0.80}},
	"PEREIRA":    {{"da", 0.60}},
	"FERREIRA":   {{"da", 0.60}},
	"LIMA":       {{"de", 0.60}},
	"CARVALHO":   {{"de", 0.60}},
	"RIBEIRO":    {{"do", 0.60}},
}

// table is a weighted list of names, keys sorted for deterministic
// draws under a seeded rng.
type table struct {
	names   []string
	weights []float64
}

func (t table) pick(rng *rand.Rand) (string, bool) {
	i, ok := weightedPick(rng, t.weights)
	if !ok {
		return "", false
	}
	return t.names[i], true
}

type weightedEntry struct {
	Percentage float64 `json:"percentage"`
}

type namesFile struct {
	CommonNames map[string]struct {
		Names map[string]weightedEntry `json:"names"`
	} `json:"common_names_percentage"`
	PercentageWithSecond float64                        `json:"percentage_with_second"`
	SecondNames          map[string]weightedEntry       `json:"second_names"`
	Surnames             map[string]jsoniter.RawMessage `json:"surnames"`
}

// Sampler draws names. Like the location sampler it is single-goroutine
// by contract; the rng is not synchronized.
type Sampler struct {
	rng    *rand.Rand
	logger *zap.Logger
	upper  cases.Caser

	firstByPeriod map[TimePeriod]table
	middles       table
	pctWithSecond float64
	surnames      table
	top40         table
}

// New builds a sampler from the embedded dataset.
func New(rng *rand.Rand, logger *zap.Logger) (*Sampler, error) {
	return NewFromSource(defaultNames, rng, logger)
}

// NewFromSource builds a sampler from raw JSON names data.
func NewFromSource(src []byte, rng *rand.Rand, logger *zap.Logger) (*Sampler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var nf namesFile
	if err := json.Unmarshal(src, &nf); err != nil {
		return nil, fmt.Errorf("decoding names data: %w", err)
	}

	var missing []string
	if len(nf.CommonNames) == 0 {
		missing = append(missing, "common_names_percentage")
	}
	if len(nf.Surnames) == 0 {
		missing = append(missing, "surnames")
	}
	if len(nf.SecondNames) == 0 {
		missing = append(missing, "second_names")
	}
	if len(missing) > 0 {
		return nil, &SchemaError{Missing: missing}
	}
	for _, p := range Periods() {
		if _, ok := nf.CommonNames[string(p)]; !ok {
			return nil, &SchemaError{Missing: []string{"common_names_percentage." + string(p)}}
		}
	}

	s := &Sampler{
		rng:           rng,
		logger:        logger,
		upper:         cases.Upper(language.BrazilianPortuguese),
		firstByPeriod: make(map[TimePeriod]table, len(nf.CommonNames)),
		pctWithSecond: nf.PercentageWithSecond,
	}
	for period, bucket := range nf.CommonNames {
		s.firstByPeriod[TimePeriod(period)] = buildTable(bucket.Names)
	}
	s.middles = buildTable(nf.SecondNames)

	surnames := make(map[string]weightedEntry, len(nf.Surnames))
	top40 := map[string]weightedEntry{}
	for name, raw := range nf.Surnames {
		if name == "top_40" {
			if err := json.Unmarshal(raw, &top40); err != nil {
				return nil, fmt.Errorf("decoding top_40 surnames: %w", err)
			}
			continue
		}
		var e weightedEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decoding surname %q: %w", name, err)
		}
		surnames[name] = e
	}
	s.surnames = buildTable(surnames)
	s.top40 = buildTable(top40)

	logger.Debug("names data loaded",
		zap.Int("periods", len(s.firstByPeriod)),
		zap.Int("surnames", len(s.surnames.names)),
		zap.Int("middle_names", len(s.middles.names)))
	return s, nil
}

func buildTable(entries map[string]weightedEntry) table {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	t := table{names: names, weights: make([]float64, len(names))}
	for i, name := range names {
		t.weights[i] = entries[name].Percentage
	}
	return t
}

// Draw produces one name according to opts.
func (s *Sampler) Draw(opts Options) (Name, error) {
	period := opts.Period
	if period == "" {
		period = Until2010
	}
	firsts, ok := s.firstByPeriod[period]
	if !ok {
		return Name{}, &UnknownPeriodError{Period: period}
	}

	first, ok := firsts.pick(s.rng)
	if !ok {
		return Name{}, &UnknownPeriodError{Period: period}
	}

	var middle string
	if opts.AlwaysMiddle || s.rng.Float64() < s.pctWithSecond/100 {
		middle, _ = s.middles.pick(s.rng)
	}

	n := Name{First: first, Middle: middle}
	if !opts.OnlyFirst {
		n.Surname = s.drawSurname(opts.Top40, opts.SingleSurname)
	}
	if opts.Raw {
		n.First = s.upper.String(n.First)
		n.Middle = s.upper.String(n.Middle)
		n.Surname = s.upper.String(n.Surname)
	}
	return n, nil
}

// DrawMiddle draws a middle name alone, frequency-weighted.
func (s *Sampler) DrawMiddle() string {
	m, _ := s.middles.pick(s.rng)
	return m
}

// drawSurname draws one or two surnames, applying the particle grammar.
// Only the first surname may take a particle so names never end in one;
// "Junior" as the second surname becomes the "Jr." suffix.
func (s *Sampler) drawSurname(top40, single bool) string {
	src := s.surnames
	if top40 {
		src = s.top40
	}

	first, ok := src.pick(s.rng)
	if !ok {
		return ""
	}
	first = s.applyPrefix(first)
	if single {
		return first
	}

	second, _ := src.pick(s.rng)
	if strings.EqualFold(second, "junior") || strings.EqualFold(second, "jr") {
		second = "Jr."
	}
	return first + " " + second
}

func (s *Sampler) applyPrefix(surname string) string {
	choices, ok := surnamePrefixes[strings.ToUpper(surname)]
	if !ok {
		return surname
	}
	r := s.rng.Float64()
	cum := 0.0
	for _, c := range choices {
		cum += c.chance
		if r < cum {
			return c.particle + " " + surname
		}
	}
	return surname
}

// weightedPick selects an index proportionally to ws, skipping
// non-positive entries. Returns false when nothing can be drawn.
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
	return last, true
}
