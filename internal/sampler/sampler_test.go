package sampler

import (
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/brsampler/brsampler/internal/weights"
)

const fixtureSource = `{
  "states": {
    "São Paulo": {"state_abbr": "SP", "population_percentage": 40.0},
    "Minas Gerais": {"state_abbr": "MG", "population_percentage": 25.0},
    "Bahia": {"state_abbr": "BA", "population_percentage": 18.0},
    "Paraná": {"state_abbr": "PR", "population_percentage": 12.0},
    "Acre": {"state_abbr": "AC", "population_percentage": 5.0}
  },
  "cities": {
    "São Paulo_SP": {"city_name": "São Paulo", "city_uf": "SP", "population_percentage_state": 70.0, "ddd": "11", "ceps": ["01310-100", "04538-132"]},
    "Campinas_SP": {"city_name": "Campinas", "city_uf": "SP", "population_percentage_state": 30.0, "ddd": "19", "cep_range_begins": "13000-000", "cep_range_ends": "13139-999"},
    "Belo Horizonte_MG": {"city_name": "Belo Horizonte", "city_uf": "MG", "population_percentage_state": 100.0, "ddd": "31", "cep_range_begins": "30000-000", "cep_range_ends": "31999-999"},
    "Salvador_BA": {"city_name": "Salvador", "city_uf": "BA", "population_percentage_state": 100.0, "ddd": "71", "cep_range_begins": "40000-000", "cep_range_ends": "42599-999"},
    "Curitiba_PR": {"city_name": "Curitiba", "city_uf": "PR", "population_percentage_state": 100.0, "ddd": "41", "cep_range_begins": "80000-000", "cep_range_ends": "82999-999"},
    "Rio Branco_AC": {"city_name": "Rio Branco", "city_uf": "AC", "population_percentage_state": 100.0, "ddd": "68", "cep_range_begins": "69900-000", "cep_range_ends": "69924-999"}
  }
}`

func newFixtureSampler(t *testing.T, seed int64) *Sampler {
	t.Helper()
	ix := weights.New(zap.NewNop())
	require.NoError(t, ix.LoadSource("fixture", []byte(fixtureSource)))
	return New(ix, rand.New(rand.NewSource(seed)), zap.NewNop())
}

func TestDrawState_FrequencyTracksPopulation(t *testing.T) {
	s := newFixtureSampler(t, 42)

	const draws = 10000
	counts := make(map[string]int)
	for i := 0; i < draws; i++ {
		_, abbr, err := s.DrawState()
		require.NoError(t, err)
		counts[abbr]++
	}

	shares := []float64{40, 25, 18, 12, 5}
	abbrs := []string{"SP", "MG", "BA", "PR", "AC"}
	observed := make([]float64, len(abbrs))
	for i, a := range abbrs {
		observed[i] = float64(counts[a]) / draws
	}

	r := pearson(shares, observed)
	assert.Greater(t, r, 0.9, "empirical frequency must track population share, r=%f", r)
}

func TestDrawLocation_CityBelongsToState(t *testing.T) {
	s := newFixtureSampler(t, 7)

	for i := 0; i < 500; i++ {
		stateName, stateAbbr, city, err := s.DrawLocation()
		require.NoError(t, err)
		require.NotEmpty(t, stateName)

		rec, ok := s.ix.Lookup(city, stateAbbr)
		require.Truef(t, ok, "drawn city %q must exist in state %s", city, stateAbbr)
		assert.Equal(t, stateAbbr, rec.StateAbbr)
	}
}

func TestDrawCity_EmptyStateDrawsOne(t *testing.T) {
	s := newFixtureSampler(t, 3)

	city, abbr, err := s.DrawCity("")
	require.NoError(t, err)
	assert.NotEmpty(t, city)
	assert.NotEmpty(t, abbr)
}

func TestDrawCity_UnknownState(t *testing.T) {
	s := newFixtureSampler(t, 3)

	_, _, err := s.DrawCity("XX")
	require.Error(t, err)

	var nce *NoCitiesForStateError
	require.ErrorAs(t, err, &nce)
	assert.Equal(t, "XX", nce.StateAbbr)
}

func TestDrawPostalCode_PrefersList(t *testing.T) {
	s := newFixtureSampler(t, 11)

	for i := 0; i < 50; i++ {
		cep, err := s.DrawPostalCode("São Paulo", "SP")
		require.NoError(t, err)
		assert.Contains(t, []string{"01310-100", "04538-132"}, cep)
	}
}

func TestDrawPostalCode_RangeZeroPadded(t *testing.T) {
	ix := weights.New(zap.NewNop())
	src := `{
	  "states": {"Teste": {"state_abbr": "TS", "population_percentage": 100.0}},
	  "cities": {"Baixa_TS": {"city_name": "Baixa", "city_uf": "TS", "population_percentage_state": 100.0, "cep_range_begins": "00001-000", "cep_range_ends": "00001-050"}}
	}`
	require.NoError(t, ix.LoadSource("lowrange", []byte(src)))
	s := New(ix, rand.New(rand.NewSource(1)), zap.NewNop())

	for i := 0; i < 100; i++ {
		cep, err := s.DrawPostalCode("Baixa", "TS")
		require.NoError(t, err)
		require.Len(t, cep, 8)
		assert.True(t, strings.HasPrefix(cep, "0000"), "low range must keep leading zeros, got %q", cep)
	}
}

func TestDrawPostalCode_UnknownCity(t *testing.T) {
	s := newFixtureSampler(t, 5)

	_, err := s.DrawPostalCode("Atlantis", "SP")
	require.Error(t, err)
	assert.True(t, IsCityNotFound(err))
}

func TestDrawPostalCode_NoPostalData(t *testing.T) {
	ix := weights.New(zap.NewNop())
	src := `{
	  "states": {"Teste": {"state_abbr": "TS", "population_percentage": 100.0}},
	  "cities": {"Semcep_TS": {"city_name": "Semcep", "city_uf": "TS", "population_percentage_state": 100.0, "ddd": "99"}}
	}`
	require.NoError(t, ix.LoadSource("noceps", []byte(src)))
	s := New(ix, rand.New(rand.NewSource(1)), zap.NewNop())

	_, err := s.DrawPostalCode("Semcep", "TS")
	require.Error(t, err)
	assert.True(t, IsNoPostalCode(err))
}

func TestDrawState_EmptyIndex(t *testing.T) {
	s := New(weights.New(zap.NewNop()), rand.New(rand.NewSource(1)), zap.NewNop())

	_, _, err := s.DrawState()
	assert.ErrorIs(t, err, ErrNoStates)
}

func TestFormatCEP(t *testing.T) {
	assert.Equal(t, "01310-100", FormatCEP("01310100", true))
	assert.Equal(t, "01310100", FormatCEP("01310-100", false))
	assert.Equal(t, "01310-100", FormatCEP(" 01310-100 ", true))
	// Non-standard lengths pass through as bare digits.
	assert.Equal(t, "123", FormatCEP("123", true))
}

func TestWeightedPick_SkipsZeroWeights(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	ws := []float64{0, 1, 0}

	for i := 0; i < 200; i++ {
		idx, ok := weightedPick(rng, ws)
		require.True(t, ok)
		assert.Equal(t, 1, idx)
	}
}

func TestWeightedPick_AllZero(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	_, ok := weightedPick(rng, []float64{0, 0})
	assert.False(t, ok)
}

func pearson(xs, ys []float64) float64 {
	n := float64(len(xs))
	var sx, sy float64
	for i := range xs {
		sx += xs[i]
		sy += ys[i]
	}
	mx, my := sx/n, sy/n

	var cov, vx, vy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	return cov / math.Sqrt(vx*vy)
}
