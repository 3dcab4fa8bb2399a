package orchestrator

import (
	"bufio"
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/brsampler/brsampler/internal/person"
	"github.com/brsampler/brsampler/internal/resolver"
	"github.com/brsampler/brsampler/internal/sampler"
	"github.com/brsampler/brsampler/internal/sink"
	"github.com/brsampler/brsampler/internal/weights"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const fixtureSource = `{
  "states": {
    "São Paulo": {"state_abbr": "SP", "population_percentage": 60.0},
    "Rio de Janeiro": {"state_abbr": "RJ", "population_percentage": 40.0}
  },
  "cities": {
    "São Paulo_SP": {"city_name": "São Paulo", "city_uf": "SP", "population_percentage_state": 100.0, "ddd": "11", "ceps": ["01310-100"]},
    "Niterói_RJ": {"city_name": "Niterói", "city_uf": "RJ", "population_percentage_state": 100.0, "ddd": "21", "cep_range_begins": "24000-000", "cep_range_ends": "24399-999"}
  }
}`

// noDDDSource has a city without an area code, for the hard-failure path.
const noDDDSource = `{
  "states": {"Tocantins": {"state_abbr": "TO", "population_percentage": 100.0}},
  "cities": {"Palmas_TO": {"city_name": "Palmas", "city_uf": "TO", "population_percentage_state": 100.0, "ceps": ["77000-000"]}}
}`

func newTestOrchestrator(t *testing.T, source string, seed int64) *Orchestrator {
	t.Helper()

	ix := weights.New(zap.NewNop())
	require.NoError(t, ix.LoadSource("fixture", []byte(source)))

	rng := rand.New(rand.NewSource(seed))
	loc := sampler.New(ix, rng, zap.NewNop())
	names, err := person.New(rng, zap.NewNop())
	require.NoError(t, err)

	synth := resolver.NewSynthetic(rand.New(rand.NewSource(seed + 1)))
	pool := resolver.NewPool(synth, synth, resolver.Config{Workers: 8, MaxRetries: 1}, zap.NewNop())

	return New(ix, loc, names, pool, rng, zap.NewNop())
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestGenerate_BatchingAndLineCount(t *testing.T) {
	o := newTestOrchestrator(t, fixtureSource, 42)
	out := filepath.Join(t.TempDir(), "out.jsonl")

	var persisted []ProgressEvent
	progress := func(ev ProgressEvent) {
		if strings.HasPrefix(ev.Stage, "persisted") {
			persisted = append(persisted, ev)
		}
	}

	res, err := o.Generate(context.Background(), Request{
		Quantity:  250,
		BatchSize: 100,
		OutPath:   out,
	}, progress)
	require.NoError(t, err)

	assert.Equal(t, 250, res.Written)
	assert.NotEmpty(t, res.RunID)

	// 250 records at batch size 100: exactly three persisted batches.
	require.Len(t, persisted, 3)
	assert.Equal(t, 100, persisted[0].Completed)
	assert.Equal(t, 200, persisted[1].Completed)
	assert.Equal(t, 250, persisted[2].Completed)

	lines := readLines(t, out)
	require.Len(t, lines, 250)

	for i, line := range lines {
		var rec sink.Record
		require.NoErrorf(t, json.Unmarshal([]byte(line), &rec), "line %d", i)
		assert.NotEmpty(t, rec.Name)
		assert.NotEmpty(t, rec.CEP)
		assert.NotEmpty(t, rec.Street)
		assert.NotEmpty(t, rec.BuildingNumber)
	}
}

func TestGenerate_CityStateAnchoredToDraw(t *testing.T) {
	ix := weights.New(zap.NewNop())
	require.NoError(t, ix.LoadSource("fixture", []byte(fixtureSource)))

	rng := rand.New(rand.NewSource(1))
	loc := sampler.New(ix, rng, zap.NewNop())
	names, err := person.New(rng, zap.NewNop())
	require.NoError(t, err)

	// Resolver echoes back a different city/state; the record must keep
	// the drawn one.
	echo := clientFunc(func(_ context.Context, cep string) (resolver.Address, error) {
		return resolver.Address{
			CEP:          cep,
			Street:       "Rua Echo",
			Neighborhood: "Echo",
			City:         "Cidade Errada",
			State:        "XX",
		}, nil
	})
	synth := resolver.NewSynthetic(rand.New(rand.NewSource(2)))
	pool := resolver.NewPool(echo, synth, resolver.Config{Workers: 4, MaxRetries: 1}, zap.NewNop())

	o := New(ix, loc, names, pool, rng, zap.NewNop())
	out := filepath.Join(t.TempDir(), "out.jsonl")

	_, err = o.Generate(context.Background(), Request{Quantity: 20, OutPath: out}, nil)
	require.NoError(t, err)

	for _, line := range readLines(t, out) {
		var rec sink.Record
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		assert.Contains(t, []string{"São Paulo", "Niterói"}, rec.City)
		assert.Contains(t, []string{"SP", "RJ"}, rec.StateAbbr)
		assert.Equal(t, "Rua Echo", rec.Street)
	}
}

func TestGenerate_MissingAreaCodeFailsWithPhone(t *testing.T) {
	o := newTestOrchestrator(t, noDDDSource, 7)
	out := filepath.Join(t.TempDir(), "out.jsonl")

	_, err := o.Generate(context.Background(), Request{
		Quantity:  5,
		OutPath:   out,
		Documents: DocumentRequest{Phone: true},
	}, nil)
	require.Error(t, err)
	assert.True(t, weights.IsMissingAreaCode(err))
}

func TestGenerate_NoPhoneNoAreaCodeNeeded(t *testing.T) {
	o := newTestOrchestrator(t, noDDDSource, 7)
	out := filepath.Join(t.TempDir(), "out.jsonl")

	res, err := o.Generate(context.Background(), Request{Quantity: 5, OutPath: out}, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Written)
}

func TestGenerate_PanickingProgressDoesNotAbort(t *testing.T) {
	o := newTestOrchestrator(t, fixtureSource, 9)
	out := filepath.Join(t.TempDir(), "out.jsonl")

	res, err := o.Generate(context.Background(), Request{Quantity: 10, OutPath: out},
		func(ProgressEvent) { panic("broken consumer") })
	require.NoError(t, err)
	assert.Equal(t, 10, res.Written)
	assert.Len(t, readLines(t, out), 10)
}

func TestGenerate_DocumentsIncluded(t *testing.T) {
	o := newTestOrchestrator(t, fixtureSource, 13)
	out := filepath.Join(t.TempDir(), "out.jsonl")

	_, err := o.Generate(context.Background(), Request{
		Quantity: 10,
		OutPath:  out,
		Documents: DocumentRequest{
			CPF: true, RG: true, PIS: true, CNPJ: true, CEI: true,
			Phone: true, IncludeIssuer: true,
		},
	}, nil)
	require.NoError(t, err)

	for _, line := range readLines(t, out) {
		var rec sink.Record
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		assert.NotEmpty(t, rec.CPF)
		assert.NotEmpty(t, rec.RG)
		assert.Contains(t, rec.RG, "SSP/")
		assert.NotEmpty(t, rec.PIS)
		assert.NotEmpty(t, rec.CNPJ)
		assert.NotEmpty(t, rec.CEI)
		assert.NotEmpty(t, rec.Phone)
		// The phone's area code matches the drawn city.
		switch rec.City {
		case "São Paulo":
			assert.True(t, strings.HasPrefix(rec.Phone, "(11)"))
		case "Niterói":
			assert.True(t, strings.HasPrefix(rec.Phone, "(21)"))
		}
	}
}

func TestDraftRecords_CEPFormat(t *testing.T) {
	o := newTestOrchestrator(t, fixtureSource, 21)

	withDash, err := o.DraftRecords(Request{Quantity: 5})
	require.NoError(t, err)
	for _, rec := range withDash {
		assert.Regexp(t, `^\d{5}-\d{3}$`, rec.CEP)
	}

	bare, err := o.DraftRecords(Request{Quantity: 5, CEPWithoutDash: true})
	require.NoError(t, err)
	for _, rec := range bare {
		assert.Regexp(t, `^\d{8}$`, rec.CEP)
	}
}

// clientFunc adapts a function to resolver.Client.
type clientFunc func(ctx context.Context, cep string) (resolver.Address, error)

func (f clientFunc) Resolve(ctx context.Context, cep string) (resolver.Address, error) {
	return f(ctx, cep)
}
