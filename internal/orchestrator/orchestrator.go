// Package orchestrator drives a full generation run: drafting records
// from the weighted samplers, resolving their postal codes in
// sub-batches, and appending the merged records to the JSONL sink.
package orchestrator

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brsampler/brsampler/internal/document"
	"github.com/brsampler/brsampler/internal/person"
	"github.com/brsampler/brsampler/internal/phone"
	"github.com/brsampler/brsampler/internal/resolver"
	"github.com/brsampler/brsampler/internal/sampler"
	"github.com/brsampler/brsampler/internal/sink"
	"github.com/brsampler/brsampler/internal/weights"
)

// DefaultBatchSize is the sub-batch size used when the request does
// not set one.
const DefaultBatchSize = 100

// DocumentRequest selects which document fields each record carries.
type DocumentRequest struct {
	CPF           bool
	RG            bool
	PIS           bool
	CNPJ          bool
	CEI           bool
	Phone         bool
	IncludeIssuer bool // suffix RG with the issuing authority
}

// Any reports whether at least one document kind was requested.
func (d DocumentRequest) Any() bool {
	return d.CPF || d.RG || d.PIS || d.CNPJ || d.CEI || d.Phone
}

// Request describes one generation run.
type Request struct {
	Quantity       int
	Documents      DocumentRequest
	TimePeriod     person.TimePeriod
	AlwaysMiddle   bool
	CEPWithoutDash bool
	BatchSize      int // defaults to DefaultBatchSize
	OutPath        string
	Append         bool
}

// ProgressEvent is the value passed to the progress callback. It is a
// self-contained snapshot so the callback never shares mutable state
// with the pipeline.
type ProgressEvent struct {
	Completed int
	Stage     string
}

// ProgressFunc consumes progress events. It is advisory: a nil, slow,
// or panicking callback never affects the run's outcome.
type ProgressFunc func(ProgressEvent)

// runState tracks where a run is in its lifecycle. Done is terminal;
// no retry loop wraps the whole run.
type runState int

const (
	stateIdle runState = iota
	stateDrafting
	stateResolving
	statePersisting
	stateDone
)

func (s runState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateDrafting:
		return "drafting"
	case stateResolving:
		return "resolving"
	case statePersisting:
		return "persisting"
	case stateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Result summarizes a completed run.
type Result struct {
	RunID      string
	Written    int
	Degraded   int // records whose address was partially synthetic
	Unresolved int // records whose postal code exhausted retries
}

// Orchestrator wires the samplers, the resolution pool and the sink
// into a single run loop. One orchestrator handles one run at a time;
// its samplers are not synchronized.
type Orchestrator struct {
	ix     *weights.Index
	loc    *sampler.Sampler
	names  *person.Sampler
	rng    *rand.Rand
	pool   *resolver.Pool
	logger *zap.Logger
}

// New creates an orchestrator. rng feeds document and phone generation
// and may be seeded for reproducible drafts.
func New(ix *weights.Index, loc *sampler.Sampler, names *person.Sampler, pool *resolver.Pool, rng *rand.Rand, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{ix: ix, loc: loc, names: names, rng: rng, pool: pool, logger: logger}
}

// Generate runs the full pipeline: draft, then per sub-batch resolve,
// merge and persist. A resolution failure degrades its record; only
// drafting errors and persistence errors abort the run.
func (o *Orchestrator) Generate(ctx context.Context, req Request, progress ProgressFunc) (Result, error) {
	runID := uuid.NewString()
	logger := o.logger.With(zap.String("run_id", runID))
	res := Result{RunID: runID}

	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	state := stateIdle
	transition := func(next runState) {
		logger.Debug("run state", zap.Stringer("from", state), zap.Stringer("to", next))
		state = next
	}

	transition(stateDrafting)
	report(progress, logger, ProgressEvent{Completed: 0, Stage: "drafting records"})
	drafts, err := o.DraftRecords(req)
	if err != nil {
		return res, err
	}

	w, err := sink.Open(req.OutPath, req.Append)
	if err != nil {
		return res, err
	}
	defer w.Close()

	completed := 0
	for start := 0; start < len(drafts); start += batchSize {
		end := start + batchSize
		if end > len(drafts) {
			end = len(drafts)
		}
		batch := drafts[start:end]
		batchIdx := start / batchSize

		transition(stateResolving)
		report(progress, logger, ProgressEvent{
			Completed: completed,
			Stage:     fmt.Sprintf("resolving addresses (batch %d)", batchIdx+1),
		})

		ceps := make([]string, len(batch))
		for i := range batch {
			ceps[i] = batch[i].CEP
		}
		resolved := o.pool.Resolve(ctx, ceps)
		for i := range batch {
			mergeAddress(&batch[i], resolved[i])
			switch resolved[i].Status {
			case resolver.StatusDegraded:
				res.Degraded++
			case resolver.StatusError:
				res.Unresolved++
			}
		}

		transition(statePersisting)
		if err := w.WriteRecords(batch); err != nil {
			return res, fmt.Errorf("persisting sub-batch %d: %w", batchIdx, err)
		}
		if err := w.Flush(); err != nil {
			return res, fmt.Errorf("persisting sub-batch %d: %w", batchIdx, err)
		}

		completed += len(batch)
		res.Written = completed
		report(progress, logger, ProgressEvent{
			Completed: completed,
			Stage:     fmt.Sprintf("persisted batch %d", batchIdx+1),
		})
	}

	transition(stateDone)
	logger.Info("run complete",
		zap.Int("written", res.Written),
		zap.Int("degraded", res.Degraded),
		zap.Int("unresolved", res.Unresolved))
	return res, nil
}

// DraftRecords produces Quantity records with identity, location,
// postal code and requested documents filled in. Address fields stay
// empty for the resolution stage.
//
// The (state, city) pair is drawn exactly once per record; the postal
// code and area code both derive from that single draw.
func (o *Orchestrator) DraftRecords(req Request) ([]sink.Record, error) {
	drafts := make([]sink.Record, 0, req.Quantity)
	for i := 0; i < req.Quantity; i++ {
		stateName, stateAbbr, city, err := o.loc.DrawLocation()
		if err != nil {
			return nil, fmt.Errorf("drafting record %d: %w", i, err)
		}

		cep, err := o.loc.DrawPostalCode(city, stateAbbr)
		if err != nil {
			return nil, fmt.Errorf("drafting record %d: %w", i, err)
		}

		name, err := o.names.Draw(person.Options{
			Period:       req.TimePeriod,
			AlwaysMiddle: req.AlwaysMiddle,
		})
		if err != nil {
			return nil, fmt.Errorf("drafting record %d: %w", i, err)
		}

		rec := sink.Record{
			Name:       name.First,
			MiddleName: name.Middle,
			Surnames:   name.Surname,
			City:       city,
			State:      stateName,
			StateAbbr:  stateAbbr,
			CEP:        sampler.FormatCEP(cep, !req.CEPWithoutDash),
		}

		if req.Documents.Phone {
			cityRec, ok := o.ix.Lookup(city, stateAbbr)
			if !ok || cityRec.AreaCode == "" {
				return nil, &weights.MissingAreaCodeError{City: city, StateAbbr: stateAbbr}
			}
			rec.Phone, err = phone.Generate(o.rng, cityRec.AreaCode)
			if err != nil {
				return nil, fmt.Errorf("drafting record %d: %w", i, err)
			}
		}

		if req.Documents.CPF {
			rec.CPF = document.CPF(o.rng)
		}
		if req.Documents.RG {
			rec.RG = document.RG(o.rng, stateAbbr, req.Documents.IncludeIssuer)
		}
		if req.Documents.PIS {
			rec.PIS = document.PIS(o.rng)
		}
		if req.Documents.CNPJ {
			rec.CNPJ = document.CNPJ(o.rng)
		}
		if req.Documents.CEI {
			rec.CEI = document.CEI(o.rng)
		}

		drafts = append(drafts, rec)
	}
	return drafts, nil
}

// mergeAddress fills a draft's address fields from a resolution.
// Only empty fields are filled, and the city/state fixed at draw time
// are never overwritten by whatever the resolver echoed back.
func mergeAddress(rec *sink.Record, res resolver.AddressResult) {
	if rec.Street == "" {
		rec.Street = res.Street
	}
	if rec.Neighborhood == "" {
		rec.Neighborhood = res.Neighborhood
	}
	if rec.BuildingNumber == "" {
		rec.BuildingNumber = res.BuildingNumber
	}
}

// report invokes the progress callback, swallowing panics so a broken
// consumer cannot abort generation.
func report(progress ProgressFunc, logger *zap.Logger, ev ProgressEvent) {
	if progress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("progress callback panicked", zap.Any("panic", r))
		}
	}()
	progress(ev)
}
