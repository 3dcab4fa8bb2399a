// Package resolver turns postal codes (CEPs) into street-level address
// data, either synthetically offline or through an external lookup
// process, using a bounded worker pool that preserves input order.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Mode selects how postal codes are resolved.
type Mode string

const (
	// ModeOffline generates synthetic address data locally.
	ModeOffline Mode = "offline"
	// ModeExternal invokes the external resolver process per CEP.
	ModeExternal Mode = "external"
)

// Status classifies a single resolution outcome.
type Status string

const (
	// StatusOK means the resolver returned a complete address.
	StatusOK Status = "ok"
	// StatusDegraded means the resolver answered but some fields were
	// backfilled with synthetic values.
	StatusDegraded Status = "degraded"
	// StatusError means every attempt failed; Err carries the cause.
	StatusError Status = "error"
)

// Address is the payload the external resolver returns for one CEP.
// A non-empty ErrorMsg marks the payload itself as a failure.
type Address struct {
	CEP          string `json:"cep"`
	State        string `json:"state"`
	City         string `json:"city"`
	Neighborhood string `json:"neighborhood"`
	Street       string `json:"street"`
	Service      string `json:"service,omitempty"`
	ErrorMsg     string `json:"error,omitempty"`
}

// AddressResult is one positional entry in a pool resolution. Its CEP
// is normalized to bare digits.
type AddressResult struct {
	CEP            string
	Street         string
	Neighborhood   string
	City           string
	State          string
	BuildingNumber string
	Status         Status
	Err            error
}

// Client resolves a single postal code. Implementations must be safe
// for concurrent use: the pool calls Resolve from many workers.
type Client interface {
	Resolve(ctx context.Context, cep string) (Address, error)
}

// ResolutionError indicates a CEP exhausted its retry ceiling.
type ResolutionError struct {
	CEP      string
	Attempts int
	Err      error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolving CEP %s failed after %d attempts: %v", e.CEP, e.Attempts, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// IsResolutionError reports whether err is (or wraps) a ResolutionError.
func IsResolutionError(err error) bool {
	var re *ResolutionError
	return errors.As(err, &re)
}

// Config tunes the worker pool.
type Config struct {
	Workers        int           // bounded pool size
	MaxRetries     int           // attempts per CEP before giving up
	RetryDelay     time.Duration // fixed delay between attempts
	AttemptTimeout time.Duration // wall-clock bound per attempt
}

// DefaultConfig returns the production defaults: 100 workers, 100
// attempts per CEP, 10ms between attempts, 15s per attempt.
func DefaultConfig() Config {
	return Config{
		Workers:        100,
		MaxRetries:     100,
		RetryDelay:     10 * time.Millisecond,
		AttemptTimeout: 15 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = d.AttemptTimeout
	}
	return c
}

// Pool resolves batches of postal codes with a bounded worker pool.
//
// Results come back in input order regardless of completion order.
// Workers share only the queue and the results map; each worker owns
// its claimed CEP's map key while processing it.
type Pool struct {
	cfg    Config
	client Client
	synth  *Synthetic
	logger *zap.Logger
}

// NewPool creates a pool over the given client. synth backfills missing
// fields on degraded responses and must not be nil.
func NewPool(client Client, synth *Synthetic, cfg Config, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{cfg: cfg.withDefaults(), client: client, synth: synth, logger: logger}
}

// Resolve processes ceps and returns one AddressResult per input
// position. Duplicate CEPs are each enqueued and resolved; the results
// map is keyed by CEP so duplicates reconcile to the same entry when
// the final list is rebuilt in input order. A failing CEP yields a
// StatusError entry in place, never a shorter list.
func (p *Pool) Resolve(ctx context.Context, ceps []string) []AddressResult {
	if len(ceps) == 0 {
		return nil
	}

	normalized := make([]string, len(ceps))
	for i, cep := range ceps {
		normalized[i] = digitsOnly(cep)
	}

	queue := newCEPQueue(len(normalized))
	for _, cep := range normalized {
		queue.Enqueue(cep)
	}
	queue.Close()

	var (
		mu      sync.Mutex
		results = make(map[string]AddressResult, len(normalized))
	)

	workers := p.cfg.Workers
	if len(normalized) < workers {
		workers = len(normalized)
	}
	p.logger.Debug("resolving batch",
		zap.Int("ceps", len(normalized)), zap.Int("workers", workers))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				cep, ok := queue.Dequeue(ctx)
				if !ok {
					return
				}
				res := p.resolveOne(ctx, cep)
				mu.Lock()
				results[cep] = res
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	out := make([]AddressResult, len(normalized))
	for i, cep := range normalized {
		res, ok := results[cep]
		if !ok {
			// Only reachable when ctx was canceled before the worker
			// claimed this CEP.
			res = AddressResult{
				CEP:    cep,
				Status: StatusError,
				Err:    &ResolutionError{CEP: cep, Attempts: 0, Err: ctx.Err()},
			}
		}
		out[i] = res
	}
	return out
}

// resolveOne runs the per-CEP retry loop. One worker handles one CEP
// fully, including all its retries, before taking the next.
func (p *Pool) resolveOne(ctx context.Context, cep string) AddressResult {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.AttemptTimeout)
		addr, err := p.client.Resolve(attemptCtx, cep)
		cancel()

		if err == nil && addr.ErrorMsg != "" {
			err = fmt.Errorf("resolver reported: %s", addr.ErrorMsg)
		}
		if err == nil {
			return p.buildResult(cep, addr)
		}

		lastErr = err
		p.logger.Warn("resolution attempt failed",
			zap.String("cep", cep), zap.Int("attempt", attempt), zap.Error(err))

		select {
		case <-time.After(p.cfg.RetryDelay):
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = p.cfg.MaxRetries
		}
	}

	p.logger.Error("resolution exhausted retries",
		zap.String("cep", cep), zap.Int("max_retries", p.cfg.MaxRetries), zap.Error(lastErr))
	return AddressResult{
		CEP:    cep,
		Status: StatusError,
		Err:    &ResolutionError{CEP: cep, Attempts: p.cfg.MaxRetries, Err: lastErr},
	}
}

// buildResult converts a resolver payload into an AddressResult,
// backfilling empty street/neighborhood with synthetic values. A
// backfilled result is degraded, not failed.
func (p *Pool) buildResult(cep string, addr Address) AddressResult {
	res := AddressResult{
		CEP:            cep,
		Street:         strings.TrimSpace(addr.Street),
		Neighborhood:   strings.TrimSpace(addr.Neighborhood),
		City:           strings.TrimSpace(addr.City),
		State:          strings.TrimSpace(addr.State),
		BuildingNumber: p.synth.BuildingNumber(),
		Status:         StatusOK,
	}
	if res.Street == "" {
		res.Street = p.synth.Street()
		res.Status = StatusDegraded
	}
	if res.Neighborhood == "" {
		res.Neighborhood = p.synth.Neighborhood()
		res.Status = StatusDegraded
	}
	return res
}

// digitsOnly strips everything but ASCII digits from a CEP.
func digitsOnly(cep string) string {
	var b strings.Builder
	for _, r := range cep {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
