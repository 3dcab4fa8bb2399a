package resolver

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedClient fails every attempt for CEPs in fail, succeeds
// instantly otherwise. Call counts are tracked per CEP.
type scriptedClient struct {
	mu    sync.Mutex
	fail  map[string]bool
	empty map[string]bool // return a payload with empty street/neighborhood
	calls map[string]int
}

func newScriptedClient() *scriptedClient {
	return &scriptedClient{
		fail:  make(map[string]bool),
		empty: make(map[string]bool),
		calls: make(map[string]int),
	}
}

func (c *scriptedClient) Resolve(_ context.Context, cep string) (Address, error) {
	c.mu.Lock()
	c.calls[cep]++
	c.mu.Unlock()

	if c.fail[cep] {
		return Address{}, fmt.Errorf("service unavailable for %s", cep)
	}
	if c.empty[cep] {
		return Address{CEP: cep}, nil
	}
	return Address{
		CEP:          cep,
		Street:       "Rua " + cep,
		Neighborhood: "Bairro " + cep,
		City:         "Cidade",
		State:        "SP",
	}, nil
}

func (c *scriptedClient) callCount(cep string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[cep]
}

func newTestPool(client Client, cfg Config) *Pool {
	synth := NewSynthetic(rand.New(rand.NewSource(1)))
	return NewPool(client, synth, cfg, zap.NewNop())
}

func fastConfig() Config {
	return Config{
		Workers:        4,
		MaxRetries:     3,
		RetryDelay:     time.Millisecond,
		AttemptTimeout: time.Second,
	}
}

func TestResolve_DuplicatesAndFailure(t *testing.T) {
	client := newScriptedClient()
	client.fail["99999999"] = true
	pool := newTestPool(client, fastConfig())

	results := pool.Resolve(context.Background(), []string{"01000-000", "99999-999", "01000-000"})
	require.Len(t, results, 3)

	assert.Contains(t, []Status{StatusOK, StatusDegraded}, results[0].Status)
	assert.Contains(t, []Status{StatusOK, StatusDegraded}, results[2].Status)
	assert.Equal(t, StatusError, results[1].Status)
	require.Error(t, results[1].Err)
	assert.True(t, IsResolutionError(results[1].Err))

	// Both duplicate occurrences were enqueued and resolved.
	assert.Equal(t, 2, client.callCount("01000000"))

	var re *ResolutionError
	require.ErrorAs(t, results[1].Err, &re)
	assert.Equal(t, 3, re.Attempts)
	assert.Equal(t, 3, client.callCount("99999999"))
}

func TestResolve_OrderPreserved(t *testing.T) {
	client := newScriptedClient()
	pool := newTestPool(client, fastConfig())

	ceps := make([]string, 50)
	for i := range ceps {
		ceps[i] = fmt.Sprintf("%05d-%03d", i+1000, i)
	}

	results := pool.Resolve(context.Background(), ceps)
	require.Len(t, results, len(ceps))

	for i, cep := range ceps {
		want := digitsOnly(cep)
		assert.Equal(t, want, results[i].CEP, "position %d", i)
		assert.Equal(t, "Rua "+want, results[i].Street)
	}
}

func TestResolve_DegradedBackfill(t *testing.T) {
	client := newScriptedClient()
	client.empty["01000000"] = true
	pool := newTestPool(client, fastConfig())

	results := pool.Resolve(context.Background(), []string{"01000-000"})
	require.Len(t, results, 1)

	assert.Equal(t, StatusDegraded, results[0].Status)
	assert.NotEmpty(t, results[0].Street)
	assert.NotEmpty(t, results[0].Neighborhood)
	assert.NotEmpty(t, results[0].BuildingNumber)
}

func TestResolve_ErrorPayloadRetries(t *testing.T) {
	calls := 0
	client := clientFunc(func(ctx context.Context, cep string) (Address, error) {
		calls++
		return Address{CEP: cep, ErrorMsg: "not found"}, nil
	})
	pool := newTestPool(client, fastConfig())

	results := pool.Resolve(context.Background(), []string{"01000-000"})
	assert.Equal(t, StatusError, results[0].Status)
	assert.Equal(t, 3, calls)
}

func TestResolve_EmptyInput(t *testing.T) {
	pool := newTestPool(newScriptedClient(), fastConfig())
	assert.Nil(t, pool.Resolve(context.Background(), nil))
}

func TestResolve_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pool := newTestPool(newScriptedClient(), fastConfig())
	results := pool.Resolve(ctx, []string{"01000-000", "02000-000"})

	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, StatusError, r.Status)
	}
}

func TestSynthetic_AlwaysSucceeds(t *testing.T) {
	s := NewSynthetic(rand.New(rand.NewSource(2)))

	for i := 0; i < 100; i++ {
		addr, err := s.Resolve(context.Background(), "01000000")
		require.NoError(t, err)
		assert.NotEmpty(t, addr.Street)
		assert.NotEmpty(t, addr.Neighborhood)
		assert.Equal(t, "synthetic", addr.Service)
	}
}

func TestSynthetic_ConcurrentUse(t *testing.T) {
	s := NewSynthetic(rand.New(rand.NewSource(3)))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.Street()
				_ = s.BuildingNumber()
			}
		}()
	}
	wg.Wait()
}

func TestParsePayload_SingleElementArrayUnwraps(t *testing.T) {
	addr, err := parsePayload([]byte(`[{"cep":"01000000","street":"Rua A","neighborhood":"Centro"}]`))
	require.NoError(t, err)
	assert.Equal(t, "Rua A", addr.Street)
}

func TestParsePayload_MultiElementArrayFails(t *testing.T) {
	_, err := parsePayload([]byte(`[{"cep":"1"},{"cep":"2"}]`))
	assert.Error(t, err)
}

func TestParsePayload_Malformed(t *testing.T) {
	_, err := parsePayload([]byte(`{oops`))
	assert.Error(t, err)

	_, err = parsePayload([]byte(``))
	assert.Error(t, err)
}

// clientFunc adapts a function to the Client interface.
type clientFunc func(ctx context.Context, cep string) (Address, error)

func (f clientFunc) Resolve(ctx context.Context, cep string) (Address, error) {
	return f(ctx, cep)
}
