package resolver

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
)

var (
	streetKinds       = []string{"Rua", "Avenida", "Alameda", "Travessa", "Rodovia"}
	neighborhoodKinds = []string{"Centro", "Jardim", "Vila", "Bairro", "Parque"}
)

// Synthetic generates offline address data. It doubles as the pool's
// Client in offline mode and as the backfill source for degraded
// external responses.
//
// The rng is mutex-guarded because pool workers call it concurrently.
type Synthetic struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSynthetic creates a synthetic resolver over rng.
func NewSynthetic(rng *rand.Rand) *Synthetic {
	return &Synthetic{rng: rng}
}

// Street returns a synthetic street name ("Avenida 42").
func (s *Synthetic) Street() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("%s %d", streetKinds[s.rng.Intn(len(streetKinds))], 1+s.rng.Intn(100))
}

// Neighborhood returns a synthetic neighborhood name ("Jardim 7").
func (s *Synthetic) Neighborhood() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("%s %d", neighborhoodKinds[s.rng.Intn(len(neighborhoodKinds))], 1+s.rng.Intn(50))
}

// BuildingNumber returns a synthetic building number, 1 to 999.
func (s *Synthetic) BuildingNumber() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("%d", 1+s.rng.Intn(999))
}

// Resolve implements Client with purely local data. It never fails.
func (s *Synthetic) Resolve(_ context.Context, cep string) (Address, error) {
	return Address{
		CEP:          cep,
		Street:       s.Street(),
		Neighborhood: s.Neighborhood(),
		Service:      "synthetic",
	}, nil
}
