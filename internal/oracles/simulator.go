package oracles

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/cx-tal-miterani/flight-surety/internal/surety"
)

// Registrar enrolls an oracle identity and returns its indexes. Enrolling an
// identity that is already registered returns the existing record.
type Registrar interface {
	RegisterOracle(ctx context.Context, id surety.Principal, fee surety.Amount) (Oracle, error)
}

// StatusPicker decides what a simulated oracle reports for a flight.
type StatusPicker func(oracle surety.Principal, flight surety.FlightKey) surety.Status

// Always reports the same status from every oracle.
func Always(status surety.Status) StatusPicker {
	return func(surety.Principal, surety.FlightKey) surety.Status { return status }
}

// Random picks uniformly among the terminal statuses.
func Random(rng *rand.Rand) StatusPicker {
	statuses := []surety.Status{
		surety.StatusOnTime,
		surety.StatusLateAirline,
		surety.StatusLateWeather,
		surety.StatusLateTechnical,
		surety.StatusLateOther,
	}
	var mu sync.Mutex
	return func(surety.Principal, surety.FlightKey) surety.Status {
		mu.Lock()
		defer mu.Unlock()
		return statuses[rng.IntN(len(statuses))]
	}
}

// Response is one simulated oracle answer.
type Response struct {
	Oracle surety.Principal `json:"oracle"`
	Status surety.Status    `json:"status"`
}

// Simulator plays a fixed pool of oracles.
type Simulator struct {
	mu      sync.RWMutex
	oracles []Oracle
	pick    StatusPicker
}

// NewSimulator creates a simulator reporting statuses chosen by pick.
func NewSimulator(pick StatusPicker) *Simulator {
	return &Simulator{pick: pick}
}

// Enroll registers count oracles named prefix-0..prefix-(count-1).
func (s *Simulator) Enroll(ctx context.Context, reg Registrar, prefix string, count int, fee surety.Amount) error {
	for i := 0; i < count; i++ {
		id := surety.Principal(fmt.Sprintf("%s-%d", prefix, i))
		o, err := reg.RegisterOracle(ctx, id, fee)
		if err != nil {
			return fmt.Errorf("failed to register oracle %s: %w", id, err)
		}
		s.Add(o)
	}
	return nil
}

// Add puts an already registered oracle into the pool.
func (s *Simulator) Add(o Oracle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.oracles {
		if existing.ID == o.ID {
			s.oracles[i] = o
			return
		}
	}
	s.oracles = append(s.oracles, o)
	sort.Slice(s.oracles, func(i, j int) bool { return s.oracles[i].ID < s.oracles[j].ID })
}

// Size returns the number of simulated oracles.
func (s *Simulator) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.oracles)
}

// Respond returns the answers of every simulated oracle eligible for query.
func (s *Simulator) Respond(query surety.QueryKey) []Response {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Response
	for _, o := range s.oracles {
		if !o.Indexes.Contains(query.Nonce) {
			continue
		}
		out = append(out, Response{Oracle: o.ID, Status: s.pick(o.ID, query.Flight)})
	}
	return out
}

// RegistryRegistrar registers oracles directly against an in-process Registry.
type RegistryRegistrar struct {
	Registry *Registry
}

func (r RegistryRegistrar) RegisterOracle(_ context.Context, id surety.Principal, fee surety.Amount) (Oracle, error) {
	o, err := r.Registry.Register(surety.Call{Caller: id, Value: fee})
	if errors.Is(err, surety.ErrAlreadyRegistered) {
		return r.Registry.Oracle(id)
	}
	return o, err
}
