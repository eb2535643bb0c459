// Package oracles selects which status oracles may answer a flight status
// query. Oracles pay a registration fee and receive three distinct indexes;
// each query carries a random index and only oracles holding it may respond.
package oracles

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/cx-tal-miterani/flight-surety/internal/surety"
)

const (
	// IndexSpace is the range request nonces and oracle indexes are drawn from.
	IndexSpace = 10
	// IndexesPerOracle is how many distinct indexes each oracle holds.
	IndexesPerOracle = 3
)

// DefaultFee is the registration fee.
const DefaultFee = 1 * surety.Unit

var (
	ErrUnknownOracle = errors.New("unknown oracle")
	ErrFeeTooLow     = errors.New("registration fee too low")
)

// Indexes are the nonces an oracle is allowed to answer.
type Indexes [IndexesPerOracle]uint8

// Contains reports whether nonce is one of the indexes.
func (ix Indexes) Contains(nonce uint8) bool {
	for _, i := range ix {
		if i == nonce {
			return true
		}
	}
	return false
}

// Oracle is a registered oracle.
type Oracle struct {
	ID      surety.Principal `json:"id"`
	Indexes Indexes          `json:"indexes"`
	Fee     surety.Amount    `json:"fee"`
}

// Registry implements surety.OracleDirectory.
type Registry struct {
	mu      sync.RWMutex
	fee     surety.Amount
	rng     *rand.Rand
	oracles map[surety.Principal]Oracle
	fees    surety.Amount
}

// NewRegistry creates a registry charging fee. A nil rng seeds a fresh source.
func NewRegistry(fee surety.Amount, rng *rand.Rand) *Registry {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Registry{
		fee:     fee,
		rng:     rng,
		oracles: make(map[surety.Principal]Oracle),
	}
}

// Register enrolls the caller, paying the attached value as the fee.
func (r *Registry) Register(call surety.Call) (Oracle, error) {
	if call.Caller == "" {
		return Oracle{}, fmt.Errorf("%w: oracle id is required", surety.ErrInvalidArgument)
	}
	if call.Value < r.fee {
		return Oracle{}, fmt.Errorf("%w: %s < %s", ErrFeeTooLow, call.Value, r.fee)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.oracles[call.Caller]; ok {
		return Oracle{}, fmt.Errorf("%w: oracle %s", surety.ErrAlreadyRegistered, call.Caller)
	}
	o := Oracle{ID: call.Caller, Indexes: r.drawIndexes(), Fee: call.Value}
	r.oracles[call.Caller] = o
	r.fees += call.Value
	return o, nil
}

// drawIndexes must be called with mu held.
func (r *Registry) drawIndexes() Indexes {
	perm := r.rng.Perm(IndexSpace)
	var ix Indexes
	for i := range ix {
		ix[i] = uint8(perm[i])
	}
	sort.Slice(ix[:], func(a, b int) bool { return ix[a] < ix[b] })
	return ix
}

// Oracle returns a registered oracle.
func (r *Registry) Oracle(id surety.Principal) (Oracle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.oracles[id]
	if !ok {
		return Oracle{}, fmt.Errorf("%w: %s", ErrUnknownOracle, id)
	}
	return o, nil
}

// Count returns the number of registered oracles.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.oracles)
}

// Fees returns the total registration fees collected.
func (r *Registry) Fees() surety.Amount {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fees
}

// Nonce draws the index a new query for flight is addressed to.
func (r *Registry) Nonce(surety.FlightKey) uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return uint8(r.rng.IntN(IndexSpace))
}

// Eligible reports whether oracle is registered and holds nonce.
func (r *Registry) Eligible(oracle surety.Principal, nonce uint8) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.oracles[oracle]
	return ok && o.Indexes.Contains(nonce)
}

// Responders lists the oracles holding nonce, ordered by id.
func (r *Registry) Responders(nonce uint8) []Oracle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Oracle
	for _, o := range r.oracles {
		if o.Indexes.Contains(nonce) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
