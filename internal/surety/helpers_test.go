package surety

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	owner     Principal = "airline-0"
	passenger Principal = "passenger-1"
)

var testNow = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	e, err := New(DefaultConfig(owner), opts...)
	require.NoError(t, err)
	return e
}

func fund(t *testing.T, e *Engine, id Principal) {
	t.Helper()
	_, err := e.Fund(Call{Caller: id, Value: e.Config().MinimumStake})
	require.NoError(t, err)
}

// withBootstrapAirlines funds the owner and registers and funds each id while
// the airline set is still bootstrapping.
func withBootstrapAirlines(t *testing.T, e *Engine, ids ...Principal) {
	t.Helper()
	if !e.IsFunded(owner) {
		fund(t, e, owner)
	}
	for _, id := range ids {
		adm, err := e.RegisterAirline(From(owner), id)
		require.NoError(t, err)
		require.True(t, adm.Registered)
		fund(t, e, id)
	}
}

func registerTestFlight(t *testing.T, e *Engine, airline Principal, code string) FlightKey {
	t.Helper()
	f, err := e.RegisterFlight(From(airline), code, testNow.Add(24*time.Hour).Unix())
	require.NoError(t, err)
	return f.Key
}

// recorder collects emitted events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Observe(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

// fixedDirectory always hands out the same nonce and admits a fixed set of
// oracles.
type fixedDirectory struct {
	nonce    uint8
	eligible map[Principal]bool
}

func (d fixedDirectory) Nonce(FlightKey) uint8 { return d.nonce }

func (d fixedDirectory) Eligible(oracle Principal, nonce uint8) bool {
	return nonce == d.nonce && d.eligible[oracle]
}

type failingCustody struct{}

func (failingCustody) Transfer(context.Context, Principal, Amount) error {
	return errors.New("custody offline")
}

// requireUnchanged asserts a rejected operation left the ledger untouched.
func requireUnchanged(t *testing.T, e *Engine, before Snapshot, err error, target error) {
	t.Helper()
	require.ErrorIs(t, err, target)
	require.Equal(t, before, e.Snapshot())
}

// finalizeFlight opens a query and has a quorum of oracles agree on status.
func finalizeFlight(t *testing.T, e *Engine, flight FlightKey, status Status) Submission {
	t.Helper()
	q, err := e.RequestFlightStatus(From(passenger), flight)
	require.NoError(t, err)
	var sub Submission
	for i := 0; i < e.Config().Quorum; i++ {
		sub, err = e.SubmitOracleResponse(From(Principal(fmt.Sprintf("oracle-%d", i))), q.Key, status)
		require.NoError(t, err)
	}
	require.True(t, sub.Finalized)
	return sub
}
