package database

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/cx-tal-miterani/flight-surety/internal/surety"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	rows []EventRow
	err  error
}

func (m *memStore) AppendEvents(_ context.Context, rows []EventRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.rows = append(m.rows, rows...)
	return nil
}

func (m *memStore) kinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.rows))
	for i, r := range m.rows {
		out[i] = r.Kind
	}
	return out
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestJournal_FlushesOnShutdown(t *testing.T) {
	store := &memStore{}
	j := NewJournal(store, quietLogger(), 16, 100, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	j.Start(ctx)

	j.Observe(surety.Event{Kind: surety.EventAirlineFunded, Caller: "airline-0", Airline: "airline-0"})
	j.Observe(surety.Event{Kind: surety.EventAirlineRegistered, Caller: "airline-0", Airline: "airline-1"})
	cancel()
	j.Wait()

	assert.Equal(t, []string{"airline_funded", "airline_registered"}, store.kinds())
	assert.Equal(t, JournalStats{Written: 2}, j.Stats())
}

func TestJournal_FlushesFullBatches(t *testing.T) {
	store := &memStore{}
	j := NewJournal(store, quietLogger(), 16, 2, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	j.Start(ctx)

	j.Observe(surety.Event{Kind: surety.EventAirlineFunded})
	j.Observe(surety.Event{Kind: surety.EventAirlineFunded})

	require.Eventually(t, func() bool { return len(store.kinds()) == 2 }, time.Second, 10*time.Millisecond)
}

func TestJournal_DropsWhenFull(t *testing.T) {
	store := &memStore{}
	j := NewJournal(store, quietLogger(), 1, 10, time.Hour)

	// Not started, so the buffer fills.
	j.Observe(surety.Event{Kind: surety.EventAirlineFunded})
	j.Observe(surety.Event{Kind: surety.EventAirlineFunded})
	j.Observe(surety.Event{Kind: surety.EventAirlineFunded})

	assert.Equal(t, int64(2), j.Stats().Dropped)
}

func TestJournal_CountsStoreFailures(t *testing.T) {
	store := &memStore{err: errors.New("connection refused")}
	j := NewJournal(store, quietLogger(), 16, 100, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	j.Start(ctx)

	j.Observe(surety.Event{Kind: surety.EventPolicyPurchased})
	cancel()
	j.Wait()

	assert.Equal(t, int64(1), j.Stats().Failed)
	assert.Zero(t, j.Stats().Written)
}

func TestEventRow_RoundTrip(t *testing.T) {
	flight := surety.FlightKey{Airline: "airline-0", Code: "SU100", Departure: 1700000000}
	at := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	ev := surety.Event{
		Kind:      surety.EventPayoutCredited,
		Caller:    "oracle-1",
		Passenger: "passenger-1",
		Flight:    &flight,
		Amount:    surety.Unit * 3 / 2,
		At:        at,
	}

	row, err := NewEventRow(ev)
	require.NoError(t, err)
	assert.Equal(t, "flight:airline-0/SU100/1700000000", row.Subject)
	row.Seq = 7

	rec, err := row.Record()
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.Seq)
	assert.Equal(t, row.ID.String(), rec.ID)
	assert.Equal(t, ev, rec.Payload)
}

func TestSubjectOf(t *testing.T) {
	assert.Equal(t, "passenger:p", SubjectOf(surety.Event{Passenger: "p", Airline: "a"}))
	assert.Equal(t, "airline:a", SubjectOf(surety.Event{Airline: "a"}))
	assert.Equal(t, "", SubjectOf(surety.Event{Kind: surety.EventOperationalChanged}))
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, defaultListLimit, clampLimit(0))
	assert.Equal(t, 10, clampLimit(10))
	assert.Equal(t, maxListLimit, clampLimit(5000))
}
