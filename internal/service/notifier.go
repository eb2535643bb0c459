package service

import (
	"context"
	"sync"
	"time"

	"github.com/cx-tal-miterani/flight-surety/internal/database"
	"github.com/cx-tal-miterani/flight-surety/internal/models"
	"github.com/cx-tal-miterani/flight-surety/internal/surety"
	"github.com/sirupsen/logrus"
)

// Notifier is a surety.Observer that, off the engine's critical path, caches
// finalized flights and signals the workflows of their queries.
type Notifier struct {
	cache     database.SnapshotCache
	workflows WorkflowClient
	log       logrus.FieldLogger
	events    chan surety.Event
	now       func() time.Time

	mu      sync.Mutex
	tracked map[surety.FlightKey]map[uint8]struct{}

	wg sync.WaitGroup
}

// NewNotifier creates a notifier. workflows may be nil.
func NewNotifier(cache database.SnapshotCache, workflows WorkflowClient, log logrus.FieldLogger, buffer int) *Notifier {
	if buffer <= 0 {
		buffer = 256
	}
	return &Notifier{
		cache:     cache,
		workflows: workflows,
		log:       log.WithField("component", "notifier"),
		events:    make(chan surety.Event, buffer),
		now:       time.Now,
		tracked:   make(map[surety.FlightKey]map[uint8]struct{}),
	}
}

// Observe enqueues finalization and abandonment events.
func (n *Notifier) Observe(ev surety.Event) {
	if ev.Kind != surety.EventFlightFinalized && ev.Kind != surety.EventQueryAbandoned {
		return
	}
	select {
	case n.events <- ev:
	default:
		n.log.WithField("kind", ev.Kind).Warn("Notifier queue full, event dropped")
	}
}

// Track records that a workflow runs for q.
func (n *Notifier) Track(q surety.QueryKey) {
	n.mu.Lock()
	defer n.mu.Unlock()
	nonces, ok := n.tracked[q.Flight]
	if !ok {
		nonces = make(map[uint8]struct{})
		n.tracked[q.Flight] = nonces
	}
	nonces[q.Nonce] = struct{}{}
}

// Tracked lists the tracked queries of flight.
func (n *Notifier) Tracked(flight surety.FlightKey) []surety.QueryKey {
	n.mu.Lock()
	defer n.mu.Unlock()
	var keys []surety.QueryKey
	for nonce := range n.tracked[flight] {
		keys = append(keys, surety.QueryKey{Flight: flight, Nonce: nonce})
	}
	return keys
}

func (n *Notifier) untrack(q surety.QueryKey) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.tracked[q.Flight], q.Nonce)
	if len(n.tracked[q.Flight]) == 0 {
		delete(n.tracked, q.Flight)
	}
}

func (n *Notifier) takeFlight(flight surety.FlightKey) []surety.QueryKey {
	n.mu.Lock()
	defer n.mu.Unlock()
	keys := make([]surety.QueryKey, 0, len(n.tracked[flight]))
	for nonce := range n.tracked[flight] {
		keys = append(keys, surety.QueryKey{Flight: flight, Nonce: nonce})
	}
	delete(n.tracked, flight)
	return keys
}

// Start processes events until ctx is canceled.
func (n *Notifier) Start(ctx context.Context) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for {
			select {
			case ev := <-n.events:
				n.handle(ctx, ev)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Wait blocks until the notifier has stopped.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) handle(ctx context.Context, ev surety.Event) {
	switch ev.Kind {
	case surety.EventQueryAbandoned:
		if ev.Query != nil {
			n.untrack(*ev.Query)
		}
	case surety.EventFlightFinalized:
		if ev.Flight == nil {
			return
		}
		n.finalized(ctx, *ev.Flight, ev.Status, ev.At)
	}
}

func (n *Notifier) finalized(ctx context.Context, flight surety.FlightKey, status surety.Status, at time.Time) {
	log := n.log.WithFields(logrus.Fields{"flight": flight.String(), "status": status.String()})

	snap := models.FlightSnapshot{Key: flight, Status: status, FinalizedAt: at, CachedAt: n.now()}
	if err := n.cache.PutFlight(ctx, snap); err != nil {
		log.WithError(err).Warn("Failed to cache finalized flight")
	}

	queries := n.takeFlight(flight)
	if n.workflows == nil {
		return
	}
	signal := models.QueryFinalizedSignal{Status: status, FinalizedAt: at}
	for _, q := range queries {
		workflowID := models.FlightStatusWorkflowID(q)
		if err := n.workflows.SignalWorkflow(ctx, workflowID, "", models.SignalQueryFinalized, signal); err != nil {
			log.WithError(err).WithField("workflow_id", workflowID).Debug("Failed to signal flight status workflow")
		}
	}
}
