// Package metrics keeps process counters for the surety API.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cx-tal-miterani/flight-surety/internal/surety"
)

// Metrics collects operation and ledger counters. It is a surety.Observer.
type Metrics struct {
	// Operation metrics
	opsAccepted atomic.Int64
	opsRejected atomic.Int64

	// Ledger metrics
	airlinesRegistered atomic.Int64
	fundingDeposits    atomic.Int64
	flightsRegistered  atomic.Int64
	policiesPurchased  atomic.Int64
	queriesOpened      atomic.Int64
	queriesAbandoned   atomic.Int64
	oracleResponses    atomic.Int64
	flightsFinalized   atomic.Int64
	payoutsCredited    atomic.Int64
	payoutsWithdrawn   atomic.Int64
	creditedAmount     atomic.Int64
	withdrawnAmount    atomic.Int64

	// HTTP metrics
	httpRequests    atomic.Int64
	httpErrors      atomic.Int64
	httpRateLimited atomic.Int64

	mu        sync.RWMutex
	rejected  map[string]int64
	startTime time.Time
}

// New creates a metrics collector.
func New() *Metrics {
	return &Metrics{
		rejected:  make(map[string]int64),
		startTime: time.Now(),
	}
}

// Observe counts applied ledger events.
func (m *Metrics) Observe(ev surety.Event) {
	switch ev.Kind {
	case surety.EventAirlineRegistered:
		m.airlinesRegistered.Add(1)
	case surety.EventAirlineFunded:
		m.fundingDeposits.Add(1)
	case surety.EventFlightRegistered:
		m.flightsRegistered.Add(1)
	case surety.EventPolicyPurchased:
		m.policiesPurchased.Add(1)
	case surety.EventStatusRequested:
		m.queriesOpened.Add(1)
	case surety.EventQueryAbandoned:
		m.queriesAbandoned.Add(1)
	case surety.EventOracleResponded:
		m.oracleResponses.Add(1)
	case surety.EventFlightFinalized:
		m.flightsFinalized.Add(1)
	case surety.EventPayoutCredited:
		m.payoutsCredited.Add(1)
		m.creditedAmount.Add(int64(ev.Amount))
	case surety.EventPayoutWithdrawn:
		m.payoutsWithdrawn.Add(1)
		m.withdrawnAmount.Add(int64(ev.Amount))
	}
}

// RecordOperation counts the outcome of one engine operation.
func (m *Metrics) RecordOperation(op string, err error) {
	if err == nil {
		m.opsAccepted.Add(1)
		return
	}
	m.opsRejected.Add(1)
	m.mu.Lock()
	m.rejected[op]++
	m.mu.Unlock()
}

func (m *Metrics) IncrementHTTPRequests() {
	m.httpRequests.Add(1)
}

func (m *Metrics) IncrementHTTPErrors() {
	m.httpErrors.Add(1)
}

func (m *Metrics) IncrementRateLimited() {
	m.httpRateLimited.Add(1)
}

func (m *Metrics) GetUptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Since(m.startTime)
}

// Snapshot represents a point-in-time snapshot of all metrics
type Snapshot struct {
	OperationsAccepted int64            `json:"operations_accepted"`
	OperationsRejected int64            `json:"operations_rejected"`
	RejectedByOp       map[string]int64 `json:"rejected_by_operation"`

	AirlinesRegistered int64  `json:"airlines_registered"`
	FundingDeposits    int64  `json:"funding_deposits"`
	FlightsRegistered  int64  `json:"flights_registered"`
	PoliciesPurchased  int64  `json:"policies_purchased"`
	QueriesOpened      int64  `json:"queries_opened"`
	QueriesAbandoned   int64  `json:"queries_abandoned"`
	OracleResponses    int64  `json:"oracle_responses"`
	FlightsFinalized   int64  `json:"flights_finalized"`
	PayoutsCredited    int64  `json:"payouts_credited"`
	PayoutsWithdrawn   int64  `json:"payouts_withdrawn"`
	CreditedAmount     string `json:"credited_amount"`
	WithdrawnAmount    string `json:"withdrawn_amount"`

	HTTPRequests    int64 `json:"http_requests"`
	HTTPErrors      int64 `json:"http_errors"`
	HTTPRateLimited int64 `json:"http_rate_limited"`

	UptimeSeconds int64 `json:"uptime_seconds"`
	Timestamp     int64 `json:"timestamp"`
}

// GetSnapshot returns a snapshot of all current metrics
func (m *Metrics) GetSnapshot() *Snapshot {
	m.mu.RLock()
	rejected := make(map[string]int64, len(m.rejected))
	for op, n := range m.rejected {
		rejected[op] = n
	}
	m.mu.RUnlock()

	return &Snapshot{
		OperationsAccepted: m.opsAccepted.Load(),
		OperationsRejected: m.opsRejected.Load(),
		RejectedByOp:       rejected,
		AirlinesRegistered: m.airlinesRegistered.Load(),
		FundingDeposits:    m.fundingDeposits.Load(),
		FlightsRegistered:  m.flightsRegistered.Load(),
		PoliciesPurchased:  m.policiesPurchased.Load(),
		QueriesOpened:      m.queriesOpened.Load(),
		QueriesAbandoned:   m.queriesAbandoned.Load(),
		OracleResponses:    m.oracleResponses.Load(),
		FlightsFinalized:   m.flightsFinalized.Load(),
		PayoutsCredited:    m.payoutsCredited.Load(),
		PayoutsWithdrawn:   m.payoutsWithdrawn.Load(),
		CreditedAmount:     surety.Amount(m.creditedAmount.Load()).String(),
		WithdrawnAmount:    surety.Amount(m.withdrawnAmount.Load()).String(),
		HTTPRequests:       m.httpRequests.Load(),
		HTTPErrors:         m.httpErrors.Load(),
		HTTPRateLimited:    m.httpRateLimited.Load(),
		UptimeSeconds:      int64(m.GetUptime().Seconds()),
		Timestamp:          time.Now().Unix(),
	}
}
