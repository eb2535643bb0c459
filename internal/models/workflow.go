package models

import (
	"time"

	"github.com/cx-tal-miterani/flight-surety/internal/surety"
)

// FlightStatusWorkflowInput starts the workflow that drives one oracle query
// to finalization or abandonment.
type FlightStatusWorkflowInput struct {
	Query     surety.QueryKey  `json:"query"`
	Requester surety.Principal `json:"requester"`
	// Timeout is how long the query may stay open before it is abandoned.
	Timeout time.Duration `json:"timeout"`
	// DispatchDelay is how long simulated oracles wait before answering.
	DispatchDelay time.Duration `json:"dispatchDelay"`
}

// FlightStatusWorkflowResult is how the query ended.
type FlightStatusWorkflowResult struct {
	Query     surety.QueryKey `json:"query"`
	Outcome   QueryOutcome    `json:"outcome"`
	Status    surety.Status   `json:"status,omitempty"`
	Responses int             `json:"responses"`
}

type QueryOutcome string

const (
	QueryOutcomeFinalized QueryOutcome = "finalized"
	QueryOutcomeAbandoned QueryOutcome = "abandoned"
)

// FlightStatusWorkflowState is returned by the get_state query.
type FlightStatusWorkflowState struct {
	Query       surety.QueryKey `json:"query"`
	Dispatched  int             `json:"dispatched"`
	Finalized   bool            `json:"finalized"`
	Status      surety.Status   `json:"status,omitempty"`
	Deadline    time.Time       `json:"deadline"`
	LastUpdated time.Time       `json:"lastUpdated"`
}

// Signals for workflow communication
const (
	SignalQueryFinalized = "query-finalized"
)

// QueryFinalizedSignal is sent by the API server when the query's flight is
// finalized.
type QueryFinalizedSignal struct {
	Status      surety.Status `json:"status"`
	FinalizedAt time.Time     `json:"finalizedAt"`
}

// Queries for workflow state
const (
	QueryGetState = "get_state"
)

// FlightStatusWorkflowID names the workflow for a query.
func FlightStatusWorkflowID(q surety.QueryKey) string {
	return "flight-status-" + q.String()
}

// Activity inputs and results

type DispatchResponsesInput struct {
	Query surety.QueryKey `json:"query"`
}

type DispatchResponsesResult struct {
	Sent      int           `json:"sent"`
	Finalized bool          `json:"finalized"`
	Status    surety.Status `json:"status,omitempty"`
}

type CheckFinalizedInput struct {
	Flight surety.FlightKey `json:"flight"`
}

type CheckFinalizedResult struct {
	Finalized bool          `json:"finalized"`
	Status    surety.Status `json:"status,omitempty"`
}

type AbandonQueryInput struct {
	Query surety.QueryKey `json:"query"`
}
