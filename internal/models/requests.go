package models

import (
	"time"

	"github.com/cx-tal-miterani/flight-surety/internal/surety"
)

// ValueRequest carries the value attached to a call as a decimal string in
// whole units, e.g. "1.5".
type ValueRequest struct {
	Value string `json:"value"`
}

// OperationalRequest toggles the operational gate.
type OperationalRequest struct {
	Operational bool `json:"operational"`
}

// OperationalResponse reports the operational gate.
type OperationalResponse struct {
	Operational bool `json:"operational"`
}

// RegisterFlightRequest registers a flight for the calling airline.
type RegisterFlightRequest struct {
	Code      string `json:"code"`
	Departure int64  `json:"departure"`
}

// FundAndRegisterRequest funds the caller and registers flights in one call.
type FundAndRegisterRequest struct {
	Value   string              `json:"value"`
	Flights []surety.FlightPlan `json:"flights"`
}

// FundAndRegisterResponse is the outcome of FundAndRegisterRequest.
type FundAndRegisterResponse struct {
	Airline surety.Airline  `json:"airline"`
	Flights []surety.Flight `json:"flights"`
}

// OracleResponseRequest submits the caller's status report for a query.
type OracleResponseRequest struct {
	Query surety.QueryKey `json:"query"`
	// Status accepts the numeric code ("20") or the name ("late_airline").
	Status string `json:"status"`
}

// CreditResponse reports a passenger's outstanding payout.
type CreditResponse struct {
	Passenger surety.Principal `json:"passenger"`
	Credit    surety.Amount    `json:"credit"`
	Display   string           `json:"display"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

// EventRecord is a journaled ledger event.
type EventRecord struct {
	ID         string           `json:"id"`
	Seq        int64            `json:"seq"`
	Kind       string           `json:"kind"`
	Caller     surety.Principal `json:"caller"`
	Subject    string           `json:"subject,omitempty"`
	Payload    surety.Event     `json:"payload"`
	OccurredAt time.Time        `json:"occurredAt"`
}

// EventFilter narrows an event listing.
type EventFilter struct {
	Kind     string `json:"kind,omitempty"`
	Subject  string `json:"subject,omitempty"`
	AfterSeq int64  `json:"afterSeq,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}
