package surety

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// RequestFlightStatus opens an oracle query for flight. The oracle directory
// picks the nonce; if a query with that nonce is already open it is returned
// unchanged.
func (e *Engine) RequestFlightStatus(call Call, flight FlightKey) (Query, error) {
	q, _, err := e.RequestQuery(call, flight)
	return q, err
}

// RequestQuery is RequestFlightStatus that also reports whether the call
// opened the query, as opposed to finding it already open.
func (e *Engine) RequestQuery(call Call, flight FlightKey) (q Query, opened bool, err error) {
	settings, release := e.gate()
	defer release()

	if err := settings.requireOperational(); err != nil {
		return Query{}, false, e.reject("request_flight_status", call, err)
	}

	unlock := e.locks.lock(flightKey(flight))
	defer unlock()

	f, ok := e.ledger.flight(flight)
	if !ok {
		return Query{}, false, e.reject("request_flight_status", call, fmt.Errorf("%w: %s", ErrUnknownFlight, flight))
	}
	if f.Finalized {
		return Query{}, false, e.reject("request_flight_status", call, fmt.Errorf("%w: %s is %s", ErrAlreadyFinalized, flight, f.Status))
	}

	key := QueryKey{Flight: flight, Nonce: e.oracles.Nonce(flight)}
	if existing, open := e.ledger.query(key); open {
		return existing, false, nil
	}
	q = e.ledger.openQuery(key, call.Caller, e.now())
	e.log.WithFields(logrus.Fields{"query": key.String(), "requester": call.Caller}).Info("Flight status requested")
	e.emit(Event{Kind: EventStatusRequested, Caller: call.Caller, Flight: &flight, Query: &key})
	return q, true, nil
}

// Submission is the outcome of one oracle response.
type Submission struct {
	Query QueryKey `json:"query"`
	// Accepted is false when the response was ignored: a repeat from the same
	// oracle, or a late answer for an already finalized flight.
	Accepted  bool     `json:"accepted"`
	Agreeing  int      `json:"agreeing"`
	Finalized bool     `json:"finalized"`
	Status    Status   `json:"status"`
	Credited  []Policy `json:"credited,omitempty"`
}

// SubmitOracleResponse records the calling oracle's status report for query.
// When Quorum oracles agree on one status the flight is finalized, every open
// query for it is discarded and, for StatusLateAirline, its policies are
// credited in the same step.
func (e *Engine) SubmitOracleResponse(call Call, query QueryKey, status Status) (Submission, error) {
	settings, release := e.gate()
	defer release()

	if err := settings.requireOperational(); err != nil {
		return Submission{}, e.reject("submit_oracle_response", call, err)
	}

	unlock := e.locks.lock(flightKey(query.Flight), queryKey(query))
	defer unlock()

	result := Submission{Query: query}
	f, known := e.ledger.flight(query.Flight)
	if known && f.Finalized {
		result.Finalized, result.Status = true, f.Status
		return result, nil
	}
	if _, open := e.ledger.query(query); !known || !open {
		return Submission{}, e.reject("submit_oracle_response", call, fmt.Errorf("%w: %s", ErrUnknownQuery, query))
	}
	if !e.oracles.Eligible(call.Caller, query.Nonce) {
		return Submission{}, e.reject("submit_oracle_response", call, fmt.Errorf("%w: oracle %s is not eligible for nonce %d", ErrUnauthorized, call.Caller, query.Nonce))
	}
	if !status.Terminal() {
		return Submission{}, e.reject("submit_oracle_response", call, fmt.Errorf("%w: %d", ErrInvalidStatus, status))
	}

	agreeing, fresh := e.ledger.wouldAgree(query, call.Caller, status)
	result.Agreeing = agreeing
	if !fresh {
		return result, nil
	}
	result.Accepted = true
	result.Status = status

	responded := Event{Kind: EventOracleResponded, Caller: call.Caller, Flight: &query.Flight, Query: &query, Status: status}
	if agreeing < e.cfg.Quorum {
		e.ledger.respond(query, call.Caller, status)
		e.emit(responded)
		return result, nil
	}

	_, credited, err := e.ledger.settle(query.Flight, status, e.now(), e.cfg.PayoutNumerator, e.cfg.PayoutDenominator)
	if err != nil {
		e.log.WithField("flight", query.Flight.String()).WithError(err).Error("Settlement failed")
		return Submission{}, fmt.Errorf("failed to settle %s: %w", query.Flight, err)
	}
	result.Finalized = true
	result.Credited = credited

	e.log.WithFields(logrus.Fields{
		"flight":   query.Flight.String(),
		"status":   status.String(),
		"credited": len(credited),
	}).Info("Flight status finalized")

	events := []Event{responded, {Kind: EventFlightFinalized, Caller: call.Caller, Flight: &query.Flight, Query: &query, Status: status}}
	for _, p := range credited {
		events = append(events, Event{
			Kind:      EventPayoutCredited,
			Caller:    call.Caller,
			Passenger: p.Passenger,
			Flight:    &query.Flight,
			Amount:    p.PayoutCredited,
		})
	}
	e.emit(events...)
	return result, nil
}

// AbandonQuery discards an open query, typically after its response window
// has elapsed. Owner or authorized callers only.
func (e *Engine) AbandonQuery(call Call, query QueryKey) error {
	settings, release := e.gate()
	defer release()

	if err := settings.requireOperational(); err != nil {
		return e.reject("abandon_query", call, err)
	}
	if err := settings.requirePrivileged(call.Caller); err != nil {
		return e.reject("abandon_query", call, err)
	}

	unlock := e.locks.lock(flightKey(query.Flight), queryKey(query))
	defer unlock()

	if _, open := e.ledger.query(query); !open {
		return e.reject("abandon_query", call, fmt.Errorf("%w: %s", ErrUnknownQuery, query))
	}
	e.ledger.dropQuery(query)
	e.log.WithField("query", query.String()).Info("Oracle query abandoned")
	e.emit(Event{Kind: EventQueryAbandoned, Caller: call.Caller, Flight: &query.Flight, Query: &query})
	return nil
}

// Query returns the open query, if any.
func (e *Engine) Query(key QueryKey) (Query, bool) {
	return e.ledger.query(key)
}

// OpenQueries lists the open queries for flight ordered by nonce.
func (e *Engine) OpenQueries(flight FlightKey) []QueryKey {
	return e.ledger.flightQueryKeys(flight)
}
