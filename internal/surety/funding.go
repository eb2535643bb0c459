package surety

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Fund adds the attached value to the calling airline's stake. The airline
// becomes funded once its stake reaches MinimumStake.
func (e *Engine) Fund(call Call) (Airline, error) {
	settings, release := e.gate()
	defer release()

	if err := settings.requireOperational(); err != nil {
		return Airline{}, e.reject("fund", call, err)
	}
	if call.Value <= 0 {
		return Airline{}, e.reject("fund", call, fmt.Errorf("%w: funding must be positive", ErrInvalidAmount))
	}

	unlock := e.locks.lock(airlineKey(call.Caller))
	defer unlock()

	before, ok := e.ledger.airline(call.Caller)
	if !ok || !before.Registered {
		return Airline{}, e.reject("fund", call, fmt.Errorf("%w: %s", ErrNotRegistered, call.Caller))
	}
	after, err := e.ledger.fund(call.Caller, call.Value, e.cfg.MinimumStake)
	if err != nil {
		return Airline{}, e.reject("fund", call, err)
	}
	e.logFunding(before, after)
	e.emit(Event{Kind: EventAirlineFunded, Caller: call.Caller, Airline: call.Caller, Amount: call.Value})
	return after, nil
}

// FlightPlan is a flight to register in a FundAndRegisterFlights batch.
type FlightPlan struct {
	Code      string `json:"code"`
	Departure int64  `json:"departure"`
}

// FundAndRegisterFlights funds the caller with the attached value (which may
// be zero for an already funded airline) and registers every flight in the
// batch. Any invalid or duplicate flight rejects the whole call.
func (e *Engine) FundAndRegisterFlights(call Call, plans []FlightPlan) (Airline, []Flight, error) {
	settings, release := e.gate()
	defer release()

	if err := settings.requireOperational(); err != nil {
		return Airline{}, nil, e.reject("fund_and_register_flights", call, err)
	}
	if call.Value < 0 {
		return Airline{}, nil, e.reject("fund_and_register_flights", call, fmt.Errorf("%w: funding must not be negative", ErrInvalidAmount))
	}
	if len(plans) == 0 {
		return Airline{}, nil, e.reject("fund_and_register_flights", call, fmt.Errorf("%w: no flights given", ErrInvalidArgument))
	}

	keys := make([]FlightKey, len(plans))
	lockKeys := []string{airlineKey(call.Caller)}
	seen := make(map[FlightKey]struct{}, len(plans))
	for i, p := range plans {
		key := FlightKey{Airline: call.Caller, Code: p.Code, Departure: p.Departure}
		if err := key.validate(); err != nil {
			return Airline{}, nil, e.reject("fund_and_register_flights", call, err)
		}
		if _, dup := seen[key]; dup {
			return Airline{}, nil, e.reject("fund_and_register_flights", call, fmt.Errorf("%w: flight %s listed twice", ErrInvalidArgument, key))
		}
		seen[key] = struct{}{}
		keys[i] = key
		lockKeys = append(lockKeys, flightKey(key))
	}

	unlock := e.locks.lock(lockKeys...)
	defer unlock()

	before, ok := e.ledger.airline(call.Caller)
	if !ok || !before.Registered {
		return Airline{}, nil, e.reject("fund_and_register_flights", call, fmt.Errorf("%w: %s", ErrNotRegistered, call.Caller))
	}
	if before.FundedAmount+call.Value < e.cfg.MinimumStake {
		return Airline{}, nil, e.reject("fund_and_register_flights", call, fmt.Errorf("%w: %s", ErrNotFunded, call.Caller))
	}
	for _, key := range keys {
		if _, exists := e.ledger.flight(key); exists {
			return Airline{}, nil, e.reject("fund_and_register_flights", call, fmt.Errorf("%w: flight %s", ErrAlreadyRegistered, key))
		}
	}

	after, flights, err := e.ledger.fundAndAddFlights(call.Caller, call.Value, e.cfg.MinimumStake, keys, e.now())
	if err != nil {
		return Airline{}, nil, e.reject("fund_and_register_flights", call, err)
	}
	var events []Event
	if call.Value > 0 {
		e.logFunding(before, after)
		events = append(events, Event{Kind: EventAirlineFunded, Caller: call.Caller, Airline: call.Caller, Amount: call.Value})
	}
	for _, f := range flights {
		key := f.Key
		events = append(events, Event{Kind: EventFlightRegistered, Caller: call.Caller, Airline: call.Caller, Flight: &key})
	}
	e.log.WithFields(logrus.Fields{"airline": call.Caller, "flights": len(flights)}).Info("Flights registered")
	e.emit(events...)
	return after, flights, nil
}

// RegisterFlight registers a flight operated by the calling airline.
func (e *Engine) RegisterFlight(call Call, code string, departure int64) (Flight, error) {
	settings, release := e.gate()
	defer release()

	if err := settings.requireOperational(); err != nil {
		return Flight{}, e.reject("register_flight", call, err)
	}
	key := FlightKey{Airline: call.Caller, Code: code, Departure: departure}
	if err := key.validate(); err != nil {
		return Flight{}, e.reject("register_flight", call, err)
	}

	unlock := e.locks.lock(airlineKey(call.Caller), flightKey(key))
	defer unlock()

	if err := e.requireActiveAirline(call.Caller); err != nil {
		return Flight{}, e.reject("register_flight", call, err)
	}
	if _, exists := e.ledger.flight(key); exists {
		return Flight{}, e.reject("register_flight", call, fmt.Errorf("%w: flight %s", ErrAlreadyRegistered, key))
	}
	f := e.ledger.addFlight(key, e.now())
	e.log.WithField("flight", key.String()).Info("Flight registered")
	e.emit(Event{Kind: EventFlightRegistered, Caller: call.Caller, Airline: call.Caller, Flight: &key})
	return f, nil
}

// Flight returns a snapshot of the flight record.
func (e *Engine) Flight(key FlightKey) (Flight, error) {
	f, ok := e.ledger.flight(key)
	if !ok {
		return Flight{}, fmt.Errorf("%w: %s", ErrUnknownFlight, key)
	}
	return f, nil
}

// FlightRegistered reports whether the flight is known.
func (e *Engine) FlightRegistered(key FlightKey) bool {
	_, ok := e.ledger.flight(key)
	return ok
}

// Flights lists every registered flight ordered by departure.
func (e *Engine) Flights() []Flight {
	return e.ledger.allFlights()
}

func (e *Engine) logFunding(before, after Airline) {
	fields := logrus.Fields{
		"airline": after.ID,
		"added":   (after.FundedAmount - before.FundedAmount).String(),
		"total":   after.FundedAmount.String(),
	}
	if !before.Funded && after.Funded {
		e.log.WithFields(fields).Info("Airline met minimum stake")
		return
	}
	e.log.WithFields(fields).Debug("Airline funded")
}
