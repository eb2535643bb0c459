package surety

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// BuyInsurance records a policy for the caller on flight, paid with the
// attached value. The premium joins the pool.
func (e *Engine) BuyInsurance(call Call, flight FlightKey) (Policy, error) {
	settings, release := e.gate()
	defer release()

	if err := settings.requireOperational(); err != nil {
		return Policy{}, e.reject("buy_insurance", call, err)
	}
	if call.Caller == "" {
		return Policy{}, e.reject("buy_insurance", call, fmt.Errorf("%w: passenger is required", ErrInvalidArgument))
	}

	unlock := e.locks.lock(flightKey(flight), passengerKey(call.Caller))
	defer unlock()

	f, ok := e.ledger.flight(flight)
	if !ok {
		return Policy{}, e.reject("buy_insurance", call, fmt.Errorf("%w: %s", ErrUnknownFlight, flight))
	}
	if f.Finalized {
		return Policy{}, e.reject("buy_insurance", call, fmt.Errorf("%w: %s is %s", ErrAlreadyFinalized, flight, f.Status))
	}
	if call.Value <= 0 {
		return Policy{}, e.reject("buy_insurance", call, fmt.Errorf("%w: premium must be positive", ErrInvalidAmount))
	}
	if call.Value > e.cfg.PolicyCap {
		return Policy{}, e.reject("buy_insurance", call, fmt.Errorf("%w: %s > %s", ErrAmountExceedsCap, call.Value, e.cfg.PolicyCap))
	}
	key := PolicyKey{Passenger: call.Caller, Flight: flight}
	if _, exists := e.ledger.policy(key); exists {
		return Policy{}, e.reject("buy_insurance", call, fmt.Errorf("%w: %s on %s", ErrDuplicatePolicy, call.Caller, flight))
	}

	p, err := e.ledger.addPolicy(key, call.Value, e.now())
	if err != nil {
		return Policy{}, e.reject("buy_insurance", call, err)
	}
	e.log.WithFields(logrus.Fields{
		"passenger": call.Caller,
		"flight":    flight.String(),
		"premium":   call.Value.String(),
	}).Info("Policy purchased")
	e.emit(Event{Kind: EventPolicyPurchased, Caller: call.Caller, Passenger: call.Caller, Flight: &flight, Amount: call.Value})
	return p, nil
}

// Policy returns the passenger's policy on flight.
func (e *Engine) Policy(passenger Principal, flight FlightKey) (Policy, bool) {
	return e.ledger.policy(PolicyKey{Passenger: passenger, Flight: flight})
}

// Policies lists the passenger's policies in purchase order.
func (e *Engine) Policies(passenger Principal) []Policy {
	return e.ledger.passengerPolicies(passenger)
}

// InsuredCount returns the number of policies written on flight.
func (e *Engine) InsuredCount(flight FlightKey) int {
	return e.ledger.flightPolicyCount(flight)
}
