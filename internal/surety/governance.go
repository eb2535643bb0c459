package surety

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Admission is the outcome of a registration request or an admission vote.
type Admission struct {
	Candidate  Principal `json:"candidate"`
	Registered bool      `json:"registered"`
	// Votes and Threshold are zero while the airline set is bootstrapping.
	Votes     int  `json:"votes"`
	Threshold int  `json:"threshold"`
	Counted   bool `json:"counted"`
}

// admissionThreshold is the number of distinct votes needed once the
// bootstrap set is full: the ceiling of half the registered airlines.
func admissionThreshold(registered int) int {
	return (registered + 1) / 2
}

// RegisterAirline admits candidate immediately while fewer than
// BootstrapSize airlines are registered; afterwards it opens (or adds to) the
// candidate's vote set with the caller's vote.
func (e *Engine) RegisterAirline(call Call, candidate Principal) (Admission, error) {
	settings, release := e.gate()
	defer release()

	if err := settings.requireOperational(); err != nil {
		return Admission{}, e.reject("register_airline", call, err)
	}
	if candidate == "" {
		return Admission{}, e.reject("register_airline", call, fmt.Errorf("%w: candidate is required", ErrInvalidArgument))
	}

	unlock := e.locks.lock(governanceKey, airlineKey(call.Caller), airlineKey(candidate))
	defer unlock()

	if err := e.requireActiveAirline(call.Caller); err != nil {
		return Admission{}, e.reject("register_airline", call, err)
	}
	adm, err := e.admitOrVote(call, candidate)
	if err != nil {
		return Admission{}, e.reject("register_airline", call, err)
	}
	return adm, nil
}

// VoteForAirline adds the caller's vote to candidate's vote set. A vote may
// precede the registration request; voting twice is a no-op.
func (e *Engine) VoteForAirline(call Call, candidate Principal) (Admission, error) {
	settings, release := e.gate()
	defer release()

	if err := settings.requireOperational(); err != nil {
		return Admission{}, e.reject("vote_for_airline", call, err)
	}
	if candidate == "" {
		return Admission{}, e.reject("vote_for_airline", call, fmt.Errorf("%w: candidate is required", ErrInvalidArgument))
	}
	if candidate == call.Caller {
		return Admission{}, e.reject("vote_for_airline", call, fmt.Errorf("%w: airlines cannot vote for themselves", ErrUnauthorized))
	}

	unlock := e.locks.lock(governanceKey, airlineKey(call.Caller), airlineKey(candidate))
	defer unlock()

	if err := e.requireActiveAirline(call.Caller); err != nil {
		return Admission{}, e.reject("vote_for_airline", call, err)
	}
	adm, err := e.admitOrVote(call, candidate)
	if err != nil {
		return Admission{}, e.reject("vote_for_airline", call, err)
	}
	return adm, nil
}

// admitOrVote must run under the governance lock.
func (e *Engine) admitOrVote(call Call, candidate Principal) (Admission, error) {
	if a, ok := e.ledger.airline(candidate); ok && a.Registered {
		return Admission{}, fmt.Errorf("%w: airline %s", ErrAlreadyRegistered, candidate)
	}

	registered := e.ledger.registeredCount()
	if registered < e.cfg.BootstrapSize {
		e.ledger.admit(candidate)
		e.log.WithFields(logrus.Fields{"airline": candidate, "by": call.Caller}).Info("Airline registered")
		e.emit(Event{Kind: EventAirlineRegistered, Caller: call.Caller, Airline: candidate})
		return Admission{Candidate: candidate, Registered: true}, nil
	}

	threshold := admissionThreshold(registered)
	votes, added, admitted := e.ledger.vote(candidate, call.Caller, threshold)
	adm := Admission{Candidate: candidate, Votes: votes, Threshold: threshold, Counted: added}

	var events []Event
	if added {
		events = append(events, Event{Kind: EventAirlineVoted, Caller: call.Caller, Airline: candidate})
	}
	if admitted {
		adm.Registered = true
		e.log.WithFields(logrus.Fields{
			"airline":   candidate,
			"votes":     votes,
			"threshold": threshold,
		}).Info("Airline admitted by vote")
		events = append(events, Event{Kind: EventAirlineRegistered, Caller: call.Caller, Airline: candidate})
	}
	e.emit(events...)
	return adm, nil
}

// UnregisterAirline removes an airline or a pending candidacy. Its vote set
// and any votes it cast for pending candidates are discarded; its stake stays
// in the pool. Owner only.
func (e *Engine) UnregisterAirline(call Call, airline Principal) error {
	settings, release := e.gate()
	defer release()

	if err := settings.requireOperational(); err != nil {
		return e.reject("unregister_airline", call, err)
	}
	if err := settings.requireOwner(call.Caller); err != nil {
		return e.reject("unregister_airline", call, err)
	}
	if airline == settings.Owner {
		return e.reject("unregister_airline", call, fmt.Errorf("%w: the genesis airline cannot be unregistered", ErrInvalidArgument))
	}

	unlock := e.locks.lock(governanceKey, airlineKey(airline))
	defer unlock()

	if _, ok := e.ledger.airline(airline); !ok {
		return e.reject("unregister_airline", call, fmt.Errorf("%w: %s", ErrUnknownAirline, airline))
	}
	e.ledger.removeAirline(airline)
	e.log.WithField("airline", airline).Info("Airline unregistered")
	e.emit(Event{Kind: EventAirlineRemoved, Caller: call.Caller, Airline: airline})
	return nil
}

// requireActiveAirline is the funding gate for privileged airline operations.
func (e *Engine) requireActiveAirline(id Principal) error {
	a, ok := e.ledger.airline(id)
	if !ok || !a.Registered {
		return fmt.Errorf("%w: %s", ErrNotRegistered, id)
	}
	if !a.Funded {
		return fmt.Errorf("%w: %s", ErrNotFunded, id)
	}
	return nil
}

// Airline returns a snapshot of the airline record.
func (e *Engine) Airline(id Principal) (Airline, error) {
	a, ok := e.ledger.airline(id)
	if !ok {
		return Airline{}, fmt.Errorf("%w: %s", ErrUnknownAirline, id)
	}
	return a, nil
}

// IsRegistered reports whether id is an admitted airline.
func (e *Engine) IsRegistered(id Principal) bool {
	a, ok := e.ledger.airline(id)
	return ok && a.Registered
}

// IsFunded reports whether id has met the minimum stake.
func (e *Engine) IsFunded(id Principal) bool {
	a, ok := e.ledger.airline(id)
	return ok && a.Funded
}

// IsQueued reports an admitted airline still waiting to fund its stake.
func (e *Engine) IsQueued(id Principal) bool {
	a, ok := e.ledger.airline(id)
	return ok && a.Queued()
}

// RegisteredCount returns the number of admitted airlines.
func (e *Engine) RegisteredCount() int {
	return e.ledger.registeredCount()
}
