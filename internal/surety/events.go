package surety

import "time"

// EventKind names an applied state transition.
type EventKind string

const (
	EventOperationalChanged EventKind = "operational_changed"
	EventAirlineFunded      EventKind = "airline_funded"
	EventAirlineVoted       EventKind = "airline_voted"
	EventAirlineRegistered  EventKind = "airline_registered"
	EventAirlineRemoved     EventKind = "airline_removed"
	EventFlightRegistered   EventKind = "flight_registered"
	EventPolicyPurchased    EventKind = "policy_purchased"
	EventStatusRequested    EventKind = "status_requested"
	EventOracleResponded    EventKind = "oracle_responded"
	EventQueryAbandoned     EventKind = "query_abandoned"
	EventFlightFinalized    EventKind = "flight_finalized"
	EventPayoutCredited     EventKind = "payout_credited"
	EventPayoutWithdrawn    EventKind = "payout_withdrawn"
)

// Event describes one applied transition. Only the fields relevant to the
// kind are set.
type Event struct {
	Kind        EventKind  `json:"kind"`
	Caller      Principal  `json:"caller"`
	Airline     Principal  `json:"airline,omitempty"`
	Passenger   Principal  `json:"passenger,omitempty"`
	Flight      *FlightKey `json:"flight,omitempty"`
	Query       *QueryKey  `json:"query,omitempty"`
	Status      Status     `json:"status,omitempty"`
	Amount      Amount     `json:"amount,omitempty"`
	Operational bool       `json:"operational,omitempty"`
	At          time.Time  `json:"at"`
}

// Observer is notified of every applied event, in order, while the
// operation's entity locks are held. Implementations must not block and must
// not call back into the Engine.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(ev Event) { f(ev) }

// Observers fans an event out to several observers.
type Observers []Observer

func (o Observers) Observe(ev Event) {
	for _, obs := range o {
		obs.Observe(ev)
	}
}

type nopObserver struct{}

func (nopObserver) Observe(Event) {}
