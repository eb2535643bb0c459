package surety

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Airline is a read-only snapshot of an airline record.
type Airline struct {
	ID           Principal   `json:"id"`
	Registered   bool        `json:"registered"`
	Funded       bool        `json:"funded"`
	FundedAmount Amount      `json:"fundedAmount"`
	Votes        []Principal `json:"votes"`
}

// Queued reports an admitted airline that has not yet met the minimum stake.
func (a Airline) Queued() bool {
	return a.Registered && !a.Funded
}

// Candidate reports a pending candidacy: known to the ledger, not yet admitted.
func (a Airline) Candidate() bool {
	return !a.Registered
}

// Flight is a read-only snapshot of a flight record.
type Flight struct {
	Key          FlightKey `json:"key"`
	Status       Status    `json:"status"`
	Finalized    bool      `json:"finalized"`
	RegisteredAt time.Time `json:"registeredAt"`
	FinalizedAt  time.Time `json:"finalizedAt,omitempty"`
}

// Policy is a read-only snapshot of an insurance policy.
type Policy struct {
	Passenger      Principal `json:"passenger"`
	Flight         FlightKey `json:"flight"`
	AmountPaid     Amount    `json:"amountPaid"`
	PayoutCredited Amount    `json:"payoutCredited"`
	Claimed        bool      `json:"claimed"`
	PurchasedAt    time.Time `json:"purchasedAt"`
}

// Query is a read-only snapshot of an open oracle query.
type Query struct {
	Key       QueryKey       `json:"key"`
	Requester Principal      `json:"requester"`
	OpenedAt  time.Time      `json:"openedAt"`
	Responses int            `json:"responses"`
	Tally     map[Status]int `json:"tally"`
}

// Snapshot is a consistent copy of the whole ledger, ordered deterministically.
type Snapshot struct {
	Airlines   []Airline `json:"airlines"`
	Flights    []Flight  `json:"flights"`
	Policies   []Policy  `json:"policies"`
	Queries    []Query   `json:"queries"`
	Registered int       `json:"registered"`
	Pool       Amount    `json:"pool"`
}

type airlineRecord struct {
	registered   bool
	funded       bool
	fundedAmount Amount
	votes        map[Principal]struct{}
}

type flightRecord struct {
	status       Status
	finalized    bool
	registeredAt time.Time
	finalizedAt  time.Time
}

type policyRecord struct {
	amountPaid     Amount
	payoutCredited Amount
	claimed        bool
	purchasedAt    time.Time
}

type queryRecord struct {
	requester Principal
	openedAt  time.Time
	responses map[Principal]Status
	tallies   map[Status]map[Principal]struct{}
}

// Ledger holds every airline, flight, policy and open query plus the pooled
// balance. Its methods are individually atomic; multi-step operations are
// serialized by the Engine's entity locks.
type Ledger struct {
	mu sync.RWMutex

	airlines   map[Principal]*airlineRecord
	registered int

	flights       map[FlightKey]*flightRecord
	policies      map[PolicyKey]*policyRecord
	byFlight      map[FlightKey][]PolicyKey
	byPassenger   map[Principal][]PolicyKey
	queries       map[QueryKey]*queryRecord
	flightQueries map[FlightKey]map[uint8]struct{}

	pool Amount
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		airlines:      make(map[Principal]*airlineRecord),
		flights:       make(map[FlightKey]*flightRecord),
		policies:      make(map[PolicyKey]*policyRecord),
		byFlight:      make(map[FlightKey][]PolicyKey),
		byPassenger:   make(map[Principal][]PolicyKey),
		queries:       make(map[QueryKey]*queryRecord),
		flightQueries: make(map[FlightKey]map[uint8]struct{}),
	}
}

// --- Airlines ---

func (l *Ledger) airline(id Principal) (Airline, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.airlines[id]
	if !ok {
		return Airline{}, false
	}
	return rec.view(id), true
}

func (l *Ledger) registeredCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.registered
}

// candidate returns the airline record for id, creating an unregistered one.
func (l *Ledger) candidate(id Principal) *airlineRecord {
	rec, ok := l.airlines[id]
	if !ok {
		rec = &airlineRecord{votes: make(map[Principal]struct{})}
		l.airlines[id] = rec
	}
	return rec
}

func (l *Ledger) admit(id Principal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.admitLocked(l.candidate(id))
}

func (l *Ledger) admitLocked(rec *airlineRecord) {
	if !rec.registered {
		rec.registered = true
		l.registered++
	}
}

// vote records voter's vote for the candidate and admits it once the vote
// count reaches threshold. It returns the vote count and whether the vote was
// new.
func (l *Ledger) vote(candidate, voter Principal, threshold int) (votes int, added, admitted bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec := l.candidate(candidate)
	if _, dup := rec.votes[voter]; !dup {
		rec.votes[voter] = struct{}{}
		added = true
	}
	if len(rec.votes) >= threshold {
		l.admitLocked(rec)
		admitted = true
	}
	return len(rec.votes), added, admitted
}

func (l *Ledger) removeAirline(id Principal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.airlines[id]
	if !ok {
		return
	}
	if rec.registered {
		l.registered--
	}
	delete(l.airlines, id)
	for _, other := range l.airlines {
		if !other.registered {
			delete(other.votes, id)
		}
	}
}

// fund adds amount to the airline's stake and the pool.
// addAmount returns a+b, or ErrInvalidAmount if the sum does not fit.
func addAmount(a, b Amount) (Amount, error) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, fmt.Errorf("%w: %s + %s overflows", ErrInvalidAmount, a, b)
	}
	return a + b, nil
}

func (l *Ledger) fund(id Principal, amount, minimumStake Amount) (Airline, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.fundLocked(id, amount, minimumStake); err != nil {
		return Airline{}, err
	}
	return l.airlines[id].view(id), nil
}

// fundLocked leaves the ledger untouched when either the stake or the pool
// would overflow.
func (l *Ledger) fundLocked(id Principal, amount, minimumStake Amount) error {
	rec := l.airlines[id]
	stake, err := addAmount(rec.fundedAmount, amount)
	if err != nil {
		return err
	}
	pool, err := addAmount(l.pool, amount)
	if err != nil {
		return err
	}
	rec.fundedAmount = stake
	if stake >= minimumStake {
		rec.funded = true
	}
	l.pool = pool
	return nil
}

// fundAndAddFlights funds the airline and registers every flight in one step.
func (l *Ledger) fundAndAddFlights(id Principal, amount, minimumStake Amount, keys []FlightKey, at time.Time) (Airline, []Flight, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if amount > 0 {
		if err := l.fundLocked(id, amount, minimumStake); err != nil {
			return Airline{}, nil, err
		}
	}
	flights := make([]Flight, 0, len(keys))
	for _, key := range keys {
		flights = append(flights, l.addFlightLocked(key, at))
	}
	return l.airlines[id].view(id), flights, nil
}

func (r *airlineRecord) view(id Principal) Airline {
	votes := make([]Principal, 0, len(r.votes))
	for v := range r.votes {
		votes = append(votes, v)
	}
	sort.Slice(votes, func(i, j int) bool { return votes[i] < votes[j] })
	return Airline{
		ID:           id,
		Registered:   r.registered,
		Funded:       r.funded,
		FundedAmount: r.fundedAmount,
		Votes:        votes,
	}
}

// --- Flights ---

func (l *Ledger) flight(key FlightKey) (Flight, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.flights[key]
	if !ok {
		return Flight{}, false
	}
	return rec.view(key), true
}

func (l *Ledger) allFlights() []Flight {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Flight, 0, len(l.flights))
	for key, rec := range l.flights {
		out = append(out, rec.view(key))
	}
	sortFlights(out)
	return out
}

func (l *Ledger) addFlight(key FlightKey, at time.Time) Flight {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addFlightLocked(key, at)
}

func (l *Ledger) addFlightLocked(key FlightKey, at time.Time) Flight {
	rec := &flightRecord{status: StatusUnknown, registeredAt: at}
	l.flights[key] = rec
	return rec.view(key)
}

// settle finalizes the flight with status. A LateAirline status first
// credits every policy on the flight with num/den of its premium. Readers see
// either none or all of it.
func (l *Ledger) settle(key FlightKey, status Status, at time.Time, num, den Amount) (Flight, []Policy, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var credited []Policy
	if status == StatusLateAirline {
		var err error
		if credited, err = l.creditLocked(key, num, den); err != nil {
			return Flight{}, nil, err
		}
	}
	return l.finalizeLocked(key, status, at), credited, nil
}

// finalizeLocked sets the flight's terminal status and discards every open
// query for it.
func (l *Ledger) finalizeLocked(key FlightKey, status Status, at time.Time) Flight {
	rec := l.flights[key]
	rec.status = status
	rec.finalized = true
	rec.finalizedAt = at
	for nonce := range l.flightQueries[key] {
		delete(l.queries, QueryKey{Flight: key, Nonce: nonce})
	}
	delete(l.flightQueries, key)
	return rec.view(key)
}

func (r *flightRecord) view(key FlightKey) Flight {
	return Flight{
		Key:          key,
		Status:       r.status,
		Finalized:    r.finalized,
		RegisteredAt: r.registeredAt,
		FinalizedAt:  r.finalizedAt,
	}
}

// --- Policies ---

func (l *Ledger) policy(key PolicyKey) (Policy, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.policies[key]
	if !ok {
		return Policy{}, false
	}
	return rec.view(key), true
}

func (l *Ledger) addPolicy(key PolicyKey, amount Amount, at time.Time) (Policy, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pool, err := addAmount(l.pool, amount)
	if err != nil {
		return Policy{}, err
	}
	rec := &policyRecord{amountPaid: amount, purchasedAt: at}
	l.policies[key] = rec
	l.byFlight[key.Flight] = append(l.byFlight[key.Flight], key)
	l.byPassenger[key.Passenger] = append(l.byPassenger[key.Passenger], key)
	l.pool = pool
	return rec.view(key), nil
}

func (l *Ledger) passengerPolicies(passenger Principal) []Policy {
	l.mu.RLock()
	defer l.mu.RUnlock()
	keys := l.byPassenger[passenger]
	out := make([]Policy, 0, len(keys))
	for _, k := range keys {
		out = append(out, l.policies[k].view(k))
	}
	return out
}

// creditLocked applies the payout multiplier to every policy on the flight.
// The total credited is checked against the multiplier applied to total
// premiums.
func (l *Ledger) creditLocked(flight FlightKey, num, den Amount) ([]Policy, error) {
	keys := l.byFlight[flight]
	var paid, owed Amount
	payouts := make([]Amount, len(keys))
	for i, k := range keys {
		rec := l.policies[k]
		if rec.payoutCredited != 0 || rec.claimed {
			return nil, fmt.Errorf("policy for %s on %s already settled", k.Passenger, flight)
		}
		paid += rec.amountPaid
		payouts[i] = rec.amountPaid * num / den
		owed += payouts[i]
	}
	if owed > paid*num/den {
		return nil, fmt.Errorf("settlement of %s would credit %s against %s in premiums", flight, owed, paid)
	}

	credited := make([]Policy, 0, len(keys))
	for i, k := range keys {
		rec := l.policies[k]
		rec.payoutCredited = payouts[i]
		credited = append(credited, rec.view(k))
	}
	return credited, nil
}

// outstanding sums the credited, unclaimed payouts of a passenger.
func (l *Ledger) outstanding(passenger Principal) (Amount, []PolicyKey) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total Amount
	var keys []PolicyKey
	for _, k := range l.byPassenger[passenger] {
		rec := l.policies[k]
		if rec.claimed || rec.payoutCredited == 0 {
			continue
		}
		total += rec.payoutCredited
		keys = append(keys, k)
	}
	return total, keys
}

// claim marks the policies claimed and releases amount from the pool. The
// pool never goes negative.
func (l *Ledger) claim(keys []PolicyKey, amount Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pool < amount {
		return fmt.Errorf("%w: owed %s, pool holds %s", ErrInsufficientFunds, amount, l.pool)
	}
	for _, k := range keys {
		l.policies[k].claimed = true
	}
	l.pool -= amount
	return nil
}

func (r *policyRecord) view(key PolicyKey) Policy {
	return Policy{
		Passenger:      key.Passenger,
		Flight:         key.Flight,
		AmountPaid:     r.amountPaid,
		PayoutCredited: r.payoutCredited,
		Claimed:        r.claimed,
		PurchasedAt:    r.purchasedAt,
	}
}

// --- Oracle queries ---

func (l *Ledger) query(key QueryKey) (Query, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.queries[key]
	if !ok {
		return Query{}, false
	}
	return rec.view(key), true
}

func (l *Ledger) openQuery(key QueryKey, requester Principal, at time.Time) Query {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec := &queryRecord{
		requester: requester,
		openedAt:  at,
		responses: make(map[Principal]Status),
		tallies:   make(map[Status]map[Principal]struct{}),
	}
	l.queries[key] = rec
	if l.flightQueries[key.Flight] == nil {
		l.flightQueries[key.Flight] = make(map[uint8]struct{})
	}
	l.flightQueries[key.Flight][key.Nonce] = struct{}{}
	return rec.view(key)
}

// respond records one oracle response and returns how many oracles now agree
// on that status. A repeat response from the same oracle is not recorded.
func (l *Ledger) respond(key QueryKey, oracle Principal, status Status) (agreeing int, added bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec := l.queries[key]
	if _, dup := rec.responses[oracle]; dup {
		return len(rec.tallies[rec.responses[oracle]]), false
	}
	rec.responses[oracle] = status
	set := rec.tallies[status]
	if set == nil {
		set = make(map[Principal]struct{})
		rec.tallies[status] = set
	}
	set[oracle] = struct{}{}
	return len(set), true
}

// wouldAgree returns the number of oracles that would agree on status if
// oracle's response were recorded, and false if oracle already responded.
func (l *Ledger) wouldAgree(key QueryKey, oracle Principal, status Status) (int, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec := l.queries[key]
	if prev, dup := rec.responses[oracle]; dup {
		return len(rec.tallies[prev]), false
	}
	return len(rec.tallies[status]) + 1, true
}

func (l *Ledger) flightQueryKeys(flight FlightKey) []QueryKey {
	l.mu.RLock()
	defer l.mu.RUnlock()
	keys := make([]QueryKey, 0, len(l.flightQueries[flight]))
	for nonce := range l.flightQueries[flight] {
		keys = append(keys, QueryKey{Flight: flight, Nonce: nonce})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Nonce < keys[j].Nonce })
	return keys
}

func (l *Ledger) dropQuery(key QueryKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.queries, key)
	if nonces, ok := l.flightQueries[key.Flight]; ok {
		delete(nonces, key.Nonce)
		if len(nonces) == 0 {
			delete(l.flightQueries, key.Flight)
		}
	}
}

func (r *queryRecord) view(key QueryKey) Query {
	tally := make(map[Status]int, len(r.tallies))
	for st, set := range r.tallies {
		tally[st] = len(set)
	}
	return Query{
		Key:       key,
		Requester: r.requester,
		OpenedAt:  r.openedAt,
		Responses: len(r.responses),
		Tally:     tally,
	}
}

func (l *Ledger) flightPolicyCount(key FlightKey) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byFlight[key])
}

// --- Pool & snapshots ---

func (l *Ledger) poolBalance() Amount {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pool
}

// Snapshot copies the full ledger state.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Snapshot{Registered: l.registered, Pool: l.pool}
	for id, rec := range l.airlines {
		s.Airlines = append(s.Airlines, rec.view(id))
	}
	sort.Slice(s.Airlines, func(i, j int) bool { return s.Airlines[i].ID < s.Airlines[j].ID })

	for key, rec := range l.flights {
		s.Flights = append(s.Flights, rec.view(key))
	}
	sortFlights(s.Flights)

	for key, rec := range l.policies {
		s.Policies = append(s.Policies, rec.view(key))
	}
	sort.Slice(s.Policies, func(i, j int) bool {
		a, b := s.Policies[i], s.Policies[j]
		if a.Passenger != b.Passenger {
			return a.Passenger < b.Passenger
		}
		return a.Flight.String() < b.Flight.String()
	})

	for key, rec := range l.queries {
		s.Queries = append(s.Queries, rec.view(key))
	}
	sort.Slice(s.Queries, func(i, j int) bool { return s.Queries[i].Key.String() < s.Queries[j].Key.String() })
	return s
}

func sortFlights(flights []Flight) {
	sort.Slice(flights, func(i, j int) bool {
		a, b := flights[i].Key, flights[j].Key
		if a.Departure != b.Departure {
			return a.Departure < b.Departure
		}
		return a.String() < b.String()
	})
}
