package surety

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettlement_OnlyForLateAirline(t *testing.T) {
	statuses := []Status{StatusOnTime, StatusLateAirline, StatusLateWeather, StatusLateTechnical, StatusLateOther}

	for _, status := range statuses {
		t.Run(status.String(), func(t *testing.T) {
			e := newTestEngine(t)
			fund(t, e, owner)
			flight := registerTestFlight(t, e, owner, "SU100")
			_, err := e.BuyInsurance(Call{Caller: passenger, Value: Unit}, flight)
			require.NoError(t, err)

			sub := finalizeFlight(t, e, flight, status)

			p, ok := e.Policy(passenger, flight)
			require.True(t, ok)
			if status == StatusLateAirline {
				assert.Equal(t, Unit*3/2, p.PayoutCredited)
				assert.Len(t, sub.Credited, 1)
			} else {
				assert.Zero(t, p.PayoutCredited)
				assert.Empty(t, sub.Credited)
			}
		})
	}
}

func TestSettlement_CreditsEveryPolicyOnFlight(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, owner)
	flight := registerTestFlight(t, e, owner, "SU100")
	other := registerTestFlight(t, e, owner, "SU200")

	premiums := map[Principal]Amount{"passenger-1": Unit, "passenger-2": Unit / 2, "passenger-3": 3}
	for p, amount := range premiums {
		_, err := e.BuyInsurance(Call{Caller: p, Value: amount}, flight)
		require.NoError(t, err)
	}
	_, err := e.BuyInsurance(Call{Caller: "passenger-1", Value: Unit}, other)
	require.NoError(t, err)

	finalizeFlight(t, e, flight, StatusLateAirline)

	var credited, paid Amount
	for p, amount := range premiums {
		policy, ok := e.Policy(p, flight)
		require.True(t, ok)
		assert.Equal(t, amount*3/2, policy.PayoutCredited)
		credited += policy.PayoutCredited
		paid += amount
	}
	assert.LessOrEqual(t, credited, paid*3/2)

	untouched, ok := e.Policy("passenger-1", other)
	require.True(t, ok)
	assert.Zero(t, untouched.PayoutCredited)
}

func TestWithdraw(t *testing.T) {
	vault := NewVault()
	rec := &recorder{}
	e := newTestEngine(t, WithCustody(vault), WithObserver(rec))
	fund(t, e, owner)
	first := registerTestFlight(t, e, owner, "SU100")
	second := registerTestFlight(t, e, owner, "SU200")
	for _, f := range []FlightKey{first, second} {
		_, err := e.BuyInsurance(Call{Caller: passenger, Value: Unit}, f)
		require.NoError(t, err)
	}
	finalizeFlight(t, e, first, StatusLateAirline)
	finalizeFlight(t, e, second, StatusLateAirline)
	pool := e.Pool()

	w, err := e.Withdraw(context.Background(), From(passenger))
	require.NoError(t, err)
	assert.Equal(t, 3*Unit, w.Amount)
	assert.ElementsMatch(t, []FlightKey{first, second}, w.Policies)
	assert.Equal(t, 3*Unit, vault.Balance(passenger))
	assert.Equal(t, pool-3*Unit, e.Pool())
	assert.Zero(t, e.Credit(passenger))
	assert.Contains(t, rec.kinds(), EventPayoutWithdrawn)

	for _, p := range e.Policies(passenger) {
		assert.True(t, p.Claimed)
	}

	before := e.Snapshot()
	_, err = e.Withdraw(context.Background(), From(passenger))
	requireUnchanged(t, e, before, err, ErrNothingToWithdraw)
	assert.Equal(t, 3*Unit, vault.Balance(passenger))
}

func TestWithdraw_NothingCredited(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, owner)
	flight := registerTestFlight(t, e, owner, "SU100")
	_, err := e.BuyInsurance(Call{Caller: passenger, Value: Unit}, flight)
	require.NoError(t, err)
	before := e.Snapshot()

	_, err = e.Withdraw(context.Background(), From(passenger))
	requireUnchanged(t, e, before, err, ErrNothingToWithdraw)

	_, err = e.Withdraw(context.Background(), From("stranger"))
	requireUnchanged(t, e, before, err, ErrNothingToWithdraw)
}

func TestWithdraw_CustodyFailureLeavesCreditIntact(t *testing.T) {
	e := newTestEngine(t, WithCustody(failingCustody{}))
	fund(t, e, owner)
	flight := registerTestFlight(t, e, owner, "SU100")
	_, err := e.BuyInsurance(Call{Caller: passenger, Value: Unit}, flight)
	require.NoError(t, err)
	finalizeFlight(t, e, flight, StatusLateAirline)
	before := e.Snapshot()

	_, err = e.Withdraw(context.Background(), From(passenger))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "custody offline")
	assert.Equal(t, before, e.Snapshot())
	assert.Equal(t, Unit*3/2, e.Credit(passenger))
}

func TestWithdraw_CanceledContext(t *testing.T) {
	e := newTestEngine(t)
	fund(t, e, owner)
	flight := registerTestFlight(t, e, owner, "SU100")
	_, err := e.BuyInsurance(Call{Caller: passenger, Value: Unit}, flight)
	require.NoError(t, err)
	finalizeFlight(t, e, flight, StatusLateAirline)
	before := e.Snapshot()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Withdraw(ctx, From(passenger))
	requireUnchanged(t, e, before, err, context.Canceled)
}

func TestWithdraw_InsufficientPool(t *testing.T) {
	cfg := DefaultConfig(owner)
	cfg.MinimumStake = 1
	cfg.PayoutNumerator = 5
	cfg.PayoutDenominator = 1
	e, err := New(cfg)
	require.NoError(t, err)

	_, err = e.Fund(Call{Caller: owner, Value: 1})
	require.NoError(t, err)
	f, err := e.RegisterFlight(From(owner), "SU100", testNow.Unix())
	require.NoError(t, err)
	_, err = e.BuyInsurance(Call{Caller: passenger, Value: Unit}, f.Key)
	require.NoError(t, err)
	finalizeFlight(t, e, f.Key, StatusLateAirline)
	before := e.Snapshot()

	_, err = e.Withdraw(context.Background(), From(passenger))
	requireUnchanged(t, e, before, err, ErrInsufficientFunds)
}

// Scenario: three oracles report a LateAirline delay, the passenger's 1 unit
// premium becomes a 1.5 unit credit, and a single withdrawal pays it out.
func TestScenario_DelayPayout(t *testing.T) {
	vault := NewVault()
	e := newTestEngine(t, WithCustody(vault))
	fund(t, e, owner)
	flight := registerTestFlight(t, e, owner, "SU100")

	_, err := e.BuyInsurance(Call{Caller: passenger, Value: Unit}, flight)
	require.NoError(t, err)

	q, err := e.RequestFlightStatus(From(passenger), flight)
	require.NoError(t, err)
	for _, oracle := range []Principal{"oracle-1", "oracle-2", "oracle-3"} {
		_, err := e.SubmitOracleResponse(From(oracle), q.Key, StatusLateAirline)
		require.NoError(t, err)
	}

	p, ok := e.Policy(passenger, flight)
	require.True(t, ok)
	assert.Equal(t, 1500*Unit/1000, p.PayoutCredited)

	w, err := e.Withdraw(context.Background(), From(passenger))
	require.NoError(t, err)
	assert.Equal(t, "1.5", w.Amount.String())
	assert.Equal(t, 1500*Unit/1000, vault.Balance(passenger))
	assert.Zero(t, e.Credit(passenger))
}
