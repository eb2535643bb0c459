package surety

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Withdrawal is a completed payout.
type Withdrawal struct {
	Passenger Principal   `json:"passenger"`
	Amount    Amount      `json:"amount"`
	Policies  []FlightKey `json:"policies"`
}

// Withdraw transfers every credited, unclaimed payout of the caller in one
// transfer and marks those policies claimed. If custody fails nothing is
// claimed. Withdrawals are serialized on the pool, so concurrent payouts never
// draw more than it holds.
func (e *Engine) Withdraw(ctx context.Context, call Call) (Withdrawal, error) {
	settings, release := e.gate()
	defer release()

	if err := settings.requireOperational(); err != nil {
		return Withdrawal{}, e.reject("withdraw", call, err)
	}

	unlock := e.locks.lock(passengerKey(call.Caller), poolKey)
	defer unlock()

	total, keys := e.ledger.outstanding(call.Caller)
	if total == 0 {
		return Withdrawal{}, e.reject("withdraw", call, fmt.Errorf("%w: %s", ErrNothingToWithdraw, call.Caller))
	}
	if pool := e.ledger.poolBalance(); pool < total {
		e.log.WithFields(logrus.Fields{"owed": total.String(), "pool": pool.String()}).Error("Pool cannot cover payout")
		return Withdrawal{}, e.reject("withdraw", call, fmt.Errorf("%w: owed %s, pool holds %s", ErrInsufficientFunds, total, pool))
	}
	if err := e.custody.Transfer(ctx, call.Caller, total); err != nil {
		return Withdrawal{}, e.reject("withdraw", call, fmt.Errorf("failed to pay out %s to %s: %w", total, call.Caller, err))
	}
	if err := e.ledger.claim(keys, total); err != nil {
		e.log.WithFields(logrus.Fields{"passenger": call.Caller, "amount": total.String()}).WithError(err).Error("Paid out but failed to claim")
		return Withdrawal{}, fmt.Errorf("failed to claim payout for %s: %w", call.Caller, err)
	}

	w := Withdrawal{Passenger: call.Caller, Amount: total, Policies: make([]FlightKey, len(keys))}
	for i, k := range keys {
		w.Policies[i] = k.Flight
	}
	e.log.WithFields(logrus.Fields{
		"passenger": call.Caller,
		"amount":    total.String(),
		"policies":  len(keys),
	}).Info("Payout withdrawn")
	e.emit(Event{Kind: EventPayoutWithdrawn, Caller: call.Caller, Passenger: call.Caller, Amount: total})
	return w, nil
}

// Credit returns the passenger's credited payouts not yet withdrawn.
func (e *Engine) Credit(passenger Principal) Amount {
	total, _ := e.ledger.outstanding(passenger)
	return total
}
