package surety

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNotOperational    = errors.New("contract is not operational")
	ErrAlreadyRegistered = errors.New("already registered")
	ErrUnknownAirline    = errors.New("unknown airline")
	ErrUnknownFlight     = errors.New("unknown flight")
	ErrUnknownQuery      = errors.New("unknown oracle query")
	ErrAlreadyFinalized  = errors.New("flight status already finalized")
	ErrAmountExceedsCap  = errors.New("amount exceeds policy cap")
	ErrDuplicatePolicy   = errors.New("passenger already holds a policy for this flight")
	ErrNothingToWithdraw = errors.New("nothing to withdraw")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidStatus     = errors.New("invalid flight status")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInsufficientFunds = errors.New("insufficient pooled funds")

	// ErrNotRegistered and ErrNotFunded are both Unauthorized.
	ErrNotRegistered = fmt.Errorf("%w: airline is not registered", ErrUnauthorized)
	ErrNotFunded     = fmt.Errorf("%w: airline has not met the minimum stake", ErrUnauthorized)
)
