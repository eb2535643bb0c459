// Package surety implements the flight insurance governance and settlement
// state machine: airline admission, funding-gated privileges, flight
// registration, policy underwriting, oracle consensus and payouts.
//
// Every operation is attributed to a Call and either applies completely or is
// rejected with a sentinel error and no state change.
package surety

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds the economic and consensus constants of a deployment.
type Config struct {
	Owner             Principal
	MinimumStake      Amount
	PolicyCap         Amount
	Quorum            int
	BootstrapSize     int
	PayoutNumerator   Amount
	PayoutDenominator Amount
}

// DefaultConfig returns the standard constants: 10 unit stake, 1 unit policy
// cap, 3 matching oracle responses, 4 bootstrap airlines and a 1.5x payout.
func DefaultConfig(owner Principal) Config {
	return Config{
		Owner:             owner,
		MinimumStake:      10 * Unit,
		PolicyCap:         1 * Unit,
		Quorum:            3,
		BootstrapSize:     4,
		PayoutNumerator:   3,
		PayoutDenominator: 2,
	}
}

// Validate checks the constants are usable.
func (c Config) Validate() error {
	switch {
	case c.Owner == "":
		return fmt.Errorf("%w: owner is required", ErrInvalidArgument)
	case c.MinimumStake <= 0:
		return fmt.Errorf("%w: minimum stake must be positive", ErrInvalidArgument)
	case c.PolicyCap <= 0:
		return fmt.Errorf("%w: policy cap must be positive", ErrInvalidArgument)
	case c.Quorum < 1:
		return fmt.Errorf("%w: quorum must be at least 1", ErrInvalidArgument)
	case c.BootstrapSize < 1:
		return fmt.Errorf("%w: bootstrap size must be at least 1", ErrInvalidArgument)
	case c.PayoutNumerator <= 0 || c.PayoutDenominator <= 0:
		return fmt.Errorf("%w: payout multiplier must be positive", ErrInvalidArgument)
	}
	return nil
}

// Settings is the admin-controlled configuration every operation is checked
// against.
type Settings struct {
	Owner       Principal
	Operational bool
	Authorized  map[Principal]struct{}
}

func (s Settings) requireOperational() error {
	if !s.Operational {
		return ErrNotOperational
	}
	return nil
}

func (s Settings) requireOwner(caller Principal) error {
	if caller != s.Owner {
		return fmt.Errorf("%w: %s is not the contract owner", ErrUnauthorized, caller)
	}
	return nil
}

// requirePrivileged admits the owner and any authorized caller.
func (s Settings) requirePrivileged(caller Principal) error {
	if caller == s.Owner {
		return nil
	}
	if _, ok := s.Authorized[caller]; ok {
		return nil
	}
	return fmt.Errorf("%w: %s is not an authorized caller", ErrUnauthorized, caller)
}

func (s Settings) clone() Settings {
	authorized := make(map[Principal]struct{}, len(s.Authorized))
	for p := range s.Authorized {
		authorized[p] = struct{}{}
	}
	s.Authorized = authorized
	return s
}

// Custody moves pooled value out to a principal.
type Custody interface {
	Transfer(ctx context.Context, to Principal, amount Amount) error
}

// OracleDirectory chooses query nonces and decides which oracles may answer.
type OracleDirectory interface {
	Nonce(flight FlightKey) uint8
	Eligible(oracle Principal, nonce uint8) bool
}

type openDirectory struct{}

func (openDirectory) Nonce(FlightKey) uint8 { return 0 }
func (openDirectory) Eligible(Principal, uint8) bool { return true }

// Engine applies operations to a Ledger.
type Engine struct {
	cfg    Config
	ledger *Ledger
	locks  *keyLocks

	settingsMu sync.RWMutex
	settings   Settings

	custody  Custody
	oracles  OracleDirectory
	observer Observer
	log      logrus.FieldLogger
	now      func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithCustody sets where withdrawals are paid out.
func WithCustody(c Custody) Option { return func(e *Engine) { e.custody = c } }

// WithOracleDirectory sets the oracle selection mechanism.
func WithOracleDirectory(d OracleDirectory) Option { return func(e *Engine) { e.oracles = d } }

// WithObserver receives every applied event.
func WithObserver(o Observer) Option { return func(e *Engine) { e.observer = o } }

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option { return func(e *Engine) { e.log = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// New creates an operational engine whose owner is registered as the first
// airline.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	discard := logrus.New()
	discard.SetOutput(io.Discard)

	e := &Engine{
		cfg:    cfg,
		ledger: NewLedger(),
		locks:  newKeyLocks(),
		settings: Settings{
			Owner:       cfg.Owner,
			Operational: true,
			Authorized:  make(map[Principal]struct{}),
		},
		custody:  NewVault(),
		oracles:  openDirectory{},
		observer: nopObserver{},
		log:      discard,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.ledger.admit(cfg.Owner)
	return e, nil
}

// Config returns the engine constants.
func (e *Engine) Config() Config {
	return e.cfg
}

// gate read-locks the settings for the duration of an operation so a
// concurrent SetOperational orders strictly before or after it.
func (e *Engine) gate() (Settings, func()) {
	e.settingsMu.RLock()
	return e.settings, e.settingsMu.RUnlock
}

// SetOperational toggles the global gate. Owner only; allowed while closed.
func (e *Engine) SetOperational(call Call, operational bool) error {
	e.settingsMu.Lock()
	defer e.settingsMu.Unlock()

	if err := e.settings.requireOwner(call.Caller); err != nil {
		return err
	}
	if e.settings.Operational == operational {
		return nil
	}
	e.settings.Operational = operational
	e.log.WithField("operational", operational).Info("Operational status changed")
	e.emit(Event{Kind: EventOperationalChanged, Caller: call.Caller, Operational: operational})
	return nil
}

// AuthorizeCaller lets target perform privileged hooks such as abandoning
// queries. Owner only.
func (e *Engine) AuthorizeCaller(call Call, target Principal) error {
	return e.setAuthorized(call, target, true)
}

// DeauthorizeCaller revokes AuthorizeCaller.
func (e *Engine) DeauthorizeCaller(call Call, target Principal) error {
	return e.setAuthorized(call, target, false)
}

func (e *Engine) setAuthorized(call Call, target Principal, authorized bool) error {
	e.settingsMu.Lock()
	defer e.settingsMu.Unlock()

	if err := e.settings.requireOperational(); err != nil {
		return err
	}
	if err := e.settings.requireOwner(call.Caller); err != nil {
		return err
	}
	if target == "" {
		return fmt.Errorf("%w: caller to authorize is required", ErrInvalidArgument)
	}
	next := e.settings.clone()
	if authorized {
		next.Authorized[target] = struct{}{}
	} else {
		delete(next.Authorized, target)
	}
	e.settings = next
	e.log.WithFields(logrus.Fields{"caller": target, "authorized": authorized}).Info("Caller authorization changed")
	return nil
}

// IsOperational reports the global gate.
func (e *Engine) IsOperational() bool {
	e.settingsMu.RLock()
	defer e.settingsMu.RUnlock()
	return e.settings.Operational
}

// IsAuthorized reports whether p may perform privileged hooks.
func (e *Engine) IsAuthorized(p Principal) bool {
	e.settingsMu.RLock()
	defer e.settingsMu.RUnlock()
	return e.settings.requirePrivileged(p) == nil
}

// Snapshot returns a consistent copy of the ledger. It waits for operations
// in flight, so it is always taken between two operations.
func (e *Engine) Snapshot() Snapshot {
	e.settingsMu.Lock()
	defer e.settingsMu.Unlock()
	return e.ledger.Snapshot()
}

// Pool returns the pooled balance held by the contract.
func (e *Engine) Pool() Amount {
	return e.ledger.poolBalance()
}

func (e *Engine) emit(events ...Event) {
	at := e.now()
	for _, ev := range events {
		if ev.At.IsZero() {
			ev.At = at
		}
		e.observer.Observe(ev)
	}
}

func (e *Engine) reject(op string, call Call, err error) error {
	e.log.WithFields(logrus.Fields{"op": op, "caller": call.Caller}).WithError(err).Debug("Operation rejected")
	return err
}
