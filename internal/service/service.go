package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cx-tal-miterani/flight-surety/internal/database"
	"github.com/cx-tal-miterani/flight-surety/internal/models"
	"github.com/cx-tal-miterani/flight-surety/internal/oracles"
	"github.com/cx-tal-miterani/flight-surety/internal/surety"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.temporal.io/sdk/client"
	"golang.org/x/sync/singleflight"
)

const (
	TaskQueue = "flight-surety-queue"

	// FlightStatusWorkflowName is the registered name of the workflow that
	// drives an oracle query to completion.
	FlightStatusWorkflowName = "FlightStatusWorkflow"

	DefaultQueryTimeout = 5 * time.Minute

	statusLoadTimeout = 5 * time.Second
)

// ErrJournalDisabled is returned by ListEvents when no event store is configured.
var ErrJournalDisabled = errors.New("event journal is not enabled")

// SuretyService defines the operations exposed over HTTP.
type SuretyService interface {
	IsOperational(ctx context.Context) bool
	SetOperational(ctx context.Context, caller surety.Principal, operational bool) error
	AuthorizeCaller(ctx context.Context, caller, target surety.Principal) error
	DeauthorizeCaller(ctx context.Context, caller, target surety.Principal) error

	Fund(ctx context.Context, call surety.Call) (surety.Airline, error)
	FundAndRegisterFlights(ctx context.Context, call surety.Call, plans []surety.FlightPlan) (*models.FundAndRegisterResponse, error)
	RegisterAirline(ctx context.Context, caller, candidate surety.Principal) (surety.Admission, error)
	VoteForAirline(ctx context.Context, caller, candidate surety.Principal) (surety.Admission, error)
	UnregisterAirline(ctx context.Context, caller, airline surety.Principal) error
	GetAirline(ctx context.Context, id surety.Principal) (surety.Airline, error)

	RegisterFlight(ctx context.Context, caller surety.Principal, code string, departure int64) (surety.Flight, error)
	GetFlights(ctx context.Context) []surety.Flight
	GetFlight(ctx context.Context, key surety.FlightKey) (*models.FlightView, error)
	GetFlightStatus(ctx context.Context, key surety.FlightKey) (*models.FlightSnapshot, error)
	BuyInsurance(ctx context.Context, call surety.Call, flight surety.FlightKey) (surety.Policy, error)
	RequestFlightStatus(ctx context.Context, caller surety.Principal, flight surety.FlightKey) (surety.Query, error)

	RegisterOracle(ctx context.Context, call surety.Call) (oracles.Oracle, error)
	GetOracle(ctx context.Context, id surety.Principal) (oracles.Oracle, error)
	SubmitOracleResponse(ctx context.Context, caller surety.Principal, query surety.QueryKey, status surety.Status) (surety.Submission, error)
	GetQuery(ctx context.Context, key surety.QueryKey) (surety.Query, error)
	AbandonQuery(ctx context.Context, caller surety.Principal, query surety.QueryKey) error

	GetPolicies(ctx context.Context, passenger surety.Principal) []surety.Policy
	GetCredit(ctx context.Context, passenger surety.Principal) models.CreditResponse
	Withdraw(ctx context.Context, caller surety.Principal) (surety.Withdrawal, error)

	ListEvents(ctx context.Context, filter models.EventFilter) ([]models.EventRecord, error)
	GetEvent(ctx context.Context, id string) (*models.EventRecord, error)
}

// WorkflowClient is the part of the Temporal client the service uses.
type WorkflowClient interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
	SignalWorkflow(ctx context.Context, workflowID string, runID string, signalName string, arg interface{}) error
}

// EventLister reads the event journal.
type EventLister interface {
	ListEvents(ctx context.Context, filter models.EventFilter) ([]models.EventRecord, error)
	GetEvent(ctx context.Context, id uuid.UUID) (*models.EventRecord, error)
}

// OperationRecorder counts operation outcomes.
type OperationRecorder interface {
	RecordOperation(op string, err error)
}

// Deps are the collaborators of the service. Engine and Registry are
// required; the rest may be nil.
type Deps struct {
	Engine    *surety.Engine
	Registry  *oracles.Registry
	Cache     database.SnapshotCache
	Events    EventLister
	Workflows WorkflowClient
	Notifier  *Notifier
	Recorder  OperationRecorder
	Logger    logrus.FieldLogger

	TaskQueue     string
	QueryTimeout  time.Duration
	DispatchDelay time.Duration
}

// suretyServiceImpl implements SuretyService
type suretyServiceImpl struct {
	engine    *surety.Engine
	registry  *oracles.Registry
	cache     database.SnapshotCache
	events    EventLister
	workflows WorkflowClient
	notifier  *Notifier
	recorder  OperationRecorder
	log       logrus.FieldLogger

	taskQueue     string
	queryTimeout  time.Duration
	dispatchDelay time.Duration

	// Collapses concurrent status reads for the same flight.
	statusGroup singleflight.Group
}

// NewSuretyService creates a new SuretyService
func NewSuretyService(d Deps) SuretyService {
	s := &suretyServiceImpl{
		engine:        d.Engine,
		registry:      d.Registry,
		cache:         d.Cache,
		events:        d.Events,
		workflows:     d.Workflows,
		notifier:      d.Notifier,
		recorder:      d.Recorder,
		log:           d.Logger,
		taskQueue:     d.TaskQueue,
		queryTimeout:  d.QueryTimeout,
		dispatchDelay: d.DispatchDelay,
	}
	if s.cache == nil {
		s.cache = database.NewMemoryCache()
	}
	if s.recorder == nil {
		s.recorder = nopRecorder{}
	}
	if s.log == nil {
		s.log = logrus.New()
	}
	if s.taskQueue == "" {
		s.taskQueue = TaskQueue
	}
	if s.queryTimeout <= 0 {
		s.queryTimeout = DefaultQueryTimeout
	}
	s.log = s.log.WithField("component", "service")
	return s
}

type nopRecorder struct{}

func (nopRecorder) RecordOperation(string, error) {}

func (s *suretyServiceImpl) record(op string, err error) {
	s.recorder.RecordOperation(op, err)
}

func (s *suretyServiceImpl) IsOperational(ctx context.Context) bool {
	return s.engine.IsOperational()
}

func (s *suretyServiceImpl) SetOperational(ctx context.Context, caller surety.Principal, operational bool) error {
	err := s.engine.SetOperational(surety.From(caller), operational)
	s.record("set_operational", err)
	return err
}

func (s *suretyServiceImpl) AuthorizeCaller(ctx context.Context, caller, target surety.Principal) error {
	err := s.engine.AuthorizeCaller(surety.From(caller), target)
	s.record("authorize_caller", err)
	return err
}

func (s *suretyServiceImpl) DeauthorizeCaller(ctx context.Context, caller, target surety.Principal) error {
	err := s.engine.DeauthorizeCaller(surety.From(caller), target)
	s.record("deauthorize_caller", err)
	return err
}

func (s *suretyServiceImpl) Fund(ctx context.Context, call surety.Call) (surety.Airline, error) {
	a, err := s.engine.Fund(call)
	s.record("fund", err)
	return a, err
}

func (s *suretyServiceImpl) FundAndRegisterFlights(ctx context.Context, call surety.Call, plans []surety.FlightPlan) (*models.FundAndRegisterResponse, error) {
	a, flights, err := s.engine.FundAndRegisterFlights(call, plans)
	s.record("fund_and_register_flights", err)
	if err != nil {
		return nil, err
	}
	return &models.FundAndRegisterResponse{Airline: a, Flights: flights}, nil
}

func (s *suretyServiceImpl) RegisterAirline(ctx context.Context, caller, candidate surety.Principal) (surety.Admission, error) {
	adm, err := s.engine.RegisterAirline(surety.From(caller), candidate)
	s.record("register_airline", err)
	return adm, err
}

func (s *suretyServiceImpl) VoteForAirline(ctx context.Context, caller, candidate surety.Principal) (surety.Admission, error) {
	adm, err := s.engine.VoteForAirline(surety.From(caller), candidate)
	s.record("vote_for_airline", err)
	return adm, err
}

func (s *suretyServiceImpl) UnregisterAirline(ctx context.Context, caller, airline surety.Principal) error {
	err := s.engine.UnregisterAirline(surety.From(caller), airline)
	s.record("unregister_airline", err)
	return err
}

func (s *suretyServiceImpl) GetAirline(ctx context.Context, id surety.Principal) (surety.Airline, error) {
	return s.engine.Airline(id)
}

func (s *suretyServiceImpl) RegisterFlight(ctx context.Context, caller surety.Principal, code string, departure int64) (surety.Flight, error) {
	f, err := s.engine.RegisterFlight(surety.From(caller), code, departure)
	s.record("register_flight", err)
	return f, err
}

func (s *suretyServiceImpl) GetFlights(ctx context.Context) []surety.Flight {
	return s.engine.Flights()
}

func (s *suretyServiceImpl) GetFlight(ctx context.Context, key surety.FlightKey) (*models.FlightView, error) {
	f, err := s.engine.Flight(key)
	if err != nil {
		return nil, err
	}
	return &models.FlightView{
		Flight:      f,
		Insured:     s.engine.InsuredCount(key),
		OpenQueries: s.engine.OpenQueries(key),
	}, nil
}

// GetFlightStatus serves the flight's status from the snapshot cache once it
// is finalized, falling back to the ledger on a miss.
func (s *suretyServiceImpl) GetFlightStatus(ctx context.Context, key surety.FlightKey) (*models.FlightSnapshot, error) {
	v, err, _ := s.statusGroup.Do(key.String(), func() (interface{}, error) {
		// Detached from ctx: the result is shared by every waiting caller.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusLoadTimeout)
		defer cancel()

		snap, err := s.cache.GetFlight(ctx, key)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, database.ErrCacheMiss) {
			s.log.WithError(err).WithField("flight", key.String()).Warn("Snapshot cache read failed")
		}

		f, err := s.engine.Flight(key)
		if err != nil {
			return nil, err
		}
		snap = models.SnapshotOf(f, time.Now())
		if f.Finalized {
			if err := s.cache.PutFlight(ctx, snap); err != nil {
				s.log.WithError(err).WithField("flight", key.String()).Warn("Snapshot cache write failed")
			}
		}
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	snap := v.(models.FlightSnapshot)
	return &snap, nil
}

func (s *suretyServiceImpl) BuyInsurance(ctx context.Context, call surety.Call, flight surety.FlightKey) (surety.Policy, error) {
	p, err := s.engine.BuyInsurance(call, flight)
	s.record("buy_insurance", err)
	return p, err
}

// RequestFlightStatus opens the query and starts the workflow that collects
// oracle responses for it. A workflow failure does not undo the query. A
// query that was already open keeps the workflow started when it opened.
func (s *suretyServiceImpl) RequestFlightStatus(ctx context.Context, caller surety.Principal, flight surety.FlightKey) (surety.Query, error) {
	q, opened, err := s.engine.RequestQuery(surety.From(caller), flight)
	s.record("request_flight_status", err)
	if err != nil {
		return surety.Query{}, err
	}
	if !opened {
		s.log.WithField("query", q.Key.String()).Debug("Query already open")
		return q, nil
	}
	if s.workflows == nil {
		return q, nil
	}

	input := models.FlightStatusWorkflowInput{
		Query:         q.Key,
		Requester:     caller,
		Timeout:       s.queryTimeout,
		DispatchDelay: s.dispatchDelay,
	}
	workflowOptions := client.StartWorkflowOptions{
		ID:        models.FlightStatusWorkflowID(q.Key),
		TaskQueue: s.taskQueue,
	}
	if s.notifier != nil {
		s.notifier.Track(q.Key)
	}
	if _, err := s.workflows.ExecuteWorkflow(ctx, workflowOptions, FlightStatusWorkflowName, input); err != nil {
		s.log.WithError(err).WithField("query", q.Key.String()).Error("Failed to start flight status workflow")
	}
	return q, nil
}

func (s *suretyServiceImpl) RegisterOracle(ctx context.Context, call surety.Call) (oracles.Oracle, error) {
	o, err := s.registry.Register(call)
	s.record("register_oracle", err)
	return o, err
}

func (s *suretyServiceImpl) GetOracle(ctx context.Context, id surety.Principal) (oracles.Oracle, error) {
	return s.registry.Oracle(id)
}

func (s *suretyServiceImpl) SubmitOracleResponse(ctx context.Context, caller surety.Principal, query surety.QueryKey, status surety.Status) (surety.Submission, error) {
	sub, err := s.engine.SubmitOracleResponse(surety.From(caller), query, status)
	s.record("submit_oracle_response", err)
	return sub, err
}

func (s *suretyServiceImpl) GetQuery(ctx context.Context, key surety.QueryKey) (surety.Query, error) {
	q, ok := s.engine.Query(key)
	if !ok {
		return surety.Query{}, fmt.Errorf("%w: %s", surety.ErrUnknownQuery, key)
	}
	return q, nil
}

func (s *suretyServiceImpl) AbandonQuery(ctx context.Context, caller surety.Principal, query surety.QueryKey) error {
	err := s.engine.AbandonQuery(surety.From(caller), query)
	s.record("abandon_query", err)
	return err
}

func (s *suretyServiceImpl) GetPolicies(ctx context.Context, passenger surety.Principal) []surety.Policy {
	return s.engine.Policies(passenger)
}

func (s *suretyServiceImpl) GetCredit(ctx context.Context, passenger surety.Principal) models.CreditResponse {
	credit := s.engine.Credit(passenger)
	return models.CreditResponse{Passenger: passenger, Credit: credit, Display: credit.String()}
}

func (s *suretyServiceImpl) Withdraw(ctx context.Context, caller surety.Principal) (surety.Withdrawal, error) {
	w, err := s.engine.Withdraw(ctx, surety.From(caller))
	s.record("withdraw", err)
	return w, err
}

func (s *suretyServiceImpl) ListEvents(ctx context.Context, filter models.EventFilter) ([]models.EventRecord, error) {
	if s.events == nil {
		return nil, ErrJournalDisabled
	}
	return s.events.ListEvents(ctx, filter)
}

func (s *suretyServiceImpl) GetEvent(ctx context.Context, id string) (*models.EventRecord, error) {
	if s.events == nil {
		return nil, ErrJournalDisabled
	}
	eventID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: event id %q", surety.ErrInvalidArgument, id)
	}
	return s.events.GetEvent(ctx, eventID)
}
