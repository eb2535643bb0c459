package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/cx-tal-miterani/flight-surety/internal/database"
	"github.com/cx-tal-miterani/flight-surety/internal/metrics"
	"github.com/cx-tal-miterani/flight-surety/internal/models"
	"github.com/cx-tal-miterani/flight-surety/internal/oracles"
	"github.com/cx-tal-miterani/flight-surety/internal/surety"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/client"
)

const owner surety.Principal = "airline-0"

var testFlight = surety.FlightKey{Airline: owner, Code: "SU100", Departure: 1700000000}

type mockWorkflows struct {
	mock.Mock
}

func (m *mockWorkflows) ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error) {
	called := m.Called(ctx, options, workflow, args)
	return nil, called.Error(1)
}

func (m *mockWorkflows) SignalWorkflow(ctx context.Context, workflowID string, runID string, signalName string, arg interface{}) error {
	return m.Called(ctx, workflowID, runID, signalName, arg).Error(0)
}

type countingCache struct {
	*database.MemoryCache
	mu   sync.Mutex
	gets int
}

// GetFlight and PutFlight fail on a done context like a networked cache.
func (c *countingCache) GetFlight(ctx context.Context, key surety.FlightKey) (models.FlightSnapshot, error) {
	c.mu.Lock()
	c.gets++
	c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return models.FlightSnapshot{}, err
	}
	return c.MemoryCache.GetFlight(ctx, key)
}

func (c *countingCache) PutFlight(ctx context.Context, snap models.FlightSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.MemoryCache.PutFlight(ctx, snap)
}

type fakeEvents struct {
	records []models.EventRecord
	filter  models.EventFilter
}

func (f *fakeEvents) ListEvents(_ context.Context, filter models.EventFilter) ([]models.EventRecord, error) {
	f.filter = filter
	return f.records, nil
}

func (f *fakeEvents) GetEvent(_ context.Context, id uuid.UUID) (*models.EventRecord, error) {
	for _, r := range f.records {
		if r.ID == id.String() {
			return &r, nil
		}
	}
	return nil, database.ErrNotFound
}

type ServiceSuite struct {
	suite.Suite

	ctx       context.Context
	cancel    context.CancelFunc
	engine    *surety.Engine
	cache     *countingCache
	workflows *mockWorkflows
	notifier  *Notifier
	metrics   *metrics.Metrics
	svc       SuretyService
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	log := logrus.New()
	log.SetOutput(io.Discard)

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cache = &countingCache{MemoryCache: database.NewMemoryCache()}
	s.workflows = new(mockWorkflows)
	s.notifier = NewNotifier(s.cache, s.workflows, log, 16)
	s.metrics = metrics.New()

	engine, err := surety.New(surety.DefaultConfig(owner), surety.WithObserver(surety.Observers{s.metrics, s.notifier}))
	s.Require().NoError(err)
	s.engine = engine

	_, err = engine.Fund(surety.Call{Caller: owner, Value: 10 * surety.Unit})
	s.Require().NoError(err)
	_, err = engine.RegisterFlight(surety.From(owner), testFlight.Code, testFlight.Departure)
	s.Require().NoError(err)

	s.svc = NewSuretyService(Deps{
		Engine:       engine,
		Registry:     oracles.NewRegistry(oracles.DefaultFee, nil),
		Cache:        s.cache,
		Workflows:    s.workflows,
		Notifier:     s.notifier,
		Recorder:     s.metrics,
		Logger:       log,
		QueryTimeout: time.Minute,
	})
}

func (s *ServiceSuite) TearDownTest() {
	s.cancel()
	s.notifier.Wait()
}

func (s *ServiceSuite) finalize(status surety.Status) {
	q, err := s.engine.RequestFlightStatus(surety.From("passenger-1"), testFlight)
	s.Require().NoError(err)
	for i := 1; i <= 3; i++ {
		_, err := s.engine.SubmitOracleResponse(surety.From(surety.Principal(fmt.Sprintf("oracle-%d", i))), q.Key, status)
		s.Require().NoError(err)
	}
}

func (s *ServiceSuite) TestRequestFlightStatus_StartsWorkflow() {
	query := surety.QueryKey{Flight: testFlight, Nonce: 0}
	s.workflows.On("ExecuteWorkflow", mock.Anything,
		client.StartWorkflowOptions{ID: models.FlightStatusWorkflowID(query), TaskQueue: TaskQueue},
		FlightStatusWorkflowName,
		[]interface{}{models.FlightStatusWorkflowInput{Query: query, Requester: "passenger-1", Timeout: time.Minute}},
	).Return(nil, nil).Once()

	q, err := s.svc.RequestFlightStatus(s.ctx, "passenger-1", testFlight)
	s.Require().NoError(err)
	s.Equal(query, q.Key)
	s.Equal([]surety.QueryKey{query}, s.notifier.Tracked(testFlight))
	s.workflows.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestRequestFlightStatus_WorkflowFailureKeepsQuery() {
	s.workflows.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("temporal unavailable"))

	q, err := s.svc.RequestFlightStatus(s.ctx, "passenger-1", testFlight)
	s.Require().NoError(err)

	_, err = s.svc.GetQuery(s.ctx, q.Key)
	s.NoError(err)
}

func (s *ServiceSuite) TestRequestFlightStatus_OpenQueryStartsNoSecondWorkflow() {
	s.workflows.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, nil).Once()

	first, err := s.svc.RequestFlightStatus(s.ctx, "passenger-1", testFlight)
	s.Require().NoError(err)
	again, err := s.svc.RequestFlightStatus(s.ctx, "passenger-2", testFlight)
	s.Require().NoError(err)

	s.Equal(first.Key, again.Key)
	s.Equal(surety.Principal("passenger-1"), again.Requester)
	s.workflows.AssertNumberOfCalls(s.T(), "ExecuteWorkflow", 1)
	s.Equal([]surety.QueryKey{first.Key}, s.notifier.Tracked(testFlight))
}

func (s *ServiceSuite) TestRequestFlightStatus_UnknownFlight() {
	_, err := s.svc.RequestFlightStatus(s.ctx, "passenger-1", surety.FlightKey{Airline: owner, Code: "NOPE", Departure: 1})
	s.ErrorIs(err, surety.ErrUnknownFlight)
	s.workflows.AssertNotCalled(s.T(), "ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	s.Equal(map[string]int64{"request_flight_status": 1}, s.metrics.GetSnapshot().RejectedByOp)
}

func (s *ServiceSuite) TestGetFlightStatus_PendingIsNotCached() {
	snap, err := s.svc.GetFlightStatus(s.ctx, testFlight)
	s.Require().NoError(err)
	s.Equal(surety.StatusUnknown, snap.Status)

	_, err = s.cache.MemoryCache.GetFlight(s.ctx, testFlight)
	s.ErrorIs(err, database.ErrCacheMiss)
}

func (s *ServiceSuite) TestGetFlightStatus_FinalizedIsCached() {
	s.finalize(surety.StatusOnTime)

	snap, err := s.svc.GetFlightStatus(s.ctx, testFlight)
	s.Require().NoError(err)
	s.Equal(surety.StatusOnTime, snap.Status)

	cached, err := s.cache.MemoryCache.GetFlight(s.ctx, testFlight)
	s.Require().NoError(err)
	s.Equal(surety.StatusOnTime, cached.Status)
}

func (s *ServiceSuite) TestGetFlightStatus_CanceledCallerStillLoads() {
	s.finalize(surety.StatusLateWeather)
	canceled, cancel := context.WithCancel(s.ctx)
	cancel()

	snap, err := s.svc.GetFlightStatus(canceled, testFlight)
	s.Require().NoError(err)
	s.Equal(surety.StatusLateWeather, snap.Status)

	cached, err := s.cache.MemoryCache.GetFlight(s.ctx, testFlight)
	s.Require().NoError(err)
	s.Equal(surety.StatusLateWeather, cached.Status)
}

func (s *ServiceSuite) TestGetFlightStatus_CacheHit() {
	want := models.FlightSnapshot{Key: testFlight, Status: surety.StatusLateWeather, FinalizedAt: time.Unix(1700000500, 0).UTC()}
	s.Require().NoError(s.cache.PutFlight(s.ctx, want))

	snap, err := s.svc.GetFlightStatus(s.ctx, testFlight)
	s.Require().NoError(err)
	s.Equal(want, *snap)
}

func (s *ServiceSuite) TestGetFlightStatus_Unknown() {
	_, err := s.svc.GetFlightStatus(s.ctx, surety.FlightKey{Airline: owner, Code: "NOPE", Departure: 1})
	s.ErrorIs(err, surety.ErrUnknownFlight)
}

func (s *ServiceSuite) TestGetFlight_View() {
	_, err := s.svc.BuyInsurance(s.ctx, surety.Call{Caller: "passenger-1", Value: surety.Unit}, testFlight)
	s.Require().NoError(err)

	view, err := s.svc.GetFlight(s.ctx, testFlight)
	s.Require().NoError(err)
	s.Equal(testFlight, view.Key)
	s.Equal(1, view.Insured)
	s.Empty(view.OpenQueries)
}

func (s *ServiceSuite) TestCreditAndWithdraw() {
	_, err := s.svc.BuyInsurance(s.ctx, surety.Call{Caller: "passenger-1", Value: surety.Unit}, testFlight)
	s.Require().NoError(err)
	s.finalize(surety.StatusLateAirline)

	credit := s.svc.GetCredit(s.ctx, "passenger-1")
	s.Equal(surety.Unit*3/2, credit.Credit)
	s.Equal("1.5", credit.Display)

	w, err := s.svc.Withdraw(s.ctx, "passenger-1")
	s.Require().NoError(err)
	s.Equal(surety.Unit*3/2, w.Amount)

	_, err = s.svc.Withdraw(s.ctx, "passenger-1")
	s.ErrorIs(err, surety.ErrNothingToWithdraw)
}

func (s *ServiceSuite) TestRegisterOracle() {
	o, err := s.svc.RegisterOracle(s.ctx, surety.Call{Caller: "oracle-a", Value: oracles.DefaultFee})
	s.Require().NoError(err)

	got, err := s.svc.GetOracle(s.ctx, "oracle-a")
	s.Require().NoError(err)
	s.Equal(o, got)

	_, err = s.svc.RegisterOracle(s.ctx, surety.Call{Caller: "oracle-b"})
	s.ErrorIs(err, oracles.ErrFeeTooLow)
}

func (s *ServiceSuite) TestGetQuery_Unknown() {
	_, err := s.svc.GetQuery(s.ctx, surety.QueryKey{Flight: testFlight, Nonce: 4})
	s.ErrorIs(err, surety.ErrUnknownQuery)
}

func (s *ServiceSuite) TestListEvents_Disabled() {
	_, err := s.svc.ListEvents(s.ctx, models.EventFilter{})
	s.ErrorIs(err, ErrJournalDisabled)
}

func (s *ServiceSuite) TestRecordsOperations() {
	s.Require().NoError(s.svc.SetOperational(s.ctx, owner, false))
	s.ErrorIs(s.svc.SetOperational(s.ctx, "passenger-1", true), surety.ErrUnauthorized)
	s.False(s.svc.IsOperational(s.ctx))

	snap := s.metrics.GetSnapshot()
	s.Equal(int64(1), snap.OperationsAccepted)
	s.Equal(int64(1), snap.OperationsRejected)
}

func TestListEvents_Delegates(t *testing.T) {
	engine, err := surety.New(surety.DefaultConfig(owner))
	require.NoError(t, err)

	events := &fakeEvents{records: []models.EventRecord{{ID: "e1", Seq: 1, Kind: string(surety.EventFlightFinalized)}}}
	svc := NewSuretyService(Deps{Engine: engine, Registry: oracles.NewRegistry(oracles.DefaultFee, nil), Events: events})

	filter := models.EventFilter{Kind: string(surety.EventFlightFinalized), Limit: 10}
	got, err := svc.ListEvents(context.Background(), filter)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, filter, events.filter)
}

func TestGetEvent(t *testing.T) {
	engine, err := surety.New(surety.DefaultConfig(owner))
	require.NoError(t, err)

	id := uuid.New()
	events := &fakeEvents{records: []models.EventRecord{{ID: id.String(), Seq: 1}}}
	svc := NewSuretyService(Deps{Engine: engine, Registry: oracles.NewRegistry(oracles.DefaultFee, nil), Events: events})
	ctx := context.Background()

	got, err := svc.GetEvent(ctx, id.String())
	require.NoError(t, err)
	require.Equal(t, int64(1), got.Seq)

	_, err = svc.GetEvent(ctx, uuid.New().String())
	require.ErrorIs(t, err, database.ErrNotFound)

	_, err = svc.GetEvent(ctx, "not-a-uuid")
	require.ErrorIs(t, err, surety.ErrInvalidArgument)

	disabled := NewSuretyService(Deps{Engine: engine, Registry: oracles.NewRegistry(oracles.DefaultFee, nil)})
	_, err = disabled.GetEvent(ctx, id.String())
	require.ErrorIs(t, err, ErrJournalDisabled)
}
