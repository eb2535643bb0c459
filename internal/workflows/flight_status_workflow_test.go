package workflows

import (
	"errors"
	"testing"
	"time"

	"github.com/cx-tal-miterani/flight-surety/internal/activities"
	"github.com/cx-tal-miterani/flight-surety/internal/models"
	"github.com/cx-tal-miterani/flight-surety/internal/surety"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
)

var testQuery = surety.QueryKey{
	Flight: surety.FlightKey{Airline: "airline-0", Code: "SU100", Departure: 1700000000},
	Nonce:  4,
}

type FlightStatusWorkflowTestSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env *testsuite.TestWorkflowEnvironment
}

func (s *FlightStatusWorkflowTestSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	s.env.RegisterActivity(activities.NewActivities(nil, nil, nil))
}

func (s *FlightStatusWorkflowTestSuite) AfterTest(suiteName, testName string) {
	s.env.AssertExpectations(s.T())
}

func TestFlightStatusWorkflowTestSuite(t *testing.T) {
	suite.Run(t, new(FlightStatusWorkflowTestSuite))
}

func (s *FlightStatusWorkflowTestSuite) input(timeout time.Duration) models.FlightStatusWorkflowInput {
	return models.FlightStatusWorkflowInput{
		Query:     testQuery,
		Requester: "passenger-1",
		Timeout:   timeout,
	}
}

func (s *FlightStatusWorkflowTestSuite) result() models.FlightStatusWorkflowResult {
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
	var result models.FlightStatusWorkflowResult
	s.NoError(s.env.GetWorkflowResult(&result))
	return result
}

func (s *FlightStatusWorkflowTestSuite) TestWorkflow_Constants() {
	s.Equal(5*time.Minute, DefaultQueryTimeout)
	s.Equal(30*time.Second, ActivityTimeout)
	s.Equal(5, MaxActivityAttempts)
}

func (s *FlightStatusWorkflowTestSuite) TestWorkflow_FinalizedByDispatch() {
	s.env.OnActivity("DispatchResponses", mock.Anything, models.DispatchResponsesInput{Query: testQuery}).
		Return(&models.DispatchResponsesResult{Sent: 3, Finalized: true, Status: surety.StatusLateAirline}, nil)

	s.env.ExecuteWorkflow(FlightStatusWorkflow, s.input(time.Minute))

	result := s.result()
	s.Equal(models.QueryOutcomeFinalized, result.Outcome)
	s.Equal(surety.StatusLateAirline, result.Status)
	s.Equal(3, result.Responses)
	s.Equal(testQuery, result.Query)
}

func (s *FlightStatusWorkflowTestSuite) TestWorkflow_FinalizedSignal() {
	s.env.OnActivity("DispatchResponses", mock.Anything, mock.Anything).
		Return(&models.DispatchResponsesResult{Sent: 2}, nil)

	s.env.RegisterDelayedCallback(func() {
		val, err := s.env.QueryWorkflow(models.QueryGetState)
		s.NoError(err)
		var state models.FlightStatusWorkflowState
		s.NoError(val.Get(&state))
		s.Equal(2, state.Dispatched)
		s.False(state.Finalized)
	}, 30*time.Second)

	s.env.RegisterDelayedCallback(func() {
		s.env.SignalWorkflow(models.SignalQueryFinalized, models.QueryFinalizedSignal{
			Status:      surety.StatusOnTime,
			FinalizedAt: time.Unix(1700000100, 0),
		})
	}, time.Minute)

	s.env.ExecuteWorkflow(FlightStatusWorkflow, s.input(5*time.Minute))

	result := s.result()
	s.Equal(models.QueryOutcomeFinalized, result.Outcome)
	s.Equal(surety.StatusOnTime, result.Status)
	s.Equal(2, result.Responses)
}

func (s *FlightStatusWorkflowTestSuite) TestWorkflow_FinalizedFoundAtDeadline() {
	s.env.OnActivity("DispatchResponses", mock.Anything, mock.Anything).
		Return(&models.DispatchResponsesResult{Sent: 1}, nil)
	s.env.OnActivity("CheckFinalized", mock.Anything, models.CheckFinalizedInput{Flight: testQuery.Flight}).
		Return(&models.CheckFinalizedResult{Finalized: true, Status: surety.StatusLateWeather}, nil)

	s.env.ExecuteWorkflow(FlightStatusWorkflow, s.input(2*time.Minute))

	result := s.result()
	s.Equal(models.QueryOutcomeFinalized, result.Outcome)
	s.Equal(surety.StatusLateWeather, result.Status)
}

func (s *FlightStatusWorkflowTestSuite) TestWorkflow_AbandonedAtDeadline() {
	s.env.OnActivity("DispatchResponses", mock.Anything, mock.Anything).
		Return(&models.DispatchResponsesResult{Sent: 1}, nil)
	s.env.OnActivity("CheckFinalized", mock.Anything, mock.Anything).
		Return(&models.CheckFinalizedResult{}, nil)
	s.env.OnActivity("AbandonQuery", mock.Anything, models.AbandonQueryInput{Query: testQuery}).
		Return(nil)

	s.env.ExecuteWorkflow(FlightStatusWorkflow, s.input(2*time.Minute))

	result := s.result()
	s.Equal(models.QueryOutcomeAbandoned, result.Outcome)
	s.Equal(surety.StatusUnknown, result.Status)
	s.Equal(1, result.Responses)
}

func (s *FlightStatusWorkflowTestSuite) TestWorkflow_DispatchFailureStillAbandons() {
	s.env.OnActivity("DispatchResponses", mock.Anything, mock.Anything).
		Return(nil, temporal.NewNonRetryableApplicationError("api down", "SuretyAPIError", nil))
	s.env.OnActivity("CheckFinalized", mock.Anything, mock.Anything).
		Return(&models.CheckFinalizedResult{}, nil)
	s.env.OnActivity("AbandonQuery", mock.Anything, mock.Anything).
		Return(nil)

	s.env.ExecuteWorkflow(FlightStatusWorkflow, s.input(time.Minute))

	result := s.result()
	s.Equal(models.QueryOutcomeAbandoned, result.Outcome)
	s.Zero(result.Responses)
}

func (s *FlightStatusWorkflowTestSuite) TestWorkflow_AbandonFailure() {
	s.env.OnActivity("DispatchResponses", mock.Anything, mock.Anything).
		Return(&models.DispatchResponsesResult{}, nil)
	s.env.OnActivity("CheckFinalized", mock.Anything, mock.Anything).
		Return(&models.CheckFinalizedResult{}, nil)
	s.env.OnActivity("AbandonQuery", mock.Anything, mock.Anything).
		Return(temporal.NewNonRetryableApplicationError("forbidden", "SuretyAPIError", errors.New("403")))

	s.env.ExecuteWorkflow(FlightStatusWorkflow, s.input(time.Minute))

	s.True(s.env.IsWorkflowCompleted())
	s.Error(s.env.GetWorkflowError())
}

func (s *FlightStatusWorkflowTestSuite) TestWorkflow_DispatchDelay() {
	s.env.OnActivity("DispatchResponses", mock.Anything, mock.Anything).
		Return(&models.DispatchResponsesResult{Sent: 3, Finalized: true, Status: surety.StatusOnTime}, nil)

	s.env.RegisterDelayedCallback(func() {
		val, err := s.env.QueryWorkflow(models.QueryGetState)
		s.NoError(err)
		var state models.FlightStatusWorkflowState
		s.NoError(val.Get(&state))
		s.Zero(state.Dispatched)
		s.Equal(testQuery, state.Query)
	}, 5*time.Second)

	input := s.input(time.Minute)
	input.DispatchDelay = 10 * time.Second
	s.env.ExecuteWorkflow(FlightStatusWorkflow, input)

	result := s.result()
	s.Equal(models.QueryOutcomeFinalized, result.Outcome)
	s.Equal(3, result.Responses)
}
