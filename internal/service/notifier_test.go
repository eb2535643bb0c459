package service

import (
	"time"

	"github.com/cx-tal-miterani/flight-surety/internal/models"
	"github.com/cx-tal-miterani/flight-surety/internal/surety"
	"github.com/stretchr/testify/mock"
)

func (s *ServiceSuite) TestNotifier_FinalizationCachesAndSignals() {
	query := surety.QueryKey{Flight: testFlight, Nonce: 0}
	s.workflows.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	s.workflows.On("SignalWorkflow", mock.Anything, models.FlightStatusWorkflowID(query), "", models.SignalQueryFinalized,
		mock.MatchedBy(func(sig models.QueryFinalizedSignal) bool { return sig.Status == surety.StatusLateAirline }),
	).Return(nil).Once()

	s.notifier.Start(s.ctx)

	_, err := s.svc.RequestFlightStatus(s.ctx, "passenger-1", testFlight)
	s.Require().NoError(err)
	for _, oracle := range []surety.Principal{"oracle-1", "oracle-2", "oracle-3"} {
		_, err := s.svc.SubmitOracleResponse(s.ctx, oracle, query, surety.StatusLateAirline)
		s.Require().NoError(err)
	}

	s.Eventually(func() bool {
		snap, err := s.cache.MemoryCache.GetFlight(s.ctx, testFlight)
		return err == nil && snap.Status == surety.StatusLateAirline
	}, 2*time.Second, 10*time.Millisecond)
	s.Eventually(func() bool {
		return len(s.notifier.Tracked(testFlight)) == 0
	}, 2*time.Second, 10*time.Millisecond)
	s.Eventually(func() bool {
		return s.workflows.AssertExpectations(noopT{})
	}, 2*time.Second, 10*time.Millisecond)
}

func (s *ServiceSuite) TestNotifier_AbandonUntracks() {
	query := surety.QueryKey{Flight: testFlight, Nonce: 0}
	s.workflows.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	s.notifier.Start(s.ctx)

	_, err := s.svc.RequestFlightStatus(s.ctx, "passenger-1", testFlight)
	s.Require().NoError(err)
	s.Len(s.notifier.Tracked(testFlight), 1)

	s.Require().NoError(s.svc.AbandonQuery(s.ctx, owner, query))
	s.Eventually(func() bool {
		return len(s.notifier.Tracked(testFlight)) == 0
	}, 2*time.Second, 10*time.Millisecond)
	s.workflows.AssertNotCalled(s.T(), "SignalWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestNotifier_IgnoresOtherEvents() {
	s.notifier.Observe(surety.Event{Kind: surety.EventPolicyPurchased})
	s.Len(s.notifier.events, 0)
}

// noopT lets AssertExpectations be polled without failing the test early.
type noopT struct{}

func (noopT) Logf(string, ...interface{})   {}
func (noopT) Errorf(string, ...interface{}) {}
func (noopT) FailNow()                      {}
