package workflows

import (
	"time"

	"github.com/cx-tal-miterani/flight-surety/internal/models"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	// DefaultQueryTimeout is used when the input carries no timeout.
	DefaultQueryTimeout = 5 * time.Minute
	// ActivityTimeout bounds each call to the surety API.
	ActivityTimeout = 30 * time.Second
	// MaxActivityAttempts is the retry limit for API calls.
	MaxActivityAttempts = 5
)

// FlightStatusWorkflow drives one oracle query: the simulated oracles answer
// after the dispatch delay, then the workflow waits for the flight to be
// finalized. A query still open at the deadline is abandoned.
func FlightStatusWorkflow(ctx workflow.Context, input models.FlightStatusWorkflowInput) (*models.FlightStatusWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Flight status workflow started", "query", input.Query.String(), "requester", string(input.Requester))

	timeout := input.Timeout
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}

	state := models.FlightStatusWorkflowState{
		Query:       input.Query,
		Deadline:    workflow.Now(ctx).Add(timeout),
		LastUpdated: workflow.Now(ctx),
	}
	if err := workflow.SetQueryHandler(ctx, models.QueryGetState, func() (models.FlightStatusWorkflowState, error) {
		return state, nil
	}); err != nil {
		return nil, err
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: ActivityTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    MaxActivityAttempts,
		},
	})

	finalizedCh := workflow.GetSignalChannel(ctx, models.SignalQueryFinalized)

	result := &models.FlightStatusWorkflowResult{Query: input.Query}
	finish := func() *models.FlightStatusWorkflowResult {
		state.Finalized = true
		state.Status = result.Status
		state.LastUpdated = workflow.Now(ctx)
		result.Outcome = models.QueryOutcomeFinalized
		logger.Info("Flight finalized", "flight", input.Query.Flight.String(), "status", result.Status.String())
		return result
	}

	if input.DispatchDelay > 0 {
		if err := workflow.Sleep(ctx, input.DispatchDelay); err != nil {
			return nil, err
		}
	}

	var dispatched models.DispatchResponsesResult
	err := workflow.ExecuteActivity(ctx, "DispatchResponses", models.DispatchResponsesInput{
		Query: input.Query,
	}).Get(ctx, &dispatched)
	if err != nil {
		logger.Error("Failed to dispatch oracle responses", "error", err)
	}
	result.Responses = dispatched.Sent
	state.Dispatched = dispatched.Sent
	state.LastUpdated = workflow.Now(ctx)
	if dispatched.Finalized {
		result.Status = dispatched.Status
		return finish(), nil
	}

	// Wait for the API server to signal finalization or the deadline to pass.
	if remaining := state.Deadline.Sub(workflow.Now(ctx)); remaining > 0 {
		timerCtx, cancelTimer := workflow.WithCancel(ctx)
		timer := workflow.NewTimer(timerCtx, remaining)

		var signaled bool
		selector := workflow.NewSelector(ctx)
		selector.AddReceive(finalizedCh, func(c workflow.ReceiveChannel, more bool) {
			var signal models.QueryFinalizedSignal
			c.Receive(ctx, &signal)
			signaled = true
			result.Status = signal.Status
		})
		selector.AddFuture(timer, func(f workflow.Future) {})
		selector.Select(ctx)

		if signaled {
			cancelTimer()
			return finish(), nil
		}
	}

	logger.Info("Query deadline passed", "query", input.Query.String())

	var check models.CheckFinalizedResult
	err = workflow.ExecuteActivity(ctx, "CheckFinalized", models.CheckFinalizedInput{
		Flight: input.Query.Flight,
	}).Get(ctx, &check)
	if err != nil {
		logger.Error("Failed to check flight status", "error", err)
	} else if check.Finalized {
		result.Status = check.Status
		return finish(), nil
	}

	if err := workflow.ExecuteActivity(ctx, "AbandonQuery", models.AbandonQueryInput{
		Query: input.Query,
	}).Get(ctx, nil); err != nil {
		logger.Error("Failed to abandon query", "error", err)
		return nil, err
	}

	state.LastUpdated = workflow.Now(ctx)
	result.Outcome = models.QueryOutcomeAbandoned
	logger.Info("Query abandoned", "query", input.Query.String())
	return result, nil
}
