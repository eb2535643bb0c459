package activities

import (
	"context"
	"errors"
	"net/http"

	"github.com/cx-tal-miterani/flight-surety/internal/database"
	"github.com/cx-tal-miterani/flight-surety/internal/models"
	"github.com/cx-tal-miterani/flight-surety/internal/oracles"
	"github.com/cx-tal-miterani/flight-surety/internal/surety"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
)

// SuretyAPI is the part of the surety API the activities call.
type SuretyAPI interface {
	SubmitResponse(ctx context.Context, oracle surety.Principal, query surety.QueryKey, status surety.Status) (surety.Submission, error)
	AbandonQuery(ctx context.Context, query surety.QueryKey) error
	FlightStatus(ctx context.Context, flight surety.FlightKey) (models.FlightSnapshot, error)
}

var _ SuretyAPI = (*APIClient)(nil)

// Activities holds the dependencies of the flight status activities.
type Activities struct {
	api       SuretyAPI
	simulator *oracles.Simulator
	cache     database.SnapshotCache
}

// NewActivities creates the activities. cache may be nil.
func NewActivities(api SuretyAPI, simulator *oracles.Simulator, cache database.SnapshotCache) *Activities {
	return &Activities{api: api, simulator: simulator, cache: cache}
}

// DispatchResponses activity - submits the answers of every simulated oracle
// eligible for the query until one of them finalizes the flight.
func (a *Activities) DispatchResponses(ctx context.Context, input models.DispatchResponsesInput) (*models.DispatchResponsesResult, error) {
	logger := activity.GetLogger(ctx)
	responses := a.simulator.Respond(input.Query)
	logger.Info("Dispatching oracle responses", "query", input.Query.String(), "oracles", len(responses))

	result := &models.DispatchResponsesResult{}
	for _, r := range responses {
		sub, err := a.api.SubmitResponse(ctx, r.Oracle, input.Query, r.Status)
		switch code := statusOf(err); {
		case err == nil:
		case code == http.StatusNotFound:
			// Finalized or abandoned by someone else.
			logger.Info("Query no longer open", "query", input.Query.String())
			return result, nil
		case code == http.StatusForbidden || code == http.StatusConflict:
			logger.Warn("Oracle response rejected", "oracle", string(r.Oracle), "error", err)
			continue
		default:
			return nil, classify(err)
		}

		if sub.Accepted {
			result.Sent++
		}
		if sub.Finalized {
			result.Finalized = true
			result.Status = sub.Status
			logger.Info("Flight finalized", "flight", input.Query.Flight.String(), "status", sub.Status.String())
			return result, nil
		}
	}
	return result, nil
}

// CheckFinalized activity - reports whether the flight has been finalized,
// reading the snapshot cache before the API.
func (a *Activities) CheckFinalized(ctx context.Context, input models.CheckFinalizedInput) (*models.CheckFinalizedResult, error) {
	logger := activity.GetLogger(ctx)

	if a.cache != nil {
		snap, err := a.cache.GetFlight(ctx, input.Flight)
		if err == nil {
			return &models.CheckFinalizedResult{Finalized: true, Status: snap.Status}, nil
		}
		if !errors.Is(err, database.ErrCacheMiss) {
			logger.Warn("Snapshot cache read failed", "flight", input.Flight.String(), "error", err)
		}
	}

	snap, err := a.api.FlightStatus(ctx, input.Flight)
	if err != nil {
		return nil, classify(err)
	}
	if !snap.Status.Terminal() {
		return &models.CheckFinalizedResult{}, nil
	}
	return &models.CheckFinalizedResult{Finalized: true, Status: snap.Status}, nil
}

// AbandonQuery activity - closes a query that timed out. A query that is
// already closed counts as abandoned.
func (a *Activities) AbandonQuery(ctx context.Context, input models.AbandonQueryInput) error {
	logger := activity.GetLogger(ctx)
	logger.Info("Abandoning query", "query", input.Query.String())

	err := a.api.AbandonQuery(ctx, input.Query)
	if statusOf(err) == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return classify(err)
	}
	return nil
}

// classify marks client errors as non-retryable.
func classify(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && !apiErr.Retryable() {
		return temporal.NewNonRetryableApplicationError(apiErr.Message, "SuretyAPIError", err)
	}
	return err
}
