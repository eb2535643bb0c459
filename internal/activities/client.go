package activities

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cx-tal-miterani/flight-surety/internal/models"
	"github.com/cx-tal-miterani/flight-surety/internal/oracles"
	"github.com/cx-tal-miterani/flight-surety/internal/surety"
)

const principalHeader = "X-Principal"

// APIError is a non-2xx answer from the surety API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("surety api: %d %s", e.StatusCode, e.Message)
}

// Retryable reports whether the request may succeed if sent again.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// statusOf returns the HTTP status of an APIError, or 0.
func statusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// APIClient calls the surety HTTP API on behalf of the worker.
type APIClient struct {
	baseURL   string
	principal surety.Principal
	http      *http.Client
}

// NewAPIClient creates a client for the API at baseURL. Privileged calls are
// attributed to principal.
func NewAPIClient(baseURL string, principal surety.Principal, httpClient *http.Client) *APIClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &APIClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		principal: principal,
		http:      httpClient,
	}
}

// RegisterOracle enrolls id as an oracle. An identity that is already
// registered is looked up instead.
func (c *APIClient) RegisterOracle(ctx context.Context, id surety.Principal, fee surety.Amount) (oracles.Oracle, error) {
	var o oracles.Oracle
	err := c.do(ctx, http.MethodPost, "/api/oracles", id, models.ValueRequest{Value: fee.String()}, &o)
	if err == nil {
		return o, nil
	}
	if statusOf(err) == http.StatusConflict {
		err = c.do(ctx, http.MethodGet, "/api/oracles/"+url.PathEscape(string(id)), id, nil, &o)
	}
	return o, err
}

// SubmitResponse reports status for query as oracle.
func (c *APIClient) SubmitResponse(ctx context.Context, oracle surety.Principal, query surety.QueryKey, status surety.Status) (surety.Submission, error) {
	req := models.OracleResponseRequest{Query: query, Status: status.String()}
	var sub surety.Submission
	err := c.do(ctx, http.MethodPost, "/api/oracles/responses", oracle, req, &sub)
	return sub, err
}

// AbandonQuery closes an unanswered query.
func (c *APIClient) AbandonQuery(ctx context.Context, query surety.QueryKey) error {
	return c.do(ctx, http.MethodDelete, queryPath(query), c.principal, nil, nil)
}

// FlightStatus returns the flight's current status.
func (c *APIClient) FlightStatus(ctx context.Context, flight surety.FlightKey) (models.FlightSnapshot, error) {
	var snap models.FlightSnapshot
	err := c.do(ctx, http.MethodGet, flightPath(flight)+"/status", c.principal, nil, &snap)
	return snap, err
}

func (c *APIClient) do(ctx context.Context, method, path string, as surety.Principal, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set(principalHeader, string(as))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e models.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func flightPath(f surety.FlightKey) string {
	return fmt.Sprintf("/api/flights/%s/%s/%d",
		url.PathEscape(string(f.Airline)), url.PathEscape(f.Code), f.Departure)
}

func queryPath(q surety.QueryKey) string {
	return fmt.Sprintf("/api/queries/%s/%s/%d/%d",
		url.PathEscape(string(q.Flight.Airline)), url.PathEscape(q.Flight.Code), q.Flight.Departure, q.Nonce)
}
