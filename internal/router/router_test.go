package router

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cx-tal-miterani/flight-surety/internal/handlers"
	"github.com/cx-tal-miterani/flight-surety/internal/metrics"
	"github.com/cx-tal-miterani/flight-surety/internal/service/mocks"
	"github.com/cx-tal-miterani/flight-surety/internal/surety"
	"github.com/cx-tal-miterani/flight-surety/internal/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, opts Options) (*mocks.MockService, http.Handler) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	opts.Logger = log

	mockService := new(mocks.MockService)
	return mockService, SetupRouter(handlers.NewHandler(mockService), websocket.NewHub(log), opts)
}

func TestRouter_Health(t *testing.T) {
	mockService, r := setup(t, Options{AllowedOrigins: []string{"*"}})
	mockService.On("IsOperational", mock.Anything).Return(true)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_RequestIDPropagates(t *testing.T) {
	mockService, r := setup(t, Options{})
	mockService.On("GetAirline", mock.Anything, surety.Principal("nobody")).Return(surety.Airline{}, surety.ErrUnknownAirline)

	req := httptest.NewRequest(http.MethodGet, "/api/airlines/nobody", nil)
	req.Header.Set(RequestIDHeader, "req-abc")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "req-abc", rec.Header().Get(RequestIDHeader))
	assert.Contains(t, rec.Body.String(), `"requestId":"req-abc"`)
}

func TestRouter_CORS(t *testing.T) {
	_, r := setup(t, Options{AllowedOrigins: []string{"https://dapp.example"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/flights", nil)
	req.Header.Set("Origin", "https://dapp.example")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://dapp.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), handlers.PrincipalHeader)

	req = httptest.NewRequest(http.MethodOptions, "/api/flights", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_Metrics(t *testing.T) {
	m := metrics.New()
	mockService, r := setup(t, Options{Metrics: m})
	mockService.On("GetFlights", mock.Anything).Return([]surety.Flight{})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/flights", nil))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var snap metrics.Snapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&snap))
	assert.Equal(t, int64(1), snap.HTTPRequests)
}

func TestRouter_RateLimit(t *testing.T) {
	m := metrics.New()
	mockService, r := setup(t, Options{Limiter: NewRateLimiter(1, 2), Metrics: m})
	mockService.On("GetFlights", mock.Anything).Return([]surety.Flight{})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/flights", nil)
		req.Header.Set(handlers.PrincipalHeader, "passenger-1")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// A different principal has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/api/flights", nil)
	req.Header.Set(handlers.PrincipalHeader, "passenger-2")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, int64(1), m.GetSnapshot().HTTPRateLimited)
}

func TestRateLimiter_Sweep(t *testing.T) {
	rl := NewRateLimiter(10, 10)
	now := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("principal:a"))
	now = now.Add(5 * time.Minute)
	assert.True(t, rl.Allow("principal:b"))
	assert.Equal(t, 2, rl.Size())

	now = now.Add(6 * time.Minute)
	assert.Equal(t, 1, rl.Sweep())
	assert.Equal(t, 1, rl.Size())
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/flights", nil)
	req.RemoteAddr = "10.0.0.7:52100"
	assert.Equal(t, "addr:10.0.0.7", clientKey(req))

	req.Header.Set(handlers.PrincipalHeader, "airline-0")
	assert.Equal(t, "principal:airline-0", clientKey(req))
}
