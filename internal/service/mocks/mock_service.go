package mocks

import (
	"context"

	"github.com/cx-tal-miterani/flight-surety/internal/models"
	"github.com/cx-tal-miterani/flight-surety/internal/oracles"
	"github.com/cx-tal-miterani/flight-surety/internal/service"
	"github.com/cx-tal-miterani/flight-surety/internal/surety"
	"github.com/stretchr/testify/mock"
)

var _ service.SuretyService = (*MockService)(nil)

// MockService is a mock implementation of service.SuretyService
type MockService struct {
	mock.Mock
}

func (m *MockService) IsOperational(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *MockService) SetOperational(ctx context.Context, caller surety.Principal, operational bool) error {
	args := m.Called(ctx, caller, operational)
	return args.Error(0)
}

func (m *MockService) AuthorizeCaller(ctx context.Context, caller, target surety.Principal) error {
	args := m.Called(ctx, caller, target)
	return args.Error(0)
}

func (m *MockService) DeauthorizeCaller(ctx context.Context, caller, target surety.Principal) error {
	args := m.Called(ctx, caller, target)
	return args.Error(0)
}

func (m *MockService) Fund(ctx context.Context, call surety.Call) (surety.Airline, error) {
	args := m.Called(ctx, call)
	return args.Get(0).(surety.Airline), args.Error(1)
}

func (m *MockService) FundAndRegisterFlights(ctx context.Context, call surety.Call, plans []surety.FlightPlan) (*models.FundAndRegisterResponse, error) {
	args := m.Called(ctx, call, plans)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.FundAndRegisterResponse), args.Error(1)
}

func (m *MockService) RegisterAirline(ctx context.Context, caller, candidate surety.Principal) (surety.Admission, error) {
	args := m.Called(ctx, caller, candidate)
	return args.Get(0).(surety.Admission), args.Error(1)
}

func (m *MockService) VoteForAirline(ctx context.Context, caller, candidate surety.Principal) (surety.Admission, error) {
	args := m.Called(ctx, caller, candidate)
	return args.Get(0).(surety.Admission), args.Error(1)
}

func (m *MockService) UnregisterAirline(ctx context.Context, caller, airline surety.Principal) error {
	args := m.Called(ctx, caller, airline)
	return args.Error(0)
}

func (m *MockService) GetAirline(ctx context.Context, id surety.Principal) (surety.Airline, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(surety.Airline), args.Error(1)
}

func (m *MockService) RegisterFlight(ctx context.Context, caller surety.Principal, code string, departure int64) (surety.Flight, error) {
	args := m.Called(ctx, caller, code, departure)
	return args.Get(0).(surety.Flight), args.Error(1)
}

func (m *MockService) GetFlights(ctx context.Context) []surety.Flight {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]surety.Flight)
}

func (m *MockService) GetFlight(ctx context.Context, key surety.FlightKey) (*models.FlightView, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.FlightView), args.Error(1)
}

func (m *MockService) GetFlightStatus(ctx context.Context, key surety.FlightKey) (*models.FlightSnapshot, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.FlightSnapshot), args.Error(1)
}

func (m *MockService) BuyInsurance(ctx context.Context, call surety.Call, flight surety.FlightKey) (surety.Policy, error) {
	args := m.Called(ctx, call, flight)
	return args.Get(0).(surety.Policy), args.Error(1)
}

func (m *MockService) RequestFlightStatus(ctx context.Context, caller surety.Principal, flight surety.FlightKey) (surety.Query, error) {
	args := m.Called(ctx, caller, flight)
	return args.Get(0).(surety.Query), args.Error(1)
}

func (m *MockService) RegisterOracle(ctx context.Context, call surety.Call) (oracles.Oracle, error) {
	args := m.Called(ctx, call)
	return args.Get(0).(oracles.Oracle), args.Error(1)
}

func (m *MockService) GetOracle(ctx context.Context, id surety.Principal) (oracles.Oracle, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(oracles.Oracle), args.Error(1)
}

func (m *MockService) SubmitOracleResponse(ctx context.Context, caller surety.Principal, query surety.QueryKey, status surety.Status) (surety.Submission, error) {
	args := m.Called(ctx, caller, query, status)
	return args.Get(0).(surety.Submission), args.Error(1)
}

func (m *MockService) GetQuery(ctx context.Context, key surety.QueryKey) (surety.Query, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(surety.Query), args.Error(1)
}

func (m *MockService) AbandonQuery(ctx context.Context, caller surety.Principal, query surety.QueryKey) error {
	args := m.Called(ctx, caller, query)
	return args.Error(0)
}

func (m *MockService) GetPolicies(ctx context.Context, passenger surety.Principal) []surety.Policy {
	args := m.Called(ctx, passenger)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]surety.Policy)
}

func (m *MockService) GetCredit(ctx context.Context, passenger surety.Principal) models.CreditResponse {
	args := m.Called(ctx, passenger)
	return args.Get(0).(models.CreditResponse)
}

func (m *MockService) Withdraw(ctx context.Context, caller surety.Principal) (surety.Withdrawal, error) {
	args := m.Called(ctx, caller)
	return args.Get(0).(surety.Withdrawal), args.Error(1)
}

func (m *MockService) ListEvents(ctx context.Context, filter models.EventFilter) ([]models.EventRecord, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.EventRecord), args.Error(1)
}

func (m *MockService) GetEvent(ctx context.Context, id string) (*models.EventRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EventRecord), args.Error(1)
}
