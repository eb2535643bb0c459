package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cx-tal-miterani/flight-surety/internal/database"
	"github.com/cx-tal-miterani/flight-surety/internal/models"
	"github.com/cx-tal-miterani/flight-surety/internal/oracles"
	"github.com/cx-tal-miterani/flight-surety/internal/service"
	"github.com/cx-tal-miterani/flight-surety/internal/surety"
	"github.com/gorilla/mux"
)

// PrincipalHeader carries the caller identity attributed by the gateway.
const PrincipalHeader = "X-Principal"

var errMissingPrincipal = errors.New("missing " + PrincipalHeader + " header")

type ctxKey int

const requestIDKey ctxKey = iota

// WithRequestID stores the request ID on ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request ID stored by WithRequestID.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// Handler contains HTTP handlers for the API
type Handler struct {
	suretyService service.SuretyService
}

// NewHandler creates a new Handler instance
func NewHandler(suretyService service.SuretyService) *Handler {
	return &Handler{
		suretyService: suretyService,
	}
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	respondJSON(w, status, models.ErrorResponse{Error: message, RequestID: RequestID(r.Context())})
}

// respondServiceError maps ledger errors to HTTP statuses.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	respondError(w, r, StatusFor(err), err.Error())
}

// StatusFor returns the HTTP status for a service error.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, errMissingPrincipal):
		return http.StatusUnauthorized
	case errors.Is(err, surety.ErrNotOperational), errors.Is(err, service.ErrJournalDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, surety.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, surety.ErrUnknownAirline),
		errors.Is(err, surety.ErrUnknownFlight),
		errors.Is(err, surety.ErrUnknownQuery),
		errors.Is(err, oracles.ErrUnknownOracle),
		errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, surety.ErrAlreadyRegistered),
		errors.Is(err, surety.ErrAlreadyFinalized),
		errors.Is(err, surety.ErrDuplicatePolicy),
		errors.Is(err, surety.ErrNothingToWithdraw),
		errors.Is(err, surety.ErrInsufficientFunds):
		return http.StatusConflict
	case errors.Is(err, surety.ErrInvalidAmount),
		errors.Is(err, surety.ErrInvalidStatus),
		errors.Is(err, surety.ErrInvalidArgument),
		errors.Is(err, surety.ErrAmountExceedsCap),
		errors.Is(err, oracles.ErrFeeTooLow):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func principal(r *http.Request) (surety.Principal, error) {
	p := r.Header.Get(PrincipalHeader)
	if p == "" {
		return "", errMissingPrincipal
	}
	return surety.Principal(p), nil
}

// caller resolves the principal or writes a 401.
func caller(w http.ResponseWriter, r *http.Request) (surety.Principal, bool) {
	p, err := principal(r)
	if err != nil {
		respondServiceError(w, r, err)
		return "", false
	}
	return p, true
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, r, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// valueCall decodes a ValueRequest body into a Call from the caller.
func valueCall(w http.ResponseWriter, r *http.Request, from surety.Principal) (surety.Call, bool) {
	var req models.ValueRequest
	if !decode(w, r, &req) {
		return surety.Call{}, false
	}
	value, err := surety.ParseAmount(req.Value)
	if err != nil {
		respondServiceError(w, r, err)
		return surety.Call{}, false
	}
	return surety.Call{Caller: from, Value: value}, true
}

func flightFromPath(w http.ResponseWriter, r *http.Request) (surety.FlightKey, bool) {
	vars := mux.Vars(r)
	departure, err := strconv.ParseInt(vars["departure"], 10, 64)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "Departure must be a unix timestamp")
		return surety.FlightKey{}, false
	}
	return surety.FlightKey{Airline: surety.Principal(vars["airline"]), Code: vars["code"], Departure: departure}, true
}

func queryFromPath(w http.ResponseWriter, r *http.Request) (surety.QueryKey, bool) {
	flight, ok := flightFromPath(w, r)
	if !ok {
		return surety.QueryKey{}, false
	}
	nonce, err := strconv.ParseUint(mux.Vars(r)["nonce"], 10, 8)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "Nonce must be between 0 and 255")
		return surety.QueryKey{}, false
	}
	return surety.QueryKey{Flight: flight, Nonce: uint8(nonce)}, true
}

// GetOperational handles GET /api/operational
func (h *Handler) GetOperational(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, models.OperationalResponse{Operational: h.suretyService.IsOperational(r.Context())})
}

// SetOperational handles PUT /api/operational
func (h *Handler) SetOperational(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	var req models.OperationalRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.suretyService.SetOperational(r.Context(), from, req.Operational); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, models.OperationalResponse{Operational: h.suretyService.IsOperational(r.Context())})
}

// AuthorizeCaller handles POST /api/callers/{principal}
func (h *Handler) AuthorizeCaller(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	target := surety.Principal(mux.Vars(r)["principal"])
	if err := h.suretyService.AuthorizeCaller(r.Context(), from, target); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"caller": target, "authorized": true})
}

// DeauthorizeCaller handles DELETE /api/callers/{principal}
func (h *Handler) DeauthorizeCaller(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	target := surety.Principal(mux.Vars(r)["principal"])
	if err := h.suretyService.DeauthorizeCaller(r.Context(), from, target); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"caller": target, "authorized": false})
}

// Fund handles POST /api/airlines/fund
func (h *Handler) Fund(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	call, ok := valueCall(w, r, from)
	if !ok {
		return
	}
	airline, err := h.suretyService.Fund(r.Context(), call)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, airline)
}

// FundAndRegister handles POST /api/airlines/fund-and-register
func (h *Handler) FundAndRegister(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	var req models.FundAndRegisterRequest
	if !decode(w, r, &req) {
		return
	}
	// An already funded airline may register flights without attaching value.
	var value surety.Amount
	if req.Value != "" {
		v, err := surety.ParseAmount(req.Value)
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		value = v
	}
	resp, err := h.suretyService.FundAndRegisterFlights(r.Context(), surety.Call{Caller: from, Value: value}, req.Flights)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, resp)
}

// RegisterAirline handles POST /api/airlines/{id}/register
func (h *Handler) RegisterAirline(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	adm, err := h.suretyService.RegisterAirline(r.Context(), from, surety.Principal(mux.Vars(r)["id"]))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, admissionStatus(adm), adm)
}

// VoteForAirline handles POST /api/airlines/{id}/votes
func (h *Handler) VoteForAirline(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	adm, err := h.suretyService.VoteForAirline(r.Context(), from, surety.Principal(mux.Vars(r)["id"]))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, admissionStatus(adm), adm)
}

// admissionStatus is 201 once the candidate is admitted and 202 while votes
// are still being collected.
func admissionStatus(adm surety.Admission) int {
	if adm.Registered {
		return http.StatusCreated
	}
	return http.StatusAccepted
}

// UnregisterAirline handles DELETE /api/airlines/{id}
func (h *Handler) UnregisterAirline(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	id := surety.Principal(mux.Vars(r)["id"])
	if err := h.suretyService.UnregisterAirline(r.Context(), from, id); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("Airline %s removed", id)})
}

// GetAirline handles GET /api/airlines/{id}
func (h *Handler) GetAirline(w http.ResponseWriter, r *http.Request) {
	airline, err := h.suretyService.GetAirline(r.Context(), surety.Principal(mux.Vars(r)["id"]))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, airline)
}

// RegisterFlight handles POST /api/flights
func (h *Handler) RegisterFlight(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	var req models.RegisterFlightRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Code == "" {
		respondError(w, r, http.StatusBadRequest, "Flight code is required")
		return
	}
	flight, err := h.suretyService.RegisterFlight(r.Context(), from, req.Code, req.Departure)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, flight)
}

// GetFlights handles GET /api/flights
func (h *Handler) GetFlights(w http.ResponseWriter, r *http.Request) {
	flights := h.suretyService.GetFlights(r.Context())
	if flights == nil {
		flights = []surety.Flight{}
	}
	respondJSON(w, http.StatusOK, flights)
}

// GetFlight handles GET /api/flights/{airline}/{code}/{departure}
func (h *Handler) GetFlight(w http.ResponseWriter, r *http.Request) {
	key, ok := flightFromPath(w, r)
	if !ok {
		return
	}
	flight, err := h.suretyService.GetFlight(r.Context(), key)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, flight)
}

// GetFlightStatus handles GET /api/flights/{airline}/{code}/{departure}/status
func (h *Handler) GetFlightStatus(w http.ResponseWriter, r *http.Request) {
	key, ok := flightFromPath(w, r)
	if !ok {
		return
	}
	snap, err := h.suretyService.GetFlightStatus(r.Context(), key)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// BuyInsurance handles POST /api/flights/{airline}/{code}/{departure}/insurance
func (h *Handler) BuyInsurance(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	key, ok := flightFromPath(w, r)
	if !ok {
		return
	}
	call, ok := valueCall(w, r, from)
	if !ok {
		return
	}
	policy, err := h.suretyService.BuyInsurance(r.Context(), call, key)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, policy)
}

// RequestFlightStatus handles POST /api/flights/{airline}/{code}/{departure}/status-requests
func (h *Handler) RequestFlightStatus(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	key, ok := flightFromPath(w, r)
	if !ok {
		return
	}
	query, err := h.suretyService.RequestFlightStatus(r.Context(), from, key)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, query)
}

// RegisterOracle handles POST /api/oracles
func (h *Handler) RegisterOracle(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	call, ok := valueCall(w, r, from)
	if !ok {
		return
	}
	oracle, err := h.suretyService.RegisterOracle(r.Context(), call)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, oracle)
}

// GetOracle handles GET /api/oracles/{id}
func (h *Handler) GetOracle(w http.ResponseWriter, r *http.Request) {
	oracle, err := h.suretyService.GetOracle(r.Context(), surety.Principal(mux.Vars(r)["id"]))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, oracle)
}

// SubmitOracleResponse handles POST /api/oracles/responses
func (h *Handler) SubmitOracleResponse(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	var req models.OracleResponseRequest
	if !decode(w, r, &req) {
		return
	}
	status, err := surety.ParseStatus(req.Status)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	sub, err := h.suretyService.SubmitOracleResponse(r.Context(), from, req.Query, status)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

// GetQuery handles GET /api/queries/{airline}/{code}/{departure}/{nonce}
func (h *Handler) GetQuery(w http.ResponseWriter, r *http.Request) {
	key, ok := queryFromPath(w, r)
	if !ok {
		return
	}
	query, err := h.suretyService.GetQuery(r.Context(), key)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, query)
}

// AbandonQuery handles DELETE /api/queries/{airline}/{code}/{departure}/{nonce}
func (h *Handler) AbandonQuery(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	key, ok := queryFromPath(w, r)
	if !ok {
		return
	}
	if err := h.suretyService.AbandonQuery(r.Context(), from, key); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Query abandoned"})
}

// GetPolicies handles GET /api/passengers/{id}/policies
func (h *Handler) GetPolicies(w http.ResponseWriter, r *http.Request) {
	policies := h.suretyService.GetPolicies(r.Context(), surety.Principal(mux.Vars(r)["id"]))
	if policies == nil {
		policies = []surety.Policy{}
	}
	respondJSON(w, http.StatusOK, policies)
}

// GetCredit handles GET /api/passengers/{id}/credit
func (h *Handler) GetCredit(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.suretyService.GetCredit(r.Context(), surety.Principal(mux.Vars(r)["id"])))
}

// Withdraw handles POST /api/passengers/withdraw
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	withdrawal, err := h.suretyService.Withdraw(r.Context(), from)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, withdrawal)
}

// ListEvents handles GET /api/events
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.EventFilter{Kind: q.Get("kind"), Subject: q.Get("subject")}
	if after := q.Get("after"); after != "" {
		seq, err := strconv.ParseInt(after, 10, 64)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, "after must be an integer")
			return
		}
		filter.AfterSeq = seq
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, "limit must be an integer")
			return
		}
		filter.Limit = n
	}

	events, err := h.suretyService.ListEvents(r.Context(), filter)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if events == nil {
		events = []models.EventRecord{}
	}
	respondJSON(w, http.StatusOK, events)
}

// GetEvent handles GET /api/events/{id}
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.suretyService.GetEvent(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, event)
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"operational": h.suretyService.IsOperational(r.Context()),
		"time":        time.Now().Format(time.RFC3339),
	})
}
