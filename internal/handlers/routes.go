package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

const (
	flightPath = "/flights/{airline}/{code}/{departure:[0-9]+}"
	queryPath  = "/queries/{airline}/{code}/{departure:[0-9]+}/{nonce:[0-9]+}"
)

// Register mounts the API routes on api.
func (h *Handler) Register(api *mux.Router) {
	// Admin
	api.HandleFunc("/operational", h.GetOperational).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/operational", h.SetOperational).Methods(http.MethodPut, http.MethodOptions)
	api.HandleFunc("/callers/{principal}", h.AuthorizeCaller).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/callers/{principal}", h.DeauthorizeCaller).Methods(http.MethodDelete, http.MethodOptions)

	// Airlines
	api.HandleFunc("/airlines/fund", h.Fund).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/airlines/fund-and-register", h.FundAndRegister).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/airlines/{id}/register", h.RegisterAirline).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/airlines/{id}/votes", h.VoteForAirline).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/airlines/{id}", h.GetAirline).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/airlines/{id}", h.UnregisterAirline).Methods(http.MethodDelete, http.MethodOptions)

	// Flights
	api.HandleFunc("/flights", h.RegisterFlight).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/flights", h.GetFlights).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc(flightPath, h.GetFlight).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc(flightPath+"/status", h.GetFlightStatus).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc(flightPath+"/insurance", h.BuyInsurance).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc(flightPath+"/status-requests", h.RequestFlightStatus).Methods(http.MethodPost, http.MethodOptions)

	// Oracles
	api.HandleFunc("/oracles", h.RegisterOracle).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/oracles/responses", h.SubmitOracleResponse).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/oracles/{id}", h.GetOracle).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc(queryPath, h.GetQuery).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc(queryPath, h.AbandonQuery).Methods(http.MethodDelete, http.MethodOptions)

	// Passengers
	api.HandleFunc("/passengers/{id}/policies", h.GetPolicies).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/passengers/{id}/credit", h.GetCredit).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/passengers/withdraw", h.Withdraw).Methods(http.MethodPost, http.MethodOptions)

	// Journal
	api.HandleFunc("/events", h.ListEvents).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/events/{id}", h.GetEvent).Methods(http.MethodGet, http.MethodOptions)
}
