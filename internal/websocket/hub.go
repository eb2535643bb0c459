package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/cx-tal-miterani/flight-surety/internal/surety"
	"github.com/sirupsen/logrus"
)

// MessageType represents the type of WebSocket message
type MessageType string

const (
	MessageTypePolicyPurchased MessageType = "policy_purchased"
	MessageTypeStatusRequested MessageType = "status_requested"
	MessageTypeOracleResponded MessageType = "oracle_responded"
	MessageTypeQueryAbandoned  MessageType = "query_abandoned"
	MessageTypeFlightFinalized MessageType = "flight_finalized"
	MessageTypePayoutCredited  MessageType = "payout_credited"
)

var messageTypes = map[surety.EventKind]MessageType{
	surety.EventPolicyPurchased: MessageTypePolicyPurchased,
	surety.EventStatusRequested: MessageTypeStatusRequested,
	surety.EventOracleResponded: MessageTypeOracleResponded,
	surety.EventQueryAbandoned:  MessageTypeQueryAbandoned,
	surety.EventFlightFinalized: MessageTypeFlightFinalized,
	surety.EventPayoutCredited:  MessageTypePayoutCredited,
}

// Message represents a WebSocket message
type Message struct {
	Type      MessageType      `json:"type"`
	Flight    surety.FlightKey `json:"flight"`
	Nonce     *uint8           `json:"nonce,omitempty"`
	Status    string           `json:"status,omitempty"`
	Passenger surety.Principal `json:"passenger,omitempty"`
	Amount    string           `json:"amount,omitempty"`
	Timestamp int64            `json:"timestamp"`
}

// MessageFor converts a ledger event to a flight message. Events not tied to
// a flight are skipped.
func MessageFor(ev surety.Event) (*Message, bool) {
	typ, ok := messageTypes[ev.Kind]
	if !ok || ev.Flight == nil {
		return nil, false
	}
	msg := &Message{
		Type:      typ,
		Flight:    *ev.Flight,
		Passenger: ev.Passenger,
		Timestamp: ev.At.UnixMilli(),
	}
	if ev.Query != nil {
		nonce := ev.Query.Nonce
		msg.Nonce = &nonce
	}
	if ev.Status != surety.StatusUnknown {
		msg.Status = ev.Status.String()
	}
	if ev.Amount != 0 {
		msg.Amount = ev.Amount.String()
	}
	if ev.At.IsZero() {
		msg.Timestamp = time.Now().UnixMilli()
	}
	return msg, true
}

// Hub manages WebSocket connections per flight. It is a surety.Observer.
type Hub struct {
	clients    map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	done       chan struct{}
	mu         sync.RWMutex
	log        logrus.FieldLogger
	dropped    int64
}

// NewHub creates a new Hub
func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 256),
		done:       make(chan struct{}),
		log:        log.WithField("component", "websocket"),
	}
}

// Observe forwards flight events to watching clients without blocking.
func (h *Hub) Observe(ev surety.Event) {
	msg, ok := MessageFor(ev)
	if !ok {
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
	}
}

// Stop ends Run.
func (h *Hub) Stop() {
	close(h.done)
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for flight, clients := range h.clients {
				for client := range clients {
					close(client.send)
				}
				delete(h.clients, flight)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.flight] == nil {
				h.clients[client.flight] = make(map[*Client]bool)
			}
			h.clients[client.flight][client] = true
			h.log.WithFields(logrus.Fields{"flight": client.flight, "clients": len(h.clients[client.flight])}).Debug("Client registered")
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				h.log.WithError(err).Error("Failed to marshal message")
				continue
			}
			flight := message.Flight.String()

			h.mu.Lock()
			for client := range h.clients[flight] {
				select {
				case client.send <- data:
				default:
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove drops client; h.mu must be held.
func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.flight]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.send)
	h.log.WithFields(logrus.Fields{"flight": client.flight, "clients": len(clients)}).Debug("Client unregistered")
	if len(clients) == 0 {
		delete(h.clients, client.flight)
	}
}

// GetClientCount returns the number of clients watching a flight
func (h *Hub) GetClientCount(flight surety.FlightKey) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[flight.String()])
}

// Dropped returns how many messages were discarded because the hub was busy.
func (h *Hub) Dropped() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}
