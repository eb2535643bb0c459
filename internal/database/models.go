package database

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cx-tal-miterani/flight-surety/internal/models"
	"github.com/cx-tal-miterani/flight-surety/internal/surety"
	"github.com/google/uuid"
)

// Schema creates the ledger event journal.
const Schema = `
CREATE TABLE IF NOT EXISTS ledger_events (
	seq         BIGSERIAL PRIMARY KEY,
	id          UUID NOT NULL UNIQUE,
	kind        TEXT NOT NULL,
	caller      TEXT NOT NULL,
	subject     TEXT NOT NULL DEFAULT '',
	payload     JSONB NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS ledger_events_subject_idx ON ledger_events (subject, seq);
CREATE INDEX IF NOT EXISTS ledger_events_kind_idx ON ledger_events (kind, seq);
`

// EventRow is a journaled event as stored.
type EventRow struct {
	Seq        int64
	ID         uuid.UUID
	Kind       string
	Caller     string
	Subject    string
	Payload    []byte
	OccurredAt time.Time
}

// NewEventRow encodes an engine event for storage.
func NewEventRow(ev surety.Event) (EventRow, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return EventRow{}, fmt.Errorf("failed to encode %s event: %w", ev.Kind, err)
	}
	return EventRow{
		ID:         uuid.New(),
		Kind:       string(ev.Kind),
		Caller:     string(ev.Caller),
		Subject:    SubjectOf(ev),
		Payload:    payload,
		OccurredAt: ev.At,
	}, nil
}

// Record decodes the row into its API form.
func (r EventRow) Record() (models.EventRecord, error) {
	var ev surety.Event
	if err := json.Unmarshal(r.Payload, &ev); err != nil {
		return models.EventRecord{}, fmt.Errorf("failed to decode event %s: %w", r.ID, err)
	}
	return models.EventRecord{
		ID:         r.ID.String(),
		Seq:        r.Seq,
		Kind:       r.Kind,
		Caller:     surety.Principal(r.Caller),
		Subject:    r.Subject,
		Payload:    ev,
		OccurredAt: r.OccurredAt,
	}, nil
}

// SubjectOf is the entity an event is filed under: its flight, else its
// passenger, else its airline.
func SubjectOf(ev surety.Event) string {
	switch {
	case ev.Flight != nil:
		return "flight:" + ev.Flight.String()
	case ev.Passenger != "":
		return "passenger:" + string(ev.Passenger)
	case ev.Airline != "":
		return "airline:" + string(ev.Airline)
	}
	return ""
}
