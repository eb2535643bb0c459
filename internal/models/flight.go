package models

import (
	"time"

	"github.com/cx-tal-miterani/flight-surety/internal/surety"
)

// FlightView is a flight with its open queries and policy count.
type FlightView struct {
	surety.Flight
	Insured     int               `json:"insured"`
	OpenQueries []surety.QueryKey `json:"openQueries"`
}

// FlightSnapshot is the cached record of a finalized flight.
type FlightSnapshot struct {
	Key         surety.FlightKey `json:"key"`
	Status      surety.Status    `json:"status"`
	FinalizedAt time.Time        `json:"finalizedAt"`
	CachedAt    time.Time        `json:"cachedAt"`
}

// SnapshotOf builds the cache record for a finalized flight.
func SnapshotOf(f surety.Flight, now time.Time) FlightSnapshot {
	return FlightSnapshot{Key: f.Key, Status: f.Status, FinalizedAt: f.FinalizedAt, CachedAt: now}
}
