package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cx-tal-miterani/flight-surety/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("not found")
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Repository handles all database operations
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Connect opens a pool and verifies it.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the journal tables if they do not exist.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// AppendEvents stores events in one transaction, in order.
func (r *Repository) AppendEvents(ctx context.Context, rows []EventRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(`
			INSERT INTO ledger_events (id, kind, caller, subject, payload, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING
		`, row.ID, row.Kind, row.Caller, row.Subject, row.Payload, row.OccurredAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert events: %w", err)
	}
	return tx.Commit(ctx)
}

// ListEvents returns journaled events in sequence order.
func (r *Repository) ListEvents(ctx context.Context, filter models.EventFilter) ([]models.EventRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	if filter.Subject != "" {
		args = append(args, filter.Subject)
		where = append(where, fmt.Sprintf("subject = $%d", len(args)))
	}
	if filter.AfterSeq > 0 {
		args = append(args, filter.AfterSeq)
		where = append(where, fmt.Sprintf("seq > $%d", len(args)))
	}
	args = append(args, clampLimit(filter.Limit))

	query := `SELECT seq, id, kind, caller, subject, payload, occurred_at FROM ledger_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY seq ASC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []models.EventRecord
	for rows.Next() {
		row, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		rec, err := row.Record()
		if err != nil {
			return nil, err
		}
		events = append(events, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return events, nil
}

// GetEvent returns one journaled event by ID.
func (r *Repository) GetEvent(ctx context.Context, id uuid.UUID) (*models.EventRecord, error) {
	row, err := scanEvent(r.pool.QueryRow(ctx, `
		SELECT seq, id, kind, caller, subject, payload, occurred_at
		FROM ledger_events
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rec, err := row.Record()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanEvent(row pgx.Row) (EventRow, error) {
	var e EventRow
	if err := row.Scan(&e.Seq, &e.ID, &e.Kind, &e.Caller, &e.Subject, &e.Payload, &e.OccurredAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return EventRow{}, err
		}
		return EventRow{}, fmt.Errorf("failed to scan event: %w", err)
	}
	return e, nil
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultListLimit
	case n > maxListLimit:
		return maxListLimit
	}
	return n
}
