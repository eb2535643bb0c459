package database

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cx-tal-miterani/flight-surety/internal/surety"
	"github.com/sirupsen/logrus"
)

// EventAppender persists journal rows.
type EventAppender interface {
	AppendEvents(ctx context.Context, rows []EventRow) error
}

// Journal is a surety.Observer that persists events asynchronously. Observe
// never blocks: when the buffer is full the event is dropped and counted.
type Journal struct {
	store    EventAppender
	log      logrus.FieldLogger
	events   chan surety.Event
	batch    int
	interval time.Duration

	dropped atomic.Int64
	failed  atomic.Int64
	written atomic.Int64

	wg sync.WaitGroup
}

// NewJournal creates a journal buffering up to buffer events and writing at
// most batch rows per transaction.
func NewJournal(store EventAppender, log logrus.FieldLogger, buffer, batch int, interval time.Duration) *Journal {
	if buffer <= 0 {
		buffer = 1024
	}
	if batch <= 0 {
		batch = 64
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Journal{
		store:    store,
		log:      log.WithField("component", "journal"),
		events:   make(chan surety.Event, buffer),
		batch:    batch,
		interval: interval,
	}
}

// Observe enqueues ev.
func (j *Journal) Observe(ev surety.Event) {
	select {
	case j.events <- ev:
	default:
		j.dropped.Add(1)
	}
}

// Start runs the writer until ctx is canceled, then flushes what is buffered.
func (j *Journal) Start(ctx context.Context) {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		j.run(ctx)
	}()
}

// Wait blocks until the writer has stopped.
func (j *Journal) Wait() {
	j.wg.Wait()
}

func (j *Journal) run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	pending := make([]EventRow, 0, j.batch)
	for {
		select {
		case ev := <-j.events:
			pending = j.add(pending, ev)
			if len(pending) >= j.batch {
				pending = j.flush(ctx, pending)
			}
		case <-ticker.C:
			pending = j.flush(ctx, pending)
		case <-ctx.Done():
			for {
				select {
				case ev := <-j.events:
					pending = j.add(pending, ev)
				default:
					// ctx is done; the final write gets its own deadline.
					flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					j.flush(flushCtx, pending)
					cancel()
					return
				}
			}
		}
	}
}

func (j *Journal) add(pending []EventRow, ev surety.Event) []EventRow {
	row, err := NewEventRow(ev)
	if err != nil {
		j.failed.Add(1)
		j.log.WithError(err).Error("Failed to encode event")
		return pending
	}
	return append(pending, row)
}

func (j *Journal) flush(ctx context.Context, pending []EventRow) []EventRow {
	if len(pending) == 0 {
		return pending
	}
	if err := j.store.AppendEvents(ctx, pending); err != nil {
		j.failed.Add(int64(len(pending)))
		j.log.WithError(err).WithField("events", len(pending)).Error("Failed to journal events")
	} else {
		j.written.Add(int64(len(pending)))
	}
	return pending[:0]
}

// JournalStats counts journal outcomes.
type JournalStats struct {
	Written int64 `json:"written"`
	Dropped int64 `json:"dropped"`
	Failed  int64 `json:"failed"`
}

// Stats returns the journal counters.
func (j *Journal) Stats() JournalStats {
	return JournalStats{Written: j.written.Load(), Dropped: j.dropped.Load(), Failed: j.failed.Load()}
}
