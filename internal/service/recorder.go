package service

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"mdp_go/internal/domain"

	"github.com/google/uuid"
)

// Store is the persistence the recorder writes to.
type Store interface {
	UpsertSecurity(def *domain.SecurityDefinition) error
	RecordChannelEvent(ev *domain.ChannelEvent) error
}

type record struct {
	def   *domain.SecurityDefinition
	event *domain.ChannelEvent
}

// Recorder persists security definitions and channel audit events off the
// channel goroutines. Enqueueing never blocks; records are dropped when the
// queue is full.
type Recorder struct {
	store   Store
	queue   chan record
	dropped atomic.Uint64
	now     func() time.Time
}

// NewRecorder creates a recorder with room for size pending records.
func NewRecorder(store Store, size int) *Recorder {
	return &Recorder{
		store: store,
		queue: make(chan record, size),
		now:   time.Now,
	}
}

// RecordDefinition queues a definition for upsert.
func (r *Recorder) RecordDefinition(def domain.SecurityDefinition) {
	r.enqueue(record{def: &def})
}

// RecordEvent queues an audit record with a fresh id.
// from and to are empty for events that are not state changes.
func (r *Recorder) RecordEvent(channelID int, kind domain.ChannelEventKind, from, to string, processedSeq uint64) {
	r.enqueue(record{event: &domain.ChannelEvent{
		ID:           uuid.NewString(),
		ChannelID:    channelID,
		Kind:         kind,
		FromState:    from,
		ToState:      to,
		ProcessedSeq: processedSeq,
		CreatedAt:    r.now(),
	}})
}

func (r *Recorder) enqueue(rec record) {
	select {
	case r.queue <- rec:
	default:
		n := r.dropped.Add(1)
		slog.Warn("Recorder queue full, record dropped", slog.Uint64("dropped", n))
	}
}

// Run writes queued records until ctx is cancelled, then flushes what is
// left.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.flush()
			return nil
		case rec := <-r.queue:
			r.write(rec)
		}
	}
}

func (r *Recorder) flush() {
	for {
		select {
		case rec := <-r.queue:
			r.write(rec)
		default:
			return
		}
	}
}

func (r *Recorder) write(rec record) {
	switch {
	case rec.def != nil:
		if err := r.store.UpsertSecurity(rec.def); err != nil {
			slog.Error("Failed to persist security definition",
				slog.Int("security_id", int(rec.def.SecurityID)),
				slog.Any("error", err))
		}
	case rec.event != nil:
		if err := r.store.RecordChannelEvent(rec.event); err != nil {
			slog.Error("Failed to persist channel event",
				slog.Int("channel", rec.event.ChannelID),
				slog.String("kind", string(rec.event.Kind)),
				slog.Any("error", err))
		}
	}
}
