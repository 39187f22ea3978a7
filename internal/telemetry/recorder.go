package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"snapblaster-core/internal/bus"
)

// MorphSession is one completed morph, persisted for offline analysis
// (performance history, curve-choice tuning). Not part of the core's
// in-memory model; this is purely an observability sink.
type MorphSession struct {
	BankID       int       `db:"bank_id"`
	FromSnap     int       `db:"from_snap"`
	ToSnap       int       `db:"to_snap"`
	DurationBars int       `db:"duration_bars"`
	Curve        string    `db:"curve"`
	StartedAt    time.Time `db:"started_at"`
	CompletedAt  time.Time `db:"completed_at"`
}

// Recorder batches MorphSession rows and flushes them to Postgres on a
// ticker, mirroring the teacher's AsyncWriter (async_writer_core.go,
// async_writer_flush.go): a bounded channel, a size-or-interval flush
// trigger, and a drop-oldest escape hatch under sustained overload instead
// of blocking the bus consumer.
type Recorder struct {
	db      *sqlx.DB
	bus     *bus.Bus
	metrics *Metrics
	logger  *slog.Logger

	taskChan      chan MorphSession
	batchSize     int
	flushInterval time.Duration

	mu      sync.Mutex
	pending *MorphSession

	wg sync.WaitGroup
}

// NewRecorder constructs a Recorder. db may be nil, in which case Start is
// a no-op subscriber that only updates metrics (useful when no telemetry
// database is configured).
func NewRecorder(db *sqlx.DB, b *bus.Bus, metrics *Metrics, logger *slog.Logger) *Recorder {
	if metrics == nil {
		metrics = Get()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		db:            db,
		bus:           b,
		metrics:       metrics,
		logger:        logger,
		taskChan:      make(chan MorphSession, 256),
		batchSize:     20,
		flushInterval: 2 * time.Second,
	}
}

// Start runs the batching flush loop and the bus-consuming goroutine until
// ctx is cancelled. Call Wait afterward to ensure the final flush lands.
func (r *Recorder) Start(ctx context.Context) {
	r.wg.Add(2)
	go r.consumeBus(ctx)
	go r.runFlushLoop(ctx)
}

// Wait blocks until both Recorder goroutines have exited.
func (r *Recorder) Wait() { r.wg.Wait() }

func (r *Recorder) consumeBus(ctx context.Context) {
	defer r.wg.Done()
	sub := r.bus.Subscribe("telemetry-recorder")
	defer sub.Close()

	for {
		ev, _, ok := sub.Recv(ctx)
		if !ok {
			return
		}
		switch e := ev.(type) {
		case bus.MorphInitiated:
			r.metrics.MorphsStarted.Inc()
			r.mu.Lock()
			r.pending = &MorphSession{
				BankID:       e.BankID,
				FromSnap:     e.FromSnap,
				ToSnap:       e.ToSnap,
				DurationBars: e.DurationBars,
				Curve:        e.Curve.String(),
				StartedAt:    time.Now(),
			}
			r.mu.Unlock()
		case bus.MorphCompleted:
			r.metrics.MorphsCompleted.Inc()
			r.mu.Lock()
			session := r.pending
			r.pending = nil
			r.mu.Unlock()
			if session == nil {
				continue
			}
			session.CompletedAt = time.Now()
			r.enqueue(*session)
		case bus.Shutdown:
			return
		}
	}
}

func (r *Recorder) enqueue(s MorphSession) {
	select {
	case r.taskChan <- s:
	default:
		// Overloaded: drop the oldest queued session rather than block the
		// bus consumer (spec.md §9 "Event-loss tolerance" extended to this
		// purely observational sink).
		select {
		case <-r.taskChan:
		default:
		}
		select {
		case r.taskChan <- s:
		default:
		}
		r.logger.Warn("telemetry_recorder_queue_overflow")
	}
	r.metrics.RecorderQueueDepth.Set(float64(len(r.taskChan)))
}

func (r *Recorder) runFlushLoop(ctx context.Context) {
	defer r.wg.Done()
	batch := make([]MorphSession, 0, r.batchSize)
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				r.flush(batch)
			}
			return
		case s := <-r.taskChan:
			batch = append(batch, s)
			r.metrics.RecorderQueueDepth.Set(float64(len(r.taskChan)))
			if len(batch) >= r.batchSize {
				r.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (r *Recorder) flush(batch []MorphSession) {
	if r.db == nil {
		return
	}
	tx, err := r.db.Beginx()
	if err != nil {
		r.logger.Warn("telemetry_recorder_begin_failed", slog.String("error", err.Error()))
		r.metrics.RecorderFlushFail.Inc()
		return
	}
	defer func() { _ = tx.Rollback() }()

	for _, s := range batch {
		_, err := tx.NamedExec(`
			INSERT INTO morph_sessions (bank_id, from_snap, to_snap, duration_bars, curve, started_at, completed_at)
			VALUES (:bank_id, :from_snap, :to_snap, :duration_bars, :curve, :started_at, :completed_at)`, s)
		if err != nil {
			r.logger.Warn("telemetry_recorder_insert_failed", slog.String("error", err.Error()))
			r.metrics.RecorderFlushFail.Inc()
			return
		}
	}

	if err := tx.Commit(); err != nil {
		r.logger.Warn("telemetry_recorder_commit_failed", slog.String("error", err.Error()))
		r.metrics.RecorderFlushFail.Inc()
	}
}
