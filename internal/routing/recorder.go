package routing

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/schooldesk/assistant/pkg/logging"
)

// LogEntry is one routing decision, kept for offline analysis and training.
// Append-only; nothing in this package updates or deletes entries.
type LogEntry struct {
	ID                   uuid.UUID
	SchoolID             string
	UserID               string
	Message              string
	RouterIntent         string
	RouterConfidence     float64
	ClassifierIntent     string
	ClassifierConfidence float64
	FinalIntent          string
	Handler              string
	Source               DecisionSource
	FallbackUsed         bool
	LatencyMS            int64
	VersionID            *uuid.UUID
	CreatedAt            time.Time
}

// Recorder persists routing decisions fire-and-forget: a failed write is
// logged and discarded, never surfaced to the user-facing call.
type Recorder struct {
	db     *sql.DB
	logger *logging.Logger

	timeout time.Duration
	wg      sync.WaitGroup
}

// NewRecorder wires a recorder over a database handle.
func NewRecorder(db *sql.DB, logger *logging.Logger) *Recorder {
	if db == nil {
		panic("routing: recorder db required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Recorder{db: db, logger: logger, timeout: 5 * time.Second}
}

// Record persists the entry in the background. When the entry carries no
// version id there is no active configuration to attribute it to and the
// write is skipped entirely.
func (r *Recorder) Record(entry LogEntry) {
	if r == nil {
		return
	}
	if entry.VersionID == nil {
		r.logger.Debug("routing log skipped: no active config version")
		return
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("routing log write panicked", "panic", rec)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.insert(ctx, entry); err != nil {
			r.logger.Error("routing log write failed", "error", err, "entry_id", entry.ID)
		}
	}()
}

func (r *Recorder) insert(ctx context.Context, entry LogEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO routing_decisions (
			id, school_id, user_id, message,
			router_intent, router_confidence,
			classifier_intent, classifier_confidence,
			final_intent, handler, source, fallback_used,
			latency_ms, version_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		entry.ID, entry.SchoolID, entry.UserID, entry.Message,
		entry.RouterIntent, entry.RouterConfidence,
		entry.ClassifierIntent, entry.ClassifierConfidence,
		entry.FinalIntent, entry.Handler, entry.Source, entry.FallbackUsed,
		entry.LatencyMS, entry.VersionID, entry.CreatedAt)
	return err
}

// Wait blocks until all in-flight writes finish. Used on shutdown and in tests.
func (r *Recorder) Wait() {
	r.wg.Wait()
}
