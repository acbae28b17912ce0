// Package audit emits the per-request webhook audit trail: exactly one entry
// per inbound delivery, written at the terminal state of the dispatch
// pipeline, to the structured log and best-effort to the audit store.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Outcome is the terminal classification of one webhook request.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
	OutcomeError     Outcome = "error"
)

// Entry is one audit record. Monetary and PII fields are deliberately absent;
// diagnostics reference the event id, never payload contents.
type Entry struct {
	ID              string
	RequestID       string
	Timestamp       time.Time
	Provider        string
	EventType       string
	SourceIP        string
	EventID         string
	SignatureValid  bool
	ProcessingTime  time.Duration
	Outcome         Outcome
	RejectionReason string
	MutationCalled  bool
	SyncStatus      bool
}

// Store persists audit entries.
type Store interface {
	InsertAudit(ctx context.Context, entry Entry) error
}

// Recorder writes entries to the log and the store. A nil store logs only.
type Recorder struct {
	log   *slog.Logger
	store Store
}

// NewRecorder builds a Recorder.
func NewRecorder(log *slog.Logger, store Store) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{log: log, store: store}
}

// Record emits the entry. Store failures are logged and swallowed: the audit
// trail must never fail the webhook acknowledgment.
func (r *Recorder) Record(ctx context.Context, entry Entry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	level := slog.LevelInfo
	switch entry.Outcome {
	case OutcomeRejected:
		level = slog.LevelWarn
	case OutcomeError:
		level = slog.LevelError
	}
	r.log.Log(ctx, level, "webhook audit",
		"request_id", entry.RequestID,
		"provider", entry.Provider,
		"event_type", entry.EventType,
		"event_id", entry.EventID,
		"source_ip", entry.SourceIP,
		"signature_valid", entry.SignatureValid,
		"processing_ms", entry.ProcessingTime.Milliseconds(),
		"outcome", string(entry.Outcome),
		"rejection_reason", entry.RejectionReason,
		"mutation_called", entry.MutationCalled,
		"sync_status", entry.SyncStatus,
	)

	if r.store == nil {
		return
	}
	if err := r.store.InsertAudit(ctx, entry); err != nil {
		r.log.Warn("audit store write failed", "request_id", entry.RequestID, "error", err)
	}
}
