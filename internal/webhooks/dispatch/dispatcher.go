// Package dispatch runs the per-request webhook state machine:
//
//	received → config → headers → timestamp → duplicate → signature → routed → processed|error
//
// Every terminal state writes exactly one audit entry. Security rejections
// resolve here as deterministic 400s with machine-readable codes (never
// 401/403, which would tell a probing sender which check it tripped);
// handler errors surface as 500 so the provider redelivers.
package dispatch

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fr0stylo/payhook/internal/audit"
	"github.com/fr0stylo/payhook/internal/notify"
	"github.com/fr0stylo/payhook/internal/payments"
	"github.com/fr0stylo/payhook/internal/security"
	"github.com/fr0stylo/payhook/internal/webhooks/verify"
)

// Rejection codes owned by the dispatcher; timestamp codes come from the
// security service.
const (
	CodeConfigMissing     = "WEBHOOK_CONFIG_MISSING"
	CodeMissingHeaders    = "WEBHOOK_MISSING_HEADERS"
	CodeInvalidPayload    = "WEBHOOK_INVALID_PAYLOAD"
	CodeSignatureInvalid  = "WEBHOOK_SIGNATURE_INVALID"
	CodeProcessingFailure = "WEBHOOK_PROCESSING_FAILED"
)

// Ack is the success/benign response body.
type Ack struct {
	Received       bool     `json:"received"`
	Synced         bool     `json:"synced"`
	Message        string   `json:"message,omitempty"`
	OrderID        string   `json:"orderId,omitempty"`
	ReservationIDs []string `json:"reservationIds,omitempty"`
	Duplicate      bool     `json:"duplicate,omitempty"`
}

// Rejection is the 400/500 response body. Deliberately generic: no secrets,
// no stack traces, no hint of which internal check failed beyond the code.
type Rejection struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
}

// Handler processes a verified event.
type Handler interface {
	Process(ctx context.Context, ev *verify.Result) (payments.Outcome, error)
}

// ProcessedStore is the durable processed-events record consulted in
// addition to the in-memory idempotency cache. Optional.
type ProcessedStore interface {
	WasProcessed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID, eventType string) (bool, error)
}

// Request is one inbound webhook delivery, raw bytes preserved.
type Request struct {
	Verifier  verify.Verifier
	RawBody   []byte
	Header    http.Header
	SourceIP  string
	RequestID string
}

// Dispatcher wires the security service, verifiers, orchestrator and audit
// trail into the request pipeline.
type Dispatcher struct {
	security   *security.Service
	recorder   *audit.Recorder
	notifier   notify.Notifier
	handler    Handler
	store      ProcessedStore
	production bool
	log        *slog.Logger
	now        func() time.Time
}

// New builds a Dispatcher. store may be nil; production controls whether a
// missing webhook secret is fatal or falls back to trusting the body.
func New(sec *security.Service, recorder *audit.Recorder, notifier notify.Notifier, handler Handler, store ProcessedStore, production bool, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		security:   sec,
		recorder:   recorder,
		notifier:   notifier,
		handler:    handler,
		store:      store,
		production: production,
		log:        log,
		now:        time.Now,
	}
}

// Dispatch runs the state machine and returns the HTTP status and body.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (int, any) {
	started := d.now()
	v := req.Verifier
	entry := audit.Entry{
		RequestID: req.RequestID,
		Timestamp: started.UTC(),
		Provider:  string(v.Provider()),
		SourceIP:  req.SourceIP,
	}
	finish := func(outcome audit.Outcome, reason string) {
		entry.Outcome = outcome
		entry.RejectionReason = reason
		entry.ProcessingTime = d.now().Sub(started)
		d.recorder.Record(ctx, entry)
	}

	// Config gate. In production a missing secret is fatal for the request
	// only; unrelated routes keep serving.
	if !v.Configured() {
		if d.production {
			d.notify(ctx, notify.Alert{
				Type:     "configuration_error",
				Severity: notify.SeverityCritical,
				Subject:  "webhook secret missing in production",
				Detail:   "provider " + string(v.Provider()),
			})
			finish(audit.OutcomeError, CodeConfigMissing)
			return d.internalError(req, CodeConfigMissing)
		}
		d.log.WarnContext(ctx, "webhook secret missing, trusting unverified body (local development only)",
			"provider", string(v.Provider()))
		return d.routeUnverified(ctx, req, &entry, finish)
	}

	// Required headers.
	for _, name := range v.RequiredHeaders() {
		if req.Header.Get(name) == "" {
			finish(audit.OutcomeRejected, CodeMissingHeaders)
			return d.reject(req, http.StatusBadRequest, CodeMissingHeaders, "required webhook headers missing")
		}
	}

	// Timestamp gate.
	if ts := d.security.ValidateTimestamp(v.Timestamp(req.Header)); !ts.Valid {
		finish(audit.OutcomeRejected, ts.Code)
		return d.reject(req, http.StatusBadRequest, ts.Code, ts.Reason)
	}

	// Duplicate short-circuit ahead of signature math.
	eventID, err := v.EventID(req.RawBody, req.Header)
	if err != nil {
		finish(audit.OutcomeRejected, CodeInvalidPayload)
		return d.reject(req, http.StatusBadRequest, CodeInvalidPayload, "event id could not be extracted")
	}
	entry.EventID = eventID
	if record, dup := d.security.CheckIdempotency(eventID); dup {
		entry.EventType = record.EventType
		finish(audit.OutcomeDuplicate, "")
		return http.StatusOK, Ack{Received: true, Duplicate: true, Message: "event already processed"}
	}
	if d.store != nil {
		if processed, err := d.store.WasProcessed(ctx, eventID); err == nil && processed {
			finish(audit.OutcomeDuplicate, "")
			return http.StatusOK, Ack{Received: true, Duplicate: true, Message: "event already processed"}
		}
	}

	// Signature.
	ev, err := v.Verify(ctx, req.RawBody, req.Header)
	if err != nil {
		count := d.security.TrackSignatureFailure(req.SourceIP)
		if count == d.security.FailureThreshold() {
			// One security warning per window, emitted on the crossing
			// failure, distinct from the per-request audit entry.
			d.log.WarnContext(ctx, "repeated signature failures from source",
				"source_ip", req.SourceIP,
				"failures", count,
				"provider", string(v.Provider()),
			)
			d.notify(ctx, notify.Alert{
				Type:     "signature_failure",
				Severity: notify.SeverityWarning,
				Subject:  "repeated webhook signature failures",
				Detail:   "source ip " + req.SourceIP,
			})
		}
		finish(audit.OutcomeRejected, CodeSignatureInvalid)
		return d.reject(req, http.StatusBadRequest, CodeSignatureInvalid, "signature verification failed")
	}
	entry.SignatureValid = true
	entry.EventType = ev.EventType

	return d.route(ctx, req, ev, &entry, finish)
}

func (d *Dispatcher) routeUnverified(ctx context.Context, req Request, entry *audit.Entry, finish func(audit.Outcome, string)) (int, any) {
	ev := verify.Unverified(req.Verifier.Provider(), req.RawBody)
	entry.EventID = ev.EventID
	entry.EventType = ev.EventType

	// The fallback skips signature checks, not idempotency: local replays
	// must not re-run side effects either.
	if ev.EventID != "" {
		if _, dup := d.security.CheckIdempotency(ev.EventID); dup {
			finish(audit.OutcomeDuplicate, "")
			return http.StatusOK, Ack{Received: true, Duplicate: true, Message: "event already processed"}
		}
		if d.store != nil {
			if processed, err := d.store.WasProcessed(ctx, ev.EventID); err == nil && processed {
				finish(audit.OutcomeDuplicate, "")
				return http.StatusOK, Ack{Received: true, Duplicate: true, Message: "event already processed"}
			}
		}
	}
	return d.route(ctx, req, ev, entry, finish)
}

func (d *Dispatcher) route(ctx context.Context, req Request, ev *verify.Result, entry *audit.Entry, finish func(audit.Outcome, string)) (int, any) {
	outcome, err := d.handler.Process(ctx, ev)
	if err != nil {
		finish(audit.OutcomeError, CodeProcessingFailure)
		return d.internalError(req, CodeProcessingFailure)
	}

	entry.MutationCalled = outcome.Synced
	entry.SyncStatus = outcome.Synced
	if ev.EventID != "" {
		d.security.RecordProcessed(ev.EventID, ev.EventType)
		if d.store != nil {
			if _, err := d.store.MarkProcessed(ctx, ev.EventID, ev.EventType); err != nil {
				d.log.WarnContext(ctx, "durable processed-event write failed", "event_id", ev.EventID, "error", err)
			}
		}
	}
	finish(audit.OutcomeSuccess, "")

	return http.StatusOK, Ack{
		Received:       true,
		Synced:         outcome.Synced,
		Message:        outcome.Message,
		OrderID:        outcome.OrderID,
		ReservationIDs: outcome.ReservationIDs,
	}
}

func (d *Dispatcher) reject(req Request, status int, code, message string) (int, any) {
	return status, Rejection{
		Error:     "webhook rejected",
		Code:      code,
		Message:   message,
		RequestID: req.RequestID,
	}
}

func (d *Dispatcher) internalError(req Request, code string) (int, any) {
	return http.StatusInternalServerError, Rejection{
		Error:     "internal error",
		Code:      code,
		Message:   "webhook could not be processed",
		RequestID: req.RequestID,
	}
}

func (d *Dispatcher) notify(ctx context.Context, alert notify.Alert) {
	if d.notifier != nil {
		d.notifier.Notify(ctx, alert)
	}
}
