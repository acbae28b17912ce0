// Package security enforces the three webhook defenses that sit in front of
// any payment side effect: replay/timestamp validation, per-event-id delivery
// idempotency, and per-source-IP signature-failure tracking.
//
// All state is process-local. Running more than one instance of the service
// behind a load balancer reopens a small duplicate-processing window for
// deliveries that land on different instances; closing it requires a shared
// external store (the ledger's processed-events table is the second line of
// defense).
package security

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/fr0stylo/payhook/internal/cache"
)

// Rejection codes returned to providers on 400 responses.
const (
	CodeInvalidTimestampFormat = "WEBHOOK_INVALID_TIMESTAMP_FORMAT"
	CodeReplayDetected         = "WEBHOOK_REPLAY_DETECTED"
	CodeTimestampFuture        = "WEBHOOK_INVALID_TIMESTAMP_FUTURE"
)

// Config carries the security thresholds. Zero values fall back to defaults.
type Config struct {
	MaxTimestampAge     time.Duration
	MaxTimestampFuture  time.Duration
	IdempotencyCapacity int
	IdempotencyTTL      time.Duration
	FailureWindow       time.Duration
	FailureThreshold    int
}

// DefaultConfig returns the production defaults. The idempotency TTL must
// exceed the provider's maximum redelivery window or duplicate side effects
// become possible after expiry.
func DefaultConfig() Config {
	return Config{
		MaxTimestampAge:     5 * time.Minute,
		MaxTimestampFuture:  time.Minute,
		IdempotencyCapacity: 10_000,
		IdempotencyTTL:      5 * time.Minute,
		FailureWindow:       5 * time.Minute,
		FailureThreshold:    5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxTimestampAge <= 0 {
		c.MaxTimestampAge = d.MaxTimestampAge
	}
	if c.MaxTimestampFuture <= 0 {
		c.MaxTimestampFuture = d.MaxTimestampFuture
	}
	if c.IdempotencyCapacity <= 0 {
		c.IdempotencyCapacity = d.IdempotencyCapacity
	}
	if c.IdempotencyTTL <= 0 {
		c.IdempotencyTTL = d.IdempotencyTTL
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = d.FailureWindow
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	return c
}

// TimestampResult is the outcome of ValidateTimestamp.
type TimestampResult struct {
	Valid  bool
	Reason string
	Code   string
}

// IdempotencyRecord marks an event id whose side effects have completed at
// least once within the current TTL window.
type IdempotencyRecord struct {
	EventID     string
	EventType   string
	ProcessedAt time.Time
}

// Service owns the idempotency and failure-tracking caches. Construct one per
// process and inject it; tests create isolated instances.
type Service struct {
	cfg         Config
	idempotency *cache.Cache[IdempotencyRecord]
	failures    *cache.Cache[[]time.Time]
	log         *slog.Logger
	now         func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService builds a Service with its two bounded caches.
func NewService(cfg Config, log *slog.Logger, opts ...Option) *Service {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		cfg: cfg,
		log: log,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.idempotency = cache.New[IdempotencyRecord](cfg.IdempotencyCapacity, cfg.IdempotencyTTL, cache.WithClock[IdempotencyRecord](s.now))
	s.failures = cache.New[[]time.Time](cfg.IdempotencyCapacity, cfg.FailureWindow, cache.WithClock[[]time.Time](s.now))
	return s
}

// ValidateTimestamp checks a raw unix-seconds timestamp against the replay
// and future-skew windows.
func (s *Service) ValidateTimestamp(raw string) TimestampResult {
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return TimestampResult{
			Reason: "timestamp is not an integer unix time",
			Code:   CodeInvalidTimestampFormat,
		}
	}
	age := s.now().Sub(time.Unix(ts, 0))
	if age > s.cfg.MaxTimestampAge {
		return TimestampResult{
			Reason: "timestamp is older than the replay window",
			Code:   CodeReplayDetected,
		}
	}
	if age < -s.cfg.MaxTimestampFuture {
		return TimestampResult{
			Reason: "timestamp is too far in the future",
			Code:   CodeTimestampFuture,
		}
	}
	return TimestampResult{Valid: true}
}

// CheckIdempotency reports whether eventID was already processed within the
// TTL window. Pure read; recency of the cached record is intentionally
// refreshed so hot redeliveries stay pinned.
func (s *Service) CheckIdempotency(eventID string) (IdempotencyRecord, bool) {
	return s.idempotency.Get(eventID)
}

// RecordProcessed marks eventID as processed. Call only after the handler has
// returned successfully: a crash mid-handler must leave the event eligible
// for reprocessing on redelivery.
func (s *Service) RecordProcessed(eventID, eventType string) {
	s.idempotency.Set(eventID, IdempotencyRecord{
		EventID:     eventID,
		EventType:   eventType,
		ProcessedAt: s.now(),
	})
}

// TrackSignatureFailure appends a failure for ip and returns the count of
// failures inside the sliding window, including this one.
func (s *Service) TrackSignatureFailure(ip string) int {
	now := s.now()
	stamps, _ := s.failures.Get(ip)
	stamps = append(s.windowed(stamps, now), now)
	s.failures.SetTTL(ip, stamps, s.cfg.FailureWindow)
	return len(stamps)
}

// FailureCount returns the window-filtered failure count for ip, recomputed
// against "now" on every call.
func (s *Service) FailureCount(ip string) int {
	stamps, ok := s.failures.Get(ip)
	if !ok {
		return 0
	}
	return len(s.windowed(stamps, s.now()))
}

// ShouldWarnAboutIP reports whether ip has reached the failure threshold
// inside the sliding window.
func (s *Service) ShouldWarnAboutIP(ip string) bool {
	return s.FailureCount(ip) >= s.cfg.FailureThreshold
}

// FailureThreshold exposes the configured threshold for callers that emit the
// crossing warning exactly once.
func (s *Service) FailureThreshold() int {
	return s.cfg.FailureThreshold
}

// windowed returns a fresh slice; filtering in place would corrupt the copy
// still held by the cache when a read drops a stale entry.
func (s *Service) windowed(stamps []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-s.cfg.FailureWindow)
	kept := make([]time.Time, 0, len(stamps))
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}
