package security

import (
	"fmt"
	"log/slog"
	"strconv"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func newTestService(cfg Config) (*Service, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)}
	return NewService(cfg, slog.Default(), WithClock(clock.Now)), clock
}

func unixString(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

func TestValidateTimestampWithinWindow(t *testing.T) {
	t.Parallel()

	s, clock := newTestService(Config{})
	for _, age := range []time.Duration{0, time.Second, time.Minute, 5 * time.Minute} {
		res := s.ValidateTimestamp(unixString(clock.Now().Add(-age)))
		if !res.Valid {
			t.Fatalf("expected age %s to be valid, got code=%s", age, res.Code)
		}
	}
}

func TestValidateTimestampRejections(t *testing.T) {
	t.Parallel()

	s, clock := newTestService(Config{})

	tests := []struct {
		name string
		raw  string
		code string
	}{
		{"non-numeric", "not-a-number", CodeInvalidTimestampFormat},
		{"too old", unixString(clock.Now().Add(-5*time.Minute - time.Second)), CodeReplayDetected},
		{"too far future", unixString(clock.Now().Add(time.Minute + time.Second)), CodeTimestampFuture},
	}
	for _, tc := range tests {
		res := s.ValidateTimestamp(tc.raw)
		if res.Valid {
			t.Fatalf("%s: expected rejection", tc.name)
		}
		if res.Code != tc.code {
			t.Fatalf("%s: unexpected code: got=%s want=%s", tc.name, res.Code, tc.code)
		}
	}
}

func TestIdempotencyRoundTrip(t *testing.T) {
	t.Parallel()

	s, clock := newTestService(Config{})
	const eventID = "evt_123"

	if _, dup := s.CheckIdempotency(eventID); dup {
		t.Fatal("expected fresh event to not be duplicate")
	}

	s.RecordProcessed(eventID, "checkout.session.completed")

	rec, dup := s.CheckIdempotency(eventID)
	if !dup {
		t.Fatal("expected recorded event to be duplicate")
	}
	if !rec.ProcessedAt.Equal(clock.Now()) {
		t.Fatalf("unexpected processedAt: got=%s want=%s", rec.ProcessedAt, clock.Now())
	}
	if rec.EventType != "checkout.session.completed" {
		t.Fatalf("unexpected event type: %s", rec.EventType)
	}

	clock.Advance(5*time.Minute + time.Second)
	if _, dup := s.CheckIdempotency(eventID); dup {
		t.Fatal("expected event to be reprocessable after TTL elapse")
	}
}

func TestFailureTrackingThreshold(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(Config{})
	const ip = "203.0.113.7"

	for i := 0; i < 4; i++ {
		s.TrackSignatureFailure(ip)
	}
	if s.ShouldWarnAboutIP(ip) {
		t.Fatal("expected 4 failures to stay below threshold")
	}
	if count := s.TrackSignatureFailure(ip); count != 5 {
		t.Fatalf("unexpected failure count: got=%d want=5", count)
	}
	if !s.ShouldWarnAboutIP(ip) {
		t.Fatal("expected 5 failures to cross threshold")
	}
}

func TestFailuresOutsideWindowExcluded(t *testing.T) {
	t.Parallel()

	s, clock := newTestService(Config{})
	const ip = "203.0.113.8"

	for i := 0; i < 3; i++ {
		s.TrackSignatureFailure(ip)
	}
	clock.Advance(5*time.Minute + time.Second)

	if count := s.FailureCount(ip); count != 0 {
		t.Fatalf("expected stale failures excluded, got=%d", count)
	}

	// A new failure after the window counts alone.
	if count := s.TrackSignatureFailure(ip); count != 1 {
		t.Fatalf("unexpected count after window elapse: got=%d want=1", count)
	}
	if s.ShouldWarnAboutIP(ip) {
		t.Fatal("expected no warning from a single windowed failure")
	}
}

func TestFailureCountReadDoesNotCorruptTracking(t *testing.T) {
	t.Parallel()

	s, clock := newTestService(Config{})
	const ip = "203.0.113.9"

	s.TrackSignatureFailure(ip)
	clock.Advance(2 * time.Minute)
	for i := 0; i < 3; i++ {
		s.TrackSignatureFailure(ip)
	}

	// Push the first failure past the window, then read: the read filters
	// out the stale entry and must leave the cached slice intact.
	clock.Advance(3*time.Minute + time.Second)
	if count := s.FailureCount(ip); count != 3 {
		t.Fatalf("unexpected windowed count: got=%d want=3", count)
	}

	if count := s.TrackSignatureFailure(ip); count != 4 {
		t.Fatalf("unexpected count after read: got=%d want=4", count)
	}
	if s.ShouldWarnAboutIP(ip) {
		t.Fatal("expected 4 in-window failures to stay below threshold")
	}
	if count := s.TrackSignatureFailure(ip); count != 5 {
		t.Fatalf("unexpected count: got=%d want=5", count)
	}
	if !s.ShouldWarnAboutIP(ip) {
		t.Fatal("expected 5 in-window failures to cross threshold")
	}
}

func TestFailureTrackingIsPerIP(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(Config{})
	for i := 0; i < 5; i++ {
		s.TrackSignatureFailure(fmt.Sprintf("198.51.100.%d", i))
	}
	for i := 0; i < 5; i++ {
		if s.ShouldWarnAboutIP(fmt.Sprintf("198.51.100.%d", i)) {
			t.Fatal("expected independent per-IP counters")
		}
	}
}
