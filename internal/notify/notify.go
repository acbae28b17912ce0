// Package notify carries alerts out of the webhook core: a rate-limited
// admin channel for security and configuration failures, and the email
// collaborator used for customer-facing confirmations.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/fr0stylo/payhook/internal/cache"
)

// Severity orders alerts; only warning and above reach the admin channel's
// external sink.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one admin notification. Type groups alerts for rate limiting so a
// storm of one failure class cannot drown out the rest.
type Alert struct {
	Type     string
	Severity Severity
	Subject  string
	Detail   string
}

// Notifier delivers admin alerts.
type Notifier interface {
	Notify(ctx context.Context, alert Alert)
}

// EmailSender sends a pre-rendered message. Implementations live outside the
// core; the default logs instead of sending.
type EmailSender interface {
	Send(ctx context.Context, to, subject, html string) error
}

// AdminNotifier logs every alert and forwards warning+ alerts to an optional
// webhook URL, bounded per alert type to maxPerWindow within window.
type AdminNotifier struct {
	log          *slog.Logger
	webhookURL   string
	client       *http.Client
	window       *cache.Cache[[]time.Time]
	maxPerWindow int
	windowDur    time.Duration
	now          func() time.Time
}

// AdminOption configures an AdminNotifier.
type AdminOption func(*AdminNotifier)

// WithAdminClock overrides the time source, for tests.
func WithAdminClock(now func() time.Time) AdminOption {
	return func(n *AdminNotifier) {
		n.now = now
	}
}

// WithAdminHTTPClient overrides the webhook delivery client, for tests.
func WithAdminHTTPClient(client *http.Client) AdminOption {
	return func(n *AdminNotifier) {
		n.client = client
	}
}

// NewAdminNotifier builds the default admin channel. webhookURL may be empty,
// in which case alerts only reach the log.
func NewAdminNotifier(webhookURL string, maxPerWindow int, window time.Duration, log *slog.Logger, opts ...AdminOption) *AdminNotifier {
	if log == nil {
		log = slog.Default()
	}
	if maxPerWindow <= 0 {
		maxPerWindow = 3
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	n := &AdminNotifier{
		log:          log,
		webhookURL:   webhookURL,
		client:       &http.Client{Timeout: 10 * time.Second},
		maxPerWindow: maxPerWindow,
		windowDur:    window,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	n.window = cache.New[[]time.Time](256, window, cache.WithClock[[]time.Time](n.now))
	return n
}

// Notify logs the alert and, when the per-type window allows it, forwards it
// to the admin webhook. Delivery failures are logged, never propagated.
func (n *AdminNotifier) Notify(ctx context.Context, alert Alert) {
	level := slog.LevelInfo
	switch alert.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityCritical:
		level = slog.LevelError
	}
	n.log.Log(ctx, level, "admin alert",
		"alert_type", alert.Type,
		"severity", string(alert.Severity),
		"subject", alert.Subject,
		"detail", alert.Detail,
	)

	if n.webhookURL == "" || alert.Severity == SeverityInfo {
		return
	}
	if !n.allow(alert.Type) {
		n.log.Debug("admin alert suppressed by rate limit", "alert_type", alert.Type)
		return
	}
	n.deliver(ctx, alert)
}

func (n *AdminNotifier) allow(alertType string) bool {
	now := n.now()
	cutoff := now.Add(-n.windowDur)
	stamps, _ := n.window.Get(alertType)
	// Fresh slice; filtering in place would mutate the cached copy.
	kept := make([]time.Time, 0, len(stamps))
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= n.maxPerWindow {
		n.window.SetTTL(alertType, kept, n.windowDur)
		return false
	}
	n.window.SetTTL(alertType, append(kept, now), n.windowDur)
	return true
}

func (n *AdminNotifier) deliver(ctx context.Context, alert Alert) {
	body, err := json.Marshal(map[string]string{
		"type":     alert.Type,
		"severity": string(alert.Severity),
		"subject":  alert.Subject,
		"detail":   alert.Detail,
	})
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		n.log.Warn("admin alert delivery failed", "alert_type", alert.Type, "error", err)
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		n.log.Warn("admin alert delivery rejected", "alert_type", alert.Type, "status", resp.StatusCode)
	}
}

// LogEmailSender is the default EmailSender: it records the send in the log
// and reports success. Wire a real sender in deployments that need delivery.
type LogEmailSender struct {
	Log *slog.Logger
}

func (s LogEmailSender) Send(ctx context.Context, to, subject, _ string) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log.InfoContext(ctx, "email send (log only)", "to", to, "subject", subject)
	return nil
}
