// Package verify implements per-provider webhook signature verification
// against the exact raw request bytes. Every failure path is a rejection
// value wrapping ErrVerificationFailed; nothing in this package panics or
// lets a provider SDK error escape untyped to the dispatcher.
package verify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
)

// Provider identifies a payment provider endpoint.
type Provider string

const (
	ProviderStripe       Provider = "stripe"
	ProviderPayPal       Provider = "paypal"
	ProviderClerkBilling Provider = "clerk-billing"
)

// ErrVerificationFailed marks any authenticity rejection: missing headers,
// signature mismatch, disallowed certificate host, fetch failures.
var ErrVerificationFailed = errors.New("webhook signature verification failed")

// Result is a verified webhook event. It is never persisted; the dispatcher
// hands it straight to the payment orchestrator.
type Result struct {
	Provider   Provider
	EventID    string
	EventType  string
	RawPayload []byte
	// Data is the provider's object payload: the checkout session or payment
	// intent for Stripe, the resource for PayPal, the data object for Svix.
	Data     json.RawMessage
	Metadata map[string]string
}

// Verifier checks payload authenticity for one provider.
type Verifier interface {
	Provider() Provider
	// Configured reports whether a webhook secret/id is present. The
	// dispatcher turns an unconfigured verifier into a 500 in production.
	Configured() bool
	// RequiredHeaders lists headers that must be present before any other
	// check runs.
	RequiredHeaders() []string
	// Timestamp extracts the delivery timestamp as a unix-seconds string.
	// Unparsable input is returned as-is so the shared timestamp gate can
	// reject it with the format code.
	Timestamp(header http.Header) string
	// EventID extracts the provider event id from the unverified delivery,
	// for the duplicate short-circuit that runs before signature math.
	EventID(rawBody []byte, header http.Header) (string, error)
	// Verify checks the signature over rawBody and returns the parsed event.
	Verify(ctx context.Context, rawBody []byte, header http.Header) (*Result, error)
}

// envelope covers the id/type fields every provider payload carries in some
// spelling. Used for pre-verification event-id extraction and the local-dev
// unsigned fallback.
type envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	EventType string          `json:"event_type"`
	Resource  json.RawMessage `json:"resource"`
	Data      json.RawMessage `json:"data"`
}

func (e envelope) eventType() string {
	if e.Type != "" {
		return e.Type
	}
	return e.EventType
}

// Unverified parses an event envelope without any signature check. Strictly
// for the non-production fallback when no webhook secret is configured.
func Unverified(p Provider, rawBody []byte) *Result {
	var env envelope
	_ = json.Unmarshal(rawBody, &env)
	data := env.Data
	if p == ProviderPayPal {
		data = env.Resource
	}
	if p == ProviderStripe && len(data) > 0 {
		var wrapper struct {
			Object json.RawMessage `json:"object"`
		}
		if json.Unmarshal(data, &wrapper) == nil && len(wrapper.Object) > 0 {
			data = wrapper.Object
		}
	}
	return &Result{
		Provider:   p,
		EventID:    env.ID,
		EventType:  env.eventType(),
		RawPayload: rawBody,
		Data:       data,
	}
}
