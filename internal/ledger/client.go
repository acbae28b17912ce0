// Package ledger is the client side of the external ledger service, the
// authoritative store for orders, reservations and subscriptions. The core
// only issues named mutation/query calls keyed by event id; the ledger is
// expected to enforce its own idempotency as a second line of defense.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrLedgerUnavailable marks transport-level failures talking to the ledger.
var ErrLedgerUnavailable = errors.New("ledger unavailable")

// ErrLedgerRejected marks a mutation the ledger refused.
var ErrLedgerRejected = errors.New("ledger rejected mutation")

// PaymentStatus values the ledger accepts for payment rows.
type PaymentStatus string

const (
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// ReservationStatus values the ledger accepts for reservations.
type ReservationStatus string

const (
	ReservationStatusConfirmed ReservationStatus = "confirmed"
	ReservationStatusFailed    ReservationStatus = "payment_failed"
)

// Payment describes one payment row. Amounts are integer minor units.
type Payment struct {
	EventID     string        `json:"eventId"`
	Provider    string        `json:"provider"`
	OrderID     string        `json:"orderId,omitempty"`
	PaymentID   string        `json:"paymentId"`
	AmountMinor int64         `json:"amountMinor"`
	Currency    string        `json:"currency"`
	Status      PaymentStatus `json:"status"`
}

// OrderItem is one purchased line item.
type OrderItem struct {
	BeatID      string `json:"beatId"`
	Title       string `json:"title"`
	LicenseType string `json:"licenseType"`
	AmountMinor int64  `json:"amountMinor"`
}

// Order is the ledger's view of an order.
type Order struct {
	ID            string      `json:"id"`
	CustomerEmail string      `json:"customerEmail"`
	AmountMinor   int64       `json:"amountMinor"`
	Currency      string      `json:"currency"`
	Items         []OrderItem `json:"items"`
}

// Client is the named mutation/query surface this core depends on.
type Client interface {
	RecordPayment(ctx context.Context, payment Payment) error
	ConfirmPayment(ctx context.Context, eventID, orderID string) error
	UpdatePaymentStatus(ctx context.Context, eventID, paymentID string, status PaymentStatus) error
	UpdateReservationStatus(ctx context.Context, eventID string, reservationIDs []string, status ReservationStatus) error
	UpdateSubscription(ctx context.Context, eventID, eventType string, data json.RawMessage) error
	// MarkProcessedEvent records eventID in the ledger's processed-events
	// store and reports whether it was new. Optional second line of
	// idempotency defense beyond the in-memory cache.
	MarkProcessedEvent(ctx context.Context, eventID, eventType string) (bool, error)
	GetOrder(ctx context.Context, orderID string) (*Order, error)
}

// HTTPClient talks to the ledger over its JSON call endpoint: every request
// is POST {name, args} and every response {ok, result?, error?}.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	log     *slog.Logger
}

// NewHTTPClient builds a ledger client for the configured base URL.
func NewHTTPClient(baseURL string, timeout time.Duration, log *slog.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

type callRequest struct {
	Name string `json:"name"`
	Args any    `json:"args"`
}

type callResponse struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

func (c *HTTPClient) call(ctx context.Context, name string, args any, out any) error {
	body, err := json.Marshal(callRequest{Name: name, Args: args})
	if err != nil {
		return fmt.Errorf("ledger: encode %s: %w", name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/call", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ledger: build %s: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrLedgerUnavailable, name, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %s: read response: %v", ErrLedgerUnavailable, name, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %s returned %d", ErrLedgerUnavailable, name, resp.StatusCode)
	}

	var parsed callResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("%w: %s: undecodable response", ErrLedgerUnavailable, name)
	}
	if !parsed.OK {
		return fmt.Errorf("%w: %s: %s", ErrLedgerRejected, name, parsed.Error)
	}
	if out != nil && len(parsed.Result) > 0 {
		if err := json.Unmarshal(parsed.Result, out); err != nil {
			return fmt.Errorf("%w: %s: undecodable result", ErrLedgerUnavailable, name)
		}
	}
	return nil
}

func (c *HTTPClient) RecordPayment(ctx context.Context, payment Payment) error {
	return c.call(ctx, "recordPayment", payment, nil)
}

func (c *HTTPClient) ConfirmPayment(ctx context.Context, eventID, orderID string) error {
	return c.call(ctx, "confirmPayment", map[string]string{
		"eventId": eventID,
		"orderId": orderID,
	}, nil)
}

func (c *HTTPClient) UpdatePaymentStatus(ctx context.Context, eventID, paymentID string, status PaymentStatus) error {
	return c.call(ctx, "updatePaymentStatus", map[string]string{
		"eventId":   eventID,
		"paymentId": paymentID,
		"status":    string(status),
	}, nil)
}

func (c *HTTPClient) UpdateReservationStatus(ctx context.Context, eventID string, reservationIDs []string, status ReservationStatus) error {
	return c.call(ctx, "updateReservationStatus", map[string]any{
		"eventId":        eventID,
		"reservationIds": reservationIDs,
		"status":         string(status),
	}, nil)
}

func (c *HTTPClient) UpdateSubscription(ctx context.Context, eventID, eventType string, data json.RawMessage) error {
	return c.call(ctx, "updateSubscription", map[string]any{
		"eventId":   eventID,
		"eventType": eventType,
		"data":      data,
	}, nil)
}

func (c *HTTPClient) MarkProcessedEvent(ctx context.Context, eventID, eventType string) (bool, error) {
	var result struct {
		Inserted bool `json:"inserted"`
	}
	err := c.call(ctx, "markProcessedEvent", map[string]string{
		"eventId":   eventID,
		"eventType": eventType,
	}, &result)
	if err != nil {
		return false, err
	}
	return result.Inserted, nil
}

func (c *HTTPClient) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var order Order
	if err := c.call(ctx, "getOrder", map[string]string{"orderId": orderID}, &order); err != nil {
		return nil, err
	}
	return &order, nil
}
