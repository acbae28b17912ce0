package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestLedger(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewHTTPClient(server.URL, time.Second, nil)
}

func TestCallSendsNamedMutation(t *testing.T) {
	t.Parallel()

	var got callRequest
	c := newTestLedger(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	err := c.ConfirmPayment(context.Background(), "evt_1", "ord_1")
	if err != nil {
		t.Fatalf("confirm payment: %v", err)
	}
	if got.Name != "confirmPayment" {
		t.Fatalf("unexpected mutation name: %s", got.Name)
	}
}

func TestCallRejectedMutation(t *testing.T) {
	t.Parallel()

	c := newTestLedger(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"error":"order not found"}`))
	})

	err := c.ConfirmPayment(context.Background(), "evt_1", "ord_missing")
	if !errors.Is(err, ErrLedgerRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestCallServerErrorIsUnavailable(t *testing.T) {
	t.Parallel()

	c := newTestLedger(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	err := c.RecordPayment(context.Background(), Payment{EventID: "evt_1"})
	if !errors.Is(err, ErrLedgerUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestMarkProcessedEventResult(t *testing.T) {
	t.Parallel()

	inserted := true
	c := newTestLedger(t, func(w http.ResponseWriter, _ *http.Request) {
		if inserted {
			_, _ = w.Write([]byte(`{"ok":true,"result":{"inserted":true}}`))
			inserted = false
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{"inserted":false}}`))
	})

	first, err := c.MarkProcessedEvent(context.Background(), "evt_1", "checkout.session.completed")
	if err != nil || !first {
		t.Fatalf("expected first mark inserted, got inserted=%v err=%v", first, err)
	}
	second, err := c.MarkProcessedEvent(context.Background(), "evt_1", "checkout.session.completed")
	if err != nil || second {
		t.Fatalf("expected second mark deduped, got inserted=%v err=%v", second, err)
	}
}

func TestGetOrderDecodesResult(t *testing.T) {
	t.Parallel()

	c := newTestLedger(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":"ord_1","customerEmail":"a@b.c","amountMinor":2999,"currency":"usd","items":[{"beatId":"beat_1","title":"Night Drive","licenseType":"premium","amountMinor":2999}]}}`))
	})

	order, err := c.GetOrder(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.ID != "ord_1" || len(order.Items) != 1 || order.Items[0].LicenseType != "premium" {
		t.Fatalf("unexpected order: %+v", order)
	}
}
