package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/fr0stylo/payhook/internal/audit"
	"github.com/fr0stylo/payhook/internal/payments"
	"github.com/fr0stylo/payhook/internal/security"
	"github.com/fr0stylo/payhook/internal/webhooks/dispatch"
	"github.com/fr0stylo/payhook/internal/webhooks/verify"
)

type stubHandler struct {
	calls   int
	outcome payments.Outcome
}

func (h *stubHandler) Process(context.Context, *verify.Result) (payments.Outcome, error) {
	h.calls++
	return h.outcome, nil
}

func newTestEcho(handler *stubHandler, secret string) *echo.Echo {
	log := slog.New(slog.DiscardHandler)
	sec := security.NewService(security.Config{}, log)
	recorder := audit.NewRecorder(log, nil)
	d := dispatch.New(sec, recorder, nil, handler, nil, true, log)

	e := echo.New()
	e.Use(middleware.RequestID())
	NewWebhookRoutes(d, verify.NewStripeVerifier(secret)).RegisterRoutes(e)
	NewHealthRoutes().RegisterRoutes(e)
	return e
}

func signStripe(t *testing.T, secret string, payload []byte) string {
	t.Helper()
	now := time.Now()
	sig := webhook.ComputeSignature(now, payload, secret)
	return fmt.Sprintf("t=%d,v1=%x", now.Unix(), sig)
}

func TestStripeWebhookEndToEnd(t *testing.T) {
	t.Parallel()

	const secret = "whsec_test"
	handler := &stubHandler{outcome: payments.Outcome{Success: true, Synced: true, OrderID: "ord_1"}}
	e := newTestEcho(handler, secret)

	payload := []byte(`{"id":"evt_route_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1","metadata":{"orderId":"ord_1"}}}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(string(payload)))
	req.Header.Set(verify.StripeSignatureHeader, signStripe(t, secret, payload))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var ack dispatch.Ack
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if !ack.Received || !ack.Synced || ack.OrderID != "ord_1" {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	if handler.calls != 1 {
		t.Fatalf("handler called %d times, want 1", handler.calls)
	}
}

func TestStripeWebhookBadSignatureReturns400(t *testing.T) {
	t.Parallel()

	handler := &stubHandler{}
	e := newTestEcho(handler, "whsec_test")

	payload := []byte(`{"id":"evt_route_2","type":"checkout.session.completed"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(string(payload)))
	req.Header.Set(verify.StripeSignatureHeader, signStripe(t, "whsec_other", payload))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var rej dispatch.Rejection
	if err := json.Unmarshal(rec.Body.Bytes(), &rej); err != nil {
		t.Fatalf("decode rejection: %v", err)
	}
	if rej.Code != dispatch.CodeSignatureInvalid {
		t.Fatalf("unexpected code %q", rej.Code)
	}
	if rej.RequestID == "" {
		t.Fatal("expected request id in rejection body")
	}
	if handler.calls != 0 {
		t.Fatal("handler must not run on bad signature")
	}
}

func TestUnregisteredProviderReturns404(t *testing.T) {
	t.Parallel()

	e := newTestEcho(&stubHandler{}, "whsec_test")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/paypal", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	e := newTestEcho(&stubHandler{}, "whsec_test")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
