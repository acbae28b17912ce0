// Package payments converts verified webhook events into ledger mutations
// and best-effort side effects, hiding Stripe/PayPal payload differences
// behind one Outcome shape. All monetary values are integer minor units.
package payments

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fr0stylo/payhook/internal/ledger"
	"github.com/fr0stylo/payhook/internal/notify"
	"github.com/fr0stylo/payhook/internal/webhooks/verify"
)

// Outcome is the unified result of processing one verified event.
type Outcome struct {
	Success        bool
	Synced         bool
	Message        string
	OrderID        string
	ReservationIDs []string
}

// DocumentGenerator produces invoice and license PDFs and returns their
// storage URLs. External collaborator; every call is best-effort.
type DocumentGenerator interface {
	GenerateInvoice(ctx context.Context, order *ledger.Order) (string, error)
	GenerateLicense(ctx context.Context, order *ledger.Order, item ledger.OrderItem) (string, error)
}

// Config tunes the orchestrator.
type Config struct {
	// HighValueAlertMinor is the amount at or above which a payment failure
	// pages admins rather than just logging. Minor units.
	HighValueAlertMinor int64
}

// Orchestrator routes verified events to their business handlers under a
// bounded retry. The primary ledger mutation is the only fatal step; invoice,
// license and email generation never fail the webhook acknowledgment.
type Orchestrator struct {
	cfg      Config
	ledger   ledger.Client
	docs     DocumentGenerator
	email    notify.EmailSender
	notifier notify.Notifier
	retrier  *Retrier
	log      *slog.Logger
}

// NewOrchestrator builds an Orchestrator. docs may be nil to skip document
// generation entirely.
func NewOrchestrator(cfg Config, ledgerClient ledger.Client, docs DocumentGenerator, email notify.EmailSender, notifier notify.Notifier, retrier *Retrier, log *slog.Logger) *Orchestrator {
	if cfg.HighValueAlertMinor <= 0 {
		cfg.HighValueAlertMinor = 10_000
	}
	if email == nil {
		email = notify.LogEmailSender{Log: log}
	}
	if retrier == nil {
		retrier = NewRetrier(3, log)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		cfg:      cfg,
		ledger:   ledgerClient,
		docs:     docs,
		email:    email,
		notifier: notifier,
		retrier:  retrier,
		log:      log,
	}
}

// Process runs the routed handler for ev under the retry wrapper. On
// exhausted retries the last error is returned for the dispatcher to convert
// into a 500, and admins are notified.
func (o *Orchestrator) Process(ctx context.Context, ev *verify.Result) (Outcome, error) {
	var out Outcome
	err := o.retrier.Do(ctx, string(ev.Provider)+" "+ev.EventType, func(ctx context.Context) error {
		result, err := o.route(ctx, ev)
		if err != nil {
			return err
		}
		out = result
		return nil
	})
	if err != nil {
		o.notify(ctx, notify.Alert{
			Type:     "payment_handler_failure",
			Severity: notify.SeverityCritical,
			Subject:  fmt.Sprintf("webhook handler failed after retries: %s", ev.EventType),
			Detail:   fmt.Sprintf("event %s: %v", ev.EventID, err),
		})
		return Outcome{}, err
	}
	return out, nil
}

func (o *Orchestrator) route(ctx context.Context, ev *verify.Result) (Outcome, error) {
	switch Categorize(ev.EventType) {
	case CategoryCheckoutCompleted:
		return o.handlePaymentSucceeded(ctx, ev)
	case CategoryPaymentIntent:
		if ev.EventType == "payment_intent.payment_failed" || ev.EventType == "PAYMENT.CAPTURE.DENIED" {
			return o.handlePaymentFailed(ctx, ev)
		}
		return o.handlePaymentSucceeded(ctx, ev)
	case CategoryChargeRefunded:
		return o.handleRefund(ctx, ev)
	case CategorySubscription, CategoryInvoice, CategoryUser:
		return o.handleBillingEvent(ctx, ev)
	case CategoryUnhandled:
		o.log.InfoContext(ctx, "event type not handled", "event_type", ev.EventType, "event_id", ev.EventID)
		return Outcome{Success: true, Message: "event type not handled"}, nil
	}
	return Outcome{Success: true, Message: "event type not handled"}, nil
}

func (o *Orchestrator) handlePaymentSucceeded(ctx context.Context, ev *verify.Result) (Outcome, error) {
	pay, err := extractPayment(ev)
	if err != nil {
		return Outcome{}, fmt.Errorf("extract payment from %s: %w", ev.EventID, err)
	}
	if pay.Reservation {
		return o.confirmReservation(ctx, ev, pay)
	}
	return o.confirmOrder(ctx, ev, pay)
}

func (o *Orchestrator) confirmOrder(ctx context.Context, ev *verify.Result, pay paymentDetails) (Outcome, error) {
	if pay.OrderID == "" {
		return Outcome{}, fmt.Errorf("event %s carries no order id", ev.EventID)
	}

	if err := o.ledger.RecordPayment(ctx, ledger.Payment{
		EventID:     ev.EventID,
		Provider:    string(ev.Provider),
		OrderID:     pay.OrderID,
		PaymentID:   pay.PaymentID,
		AmountMinor: pay.AmountMinor,
		Currency:    pay.Currency,
		Status:      ledger.PaymentStatusSucceeded,
	}); err != nil {
		return Outcome{}, fmt.Errorf("record payment: %w", err)
	}
	if err := o.ledger.ConfirmPayment(ctx, ev.EventID, pay.OrderID); err != nil {
		return Outcome{}, fmt.Errorf("confirm payment: %w", err)
	}

	// Everything past confirmation is best-effort; a reconciliation job
	// picks up what fails here.
	o.fulfillOrder(ctx, ev, pay)

	return Outcome{
		Success: true,
		Synced:  true,
		Message: "payment confirmed",
		OrderID: pay.OrderID,
	}, nil
}

func (o *Orchestrator) fulfillOrder(ctx context.Context, ev *verify.Result, pay paymentDetails) {
	order, err := o.ledger.GetOrder(ctx, pay.OrderID)
	if err != nil {
		o.partialFailure(ctx, ev, "load order for fulfillment", err)
		return
	}

	var invoiceURL string
	if o.docs != nil {
		invoiceURL, err = o.docs.GenerateInvoice(ctx, order)
		if err != nil {
			o.partialFailure(ctx, ev, "generate invoice", err)
		}
	}

	licenseURLs := make([]string, 0, len(order.Items))
	if o.docs != nil {
		for _, item := range order.Items {
			url, err := o.docs.GenerateLicense(ctx, order, item)
			if err != nil {
				o.partialFailure(ctx, ev, "generate license "+item.BeatID, err)
				continue
			}
			licenseURLs = append(licenseURLs, url)
		}
	}

	email := pay.CustomerEmail
	if email == "" {
		email = order.CustomerEmail
	}
	if email == "" {
		return
	}
	subject := fmt.Sprintf("Order %s confirmed", order.ID)
	body := orderConfirmationHTML(order, invoiceURL, licenseURLs)
	if err := o.email.Send(ctx, email, subject, body); err != nil {
		o.partialFailure(ctx, ev, "send confirmation email", err)
	}
}

func (o *Orchestrator) confirmReservation(ctx context.Context, ev *verify.Result, pay paymentDetails) (Outcome, error) {
	if len(pay.ReservationIDs) == 0 {
		return Outcome{}, fmt.Errorf("reservation payment %s carries no reservation ids", ev.EventID)
	}
	if err := o.ledger.UpdateReservationStatus(ctx, ev.EventID, pay.ReservationIDs, ledger.ReservationStatusConfirmed); err != nil {
		return Outcome{}, fmt.Errorf("confirm reservations: %w", err)
	}

	if pay.CustomerEmail != "" {
		body := fmt.Sprintf("<p>Your booking is confirmed. Amount paid: %s.</p>", FormatAmount(pay.AmountMinor, pay.Currency))
		if err := o.email.Send(ctx, pay.CustomerEmail, "Booking confirmed", body); err != nil {
			o.partialFailure(ctx, ev, "send reservation email", err)
		}
	}

	return Outcome{
		Success:        true,
		Synced:         true,
		Message:        "reservation confirmed",
		ReservationIDs: pay.ReservationIDs,
	}, nil
}

func (o *Orchestrator) handlePaymentFailed(ctx context.Context, ev *verify.Result) (Outcome, error) {
	pay, err := extractPayment(ev)
	if err != nil {
		return Outcome{}, fmt.Errorf("extract payment from %s: %w", ev.EventID, err)
	}

	if err := o.ledger.UpdatePaymentStatus(ctx, ev.EventID, pay.PaymentID, ledger.PaymentStatusFailed); err != nil {
		return Outcome{}, fmt.Errorf("record payment failure: %w", err)
	}
	if pay.Reservation && len(pay.ReservationIDs) > 0 {
		if err := o.ledger.UpdateReservationStatus(ctx, ev.EventID, pay.ReservationIDs, ledger.ReservationStatusFailed); err != nil {
			o.partialFailure(ctx, ev, "mark reservations failed", err)
		}
		if pay.CustomerEmail != "" {
			if err := o.email.Send(ctx, pay.CustomerEmail, "Booking payment failed", "<p>Your booking payment did not go through. No charge was made.</p>"); err != nil {
				o.partialFailure(ctx, ev, "send failure email", err)
			}
		}
	}

	if pay.AmountMinor >= o.cfg.HighValueAlertMinor {
		o.notify(ctx, notify.Alert{
			Type:     "payment_failure",
			Severity: notify.SeverityWarning,
			Subject:  "high-value payment failed",
			Detail:   fmt.Sprintf("event %s, payment %s", ev.EventID, pay.PaymentID),
		})
	}

	return Outcome{
		Success: true,
		Synced:  true,
		Message: "payment failure recorded",
		OrderID: pay.OrderID,
	}, nil
}

func (o *Orchestrator) handleRefund(ctx context.Context, ev *verify.Result) (Outcome, error) {
	pay, err := extractPayment(ev)
	if err != nil {
		return Outcome{}, fmt.Errorf("extract payment from %s: %w", ev.EventID, err)
	}

	if err := o.ledger.UpdatePaymentStatus(ctx, ev.EventID, pay.PaymentID, ledger.PaymentStatusRefunded); err != nil {
		return Outcome{}, fmt.Errorf("record refund: %w", err)
	}
	if pay.AmountMinor >= o.cfg.HighValueAlertMinor {
		o.notify(ctx, notify.Alert{
			Type:     "refund",
			Severity: notify.SeverityWarning,
			Subject:  "high-value refund processed",
			Detail:   fmt.Sprintf("event %s, payment %s", ev.EventID, pay.PaymentID),
		})
	}

	return Outcome{
		Success: true,
		Synced:  true,
		Message: "refund recorded",
		OrderID: pay.OrderID,
	}, nil
}

func (o *Orchestrator) handleBillingEvent(ctx context.Context, ev *verify.Result) (Outcome, error) {
	if err := o.ledger.UpdateSubscription(ctx, ev.EventID, ev.EventType, ev.Data); err != nil {
		return Outcome{}, fmt.Errorf("sync billing event: %w", err)
	}
	return Outcome{Success: true, Synced: true, Message: "billing event synced"}, nil
}

func (o *Orchestrator) partialFailure(ctx context.Context, ev *verify.Result, step string, err error) {
	o.log.WarnContext(ctx, "partial failure after payment confirmation",
		"step", step,
		"event_id", ev.EventID,
		"event_type", ev.EventType,
		"error", err,
	)
}

func (o *Orchestrator) notify(ctx context.Context, alert notify.Alert) {
	if o.notifier != nil {
		o.notifier.Notify(ctx, alert)
	}
}

func orderConfirmationHTML(order *ledger.Order, invoiceURL string, licenseURLs []string) string {
	body := fmt.Sprintf("<p>Thank you for your purchase. Total: %s.</p>", FormatAmount(order.AmountMinor, order.Currency))
	if invoiceURL != "" {
		body += fmt.Sprintf(`<p><a href="%s">Download your invoice</a></p>`, invoiceURL)
	}
	for _, url := range licenseURLs {
		body += fmt.Sprintf(`<p><a href="%s">Download license</a></p>`, url)
	}
	return body
}
