package payments

import (
	"encoding/json"
	"strings"

	"github.com/fr0stylo/payhook/internal/webhooks/verify"
)

// Category is the closed set of event families this core routes. Matching is
// exhaustive; anything outside the set is CategoryUnhandled, a benign
// acknowledged-but-not-synced outcome rather than an error.
type Category int

const (
	CategoryUnhandled Category = iota
	CategorySubscription
	CategoryInvoice
	CategoryUser
	CategoryCheckoutCompleted
	CategoryPaymentIntent
	CategoryChargeRefunded
)

func (c Category) String() string {
	switch c {
	case CategorySubscription:
		return "subscription"
	case CategoryInvoice:
		return "invoice"
	case CategoryUser:
		return "user"
	case CategoryCheckoutCompleted:
		return "checkout_completed"
	case CategoryPaymentIntent:
		return "payment_intent"
	case CategoryChargeRefunded:
		return "charge_refunded"
	default:
		return "unhandled"
	}
}

// Categorize maps a provider event type onto the closed category set.
// PayPal capture events are folded into the Stripe-named families so the
// orchestrator sees one vocabulary.
func Categorize(eventType string) Category {
	switch {
	case eventType == "checkout.session.completed",
		eventType == "PAYMENT.CAPTURE.COMPLETED":
		return CategoryCheckoutCompleted
	case strings.HasPrefix(eventType, "payment_intent."),
		eventType == "PAYMENT.CAPTURE.DENIED":
		return CategoryPaymentIntent
	case eventType == "charge.refunded",
		eventType == "PAYMENT.CAPTURE.REFUNDED":
		return CategoryChargeRefunded
	case strings.HasPrefix(eventType, "subscription."):
		return CategorySubscription
	case strings.HasPrefix(eventType, "invoice."):
		return CategoryInvoice
	case strings.HasPrefix(eventType, "user."), eventType == "session.created":
		return CategoryUser
	default:
		return CategoryUnhandled
	}
}

// paymentDetails is the provider-neutral view of a payment event's object.
type paymentDetails struct {
	PaymentID      string
	OrderID        string
	AmountMinor    int64
	Currency       string
	CustomerEmail  string
	Reservation    bool
	ReservationIDs []string
}

type stripeObject struct {
	ID              string            `json:"id"`
	Amount          int64             `json:"amount"`
	AmountTotal     int64             `json:"amount_total"`
	AmountReceived  int64             `json:"amount_received"`
	AmountRefunded  int64             `json:"amount_refunded"`
	Currency        string            `json:"currency"`
	Metadata        map[string]string `json:"metadata"`
	ReceiptEmail    string            `json:"receipt_email"`
	PaymentIntent   string            `json:"payment_intent"`
	CustomerDetails struct {
		Email string `json:"email"`
	} `json:"customer_details"`
}

type paypalResource struct {
	ID       string `json:"id"`
	CustomID string `json:"custom_id"`
	Amount   struct {
		Value        string `json:"value"`
		CurrencyCode string `json:"currency_code"`
	} `json:"amount"`
	Payer struct {
		EmailAddress string `json:"email_address"`
	} `json:"payer"`
}

// extractPayment normalizes the provider payload into paymentDetails.
// Stripe amounts are already minor units; PayPal sends decimal strings that
// are converted with the currency's exponent.
func extractPayment(ev *verify.Result) (paymentDetails, error) {
	switch ev.Provider {
	case verify.ProviderPayPal:
		var res paypalResource
		if err := json.Unmarshal(ev.Data, &res); err != nil {
			return paymentDetails{}, err
		}
		details := paymentDetails{
			PaymentID:     res.ID,
			OrderID:       res.CustomID,
			Currency:      res.Amount.CurrencyCode,
			CustomerEmail: res.Payer.EmailAddress,
		}
		if res.Amount.Value != "" {
			minor, err := MinorUnits(res.Amount.Value, res.Amount.CurrencyCode)
			if err != nil {
				return paymentDetails{}, err
			}
			details.AmountMinor = minor
		}
		return details, nil

	default:
		var obj stripeObject
		if err := json.Unmarshal(ev.Data, &obj); err != nil {
			return paymentDetails{}, err
		}
		details := paymentDetails{
			PaymentID:     obj.ID,
			Currency:      obj.Currency,
			CustomerEmail: obj.CustomerDetails.Email,
		}
		if details.CustomerEmail == "" {
			details.CustomerEmail = obj.ReceiptEmail
		}
		for _, amount := range []int64{obj.AmountTotal, obj.AmountReceived, obj.AmountRefunded, obj.Amount} {
			if amount != 0 {
				details.AmountMinor = amount
				break
			}
		}
		meta := obj.Metadata
		if meta == nil {
			meta = ev.Metadata
		}
		details.OrderID = meta["orderId"]
		details.Reservation = meta["reservation_payment"] == "true"
		if raw := meta["reservation_ids"]; raw != "" {
			for _, id := range strings.Split(raw, ",") {
				if id = strings.TrimSpace(id); id != "" {
					details.ReservationIDs = append(details.ReservationIDs, id)
				}
			}
		}
		return details, nil
	}
}
