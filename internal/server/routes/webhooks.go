package routes

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fr0stylo/payhook/internal/audit"
	"github.com/fr0stylo/payhook/internal/webhooks/dispatch"
	"github.com/fr0stylo/payhook/internal/webhooks/verify"
)

// WebhookRoutes registers the provider webhook endpoints.
type WebhookRoutes struct {
	dispatcher *dispatch.Dispatcher
	verifiers  map[verify.Provider]verify.Verifier
}

// NewWebhookRoutes constructs webhook routes over the dispatcher and one
// verifier per provider.
func NewWebhookRoutes(dispatcher *dispatch.Dispatcher, verifiers ...verify.Verifier) *WebhookRoutes {
	byProvider := make(map[verify.Provider]verify.Verifier, len(verifiers))
	for _, v := range verifiers {
		byProvider[v.Provider()] = v
	}
	return &WebhookRoutes{
		dispatcher: dispatcher,
		verifiers:  byProvider,
	}
}

// RegisterRoutes registers webhook endpoints.
func (w *WebhookRoutes) RegisterRoutes(s *echo.Echo) {
	s.POST("/webhooks/stripe", w.handle(verify.ProviderStripe))
	s.POST("/webhooks/paypal", w.handle(verify.ProviderPayPal))
	s.POST("/webhooks/clerk-billing", w.handle(verify.ProviderClerkBilling))
}

func (w *WebhookRoutes) handle(provider verify.Provider) echo.HandlerFunc {
	return func(c echo.Context) error {
		verifier, ok := w.verifiers[provider]
		if !ok {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown provider"})
		}

		// Raw bytes are read once here; signature verification runs over
		// exactly these bytes, never a re-serialization.
		rawBody, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		}

		requestID := c.Response().Header().Get(echo.HeaderXRequestID)
		ctx := audit.ContextWithRequestID(c.Request().Context(), requestID)

		status, body := w.dispatcher.Dispatch(ctx, dispatch.Request{
			Verifier:  verifier,
			RawBody:   rawBody,
			Header:    c.Request().Header,
			SourceIP:  c.RealIP(),
			RequestID: requestID,
		})
		return c.JSON(status, body)
	}
}
