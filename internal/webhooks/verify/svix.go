package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	svix "github.com/svix/svix-webhooks/go"
)

// Svix delivery headers used by the Clerk billing provider.
const (
	SvixIDHeader        = "Svix-Id"
	SvixTimestampHeader = "Svix-Timestamp"
	SvixSignatureHeader = "Svix-Signature"
)

// SvixVerifier delegates to the Svix SDK's canonical HMAC verification for
// the Clerk billing endpoint.
type SvixVerifier struct {
	secret string
	wh     *svix.Webhook
}

// NewSvixVerifier builds a verifier for a whsec_-prefixed signing secret. An
// unparsable secret leaves the verifier unconfigured rather than failing
// startup; the dispatcher reports it per request.
func NewSvixVerifier(secret string) *SvixVerifier {
	secret = strings.TrimSpace(secret)
	v := &SvixVerifier{secret: secret}
	if secret != "" {
		if wh, err := svix.NewWebhook(secret); err == nil {
			v.wh = wh
		}
	}
	return v
}

func (v *SvixVerifier) Provider() Provider {
	return ProviderClerkBilling
}

func (v *SvixVerifier) Configured() bool {
	return v.wh != nil
}

func (v *SvixVerifier) RequiredHeaders() []string {
	return []string{SvixIDHeader, SvixTimestampHeader, SvixSignatureHeader}
}

func (v *SvixVerifier) Timestamp(header http.Header) string {
	return strings.TrimSpace(header.Get(SvixTimestampHeader))
}

// EventID is the svix-id header: Svix assigns one id per logical message and
// keeps it stable across redeliveries.
func (v *SvixVerifier) EventID(_ []byte, header http.Header) (string, error) {
	id := strings.TrimSpace(header.Get(SvixIDHeader))
	if id == "" {
		return "", fmt.Errorf("%w: missing %s header", ErrVerificationFailed, SvixIDHeader)
	}
	return id, nil
}

func (v *SvixVerifier) Verify(_ context.Context, rawBody []byte, header http.Header) (*Result, error) {
	if v.wh == nil {
		return nil, fmt.Errorf("%w: signing secret not configured", ErrVerificationFailed)
	}
	if err := v.wh.Verify(rawBody, header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	var env envelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return nil, fmt.Errorf("%w: undecodable payload", ErrVerificationFailed)
	}
	eventID, _ := v.EventID(rawBody, header)
	return &Result{
		Provider:   ProviderClerkBilling,
		EventID:    eventID,
		EventType:  env.eventType(),
		RawPayload: rawBody,
		Data:       env.Data,
		Metadata:   map[string]string{},
	}, nil
}
