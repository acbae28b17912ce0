package verify

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fr0stylo/payhook/internal/cache"
)

// PayPal transmission headers. All five must be present.
const (
	PayPalTransmissionIDHeader   = "Paypal-Transmission-Id"
	PayPalTransmissionTimeHeader = "Paypal-Transmission-Time"
	PayPalTransmissionSigHeader  = "Paypal-Transmission-Sig"
	PayPalCertURLHeader          = "Paypal-Cert-Url"
	PayPalAuthAlgoHeader         = "Paypal-Auth-Algo"
)

const maxCertBytes = 64 << 10

// defaultPayPalCertHosts is the allow-list of hosts a signing certificate may
// be fetched from. Fetching an attacker-supplied cert URL would let a forged
// delivery bring its own certificate.
var defaultPayPalCertHosts = []string{
	"api.paypal.com",
	"api.sandbox.paypal.com",
	"api-m.paypal.com",
	"api-m.sandbox.paypal.com",
}

// PayPalVerifier implements PayPal's certificate + CRC32 verification scheme:
// the provider signs "transmissionID|transmissionTime|webhookID|crc32(body)"
// with a key whose certificate is served from an allow-listed API host.
type PayPalVerifier struct {
	webhookID    string
	allowedHosts []string
	client       *http.Client
	certs        *cache.Cache[*x509.Certificate]
	log          *slog.Logger
}

// PayPalOption configures a PayPalVerifier.
type PayPalOption func(*PayPalVerifier)

// WithPayPalHTTPClient overrides the certificate fetch client, for tests.
func WithPayPalHTTPClient(client *http.Client) PayPalOption {
	return func(v *PayPalVerifier) {
		v.client = client
	}
}

// WithPayPalCertHosts replaces the certificate host allow-list, for tests.
func WithPayPalCertHosts(hosts ...string) PayPalOption {
	return func(v *PayPalVerifier) {
		v.allowedHosts = hosts
	}
}

// NewPayPalVerifier builds a verifier bound to the configured webhook id.
func NewPayPalVerifier(webhookID string, log *slog.Logger, opts ...PayPalOption) *PayPalVerifier {
	if log == nil {
		log = slog.Default()
	}
	v := &PayPalVerifier{
		webhookID:    strings.TrimSpace(webhookID),
		allowedHosts: defaultPayPalCertHosts,
		client:       &http.Client{Timeout: 10 * time.Second},
		certs:        cache.New[*x509.Certificate](16, 10*time.Minute),
		log:          log,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *PayPalVerifier) Provider() Provider {
	return ProviderPayPal
}

func (v *PayPalVerifier) Configured() bool {
	return v.webhookID != ""
}

func (v *PayPalVerifier) RequiredHeaders() []string {
	return []string{
		PayPalTransmissionIDHeader,
		PayPalTransmissionTimeHeader,
		PayPalTransmissionSigHeader,
		PayPalCertURLHeader,
		PayPalAuthAlgoHeader,
	}
}

// Timestamp converts the RFC3339 transmission time to unix seconds. An
// unparsable value passes through unchanged so the shared gate rejects it
// with the format code.
func (v *PayPalVerifier) Timestamp(header http.Header) string {
	raw := strings.TrimSpace(header.Get(PayPalTransmissionTimeHeader))
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return raw
	}
	return strconv.FormatInt(ts.Unix(), 10)
}

func (v *PayPalVerifier) EventID(rawBody []byte, _ http.Header) (string, error) {
	var env envelope
	if err := json.Unmarshal(rawBody, &env); err != nil || env.ID == "" {
		return "", fmt.Errorf("%w: event id missing from payload", ErrVerificationFailed)
	}
	return env.ID, nil
}

func (v *PayPalVerifier) Verify(ctx context.Context, rawBody []byte, header http.Header) (*Result, error) {
	transmissionID := strings.TrimSpace(header.Get(PayPalTransmissionIDHeader))
	transmissionTime := strings.TrimSpace(header.Get(PayPalTransmissionTimeHeader))
	signature := strings.TrimSpace(header.Get(PayPalTransmissionSigHeader))
	certURL := strings.TrimSpace(header.Get(PayPalCertURLHeader))
	authAlgo := strings.TrimSpace(header.Get(PayPalAuthAlgoHeader))
	if transmissionID == "" || transmissionTime == "" || signature == "" || certURL == "" || authAlgo == "" {
		return nil, fmt.Errorf("%w: missing transmission headers", ErrVerificationFailed)
	}

	var payload struct {
		envelope
		WebhookID string `json:"webhook_id"`
		Summary   string `json:"summary"`
	}
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, fmt.Errorf("%w: undecodable payload", ErrVerificationFailed)
	}
	// Webhook id gate runs before any signature math. A payload without a
	// webhook id is rejected outright; the configured id is also what gets
	// bound into the signed string below.
	if payload.WebhookID == "" {
		return nil, fmt.Errorf("%w: payload carries no webhook id", ErrVerificationFailed)
	}
	if payload.WebhookID != v.webhookID {
		return nil, fmt.Errorf("%w: event addresses a different webhook id", ErrVerificationFailed)
	}

	if !strings.EqualFold(authAlgo, "SHA256withRSA") {
		return nil, fmt.Errorf("%w: unsupported auth algorithm %q", ErrVerificationFailed, authAlgo)
	}

	cert, err := v.fetchCert(ctx, certURL)
	if err != nil {
		return nil, err
	}

	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return nil, fmt.Errorf("%w: signature is not base64", ErrVerificationFailed)
	}

	expected := fmt.Sprintf("%s|%s|%s|%d", transmissionID, transmissionTime, v.webhookID, bodyChecksum(rawBody))
	if err := cert.CheckSignature(x509.SHA256WithRSA, []byte(expected), sig); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	metadata := map[string]string{}
	if payload.Summary != "" {
		metadata["summary"] = payload.Summary
	}
	return &Result{
		Provider:   ProviderPayPal,
		EventID:    payload.ID,
		EventType:  payload.eventType(),
		RawPayload: rawBody,
		Data:       payload.Resource,
		Metadata:   metadata,
	}, nil
}

// bodyChecksum is the CRC32 the signed string embeds: reflected polynomial,
// table-driven, final XOR with all ones, treated as unsigned 32-bit.
func bodyChecksum(body []byte) uint32 {
	return crc32.ChecksumIEEE(body)
}

func (v *PayPalVerifier) fetchCert(ctx context.Context, certURL string) (*x509.Certificate, error) {
	if cert, ok := v.certs.Get(certURL); ok {
		return cert, nil
	}
	if err := v.checkCertURL(certURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, certURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid cert url", ErrVerificationFailed)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: certificate fetch failed: %v", ErrVerificationFailed, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: certificate fetch returned %d", ErrVerificationFailed, resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxCertBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: certificate read failed", ErrVerificationFailed)
	}

	block, _ := pem.Decode(raw)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("%w: response is not a PEM certificate", ErrVerificationFailed)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: unparsable certificate", ErrVerificationFailed)
	}

	v.certs.Set(certURL, cert)
	return cert, nil
}

func (v *PayPalVerifier) checkCertURL(certURL string) error {
	parsed, err := url.Parse(certURL)
	if err != nil || parsed.Scheme != "https" {
		return fmt.Errorf("%w: certificate url must be https", ErrVerificationFailed)
	}
	host := parsed.Hostname()
	for _, allowed := range v.allowedHosts {
		if strings.EqualFold(host, allowed) {
			return nil
		}
	}
	v.log.Warn("rejected certificate fetch from disallowed host", "host", host)
	return fmt.Errorf("%w: certificate host %q not allowed", ErrVerificationFailed, host)
}
