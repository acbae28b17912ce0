// Package docs is the client side of the document service that renders
// invoice and license PDFs and stores them. Document generation is always
// best effort for payment processing; callers log failures and keep going.
package docs

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

	"github.com/fr0stylo/payhook/internal/ledger"
)

// ErrDocsUnavailable marks transport-level failures talking to the document
// service.
var ErrDocsUnavailable = errors.New("document service unavailable")

// HTTPClient renders documents over the document service HTTP API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	log     *slog.Logger
}

// NewHTTPClient builds a client against baseURL.
func NewHTTPClient(baseURL string, log *slog.Logger) *HTTPClient {
	if log == nil {
		log = slog.Default()
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
		log:     log,
	}
}

type generateRequest struct {
	Kind  string            `json:"kind"`
	Order *ledger.Order     `json:"order"`
	Item  *ledger.OrderItem `json:"item,omitempty"`
}

type generateResponse struct {
	URL   string `json:"url"`
	Error string `json:"error,omitempty"`
}

// GenerateInvoice renders the order invoice PDF and returns its storage URL.
func (c *HTTPClient) GenerateInvoice(ctx context.Context, order *ledger.Order) (string, error) {
	return c.generate(ctx, generateRequest{Kind: "invoice", Order: order})
}

// GenerateLicense renders the license PDF for one purchased item and returns
// its storage URL.
func (c *HTTPClient) GenerateLicense(ctx context.Context, order *ledger.Order, item ledger.OrderItem) (string, error) {
	return c.generate(ctx, generateRequest{Kind: "license", Order: order, Item: &item})
}

func (c *HTTPClient) generate(ctx context.Context, payload generateRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode document request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build document request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDocsUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrDocsUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrDocsUnavailable, resp.StatusCode)
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrDocsUnavailable, err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("document service: %s", out.Error)
	}
	if out.URL == "" {
		return "", errors.New("document service returned no url")
	}
	return out.URL, nil
}
