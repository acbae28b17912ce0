package verify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"
)

var svixTestKey = []byte("payhook-svix-test-signing-key!!!")

func svixTestSecret() string {
	return "whsec_" + base64.StdEncoding.EncodeToString(svixTestKey)
}

func signedSvixHeaders(t *testing.T, msgID string, payload []byte) http.Header {
	t.Helper()
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, svixTestKey)
	fmt.Fprintf(mac, "%s.%s.%s", msgID, timestamp, payload)
	header := http.Header{}
	header.Set(SvixIDHeader, msgID)
	header.Set(SvixTimestampHeader, timestamp)
	header.Set(SvixSignatureHeader, "v1,"+base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	return header
}

func TestSvixVerifyAcceptsSignedPayload(t *testing.T) {
	t.Parallel()

	v := NewSvixVerifier(svixTestSecret())
	payload := []byte(`{"type":"subscription.updated","data":{"id":"sub_1","plan":"pro"}}`)
	header := signedSvixHeaders(t, "msg_1", payload)

	res, err := v.Verify(context.Background(), payload, header)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.EventID != "msg_1" {
		t.Fatalf("unexpected event id: %s", res.EventID)
	}
	if res.EventType != "subscription.updated" {
		t.Fatalf("unexpected event type: %s", res.EventType)
	}
}

func TestSvixVerifyRejectsTamperedSignature(t *testing.T) {
	t.Parallel()

	v := NewSvixVerifier(svixTestSecret())
	payload := []byte(`{"type":"invoice.paid","data":{}}`)
	header := signedSvixHeaders(t, "msg_2", payload)
	header.Set(SvixSignatureHeader, "v1,AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=")

	if _, err := v.Verify(context.Background(), payload, header); !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("expected verification rejection, got %v", err)
	}
}

func TestSvixVerifierUnconfigured(t *testing.T) {
	t.Parallel()

	v := NewSvixVerifier("")
	if v.Configured() {
		t.Fatal("expected empty secret to leave verifier unconfigured")
	}
	if _, err := v.Verify(context.Background(), []byte(`{}`), http.Header{}); !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("expected rejection from unconfigured verifier, got %v", err)
	}
}

func TestSvixEventIDRequiresHeader(t *testing.T) {
	t.Parallel()

	v := NewSvixVerifier(svixTestSecret())
	if _, err := v.EventID(nil, http.Header{}); err == nil {
		t.Fatal("expected error without svix-id header")
	}
}
