package config

import "testing"

func TestLoadDefaultsForLocalDevelopment(t *testing.T) {
	t.Setenv("PAYHOOK_ENV", "dev")
	t.Setenv("PAYHOOK_LEDGER_URL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Security.FailureThreshold != 5 {
		t.Fatalf("expected default failure threshold 5, got %d", cfg.Security.FailureThreshold)
	}
	if cfg.Payments.RetryAttempts != 3 {
		t.Fatalf("expected default retry attempts 3, got %d", cfg.Payments.RetryAttempts)
	}
	if !cfg.IsLocalDevelopment() {
		t.Fatal("expected dev to count as local development")
	}
}

func TestLoadRequiresLedgerURLOutsideLocal(t *testing.T) {
	t.Setenv("PAYHOOK_ENV", "production")
	t.Setenv("PAYHOOK_LEDGER_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing ledger url in production")
	}
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	t.Setenv("PAYHOOK_ENV", "dev")
	t.Setenv("PAYHOOK_PORT", "99999")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}

func TestLoadClampsRetryAttempts(t *testing.T) {
	t.Setenv("PAYHOOK_ENV", "dev")
	t.Setenv("PAYHOOK_RETRY_ATTEMPTS", "50")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Payments.RetryAttempts != 10 {
		t.Fatalf("expected retry attempts clamped to 10, got %d", cfg.Payments.RetryAttempts)
	}
}

func TestLoadReadsProviderSecrets(t *testing.T) {
	t.Setenv("PAYHOOK_ENV", "production")
	t.Setenv("PAYHOOK_LEDGER_URL", "https://ledger.internal")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_abc")
	t.Setenv("PAYPAL_WEBHOOK_ID", "WH-123")
	t.Setenv("CLERK_WEBHOOK_SECRET", "whsec_def")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Providers.StripeWebhookSecret != "whsec_abc" {
		t.Fatalf("unexpected stripe secret %q", cfg.Providers.StripeWebhookSecret)
	}
	if cfg.Providers.PayPalWebhookID != "WH-123" {
		t.Fatalf("unexpected paypal webhook id %q", cfg.Providers.PayPalWebhookID)
	}
	if cfg.Providers.ClerkWebhookSecret != "whsec_def" {
		t.Fatalf("unexpected clerk secret %q", cfg.Providers.ClerkWebhookSecret)
	}
	if cfg.IsLocalDevelopment() {
		t.Fatal("expected production to not count as local development")
	}
}
