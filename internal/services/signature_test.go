package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestVerifyGitHubSignature(t *testing.T) {
	secret := "my-webhook-secret"
	body := []byte(`{"action":"closed"}`)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	valid := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	tests := []struct {
		name      string
		secret    string
		body      []byte
		signature string
		expected  bool
	}{
		{
			name:      "valid signature",
			secret:    secret,
			body:      body,
			signature: valid,
			expected:  true,
		},
		{
			name:      "wrong secret",
			secret:    "other-secret",
			body:      body,
			signature: valid,
			expected:  false,
		},
		{
			name:      "tampered body",
			secret:    secret,
			body:      []byte(`{"action":"reopened"}`),
			signature: valid,
			expected:  false,
		},
		{
			name:      "missing prefix",
			secret:    secret,
			body:      body,
			signature: valid[7:],
			expected:  false,
		},
		{
			name:      "empty signature",
			secret:    secret,
			body:      body,
			signature: "",
			expected:  false,
		},
		{
			name:      "garbage signature",
			secret:    secret,
			body:      body,
			signature: "sha256=nothex",
			expected:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyGitHubSignature(tt.secret, tt.body, tt.signature); got != tt.expected {
				t.Errorf("VerifyGitHubSignature() = %v, expected %v", got, tt.expected)
			}
		})
	}
}

func TestNewWebhookSecret(t *testing.T) {
	first, err := NewWebhookSecret()
	if err != nil {
		t.Fatalf("NewWebhookSecret failed: %v", err)
	}
	if len(first) != 64 {
		t.Errorf("secret length = %d, expected 64 hex characters", len(first))
	}
	if _, err := hex.DecodeString(first); err != nil {
		t.Errorf("secret is not hex: %v", err)
	}

	second, err := NewWebhookSecret()
	if err != nil {
		t.Fatalf("NewWebhookSecret failed: %v", err)
	}
	if first == second {
		t.Error("consecutive secrets should differ")
	}
}
