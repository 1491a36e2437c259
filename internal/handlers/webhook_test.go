package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bugloop/bugloop/internal/models"
)

const webhookSecret = "0123456789abcdef0123456789abcdef"

func sign(body string) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(env *testEnv, event, deliveryID, body, signature string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest("POST", "/api/webhook/tracker/github", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", event)
	req.Header.Set("X-GitHub-Delivery", deliveryID)
	req.Header.Set("X-Hub-Signature-256", signature)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func setupWebhookEnv(t *testing.T) (*testEnv, *models.Report) {
	t.Helper()
	env := setupRouter(t)
	integration := createIntegration(t, env.db, func(i *models.Integration) {
		i.SyncMode = models.SyncModeAutomatic
		i.WebhookID = 9001
		i.WebhookSecret = webhookSecret
	})
	synced := time.Now().Add(-time.Hour)
	report := createReport(t, env.db, func(r *models.Report) {
		r.IssueNumber = 42
		r.SyncIntegrationID = integration.ID
		r.SyncStatus = models.SyncStatusSynced
		r.LastSyncedAt = &synced
	})
	return env, report
}

const closedEventBody = `{"action":"closed","issue":{"number":42,"state":"closed"},"repository":{"name":"widgets","full_name":"acme/widgets","owner":{"login":"acme"}}}`

func TestWebhook_ClosedEventResolvesReport(t *testing.T) {
	env, report := setupWebhookEnv(t)

	w := postWebhook(env, "issues", "delivery-1", closedEventBody, sign(closedEventBody))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, webhook deliveries must always be acknowledged", w.Code)
	}

	var got models.Report
	env.db.First(&got, report.ID)
	if got.Status != models.ReportStatusResolved {
		t.Errorf("report status = %q, expected %q", got.Status, models.ReportStatusResolved)
	}
}

func TestWebhook_PingEventIgnored(t *testing.T) {
	env, report := setupWebhookEnv(t)

	w := postWebhook(env, "ping", "delivery-1", `{"zen":"keep it simple"}`, "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, expected 200", w.Code)
	}

	var got models.Report
	env.db.First(&got, report.ID)
	if got.Status != models.ReportStatusOpen {
		t.Errorf("report status = %q, ping must not change state", got.Status)
	}
}

func TestWebhook_BadSignatureStillAcknowledged(t *testing.T) {
	env, report := setupWebhookEnv(t)

	w := postWebhook(env, "issues", "delivery-1", closedEventBody, "sha256=deadbeef")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, a bad signature must still be acknowledged with 2xx", w.Code)
	}

	var got models.Report
	env.db.First(&got, report.ID)
	if got.Status != models.ReportStatusOpen {
		t.Errorf("report status = %q, unverified payload must not be applied", got.Status)
	}
}

func TestWebhook_DuplicateDeliveryAcknowledged(t *testing.T) {
	env, _ := setupWebhookEnv(t)

	sig := sign(closedEventBody)
	postWebhook(env, "issues", "delivery-1", closedEventBody, sig)
	w := postWebhook(env, "issues", "delivery-1", closedEventBody, sig)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, redeliveries must be acknowledged", w.Code)
	}

	var events int64
	env.db.Model(&models.WebhookEvent{}).Count(&events)
	if events != 1 {
		t.Errorf("dedup rows = %d, expected 1", events)
	}
}

func TestWebhook_MalformedBodyAcknowledged(t *testing.T) {
	env, _ := setupWebhookEnv(t)

	w := postWebhook(env, "issues", "delivery-1", `{not json`, "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, malformed payloads must still be acknowledged", w.Code)
	}
}
