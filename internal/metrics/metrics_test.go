package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCollector_RecordsAndExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordWebhookEvent("user.created", "ok")
	c.RecordWebhookEvent("user.created", "ok")
	c.RecordWebhookEvent("user.deleted", "store_error")
	c.RecordAccessDecision("allow")
	c.RecordRateLimitHit("auth")
	c.RecordSyncOutcome("success")
	c.RecordAdminCheck("denied")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	body := rec.Body.String()
	wantLines := []string{
		`membergate_webhook_events_total{result="ok",type="user.created"} 2`,
		`membergate_webhook_events_total{result="store_error",type="user.deleted"} 1`,
		`membergate_access_decisions_total{decision="allow"} 1`,
		`membergate_rate_limit_hits_total{bucket="auth"} 1`,
		`membergate_sync_total{result="success"} 1`,
		`membergate_admin_checks_total{result="denied"} 1`,
	}
	for _, want := range wantLines {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestSetupMetricsRoute_ServesOnlyMetricsPath(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)
	handler := SetupMetricsRoute(reg)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET /metrics status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/other", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET /other status = %d, want 404", rec.Code)
	}
}
