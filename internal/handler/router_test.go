package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/membergate/internal/metrics"
	"github.com/hitoshi/membergate/internal/middleware"
	"github.com/hitoshi/membergate/internal/model"
)

type staticSessionFinder struct {
	sessions map[string]string // session id → subject id
}

func (f *staticSessionFinder) FindByID(ctx context.Context, id string) (*model.Session, error) {
	subjectID, ok := f.sessions[id]
	if !ok {
		return nil, nil
	}
	return &model.Session{ID: id, SubjectID: subjectID, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func newTestRouter(t *testing.T, applier LifecycleApplier, permissions AdminPermissionService, sessions map[string]string) http.Handler {
	t.Helper()

	buckets := make(map[middleware.Bucket]middleware.BucketConfig)
	for _, b := range []middleware.Bucket{
		middleware.BucketAuth, middleware.BucketContact, middleware.BucketFinance,
		middleware.BucketAPI, middleware.BucketPage,
	} {
		buckets[b] = middleware.BucketConfig{Rate: rate.Limit(1000), Burst: 1000}
	}
	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Buckets:         buckets,
		CleanupInterval: time.Hour,
	})
	t.Cleanup(limiter.Stop)

	finder := &staticSessionFinder{sessions: sessions}
	syncer := &mockSyncService{
		syncFn: func(ctx context.Context, subjectID string) (*model.DirectoryUser, error) {
			return &model.DirectoryUser{SubjectID: subjectID}, nil
		},
	}

	gate := middleware.NewAccessGate(
		limiter, finder, permissions, syncer,
		metrics.Noop{}, slog.Default(), middleware.AccessGateConfig{},
	)

	reg := prometheus.NewRegistry()
	return NewRouter(&RouterDeps{
		Gate:              gate,
		CORSAllowedOrigin: "https://app.example.com",
		CSRFConfig:        middleware.CSRFConfig{},
		Logger:            slog.Default(),
		WebhookVerifier:   testVerifier(t),
		Lifecycle:         applier,
		Permissions:       permissions,
		Stats:             &mockStatsProvider{},
		Syncer:            syncer,
		Collector:         metrics.Noop{},
		Gatherer:          reg,
		Pinger:            nil,
	})
}

func TestRouter_HealthEndpoint(t *testing.T) {
	router := newTestRouter(t, &mockApplier{}, adminPermissions(false), nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-Content-Type-Options") == "" {
		t.Error("expected security headers outside the gate")
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	router := newTestRouter(t, &mockApplier{}, adminPermissions(false), nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

// Webhook配信はCSRF免除でゲートを通過し、署名検証だけで守られる。
func TestRouter_WebhookDeliveryEndToEnd(t *testing.T) {
	applier := &mockApplier{}
	router := newTestRouter(t, applier, adminPermissions(false), nil)

	v := testVerifier(t)
	body := createdEventBody("usr_e2e", "e2e@example.com")
	r := signedRequest(t, v, body)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", rec.Code, rec.Body.String())
	}
	if len(applier.applied) != 1 || applier.applied[0].SubjectID != "usr_e2e" {
		t.Errorf("applied = %+v, want one event for usr_e2e", applier.applied)
	}
}

func TestRouter_AdminRouteUnauthenticatedRedirects(t *testing.T) {
	router := newTestRouter(t, &mockApplier{}, adminPermissions(true), nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/user-stats", nil))

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if got := rec.Header().Get("Location"); got != "/?error=unauthorized" {
		t.Errorf("Location = %q, want /?error=unauthorized", got)
	}
}

func TestRouter_AdminStatsForAdminCaller(t *testing.T) {
	permissions := adminPermissions(true)
	router := newTestRouter(t, &mockApplier{}, permissions, map[string]string{"sess_admin": "usr_admin"})

	r := httptest.NewRequest(http.MethodGet, "/api/admin/user-stats", nil)
	r.AddCookie(&http.Cookie{Name: "session_id", Value: "sess_admin"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200, body = %s", rec.Code, rec.Body.String())
	}
}

// APIへの書き込みはCSRFトークンなしでは拒否される。
func TestRouter_CSRFEnforcedOnAPIWrites(t *testing.T) {
	router := newTestRouter(t, &mockApplier{}, adminPermissions(false), map[string]string{"sess_1": "usr_1"})

	r := httptest.NewRequest(http.MethodPost, "/api/sync-user", nil)
	r.AddCookie(&http.Cookie{Name: "session_id", Value: "sess_1"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestRouter_CSRFTokenIssued(t *testing.T) {
	router := newTestRouter(t, &mockApplier{}, adminPermissions(false), nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	found := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == "csrf_token" && c.Value != "" {
			found = true
		}
	}
	if !found {
		t.Error("expected csrf_token cookie to be issued")
	}
}
