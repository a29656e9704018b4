package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/membergate/internal/metrics"
	"github.com/hitoshi/membergate/internal/model"

	"golang.org/x/time/rate"
)

type mockChecker struct {
	isAdminFn func(r *http.Request, subjectID string) (bool, error)
}

func (m *mockChecker) IsAdmin(r *http.Request, subjectID string) (bool, error) {
	return m.isAdminFn(r, subjectID)
}

type mockSyncer struct {
	syncFn func(ctx context.Context, subjectID string) (*model.DirectoryUser, error)
}

func (m *mockSyncer) SyncCaller(ctx context.Context, subjectID string) (*model.DirectoryUser, error) {
	return m.syncFn(ctx, subjectID)
}

// sessionFinderFor は単一セッションを返すSessionFinderを生成する。
func sessionFinderFor(sessionID, subjectID string) SessionFinder {
	return &mockSessionFinder{
		findFn: func(ctx context.Context, id string) (*model.Session, error) {
			if id == sessionID {
				return &model.Session{
					ID:        sessionID,
					SubjectID: subjectID,
					ExpiresAt: time.Now().Add(time.Hour),
				}, nil
			}
			return nil, nil
		},
	}
}

func noSessions() SessionFinder {
	return &mockSessionFinder{
		findFn: func(ctx context.Context, id string) (*model.Session, error) {
			return nil, nil
		},
	}
}

func noopSyncer() *mockSyncer {
	return &mockSyncer{
		syncFn: func(ctx context.Context, subjectID string) (*model.DirectoryUser, error) {
			return &model.DirectoryUser{SubjectID: subjectID}, nil
		},
	}
}

func deniedChecker(t *testing.T) *mockChecker {
	t.Helper()
	return &mockChecker{
		isAdminFn: func(r *http.Request, subjectID string) (bool, error) {
			return false, nil
		},
	}
}

func generousLimiter() *RateLimiter {
	buckets := make(map[Bucket]BucketConfig)
	for _, b := range []Bucket{BucketAuth, BucketContact, BucketFinance, BucketAPI, BucketPage} {
		buckets[b] = BucketConfig{Rate: rate.Limit(1000), Burst: 1000}
	}
	return NewRateLimiter(RateLimiterConfig{Buckets: buckets, CleanupInterval: time.Hour})
}

func newTestGate(t *testing.T, sessions SessionFinder, checker *mockChecker, syncer *mockSyncer) (*AccessGate, *RateLimiter) {
	t.Helper()
	limiter := generousLimiter()
	t.Cleanup(limiter.Stop)
	gate := NewAccessGate(limiter, sessions, checker, syncer, metrics.Noop{}, slog.Default(), AccessGateConfig{})
	return gate, limiter
}

// serveThroughGate はゲート越しにリクエストを処理し、到達有無と応答を返す。
func serveThroughGate(gate *AccessGate, r *http.Request) (*httptest.ResponseRecorder, bool, string) {
	reached := false
	var subjectInContext string
	handler := gate.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		if id, err := SubjectIDFromContext(r.Context()); err == nil {
			subjectInContext = id
		}
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	return rec, reached, subjectInContext
}

func assertSecurityHeaders(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	for _, header := range []string{
		"Content-Security-Policy",
		"X-Content-Type-Options",
		"X-Frame-Options",
		"Referrer-Policy",
		"Permissions-Policy",
	} {
		if rec.Header().Get(header) == "" {
			t.Errorf("missing security header %s", header)
		}
	}
}

func TestAccessGate_PublicPageAllowed(t *testing.T) {
	gate, _ := newTestGate(t, noSessions(), deniedChecker(t), noopSyncer())

	rec, reached, _ := serveThroughGate(gate, httptest.NewRequest(http.MethodGet, "/", nil))

	if !reached {
		t.Fatal("public page should reach the handler")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	assertSecurityHeaders(t, rec)
}

func TestAccessGate_RateLimited(t *testing.T) {
	limiter := NewRateLimiter(RateLimiterConfig{
		Buckets: map[Bucket]BucketConfig{
			BucketPage: {Rate: rate.Limit(1.0 / 60.0), Burst: 1},
		},
		CleanupInterval: time.Hour,
	})
	t.Cleanup(limiter.Stop)
	gate := NewAccessGate(limiter, noSessions(), deniedChecker(t), noopSyncer(), metrics.Noop{}, slog.Default(), AccessGateConfig{})

	r1 := httptest.NewRequest(http.MethodGet, "/", nil)
	r1.RemoteAddr = "203.0.113.9:1111"
	if _, reached, _ := serveThroughGate(gate, r1); !reached {
		t.Fatal("first request should be allowed")
	}

	r2 := httptest.NewRequest(http.MethodGet, "/", nil)
	r2.RemoteAddr = "203.0.113.9:2222"
	rec, reached, _ := serveThroughGate(gate, r2)

	if reached {
		t.Fatal("second request should be rate limited")
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	// 拒否経路でもセキュリティヘッダーは付与される
	assertSecurityHeaders(t, rec)
}

func TestAccessGate_CSRFRejectedForAPIWrites(t *testing.T) {
	gate, _ := newTestGate(t, noSessions(), deniedChecker(t), noopSyncer())

	rec, reached, _ := serveThroughGate(gate, httptest.NewRequest(http.MethodPost, "/api/users", nil))

	if reached {
		t.Fatal("API write without CSRF tokens should be rejected")
	}
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
	assertSecurityHeaders(t, rec)
}

func TestAccessGate_WebhookExemptFromCSRF(t *testing.T) {
	gate, _ := newTestGate(t, noSessions(), deniedChecker(t), noopSyncer())

	_, reached, _ := serveThroughGate(gate, httptest.NewRequest(http.MethodPost, "/api/webhooks/identity", nil))

	if !reached {
		t.Error("webhook endpoint must bypass CSRF protection")
	}
}

func TestAccessGate_ProtectedRouteUnauthenticated(t *testing.T) {
	gate, _ := newTestGate(t, noSessions(), deniedChecker(t), noopSyncer())

	rec, reached, _ := serveThroughGate(gate, httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	if reached {
		t.Fatal("unauthenticated protected route should redirect")
	}
	if rec.Code != http.StatusFound {
		t.Errorf("status = %d, want 302", rec.Code)
	}
	if got := rec.Header().Get("Location"); got != "/?error=unauthorized" {
		t.Errorf("Location = %q, want /?error=unauthorized", got)
	}
	assertSecurityHeaders(t, rec)
}

// 管理者ルートの未認証呼び出しは認証エラーが先に立つ。
// 管理者権限の確認に進んではならない。
func TestAccessGate_AdminRoutePrecedence_AuthBeforeAdmin(t *testing.T) {
	checker := &mockChecker{
		isAdminFn: func(r *http.Request, subjectID string) (bool, error) {
			t.Error("admin check must not run for unauthenticated callers")
			return false, nil
		},
	}
	gate, _ := newTestGate(t, noSessions(), checker, noopSyncer())

	rec, reached, _ := serveThroughGate(gate, httptest.NewRequest(http.MethodGet, "/admin", nil))

	if reached {
		t.Fatal("unauthenticated admin route should redirect")
	}
	if got := rec.Header().Get("Location"); got != "/?error=unauthorized" {
		t.Errorf("Location = %q, want /?error=unauthorized", got)
	}
}

func TestAccessGate_AdminRouteDenied(t *testing.T) {
	gate, _ := newTestGate(t, sessionFinderFor("sess_1", "usr_1"), deniedChecker(t), noopSyncer())

	r := httptest.NewRequest(http.MethodGet, "/admin", nil)
	r.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "sess_1"})
	rec, reached, _ := serveThroughGate(gate, r)

	if reached {
		t.Fatal("non-admin caller should be redirected")
	}
	if got := rec.Header().Get("Location"); got != "/?error=admin_access_denied" {
		t.Errorf("Location = %q, want /?error=admin_access_denied", got)
	}
	assertSecurityHeaders(t, rec)
}

// 権限確認呼び出し自体の失敗はフェイルクローズし、拒否とは別のマーカーを返す。
func TestAccessGate_AdminCheckFailureFailsClosed(t *testing.T) {
	checker := &mockChecker{
		isAdminFn: func(r *http.Request, subjectID string) (bool, error) {
			return false, errors.New("permission endpoint unreachable")
		},
	}
	gate, _ := newTestGate(t, sessionFinderFor("sess_1", "usr_1"), checker, noopSyncer())

	r := httptest.NewRequest(http.MethodGet, "/api/admin/user-stats", nil)
	r.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "sess_1"})
	rec, reached, _ := serveThroughGate(gate, r)

	if reached {
		t.Fatal("failed admin check must never fail open")
	}
	if got := rec.Header().Get("Location"); got != "/?error=admin_check_failed" {
		t.Errorf("Location = %q, want /?error=admin_check_failed", got)
	}
}

func TestAccessGate_AdminRouteGranted(t *testing.T) {
	checker := &mockChecker{
		isAdminFn: func(r *http.Request, subjectID string) (bool, error) {
			return subjectID == "usr_admin", nil
		},
	}
	gate, _ := newTestGate(t, sessionFinderFor("sess_1", "usr_admin"), checker, noopSyncer())

	r := httptest.NewRequest(http.MethodGet, "/admin", nil)
	r.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "sess_1"})
	rec, reached, subjectID := serveThroughGate(gate, r)

	if !reached {
		t.Fatal("admin caller should reach the handler")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if subjectID != "usr_admin" {
		t.Errorf("subject in context = %q, want usr_admin", subjectID)
	}
}

func TestAccessGate_AuthenticatedDashboardSkipsAdminCheck(t *testing.T) {
	checker := &mockChecker{
		isAdminFn: func(r *http.Request, subjectID string) (bool, error) {
			t.Error("admin check must not run for non-admin routes")
			return false, nil
		},
	}
	gate, _ := newTestGate(t, sessionFinderFor("sess_1", "usr_1"), checker, noopSyncer())

	r := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	r.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "sess_1"})
	_, reached, _ := serveThroughGate(gate, r)

	if !reached {
		t.Error("authenticated caller should reach the dashboard")
	}
}

func TestAccessGate_OpportunisticSyncOnPageRoutes(t *testing.T) {
	synced := make(chan string, 1)
	syncer := &mockSyncer{
		syncFn: func(ctx context.Context, subjectID string) (*model.DirectoryUser, error) {
			synced <- subjectID
			return &model.DirectoryUser{SubjectID: subjectID}, nil
		},
	}
	gate, _ := newTestGate(t, sessionFinderFor("sess_1", "usr_1"), deniedChecker(t), syncer)

	r := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	r.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "sess_1"})
	serveThroughGate(gate, r)

	select {
	case subjectID := <-synced:
		if subjectID != "usr_1" {
			t.Errorf("synced subject = %q, want usr_1", subjectID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected background sync to be triggered")
	}
}

func TestAccessGate_NoSyncOnAPIRoutes(t *testing.T) {
	synced := make(chan string, 1)
	syncer := &mockSyncer{
		syncFn: func(ctx context.Context, subjectID string) (*model.DirectoryUser, error) {
			synced <- subjectID
			return nil, nil
		},
	}
	gate, _ := newTestGate(t, sessionFinderFor("sess_1", "usr_1"), deniedChecker(t), syncer)

	r := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	r.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "sess_1"})
	serveThroughGate(gate, r)

	select {
	case <-synced:
		t.Error("API routes must not trigger opportunistic sync")
	case <-time.After(100 * time.Millisecond):
	}
}

// 便乗同期の失敗・panicはレスポンスに一切影響しない。
func TestAccessGate_SyncFailureNeverSurfaces(t *testing.T) {
	tests := []struct {
		name   string
		syncFn func(ctx context.Context, subjectID string) (*model.DirectoryUser, error)
	}{
		{
			name: "sync error",
			syncFn: func(ctx context.Context, subjectID string) (*model.DirectoryUser, error) {
				return nil, errors.New("store unavailable")
			},
		},
		{
			name: "sync panic",
			syncFn: func(ctx context.Context, subjectID string) (*model.DirectoryUser, error) {
				panic("unexpected")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			done := make(chan struct{})
			syncer := &mockSyncer{
				syncFn: func(ctx context.Context, subjectID string) (*model.DirectoryUser, error) {
					defer close(done)
					return tt.syncFn(ctx, subjectID)
				},
			}
			gate, _ := newTestGate(t, sessionFinderFor("sess_1", "usr_1"), deniedChecker(t), syncer)

			r := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
			r.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "sess_1"})
			rec, reached, _ := serveThroughGate(gate, r)

			if !reached {
				t.Fatal("request should reach the handler regardless of sync outcome")
			}
			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", rec.Code)
			}

			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Fatal("background sync did not run")
			}
		})
	}
}

func TestAccessDecision_String(t *testing.T) {
	tests := []struct {
		decision AccessDecision
		want     string
	}{
		{DecisionAllow, "allow"},
		{DecisionRateLimited, "rate_limited"},
		{DecisionCSRFRejected, "csrf_rejected"},
		{DecisionRedirectUnauthenticated, "redirect_unauthenticated"},
		{DecisionRedirectAdminDenied, "redirect_admin_denied"},
		{DecisionRedirectAdminCheckFailed, "redirect_admin_check_failed"},
		{AccessDecision(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.decision.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
