package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/membergate/internal/admin"
	"github.com/hitoshi/membergate/internal/metrics"
	"github.com/hitoshi/membergate/internal/model"
)

// AccessDecision はアクセス制御ゲートの1リクエストに対する判定結果。
type AccessDecision int

const (
	DecisionAllow AccessDecision = iota
	DecisionRateLimited
	DecisionCSRFRejected
	DecisionRedirectUnauthenticated
	DecisionRedirectAdminDenied
	DecisionRedirectAdminCheckFailed
)

// String はメトリクスラベルおよびログ用の判定名を返す。
func (d AccessDecision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionRateLimited:
		return "rate_limited"
	case DecisionCSRFRejected:
		return "csrf_rejected"
	case DecisionRedirectUnauthenticated:
		return "redirect_unauthenticated"
	case DecisionRedirectAdminDenied:
		return "redirect_admin_denied"
	case DecisionRedirectAdminCheckFailed:
		return "redirect_admin_check_failed"
	default:
		return "unknown"
	}
}

// リダイレクト時にホームルートへ付与するエラーマーカー。
const (
	errorMarkerUnauthorized     = "unauthorized"
	errorMarkerAdminDenied      = "admin_access_denied"
	errorMarkerAdminCheckFailed = "admin_check_failed"
)

// CallerSyncer は呼び出し元レコードの便乗同期に必要なインターフェース。
// directory.Serviceの部分集合として定義する。
type CallerSyncer interface {
	SyncCaller(ctx context.Context, subjectID string) (*model.DirectoryUser, error)
}

// AccessGateConfig はアクセス制御ゲートの設定。
type AccessGateConfig struct {
	CSRF        CSRFConfig
	SyncTimeout time.Duration // 便乗同期のバックグラウンドタイムアウト
}

// AccessGate はすべての受信リクエストを横断するアクセス制御ゲート。
// レート制限 → CSRF → 認証解決（＋便乗同期）→ 保護ルート → 管理者ルートの
// 順で判定し、どの終端経路でもセキュリティヘッダーを付与する。
type AccessGate struct {
	limiter   *RateLimiter
	sessions  SessionFinder
	checker   admin.PermissionChecker
	syncer    CallerSyncer
	collector metrics.MetricsCollector
	logger    *slog.Logger
	config    AccessGateConfig
}

// NewAccessGate はAccessGateを生成する。
func NewAccessGate(
	limiter *RateLimiter,
	sessions SessionFinder,
	checker admin.PermissionChecker,
	syncer CallerSyncer,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	config AccessGateConfig,
) *AccessGate {
	if config.SyncTimeout <= 0 {
		config.SyncTimeout = 10 * time.Second
	}
	return &AccessGate{
		limiter:   limiter,
		sessions:  sessions,
		checker:   checker,
		syncer:    syncer,
		collector: collector,
		logger:    logger,
		config:    config,
	}
}

// Middleware はゲートをHTTPミドルウェアとして返す。
// 許可されたリクエストにはsubject IDをコンテキストに注入して後続に渡す。
func (g *AccessGate) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 終端がどれであってもセキュリティヘッダーは必ず付与する
			SetSecurityHeaders(w)

			path := r.URL.Path

			// 1. レート制限。キーは認証前なのでクライアントIP基準になりうるが、
			// セッションが解決できればsubject IDを優先する。
			subjectID := ResolveSubject(r, g.sessions)
			bucket := ClassifyBucket(path)
			key := ClientKey(r, subjectID)

			if !g.limiter.Allow(bucket, key) {
				g.collector.RecordRateLimitHit(string(bucket))
				g.recordDecision(DecisionRateLimited)
				g.logger.Warn("rate limit exceeded",
					slog.String("bucket", string(bucket)),
					slog.String("key", key),
					slog.String("path", path),
				)
				writeRateLimitResponse(w, g.limiter.RetryAfter(bucket))
				return
			}

			// 2. CSRF保護。APIルートのうちWebhook・ドキュメントを除く。
			if IsAPIRoute(path) && !IsCSRFExempt(path) {
				if !VerifyCSRF(w, r, g.config.CSRF) {
					g.recordDecision(DecisionCSRFRejected)
					http.Error(w, "CSRF token validation failed", http.StatusForbidden)
					return
				}
			}

			// 3. 認証解決。非APIルートの認証済み呼び出しは便乗同期を起動する。
			authenticated := subjectID != ""
			if authenticated && !IsAPIRoute(path) {
				g.fireAndForgetSync(subjectID)
			}

			// 4. 保護ルート: 未認証ならホームへリダイレクト。
			if IsProtectedRoute(path) && !authenticated {
				g.recordDecision(DecisionRedirectUnauthenticated)
				g.redirectHome(w, r, errorMarkerUnauthorized)
				return
			}

			// 5. 管理者ルート: 権限確認。確認呼び出しの失敗はフェイルクローズ。
			if IsAdminRoute(path) {
				isAdmin, err := g.checker.IsAdmin(r, subjectID)
				if err != nil {
					// 確認自体の失敗は権限なしとはログを区別する。
					// 障害を正当なアクセス拒否として埋もれさせないため。
					g.collector.RecordAdminCheck("check_failed")
					g.recordDecision(DecisionRedirectAdminCheckFailed)
					g.logger.Error("admin permission check failed",
						slog.String("subject_id", subjectID),
						slog.String("path", path),
						slog.String("error", err.Error()),
					)
					g.redirectHome(w, r, errorMarkerAdminCheckFailed)
					return
				}
				if !isAdmin {
					g.collector.RecordAdminCheck("denied")
					g.recordDecision(DecisionRedirectAdminDenied)
					g.logger.Warn("admin access denied",
						slog.String("subject_id", subjectID),
						slog.String("path", path),
					)
					g.redirectHome(w, r, errorMarkerAdminDenied)
					return
				}
				g.collector.RecordAdminCheck("granted")
			}

			g.recordDecision(DecisionAllow)

			if authenticated {
				r = r.WithContext(ContextWithSubjectID(r.Context(), subjectID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// fireAndForgetSync は呼び出し元レコードの同期をバックグラウンドで起動する。
// 結果を待たず、失敗してもレスポンスには影響させない。
func (g *AccessGate) fireAndForgetSync(subjectID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), g.config.SyncTimeout)
		defer cancel()

		defer func() {
			if rec := recover(); rec != nil {
				g.logger.Error("panic in background sync",
					slog.Any("panic", rec),
					slog.String("subject_id", subjectID),
				)
			}
		}()

		if _, err := g.syncer.SyncCaller(ctx, subjectID); err != nil {
			g.collector.RecordSyncOutcome("background_failure")
			g.logger.Warn("background caller sync failed",
				slog.String("subject_id", subjectID),
				slog.String("error", err.Error()),
			)
			return
		}
		g.collector.RecordSyncOutcome("background_success")
	}()
}

// redirectHome はエラーマーカー付きでホームルートへリダイレクトする。
func (g *AccessGate) redirectHome(w http.ResponseWriter, r *http.Request, marker string) {
	target := "/?error=" + url.QueryEscape(marker)
	http.Redirect(w, r, target, http.StatusFound)
}

// recordDecision は判定結果をメトリクスに記録する。
func (g *AccessGate) recordDecision(d AccessDecision) {
	g.collector.RecordAccessDecision(d.String())
}
