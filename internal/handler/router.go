package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/membergate/internal/metrics"
	"github.com/hitoshi/membergate/internal/middleware"
	"github.com/hitoshi/membergate/internal/webhook"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Gate              *middleware.AccessGate
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	Logger            *slog.Logger

	// Webhook
	WebhookVerifier *webhook.Verifier
	Lifecycle       LifecycleApplier

	// 管理者
	Permissions AdminPermissionService
	Stats       StatsProvider

	// 同期
	Syncer CallerSyncService

	// 観測
	Collector metrics.MetricsCollector
	Gatherer  prometheus.Gatherer

	// ヘルスチェック
	Pinger Pinger
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → CORS → AccessGate
//
// /metricsと/healthはゲートの外に配置し、セキュリティヘッダーのみ付与する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	webhookHandler := NewWebhookHandler(deps.WebhookVerifier, deps.Lifecycle, deps.Collector, deps.Logger)
	adminHandler := NewAdminHandler(deps.Permissions, deps.Stats, deps.Collector)
	syncHandler := NewSyncHandler(deps.Syncer, deps.Collector, deps.Logger)

	// --- ゲート外のルート ---

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSecurityHeadersMiddleware())

		r.Get("/health", NewHealthHandler(deps.Pinger))
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	})

	// --- ゲート配下のルート ---
	// レート制限・CSRF・認証・管理者権限の判定はすべてゲートが行う。
	r.Group(func(r chi.Router) {
		r.Use(deps.Gate.Middleware())

		// Identityプロバイダーからの配信。署名で保護されるためCSRF免除。
		r.Post("/api/webhooks/identity", webhookHandler.Handle)

		// CSRFトークン配布
		r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

		// 権限確認と同期
		r.Post("/api/check-admin", adminHandler.CheckAdmin)
		r.Post("/api/sync-user", syncHandler.Sync)

		// 管理者向けAPI
		r.Route("/api/admin", func(r chi.Router) {
			r.Get("/user-stats", adminHandler.UserStats)
		})
	})

	return r
}
