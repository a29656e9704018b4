// Package app はアプリケーションの初期化と起動を提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/membergate/internal/admin"
	"github.com/hitoshi/membergate/internal/config"
	"github.com/hitoshi/membergate/internal/database"
	"github.com/hitoshi/membergate/internal/directory"
	"github.com/hitoshi/membergate/internal/handler"
	"github.com/hitoshi/membergate/internal/idp"
	"github.com/hitoshi/membergate/internal/logger"
	"github.com/hitoshi/membergate/internal/metrics"
	"github.com/hitoshi/membergate/internal/middleware"
	"github.com/hitoshi/membergate/internal/repository"
	"github.com/hitoshi/membergate/internal/webhook"
)

// sessionCleanupInterval は期限切れセッション掃除の実行間隔。
const sessionCleanupInterval = time.Hour

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	directoryRepo := repository.NewPostgresDirectoryRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)

	// 3. IdPクライアントとディレクトリサービスの初期化
	idpClient := idp.NewClient(
		&http.Client{Timeout: 10 * time.Second},
		slog.Default(),
		cfg.IdPAPIBaseURL,
		cfg.IdPSecretKey,
	)
	directoryService := directory.NewService(directoryRepo, sessionRepo, idpClient)

	// 4. Webhook署名検証器の初期化
	// シークレットが不正な場合はnilのまま進め、配信側でフェイルクローズする
	verifier, err := webhook.NewVerifier(cfg.WebhookSigningSecret, cfg.WebhookTolerance)
	if err != nil {
		slog.Error("webhook verifier initialization failed",
			slog.String("error", err.Error()),
		)
		verifier = nil
	}

	// 5. 管理者権限の構成
	allowList := admin.NewAllowList(cfg.SuperAdminEmails)
	slog.Info("super admin allow list loaded", slog.Int("entries", allowList.Size()))

	permissions := admin.NewDirectoryChecker(directoryRepo, allowList)

	// ゲートの権限確認はデフォルトでローカル参照。
	// ADMIN_CHECK_URLが設定されている場合のみ外部エンドポイントに委譲する。
	var gateChecker admin.PermissionChecker = permissions
	if cfg.AdminCheckURL != "" {
		gateChecker = admin.NewHTTPChecker(
			&http.Client{Timeout: cfg.AdminCheckTimeout},
			slog.Default(),
			cfg.AdminCheckURL,
		)
	}

	// 6. メトリクスとレート制限の初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfigFromPerMinute(
		cfg.RateLimitAuth,
		cfg.RateLimitContact,
		cfg.RateLimitFinance,
		cfg.RateLimitAPI,
		cfg.RateLimitPage,
	))
	defer limiter.Stop()

	// 7. アクセス制御ゲートとルーターの構築
	csrfConfig := middleware.CSRFConfig{
		CookieSecure: cfg.CookieSecure,
		CookieDomain: cfg.CookieDomain,
	}

	gate := middleware.NewAccessGate(
		limiter, sessionRepo, gateChecker, directoryService,
		collector, slog.Default(),
		middleware.AccessGateConfig{CSRF: csrfConfig},
	)

	router := handler.NewRouter(&handler.RouterDeps{
		Gate:              gate,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig:        csrfConfig,
		Logger:            slog.Default(),

		WebhookVerifier: verifier,
		Lifecycle:       directoryService,

		Permissions: permissions,
		Stats:       directoryService,
		Syncer:      directoryService,

		Collector: collector,
		Gatherer:  registry,
		Pinger:    db,
	})

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// 期限切れセッションの定期掃除をバックグラウンドで起動
	go runSessionCleanup(ctx, sessionRepo)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runSessionCleanup は期限切れセッションを定期的に削除する。
func runSessionCleanup(ctx context.Context, sessionRepo repository.SessionRepository) {
	// 起動直後に1回実行
	cleanupSessions(ctx, sessionRepo)

	ticker := time.NewTicker(sessionCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cleanupSessions(ctx, sessionRepo)
		}
	}
}

// cleanupSessions は期限切れセッション削除の1サイクルを実行する。
func cleanupSessions(ctx context.Context, sessionRepo repository.SessionRepository) {
	deleted, err := sessionRepo.DeleteExpired(ctx)
	if err != nil {
		slog.Error("session cleanup failed", slog.String("error", err.Error()))
		return
	}
	if deleted > 0 {
		slog.Info("expired sessions removed", slog.Int64("count", deleted))
	}
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
