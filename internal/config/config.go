// Package config は環境変数からのアプリケーション設定読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Webhook
	WebhookSigningSecret string
	WebhookTolerance     time.Duration

	// IdP
	IdPAPIBaseURL string
	IdPSecretKey  string

	// Admin
	SuperAdminEmails  []string
	AdminCheckURL     string
	AdminCheckTimeout time.Duration

	// Session
	SessionMaxAge int

	// Rate Limit（単位: req/min）
	RateLimitAuth    int
	RateLimitContact int
	RateLimitFinance int
	RateLimitAPI     int
	RateLimitPage    int

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// .envファイルが存在すればベストエフォートで読み込む（未存在は無視）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.WebhookSigningSecret = os.Getenv("WEBHOOK_SIGNING_SECRET")
	if cfg.WebhookSigningSecret == "" {
		missing = append(missing, "WEBHOOK_SIGNING_SECRET")
	}

	cfg.IdPSecretKey = os.Getenv("IDP_SECRET_KEY")
	if cfg.IdPSecretKey == "" {
		missing = append(missing, "IDP_SECRET_KEY")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	superAdmins := os.Getenv("SUPER_ADMIN_EMAILS")
	if superAdmins == "" {
		missing = append(missing, "SUPER_ADMIN_EMAILS")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.SuperAdminEmails = ParseEmailList(superAdmins)

	// Optional fields with defaults
	cfg.WebhookTolerance = getEnvDuration("WEBHOOK_TOLERANCE", 5*time.Minute)
	cfg.IdPAPIBaseURL = getEnvString("IDP_API_BASE_URL", "https://api.clerk.com/v1")
	cfg.AdminCheckURL = getEnvString("ADMIN_CHECK_URL", "")
	cfg.AdminCheckTimeout = getEnvDuration("ADMIN_CHECK_TIMEOUT", 5*time.Second)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 20)
	cfg.RateLimitContact = getEnvInt("RATE_LIMIT_CONTACT", 5)
	cfg.RateLimitFinance = getEnvInt("RATE_LIMIT_FINANCE", 30)
	cfg.RateLimitAPI = getEnvInt("RATE_LIMIT_API", 120)
	cfg.RateLimitPage = getEnvInt("RATE_LIMIT_PAGE", 300)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// ParseEmailList はカンマ区切りのメールアドレスリストを解析する。
// 各エントリは前後の空白を除去し、小文字に正規化する。空エントリは捨てる。
func ParseEmailList(raw string) []string {
	var emails []string
	for _, e := range strings.Split(raw, ",") {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			emails = append(emails, e)
		}
	}
	return emails
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
