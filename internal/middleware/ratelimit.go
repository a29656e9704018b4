package middleware

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// BucketConfig は1バケットのレート制限設定。
type BucketConfig struct {
	Rate  rate.Limit // req/sec
	Burst int
}

// RateLimiterConfig はバケットごとのレート制限設定を保持する。
type RateLimiterConfig struct {
	Buckets         map[Bucket]BucketConfig
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// 認証 20 req/min、問い合わせ 5 req/min、金融データ 30 req/min、
// API全般 120 req/min、ページ 300 req/min。キーは呼び出し元ごと。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Buckets: map[Bucket]BucketConfig{
			BucketAuth:    {Rate: rate.Limit(20.0 / 60.0), Burst: 20},
			BucketContact: {Rate: rate.Limit(5.0 / 60.0), Burst: 5},
			BucketFinance: {Rate: rate.Limit(30.0 / 60.0), Burst: 30},
			BucketAPI:     {Rate: rate.Limit(120.0 / 60.0), Burst: 120},
			BucketPage:    {Rate: rate.Limit(300.0 / 60.0), Burst: 300},
		},
		CleanupInterval: 5 * time.Minute,
	}
}

// RateLimiterConfigFromPerMinute はreq/min指定からレート制限設定を構築する。
// 設定ファイルの値（1分あたりの許容リクエスト数）をそのままバーストにする。
func RateLimiterConfigFromPerMinute(auth, contact, finance, api, page int) RateLimiterConfig {
	perMinute := func(n int) BucketConfig {
		if n < 1 {
			n = 1
		}
		return BucketConfig{Rate: rate.Limit(float64(n) / 60.0), Burst: n}
	}
	return RateLimiterConfig{
		Buckets: map[Bucket]BucketConfig{
			BucketAuth:    perMinute(auth),
			BucketContact: perMinute(contact),
			BucketFinance: perMinute(finance),
			BucketAPI:     perMinute(api),
			BucketPage:    perMinute(page),
		},
		CleanupInterval: 5 * time.Minute,
	}
}

// clientLimiter は呼び出し元ごとのレートリミッターとアクセス時刻を保持する。
type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter はバケット×呼び出し元ごとのレート制限を管理する。
// 呼び出し元キーは認証済みならsubject ID、未認証ならクライアントIP。
type RateLimiter struct {
	config RateLimiterConfig

	mu       sync.RWMutex
	limiters map[Bucket]map[string]*clientLimiter

	stopCh chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	limiters := make(map[Bucket]map[string]*clientLimiter, len(config.Buckets))
	for bucket := range config.Buckets {
		limiters[bucket] = make(map[string]*clientLimiter)
	}

	rl := &RateLimiter{
		config:   config,
		limiters: limiters,
		stopCh:   make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// Allow はバケットと呼び出し元キーに対して1リクエスト分のトークンを消費する。
// 未知のバケットは制限なしとして許可する。
func (rl *RateLimiter) Allow(bucket Bucket, key string) bool {
	cfg, ok := rl.config.Buckets[bucket]
	if !ok {
		return true
	}
	return rl.getOrCreateLimiter(bucket, key, cfg).Allow()
}

// RetryAfter はバケットのトークンが1つ補充されるまでの推定秒数を返す。
func (rl *RateLimiter) RetryAfter(bucket Bucket) int {
	cfg, ok := rl.config.Buckets[bucket]
	if !ok || cfg.Rate <= 0 {
		return 1
	}
	retryAfterSec := int(math.Ceil(1.0 / float64(cfg.Rate)))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}
	return retryAfterSec
}

// LimiterCount は現在管理されているバケットのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) LimiterCount(bucket Bucket) int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.limiters[bucket])
}

// getOrCreateLimiter は呼び出し元のリミッターを取得または作成する。
func (rl *RateLimiter) getOrCreateLimiter(bucket Bucket, key string, cfg BucketConfig) *rate.Limiter {
	rl.mu.RLock()
	cl, exists := rl.limiters[bucket][key]
	rl.mu.RUnlock()

	if exists {
		rl.mu.Lock()
		cl.lastAccess = time.Now()
		rl.mu.Unlock()
		return cl.limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// ダブルチェック
	if cl, exists := rl.limiters[bucket][key]; exists {
		cl.lastAccess = time.Now()
		return cl.limiter
	}

	limiter := rate.NewLimiter(cfg.Rate, cfg.Burst)
	rl.limiters[bucket][key] = &clientLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}

	return limiter
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2

	now := time.Now()

	rl.mu.Lock()
	for _, clients := range rl.limiters {
		for key, cl := range clients {
			if now.Sub(cl.lastAccess) > ttl {
				delete(clients, key)
			}
		}
	}
	rl.mu.Unlock()
}

// ClientKey はレート制限のキーを決定する。
// 認証済みならsubject ID、未認証ならクライアントIP。
func ClientKey(r *http.Request, subjectID string) string {
	if subjectID != "" {
		return subjectID
	}
	return clientIP(r)
}

// clientIP はリクエスト元のIPアドレスを解決する。
// プロキシ背後を想定しX-Forwarded-Forの先頭を優先する。
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, retryAfterSec int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	json.NewEncoder(w).Encode(map[string]string{
		"code":     "RATE_LIMIT_EXCEEDED",
		"message":  "リクエストが多すぎます。しばらく待ってから再度お試しください。",
		"category": "system",
		"action":   "指定された時間の経過後に再試行してください。",
	})
}
