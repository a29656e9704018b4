package middleware

import "net/http"

// contentSecurityPolicy はすべてのレスポンスに付与するCSP。
// 決済ウィジェットとアバター配信元のみを外部オリジンとして許可する。
const contentSecurityPolicy = "default-src 'self'; " +
	"script-src 'self' 'unsafe-inline' https://js.tosspayments.com; " +
	"img-src 'self' data: https://img.clerk.com; " +
	"connect-src 'self' https://api.tosspayments.com; " +
	"frame-ancestors 'none'"

// SetSecurityHeaders はセキュリティ関連のHTTPレスポンスヘッダーを付与する。
// 許可・拒否を問わずすべての終端レスポンスに付与すること。
func SetSecurityHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Security-Policy", contentSecurityPolicy)
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
}

// NewSecurityHeadersMiddleware はセキュリティヘッダーを付与するミドルウェアを返す。
// ゲートを経由しないルート（/metrics、ヘルスチェック）用。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			SetSecurityHeaders(w)
			next.ServeHTTP(w, r)
		})
	}
}
