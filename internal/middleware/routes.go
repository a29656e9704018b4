package middleware

import "strings"

// Bucket はレート制限バケットの識別子。
type Bucket string

const (
	BucketAuth    Bucket = "auth"
	BucketContact Bucket = "contact_form"
	BucketFinance Bucket = "financial"
	BucketAPI     Bucket = "api"
	BucketPage    Bucket = "page"
)

// bucketRule はパスプレフィックスとバケットの対応。
type bucketRule struct {
	prefix string
	bucket Bucket
}

// bucketRules はバケット分類のルール。上から順に評価し最初の一致を採用する。
// 狭いプレフィックスを広いプレフィックス（/api/）より先に置くこと。
var bucketRules = []bucketRule{
	{prefix: "/api/auth", bucket: BucketAuth},
	{prefix: "/sign-in", bucket: BucketAuth},
	{prefix: "/sign-up", bucket: BucketAuth},
	{prefix: "/api/contact", bucket: BucketContact},
	{prefix: "/api/financial", bucket: BucketFinance},
	{prefix: "/api/", bucket: BucketAPI},
}

// ClassifyBucket はリクエストパスをちょうど1つのレート制限バケットに分類する。
// どのルールにも一致しないパスはページとして扱う。
func ClassifyBucket(path string) Bucket {
	for _, rule := range bucketRules {
		if strings.HasPrefix(path, rule.prefix) {
			return rule.bucket
		}
	}
	return BucketPage
}

// protectedRoutePrefixes は認証必須ルートのプレフィックス集合。
var protectedRoutePrefixes = []string{
	"/dashboard",
	"/admin",
	"/api/admin",
}

// adminRoutePrefixes は管理者権限必須ルートのプレフィックス集合。
// 認証必須ルートの部分集合であり、認証チェックの後に評価される。
var adminRoutePrefixes = []string{
	"/admin",
	"/api/admin",
}

// IsProtectedRoute はパスが認証必須ルートかどうかを判定する。
func IsProtectedRoute(path string) bool {
	return matchesAnyPrefix(path, protectedRoutePrefixes)
}

// IsAdminRoute はパスが管理者権限必須ルートかどうかを判定する。
func IsAdminRoute(path string) bool {
	return matchesAnyPrefix(path, adminRoutePrefixes)
}

// IsAPIRoute はパスがAPIルートかどうかを判定する。
func IsAPIRoute(path string) bool {
	return strings.HasPrefix(path, "/api/")
}

// csrfExemptPrefixes はCSRF検証を免除するAPIパスのプレフィックス集合。
// Webhookは外部プロバイダーからの呼び出しでありCookieコンテキストを持たない。
var csrfExemptPrefixes = []string{
	"/api/webhooks/",
	"/api/docs",
}

// IsCSRFExempt はパスがCSRF検証の免除対象かどうかを判定する。
func IsCSRFExempt(path string) bool {
	return matchesAnyPrefix(path, csrfExemptPrefixes)
}

func matchesAnyPrefix(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
