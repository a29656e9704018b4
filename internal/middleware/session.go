// Package middleware はHTTPミドルウェアとアクセス制御ゲートを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/membergate/internal/model"
)

const sessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// subjectIDContextKey はリクエストコンテキストにsubject IDを格納するためのキー。
var subjectIDContextKey = contextKey("subject_id")

// SessionFinder はセッションの検索に必要なインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// ResolveSubject はHTTP Only Cookieのセッションから呼び出し元のsubject IDを解決する。
// 未認証・無効セッションの場合は空文字を返す。拒否はしない。
// 認証要否の判定はアクセス制御ゲートの責務であり、ここでは解決のみ行う。
func ResolveSubject(r *http.Request, sessionFinder SessionFinder) string {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}

	session, err := sessionFinder.FindByID(r.Context(), cookie.Value)
	if err != nil {
		slog.Error("failed to find session",
			slog.String("error", err.Error()),
		)
		return ""
	}
	if session == nil {
		return ""
	}
	return session.SubjectID
}

// SubjectIDFromContext はリクエストコンテキストからsubject IDを取得する。
// アクセス制御ゲートを通過したリクエストでのみ有効。
func SubjectIDFromContext(ctx context.Context) (string, error) {
	subjectID, ok := ctx.Value(subjectIDContextKey).(string)
	if !ok || subjectID == "" {
		return "", fmt.Errorf("subject ID not found in context")
	}
	return subjectID, nil
}

// ContextWithSubjectID はコンテキストにsubject IDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSubjectID(ctx context.Context, subjectID string) context.Context {
	return context.WithValue(ctx, subjectIDContextKey, subjectID)
}
