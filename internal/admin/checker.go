package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/membergate/internal/repository"
)

// PermissionChecker は呼び出し元の管理者権限を確認するインターフェース。
// 確認呼び出し自体の失敗（エラー）と権限なし（false）は区別して返す。
type PermissionChecker interface {
	// IsAdmin は呼び出し元が管理者かどうかを判定する。
	// rは受信リクエスト（HTTP実装がセッションCookieを転送するために使う）。
	IsAdmin(r *http.Request, subjectID string) (bool, error)
}

// DirectoryChecker はディレクトリの行から呼び出し元のメールアドレスを解決し、
// 許可リストとの一致を判定するローカル実装。
type DirectoryChecker struct {
	repo      repository.DirectoryRepository
	allowList *AllowList
}

// NewDirectoryChecker はDirectoryCheckerを生成する。
func NewDirectoryChecker(repo repository.DirectoryRepository, allowList *AllowList) *DirectoryChecker {
	return &DirectoryChecker{repo: repo, allowList: allowList}
}

// IsAdmin はディレクトリ行のメールアドレスを許可リストと照合する。
// 行が存在しない・ソフトデリート済みの場合は権限なしとして扱う。
func (c *DirectoryChecker) IsAdmin(r *http.Request, subjectID string) (bool, error) {
	user, err := c.repo.FindBySubjectID(r.Context(), subjectID)
	if err != nil {
		return false, fmt.Errorf("ディレクトリの参照に失敗しました: %w", err)
	}
	if user == nil || user.IsDeleted() {
		return false, nil
	}
	return c.allowList.Contains(user.Email), nil
}

// ResolveEmail はsubjectのメールアドレスを返す。行がなければ空文字。
// 権限確認エンドポイントのレスポンス組み立てに使う。
func (c *DirectoryChecker) ResolveEmail(ctx context.Context, subjectID string) (string, error) {
	user, err := c.repo.FindBySubjectID(ctx, subjectID)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", nil
	}
	return user.Email, nil
}

// HTTPChecker は権限確認エンドポイントへの同期POST呼び出しで判定するリモート実装。
// 管理者ルートのリクエストパス上でのみ実行され、リトライは行わない。
// トランスポート失敗・非2xxはエラーとして返し、呼び出し元がフェイルクローズする。
type HTTPChecker struct {
	httpClient *http.Client
	logger     *slog.Logger
	checkURL   string
}

// NewHTTPChecker はHTTPCheckerを生成する。
func NewHTTPChecker(httpClient *http.Client, logger *slog.Logger, checkURL string) *HTTPChecker {
	return &HTTPChecker{
		httpClient: httpClient,
		logger:     logger,
		checkURL:   checkURL,
	}
}

// checkResponse は権限確認エンドポイントのレスポンス形。
type checkResponse struct {
	IsAdmin bool   `json:"isAdmin"`
	Email   string `json:"email,omitempty"`
}

// IsAdmin は権限確認エンドポイントにPOSTし、結果を返す。
// 受信リクエストのCookieを転送してセッションコンテキストを引き継ぐ。
func (c *HTTPChecker) IsAdmin(r *http.Request, subjectID string) (bool, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, c.checkURL, nil)
	if err != nil {
		return false, fmt.Errorf("権限確認リクエストの作成に失敗しました: %w", err)
	}
	if cookie := r.Header.Get("Cookie"); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("権限確認エンドポイントの呼び出しに失敗しました",
			slog.String("subject_id", subjectID),
			slog.String("error", err.Error()),
		)
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("権限確認エンドポイントがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("権限確認レスポンスの読み取りに失敗しました: %w", err)
	}

	var result checkResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return false, fmt.Errorf("権限確認レスポンスの解析に失敗しました: %w", err)
	}

	return result.IsAdmin, nil
}

// compile-time interface checks
var (
	_ PermissionChecker = (*DirectoryChecker)(nil)
	_ PermissionChecker = (*HTTPChecker)(nil)
)
