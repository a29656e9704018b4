// Package idp は外部IdPのバックエンドAPIクライアントを提供する。
// Webhook配信とは独立に、呼び出し元ユーザーのプロフィールを取得するために使う。
package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/membergate/internal/model"
)

// Client はIdPバックエンドAPIのクライアント。
// シークレットキーによるBearer認証でユーザープロフィールを取得する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string // テスト用にエンドポイントを差し替え可能
	secretKey  string
}

// NewClient はClientの新しいインスタンスを生成する。
// baseURLはIdP APIのベースURL（例: "https://api.clerk.com/v1"）。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL, secretKey string) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
		secretKey:  secretKey,
	}
}

// GetSubjectProfile は指定subjectの現在のプロフィールを取得する。
// 取得失敗はエラーとして返し、呼び出し元がソフトフェイルを判断する。
func (c *Client) GetSubjectProfile(ctx context.Context, subjectID string) (*model.SubjectProfile, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("subject IDが空です")
	}

	reqURL := fmt.Sprintf("%s/users/%s", c.baseURL, subjectID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("IdPプロフィールAPIの呼び出しに失敗しました",
			slog.String("subject_id", subjectID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("IdPプロフィールAPIがエラーステータスを返しました",
			slog.String("subject_id", subjectID),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("IdPプロフィールAPIがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var profile model.SubjectProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("プロフィールの解析に失敗しました: %w", err)
	}
	if profile.ID == "" {
		return nil, fmt.Errorf("プロフィールにsubject IDが含まれていません")
	}

	return &profile, nil
}
