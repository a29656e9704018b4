// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, webhook, directory, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeAdminAccessDenied    = "ADMIN_ACCESS_DENIED"
	ErrCodeAdminCheckFailed     = "ADMIN_CHECK_FAILED"
	ErrCodeMissingPrimaryEmail  = "MISSING_PRIMARY_EMAIL"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeMissingSignatureHdrs = "MISSING_SIGNATURE_HEADERS"
	ErrCodeSignatureInvalid     = "SIGNATURE_INVALID"
	ErrCodeTimestampOutOfRange  = "TIMESTAMP_OUT_OF_RANGE"
	ErrCodeMalformedPayload     = "MALFORMED_PAYLOAD"
	ErrCodeSigningSecretMissing = "SIGNING_SECRET_MISSING"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewAdminAccessDeniedError は管理者権限なしエラーを生成する。
func NewAdminAccessDeniedError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeAdminAccessDenied,
		Message:  fmt.Sprintf("管理者権限がありません: %s", email),
		Category: "auth",
		Action:   "管理者アカウントでログインしてください。",
	}
}

// NewAdminCheckFailedError は権限確認呼び出し自体が失敗した場合のエラーを生成する。
// 権限なしとは区別してログに記録する必要がある。
func NewAdminCheckFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeAdminCheckFailed,
		Message:  fmt.Sprintf("管理者権限の確認に失敗しました: %s", reason),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewMissingPrimaryEmailError はプライマリメール未解決エラーを生成する。
// 作成・更新イベントはこのエラーで中断し、行を挿入してはならない。
func NewMissingPrimaryEmailError(subjectID string) *APIError {
	return &APIError{
		Code:     ErrCodeMissingPrimaryEmail,
		Message:  fmt.Sprintf("プライマリメールアドレスを解決できません: %s", subjectID),
		Category: "directory",
		Action:   "IdP側のユーザープロフィールを確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewMissingSignatureHeadersError は署名ヘッダー欠落エラーを生成する。
func NewMissingSignatureHeadersError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingSignatureHdrs,
		Message:  "Webhook署名ヘッダーが不足しています。",
		Category: "webhook",
		Action:   "IdPのWebhook設定を確認してください。",
	}
}

// NewSignatureInvalidError は署名不一致エラーを生成する。
func NewSignatureInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeSignatureInvalid,
		Message:  "Webhook署名の検証に失敗しました。",
		Category: "webhook",
		Action:   "署名シークレットがIdP側と一致しているか確認してください。",
	}
}

// NewTimestampOutOfRangeError はタイムスタンプ許容範囲外エラーを生成する。
func NewTimestampOutOfRangeError() *APIError {
	return &APIError{
		Code:     ErrCodeTimestampOutOfRange,
		Message:  "Webhookタイムスタンプが許容範囲外です。",
		Category: "webhook",
		Action:   "サーバーの時刻設定を確認してください。",
	}
}

// NewMalformedPayloadError はペイロード解析失敗エラーを生成する。
func NewMalformedPayloadError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeMalformedPayload,
		Message:  fmt.Sprintf("Webhookペイロードを解析できません: %s", reason),
		Category: "webhook",
		Action:   "配信されたイベントの形式を確認してください。",
	}
}

// NewSigningSecretMissingError は署名シークレット未設定エラーを生成する。
// 設定不備はフェイルクローズとし、イベントは破棄する（再配信はIdP側の責務）。
func NewSigningSecretMissingError() *APIError {
	return &APIError{
		Code:     ErrCodeSigningSecretMissing,
		Message:  "Webhook署名シークレットが設定されていません。",
		Category: "system",
		Action:   "WEBHOOK_SIGNING_SECRET環境変数を設定してください。",
	}
}
