// Package model はドメインモデルを定義する。
package model

// EventType はIdPライフサイクルイベントの種別を表す。
type EventType string

const (
	// EventUserCreated はユーザー作成イベント。
	EventUserCreated EventType = "user.created"
	// EventUserUpdated はユーザー更新イベント。
	EventUserUpdated EventType = "user.updated"
	// EventUserDeleted はユーザー削除イベント。
	EventUserDeleted EventType = "user.deleted"
	// EventSessionCreated はサインイン（セッション作成）イベント。
	EventSessionCreated EventType = "session.created"
)

// EmailAddress はIdPプロフィール内のメールアドレスエントリを表す。
type EmailAddress struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

// PhoneNumber はIdPプロフィール内の電話番号エントリを表す。
type PhoneNumber struct {
	ID          string `json:"id"`
	PhoneNumber string `json:"phone_number"`
}

// SubjectProfile はuser.created / user.updatedイベントおよび
// IdPプロフィールAPIが返すユーザープロフィールのスナップショット。
type SubjectProfile struct {
	ID                    string          `json:"id"`
	EmailAddresses        []EmailAddress  `json:"email_addresses"`
	PrimaryEmailAddressID string          `json:"primary_email_address_id"`
	PhoneNumbers          []PhoneNumber   `json:"phone_numbers"`
	PrimaryPhoneNumberID  string          `json:"primary_phone_number_id"`
	FirstName             string          `json:"first_name"`
	LastName              string          `json:"last_name"`
	ImageURL              string          `json:"image_url"`
	PublicMetadata        map[string]any  `json:"public_metadata"`
	PrivateMetadata       map[string]any  `json:"private_metadata"`
	CreatedAt             int64           `json:"created_at"`
	UpdatedAt             int64           `json:"updated_at"`
}

// LifecycleEvent は検証済みWebhook配信から生成される正規化イベント。
// 永続化されず、DirectoryUserの変更を駆動するためだけに存在する。
type LifecycleEvent struct {
	Type      EventType
	SubjectID string
	// Profile はcreated/updatedイベントのみ設定される。
	Profile *SubjectProfile
	// SessionID / SessionExpiresAt はsession.createdイベントのみ設定される。
	SessionID        string
	SessionExpiresAt int64
}
