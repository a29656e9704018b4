// Package model はドメインモデルを定義する。
package model

import "time"

// Metadata はIdP由来のメタデータを保持するキー・バリューマップ。
// privateメタデータ → publicメタデータ → プロバイダ側タイムスタンプの順に
// マージされ、後のキーが先のキーを上書きする。
type Metadata map[string]any

// DirectoryUser はディレクトリに登録されたユーザーを表す。
// SubjectIDは外部IdPが発行する安定した識別子で、一意キーとなる。
// メールアドレスは変更されうるため一意キーにはしない。
type DirectoryUser struct {
	SubjectID    string
	Email        string
	FirstName    string
	LastName     string
	ImageURL     string
	PhoneNumber  string
	IsAdmin      bool
	LastSignInAt *time.Time
	Metadata     Metadata
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsDeleted はソフトデリート済みかどうかを返す。
// 行は物理削除されず、metadataのdeletedフラグのみで判定する。
func (u *DirectoryUser) IsDeleted() bool {
	if u.Metadata == nil {
		return false
	}
	deleted, ok := u.Metadata["deleted"].(bool)
	return ok && deleted
}

// FullName は姓名を結合した表示名を返す。
func (u *DirectoryUser) FullName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.LastName
	}
}

// Session はIdPが発行したログインセッションを表す。
// session.createdイベントで登録され、Cookie経由の呼び出し元解決に使う。
type Session struct {
	ID        string
	SubjectID string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// UserStats はディレクトリの集計結果を表す。
// Activeは過去30日以内にサインインしたユーザー数。
type UserStats struct {
	Total   int
	Admins  int
	Active  int
	Deleted int
	Recent  []*DirectoryUser
}
