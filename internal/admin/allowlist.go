// Package admin はスーパー管理者の許可リストと権限確認を提供する。
package admin

import "strings"

// AllowList はスーパー管理者メールアドレスの静的な集合。
// 起動時に設定から注入され、実行時には変更されない。
// DirectoryUserのis_adminフラグとは独立に昇格権限を与える。
type AllowList struct {
	emails map[string]struct{}
}

// NewAllowList はAllowListを生成する。各エントリは小文字に正規化される。
func NewAllowList(emails []string) *AllowList {
	normalized := make(map[string]struct{}, len(emails))
	for _, e := range emails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			normalized[e] = struct{}{}
		}
	}
	return &AllowList{emails: normalized}
}

// Contains はメールアドレスが許可リストに含まれるかを判定する。
// 大文字小文字を区別しない完全一致。部分一致やドメイン一致は認めない。
func (a *AllowList) Contains(email string) bool {
	if email == "" {
		return false
	}
	_, ok := a.emails[strings.ToLower(email)]
	return ok
}

// Size は許可リストのエントリ数を返す。起動時ログ用。
func (a *AllowList) Size() int {
	return len(a.emails)
}
