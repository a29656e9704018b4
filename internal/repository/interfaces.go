// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/membergate/internal/model"
)

// DirectoryRepository はディレクトリユーザーの永続化インターフェース。
type DirectoryRepository interface {
	// FindBySubjectID は指定subject IDのユーザーを取得する。見つからない場合はnilを返す。
	FindBySubjectID(ctx context.Context, subjectID string) (*model.DirectoryUser, error)

	// Insert はユーザーを新規作成する。
	// 同一subject_idの行が既に存在する場合（配信重複）は何もせずnilを返す。
	// 一意性はストアの制約で担保し、アプリ側のロックは使わない。
	Insert(ctx context.Context, user *model.DirectoryUser) error

	// Update はsubject_idをキーにプロフィールとメタデータを更新する。
	// 行が存在しない場合（遅延・重複配信）は何もせずnilを返す。
	Update(ctx context.Context, user *model.DirectoryUser) error

	// Upsert はsubject_idをキーにアトミックなINSERT ON CONFLICT UPDATEを実行し、
	// 反映後の行を返す。同一subjectへの並行呼び出しでも行が重複しない。
	Upsert(ctx context.Context, user *model.DirectoryUser) (*model.DirectoryUser, error)

	// TouchSignIn はlast_sign_in_atのみを更新する。行が存在しない場合は何もしない。
	TouchSignIn(ctx context.Context, subjectID string, at time.Time) error

	// MarkDeleted はmetadataにソフトデリートフラグと削除日時を設定する。
	// 行の物理削除は行わない。行が存在しない場合は何もしない。
	MarkDeleted(ctx context.Context, subjectID string, at time.Time) error

	// Stats はユーザー総数、管理者数、30日以内のアクティブ数、
	// ソフトデリート数、直近作成10件を返す。読み取り専用。
	Stats(ctx context.Context) (*model.UserStats, error)
}

// SessionRepository はIdP発行セッションの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを登録する。同一IDが既に存在する場合は何もしない。
	Create(ctx context.Context, session *model.Session) error

	// FindByID は指定IDのセッションを取得する。期限切れ・未登録の場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)

	// DeleteBySubjectID は指定subjectの全セッションを削除する。
	// user.deletedイベントでの失効に使う。
	DeleteBySubjectID(ctx context.Context, subjectID string) error

	// DeleteExpired は期限切れセッションを削除し、削除行数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}
