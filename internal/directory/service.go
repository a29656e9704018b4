// Package directory はユーザーディレクトリ同期のドメインロジックを提供する。
// 正規化済みライフサイクルイベントと、Webhook外のオンデマンド同期を
// 冪等なストア変更に変換する。
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/membergate/internal/model"
	"github.com/hitoshi/membergate/internal/repository"
)

// ProfileResolver はWebhook配信とは独立に呼び出し元のプロフィールを取得する
// インターフェース。idp.Clientが実装する。
type ProfileResolver interface {
	GetSubjectProfile(ctx context.Context, subjectID string) (*model.SubjectProfile, error)
}

// Service はディレクトリ同期のサービス層。
type Service struct {
	repo        repository.DirectoryRepository
	sessionRepo repository.SessionRepository
	profiles    ProfileResolver
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repo repository.DirectoryRepository,
	sessionRepo repository.SessionRepository,
	profiles ProfileResolver,
) *Service {
	return &Service{
		repo:        repo,
		sessionRepo: sessionRepo,
		profiles:    profiles,
		now:         time.Now,
	}
}

// Apply は正規化イベントを種別に応じたストア変更に変換する。
// ストアエラーは呼び出し元に伝播し、Webhookエンドポイントが500に変換して
// IdPの再配信を促す。
func (s *Service) Apply(ctx context.Context, event *model.LifecycleEvent) error {
	switch event.Type {
	case model.EventUserCreated:
		return s.ApplyCreated(ctx, event.Profile)
	case model.EventUserUpdated:
		return s.ApplyUpdated(ctx, event.Profile)
	case model.EventUserDeleted:
		return s.ApplyDeleted(ctx, event.SubjectID)
	case model.EventSessionCreated:
		return s.applySessionCreated(ctx, event)
	default:
		return fmt.Errorf("unsupported event type: %s", event.Type)
	}
}

// ApplyCreated はuser.createdイベントを新規行の挿入に変換する。
// 同一subjectの行が既に存在する場合（配信重複）は適用済みとして成功する。
// プライマリメールが解決できない場合はエラーで中断し、行を挿入しない。
func (s *Service) ApplyCreated(ctx context.Context, profile *model.SubjectProfile) error {
	user, err := s.buildUser(profile)
	if err != nil {
		return err
	}

	if err := s.repo.Insert(ctx, user); err != nil {
		return fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	slog.Info("directory user created",
		slog.String("subject_id", user.SubjectID),
	)
	return nil
}

// ApplyUpdated はuser.updatedイベントをsubject_idキーの更新に変換する。
// 行が存在しない場合（遅延・重複配信）はエラーにせず何もしない。
func (s *Service) ApplyUpdated(ctx context.Context, profile *model.SubjectProfile) error {
	user, err := s.buildUser(profile)
	if err != nil {
		return err
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return fmt.Errorf("ユーザーの更新に失敗しました: %w", err)
	}

	slog.Info("directory user updated",
		slog.String("subject_id", user.SubjectID),
	)
	return nil
}

// ApplySignedIn はlast_sign_in_atのみを現在時刻に更新する。
// 行が存在しない場合は何もしない。
func (s *Service) ApplySignedIn(ctx context.Context, subjectID string) error {
	if err := s.repo.TouchSignIn(ctx, subjectID, s.now()); err != nil {
		return fmt.Errorf("サインイン日時の更新に失敗しました: %w", err)
	}
	return nil
}

// ApplyDeleted はソフトデリートフラグを設定し、subjectの全セッションを失効させる。
// 行の物理削除は決して行わない。行が存在しない場合は何もしない。
func (s *Service) ApplyDeleted(ctx context.Context, subjectID string) error {
	if err := s.repo.MarkDeleted(ctx, subjectID, s.now()); err != nil {
		return fmt.Errorf("ユーザーの削除マークに失敗しました: %w", err)
	}

	if s.sessionRepo != nil {
		if err := s.sessionRepo.DeleteBySubjectID(ctx, subjectID); err != nil {
			return fmt.Errorf("セッションの失効に失敗しました: %w", err)
		}
	}

	slog.Info("directory user soft-deleted",
		slog.String("subject_id", subjectID),
	)
	return nil
}

// applySessionCreated はセッション行を登録し、サインイン日時を更新する。
func (s *Service) applySessionCreated(ctx context.Context, event *model.LifecycleEvent) error {
	if s.sessionRepo != nil && event.SessionID != "" && event.SessionExpiresAt > 0 {
		session := &model.Session{
			ID:        event.SessionID,
			SubjectID: event.SubjectID,
			ExpiresAt: time.UnixMilli(event.SessionExpiresAt),
			CreatedAt: s.now(),
		}
		if err := s.sessionRepo.Create(ctx, session); err != nil {
			return fmt.Errorf("セッションの登録に失敗しました: %w", err)
		}
	}

	return s.ApplySignedIn(ctx, event.SubjectID)
}

// SyncCaller は呼び出し元ユーザーのオンデマンド同期を実行する。
// IdPから現在のプロフィールを取得し、subject_idキーのアトミックupsertで反映する。
// 副作用としてlast_sign_in_atを常に現在時刻に更新する。
// 同一subjectへの並行呼び出しはストアの一意性制約により行が重複しない。
func (s *Service) SyncCaller(ctx context.Context, subjectID string) (*model.DirectoryUser, error) {
	profile, err := s.profiles.GetSubjectProfile(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}

	user, err := s.buildUser(profile)
	if err != nil {
		return nil, err
	}

	signedInAt := s.now()
	user.LastSignInAt = &signedInAt

	result, err := s.repo.Upsert(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("ユーザーのupsertに失敗しました: %w", err)
	}

	return result, nil
}

// Stats はディレクトリの集計を返す。読み取り専用。
func (s *Service) Stats(ctx context.Context) (*model.UserStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("ユーザー統計の取得に失敗しました: %w", err)
	}
	return stats, nil
}

// buildUser はIdPプロフィールをDirectoryUserに変換する。
// プライマリメールIDに一致するエントリがない場合はMISSING_PRIMARY_EMAILエラー。
// 電話番号は任意のため、未解決でもエラーにしない。
func (s *Service) buildUser(profile *model.SubjectProfile) (*model.DirectoryUser, error) {
	email, ok := resolvePrimaryEmail(profile)
	if !ok {
		return nil, model.NewMissingPrimaryEmailError(profile.ID)
	}

	now := s.now()
	return &model.DirectoryUser{
		SubjectID:   profile.ID,
		Email:       email,
		FirstName:   profile.FirstName,
		LastName:    profile.LastName,
		ImageURL:    profile.ImageURL,
		PhoneNumber: resolvePrimaryPhone(profile),
		Metadata:    mergeMetadata(profile),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// resolvePrimaryEmail はプライマリメールIDに一致するアドレスを小文字で返す。
func resolvePrimaryEmail(profile *model.SubjectProfile) (string, bool) {
	for _, e := range profile.EmailAddresses {
		if e.ID != "" && e.ID == profile.PrimaryEmailAddressID && e.EmailAddress != "" {
			return strings.ToLower(e.EmailAddress), true
		}
	}
	return "", false
}

// resolvePrimaryPhone はプライマリ電話番号IDに一致する番号を返す。なければ空。
func resolvePrimaryPhone(profile *model.SubjectProfile) string {
	for _, p := range profile.PhoneNumbers {
		if p.ID != "" && p.ID == profile.PrimaryPhoneNumberID {
			return p.PhoneNumber
		}
	}
	return ""
}

// mergeMetadata はIdPメタデータをマージする。
// 優先順位: privateメタデータ → publicメタデータ → プロバイダ側タイムスタンプ。
// 後のキーが先のキーを上書きする。
func mergeMetadata(profile *model.SubjectProfile) model.Metadata {
	merged := model.Metadata{}
	for k, v := range profile.PrivateMetadata {
		merged[k] = v
	}
	for k, v := range profile.PublicMetadata {
		merged[k] = v
	}
	if profile.CreatedAt > 0 {
		merged["provider_created_at"] = profile.CreatedAt
	}
	if profile.UpdatedAt > 0 {
		merged["provider_updated_at"] = profile.UpdatedAt
	}
	return merged
}
