package webhook

import (
	"encoding/json"

	"github.com/hitoshi/membergate/internal/model"
)

// envelope はWebhookペイロードの外側の形を表す。
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// subjectRef はsubject IDのみを運ぶイベントのペイロード。
type subjectRef struct {
	ID string `json:"id"`
}

// sessionPayload はsession.createdイベントのペイロード。
// ExpireAtはミリ秒単位のUnixタイムスタンプ。
type sessionPayload struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	ExpireAt int64  `json:"expire_at"`
}

// ParseEvent は検証済みボディを正規化イベントに変換する。
// 認識できるがこのシステムが扱わないイベントタイプは (nil, nil) を返し、
// 呼び出し側は受領応答のみ返す（IdPに再送させない）。
// JSONが不正、または必須フィールドが欠けている場合はMALFORMED_PAYLOADエラーを返す。
func ParseEvent(body []byte) (*model.LifecycleEvent, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, model.NewMalformedPayloadError(err.Error())
	}
	if env.Type == "" {
		return nil, model.NewMalformedPayloadError("missing event type")
	}

	switch model.EventType(env.Type) {
	case model.EventUserCreated, model.EventUserUpdated:
		var profile model.SubjectProfile
		if err := json.Unmarshal(env.Data, &profile); err != nil {
			return nil, model.NewMalformedPayloadError(err.Error())
		}
		if profile.ID == "" {
			return nil, model.NewMalformedPayloadError("missing subject id")
		}
		return &model.LifecycleEvent{
			Type:      model.EventType(env.Type),
			SubjectID: profile.ID,
			Profile:   &profile,
		}, nil

	case model.EventUserDeleted:
		var ref subjectRef
		if err := json.Unmarshal(env.Data, &ref); err != nil {
			return nil, model.NewMalformedPayloadError(err.Error())
		}
		if ref.ID == "" {
			return nil, model.NewMalformedPayloadError("missing subject id")
		}
		return &model.LifecycleEvent{
			Type:      model.EventUserDeleted,
			SubjectID: ref.ID,
		}, nil

	case model.EventSessionCreated:
		var session sessionPayload
		if err := json.Unmarshal(env.Data, &session); err != nil {
			return nil, model.NewMalformedPayloadError(err.Error())
		}
		if session.UserID == "" {
			return nil, model.NewMalformedPayloadError("missing subject id")
		}
		return &model.LifecycleEvent{
			Type:             model.EventSessionCreated,
			SubjectID:        session.UserID,
			SessionID:        session.ID,
			SessionExpiresAt: session.ExpireAt,
		}, nil

	default:
		// 未対応タイプ: 受領済みとして破棄する
		return nil, nil
	}
}
