package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/membergate/internal/metrics"
	"github.com/hitoshi/membergate/internal/model"
	"github.com/hitoshi/membergate/internal/webhook"
)

// プロバイダー標準のWebhook署名ヘッダー。
const (
	webhookIDHeader        = "svix-id"
	webhookTimestampHeader = "svix-timestamp"
	webhookSignatureHeader = "svix-signature"
)

// LifecycleApplier はWebhookハンドラーが必要とするサービスインターフェース。
type LifecycleApplier interface {
	// Apply はライフサイクルイベントをディレクトリに反映する。
	Apply(ctx context.Context, event *model.LifecycleEvent) error
}

// WebhookHandler はIdentityプロバイダーWebhookのHTTPハンドラー。
// 署名検証 → イベント解析 → ディレクトリ反映の順に処理する。
type WebhookHandler struct {
	verifier  *webhook.Verifier
	applier   LifecycleApplier
	collector metrics.MetricsCollector
	logger    *slog.Logger
}

// NewWebhookHandler はWebhookHandlerを生成する。
// verifierがnilの場合（署名シークレット未設定）はすべての配信を500で落とす。
// 再配信はプロバイダーの責務であり、自動リトライは行わない。
func NewWebhookHandler(verifier *webhook.Verifier, applier LifecycleApplier, collector metrics.MetricsCollector, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		verifier:  verifier,
		applier:   applier,
		collector: collector,
		logger:    logger,
	}
}

// webhookAckResponse はWebhook受理のレスポンス。
type webhookAckResponse struct {
	Received bool   `json:"received"`
	Handled  bool   `json:"handled"`
	Type     string `json:"type,omitempty"`
}

// Handle はWebhook配信を処理する。
// POST /api/webhooks/identity
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.verifier == nil {
		h.collector.RecordWebhookEvent("unknown", "config_missing")
		h.logger.Error("webhook signing secret is not configured")
		writeAPIErrorResponse(w, http.StatusInternalServerError, model.NewSigningSecretMissingError())
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.collector.RecordWebhookEvent("unknown", "body_read_error")
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewMalformedPayloadError("リクエストボディを読み取れません"))
		return
	}

	id := r.Header.Get(webhookIDHeader)
	timestamp := r.Header.Get(webhookTimestampHeader)
	signature := r.Header.Get(webhookSignatureHeader)

	if err := h.verifier.Verify(body, id, timestamp, signature); err != nil {
		h.collector.RecordWebhookEvent("unknown", "verification_failed")
		h.logger.Warn("webhook verification failed",
			slog.String("event_id", id),
			slog.String("error", err.Error()),
		)
		h.writeVerificationError(w, err)
		return
	}

	event, err := webhook.ParseEvent(body)
	if err != nil {
		h.collector.RecordWebhookEvent("unknown", "malformed_payload")
		h.logger.Warn("webhook payload is malformed",
			slog.String("event_id", id),
			slog.String("error", err.Error()),
		)
		handleServiceError(w, err)
		return
	}

	// 認識しているが処理対象外のイベント型は200で受理する
	if event == nil {
		h.collector.RecordWebhookEvent("unhandled", "acknowledged")
		writeJSONResponse(w, http.StatusOK, webhookAckResponse{Received: true, Handled: false})
		return
	}

	if err := h.applier.Apply(r.Context(), event); err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeMissingPrimaryEmail {
			// プライマリメール未解決は行を作らず500で返し、プロバイダーに再配信させる
			h.collector.RecordWebhookEvent(string(event.Type), "missing_primary_email")
			h.logger.Error("primary email could not be resolved",
				slog.String("event_id", id),
				slog.String("event_type", string(event.Type)),
				slog.String("subject_id", event.SubjectID),
			)
			writeAPIErrorResponse(w, http.StatusInternalServerError, apiErr)
			return
		}

		h.collector.RecordWebhookEvent(string(event.Type), "store_error")
		h.logger.Error("failed to apply lifecycle event",
			slog.String("event_id", id),
			slog.String("event_type", string(event.Type)),
			slog.String("subject_id", event.SubjectID),
			slog.String("error", err.Error()),
		)
		writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
			Code:     "STORE_ERROR",
			Message:  "ディレクトリへの反映に失敗しました。",
			Category: "directory",
			Action:   "プロバイダーの再配信をお待ちください。",
		})
		return
	}

	h.collector.RecordWebhookEvent(string(event.Type), "ok")
	h.logger.Info("lifecycle event applied",
		slog.String("event_id", id),
		slog.String("event_type", string(event.Type)),
		slog.String("subject_id", event.SubjectID),
	)
	writeJSONResponse(w, http.StatusOK, webhookAckResponse{
		Received: true,
		Handled:  true,
		Type:     string(event.Type),
	})
}

// writeVerificationError は署名検証エラーを400で書き込む。
// 検証失敗の種別（ヘッダー欠落・署名不一致・タイムスタンプ範囲外）はAPIErrorに載る。
func (h *WebhookHandler) writeVerificationError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	writeAPIErrorResponse(w, http.StatusBadRequest, model.NewSignatureInvalidError())
}
