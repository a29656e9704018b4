package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/membergate/internal/metrics"
	"github.com/hitoshi/membergate/internal/middleware"
	"github.com/hitoshi/membergate/internal/model"
)

// CallerSyncService は同期ハンドラーが必要とするサービスインターフェース。
type CallerSyncService interface {
	// SyncCaller は呼び出し元のプロファイルをプロバイダーから取得し
	// ディレクトリにアップサートする。
	SyncCaller(ctx context.Context, subjectID string) (*model.DirectoryUser, error)
}

// SyncHandler は呼び出し元レコード同期のHTTPハンドラー。
type SyncHandler struct {
	service   CallerSyncService
	collector metrics.MetricsCollector
	logger    *slog.Logger
}

// NewSyncHandler はSyncHandlerを生成する。
func NewSyncHandler(service CallerSyncService, collector metrics.MetricsCollector, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{
		service:   service,
		collector: collector,
		logger:    logger,
	}
}

// syncedUserResponse は同期結果に含めるユーザー情報。
type syncedUserResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	IsAdmin  bool   `json:"is_admin"`
}

// syncResponse は同期エンドポイントのレスポンス。
// 失敗してもHTTP 200で返し、successフラグとメッセージで結果を伝える。
type syncResponse struct {
	Success bool                `json:"success"`
	User    *syncedUserResponse `json:"user,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// Sync は呼び出し元レコードの同期を実行する。
// POST /api/sync-user
// 同期はベストエフォートであり、ストア障害を呼び出し元のエラーとして
// 扱わない。未認証のみ401で拒否する。
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	subjectID, err := middleware.SubjectIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	user, err := h.service.SyncCaller(r.Context(), subjectID)
	if err != nil {
		h.collector.RecordSyncOutcome("request_failure")
		h.logger.Warn("caller sync failed",
			slog.String("subject_id", subjectID),
			slog.String("error", err.Error()),
		)
		writeJSONResponse(w, http.StatusOK, syncResponse{
			Success: false,
			Error:   "同期に失敗しました。次回アクセス時に再試行されます。",
		})
		return
	}

	h.collector.RecordSyncOutcome("request_success")
	writeJSONResponse(w, http.StatusOK, syncResponse{
		Success: true,
		User: &syncedUserResponse{
			ID:       user.SubjectID,
			Email:    user.Email,
			FullName: user.FullName(),
			IsAdmin:  user.IsAdmin,
		},
	})
}
