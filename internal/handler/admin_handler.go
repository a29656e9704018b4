package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/membergate/internal/metrics"
	"github.com/hitoshi/membergate/internal/middleware"
	"github.com/hitoshi/membergate/internal/model"
)

// AdminPermissionService は管理者ハンドラーが必要とする権限確認インターフェース。
type AdminPermissionService interface {
	// IsAdmin は呼び出し元が管理者かどうかを判定する。
	IsAdmin(r *http.Request, subjectID string) (bool, error)
	// ResolveEmail はsubjectのメールアドレスを返す。行がなければ空文字。
	ResolveEmail(ctx context.Context, subjectID string) (string, error)
}

// StatsProvider はディレクトリ統計の取得インターフェース。
type StatsProvider interface {
	Stats(ctx context.Context) (*model.UserStats, error)
}

// AdminHandler は管理者権限確認と管理者向けAPIのHTTPハンドラー。
type AdminHandler struct {
	permissions AdminPermissionService
	stats       StatsProvider
	collector   metrics.MetricsCollector
	now         func() time.Time
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(permissions AdminPermissionService, stats StatsProvider, collector metrics.MetricsCollector) *AdminHandler {
	return &AdminHandler{
		permissions: permissions,
		stats:       stats,
		collector:   collector,
		now:         time.Now,
	}
}

// checkAdminResponse は権限確認エンドポイントのレスポンス。
type checkAdminResponse struct {
	IsAdmin   bool   `json:"isAdmin"`
	Email     string `json:"email"`
	UserID    string `json:"userId"`
	Timestamp string `json:"timestamp"`
}

// CheckAdmin は呼び出し元の管理者権限を確認して返す。
// POST /api/check-admin
func (h *AdminHandler) CheckAdmin(w http.ResponseWriter, r *http.Request) {
	subjectID, err := middleware.SubjectIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	isAdmin, err := h.permissions.IsAdmin(r, subjectID)
	if err != nil {
		h.collector.RecordAdminCheck("check_failed")
		writeAPIErrorResponse(w, http.StatusInternalServerError, model.NewAdminCheckFailedError(err.Error()))
		return
	}

	email, err := h.permissions.ResolveEmail(r.Context(), subjectID)
	if err != nil {
		h.collector.RecordAdminCheck("check_failed")
		writeAPIErrorResponse(w, http.StatusInternalServerError, model.NewAdminCheckFailedError(err.Error()))
		return
	}
	// ディレクトリ行がなくメールを解決できない呼び出し元には400を返す
	if email == "" {
		h.collector.RecordAdminCheck("no_email")
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewMissingPrimaryEmailError(subjectID))
		return
	}

	if isAdmin {
		h.collector.RecordAdminCheck("granted")
	} else {
		h.collector.RecordAdminCheck("denied")
	}

	writeJSONResponse(w, http.StatusOK, checkAdminResponse{
		IsAdmin:   isAdmin,
		Email:     email,
		UserID:    subjectID,
		Timestamp: h.now().UTC().Format(time.RFC3339),
	})
}

// recentUserResponse は統計レスポンス内の直近登録ユーザー。
type recentUserResponse struct {
	SubjectID string    `json:"subject_id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

// userStatsResponse はディレクトリ統計のレスポンス。
type userStatsResponse struct {
	Total   int                  `json:"total"`
	Admins  int                  `json:"admins"`
	Active  int                  `json:"active"`
	Deleted int                  `json:"deleted"`
	Recent  []recentUserResponse `json:"recent"`
}

// UserStats はディレクトリ統計を返す。
// GET /api/admin/user-stats
// ゲートが管理者ルートを守っているが、ハンドラー側でも権限を再確認する。
func (h *AdminHandler) UserStats(w http.ResponseWriter, r *http.Request) {
	subjectID, err := middleware.SubjectIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	isAdmin, err := h.permissions.IsAdmin(r, subjectID)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusInternalServerError, model.NewAdminCheckFailedError(err.Error()))
		return
	}
	if !isAdmin {
		email, _ := h.permissions.ResolveEmail(r.Context(), subjectID)
		writeAPIErrorResponse(w, http.StatusForbidden, model.NewAdminAccessDeniedError(email))
		return
	}

	stats, err := h.stats.Stats(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	recent := make([]recentUserResponse, len(stats.Recent))
	for i, u := range stats.Recent {
		recent[i] = recentUserResponse{
			SubjectID: u.SubjectID,
			Email:     u.Email,
			FullName:  u.FullName(),
			IsAdmin:   u.IsAdmin,
			CreatedAt: u.CreatedAt,
		}
	}

	writeJSONResponse(w, http.StatusOK, userStatsResponse{
		Total:   stats.Total,
		Admins:  stats.Admins,
		Active:  stats.Active,
		Deleted: stats.Deleted,
		Recent:  recent,
	})
}
