package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/membergate/internal/metrics"
	"github.com/hitoshi/membergate/internal/model"
)

type mockSyncService struct {
	syncFn func(ctx context.Context, subjectID string) (*model.DirectoryUser, error)
}

func (m *mockSyncService) SyncCaller(ctx context.Context, subjectID string) (*model.DirectoryUser, error) {
	return m.syncFn(ctx, subjectID)
}

func TestSync_Success(t *testing.T) {
	service := &mockSyncService{
		syncFn: func(ctx context.Context, subjectID string) (*model.DirectoryUser, error) {
			return &model.DirectoryUser{
				SubjectID: subjectID,
				Email:     "taro@example.com",
				FirstName: "Taro",
				LastName:  "Yamada",
				IsAdmin:   false,
			}, nil
		},
	}
	h := NewSyncHandler(service, metrics.Noop{}, slog.Default())

	rec := httptest.NewRecorder()
	h.Sync(rec, authenticatedRequest(http.MethodPost, "/api/sync-user", "usr_1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp syncResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Success {
		t.Error("success = false, want true")
	}
	if resp.User == nil || resp.User.ID != "usr_1" || resp.User.Email != "taro@example.com" {
		t.Errorf("user = %+v, want usr_1/taro@example.com", resp.User)
	}
	if resp.User.FullName != "Taro Yamada" {
		t.Errorf("full name = %q, want Taro Yamada", resp.User.FullName)
	}
}

// ストア障害は呼び出し元のエラーにしない。HTTP 200のソフト失敗で返す。
func TestSync_StoreFailureIsSoft(t *testing.T) {
	service := &mockSyncService{
		syncFn: func(ctx context.Context, subjectID string) (*model.DirectoryUser, error) {
			return nil, errors.New("connection refused")
		},
	}
	h := NewSyncHandler(service, metrics.Noop{}, slog.Default())

	rec := httptest.NewRecorder()
	h.Sync(rec, authenticatedRequest(http.MethodPost, "/api/sync-user", "usr_1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (soft failure)", rec.Code)
	}

	var resp syncResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Success {
		t.Error("success = true, want false")
	}
	if resp.Error == "" {
		t.Error("expected error message in soft failure response")
	}
	if resp.User != nil {
		t.Error("user must be omitted on failure")
	}
}

func TestSync_Unauthenticated(t *testing.T) {
	service := &mockSyncService{
		syncFn: func(ctx context.Context, subjectID string) (*model.DirectoryUser, error) {
			t.Error("sync must not run for unauthenticated callers")
			return nil, nil
		},
	}
	h := NewSyncHandler(service, metrics.Noop{}, slog.Default())

	rec := httptest.NewRecorder()
	h.Sync(rec, httptest.NewRequest(http.MethodPost, "/api/sync-user", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
