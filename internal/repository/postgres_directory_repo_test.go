package repository

import (
	"testing"

	"github.com/hitoshi/membergate/internal/model"
)

// PostgresDirectoryRepoはDirectoryRepositoryインターフェースを満たすことを検証
func TestPostgresDirectoryRepo_ImplementsInterface(t *testing.T) {
	var _ DirectoryRepository = (*PostgresDirectoryRepo)(nil)
}

// PostgresSessionRepoはSessionRepositoryインターフェースを満たすことを検証
func TestPostgresSessionRepo_ImplementsInterface(t *testing.T) {
	var _ SessionRepository = (*PostgresSessionRepo)(nil)
}

// NewPostgresDirectoryRepoが正しく初期化されることを検証
func TestNewPostgresDirectoryRepo_Initializes(t *testing.T) {
	repo := NewPostgresDirectoryRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// NewPostgresSessionRepoが正しく初期化されることを検証
func TestNewPostgresSessionRepo_Initializes(t *testing.T) {
	repo := NewPostgresSessionRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// ユニットテスト: marshalMetadataのシリアライズ動作
// （DB接続なしでロジックのみ検証）
func TestMarshalMetadata_NilMapBecomesEmptyObject(t *testing.T) {
	data, err := marshalMetadata(nil)
	if err != nil {
		t.Fatalf("marshalMetadata returned error: %v", err)
	}
	if string(data) != "{}" {
		t.Errorf("marshalMetadata(nil) = %s, want {}", data)
	}
}

func TestMarshalMetadata_SerializesKeys(t *testing.T) {
	data, err := marshalMetadata(model.Metadata{"deleted": true})
	if err != nil {
		t.Fatalf("marshalMetadata returned error: %v", err)
	}
	if string(data) != `{"deleted":true}` {
		t.Errorf("marshalMetadata = %s, want %s", data, `{"deleted":true}`)
	}
}
