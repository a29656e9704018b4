package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/membergate/internal/model"
)

// PostgresDirectoryRepo はPostgreSQLを使用したディレクトリユーザーリポジトリ。
type PostgresDirectoryRepo struct {
	db *sql.DB
}

// NewPostgresDirectoryRepo はPostgresDirectoryRepoを生成する。
func NewPostgresDirectoryRepo(db *sql.DB) *PostgresDirectoryRepo {
	return &PostgresDirectoryRepo{db: db}
}

const directoryUserColumns = `subject_id, email, first_name, last_name, image_url,
	 phone_number, is_admin, last_sign_in_at, metadata, created_at, updated_at`

// FindBySubjectID は指定subject IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresDirectoryRepo) FindBySubjectID(ctx context.Context, subjectID string) (*model.DirectoryUser, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+directoryUserColumns+` FROM directory_users WHERE subject_id = $1`,
		subjectID,
	)

	user, err := scanDirectoryUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find directory user: %w", err)
	}

	return user, nil
}

// Insert はユーザーを新規作成する。
// 同一subject_idの行が既に存在する場合（配信重複）は何もせずnilを返す。
func (r *PostgresDirectoryRepo) Insert(ctx context.Context, user *model.DirectoryUser) error {
	metadata, err := marshalMetadata(user.Metadata)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO directory_users
		 (subject_id, email, first_name, last_name, image_url,
		  phone_number, is_admin, last_sign_in_at, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (subject_id) DO NOTHING`,
		user.SubjectID, user.Email, user.FirstName, user.LastName, user.ImageURL,
		user.PhoneNumber, user.IsAdmin, user.LastSignInAt, metadata, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert directory user: %w", err)
	}

	return nil
}

// Update はsubject_idをキーにプロフィールとメタデータを更新する。
// is_adminはIdPイベントに含まれないため変更しない。
// 行が存在しない場合（遅延・重複配信）は何もせずnilを返す。
func (r *PostgresDirectoryRepo) Update(ctx context.Context, user *model.DirectoryUser) error {
	metadata, err := marshalMetadata(user.Metadata)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE directory_users
		 SET email = $2, first_name = $3, last_name = $4, image_url = $5,
		     phone_number = $6, metadata = $7, updated_at = $8
		 WHERE subject_id = $1`,
		user.SubjectID, user.Email, user.FirstName, user.LastName, user.ImageURL,
		user.PhoneNumber, metadata, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update directory user: %w", err)
	}

	return nil
}

// Upsert はsubject_idをキーにアトミックなINSERT ON CONFLICT UPDATEを実行し、
// 反映後の行を返す。upsertを2往復で実装すると並行時に行が重複しうるため、
// 必ず単一文で実行する。
func (r *PostgresDirectoryRepo) Upsert(ctx context.Context, user *model.DirectoryUser) (*model.DirectoryUser, error) {
	metadata, err := marshalMetadata(user.Metadata)
	if err != nil {
		return nil, err
	}

	row := r.db.QueryRowContext(ctx,
		`INSERT INTO directory_users
		 (subject_id, email, first_name, last_name, image_url,
		  phone_number, is_admin, last_sign_in_at, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (subject_id) DO UPDATE
		 SET email = EXCLUDED.email,
		     first_name = EXCLUDED.first_name,
		     last_name = EXCLUDED.last_name,
		     image_url = EXCLUDED.image_url,
		     phone_number = EXCLUDED.phone_number,
		     last_sign_in_at = EXCLUDED.last_sign_in_at,
		     metadata = EXCLUDED.metadata,
		     updated_at = EXCLUDED.updated_at
		 RETURNING `+directoryUserColumns,
		user.SubjectID, user.Email, user.FirstName, user.LastName, user.ImageURL,
		user.PhoneNumber, user.IsAdmin, user.LastSignInAt, metadata, user.CreatedAt, user.UpdatedAt,
	)

	result, err := scanDirectoryUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert directory user: %w", err)
	}

	return result, nil
}

// TouchSignIn はlast_sign_in_atのみを更新する。行が存在しない場合は何もしない。
func (r *PostgresDirectoryRepo) TouchSignIn(ctx context.Context, subjectID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE directory_users
		 SET last_sign_in_at = $2, updated_at = $2
		 WHERE subject_id = $1`,
		subjectID, at,
	)
	if err != nil {
		return fmt.Errorf("failed to touch sign-in timestamp: %w", err)
	}

	return nil
}

// MarkDeleted はmetadataにソフトデリートフラグと削除日時を設定する。
// 行の物理削除は行わない。行が存在しない場合は何もしない。
func (r *PostgresDirectoryRepo) MarkDeleted(ctx context.Context, subjectID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE directory_users
		 SET metadata = metadata || jsonb_build_object('deleted', true, 'deleted_at', $2::text),
		     updated_at = $3
		 WHERE subject_id = $1`,
		subjectID, at.UTC().Format(time.RFC3339), at,
	)
	if err != nil {
		return fmt.Errorf("failed to mark directory user deleted: %w", err)
	}

	return nil
}

// Stats はユーザー総数、管理者数、30日以内のアクティブ数、
// ソフトデリート数、直近作成10件を返す。
func (r *PostgresDirectoryRepo) Stats(ctx context.Context) (*model.UserStats, error) {
	stats := &model.UserStats{}

	err := r.db.QueryRowContext(ctx,
		`SELECT count(*),
		        count(*) FILTER (WHERE is_admin),
		        count(*) FILTER (WHERE last_sign_in_at > now() - interval '30 days'),
		        count(*) FILTER (WHERE metadata @> '{"deleted": true}'::jsonb)
		 FROM directory_users`,
	).Scan(&stats.Total, &stats.Admins, &stats.Active, &stats.Deleted)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate user stats: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+directoryUserColumns+`
		 FROM directory_users
		 ORDER BY created_at DESC
		 LIMIT 10`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		user, err := scanDirectoryUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recent user: %w", err)
		}
		stats.Recent = append(stats.Recent, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recent users: %w", err)
	}

	return stats, nil
}

// rowScanner はsql.Rowとsql.Rowsを共通に扱うためのインターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDirectoryUser は1行分のディレクトリユーザーをスキャンする。
func scanDirectoryUser(row rowScanner) (*model.DirectoryUser, error) {
	user := &model.DirectoryUser{}
	var metadata []byte

	err := row.Scan(
		&user.SubjectID, &user.Email, &user.FirstName, &user.LastName, &user.ImageURL,
		&user.PhoneNumber, &user.IsAdmin, &user.LastSignInAt, &metadata, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &user.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return user, nil
}

// marshalMetadata はメタデータマップをJSONB格納用にシリアライズする。
// nilマップは空オブジェクトとして格納する。
func marshalMetadata(m model.Metadata) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return data, nil
}

// compile-time interface check
var _ DirectoryRepository = (*PostgresDirectoryRepo)(nil)
