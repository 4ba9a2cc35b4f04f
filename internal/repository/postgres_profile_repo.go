package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Nassermhasser/wheelhaven/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

const profileSelect = `SELECT p.id, u.email, p.first_name, p.last_name, p.phone, p.avatar_url,
		p.is_admin, p.email_confirmed, p.created_at, p.updated_at
	FROM profiles p
	JOIN users u ON u.id = p.id`

func scanProfile(row interface{ Scan(...any) error }) (*model.Profile, error) {
	p := &model.Profile{}
	err := row.Scan(&p.ID, &p.Email, &p.FirstName, &p.LastName, &p.Phone, &p.AvatarURL,
		&p.IsAdministrator, &p.EmailConfirmed, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	if !validID(id) {
		return nil, nil
	}

	p, err := scanProfile(r.db.QueryRowContext(ctx, profileSelect+` WHERE p.id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}
	return p, nil
}

// EnsureExists はプロフィールが存在しない場合に空のプロフィールを作成する。
// メール確認状態はusersテーブルから引き継ぐ。
func (r *PostgresProfileRepo) EnsureExists(ctx context.Context, id string, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (id, email_confirmed, created_at, updated_at)
		 SELECT u.id, u.email_confirmed_at IS NOT NULL, $2, $2 FROM users u WHERE u.id = $1
		 ON CONFLICT (id) DO NOTHING`,
		id, now,
	)
	if err != nil {
		return fmt.Errorf("failed to ensure profile: %w", err)
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

// Update はパッチのnilでないフィールドを更新し、更新後のプロフィールを返す。
// 見つからない場合はnilを返す。
func (r *PostgresProfileRepo) Update(ctx context.Context, id string, patch model.ProfilePatch, now time.Time) (*model.Profile, error) {
	if !validID(id) {
		return nil, nil
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE profiles SET
			first_name = COALESCE($2, first_name),
			last_name  = COALESCE($3, last_name),
			phone      = COALESCE($4, phone),
			avatar_url = COALESCE($5, avatar_url),
			is_admin   = COALESCE($6, is_admin),
			updated_at = $7
		 WHERE id = $1`,
		id,
		nullString(patch.FirstName),
		nullString(patch.LastName),
		nullString(patch.Phone),
		nullString(patch.AvatarURL),
		nullBool(patch.IsAdministrator),
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, nil
	}

	return r.FindByID(ctx, id)
}

// ListAdministrators は管理者のプロフィールを作成日時の昇順で返す。
func (r *PostgresProfileRepo) ListAdministrators(ctx context.Context) ([]*model.Profile, error) {
	rows, err := r.db.QueryContext(ctx, profileSelect+` WHERE p.is_admin ORDER BY p.created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list administrators: %w", err)
	}
	defer rows.Close()

	var profiles []*model.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate profiles: %w", err)
	}
	return profiles, nil
}

// GrantFirstAdministrator は管理者が存在しない場合に限り指定IDを管理者にする。
// 判定と更新を1文で行い、同時実行でも管理者は1人しか作られない。
func (r *PostgresProfileRepo) GrantFirstAdministrator(ctx context.Context, id string, now time.Time) (bool, error) {
	if !validID(id) {
		return false, nil
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE profiles SET is_admin = true, updated_at = $2
		 WHERE id = $1 AND NOT EXISTS (SELECT 1 FROM profiles WHERE is_admin)`,
		id, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to grant administrator: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return rowsAffected == 1, nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
