package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Nassermhasser/wheelhaven/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, email, password_hash, email_confirmed_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	user := &model.User{}
	var confirmedAt sql.NullTime
	if err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &confirmedAt, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}
	if confirmedAt.Valid {
		t := confirmedAt.Time
		user.EmailConfirmedAt = &t
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if !validID(id) {
		return nil, nil
	}

	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// CreateWithProfile はユーザーとプロフィールを同一トランザクションで作成する。
// プロフィールの管理者フラグは常にfalseで作成する。
func (r *PostgresUserRepo) CreateWithProfile(ctx context.Context, user *model.User, profile *model.Profile) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// ユーザーを作成
	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, email_confirmed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, user.Email, user.PasswordHash, user.EmailConfirmedAt, user.CreatedAt, user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	// プロフィールを作成
	_, err = tx.ExecContext(ctx,
		`INSERT INTO profiles (id, first_name, last_name, phone, avatar_url, is_admin, email_confirmed, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, false, $6, $7, $8)`,
		profile.ID, profile.FirstName, profile.LastName, profile.Phone, profile.AvatarURL,
		user.EmailConfirmedAt != nil, profile.CreatedAt, profile.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ConfirmEmail はメールアドレスを確認済みにする。既に確認済みの場合は確認日時を変更しない。
func (r *PostgresUserRepo) ConfirmEmail(ctx context.Context, id string, at time.Time) error {
	if !validID(id) {
		return fmt.Errorf("user not found: %s", id)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE users SET email_confirmed_at = COALESCE(email_confirmed_at, $2), updated_at = $2
		 WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("failed to confirm email: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", id)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE profiles SET email_confirmed = true, updated_at = $2 WHERE id = $1`,
		id, at,
	); err != nil {
		return fmt.Errorf("failed to update profile confirmation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
