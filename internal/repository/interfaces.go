// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Nassermhasser/wheelhaven/internal/model"
)

// ErrDuplicate は一意制約違反を表す。
var ErrDuplicate = errors.New("duplicate key")

// UserRepository は認証主体（ユーザーと資格情報）の永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを取得する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// CreateWithProfile はユーザーと空のプロフィールを同一トランザクションで作成する。
	// メールアドレスが登録済みの場合はErrDuplicateを返す。
	CreateWithProfile(ctx context.Context, user *model.User, profile *model.Profile) error

	// ConfirmEmail はメールアドレスを確認済みにする。
	// usersとprofilesの確認状態を同一トランザクションで更新する。
	ConfirmEmail(ctx context.Context, id string, at time.Time) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// Extend はセッションの有効期限を延長する。
	Extend(ctx context.Context, id string, expiresAt time.Time) error
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// ProfileRepository はプロフィールの永続化インターフェース。
type ProfileRepository interface {
	// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Profile, error)

	// EnsureExists はプロフィールが存在しない場合に空のプロフィールを作成する。
	EnsureExists(ctx context.Context, id string, now time.Time) error

	// Update はパッチのnilでないフィールドを更新し、更新後のプロフィールを返す。
	// 見つからない場合はnilを返す。
	Update(ctx context.Context, id string, patch model.ProfilePatch, now time.Time) (*model.Profile, error)

	// ListAdministrators は管理者フラグが立っているプロフィールを作成日時の昇順で返す。
	ListAdministrators(ctx context.Context) ([]*model.Profile, error)

	// GrantFirstAdministrator は管理者が1人も存在しない場合に限り、指定IDを管理者にする。
	// 付与した場合はtrueを返す。
	GrantFirstAdministrator(ctx context.Context, id string, now time.Time) (bool, error)
}

// CarRepository は車両カタログの読み取り専用インターフェース。
type CarRepository interface {
	// FindByID は指定IDの車両を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Car, error)

	// List はフィルタ条件に一致する車両を、注目車両を先頭にブランド・車名順で返す。
	List(ctx context.Context, filter model.CarFilter) ([]*model.Car, error)
}

// StatusChangeFunc は行ロック中の予約に対してステータス変更を適用する関数。
// 引数の予約を書き換え、記録する監査イベントを返す。エラーを返すと変更は破棄される。
type StatusChangeFunc func(b *model.Booking) (*model.BookingStatusEvent, error)

// BookingRepository は予約データの永続化インターフェース。
type BookingRepository interface {
	// Create は予約を作成する。
	Create(ctx context.Context, booking *model.Booking) error

	// FindByID は指定IDの予約を車両名付きで取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Booking, error)

	// ListAll は全予約を作成日時の降順で車両名付きで返す。
	ListAll(ctx context.Context) ([]*model.Booking, error)

	// ListByRenter は指定利用者の予約を作成日時の降順で返す。
	ListByRenter(ctx context.Context, renterID string) ([]*model.Booking, error)

	// UpdateStatus は予約を行ロックした状態でapplyを呼び出し、
	// 変更後のステータスと監査イベントを同一トランザクションで保存する。
	// 見つからない場合はapplyを呼ばずにnilを返す。
	UpdateStatus(ctx context.Context, id string, apply StatusChangeFunc) (*model.Booking, error)

	// ListStatusEvents は予約のステータス変更履歴を古い順に返す。
	ListStatusEvents(ctx context.Context, bookingID string) ([]*model.BookingStatusEvent, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
