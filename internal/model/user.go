// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザー（認証主体）を表す。
// パスワードハッシュはリポジトリ層の外へ持ち出さない。
type User struct {
	ID               string
	Email            string
	PasswordHash     string
	EmailConfirmedAt *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// EmailConfirmed はメールアドレスが確認済みかどうかを返す。
func (u *User) EmailConfirmed() bool {
	return u.EmailConfirmedAt != nil
}

// Session はユーザーのログインセッションを表す。
// IDはセッションインスタンスの識別子で、トークン更新では変わらない。
// Tokenは署名済みの不透明な資格情報で、サーバー側には保存しない。
type Session struct {
	ID          string
	Token       string
	PrincipalID string
	Email       string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// Expired は指定時刻においてセッションが失効しているかを返す。
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
