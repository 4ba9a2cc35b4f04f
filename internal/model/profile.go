package model

import "time"

// Profile は認証主体ごとに保存されるプロフィールを表す。
// IsAdministrator は管理者として解決済みの呼び出し元だけが変更できる。
type Profile struct {
	ID              string
	Email           string
	FirstName       string
	LastName        string
	Phone           string
	AvatarURL       string
	IsAdministrator bool
	EmailConfirmed  bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// FullName は表示用の氏名を返す。
func (p *Profile) FullName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	default:
		return p.FirstName + " " + p.LastName
	}
}

// ProfilePatch はプロフィールの部分更新を表す。nilのフィールドは変更しない。
type ProfilePatch struct {
	FirstName       *string
	LastName        *string
	Phone           *string
	AvatarURL       *string
	IsAdministrator *bool
}

// Empty は変更対象のフィールドが1つもないかを返す。
func (p ProfilePatch) Empty() bool {
	return p.FirstName == nil && p.LastName == nil && p.Phone == nil &&
		p.AvatarURL == nil && p.IsAdministrator == nil
}

// AuthView は認証セッションとプロフィールから導出される認可状態のスナップショット。
// 永続化せず、Settledがtrueの場合のみ認可判断に使用する。
type AuthView struct {
	SignedIn        bool
	PrincipalID     string
	IsAdministrator bool
	Settled         bool
	// Degraded はプロフィール取得が失敗し、管理者権限を拒否側に倒したことを示す。
	Degraded bool
}

// SignedOutView はサインアウト済みで確定した状態を返す。
func SignedOutView() AuthView {
	return AuthView{Settled: true}
}

// IsSettledAdministrator は確定済みかつ管理者であるかを返す。
func (v AuthView) IsSettledAdministrator() bool {
	return v.Settled && v.SignedIn && v.IsAdministrator
}
