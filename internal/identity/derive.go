// Package identity は認証セッションとプロフィールを突き合わせ、
// 認可判断に使うAuthViewを導出する。
//
// サーバーはリクエストごとにResolveSessionで一度だけ導出し、
// コンソールなどの長寿命クライアントはResolverで認証イベントとプロフィール取得を突き合わせる。
// 管理者かどうかの判定はこのパッケージのderiveViewだけが行う。
package identity

import (
	"context"
	"errors"

	"github.com/Nassermhasser/wheelhaven/internal/model"
)

// ProfileReader はプロフィールの取得元。
// プロフィールが存在しない場合は errors.Is(err, model.ErrProfileNotFound) を満たすエラー、
// またはnilプロフィールとnilエラーを返す。
type ProfileReader interface {
	GetProfile(ctx context.Context, principalID string) (*model.Profile, error)
}

// Outcome はAuthView導出結果の分類。メトリクスとログに使用する。
type Outcome string

const (
	OutcomeSignedOut     Outcome = "signed_out"
	OutcomeRenter        Outcome = "renter"
	OutcomeAdministrator Outcome = "administrator"
	OutcomeNoProfile     Outcome = "no_profile"
	OutcomeDegraded      Outcome = "degraded"
)

// deriveView はセッションとプロフィール取得結果から確定済みのAuthViewを導出する。
//   - セッションなし: サインアウト
//   - プロフィール未作成: サインイン済み・非管理者（エラーではない）
//   - 取得エラー: サインイン済み・非管理者・Degraded（権限は拒否側に倒す）
//   - 取得成功: 管理者フラグがtrueの場合のみ管理者
func deriveView(session *model.Session, profile *model.Profile, fetchErr error) (model.AuthView, Outcome) {
	if session == nil {
		return model.SignedOutView(), OutcomeSignedOut
	}

	view := model.AuthView{
		SignedIn:    true,
		PrincipalID: session.PrincipalID,
		Settled:     true,
	}

	switch {
	case fetchErr != nil && !errors.Is(fetchErr, model.ErrProfileNotFound):
		view.Degraded = true
		return view, OutcomeDegraded
	case fetchErr != nil || profile == nil:
		return view, OutcomeNoProfile
	case profile.IsAdministrator:
		view.IsAdministrator = true
		return view, OutcomeAdministrator
	default:
		return view, OutcomeRenter
	}
}

// ResolveSession は検証済みセッションのAuthViewを一度だけ導出する。
// サーバー側でリクエストごとに使用し、結果は常に確定済み（Settled）となる。
// プロフィール取得の失敗はDegradedなViewとして表現し、原因はログ出力用に第3戻り値で返す。
// 第3戻り値がnilでなくてもViewはそのまま認可判断に使用できる。
func ResolveSession(ctx context.Context, profiles ProfileReader, session *model.Session) (model.AuthView, Outcome, error) {
	if session == nil {
		view, outcome := deriveView(nil, nil, nil)
		return view, outcome, nil
	}

	profile, err := profiles.GetProfile(ctx, session.PrincipalID)
	view, outcome := deriveView(session, profile, err)
	if outcome == OutcomeDegraded {
		return view, outcome, err
	}
	return view, outcome, nil
}
