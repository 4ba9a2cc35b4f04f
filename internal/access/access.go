// Package access は確定済みのAuthViewに基づく画面・操作の入場判定を提供する。
// 未確定のViewでは判定を行わず、常にPendingを返す。
package access

import "github.com/Nassermhasser/wheelhaven/internal/model"

// Outcome は入場判定の結果。
type Outcome int

const (
	// Allow は入場を許可する。
	Allow Outcome = iota
	// Pending は認可状態の確定待ち。読み込み中として扱う。
	Pending
	// Redirect は入場を拒否し、RedirectToへ誘導する。
	Redirect
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case Pending:
		return "pending"
	case Redirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// 誘導先
const (
	SignInPath = "/auth?mode=login"
	HomePath   = "/"
)

// ReasonInsufficientPrivilege はサインイン済みだが管理者でない場合の理由。
const ReasonInsufficientPrivilege = "insufficient privilege"

// ReasonSignInRequired はサインインしていない場合の理由。
const ReasonSignInRequired = "sign in required"

// Decision は入場判定の結果と誘導先を表す。
type Decision struct {
	Outcome    Outcome
	RedirectTo string
	Reason     string
}

// RequireSignedIn はサインイン済みであることを要求する。
func RequireSignedIn(view model.AuthView) Decision {
	if !view.Settled {
		return Decision{Outcome: Pending}
	}
	if !view.SignedIn {
		return Decision{Outcome: Redirect, RedirectTo: SignInPath, Reason: ReasonSignInRequired}
	}
	return Decision{Outcome: Allow}
}

// RequireAdministrator は管理者であることを要求する。
// サインインしていない場合はサインイン画面へ、管理者でない場合はトップへ誘導する。
func RequireAdministrator(view model.AuthView) Decision {
	if d := RequireSignedIn(view); d.Outcome != Allow {
		return d
	}
	if !view.IsAdministrator {
		return Decision{Outcome: Redirect, RedirectTo: HomePath, Reason: ReasonInsufficientPrivilege}
	}
	return Decision{Outcome: Allow}
}

// Err は判定結果を対応するAPIErrorに変換する。許可の場合はnilを返す。
func (d Decision) Err() error {
	switch {
	case d.Outcome == Allow:
		return nil
	case d.Outcome == Pending:
		return model.NewAuthPendingError()
	case d.Reason == ReasonInsufficientPrivilege:
		return model.NewForbiddenError("administrator privileges are required")
	default:
		return model.NewUnauthenticatedError()
	}
}
