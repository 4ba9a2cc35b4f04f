package handler

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/Nassermhasser/wheelhaven/internal/auth"
	"github.com/Nassermhasser/wheelhaven/internal/identity"
	"github.com/Nassermhasser/wheelhaven/internal/model"
)

// AuthServiceAdapter は auth.Service を AuthServiceInterface に適合させるアダプタ。
// 確認トークンはHTTPレスポンスに含めず、確認用リンクとしてログに出力する。
type AuthServiceAdapter struct {
	svc     *auth.Service
	baseURL string
	logger  *slog.Logger
}

// NewAuthServiceAdapter はAuthServiceAdapterを生成する。
func NewAuthServiceAdapter(svc *auth.Service, baseURL string, logger *slog.Logger) *AuthServiceAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthServiceAdapter{svc: svc, baseURL: baseURL, logger: logger}
}

// SignUp はアカウントを作成し、確認が不要な場合はセッションを返す。
func (a *AuthServiceAdapter) SignUp(ctx context.Context, email, password string, attrs identity.SignUpAttributes) (*model.Session, error) {
	result, err := a.svc.SignUp(ctx, email, password, attrs)
	if err != nil {
		return nil, err
	}
	if result.ConfirmationToken != "" {
		a.logger.Info("メールアドレス確認リンクを発行しました",
			slog.String("user_id", result.User.ID),
			slog.String("confirm_url", a.confirmURL(result.ConfirmationToken)),
		)
	}
	return result.Session, nil
}

// SignIn はメールアドレスとパスワードで認証する。
func (a *AuthServiceAdapter) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	return a.svc.SignIn(ctx, email, password)
}

// SignOut はセッションを破棄する。
func (a *AuthServiceAdapter) SignOut(ctx context.Context, sessionID string) error {
	return a.svc.SignOut(ctx, sessionID)
}

// Refresh はセッショントークンを再発行する。
func (a *AuthServiceAdapter) Refresh(ctx context.Context, token string) (*model.Session, error) {
	return a.svc.Refresh(ctx, token)
}

// ConfirmEmail はメールアドレスを確認済みにする。
func (a *AuthServiceAdapter) ConfirmEmail(ctx context.Context, token string) error {
	return a.svc.ConfirmEmail(ctx, token)
}

func (a *AuthServiceAdapter) confirmURL(token string) string {
	return a.baseURL + "/auth/confirm?token=" + url.QueryEscape(token)
}

var _ AuthServiceInterface = (*AuthServiceAdapter)(nil)
