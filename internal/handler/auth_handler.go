// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"net/http"

	"github.com/Nassermhasser/wheelhaven/internal/identity"
	"github.com/Nassermhasser/wheelhaven/internal/middleware"
	"github.com/Nassermhasser/wheelhaven/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	// SignUp はアカウントを作成する。メールアドレス確認が必要な場合はnilセッションを返す。
	SignUp(ctx context.Context, email, password string, attrs identity.SignUpAttributes) (*model.Session, error)
	SignIn(ctx context.Context, email, password string) (*model.Session, error)
	SignOut(ctx context.Context, sessionID string) error
	Refresh(ctx context.Context, token string) (*model.Session, error)
	ConfirmEmail(ctx context.Context, token string) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL       string
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// credentialsRequest はサインイン・サインアップリクエストのボディ。
type credentialsRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

func (c credentialsRequest) attributes() identity.SignUpAttributes {
	return identity.SignUpAttributes{
		FirstName: c.FirstName,
		LastName:  c.LastName,
		Phone:     c.Phone,
	}
}

// signUpResponse はサインアップのAPIレスポンス。
type signUpResponse struct {
	ConfirmationRequired bool             `json:"confirmation_required"`
	Session              *sessionResponse `json:"session,omitempty"`
}

// SignUp はアカウントを作成する。
// POST /auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := h.service.SignUp(r.Context(), req.Email, req.Password, req.attributes())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	// メールアドレス確認待ち
	if session == nil {
		writeJSON(w, http.StatusAccepted, signUpResponse{ConfirmationRequired: true})
		return
	}

	h.setSessionCookie(w, session.Token)
	resp := toSessionResponse(session)
	writeJSON(w, http.StatusCreated, signUpResponse{Session: &resp})
}

// SignIn はメールアドレスとパスワードで認証し、セッションCookieを設定する。
// POST /auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := h.service.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.setSessionCookie(w, session.Token)
	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

// SignOut はセッションを破棄する。
// POST /auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if session := middleware.SessionFromContext(r.Context()); session != nil {
		if err := h.service.SignOut(r.Context(), session.ID); err != nil {
			// 破棄に失敗してもCookieはクリアする
			h.clearSessionCookie(w)
			handleServiceError(w, r, err)
			return
		}
	}

	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// Refresh はセッションの期限を延長し、新しいトークンを発行する。
// POST /auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	current := middleware.SessionFromContext(r.Context())
	if current == nil {
		handleServiceError(w, r, model.NewUnauthenticatedError())
		return
	}

	session, err := h.service.Refresh(r.Context(), current.Token)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.setSessionCookie(w, session.Token)
	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

// Session は現在のセッションを返す。サインインしていない場合は401を返す。
// GET /auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFromContext(r.Context())
	if session == nil {
		handleServiceError(w, r, model.NewUnauthenticatedError())
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

// Confirm はメールアドレス確認トークンを検証する。
// GET /auth/confirm?token=xxx
func (h *AuthHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		handleServiceError(w, r, model.NewInvalidTokenError())
		return
	}

	if err := h.service.ConfirmEmail(r.Context(), token); err != nil {
		handleServiceError(w, r, err)
		return
	}

	http.Redirect(w, r, h.config.BaseURL+"/auth?mode=login&confirmed=1", http.StatusSeeOther)
}

// Me は呼び出し元の確定済みAuthViewを返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toViewResponse(middleware.ViewFromContext(r.Context())))
}

// setSessionCookie はセッショントークンをHTTP Only Cookieに設定する。
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    token,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookie はセッションCookieを削除する。
func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
