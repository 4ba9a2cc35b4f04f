package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Nassermhasser/wheelhaven/internal/identity"
	"github.com/Nassermhasser/wheelhaven/internal/middleware"
	"github.com/Nassermhasser/wheelhaven/internal/model"
)

// ProfileServiceInterface はプロフィールハンドラーが必要とするサービスインターフェース。
type ProfileServiceInterface interface {
	Get(ctx context.Context, view model.AuthView, principalID string) (*model.Profile, error)
	Update(ctx context.Context, view model.AuthView, principalID string, patch model.ProfilePatch) (*model.Profile, error)
	ListAdministrators(ctx context.Context, view model.AuthView) ([]*model.Profile, error)
	CreateAdministrator(ctx context.Context, view model.AuthView, email, password string, attrs identity.SignUpAttributes) (*model.Profile, error)
}

// ProfileHandler はプロフィールと管理者管理のHTTPハンドラー。
type ProfileHandler struct {
	service ProfileServiceInterface
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(service ProfileServiceInterface) *ProfileHandler {
	return &ProfileHandler{service: service}
}

// updateProfileRequest はプロフィール更新リクエストのボディ。省略したフィールドは変更しない。
type updateProfileRequest struct {
	FirstName       *string `json:"first_name"`
	LastName        *string `json:"last_name"`
	Phone           *string `json:"phone"`
	AvatarURL       *string `json:"avatar_url"`
	IsAdministrator *bool   `json:"is_administrator"`
}

// GetProfile はプロフィールを返す。
// GET /api/profiles/{id}
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Get(r.Context(), middleware.ViewFromContext(r.Context()), h.principalParam(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(p))
}

// UpdateProfile はプロフィールを部分更新する。
// PATCH /api/profiles/{id}
func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	patch := model.ProfilePatch{
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		Phone:           req.Phone,
		AvatarURL:       req.AvatarURL,
		IsAdministrator: req.IsAdministrator,
	}
	p, err := h.service.Update(r.Context(), middleware.ViewFromContext(r.Context()), h.principalParam(r), patch)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(p))
}

// ListAdministrators は管理者の一覧を返す。
// GET /api/admin/administrators
func (h *ProfileHandler) ListAdministrators(w http.ResponseWriter, r *http.Request) {
	admins, err := h.service.ListAdministrators(r.Context(), middleware.ViewFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]profileResponse, len(admins))
	for i, p := range admins {
		resp[i] = toProfileResponse(p)
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateAdministrator は管理者アカウントを作成する。
// POST /api/admin/administrators
func (h *ProfileHandler) CreateAdministrator(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.service.CreateAdministrator(r.Context(), middleware.ViewFromContext(r.Context()),
		req.Email, req.Password, req.attributes())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProfileResponse(p))
}

// principalParam はURLの{id}を返す。"me"は呼び出し元の認証主体IDに置き換える。
func (h *ProfileHandler) principalParam(r *http.Request) string {
	id := chi.URLParam(r, "id")
	if id == "me" {
		if principalID, ok := middleware.PrincipalIDFromContext(r.Context()); ok {
			return principalID
		}
	}
	return id
}
