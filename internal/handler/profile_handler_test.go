package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/Nassermhasser/wheelhaven/internal/identity"
	"github.com/Nassermhasser/wheelhaven/internal/middleware"
	"github.com/Nassermhasser/wheelhaven/internal/model"
)

// --- モック定義 ---

type mockProfileService struct {
	getFn                 func(ctx context.Context, view model.AuthView, principalID string) (*model.Profile, error)
	updateFn              func(ctx context.Context, view model.AuthView, principalID string, patch model.ProfilePatch) (*model.Profile, error)
	listAdministratorsFn  func(ctx context.Context, view model.AuthView) ([]*model.Profile, error)
	createAdministratorFn func(ctx context.Context, view model.AuthView, email, password string, attrs identity.SignUpAttributes) (*model.Profile, error)
}

func (m *mockProfileService) Get(ctx context.Context, view model.AuthView, principalID string) (*model.Profile, error) {
	if m.getFn != nil {
		return m.getFn(ctx, view, principalID)
	}
	return nil, model.NewProfileNotFoundError(principalID)
}

func (m *mockProfileService) Update(ctx context.Context, view model.AuthView, principalID string, patch model.ProfilePatch) (*model.Profile, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, view, principalID, patch)
	}
	return nil, model.NewProfileNotFoundError(principalID)
}

func (m *mockProfileService) ListAdministrators(ctx context.Context, view model.AuthView) ([]*model.Profile, error) {
	if m.listAdministratorsFn != nil {
		return m.listAdministratorsFn(ctx, view)
	}
	return []*model.Profile{}, nil
}

func (m *mockProfileService) CreateAdministrator(ctx context.Context, view model.AuthView, email, password string, attrs identity.SignUpAttributes) (*model.Profile, error) {
	if m.createAdministratorFn != nil {
		return m.createAdministratorFn(ctx, view, email, password, attrs)
	}
	return nil, nil
}

var _ ProfileServiceInterface = (*mockProfileService)(nil)

func newProfileRouter(svc ProfileServiceInterface, view model.AuthView) http.Handler {
	h := NewProfileHandler(svc)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.ContextWithView(r.Context(), view, nil)))
		})
	})
	r.Get("/api/profiles/{id}", h.GetProfile)
	r.Patch("/api/profiles/{id}", h.UpdateProfile)
	r.Get("/api/admin/administrators", h.ListAdministrators)
	r.Post("/api/admin/administrators", h.CreateAdministrator)
	return r
}

// --- テスト ---

func TestProfileHandler_GetProfile_MeAlias(t *testing.T) {
	var gotID string
	svc := &mockProfileService{
		getFn: func(ctx context.Context, view model.AuthView, principalID string) (*model.Profile, error) {
			gotID = principalID
			return &model.Profile{ID: principalID, Email: "renter@example.com", FirstName: "Jane"}, nil
		},
	}

	w := httptest.NewRecorder()
	newProfileRouter(svc, renterView).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/profiles/me", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotID != "renter-1" {
		t.Errorf("principalID = %q, want %q", gotID, "renter-1")
	}

	var got profileResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if got.ID != "renter-1" || got.FirstName != "Jane" {
		t.Errorf("profile = %+v", got)
	}
}

func TestProfileHandler_GetProfile_OtherPrincipal_Forbidden(t *testing.T) {
	svc := &mockProfileService{
		getFn: func(ctx context.Context, view model.AuthView, principalID string) (*model.Profile, error) {
			if principalID != "someone-else" {
				t.Errorf("principalID = %q", principalID)
			}
			return nil, model.NewForbiddenError("not your profile")
		},
	}

	w := httptest.NewRecorder()
	newProfileRouter(svc, renterView).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/profiles/someone-else", nil))

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestProfileHandler_UpdateProfile_PartialPatch(t *testing.T) {
	var gotPatch model.ProfilePatch
	svc := &mockProfileService{
		updateFn: func(ctx context.Context, view model.AuthView, principalID string, patch model.ProfilePatch) (*model.Profile, error) {
			gotPatch = patch
			return &model.Profile{ID: principalID, Phone: *patch.Phone}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPatch, "/api/profiles/me", strings.NewReader(`{"phone":"555-0199"}`))
	w := httptest.NewRecorder()
	newProfileRouter(svc, renterView).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotPatch.Phone == nil || *gotPatch.Phone != "555-0199" {
		t.Errorf("Phone = %v", gotPatch.Phone)
	}
	if gotPatch.FirstName != nil || gotPatch.IsAdministrator != nil {
		t.Errorf("省略したフィールドはnilのはず: %+v", gotPatch)
	}
}

func TestProfileHandler_UpdateProfile_AdministratorFlagForwarded(t *testing.T) {
	svc := &mockProfileService{
		updateFn: func(ctx context.Context, view model.AuthView, principalID string, patch model.ProfilePatch) (*model.Profile, error) {
			if patch.IsAdministrator == nil || !*patch.IsAdministrator {
				t.Errorf("IsAdministrator = %v", patch.IsAdministrator)
			}
			if !view.IsAdministrator {
				return nil, model.NewForbiddenError("only administrators can change administrator status")
			}
			return &model.Profile{ID: principalID, IsAdministrator: true}, nil
		},
	}

	body := `{"is_administrator":true}`

	w := httptest.NewRecorder()
	newProfileRouter(svc, renterView).ServeHTTP(w, httptest.NewRequest(http.MethodPatch, "/api/profiles/me", strings.NewReader(body)))
	if w.Code != http.StatusForbidden {
		t.Errorf("利用者: status = %d, want %d", w.Code, http.StatusForbidden)
	}

	w = httptest.NewRecorder()
	newProfileRouter(svc, adminView).ServeHTTP(w, httptest.NewRequest(http.MethodPatch, "/api/profiles/renter-1", strings.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Errorf("管理者: status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestProfileHandler_ListAdministrators(t *testing.T) {
	svc := &mockProfileService{
		listAdministratorsFn: func(ctx context.Context, view model.AuthView) ([]*model.Profile, error) {
			return []*model.Profile{{ID: "admin-1", IsAdministrator: true}}, nil
		},
	}

	w := httptest.NewRecorder()
	newProfileRouter(svc, adminView).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/admin/administrators", nil))

	var got []profileResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(got) != 1 || !got[0].IsAdministrator {
		t.Errorf("administrators = %+v", got)
	}
}

func TestProfileHandler_CreateAdministrator(t *testing.T) {
	var gotEmail string
	svc := &mockProfileService{
		createAdministratorFn: func(ctx context.Context, view model.AuthView, email, password string, attrs identity.SignUpAttributes) (*model.Profile, error) {
			gotEmail = email
			return &model.Profile{ID: "admin-2", Email: email, FirstName: attrs.FirstName, IsAdministrator: true}, nil
		},
	}

	body := `{"email":"ops@example.com","password":"long-enough","first_name":"Ops"}`
	w := httptest.NewRecorder()
	newProfileRouter(svc, adminView).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/admin/administrators", strings.NewReader(body)))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if gotEmail != "ops@example.com" {
		t.Errorf("email = %q", gotEmail)
	}
}
