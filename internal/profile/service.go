// Package profile はプロフィールの参照・更新と管理者の付与を提供する。
package profile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Nassermhasser/wheelhaven/internal/access"
	"github.com/Nassermhasser/wheelhaven/internal/auth"
	"github.com/Nassermhasser/wheelhaven/internal/identity"
	"github.com/Nassermhasser/wheelhaven/internal/model"
	"github.com/Nassermhasser/wheelhaven/internal/repository"
	"github.com/Nassermhasser/wheelhaven/internal/security"
)

// SignUpper は管理者作成時のアカウント登録インターフェース。auth.Serviceが満たす。
type SignUpper interface {
	SignUp(ctx context.Context, email, password string, attrs identity.SignUpAttributes) (*auth.SignUpResult, error)
}

// UserFinder はメールアドレスによるユーザー検索インターフェース。
type UserFinder interface {
	FindByEmail(ctx context.Context, email string) (*model.User, error)
}

// Service はプロフィール管理のサービス層。
type Service struct {
	profiles  repository.ProfileRepository
	users     UserFinder
	signUp    SignUpper
	sanitizer security.TextSanitizer
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	profiles repository.ProfileRepository,
	users UserFinder,
	signUp SignUpper,
	sanitizer security.TextSanitizer,
) *Service {
	return &Service{
		profiles:  profiles,
		users:     users,
		signUp:    signUp,
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// GetProfile はプロフィールを取得する。identity.ProfileReaderを満たす。
// 存在しない場合はmodel.ErrProfileNotFoundを包んだエラーを返す。
func (s *Service) GetProfile(ctx context.Context, principalID string) (*model.Profile, error) {
	p, err := s.profiles.FindByID(ctx, principalID)
	if err != nil {
		return nil, model.NewUnavailableError(fmt.Errorf("failed to find profile: %w", err))
	}
	if p == nil {
		return nil, model.NewProfileNotFoundError(principalID)
	}
	return p, nil
}

// Get は本人または管理者としてプロフィールを取得する。
func (s *Service) Get(ctx context.Context, view model.AuthView, principalID string) (*model.Profile, error) {
	if err := requireSelfOrAdministrator(view, principalID); err != nil {
		return nil, err
	}
	return s.GetProfile(ctx, principalID)
}

// Update はプロフィールを部分更新する。
// 管理者フラグの変更は、確定済みの管理者である呼び出し元にのみ許可する。
func (s *Service) Update(ctx context.Context, view model.AuthView, principalID string, patch model.ProfilePatch) (*model.Profile, error) {
	// 1. 権限確認
	if err := requireSelfOrAdministrator(view, principalID); err != nil {
		return nil, err
	}
	if patch.IsAdministrator != nil && !view.IsSettledAdministrator() {
		return nil, model.NewForbiddenError("only administrators can change administrator privileges")
	}

	// 2. 入力のサニタイズ
	patch, err := s.sanitizePatch(patch)
	if err != nil {
		return nil, err
	}
	if patch.Empty() {
		return s.GetProfile(ctx, principalID)
	}

	// 3. 更新
	updated, err := s.profiles.Update(ctx, principalID, patch, s.now())
	if err != nil {
		return nil, model.NewUnavailableError(fmt.Errorf("failed to update profile: %w", err))
	}
	if updated == nil {
		return nil, model.NewProfileNotFoundError(principalID)
	}

	if patch.IsAdministrator != nil {
		slog.Info("administrator privilege changed",
			slog.String("principal_id", principalID),
			slog.Bool("is_administrator", *patch.IsAdministrator),
			slog.String("actor_id", view.PrincipalID),
		)
	}
	return updated, nil
}

// ListAdministrators は管理者の一覧を返す。管理者のみ。
func (s *Service) ListAdministrators(ctx context.Context, view model.AuthView) ([]*model.Profile, error) {
	if err := access.RequireAdministrator(view).Err(); err != nil {
		return nil, err
	}
	admins, err := s.profiles.ListAdministrators(ctx)
	if err != nil {
		return nil, model.NewUnavailableError(fmt.Errorf("failed to list administrators: %w", err))
	}
	if admins == nil {
		admins = []*model.Profile{}
	}
	return admins, nil
}

// CreateAdministrator は新しいアカウントを登録し、管理者にする。管理者のみ。
// 登録後の付与に失敗した場合、アカウントは一般利用者として残る。
// 再実行はメールアドレス重複で失敗するため、残ったアカウントのIDをエラーログに出力し、
// 管理者フラグの更新で復旧できるようにする。
func (s *Service) CreateAdministrator(ctx context.Context, view model.AuthView, email, password string, attrs identity.SignUpAttributes) (*model.Profile, error) {
	if err := access.RequireAdministrator(view).Err(); err != nil {
		return nil, err
	}

	res, err := s.signUp.SignUp(ctx, email, password, attrs)
	if err != nil {
		return nil, err
	}

	grant := true
	p, err := s.Update(ctx, view, res.User.ID, model.ProfilePatch{IsAdministrator: &grant})
	if err != nil {
		slog.Error("administrator grant failed after sign-up; account left without administrator privilege",
			slog.String("principal_id", res.User.ID),
			slog.String("actor_id", view.PrincipalID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return p, nil
}

// BootstrapAdministrator は管理者が1人もいない場合に限り、指定ユーザーを管理者にする。
// 運用コマンドから使用し、以後の管理者付与は既存の管理者が行う。
func (s *Service) BootstrapAdministrator(ctx context.Context, email string) (*model.Profile, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, model.NewUnavailableError(fmt.Errorf("failed to find user: %w", err))
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	now := s.now()
	if err := s.profiles.EnsureExists(ctx, user.ID, now); err != nil {
		return nil, model.NewUnavailableError(fmt.Errorf("failed to ensure profile: %w", err))
	}
	granted, err := s.profiles.GrantFirstAdministrator(ctx, user.ID, now)
	if err != nil {
		return nil, model.NewUnavailableError(fmt.Errorf("failed to grant administrator: %w", err))
	}
	if !granted {
		return nil, model.NewAdministratorExistsError()
	}

	slog.Info("first administrator granted", slog.String("principal_id", user.ID))
	return s.GetProfile(ctx, user.ID)
}

// sanitizePatch は表示用テキストからタグを除去し、アバターURLを検証する。
func (s *Service) sanitizePatch(patch model.ProfilePatch) (model.ProfilePatch, error) {
	clean := func(p *string) *string {
		if p == nil {
			return nil
		}
		v := s.sanitizer.SanitizeText(*p)
		return &v
	}
	patch.FirstName = clean(patch.FirstName)
	patch.LastName = clean(patch.LastName)
	patch.Phone = clean(patch.Phone)

	if patch.AvatarURL != nil && *patch.AvatarURL != "" {
		u := s.sanitizer.SanitizeURL(*patch.AvatarURL)
		if u == "" {
			return patch, model.NewValidationError("avatar URL must be an https URL")
		}
		patch.AvatarURL = &u
	}
	return patch, nil
}

func requireSelfOrAdministrator(view model.AuthView, principalID string) error {
	if err := access.RequireSignedIn(view).Err(); err != nil {
		return err
	}
	if view.PrincipalID != principalID && !view.IsAdministrator {
		return model.NewForbiddenError("you can only access your own profile")
	}
	return nil
}

// compile-time interface check
var _ identity.ProfileReader = (*Service)(nil)
