// Package auth はパスワード認証、セッショントークンの発行と検証、メールアドレス確認を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/Nassermhasser/wheelhaven/internal/identity"
	"github.com/Nassermhasser/wheelhaven/internal/model"
	"github.com/Nassermhasser/wheelhaven/internal/repository"
	"github.com/Nassermhasser/wheelhaven/internal/security"
)

// トークンの用途
const (
	purposeSession      = "session"
	purposeConfirmEmail = "confirm_email"
)

// confirmationTTL はメールアドレス確認トークンの有効期間。
const confirmationTTL = 24 * time.Hour

// DefaultMinPasswordLength はパスワードの最小文字数の既定値。
const DefaultMinPasswordLength = 8

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	Secret                   string // トークン署名用のHMAC鍵
	SessionMaxAge            int    // セッション有効期間（秒）
	RequireEmailConfirmation bool   // trueの場合、確認前のサインインを拒否する
	MinPasswordLength        int
}

// SignUpResult はサインアップの結果。
// メールアドレス確認が必要な場合、Sessionはnilで、ConfirmationTokenに確認用トークンが入る。
type SignUpResult struct {
	User              *model.User
	Session           *model.Session
	ConfirmationToken string
}

// tokenClaims はセッショントークンと確認トークンのクレーム。
type tokenClaims struct {
	SessionID string `json:"sid,omitempty"`
	Email     string `json:"email"`
	Purpose   string `json:"purpose"`
	jwt.RegisteredClaims
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	users     repository.UserRepository
	profiles  repository.ProfileRepository
	sessions  repository.SessionRepository
	sanitizer security.TextSanitizer
	config    ServiceConfig
	secret    []byte
	cost      int
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	users repository.UserRepository,
	profiles repository.ProfileRepository,
	sessions repository.SessionRepository,
	sanitizer security.TextSanitizer,
	config ServiceConfig,
) *Service {
	if config.MinPasswordLength <= 0 {
		config.MinPasswordLength = DefaultMinPasswordLength
	}
	return &Service{
		users:     users,
		profiles:  profiles,
		sessions:  sessions,
		sanitizer: sanitizer,
		config:    config,
		secret:    []byte(config.Secret),
		cost:      bcrypt.DefaultCost,
		now:       time.Now,
	}
}

// SignUp はユーザーと空のプロフィールを作成する。
// 属性に管理者フラグは含まれず、新規ユーザーは常に一般利用者となる。
// メールアドレス確認が不要な設定では、そのままセッションを発行する。
func (s *Service) SignUp(ctx context.Context, email, password string, attrs identity.SignUpAttributes) (*SignUpResult, error) {
	// 1. 入力検証
	email = strings.TrimSpace(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, model.NewValidationError("please enter a valid email address")
	}
	if len(password) < s.config.MinPasswordLength {
		return nil, model.NewWeakPasswordError(s.config.MinPasswordLength)
	}

	// 2. パスワードのハッシュ化
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, model.NewInternalError(fmt.Errorf("failed to hash password: %w", err))
	}

	// 3. ユーザーとプロフィールを同時に作成
	now := s.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if !s.config.RequireEmailConfirmation {
		user.EmailConfirmedAt = &now
	}
	profile := &model.Profile{
		ID:             user.ID,
		Email:          email,
		FirstName:      s.sanitizer.SanitizeText(attrs.FirstName),
		LastName:       s.sanitizer.SanitizeText(attrs.LastName),
		Phone:          s.sanitizer.SanitizeText(attrs.Phone),
		EmailConfirmed: user.EmailConfirmed(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.users.CreateWithProfile(ctx, user, profile); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewEmailTakenError()
		}
		return nil, model.NewUnavailableError(fmt.Errorf("failed to create user: %w", err))
	}

	slog.Info("user signed up",
		slog.String("user_id", user.ID),
		slog.Bool("confirmation_required", s.config.RequireEmailConfirmation),
	)

	// 4a. 確認が必要な場合は確認トークンのみ発行する
	if s.config.RequireEmailConfirmation {
		token, err := s.signToken(tokenClaims{
			Email:   user.Email,
			Purpose: purposeConfirmEmail,
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   user.ID,
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(confirmationTTL)),
			},
		})
		if err != nil {
			return nil, model.NewInternalError(fmt.Errorf("failed to sign confirmation token: %w", err))
		}
		return &SignUpResult{User: user, ConfirmationToken: token}, nil
	}

	// 4b. 確認不要の場合はセッションを発行する
	session, err := s.createSession(ctx, user)
	if err != nil {
		return nil, err
	}
	return &SignUpResult{User: user, Session: session}, nil
}

// SignIn はメールアドレスとパスワードで認証し、セッションを発行する。
// プロフィールが存在しない場合は空のプロフィールを作成する。
func (s *Service) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	user, err := s.users.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, model.NewUnavailableError(fmt.Errorf("failed to find user: %w", err))
	}
	if user == nil {
		return nil, model.NewInvalidCredentialsError()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, model.NewInvalidCredentialsError()
	}
	if s.config.RequireEmailConfirmation && !user.EmailConfirmed() {
		return nil, model.NewEmailNotConfirmedError()
	}

	if err := s.profiles.EnsureExists(ctx, user.ID, s.now()); err != nil {
		return nil, model.NewUnavailableError(fmt.Errorf("failed to ensure profile: %w", err))
	}

	session, err := s.createSession(ctx, user)
	if err != nil {
		return nil, err
	}

	slog.Info("user signed in",
		slog.String("user_id", user.ID),
		slog.String("session_id", session.ID),
	)
	return session, nil
}

// SignOut はセッションを破棄する。
func (s *Service) SignOut(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return model.NewUnauthenticatedError()
	}

	if err := s.sessions.DeleteByID(ctx, sessionID); err != nil {
		return model.NewUnavailableError(fmt.Errorf("failed to delete session: %w", err))
	}

	slog.Info("user signed out", slog.String("session_id", sessionID))
	return nil
}

// Verify はセッショントークンを検証し、有効なセッションを返す。
// 署名・有効期限・失効のいずれかに問題がある場合はInvalidTokenエラーを返す。
func (s *Service) Verify(ctx context.Context, token string) (*model.Session, error) {
	claims, err := s.parseToken(token, purposeSession)
	if err != nil {
		return nil, model.NewInvalidTokenError()
	}

	session, err := s.sessions.FindByID(ctx, claims.SessionID)
	if err != nil {
		return nil, model.NewUnavailableError(fmt.Errorf("failed to find session: %w", err))
	}
	if session == nil || session.PrincipalID != claims.Subject {
		return nil, model.NewInvalidTokenError()
	}

	session.Token = token
	return session, nil
}

// Refresh は有効なセッションの期限を延長し、新しいトークンを発行する。
// セッションIDは変わらない。
func (s *Service) Refresh(ctx context.Context, token string) (*model.Session, error) {
	session, err := s.Verify(ctx, token)
	if err != nil {
		return nil, err
	}

	expiresAt := s.now().Add(s.maxAge())
	if err := s.sessions.Extend(ctx, session.ID, expiresAt); err != nil {
		return nil, model.NewUnavailableError(fmt.Errorf("failed to extend session: %w", err))
	}
	session.ExpiresAt = expiresAt

	session.Token, err = s.sessionToken(session)
	if err != nil {
		return nil, model.NewInternalError(fmt.Errorf("failed to sign session token: %w", err))
	}
	return session, nil
}

// ConfirmEmail は確認トークンを検証し、メールアドレスを確認済みにする。
func (s *Service) ConfirmEmail(ctx context.Context, token string) error {
	claims, err := s.parseToken(token, purposeConfirmEmail)
	if err != nil {
		return model.NewInvalidTokenError()
	}

	user, err := s.users.FindByID(ctx, claims.Subject)
	if err != nil {
		return model.NewUnavailableError(fmt.Errorf("failed to find user: %w", err))
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}
	if user.EmailConfirmed() {
		return nil
	}

	if err := s.users.ConfirmEmail(ctx, user.ID, s.now()); err != nil {
		return model.NewUnavailableError(fmt.Errorf("failed to confirm email: %w", err))
	}

	slog.Info("email confirmed", slog.String("user_id", user.ID))
	return nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, user *model.User) (*model.Session, error) {
	now := s.now()
	session := &model.Session{
		ID:          uuid.New().String(),
		PrincipalID: user.ID,
		Email:       user.Email,
		ExpiresAt:   now.Add(s.maxAge()),
		CreatedAt:   now,
	}

	token, err := s.sessionToken(session)
	if err != nil {
		return nil, model.NewInternalError(fmt.Errorf("failed to sign session token: %w", err))
	}
	session.Token = token

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, model.NewUnavailableError(fmt.Errorf("failed to save session: %w", err))
	}
	return session, nil
}

func (s *Service) sessionToken(session *model.Session) (string, error) {
	return s.signToken(tokenClaims{
		SessionID: session.ID,
		Email:     session.Email,
		Purpose:   purposeSession,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.PrincipalID,
			IssuedAt:  jwt.NewNumericDate(s.now()),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
	})
}

func (s *Service) signToken(claims tokenClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// parseToken はHS256の署名と有効期限、用途を検証してクレームを返す。
func (s *Service) parseToken(token, purpose string) (*tokenClaims, error) {
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if claims.Purpose != purpose || claims.Subject == "" {
		return nil, fmt.Errorf("unexpected token purpose %q", claims.Purpose)
	}
	if purpose == purposeSession && claims.SessionID == "" {
		return nil, errors.New("session token without session id")
	}
	return claims, nil
}

func (s *Service) maxAge() time.Duration {
	return time.Duration(s.config.SessionMaxAge) * time.Second
}
