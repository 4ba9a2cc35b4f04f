package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/Nassermhasser/wheelhaven/internal/identity"
	"github.com/Nassermhasser/wheelhaven/internal/model"
	"github.com/Nassermhasser/wheelhaven/internal/repository"
	"github.com/Nassermhasser/wheelhaven/internal/security"
)

// --- モック定義 ---

type mockUserRepo struct {
	users             map[string]*model.User
	profiles          map[string]*model.Profile
	createWithProfErr error
	confirmEmailFn    func(ctx context.Context, id string, at time.Time) error
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: map[string]*model.User{}, profiles: map[string]*model.Profile{}}
}

func (m *mockUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	return m.users[id], nil
}

func (m *mockUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return nil, nil
}

func (m *mockUserRepo) CreateWithProfile(_ context.Context, user *model.User, profile *model.Profile) error {
	if m.createWithProfErr != nil {
		return m.createWithProfErr
	}
	for _, u := range m.users {
		if strings.EqualFold(u.Email, user.Email) {
			return repository.ErrDuplicate
		}
	}
	m.users[user.ID] = user
	m.profiles[profile.ID] = profile
	return nil
}

func (m *mockUserRepo) ConfirmEmail(ctx context.Context, id string, at time.Time) error {
	if m.confirmEmailFn != nil {
		return m.confirmEmailFn(ctx, id, at)
	}
	if u, ok := m.users[id]; ok {
		u.EmailConfirmedAt = &at
	}
	return nil
}

type mockProfileRepo struct {
	ensured []string
}

func (m *mockProfileRepo) FindByID(context.Context, string) (*model.Profile, error) { return nil, nil }
func (m *mockProfileRepo) EnsureExists(_ context.Context, id string, _ time.Time) error {
	m.ensured = append(m.ensured, id)
	return nil
}
func (m *mockProfileRepo) Update(context.Context, string, model.ProfilePatch, time.Time) (*model.Profile, error) {
	return nil, nil
}
func (m *mockProfileRepo) ListAdministrators(context.Context) ([]*model.Profile, error) {
	return nil, nil
}
func (m *mockProfileRepo) GrantFirstAdministrator(context.Context, string, time.Time) (bool, error) {
	return false, nil
}

type mockSessionRepo struct {
	sessions     map[string]*model.Session
	deleteByIDFn func(ctx context.Context, id string) error
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{sessions: map[string]*model.Session{}}
}

func (m *mockSessionRepo) Create(_ context.Context, session *model.Session) error {
	cp := *session
	cp.Token = ""
	m.sessions[session.ID] = &cp
	return nil
}

func (m *mockSessionRepo) FindByID(_ context.Context, id string) (*model.Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *mockSessionRepo) Extend(_ context.Context, id string, expiresAt time.Time) error {
	if s, ok := m.sessions[id]; ok {
		s.ExpiresAt = expiresAt
	}
	return nil
}

func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	delete(m.sessions, id)
	return nil
}

func (m *mockSessionRepo) DeleteByUserID(_ context.Context, userID string) error {
	for id, s := range m.sessions {
		if s.PrincipalID == userID {
			delete(m.sessions, id)
		}
	}
	return nil
}

// --- compile-time interface checks ---
var _ repository.UserRepository = (*mockUserRepo)(nil)
var _ repository.ProfileRepository = (*mockProfileRepo)(nil)
var _ repository.SessionRepository = (*mockSessionRepo)(nil)

// --- ヘルパー ---

const testSecret = "test-secret-at-least-32-bytes-long!!"

type fixture struct {
	svc      *Service
	users    *mockUserRepo
	profiles *mockProfileRepo
	sessions *mockSessionRepo
	clock    *time.Time
}

func newFixture(t *testing.T, requireConfirmation bool) *fixture {
	t.Helper()
	f := &fixture{
		users:    newMockUserRepo(),
		profiles: &mockProfileRepo{},
		sessions: newMockSessionRepo(),
	}
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	f.clock = &now
	f.svc = NewService(f.users, f.profiles, f.sessions, security.NewTextSanitizer(), ServiceConfig{
		Secret:                   testSecret,
		SessionMaxAge:            3600,
		RequireEmailConfirmation: requireConfirmation,
	})
	f.svc.cost = bcrypt.MinCost
	f.svc.now = func() time.Time { return *f.clock }
	return f
}

func (f *fixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

// --- テスト ---

func TestSignUp_WithoutConfirmation_IssuesSession(t *testing.T) {
	f := newFixture(t, false)

	res, err := f.svc.SignUp(context.Background(), " jane@example.com ", "s3cret-pass", identity.SignUpAttributes{
		FirstName: "<b>Jane</b>",
		LastName:  "Doe",
		Phone:     "555-0100",
	})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}

	if res.Session == nil || res.Session.Token == "" {
		t.Fatal("確認不要の設定ではセッションが発行されるべき")
	}
	if res.ConfirmationToken != "" {
		t.Error("確認不要の設定では確認トークンを発行してはならない")
	}
	if res.User.Email != "jane@example.com" {
		t.Errorf("Email = %q, want trimmed address", res.User.Email)
	}
	if res.User.PasswordHash == "s3cret-pass" {
		t.Error("パスワードが平文で保存されている")
	}

	profile := f.users.profiles[res.User.ID]
	if profile == nil {
		t.Fatal("プロフィールが作成されていない")
	}
	if profile.IsAdministrator {
		t.Error("サインアップで管理者になってはならない")
	}
	if profile.FirstName != "Jane" {
		t.Errorf("FirstName = %q, want sanitized %q", profile.FirstName, "Jane")
	}
	if !profile.EmailConfirmed {
		t.Error("確認不要の設定ではEmailConfirmedがtrueであるべき")
	}
}

func TestSignUp_WithConfirmation_DefersSession(t *testing.T) {
	f := newFixture(t, true)

	res, err := f.svc.SignUp(context.Background(), "jane@example.com", "s3cret-pass", identity.SignUpAttributes{})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if res.Session != nil {
		t.Error("確認が必要な設定ではセッションを発行してはならない")
	}
	if res.ConfirmationToken == "" {
		t.Fatal("確認トークンが発行されていない")
	}

	// 確認前のサインインは拒否される
	_, err = f.svc.SignIn(context.Background(), "jane@example.com", "s3cret-pass")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeEmailNotConfirmed {
		t.Fatalf("SignIn() error = %v, want EMAIL_NOT_CONFIRMED", err)
	}

	// 確認後はサインインできる
	if err := f.svc.ConfirmEmail(context.Background(), res.ConfirmationToken); err != nil {
		t.Fatalf("ConfirmEmail() error = %v", err)
	}
	if _, err := f.svc.SignIn(context.Background(), "jane@example.com", "s3cret-pass"); err != nil {
		t.Fatalf("確認後のSignIn() error = %v", err)
	}

	// 確認済みでの再確認は冪等
	if err := f.svc.ConfirmEmail(context.Background(), res.ConfirmationToken); err != nil {
		t.Errorf("再確認 error = %v", err)
	}
}

func TestSignUp_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		password string
		wantCode string
	}{
		{"不正なメールアドレス", "not-an-email", "s3cret-pass", model.ErrCodeValidation},
		{"短すぎるパスワード", "jane@example.com", "short", model.ErrCodeWeakPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, false)
			_, err := f.svc.SignUp(context.Background(), tt.email, tt.password, identity.SignUpAttributes{})
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != tt.wantCode {
				t.Fatalf("error = %v, want %s", err, tt.wantCode)
			}
			if len(f.users.users) != 0 {
				t.Error("拒否時にユーザーが作成された")
			}
		})
	}
}

func TestSignUp_DuplicateEmail_ReturnsConflict(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	if _, err := f.svc.SignUp(ctx, "jane@example.com", "s3cret-pass", identity.SignUpAttributes{}); err != nil {
		t.Fatalf("1回目のSignUp() error = %v", err)
	}
	_, err := f.svc.SignUp(ctx, "JANE@example.com", "another-pass", identity.SignUpAttributes{})
	if !model.IsKind(err, model.KindConflict) {
		t.Fatalf("error = %v, want conflict", err)
	}
}

func TestSignUp_RepositoryFailure_IsUnavailable(t *testing.T) {
	f := newFixture(t, false)
	f.users.createWithProfErr = errors.New("connection refused")

	_, err := f.svc.SignUp(context.Background(), "jane@example.com", "s3cret-pass", identity.SignUpAttributes{})
	if !model.IsKind(err, model.KindUnavailable) {
		t.Fatalf("error = %v, want unavailable", err)
	}
}

func TestSignIn_InvalidCredentials(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	if _, err := f.svc.SignUp(ctx, "jane@example.com", "s3cret-pass", identity.SignUpAttributes{}); err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}

	for _, tc := range []struct{ email, password string }{
		{"jane@example.com", "wrong-pass"},
		{"nobody@example.com", "s3cret-pass"},
	} {
		_, err := f.svc.SignIn(ctx, tc.email, tc.password)
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidCredential {
			t.Errorf("SignIn(%q) error = %v, want INVALID_CREDENTIALS", tc.email, err)
		}
	}
}

func TestSignIn_EnsuresProfileAndVerifies(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	res, err := f.svc.SignUp(ctx, "jane@example.com", "s3cret-pass", identity.SignUpAttributes{})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}

	session, err := f.svc.SignIn(ctx, "Jane@Example.com", "s3cret-pass")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if len(f.profiles.ensured) != 1 || f.profiles.ensured[0] != res.User.ID {
		t.Errorf("EnsureExists calls = %v, want [%s]", f.profiles.ensured, res.User.ID)
	}

	verified, err := f.svc.Verify(ctx, session.Token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if verified.ID != session.ID || verified.PrincipalID != res.User.ID {
		t.Errorf("verified = %+v, want session %s for %s", verified, session.ID, res.User.ID)
	}
	if verified.Token != session.Token {
		t.Error("検証済みセッションにトークンが設定されていない")
	}
}

func TestVerify_RejectsInvalidTokens(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	res, err := f.svc.SignUp(ctx, "jane@example.com", "s3cret-pass", identity.SignUpAttributes{})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	token := res.Session.Token

	t.Run("改ざんされたトークン", func(t *testing.T) {
		if _, err := f.svc.Verify(ctx, token+"x"); !model.IsKind(err, model.KindUnauthenticated) {
			t.Errorf("error = %v, want unauthenticated", err)
		}
	})

	t.Run("別の鍵で署名されたトークン", func(t *testing.T) {
		forged, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
			SessionID:        res.Session.ID,
			Purpose:          purposeSession,
			RegisteredClaims: jwt.RegisteredClaims{Subject: res.User.ID, ExpiresAt: jwt.NewNumericDate(f.clock.Add(time.Hour))},
		}).SignedString([]byte("another-secret"))
		if _, err := f.svc.Verify(ctx, forged); !model.IsKind(err, model.KindUnauthenticated) {
			t.Errorf("error = %v, want unauthenticated", err)
		}
	})

	t.Run("確認トークンはセッションとして使えない", func(t *testing.T) {
		fc := newFixture(t, true)
		r, err := fc.svc.SignUp(ctx, "john@example.com", "s3cret-pass", identity.SignUpAttributes{})
		if err != nil {
			t.Fatalf("SignUp() error = %v", err)
		}
		if _, err := fc.svc.Verify(ctx, r.ConfirmationToken); !model.IsKind(err, model.KindUnauthenticated) {
			t.Errorf("error = %v, want unauthenticated", err)
		}
	})

	t.Run("サインアウト後は失効", func(t *testing.T) {
		if err := f.svc.SignOut(ctx, res.Session.ID); err != nil {
			t.Fatalf("SignOut() error = %v", err)
		}
		if _, err := f.svc.Verify(ctx, token); !model.IsKind(err, model.KindUnauthenticated) {
			t.Errorf("error = %v, want unauthenticated", err)
		}
	})
}

func TestVerify_ExpiredToken(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	res, err := f.svc.SignUp(ctx, "jane@example.com", "s3cret-pass", identity.SignUpAttributes{})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}

	f.advance(2 * time.Hour)
	if _, err := f.svc.Verify(ctx, res.Session.Token); !model.IsKind(err, model.KindUnauthenticated) {
		t.Errorf("error = %v, want unauthenticated", err)
	}
}

func TestRefresh_ExtendsSessionKeepingID(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	res, err := f.svc.SignUp(ctx, "jane@example.com", "s3cret-pass", identity.SignUpAttributes{})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}

	f.advance(30 * time.Minute)
	refreshed, err := f.svc.Refresh(ctx, res.Session.Token)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if refreshed.ID != res.Session.ID {
		t.Errorf("ID = %q, want unchanged %q", refreshed.ID, res.Session.ID)
	}
	if !refreshed.ExpiresAt.After(res.Session.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want after %v", refreshed.ExpiresAt, res.Session.ExpiresAt)
	}
	if refreshed.Token == res.Session.Token {
		t.Error("新しいトークンが発行されていない")
	}

	// 元のトークンの期限を過ぎても更新後のトークンは有効
	f.advance(45 * time.Minute)
	if _, err := f.svc.Verify(ctx, refreshed.Token); err != nil {
		t.Errorf("更新後トークンのVerify() error = %v", err)
	}
}

func TestSignOut_RequiresSessionID(t *testing.T) {
	f := newFixture(t, false)
	if err := f.svc.SignOut(context.Background(), ""); !model.IsKind(err, model.KindUnauthenticated) {
		t.Errorf("error = %v, want unauthenticated", err)
	}
}

func TestSignOut_RepositoryFailure(t *testing.T) {
	f := newFixture(t, false)
	f.sessions.deleteByIDFn = func(context.Context, string) error { return errors.New("db down") }
	if err := f.svc.SignOut(context.Background(), "session-1"); !model.IsKind(err, model.KindUnavailable) {
		t.Errorf("error = %v, want unavailable", err)
	}
}

func TestConfirmEmail_InvalidToken(t *testing.T) {
	f := newFixture(t, true)
	if err := f.svc.ConfirmEmail(context.Background(), "garbage"); !model.IsKind(err, model.KindUnauthenticated) {
		t.Errorf("error = %v, want unauthenticated", err)
	}
}
