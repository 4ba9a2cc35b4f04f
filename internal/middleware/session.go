// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Nassermhasser/wheelhaven/internal/access"
	"github.com/Nassermhasser/wheelhaven/internal/identity"
	"github.com/Nassermhasser/wheelhaven/internal/model"
)

// SessionCookieName はセッショントークンを保持するHTTP Only Cookieの名前。
const SessionCookieName = "session_token"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	viewContextKey    = contextKey("auth_view")
	sessionContextKey = contextKey("session")
)

// SessionVerifier はセッショントークンの検証に必要なインターフェース。
// auth.Serviceが実装する。
type SessionVerifier interface {
	Verify(ctx context.Context, token string) (*model.Session, error)
}

// AuthRecorder は認可状態の導出結果を記録するインターフェース。
type AuthRecorder interface {
	RecordAuthResolution(outcome string)
}

// NewAuthMiddleware はCookieまたはBearerトークンからセッションを検証し、
// プロフィールと突き合わせたAuthViewをリクエストコンテキストに注入するミドルウェアを返す。
// トークンがない、または不正な場合はサインアウト済みとして扱い、拒否はゲート側で行う。
// セッションストアに到達できない場合は503を返す。
func NewAuthMiddleware(verifier SessionVerifier, profiles identity.ProfileReader, recorder AuthRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. トークンを取得
			var session *model.Session
			if token := tokenFromRequest(r); token != "" {
				// 2. トークンとセッションの有効性を検証
				s, err := verifier.Verify(r.Context(), token)
				switch {
				case err == nil:
					session = s
				case model.IsKind(err, model.KindUnauthenticated):
					// 失効・改ざんされたトークンはサインアウト扱い
				default:
					slog.Error("failed to verify session",
						slog.String("path", r.URL.Path),
						slog.String("error", err.Error()),
					)
					WriteAPIError(w, err)
					return
				}
			}

			// 3. AuthViewを導出
			view, outcome, err := identity.ResolveSession(r.Context(), profiles, session)
			if err != nil {
				slog.Warn("profile lookup failed, administrator privilege denied",
					slog.String("principal_id", view.PrincipalID),
					slog.String("error", err.Error()),
				)
			}
			if recorder != nil {
				recorder.RecordAuthResolution(string(outcome))
			}

			// 4. コンテキストに注入
			ctx := ContextWithView(r.Context(), view, session)
			withView(w, ctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewRequireSignedIn はサインイン済みのリクエストのみを通すミドルウェアを返す。
func NewRequireSignedIn() func(next http.Handler) http.Handler {
	return newGate(access.RequireSignedIn)
}

// NewRequireAdministrator は管理者として確定したリクエストのみを通すミドルウェアを返す。
func NewRequireAdministrator() func(next http.Handler) http.Handler {
	return newGate(access.RequireAdministrator)
}

func newGate(decide func(model.AuthView) access.Decision) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := decide(ViewFromContext(r.Context()))
			if err := decision.Err(); err != nil {
				WriteAPIError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ViewFromContext はリクエストコンテキストからAuthViewを取得する。
// AuthMiddlewareを通過していない場合は未確定のViewを返すため、ゲートはPendingと判定する。
func ViewFromContext(ctx context.Context) model.AuthView {
	view, _ := ctx.Value(viewContextKey).(model.AuthView)
	return view
}

// SessionFromContext はリクエストコンテキストから検証済みセッションを取得する。
// サインインしていない場合はnilを返す。
func SessionFromContext(ctx context.Context) *model.Session {
	session, _ := ctx.Value(sessionContextKey).(*model.Session)
	return session
}

// PrincipalIDFromContext はサインイン済みの場合に認証主体IDを返す。
func PrincipalIDFromContext(ctx context.Context) (string, bool) {
	view := ViewFromContext(ctx)
	if !view.SignedIn || view.PrincipalID == "" {
		return "", false
	}
	return view.PrincipalID, true
}

// ContextWithView はコンテキストにAuthViewとセッションを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithView(ctx context.Context, view model.AuthView, session *model.Session) context.Context {
	ctx = context.WithValue(ctx, viewContextKey, view)
	return context.WithValue(ctx, sessionContextKey, session)
}

// tokenFromRequest はAuthorizationヘッダーのBearerトークン、なければセッションCookieを返す。
func tokenFromRequest(r *http.Request) string {
	if token := bearerToken(r); token != "" {
		return token
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
