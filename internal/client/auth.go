package client

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/Nassermhasser/wheelhaven/internal/identity"
	"github.com/Nassermhasser/wheelhaven/internal/model"
)

// sessionBody はセッション情報のAPIレスポンス。
type sessionBody struct {
	SessionID   string    `json:"session_id"`
	Token       string    `json:"token"`
	PrincipalID string    `json:"principal_id"`
	Email       string    `json:"email"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (b sessionBody) toModel() *model.Session {
	return &model.Session{
		ID:          b.SessionID,
		Token:       b.Token,
		PrincipalID: b.PrincipalID,
		Email:       b.Email,
		ExpiresAt:   b.ExpiresAt,
	}
}

type credentialsBody struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

type signUpBody struct {
	ConfirmationRequired bool         `json:"confirmation_required"`
	Session              *sessionBody `json:"session,omitempty"`
}

// SignIn はメールアドレスとパスワードでサインインし、SIGNED_INイベントを通知する。
func (c *Client) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	var body sessionBody
	if err := c.do(ctx, http.MethodPost, "/auth/signin", credentialsBody{Email: email, Password: password}, &body); err != nil {
		return nil, err
	}

	session := body.toModel()
	c.setSession(session, identity.EventSignedIn)
	return copySession(session), nil
}

// SignUp はアカウントを作成する。メールアドレス確認が必要な場合はnilセッションを返し、イベントは通知しない。
func (c *Client) SignUp(ctx context.Context, email, password string, attrs identity.SignUpAttributes) (*model.Session, error) {
	req := credentialsBody{
		Email:     email,
		Password:  password,
		FirstName: attrs.FirstName,
		LastName:  attrs.LastName,
		Phone:     attrs.Phone,
	}

	var body signUpBody
	if err := c.do(ctx, http.MethodPost, "/auth/signup", req, &body); err != nil {
		return nil, err
	}
	if body.ConfirmationRequired || body.Session == nil {
		return nil, nil
	}

	session := body.Session.toModel()
	c.setSession(session, identity.EventSignedIn)
	return copySession(session), nil
}

// SignOut はローカルのセッションを破棄してSIGNED_OUTを通知してから、サーバー側のセッションを破棄する。
// サーバー呼び出しが失敗してもローカルはサインアウト状態のまま。
func (c *Client) SignOut(ctx context.Context) error {
	token := c.currentToken()
	if !c.clearSession("") {
		return nil
	}
	c.emit(identity.AuthEvent{Type: identity.EventSignedOut})

	return c.doWithToken(ctx, http.MethodPost, "/auth/signout", token)
}

// Refresh はセッションの有効期限を延長する。
// 同一セッションインスタンスの資格情報更新としてUSER_UPDATEDを通知する。
func (c *Client) Refresh(ctx context.Context) (*model.Session, error) {
	if c.currentToken() == "" {
		return nil, model.NewUnauthenticatedError()
	}

	var body sessionBody
	if err := c.do(ctx, http.MethodPost, "/auth/refresh", nil, &body); err != nil {
		if model.IsKind(err, model.KindUnauthenticated) && c.clearSession("") {
			c.emit(identity.AuthEvent{Type: identity.EventSignedOut})
		}
		return nil, err
	}

	session := body.toModel()
	c.setSession(session, identity.EventUserUpdated)
	return copySession(session), nil
}

// GetCurrentSession は保持しているセッションをサーバーで確認して返す。
// 保持していない、または失効している場合はnilを返す。
func (c *Client) GetCurrentSession(ctx context.Context) (*model.Session, error) {
	c.mu.Lock()
	local := copySession(c.session)
	c.mu.Unlock()
	if local == nil {
		return nil, nil
	}
	if local.Expired(time.Now()) {
		if c.clearSession(local.ID) {
			c.emit(identity.AuthEvent{Type: identity.EventSignedOut})
		}
		return nil, nil
	}

	var body sessionBody
	if err := c.do(ctx, http.MethodGet, "/auth/session", nil, &body); err != nil {
		if model.IsKind(err, model.KindUnauthenticated) {
			if c.clearSession(local.ID) {
				c.emit(identity.AuthEvent{Type: identity.EventSignedOut})
			}
			return nil, nil
		}
		return nil, err
	}
	return body.toModel(), nil
}

// OnAuthStateChange は認証状態の変化を購読する。
// リスナーは登録順に、イベントの発生順で同期的に呼び出される。
func (c *Client) OnAuthStateChange(listener func(identity.AuthEvent)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.listeners[id] = listener
	c.order = append(c.order, id)

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
		for i, v := range c.order {
			if v == id {
				c.order = append(c.order[:i:i], c.order[i+1:]...)
				break
			}
		}
	}
}

// Token は現在のアクセストークンを返す。サインアウト中は空文字。
func (c *Client) Token() string {
	return c.currentToken()
}

// Close はセッション期限のタイマーを停止する。
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expiry != nil {
		c.expiry.Stop()
		c.expiry = nil
	}
}

// setSession はセッションを保持し、期限切れ時にSIGNED_OUTを通知するタイマーを設定してからイベントを通知する。
func (c *Client) setSession(session *model.Session, eventType identity.AuthEventType) {
	s := copySession(session)

	c.mu.Lock()
	c.session = s
	if c.expiry != nil {
		c.expiry.Stop()
	}
	sessionID := s.ID
	c.expiry = time.AfterFunc(time.Until(s.ExpiresAt), func() {
		if c.clearSession(sessionID) {
			c.logger.Info("session expired", slog.String("principal_id", s.PrincipalID))
			c.emit(identity.AuthEvent{Type: identity.EventSignedOut})
		}
	})
	c.mu.Unlock()

	c.emit(identity.AuthEvent{Type: eventType, Session: copySession(s)})
}

// clearSession は保持しているセッションを破棄する。
// sessionIDが空でない場合は、保持しているセッションが一致するときだけ破棄する。
// 破棄した場合はtrueを返す。
func (c *Client) clearSession(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil || (sessionID != "" && c.session.ID != sessionID) {
		return false
	}
	c.session = nil
	if c.expiry != nil {
		c.expiry.Stop()
		c.expiry = nil
	}
	return true
}

// emit はイベントを登録順のリスナーへ配信する。
func (c *Client) emit(ev identity.AuthEvent) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	listeners := make([]func(identity.AuthEvent), 0, len(c.order))
	for _, id := range c.order {
		listeners = append(listeners, c.listeners[id])
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.Token
}

func copySession(s *model.Session) *model.Session {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}
