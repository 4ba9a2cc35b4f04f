package identity

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/Nassermhasser/wheelhaven/internal/model"
)

// AuthEventType は認証状態変化イベントの種類。
type AuthEventType string

const (
	EventSignedIn    AuthEventType = "SIGNED_IN"
	EventSignedOut   AuthEventType = "SIGNED_OUT"
	EventUserUpdated AuthEventType = "USER_UPDATED"
)

// AuthEvent は認証プロバイダーから通知される状態変化。
type AuthEvent struct {
	Type    AuthEventType
	Session *model.Session
}

// SignUpAttributes はサインアップ時に登録するプロフィール項目。
// 管理者フラグは含めない。
type SignUpAttributes struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// AuthProvider は認証プロバイダーのインターフェース。
// OnAuthStateChange のリスナーはイベント発生順に呼び出されなければならない。
type AuthProvider interface {
	SignIn(ctx context.Context, email, password string) (*model.Session, error)
	// SignUp はメール確認が必要な場合にnilセッションを返す。
	SignUp(ctx context.Context, email, password string, attrs SignUpAttributes) (*model.Session, error)
	SignOut(ctx context.Context) error
	OnAuthStateChange(listener func(AuthEvent)) (unsubscribe func())
	GetCurrentSession(ctx context.Context) (*model.Session, error)
}

// Recorder は解決結果の記録先。metrics.Collectorが満たす。
type Recorder interface {
	RecordAuthResolution(outcome string)
	RecordStaleProfileFetch()
}

type nopRecorder struct{}

func (nopRecorder) RecordAuthResolution(string) {}
func (nopRecorder) RecordStaleProfileFetch()    {}

// State はResolverの状態。
type State int

const (
	StateUninitialized State = iota
	StateResolving
	StateSettled
)

func (s State) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StateSettled:
		return "settled"
	default:
		return "uninitialized"
	}
}

// ErrAlreadyStarted はStartが2回呼ばれた場合に返される。
var ErrAlreadyStarted = errors.New("identity: resolver already started")

type subscriber struct {
	fn      func(model.AuthView)
	fromSeq uint64
}

type queuedView struct {
	seq    uint64
	target int // 0は全購読者
	view   model.AuthView
}

// Resolver は認証イベントと非同期のプロフィール取得を突き合わせ、AuthViewを公開する。
//
// セッションインスタンス（Session.ID）ごとに世代番号を持ち、取得結果は
// 発行時の世代・主体が現在と一致し、かつ最後に発行した取得である場合だけ反映する。
// 購読者には公開順にAuthViewを配信する。Settledは同一セッションインスタンス内で
// trueからfalseに戻らない。
type Resolver struct {
	provider AuthProvider
	profiles ProfileReader
	logger   *slog.Logger
	recorder Recorder

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	state         State
	session       *model.Session
	profile       *model.Profile
	view          model.AuthView
	generation    uint64
	fetchSeq      uint64
	eventSeen     bool
	settledCh     chan struct{}
	settledClosed bool
	unsubscribe   func()

	subs      map[int]*subscriber
	nextSubID int
	queue     []queuedView
	queueSeq  uint64
	notify    chan struct{}
	closed    bool
}

// NewResolver はResolverを生成し、配信用goroutineを起動する。
// 使用後は必ずCloseを呼ぶこと。
func NewResolver(provider AuthProvider, profiles ProfileReader, logger *slog.Logger, recorder Recorder) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Resolver{
		provider:  provider,
		profiles:  profiles,
		logger:    logger,
		recorder:  recorder,
		ctx:       ctx,
		cancel:    cancel,
		settledCh: make(chan struct{}),
		subs:      make(map[int]*subscriber),
		notify:    make(chan struct{}, 1),
	}

	r.wg.Add(1)
	go r.dispatch()
	return r
}

// Start はリスナーを登録してから現在のセッションを問い合わせる。
// 登録から問い合わせ完了までにイベントが届いた場合は、問い合わせ結果を破棄する。
func (r *Resolver) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateUninitialized {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	r.state = StateResolving
	r.mu.Unlock()

	// 1. リスナー登録（問い合わせより先）
	unsubscribe := r.provider.OnAuthStateChange(r.handleEvent)
	r.mu.Lock()
	r.unsubscribe = unsubscribe
	r.mu.Unlock()

	// 2. 現在のセッションを問い合わせ
	session, err := r.provider.GetCurrentSession(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	// 3. 問い合わせ中にイベントが届いていればそちらを優先する
	if r.eventSeen {
		r.logger.Debug("initial session probe superseded by auth event")
		return nil
	}

	if err != nil {
		r.logger.Warn("initial session probe failed, treating as signed out",
			slog.String("error", err.Error()),
		)
		session = nil
	}

	if session == nil {
		r.settleSignedOutLocked()
		return nil
	}
	r.beginSessionLocked(session)
	return nil
}

// handleEvent は認証プロバイダーからのイベントを処理する。
func (r *Resolver) handleEvent(ev AuthEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.eventSeen = true

	switch ev.Type {
	case EventSignedOut:
		r.signOutLocked()
	case EventSignedIn, EventUserUpdated:
		if ev.Session == nil {
			return
		}
		// 同一セッションインスタンスの再通知は資格情報の更新のみ。権限の再導出はしない。
		if r.session != nil && r.session.ID == ev.Session.ID {
			s := *ev.Session
			r.session = &s
			return
		}
		r.beginSessionLocked(ev.Session)
	default:
		r.logger.Warn("ignoring unknown auth event", slog.String("type", string(ev.Type)))
	}
}

// beginSessionLocked は新しいセッションインスタンスを未確定状態で開始し、プロフィール取得を発行する。
func (r *Resolver) beginSessionLocked(session *model.Session) {
	s := *session
	r.generation++
	r.session = &s
	r.profile = nil
	r.state = StateResolving
	r.resetSettledLocked()
	r.publishLocked(model.AuthView{
		SignedIn:    true,
		PrincipalID: s.PrincipalID,
	})

	gen, seq := r.generation, r.nextFetchLocked()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.fetchAndApply(r.ctx, gen, seq, s.PrincipalID)
	}()
}

// signOutLocked はセッションとプロフィールを破棄し、サインアウト状態で確定させる。
// 既にサインアウトで確定している場合は何もしない。
func (r *Resolver) signOutLocked() {
	if r.session == nil && r.state == StateSettled && !r.view.SignedIn {
		return
	}
	r.generation++
	r.settleSignedOutLocked()
}

func (r *Resolver) settleSignedOutLocked() {
	r.session = nil
	r.profile = nil
	view, outcome := deriveView(nil, nil, nil)
	r.settleLocked(view)
	r.recorder.RecordAuthResolution(string(outcome))
}

func (r *Resolver) nextFetchLocked() uint64 {
	r.fetchSeq++
	return r.fetchSeq
}

// fetchAndApply はプロフィールを取得し、発行時の世代・主体・取得番号が現在と一致する場合だけ反映する。
func (r *Resolver) fetchAndApply(ctx context.Context, gen, seq uint64, principalID string) error {
	profile, err := r.profiles.GetProfile(ctx, principalID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || gen != r.generation || seq != r.fetchSeq ||
		r.session == nil || r.session.PrincipalID != principalID {
		r.recorder.RecordStaleProfileFetch()
		r.logger.Debug("discarding stale profile fetch",
			slog.String("principal_id", principalID),
		)
		return nil
	}

	view, outcome := deriveView(r.session, profile, err)
	if err == nil {
		r.profile = profile
	} else {
		r.profile = nil
	}
	if outcome == OutcomeDegraded {
		r.logger.Warn("profile fetch failed, administrator privilege denied",
			slog.String("principal_id", principalID),
			slog.String("error", err.Error()),
		)
	}

	r.settleLocked(view)
	r.recorder.RecordAuthResolution(string(outcome))

	if outcome == OutcomeDegraded {
		return err
	}
	return nil
}

// RefreshProfile は現在の主体のプロフィールを再取得する。
// 再取得中も確定状態は維持し、結果が反映されるまで待つ。
// 取得に失敗した場合は管理者権限を失い、原因をそのまま返す。
// 取得はResolverの寿命で行うため、ctxが先に終了しても取得は継続して結果を反映する。
// 未確定のセッションで呼ばれた場合も、呼び出し元の取消で確定状態が損なわれることはない。
func (r *Resolver) RefreshProfile(ctx context.Context) error {
	r.mu.Lock()
	if r.session == nil || r.closed {
		r.mu.Unlock()
		return nil
	}
	gen, seq, principalID := r.generation, r.nextFetchLocked(), r.session.PrincipalID
	r.wg.Add(1)
	r.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		defer r.wg.Done()
		done <- r.fetchAndApply(r.ctx, gen, seq, principalID)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SignIn は認証プロバイダーでサインインする。AuthViewはプロバイダーのイベントで更新される。
func (r *Resolver) SignIn(ctx context.Context, email, password string) error {
	_, err := r.provider.SignIn(ctx, email, password)
	return err
}

// SignOut はローカルの状態を先に破棄してから認証プロバイダーのサインアウトを呼ぶ。
// プロバイダーの呼び出しが失敗してもローカルはサインアウト状態のまま。
func (r *Resolver) SignOut(ctx context.Context) error {
	r.mu.Lock()
	r.signOutLocked()
	r.mu.Unlock()

	return r.provider.SignOut(ctx)
}

// View は現在のAuthViewを返す。
func (r *Resolver) View() model.AuthView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view
}

// State は現在の状態を返す。
func (r *Resolver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Session は現在のセッションのコピーを返す。サインアウト中はnil。
func (r *Resolver) Session() *model.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return nil
	}
	s := *r.session
	return &s
}

// Profile は最後に取得できたプロフィールのコピーを返す。
func (r *Resolver) Profile() *model.Profile {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.profile == nil {
		return nil
	}
	p := *r.profile
	return &p
}

// Await はAuthViewが確定するまで待ち、確定したViewを返す。
func (r *Resolver) Await(ctx context.Context) (model.AuthView, error) {
	for {
		r.mu.Lock()
		if r.view.Settled {
			v := r.view
			r.mu.Unlock()
			return v, nil
		}
		ch := r.settledCh
		r.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return r.View(), ctx.Err()
		}
	}
}

// Subscribe はAuthViewの変化を購読する。登録直後に現在のViewが1回配信される。
// 配信は公開順に専用goroutineから行われる。戻り値の関数で購読を解除する。
func (r *Resolver) Subscribe(fn func(model.AuthView)) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextSubID++
	id := r.nextSubID
	r.queueSeq++
	r.subs[id] = &subscriber{fn: fn, fromSeq: r.queueSeq}
	r.queue = append(r.queue, queuedView{seq: r.queueSeq, target: id, view: r.view})
	r.signalLocked()

	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

// Close はリスナー登録を解除し、実行中のプロフィール取得と配信goroutineを停止する。
func (r *Resolver) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	unsubscribe := r.unsubscribe
	r.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	r.cancel()
	r.wg.Wait()
}

// settleLocked はViewを確定状態で公開し、Awaitの待機を解除する。
func (r *Resolver) settleLocked(view model.AuthView) {
	view.Settled = true
	r.state = StateSettled
	r.publishLocked(view)
	if !r.settledClosed {
		close(r.settledCh)
		r.settledClosed = true
	}
}

// resetSettledLocked は新しいセッションインスタンスのためにAwaitの待機チャネルを用意する。
// 未確定のまま次のインスタンスに移った場合は既存のチャネルを使い続ける。
func (r *Resolver) resetSettledLocked() {
	if r.settledClosed {
		r.settledCh = make(chan struct{})
		r.settledClosed = false
	}
}

func (r *Resolver) publishLocked(view model.AuthView) {
	r.view = view
	r.queueSeq++
	r.queue = append(r.queue, queuedView{seq: r.queueSeq, view: view})
	r.signalLocked()
}

func (r *Resolver) signalLocked() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// dispatch はキューに積まれたViewを公開順に購読者へ配信する。
func (r *Resolver) dispatch() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.notify:
		}

		for {
			r.mu.Lock()
			if len(r.queue) == 0 {
				r.mu.Unlock()
				break
			}
			item := r.queue[0]
			r.queue = r.queue[1:]
			var targets []func(model.AuthView)
			for id, s := range r.subs {
				if item.target != 0 && item.target != id {
					continue
				}
				if item.seq < s.fromSeq {
					continue
				}
				targets = append(targets, s.fn)
			}
			r.mu.Unlock()

			for _, fn := range targets {
				fn(item.view)
			}
		}
	}
}
