// Package console は管理者向けの予約管理コンソール（TUI）を提供する。
// 認可状態が確定するまでは読み込み中を表示し、確定後にaccess.RequireAdministratorで入場を判定する。
package console

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Nassermhasser/wheelhaven/internal/access"
	"github.com/Nassermhasser/wheelhaven/internal/model"
)

// requestTimeout はコンソールから発行するAPI呼び出しのタイムアウト。
const requestTimeout = 15 * time.Second

// Backend は管理コンソールが使用する予約操作。client.Clientが満たす。
type Backend interface {
	ListAllBookings(ctx context.Context) ([]*model.Booking, error)
	UpdateBookingStatus(ctx context.Context, bookingID string, status model.BookingStatus) (*model.Booking, error)
	BookingHistory(ctx context.Context, bookingID string) ([]*model.BookingStatusEvent, error)
}

// AuthSession は認可状態の提供元。identity.Resolverが満たす。
type AuthSession interface {
	View() model.AuthView
	Subscribe(fn func(model.AuthView)) (unsubscribe func())
	RefreshProfile(ctx context.Context) error
	SignOut(ctx context.Context) error
}

// --- メッセージ ---

type viewChangedMsg model.AuthView

type bookingsLoadedMsg struct {
	bookings []*model.Booking
	err      error
}

type statusUpdatedMsg struct {
	booking *model.Booking
	err     error
}

type historyLoadedMsg struct {
	bookingID string
	events    []*model.BookingStatusEvent
	err       error
}

type copiedMsg struct {
	text string
	err  error
}

type signedOutMsg struct {
	err error
}

type profileRefreshedMsg struct {
	err error
}

// subscription はResolverからの配信をUpdateループへ橋渡しする。
type subscription struct {
	views       chan model.AuthView
	done        chan struct{}
	unsubscribe func()
	once        sync.Once
}

func (s *subscription) close() {
	s.once.Do(func() {
		close(s.done)
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
	})
}

// App は管理コンソールのルートモデル。
type App struct {
	backend Backend
	auth    AuthSession
	copyFn  func(string) error
	sub     *subscription

	view     model.AuthView
	decision access.Decision

	bookings    []*model.Booking
	cursor      int
	loading     bool
	history     []*model.BookingStatusEvent
	historyFor  string
	historyOpen bool

	notice string
	err    error
	width  int
	height int
}

// NewApp は管理コンソールを生成し、認可状態の購読を開始する。
// 終了後は必ずCloseを呼ぶこと。
func NewApp(backend Backend, auth AuthSession) App {
	sub := &subscription{
		views: make(chan model.AuthView, 16),
		done:  make(chan struct{}),
	}
	sub.unsubscribe = auth.Subscribe(func(v model.AuthView) {
		select {
		case sub.views <- v:
		case <-sub.done:
		}
	})

	view := auth.View()
	return App{
		backend:  backend,
		auth:     auth,
		copyFn:   clipboard.WriteAll,
		sub:      sub,
		view:     view,
		decision: access.RequireAdministrator(view),
	}
}

// Close は認可状態の購読を解除する。
func (a App) Close() {
	if a.sub != nil {
		a.sub.close()
	}
}

func (a App) Init() tea.Cmd {
	return tea.Batch(a.waitForView(), a.loadIfAllowed())
}

// waitForView は次のAuthViewを待つコマンドを返す。
func (a App) waitForView() tea.Cmd {
	if a.sub == nil {
		return nil
	}
	sub := a.sub
	return func() tea.Msg {
		select {
		case v := <-sub.views:
			return viewChangedMsg(v)
		case <-sub.done:
			return nil
		}
	}
}

func (a App) loadIfAllowed() tea.Cmd {
	if a.decision.Outcome != access.Allow {
		return nil
	}
	return a.loadBookings()
}

func (a App) loadBookings() tea.Cmd {
	backend := a.backend
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		bookings, err := backend.ListAllBookings(ctx)
		return bookingsLoadedMsg{bookings: bookings, err: err}
	}
}

func (a App) updateStatus(bookingID string, status model.BookingStatus) tea.Cmd {
	backend := a.backend
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		b, err := backend.UpdateBookingStatus(ctx, bookingID, status)
		return statusUpdatedMsg{booking: b, err: err}
	}
}

func (a App) loadHistory(bookingID string) tea.Cmd {
	backend := a.backend
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		events, err := backend.BookingHistory(ctx, bookingID)
		return historyLoadedMsg{bookingID: bookingID, events: events, err: err}
	}
}

func (a App) refreshProfile() tea.Cmd {
	auth := a.auth
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return profileRefreshedMsg{err: auth.RefreshProfile(ctx)}
	}
}

func (a App) signOut() tea.Cmd {
	auth := a.auth
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return signedOutMsg{err: auth.SignOut(ctx)}
	}
}

func (a App) copy(text string) tea.Cmd {
	copyFn := a.copyFn
	return func() tea.Msg {
		return copiedMsg{text: text, err: copyFn(text)}
	}
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case viewChangedMsg:
		return a.applyView(model.AuthView(msg))

	case bookingsLoadedMsg:
		a.loading = false
		if msg.err != nil {
			a.err = msg.err
			return a, a.recoverFrom(msg.err)
		}
		a.err = nil
		a.bookings = msg.bookings
		a.clampCursor()
		return a, nil

	case statusUpdatedMsg:
		if msg.err != nil {
			a.err = msg.err
			return a, a.recoverFrom(msg.err)
		}
		a.err = nil
		for i, b := range a.bookings {
			if b.ID == msg.booking.ID {
				a.bookings[i] = msg.booking
			}
		}
		a.notice = fmt.Sprintf("%s -> %s", shortID(msg.booking.ID), msg.booking.Status)
		if a.historyOpen && a.historyFor == msg.booking.ID {
			return a, a.loadHistory(msg.booking.ID)
		}
		return a, nil

	case historyLoadedMsg:
		if msg.err != nil {
			a.err = msg.err
			return a, a.recoverFrom(msg.err)
		}
		a.history = msg.events
		a.historyFor = msg.bookingID
		a.historyOpen = true
		return a, nil

	case copiedMsg:
		if msg.err != nil {
			a.err = fmt.Errorf("copy failed: %w", msg.err)
			return a, nil
		}
		a.notice = "copied " + msg.text
		return a, nil

	case profileRefreshedMsg:
		if msg.err != nil {
			a.err = msg.err
		}
		return a, nil

	case signedOutMsg:
		if msg.err != nil {
			a.err = msg.err
		}
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)
	}
	return a, nil
}

// applyView は新しいAuthViewで入場判定をやり直す。
// 入場が許可に変わった場合は予約を読み込み、許可でなくなった場合は表示中のデータを破棄する。
func (a App) applyView(view model.AuthView) (tea.Model, tea.Cmd) {
	prev := a.decision.Outcome
	a.view = view
	a.decision = access.RequireAdministrator(view)

	cmds := []tea.Cmd{a.waitForView()}
	switch {
	case a.decision.Outcome == access.Allow && prev != access.Allow:
		a.loading = true
		a.err = nil
		cmds = append(cmds, a.loadBookings())
	case a.decision.Outcome != access.Allow:
		a.bookings = nil
		a.history = nil
		a.historyOpen = false
		a.cursor = 0
		a.loading = false
	}
	return a, tea.Batch(cmds...)
}

// recoverFrom はAPIの拒否応答を受けた場合にプロフィールを再取得し、認可状態を更新する。
func (a App) recoverFrom(err error) tea.Cmd {
	if model.IsKind(err, model.KindForbidden) {
		return a.refreshProfile()
	}
	return nil
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit
	}

	if a.decision.Outcome == access.Redirect {
		if msg.String() == "s" && a.view.SignedIn {
			return a, a.signOut()
		}
		return a, nil
	}
	if a.decision.Outcome != access.Allow {
		return a, nil
	}

	if a.historyOpen {
		switch msg.String() {
		case "h", "esc":
			a.historyOpen = false
			return a, nil
		}
	}

	a.notice = ""
	switch msg.String() {
	case "j", "down":
		if a.cursor < len(a.bookings)-1 {
			a.cursor++
		}
	case "k", "up":
		if a.cursor > 0 {
			a.cursor--
		}
	case "r":
		a.loading = true
		return a, a.loadBookings()
	case "s":
		return a, a.signOut()
	case "c":
		return a.transition(model.BookingStatusConfirmed)
	case "x":
		return a.transition(model.BookingStatusCancelled)
	case "d":
		return a.transition(model.BookingStatusCompleted)
	case "p":
		return a.transition(model.BookingStatusPending)
	case "h":
		if b := a.selected(); b != nil {
			return a, a.loadHistory(b.ID)
		}
	case "y":
		if b := a.selected(); b != nil {
			return a, a.copy(b.ID)
		}
	}
	return a, nil
}

func (a App) transition(status model.BookingStatus) (tea.Model, tea.Cmd) {
	b := a.selected()
	if b == nil || b.Status == status {
		return a, nil
	}
	return a, a.updateStatus(b.ID, status)
}

func (a App) selected() *model.Booking {
	if a.cursor < 0 || a.cursor >= len(a.bookings) {
		return nil
	}
	return a.bookings[a.cursor]
}

func (a *App) clampCursor() {
	if a.cursor >= len(a.bookings) {
		a.cursor = len(a.bookings) - 1
	}
	if a.cursor < 0 {
		a.cursor = 0
	}
}

func (a App) View() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("wheelhaven admin"))
	sb.WriteString("\n\n")

	switch a.decision.Outcome {
	case access.Pending:
		sb.WriteString(dimStyle.Render("Resolving access..."))
		sb.WriteString("\n\n")
		sb.WriteString(renderHelp("q", "quit"))
		return sb.String()
	case access.Redirect:
		sb.WriteString(a.renderRedirect())
		return sb.String()
	}

	sb.WriteString(a.renderBookings())
	if a.historyOpen {
		sb.WriteString("\n")
		sb.WriteString(a.renderHistory())
	}

	sb.WriteString("\n")
	switch {
	case a.err != nil:
		sb.WriteString(errorStyle.Render(errorMessage(a.err)))
		sb.WriteString("\n")
	case a.notice != "":
		sb.WriteString(noticeStyle.Render(a.notice))
		sb.WriteString("\n")
	}
	sb.WriteString(renderHelp(
		"j/k", "move", "c", "confirm", "x", "cancel", "d", "complete", "p", "pending",
		"h", "history", "y", "copy id", "r", "refresh", "s", "sign out", "q", "quit",
	))
	return sb.String()
}

func (a App) renderRedirect() string {
	var msg string
	if a.decision.RedirectTo == access.SignInPath {
		msg = "Sign in required. Set WHEELHAVEN_EMAIL and WHEELHAVEN_PASSWORD and restart."
	} else {
		msg = "Administrator privileges are required for this console."
		if a.view.Degraded {
			msg += " Your profile could not be loaded; try again shortly."
		}
	}

	help := renderHelp("q", "quit")
	if a.view.SignedIn {
		help = renderHelp("s", "sign out", "q", "quit")
	}
	return errorStyle.Render(msg) + "\n\n" + help
}

func (a App) renderBookings() string {
	if a.loading && len(a.bookings) == 0 {
		return dimStyle.Render("Loading bookings...") + "\n"
	}
	if len(a.bookings) == 0 {
		return dimStyle.Render("No bookings yet.") + "\n"
	}

	var sb strings.Builder
	for i, b := range a.bookings {
		line := fmt.Sprintf("%-8s  %-22s  %s..%s  %9s  ",
			shortID(b.ID),
			truncate(b.CarName, 22),
			b.StartDate.Format("2006-01-02"),
			b.EndDate.Format("2006-01-02"),
			formatCents(b.TotalPriceCents),
		)
		if i == a.cursor {
			sb.WriteString(selectedStyle.Render("> " + line))
		} else {
			sb.WriteString(normalStyle.Render("  " + line))
		}
		sb.WriteString(renderStatus(string(b.Status)))
		sb.WriteString("\n")
	}
	return sb.String()
}

func (a App) renderHistory() string {
	var sb strings.Builder
	sb.WriteString(dimStyle.Render("history " + shortID(a.historyFor)))
	sb.WriteString("\n")
	if len(a.history) == 0 {
		sb.WriteString(dimStyle.Render("no status changes"))
	}
	for i, e := range a.history {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(fmt.Sprintf("%s  %s -> %s  by %s",
			e.CreatedAt.Format("2006-01-02 15:04"),
			e.FromStatus, e.ToStatus, shortID(e.ActorID)))
	}
	return panelStyle.Render(sb.String()) + "\n"
}

func errorMessage(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Action != "" {
			return apiErr.Message + ". " + apiErr.Action
		}
		return apiErr.Message
	}
	return err.Error()
}

func formatCents(cents int64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
