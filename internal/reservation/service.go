// Package reservation は予約の作成とステータス管理のドメインロジックを提供する。
package reservation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Nassermhasser/wheelhaven/internal/access"
	"github.com/Nassermhasser/wheelhaven/internal/availability"
	"github.com/Nassermhasser/wheelhaven/internal/model"
	"github.com/Nassermhasser/wheelhaven/internal/pricing"
	"github.com/Nassermhasser/wheelhaven/internal/repository"
)

// CreateRequest は予約作成の入力。日付はYYYY-MM-DD、時刻は30分刻みのHH:MM。
type CreateRequest struct {
	CarID           string `json:"car_id"`
	StartDate       string `json:"start_date"`
	EndDate         string `json:"end_date"`
	PickupLocation  string `json:"pickup_location"`
	DropoffLocation string `json:"dropoff_location"`
	PickupTime      string `json:"pickup_time"`
	DropoffTime     string `json:"dropoff_time"`
}

// Recorder は予約に関するメトリクスの記録先。metrics.Collectorが満たす。
type Recorder interface {
	RecordBookingCreated()
	RecordBookingRejected(kind string)
	RecordBookingTransition(from, to string)
}

type nopRecorder struct{}

func (nopRecorder) RecordBookingCreated()                  {}
func (nopRecorder) RecordBookingRejected(string)           {}
func (nopRecorder) RecordBookingTransition(string, string) {}

// Service は予約管理のサービス層。
// 予約作成、ステータス変更、一覧・履歴取得のビジネスロジックを提供する。
type Service struct {
	bookings repository.BookingRepository
	cars     repository.CarRepository
	notifier Notifier
	recorder Recorder
	logger   *slog.Logger
	loc      *time.Location
	now      func() time.Time
	newID    func() string
}

// NewService はServiceの新しいインスタンスを生成する。
// locは予約日付を解釈するタイムゾーン。nilの場合はUTCを使用する。
func NewService(
	bookings repository.BookingRepository,
	cars repository.CarRepository,
	loc *time.Location,
	logger *slog.Logger,
	recorder Recorder,
) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Service{
		bookings: bookings,
		cars:     cars,
		notifier: NewLogNotifier(logger, recorder),
		recorder: recorder,
		logger:   logger,
		loc:      loc,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// Create は予約リクエストを検証し、保留状態の予約を作成する。
// 同一内容の再送信でも新しい予約を作成する。
func (s *Service) Create(ctx context.Context, view model.AuthView, req CreateRequest) (*model.Booking, error) {
	b, err := s.create(ctx, view, req)
	if err != nil {
		s.recorder.RecordBookingRejected(string(model.KindOf(err)))
		return nil, err
	}
	s.recorder.RecordBookingCreated()
	s.logger.InfoContext(ctx, "booking created",
		slog.String("booking_id", b.ID),
		slog.String("renter_id", b.RenterID),
		slog.String("car_id", b.CarID),
		slog.Int64("total_price_cents", b.TotalPriceCents),
	)
	return b, nil
}

func (s *Service) create(ctx context.Context, view model.AuthView, req CreateRequest) (*model.Booking, error) {
	// 1. サインイン済みの確定したViewが必要
	if err := access.RequireSignedIn(view).Err(); err != nil {
		return nil, err
	}

	// 2. 日時・場所の検証（受取日時・返却日時はレンタル地域のタイムゾーンで比較する）
	start, err := availability.ParseDate("pickup date", req.StartDate, s.loc)
	if err != nil {
		return nil, err
	}
	end, err := availability.ParseDate("drop-off date", req.EndDate, s.loc)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := availability.ValidateSelection(now, availability.Selection{
		StartDate:       start,
		EndDate:         end,
		PickupTime:      req.PickupTime,
		DropoffTime:     req.DropoffTime,
		PickupLocation:  req.PickupLocation,
		DropoffLocation: req.DropoffLocation,
	}); err != nil {
		return nil, err
	}

	// 3. カタログの日額で合計金額を算出
	car, err := s.cars.FindByID(ctx, req.CarID)
	if err != nil {
		return nil, model.NewUnavailableError(fmt.Errorf("failed to find car: %w", err))
	}
	if car == nil {
		return nil, model.NewCarNotFoundError(req.CarID)
	}

	// 4. 保留状態で保存
	createdAt := now.UTC().Truncate(time.Microsecond)
	b := &model.Booking{
		ID:              s.newID(),
		CarID:           car.ID,
		CarName:         car.DisplayName(),
		RenterID:        view.PrincipalID,
		StartDate:       start,
		EndDate:         end,
		PickupLocation:  req.PickupLocation,
		DropoffLocation: req.DropoffLocation,
		PickupTime:      req.PickupTime,
		DropoffTime:     req.DropoffTime,
		TotalPriceCents: pricing.TotalPrice(start, end, car.PricePerDayCents),
		Status:          model.BookingStatusPending,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
	if err := s.bookings.Create(ctx, b); err != nil {
		return nil, model.NewUnavailableError(fmt.Errorf("failed to create booking: %w", err))
	}
	return b, nil
}

// TransitionStatus は管理者として予約ステータスを変更する。
// 任意のステータスから既定の4値のいずれへも遷移でき、同じ値への再変更も受け付ける。
// updatedAtは常に直前の値より大きくなる。
func (s *Service) TransitionStatus(ctx context.Context, view model.AuthView, bookingID string, status model.BookingStatus) (*model.Booking, error) {
	if !view.Settled {
		return nil, model.NewAuthPendingError()
	}
	if !view.IsAdministrator {
		return nil, model.NewForbiddenError("only administrators can change booking status")
	}
	if !status.Valid() {
		return nil, model.NewInvalidStatusError(string(status))
	}

	var from model.BookingStatus
	updated, err := s.bookings.UpdateStatus(ctx, bookingID, func(b *model.Booking) (*model.BookingStatusEvent, error) {
		from = b.Status
		at := s.now().UTC().Truncate(time.Microsecond)
		if !at.After(b.UpdatedAt) {
			at = b.UpdatedAt.Add(time.Microsecond)
		}
		b.Status = status
		b.UpdatedAt = at
		return &model.BookingStatusEvent{
			ID:         s.newID(),
			BookingID:  b.ID,
			FromStatus: from,
			ToStatus:   status,
			ActorID:    view.PrincipalID,
			CreatedAt:  at,
		}, nil
	})
	if err != nil {
		return nil, model.NewUnavailableError(fmt.Errorf("failed to update booking status: %w", err))
	}
	if updated == nil {
		return nil, model.NewBookingNotFoundError(bookingID)
	}

	s.notifier.StatusChanged(ctx, updated, from, view.PrincipalID)
	return updated, nil
}

// ListAll は全予約を新しい順に返す。管理者のみ。
func (s *Service) ListAll(ctx context.Context, view model.AuthView) ([]*model.Booking, error) {
	if err := requireAdministrator(view); err != nil {
		return nil, err
	}
	bookings, err := s.bookings.ListAll(ctx)
	if err != nil {
		return nil, model.NewUnavailableError(fmt.Errorf("failed to list bookings: %w", err))
	}
	return nonNil(bookings), nil
}

// ListMine はサインイン中の利用者自身の予約を新しい順に返す。
func (s *Service) ListMine(ctx context.Context, view model.AuthView) ([]*model.Booking, error) {
	if err := access.RequireSignedIn(view).Err(); err != nil {
		return nil, err
	}
	bookings, err := s.bookings.ListByRenter(ctx, view.PrincipalID)
	if err != nil {
		return nil, model.NewUnavailableError(fmt.Errorf("failed to list bookings: %w", err))
	}
	return nonNil(bookings), nil
}

// Get は予約を1件返す。予約者本人または管理者のみ参照でき、
// それ以外の利用者には存在しない予約として扱う。
func (s *Service) Get(ctx context.Context, view model.AuthView, bookingID string) (*model.Booking, error) {
	if err := access.RequireSignedIn(view).Err(); err != nil {
		return nil, err
	}
	b, err := s.bookings.FindByID(ctx, bookingID)
	if err != nil {
		return nil, model.NewUnavailableError(fmt.Errorf("failed to find booking: %w", err))
	}
	if b == nil || (b.RenterID != view.PrincipalID && !view.IsAdministrator) {
		return nil, model.NewBookingNotFoundError(bookingID)
	}
	return b, nil
}

// History は予約のステータス変更履歴を古い順に返す。管理者のみ。
func (s *Service) History(ctx context.Context, view model.AuthView, bookingID string) ([]*model.BookingStatusEvent, error) {
	if err := requireAdministrator(view); err != nil {
		return nil, err
	}
	b, err := s.bookings.FindByID(ctx, bookingID)
	if err != nil {
		return nil, model.NewUnavailableError(fmt.Errorf("failed to find booking: %w", err))
	}
	if b == nil {
		return nil, model.NewBookingNotFoundError(bookingID)
	}
	events, err := s.bookings.ListStatusEvents(ctx, bookingID)
	if err != nil {
		return nil, model.NewUnavailableError(fmt.Errorf("failed to list status events: %w", err))
	}
	if events == nil {
		events = []*model.BookingStatusEvent{}
	}
	return events, nil
}

func requireAdministrator(view model.AuthView) error {
	return access.RequireAdministrator(view).Err()
}

func nonNil(bookings []*model.Booking) []*model.Booking {
	if bookings == nil {
		return []*model.Booking{}
	}
	return bookings
}
