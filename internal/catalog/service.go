// Package catalog は車両カタログの検索と見積もりを提供する。
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Nassermhasser/wheelhaven/internal/availability"
	"github.com/Nassermhasser/wheelhaven/internal/model"
	"github.com/Nassermhasser/wheelhaven/internal/pricing"
	"github.com/Nassermhasser/wheelhaven/internal/repository"
)

// BookingOptions は予約フォームで選択できる場所と時刻。
type BookingOptions struct {
	Locations []availability.Location `json:"locations"`
	TimeSlots []string                `json:"time_slots"`
}

// Service は車両カタログのサービス層。認証は不要。
type Service struct {
	cars repository.CarRepository
	loc  *time.Location
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(cars repository.CarRepository, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{cars: cars, loc: loc}
}

// List はフィルタ条件に一致する車両を返す。
func (s *Service) List(ctx context.Context, filter model.CarFilter) ([]*model.Car, error) {
	if filter.MinPriceCents < 0 || filter.MaxPriceCents < 0 {
		return nil, model.NewValidationError("price filters must not be negative")
	}
	if filter.MaxPriceCents > 0 && filter.MinPriceCents > filter.MaxPriceCents {
		return nil, model.NewValidationError("minimum price must not exceed maximum price")
	}
	filter.Search = strings.TrimSpace(filter.Search)

	cars, err := s.cars.List(ctx, filter)
	if err != nil {
		return nil, model.NewUnavailableError(fmt.Errorf("failed to list cars: %w", err))
	}
	if cars == nil {
		cars = []*model.Car{}
	}
	return cars, nil
}

// Get は車両を1件返す。
func (s *Service) Get(ctx context.Context, carID string) (*model.Car, error) {
	car, err := s.cars.FindByID(ctx, carID)
	if err != nil {
		return nil, model.NewUnavailableError(fmt.Errorf("failed to find car: %w", err))
	}
	if car == nil {
		return nil, model.NewCarNotFoundError(carID)
	}
	return car, nil
}

// Quote は指定期間の見積もりを返す。予約作成時と同じ計算を行う。
func (s *Service) Quote(ctx context.Context, carID, startDate, endDate string) (*pricing.Quote, error) {
	start, err := availability.ParseDate("pickup date", startDate, s.loc)
	if err != nil {
		return nil, err
	}
	end, err := availability.ParseDate("drop-off date", endDate, s.loc)
	if err != nil {
		return nil, err
	}
	if start.IsZero() || end.IsZero() {
		return nil, model.NewValidationError("please select pickup and drop-off dates")
	}
	if end.Before(start) {
		return nil, model.NewValidationError("drop-off date must be after pickup date")
	}

	car, err := s.Get(ctx, carID)
	if err != nil {
		return nil, err
	}
	q := pricing.NewQuote(start, end, car.PricePerDayCents)
	return &q, nil
}

// Options は予約フォームの選択肢を返す。
func (s *Service) Options() BookingOptions {
	return BookingOptions{
		Locations: availability.Locations(),
		TimeSlots: availability.TimeSlots(),
	}
}
