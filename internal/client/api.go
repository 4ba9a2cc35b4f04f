package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Nassermhasser/wheelhaven/internal/availability"
	"github.com/Nassermhasser/wheelhaven/internal/model"
)

type viewBody struct {
	SignedIn        bool   `json:"signed_in"`
	PrincipalID     string `json:"principal_id,omitempty"`
	IsAdministrator bool   `json:"is_administrator"`
	Settled         bool   `json:"settled"`
	Degraded        bool   `json:"degraded,omitempty"`
}

type profileBody struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	FirstName       string    `json:"first_name"`
	LastName        string    `json:"last_name"`
	Phone           string    `json:"phone"`
	AvatarURL       string    `json:"avatar_url"`
	IsAdministrator bool      `json:"is_administrator"`
	EmailConfirmed  bool      `json:"email_confirmed"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (b profileBody) toModel() *model.Profile {
	return &model.Profile{
		ID:              b.ID,
		Email:           b.Email,
		FirstName:       b.FirstName,
		LastName:        b.LastName,
		Phone:           b.Phone,
		AvatarURL:       b.AvatarURL,
		IsAdministrator: b.IsAdministrator,
		EmailConfirmed:  b.EmailConfirmed,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}

type bookingBody struct {
	ID              string    `json:"id"`
	CarID           string    `json:"car_id"`
	CarName         string    `json:"car_name"`
	RenterID        string    `json:"renter_id"`
	StartDate       string    `json:"start_date"`
	EndDate         string    `json:"end_date"`
	PickupLocation  string    `json:"pickup_location"`
	DropoffLocation string    `json:"dropoff_location"`
	PickupTime      string    `json:"pickup_time"`
	DropoffTime     string    `json:"dropoff_time"`
	TotalPriceCents int64     `json:"total_price_cents"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (b bookingBody) toModel() (*model.Booking, error) {
	start, err := time.Parse(availability.DateLayout, b.StartDate)
	if err != nil {
		return nil, fmt.Errorf("start_dateのパースに失敗しました: %w", err)
	}
	end, err := time.Parse(availability.DateLayout, b.EndDate)
	if err != nil {
		return nil, fmt.Errorf("end_dateのパースに失敗しました: %w", err)
	}
	return &model.Booking{
		ID:              b.ID,
		CarID:           b.CarID,
		CarName:         b.CarName,
		RenterID:        b.RenterID,
		StartDate:       start,
		EndDate:         end,
		PickupLocation:  b.PickupLocation,
		DropoffLocation: b.DropoffLocation,
		PickupTime:      b.PickupTime,
		DropoffTime:     b.DropoffTime,
		TotalPriceCents: b.TotalPriceCents,
		Status:          model.BookingStatus(b.Status),
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}, nil
}

type statusEventBody struct {
	ID         string    `json:"id"`
	BookingID  string    `json:"booking_id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	ActorID    string    `json:"actor_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// GetProfile は指定した認証主体のプロフィールを取得する。
// 存在しない場合は errors.Is(err, model.ErrProfileNotFound) を満たすエラーを返す。
func (c *Client) GetProfile(ctx context.Context, principalID string) (*model.Profile, error) {
	var body profileBody
	if err := c.do(ctx, http.MethodGet, "/api/profiles/"+url.PathEscape(principalID), nil, &body); err != nil {
		if IsNotFound(err) {
			return nil, model.NewProfileNotFoundError(principalID)
		}
		return nil, err
	}
	return body.toModel(), nil
}

// Me はサーバーが導出した呼び出し元のAuthViewを返す。
func (c *Client) Me(ctx context.Context) (model.AuthView, error) {
	var body viewBody
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, &body); err != nil {
		return model.AuthView{}, err
	}
	return model.AuthView{
		SignedIn:        body.SignedIn,
		PrincipalID:     body.PrincipalID,
		IsAdministrator: body.IsAdministrator,
		Settled:         body.Settled,
		Degraded:        body.Degraded,
	}, nil
}

// ListAllBookings は全予約を作成日時の降順で返す。管理者専用。
func (c *Client) ListAllBookings(ctx context.Context) ([]*model.Booking, error) {
	return c.listBookings(ctx, "/api/admin/bookings")
}

// ListMyBookings は呼び出し元の予約を作成日時の降順で返す。
func (c *Client) ListMyBookings(ctx context.Context) ([]*model.Booking, error) {
	return c.listBookings(ctx, "/api/bookings/mine")
}

func (c *Client) listBookings(ctx context.Context, path string) ([]*model.Booking, error) {
	var body []bookingBody
	if err := c.do(ctx, http.MethodGet, path, nil, &body); err != nil {
		return nil, err
	}

	bookings := make([]*model.Booking, 0, len(body))
	for _, b := range body {
		booking, err := b.toModel()
		if err != nil {
			return nil, model.NewInternalError(err)
		}
		bookings = append(bookings, booking)
	}
	return bookings, nil
}

// UpdateBookingStatus は予約ステータスを変更する。管理者専用。
func (c *Client) UpdateBookingStatus(ctx context.Context, bookingID string, status model.BookingStatus) (*model.Booking, error) {
	req := struct {
		Status string `json:"status"`
	}{Status: string(status)}

	var body bookingBody
	path := "/api/admin/bookings/" + url.PathEscape(bookingID) + "/status"
	if err := c.do(ctx, http.MethodPut, path, req, &body); err != nil {
		return nil, err
	}

	booking, err := body.toModel()
	if err != nil {
		return nil, model.NewInternalError(err)
	}
	return booking, nil
}

// BookingHistory は予約のステータス変更履歴を古い順に返す。管理者専用。
func (c *Client) BookingHistory(ctx context.Context, bookingID string) ([]*model.BookingStatusEvent, error) {
	var body []statusEventBody
	path := "/api/admin/bookings/" + url.PathEscape(bookingID) + "/history"
	if err := c.do(ctx, http.MethodGet, path, nil, &body); err != nil {
		return nil, err
	}

	events := make([]*model.BookingStatusEvent, len(body))
	for i, e := range body {
		events[i] = &model.BookingStatusEvent{
			ID:         e.ID,
			BookingID:  e.BookingID,
			FromStatus: model.BookingStatus(e.FromStatus),
			ToStatus:   model.BookingStatus(e.ToStatus),
			ActorID:    e.ActorID,
			CreatedAt:  e.CreatedAt,
		}
	}
	return events, nil
}
