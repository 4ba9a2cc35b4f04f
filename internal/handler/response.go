package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Nassermhasser/wheelhaven/internal/availability"
	"github.com/Nassermhasser/wheelhaven/internal/middleware"
	"github.com/Nassermhasser/wheelhaven/internal/model"
	"github.com/Nassermhasser/wheelhaven/internal/pricing"
)

// maxRequestBodyBytes はJSONリクエストボディの上限サイズ。
const maxRequestBodyBytes = 1 << 20

// sessionResponse はセッション情報のAPIレスポンス。
// トークンはBearer認証を使うクライアント向けにも返す。
type sessionResponse struct {
	SessionID   string    `json:"session_id"`
	Token       string    `json:"token"`
	PrincipalID string    `json:"principal_id"`
	Email       string    `json:"email"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// viewResponse はAuthViewのAPIレスポンス。
type viewResponse struct {
	SignedIn        bool   `json:"signed_in"`
	PrincipalID     string `json:"principal_id,omitempty"`
	IsAdministrator bool   `json:"is_administrator"`
	Settled         bool   `json:"settled"`
	Degraded        bool   `json:"degraded,omitempty"`
}

// profileResponse はプロフィールのAPIレスポンス。
type profileResponse struct {
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

// carResponse は車両のAPIレスポンス。
type carResponse struct {
	ID               string `json:"id"`
	Brand            string `json:"brand"`
	Name             string `json:"name"`
	PricePerDayCents int64  `json:"price_per_day_cents"`
	Capacity         int    `json:"capacity"`
	FuelType         string `json:"fuel_type"`
	Transmission     string `json:"transmission"`
	ImageURL         string `json:"image_url"`
	Featured         bool   `json:"featured"`
	Available        bool   `json:"available"`
}

// quoteResponse は見積もりのAPIレスポンス。
type quoteResponse struct {
	CarID            string `json:"car_id"`
	StartDate        string `json:"start_date"`
	EndDate          string `json:"end_date"`
	RentalDays       int    `json:"rental_days"`
	PricePerDayCents int64  `json:"price_per_day_cents"`
	TotalPriceCents  int64  `json:"total_price_cents"`
}

// bookingResponse は予約のAPIレスポンス。
type bookingResponse struct {
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

// statusEventResponse は予約ステータス変更履歴のAPIレスポンス。
type statusEventResponse struct {
	ID         string    `json:"id"`
	BookingID  string    `json:"booking_id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	ActorID    string    `json:"actor_id"`
	CreatedAt  time.Time `json:"created_at"`
}

func toSessionResponse(s *model.Session) sessionResponse {
	return sessionResponse{
		SessionID:   s.ID,
		Token:       s.Token,
		PrincipalID: s.PrincipalID,
		Email:       s.Email,
		ExpiresAt:   s.ExpiresAt,
	}
}

func toViewResponse(v model.AuthView) viewResponse {
	return viewResponse{
		SignedIn:        v.SignedIn,
		PrincipalID:     v.PrincipalID,
		IsAdministrator: v.IsAdministrator,
		Settled:         v.Settled,
		Degraded:        v.Degraded,
	}
}

func toProfileResponse(p *model.Profile) profileResponse {
	return profileResponse{
		ID:              p.ID,
		Email:           p.Email,
		FirstName:       p.FirstName,
		LastName:        p.LastName,
		Phone:           p.Phone,
		AvatarURL:       p.AvatarURL,
		IsAdministrator: p.IsAdministrator,
		EmailConfirmed:  p.EmailConfirmed,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

func toCarResponse(c *model.Car) carResponse {
	return carResponse{
		ID:               c.ID,
		Brand:            c.Brand,
		Name:             c.Name,
		PricePerDayCents: c.PricePerDayCents,
		Capacity:         c.Capacity,
		FuelType:         c.FuelType,
		Transmission:     c.Transmission,
		ImageURL:         c.ImageURL,
		Featured:         c.Featured,
		Available:        c.Available,
	}
}

func toQuoteResponse(carID, start, end string, q *pricing.Quote) quoteResponse {
	return quoteResponse{
		CarID:            carID,
		StartDate:        start,
		EndDate:          end,
		RentalDays:       q.RentalDays,
		PricePerDayCents: q.PricePerDayCents,
		TotalPriceCents:  q.TotalPriceCents,
	}
}

func toBookingResponse(b *model.Booking) bookingResponse {
	return bookingResponse{
		ID:              b.ID,
		CarID:           b.CarID,
		CarName:         b.CarName,
		RenterID:        b.RenterID,
		StartDate:       b.StartDate.Format(availability.DateLayout),
		EndDate:         b.EndDate.Format(availability.DateLayout),
		PickupLocation:  b.PickupLocation,
		DropoffLocation: b.DropoffLocation,
		PickupTime:      b.PickupTime,
		DropoffTime:     b.DropoffTime,
		TotalPriceCents: b.TotalPriceCents,
		Status:          string(b.Status),
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}

func toBookingResponses(bookings []*model.Booking) []bookingResponse {
	out := make([]bookingResponse, len(bookings))
	for i, b := range bookings {
		out[i] = toBookingResponse(b)
	}
	return out
}

func toStatusEventResponse(e *model.BookingStatusEvent) statusEventResponse {
	return statusEventResponse{
		ID:         e.ID,
		BookingID:  e.BookingID,
		FromStatus: string(e.FromStatus),
		ToStatus:   string(e.ToStatus),
		ActorID:    e.ActorID,
		CreatedAt:  e.CreatedAt,
	}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON はリクエストボディをJSONとして読み込む。
// 解析に失敗した場合は統一フォーマットの400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Kind:     model.KindValidation,
			Code:     "INVALID_REQUEST",
			Message:  "the request body could not be parsed",
			Category: "validation",
			Action:   "Send a valid JSON request body.",
		})
		return false
	}
	return true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
// 一時的障害と想定外のエラーのみログに記録し、原因はレスポンスに含めない。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch model.KindOf(err) {
	case model.KindUnavailable, model.KindUnexpected:
		slog.Error("service error",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	middleware.WriteAPIError(w, err)
}
