package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Nassermhasser/wheelhaven/internal/middleware"
	"github.com/Nassermhasser/wheelhaven/internal/model"
	"github.com/Nassermhasser/wheelhaven/internal/reservation"
)

// BookingServiceInterface は予約ハンドラーが必要とするサービスインターフェース。
// 認可判断はサービス層がAuthViewに基づいて行う。
type BookingServiceInterface interface {
	Create(ctx context.Context, view model.AuthView, req reservation.CreateRequest) (*model.Booking, error)
	ListMine(ctx context.Context, view model.AuthView) ([]*model.Booking, error)
	Get(ctx context.Context, view model.AuthView, bookingID string) (*model.Booking, error)
	ListAll(ctx context.Context, view model.AuthView) ([]*model.Booking, error)
	TransitionStatus(ctx context.Context, view model.AuthView, bookingID string, status model.BookingStatus) (*model.Booking, error)
	History(ctx context.Context, view model.AuthView, bookingID string) ([]*model.BookingStatusEvent, error)
}

// BookingHandler は予約のHTTPハンドラー。
type BookingHandler struct {
	service BookingServiceInterface
}

// NewBookingHandler はBookingHandlerを生成する。
func NewBookingHandler(service BookingServiceInterface) *BookingHandler {
	return &BookingHandler{service: service}
}

// updateStatusRequest はステータス変更リクエストのボディ。
type updateStatusRequest struct {
	Status string `json:"status"`
}

// CreateBooking は予約を作成する。
// POST /api/bookings
func (h *BookingHandler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req reservation.CreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	booking, err := h.service.Create(r.Context(), middleware.ViewFromContext(r.Context()), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingResponse(booking))
}

// ListMyBookings は呼び出し元の予約一覧を返す。
// GET /api/bookings/mine
func (h *BookingHandler) ListMyBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := h.service.ListMine(r.Context(), middleware.ViewFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponses(bookings))
}

// GetBooking は予約詳細を返す。所有者と管理者のみ参照できる。
// GET /api/bookings/{id}
func (h *BookingHandler) GetBooking(w http.ResponseWriter, r *http.Request) {
	booking, err := h.service.Get(r.Context(), middleware.ViewFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(booking))
}

// ListAllBookings は全予約を返す。
// GET /api/admin/bookings
func (h *BookingHandler) ListAllBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := h.service.ListAll(r.Context(), middleware.ViewFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponses(bookings))
}

// UpdateStatus は予約ステータスを変更する。
// PUT /api/admin/bookings/{id}/status
func (h *BookingHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	booking, err := h.service.TransitionStatus(r.Context(), middleware.ViewFromContext(r.Context()),
		chi.URLParam(r, "id"), model.BookingStatus(req.Status))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(booking))
}

// History は予約のステータス変更履歴を返す。
// GET /api/admin/bookings/{id}/history
func (h *BookingHandler) History(w http.ResponseWriter, r *http.Request) {
	events, err := h.service.History(r.Context(), middleware.ViewFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]statusEventResponse, len(events))
	for i, e := range events {
		resp[i] = toStatusEventResponse(e)
	}
	writeJSON(w, http.StatusOK, resp)
}
