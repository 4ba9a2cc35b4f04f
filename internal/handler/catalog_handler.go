package handler

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Nassermhasser/wheelhaven/internal/catalog"
	"github.com/Nassermhasser/wheelhaven/internal/model"
	"github.com/Nassermhasser/wheelhaven/internal/pricing"
)

// CatalogServiceInterface はカタログハンドラーが必要とするサービスインターフェース。
type CatalogServiceInterface interface {
	List(ctx context.Context, filter model.CarFilter) ([]*model.Car, error)
	Get(ctx context.Context, carID string) (*model.Car, error)
	Quote(ctx context.Context, carID, startDate, endDate string) (*pricing.Quote, error)
	Options() catalog.BookingOptions
}

// CatalogHandler は車両カタログのHTTPハンドラー。
type CatalogHandler struct {
	service CatalogServiceInterface
}

// NewCatalogHandler はCatalogHandlerを生成する。
func NewCatalogHandler(service CatalogServiceInterface) *CatalogHandler {
	return &CatalogHandler{service: service}
}

// ListCars は車両一覧を返す。
// GET /api/cars?min_price=&max_price=&brand=&transmission=&fuel_type=&featured=&q=
func (h *CatalogHandler) ListCars(w http.ResponseWriter, r *http.Request) {
	filter, err := parseCarFilter(r.URL.Query())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	cars, err := h.service.List(r.Context(), filter)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]carResponse, len(cars))
	for i, c := range cars {
		resp[i] = toCarResponse(c)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetCar は車両詳細を返す。
// GET /api/cars/{id}
func (h *CatalogHandler) GetCar(w http.ResponseWriter, r *http.Request) {
	car, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCarResponse(car))
}

// Quote は指定期間の見積もりを返す。
// GET /api/cars/{id}/quote?start_date=YYYY-MM-DD&end_date=YYYY-MM-DD
func (h *CatalogHandler) Quote(w http.ResponseWriter, r *http.Request) {
	carID := chi.URLParam(r, "id")
	start := r.URL.Query().Get("start_date")
	end := r.URL.Query().Get("end_date")

	q, err := h.service.Quote(r.Context(), carID, start, end)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toQuoteResponse(carID, start, end, q))
}

// BookingOptions は予約フォームの選択肢を返す。
// GET /api/booking-options
func (h *CatalogHandler) BookingOptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Options())
}

// parseCarFilter はクエリパラメータからCarFilterを組み立てる。
// brandは複数指定とカンマ区切りの両方を受け付ける。
func parseCarFilter(q url.Values) (model.CarFilter, error) {
	var filter model.CarFilter

	for _, p := range []struct {
		key string
		dst *int64
	}{
		{"min_price", &filter.MinPriceCents},
		{"max_price", &filter.MaxPriceCents},
	} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return model.CarFilter{}, model.NewValidationError(p.key + " must be an integer amount in cents")
		}
		*p.dst = n
	}

	for _, v := range q["brand"] {
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				filter.Brands = append(filter.Brands, b)
			}
		}
	}

	filter.Transmission = strings.TrimSpace(q.Get("transmission"))
	filter.FuelType = strings.TrimSpace(q.Get("fuel_type"))
	filter.Search = q.Get("q")

	if v := q.Get("featured"); v != "" {
		featured, err := strconv.ParseBool(v)
		if err != nil {
			return model.CarFilter{}, model.NewValidationError("featured must be true or false")
		}
		filter.FeaturedOnly = featured
	}

	return filter, nil
}
