package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/Nassermhasser/wheelhaven/internal/catalog"
	"github.com/Nassermhasser/wheelhaven/internal/model"
	"github.com/Nassermhasser/wheelhaven/internal/pricing"
)

// --- モック定義 ---

type mockCatalogService struct {
	listFn  func(ctx context.Context, filter model.CarFilter) ([]*model.Car, error)
	getFn   func(ctx context.Context, carID string) (*model.Car, error)
	quoteFn func(ctx context.Context, carID, startDate, endDate string) (*pricing.Quote, error)
	options catalog.BookingOptions
}

func (m *mockCatalogService) List(ctx context.Context, filter model.CarFilter) ([]*model.Car, error) {
	if m.listFn != nil {
		return m.listFn(ctx, filter)
	}
	return []*model.Car{}, nil
}

func (m *mockCatalogService) Get(ctx context.Context, carID string) (*model.Car, error) {
	if m.getFn != nil {
		return m.getFn(ctx, carID)
	}
	return nil, model.NewCarNotFoundError(carID)
}

func (m *mockCatalogService) Quote(ctx context.Context, carID, startDate, endDate string) (*pricing.Quote, error) {
	if m.quoteFn != nil {
		return m.quoteFn(ctx, carID, startDate, endDate)
	}
	return nil, model.NewCarNotFoundError(carID)
}

func (m *mockCatalogService) Options() catalog.BookingOptions {
	return m.options
}

var _ CatalogServiceInterface = (*mockCatalogService)(nil)

// newCatalogRouter はURLパラメータを解決するためchiでハンドラーを組み立てる。
func newCatalogRouter(svc CatalogServiceInterface) http.Handler {
	h := NewCatalogHandler(svc)
	r := chi.NewRouter()
	r.Get("/api/cars", h.ListCars)
	r.Get("/api/cars/{id}", h.GetCar)
	r.Get("/api/cars/{id}/quote", h.Quote)
	r.Get("/api/booking-options", h.BookingOptions)
	return r
}

// --- テスト ---

func TestParseCarFilter(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    model.CarFilter
		wantErr bool
	}{
		{
			name:  "条件なし",
			query: "",
			want:  model.CarFilter{},
		},
		{
			name:  "価格帯",
			query: "min_price=5000&max_price=12000",
			want:  model.CarFilter{MinPriceCents: 5000, MaxPriceCents: 12000},
		},
		{
			name:  "ブランドの複数指定とカンマ区切り",
			query: "brand=Toyota,%20Honda&brand=BMW&brand=",
			want:  model.CarFilter{Brands: []string{"Toyota", "Honda", "BMW"}},
		},
		{
			name:  "変速機・燃料・注目・検索語",
			query: "transmission=automatic&fuel_type=electric&featured=true&q=model",
			want: model.CarFilter{
				Transmission: "automatic",
				FuelType:     "electric",
				FeaturedOnly: true,
				Search:       "model",
			},
		},
		{
			name:    "価格が整数でない",
			query:   "min_price=12.50",
			wantErr: true,
		},
		{
			name:    "featuredが真偽値でない",
			query:   "featured=yes-please",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			if err != nil {
				t.Fatalf("ParseQuery: %v", err)
			}

			got, err := parseCarFilter(q)
			if tt.wantErr {
				if !model.IsKind(err, model.KindValidation) {
					t.Errorf("err = %v, want validation error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("filter = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCatalogHandler_ListCars(t *testing.T) {
	var gotFilter model.CarFilter
	svc := &mockCatalogService{
		listFn: func(ctx context.Context, filter model.CarFilter) ([]*model.Car, error) {
			gotFilter = filter
			return []*model.Car{
				{ID: "car-1", Brand: "Tesla", Name: "Model 3", PricePerDayCents: 8900, Featured: true, Available: true},
				{ID: "car-2", Brand: "Toyota", Name: "Corolla", PricePerDayCents: 4500, Available: true},
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/cars?max_price=9000", nil)
	w := httptest.NewRecorder()
	newCatalogRouter(svc).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotFilter.MaxPriceCents != 9000 {
		t.Errorf("MaxPriceCents = %d, want 9000", gotFilter.MaxPriceCents)
	}

	var got []carResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(got) != 2 || got[0].ID != "car-1" || got[0].PricePerDayCents != 8900 {
		t.Errorf("cars = %+v", got)
	}
}

func TestCatalogHandler_ListCars_EmptyIsArray(t *testing.T) {
	w := httptest.NewRecorder()
	newCatalogRouter(&mockCatalogService{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/cars", nil))

	if body := w.Body.String(); body != "[]\n" {
		t.Errorf("body = %q, want empty JSON array", body)
	}
}

func TestCatalogHandler_ListCars_InvalidFilter_Returns400(t *testing.T) {
	svc := &mockCatalogService{
		listFn: func(ctx context.Context, filter model.CarFilter) ([]*model.Car, error) {
			t.Fatal("service should not be called")
			return nil, nil
		},
	}

	w := httptest.NewRecorder()
	newCatalogRouter(svc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/cars?min_price=abc", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestCatalogHandler_GetCar_NotFound_Returns404(t *testing.T) {
	w := httptest.NewRecorder()
	newCatalogRouter(&mockCatalogService{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/cars/missing", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestCatalogHandler_Quote(t *testing.T) {
	svc := &mockCatalogService{
		quoteFn: func(ctx context.Context, carID, startDate, endDate string) (*pricing.Quote, error) {
			if carID != "car-1" || startDate != "2030-05-01" || endDate != "2030-05-04" {
				t.Errorf("Quote(%q, %q, %q)", carID, startDate, endDate)
			}
			return &pricing.Quote{RentalDays: 3, PricePerDayCents: 4500, TotalPriceCents: 13500}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/cars/car-1/quote?start_date=2030-05-01&end_date=2030-05-04", nil)
	w := httptest.NewRecorder()
	newCatalogRouter(svc).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var got quoteResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	want := quoteResponse{
		CarID:            "car-1",
		StartDate:        "2030-05-01",
		EndDate:          "2030-05-04",
		RentalDays:       3,
		PricePerDayCents: 4500,
		TotalPriceCents:  13500,
	}
	if got != want {
		t.Errorf("quote = %+v, want %+v", got, want)
	}
}

func TestCatalogHandler_Quote_InvalidDates_Returns400(t *testing.T) {
	svc := &mockCatalogService{
		quoteFn: func(ctx context.Context, carID, startDate, endDate string) (*pricing.Quote, error) {
			return nil, model.NewValidationError("end date must not be before start date")
		},
	}

	w := httptest.NewRecorder()
	newCatalogRouter(svc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/cars/car-1/quote?start_date=2030-05-04&end_date=2030-05-01", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestCatalogHandler_BookingOptions(t *testing.T) {
	svc := &mockCatalogService{
		options: catalog.BookingOptions{TimeSlots: []string{"09:00", "09:30"}},
	}

	w := httptest.NewRecorder()
	newCatalogRouter(svc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/booking-options", nil))

	var got catalog.BookingOptions
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if !reflect.DeepEqual(got.TimeSlots, []string{"09:00", "09:30"}) {
		t.Errorf("TimeSlots = %v", got.TimeSlots)
	}
}
