package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Nassermhasser/wheelhaven/internal/identity"
	"github.com/Nassermhasser/wheelhaven/internal/middleware"
)

// HealthChecker はヘルスチェックでDB接続を確認するためのインターフェース。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	HealthChecker     HealthChecker
	SessionVerifier   middleware.SessionVerifier
	ProfileReader     identity.ProfileReader
	AuthRecorder      middleware.AuthRecorder
	StatusRecorder    middleware.HTTPStatusRecorder
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter

	// リクエストログ（nilの場合はslog.Default()）
	Logger *slog.Logger

	// メトリクス（nilの場合は/metricsを公開しない）
	MetricsHandler http.Handler

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// カタログ・予約・プロフィール
	CatalogService CatalogServiceInterface
	BookingService BookingServiceInterface
	ProfileService ProfileServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Metrics → Logging → Auth → RateLimit(General) → CSRF
//
// ゲート（RequireSignedIn / RequireAdministrator）はルートグループごとに適用する。
// /health と /metrics はミドルウェアチェーンの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	catalogHandler := NewCatalogHandler(deps.CatalogService)
	bookingHandler := NewBookingHandler(deps.BookingService)
	profileHandler := NewProfileHandler(deps.ProfileService)

	r.Group(func(r chi.Router) {
		if deps.StatusRecorder != nil {
			r.Use(middleware.NewMetricsMiddleware(deps.StatusRecorder))
		}
		r.Use(middleware.NewLoggingMiddleware(logger))
		r.Use(middleware.NewAuthMiddleware(deps.SessionVerifier, deps.ProfileReader, deps.AuthRecorder))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

		// --- 認証 ---
		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", authHandler.SignUp)
			r.Post("/signin", authHandler.SignIn)
			r.Post("/signout", authHandler.SignOut)
			r.Get("/session", authHandler.Session)
			r.Get("/confirm", authHandler.Confirm)
			r.Get("/me", authHandler.Me)
			r.With(middleware.NewRequireSignedIn()).Post("/refresh", authHandler.Refresh)
		})

		// --- カタログ（認証不要） ---
		r.Route("/api/cars", func(r chi.Router) {
			r.Get("/", catalogHandler.ListCars)
			r.Get("/{id}", catalogHandler.GetCar)
			r.Get("/{id}/quote", catalogHandler.Quote)
		})
		r.Get("/api/booking-options", catalogHandler.BookingOptions)

		// --- サインインが必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewRequireSignedIn())

			r.Route("/api/bookings", func(r chi.Router) {
				// POST /api/bookings - 予約作成（予約専用レート制限を追加）
				r.With(deps.RateLimiter.BookingMiddleware()).Post("/", bookingHandler.CreateBooking)
				r.Get("/mine", bookingHandler.ListMyBookings)
				r.Get("/{id}", bookingHandler.GetBooking)
			})

			r.Route("/api/profiles/{id}", func(r chi.Router) {
				r.Get("/", profileHandler.GetProfile)
				r.Patch("/", profileHandler.UpdateProfile)
			})
		})

		// --- 管理者専用ルート ---
		r.Route("/api/admin", func(r chi.Router) {
			r.Use(middleware.NewRequireAdministrator())

			r.Get("/bookings", bookingHandler.ListAllBookings)
			r.Put("/bookings/{id}/status", bookingHandler.UpdateStatus)
			r.Get("/bookings/{id}/history", bookingHandler.History)

			r.Get("/administrators", profileHandler.ListAdministrators)
			r.Post("/administrators", profileHandler.CreateAdministrator)
		})
	})

	return r
}

// healthHandler はDB接続を確認するヘルスチェックハンドラーを返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
