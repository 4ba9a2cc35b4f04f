package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/Nassermhasser/wheelhaven/internal/auth"
	"github.com/Nassermhasser/wheelhaven/internal/catalog"
	"github.com/Nassermhasser/wheelhaven/internal/client"
	"github.com/Nassermhasser/wheelhaven/internal/config"
	"github.com/Nassermhasser/wheelhaven/internal/console"
	"github.com/Nassermhasser/wheelhaven/internal/database"
	"github.com/Nassermhasser/wheelhaven/internal/handler"
	"github.com/Nassermhasser/wheelhaven/internal/identity"
	"github.com/Nassermhasser/wheelhaven/internal/logger"
	"github.com/Nassermhasser/wheelhaven/internal/metrics"
	"github.com/Nassermhasser/wheelhaven/internal/middleware"
	"github.com/Nassermhasser/wheelhaven/internal/profile"
	"github.com/Nassermhasser/wheelhaven/internal/repository"
	"github.com/Nassermhasser/wheelhaven/internal/reservation"
	"github.com/Nassermhasser/wheelhaven/internal/security"
	"github.com/Nassermhasser/wheelhaven/internal/worker/cleanup"
)

const (
	shutdownTimeout = 30 * time.Second
	pingTimeout     = 5 * time.Second
)

// Init はアプリケーションの初期化を行う。
// .envファイルと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. .envファイルを読み込む（既存の環境変数は上書きしない）
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 4. 設定されたログレベルで再初期化
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)
	var rest []string
	if len(args) > 1 {
		rest = args[1:]
	}

	// healthcheck と console はサーバー設定を必要としないため、フル初期化をスキップする
	switch cmd {
	case CommandHealthcheck:
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	case CommandConsole:
		if err := config.LoadDotEnv(); err != nil {
			return err
		}
		return runConsole(config.LoadConsole())
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg, rest)
	case CommandBootstrapAdmin:
		return runBootstrapAdmin(cfg, rest)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	return db, nil
}

// sessionRepository はセッションリポジトリを構築する。
// REDIS_URLが設定されている場合はRedisキャッシュで包み、Redisクライアントを返す。
func sessionRepository(cfg *config.Config, db *sql.DB) (repository.SessionRepository, *redis.Client, error) {
	base := repository.NewPostgresSessionRepo(db)
	if cfg.RedisURL == "" {
		return base, nil, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("redis session cache enabled")
	return repository.NewCachedSessionRepo(base, rdb, slog.Default()), rdb, nil
}

// services はserveとbootstrap-adminが共有するドメインサービス群。
type services struct {
	auth        *auth.Service
	profile     *profile.Service
	catalog     *catalog.Service
	reservation *reservation.Service
}

// buildServices はリポジトリからドメインサービスを構築する。
func buildServices(cfg *config.Config, db *sql.DB, sessions repository.SessionRepository, collector *metrics.Collector) *services {
	// 1. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	profileRepo := repository.NewPostgresProfileRepo(db)
	carRepo := repository.NewPostgresCarRepo(db)
	bookingRepo := repository.NewPostgresBookingRepo(db)

	// 2. セキュリティサービスの初期化
	sanitizer := security.NewTextSanitizer()

	// 3. ドメインサービスの初期化
	authService := auth.NewService(userRepo, profileRepo, sessions, sanitizer, auth.ServiceConfig{
		Secret:                   cfg.SessionSecret,
		SessionMaxAge:            cfg.SessionMaxAge,
		RequireEmailConfirmation: cfg.RequireEmailConfirmation,
		MinPasswordLength:        cfg.MinPasswordLength,
	})

	var recorder reservation.Recorder
	if collector != nil {
		recorder = collector
	}

	return &services{
		auth:        authService,
		profile:     profile.NewService(profileRepo, userRepo, authService, sanitizer),
		catalog:     catalog.NewService(carRepo, cfg.RentalTimezone),
		reservation: reservation.NewService(bookingRepo, carRepo, cfg.RentalTimezone, slog.Default(), recorder),
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. セッションストア（Redisキャッシュは任意）
	sessions, rdb, err := sessionRepository(cfg, db)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// 3. メトリクス
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	// 4. ドメインサービス
	svc := buildServices(cfg, db, sessions, collector)

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitBooking),
	)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		HealthChecker:     db,
		SessionVerifier:   svc.auth,
		ProfileReader:     svc.profile,
		AuthRecorder:      collector,
		StatusRecorder:    collector,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter:    rateLimiter,
		Logger:         slog.Default(),
		MetricsHandler: metrics.Handler(reg),

		AuthService: handler.NewAuthServiceAdapter(svc.auth, cfg.BaseURL, slog.Default()),
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		CatalogService: svc.catalog,
		BookingService: svc.reservation,
		ProfileService: svc.profile,
	}

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 6. HTTPサーバーの起動とシグナル待ち
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serveUntilDone(ctx, server); err != nil {
		return err
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// serveUntilDone はctxがキャンセルされるまでHTTPサーバーを実行し、グレースフルシャットダウンする。
// サーバーの起動に失敗した場合はそのエラーを返す。
func serveUntilDone(ctx context.Context, server *http.Server) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("HTTP server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down HTTP server...", slog.String("addr", server.Addr))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションのクリーンアップを定期実行し、メトリクスを公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. メトリクス
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	// 3. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(db, slog.Default(), collector)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.SessionCleanupInterval),
		slog.String("metrics_port", cfg.MetricsPort),
	)

	// 4. クリーンアップジョブとメトリクスサーバーを並行実行
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cleanupJob.Start(gctx, cfg.SessionCleanupInterval)
		return nil
	})
	g.Go(func() error {
		return serveUntilDone(gctx, &http.Server{
			Addr:              ":" + cfg.MetricsPort,
			Handler:           metrics.SetupMetricsRoute(reg),
			ReadHeaderTimeout: 5 * time.Second,
		})
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// 引数なしの場合はすべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config, args []string) error {
	action, steps, err := ParseMigrateArgs(args)
	if err != nil {
		return err
	}

	slog.Info("running database migrations",
		slog.String("action", string(action)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch action {
	case MigrateDown:
		if err := database.RollbackMigrations(cfg.DatabaseURL, steps); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		slog.Info("database migrations rolled back", slog.Int("steps", steps))
	case MigrateVersion:
		version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to read migration version: %w", err)
		}
		slog.Info("database migration version",
			slog.Uint64("version", uint64(version)),
			slog.Bool("dirty", dirty),
		)
	default:
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		slog.Info("database migrations completed successfully")
	}
	return nil
}

// runBootstrapAdmin は管理者が1人もいない場合に限り、指定メールアドレスのユーザーを管理者にする。
func runBootstrapAdmin(cfg *config.Config, args []string) error {
	if len(args) == 0 || args[0] == "" {
		return errors.New("usage: wheelhaven bootstrap-admin <email>")
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	svc := buildServices(cfg, db, repository.NewPostgresSessionRepo(db), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	p, err := svc.profile.BootstrapAdministrator(ctx, args[0])
	if err != nil {
		return fmt.Errorf("bootstrap administrator failed: %w", err)
	}

	slog.Info("administrator bootstrapped", slog.String("principal_id", p.ID))
	return nil
}

// runConsole は管理コンソールを起動する。
// 画面を崩さないよう、ログはWHEELHAVEN_LOG_FILEが設定された場合のみファイルに出力する。
func runConsole(cfg *config.ConsoleConfig) error {
	// 1. ログ出力先
	var w io.Writer = io.Discard
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		w = f
	}
	log := logger.SetupDefault(w, slog.LevelInfo)

	// 2. APIクライアントと認可状態の導出
	httpClient, err := client.NewHTTPClient()
	if err != nil {
		return err
	}
	c := client.NewClient(httpClient, cfg.APIURL, log)
	defer c.Close()

	resolver := identity.NewResolver(c, c, log, nil)
	defer resolver.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := resolver.Start(ctx); err != nil {
		return fmt.Errorf("failed to start identity resolver: %w", err)
	}

	// 3. 認証情報が設定されている場合はサインイン
	if cfg.Email != "" && cfg.Password != "" {
		if err := resolver.SignIn(ctx, cfg.Email, cfg.Password); err != nil {
			log.Warn("console sign-in failed", slog.String("error", err.Error()))
		}
	}

	// 4. 画面の起動
	app := console.NewApp(c, resolver)
	defer app.Close()

	if _, err := tea.NewProgram(app, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("console failed: %w", err)
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	httpClient := &http.Client{Timeout: 5 * time.Second}

	resp, err := httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
