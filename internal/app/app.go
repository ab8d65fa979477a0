// Package app はサブコマンドの解析と依存関係のワイヤリングを行う。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/blogguer/internal/auth"
	"github.com/hitoshi/blogguer/internal/config"
	"github.com/hitoshi/blogguer/internal/database"
	"github.com/hitoshi/blogguer/internal/handler"
	"github.com/hitoshi/blogguer/internal/logger"
	"github.com/hitoshi/blogguer/internal/metrics"
	"github.com/hitoshi/blogguer/internal/middleware"
	"github.com/hitoshi/blogguer/internal/repository"
	"github.com/hitoshi/blogguer/internal/security"
	"github.com/hitoshi/blogguer/internal/user"
)

const (
	startupPingTimeout = 5 * time.Second
	shutdownTimeout    = 30 * time.Second
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.Bool("identity_cache", cfg.CacheEnabled()),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg, ParseMigrateAction(args))
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続とマイグレーションの後に全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, startupPingTimeout)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")

	// 2. マイグレーション
	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	// 3. アイデンティティストア（REDIS_URL があればキャッシュを挟む）
	users, closeStore, err := openUserStore(ctx, cfg, db, slog.Default())
	if err != nil {
		return err
	}
	defer closeStore()

	// 4. ルーターの構築
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	router, cleanup := buildHandler(cfg, users, db, reg, slog.Default())
	defer cleanup()

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Googleへの問い合わせ時間を含める
		WriteTimeout: 15*time.Second + cfg.FederatedTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// openUserStore はPostgreSQLのリポジトリを生成し、設定に応じてRedisキャッシュで包む。
// 返り値の関数で確保したクライアントを解放する。
func openUserStore(ctx context.Context, cfg *config.Config, db *sql.DB, log *slog.Logger) (repository.UserRepository, func(), error) {
	var users repository.UserRepository = repository.NewPostgresUserRepo(db)
	if !cfg.CacheEnabled() {
		return users, func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, startupPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		// キャッシュ障害時は下位ストアへフォールバックするため起動は継続する
		log.Warn("identity cache unreachable at startup", slog.String("error", err.Error()))
	} else {
		log.Info("identity cache enabled", slog.Duration("ttl", cfg.IdentityCacheTTL))
	}

	cached := repository.NewCachedUserRepo(users, client, cfg.IdentityCacheTTL, log)
	return cached, func() { _ = client.Close() }, nil
}

// buildHandler はサービス群を組み立ててHTTPハンドラーを返す。
// dbがnilの場合は /health を公開しない。返り値の関数でバックグラウンド処理を停止する。
func buildHandler(
	cfg *config.Config,
	users repository.UserRepository,
	db handler.Pinger,
	reg *prometheus.Registry,
	log *slog.Logger,
) (http.Handler, func()) {
	mc := metrics.NewCollector(reg)

	// セキュリティ
	urlGuard := security.NewURLGuard()
	hasher := security.NewPasswordHasher(cfg.BcryptCost)
	bios := security.NewBioSanitizer()

	// トークン
	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)

	// フェデレーション（tokeninfoへの通信はSSRF対策済みクライアントで行う）
	verifier := auth.NewGoogleTokenVerifier(auth.GoogleVerifierConfig{
		ClientID:     cfg.GoogleClientID,
		Timeout:      cfg.FederatedTimeout,
		TokenInfoURL: cfg.GoogleTokenInfoURL,
	}, urlGuard.NewSafeClient(cfg.FederatedTimeout), mc)
	resolver := auth.NewFederatedResolver(verifier, users, urlGuard, cfg.AvatarBaseURL, log)

	// ドメインサービス
	authService := auth.NewService(users, hasher, tokens, resolver, mc, log,
		auth.ServiceConfig{AvatarBaseURL: cfg.AvatarBaseURL})
	profileService := user.NewService(users, urlGuard, bios, tokens, log,
		user.Config{AvatarBaseURL: cfg.AvatarBaseURL})

	limiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitProfile))

	deps := &handler.RouterDeps{
		Authenticator:     auth.NewGate(tokens, mc),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       limiter,
		Logger:            log,
		Metrics:           mc,

		AuthService:    authService,
		ProfileService: profileService,

		DB:             db,
		MetricsHandler: metrics.Handler(reg),
	}

	return handler.NewRouter(deps), limiter.Stop
}

// runMigrate はデータベースマイグレーションを実行する。
func runMigrate(cfg *config.Config, action MigrateAction) error {
	slog.Info("running database migrations",
		slog.String("action", string(action)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch action {
	case MigrateDown:
		if err := database.RollbackMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration rollback failed: %w", err)
		}
	case MigrateVersion:
		version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		slog.Info("database migration version",
			slog.Uint64("version", uint64(version)),
			slog.Bool("dirty", dirty),
		)
		return nil
	default:
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	return checkHealth(fmt.Sprintf("http://localhost:%s/health", port))
}

func checkHealth(url string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
