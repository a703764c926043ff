package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/DVDAndroid/shoelace/internal/config"
	"github.com/DVDAndroid/shoelace/internal/database"
	"github.com/DVDAndroid/shoelace/internal/handler"
	"github.com/DVDAndroid/shoelace/internal/keystore"
	"github.com/DVDAndroid/shoelace/internal/logger"
	"github.com/DVDAndroid/shoelace/internal/metrics"
	"github.com/DVDAndroid/shoelace/internal/middleware"
	"github.com/DVDAndroid/shoelace/internal/proxy"
	"github.com/DVDAndroid/shoelace/internal/rewrite"
	"github.com/DVDAndroid/shoelace/internal/security"
	"github.com/DVDAndroid/shoelace/internal/threads"
	"github.com/DVDAndroid/shoelace/internal/worker/retention"
)

// Version はビルド時に -ldflags "-X github.com/DVDAndroid/shoelace/internal/app.Version=..." で埋め込む。
var Version = "dev"

// shutdownTimeout はグレースフルシャットダウンの待ち時間の上限。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
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
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	switch cmd {
	case CommandVersion:
		fmt.Fprintf(w, "shoelace %s\n", Version)
		return nil
	case CommandHealthcheck:
		// 軽量サブコマンドのため、フル初期化をスキップする
		return runHealthcheck(healthcheckURL())
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	log, closeLog, err := logger.Configure(logger.Options{
		Level: cfg.LogLevel,
		File:  cfg.LogFile,
		W:     w,
	})
	if err != nil {
		return fmt.Errorf("failed to configure logger: %w", err)
	}
	defer closeLog()

	log.Info("starting shoelace",
		slog.String("version", Version),
		slog.Int("pid", os.Getpid()),
		slog.String("command", string(cmd)),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg, log)
	default:
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg, log)
	}
}

// server はserveモードで組み立てた依存関係を保持する。
type server struct {
	handler  http.Handler
	keystore *keystore.Keystore
	cache    *proxy.Cache
	limiter  *middleware.RateLimiter
}

// newServer は設定に従って全依存関係をワイヤリングする。
// キーストアのバックエンドに到達できない場合はエラーを返す。
func newServer(ctx context.Context, cfg *config.Config, log *slog.Logger) (*server, error) {
	// 1. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 2. キーストア
	ks, err := keystore.Open(ctx, keystore.Options{
		Backend:     cfg.ProxyBackend,
		RedisURL:    cfg.RedisURL,
		BadgerPath:  cfg.BadgerPath,
		DatabaseURL: cfg.DatabaseURL,
		MaxConns:    cfg.RewriteMaxConcurrency,
		Prefix:      cfg.ProxyPrefix(),
		Logger:      log,
		Recorder:    collector,
	})
	if err != nil {
		return nil, err
	}

	s := &server{keystore: ks}

	// 3. メディアプロキシ
	if cfg.ProxyCacheSizeMB > 0 {
		s.cache, err = proxy.NewCache(ctx, cfg.ProxyCacheSizeMB, cfg.ProxyCacheTTL, cfg.ProxyCacheMaxEntry)
		if err != nil {
			s.Close()
			return nil, err
		}
	}
	guard := security.NewOriginGuard()
	proxyService := proxy.NewService(ks, guard, guard.NewSafeClient(cfg.ProxyFetchTimeout), proxy.Options{
		MaxSize: cfg.ProxyMaxSize,
		Cache:   s.cache,
		LogCDN:  cfg.LogCDN,
	}, log, collector)

	// 4. 取得と書き換え
	threadsClient := threads.NewClient(
		&http.Client{Timeout: cfg.UpstreamTimeout},
		cfg.UpstreamURL,
		security.NewTextSanitizer(),
		log,
		collector,
	)
	walker := rewrite.NewWalker(ks, cfg.RewriteMaxConcurrency, log, collector)

	// 5. ルーター
	s.limiter = middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(cfg.RateLimitPerMin))

	s.handler, err = handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		Version:           Version,
		Backend:           ks.BackendName(),
		BaseURL:           cfg.BaseURL,
		RateLimiter:       s.limiter,
		StatusRecorder:    collector,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		TrustProxy:        cfg.TrustProxy,
		LogIPs:            cfg.LogIPs,
		Fetcher:           threadsClient,
		Rewriter:          walker,
		Media:             proxyService,
		MetricsHandler:    metrics.Handler(reg),
		EnableFrontend:    cfg.EndpointFrontend,
		EnableAPI:         cfg.EndpointAPI,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	if !cfg.EndpointFrontend {
		log.Warn("frontend has been disabled")
	}
	if !cfg.EndpointAPI {
		log.Warn("API has been disabled")
	}

	return s, nil
}

// Close はレート制限のクリーンアップを止め、キャッシュとキーストアを閉じる。
func (s *server) Close() error {
	var errs []error
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.cache != nil {
		errs = append(errs, s.cache.Close())
	}
	if s.keystore != nil {
		errs = append(errs, s.keystore.Close())
	}
	return errors.Join(errs...)
}

// runServe はHTTPサーバーモードで起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	srv, err := newServer(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}
	defer func() {
		if err := srv.Close(); err != nil {
			log.Error("failed to close resources", slog.String("error", err.Error()))
		}
	}()

	if cfg.ProxyRetention > 0 {
		jobCtx, stopJob := context.WithCancel(ctx)
		jobDone := make(chan struct{})
		job := retention.NewJob(srv.keystore, log, cfg.ProxyRetention)
		go func() {
			defer close(jobDone)
			job.Start(jobCtx)
		}()
		// キーストアを閉じる前にジョブを止める
		defer func() {
			stopJob()
			<-jobDone
		}()
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// 大きな動画の中継に備えて書き込みは長めに取る
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     slog.NewLogLogger(log.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server starting",
			slog.String("addr", httpServer.Addr),
			slog.Bool("tls", cfg.TLSEnabled()),
			slog.String("backend", srv.keystore.BackendName()),
		)
		if cfg.TLSEnabled() {
			errCh <- httpServer.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
			return
		}
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("HTTP server stopped gracefully")
	return nil
}

// runMigrate はpostgresバックエンドのスキーマを作成する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config, log *slog.Logger) error {
	if cfg.ProxyBackend != config.BackendPostgres {
		return fmt.Errorf("migrate requires PROXY_BACKEND=%s, got %q", config.BackendPostgres, cfg.ProxyBackend)
	}

	log.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Info("database migrations completed successfully")
	return nil
}

// healthcheckURL は環境変数から自プロセスの/healthのURLを組み立てる。
func healthcheckURL() string {
	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}
	scheme := "http"
	if os.Getenv("TLS_CERT") != "" && os.Getenv("TLS_KEY") != "" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/health", scheme, net.JoinHostPort("localhost", port))
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(target string) error {
	client := &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			// 接続先は自プロセスのみ
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}

	resp, err := client.Get(target)
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
