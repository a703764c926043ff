package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/DVDAndroid/shoelace/internal/middleware"
	"github.com/DVDAndroid/shoelace/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger  *slog.Logger
	Version string
	Backend string

	// BaseURL はローカル参照の基点。CSPでこのオリジンのメディアを許可する。
	BaseURL string

	// ミドルウェア依存
	RateLimiter       *middleware.RateLimiter
	StatusRecorder    middleware.StatusRecorder
	CORSAllowedOrigin string
	TrustProxy        bool
	LogIPs            bool

	// コンテンツ
	Fetcher  ThreadsFetcher
	Rewriter TreeRewriter
	Media    MediaOpener

	// メトリクス（nilの場合/metricsを公開しない）
	MetricsHandler http.Handler

	// エンドポイントの有効・無効
	EnableFrontend bool
	EnableAPI      bool
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP(TrustProxy時) → Recovery → Logging → Metrics → SecurityHeaders → RateLimit
//
// /health と /metrics はレート制限の外に配置する。
// /proxy は常に有効で、APIとフロントエンドはそれぞれ設定で無効化できる。
func NewRouter(deps *RouterDeps) (http.Handler, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	if deps.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.LogIPs))
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.StatusRecorder))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.BaseURL))

	// --- レート制限の対象外 ---
	r.Get("/health", NewHealthHandler(deps.Backend, deps.Version))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	var frontend *FrontendHandler
	if deps.EnableFrontend {
		var err error
		frontend, err = NewFrontendHandler(deps.Fetcher, deps.Rewriter, deps.Version, logger)
		if err != nil {
			return nil, err
		}
		r.Handle("/static/*", StaticHandler())
	}

	// --- レート制限の対象 ---
	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}

		// メディアプロキシ
		proxyHandler := NewProxyHandler(deps.Media, logger)
		r.Get("/proxy/{key}", proxyHandler.ServeMedia)
		r.Head("/proxy/{key}", proxyHandler.ServeMedia)

		// JSON API
		if deps.EnableAPI {
			apiHandler := NewAPIHandler(deps.Fetcher, deps.Rewriter, logger)
			r.Route("/api/v1", func(r chi.Router) {
				r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
				r.Get("/user/{name}", apiHandler.GetUser)
				r.Get("/post/{code}", apiHandler.GetPost)
			})
		}

		// HTMLフロントエンド
		if frontend != nil {
			r.Get("/", frontend.Home)
			r.Get("/find", frontend.Find)
			r.Get("/@{user}", frontend.User)
			r.Get("/@{user}/post/{code}", frontend.Post)
			r.Get("/t/{code}", frontend.Post)
		}
	})

	if frontend != nil {
		r.NotFound(frontend.NotFound)
	} else {
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewNotFoundError(r.URL.Path))
		})
	}

	return r, nil
}
