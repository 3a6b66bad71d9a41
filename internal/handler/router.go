package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/skypost/internal/middleware"
	"github.com/hitoshi/skypost/internal/repository"
)

// HealthChecker はヘルスチェックで疎通確認する依存のインターフェース。
// *sql.DBがそのまま満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 認証
	AuthService AuthServiceInterface

	// 投稿
	Publisher   PublisherInterface
	AccountRepo repository.AccountRepository
	PostRepo    repository.PostRepository
	PostConfig  PostHandlerConfig

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RecoveryMiddleware → LoggingMiddleware → CORSMiddleware → RateLimitMiddleware
//
// ヘルスチェックとメトリクスはレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(slog.Default()))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService)
	postHandler := NewPostHandler(
		deps.Publisher, deps.AuthService,
		deps.AccountRepo, deps.PostRepo,
		deps.PostConfig,
	)

	// --- 運用ルート（レート制限の外） ---

	r.Get("/api/health", newHealthHandler(deps.HealthChecker))

	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- APIルート ---
	// ミドルウェアスタック: RateLimit(General)
	r.Route("/api/bluesky", func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Post("/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)

		// POST /api/bluesky/post - 投稿（投稿専用レート制限を追加）
		r.With(deps.RateLimiter.PublishMiddleware()).Post("/post", postHandler.CreatePost)

		r.Get("/posts/{identifier}", postHandler.ListPosts)
		r.Get("/stats/{identifier}", postHandler.GetStats)
	})

	return r
}

// newHealthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
func newHealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if checker != nil {
			if err := checker.PingContext(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unhealthy",
				})
				return
			}
		}

		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
		})
	}
}
