package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// NewRecoveryMiddleware はpanic発生時にプロセスクラッシュを防ぐミドルウェアを生成する。
// 画像処理やパイプライン内で予期しないpanicが起きても、リクエスト単位で
// 統一フォーマットの500レスポンスに変換して返す。
func NewRecoveryMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					slog.Error("panic recovered",
						slog.Any("panic", rec),
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
						slog.String("stack", string(debug.Stack())),
					)
					WriteInternalServerError(w)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
