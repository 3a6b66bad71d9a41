package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // API全般のレート（req/sec）
	GeneralBurst    int           // API全般のバーストサイズ
	PublishRate     rate.Limit    // 投稿送信のレート（req/sec）
	PublishBurst    int           // 投稿送信のバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min、投稿送信 10 req/min（クライアントIPごと）。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(120.0 / 60.0), // 2 req/sec
		GeneralBurst:    120,
		PublishRate:     rate.Limit(10.0 / 60.0), // ~0.167 req/sec
		PublishBurst:    10,
		CleanupInterval: 5 * time.Minute,
	}
}

// clientLimiter はクライアントごとのレートリミッターとアクセス時刻を保持する。
type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterTable はキーごとのリミッター集合を管理する。
type limiterTable struct {
	mu       sync.RWMutex
	limiters map[string]*clientLimiter
	limit    rate.Limit
	burst    int
}

func newLimiterTable(limit rate.Limit, burst int) *limiterTable {
	return &limiterTable{
		limiters: make(map[string]*clientLimiter),
		limit:    limit,
		burst:    burst,
	}
}

// getOrCreate はキーのリミッターを取得または作成し、アクセス時刻を更新する。
func (t *limiterTable) getOrCreate(key string) *rate.Limiter {
	t.mu.RLock()
	cl, exists := t.limiters[key]
	t.mu.RUnlock()

	if exists {
		t.mu.Lock()
		cl.lastAccess = time.Now()
		t.mu.Unlock()
		return cl.limiter
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// ダブルチェック
	if cl, exists := t.limiters[key]; exists {
		cl.lastAccess = time.Now()
		return cl.limiter
	}

	limiter := rate.NewLimiter(t.limit, t.burst)
	t.limiters[key] = &clientLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}

	return limiter
}

// count は現在管理されているエントリ数を返す。テスト用。
func (t *limiterTable) count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.limiters)
}

// removeStale は最終アクセス時刻がttlを超えたエントリを削除する。
func (t *limiterTable) removeStale(ttl time.Duration) {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, cl := range t.limiters {
		if now.Sub(cl.lastAccess) > ttl {
			delete(t.limiters, key)
		}
	}
}

// RateLimiter はクライアントIPごとのレート制限を管理する。
// API全般と投稿送信の2種類の制限を独立に提供する。
type RateLimiter struct {
	config  RateLimiterConfig
	general *limiterTable
	publish *limiterTable
	stopCh  chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	rl := &RateLimiter{
		config:  config,
		general: newLimiterTable(config.GeneralRate, config.GeneralBurst),
		publish: newLimiterTable(config.PublishRate, config.PublishBurst),
		stopCh:  make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.general, rl.config.GeneralRate, "general")
}

// PublishMiddleware は投稿送信専用のレート制限ミドルウェアを返す。
// API全般のレート制限とは独立に動作する。
func (rl *RateLimiter) PublishMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.publish, rl.config.PublishRate, "publish")
}

// GeneralLimiterCount は現在管理されているAPI全般リミッターのエントリ数を返す。
// テスト用。
func (rl *RateLimiter) GeneralLimiterCount() int {
	return rl.general.count()
}

// PublishLimiterCount は現在管理されている投稿送信リミッターのエントリ数を返す。
// テスト用。
func (rl *RateLimiter) PublishLimiterCount() int {
	return rl.publish.count()
}

func (rl *RateLimiter) middleware(table *limiterTable, limit rate.Limit, limitType string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIP(r)

			if !table.getOrCreate(key).Allow() {
				writeRateLimitResponse(w, limit)
				slog.Warn("rate limit exceeded",
					slog.String("client_ip", key),
					slog.String("limit_type", limitType),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ttl := rl.config.CleanupInterval * 2
			rl.general.removeStale(ttl)
			rl.publish.removeStale(ttl)
		case <-rl.stopCh:
			return
		}
	}
}

// clientIP はリクエスト元のIPアドレスを取得する。
// RemoteAddrからポートを除いたものを使用する。
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeRateLimitResponse は429レスポンスをRetry-Afterヘッダー付きで書き込む。
func writeRateLimitResponse(w http.ResponseWriter, limit rate.Limit) {
	// 次のトークンが補充されるまでの秒数を概算する
	retryAfter := 1
	if limit > 0 {
		retryAfter = int(math.Ceil(1.0 / float64(limit)))
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(map[string]string{
		"error": "rate limit exceeded",
	})
}
