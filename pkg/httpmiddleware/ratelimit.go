package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig configures the fixed window limiter.
type RateLimitConfig struct {
	// Max is the number of requests allowed per key and window.
	Max int
	// Window is the counting period.
	Window time.Duration
	// Prefix namespaces the Redis keys.
	Prefix string
	// KeyFunc extracts the limit key. Defaults to the client IP. Returning ""
	// skips limiting for the request.
	KeyFunc func(*http.Request) string
}

// RateLimit counts requests per key in Redis so every API instance shares
// the same budget. Over-limit requests get 429 with Retry-After. When Redis
// is unreachable requests pass through.
func RateLimit(client redis.Cmdable, cfg RateLimitConfig) Middleware {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "ratelimit"
	}
	limit := strconv.Itoa(cfg.Max)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := cfg.KeyFunc(r)
			if key == "" || cfg.Max <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			count, resetAt, err := hit(r.Context(), client, cfg, key, time.Now())
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			remaining := max(cfg.Max-int(count), 0)
			w.Header().Set("X-RateLimit-Limit", limit)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if count > int64(cfg.Max) {
				retry := max(time.Until(resetAt), 0)
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"code":"rate_limited","message":"rate limit exceeded"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hit(ctx context.Context, client redis.Cmdable, cfg RateLimitConfig, key string, now time.Time) (int64, time.Time, error) {
	start := now.Truncate(cfg.Window)
	resetAt := start.Add(cfg.Window)
	redisKey := cfg.Prefix + ":" + key + ":" + strconv.FormatInt(start.Unix(), 10)

	var incr *redis.IntCmd
	_, err := client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, redisKey)
		p.ExpireAt(ctx, redisKey, resetAt)
		return nil
	})
	if err != nil {
		return 0, resetAt, err
	}
	return incr.Val(), resetAt, nil
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// remote address host.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
