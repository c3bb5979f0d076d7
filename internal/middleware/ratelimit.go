package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"contract-service/config"
	"contract-service/internal/metrics"
	"contract-service/internal/repository"
	"contract-service/internal/response"
)

// RateLimiter counts requests per caller in a fixed window and blocks offenders for cfg.Block.
// It fails open when redis is unavailable.
func RateLimiter(cache *repository.Cache, cfg config.RateLimitConfig, keyPrefix string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if cache == nil || cfg.Limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			// Prefer the authenticated identity, fall back to the client ip.
			var clientID string
			if id, ok := IdentityFrom(ctx); ok {
				clientID = "uid:" + id.ExternalID
			} else {
				ip := r.Header.Get("X-Forwarded-For")
				if ip == "" {
					ip = r.RemoteAddr
				}
				clientID = "ip:" + strings.TrimSpace(strings.Split(ip, ",")[0])
			}
			blockKey := clientID + ":blocked"

			if blocked, _ := cache.Get(ctx, keyPrefix, blockKey); blocked == "1" {
				ttl, _ := cache.TTL(ctx, keyPrefix, blockKey)
				metrics.RateLimitExceeded.Inc()
				w.Header().Set("Retry-After", strconv.Itoa(int(ttl.Seconds())))
				response.Error(w, http.StatusTooManyRequests, response.CodeRateLimited, "Too Many Requests. Try again in "+ttl.String(), nil)
				return
			}

			count, err := cache.IncrWithExpire(ctx, keyPrefix, clientID, cfg.Window)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			if count > int64(cfg.Limit) {
				_ = cache.Set(ctx, keyPrefix, blockKey, "1", cfg.Block)
				metrics.RateLimitExceeded.Inc()
				w.Header().Set("Retry-After", strconv.Itoa(int(cfg.Block.Seconds())))
				response.Error(w, http.StatusTooManyRequests, response.CodeRateLimited, "Too Many Requests. Blocked for "+cfg.Block.String(), nil)
				return
			}

			ttl, _ := cache.TTL(ctx, keyPrefix, clientID)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(cfg.Limit-int(count)))
			w.Header().Set("X-RateLimit-Reset", strconv.Itoa(int(ttl.Seconds())))

			next.ServeHTTP(w, r)
		})
	}
}
