package middleware

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/wrkhub/authgate/internal/autherr"
	"github.com/wrkhub/authgate/internal/cache"
)

// Bucket is one named rate-limit policy. Key derives the counter key from
// the request; requests it cannot key fall back to the client IP.
type Bucket struct {
	Name   string
	Limit  int64
	Window time.Duration
	Key    func(r *http.Request) string
}

// RateLimiter counts requests in fixed redis windows shared across
// replicas.
type RateLimiter struct {
	cache *cache.Cache
}

func NewRateLimiter(c *cache.Cache) *RateLimiter {
	return &RateLimiter{cache: c}
}

// Limit wraps a handler with one bucket. On redis failure the request is
// let through; losing rate limiting briefly beats refusing all logins.
func (rl *RateLimiter) Limit(bucket Bucket) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ClientIP(r)
			if bucket.Key != nil {
				if k := bucket.Key(r); k != "" {
					key = k
				}
			}

			counterKey := fmt.Sprintf("ratelimit_%s_%s", bucket.Name, key)
			count, remaining, err := rl.cache.CountWindow(r.Context(), counterKey, bucket.Window)
			if err != nil {
				slog.Warn("rate limiter unavailable", "bucket", bucket.Name, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			left := bucket.Limit - count
			if left < 0 {
				left = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(bucket.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(left, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(remaining).Unix(), 10))

			if count > bucket.Limit {
				retry := int(remaining.Seconds())
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{
					"error_code":    string(autherr.RateLimitExceeded),
					"error_message": "too many requests, slow down",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the remote address without the port. chi's RealIP
// middleware has already folded in X-Forwarded-For upstream.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// KeyByClientID keys token-endpoint buckets per OAuth client when the
// request names one.
func KeyByClientID(r *http.Request) string {
	if id := r.FormValue("client_id"); id != "" {
		return "client_" + id
	}
	if id := r.URL.Query().Get("client_id"); id != "" {
		return "client_" + id
	}
	return ""
}

// KeyByEmailAndIP ties credential buckets to the target account as well
// as the caller, so one address cannot hammer many accounts.
func KeyByEmailAndIP(r *http.Request) string {
	email := r.FormValue("email")
	if email == "" {
		return ""
	}
	return email + "_" + ClientIP(r)
}
