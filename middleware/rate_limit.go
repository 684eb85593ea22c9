package middleware

import (
	"net/http"

	"golang.org/x/time/rate"
)

// RateLimit is a token bucket shared by every request. Rejected requests
// get 429, which the invocation client treats as transient.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !limiter.Allow() {
				writeError(w, http.StatusTooManyRequests, "RateLimited", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}
