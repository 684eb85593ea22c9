package middleware

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Logging logs every request once it completes. Health and metrics probes
// are logged at debug level.
func Logging(log *zap.SugaredLogger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := wrap(w)
			start := time.Now()
			next.ServeHTTP(sw, r)

			logf := log.Infow
			path := strings.TrimSuffix(r.URL.Path, "/")
			if path == "/mesh/health" || path == "/metrics" {
				logf = log.Debugw
			}
			logf("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.Status(),
				"duration", time.Since(start))
		})
	}
}
