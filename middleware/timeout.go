package middleware

import (
	"net/http"
	"time"
)

const timeoutBody = `{"code":"Timeout","reason":"request timed out"}`

// Timeout bounds a handler. The request context is canceled at the
// deadline and the client gets 503.
func Timeout(timeout time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, timeout, timeoutBody)
	}
}
