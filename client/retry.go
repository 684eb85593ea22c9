package client

import (
	"context"
	"net/http"
	"time"

	"k8s.io/utils/clock"
)

// transientStatus reports whether a response should be retried on
// another endpoint. Any other status means the destination answered.
func transientStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= 500
}

// backoffDelay is base doubled once per failed attempt, attempt counting
// from zero.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	return base * time.Duration(1<<attempt)
}

// sleep waits d on clk and returns ctx.Err() if ctx ends first.
func sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := clk.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C():
		return nil
	}
}
