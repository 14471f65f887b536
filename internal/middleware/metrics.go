package middleware

import (
	"net/http"
	"time"
)

// HTTPRecorder receives one observation per completed request.
// *metrics.Metrics satisfies it.
type HTTPRecorder interface {
	ObserveHTTP(method string, status int, d time.Duration)
}

// Metrics records the status and latency of every request.
//
// Labels are limited to method and status code; paths are not recorded
// because account ids would make the label set unbounded.
func Metrics(rec HTTPRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrap(w)

			next.ServeHTTP(wrapped, r)

			rec.ObserveHTTP(r.Method, wrapped.statusCode, time.Since(start))
		})
	}
}
