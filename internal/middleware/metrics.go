package middleware

import (
	"net/http"
	"time"

	"github.com/sakif/todo-api/internal/metrics"
)

// Metrics records the status code and latency of every response.
func Metrics(rec metrics.Recorder) func(http.Handler) http.Handler {
	rec = metrics.OrNop(rec)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrap(w)

			next.ServeHTTP(wrapped, r)

			rec.RecordHTTPStatus(wrapped.statusCode)
			rec.RecordRequestDuration(time.Since(start))
		})
	}
}
