package api

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const HeaderAPIKey = "x-api-key"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// AccessLog logs one line per request and observes route latency.
// A request id is echoed back, taken from the caller when present.
func AccessLog(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			reqID := r.Header.Get("X-Request-Id")
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set("X-Request-Id", reqID)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
				httpLatency.WithLabelValues(r.Method, endpointOf(r)).Observe(v)
			}))
			next.ServeHTTP(rec, r)
			timer.ObserveDuration()

			logger.Info().
				Str("request_id", reqID).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("latency", time.Since(start)).
				Msg("Request handled")
		})
	}
}

// APIKeyAuth guards a subrouter with the x-api-key header. With no keys
// configured every request is refused.
func APIKeyAuth(keys []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(keys) == 0 {
				respondError(w, r, http.StatusForbidden, "API key not configured")
				return
			}
			got := r.Header.Get(HeaderAPIKey)
			if got == "" || !keyAllowed(keys, got) {
				respondError(w, r, http.StatusUnauthorized, "Invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func keyAllowed(keys []string, got string) bool {
	ok := false
	for _, k := range keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(got)) == 1 {
			ok = true
		}
	}
	return ok
}
