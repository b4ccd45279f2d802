package httpapi

import (
	"log"
	"net/http"
	"time"
)

// Requests above this duration get a separate slow-request log line. Core
// downloads and geo probes legitimately take seconds; anything past this is
// worth a look.
const slowRequestThreshold = 10 * time.Second

// NewHandler returns the production handler (mux + observability middleware).
//
// Tests can still use NewMux directly to avoid noisy logs unless needed.
func NewHandler() http.Handler {
	return NewHandlerWithOptions(Options{})
}

func NewHandlerWithOptions(opt Options) http.Handler {
	return withObservability(NewMuxWithOptions(opt))
}

// respRecorder captures the status and body size written by a handler so the
// middleware can report them after the fact.
type respRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *respRecorder) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *respRecorder) WriteHeader(statusCode int) {
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *respRecorder) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

func withObservability(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := &respRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}

		pattern := r.Pattern
		if pattern == "" {
			pattern = r.Method + " " + r.URL.Path
		}

		metricsIncRequest(pattern, status)

		// Probes are noise; everything else gets one line. Subscription URLs
		// arrive in the POST body, so logging the path is safe. Never log
		// the query string, it may carry secrets.
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			return
		}
		dur := time.Since(start).Round(time.Millisecond)
		log.Printf("http %s %s pattern=%q status=%d dur=%s bytes=%d", r.Method, r.URL.Path, pattern, status, dur, rec.bytes)
		if dur >= slowRequestThreshold {
			log.Printf("slow request pattern=%q dur=%s", pattern, dur)
		}
	})
}
