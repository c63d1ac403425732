package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

func RequestLogger(logger func() zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			l := logger()
			event := l.Debug()
			if status >= 500 {
				event = l.Error()
			} else if status >= 400 {
				event = l.Warn()
			}

			event.
				Str("method", r.Method).
				Str("path", routePattern(r)).
				Int("status", status).
				Dur("duration", time.Since(start)).
				Str("remote", r.RemoteAddr).
				Int("bytes", ww.BytesWritten()).
				Msg("http_request")
		})
	}
}

func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RecordHTTPRequest(r.Method, routePattern(r), status, time.Since(start))
	})
}
