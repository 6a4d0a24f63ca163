package server

import (
	"context"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/YuminosukeSato/churnkit/pkg/log"
)

type contextKey int

const requestIDContextKey contextKey = iota

const requestIDHeader = "X-Request-ID"

// requestID tags every request with a correlation id, honoring one the
// caller already sent. The id goes back out in the response header and
// into the request context for the logger and the audit trail.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDContextKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}

// logRequests emits one structured line per request after the handler
// returns, status and byte count captured through chi's writer wrapper.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		evt := s.log.Info()
		if status >= http.StatusInternalServerError {
			evt = s.log.Error()
		}
		evt.
			Str(log.RequestIDKey, requestIDFrom(r.Context())).
			Str("http.method", r.Method).
			Str("http.path", r.URL.Path).
			Str("http.remote", r.RemoteAddr).
			Int("http.status", status).
			Int("http.bytes", ww.BytesWritten()).
			Int64(log.DurationMsKey, time.Since(start).Milliseconds()).
			Msg("request handled")
	})
}
