package middleware

import (
	"log/slog"
	"net/http"

	"github.com/phrazzld/avmerge/internal/api/shared"
	"github.com/phrazzld/avmerge/internal/platform/logger"
)

// TraceMiddleware adds a trace ID to the request context along with a logger
// that carries it. Mount it after the OpenTelemetry handler so the span's
// trace ID is picked up.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := shared.SetTraceID(r.Context())
		traceID := shared.GetTraceID(ctx)

		log := logger.FromContext(ctx).With(slog.String("trace_id", traceID))
		ctx = logger.WithLogger(ctx, log)

		log.Debug("request started",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote_addr", r.RemoteAddr))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
