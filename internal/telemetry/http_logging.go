package telemetry

import (
	"net/http"
	"time"

	"github.com/italolelis/s3_batcher/internal/logctx"
)

// HTTPLogging logs each request once it completes: 5xx at ERROR, 4xx at WARN,
// everything else at INFO.
func HTTPLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		start := time.Now()

		wrapped := wrapResponseWriter(w)

		requestID := GetRequestID(ctx)
		logger := logctx.LoggerFromContext(ctx).With("request_id", requestID)

		next.ServeHTTP(wrapped, r.WithContext(logctx.WithLogger(ctx, logger)))

		status := wrapped.statusCode

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", wrapped.bytesWritten,
			"duration_ms", time.Since(start).Milliseconds(),
		}

		switch {
		case status >= http.StatusInternalServerError:
			logger.ErrorContext(ctx, "http request completed", attrs...)
		case status >= http.StatusBadRequest:
			logger.WarnContext(ctx, "http request completed", attrs...)
		default:
			logger.InfoContext(ctx, "http request completed", attrs...)
		}
	})
}
