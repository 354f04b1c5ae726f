package middleware

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/projectflow/pkg/logger"
)

// RequestLogger stores a request-scoped logger in the context, enriched with
// correlation_id, trace_id and span_id. Mount it after RequestLogging and
// Tracing. On authenticated routes mount it again after Auth so user_id and
// the access token's jti are attached as well; both are only ever taken from
// a verified token.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if userID := UserIDFromContext(ctx); userID != "" {
				ctx = logger.WithUserID(ctx, userID)
			}

			l := logger.WithContext(ctx, base)
			if jti := TokenIDFromContext(ctx); jti != "" {
				l = l.With(slog.String("access_token_id", jti))
			}
			ctx = logger.NewContext(ctx, l)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
