package errors

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"
)

// ErrorHandler recovers panics in next and answers with an InternalError.
func ErrorHandler(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					requestID := r.Header.Get("X-Request-ID")
					logger.Error("panic recovered",
						zap.Any("error", err),
						zap.ByteString("stacktrace", debug.Stack()),
						zap.String("request_id", requestID),
					)
					WriteError(w, NewInternalError(requestID, nil))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// LogError logs err with its request context. Scoring failures are logged
// with their cause so operators see why the upstream call failed.
func LogError(logger *zap.Logger, err error, requestID string) {
	var svcErr *ServiceError
	if As(err, &svcErr) {
		fields := []zap.Field{
			zap.String("error_type", string(svcErr.Type)),
			zap.String("message", svcErr.Message),
			zap.Int("code", svcErr.Code),
			zap.String("request_id", requestID),
			zap.Any("details", svcErr.Details),
		}
		if svcErr.err != nil {
			fields = append(fields, zap.NamedError("cause", svcErr.err))
		}
		logger.Error("request error", fields...)
		return
	}
	logger.Error("unexpected error",
		zap.Error(err),
		zap.String("request_id", requestID),
	)
}
