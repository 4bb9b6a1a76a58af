package identity

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	xerrors "NLP-Chain/internal/errors"
	"NLP-Chain/pkg/logger"
)

// Middleware 认证请求并将调用方写入上下文，同时记录审计日志。
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok, err := v.Authenticate(r)
		if err != nil {
			status := xerrors.HTTPStatusOf(err)
			logger.Audit().Warn("access_denied",
				slog.String("path", r.URL.Path),
				slog.String("method", r.Method),
				slog.Int("status", status),
				slog.String("error", err.Error()),
			)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"code":    string(xerrors.CodeOf(err)),
				"message": err.Error(),
			})
			return
		}

		ctx := r.Context()
		if ok {
			ctx = WithCaller(ctx, caller)
		}
		start := time.Now()
		aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(aw, r.WithContext(ctx))

		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			return
		}
		attrs := []any{
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", aw.status),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		}
		if ok {
			attrs = append(attrs, slog.String("caller", caller.Hex()))
		}
		logger.Audit().Info("api_request", attrs...)
	})
}

// auditWriter 捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
