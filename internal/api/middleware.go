package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/contribium/contribium/internal/metrics"
	"github.com/contribium/contribium/internal/model"
)

type contextKey string

const ContextKeyViewer contextKey = "viewer"

// RequireAuth returns middleware that requires a valid auth token
func (h *Handler) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewer, err := h.auth.ValidateToken(r.Context(), h.getToken(r))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithViewer(r.Context(), viewer)))
	}
}

// OptionalAuth adds the viewer to the context if a valid token is present
func (h *Handler) OptionalAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if tok := h.getToken(r); tok != "" {
			if viewer, err := h.auth.ValidateToken(ctx, tok); err == nil {
				ctx = WithViewer(ctx, viewer)
			}
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// WithViewer returns a copy of ctx carrying viewer
func WithViewer(ctx context.Context, viewer model.Viewer) context.Context {
	return context.WithValue(ctx, ContextKeyViewer, viewer)
}

// ViewerFromContext returns the signed-in viewer, or the anonymous viewer
func ViewerFromContext(ctx context.Context) model.Viewer {
	if v, ok := ctx.Value(ContextKeyViewer).(model.Viewer); ok {
		return v
	}
	return model.Viewer{}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush keeps event streams working behind the logger
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// LogRequests returns middleware that logs and counts all incoming requests
func LogRequests(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			metrics.HTTPRequests.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("latency", time.Since(start)))
		})
	}
}
