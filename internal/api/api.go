package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/contribium/contribium/internal/auth"
	"github.com/contribium/contribium/internal/config"
	"github.com/contribium/contribium/internal/ratelimit"
	"github.com/contribium/contribium/internal/realtime"
	"github.com/contribium/contribium/internal/store"
)

// Handler holds dependencies for API handlers
type Handler struct {
	store   store.Store
	auth    *auth.Service
	limiter ratelimit.Limiter
	source  realtime.Source
	cfg     *config.Config
	logger  *zap.Logger
}

// NewHandler creates a new API handler. src feeds the event streams and is
// normally the hub the store publishes to.
func NewHandler(s store.Store, authSvc *auth.Service, limiter ratelimit.Limiter, src realtime.Source, cfg *config.Config, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:   s,
		auth:    authSvc,
		limiter: limiter,
		source:  src,
		cfg:     cfg,
		logger:  logger.Named("api"),
	}
}

// Response helpers

type ErrorResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

func writeRateLimited(w http.ResponseWriter, retryAfter int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
		Error:      "rate limit exceeded",
		RetryAfter: retryAfter,
	})
}

// writeStoreError maps store sentinels to status codes. Anything else is
// logged and reported as a database error.
func (h *Handler) writeStoreError(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, notFound)
	case errors.Is(err, store.ErrForbidden):
		writeError(w, http.StatusForbidden, "not allowed")
	case errors.Is(err, store.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("store error",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "database error")
	}
}

// Request helpers

func (h *Handler) getClientIP(r *http.Request) string {
	// Check X-Forwarded-For first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	// Check X-Real-IP
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	// Fall back to RemoteAddr
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}

func (h *Handler) getToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	// EventSource cannot set headers, so streams may pass the token as a query parameter
	return r.URL.Query().Get("access_token")
}

// checkRateLimit limits per signed-in user, falling back to the hashed client IP.
func (h *Handler) checkRateLimit(r *http.Request, action string, limit int) (bool, int) {
	key := action + ":"
	if viewer := ViewerFromContext(r.Context()); viewer.SignedIn() {
		key += "user:" + viewer.ID
	} else {
		key += "ip:" + auth.HashIP(h.getClientIP(r))
	}

	if !h.limiter.Allow(key, limit, h.cfg.RateLimitWindow) {
		retryAfter := int(h.limiter.RetryAfter(key, limit, h.cfg.RateLimitWindow).Seconds()) + 1
		return false, retryAfter
	}

	return true, 0
}

func (h *Handler) isAdmin(r *http.Request) bool {
	secret := r.Header.Get("X-Admin-Secret")
	return h.cfg.AdminSecret != "" && secret == h.cfg.AdminSecret
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}
