package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Register adds the API routes to mux
func (h *Handler) Register(mux *http.ServeMux) {
	// Health and metrics
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	// Identity
	mux.HandleFunc("GET /api/me", h.OptionalAuth(h.Me))

	// Admin routes (requires admin secret)
	mux.HandleFunc("POST /api/admin/users", h.CreateUser)
	mux.HandleFunc("POST /api/admin/notifications", h.CreateNotification)

	// Bounties and rewards
	mux.HandleFunc("GET /api/bounties", h.ListBounties)
	mux.HandleFunc("POST /api/bounties", h.RequireAuth(h.CreateBounty))
	mux.HandleFunc("GET /api/bounties/{id}", h.GetBounty)
	mux.HandleFunc("PUT /api/bounties/{id}/reward", h.RequireAuth(h.SaveReward))
	mux.HandleFunc("GET /api/rewards/preview", h.PreviewRewards)

	// Discussion
	mux.HandleFunc("GET /api/bounties/{id}/comments", h.OptionalAuth(h.ListComments))
	mux.HandleFunc("GET /api/bounties/{id}/comments/stream", h.StreamComments)
	mux.HandleFunc("GET /api/comments/likes", h.RequireAuth(h.ListLikedComments))
	mux.HandleFunc("POST /api/comments", h.RequireAuth(h.CreateComment))
	mux.HandleFunc("PATCH /api/comments/{id}", h.RequireAuth(h.UpdateComment))
	mux.HandleFunc("DELETE /api/comments/{id}", h.RequireAuth(h.DeleteComment))
	mux.HandleFunc("POST /api/comments/{id}/like", h.RequireAuth(h.LikeComment))
	mux.HandleFunc("DELETE /api/comments/{id}/like", h.RequireAuth(h.UnlikeComment))

	// Notifications
	mux.HandleFunc("GET /api/notifications", h.RequireAuth(h.ListNotifications))
	mux.HandleFunc("GET /api/notifications/unread-count", h.RequireAuth(h.UnreadCount))
	mux.HandleFunc("GET /api/notifications/stream", h.RequireAuth(h.StreamNotifications))
	mux.HandleFunc("POST /api/notifications/read-all", h.RequireAuth(h.MarkAllNotificationsRead))
	mux.HandleFunc("POST /api/notifications/{id}/read", h.RequireAuth(h.MarkNotificationRead))
	mux.HandleFunc("DELETE /api/notifications/{id}", h.RequireAuth(h.DeleteNotification))
}
