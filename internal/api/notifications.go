package api

import (
	"net/http"

	"github.com/contribium/contribium/internal/model"
	"github.com/contribium/contribium/internal/realtime"
)

type ListNotificationsResponse struct {
	Notifications []model.Notification `json:"notifications"`
}

type UnreadCountResponse struct {
	Count int `json:"count"`
}

// ListNotifications handles GET /api/notifications
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", h.cfg.NotificationPageSize)
	if limit <= 0 || limit > 200 {
		limit = h.cfg.NotificationPageSize
	}

	items, err := h.store.ListNotifications(r.Context(), ViewerFromContext(r.Context()).ID, limit)
	if err != nil {
		h.writeStoreError(w, r, err, "notification not found")
		return
	}
	if items == nil {
		items = []model.Notification{}
	}

	writeJSON(w, http.StatusOK, ListNotificationsResponse{Notifications: items})
}

// UnreadCount handles GET /api/notifications/unread-count
func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.store.CountUnread(r.Context(), ViewerFromContext(r.Context()).ID)
	if err != nil {
		h.writeStoreError(w, r, err, "notification not found")
		return
	}

	writeJSON(w, http.StatusOK, UnreadCountResponse{Count: count})
}

// MarkNotificationRead handles POST /api/notifications/{id}/read
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if !h.allowNotificationWrite(w, r) {
		return
	}
	if err := h.store.MarkNotificationRead(r.Context(), r.PathValue("id"), ViewerFromContext(r.Context()).ID); err != nil {
		h.writeStoreError(w, r, err, "notification not found")
		return
	}

	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// MarkAllNotificationsRead handles POST /api/notifications/read-all
func (h *Handler) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	if !h.allowNotificationWrite(w, r) {
		return
	}
	if err := h.store.MarkAllNotificationsRead(r.Context(), ViewerFromContext(r.Context()).ID); err != nil {
		h.writeStoreError(w, r, err, "notification not found")
		return
	}

	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// DeleteNotification handles DELETE /api/notifications/{id}
func (h *Handler) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	if !h.allowNotificationWrite(w, r) {
		return
	}
	if err := h.store.DeleteNotification(r.Context(), r.PathValue("id"), ViewerFromContext(r.Context()).ID); err != nil {
		h.writeStoreError(w, r, err, "notification not found")
		return
	}

	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// StreamNotifications handles GET /api/notifications/stream
func (h *Handler) StreamNotifications(w http.ResponseWriter, r *http.Request) {
	topic := realtime.NotificationsTopic(ViewerFromContext(r.Context()).ID)
	realtime.ServeSSE(w, r, h.source, topic, h.logger)
}

func (h *Handler) allowNotificationWrite(w http.ResponseWriter, r *http.Request) bool {
	allowed, retryAfter := h.checkRateLimit(r, "notification", h.cfg.NotificationRateLimit)
	if !allowed {
		writeRateLimited(w, retryAfter)
	}
	return allowed
}
