package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/contribium/contribium/internal/model"
	"github.com/contribium/contribium/internal/store"
)

type CreateUserRequest struct {
	DisplayName string `json:"display_name"`
	Username    string `json:"username,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

type CreateUserResponse struct {
	User        *store.User `json:"user"`
	AccessToken string      `json:"access_token"`
	ExpiresAt   time.Time   `json:"expires_at"`
}

type CreateNotificationRequest struct {
	UserID       string                 `json:"user_id"`
	Type         model.NotificationType `json:"type"`
	Title        string                 `json:"title"`
	Message      string                 `json:"message"`
	BountyID     string                 `json:"related_bounty_id,omitempty"`
	SubmissionID string                 `json:"related_submission_id,omitempty"`
}

// CreateUser handles POST /api/admin/users. It creates the user and issues
// an access token for it.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	if !h.isAdmin(r) {
		writeError(w, http.StatusUnauthorized, "admin authentication required")
		return
	}

	var req CreateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.DisplayName == "" {
		writeError(w, http.StatusBadRequest, "display_name is required")
		return
	}

	user := &store.User{
		DisplayName: req.DisplayName,
		Username:    strings.TrimSpace(req.Username),
		AvatarURL:   req.AvatarURL,
	}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		h.writeStoreError(w, r, err, "user not found")
		return
	}

	token, err := h.auth.IssueToken(r.Context(), user.ID)
	if err != nil {
		h.writeStoreError(w, r, err, "user not found")
		return
	}

	writeJSON(w, http.StatusCreated, CreateUserResponse{
		User:        user,
		AccessToken: token.Token,
		ExpiresAt:   token.ExpiresAt,
	})
}

// CreateNotification handles POST /api/admin/notifications
func (h *Handler) CreateNotification(w http.ResponseWriter, r *http.Request) {
	if !h.isAdmin(r) {
		writeError(w, http.StatusUnauthorized, "admin authentication required")
		return
	}

	var req CreateNotificationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Type == "" {
		req.Type = model.NotificationGeneral
	}
	if !req.Type.Valid() {
		writeError(w, http.StatusBadRequest, "unknown notification type")
		return
	}

	if _, err := h.store.GetUser(r.Context(), req.UserID); err != nil {
		h.writeStoreError(w, r, err, "user not found")
		return
	}

	n := &model.Notification{
		UserID:       req.UserID,
		Type:         req.Type,
		Title:        req.Title,
		Message:      req.Message,
		BountyID:     req.BountyID,
		SubmissionID: req.SubmissionID,
	}
	if err := h.store.CreateNotification(r.Context(), n); err != nil {
		h.writeStoreError(w, r, err, "notification not found")
		return
	}

	writeJSON(w, http.StatusCreated, n)
}
