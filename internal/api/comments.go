package api

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/contribium/contribium/internal/comments"
	"github.com/contribium/contribium/internal/model"
	"github.com/contribium/contribium/internal/realtime"
)

type CreateCommentRequest struct {
	BountyID string `json:"bounty_id"`
	ParentID string `json:"parent_comment_id,omitempty"`
	Content  string `json:"content"`
}

type UpdateCommentRequest struct {
	Content string `json:"content"`
}

type ListCommentsResponse struct {
	Comments []model.Comment `json:"comments"`
	Count    int             `json:"count"`
}

type LikedCommentsResponse struct {
	CommentIDs []string `json:"comment_ids"`
}

// ListComments handles GET /api/bounties/{id}/comments. The default view is
// the flat list, newest first; ?view=tree returns the two-level tree with the
// viewer's likes applied.
func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	bountyID := r.PathValue("id")
	if _, err := h.store.GetBounty(r.Context(), bountyID); err != nil {
		h.writeStoreError(w, r, err, "bounty not found")
		return
	}

	flat, err := h.store.ListComments(r.Context(), bountyID)
	if err != nil {
		h.writeStoreError(w, r, err, "bounty not found")
		return
	}
	if flat == nil {
		flat = []model.Comment{}
	}

	if r.URL.Query().Get("view") != "tree" {
		writeJSON(w, http.StatusOK, ListCommentsResponse{Comments: flat, Count: len(flat)})
		return
	}

	liked := map[string]bool{}
	if viewer := ViewerFromContext(r.Context()); viewer.SignedIn() && len(flat) > 0 {
		ids := make([]string, len(flat))
		for i, c := range flat {
			ids[i] = c.ID
		}
		likedIDs, err := h.store.ListLikedCommentIDs(r.Context(), viewer.ID, ids)
		if err != nil {
			h.writeStoreError(w, r, err, "comment not found")
			return
		}
		for _, id := range likedIDs {
			liked[id] = true
		}
	}

	tree := comments.Build(flat, liked)
	if tree == nil {
		tree = []model.Comment{}
	}
	writeJSON(w, http.StatusOK, ListCommentsResponse{Comments: tree, Count: comments.CountTree(tree)})
}

// ListLikedComments handles GET /api/comments/likes?ids=a,b
func (h *Handler) ListLikedComments(w http.ResponseWriter, r *http.Request) {
	var ids []string
	for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	liked := []string{}
	if len(ids) > 0 {
		found, err := h.store.ListLikedCommentIDs(r.Context(), ViewerFromContext(r.Context()).ID, ids)
		if err != nil {
			h.writeStoreError(w, r, err, "comment not found")
			return
		}
		liked = append(liked, found...)
	}

	writeJSON(w, http.StatusOK, LikedCommentsResponse{CommentIDs: liked})
}

// CreateComment handles POST /api/comments
func (h *Handler) CreateComment(w http.ResponseWriter, r *http.Request) {
	// Rate limit check
	allowed, retryAfter := h.checkRateLimit(r, "comment", h.cfg.CommentRateLimit)
	if !allowed {
		writeRateLimited(w, retryAfter)
		return
	}

	var req CreateCommentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	// Validate
	if req.BountyID == "" {
		writeError(w, http.StatusBadRequest, "bounty_id is required")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	bounty, err := h.store.GetBounty(r.Context(), req.BountyID)
	if err != nil {
		h.writeStoreError(w, r, err, "bounty not found")
		return
	}

	viewer := ViewerFromContext(r.Context())
	created, err := h.store.CreateComment(r.Context(), model.Comment{
		SubjectID: req.BountyID,
		ParentID:  req.ParentID,
		Body:      req.Content,
		Author:    viewer.Author(),
	})
	if err != nil {
		h.writeStoreError(w, r, err, "parent comment not found")
		return
	}

	h.notifyComment(r.Context(), bounty, created)

	writeJSON(w, http.StatusCreated, created)
}

// UpdateComment handles PATCH /api/comments/{id}
func (h *Handler) UpdateComment(w http.ResponseWriter, r *http.Request) {
	allowed, retryAfter := h.checkRateLimit(r, "comment", h.cfg.CommentRateLimit)
	if !allowed {
		writeRateLimited(w, retryAfter)
		return
	}

	var req UpdateCommentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	updated, err := h.store.UpdateComment(r.Context(), r.PathValue("id"), ViewerFromContext(r.Context()).ID, req.Content)
	if err != nil {
		h.writeStoreError(w, r, err, "comment not found")
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// DeleteComment handles DELETE /api/comments/{id}
func (h *Handler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteComment(r.Context(), r.PathValue("id"), ViewerFromContext(r.Context()).ID); err != nil {
		h.writeStoreError(w, r, err, "comment not found")
		return
	}

	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// LikeComment handles POST /api/comments/{id}/like
func (h *Handler) LikeComment(w http.ResponseWriter, r *http.Request) {
	h.changeLike(w, r, true)
}

// UnlikeComment handles DELETE /api/comments/{id}/like
func (h *Handler) UnlikeComment(w http.ResponseWriter, r *http.Request) {
	h.changeLike(w, r, false)
}

func (h *Handler) changeLike(w http.ResponseWriter, r *http.Request, like bool) {
	allowed, retryAfter := h.checkRateLimit(r, "like", h.cfg.LikeRateLimit)
	if !allowed {
		writeRateLimited(w, retryAfter)
		return
	}

	id := r.PathValue("id")
	userID := ViewerFromContext(r.Context()).ID

	var err error
	if like {
		err = h.store.LikeComment(r.Context(), id, userID)
	} else {
		err = h.store.UnlikeComment(r.Context(), id, userID)
	}
	if err != nil {
		h.writeStoreError(w, r, err, "comment not found")
		return
	}

	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// StreamComments handles GET /api/bounties/{id}/comments/stream
func (h *Handler) StreamComments(w http.ResponseWriter, r *http.Request) {
	bountyID := r.PathValue("id")
	if _, err := h.store.GetBounty(r.Context(), bountyID); err != nil {
		h.writeStoreError(w, r, err, "bounty not found")
		return
	}

	realtime.ServeSSE(w, r, h.source, realtime.CommentsTopic(bountyID), h.logger)
}

// notifyComment fans a new comment out to the people following the
// discussion. The author is never notified of their own comment and each
// recipient gets at most one notification. Failures are logged only.
func (h *Handler) notifyComment(ctx context.Context, bounty *model.Bounty, c model.Comment) {
	actor := c.Author.ID
	name := c.Author.DisplayName
	if name == "" {
		name = "Someone"
	}

	notified := map[string]bool{actor: true}
	send := func(userID string, typ model.NotificationType, title, message string) {
		if userID == "" || notified[userID] {
			return
		}
		notified[userID] = true

		n := &model.Notification{
			UserID:   userID,
			Type:     typ,
			Title:    title,
			Message:  message,
			BountyID: bounty.ID,
		}
		if err := h.store.CreateNotification(ctx, n); err != nil {
			h.logger.Warn("comment notification failed",
				zap.String("comment_id", c.ID),
				zap.String("recipient", userID),
				zap.String("type", string(typ)),
				zap.Error(err))
		}
	}

	if c.IsReply() {
		parent, err := h.store.GetComment(ctx, c.ParentID)
		if err != nil {
			h.logger.Warn("reply parent lookup failed", zap.String("parent_id", c.ParentID), zap.Error(err))
		} else {
			send(parent.Author.ID, model.NotificationCommentReply,
				"New reply to your comment",
				name+" replied to your comment on "+bounty.Title)
		}
	}

	if actor != bounty.SponsorUserID {
		send(bounty.SponsorUserID, model.NotificationBountyComment,
			"New comment on your bounty",
			name+" commented on "+bounty.Title)
		return
	}

	if c.IsReply() {
		return
	}
	commenters, err := h.store.ListCommenterIDs(ctx, bounty.ID)
	if err != nil {
		h.logger.Warn("commenter lookup failed", zap.String("bounty_id", bounty.ID), zap.Error(err))
		return
	}
	for _, userID := range commenters {
		send(userID, model.NotificationSponsorComment,
			"The sponsor posted an update",
			name+" commented on "+bounty.Title)
	}
}
