// Package client talks to a contribium server over HTTP. It implements the
// comment and notification stores so a Thread or Stream can run remotely.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/contribium/contribium/internal/comments"
	"github.com/contribium/contribium/internal/model"
	"github.com/contribium/contribium/internal/notify"
	"github.com/contribium/contribium/internal/realtime"
)

// ErrUnauthorized is returned when the server rejects the access token.
var ErrUnauthorized = errors.New("unauthorized")

// StatusError is a non-2xx response.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// New creates a client for the server at baseURL authenticating with token.
func New(baseURL, token string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  logger.Named("client"),
	}
}

// Me resolves the client's token to a viewer. An anonymous viewer is
// returned when the token is not accepted.
func (c *Client) Me(ctx context.Context) (model.Viewer, error) {
	var resp struct {
		User     *model.Viewer `json:"user"`
		SignedIn bool          `json:"signed_in"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/me", nil, &resp); err != nil {
		return model.Viewer{}, err
	}
	if !resp.SignedIn || resp.User == nil {
		return model.Viewer{}, nil
	}
	return *resp.User, nil
}

// GetBounty fetches one bounty.
func (c *Client) GetBounty(ctx context.Context, id string) (*model.Bounty, error) {
	var bounty model.Bounty
	if err := c.do(ctx, http.MethodGet, "/api/bounties/"+url.PathEscape(id), nil, &bounty); err != nil {
		return nil, err
	}
	return &bounty, nil
}

// Comments

func (c *Client) ListComments(ctx context.Context, bountyID string) ([]model.Comment, error) {
	var resp struct {
		Comments []model.Comment `json:"comments"`
	}
	err := c.do(ctx, http.MethodGet, "/api/bounties/"+url.PathEscape(bountyID)+"/comments", nil, &resp)
	return resp.Comments, err
}

func (c *Client) ListLikedCommentIDs(ctx context.Context, _ string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var resp struct {
		CommentIDs []string `json:"comment_ids"`
	}
	q := url.Values{"ids": {strings.Join(ids, ",")}}
	err := c.do(ctx, http.MethodGet, "/api/comments/likes?"+q.Encode(), nil, &resp)
	return resp.CommentIDs, err
}

func (c *Client) CreateComment(ctx context.Context, cm model.Comment) (model.Comment, error) {
	body := map[string]string{
		"bounty_id":         cm.SubjectID,
		"parent_comment_id": cm.ParentID,
		"content":           cm.Body,
	}
	var created model.Comment
	err := c.do(ctx, http.MethodPost, "/api/comments", body, &created)
	return created, err
}

func (c *Client) UpdateComment(ctx context.Context, id, _ string, body string) (model.Comment, error) {
	var updated model.Comment
	err := c.do(ctx, http.MethodPatch, "/api/comments/"+url.PathEscape(id), map[string]string{"content": body}, &updated)
	return updated, err
}

func (c *Client) DeleteComment(ctx context.Context, id, _ string) error {
	return c.do(ctx, http.MethodDelete, "/api/comments/"+url.PathEscape(id), nil, nil)
}

func (c *Client) LikeComment(ctx context.Context, id, _ string) error {
	return c.do(ctx, http.MethodPost, "/api/comments/"+url.PathEscape(id)+"/like", nil, nil)
}

func (c *Client) UnlikeComment(ctx context.Context, id, _ string) error {
	return c.do(ctx, http.MethodDelete, "/api/comments/"+url.PathEscape(id)+"/like", nil, nil)
}

// Notifications

func (c *Client) ListNotifications(ctx context.Context, _ string, limit int) ([]model.Notification, error) {
	var resp struct {
		Notifications []model.Notification `json:"notifications"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/notifications?limit=%d", limit), nil, &resp)
	return resp.Notifications, err
}

func (c *Client) CountUnread(ctx context.Context, _ string) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	err := c.do(ctx, http.MethodGet, "/api/notifications/unread-count", nil, &resp)
	return resp.Count, err
}

func (c *Client) MarkNotificationRead(ctx context.Context, id, _ string) error {
	return c.do(ctx, http.MethodPost, "/api/notifications/"+url.PathEscape(id)+"/read", nil, nil)
}

func (c *Client) MarkAllNotificationsRead(ctx context.Context, _ string) error {
	return c.do(ctx, http.MethodPost, "/api/notifications/read-all", nil, nil)
}

func (c *Client) DeleteNotification(ctx context.Context, id, _ string) error {
	return c.do(ctx, http.MethodDelete, "/api/notifications/"+url.PathEscape(id), nil, nil)
}

// Source returns a push source reading the server's event streams. The
// stream client has no timeout.
func (c *Client) Source() *realtime.SSESource {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	return &realtime.SSESource{
		URL:    c.streamURL,
		Header: header,
		Client: &http.Client{},
		Logger: c.logger,
	}
}

func (c *Client) streamURL(topic string) (string, error) {
	switch {
	case strings.HasPrefix(topic, "bounty-comments:"):
		id := strings.TrimPrefix(topic, "bounty-comments:")
		return c.baseURL + "/api/bounties/" + url.PathEscape(id) + "/comments/stream", nil
	case strings.HasPrefix(topic, "notifications:"):
		return c.baseURL + "/api/notifications/stream", nil
	}
	return "", fmt.Errorf("no stream for topic %q", topic)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) statusError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&payload)

	c.logger.Debug("request failed",
		zap.String("url", resp.Request.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.String("error", payload.Error))

	se := &StatusError{Status: resp.StatusCode, Message: payload.Error}
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", ErrUnauthorized, se)
	case http.StatusNotFound:
		if strings.Contains(resp.Request.URL.Path, "/api/notifications/") {
			return fmt.Errorf("%w: %w", notify.ErrNotFound, se)
		}
		return fmt.Errorf("%w: %w", comments.ErrNotFound, se)
	}
	return se
}

// Interface compliance
var (
	_ comments.Store = (*Client)(nil)
	_ notify.Store   = (*Client)(nil)
)
