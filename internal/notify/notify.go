// Package notify keeps a viewer's notification list and unread counter in
// step with the durable store and pushed inserts.
package notify

import (
	"context"
	"errors"
	"strconv"

	"github.com/contribium/contribium/internal/model"
)

var (
	ErrNotFound = errors.New("notification not found")
	ErrClosed   = errors.New("stream closed")
)

// DefaultLimit caps how many notifications one load fetches.
const DefaultLimit = 50

// Store is the durable side of a notification list. ListNotifications
// returns the newest first.
type Store interface {
	ListNotifications(ctx context.Context, userID string, limit int) ([]model.Notification, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkNotificationRead(ctx context.Context, id, userID string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) error
	DeleteNotification(ctx context.Context, id, userID string) error
}

// Icon returns the glyph shown next to a notification of type t.
func Icon(t model.NotificationType) string {
	switch t {
	case model.NotificationSubmissionAccepted:
		return "🎉"
	case model.NotificationSubmissionRejected:
		return "📝"
	case model.NotificationBountyCompleted:
		return "✅"
	case model.NotificationCommentReply, model.NotificationBountyComment, model.NotificationSponsorComment:
		return "💬"
	default:
		return "📢"
	}
}

// BadgeLabel renders the unread counter for a badge. Zero renders empty.
func BadgeLabel(unread int) string {
	switch {
	case unread <= 0:
		return ""
	case unread > 99:
		return "99+"
	default:
		return strconv.Itoa(unread)
	}
}

type View string

const (
	ViewNone          View = ""
	ViewBountyDetail  View = "bounty-detail"
	ViewMySubmissions View = "my-submissions"
)

// CommentsAnchor is the region a bounty detail view scrolls to for
// discussion notifications.
const CommentsAnchor = "comments"

// Target is where following a notification leads.
type Target struct {
	View         View   `json:"view,omitempty"`
	BountyID     string `json:"bounty_id,omitempty"`
	SubmissionID string `json:"submission_id,omitempty"`
	Anchor       string `json:"anchor,omitempty"`
}

// None reports whether the target leads nowhere.
func (t Target) None() bool { return t.View == ViewNone }

// Path renders the target as a site-relative URL.
func (t Target) Path() string {
	switch t.View {
	case ViewBountyDetail:
		p := "/bounty/" + t.BountyID
		if t.Anchor != "" {
			p += "#" + t.Anchor
		}
		return p
	case ViewMySubmissions:
		return "/my-submissions"
	default:
		return ""
	}
}

// ResolveNavigationTarget maps a notification to the view it opens.
func ResolveNavigationTarget(n model.Notification) Target {
	switch {
	case n.BountyID != "" && n.Type.IsComment():
		return Target{View: ViewBountyDetail, BountyID: n.BountyID, Anchor: CommentsAnchor}
	case n.BountyID != "":
		return Target{View: ViewBountyDetail, BountyID: n.BountyID}
	case n.SubmissionID != "":
		return Target{View: ViewMySubmissions, SubmissionID: n.SubmissionID}
	default:
		return Target{}
	}
}
