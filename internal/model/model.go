package model

import "time"

// Viewer is the signed-in user an operation acts for. The zero value is anonymous.
type Viewer struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Username    string `json:"username,omitempty"`
}

// SignedIn reports whether the viewer has an identity.
func (v Viewer) SignedIn() bool {
	return v.ID != ""
}

// Author returns the viewer as a comment author.
func (v Viewer) Author() Author {
	return Author{
		ID:          v.ID,
		DisplayName: v.DisplayName,
		AvatarURL:   v.AvatarURL,
		Username:    v.Username,
	}
}

type Author struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Username    string `json:"username,omitempty"`
}

type Comment struct {
	ID            string    `json:"id"`
	SubjectID     string    `json:"bounty_id"`
	ParentID      string    `json:"parent_comment_id,omitempty"`
	Body          string    `json:"content"`
	LikeCount     int       `json:"like_count"`
	CreatedAt     time.Time `json:"created_at"`
	Author        Author    `json:"user"`
	LikedByViewer bool      `json:"is_liked,omitempty"`
	Replies       []Comment `json:"replies,omitempty"`
}

// EntryID makes Comment usable with the reconcile helpers.
func (c Comment) EntryID() string { return c.ID }

// IsReply reports whether the comment has a parent.
func (c Comment) IsReply() bool { return c.ParentID != "" }

type NotificationType string

const (
	NotificationSubmissionAccepted NotificationType = "submission_accepted"
	NotificationSubmissionRejected NotificationType = "submission_rejected"
	NotificationBountyCompleted    NotificationType = "bounty_completed"
	NotificationCommentReply       NotificationType = "comment_reply"
	NotificationBountyComment      NotificationType = "bounty_comment"
	NotificationSponsorComment     NotificationType = "sponsor_comment"
	NotificationGeneral            NotificationType = "general"
)

// Valid reports whether t is one of the known notification types.
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationSubmissionAccepted, NotificationSubmissionRejected, NotificationBountyCompleted,
		NotificationCommentReply, NotificationBountyComment, NotificationSponsorComment, NotificationGeneral:
		return true
	}
	return false
}

// IsComment reports whether the notification is about discussion activity.
func (t NotificationType) IsComment() bool {
	return t == NotificationCommentReply || t == NotificationBountyComment || t == NotificationSponsorComment
}

type Notification struct {
	ID           string           `json:"id"`
	UserID       string           `json:"user_id"`
	Type         NotificationType `json:"type"`
	Title        string           `json:"title"`
	Message      string           `json:"message"`
	Read         bool             `json:"is_read"`
	BountyID     string           `json:"related_bounty_id,omitempty"`
	SubmissionID string           `json:"related_submission_id,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	ReadAt       *time.Time       `json:"read_at,omitempty"`
}

func (n Notification) EntryID() string { return n.ID }

// RewardTier is one persisted prize slot of a bounty.
type RewardTier struct {
	Position      int     `json:"position"`
	Amount        float64 `json:"amount"`
	Token         string  `json:"token"`
	USDEquivalent float64 `json:"usd_equivalent"`
}

type Bounty struct {
	ID            string       `json:"id"`
	Title         string       `json:"title"`
	Description   string       `json:"description,omitempty"`
	SponsorUserID string       `json:"sponsor_user_id"`
	RewardTotal   float64      `json:"reward_total"`
	RewardToken   string       `json:"reward_token"`
	TieredReward  bool         `json:"is_tiered_reward"`
	RewardTiers   []RewardTier `json:"reward_tiers,omitempty"`
	CommentCount  int          `json:"comment_count"`
	CreatedAt     time.Time    `json:"created_at"`
}
