package store

import (
	"context"

	"github.com/contribium/contribium/internal/comments"
	"github.com/contribium/contribium/internal/model"
	"github.com/contribium/contribium/internal/notify"
)

// Store defines the interface for data persistence
type Store interface {
	// Comments and likes
	comments.Store
	GetComment(ctx context.Context, id string) (model.Comment, error)
	ListCommenterIDs(ctx context.Context, bountyID string) ([]string, error)

	// Notifications
	notify.Store
	CreateNotification(ctx context.Context, n *model.Notification) error

	// Bounties
	CreateBounty(ctx context.Context, bounty *model.Bounty) error
	GetBounty(ctx context.Context, id string) (*model.Bounty, error)
	ListBounties(ctx context.Context, limit int) ([]*model.Bounty, error)
	UpdateBountyReward(ctx context.Context, id, sponsorID string, reward RewardUpdate) (*model.Bounty, error)

	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)

	// Auth
	CreateToken(ctx context.Context, token *Token) error
	GetToken(ctx context.Context, tokenStr string) (*Token, error)
	DeleteExpiredTokens(ctx context.Context) error

	// Lifecycle
	Close() error
}
