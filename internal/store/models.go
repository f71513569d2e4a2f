package store

import (
	"errors"
	"time"

	"github.com/contribium/contribium/internal/model"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
	ErrInvalid   = errors.New("invalid input")
)

type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Username    string    `json:"username,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Viewer returns the user as the identity operations act for.
func (u *User) Viewer() model.Viewer {
	return model.Viewer{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		Username:    u.Username,
	}
}

type Token struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Token     string    `json:"access_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RewardUpdate is the reward configuration a sponsor saves for a bounty.
type RewardUpdate struct {
	Total  float64            `json:"total"`
	Token  string             `json:"token"`
	Tiered bool               `json:"is_tiered_reward"`
	Tiers  []model.RewardTier `json:"tiers,omitempty"`
}

// Bounty list limits
const (
	MaxBountyListLimit     = 100
	DefaultBountyListLimit = 30
)
