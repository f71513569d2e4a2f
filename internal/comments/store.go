package comments

import (
	"context"
	"errors"

	"github.com/contribium/contribium/internal/model"
)

var (
	ErrSignInRequired = errors.New("sign in required")
	ErrEmptyBody      = errors.New("comment body is empty")
	ErrNotFound       = errors.New("comment not found")
	ErrSubmitting     = errors.New("a comment is already being submitted")
	ErrClosed         = errors.New("thread closed")
)

// Store is the durable side of a discussion. ListComments returns the
// subject's comments newest first.
type Store interface {
	ListComments(ctx context.Context, subjectID string) ([]model.Comment, error)
	ListLikedCommentIDs(ctx context.Context, viewerID string, commentIDs []string) ([]string, error)
	CreateComment(ctx context.Context, c model.Comment) (model.Comment, error)
	UpdateComment(ctx context.Context, id, authorID, body string) (model.Comment, error)
	DeleteComment(ctx context.Context, id, authorID string) error
	LikeComment(ctx context.Context, id, userID string) error
	UnlikeComment(ctx context.Context, id, userID string) error
}
