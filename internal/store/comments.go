package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/contribium/contribium/internal/model"
	"github.com/contribium/contribium/internal/realtime"
)

const commentColumns = `
	c.id, c.bounty_id, c.parent_comment_id, c.content, c.like_count, c.created_at,
	u.id, u.display_name, u.username, u.avatar_url`

const commentFrom = `
	FROM bounty_comments c
	LEFT JOIN users u ON u.id = c.user_id`

// ListComments returns every comment on a bounty, newest first, with author
// fields joined in.
func (s *SQLiteStore) ListComments(ctx context.Context, bountyID string) ([]model.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commentColumns+commentFrom+`
		WHERE c.bounty_id = ?
		ORDER BY c.created_at DESC
	`, bountyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}

	return out, rows.Err()
}

func (s *SQLiteStore) GetComment(ctx context.Context, id string) (model.Comment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+commentColumns+commentFrom+` WHERE c.id = ?`, id)

	c, err := scanComment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Comment{}, ErrNotFound
	}
	return c, err
}

// ListLikedCommentIDs returns the subset of commentIDs liked by userID.
func (s *SQLiteStore) ListLikedCommentIDs(ctx context.Context, userID string, commentIDs []string) ([]string, error) {
	if userID == "" || len(commentIDs) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(commentIDs)+1)
	args = append(args, userID)
	for _, id := range commentIDs {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT comment_id FROM comment_likes
		WHERE user_id = ? AND comment_id IN (`+placeholders(len(commentIDs))+`)
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var liked []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		liked = append(liked, id)
	}

	return liked, rows.Err()
}

// ListCommenterIDs returns the distinct authors of top-level comments on a
// bounty.
func (s *SQLiteStore) ListCommenterIDs(ctx context.Context, bountyID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT user_id FROM bounty_comments
		WHERE bounty_id = ? AND parent_comment_id IS NULL
	`, bountyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// CreateComment stores a comment written by c.Author. A reply's parent must
// belong to the same bounty.
func (s *SQLiteStore) CreateComment(ctx context.Context, c model.Comment) (model.Comment, error) {
	c.Body = strings.TrimSpace(c.Body)
	if c.Body == "" || c.Author.ID == "" || c.SubjectID == "" {
		return model.Comment{}, fmt.Errorf("create comment: %w", ErrInvalid)
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	if c.ParentID != "" {
		var bountyID string
		err := s.db.QueryRowContext(ctx, `SELECT bounty_id FROM bounty_comments WHERE id = ?`, c.ParentID).Scan(&bountyID)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && bountyID != c.SubjectID) {
			return model.Comment{}, fmt.Errorf("parent comment %s: %w", c.ParentID, ErrNotFound)
		}
		if err != nil {
			return model.Comment{}, err
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bounty_comments (id, bounty_id, user_id, parent_comment_id, content, like_count, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
	`, c.ID, c.SubjectID, c.Author.ID, nullString(c.ParentID), c.Body, c.CreatedAt)
	if err != nil {
		return model.Comment{}, err
	}

	created, err := s.GetComment(ctx, c.ID)
	if err != nil {
		return model.Comment{}, err
	}
	s.publish(realtime.CommentsTopic(created.SubjectID), realtime.OpInsert, created.ID, created)
	return created, nil
}

// UpdateComment replaces the body of a comment owned by authorID.
func (s *SQLiteStore) UpdateComment(ctx context.Context, id, authorID, body string) (model.Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return model.Comment{}, fmt.Errorf("update comment: %w", ErrInvalid)
	}
	if _, err := s.commentOwnedBy(ctx, id, authorID); err != nil {
		return model.Comment{}, err
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE bounty_comments SET content = ?, updated_at = ? WHERE id = ?
	`, body, time.Now().UTC(), id)
	if err != nil {
		return model.Comment{}, err
	}

	updated, err := s.GetComment(ctx, id)
	if err != nil {
		return model.Comment{}, err
	}
	s.publish(realtime.CommentsTopic(updated.SubjectID), realtime.OpUpdate, updated.ID, updated)
	return updated, nil
}

// DeleteComment removes a comment owned by authorID together with its replies.
func (s *SQLiteStore) DeleteComment(ctx context.Context, id, authorID string) error {
	bountyID, err := s.commentOwnedBy(ctx, id, authorID)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM bounty_comments WHERE id = ?`, id); err != nil {
		return err
	}
	s.publish(realtime.CommentsTopic(bountyID), realtime.OpDelete, id, nil)
	return nil
}

// LikeComment records a like and bumps the counter in one transaction. A
// repeated like changes nothing.
func (s *SQLiteStore) LikeComment(ctx context.Context, id, userID string) error {
	return s.changeLike(ctx, id, userID, true)
}

// UnlikeComment removes a like. The counter never drops below zero.
func (s *SQLiteStore) UnlikeComment(ctx context.Context, id, userID string) error {
	return s.changeLike(ctx, id, userID, false)
}

func (s *SQLiteStore) changeLike(ctx context.Context, id, userID string, like bool) error {
	if userID == "" {
		return fmt.Errorf("like comment: %w", ErrInvalid)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var bountyID string
	err = tx.QueryRowContext(ctx, `SELECT bounty_id FROM bounty_comments WHERE id = ?`, id).Scan(&bountyID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	var res sql.Result
	if like {
		res, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO comment_likes (comment_id, user_id, created_at) VALUES (?, ?, ?)
		`, id, userID, time.Now().UTC())
	} else {
		res, err = tx.ExecContext(ctx, `DELETE FROM comment_likes WHERE comment_id = ? AND user_id = ?`, id, userID)
	}
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		delta := 1
		if !like {
			delta = -1
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE bounty_comments SET like_count = MAX(0, like_count + ?) WHERE id = ?
		`, delta, id)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	if n > 0 {
		s.publish(realtime.CommentsTopic(bountyID), realtime.OpUpdate, id, nil)
	}
	return nil
}

func (s *SQLiteStore) commentOwnedBy(ctx context.Context, id, authorID string) (string, error) {
	var bountyID, owner string
	err := s.db.QueryRowContext(ctx, `SELECT bounty_id, user_id FROM bounty_comments WHERE id = ?`, id).Scan(&bountyID, &owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if authorID == "" || owner != authorID {
		return "", ErrForbidden
	}
	return bountyID, nil
}

func scanComment(row scanner) (model.Comment, error) {
	var c model.Comment
	var parentID, userID, displayName, username, avatarURL sql.NullString

	err := row.Scan(&c.ID, &c.SubjectID, &parentID, &c.Body, &c.LikeCount, &c.CreatedAt,
		&userID, &displayName, &username, &avatarURL)
	if err != nil {
		return model.Comment{}, err
	}

	c.ParentID = parentID.String
	c.Author = model.Author{
		ID:          userID.String,
		DisplayName: displayName.String,
		Username:    username.String,
		AvatarURL:   avatarURL.String,
	}
	return c, nil
}
